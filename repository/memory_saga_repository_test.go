package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/dronedelivery/domain"
)

func newRecord(sagaID, orderID string) *domain.SagaRecord {
	return domain.NewSagaRecord(sagaID, domain.OrderMessage{
		OrderID:       orderID,
		CustomerID:    "customer-1",
		FromAddress:   "1 Warehouse Way",
		ToAddress:     "99 Customer Street",
		PackageWeight: 2.0,
	})
}

func TestMemorySagaRepositorySaveAndFind(t *testing.T) {
	repo := NewMemorySagaRepository()
	ctx := context.Background()

	record := newRecord("saga-1", "order-1")
	require.NoError(t, repo.Save(ctx, record))

	bySaga, err := repo.FindBySagaID(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", bySaga.OrderID)

	byOrder, err := repo.FindByOrderID(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "saga-1", byOrder.SagaID)
}

func TestMemorySagaRepositoryNotFound(t *testing.T) {
	repo := NewMemorySagaRepository()

	_, err := repo.FindBySagaID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.FindByOrderID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySagaRepositoryReturnsCopies(t *testing.T) {
	repo := NewMemorySagaRepository()
	ctx := context.Background()

	record := newRecord("saga-1", "order-1")
	require.NoError(t, repo.Save(ctx, record))

	loaded, err := repo.FindBySagaID(ctx, "saga-1")
	require.NoError(t, err)

	// Mutating the loaded copy must not leak into the stored record
	loaded.MarkFailed("tampered")
	loaded.MarkStepCompleted(domain.StepOrderValidation)

	fresh, err := repo.FindBySagaID(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SagaStatusStarted, fresh.Status)
	assert.Empty(t, fresh.CompletedSteps)
}

func TestMemorySagaRepositoryFindByStatus(t *testing.T) {
	repo := NewMemorySagaRepository()
	ctx := context.Background()

	first := newRecord("saga-1", "order-1")
	require.NoError(t, repo.Save(ctx, first))

	second := newRecord("saga-2", "order-2")
	second.MarkFailed("no capacity")
	require.NoError(t, repo.Save(ctx, second))

	failed, err := repo.FindByStatus(ctx, domain.SagaStatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "saga-2", failed[0].SagaID)
}
