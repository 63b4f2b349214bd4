package delivery

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/dronedelivery/domain"
	"example.com/dronedelivery/messaging"
	"example.com/dronedelivery/models"
	"example.com/dronedelivery/repository"
)

type memoryDeliveries struct {
	mu         sync.Mutex
	deliveries map[string]*models.Delivery
	createErr  error
}

func newMemoryDeliveries() *memoryDeliveries {
	return &memoryDeliveries{deliveries: make(map[string]*models.Delivery)}
}

func (m *memoryDeliveries) Create(ctx context.Context, delivery *models.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	copied := *delivery
	m.deliveries[delivery.DeliveryID] = &copied
	return nil
}

func (m *memoryDeliveries) MarkCancelled(ctx context.Context, deliveryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delivery, ok := m.deliveries[deliveryID]
	if !ok {
		return repository.ErrNotFound
	}
	delivery.Status = models.DeliveryStatusCancelled
	return nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []domain.SagaEvent
	orders map[string][]messaging.OrderDispatch
}

func newRecordingBus() *recordingBus {
	return &recordingBus{orders: make(map[string][]messaging.OrderDispatch)}
}

func (b *recordingBus) PublishSagaEvent(ctx context.Context, event domain.SagaEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) SendOrder(ctx context.Context, queue string, dispatch messaging.OrderDispatch) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders[queue] = append(b.orders[queue], dispatch)
	return nil
}

func testDispatch() messaging.OrderDispatch {
	return messaging.OrderDispatch{
		SagaID: "saga-1",
		Order: domain.OrderMessage{
			OrderID:       "order-1",
			CustomerID:    "customer-1",
			FromAddress:   "1 Warehouse Way",
			ToAddress:     "99 Customer Street",
			PackageWeight: 1.5,
		},
	}
}

func TestProcessOrderSchedulesAndForwards(t *testing.T) {
	deliveries := newMemoryDeliveries()
	bus := newRecordingBus()
	service := NewService(deliveries, bus, "drone_queue")

	require.NoError(t, service.ProcessOrder(context.Background(), testDispatch()))

	require.Len(t, bus.events, 1)
	scheduled, ok := bus.events[0].(domain.DeliveryScheduledEvent)
	require.True(t, ok)
	assert.Equal(t, "saga-1", scheduled.GetSagaID())
	assert.NotEmpty(t, scheduled.DeliveryID)

	stored := deliveries.deliveries[scheduled.DeliveryID]
	require.NotNil(t, stored)
	assert.Equal(t, models.DeliveryStatusScheduled, stored.Status)
	assert.Equal(t, "order-1", stored.OrderID)

	require.Len(t, bus.orders["drone_queue"], 1)
	assert.Equal(t, "order-1", bus.orders["drone_queue"][0].Order.OrderID)
}

func TestProcessOrderRejectsMissingOrderID(t *testing.T) {
	deliveries := newMemoryDeliveries()
	bus := newRecordingBus()
	service := NewService(deliveries, bus, "drone_queue")

	dispatch := testDispatch()
	dispatch.Order.OrderID = " "

	require.NoError(t, service.ProcessOrder(context.Background(), dispatch))

	require.Len(t, bus.events, 1)
	failed, ok := bus.events[0].(domain.DeliverySchedulingFailedEvent)
	require.True(t, ok)
	assert.Equal(t, "order id is required", failed.Reason)
	assert.Empty(t, bus.orders["drone_queue"])
	assert.Empty(t, deliveries.deliveries)
}

func TestProcessOrderReportsPersistenceFailure(t *testing.T) {
	deliveries := newMemoryDeliveries()
	deliveries.createErr = repository.ErrCreateFailed
	bus := newRecordingBus()
	service := NewService(deliveries, bus, "drone_queue")

	require.NoError(t, service.ProcessOrder(context.Background(), testDispatch()))

	require.Len(t, bus.events, 1)
	failed, ok := bus.events[0].(domain.DeliverySchedulingFailedEvent)
	require.True(t, ok)
	assert.Equal(t, "failed to schedule delivery", failed.Reason)
	assert.Empty(t, bus.orders["drone_queue"])
}

func TestHandleCompensateDelivery(t *testing.T) {
	deliveries := newMemoryDeliveries()
	bus := newRecordingBus()
	service := NewService(deliveries, bus, "drone_queue")

	require.NoError(t, service.ProcessOrder(context.Background(), testDispatch()))
	deliveryID := bus.events[0].(domain.DeliveryScheduledEvent).DeliveryID

	require.NoError(t, service.HandleCompensateDelivery(context.Background(), domain.CompensateDeliveryEvent{
		SagaEventBase: domain.NewSagaEventBase("saga-1", "order-1"),
		DeliveryID:    deliveryID,
		Reason:        "drone assignment failed",
	}))

	assert.Equal(t, models.DeliveryStatusCancelled, deliveries.deliveries[deliveryID].Status)
}

func TestHandleCompensateDeliveryUnknownDelivery(t *testing.T) {
	service := NewService(newMemoryDeliveries(), newRecordingBus(), "drone_queue")

	require.NoError(t, service.HandleCompensateDelivery(context.Background(), domain.CompensateDeliveryEvent{
		SagaEventBase: domain.NewSagaEventBase("saga-1", "order-1"),
		DeliveryID:    "missing",
	}))
}
