package saga

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/dronedelivery/domain"
	"example.com/dronedelivery/messaging"
	"example.com/dronedelivery/metrics"
	"example.com/dronedelivery/repository"
)

// recordingBus captures published events and sent orders for assertions
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

func (b *recordingBus) eventTypes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	types := make([]string, 0, len(b.events))
	for _, e := range b.events {
		types = append(types, e.EventType())
	}
	return types
}

func validOrder() domain.OrderMessage {
	return domain.OrderMessage{
		OrderID:       "order-1",
		CustomerID:    "customer-1",
		FromAddress:   "1 Warehouse Way",
		ToAddress:     "99 Customer Street",
		PackageWeight: 2.5,
	}
}

func newTestCoordinator() (*Coordinator, *repository.MemorySagaRepository, *recordingBus) {
	repo := repository.NewMemorySagaRepository()
	bus := newRecordingBus()
	return NewCoordinator(repo, bus, metrics.NewCollector(), "order_queue"), repo, bus
}

func TestStartSagaValidOrder(t *testing.T) {
	coordinator, _, bus := newTestCoordinator()

	record, err := coordinator.StartSaga(context.Background(), validOrder())
	require.NoError(t, err)

	assert.Equal(t, domain.SagaStatusInProgress, record.Status)
	assert.Equal(t, domain.StepDeliveryScheduling, record.CurrentStep)
	assert.True(t, record.HasCompletedStep(domain.StepOrderValidation))

	assert.Equal(t, []string{domain.OrderSagaStarted, domain.OrderValidated}, bus.eventTypes())
	require.Len(t, bus.orders["order_queue"], 1)
	assert.Equal(t, record.SagaID, bus.orders["order_queue"][0].SagaID)
	assert.Equal(t, "order-1", bus.orders["order_queue"][0].Order.OrderID)
}

func TestStartSagaInvalidWeight(t *testing.T) {
	coordinator, _, bus := newTestCoordinator()

	order := validOrder()
	order.PackageWeight = -1

	record, err := coordinator.StartSaga(context.Background(), order)
	require.NoError(t, err)

	assert.Equal(t, domain.SagaStatusFailed, record.Status)
	assert.Empty(t, record.CompletedSteps)
	assert.Equal(t, "package weight must be positive", record.FailureReason)

	// Validation failed before any step completed: the order is cancelled
	// outright, nothing is compensated and nothing reaches the work queues.
	assert.Equal(t, []string{domain.OrderSagaStarted, domain.OrderValidationFailed, domain.OrderCancelled}, bus.eventTypes())
	assert.Empty(t, bus.orders["order_queue"])
}

func TestStartSagaMissingAddress(t *testing.T) {
	coordinator, _, _ := newTestCoordinator()

	order := validOrder()
	order.ToAddress = "  "

	record, err := coordinator.StartSaga(context.Background(), order)
	require.NoError(t, err)

	assert.Equal(t, domain.SagaStatusFailed, record.Status)
	assert.Equal(t, "pickup and destination addresses are required", record.FailureReason)
}

func TestHandleDeliveryScheduled(t *testing.T) {
	coordinator, repo, _ := newTestCoordinator()

	record, err := coordinator.StartSaga(context.Background(), validOrder())
	require.NoError(t, err)

	err = coordinator.HandleEvent(context.Background(), domain.DeliveryScheduledEvent{
		SagaEventBase: domain.NewSagaEventBase(record.SagaID, record.OrderID),
		DeliveryID:    "D1",
	})
	require.NoError(t, err)

	saved, err := repo.FindBySagaID(context.Background(), record.SagaID)
	require.NoError(t, err)
	assert.Equal(t, "D1", saved.DeliveryID)
	assert.Equal(t, domain.StepDroneAssignment, saved.CurrentStep)
	assert.True(t, saved.HasCompletedStep(domain.StepDeliveryScheduling))
}

func TestHandleDeliveryScheduledDuplicate(t *testing.T) {
	coordinator, repo, _ := newTestCoordinator()

	record, err := coordinator.StartSaga(context.Background(), validOrder())
	require.NoError(t, err)

	event := domain.DeliveryScheduledEvent{
		SagaEventBase: domain.NewSagaEventBase(record.SagaID, record.OrderID),
		DeliveryID:    "D1",
	}
	require.NoError(t, coordinator.HandleEvent(context.Background(), event))

	// Redelivery with a different delivery id must not overwrite the first
	event.DeliveryID = "D2"
	require.NoError(t, coordinator.HandleEvent(context.Background(), event))

	saved, err := repo.FindBySagaID(context.Background(), record.SagaID)
	require.NoError(t, err)
	assert.Equal(t, "D1", saved.DeliveryID)
	assert.Len(t, saved.CompletedSteps, 2)
}

func TestHandleDroneAssignedCompletesSaga(t *testing.T) {
	coordinator, repo, bus := newTestCoordinator()

	record, err := coordinator.StartSaga(context.Background(), validOrder())
	require.NoError(t, err)

	require.NoError(t, coordinator.HandleEvent(context.Background(), domain.DeliveryScheduledEvent{
		SagaEventBase: domain.NewSagaEventBase(record.SagaID, record.OrderID),
		DeliveryID:    "D1",
	}))
	require.NoError(t, coordinator.HandleEvent(context.Background(), domain.DroneAssignedEvent{
		SagaEventBase: domain.NewSagaEventBase(record.SagaID, record.OrderID),
		DroneID:       "DR1",
	}))

	saved, err := repo.FindBySagaID(context.Background(), record.SagaID)
	require.NoError(t, err)
	assert.Equal(t, domain.SagaStatusCompleted, saved.Status)
	assert.Equal(t, domain.StepCompleted, saved.CurrentStep)
	assert.Equal(t, "DR1", saved.DroneID)
	require.NotNil(t, saved.EndTime)

	types := bus.eventTypes()
	assert.Equal(t, domain.OrderCompleted, types[len(types)-1])
}

func TestHandleDroneAssignmentFailedCompensates(t *testing.T) {
	coordinator, repo, bus := newTestCoordinator()

	record, err := coordinator.StartSaga(context.Background(), validOrder())
	require.NoError(t, err)

	require.NoError(t, coordinator.HandleEvent(context.Background(), domain.DeliveryScheduledEvent{
		SagaEventBase: domain.NewSagaEventBase(record.SagaID, record.OrderID),
		DeliveryID:    "D1",
	}))
	require.NoError(t, coordinator.HandleEvent(context.Background(), domain.DroneAssignmentFailedEvent{
		SagaEventBase: domain.NewSagaEventBase(record.SagaID, record.OrderID),
		Reason:        "no drones available",
	}))

	saved, err := repo.FindBySagaID(context.Background(), record.SagaID)
	require.NoError(t, err)
	assert.Equal(t, domain.SagaStatusCompensated, saved.Status)
	assert.Equal(t, "no drones available", saved.FailureReason)
	require.NotNil(t, saved.EndTime)

	// The failure is announced on the topic, then completed steps roll back
	// latest-first and the cancellation closes the saga.
	types := bus.eventTypes()
	assert.Equal(t, []string{
		domain.OrderSagaStarted,
		domain.OrderValidated,
		domain.DroneAssignmentFailed,
		domain.CompensateDelivery,
		domain.CompensateOrder,
		domain.OrderCancelled,
	}, types)

	var compensation domain.CompensateDeliveryEvent
	for _, e := range bus.events {
		if c, ok := e.(domain.CompensateDeliveryEvent); ok {
			compensation = c
		}
	}
	assert.Equal(t, "D1", compensation.DeliveryID)
	assert.Equal(t, "no drones available", compensation.Reason)
}

func TestHandleDeliverySchedulingFailedNoCompensation(t *testing.T) {
	coordinator, repo, bus := newTestCoordinator()

	record, err := coordinator.StartSaga(context.Background(), validOrder())
	require.NoError(t, err)

	require.NoError(t, coordinator.HandleEvent(context.Background(), domain.DeliverySchedulingFailedEvent{
		SagaEventBase: domain.NewSagaEventBase(record.SagaID, record.OrderID),
		Reason:        "no capacity",
	}))

	saved, err := repo.FindBySagaID(context.Background(), record.SagaID)
	require.NoError(t, err)

	// ORDER_VALIDATION had completed, so scheduling failure still triggers
	// compensation of the validation step.
	assert.Equal(t, domain.SagaStatusCompensated, saved.Status)

	types := bus.eventTypes()
	assert.Contains(t, types, domain.DeliverySchedulingFailed)
	assert.Contains(t, types, domain.CompensateOrder)
	assert.NotContains(t, types, domain.CompensateDelivery)
	assert.NotContains(t, types, domain.CompensateDrone)
}

func TestHandleFailureRepublishesBeforeCompensation(t *testing.T) {
	coordinator, _, bus := newTestCoordinator()

	record, err := coordinator.StartSaga(context.Background(), validOrder())
	require.NoError(t, err)

	require.NoError(t, coordinator.HandleEvent(context.Background(), domain.DeliverySchedulingFailedEvent{
		SagaEventBase: domain.NewSagaEventBase(record.SagaID, record.OrderID),
		Reason:        "no capacity",
	}))

	// Topic observers see the failure before any compensation command
	types := bus.eventTypes()
	failedAt, compensateAt := -1, -1
	for i, eventType := range types {
		switch eventType {
		case domain.DeliverySchedulingFailed:
			failedAt = i
		case domain.CompensateOrder:
			if compensateAt == -1 {
				compensateAt = i
			}
		}
	}
	require.GreaterOrEqual(t, failedAt, 0)
	require.GreaterOrEqual(t, compensateAt, 0)
	assert.Less(t, failedAt, compensateAt)
}

func TestHandleEventResolvesByOrderID(t *testing.T) {
	coordinator, repo, _ := newTestCoordinator()

	record, err := coordinator.StartSaga(context.Background(), validOrder())
	require.NoError(t, err)

	// Downstream services only know the order, so an event carrying no saga
	// id must still advance the saga.
	require.NoError(t, coordinator.HandleEvent(context.Background(), domain.DeliveryScheduledEvent{
		SagaEventBase: domain.NewSagaEventBase("", record.OrderID),
		DeliveryID:    "D1",
	}))

	saved, err := repo.FindBySagaID(context.Background(), record.SagaID)
	require.NoError(t, err)
	assert.Equal(t, "D1", saved.DeliveryID)
	assert.True(t, saved.HasCompletedStep(domain.StepDeliveryScheduling))
}

func TestHandleEventUnknownOrder(t *testing.T) {
	coordinator, _, bus := newTestCoordinator()

	err := coordinator.HandleEvent(context.Background(), domain.DeliveryScheduledEvent{
		SagaEventBase: domain.NewSagaEventBase("missing", "order-x"),
		DeliveryID:    "D1",
	})
	require.NoError(t, err)
	assert.Empty(t, bus.eventTypes())
}

func TestHandleEventTerminalSagaDropped(t *testing.T) {
	coordinator, repo, _ := newTestCoordinator()

	record, err := coordinator.StartSaga(context.Background(), validOrder())
	require.NoError(t, err)

	require.NoError(t, coordinator.HandleEvent(context.Background(), domain.DeliveryScheduledEvent{
		SagaEventBase: domain.NewSagaEventBase(record.SagaID, record.OrderID),
		DeliveryID:    "D1",
	}))
	require.NoError(t, coordinator.HandleEvent(context.Background(), domain.DroneAssignedEvent{
		SagaEventBase: domain.NewSagaEventBase(record.SagaID, record.OrderID),
		DroneID:       "DR1",
	}))

	// A late failure event for a completed saga must not reopen it
	require.NoError(t, coordinator.HandleEvent(context.Background(), domain.DroneAssignmentFailedEvent{
		SagaEventBase: domain.NewSagaEventBase(record.SagaID, record.OrderID),
		Reason:        "late failure",
	}))

	saved, err := repo.FindBySagaID(context.Background(), record.SagaID)
	require.NoError(t, err)
	assert.Equal(t, domain.SagaStatusCompleted, saved.Status)
	assert.Empty(t, saved.FailureReason)
}

func TestMetricsCounters(t *testing.T) {
	repo := repository.NewMemorySagaRepository()
	bus := newRecordingBus()
	collector := metrics.NewCollector()
	coordinator := NewCoordinator(repo, bus, collector, "order_queue")

	record, err := coordinator.StartSaga(context.Background(), validOrder())
	require.NoError(t, err)

	require.NoError(t, coordinator.HandleEvent(context.Background(), domain.DeliverySchedulingFailedEvent{
		SagaEventBase: domain.NewSagaEventBase(record.SagaID, record.OrderID),
		Reason:        "no capacity",
	}))

	assert.Equal(t, int64(1), collector.GetCounter(metrics.CounterSagasStarted))
	assert.Equal(t, int64(1), collector.GetCounter(metrics.CounterSagasFailed))
	assert.Equal(t, int64(1), collector.GetCounter(metrics.CounterSagasCompensated))
}
