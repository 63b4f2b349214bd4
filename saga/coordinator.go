package saga

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/dronedelivery/domain"
	"example.com/dronedelivery/messaging"
	"example.com/dronedelivery/metrics"
	"example.com/dronedelivery/repository"
)

// Coordinator drives order sagas through their steps. It owns the saga
// records: every status transition goes through here, persisted before the
// corresponding event is published.
type Coordinator struct {
	repo       repository.SagaRepository
	bus        messaging.Bus
	collector  *metrics.Collector
	orderQueue string
}

// NewCoordinator creates a saga coordinator
func NewCoordinator(repo repository.SagaRepository, bus messaging.Bus, collector *metrics.Collector, orderQueue string) *Coordinator {
	return &Coordinator{
		repo:       repo,
		bus:        bus,
		collector:  collector,
		orderQueue: orderQueue,
	}
}

// StartSaga begins a new order saga: it persists the record, announces the
// saga, validates the order inline and on success hands the order to the
// delivery service via the order queue.
func (c *Coordinator) StartSaga(ctx context.Context, order domain.OrderMessage) (*domain.SagaRecord, error) {
	sagaID := uuid.New().String()
	record := domain.NewSagaRecord(sagaID, order)

	if err := c.repo.Save(ctx, record); err != nil {
		return nil, errors.Wrap(err, "failed to persist new saga")
	}

	c.collector.IncrementCounter(metrics.CounterSagasStarted)
	c.collector.IncrementCounter(metrics.CounterOrdersCreated)

	log.Info().
		Str("sagaID", sagaID).
		Str("orderID", order.OrderID).
		Msg("Saga started")

	c.publish(ctx, domain.OrderSagaStartedEvent{
		SagaEventBase: domain.NewSagaEventBase(sagaID, order.OrderID),
		Order:         order,
	})

	if reason := validateOrder(order); reason != "" {
		return record, c.failValidation(ctx, record, reason)
	}

	record.MarkStepCompleted(domain.StepOrderValidation)
	record.MoveToNextStep()
	if err := c.repo.Save(ctx, record); err != nil {
		return nil, errors.Wrap(err, "failed to persist validated saga")
	}

	c.publish(ctx, domain.OrderValidatedEvent{
		SagaEventBase: domain.NewSagaEventBase(sagaID, order.OrderID),
	})

	if err := c.bus.SendOrder(ctx, c.orderQueue, messaging.OrderDispatch{SagaID: sagaID, Order: order}); err != nil {
		return record, errors.Wrap(err, "failed to send order to delivery queue")
	}

	return record, nil
}

// validateOrder returns a failure reason, or empty when the order is valid
func validateOrder(order domain.OrderMessage) string {
	if strings.TrimSpace(order.OrderID) == "" {
		return "order id is required"
	}
	if order.PackageWeight <= 0 {
		return "package weight must be positive"
	}
	if strings.TrimSpace(order.FromAddress) == "" || strings.TrimSpace(order.ToAddress) == "" {
		return "pickup and destination addresses are required"
	}
	return ""
}

// failValidation terminates a saga that never completed a step. There is
// nothing to compensate; the order is cancelled outright.
func (c *Coordinator) failValidation(ctx context.Context, record *domain.SagaRecord, reason string) error {
	record.MarkFailed(reason)
	if err := c.repo.Save(ctx, record); err != nil {
		return errors.Wrap(err, "failed to persist failed saga")
	}

	c.collector.IncrementCounter(metrics.CounterSagasFailed)

	log.Warn().
		Str("sagaID", record.SagaID).
		Str("orderID", record.OrderID).
		Str("reason", reason).
		Msg("Order validation failed")

	c.publish(ctx, domain.OrderValidationFailedEvent{
		SagaEventBase: domain.NewSagaEventBase(record.SagaID, record.OrderID),
		Reason:        reason,
	})
	c.publish(ctx, domain.OrderCancelledEvent{
		SagaEventBase: domain.NewSagaEventBase(record.SagaID, record.OrderID),
		Reason:        reason,
	})

	return nil
}

// HandleEvent applies a saga event from the bus to its saga record. The
// saga is resolved by order id: the downstream services only know the order,
// so the saga id carried on an event is correlation metadata, not the key.
// Handlers are idempotent: a redelivered event for an already-completed step
// is logged and dropped, and events for unknown orders never fail the
// delivery.
func (c *Coordinator) HandleEvent(ctx context.Context, event domain.SagaEvent) error {
	record, err := c.repo.FindByOrderID(ctx, event.GetOrderID())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Warn().
				Str("orderID", event.GetOrderID()).
				Str("eventType", event.EventType()).
				Msg("Event for unknown order dropped")
			return nil
		}
		return errors.Wrap(err, "failed to load saga")
	}

	if record.Status.IsTerminal() {
		log.Debug().
			Str("sagaID", record.SagaID).
			Str("eventType", event.EventType()).
			Msg("Event for terminal saga dropped")
		return nil
	}

	switch e := event.(type) {
	case domain.DeliveryScheduledEvent:
		return c.handleDeliveryScheduled(ctx, record, e)
	case domain.DroneAssignedEvent:
		return c.handleDroneAssigned(ctx, record, e)
	case domain.DeliverySchedulingFailedEvent:
		return c.handleFailure(ctx, record, domain.DeliverySchedulingFailedEvent{
			SagaEventBase: domain.NewSagaEventBase(record.SagaID, record.OrderID),
			Reason:        e.Reason,
		}, e.Reason)
	case domain.DroneAssignmentFailedEvent:
		return c.handleFailure(ctx, record, domain.DroneAssignmentFailedEvent{
			SagaEventBase: domain.NewSagaEventBase(record.SagaID, record.OrderID),
			Reason:        e.Reason,
		}, e.Reason)
	default:
		// Informational events and compensation commands are consumed by
		// the downstream services, not by the coordinator.
		log.Debug().
			Str("sagaID", record.SagaID).
			Str("eventType", event.EventType()).
			Msg("Ignoring event")
		return nil
	}
}

func (c *Coordinator) handleDeliveryScheduled(ctx context.Context, record *domain.SagaRecord, event domain.DeliveryScheduledEvent) error {
	if !record.MarkStepCompleted(domain.StepDeliveryScheduling) {
		log.Info().
			Str("sagaID", record.SagaID).
			Msg("Delivery already scheduled, dropping duplicate event")
		return nil
	}

	record.DeliveryID = event.DeliveryID
	record.MoveToNextStep()
	if err := c.repo.Save(ctx, record); err != nil {
		return errors.Wrap(err, "failed to persist saga after delivery scheduling")
	}

	log.Info().
		Str("sagaID", record.SagaID).
		Str("deliveryID", event.DeliveryID).
		Msg("Delivery scheduled")

	return nil
}

func (c *Coordinator) handleDroneAssigned(ctx context.Context, record *domain.SagaRecord, event domain.DroneAssignedEvent) error {
	if !record.MarkStepCompleted(domain.StepDroneAssignment) {
		log.Info().
			Str("sagaID", record.SagaID).
			Msg("Drone already assigned, dropping duplicate event")
		return nil
	}

	record.DroneID = event.DroneID
	record.MoveToNextStep()

	log.Info().
		Str("sagaID", record.SagaID).
		Str("droneID", event.DroneID).
		Msg("Drone assigned")

	return c.CompleteSaga(ctx, record)
}

// handleFailure records a downstream failure, announces it on the saga topic
// and decides between compensation and outright cancellation
func (c *Coordinator) handleFailure(ctx context.Context, record *domain.SagaRecord, failure domain.SagaEvent, reason string) error {
	if record.Status == domain.SagaStatusFailed || record.Status == domain.SagaStatusCompensating {
		log.Info().
			Str("sagaID", record.SagaID).
			Msg("Saga already failing, dropping duplicate failure event")
		return nil
	}

	record.MarkFailed(reason)
	if err := c.repo.Save(ctx, record); err != nil {
		return errors.Wrap(err, "failed to persist failed saga")
	}

	c.collector.IncrementCounter(metrics.CounterSagasFailed)

	log.Warn().
		Str("sagaID", record.SagaID).
		Str("orderID", record.OrderID).
		Str("reason", reason).
		Msg("Saga step failed")

	// Observers on the topic learn about the failure before any
	// compensation command goes out
	c.publish(ctx, failure)

	if record.NeedsCompensation() {
		return c.Compensate(ctx, record)
	}

	c.publish(ctx, domain.OrderCancelledEvent{
		SagaEventBase: domain.NewSagaEventBase(record.SagaID, record.OrderID),
		Reason:        reason,
	})
	return nil
}

// CompleteSaga marks the saga completed and announces it
func (c *Coordinator) CompleteSaga(ctx context.Context, record *domain.SagaRecord) error {
	record.MarkCompleted()
	if err := c.repo.Save(ctx, record); err != nil {
		return errors.Wrap(err, "failed to persist completed saga")
	}

	c.collector.IncrementCounter(metrics.CounterSagasCompleted)

	log.Info().
		Str("sagaID", record.SagaID).
		Str("orderID", record.OrderID).
		Msg("Saga completed")

	c.publish(ctx, domain.OrderCompletedEvent{
		SagaEventBase: domain.NewSagaEventBase(record.SagaID, record.OrderID),
	})

	return nil
}

// Compensate rolls the saga back: each completed step is undone in reverse
// completion order by a compensation command. Commands are fire-and-forget;
// a publish failure is logged and the rollback continues.
func (c *Coordinator) Compensate(ctx context.Context, record *domain.SagaRecord) error {
	record.StartCompensation()
	if err := c.repo.Save(ctx, record); err != nil {
		return errors.Wrap(err, "failed to persist compensating saga")
	}

	log.Info().
		Str("sagaID", record.SagaID).
		Str("orderID", record.OrderID).
		Int("steps", len(record.CompletedSteps)).
		Msg("Compensation started")

	for _, step := range record.StepsToCompensate() {
		c.publishCompensation(ctx, record, step)
	}

	record.MarkCompensated()
	if err := c.repo.Save(ctx, record); err != nil {
		return errors.Wrap(err, "failed to persist compensated saga")
	}

	c.collector.IncrementCounter(metrics.CounterSagasCompensated)

	c.publish(ctx, domain.OrderCancelledEvent{
		SagaEventBase: domain.NewSagaEventBase(record.SagaID, record.OrderID),
		Reason:        record.FailureReason,
	})

	log.Info().
		Str("sagaID", record.SagaID).
		Str("orderID", record.OrderID).
		Msg("Compensation finished")

	return nil
}

func (c *Coordinator) publishCompensation(ctx context.Context, record *domain.SagaRecord, step domain.SagaStep) {
	base := domain.NewSagaEventBase(record.SagaID, record.OrderID)

	switch step {
	case domain.StepDroneAssignment:
		c.publish(ctx, domain.CompensateDroneEvent{
			SagaEventBase: base,
			DroneID:       record.DroneID,
			Reason:        record.FailureReason,
		})
	case domain.StepDeliveryScheduling:
		c.publish(ctx, domain.CompensateDeliveryEvent{
			SagaEventBase: base,
			DeliveryID:    record.DeliveryID,
			Reason:        record.FailureReason,
		})
	case domain.StepOrderValidation:
		c.publish(ctx, domain.CompensateOrderEvent{
			SagaEventBase: base,
			Reason:        record.FailureReason,
		})
	}
}

// GetSaga returns the saga record for an order
func (c *Coordinator) GetSaga(ctx context.Context, orderID string) (*domain.SagaRecord, error) {
	return c.repo.FindByOrderID(ctx, orderID)
}

// publish sends the event on the saga topic. Publishing is best-effort from
// the coordinator's point of view: state is already persisted, so a transport
// error must not roll back the transition.
func (c *Coordinator) publish(ctx context.Context, event domain.SagaEvent) {
	if err := c.bus.PublishSagaEvent(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("sagaID", event.GetSagaID()).
			Str("eventType", event.EventType()).
			Msg("Failed to publish saga event")
	}
}
