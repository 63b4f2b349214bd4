package delivery

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/dronedelivery/domain"
	"example.com/dronedelivery/messaging"
	"example.com/dronedelivery/models"
	"example.com/dronedelivery/repository"
)

// Deliveries is the persistence the service needs
type Deliveries interface {
	Create(ctx context.Context, delivery *models.Delivery) error
	MarkCancelled(ctx context.Context, deliveryID string) error
}

// Service schedules deliveries for validated orders. On success the order is
// forwarded to the drone queue; every outcome is reported back to the saga
// over the events topic.
type Service struct {
	deliveries Deliveries
	bus        messaging.Bus
	droneQueue string
}

// NewService creates a delivery service
func NewService(deliveries Deliveries, bus messaging.Bus, droneQueue string) *Service {
	return &Service{
		deliveries: deliveries,
		bus:        bus,
		droneQueue: droneQueue,
	}
}

// ProcessOrder schedules a delivery for the order and forwards it to the
// drone queue. A scheduling failure is reported to the saga and ends the
// order's path through this service.
func (s *Service) ProcessOrder(ctx context.Context, dispatch messaging.OrderDispatch) error {
	order := dispatch.Order

	if strings.TrimSpace(order.OrderID) == "" {
		log.Warn().Str("sagaID", dispatch.SagaID).Msg("Rejecting order without id")
		s.publish(ctx, domain.DeliverySchedulingFailedEvent{
			SagaEventBase: domain.NewSagaEventBase(dispatch.SagaID, order.OrderID),
			Reason:        "order id is required",
		})
		return nil
	}

	scheduledTime := order.RequestedDeliveryTime
	if scheduledTime.IsZero() {
		scheduledTime = time.Now()
	}

	delivery := &models.Delivery{
		DeliveryID:    uuid.New().String(),
		OrderID:       order.OrderID,
		Status:        models.DeliveryStatusScheduled,
		FromAddress:   order.FromAddress,
		ToAddress:     order.ToAddress,
		ScheduledTime: scheduledTime,
	}

	if err := s.deliveries.Create(ctx, delivery); err != nil {
		log.Error().Err(err).Str("orderID", order.OrderID).Msg("Failed to create delivery")
		s.publish(ctx, domain.DeliverySchedulingFailedEvent{
			SagaEventBase: domain.NewSagaEventBase(dispatch.SagaID, order.OrderID),
			Reason:        "failed to schedule delivery",
		})
		return nil
	}

	log.Info().
		Str("deliveryID", delivery.DeliveryID).
		Str("orderID", order.OrderID).
		Msg("Delivery scheduled")

	s.publish(ctx, domain.DeliveryScheduledEvent{
		SagaEventBase: domain.NewSagaEventBase(dispatch.SagaID, order.OrderID),
		DeliveryID:    delivery.DeliveryID,
	})

	if err := s.bus.SendOrder(ctx, s.droneQueue, dispatch); err != nil {
		return errors.Wrap(err, "failed to forward order to drone queue")
	}

	return nil
}

// HandleCompensateDelivery cancels a scheduled delivery. A missing delivery
// is logged and ignored so that redelivered commands stay harmless.
func (s *Service) HandleCompensateDelivery(ctx context.Context, event domain.CompensateDeliveryEvent) error {
	if event.DeliveryID == "" {
		log.Warn().Str("sagaID", event.GetSagaID()).Msg("Compensation command without delivery id")
		return nil
	}

	err := s.deliveries.MarkCancelled(ctx, event.DeliveryID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Warn().
				Str("deliveryID", event.DeliveryID).
				Msg("Compensation for unknown delivery dropped")
			return nil
		}
		return errors.Wrap(err, "failed to cancel delivery")
	}

	log.Info().
		Str("deliveryID", event.DeliveryID).
		Str("sagaID", event.GetSagaID()).
		Msg("Delivery cancelled")

	return nil
}

func (s *Service) publish(ctx context.Context, event domain.SagaEvent) {
	if err := s.bus.PublishSagaEvent(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("eventType", event.EventType()).
			Msg("Failed to publish saga event")
	}
}
