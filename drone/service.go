package drone

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/dronedelivery/domain"
	"example.com/dronedelivery/eventstore"
	"example.com/dronedelivery/messaging"
	"example.com/dronedelivery/metrics"
)

const defaultFlightMinutes = 5

// Service assigns drones to orders and simulates their flights. Every state
// change is appended to the event store before the in-memory registry is
// touched; the log is the source of truth.
type Service struct {
	store     eventstore.EventStore
	registry  *Registry
	bus       messaging.Bus
	collector *metrics.Collector

	// Injection points for deterministic tests
	now           func() time.Time
	flightMinutes func(max int) int
}

// NewService creates a drone service
func NewService(store eventstore.EventStore, registry *Registry, bus messaging.Bus, collector *metrics.Collector) *Service {
	return &Service{
		store:     store,
		registry:  registry,
		bus:       bus,
		collector: collector,
		now:       time.Now,
		flightMinutes: func(max int) int {
			return 1 + rand.Intn(max)
		},
	}
}

// ProcessOrder assigns a new drone to the order and dispatches it. The
// assignment event is published as soon as the drone exists, before the
// simulated flight starts; the flight outcome is reported through the event
// store, not through the saga.
func (s *Service) ProcessOrder(ctx context.Context, dispatch messaging.OrderDispatch) error {
	order := dispatch.Order

	if strings.TrimSpace(order.OrderID) == "" {
		log.Warn().Str("sagaID", dispatch.SagaID).Msg("Rejecting order without id")
		s.publish(ctx, domain.DroneAssignmentFailedEvent{
			SagaEventBase: domain.NewSagaEventBase(dispatch.SagaID, order.OrderID),
			Reason:        "order id is required",
		})
		return nil
	}

	drone := domain.NewDroneAggregate(order)

	created := domain.DroneCreatedEvent{
		DroneEventBase:         domain.NewDroneEventBase(drone.DroneID, order.OrderID),
		FromAddress:            order.FromAddress,
		ToAddress:              order.ToAddress,
		PackageWeight:          order.PackageWeight,
		RequestedDeliveryTime:  order.RequestedDeliveryTime,
		MaxDeliveryTimeMinutes: order.MaxDeliveryTimeMinutes,
	}

	stored, err := s.store.Append(ctx, created)
	if err != nil {
		log.Error().Err(err).Str("orderID", order.OrderID).Msg("Failed to record drone creation")
		s.publish(ctx, domain.DroneAssignmentFailedEvent{
			SagaEventBase: domain.NewSagaEventBase(dispatch.SagaID, order.OrderID),
			Reason:        "failed to create drone",
		})
		return nil
	}
	s.collector.IncrementCounter(metrics.CounterEventsAppended)
	if err := drone.Apply(stored); err != nil {
		return errors.Wrap(err, "failed to apply creation event")
	}

	// The saga considers the step done once a drone exists for the order
	s.publish(ctx, domain.DroneAssignedEvent{
		SagaEventBase: domain.NewSagaEventBase(dispatch.SagaID, order.OrderID),
		DroneID:       drone.DroneID,
	})

	dispatchTime := s.now()
	maxMinutes := order.MaxDeliveryTimeMinutes
	if maxMinutes <= 0 {
		maxMinutes = defaultFlightMinutes
	}
	arrival := dispatchTime.Add(time.Duration(s.flightMinutes(maxMinutes)) * time.Minute)

	dispatched := domain.DroneDispatchedEvent{
		DroneEventBase: domain.NewDroneEventBase(drone.DroneID, order.OrderID),
		DispatchTime:   dispatchTime,
	}
	storedDispatch, err := s.store.Append(ctx, dispatched)
	if err != nil {
		return errors.Wrap(err, "failed to record drone dispatch")
	}
	s.collector.IncrementCounter(metrics.CounterEventsAppended)
	if err := drone.Apply(storedDispatch); err != nil {
		return errors.Wrap(err, "failed to apply dispatch event")
	}

	drone.ExpectedArrivalTime = &arrival
	s.registry.Attach(drone)
	s.collector.SetGauge(metrics.GaugeDronesInFlight, float64(s.registry.Count()))

	log.Info().
		Str("droneID", drone.DroneID).
		Str("orderID", order.OrderID).
		Time("expectedArrival", arrival).
		Msg("Drone dispatched")

	return nil
}

// CheckArrivals finalizes the flight of every in-transit drone past its
// expected arrival time: the delivery and the return are recorded and the
// drone leaves the active set. Runs periodically from the worker scheduler.
func (s *Service) CheckArrivals(ctx context.Context) {
	now := s.now()

	for _, drone := range s.registry.Active() {
		if drone.State != domain.DroneStateInTransit {
			continue
		}
		if drone.ExpectedArrivalTime == nil || now.Before(*drone.ExpectedArrivalTime) {
			continue
		}

		if err := s.finalizeFlight(ctx, drone, now); err != nil {
			log.Error().
				Err(err).
				Str("droneID", drone.DroneID).
				Msg("Failed to finalize drone flight")
		}
	}
}

func (s *Service) finalizeFlight(ctx context.Context, drone *domain.DroneAggregate, now time.Time) error {
	delivered := domain.DroneDeliveredEvent{
		DroneEventBase: domain.NewDroneEventBase(drone.DroneID, drone.Order.OrderID),
		DeliveryTime:   now,
	}
	stored, err := s.store.Append(ctx, delivered)
	if err != nil {
		return errors.Wrap(err, "failed to record delivery")
	}
	s.collector.IncrementCounter(metrics.CounterEventsAppended)
	if err := drone.Apply(stored); err != nil {
		return errors.Wrap(err, "failed to apply delivery event")
	}

	returned := domain.DroneReturnedEvent{
		DroneEventBase: domain.NewDroneEventBase(drone.DroneID, drone.Order.OrderID),
		ReturnTime:     now,
	}
	storedReturn, err := s.store.Append(ctx, returned)
	if err != nil {
		return errors.Wrap(err, "failed to record return")
	}
	s.collector.IncrementCounter(metrics.CounterEventsAppended)
	if err := drone.Apply(storedReturn); err != nil {
		return errors.Wrap(err, "failed to apply return event")
	}

	s.registry.Detach(drone.DroneID)
	s.collector.SetGauge(metrics.GaugeDronesInFlight, float64(s.registry.Count()))

	log.Info().
		Str("droneID", drone.DroneID).
		Str("orderID", drone.Order.OrderID).
		Msg("Drone delivered and returned")

	return nil
}

// HandleCompensateDrone releases the drone assigned to a rolled-back order.
// The event log keeps the full flight history; compensation only removes the
// drone from the active set.
func (s *Service) HandleCompensateDrone(ctx context.Context, event domain.CompensateDroneEvent) error {
	detached := false
	if event.DroneID != "" {
		detached = s.registry.Detach(event.DroneID)
	}
	if !detached && event.GetOrderID() != "" {
		detached = s.registry.DetachByOrder(event.GetOrderID())
	}

	s.collector.SetGauge(metrics.GaugeDronesInFlight, float64(s.registry.Count()))

	log.Info().
		Str("sagaID", event.GetSagaID()).
		Str("droneID", event.DroneID).
		Bool("detached", detached).
		Msg("Drone assignment compensated")

	return nil
}

// GetDrone returns the current state of a drone, preferring the live
// registry and falling back to a rebuild from the event log
func (s *Service) GetDrone(ctx context.Context, droneID string) (*domain.DroneAggregate, error) {
	if drone, ok := s.registry.Get(droneID); ok {
		return drone, nil
	}
	return s.store.Rebuild(ctx, droneID)
}

func (s *Service) publish(ctx context.Context, event domain.SagaEvent) {
	if err := s.bus.PublishSagaEvent(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("eventType", event.EventType()).
			Msg("Failed to publish saga event")
	}
}
