package eventstore

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"example.com/dronedelivery/domain"
)

// ErrNotFound is returned by Rebuild when no events exist for the aggregate
var ErrNotFound = errors.New("aggregate not found")

// ErrCorruptStream is returned when the first event of a stream is not the
// creation event
var ErrCorruptStream = errors.New("event stream does not start with a creation event")

// EventStore is the append-only log of drone lifecycle events. Events are
// immutable once appended; current state is derived by replay.
type EventStore interface {
	// Append assigns the next sequence number for the event's drone and
	// persists the event. It returns the stored event, stamped with its
	// sequence number.
	Append(ctx context.Context, event domain.DroneEvent) (domain.DroneEvent, error)

	// LoadStream returns all events for the drone in ascending sequence
	// order; an empty slice if none exist.
	LoadStream(ctx context.Context, droneID string) ([]domain.DroneEvent, error)

	// LoadStreamByOrder returns all drone events recorded for an order
	LoadStreamByOrder(ctx context.Context, orderID string) ([]domain.DroneEvent, error)

	// CurrentVersion returns the count of events stored for the drone
	CurrentVersion(ctx context.Context, droneID string) (int64, error)

	// Rebuild reconstructs the drone aggregate from its event stream
	Rebuild(ctx context.Context, droneID string) (*domain.DroneAggregate, error)
}

// rebuildFromStream folds an event stream into a drone aggregate. The first
// event must be the creation event; it establishes identity and the order
// snapshot.
func rebuildFromStream(events []domain.DroneEvent) (*domain.DroneAggregate, error) {
	if len(events) == 0 {
		return nil, ErrNotFound
	}

	if _, ok := events[0].(domain.DroneCreatedEvent); !ok {
		return nil, ErrCorruptStream
	}

	aggregate := &domain.DroneAggregate{}
	for _, event := range events {
		if err := aggregate.Apply(event); err != nil {
			// Rebuild keeps going: one unreadable event should not make
			// the whole aggregate unreachable.
			log.Warn().
				Err(err).
				Str("droneID", event.GetDroneID()).
				Str("eventType", event.EventType()).
				Msg("Skipping event during rebuild")
		}
	}

	return aggregate, nil
}
