package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/dronedelivery/domain"
)

// memoryRecord mirrors the persisted row shape so that the in-memory store
// exercises the same serialize/decode path as the database-backed one
type memoryRecord struct {
	EventID        string
	DroneID        string
	OrderID        string
	EventType      string
	Data           []byte
	SequenceNumber int64
	Timestamp      time.Time
}

// MemoryEventStore is an in-memory EventStore used by tests and local runs
// without a database
type MemoryEventStore struct {
	mu      sync.RWMutex
	byDrone map[string][]memoryRecord
}

// NewMemoryEventStore creates an empty in-memory event store
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{byDrone: make(map[string][]memoryRecord)}
}

// Append persists the event with the next sequence number for its drone
func (s *MemoryEventStore) Append(ctx context.Context, event domain.DroneEvent) (domain.DroneEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := int64(len(s.byDrone[event.GetDroneID()]))
	stored := event.WithSequenceNumber(seq)

	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}

	s.byDrone[stored.GetDroneID()] = append(s.byDrone[stored.GetDroneID()], memoryRecord{
		EventID:        uuid.New().String(),
		DroneID:        stored.GetDroneID(),
		OrderID:        stored.GetOrderID(),
		EventType:      stored.EventType(),
		Data:           data,
		SequenceNumber: seq,
		Timestamp:      stored.GetTimestamp(),
	})

	return stored, nil
}

// LoadStream returns all events for the drone in ascending sequence order
func (s *MemoryEventStore) LoadStream(ctx context.Context, droneID string) ([]domain.DroneEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return decodeMemoryRecords(s.byDrone[droneID]), nil
}

// LoadStreamByOrder returns all drone events recorded for an order
func (s *MemoryEventStore) LoadStreamByOrder(ctx context.Context, orderID string) ([]domain.DroneEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []memoryRecord
	for _, stream := range s.byDrone {
		for _, record := range stream {
			if record.OrderID == orderID {
				records = append(records, record)
			}
		}
	}
	return decodeMemoryRecords(records), nil
}

// CurrentVersion returns the count of events stored for the drone
func (s *MemoryEventStore) CurrentVersion(ctx context.Context, droneID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.byDrone[droneID])), nil
}

// Rebuild reconstructs the drone aggregate from its event stream
func (s *MemoryEventStore) Rebuild(ctx context.Context, droneID string) (*domain.DroneAggregate, error) {
	events, err := s.LoadStream(ctx, droneID)
	if err != nil {
		return nil, err
	}
	return rebuildFromStream(events)
}

func decodeMemoryRecords(records []memoryRecord) []domain.DroneEvent {
	events := make([]domain.DroneEvent, 0, len(records))
	for _, record := range records {
		event, err := domain.DecodeDroneEvent(record.EventType, record.Data)
		if err != nil {
			log.Warn().
				Err(err).
				Str("eventID", record.EventID).
				Str("droneID", record.DroneID).
				Msg("Skipping malformed stored event")
			continue
		}
		events = append(events, event)
	}
	return events
}
