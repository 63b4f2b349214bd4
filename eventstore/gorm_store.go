package eventstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/dronedelivery/domain"
	"example.com/dronedelivery/models"
)

// GormEventStore implements EventStore on PostgreSQL
type GormEventStore struct {
	db *gorm.DB
}

// NewGormEventStore creates a new GORM event store
func NewGormEventStore(db *gorm.DB) *GormEventStore {
	return &GormEventStore{db: db}
}

// Append persists the event with the next sequence number for its drone.
// The count and the insert run in one transaction; there is no central
// sequence generator, so each write derives its number from the count so
// far.
func (s *GormEventStore) Append(ctx context.Context, event domain.DroneEvent) (domain.DroneEvent, error) {
	var stored domain.DroneEvent

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.DroneEventRecord{}).
			Where("drone_id = ?", event.GetDroneID()).
			Count(&count).Error; err != nil {
			return fmt.Errorf("failed to count events: %w", err)
		}

		stored = event.WithSequenceNumber(count)

		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}

		record := models.DroneEventRecord{
			EventID:        uuid.New().String(),
			DroneID:        stored.GetDroneID(),
			OrderID:        stored.GetOrderID(),
			EventType:      stored.EventType(),
			Data:           data,
			SequenceNumber: count,
			Timestamp:      stored.GetTimestamp(),
			Processed:      false,
		}

		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("failed to save event: %w", err)
		}

		log.Info().
			Str("droneID", stored.GetDroneID()).
			Str("eventType", stored.EventType()).
			Int64("sequenceNumber", count).
			Msg("Event saved")

		return nil
	})
	if err != nil {
		return nil, err
	}

	return stored, nil
}

// LoadStream returns all events for the drone in ascending sequence order
func (s *GormEventStore) LoadStream(ctx context.Context, droneID string) ([]domain.DroneEvent, error) {
	var records []models.DroneEventRecord
	if err := s.db.WithContext(ctx).
		Where("drone_id = ?", droneID).
		Order("sequence_number ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}

	return decodeRecords(records), nil
}

// LoadStreamByOrder returns all drone events recorded for an order
func (s *GormEventStore) LoadStreamByOrder(ctx context.Context, orderID string) ([]domain.DroneEvent, error) {
	var records []models.DroneEventRecord
	if err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("timestamp ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}

	return decodeRecords(records), nil
}

// CurrentVersion returns the count of events stored for the drone
func (s *GormEventStore) CurrentVersion(ctx context.Context, droneID string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.DroneEventRecord{}).
		Where("drone_id = ?", droneID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}

	return count, nil
}

// Rebuild reconstructs the drone aggregate from its event stream
func (s *GormEventStore) Rebuild(ctx context.Context, droneID string) (*domain.DroneAggregate, error) {
	events, err := s.LoadStream(ctx, droneID)
	if err != nil {
		return nil, err
	}
	return rebuildFromStream(events)
}

// decodeRecords deserializes stored rows, skipping malformed entries with a
// warning so that a single bad record cannot block replay
func decodeRecords(records []models.DroneEventRecord) []domain.DroneEvent {
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
