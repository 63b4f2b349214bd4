package projections

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v7"
	"gorm.io/gorm"

	"example.com/dronedelivery/config"
	"example.com/dronedelivery/domain"
	"example.com/dronedelivery/models"
)

// DroneFlightProjector maintains the drone flight read model from the event
// log: one row per drone in the database, mirrored to Elasticsearch when a
// client is configured.
type DroneFlightProjector struct {
	db            *gorm.DB
	elasticClient *elasticsearch.Client
	cfg           config.ElasticConfig
}

// NewDroneFlightProjector creates a new drone flight projector
func NewDroneFlightProjector(db *gorm.DB, elasticClient *elasticsearch.Client, cfg config.ElasticConfig) *DroneFlightProjector {
	return &DroneFlightProjector{
		db:            db,
		elasticClient: elasticClient,
		cfg:           cfg,
	}
}

// Project applies one stored event to the read model
func (p *DroneFlightProjector) Project(ctx context.Context, record models.DroneEventRecord) error {
	event, err := domain.DecodeDroneEvent(record.EventType, record.Data)
	if err != nil {
		return fmt.Errorf("failed to decode event data: %w", err)
	}

	switch e := event.(type) {
	case domain.DroneCreatedEvent:
		return p.projectCreated(ctx, record, e)
	case domain.DroneDispatchedEvent:
		return p.projectUpdate(ctx, record, map[string]interface{}{
			"state":         string(domain.DroneStateInTransit),
			"dispatch_time": e.DispatchTime,
			"version":       record.SequenceNumber + 1,
			"updated_at":    record.Timestamp,
		})
	case domain.DroneDeliveredEvent:
		return p.projectUpdate(ctx, record, map[string]interface{}{
			"state":         string(domain.DroneStateReturning),
			"delivery_time": e.DeliveryTime,
			"version":       record.SequenceNumber + 1,
			"updated_at":    record.Timestamp,
		})
	case domain.DroneReturnedEvent:
		return p.projectUpdate(ctx, record, map[string]interface{}{
			"return_time": e.ReturnTime,
			"version":     record.SequenceNumber + 1,
			"updated_at":  record.Timestamp,
		})
	default:
		return nil
	}
}

func (p *DroneFlightProjector) projectCreated(ctx context.Context, record models.DroneEventRecord, event domain.DroneCreatedEvent) error {
	flight := models.DroneFlight{
		DroneID:     record.DroneID,
		OrderID:     record.OrderID,
		State:       string(domain.DroneStateSleeping),
		FromAddress: event.FromAddress,
		ToAddress:   event.ToAddress,
		Version:     record.SequenceNumber + 1,
		CreatedAt:   record.Timestamp,
		UpdatedAt:   record.Timestamp,
	}

	if err := p.db.WithContext(ctx).Create(&flight).Error; err != nil {
		return fmt.Errorf("failed to create drone flight in database: %w", err)
	}

	if err := p.indexFlight(ctx, record.DroneID, flight); err != nil {
		return err
	}

	return p.indexEvent(ctx, record)
}

func (p *DroneFlightProjector) projectUpdate(ctx context.Context, record models.DroneEventRecord, fields map[string]interface{}) error {
	if err := p.db.WithContext(ctx).Model(&models.DroneFlight{}).
		Where("drone_id = ?", record.DroneID).
		Updates(fields).Error; err != nil {
		return fmt.Errorf("failed to update drone flight in database: %w", err)
	}

	if p.elasticClient != nil {
		updateDoc := map[string]interface{}{"doc": fields}

		jsonBody, err := json.Marshal(updateDoc)
		if err != nil {
			return fmt.Errorf("failed to marshal update doc: %w", err)
		}

		index := FormatIndex(DroneFlightsIndex, p.cfg)
		res, err := p.elasticClient.Update(
			index,
			record.DroneID,
			bytes.NewReader(jsonBody),
			p.elasticClient.Update.WithRefresh("true"),
			p.elasticClient.Update.WithContext(ctx),
		)
		if err != nil {
			return fmt.Errorf("failed to update drone flight in Elasticsearch: %w", err)
		}
		defer res.Body.Close()

		if res.IsError() {
			return fmt.Errorf("failed to update drone flight in Elasticsearch: %s", res.String())
		}
	}

	return p.indexEvent(ctx, record)
}

func (p *DroneFlightProjector) indexFlight(ctx context.Context, droneID string, flight models.DroneFlight) error {
	if p.elasticClient == nil {
		return nil
	}

	doc, err := json.Marshal(flight)
	if err != nil {
		return fmt.Errorf("failed to marshal drone flight: %w", err)
	}

	index := FormatIndex(DroneFlightsIndex, p.cfg)
	res, err := p.elasticClient.Index(
		index,
		bytes.NewReader(doc),
		p.elasticClient.Index.WithDocumentID(droneID),
		p.elasticClient.Index.WithRefresh("true"),
		p.elasticClient.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to index drone flight in Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("failed to index drone flight in Elasticsearch: %s", res.String())
	}

	return nil
}

func (p *DroneFlightProjector) indexEvent(ctx context.Context, record models.DroneEventRecord) error {
	if p.elasticClient == nil {
		return nil
	}

	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	index := FormatIndex(DroneEventsIndex, p.cfg)
	res, err := p.elasticClient.Index(
		index,
		bytes.NewReader(doc),
		p.elasticClient.Index.WithDocumentID(record.EventID),
		p.elasticClient.Index.WithRefresh("true"),
		p.elasticClient.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to index event in Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("failed to index event in Elasticsearch: %s", res.String())
	}

	return nil
}
