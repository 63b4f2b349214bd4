package projections

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/dronedelivery/models"
)

// EventProcessor polls the event log for unprocessed rows and feeds them to
// the projector. Events are processed in timestamp order; a failing event is
// recorded and retried on the next pass.
type EventProcessor struct {
	db                 *gorm.DB
	projector          *DroneFlightProjector
	batchSize          int
	processingInterval time.Duration
	running            bool
	mutex              sync.Mutex
	stopChan           chan struct{}
}

// NewEventProcessor creates a new event processor
func NewEventProcessor(db *gorm.DB, projector *DroneFlightProjector, interval time.Duration, batchSize int) *EventProcessor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &EventProcessor{
		db:                 db,
		projector:          projector,
		batchSize:          batchSize,
		processingInterval: interval,
		stopChan:           make(chan struct{}),
	}
}

// Start starts the event processor
func (p *EventProcessor) Start() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.running {
		return
	}

	p.running = true
	go p.processEvents()
}

// Stop stops the event processor
func (p *EventProcessor) Stop() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.running {
		return
	}

	p.running = false
	p.stopChan <- struct{}{}
}

func (p *EventProcessor) processEvents() {
	ticker := time.NewTicker(p.processingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.ProcessBatch(); err != nil {
				log.Error().Err(err).Msg("Failed to process event batch")
			}
		case <-p.stopChan:
			return
		}
	}
}

// ProcessBatch projects one batch of unprocessed events
func (p *EventProcessor) ProcessBatch() error {
	var records []models.DroneEventRecord
	if err := p.db.Where("processed = ?", false).
		Order("timestamp ASC").
		Limit(p.batchSize).
		Find(&records).Error; err != nil {
		return err
	}

	if len(records) == 0 {
		return nil
	}

	log.Info().Msgf("Projecting %d events", len(records))

	ctx := context.Background()
	for _, record := range records {
		if err := p.projector.Project(ctx, record); err != nil {
			log.Error().Err(err).Str("event_id", record.EventID).Msg("Failed to project event")
			errMsg := err.Error()
			p.db.Model(&record).Updates(map[string]interface{}{
				"error": &errMsg,
			})
			continue
		}

		if err := p.db.Model(&record).Updates(map[string]interface{}{
			"processed": true,
			"error":     nil,
		}).Error; err != nil {
			log.Error().Err(err).Str("event_id", record.EventID).Msg("Failed to mark event as processed")
		}
	}

	return nil
}
