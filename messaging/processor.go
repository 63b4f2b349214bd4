package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/dronedelivery/domain"
	"example.com/dronedelivery/metrics"
)

// MessageProcessor handles one received Service Bus message
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error
}

// SagaEventProcessor decodes saga event envelopes and hands them to the
// coordinator. Unknown event types are logged and completed; failing the
// delivery would only redeliver a message nobody can handle.
type SagaEventProcessor struct {
	handler   SagaEventHandler
	collector *metrics.Collector
}

// NewSagaEventProcessor creates a processor for the saga subscription
func NewSagaEventProcessor(handler SagaEventHandler, collector *metrics.Collector) *SagaEventProcessor {
	return &SagaEventProcessor{handler: handler, collector: collector}
}

func (p *SagaEventProcessor) ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	p.collector.IncrementCounter(metrics.CounterMessagesReceived)

	event, err := decodeEnvelope(message.Body)
	if err != nil {
		var unknown domain.ErrUnknownEventType
		if errors.As(err, &unknown) {
			log.Warn().Str("eventType", unknown.Type).Msg("Ignoring unknown event type")
			return nil
		}
		p.collector.IncrementCounter(metrics.CounterMessagesError)
		return err
	}

	if err := p.handler.HandleEvent(ctx, event); err != nil {
		p.collector.IncrementCounter(metrics.CounterMessagesError)
		return err
	}
	return nil
}

// OrderProcessor decodes order dispatches from a work queue
type OrderProcessor struct {
	handler   OrderHandler
	collector *metrics.Collector
}

// NewOrderProcessor creates a processor for an order work queue
func NewOrderProcessor(handler OrderHandler, collector *metrics.Collector) *OrderProcessor {
	return &OrderProcessor{handler: handler, collector: collector}
}

func (p *OrderProcessor) ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	p.collector.IncrementCounter(metrics.CounterMessagesReceived)

	var dispatch OrderDispatch
	if err := json.Unmarshal(message.Body, &dispatch); err != nil {
		p.collector.IncrementCounter(metrics.CounterMessagesError)
		return fmt.Errorf("error unmarshalling order: %w", err)
	}

	if err := p.handler.ProcessOrder(ctx, dispatch); err != nil {
		p.collector.IncrementCounter(metrics.CounterMessagesError)
		return err
	}
	return nil
}

// DroneCompensator rolls back a drone assignment
type DroneCompensator interface {
	HandleCompensateDrone(ctx context.Context, event domain.CompensateDroneEvent) error
}

// DeliveryCompensator rolls back a scheduled delivery
type DeliveryCompensator interface {
	HandleCompensateDelivery(ctx context.Context, event domain.CompensateDeliveryEvent) error
}

// CompensationProcessor dispatches compensation commands to the services
// that own the compensated resources. Non-compensation events on the same
// subscription are dropped.
type CompensationProcessor struct {
	drones     DroneCompensator
	deliveries DeliveryCompensator
	collector  *metrics.Collector
}

// NewCompensationProcessor creates a processor for the compensation
// subscription
func NewCompensationProcessor(drones DroneCompensator, deliveries DeliveryCompensator, collector *metrics.Collector) *CompensationProcessor {
	return &CompensationProcessor{drones: drones, deliveries: deliveries, collector: collector}
}

func (p *CompensationProcessor) ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	p.collector.IncrementCounter(metrics.CounterMessagesReceived)

	event, err := decodeEnvelope(message.Body)
	if err != nil {
		var unknown domain.ErrUnknownEventType
		if errors.As(err, &unknown) {
			log.Warn().Str("eventType", unknown.Type).Msg("Ignoring unknown event type")
			return nil
		}
		p.collector.IncrementCounter(metrics.CounterMessagesError)
		return err
	}

	switch e := event.(type) {
	case domain.CompensateDroneEvent:
		return p.drones.HandleCompensateDrone(ctx, e)
	case domain.CompensateDeliveryEvent:
		return p.deliveries.HandleCompensateDelivery(ctx, e)
	case domain.CompensateOrderEvent:
		// Validation left nothing behind; the command is acknowledged for
		// the audit trail only.
		log.Info().
			Str("sagaID", e.GetSagaID()).
			Str("orderID", e.GetOrderID()).
			Msg("Order validation compensated")
		return nil
	default:
		log.Debug().Str("eventType", event.EventType()).Msg("Ignoring event")
		return nil
	}
}

func decodeEnvelope(body []byte) (domain.SagaEvent, error) {
	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("error unmarshalling envelope: %w", err)
	}
	return domain.DecodeSagaEvent(envelope.EventType, envelope.Data)
}
