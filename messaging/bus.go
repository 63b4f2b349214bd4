package messaging

import (
	"context"
	"encoding/json"

	"example.com/dronedelivery/domain"
)

// Routing keys on the saga events topic, carried in the message subject.
// General events use the saga.* pattern; compensation commands have exact
// keys their handlers subscribe to.
const (
	KeySagaStarted        = "saga.started"
	KeyOrderValidated     = "saga.validated"
	KeyValidationFailed   = "saga.validation.failed"
	KeyDeliveryScheduled  = "saga.delivery_scheduled"
	KeyDeliveryFailed     = "saga.delivery.failed"
	KeyDroneAssigned      = "saga.drone_assigned"
	KeyDroneFailed        = "saga.drone.failed"
	KeySagaCompleted      = "saga.completed"
	KeySagaCancelled      = "saga.cancelled"
	KeyCompensateOrder    = "saga.compensate.order"
	KeyCompensateDelivery = "saga.compensate.delivery"
	KeyCompensateDrone    = "saga.compensate.drone"
)

var routingKeys = map[string]string{
	domain.OrderSagaStarted:         KeySagaStarted,
	domain.OrderValidated:           KeyOrderValidated,
	domain.OrderValidationFailed:    KeyValidationFailed,
	domain.DeliveryScheduled:        KeyDeliveryScheduled,
	domain.DeliverySchedulingFailed: KeyDeliveryFailed,
	domain.DroneAssigned:            KeyDroneAssigned,
	domain.DroneAssignmentFailed:    KeyDroneFailed,
	domain.OrderCompleted:           KeySagaCompleted,
	domain.OrderCancelled:           KeySagaCancelled,
	domain.CompensateOrder:          KeyCompensateOrder,
	domain.CompensateDelivery:       KeyCompensateDelivery,
	domain.CompensateDrone:          KeyCompensateDrone,
}

// RoutingKeyFor returns the topic routing key for a saga event type
func RoutingKeyFor(eventType string) string {
	return routingKeys[eventType]
}

// Envelope is the common wire structure for saga events: a type
// discriminator plus the serialized event
type Envelope struct {
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
}

// NewEnvelope wraps a saga event in its wire envelope
func NewEnvelope(event domain.SagaEvent) (Envelope, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{EventType: event.EventType(), Data: data}, nil
}

// OrderDispatch is the payload carried on the work queues: the order plus
// the saga it belongs to, so downstream services can correlate the events
// they publish
type OrderDispatch struct {
	SagaID string              `json:"saga_id"`
	Order  domain.OrderMessage `json:"order"`
}

// Bus is the transport the services publish through: topic-routed saga
// events plus point-to-point order payloads
type Bus interface {
	// PublishSagaEvent publishes the event on the saga events topic with
	// its routing key
	PublishSagaEvent(ctx context.Context, event domain.SagaEvent) error

	// SendOrder sends the order payload to a work queue (delivery or drone)
	SendOrder(ctx context.Context, queue string, dispatch OrderDispatch) error
}

// SagaEventHandler consumes decoded saga events
type SagaEventHandler interface {
	HandleEvent(ctx context.Context, event domain.SagaEvent) error
}

// OrderHandler consumes order payloads from a work queue
type OrderHandler interface {
	ProcessOrder(ctx context.Context, dispatch OrderDispatch) error
}
