package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Saga event type discriminators, carried on the wire in the envelope
const (
	OrderSagaStarted         = "ORDER_SAGA_STARTED"
	OrderValidated           = "ORDER_VALIDATED"
	OrderValidationFailed    = "ORDER_VALIDATION_FAILED"
	DeliveryScheduled        = "DELIVERY_SCHEDULED"
	DeliverySchedulingFailed = "DELIVERY_SCHEDULING_FAILED"
	DroneAssigned            = "DRONE_ASSIGNED"
	DroneAssignmentFailed    = "DRONE_ASSIGNMENT_FAILED"
	OrderCompleted           = "ORDER_COMPLETED"
	OrderCancelled           = "ORDER_CANCELLED"
	CompensateOrder          = "COMPENSATE_ORDER"
	CompensateDelivery       = "COMPENSATE_DELIVERY"
	CompensateDrone          = "COMPENSATE_DRONE"
)

// SagaEvent is the closed set of events exchanged on the saga topic
type SagaEvent interface {
	EventType() string
	GetSagaID() string
	GetOrderID() string
	GetTimestamp() time.Time
}

// SagaEventBase carries the correlation identifiers common to every variant
type SagaEventBase struct {
	SagaID    string    `json:"saga_id"`
	OrderID   string    `json:"order_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (b SagaEventBase) GetSagaID() string       { return b.SagaID }
func (b SagaEventBase) GetOrderID() string      { return b.OrderID }
func (b SagaEventBase) GetTimestamp() time.Time { return b.Timestamp }

// NewSagaEventBase stamps an event base with the current time
func NewSagaEventBase(sagaID, orderID string) SagaEventBase {
	return SagaEventBase{SagaID: sagaID, OrderID: orderID, Timestamp: time.Now()}
}

// OrderSagaStartedEvent announces a new saga with its full order payload
type OrderSagaStartedEvent struct {
	SagaEventBase
	Order OrderMessage `json:"order"`
}

func (OrderSagaStartedEvent) EventType() string { return OrderSagaStarted }

// OrderValidatedEvent marks successful inline validation
type OrderValidatedEvent struct {
	SagaEventBase
}

func (OrderValidatedEvent) EventType() string { return OrderValidated }

// OrderValidationFailedEvent marks a terminal validation failure
type OrderValidationFailedEvent struct {
	SagaEventBase
	Reason string `json:"reason"`
}

func (OrderValidationFailedEvent) EventType() string { return OrderValidationFailed }

// DeliveryScheduledEvent is published by the delivery service on success
type DeliveryScheduledEvent struct {
	SagaEventBase
	DeliveryID string `json:"delivery_id"`
}

func (DeliveryScheduledEvent) EventType() string { return DeliveryScheduled }

// DeliverySchedulingFailedEvent is published by the delivery service on failure
type DeliverySchedulingFailedEvent struct {
	SagaEventBase
	Reason string `json:"reason"`
}

func (DeliverySchedulingFailedEvent) EventType() string { return DeliverySchedulingFailed }

// DroneAssignedEvent is published by the drone service as soon as a drone is
// created for the order, independent of the simulated flight outcome
type DroneAssignedEvent struct {
	SagaEventBase
	DroneID string `json:"drone_id"`
}

func (DroneAssignedEvent) EventType() string { return DroneAssigned }

// DroneAssignmentFailedEvent is published when no drone could be assigned
type DroneAssignmentFailedEvent struct {
	SagaEventBase
	Reason string `json:"reason"`
}

func (DroneAssignmentFailedEvent) EventType() string { return DroneAssignmentFailed }

// OrderCompletedEvent marks successful completion of the whole saga
type OrderCompletedEvent struct {
	SagaEventBase
}

func (OrderCompletedEvent) EventType() string { return OrderCompleted }

// OrderCancelledEvent is the final notification for a failed or compensated order
type OrderCancelledEvent struct {
	SagaEventBase
	Reason string `json:"reason"`
}

func (OrderCancelledEvent) EventType() string { return OrderCancelled }

// CompensateOrderEvent commands rollback of the order validation step
type CompensateOrderEvent struct {
	SagaEventBase
	Reason string `json:"reason"`
}

func (CompensateOrderEvent) EventType() string { return CompensateOrder }

// CompensateDeliveryEvent commands rollback of a scheduled delivery
type CompensateDeliveryEvent struct {
	SagaEventBase
	DeliveryID string `json:"delivery_id"`
	Reason     string `json:"reason"`
}

func (CompensateDeliveryEvent) EventType() string { return CompensateDelivery }

// CompensateDroneEvent commands rollback of a drone assignment
type CompensateDroneEvent struct {
	SagaEventBase
	DroneID string `json:"drone_id"`
	Reason  string `json:"reason"`
}

func (CompensateDroneEvent) EventType() string { return CompensateDrone }

// sagaEventDecoders maps a type discriminator to its decode function
var sagaEventDecoders = map[string]func([]byte) (SagaEvent, error){
	OrderSagaStarted: func(data []byte) (SagaEvent, error) {
		var e OrderSagaStartedEvent
		return e, json.Unmarshal(data, &e)
	},
	OrderValidated: func(data []byte) (SagaEvent, error) {
		var e OrderValidatedEvent
		return e, json.Unmarshal(data, &e)
	},
	OrderValidationFailed: func(data []byte) (SagaEvent, error) {
		var e OrderValidationFailedEvent
		return e, json.Unmarshal(data, &e)
	},
	DeliveryScheduled: func(data []byte) (SagaEvent, error) {
		var e DeliveryScheduledEvent
		return e, json.Unmarshal(data, &e)
	},
	DeliverySchedulingFailed: func(data []byte) (SagaEvent, error) {
		var e DeliverySchedulingFailedEvent
		return e, json.Unmarshal(data, &e)
	},
	DroneAssigned: func(data []byte) (SagaEvent, error) {
		var e DroneAssignedEvent
		return e, json.Unmarshal(data, &e)
	},
	DroneAssignmentFailed: func(data []byte) (SagaEvent, error) {
		var e DroneAssignmentFailedEvent
		return e, json.Unmarshal(data, &e)
	},
	OrderCompleted: func(data []byte) (SagaEvent, error) {
		var e OrderCompletedEvent
		return e, json.Unmarshal(data, &e)
	},
	OrderCancelled: func(data []byte) (SagaEvent, error) {
		var e OrderCancelledEvent
		return e, json.Unmarshal(data, &e)
	},
	CompensateOrder: func(data []byte) (SagaEvent, error) {
		var e CompensateOrderEvent
		return e, json.Unmarshal(data, &e)
	},
	CompensateDelivery: func(data []byte) (SagaEvent, error) {
		var e CompensateDeliveryEvent
		return e, json.Unmarshal(data, &e)
	},
	CompensateDrone: func(data []byte) (SagaEvent, error) {
		var e CompensateDroneEvent
		return e, json.Unmarshal(data, &e)
	},
}

// ErrUnknownEventType marks a discriminator with no registered decoder
type ErrUnknownEventType struct {
	Type string
}

func (e ErrUnknownEventType) Error() string {
	return fmt.Sprintf("unknown event type: %s", e.Type)
}

// DecodeSagaEvent decodes a serialized saga event by its discriminator.
// An unregistered discriminator returns ErrUnknownEventType so that
// consumers can log and ignore it instead of failing the delivery.
func DecodeSagaEvent(eventType string, data []byte) (SagaEvent, error) {
	decode, ok := sagaEventDecoders[eventType]
	if !ok {
		return nil, ErrUnknownEventType{Type: eventType}
	}

	event, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", eventType, err)
	}

	return event, nil
}
