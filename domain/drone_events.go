package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Drone event type discriminators
const (
	DroneCreated    = "DRONE_CREATED"
	DroneDispatched = "DRONE_DISPATCHED"
	DroneDelivered  = "DRONE_DELIVERED"
	DroneReturned   = "DRONE_RETURNED"
)

// DroneEvent is one immutable entry in a drone's event-sourced lifecycle log
type DroneEvent interface {
	EventType() string
	GetDroneID() string
	GetOrderID() string
	GetTimestamp() time.Time
	GetSequenceNumber() int64
	// WithSequenceNumber returns a copy of the event stamped with its
	// position in the stream. The store assigns the number on append.
	WithSequenceNumber(seq int64) DroneEvent
}

// DroneEventBase carries the fields common to every drone event
type DroneEventBase struct {
	DroneID        string    `json:"drone_id"`
	OrderID        string    `json:"order_id"`
	Timestamp      time.Time `json:"timestamp"`
	SequenceNumber int64     `json:"sequence_number"`
}

func (b DroneEventBase) GetDroneID() string        { return b.DroneID }
func (b DroneEventBase) GetOrderID() string        { return b.OrderID }
func (b DroneEventBase) GetTimestamp() time.Time   { return b.Timestamp }
func (b DroneEventBase) GetSequenceNumber() int64  { return b.SequenceNumber }

// NewDroneEventBase stamps an event base with the current time
func NewDroneEventBase(droneID, orderID string) DroneEventBase {
	return DroneEventBase{DroneID: droneID, OrderID: orderID, Timestamp: time.Now()}
}

// DroneCreatedEvent establishes the drone's identity and its order snapshot.
// It is always sequence number 0 of the stream.
type DroneCreatedEvent struct {
	DroneEventBase
	FromAddress            string    `json:"from_address"`
	ToAddress              string    `json:"to_address"`
	PackageWeight          float64   `json:"package_weight"`
	RequestedDeliveryTime  time.Time `json:"requested_delivery_time"`
	MaxDeliveryTimeMinutes int       `json:"max_delivery_time_minutes"`
}

func (DroneCreatedEvent) EventType() string { return DroneCreated }

func (e DroneCreatedEvent) WithSequenceNumber(seq int64) DroneEvent {
	e.SequenceNumber = seq
	return e
}

// DroneDispatchedEvent records take-off
type DroneDispatchedEvent struct {
	DroneEventBase
	DispatchTime time.Time `json:"dispatch_time"`
}

func (DroneDispatchedEvent) EventType() string { return DroneDispatched }

func (e DroneDispatchedEvent) WithSequenceNumber(seq int64) DroneEvent {
	e.SequenceNumber = seq
	return e
}

// DroneDeliveredEvent records arrival at the destination
type DroneDeliveredEvent struct {
	DroneEventBase
	DeliveryTime time.Time `json:"delivery_time"`
}

func (DroneDeliveredEvent) EventType() string { return DroneDelivered }

func (e DroneDeliveredEvent) WithSequenceNumber(seq int64) DroneEvent {
	e.SequenceNumber = seq
	return e
}

// DroneReturnedEvent closes the lifecycle once the drone is back at base
type DroneReturnedEvent struct {
	DroneEventBase
	ReturnTime time.Time `json:"return_time"`
}

func (DroneReturnedEvent) EventType() string { return DroneReturned }

func (e DroneReturnedEvent) WithSequenceNumber(seq int64) DroneEvent {
	e.SequenceNumber = seq
	return e
}

// droneEventDecoders maps a type discriminator to its decode function
var droneEventDecoders = map[string]func([]byte) (DroneEvent, error){
	DroneCreated: func(data []byte) (DroneEvent, error) {
		var e DroneCreatedEvent
		return e, json.Unmarshal(data, &e)
	},
	DroneDispatched: func(data []byte) (DroneEvent, error) {
		var e DroneDispatchedEvent
		return e, json.Unmarshal(data, &e)
	},
	DroneDelivered: func(data []byte) (DroneEvent, error) {
		var e DroneDeliveredEvent
		return e, json.Unmarshal(data, &e)
	},
	DroneReturned: func(data []byte) (DroneEvent, error) {
		var e DroneReturnedEvent
		return e, json.Unmarshal(data, &e)
	},
}

// DecodeDroneEvent decodes a stored drone event by its discriminator
func DecodeDroneEvent(eventType string, data []byte) (DroneEvent, error) {
	decode, ok := droneEventDecoders[eventType]
	if !ok {
		return nil, ErrUnknownEventType{Type: eventType}
	}

	event, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", eventType, err)
	}

	return event, nil
}
