package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DroneState is the current flight state of a drone
type DroneState string

const (
	DroneStateSleeping  DroneState = "Sleeping"
	DroneStateInTransit DroneState = "InTransit"
	DroneStateReturning DroneState = "Returning"
)

// DroneAggregate is the current state of one drone, derived from its event
// stream. It is never persisted directly: the event log is the source of
// truth and the aggregate can be recomputed at any time.
type DroneAggregate struct {
	DroneID string
	Order   OrderMessage
	State   DroneState
	Version int64

	DispatchTime        *time.Time
	DeliveryTime        *time.Time
	ReturnTime          *time.Time
	ExpectedArrivalTime *time.Time
}

// NewDroneAggregate creates a fresh drone for an order
func NewDroneAggregate(order OrderMessage) *DroneAggregate {
	return &DroneAggregate{
		DroneID: uuid.New().String(),
		Order:   order,
		State:   DroneStateSleeping,
	}
}

// Apply folds one event into the aggregate state
func (d *DroneAggregate) Apply(event DroneEvent) error {
	switch e := event.(type) {
	case DroneCreatedEvent:
		d.DroneID = e.DroneID
		d.State = DroneStateSleeping
		d.Order = OrderMessage{
			OrderID:                e.OrderID,
			CustomerID:             "reconstructed",
			FromAddress:            e.FromAddress,
			ToAddress:              e.ToAddress,
			PackageWeight:          e.PackageWeight,
			RequestedDeliveryTime:  e.RequestedDeliveryTime,
			MaxDeliveryTimeMinutes: e.MaxDeliveryTimeMinutes,
		}

	case DroneDispatchedEvent:
		d.State = DroneStateInTransit
		t := e.DispatchTime
		d.DispatchTime = &t

	case DroneDeliveredEvent:
		d.State = DroneStateReturning
		t := e.DeliveryTime
		d.DeliveryTime = &t

	case DroneReturnedEvent:
		// Already in Returning state; the event is retained in the log as
		// the canonical record of completion.
		t := e.ReturnTime
		d.ReturnTime = &t

	default:
		return fmt.Errorf("unknown drone event type: %T", event)
	}

	d.Version++
	return nil
}

// Clone returns an independent copy of the aggregate. The timestamp pointers
// are duplicated so that mutating the copy cannot touch the original.
func (d *DroneAggregate) Clone() *DroneAggregate {
	clone := *d
	clone.DispatchTime = copyTime(d.DispatchTime)
	clone.DeliveryTime = copyTime(d.DeliveryTime)
	clone.ReturnTime = copyTime(d.ReturnTime)
	clone.ExpectedArrivalTime = copyTime(d.ExpectedArrivalTime)
	return &clone
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// String renders the drone for log output
func (d *DroneAggregate) String() string {
	return fmt.Sprintf("Drone %s %s from %s to %s",
		d.DroneID, d.State, d.Order.FromAddress, d.Order.ToAddress)
}
