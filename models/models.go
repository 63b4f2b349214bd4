package models

import (
	"time"

	"gorm.io/gorm"
)

// DroneEventRecord is one immutable row in the append-only drone event log
type DroneEventRecord struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	EventID        string    `gorm:"uniqueIndex" json:"event_id"`
	DroneID        string    `gorm:"index" json:"drone_id"`
	OrderID        string    `gorm:"index" json:"order_id"`
	EventType      string    `json:"event_type"`
	Data           []byte    `json:"data"`
	SequenceNumber int64     `json:"sequence_number"`
	Timestamp      time.Time `json:"timestamp"`
	CreatedAt      time.Time `json:"created_at"`
	Processed      bool      `gorm:"index" json:"processed"`
	Error          *string   `json:"error,omitempty"`
}

// OrderSaga is the persisted state of one order saga
type OrderSaga struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	SagaID         string     `gorm:"uniqueIndex" json:"saga_id"`
	OrderID        string     `gorm:"index" json:"order_id"`
	Status         string     `gorm:"index" json:"status"`
	CurrentStep    string     `json:"current_step"`
	CompletedSteps []byte     `json:"completed_steps"`
	FailureReason  string     `json:"failure_reason"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time"`

	// Order payload, kept for compensation and audit
	CustomerID             string    `json:"customer_id"`
	FromAddress            string    `json:"from_address"`
	ToAddress              string    `json:"to_address"`
	PackageWeight          float64   `json:"package_weight"`
	RequestedDeliveryTime  time.Time `json:"requested_delivery_time"`
	MaxDeliveryTimeMinutes int       `json:"max_delivery_time_minutes"`

	// Downstream service IDs
	DeliveryID string `json:"delivery_id"`
	DroneID    string `json:"drone_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Delivery is a scheduled delivery created by the delivery service
type Delivery struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	DeliveryID    string    `gorm:"uniqueIndex" json:"delivery_id"`
	OrderID       string    `gorm:"index" json:"order_id"`
	Status        string    `gorm:"index" json:"status"`
	FromAddress   string    `json:"from_address"`
	ToAddress     string    `json:"to_address"`
	ScheduledTime time.Time `json:"scheduled_time"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Delivery statuses
const (
	DeliveryStatusScheduled = "SCHEDULED"
	DeliveryStatusCancelled = "CANCELLED"
)

// DroneFlight is the projected read model of a drone's current state,
// maintained by the projection worker from the event log
type DroneFlight struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	DroneID      string     `gorm:"uniqueIndex" json:"drone_id"`
	OrderID      string     `gorm:"index" json:"order_id"`
	State        string     `json:"state"`
	FromAddress  string     `json:"from_address"`
	ToAddress    string     `json:"to_address"`
	DispatchTime *time.Time `json:"dispatch_time"`
	DeliveryTime *time.Time `json:"delivery_time"`
	ReturnTime   *time.Time `json:"return_time"`
	Version      int64      `json:"version"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// SetupModels runs the schema migrations
func SetupModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&DroneEventRecord{},
		&OrderSaga{},
		&Delivery{},
		&DroneFlight{},
	)
}
