package domain

import (
	"sort"
	"time"
)

// SagaStatus is the lifecycle status of an order saga
type SagaStatus string

const (
	SagaStatusStarted      SagaStatus = "STARTED"
	SagaStatusInProgress   SagaStatus = "IN_PROGRESS"
	SagaStatusCompleted    SagaStatus = "COMPLETED"
	SagaStatusFailed       SagaStatus = "FAILED"
	SagaStatusCompensating SagaStatus = "COMPENSATING"
	SagaStatusCompensated  SagaStatus = "COMPENSATED"
)

// IsTerminal reports whether the status ends the saga
func (s SagaStatus) IsTerminal() bool {
	return s == SagaStatusCompleted || s == SagaStatusCompensated
}

// SagaStep is a step in the order processing saga
type SagaStep string

const (
	StepOrderValidation    SagaStep = "ORDER_VALIDATION"
	StepDeliveryScheduling SagaStep = "DELIVERY_SCHEDULING"
	StepDroneAssignment    SagaStep = "DRONE_ASSIGNMENT"
	StepCompleted          SagaStep = "COMPLETED"
)

// Ordinal returns the position of the step in the fixed forward sequence.
// Compensation runs by descending ordinal.
func (s SagaStep) Ordinal() int {
	switch s {
	case StepOrderValidation:
		return 0
	case StepDeliveryScheduling:
		return 1
	case StepDroneAssignment:
		return 2
	case StepCompleted:
		return 3
	}
	return -1
}

// SagaRecord is the persisted state of one in-flight order transaction.
// It tracks progress through the distributed workflow and carries the order
// payload and downstream service IDs needed for compensation.
type SagaRecord struct {
	SagaID         string
	OrderID        string
	Status         SagaStatus
	CurrentStep    SagaStep
	CompletedSteps []SagaStep
	FailureReason  string
	StartTime      time.Time
	EndTime        *time.Time

	// Order details, captured at start for compensation and audit
	Order OrderMessage

	// Downstream IDs, targets of compensation commands
	DeliveryID string
	DroneID    string
}

// NewSagaRecord creates a saga record in its initial state
func NewSagaRecord(sagaID string, order OrderMessage) *SagaRecord {
	return &SagaRecord{
		SagaID:         sagaID,
		OrderID:        order.OrderID,
		Status:         SagaStatusStarted,
		CurrentStep:    StepOrderValidation,
		CompletedSteps: []SagaStep{},
		StartTime:      time.Now(),
		Order:          order,
	}
}

// HasCompletedStep reports whether the step was already marked completed
func (r *SagaRecord) HasCompletedStep(step SagaStep) bool {
	for _, s := range r.CompletedSteps {
		if s == step {
			return true
		}
	}
	return false
}

// MarkStepCompleted appends the step to the completed set, preserving
// insertion order. It returns false if the step was already present, which
// lets event handlers stay idempotent under message redelivery.
func (r *SagaRecord) MarkStepCompleted(step SagaStep) bool {
	if r.HasCompletedStep(step) {
		return false
	}
	r.CompletedSteps = append(r.CompletedSteps, step)
	return true
}

// MoveToNextStep advances the current step along the fixed sequence
func (r *SagaRecord) MoveToNextStep() {
	switch r.CurrentStep {
	case StepOrderValidation:
		r.CurrentStep = StepDeliveryScheduling
		r.Status = SagaStatusInProgress
	case StepDeliveryScheduling:
		r.CurrentStep = StepDroneAssignment
	case StepDroneAssignment:
		r.CurrentStep = StepCompleted
	}
}

// MarkFailed records the first failure. The reason is immutable once set and
// the record is not terminal yet: compensation decides how the saga ends.
func (r *SagaRecord) MarkFailed(reason string) {
	r.Status = SagaStatusFailed
	if r.FailureReason == "" {
		r.FailureReason = reason
	}
}

// StartCompensation moves the saga into the rollback phase
func (r *SagaRecord) StartCompensation() {
	r.Status = SagaStatusCompensating
}

// MarkCompensated terminates the saga after rollback
func (r *SagaRecord) MarkCompensated() {
	r.Status = SagaStatusCompensated
	r.setEndTime()
}

// MarkCompleted terminates the saga successfully
func (r *SagaRecord) MarkCompleted() {
	r.Status = SagaStatusCompleted
	r.CurrentStep = StepCompleted
	r.setEndTime()
}

// NeedsCompensation holds iff the saga failed after at least one step
// completed. A failure before any completed step short-circuits straight to
// cancellation.
func (r *SagaRecord) NeedsCompensation() bool {
	return r.Status == SagaStatusFailed && len(r.CompletedSteps) > 0
}

// StepsToCompensate returns the completed steps in reverse completion order:
// later steps roll back first.
func (r *SagaRecord) StepsToCompensate() []SagaStep {
	steps := make([]SagaStep, len(r.CompletedSteps))
	copy(steps, r.CompletedSteps)
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].Ordinal() > steps[j].Ordinal()
	})
	return steps
}

// EndTime is set exactly once, when the saga reaches a terminal status
func (r *SagaRecord) setEndTime() {
	if r.EndTime == nil {
		now := time.Now()
		r.EndTime = &now
	}
}
