package repository

import (
	"context"
	"sync"

	"example.com/dronedelivery/domain"
)

// MemorySagaRepository is an in-memory SagaRepository. Updates for the same
// saga are serialized behind a single mutex, which gives the per-aggregate
// write ordering the coordinator relies on. Used by tests and local runs
// without a database.
type MemorySagaRepository struct {
	mu      sync.RWMutex
	bySaga  map[string]*domain.SagaRecord
	byOrder map[string]string
}

// NewMemorySagaRepository creates an empty in-memory saga repository
func NewMemorySagaRepository() *MemorySagaRepository {
	return &MemorySagaRepository{
		bySaga:  make(map[string]*domain.SagaRecord),
		byOrder: make(map[string]string),
	}
}

// Save stores a copy of the record
func (r *MemorySagaRepository) Save(ctx context.Context, record *domain.SagaRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bySaga[record.SagaID] = copyRecord(record)
	r.byOrder[record.OrderID] = record.SagaID
	return nil
}

// FindBySagaID returns the saga with the given id
func (r *MemorySagaRepository) FindBySagaID(ctx context.Context, sagaID string) (*domain.SagaRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.bySaga[sagaID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(record), nil
}

// FindByOrderID returns the saga for the order
func (r *MemorySagaRepository) FindByOrderID(ctx context.Context, orderID string) (*domain.SagaRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sagaID, ok := r.byOrder[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(r.bySaga[sagaID]), nil
}

// FindByStatus returns all sagas in the given status
func (r *MemorySagaRepository) FindByStatus(ctx context.Context, status domain.SagaStatus) ([]*domain.SagaRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []*domain.SagaRecord
	for _, record := range r.bySaga {
		if record.Status == status {
			records = append(records, copyRecord(record))
		}
	}
	return records, nil
}

func copyRecord(record *domain.SagaRecord) *domain.SagaRecord {
	clone := *record
	clone.CompletedSteps = make([]domain.SagaStep, len(record.CompletedSteps))
	copy(clone.CompletedSteps, record.CompletedSteps)
	if record.EndTime != nil {
		end := *record.EndTime
		clone.EndTime = &end
	}
	return &clone
}
