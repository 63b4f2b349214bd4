package drone

import (
	"sync"

	"example.com/dronedelivery/domain"
)

// Registry tracks the drones currently attached to an order, from assignment
// until return or compensation. It is a working set, not a store: drones
// evicted here are still fully recoverable from the event log.
type Registry struct {
	mu      sync.RWMutex
	byDrone map[string]*domain.DroneAggregate
	byOrder map[string]string
}

// NewRegistry creates an empty drone registry
func NewRegistry() *Registry {
	return &Registry{
		byDrone: make(map[string]*domain.DroneAggregate),
		byOrder: make(map[string]string),
	}
}

// Attach registers a drone as active for its order. The registry stores its
// own copy; the caller's aggregate stays private.
func (r *Registry) Attach(drone *domain.DroneAggregate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byDrone[drone.DroneID] = drone.Clone()
	r.byOrder[drone.Order.OrderID] = drone.DroneID
}

// Detach removes a drone from the active set. Detaching an unknown drone is
// a no-op, which keeps compensation handlers idempotent.
func (r *Registry) Detach(droneID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	drone, ok := r.byDrone[droneID]
	if !ok {
		return false
	}
	delete(r.byDrone, droneID)
	delete(r.byOrder, drone.Order.OrderID)
	return true
}

// DetachByOrder removes the drone attached to an order, if any
func (r *Registry) DetachByOrder(orderID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	droneID, ok := r.byOrder[orderID]
	if !ok {
		return false
	}
	delete(r.byDrone, droneID)
	delete(r.byOrder, orderID)
	return true
}

// Get returns a copy of the active drone with the given id. Callers never
// see the stored aggregate itself, so reads cannot race with the flight
// scheduler.
func (r *Registry) Get(droneID string) (*domain.DroneAggregate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	drone, ok := r.byDrone[droneID]
	if !ok {
		return nil, false
	}
	return drone.Clone(), true
}

// GetByOrder returns a copy of the active drone attached to an order
func (r *Registry) GetByOrder(orderID string) (*domain.DroneAggregate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	droneID, ok := r.byOrder[orderID]
	if !ok {
		return nil, false
	}
	drone, ok := r.byDrone[droneID]
	if !ok {
		return nil, false
	}
	return drone.Clone(), true
}

// Active returns copies of the attached drones
func (r *Registry) Active() []*domain.DroneAggregate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	drones := make([]*domain.DroneAggregate, 0, len(r.byDrone))
	for _, drone := range r.byDrone {
		drones = append(drones, drone.Clone())
	}
	return drones
}

// Count returns the number of attached drones
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byDrone)
}
