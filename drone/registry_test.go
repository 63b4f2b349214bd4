package drone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/dronedelivery/domain"
)

func attachedDrone(registry *Registry, orderID string) *domain.DroneAggregate {
	drone := domain.NewDroneAggregate(domain.OrderMessage{
		OrderID:       orderID,
		CustomerID:    "customer-1",
		FromAddress:   "1 Warehouse Way",
		ToAddress:     "99 Customer Street",
		PackageWeight: 1.2,
	})
	drone.State = domain.DroneStateInTransit
	arrival := time.Now().Add(3 * time.Minute)
	drone.ExpectedArrivalTime = &arrival
	registry.Attach(drone)
	return drone
}

func TestRegistryGetReturnsCopy(t *testing.T) {
	registry := NewRegistry()
	drone := attachedDrone(registry, "order-1")

	first, ok := registry.Get(drone.DroneID)
	require.True(t, ok)

	// Mutating the returned aggregate must not leak into the registry
	first.State = domain.DroneStateReturning
	first.Version = 99
	*first.ExpectedArrivalTime = time.Time{}

	second, ok := registry.Get(drone.DroneID)
	require.True(t, ok)
	assert.Equal(t, domain.DroneStateInTransit, second.State)
	assert.NotEqual(t, int64(99), second.Version)
	assert.False(t, second.ExpectedArrivalTime.IsZero())
}

func TestRegistryAttachStoresCopy(t *testing.T) {
	registry := NewRegistry()
	drone := attachedDrone(registry, "order-1")

	// The caller keeps its own aggregate; later mutations stay private
	drone.State = domain.DroneStateReturning

	stored, ok := registry.Get(drone.DroneID)
	require.True(t, ok)
	assert.Equal(t, domain.DroneStateInTransit, stored.State)
}

func TestRegistryActiveReturnsCopies(t *testing.T) {
	registry := NewRegistry()
	drone := attachedDrone(registry, "order-1")

	active := registry.Active()
	require.Len(t, active, 1)
	active[0].State = domain.DroneStateReturning

	stored, ok := registry.Get(drone.DroneID)
	require.True(t, ok)
	assert.Equal(t, domain.DroneStateInTransit, stored.State)
}

func TestRegistryGetByOrder(t *testing.T) {
	registry := NewRegistry()
	drone := attachedDrone(registry, "order-1")

	byOrder, ok := registry.GetByOrder("order-1")
	require.True(t, ok)
	assert.Equal(t, drone.DroneID, byOrder.DroneID)

	_, ok = registry.GetByOrder("order-x")
	assert.False(t, ok)
}

func TestRegistryDetachIsIdempotent(t *testing.T) {
	registry := NewRegistry()
	drone := attachedDrone(registry, "order-1")

	assert.True(t, registry.Detach(drone.DroneID))
	assert.False(t, registry.Detach(drone.DroneID))
	assert.Zero(t, registry.Count())

	attachedDrone(registry, "order-2")
	assert.True(t, registry.DetachByOrder("order-2"))
	assert.False(t, registry.DetachByOrder("order-2"))
}
