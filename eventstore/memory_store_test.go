package eventstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/dronedelivery/domain"
)

func appendLifecycle(t *testing.T, store *MemoryEventStore, droneID, orderID string) {
	t.Helper()
	ctx := context.Background()

	base := func() domain.DroneEventBase {
		return domain.NewDroneEventBase(droneID, orderID)
	}

	_, err := store.Append(ctx, domain.DroneCreatedEvent{
		DroneEventBase: base(),
		FromAddress:    "1 Warehouse Way",
		ToAddress:      "99 Customer Street",
		PackageWeight:  2.0,
	})
	require.NoError(t, err)

	_, err = store.Append(ctx, domain.DroneDispatchedEvent{
		DroneEventBase: base(),
		DispatchTime:   time.Now(),
	})
	require.NoError(t, err)

	_, err = store.Append(ctx, domain.DroneDeliveredEvent{
		DroneEventBase: base(),
		DeliveryTime:   time.Now(),
	})
	require.NoError(t, err)

	_, err = store.Append(ctx, domain.DroneReturnedEvent{
		DroneEventBase: base(),
		ReturnTime:     time.Now(),
	})
	require.NoError(t, err)
}

func TestAppendAssignsSequenceNumbers(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()

	first, err := store.Append(ctx, domain.DroneCreatedEvent{
		DroneEventBase: domain.NewDroneEventBase("DR1", "order-1"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), first.GetSequenceNumber())

	second, err := store.Append(ctx, domain.DroneDispatchedEvent{
		DroneEventBase: domain.NewDroneEventBase("DR1", "order-1"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), second.GetSequenceNumber())

	// Streams number independently
	other, err := store.Append(ctx, domain.DroneCreatedEvent{
		DroneEventBase: domain.NewDroneEventBase("DR2", "order-2"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), other.GetSequenceNumber())

	version, err := store.CurrentVersion(ctx, "DR1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
}

func TestRebuildFullLifecycle(t *testing.T) {
	store := NewMemoryEventStore()
	appendLifecycle(t, store, "DR1", "order-1")

	drone, err := store.Rebuild(context.Background(), "DR1")
	require.NoError(t, err)

	assert.Equal(t, "DR1", drone.DroneID)
	assert.Equal(t, domain.DroneStateReturning, drone.State)
	assert.Equal(t, int64(4), drone.Version)
	require.NotNil(t, drone.DispatchTime)
	require.NotNil(t, drone.DeliveryTime)
	require.NotNil(t, drone.ReturnTime)
}

func TestRebuildUnknownDrone(t *testing.T) {
	store := NewMemoryEventStore()

	_, err := store.Rebuild(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRebuildCorruptStream(t *testing.T) {
	store := NewMemoryEventStore()

	// A stream that does not start with the creation event cannot
	// establish identity
	_, err := store.Append(context.Background(), domain.DroneDispatchedEvent{
		DroneEventBase: domain.NewDroneEventBase("DR1", "order-1"),
	})
	require.NoError(t, err)

	_, err = store.Rebuild(context.Background(), "DR1")
	assert.ErrorIs(t, err, ErrCorruptStream)
}

func TestLoadStreamSkipsMalformedRecords(t *testing.T) {
	store := NewMemoryEventStore()
	appendLifecycle(t, store, "DR1", "order-1")

	// Corrupt the second stored row in place
	store.mu.Lock()
	store.byDrone["DR1"][1].Data = []byte("{not valid json")
	store.mu.Unlock()

	events, err := store.LoadStream(context.Background(), "DR1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, domain.DroneCreated, events[0].EventType())
	assert.Equal(t, domain.DroneDelivered, events[1].EventType())

	// Rebuild still works from the surviving events
	drone, err := store.Rebuild(context.Background(), "DR1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), drone.Version)
}

func TestLoadStreamByOrder(t *testing.T) {
	store := NewMemoryEventStore()
	appendLifecycle(t, store, "DR1", "order-1")
	appendLifecycle(t, store, "DR2", "order-2")

	events, err := store.LoadStreamByOrder(context.Background(), "order-1")
	require.NoError(t, err)
	require.Len(t, events, 4)
	for _, event := range events {
		assert.Equal(t, "order-1", event.GetOrderID())
	}
}

func TestLoadStreamEmpty(t *testing.T) {
	store := NewMemoryEventStore()

	events, err := store.LoadStream(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, events)
}
