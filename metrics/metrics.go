package metrics

import (
	"sync"
	"time"
)

// Counter metrics
const (
	CounterOrdersCreated    = "orders_created_total"
	CounterSagasStarted     = "saga_started_total"
	CounterSagasCompleted   = "saga_completed_total"
	CounterSagasFailed      = "saga_failed_total"
	CounterSagasCompensated = "saga_compensated_total"
	CounterEventsAppended   = "drone_events_appended_total"
	CounterMessagesSent     = "messages_sent_total"
	CounterMessagesReceived = "messages_received_total"
	CounterMessagesError    = "messages_error_total"
)

// Gauge metrics
const (
	GaugeDronesInFlight = "drones_in_flight"
)

// Collector provides a centralized way to collect and retrieve metrics
type Collector struct {
	mutex     sync.RWMutex
	counters  map[string]int64
	gauges    map[string]float64
	startTime time.Time
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		counters:  make(map[string]int64),
		gauges:    make(map[string]float64),
		startTime: time.Now(),
	}
}

// IncrementCounter increments a counter by 1
func (c *Collector) IncrementCounter(name string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.counters[name]++
}

// GetCounter returns the current value of a counter
func (c *Collector) GetCounter(name string) int64 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.counters[name]
}

// SetGauge sets a gauge to the given value
func (c *Collector) SetGauge(name string, value float64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.gauges[name] = value
}

// GetGauge returns the current value of a gauge
func (c *Collector) GetGauge(name string) float64 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.gauges[name]
}

// Snapshot returns a copy of all metrics plus process uptime
func (c *Collector) Snapshot() map[string]interface{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	counters := make(map[string]int64, len(c.counters))
	for name, value := range c.counters {
		counters[name] = value
	}
	gauges := make(map[string]float64, len(c.gauges))
	for name, value := range c.gauges {
		gauges[name] = value
	}

	return map[string]interface{}{
		"counters":       counters,
		"gauges":         gauges,
		"uptime_seconds": time.Since(c.startTime).Seconds(),
	}
}
