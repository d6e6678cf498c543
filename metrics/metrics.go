package metrics

import (
	"sync"
	"time"
)

// MetricsCollector defines the interface for collecting emission metrics
type MetricsCollector interface {
	// Gauges - current state
	AddRunsActive(delta int)

	// Counters - event tracking
	IncRunsStarted(emitter string)
	IncRunsFinished(emitter, reason string)
	IncTicks(emitter string)
	IncCallbacks(emitter, status string)

	// Histograms - duration tracking
	ObserveCallbackDuration(emitter string, duration time.Duration)
	ObserveRunDuration(emitter string, duration time.Duration)

	// Query methods for testing and monitoring
	GetRunsActive() int
	GetRunsStarted(emitter string) int64
	GetRunsFinished(emitter, reason string) int64
	GetTicks(emitter string) int64
	GetCallbacks(emitter, status string) int64
}

// NoOpMetrics is a metrics collector that does nothing
type NoOpMetrics struct{}

func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

func (m *NoOpMetrics) AddRunsActive(delta int)                                        {}
func (m *NoOpMetrics) IncRunsStarted(emitter string)                                  {}
func (m *NoOpMetrics) IncRunsFinished(emitter, reason string)                         {}
func (m *NoOpMetrics) IncTicks(emitter string)                                        {}
func (m *NoOpMetrics) IncCallbacks(emitter, status string)                            {}
func (m *NoOpMetrics) ObserveCallbackDuration(emitter string, duration time.Duration) {}
func (m *NoOpMetrics) ObserveRunDuration(emitter string, duration time.Duration)      {}
func (m *NoOpMetrics) GetRunsActive() int                                             { return 0 }
func (m *NoOpMetrics) GetRunsStarted(emitter string) int64                            { return 0 }
func (m *NoOpMetrics) GetRunsFinished(emitter, reason string) int64                   { return 0 }
func (m *NoOpMetrics) GetTicks(emitter string) int64                                  { return 0 }
func (m *NoOpMetrics) GetCallbacks(emitter, status string) int64                      { return 0 }

// InMemoryMetrics is a simple in-memory metrics collector for testing and basic monitoring
type InMemoryMetrics struct {
	mu sync.RWMutex

	// Gauges
	runsActive int

	// Counters - using map with composite key
	runsStarted  map[string]int64 // key: "emitter"
	runsFinished map[string]int64 // key: "emitter:reason"
	ticks        map[string]int64 // key: "emitter"
	callbacks    map[string]int64 // key: "emitter:status"

	// Histograms - storing observations
	callbackDurations map[string][]time.Duration // key: "emitter"
	runDurations      map[string][]time.Duration // key: "emitter"
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		runsStarted:       make(map[string]int64),
		runsFinished:      make(map[string]int64),
		ticks:             make(map[string]int64),
		callbacks:         make(map[string]int64),
		callbackDurations: make(map[string][]time.Duration),
		runDurations:      make(map[string][]time.Duration),
	}
}

// Gauges
func (m *InMemoryMetrics) AddRunsActive(delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runsActive += delta
}

func (m *InMemoryMetrics) GetRunsActive() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runsActive
}

// Counters
func (m *InMemoryMetrics) IncRunsStarted(emitter string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runsStarted[emitter]++
}

func (m *InMemoryMetrics) IncRunsFinished(emitter, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := emitter + ":" + reason
	m.runsFinished[key]++
}

func (m *InMemoryMetrics) IncTicks(emitter string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks[emitter]++
}

func (m *InMemoryMetrics) IncCallbacks(emitter, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := emitter + ":" + status
	m.callbacks[key]++
}

func (m *InMemoryMetrics) GetRunsStarted(emitter string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runsStarted[emitter]
}

func (m *InMemoryMetrics) GetRunsFinished(emitter, reason string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := emitter + ":" + reason
	return m.runsFinished[key]
}

func (m *InMemoryMetrics) GetTicks(emitter string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ticks[emitter]
}

func (m *InMemoryMetrics) GetCallbacks(emitter, status string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := emitter + ":" + status
	return m.callbacks[key]
}

// Histograms
func (m *InMemoryMetrics) ObserveCallbackDuration(emitter string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbackDurations[emitter] = append(m.callbackDurations[emitter], duration)
}

func (m *InMemoryMetrics) ObserveRunDuration(emitter string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runDurations[emitter] = append(m.runDurations[emitter], duration)
}

// Helper methods for getting histogram statistics
func (m *InMemoryMetrics) GetCallbackDurations(emitter string) []time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	durations := m.callbackDurations[emitter]
	result := make([]time.Duration, len(durations))
	copy(result, durations)
	return result
}

func (m *InMemoryMetrics) GetRunDurations(emitter string) []time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	durations := m.runDurations[emitter]
	result := make([]time.Duration, len(durations))
	copy(result, durations)
	return result
}

// Reset clears all metrics (useful for testing)
func (m *InMemoryMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runsActive = 0
	m.runsStarted = make(map[string]int64)
	m.runsFinished = make(map[string]int64)
	m.ticks = make(map[string]int64)
	m.callbacks = make(map[string]int64)
	m.callbackDurations = make(map[string][]time.Duration)
	m.runDurations = make(map[string][]time.Duration)
}
