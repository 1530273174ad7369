package logging

import "sync"

// Metrics is a set of named counters exposed through diagnostics.
type Metrics struct {
	mu       sync.Mutex
	counters map[string]uint64
}

// TelemetryAdd increments key by delta.
func (m *Metrics) TelemetryAdd(key string, delta uint64) {
	if m == nil || key == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = make(map[string]uint64)
	}
	m.counters[key] += delta
}

// TelemetryStore overwrites key with value.
func (m *Metrics) TelemetryStore(key string, value uint64) {
	if m == nil || key == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = make(map[string]uint64)
	}
	m.counters[key] = value
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.counters))
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}
