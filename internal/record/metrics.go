package record

import (
	"sync"
	"time"
)

// sessionMetrics accumulates pipeline counters for the status endpoint.
type sessionMetrics struct {
	sync.Mutex
	pushed     uint64
	dropped    uint64
	pulled     uint64
	recoveries uint64
	lastError  string
	started    time.Time
}

// MetricsSnapshot is a point-in-time copy of the pipeline counters.
type MetricsSnapshot struct {
	Pushed     uint64 `json:"pushed"`
	Dropped    uint64 `json:"dropped"`
	Pulled     uint64 `json:"pulled"`
	Recoveries uint64 `json:"recoveries"`
	LastError  string `json:"lastError,omitempty"`
	UptimeMs   int64  `json:"uptimeMs"`
}

func newSessionMetrics() *sessionMetrics {
	return &sessionMetrics{started: time.Now()}
}

func (m *sessionMetrics) addPush(overwrote bool) {
	m.Lock()
	m.pushed++
	if overwrote {
		m.dropped++
	}
	m.Unlock()
}

func (m *sessionMetrics) addPull() {
	m.Lock()
	m.pulled++
	m.Unlock()
}

func (m *sessionMetrics) addRecovery() {
	m.Lock()
	m.recoveries++
	m.Unlock()
}

func (m *sessionMetrics) setError(err error) {
	if err == nil {
		return
	}
	m.Lock()
	m.lastError = err.Error()
	m.Unlock()
}

func (m *sessionMetrics) snapshot() MetricsSnapshot {
	m.Lock()
	defer m.Unlock()
	return MetricsSnapshot{
		Pushed:     m.pushed,
		Dropped:    m.dropped,
		Pulled:     m.pulled,
		Recoveries: m.recoveries,
		LastError:  m.lastError,
		UptimeMs:   time.Since(m.started).Milliseconds(),
	}
}
