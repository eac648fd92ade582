package iteration

import (
	"sync/atomic"
	"time"
)

// Metrics holds iteration metrics for observability.
type Metrics struct {
	// Dispatched is the count of tasks handed to the per-item work
	Dispatched int64
	// Completed is the count of tasks collected successfully
	Completed int64
	// Failed is the count of per-item errors
	Failed int64
	// ProcessingTimeNs is the total per-item processing time in nanoseconds
	ProcessingTimeNs int64
	// PeakConcurrent is the highest number of tasks in flight at once
	PeakConcurrent int64
}

// MetricsCollector is a thread-safe metrics recorder shared by drivers.
type MetricsCollector struct {
	dispatched atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	totalTime  atomic.Int64
	active     atomic.Int64
	peak       atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

func (m *MetricsCollector) start() {
	m.dispatched.Add(1)
	current := m.active.Add(1)
	for {
		peak := m.peak.Load()
		if current <= peak || m.peak.CompareAndSwap(peak, current) {
			return
		}
	}
}

func (m *MetricsCollector) finish(elapsed time.Duration, err error) {
	m.active.Add(-1)
	m.totalTime.Add(elapsed.Nanoseconds())
	if err != nil {
		m.failed.Add(1)
	} else {
		m.completed.Add(1)
	}
}

// Snapshot returns the current metrics.
func (m *MetricsCollector) Snapshot() Metrics {
	return Metrics{
		Dispatched:       m.dispatched.Load(),
		Completed:        m.completed.Load(),
		Failed:           m.failed.Load(),
		ProcessingTimeNs: m.totalTime.Load(),
		PeakConcurrent:   m.peak.Load(),
	}
}

// AverageProcessingTime returns the average processing time per item.
func (m *MetricsCollector) AverageProcessingTime() time.Duration {
	n := m.completed.Load() + m.failed.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(m.totalTime.Load() / n)
}

// Reset resets all metrics.
func (m *MetricsCollector) Reset() {
	m.dispatched.Store(0)
	m.completed.Store(0)
	m.failed.Store(0)
	m.totalTime.Store(0)
	m.peak.Store(0)
}
