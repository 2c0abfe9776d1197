package gateway

import (
	"sync"
	"time"
)

const latencyWindow = 1000

// Metrics is the process-wide request accounting: monotonic counters
// plus a bounded window of recent latencies (oldest evicted first).
type Metrics struct {
	mu        sync.Mutex
	requests  uint64
	errors    uint64
	latencies []time.Duration
	next      int
	filled    bool
}

// NewMetrics returns empty metrics.
func NewMetrics() *Metrics {
	return &Metrics{latencies: make([]time.Duration, latencyWindow)}
}

// Record accounts one finished request.
func (m *Metrics) Record(d time.Duration, isError bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests++
	if isError {
		m.errors++
	}
	m.latencies[m.next] = d
	m.next++
	if m.next == latencyWindow {
		m.next = 0
		m.filled = true
	}
}

func (m *Metrics) snapshot() (requests, errs uint64, avgMS float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.next
	if m.filled {
		n = latencyWindow
	}
	var sum time.Duration
	for i := 0; i < n; i++ {
		sum += m.latencies[i]
	}
	if n > 0 {
		avgMS = float64(sum.Microseconds()) / float64(n) / 1000
	}
	return m.requests, m.errors, avgMS
}

// Snapshot is the point-in-time metrics view served to operators.
type Snapshot struct {
	TotalRequests       uint64  `json:"total_requests"`
	TotalErrors         uint64  `json:"total_errors"`
	ErrorRate           float64 `json:"error_rate"`
	AvgResponseTimeMS   float64 `json:"avg_response_time_ms"`
	RegisteredEndpoints int     `json:"registered_endpoints"`
	UpstreamCount       int     `json:"upstream_count"`
	HealthyUpstreams    int     `json:"healthy_upstream_count"`
	RateRuleCount       int     `json:"rate_rule_count"`
}
