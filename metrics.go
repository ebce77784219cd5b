package aresgo

import (
	"expvar"
	"sync"
	"time"
)

// ServerMetrics is the metrics collaborator spec.md §6 calls
// metrics_server_timeout / metrics_record: implemented elsewhere in the
// original design, referenced only through this interface. The default
// implementation keeps an exponentially weighted moving average of
// observed round-trip time per server and exposes expvar counters,
// grounded on the teacher's vars.go / cache-prefetch-metrics.go counter
// idiom.
type ServerMetrics interface {
	// ServerTimeout returns the base per-try timeout (ms) to use for the
	// given server at the given time, per spec.md §4.6 calc_query_timeout.
	ServerTimeout(server *Server, now time.Time) int64

	// Record is invoked with the query, the server that handled its
	// attempt, and that attempt's status: when an answer completes the
	// query, when a SERVFAIL/NOTIMP/REFUSED answer fails it over, and when
	// its retry budget runs out.
	Record(q *Query, server *Server, status Status)
}

// EWMAMetrics is the default ServerMetrics implementation.
type EWMAMetrics struct {
	// DefaultTimeout seeds a server's estimate before any sample has been
	// observed, and floors the EWMA from below.
	DefaultTimeout time.Duration
	// Alpha is the EWMA smoothing factor in (0, 1]; higher weights recent
	// samples more heavily. Defaults to 0.3.
	Alpha float64

	mu      sync.Mutex
	avgMS   map[string]float64
	counts  *expvar.Map
	results *expvar.Map
}

// NewEWMAMetrics returns the default ServerMetrics implementation.
func NewEWMAMetrics(id string, defaultTimeout time.Duration) *EWMAMetrics {
	if defaultTimeout <= 0 {
		defaultTimeout = 2 * time.Second
	}
	return &EWMAMetrics{
		DefaultTimeout: defaultTimeout,
		Alpha:          0.3,
		avgMS:          make(map[string]float64),
		counts:         getVarMap("channel", id, "tries"),
		results:        getVarMap("channel", id, "results"),
	}
}

func (m *EWMAMetrics) ServerTimeout(server *Server, now time.Time) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	avg, ok := m.avgMS[server.key()]
	if !ok || avg <= 0 {
		return m.DefaultTimeout.Milliseconds()
	}
	floor := float64(m.DefaultTimeout.Milliseconds())
	if avg < floor {
		return int64(floor)
	}
	return int64(avg)
}

func (m *EWMAMetrics) Record(q *Query, server *Server, status Status) {
	m.results.Add(status.String(), 1)
	if server == nil {
		return
	}
	m.counts.Add(server.key(), 1)
	if status != StatusSuccess {
		return
	}
	elapsed := float64(time.Since(q.sentAt).Milliseconds())
	m.mu.Lock()
	defer m.mu.Unlock()
	avg, ok := m.avgMS[server.key()]
	if !ok {
		m.avgMS[server.key()] = elapsed
		return
	}
	m.avgMS[server.key()] = m.Alpha*elapsed + (1-m.Alpha)*avg
}
