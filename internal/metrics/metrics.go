package metrics

import (
	"sync"
	"time"
)

type Metrics struct {
	mutex          sync.RWMutex
	totalRequests  int64
	routeNotFound  int64
	upstreamErrors int64
	activeDuplex   int64
	duplexClosed   map[string]int64
	routes         map[string]*routeCounters
	startTime      time.Time
}

type routeCounters struct {
	sessions      int64
	singleShot    int64
	duplex        int64
	statusCodes   map[int]int64
	totalDuration time.Duration
}

type Snapshot struct {
	TotalRequests  int64                   `json:"total_requests"`
	RouteNotFound  int64                   `json:"route_not_found"`
	UpstreamErrors int64                   `json:"upstream_errors"`
	ActiveDuplex   int64                   `json:"active_duplex"`
	DuplexClosed   map[string]int64        `json:"duplex_closed"`
	Uptime         time.Duration           `json:"uptime"`
	Routes         map[string]RouteMetrics `json:"routes"`
}

type RouteMetrics struct {
	Sessions    int64         `json:"sessions"`
	SingleShot  int64         `json:"single_shot"`
	Duplex      int64         `json:"duplex"`
	StatusCodes map[int]int64 `json:"status_codes"`
	AvgDuration time.Duration `json:"avg_duration"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		duplexClosed: make(map[string]int64),
		routes:       make(map[string]*routeCounters),
		startTime:    time.Now(),
	}
}

func (m *Metrics) IncrementRequests() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.totalRequests++
}

func (m *Metrics) IncrementRouteNotFound() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.routeNotFound++
}

func (m *Metrics) IncrementUpstreamErrors() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.upstreamErrors++
}

func (m *Metrics) DuplexOpened() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.activeDuplex++
}

// DuplexClosed records the end of a duplex session and why it ended,
// "peer_close" or "idle_timeout".
func (m *Metrics) DuplexClosed(reason string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.activeDuplex > 0 {
		m.activeDuplex--
	}
	if reason == "" {
		reason = "unknown"
	}
	m.duplexClosed[reason]++
}

func (m *Metrics) RecordSession(routePrefix, mode string, duration time.Duration, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	counters, ok := m.routes[routePrefix]
	if !ok {
		counters = &routeCounters{statusCodes: make(map[int]int64)}
		m.routes[routePrefix] = counters
	}

	counters.sessions++
	counters.totalDuration += duration
	counters.statusCodes[statusCode]++

	if mode == "duplex" {
		counters.duplex++
	} else {
		counters.singleShot++
	}
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		TotalRequests:  m.totalRequests,
		RouteNotFound:  m.routeNotFound,
		UpstreamErrors: m.upstreamErrors,
		ActiveDuplex:   m.activeDuplex,
		DuplexClosed:   make(map[string]int64, len(m.duplexClosed)),
		Uptime:         time.Since(m.startTime),
		Routes:         make(map[string]RouteMetrics, len(m.routes)),
	}

	for reason, count := range m.duplexClosed {
		snap.DuplexClosed[reason] = count
	}

	for prefix, counters := range m.routes {
		codes := make(map[int]int64, len(counters.statusCodes))
		for code, count := range counters.statusCodes {
			codes[code] = count
		}

		var avg time.Duration
		if counters.sessions > 0 {
			avg = counters.totalDuration / time.Duration(counters.sessions)
		}

		snap.Routes[prefix] = RouteMetrics{
			Sessions:    counters.sessions,
			SingleShot:  counters.singleShot,
			Duplex:      counters.duplex,
			StatusCodes: codes,
			AvgDuration: avg,
		}
	}

	return snap
}
