package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations so feed goroutines and the event loop can share it.
type Metrics struct {
	// Counters
	eventsProcessed atomic.Uint64
	fills           atomic.Uint64
	ordersFilled    atomic.Uint64
	rejections      atomic.Uint64
	riskTrips       atomic.Uint64
	dataGaps        atomic.Uint64
	discrepancies   atomic.Uint64
	errorsTotal     atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	openOrders        atomic.Int64
	activeConnections atomic.Int32
	circuitOpen       atomic.Int32 // 1 = open, 0 = closed
}

// RecordEvent records one processed market event with its latency.
func (m *Metrics) RecordEvent(latencyNs int64) {
	m.eventsProcessed.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

func (m *Metrics) RecordFill() {
	m.fills.Add(1)
}

// RecordOrderFilled records an order reaching Filled.
func (m *Metrics) RecordOrderFilled() {
	m.ordersFilled.Add(1)
}

func (m *Metrics) RecordRejection() {
	m.rejections.Add(1)
}

func (m *Metrics) RecordRiskTrip() {
	m.riskTrips.Add(1)
}

func (m *Metrics) RecordDataGap() {
	m.dataGaps.Add(1)
}

func (m *Metrics) RecordDiscrepancy() {
	m.discrepancies.Add(1)
}

func (m *Metrics) SetOpenOrders(n int) {
	m.openOrders.Store(int64(n))
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// SetCircuitState sets the drawdown breaker state (true = open).
func (m *Metrics) SetCircuitState(open bool) {
	if open {
		m.circuitOpen.Store(1)
	} else {
		m.circuitOpen.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	EventsProcessed   uint64    `json:"events_processed"`
	Fills             uint64    `json:"fills"`
	OrdersFilled      uint64    `json:"orders_filled"`
	Rejections        uint64    `json:"rejections"`
	RiskTrips         uint64    `json:"risk_trips"`
	DataGaps          uint64    `json:"data_gaps"`
	Discrepancies     uint64    `json:"discrepancies"`
	ErrorsTotal       uint64    `json:"errors_total"`
	AvgLatencyNs      int64     `json:"avg_latency_ns"`
	OpenOrders        int64     `json:"open_orders"`
	ActiveConnections int32     `json:"active_connections"`
	CircuitOpen       bool      `json:"circuit_open"`
	Timestamp         time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		EventsProcessed:   m.eventsProcessed.Load(),
		Fills:             m.fills.Load(),
		OrdersFilled:      m.ordersFilled.Load(),
		Rejections:        m.rejections.Load(),
		RiskTrips:         m.riskTrips.Load(),
		DataGaps:          m.dataGaps.Load(),
		Discrepancies:     m.discrepancies.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		AvgLatencyNs:      avgLatency,
		OpenOrders:        m.openOrders.Load(),
		ActiveConnections: m.activeConnections.Load(),
		CircuitOpen:       m.circuitOpen.Load() == 1,
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.eventsProcessed.Store(0)
	m.fills.Store(0)
	m.ordersFilled.Store(0)
	m.rejections.Store(0)
	m.riskTrips.Store(0)
	m.dataGaps.Store(0)
	m.discrepancies.Store(0)
	m.errorsTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.openOrders.Store(0)
	m.activeConnections.Store(0)
	m.circuitOpen.Store(0)
}
