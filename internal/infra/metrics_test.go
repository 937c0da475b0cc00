package infra

import (
	"testing"
)

func TestMetrics_RecordEvent(t *testing.T) {
	m := &Metrics{}

	m.RecordEvent(1000)
	m.RecordEvent(2000)
	m.RecordEvent(3000)

	snap := m.Snapshot()

	if snap.EventsProcessed != 3 {
		t.Errorf("Expected 3 events, got %d", snap.EventsProcessed)
	}

	// Average latency: (1000 + 2000 + 3000) / 3 = 2000
	if snap.AvgLatencyNs != 2000 {
		t.Errorf("Expected avg latency 2000, got %d", snap.AvgLatencyNs)
	}
}

func TestMetrics_Connections(t *testing.T) {
	m := &Metrics{}

	m.IncrementConnections()
	m.IncrementConnections()
	m.IncrementConnections()

	snap := m.Snapshot()
	if snap.ActiveConnections != 3 {
		t.Errorf("Expected 3 connections, got %d", snap.ActiveConnections)
	}

	m.DecrementConnections()
	snap = m.Snapshot()
	if snap.ActiveConnections != 2 {
		t.Errorf("Expected 2 connections, got %d", snap.ActiveConnections)
	}
}

func TestMetrics_CircuitState(t *testing.T) {
	m := &Metrics{}

	snap := m.Snapshot()
	if snap.CircuitOpen {
		t.Error("Expected circuit closed initially")
	}

	m.SetCircuitState(true)
	snap = m.Snapshot()
	if !snap.CircuitOpen {
		t.Error("Expected circuit open")
	}

	m.SetCircuitState(false)
	snap = m.Snapshot()
	if snap.CircuitOpen {
		t.Error("Expected circuit closed")
	}
}

func TestMetrics_Reset(t *testing.T) {
	m := &Metrics{}

	m.RecordEvent(1000)
	m.RecordError()
	m.IncrementConnections()

	m.Reset()
	snap := m.Snapshot()

	if snap.EventsProcessed != 0 {
		t.Error("Expected 0 events after reset")
	}
	if snap.ErrorsTotal != 0 {
		t.Error("Expected 0 errors after reset")
	}
	if snap.ActiveConnections != 0 {
		t.Error("Expected 0 connections after reset")
	}
}

func TestMetrics_TradingCounters(t *testing.T) {
	m := &Metrics{}

	m.RecordFill()
	m.RecordFill()
	m.RecordOrderFilled()
	m.RecordRejection()
	m.RecordRiskTrip()
	m.RecordDataGap()
	m.RecordDiscrepancy()
	m.SetOpenOrders(4)

	snap := m.Snapshot()
	if snap.Fills != 2 || snap.OrdersFilled != 1 {
		t.Errorf("Expected 2 fills and 1 filled order, got %d/%d", snap.Fills, snap.OrdersFilled)
	}
	if snap.Rejections != 1 || snap.RiskTrips != 1 || snap.DataGaps != 1 || snap.Discrepancies != 1 {
		t.Errorf("Unexpected counters: %+v", snap)
	}
	if snap.OpenOrders != 4 {
		t.Errorf("Expected 4 open orders, got %d", snap.OpenOrders)
	}
}
