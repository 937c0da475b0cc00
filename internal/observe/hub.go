package observe

import (
	"time"

	"trade_engine/internal/domain"

	"github.com/asaskevich/EventBus"
	"github.com/shopspring/decimal"
)

// Topics published by the Hub.
const (
	TopicRejected    = "engine:rejected"
	TopicFilled      = "engine:filled"
	TopicRiskTripped = "engine:risk_tripped"
	TopicDiscrepancy = "engine:discrepancy"
	TopicFinished    = "engine:finished"
)

// Observer receives what the event loop reports. Calls happen on the loop
// goroutine and must not block.
type Observer interface {
	Rejected(r domain.Rejection)
	Filled(f domain.Fill)
	RiskTripped(t RiskTrip)
	Discrepancy(m domain.ReconciliationMismatch)
	Finished(s Summary)
}

type RiskTrip struct {
	At       time.Time
	Drawdown decimal.Decimal
	Limit    decimal.Decimal
}

// Summary is published once per run.
type Summary struct {
	RunID       string
	Mode        string
	Events      uint64
	Fills       int
	Rejections  int
	FinalEquity decimal.Decimal
	Halted      bool
	HaltReason  string
}

// Hub fans observations out over an EventBus so that any number of
// subscribers can listen without the loop knowing about them.
type Hub struct {
	bus EventBus.Bus
}

func NewHub() *Hub {
	return &Hub{bus: EventBus.New()}
}

func (h *Hub) Rejected(r domain.Rejection) {
	h.bus.Publish(TopicRejected, r)
}

func (h *Hub) Filled(f domain.Fill) {
	h.bus.Publish(TopicFilled, f)
}

func (h *Hub) RiskTripped(t RiskTrip) {
	h.bus.Publish(TopicRiskTripped, t)
}

func (h *Hub) Discrepancy(m domain.ReconciliationMismatch) {
	h.bus.Publish(TopicDiscrepancy, m)
}

func (h *Hub) Finished(s Summary) {
	h.bus.Publish(TopicFinished, s)
}

func (h *Hub) OnRejected(fn func(domain.Rejection)) error {
	return h.bus.Subscribe(TopicRejected, fn)
}

func (h *Hub) OnFilled(fn func(domain.Fill)) error {
	return h.bus.Subscribe(TopicFilled, fn)
}

func (h *Hub) OnRiskTripped(fn func(RiskTrip)) error {
	return h.bus.Subscribe(TopicRiskTripped, fn)
}

func (h *Hub) OnDiscrepancy(fn func(domain.ReconciliationMismatch)) error {
	return h.bus.Subscribe(TopicDiscrepancy, fn)
}

func (h *Hub) OnFinished(fn func(Summary)) error {
	return h.bus.Subscribe(TopicFinished, fn)
}

// SubscribeAsync registers fn on topic in its own goroutine. Call
// WaitAsync before reading what it collected.
func (h *Hub) SubscribeAsync(topic string, fn interface{}) error {
	return h.bus.SubscribeAsync(topic, fn, false)
}

func (h *Hub) WaitAsync() {
	h.bus.WaitAsync()
}

// Nop ignores everything.
type Nop struct{}

func (Nop) Rejected(domain.Rejection)                 {}
func (Nop) Filled(domain.Fill)                        {}
func (Nop) RiskTripped(RiskTrip)                      {}
func (Nop) Discrepancy(domain.ReconciliationMismatch) {}
func (Nop) Finished(Summary)                          {}
