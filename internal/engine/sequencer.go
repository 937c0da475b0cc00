package engine

import (
	"strconv"
	"sync"

	"trade_engine/internal/domain"
	"trade_engine/internal/event"

	"github.com/tidwall/btree"
)

// Sequencer enforces contiguous source sequence numbers per instrument.
// It is optional: many historical sources number rows globally.
type Sequencer struct {
	enabled bool
	next    map[string]uint64
}

func NewSequencer(enabled bool) *Sequencer {
	return &Sequencer{enabled: enabled, next: make(map[string]uint64)}
}

// Check reports a DataGapError if ev does not carry the expected sequence
// number for its instrument. The first event of an instrument sets the base.
func (s *Sequencer) Check(ev domain.MarketEvent) error {
	if !s.enabled {
		return nil
	}
	want, ok := s.next[ev.Instrument]
	if ok && ev.Seq != want {
		return &domain.DataGapError{
			Instrument: ev.Instrument,
			Reason:     "sequence gap",
			Expected:   strconv.FormatUint(want, 10),
			Got:        strconv.FormatUint(ev.Seq, 10),
		}
	}
	return nil
}

// Accept records ev as processed.
func (s *Sequencer) Accept(ev domain.MarketEvent) {
	if s.enabled {
		s.next[ev.Instrument] = ev.Seq + 1
	}
}

type sequenced interface {
	SetSeq(seq uint64)
}

// Queue is the live ordering queue. Producers (market pump, broker notice
// pump) push from their own goroutines; the event loop is the only
// consumer. Items come out in (timestamp, arrival) order.
type Queue struct {
	mu      sync.Mutex
	tree    *btree.BTreeG[event.Event]
	arrival uint64
	ready   chan struct{}
}

func NewQueue() *Queue {
	return &Queue{
		tree: btree.NewBTreeG(func(a, b event.Event) bool {
			if !a.GetTime().Equal(b.GetTime()) {
				return a.GetTime().Before(b.GetTime())
			}
			return a.GetSeq() < b.GetSeq()
		}),
		ready: make(chan struct{}, 1),
	}
}

// Push stamps ev with the next arrival sequence and queues it.
func (q *Queue) Push(ev event.Event) {
	q.mu.Lock()
	q.arrival++
	if s, ok := ev.(sequenced); ok {
		s.SetSeq(q.arrival)
	}
	q.tree.Set(ev)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// TryPop removes the first item, if any.
func (q *Queue) TryPop() (event.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tree.PopMin()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tree.Len()
}

// Ready is signalled after a Push. A signal may cover several items.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}
