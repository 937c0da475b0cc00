package feed

import (
	"context"
	"errors"
	"io"
	"sync"

	"trade_engine/internal/domain"
)

// Source yields market events in order. Next returns io.EOF once the
// source is exhausted.
type Source interface {
	Next(ctx context.Context) (domain.MarketEvent, error)
}

// SliceSource replays an in-memory slice.
type SliceSource struct {
	events []domain.MarketEvent
	pos    int
}

func NewSliceSource(events []domain.MarketEvent) *SliceSource {
	return &SliceSource{events: events}
}

func (s *SliceSource) Next(ctx context.Context) (domain.MarketEvent, error) {
	if err := ctx.Err(); err != nil {
		return domain.MarketEvent{}, err
	}
	if s.pos >= len(s.events) {
		return domain.MarketEvent{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *SliceSource) Len() int {
	return len(s.events)
}

// Collect drains src into a slice.
func Collect(ctx context.Context, src Source) ([]domain.MarketEvent, error) {
	var out []domain.MarketEvent
	for {
		ev, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}

// Merge interleaves several sources by (time, seq). Each source must be
// ordered on its own; ties go to the earlier source.
func Merge(sources ...Source) Source {
	return &mergeSource{sources: sources, heads: make([]*domain.MarketEvent, len(sources))}
}

type mergeSource struct {
	sources []Source
	heads   []*domain.MarketEvent
	done    []bool
}

func (m *mergeSource) Next(ctx context.Context) (domain.MarketEvent, error) {
	if m.done == nil {
		m.done = make([]bool, len(m.sources))
	}
	best := -1
	for i, src := range m.sources {
		if m.done[i] {
			continue
		}
		if m.heads[i] == nil {
			ev, err := src.Next(ctx)
			if errors.Is(err, io.EOF) {
				m.done[i] = true
				continue
			}
			if err != nil {
				return domain.MarketEvent{}, err
			}
			m.heads[i] = &ev
		}
		if best < 0 || m.heads[i].Before(*m.heads[best]) {
			best = i
		}
	}
	if best < 0 {
		return domain.MarketEvent{}, io.EOF
	}
	ev := *m.heads[best]
	m.heads[best] = nil
	return ev, nil
}

// Subscription adapts a push-style feed (callbacks, websocket readers) to
// Source. Publish may be called from any goroutine.
type Subscription struct {
	ch   chan domain.MarketEvent
	done chan struct{}
	once sync.Once
}

func NewSubscription(buffer int) *Subscription {
	return &Subscription{
		ch:   make(chan domain.MarketEvent, buffer),
		done: make(chan struct{}),
	}
}

// Publish blocks until the event is queued, ctx ends or the subscription
// is closed. It reports whether the event was queued.
func (s *Subscription) Publish(ctx context.Context, ev domain.MarketEvent) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- ev:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Close ends the stream. Events already queued are still delivered.
func (s *Subscription) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) Next(ctx context.Context) (domain.MarketEvent, error) {
	select {
	case ev := <-s.ch:
		return ev, nil
	default:
	}
	select {
	case ev := <-s.ch:
		return ev, nil
	case <-s.done:
		select {
		case ev := <-s.ch:
			return ev, nil
		default:
			return domain.MarketEvent{}, io.EOF
		}
	case <-ctx.Done():
		return domain.MarketEvent{}, ctx.Err()
	}
}
