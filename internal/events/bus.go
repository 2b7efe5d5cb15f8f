package events

import (
	"context"
	"log"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"proctoring-engine/internal/platform/metrics"
)

const (
	// DefaultBuffer is the per-subscriber and per-sink queue size when none is given.
	DefaultBuffer = 256
	sinkTimeout   = 5 * time.Second
)

// Publisher is what mutating services depend on. Publish must not block on slow consumers.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Sink receives every published event in publish order. Failures are logged and counted.
type Sink interface {
	Deliver(ctx context.Context, e Event) error
}

// Filter restricts a subscription. An empty ExamID or empty Types matches everything.
type Filter struct {
	ExamID string
	Types  []Type
}

func (f Filter) matches(e Event) bool {
	if f.ExamID != "" && f.ExamID != e.ExamID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == e.Type {
			return true
		}
	}
	return false
}

// Subscription is a bounded stream of matching events. C is closed by Close or Bus.Close.
type Subscription struct {
	C       <-chan Event
	ch      chan Event
	filter  Filter
	bus     *Bus
	dropped atomic.Int64
	once    sync.Once
}

// Dropped returns how many events were discarded because the buffer was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

type sinkQueue struct {
	name string
	sink Sink
	ch   chan Event
}

// Bus fans events out to subscribers and sinks without ever blocking the publisher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	sinks   []*sinkQueue
	closed  bool
	wg      sync.WaitGroup
	metrics *metrics.Metrics
}

// NewBus returns an empty bus. m may be nil.
func NewBus(m *metrics.Metrics) *Bus {
	return &Bus{subs: make(map[*Subscription]struct{}), metrics: m}
}

// Subscribe registers a subscriber with a buffer of the given size (DefaultBuffer if <= 0).
func (b *Bus) Subscribe(f Filter, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)
	s := &Subscription{C: ch, ch: ch, filter: f, bus: b}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	s.once.Do(func() { close(s.ch) })
}

// AddSink attaches sink behind its own queue drained by a single goroutine, so the sink sees
// events in publish order. Sinks must be added before publishing starts. A nil sink, including a nil
// pointer held in the interface, is ignored.
func (b *Bus) AddSink(name string, sink Sink, buffer int) {
	if isNilSink(sink) {
		log.Printf("events: sink %s not configured, skipping", name)
		return
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	q := &sinkQueue{name: name, sink: sink, ch: make(chan Event, buffer)}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.sinks = append(b.sinks, q)
	b.wg.Add(1)
	b.mu.Unlock()
	go b.drain(q)
}

func isNilSink(sink Sink) bool {
	if sink == nil {
		return true
	}
	v := reflect.ValueOf(sink)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Chan, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}

func (b *Bus) drain(q *sinkQueue) {
	defer b.wg.Done()
	for e := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		if err := q.sink.Deliver(ctx, e); err != nil {
			log.Printf("events: sink %s: deliver %s for session %s: %v", q.name, e.Type, e.SessionID, err)
			b.metrics.IncSinkFailure(q.name)
		}
		cancel()
	}
}

// Publish hands e to every matching subscriber and every sink. A full buffer drops the event for that
// consumer only.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		if !s.filter.matches(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
			b.metrics.IncEventDropped(string(e.Type))
		}
	}
	for _, q := range b.sinks {
		select {
		case q.ch <- e:
		default:
			log.Printf("events: sink %s queue full, dropping %s for session %s", q.name, e.Type, e.SessionID)
			b.metrics.IncEventDropped(string(e.Type))
		}
	}
}

// Close stops accepting events, closes all subscriptions and waits for sinks to drain or ctx to end.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		s.once.Do(func() { close(s.ch) })
	}
	for _, q := range b.sinks {
		close(q.ch)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Discard is a Publisher that drops everything.
type Discard struct{}

func (Discard) Publish(context.Context, Event) {}
