// Package bus provides the process-wide event bus: an asynchronous,
// type-polymorphic pub/sub with batched delivery.
//
// Events are queued without bound and drained by a single consumer
// goroutine that dispatches batches of up to BatchSize events, waiting at
// most BatchWindow for a batch to fill. Within a batch, events are
// dispatched in enqueue order, so each handler observes events in publish
// order. Handler panics are logged and never propagate to publishers.
package bus

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// BatchSize is the maximum number of events dispatched per batch.
	BatchSize = 100

	// BatchWindow bounds how long the consumer waits for a batch to
	// fill. 16ms tracks a 60 Hz UI refresh cadence.
	BatchWindow = 16 * time.Millisecond
)

// ErrBusClosed is returned by Publish after the bus has been closed.
var ErrBusClosed = errors.New("bus: already disposed")

// Handler processes a delivered event. Handlers run sequentially on the
// consumer goroutine; long-running work should be dispatched elsewhere.
type Handler func(Event)

// Filter selects which events a subscription receives.
type Filter func(Event) bool

// Subscription is a disposable handle for a registered handler.
type Subscription struct {
	id      string
	kind    string
	filter  Filter
	handler Handler
	bus     *Bus
}

// Unsubscribe removes the subscription from the bus.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.remove(s)
}

// Bus is the event bus. The zero value is not usable; construct with New.
type Bus struct {
	mu     sync.Mutex
	queue  []Event
	subs   map[string][]*Subscription
	closed bool

	notify  chan struct{}
	closing chan struct{}
	done    chan struct{}

	logger *slog.Logger
}

// New creates a running event bus.
func New() *Bus {
	b := &Bus{
		subs:    make(map[string][]*Subscription),
		notify:  make(chan struct{}, 1),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		logger:  slog.Default().With("component", "bus"),
	}
	go b.run()
	return b
}

// Publish enqueues an event for delivery to every subscription whose kind
// matches one of the event's declared kinds. Publish never blocks on
// handlers.
func (b *Bus) Publish(ev Event) error {
	if ev == nil {
		return nil
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	b.queue = append(b.queue, ev)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

// Subscribe registers a handler for the given kind. Kind may be a concrete
// event kind ("part.updated"), a supertype ("part"), or KindAll.
func (b *Bus) Subscribe(kind string, h Handler) *Subscription {
	return b.SubscribeFiltered(kind, nil, h)
}

// SubscribeFiltered registers a handler that only receives events for
// which filter returns true. A nil filter matches everything.
func (b *Bus) SubscribeFiltered(kind string, filter Filter, h Handler) *Subscription {
	sub := &Subscription{
		id:      uuid.NewString(),
		kind:    kind,
		filter:  filter,
		handler: h,
		bus:     b,
	}
	b.mu.Lock()
	b.subs[kind] = append(b.subs[kind], sub)
	b.mu.Unlock()
	return sub
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.kind]
	for i, s := range list {
		if s.id == sub.id {
			b.subs[sub.kind] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// Close stops the bus after draining already-published events. Subsequent
// Publish calls fail with ErrBusClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	b.mu.Unlock()
	close(b.closing)
	<-b.done
}

func (b *Bus) run() {
	defer close(b.done)
	for {
		if !b.waitForWork() {
			return
		}
		b.gather()
		batch := b.take(BatchSize)
		b.dispatch(batch)
	}
}

// waitForWork blocks until the queue is non-empty. It returns false when
// the bus is closed and fully drained.
func (b *Bus) waitForWork() bool {
	for {
		b.mu.Lock()
		n := len(b.queue)
		closed := b.closed
		b.mu.Unlock()
		if n > 0 {
			return true
		}
		if closed {
			return false
		}
		select {
		case <-b.notify:
		case <-b.closing:
		}
	}
}

// gather waits up to BatchWindow for the batch to fill.
func (b *Bus) gather() {
	timer := time.NewTimer(BatchWindow)
	defer timer.Stop()
	for {
		b.mu.Lock()
		n := len(b.queue)
		closed := b.closed
		b.mu.Unlock()
		if n >= BatchSize || closed {
			return
		}
		select {
		case <-timer.C:
			return
		case <-b.notify:
		case <-b.closing:
			return
		}
	}
}

func (b *Bus) take(max int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.queue)
	if n > max {
		n = max
	}
	batch := b.queue[:n:n]
	b.queue = b.queue[n:]
	return batch
}

func (b *Bus) dispatch(batch []Event) {
	for _, ev := range batch {
		for _, sub := range b.collect(ev) {
			b.invoke(sub, ev)
		}
	}
}

// collect snapshots the subscriptions matching any of the event's kinds.
// A subscription is collected at most once per event even if it matches
// several kinds.
func (b *Bus) collect(ev Event) []*Subscription {
	kinds := ev.Kinds()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Subscription
	seen := make(map[string]struct{})
	for _, k := range kinds {
		for _, sub := range b.subs[k] {
			if _, dup := seen[sub.id]; dup {
				continue
			}
			seen[sub.id] = struct{}{}
			out = append(out, sub)
		}
	}
	return out
}

func (b *Bus) invoke(sub *Subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic",
				"kind", ev.Kinds()[0],
				"panic", r)
		}
	}()
	if sub.filter != nil && !sub.filter(ev) {
		return
	}
	sub.handler(ev)
}
