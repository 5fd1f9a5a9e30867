package bus

import (
	"context"
	"sync"
	"sync/atomic"
)

// Event is a message delivered to subscribed handlers. A handler may claim
// the event to mark it consumed and stop propagation to later handlers.
type Event struct {
	Name    string
	Detail  any
	claimed atomic.Bool
}

// NewEvent creates an event with the given name and detail payload.
func NewEvent(name string, detail any) *Event {
	return &Event{Name: name, Detail: detail}
}

// Claim marks the event consumed. Only the first caller gets true;
// subsequent claims are no-ops returning false.
func (e *Event) Claim() bool {
	return e.claimed.CompareAndSwap(false, true)
}

// Claimed reports whether the event has been consumed.
func (e *Event) Claimed() bool {
	return e.claimed.Load()
}

// Handler processes one dispatched event.
type Handler func(ctx context.Context, ev *Event)

// subscription holds a handler and its ordering id for a single subscriber.
type subscription struct {
	id uint64
	fn Handler
}

// Dispatcher delivers events synchronously to handlers in subscription
// order. Dispatch returns once every invoked handler has returned, so
// handlers must hand off long work (e.g. by appending a promise).
type Dispatcher struct {
	mu   sync.RWMutex
	subs map[string][]subscription
	seq  atomic.Uint64
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subs: make(map[string][]subscription),
	}
}

// Subscribe registers a handler for the named event and returns a detach
// function. Detach is idempotent.
func (d *Dispatcher) Subscribe(name string, fn Handler) func() {
	id := d.seq.Add(1)

	d.mu.Lock()
	d.subs[name] = append(d.subs[name], subscription{id: id, fn: fn})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			list := d.subs[name]
			for i, sub := range list {
				if sub.id == id {
					d.subs[name] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

// Dispatch delivers the event to subscribed handlers in order. Propagation
// stops as soon as a handler claims the event.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *Event) {
	d.mu.RLock()
	list := d.subs[ev.Name]
	snapshot := make([]subscription, len(list))
	copy(snapshot, list)
	d.mu.RUnlock()

	for _, sub := range snapshot {
		if ev.Claimed() {
			return
		}
		sub.fn(ctx, ev)
	}
}
