// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

// Package event provides publish/subscribe dispatch of typed events to
// handlers with thread-affinity hints and non-owning handler references.
package event

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"time"
	"weak"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/quillbooks/pluginhost/internal/observability"
)

// Affinity hints which executor a handler runs on.
type Affinity uint8

const (
	// Background dispatches through the bus's shared worker pool.
	Background Affinity = iota
	// UI dispatches through the injected UI executor, falling back to
	// the background pool when none is configured.
	UI
)

func (a Affinity) String() string {
	switch a {
	case Background:
		return "background"
	case UI:
		return "ui"
	default:
		return "unknown"
	}
}

// Envelope wraps a published payload with its identity and publish time.
type Envelope struct {
	ID      ulid.ULID
	Time    time.Time
	Payload any
}

// Handler receives events. Implementations subscribed via Subscribe are
// held through a weak reference: when the handler object becomes
// unreachable, delivery stops without an explicit unsubscribe.
type Handler interface {
	HandleEvent(ctx context.Context, e Envelope)
}

// HandlerFunc adapts a function to Handler. Functions cannot be weakly
// referenced, so SubscribeFunc pins them until cancelled.
type HandlerFunc func(ctx context.Context, e Envelope)

// HandleEvent calls fn.
func (fn HandlerFunc) HandleEvent(ctx context.Context, e Envelope) { fn(ctx, e) }

// Executor runs a task on a caller-chosen thread, typically the UI loop.
type Executor func(task func())

// Subscription is the cancellation handle returned by subscribe calls.
type Subscription struct {
	id        ulid.ULID
	eventType reflect.Type
	affinity  Affinity
	owner     string

	mu      sync.Mutex
	active  bool
	resolve func() (Handler, bool)
}

// Cancel deactivates the subscription. Idempotent; in-flight dispatches
// already handed to an executor are not retroactively cancelled.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.resolve = nil
}

// live returns the handler if the subscription is active and the
// handler is still reachable. A dead handler deactivates the
// subscription as an implicit unsubscribe.
func (s *Subscription) live() (Handler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return nil, false
	}
	h, ok := s.resolve()
	if !ok {
		s.active = false
		s.resolve = nil
		return nil, false
	}
	return h, true
}

// Option configures a Bus.
type Option func(*Bus)

// WithUIExecutor injects the executor UI-affinity handlers dispatch on.
func WithUIExecutor(exec Executor) Option {
	return func(b *Bus) { b.uiExec = exec }
}

// WithWorkers sets the background pool size.
func WithWorkers(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.workers = n
		}
	}
}

// Bus dispatches published events to subscribed handlers. Publish hands
// work to executors and returns; it never waits for handlers to finish.
type Bus struct {
	mu      sync.RWMutex
	subs    map[reflect.Type][]*Subscription
	byOwner map[string][]*Subscription
	closed  bool

	workers int
	jobs    chan func()
	quit    chan struct{}
	wg      sync.WaitGroup
	uiExec  Executor
}

// NewBus creates a bus and starts its background worker pool.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:    make(map[reflect.Type][]*Subscription),
		byOwner: make(map[string][]*Subscription),
		workers: 4,
	}
	for _, opt := range opts {
		opt(b)
	}

	b.jobs = make(chan func(), 256)
	b.quit = make(chan struct{})
	for range b.workers {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for {
				select {
				case job := <-b.jobs:
					job()
				case <-b.quit:
					// Drain work queued before the close.
					for {
						select {
						case job := <-b.jobs:
							job()
						default:
							return
						}
					}
				}
			}
		}()
	}
	return b
}

// Subscribe registers handler for events whose concrete payload type is
// eventType. The bus keeps only a weak reference: once the handler
// object is garbage collected, delivery stops on the next publish.
// The handler's pointer type must implement Handler.
func Subscribe[H any](b *Bus, eventType reflect.Type, handler *H, affinity Affinity, owner string) (*Subscription, error) {
	if handler == nil {
		return nil, oops.Code("EVENT_HANDLER_NIL").Errorf("handler is nil")
	}
	if _, ok := any(handler).(Handler); !ok {
		return nil, oops.Code("EVENT_HANDLER_INVALID").
			Errorf("%T does not implement event.Handler", handler)
	}

	ref := weak.Make(handler)
	resolve := func() (Handler, bool) {
		p := ref.Value()
		if p == nil {
			return nil, false
		}
		return any(p).(Handler), true
	}
	return b.add(eventType, resolve, affinity, owner), nil
}

// SubscribeFunc registers a handler function. The subscription pins the
// function for its whole lifetime; cancel it explicitly or through
// UnsubscribeAll on the owning plugin.
func (b *Bus) SubscribeFunc(eventType reflect.Type, fn HandlerFunc, affinity Affinity, owner string) (*Subscription, error) {
	if fn == nil {
		return nil, oops.Code("EVENT_HANDLER_NIL").Errorf("handler is nil")
	}
	resolve := func() (Handler, bool) { return fn, true }
	return b.add(eventType, resolve, affinity, owner), nil
}

func (b *Bus) add(eventType reflect.Type, resolve func() (Handler, bool), affinity Affinity, owner string) *Subscription {
	sub := &Subscription{
		id:        ulid.Make(),
		eventType: eventType,
		affinity:  affinity,
		owner:     owner,
		active:    true,
		resolve:   resolve,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], sub)
	if owner != "" {
		b.byOwner[owner] = append(b.byOwner[owner], sub)
	}
	return sub
}

// Publish delivers payload to every live subscription for its concrete
// type. Delivery order across handlers follows iteration order over the
// subscription table, not execution completion order. Publishing after
// Close is a logged no-op.
func (b *Bus) Publish(ctx context.Context, payload any) {
	if payload == nil {
		return
	}
	eventType := reflect.TypeOf(payload)

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		slog.Debug("event dropped: bus is closed", "event_type", eventType.String())
		return
	}
	snapshot := make([]*Subscription, len(b.subs[eventType]))
	copy(snapshot, b.subs[eventType])
	uiExec := b.uiExec
	b.mu.RUnlock()

	env := Envelope{
		ID:      ulid.Make(),
		Time:    time.Now(),
		Payload: payload,
	}
	observability.RecordEventPublished(eventType.String())

	for _, sub := range snapshot {
		handler, ok := sub.live()
		if !ok {
			continue
		}

		task := func() {
			defer func() {
				// A panicking handler must not prevent delivery to the
				// remaining handlers of this event.
				if r := recover(); r != nil {
					slog.Error("event handler panicked",
						"event_id", env.ID.String(),
						"event_type", eventType.String(),
						"owner", sub.owner,
						"panic", r)
				}
			}()
			handler.HandleEvent(ctx, env)
		}

		if sub.affinity == UI && uiExec != nil {
			uiExec(task)
			continue
		}
		select {
		case b.jobs <- task:
		default:
			// Hand-off must not block the publisher. When the pool's
			// buffer is full the task spills to its own goroutine so
			// the handler still sees the event. Like UI-executor
			// tasks, spilled tasks are not awaited by Close.
			go task()
			slog.Debug("worker queue full, running handler in spill goroutine",
				"event_id", env.ID.String(),
				"event_type", eventType.String(),
				"owner", sub.owner)
		}
	}
}

// UnsubscribeAll cancels and removes every subscription registered
// under the owner id. Used when a plugin is disabled.
func (b *Bus) UnsubscribeAll(owner string) int {
	if owner == "" {
		return 0
	}

	b.mu.Lock()
	owned := b.byOwner[owner]
	delete(b.byOwner, owner)
	for eventType, subs := range b.subs {
		kept := subs[:0]
		for _, sub := range subs {
			if sub.owner == owner {
				continue
			}
			kept = append(kept, sub)
		}
		if len(kept) == 0 {
			delete(b.subs, eventType)
			continue
		}
		b.subs[eventType] = kept
	}
	b.mu.Unlock()

	for _, sub := range owned {
		sub.Cancel()
	}
	return len(owned)
}

// SubscriptionCount counts the active, live subscriptions for a type.
func (b *Bus) SubscriptionCount(eventType reflect.Type) int {
	b.mu.RLock()
	snapshot := make([]*Subscription, len(b.subs[eventType]))
	copy(snapshot, b.subs[eventType])
	b.mu.RUnlock()

	count := 0
	for _, sub := range snapshot {
		if _, ok := sub.live(); ok {
			count++
		}
	}
	return count
}

// Close stops the worker pool and marks the bus closed. Idempotent.
// Blocks until queued background work drains.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.quit)
	b.wg.Wait()
}
