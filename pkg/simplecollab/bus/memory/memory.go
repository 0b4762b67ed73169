// Package memory provides the in-process event bus backend for
// single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/simple-collab/pkg/simplecollab"
)

// Bus is an in-process dispatcher. Handlers for an event name run in
// insertion order, synchronously within the publish call, so events
// published by one caller are observed in publish order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	byID     map[string]string // subscription id -> event name
	logger   *slog.Logger
}

type subscription struct {
	id string
	fn simplecollab.Handler
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report handler failures.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// New creates an empty in-process bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		handlers: make(map[string][]subscription),
		byID:     make(map[string]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Subscribe registers h for eventName and returns the subscription id.
func (b *Bus) Subscribe(eventName string, h simplecollab.Handler) string {
	id := uuid.NewString()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventName] = append(b.handlers[eventName], subscription{id: id, fn: h})
	b.byID[id] = eventName
	return id
}

// Unsubscribe removes exactly one registration. Unknown ids are a no-op.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	name, ok := b.byID[id]
	if !ok {
		return
	}
	delete(b.byID, id)
	subs := b.handlers[name]
	for i, sub := range subs {
		if sub.id == id {
			b.handlers[name] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[name]) == 0 {
		delete(b.handlers, name)
	}
}

// Publish delivers evt to every handler subscribed to its name. Each
// handler's error (or panic) is caught and logged with the event name;
// remaining handlers still run. Nothing propagates to the publisher.
func (b *Bus) Publish(ctx context.Context, evt simplecollab.Event, dctx *simplecollab.DispatchContext) {
	name := evt.EventName()

	b.mu.RLock()
	subs := make([]subscription, len(b.handlers[name]))
	copy(subs, b.handlers[name])
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := b.invoke(ctx, sub, evt, dctx); err != nil {
			dctx.Log().Error("event handler failed",
				"event", name, "subscription", sub.id,
				"user_id", dctx.User(), "tenant_id", dctx.Tenant(), "err", err)
		}
	}
}

func (b *Bus) invoke(ctx context.Context, sub subscription, evt simplecollab.Event, dctx *simplecollab.DispatchContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return sub.fn(ctx, evt, dctx)
}
