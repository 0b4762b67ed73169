// Package redis provides a durable-log event bus backend on Redis Streams
// for multi-instance deployments. Every publish is appended to one stream
// best-effort and always dispatched to in-process handlers, so local
// consumers keep functioning during a broker outage.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/tendant/simple-collab/pkg/simplecollab"
	"github.com/tendant/simple-collab/pkg/simplecollab/bus/memory"
)

// StreamClient is the slice of go-redis used by the bus. *goredis.Client
// and *goredis.ClusterClient both satisfy it.
type StreamClient interface {
	XAdd(ctx context.Context, a *goredis.XAddArgs) *goredis.StringCmd
	XRead(ctx context.Context, a *goredis.XReadArgs) *goredis.XStreamSliceCmd
}

// Bus appends published events to a Redis stream and re-dispatches events
// appended by other instances to the local in-process handlers.
//
// Appends run on a single worker goroutine fed by a bounded queue, so one
// publisher's events keep their order on the log while Publish itself never
// blocks on broker I/O. Cross-instance ordering is not guaranteed.
type Bus struct {
	client StreamClient
	stream string
	origin string
	local  *memory.Bus
	logger *slog.Logger

	queue          chan envelope
	closeOnce      sync.Once
	publishTimeout time.Duration
	blockTimeout   time.Duration
	maxLen         int64
}

var (
	errQueueFull    = errors.New("append queue full")
	errUnknownEvent = errors.New("unknown event name")
)

type envelope struct {
	Origin   string          `json:"origin"`
	Name     string          `json:"name"`
	Payload  json.RawMessage `json:"payload"`
	UserID   uuid.UUID       `json:"userId,omitempty"`
	TenantID uuid.UUID       `json:"tenantId,omitempty"`
	At       time.Time       `json:"at"`
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

// WithQueueSize bounds the append queue. When the broker falls behind past
// this depth, further appends are dropped with a warning.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queue = make(chan envelope, n)
		}
	}
}

// WithPublishTimeout bounds each XADD call.
func WithPublishTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.publishTimeout = d
		}
	}
}

// WithMaxLen caps the stream length (approximate trimming).
func WithMaxLen(n int64) Option {
	return func(b *Bus) {
		if n > 0 {
			b.maxLen = n
		}
	}
}

// WithOrigin overrides the generated instance id. Intended for tests.
func WithOrigin(origin string) Option {
	return func(b *Bus) { b.origin = origin }
}

// New creates a stream-backed bus and starts its append worker. Close stops
// the worker; Run starts the consumer side.
func New(client StreamClient, stream string, opts ...Option) *Bus {
	b := &Bus{
		client:         client,
		stream:         stream,
		origin:         uuid.NewString(),
		local:          memory.New(),
		queue:          make(chan envelope, 256),
		publishTimeout: 2 * time.Second,
		blockTimeout:   5 * time.Second,
		maxLen:         10_000,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	go b.appendLoop()
	return b
}

// Subscribe registers a handler on the in-process dispatch path.
func (b *Bus) Subscribe(eventName string, h simplecollab.Handler) string {
	return b.local.Subscribe(eventName, h)
}

// Unsubscribe removes one registration; unknown ids are a no-op.
func (b *Bus) Unsubscribe(id string) {
	b.local.Unsubscribe(id)
}

// Publish dispatches evt to in-process handlers and queues a best-effort
// append to the stream. In-process delivery proceeds regardless of
// durable-log latency or failure.
func (b *Bus) Publish(ctx context.Context, evt simplecollab.Event, dctx *simplecollab.DispatchContext) {
	b.local.Publish(ctx, evt, dctx)

	payload, err := json.Marshal(evt)
	if err != nil {
		b.logger.Warn("event not serializable, skipping durable log", "event", evt.EventName(), "err", err)
		return
	}
	env := envelope{
		Origin:   b.origin,
		Name:     evt.EventName(),
		Payload:  payload,
		UserID:   dctx.User(),
		TenantID: dctx.Tenant(),
		At:       time.Now().UTC(),
	}
	select {
	case b.queue <- env:
	default:
		perr := &simplecollab.PublishError{Stream: b.stream, Event: env.Name, Err: errQueueFull}
		b.logger.Warn("dropping durable-log write", "err", perr)
	}
}

// Close stops the append worker. Queued appends are flushed first.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.queue) })
}

func (b *Bus) appendLoop() {
	for env := range b.queue {
		b.appendOnce(env)
	}
}

func (b *Bus) appendOnce(env envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		b.logger.Warn("envelope marshal failed", "event", env.Name, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.publishTimeout)
	defer cancel()
	err = b.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: b.stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]interface{}{"envelope": string(raw)},
	}).Err()
	if err != nil {
		perr := &simplecollab.PublishError{Stream: b.stream, Event: env.Name, Err: err}
		b.logger.Warn("durable-log append failed, local delivery already done", "err", perr)
	}
}

// Run tails the stream and re-dispatches envelopes appended by other
// instances to the local handlers. It returns when ctx is cancelled.
func (b *Bus) Run(ctx context.Context) {
	lastID := "$"
	for {
		if ctx.Err() != nil {
			return
		}
		res, err := b.client.XRead(ctx, &goredis.XReadArgs{
			Streams: []string{b.stream, lastID},
			Count:   64,
			Block:   b.blockTimeout,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if err == goredis.Nil {
				continue
			}
			b.logger.Warn("stream read failed", "stream", b.stream, "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		for _, stream := range res {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				raw, _ := msg.Values["envelope"].(string)
				if raw == "" {
					continue
				}
				b.dispatchRemote(ctx, raw)
			}
		}
	}
}

func (b *Bus) dispatchRemote(ctx context.Context, raw string) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		b.logger.Warn("undecodable stream envelope", "stream", b.stream, "err", err)
		return
	}
	if env.Origin == b.origin {
		// Already delivered locally at publish time.
		return
	}
	evt, err := decodeEvent(env.Name, env.Payload)
	if err != nil {
		b.logger.Warn("undecodable event payload", "event", env.Name, "err", err)
		return
	}
	b.local.Publish(ctx, evt, &simplecollab.DispatchContext{
		Logger:   b.logger,
		UserID:   env.UserID,
		TenantID: env.TenantID,
	})
}

func decodeEvent(name string, payload json.RawMessage) (simplecollab.Event, error) {
	switch {
	case strings.HasPrefix(name, "content."):
		var evt simplecollab.ContentEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, err
		}
		evt.Name = name
		return evt, nil
	case strings.HasPrefix(name, "editing."):
		var evt simplecollab.EditingEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, err
		}
		evt.Name = name
		return evt, nil
	default:
		return nil, errUnknownEvent
	}
}
