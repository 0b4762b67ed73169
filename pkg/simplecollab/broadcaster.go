package simplecollab

import (
	"context"
	"log/slog"
)

// Broadcaster bridges domain events to wire messages. It subscribes once,
// at startup, to each event name it understands and fans every received
// event out to the connections subscribed to the affected channel,
// respecting tenant isolation.
type Broadcaster struct {
	bus    Bus
	hub    *Hub
	logger *slog.Logger
	subs   []string
}

// NewBroadcaster creates a broadcaster over the given bus and hub. A nil
// logger falls back to slog.Default.
func NewBroadcaster(bus Bus, hub *Hub, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{bus: bus, hub: hub, logger: logger}
}

// Start registers the broadcaster's event subscriptions. Call Stop to
// release them at shutdown.
func (b *Broadcaster) Start() {
	for _, name := range []string{
		EventContentCreated,
		EventContentUpdated,
		EventContentDeleted,
		EventContentPublished,
	} {
		b.subs = append(b.subs, b.bus.Subscribe(name, b.handleContent))
	}
	for _, name := range []string{EventEditingStarted, EventEditingStopped} {
		b.subs = append(b.subs, b.bus.Subscribe(name, b.handleEditing))
	}
}

// Stop removes the broadcaster's subscriptions.
func (b *Broadcaster) Stop() {
	for _, id := range b.subs {
		b.bus.Unsubscribe(id)
	}
	b.subs = nil
}

func (b *Broadcaster) handleContent(ctx context.Context, evt Event, dctx *DispatchContext) error {
	ce, ok := evt.(ContentEvent)
	if !ok {
		b.logger.Warn("unexpected payload for content event", "event", evt.EventName())
		return nil
	}

	msg := NewContentChangeMessage(ce)
	channel := ChannelForContentType(ce.ContentType)
	sent := b.hub.BroadcastToChannel(channel, dctx.Tenant(), msg)
	dctx.Log().Debug("content event dispatched",
		"event", ce.Name, "entry_id", ce.EntryID, "channel", channel, "sent", sent)
	return nil
}

func (b *Broadcaster) handleEditing(ctx context.Context, evt Event, dctx *DispatchContext) error {
	ee, ok := evt.(EditingEvent)
	if !ok {
		b.logger.Warn("unexpected payload for editing event", "event", evt.EventName())
		return nil
	}
	b.hub.HandleEditingEvent(ee, dctx.Tenant())
	return nil
}
