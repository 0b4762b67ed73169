package simplecollab

import (
	"context"
)

// Handler consumes one event. Errors are caught and logged by the bus; they
// never reach the publisher and never stop the remaining handlers.
type Handler func(ctx context.Context, evt Event, dctx *DispatchContext) error

// Bus defines the typed publish/subscribe contract. Two backends are
// provided: bus/memory for in-process dispatch and bus/redis for a durable
// Redis-Streams log with in-process fallback.
type Bus interface {
	// Publish delivers evt to every handler subscribed to its name.
	// Fire-and-forget: handler failures are logged, not returned.
	Publish(ctx context.Context, evt Event, dctx *DispatchContext)

	// Subscribe registers a handler for one event name and returns a
	// subscription id. A subscription only ever observes events carrying
	// the name it was bound to.
	Subscribe(eventName string, h Handler) string

	// Unsubscribe removes exactly one registration. Removing an unknown
	// or already-removed id is a no-op.
	Unsubscribe(id string)
}

// Sender delivers wire messages to one live client connection. The
// transport implementation owns buffering; Send must not block the caller.
type Sender interface {
	// Send enqueues msg for delivery. It reports ErrConnectionClosed when
	// the connection is going away and ErrSlowConnection when the
	// outbound buffer overflowed.
	Send(msg interface{}) error
}
