package simplecollab

import (
	"log/slog"
	"time"
)

// Defaults for the hub's configuration surface.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultStaleMaxAge       = 5 * time.Minute
	DefaultReapPeriod        = 60 * time.Second
	DefaultSendTimeout       = 5 * time.Second
	DefaultOutboundBuffer    = 100
)

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithLogger sets the hub's structured logger.
func WithLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithBus connects the hub to an event bus so that edit-start/stop commands
// publish editing.* events for other consumers and instances.
func WithBus(bus Bus) HubOption {
	return func(h *Hub) {
		h.bus = bus
	}
}

// WithHeartbeatInterval sets the interval advertised to clients in the
// connected acknowledgment.
func WithHeartbeatInterval(interval time.Duration) HubOption {
	return func(h *Hub) {
		if interval > 0 {
			h.heartbeatInterval = interval
		}
	}
}

// WithStaleMaxAge sets how long a connection may stay silent before the
// reaper removes it.
func WithStaleMaxAge(maxAge time.Duration) HubOption {
	return func(h *Hub) {
		if maxAge > 0 {
			h.staleMaxAge = maxAge
		}
	}
}

// WithReapPeriod sets how often Run sweeps for stale connections.
func WithReapPeriod(period time.Duration) HubOption {
	return func(h *Hub) {
		if period > 0 {
			h.reapPeriod = period
		}
	}
}

// WithFeatures sets the feature flags advertised in the connected
// acknowledgment.
func WithFeatures(features ...string) HubOption {
	return func(h *Hub) {
		h.features = features
	}
}

// WithPresenceTracker replaces the hub's presence tracker.
func WithPresenceTracker(tracker *PresenceTracker) HubOption {
	return func(h *Hub) {
		if tracker != nil {
			h.presence = tracker
		}
	}
}
