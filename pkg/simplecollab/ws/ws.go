// Package ws is the WebSocket transport for the collaboration hub. It owns
// upgrading HTTP requests, authenticating them into a connection Identity,
// and pumping frames between the socket and the hub.
package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tendant/simple-collab/pkg/simplecollab"
)

// IdentityFunc produces the connection Identity for an upgraded request,
// typically from verified JWT claims. An error rejects the handshake.
type IdentityFunc func(r *http.Request) (simplecollab.Identity, error)

// Handler upgrades requests and registers the resulting connections with
// the hub.
type Handler struct {
	hub       *simplecollab.Hub
	identify  IdentityFunc
	logger    *slog.Logger
	queueSize int
	sendWait  time.Duration
	upgrader  websocket.Upgrader
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the transport logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithQueueSize bounds each connection's outbound buffer.
func WithQueueSize(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithSendTimeout bounds each write to the socket. A send exceeding it is a
// failed send for that connection only.
func WithSendTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.sendWait = d
		}
	}
}

// WithCheckOrigin replaces the upgrader's origin check.
func WithCheckOrigin(check func(r *http.Request) bool) Option {
	return func(h *Handler) { h.upgrader.CheckOrigin = check }
}

// NewHandler creates the transport handler for hub. identify must not be
// nil.
func NewHandler(hub *simplecollab.Hub, identify IdentityFunc, opts ...Option) *Handler {
	h := &Handler{
		hub:       hub,
		identify:  identify,
		queueSize: simplecollab.DefaultOutboundBuffer,
		sendWait:  simplecollab.DefaultSendTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// ServeHTTP authenticates, upgrades, registers the connection, and blocks
// in the read loop until the client goes away. Disconnect cascades into
// hub removal and presence cleanup.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.identify(r)
	if err != nil {
		h.logger.Debug("handshake rejected", "err", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	conn := newConn(sock, h.queueSize, h.sendWait, h.logger)
	go conn.writeLoop()

	info := h.hub.Register(conn, identity)
	conn.readLoop(h.hub, info.ID)

	h.hub.Remove(info.ID)
	conn.close()
}
