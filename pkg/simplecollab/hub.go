package simplecollab

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"
)

// Hub is the single authoritative owner of the live-connection set: every
// mutation to connection identities, the subscription table, and presence
// passes through it, so no two commands for the same connection can race.
//
// Sends never happen while the hub lock is held; broadcast targets are
// snapshotted first, so a slow client cannot stall the coordinator.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*connection
	channels map[string]map[string]struct{} // channel name -> connection ids

	presence *PresenceTracker
	bus      Bus
	logger   *slog.Logger

	heartbeatInterval time.Duration
	staleMaxAge       time.Duration
	reapPeriod        time.Duration
	features          []string
}

type connection struct {
	info   ConnectionInfo
	sender Sender
	subs   map[string]struct{}
}

// NewHub creates a hub with the given options applied on top of defaults
// (30s heartbeat, 5m stale max age, 60s reap period).
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		conns:             make(map[string]*connection),
		channels:          make(map[string]map[string]struct{}),
		presence:          NewPresenceTracker(),
		heartbeatInterval: DefaultHeartbeatInterval,
		staleMaxAge:       DefaultStaleMaxAge,
		reapPeriod:        DefaultReapPeriod,
		features:          []string{"presence", "conflict-detection"},
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

// Register adds a connection under a freshly generated connection id,
// initializes empty subscription state, and sends the "connected"
// acknowledgment carrying the heartbeat interval and feature flags.
func (h *Hub) Register(sender Sender, identity Identity) ConnectionInfo {
	now := time.Now().UTC()
	info := ConnectionInfo{
		ID:          uuid.NewString(),
		Identity:    identity,
		ConnectedAt: now,
		LastSeen:    now,
	}

	h.mu.Lock()
	h.conns[info.ID] = &connection{
		info:   info,
		sender: sender,
		subs:   make(map[string]struct{}),
	}
	h.mu.Unlock()

	h.send(info.ID, sender, ConnectedMessage{
		Type:             MessageConnected,
		ConnectionID:     info.ID,
		HeartbeatSeconds: int(h.heartbeatInterval / time.Second),
		Features:         h.features,
	})
	h.logger.Debug("connection registered",
		"conn_id", info.ID, "session_id", identity.SessionID, "user_id", identity.UserID)
	return info
}

// Remove drops a connection, removes it from every subscription set, and
// releases any edit claims it held, broadcasting the resulting presence
// changes. Removing an unknown id is a no-op.
func (h *Hub) Remove(connID string) {
	h.mu.Lock()
	c, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, connID)
	for channel := range c.subs {
		h.dropFromChannel(channel, connID)
	}
	h.mu.Unlock()

	for _, change := range h.presence.ReleaseSession(c.info.SessionID) {
		h.BroadcastToChannel(ChannelForContentType(change.ContentType), c.info.TenantID, NewPresenceMessage(change))
	}
	h.logger.Debug("connection removed", "conn_id", connID, "session_id", c.info.SessionID)
}

// HandleCommand processes one raw inbound frame for a connection. Commands
// for ids no longer in the registry are dropped silently; the connection
// has already been removed, e.g. concurrently by the reaper.
func (h *Hub) HandleCommand(connID string, raw []byte) {
	h.mu.Lock()
	c, ok := h.conns[connID]
	if ok {
		c.info.LastSeen = time.Now().UTC()
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		h.logger.Debug("malformed frame", "conn_id", connID, "err", err)
		h.send(connID, c.sender, NewErrorMessage(CodeInvalidMessage, ErrInvalidFrame.Error()))
		return
	}

	switch cmd.Action {
	case ActionSubscribe:
		if cmd.ContentType == "" {
			h.send(connID, c.sender, NewErrorMessage(CodeMissingContentType, ErrMissingContentType.Error()))
			return
		}
		if !h.subscribe(c, cmd.ContentType) {
			return
		}
		h.send(connID, c.sender, SubscriptionMessage{Type: MessageSubscribed, ContentType: cmd.ContentType})

	case ActionUnsubscribe:
		if cmd.ContentType == "" {
			h.send(connID, c.sender, NewErrorMessage(CodeMissingContentType, ErrMissingContentType.Error()))
			return
		}
		h.unsubscribe(c, cmd.ContentType)
		h.send(connID, c.sender, SubscriptionMessage{Type: MessageUnsubscribed, ContentType: cmd.ContentType})

	case ActionHeartbeat:
		h.send(connID, c.sender, HeartbeatMessage{Type: MessageHeartbeat})

	case ActionEditStart:
		if cmd.ContentType == "" {
			h.send(connID, c.sender, NewErrorMessage(CodeMissingContentType, ErrMissingContentType.Error()))
			return
		}
		if cmd.EntryID == uuid.Nil {
			h.send(connID, c.sender, NewErrorMessage(CodeMissingEntryID, ErrMissingEntryID.Error()))
			return
		}
		h.startEditing(c, cmd.EntryID, cmd.ContentType)

	case ActionEditStop:
		if cmd.EntryID == uuid.Nil {
			h.send(connID, c.sender, NewErrorMessage(CodeMissingEntryID, ErrMissingEntryID.Error()))
			return
		}
		h.stopEditing(c, cmd.EntryID)

	case ActionPresenceRequest:
		if cmd.EntryID == uuid.Nil {
			h.send(connID, c.sender, NewErrorMessage(CodeMissingEntryID, ErrMissingEntryID.Error()))
			return
		}
		editors, contentType, _ := h.presence.Editors(cmd.EntryID)
		h.send(connID, c.sender, NewPresenceMessage(PresenceChange{
			EntryID:       cmd.EntryID,
			ContentType:   contentType,
			ActiveEditors: editors,
		}))

	default:
		h.send(connID, c.sender, NewErrorMessage(CodeUnsupportedCommand, ErrUnsupportedCommand.Error()))
	}
}

// subscribe reports false when the connection is no longer registered. The
// membership check and the channel insert share one critical section, so a
// concurrent Remove cannot leave an orphaned channel entry.
func (h *Hub) subscribe(c *connection, contentType string) bool {
	channel := ChannelForContentType(contentType)
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.info.ID]; !ok {
		return false
	}
	c.subs[channel] = struct{}{}
	members, ok := h.channels[channel]
	if !ok {
		members = make(map[string]struct{})
		h.channels[channel] = members
	}
	members[c.info.ID] = struct{}{}
	return true
}

// unsubscribe is a no-op success when the connection is not in the channel.
func (h *Hub) unsubscribe(c *connection, contentType string) {
	channel := ChannelForContentType(contentType)
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(c.subs, channel)
	h.dropFromChannel(channel, c.info.ID)
}

// dropFromChannel must be called with h.mu held.
func (h *Hub) dropFromChannel(channel, connID string) {
	members, ok := h.channels[channel]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.channels, channel)
	}
}

func (h *Hub) startEditing(c *connection, entryID uuid.UUID, contentType string) {
	editor := EditorInfo{
		UserID:    c.info.UserID,
		Email:     c.info.Email,
		SessionID: c.info.SessionID,
	}
	conflicts, editors := h.presence.StartEditing(editor, entryID, contentType)

	h.mu.Lock()
	cur, live := h.conns[c.info.ID]
	if live {
		cur.info.Focused = contentType
	}
	h.mu.Unlock()
	if !live {
		// Lost the race with Remove or the reaper. A removed connection
		// must not leave a claim behind; ReleaseSession may already have
		// run, in which case this is a no-op.
		h.presence.StopEditing(c.info.SessionID, entryID)
		return
	}

	// The warning goes to the requester before its own presence update so
	// the client sees the conflict first.
	if len(conflicts) > 0 {
		h.send(c.info.ID, c.sender, NewConflictMessage(entryID, conflicts[0]))
	}

	change := PresenceChange{EntryID: entryID, ContentType: contentType, ActiveEditors: editors}
	h.BroadcastToChannel(ChannelForContentType(contentType), c.info.TenantID, NewPresenceMessage(change))
	h.publishEditing(EventEditingStarted, c.info, entryID, contentType)
}

func (h *Hub) stopEditing(c *connection, entryID uuid.UUID) {
	editors, contentType, changed := h.presence.StopEditing(c.info.SessionID, entryID)
	if !changed {
		return
	}

	h.mu.Lock()
	if cur, ok := h.conns[c.info.ID]; ok {
		cur.info.Focused = ""
	}
	h.mu.Unlock()

	change := PresenceChange{EntryID: entryID, ContentType: contentType, ActiveEditors: editors}
	h.BroadcastToChannel(ChannelForContentType(contentType), c.info.TenantID, NewPresenceMessage(change))
	h.publishEditing(EventEditingStopped, c.info, entryID, contentType)
}

func (h *Hub) publishEditing(name string, info ConnectionInfo, entryID uuid.UUID, contentType string) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(context.Background(), EditingEvent{
		Name:        name,
		EntryID:     entryID,
		ContentType: contentType,
		UserID:      info.UserID,
		Email:       info.Email,
		SessionID:   info.SessionID,
		OccurredAt:  time.Now().UTC(),
	}, &DispatchContext{Logger: h.logger, UserID: info.UserID, TenantID: info.TenantID})
}

// HandleEditingEvent applies an editing signal that did not originate from
// a local command: REST-initiated editing, or another instance seen through
// the durable log. Signals for sessions with a live local connection are
// ignored because the command path already applied them.
func (h *Hub) HandleEditingEvent(evt EditingEvent, tenantID uuid.UUID) {
	if h.HasSession(evt.SessionID) {
		return
	}
	editor := EditorInfo{
		UserID:    evt.UserID,
		Email:     evt.Email,
		SessionID: evt.SessionID,
		StartedAt: evt.OccurredAt,
	}

	var change PresenceChange
	switch evt.Name {
	case EventEditingStarted:
		_, editors := h.presence.StartEditing(editor, evt.EntryID, evt.ContentType)
		change = PresenceChange{EntryID: evt.EntryID, ContentType: evt.ContentType, ActiveEditors: editors}
	case EventEditingStopped:
		editors, contentType, changed := h.presence.StopEditing(evt.SessionID, evt.EntryID)
		if !changed {
			return
		}
		change = PresenceChange{EntryID: evt.EntryID, ContentType: contentType, ActiveEditors: editors}
	default:
		return
	}
	h.BroadcastToChannel(ChannelForContentType(change.ContentType), tenantID, NewPresenceMessage(change))
}

// BroadcastToChannel sends msg to every connection subscribed to channel,
// skipping connections whose tenant differs from tenantID when both are
// set. Send failures are logged and do not abort delivery to the rest. It
// returns the number of successful sends.
func (h *Hub) BroadcastToChannel(channel string, tenantID uuid.UUID, msg interface{}) int {
	type target struct {
		id     string
		sender Sender
	}

	h.mu.RLock()
	members := h.channels[channel]
	targets := make([]target, 0, len(members))
	for connID := range members {
		c, ok := h.conns[connID]
		if !ok {
			continue
		}
		if tenantID != uuid.Nil && c.info.TenantID != uuid.Nil && c.info.TenantID != tenantID {
			continue
		}
		targets = append(targets, target{id: connID, sender: c.sender})
	}
	h.mu.RUnlock()

	sent := 0
	for _, t := range targets {
		if err := t.sender.Send(msg); err != nil {
			h.logger.Warn("send failed", "conn_id", t.id, "channel", channel, "err", err)
			continue
		}
		sent++
	}
	return sent
}

// ReapStale removes every connection whose last activity is older than
// maxAge, exactly as if each had disconnected. It returns the number
// removed.
func (h *Hub) ReapStale(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)

	h.mu.RLock()
	var stale []string
	for id, c := range h.conns {
		if c.info.LastSeen.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range stale {
		h.logger.Info("reaping stale connection", "conn_id", id)
		h.Remove(id)
	}
	return len(stale)
}

// Run sweeps for stale connections on the configured period until ctx is
// cancelled. The sweep runs independently of request traffic.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.reapPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.ReapStale(h.staleMaxAge)
		}
	}
}

// HasSession reports whether any live connection carries sessionID.
func (h *Hub) HasSession(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		if c.info.SessionID == sessionID {
			return true
		}
	}
	return false
}

// Presence exposes the tracker for read-side consumers.
func (h *Hub) Presence() *PresenceTracker {
	return h.presence
}

// HeartbeatInterval returns the interval advertised to clients.
func (h *Hub) HeartbeatInterval() time.Duration {
	return h.heartbeatInterval
}

// Connections returns a snapshot of all registered connections.
func (h *Hub) Connections() []ConnectionInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	infos := make([]ConnectionInfo, 0, len(h.conns))
	for _, c := range h.conns {
		infos = append(infos, c.info)
	}
	return infos
}

// ChannelNames returns the names of channels with at least one subscriber.
func (h *Hub) ChannelNames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return maps.Keys(h.channels)
}

// Subscribers returns the number of connections subscribed to channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Size returns the number of registered connections.
func (h *Hub) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Stats returns a point-in-time summary of hub state.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	conns := len(h.conns)
	channels := len(h.channels)
	h.mu.RUnlock()
	return HubStats{
		Connections:   conns,
		Channels:      channels,
		ActiveEntries: h.presence.ActiveEntryCount(),
	}
}

func (h *Hub) send(connID string, sender Sender, msg interface{}) {
	if err := sender.Send(msg); err != nil {
		h.logger.Warn("send failed", "conn_id", connID, "err", err)
	}
}
