package simplecollab

import (
	"time"

	"github.com/google/uuid"
)

// Identity describes who is behind a live transport connection. It is
// produced by the transport layer (e.g. from verified JWT claims) and is
// immutable for the lifetime of the connection.
type Identity struct {
	// SessionID is supplied by the client and survives reconnects.
	SessionID string    `json:"session_id"`
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	// TenantID is uuid.Nil for single-tenant deployments.
	TenantID uuid.UUID `json:"tenant_id,omitempty"`
}

// ConnectionInfo is the registry's record for one live connection.
type ConnectionInfo struct {
	// ID is generated at registration and unique for the connection's
	// process lifetime.
	ID string `json:"id"`
	Identity
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
	// Focused is the content-type slug the connection is currently
	// editing, at most one at a time. Empty when not editing.
	Focused string `json:"focused,omitempty"`
}

// EditorInfo describes one active editor of a content entry.
type EditorInfo struct {
	UserID    uuid.UUID `json:"userId"`
	Email     string    `json:"email,omitempty"`
	SessionID string    `json:"sessionId"`
	StartedAt time.Time `json:"startedAt"`
}

// PresenceChange reports the editor set of an entry after a mutation.
type PresenceChange struct {
	EntryID       uuid.UUID    `json:"entryId"`
	ContentType   string       `json:"contentType"`
	ActiveEditors []EditorInfo `json:"activeEditors"`
}

// HubStats is a point-in-time summary of hub state.
type HubStats struct {
	Connections   int `json:"connections"`
	Channels      int `json:"channels"`
	ActiveEntries int `json:"active_entries"`
}

// ChannelForContentType returns the broadcast channel name for a
// content-type slug, e.g. "content/posts".
func ChannelForContentType(slug string) string {
	return "content/" + slug
}
