package simplecollab

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event names published by CMS collaborators and consumed by the
// Broadcaster. Names are stable wire identifiers.
const (
	EventContentCreated   = "content.created"
	EventContentUpdated   = "content.updated"
	EventContentDeleted   = "content.deleted"
	EventContentPublished = "content.published"
	EventEditingStarted   = "editing.started"
	EventEditingStopped   = "editing.stopped"
)

// Event is an immutable, named, serializable record. Events are write-once:
// they are never mutated after publication.
type Event interface {
	// EventName returns the stable name, e.g. "content.updated".
	EventName() string
}

// ContentEvent is the payload for the content.* event names.
type ContentEvent struct {
	Name        string    `json:"name"`
	EntryID     uuid.UUID `json:"entryId"`
	ContentType string    `json:"contentType"`
	UserID      uuid.UUID `json:"userId,omitempty"`
	// Entry is the full snapshot of the record after the mutation. Empty
	// for deletes, where the record no longer exists.
	Entry map[string]interface{} `json:"entry,omitempty"`
	// Diff carries field-level changes when the producer has them.
	Diff       map[string]interface{} `json:"diff,omitempty"`
	OccurredAt time.Time              `json:"occurredAt"`
}

func (e ContentEvent) EventName() string { return e.Name }

// Action returns the wire action for a content event name, e.g. "updated".
func (e ContentEvent) Action() string {
	return strings.TrimPrefix(e.Name, "content.")
}

// EditingEvent is the payload for the editing.* event names. It signals
// that a session began or finished editing an entry.
type EditingEvent struct {
	Name        string    `json:"name"`
	EntryID     uuid.UUID `json:"entryId"`
	ContentType string    `json:"contentType"`
	UserID      uuid.UUID `json:"userId"`
	Email       string    `json:"email,omitempty"`
	SessionID   string    `json:"sessionId"`
	OccurredAt  time.Time `json:"occurredAt"`
}

func (e EditingEvent) EventName() string { return e.Name }

// DispatchContext carries per-publish metadata alongside an event: a logger
// handle, the acting user, and the active tenant. It lives only for the
// duration of one publish call and is passed unchanged to every handler.
type DispatchContext struct {
	Logger   *slog.Logger
	UserID   uuid.UUID
	TenantID uuid.UUID
}

// Log returns the context logger, falling back to slog.Default.
func (d *DispatchContext) Log() *slog.Logger {
	if d == nil || d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// Tenant returns the active tenant id, or uuid.Nil when unset.
func (d *DispatchContext) Tenant() uuid.UUID {
	if d == nil {
		return uuid.Nil
	}
	return d.TenantID
}

// User returns the acting user id, or uuid.Nil when unset.
func (d *DispatchContext) User() uuid.UUID {
	if d == nil {
		return uuid.Nil
	}
	return d.UserID
}
