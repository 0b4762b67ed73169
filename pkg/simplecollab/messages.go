package simplecollab

import (
	"time"

	"github.com/google/uuid"
)

// Client command actions, one JSON object per inbound frame.
const (
	ActionSubscribe       = "subscribe"
	ActionUnsubscribe     = "unsubscribe"
	ActionHeartbeat       = "heartbeat"
	ActionEditStart       = "editStart"
	ActionEditStop        = "editStop"
	ActionPresenceRequest = "presenceRequest"
)

// Server message types.
const (
	MessageConnected     = "connected"
	MessageSubscribed    = "subscribed"
	MessageUnsubscribed  = "unsubscribed"
	MessageHeartbeat     = "heartbeat"
	MessageContentChange = "content_change"
	MessagePresence      = "presence"
	MessageConflict      = "conflict"
	MessageError         = "error"
)

// Command is the client-to-server wire shape.
type Command struct {
	Action      string    `json:"action"`
	ContentType string    `json:"contentType,omitempty"`
	EntryID     uuid.UUID `json:"entryId,omitempty"`
}

// ConnectedMessage acknowledges a successful registration.
type ConnectedMessage struct {
	Type         string   `json:"type"`
	ConnectionID string   `json:"connectionId"`
	// HeartbeatSeconds tells the client how often to send heartbeats.
	HeartbeatSeconds int      `json:"heartbeatInterval"`
	Features         []string `json:"features"`
}

// SubscriptionMessage acknowledges a subscribe or unsubscribe command.
type SubscriptionMessage struct {
	Type        string `json:"type"`
	ContentType string `json:"contentType"`
}

// HeartbeatMessage acknowledges a heartbeat command.
type HeartbeatMessage struct {
	Type string `json:"type"`
}

// ContentChangeData is the payload of a content_change message.
type ContentChangeData struct {
	ID          uuid.UUID `json:"id"`
	ContentType string    `json:"contentType"`
	Action      string    `json:"action"`
	// Entry is nil for deletes.
	Entry map[string]interface{} `json:"entry"`
}

// ContentChangeMessage notifies subscribers of a committed mutation.
type ContentChangeMessage struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Data      ContentChangeData `json:"data"`
}

// PresenceMessage carries the full current editor list for one entry.
type PresenceMessage struct {
	Type string         `json:"type"`
	Data PresenceChange `json:"data"`
}

// ConflictData identifies the editor already working on an entry.
type ConflictData struct {
	EntryID         uuid.UUID  `json:"entryId"`
	ConflictingUser EditorInfo `json:"conflictingUser"`
	SuggestedAction string     `json:"suggestedAction"`
}

// ConflictMessage warns a connection that its edit target is already
// claimed by another user. Advisory only; the claim is still recorded.
type ConflictMessage struct {
	Type string       `json:"type"`
	Data ConflictData `json:"data"`
}

// ErrorData is the payload of a structured error frame.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorMessage reports a protocol or validation error without dropping the
// connection.
type ErrorMessage struct {
	Type string    `json:"type"`
	Data ErrorData `json:"data"`
}

// NewContentChangeMessage builds the wire message for a content event. The
// snapshot is omitted for deletes since the record no longer exists.
func NewContentChangeMessage(evt ContentEvent) ContentChangeMessage {
	data := ContentChangeData{
		ID:          evt.EntryID,
		ContentType: evt.ContentType,
		Action:      evt.Action(),
	}
	if evt.Name != EventContentDeleted {
		data.Entry = evt.Entry
	}
	ts := evt.OccurredAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return ContentChangeMessage{Type: MessageContentChange, Timestamp: ts, Data: data}
}

// NewPresenceMessage builds the wire message for a presence change.
func NewPresenceMessage(change PresenceChange) PresenceMessage {
	if change.ActiveEditors == nil {
		change.ActiveEditors = []EditorInfo{}
	}
	return PresenceMessage{Type: MessagePresence, Data: change}
}

// NewConflictMessage builds the advisory conflict warning, suggesting a
// merge as the resolution.
func NewConflictMessage(entryID uuid.UUID, existing EditorInfo) ConflictMessage {
	return ConflictMessage{
		Type: MessageConflict,
		Data: ConflictData{
			EntryID:         entryID,
			ConflictingUser: existing,
			SuggestedAction: "merge",
		},
	}
}

// NewErrorMessage builds a structured error frame.
func NewErrorMessage(code, message string) ErrorMessage {
	return ErrorMessage{Type: MessageError, Data: ErrorData{Code: code, Message: message}}
}
