package simplecollab

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EntryRef identifies a content entry and its content type.
type EntryRef struct {
	ID          uuid.UUID
	ContentType string
}

// Sink is the collaborator-facing adapter: CRUD services and editor flows
// call it after every committed mutation and it publishes the matching
// domain event. Publishing is fire-and-forget; failures never propagate to
// the caller.
type Sink struct {
	bus Bus
}

// NewSink creates a sink over the given bus.
func NewSink(bus Bus) *Sink {
	return &Sink{bus: bus}
}

// ContentCreated publishes content.created with the new record snapshot.
func (s *Sink) ContentCreated(ctx context.Context, dctx *DispatchContext, entry EntryRef, snapshot map[string]interface{}) {
	s.publishContent(ctx, dctx, EventContentCreated, entry, snapshot, nil)
}

// ContentUpdated publishes content.updated with the snapshot after the
// change and an optional field-level diff.
func (s *Sink) ContentUpdated(ctx context.Context, dctx *DispatchContext, entry EntryRef, snapshot, diff map[string]interface{}) {
	s.publishContent(ctx, dctx, EventContentUpdated, entry, snapshot, diff)
}

// ContentDeleted publishes content.deleted. No snapshot is carried since
// the record no longer exists.
func (s *Sink) ContentDeleted(ctx context.Context, dctx *DispatchContext, entry EntryRef) {
	s.publishContent(ctx, dctx, EventContentDeleted, entry, nil, nil)
}

// ContentPublished publishes content.published with the published snapshot.
func (s *Sink) ContentPublished(ctx context.Context, dctx *DispatchContext, entry EntryRef, snapshot map[string]interface{}) {
	s.publishContent(ctx, dctx, EventContentPublished, entry, snapshot, nil)
}

// EditingStarted publishes editing.started for an editor session, e.g. from
// the editor UI's REST surface.
func (s *Sink) EditingStarted(ctx context.Context, dctx *DispatchContext, entry EntryRef, sessionID, email string) {
	s.publishEditing(ctx, dctx, EventEditingStarted, entry, sessionID, email)
}

// EditingStopped publishes editing.stopped for an editor session.
func (s *Sink) EditingStopped(ctx context.Context, dctx *DispatchContext, entry EntryRef, sessionID, email string) {
	s.publishEditing(ctx, dctx, EventEditingStopped, entry, sessionID, email)
}

func (s *Sink) publishContent(ctx context.Context, dctx *DispatchContext, name string, entry EntryRef, snapshot, diff map[string]interface{}) {
	s.bus.Publish(ctx, ContentEvent{
		Name:        name,
		EntryID:     entry.ID,
		ContentType: entry.ContentType,
		UserID:      dctx.User(),
		Entry:       snapshot,
		Diff:        diff,
		OccurredAt:  time.Now().UTC(),
	}, dctx)
}

func (s *Sink) publishEditing(ctx context.Context, dctx *DispatchContext, name string, entry EntryRef, sessionID, email string) {
	s.bus.Publish(ctx, EditingEvent{
		Name:        name,
		EntryID:     entry.ID,
		ContentType: entry.ContentType,
		UserID:      dctx.User(),
		Email:       email,
		SessionID:   sessionID,
		OccurredAt:  time.Now().UTC(),
	}, dctx)
}
