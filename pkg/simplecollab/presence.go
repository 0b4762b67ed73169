package simplecollab

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PresenceTracker owns the per-entry editing presence map. Each entry moves
// through empty -> has-editors -> empty; a record with no editors is
// deleted, never kept around.
//
// At most one editor descriptor exists per (entry, user): a second
// edit-start by the same user, even from another session, refreshes the
// existing claim instead of creating a new one.
type PresenceTracker struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entryPresence
}

type entryPresence struct {
	contentType  string
	editors      map[uuid.UUID]*editorClaim // keyed by user id
	lastActivity time.Time
}

type editorClaim struct {
	info EditorInfo
}

// NewPresenceTracker creates an empty tracker.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{entries: make(map[uuid.UUID]*entryPresence)}
}

// StartEditing records a claim on entryID for the given editor. It returns
// the editors that already held claims under a different user id (the
// conflicts, earliest claim first) and the full editor list after the
// claim. The claim is recorded regardless of conflicts; the warning is
// advisory, not a lock.
func (t *PresenceTracker) StartEditing(editor EditorInfo, entryID uuid.UUID, contentType string) (conflicts, editors []EditorInfo) {
	now := time.Now().UTC()
	if editor.StartedAt.IsZero() {
		editor.StartedAt = now
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[entryID]
	if !ok {
		entry = &entryPresence{
			contentType: contentType,
			editors:     make(map[uuid.UUID]*editorClaim),
		}
		t.entries[entryID] = entry
	}
	entry.lastActivity = now

	for userID, claim := range entry.editors {
		if userID != editor.UserID {
			conflicts = append(conflicts, claim.info)
		}
	}
	sortByClaim(conflicts)

	// Same user again refreshes the existing claim's timestamp rather than
	// creating a second descriptor.
	if claim, held := entry.editors[editor.UserID]; held {
		claim.info.StartedAt = editor.StartedAt
	} else {
		entry.editors[editor.UserID] = &editorClaim{info: editor}
	}

	return conflicts, entry.editorList()
}

// StopEditing removes the claim owned by sessionID on entryID. It is a
// no-op when that session holds no claim there. The returned editor list is
// the state after removal; changed reports whether anything was removed.
func (t *PresenceTracker) StopEditing(sessionID string, entryID uuid.UUID) (editors []EditorInfo, contentType string, changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[entryID]
	if !ok {
		return nil, "", false
	}
	for userID, claim := range entry.editors {
		if claim.info.SessionID == sessionID {
			delete(entry.editors, userID)
			changed = true
			break
		}
	}
	if !changed {
		return entry.editorList(), entry.contentType, false
	}
	contentType = entry.contentType
	entry.lastActivity = time.Now().UTC()
	if len(entry.editors) == 0 {
		delete(t.entries, entryID)
		return []EditorInfo{}, contentType, true
	}
	return entry.editorList(), contentType, true
}

// ReleaseSession removes every claim held by sessionID, as on disconnect or
// reap, and returns one presence change per affected entry.
func (t *PresenceTracker) ReleaseSession(sessionID string) []PresenceChange {
	t.mu.Lock()
	defer t.mu.Unlock()

	var changes []PresenceChange
	for entryID, entry := range t.entries {
		for userID, claim := range entry.editors {
			if claim.info.SessionID != sessionID {
				continue
			}
			delete(entry.editors, userID)
			change := PresenceChange{
				EntryID:       entryID,
				ContentType:   entry.contentType,
				ActiveEditors: entry.editorList(),
			}
			if len(entry.editors) == 0 {
				delete(t.entries, entryID)
				change.ActiveEditors = []EditorInfo{}
			}
			changes = append(changes, change)
			break
		}
	}
	return changes
}

// Editors returns the current editor list for an entry. ok is false when no
// presence record exists.
func (t *PresenceTracker) Editors(entryID uuid.UUID) (editors []EditorInfo, contentType string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, found := t.entries[entryID]
	if !found {
		return nil, "", false
	}
	return entry.editorList(), entry.contentType, true
}

// ActiveEntryCount returns the number of entries currently being edited.
func (t *PresenceTracker) ActiveEntryCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (e *entryPresence) editorList() []EditorInfo {
	editors := make([]EditorInfo, 0, len(e.editors))
	for _, claim := range e.editors {
		editors = append(editors, claim.info)
	}
	sortByClaim(editors)
	return editors
}

func sortByClaim(editors []EditorInfo) {
	sort.Slice(editors, func(i, j int) bool {
		if editors[i].StartedAt.Equal(editors[j].StartedAt) {
			return editors[i].SessionID < editors[j].SessionID
		}
		return editors[i].StartedAt.Before(editors[j].StartedAt)
	})
}
