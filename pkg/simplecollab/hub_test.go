package simplecollab_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-collab/pkg/simplecollab"
)

// fakeSender records messages the hub pushes to a connection.
type fakeSender struct {
	mu   sync.Mutex
	fail bool
	msgs []interface{}
}

func (f *fakeSender) Send(msg interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("transport closing")
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeSender) messages() []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]interface{}, len(f.msgs))
	copy(out, f.msgs)
	return out
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = nil
}

func identity(session string) simplecollab.Identity {
	return simplecollab.Identity{
		SessionID: session,
		UserID:    uuid.New(),
		Email:     session + "@example.com",
	}
}

func command(action, contentType string, entryID uuid.UUID) []byte {
	if entryID == uuid.Nil {
		return []byte(fmt.Sprintf(`{"action":%q,"contentType":%q}`, action, contentType))
	}
	return []byte(fmt.Sprintf(`{"action":%q,"contentType":%q,"entryId":%q}`, action, contentType, entryID))
}

func TestRegisterSendsConnectedAck(t *testing.T) {
	hub := simplecollab.NewHub(simplecollab.WithHeartbeatInterval(45 * time.Second))
	sender := &fakeSender{}

	info := hub.Register(sender, identity("s-1"))
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, "s-1", info.SessionID)

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	ack, ok := msgs[0].(simplecollab.ConnectedMessage)
	require.True(t, ok)
	assert.Equal(t, simplecollab.MessageConnected, ack.Type)
	assert.Equal(t, info.ID, ack.ConnectionID)
	assert.Equal(t, 45, ack.HeartbeatSeconds)
	assert.NotEmpty(t, ack.Features)
}

func TestRegistrySizeAndRemoveIdempotence(t *testing.T) {
	hub := simplecollab.NewHub()

	var ids []string
	for i := 0; i < 5; i++ {
		info := hub.Register(&fakeSender{}, identity(fmt.Sprintf("s-%d", i)))
		ids = append(ids, info.ID)
	}
	require.Equal(t, 5, hub.Size())

	hub.Remove(ids[0])
	hub.Remove(ids[1])
	assert.Equal(t, 3, hub.Size())

	// Removing twice is equivalent to removing once.
	hub.Remove(ids[0])
	hub.Remove("not-a-connection")
	assert.Equal(t, 3, hub.Size())
}

func TestSubscribeUnsubscribeCommands(t *testing.T) {
	hub := simplecollab.NewHub()
	sender := &fakeSender{}
	info := hub.Register(sender, identity("s-1"))
	sender.reset()

	hub.HandleCommand(info.ID, command(simplecollab.ActionSubscribe, "posts", uuid.Nil))
	require.Equal(t, 1, hub.Subscribers("content/posts"))

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	ack, ok := msgs[0].(simplecollab.SubscriptionMessage)
	require.True(t, ok)
	assert.Equal(t, simplecollab.MessageSubscribed, ack.Type)
	assert.Equal(t, "posts", ack.ContentType)

	sender.reset()
	hub.HandleCommand(info.ID, command(simplecollab.ActionUnsubscribe, "posts", uuid.Nil))
	assert.Zero(t, hub.Subscribers("content/posts"))

	// Unsubscribing from a channel the connection is not in is a no-op
	// success, not an error.
	sender.reset()
	hub.HandleCommand(info.ID, command(simplecollab.ActionUnsubscribe, "pages", uuid.Nil))
	msgs = sender.messages()
	require.Len(t, msgs, 1)
	ack, ok = msgs[0].(simplecollab.SubscriptionMessage)
	require.True(t, ok)
	assert.Equal(t, simplecollab.MessageUnsubscribed, ack.Type)
}

func TestCommandErrors(t *testing.T) {
	hub := simplecollab.NewHub()
	sender := &fakeSender{}
	info := hub.Register(sender, identity("s-1"))

	tests := []struct {
		name string
		raw  []byte
		code string
	}{
		{
			name: "malformed frame",
			raw:  []byte(`{"action":`),
			code: simplecollab.CodeInvalidMessage,
		},
		{
			name: "subscribe without contentType",
			raw:  []byte(`{"action":"subscribe"}`),
			code: simplecollab.CodeMissingContentType,
		},
		{
			name: "editStart without entryId",
			raw:  []byte(`{"action":"editStart","contentType":"posts"}`),
			code: simplecollab.CodeMissingEntryID,
		},
		{
			name: "editStop without entryId",
			raw:  []byte(`{"action":"editStop"}`),
			code: simplecollab.CodeMissingEntryID,
		},
		{
			name: "unknown action",
			raw:  []byte(`{"action":"teleport"}`),
			code: simplecollab.CodeUnsupportedCommand,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender.reset()
			hub.HandleCommand(info.ID, tt.raw)

			msgs := sender.messages()
			require.Len(t, msgs, 1)
			errMsg, ok := msgs[0].(simplecollab.ErrorMessage)
			require.True(t, ok, "expected a structured error frame, got %T", msgs[0])
			assert.Equal(t, tt.code, errMsg.Data.Code)
		})
	}

	// The connection stays usable after protocol errors.
	sender.reset()
	hub.HandleCommand(info.ID, command(simplecollab.ActionSubscribe, "posts", uuid.Nil))
	assert.Equal(t, 1, hub.Subscribers("content/posts"))
}

func TestCommandForUnknownConnectionIsDropped(t *testing.T) {
	hub := simplecollab.NewHub()
	// No reply channel exists; the command is silently discarded.
	hub.HandleCommand(uuid.NewString(), []byte(`{"action":"heartbeat"}`))
}

func TestHeartbeatAck(t *testing.T) {
	hub := simplecollab.NewHub()
	sender := &fakeSender{}
	info := hub.Register(sender, identity("s-1"))
	sender.reset()

	hub.HandleCommand(info.ID, []byte(`{"action":"heartbeat"}`))
	msgs := sender.messages()
	require.Len(t, msgs, 1)
	ack, ok := msgs[0].(simplecollab.HeartbeatMessage)
	require.True(t, ok)
	assert.Equal(t, simplecollab.MessageHeartbeat, ack.Type)
}

func TestReapStale(t *testing.T) {
	hub := simplecollab.NewHub()
	entryID := uuid.New()

	editorSender := &fakeSender{}
	editorInfo := hub.Register(editorSender, identity("s-editor"))
	hub.HandleCommand(editorInfo.ID, command(simplecollab.ActionSubscribe, "posts", uuid.Nil))
	hub.HandleCommand(editorInfo.ID, command(simplecollab.ActionEditStart, "posts", entryID))

	watcherSender := &fakeSender{}
	watcherInfo := hub.Register(watcherSender, identity("s-watcher"))
	hub.HandleCommand(watcherInfo.ID, command(simplecollab.ActionSubscribe, "posts", uuid.Nil))

	require.Equal(t, 2, hub.Size())

	// Fresh connections survive a sweep with a generous max age.
	assert.Zero(t, hub.ReapStale(time.Hour))
	require.Equal(t, 2, hub.Size())

	// With a zero max age every connection is stale. Reaping behaves
	// exactly like a disconnect: presence is cleaned up and the change
	// broadcast.
	time.Sleep(5 * time.Millisecond)
	watcherSender.reset()
	removed := hub.ReapStale(0)
	assert.Equal(t, 2, removed)
	assert.Zero(t, hub.Size())

	_, _, ok := hub.Presence().Editors(entryID)
	assert.False(t, ok, "reaping must release the edit claim")
}

func TestBroadcastTenantIsolation(t *testing.T) {
	hub := simplecollab.NewHub()
	acme := uuid.New()
	other := uuid.New()

	register := func(tenant uuid.UUID, session string) *fakeSender {
		sender := &fakeSender{}
		id := identity(session)
		id.TenantID = tenant
		info := hub.Register(sender, id)
		hub.HandleCommand(info.ID, command(simplecollab.ActionSubscribe, "posts", uuid.Nil))
		sender.reset()
		return sender
	}

	acmeSender := register(acme, "s-acme")
	otherSender := register(other, "s-other")
	untenantedSender := register(uuid.Nil, "s-open")

	msg := simplecollab.NewErrorMessage("TEST", "probe")
	sent := hub.BroadcastToChannel("content/posts", acme, msg)

	assert.Equal(t, 2, sent)
	assert.Len(t, acmeSender.messages(), 1)
	assert.Empty(t, otherSender.messages(), "foreign tenant must not receive the message")
	assert.Len(t, untenantedSender.messages(), 1, "tenantless connections receive everything")

	// Without a tenant on the dispatch side, everyone gets it.
	sent = hub.BroadcastToChannel("content/posts", uuid.Nil, msg)
	assert.Equal(t, 3, sent)
}

func TestBroadcastSendFailureDoesNotAbortFanout(t *testing.T) {
	hub := simplecollab.NewHub()

	broken := &fakeSender{fail: true}
	info := hub.Register(broken, identity("s-broken"))
	hub.HandleCommand(info.ID, command(simplecollab.ActionSubscribe, "posts", uuid.Nil))

	healthy := &fakeSender{}
	info = hub.Register(healthy, identity("s-healthy"))
	hub.HandleCommand(info.ID, command(simplecollab.ActionSubscribe, "posts", uuid.Nil))
	healthy.reset()

	sent := hub.BroadcastToChannel("content/posts", uuid.Nil, simplecollab.NewErrorMessage("TEST", "probe"))
	assert.Equal(t, 1, sent)
	assert.Len(t, healthy.messages(), 1)
}

func TestEditStartConflictBeforePresence(t *testing.T) {
	hub := simplecollab.NewHub()
	entryID := uuid.New()

	aliceSender := &fakeSender{}
	alice := hub.Register(aliceSender, identity("s-alice"))
	hub.HandleCommand(alice.ID, command(simplecollab.ActionSubscribe, "posts", uuid.Nil))
	hub.HandleCommand(alice.ID, command(simplecollab.ActionEditStart, "posts", entryID))

	bobSender := &fakeSender{}
	bobIdentity := identity("s-bob")
	bob := hub.Register(bobSender, bobIdentity)
	hub.HandleCommand(bob.ID, command(simplecollab.ActionSubscribe, "posts", uuid.Nil))
	bobSender.reset()

	hub.HandleCommand(bob.ID, command(simplecollab.ActionEditStart, "posts", entryID))

	msgs := bobSender.messages()
	require.Len(t, msgs, 2)

	conflict, ok := msgs[0].(simplecollab.ConflictMessage)
	require.True(t, ok, "conflict must arrive before the presence update, got %T", msgs[0])
	assert.Equal(t, entryID, conflict.Data.EntryID)
	assert.Equal(t, alice.UserID, conflict.Data.ConflictingUser.UserID)
	assert.Equal(t, "merge", conflict.Data.SuggestedAction)

	presence, ok := msgs[1].(simplecollab.PresenceMessage)
	require.True(t, ok)
	assert.Len(t, presence.Data.ActiveEditors, 2)
}

func TestPresenceRequest(t *testing.T) {
	hub := simplecollab.NewHub()
	entryID := uuid.New()

	editorSender := &fakeSender{}
	editor := hub.Register(editorSender, identity("s-editor"))
	hub.HandleCommand(editor.ID, command(simplecollab.ActionEditStart, "posts", entryID))

	askerSender := &fakeSender{}
	asker := hub.Register(askerSender, identity("s-asker"))
	askerSender.reset()

	hub.HandleCommand(asker.ID, []byte(fmt.Sprintf(`{"action":"presenceRequest","entryId":%q}`, entryID)))

	msgs := askerSender.messages()
	require.Len(t, msgs, 1)
	presence, ok := msgs[0].(simplecollab.PresenceMessage)
	require.True(t, ok)
	assert.Equal(t, entryID, presence.Data.EntryID)
	assert.Equal(t, "posts", presence.Data.ContentType)
	require.Len(t, presence.Data.ActiveEditors, 1)
	assert.Equal(t, editor.UserID, presence.Data.ActiveEditors[0].UserID)
}

func TestDisconnectBroadcastsPresenceCleanup(t *testing.T) {
	hub := simplecollab.NewHub()
	entryID := uuid.New()

	editorSender := &fakeSender{}
	editor := hub.Register(editorSender, identity("s-editor"))
	hub.HandleCommand(editor.ID, command(simplecollab.ActionSubscribe, "posts", uuid.Nil))
	hub.HandleCommand(editor.ID, command(simplecollab.ActionEditStart, "posts", entryID))

	watcherSender := &fakeSender{}
	watcher := hub.Register(watcherSender, identity("s-watcher"))
	hub.HandleCommand(watcher.ID, command(simplecollab.ActionSubscribe, "posts", uuid.Nil))
	watcherSender.reset()

	hub.Remove(editor.ID)

	msgs := watcherSender.messages()
	require.Len(t, msgs, 1)
	presence, ok := msgs[0].(simplecollab.PresenceMessage)
	require.True(t, ok)
	assert.Equal(t, entryID, presence.Data.EntryID)
	assert.Empty(t, presence.Data.ActiveEditors)
}

func TestHandleEditingEventForRemoteSession(t *testing.T) {
	hub := simplecollab.NewHub()
	entryID := uuid.New()

	watcherSender := &fakeSender{}
	watcher := hub.Register(watcherSender, identity("s-watcher"))
	hub.HandleCommand(watcher.ID, command(simplecollab.ActionSubscribe, "posts", uuid.Nil))
	watcherSender.reset()

	remote := simplecollab.EditingEvent{
		Name:        simplecollab.EventEditingStarted,
		EntryID:     entryID,
		ContentType: "posts",
		UserID:      uuid.New(),
		SessionID:   "s-remote",
		OccurredAt:  time.Now().UTC(),
	}
	hub.HandleEditingEvent(remote, uuid.Nil)

	msgs := watcherSender.messages()
	require.Len(t, msgs, 1)
	presence, ok := msgs[0].(simplecollab.PresenceMessage)
	require.True(t, ok)
	require.Len(t, presence.Data.ActiveEditors, 1)
	assert.Equal(t, "s-remote", presence.Data.ActiveEditors[0].SessionID)

	// A signal for a session the hub already serves is ignored: the
	// command path applied it.
	watcherSender.reset()
	local := remote
	local.SessionID = watcher.SessionID
	hub.HandleEditingEvent(local, uuid.Nil)
	assert.Empty(t, watcherSender.messages())
}

func TestConcurrentRemoveLeavesNoGhostState(t *testing.T) {
	hub := simplecollab.NewHub()

	for i := 0; i < 500; i++ {
		entryID := uuid.New()
		info := hub.Register(&fakeSender{}, identity(fmt.Sprintf("s-%d", i)))

		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			hub.HandleCommand(info.ID, command(simplecollab.ActionSubscribe, "posts", uuid.Nil))
		}()
		go func() {
			defer wg.Done()
			hub.HandleCommand(info.ID, command(simplecollab.ActionEditStart, "posts", entryID))
		}()
		go func() {
			defer wg.Done()
			hub.Remove(info.ID)
		}()
		wg.Wait()

		// However the three interleaved, the removed connection must be
		// fully gone: no subscription entry and no presence claim.
		hub.Remove(info.ID)
		require.Zero(t, hub.Size(), "iteration %d", i)
		require.Zero(t, hub.Subscribers("content/posts"),
			"iteration %d: removed connection still subscribed", i)
		_, _, ok := hub.Presence().Editors(entryID)
		require.False(t, ok,
			"iteration %d: removed connection left a presence claim", i)
	}
}

func TestStats(t *testing.T) {
	hub := simplecollab.NewHub()
	info := hub.Register(&fakeSender{}, identity("s-1"))
	hub.HandleCommand(info.ID, command(simplecollab.ActionSubscribe, "posts", uuid.Nil))
	hub.HandleCommand(info.ID, command(simplecollab.ActionEditStart, "posts", uuid.New()))

	stats := hub.Stats()
	assert.Equal(t, 1, stats.Connections)
	assert.Equal(t, 1, stats.Channels)
	assert.Equal(t, 1, stats.ActiveEntries)
}
