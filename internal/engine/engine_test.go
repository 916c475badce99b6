package engine_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/ganot/meetsync/internal/domain/channel"
	"github.com/ganot/meetsync/internal/domain/history"
	"github.com/ganot/meetsync/internal/domain/protocol"
	"github.com/ganot/meetsync/internal/domain/summary"
	"github.com/ganot/meetsync/internal/engine"
	"github.com/ganot/meetsync/internal/presence"
	"github.com/ganot/meetsync/internal/sqlite"
	"github.com/ganot/meetsync/internal/transport"
	"github.com/stretchr/testify/require"
)

var retro = protocol.ProtocolType{
	Name: "retro",
	Phases: []protocol.PhaseDefinition{
		{Kind: protocol.KindSolo, ActivityLabel: "Writing"},
		{Kind: protocol.KindSolo, ActivityLabel: "Voting"},
		{Kind: protocol.KindCollective, ActivityLabel: "Discussing"},
	},
}

var (
	alice = transport.Identity{UserID: "alice", Role: transport.RoleFacilitator}
	bob   = transport.Identity{UserID: "bob", Role: transport.RoleParticipant}
)

type fakeMirror struct {
	mu        sync.Mutex
	published []presence.Snapshot
	cleared   []string
}

func (m *fakeMirror) Publish(_ context.Context, s presence.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, s)
	return nil
}

func (m *fakeMirror) Clear(_ context.Context, meetingID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, meetingID)
	return nil
}

type fixture struct {
	engine    *engine.Engine
	hub       *transport.Hub
	registry  *channel.Registry
	protocols *protocol.Service
	mirror    *fakeMirror
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())
	t.Cleanup(func() { _ = db.Close() })

	catalog, err := protocol.NewCatalog(append(protocol.DefaultTypes(), retro)...)
	require.NoError(t, err)

	registry := channel.NewRegistry(nil)
	hub := transport.NewHub(registry, 256, nil)
	summaries := summary.NewService(sqlite.NewSummaryRepository(db), nil, nil)
	protocols := protocol.NewService(sqlite.NewProtocolRepository(db), catalog, registry, summaries, nil)
	mirror := &fakeMirror{}

	e := engine.New(engine.Deps{
		Registry:  registry,
		Hub:       hub,
		Protocols: protocols,
		Summary:   summaries,
		History:   history.NewService(sqlite.NewHistoryRepository(db), nil),
		Presence:  mirror,
	})
	return fixture{engine: e, hub: hub, registry: registry, protocols: protocols, mirror: mirror}
}

type client struct {
	id  string
	out *transport.Outbox
	f   fixture
}

func (f fixture) connect(t *testing.T, clientID, meetingID string, id transport.Identity) *client {
	t.Helper()
	out := f.hub.Register(clientID)
	require.NoError(t, f.engine.Connect(context.Background(), clientID, meetingID, id))
	return &client{id: clientID, out: out, f: f}
}

func (c *client) send(t *testing.T, msgType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	c.f.engine.HandleMessage(context.Background(), c.id, transport.Envelope{Type: msgType, RequestID: "req-" + msgType, Payload: raw})
}

// drain discards everything queued so far.
func (c *client) drain() {
	for {
		select {
		case <-c.out.C():
		default:
			return
		}
	}
}

// expect skips queued messages until one of msgType arrives.
func (c *client) expect(t *testing.T, msgType string) transport.Envelope {
	t.Helper()
	for {
		select {
		case data := <-c.out.C():
			env, err := transport.Decode(data)
			require.NoError(t, err)
			if env.Type == msgType {
				return env
			}
		default:
			t.Fatalf("client %s: no %q message queued", c.id, msgType)
			return transport.Envelope{}
		}
	}
}

// received reports whether a msgType message is queued, consuming the queue.
func (c *client) received(t *testing.T, msgType string) bool {
	t.Helper()
	found := false
	for {
		select {
		case data := <-c.out.C():
			env, err := transport.Decode(data)
			require.NoError(t, err)
			if env.Type == msgType {
				found = true
			}
		default:
			return found
		}
	}
}

func (c *client) ack(t *testing.T) engine.AckPayload {
	t.Helper()
	env := c.expect(t, engine.MsgAck)
	var ack engine.AckPayload
	require.NoError(t, json.Unmarshal(env.Payload, &ack))
	return ack
}

func (c *client) rejection(t *testing.T) transport.ErrorPayload {
	t.Helper()
	env := c.expect(t, engine.MsgError)
	var payload transport.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	return payload
}

func (c *client) start(t *testing.T, typeName string) string {
	t.Helper()
	c.send(t, engine.MsgProtocolStart, engine.StartPayload{Type: typeName})
	ack := c.ack(t)
	require.NotEmpty(t, ack.InstanceID)
	return ack.InstanceID
}

func TestEngine_ConnectSendsSyncState(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "a1", "M1", alice)

	env := a.expect(t, engine.MsgSyncState)
	var state engine.SyncPayload
	require.NoError(t, json.Unmarshal(env.Payload, &state))
	require.Equal(t, "M1", state.MeetingID)
	require.Equal(t, "a1", state.ClientID)
	require.Equal(t, transport.RoleFacilitator, state.Role)
	require.Empty(t, state.Protocols)
	require.Equal(t, []string{"alice"}, state.Presence.Users)
	require.NotEmpty(t, state.Types)

	a.start(t, "retro")
	b := f.connect(t, "b1", "M1", bob)

	env = b.expect(t, engine.MsgSyncState)
	require.NoError(t, json.Unmarshal(env.Payload, &state))
	require.Len(t, state.Protocols, 1)
	require.Equal(t, []string{"alice", "bob"}, state.Presence.Users)
	require.Equal(t, 2, state.Presence.Clients)

	// alice learns about bob and gets readiness recomputed for him
	require.NotEmpty(t, a.expect(t, engine.MsgPresenceUpdated).Payload)
	a.expect(t, engine.MsgProtocolState)
}

// Scenario A: solo phases advance only once every participant completed them.
func TestEngine_SoloPhasesGateAdvance(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "a1", "M1", alice)
	b := f.connect(t, "b1", "M1", bob)
	id := a.start(t, "retro")

	a.send(t, engine.MsgActivityComplete, engine.CompletePayload{InstanceID: id})
	a.ack(t)
	b.send(t, engine.MsgActivityComplete, engine.CompletePayload{InstanceID: id})
	b.ack(t)

	a.drain()
	b.drain()
	a.send(t, engine.MsgProtocolAdvance, engine.InstancePayload{InstanceID: id})
	ack := a.ack(t)
	require.Equal(t, 1, ack.State.Instance.CurrentPhase)
	require.Empty(t, ack.State.Instance.Signals)
	require.False(t, ack.State.Activity.IsSoloStateCompleted)
	require.Equal(t, 1, ack.State.Activity.BusyUsersCount)
	require.False(t, ack.State.Activity.IsEveryoneDone)

	env := b.expect(t, engine.MsgProtocolState)
	var state engine.StatePayload
	require.NoError(t, json.Unmarshal(env.Payload, &state))
	require.Equal(t, 1, state.Instance.CurrentPhase)
	require.Equal(t, "Voting", state.Phase.ActivityLabel)

	b.send(t, engine.MsgActivityComplete, engine.CompletePayload{InstanceID: id})
	b.ack(t)

	a.send(t, engine.MsgProtocolAdvance, engine.InstancePayload{InstanceID: id})
	rejected := a.rejection(t)
	require.Equal(t, "NOT_READY", rejected.Code)
	require.True(t, rejected.Retriable)

	inst, err := f.engine.GetProtocol(context.Background(), "M1", id)
	require.NoError(t, err)
	require.Equal(t, 1, inst.CurrentPhase)
}

// Scenario B: a collective phase advances on the facilitator's ready mark alone.
func TestEngine_CollectivePhaseAdvancesWhenMarkedReady(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "a1", "M1", alice)
	f.connect(t, "b1", "M1", bob)
	id := a.start(t, "brainstorm")

	ctx := context.Background()
	actor := engine.Actor{Identity: alice, MeetingID: "M1"}
	_, err := f.engine.Advance(ctx, actor, id)
	require.ErrorIs(t, err, protocol.ErrNotReady)

	_, err = f.engine.Advance(ctx, engine.Actor{Identity: bob, MeetingID: "M1"}, id)
	require.ErrorIs(t, err, engine.ErrForbidden)

	a.send(t, engine.MsgActivityComplete, engine.CompletePayload{InstanceID: id})
	a.ack(t)
	f.engine.HandleMessage(ctx, "b1", envelope(t, engine.MsgActivityComplete, engine.CompletePayload{InstanceID: id}))
	inst, err := f.engine.Advance(ctx, actor, id)
	require.NoError(t, err)
	require.Equal(t, protocol.KindCollective, inst.Phase().Kind)

	a.drain()
	a.send(t, engine.MsgProtocolAdvance, engine.InstancePayload{InstanceID: id})
	require.Equal(t, "NOT_READY", a.rejection(t).Code)

	a.send(t, engine.MsgProtocolReady, engine.MarkReadyPayload{InstanceID: id})
	require.True(t, a.ack(t).State.Activity.ReadyForNextPhase)

	a.send(t, engine.MsgProtocolAdvance, engine.InstancePayload{InstanceID: id})
	ack := a.ack(t)
	require.Equal(t, 2, ack.State.Instance.CurrentPhase)
	require.False(t, ack.State.Instance.ReadyFlag)
}

// Scenario C: excluding the sender still reaches the same user's other client.
func TestEngine_BroadcastReachesOtherClientOfSameUser(t *testing.T) {
	f := newFixture(t)
	a1 := f.connect(t, "a1", "M1", alice)
	a2 := f.connect(t, "a2", "M1", alice)
	b := f.connect(t, "b1", "M1", bob)
	id := a1.start(t, "retro")

	a1.drain()
	a2.drain()
	b.drain()

	a1.send(t, engine.MsgSubmitItem, engine.SubmitItemPayload{InstanceID: id, Type: protocol.ItemTypeItem, Text: "More tests"})
	ack := a1.ack(t)
	require.NotEmpty(t, ack.ItemID)
	require.False(t, a1.received(t, engine.MsgProtocolState))

	for _, c := range []*client{a2, b} {
		env := c.expect(t, engine.MsgProtocolState)
		var state engine.StatePayload
		require.NoError(t, json.Unmarshal(env.Payload, &state))
		require.Len(t, state.Instance.Items, 1)
		require.Equal(t, "alice", state.Instance.Items[0].AuthorID)
	}
}

// Scenario D: an item pointing at a missing group is rejected and changes nothing.
func TestEngine_DanglingParentIsRejected(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "a1", "M1", alice)
	id := a.start(t, "retro")

	missing := "no-such-group"
	a.send(t, engine.MsgSubmitItem, engine.SubmitItemPayload{InstanceID: id, Type: protocol.ItemTypeItem, ParentID: &missing, Text: "orphan"})
	require.Equal(t, "DANGLING_PARENT", a.rejection(t).Code)

	inst, err := f.engine.GetProtocol(context.Background(), "M1", id)
	require.NoError(t, err)
	require.Empty(t, inst.Items)

	a.send(t, engine.MsgSubmitItem, engine.SubmitItemPayload{InstanceID: id, Type: protocol.ItemTypeGroup, Text: "Process"})
	group := a.ack(t).ItemID
	a.send(t, engine.MsgSubmitItem, engine.SubmitItemPayload{InstanceID: id, Type: protocol.ItemTypeItem, ParentID: &group, Text: "Fewer meetings"})
	require.Len(t, a.ack(t).State.Instance.Items, 2)
}

func TestEngine_ParticipantCannotDriveProtocol(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "a1", "M1", alice)
	b := f.connect(t, "b1", "M1", bob)
	id := a.start(t, "retro")

	b.send(t, engine.MsgProtocolStart, engine.StartPayload{Type: "retro"})
	require.Equal(t, "FORBIDDEN", b.rejection(t).Code)
	for _, msg := range []string{engine.MsgProtocolAdvance, engine.MsgProtocolRewind, engine.MsgProtocolDelete} {
		b.send(t, msg, engine.InstancePayload{InstanceID: id})
		require.Equal(t, "FORBIDDEN", b.rejection(t).Code, msg)
	}
	b.send(t, engine.MsgProtocolReady, engine.MarkReadyPayload{InstanceID: id})
	require.Equal(t, "FORBIDDEN", b.rejection(t).Code)
}

func TestEngine_CompletionProjectsAndDeleteRetracts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.connect(t, "a1", "M1", alice)
	b := f.connect(t, "b1", "M1", bob)
	actor := engine.Actor{Identity: alice, MeetingID: "M1", ClientID: "a1"}

	id := a.start(t, "action-items")
	_, _, err := f.engine.SubmitItem(ctx, engine.Actor{Identity: bob, MeetingID: "M1", ClientID: "b1"},
		engine.SubmitItemPayload{InstanceID: id, Type: protocol.ItemTypeItem, Text: "Write the runbook", Mark: protocol.MarkTask})
	require.NoError(t, err)

	// action-items: solo then collective
	for _, c := range []*client{a, b} {
		c.send(t, engine.MsgActivityComplete, engine.CompletePayload{InstanceID: id})
		c.ack(t)
	}
	_, err = f.engine.Advance(ctx, actor, id)
	require.NoError(t, err)
	_, err = f.engine.MarkReady(ctx, actor, id, true)
	require.NoError(t, err)

	b.drain()
	inst, err := f.engine.Advance(ctx, actor, id)
	require.NoError(t, err)
	require.True(t, inst.Completed)

	env := b.expect(t, engine.MsgSummaryUpdated)
	var updated engine.SummaryPayload
	require.NoError(t, json.Unmarshal(env.Payload, &updated))
	require.Len(t, updated.Items, 1)
	require.Equal(t, summary.TypeTask, updated.Items[0].ItemType)

	_, err = f.engine.Advance(ctx, actor, id)
	require.ErrorIs(t, err, protocol.ErrAlreadyCompleted)

	b.drain()
	a.send(t, engine.MsgProtocolDelete, engine.InstancePayload{InstanceID: id})
	require.Equal(t, id, a.ack(t).InstanceID)

	env = b.expect(t, engine.MsgProtocolDeleted)
	var deleted engine.DeletedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &deleted))
	require.Equal(t, 1, deleted.Retracted)
	b.expect(t, engine.MsgSummaryUpdated)

	items, err := f.engine.Summary(ctx, "M1")
	require.NoError(t, err)
	require.Empty(t, items)

	_, err = f.engine.GetProtocol(ctx, "M1", id)
	require.ErrorIs(t, err, protocol.ErrInstanceNotFound)

	entries, err := f.engine.History(ctx, "M1", history.ListOptions{})
	require.NoError(t, err)
	types := make([]history.EventType, 0, len(entries))
	for _, e := range entries {
		types = append(types, e.EventType)
	}
	require.Contains(t, types, history.TypeProtocolStarted)
	require.Contains(t, types, history.TypeProtocolCompleted)
	require.Contains(t, types, history.TypeProtocolDeleted)
	require.Equal(t, history.TypeProtocolDeleted, types[0])
}

func TestEngine_RewindKeepsItemsAndClearsSignals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.connect(t, "a1", "M1", alice)
	actor := engine.Actor{Identity: alice, MeetingID: "M1", ClientID: "a1"}
	id := a.start(t, "retro")

	a.send(t, engine.MsgProtocolRewind, engine.InstancePayload{InstanceID: id})
	require.Equal(t, "AT_FIRST_PHASE", a.rejection(t).Code)

	a.send(t, engine.MsgSubmitItem, engine.SubmitItemPayload{InstanceID: id, Type: protocol.ItemTypeItem, Text: "idea"})
	a.ack(t)
	a.send(t, engine.MsgActivityComplete, engine.CompletePayload{InstanceID: id})
	a.ack(t)
	_, err := f.engine.Advance(ctx, actor, id)
	require.NoError(t, err)
	a.send(t, engine.MsgActivityComplete, engine.CompletePayload{InstanceID: id})
	a.ack(t)

	a.send(t, engine.MsgProtocolRewind, engine.InstancePayload{InstanceID: id})
	ack := a.ack(t)
	require.Equal(t, 0, ack.State.Instance.CurrentPhase)
	require.Len(t, ack.State.Instance.Items, 1)
	require.False(t, ack.State.Activity.IsSoloStateCompleted)
}

func TestEngine_LeaveRecomputesReadiness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.connect(t, "a1", "M1", alice)
	b := f.connect(t, "b1", "M1", bob)
	actor := engine.Actor{Identity: alice, MeetingID: "M1", ClientID: "a1"}
	id := a.start(t, "retro")

	a.send(t, engine.MsgActivityComplete, engine.CompletePayload{InstanceID: id})
	require.Equal(t, 1, a.ack(t).State.Activity.BusyUsersCount)

	a.drain()
	b.send(t, engine.MsgMeetingLeave, struct{}{})
	b.ack(t)

	env := a.expect(t, engine.MsgPresenceUpdated)
	var snap presence.Snapshot
	require.NoError(t, json.Unmarshal(env.Payload, &snap))
	require.Equal(t, []string{"alice"}, snap.Users)
	require.Equal(t, 2, snap.Clients)

	env = a.expect(t, engine.MsgProtocolState)
	var state engine.StatePayload
	require.NoError(t, json.Unmarshal(env.Payload, &state))
	require.True(t, state.Activity.IsEveryoneDone)

	_, err := f.engine.Advance(ctx, actor, id)
	require.NoError(t, err)
}

func TestEngine_StaleSignalIsRejected(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "a1", "M1", alice)
	id := a.start(t, "retro")

	stale := 1
	a.send(t, engine.MsgActivityTyping, engine.TypingPayload{InstanceID: id, Typing: true, Phase: &stale})
	rejected := a.rejection(t)
	require.Equal(t, "STALE_PHASE", rejected.Code)
	require.True(t, rejected.Retriable)

	current := 0
	a.send(t, engine.MsgActivityTyping, engine.TypingPayload{InstanceID: id, Typing: true, Phase: &current})
	require.Equal(t, 1, a.ack(t).State.Activity.UserActivityCount)
}

func TestEngine_RejectsInstancesOfOtherMeetings(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "a1", "M1", alice)
	other := f.connect(t, "x1", "M2", transport.Identity{UserID: "carol", Role: transport.RoleFacilitator})
	id := a.start(t, "retro")

	other.send(t, engine.MsgProtocolAdvance, engine.InstancePayload{InstanceID: id})
	require.Equal(t, "INSTANCE_NOT_FOUND", other.rejection(t).Code)
	other.send(t, engine.MsgSubmitItem, engine.SubmitItemPayload{InstanceID: id, Type: protocol.ItemTypeItem, Text: "x"})
	require.Equal(t, "INSTANCE_NOT_FOUND", other.rejection(t).Code)
}

func TestEngine_InvalidMessages(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "a1", "M1", alice)

	a.send(t, "protocol.teleport", struct{}{})
	require.Equal(t, "UNKNOWN_MESSAGE", a.rejection(t).Code)

	a.send(t, engine.MsgProtocolStart, struct{}{})
	require.Equal(t, "INVALID_INPUT", a.rejection(t).Code)

	a.send(t, engine.MsgSubmitItem, map[string]string{"instance_id": "p1", "type": "Note", "text": "x"})
	require.Equal(t, "INVALID_INPUT", a.rejection(t).Code)

	f.engine.HandleMessage(context.Background(), "a1", transport.Envelope{Type: engine.MsgProtocolAdvance, Payload: json.RawMessage(`[`)})
	require.Equal(t, "INVALID_INPUT", a.rejection(t).Code)

	a.send(t, engine.MsgProtocolStart, engine.StartPayload{Type: "unknown"})
	require.Equal(t, "UNKNOWN_PROTOCOL_TYPE", a.rejection(t).Code)

	out := f.hub.Register("ghost")
	f.engine.HandleMessage(context.Background(), "ghost", envelope(t, engine.MsgSync, nil))
	ghost := &client{id: "ghost", out: out, f: f}
	require.Equal(t, "NOT_JOINED", ghost.rejection(t).Code)
}

func TestEngine_SyncRequest(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "a1", "M1", alice)
	a.start(t, "retro")
	a.drain()

	a.send(t, engine.MsgSync, nil)
	env := a.expect(t, engine.MsgSyncState)
	require.Equal(t, "req-sync", env.RequestID)
	var state engine.SyncPayload
	require.NoError(t, json.Unmarshal(env.Payload, &state))
	require.Len(t, state.Protocols, 1)
	require.Equal(t, "alice", state.UserID)
}

func TestEngine_LastDisconnectEvictsMeeting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.connect(t, "a1", "M1", alice)
	b := f.connect(t, "b1", "M1", bob)
	id := a.start(t, "retro")
	b.send(t, engine.MsgActivityTyping, engine.TypingPayload{InstanceID: id, Typing: true})
	b.ack(t)
	before, err := f.engine.GetProtocol(ctx, "M1", id)
	require.NoError(t, err)

	a.drain()
	f.engine.Disconnect(ctx, "b1")
	f.engine.Disconnect(ctx, "b1")

	env := a.expect(t, engine.MsgPresenceUpdated)
	var snap presence.Snapshot
	require.NoError(t, json.Unmarshal(env.Payload, &snap))
	require.Equal(t, []string{"alice"}, snap.Users)

	f.engine.Disconnect(ctx, "a1")
	require.Empty(t, f.registry.Members("M1"))

	f.mirror.mu.Lock()
	require.Equal(t, []string{"M1"}, f.mirror.cleared)
	require.NotEmpty(t, f.mirror.published)
	f.mirror.mu.Unlock()

	// the instance survives in storage, without its ephemeral signals
	inst, err := f.engine.GetProtocol(ctx, "M1", id)
	require.NoError(t, err)
	require.Empty(t, inst.Signals)
	require.Equal(t, before.Revision, inst.Revision)
	require.Zero(t, f.protocols.Evict("M1"))
}

func TestEngine_ConsoleAccessDoesNotPinIdleMeetings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	console := engine.Actor{Identity: alice, MeetingID: "cold"}

	var ids []string
	for i := 0; i < 50; i++ {
		inst, err := f.engine.Start(ctx, console, "retro")
		require.NoError(t, err)
		ids = append(ids, inst.ID)
	}
	listed, err := f.engine.ListProtocols(ctx, "cold")
	require.NoError(t, err)
	require.Len(t, listed, 50)

	_, err = f.engine.GetProtocol(ctx, "cold", ids[0])
	require.NoError(t, err)
	next, err := f.engine.Advance(ctx, console, ids[1])
	require.NoError(t, err)
	require.Equal(t, 1, next.CurrentPhase)
	_, err = f.engine.Delete(ctx, console, ids[2])
	require.NoError(t, err)

	_, err = f.engine.GetProtocol(ctx, "elsewhere", ids[3])
	require.ErrorIs(t, err, protocol.ErrInstanceNotFound)

	require.Zero(t, f.protocols.Evict("cold"))

	// state is served from storage on the next read
	got, err := f.engine.GetProtocol(ctx, "cold", ids[1])
	require.NoError(t, err)
	require.Equal(t, next.Revision, got.Revision)
	require.Equal(t, 1, got.CurrentPhase)
}

func TestEngine_ConnectedMeetingKeepsSignals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.connect(t, "a1", "M1", alice)
	id := a.start(t, "retro")
	a.send(t, engine.MsgActivityTyping, engine.TypingPayload{InstanceID: id, Typing: true})
	a.ack(t)

	_, err := f.engine.ListProtocols(ctx, "M1")
	require.NoError(t, err)
	inst, err := f.engine.GetProtocol(ctx, "M1", id)
	require.NoError(t, err)
	require.True(t, inst.Signals["alice"].Typing)
}

func envelope(t *testing.T, msgType string, payload any) transport.Envelope {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		raw = data
	}
	return transport.Envelope{Type: msgType, Payload: raw}
}
