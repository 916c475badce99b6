// Package engine connects the channel registry, the broadcast hub and the
// protocol services: it turns inbound socket messages into protocol
// operations and fans the resulting state out to the meeting.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ganot/meetsync/internal/domain/activity"
	"github.com/ganot/meetsync/internal/domain/channel"
	"github.com/ganot/meetsync/internal/domain/history"
	"github.com/ganot/meetsync/internal/domain/protocol"
	"github.com/ganot/meetsync/internal/domain/summary"
	"github.com/ganot/meetsync/internal/presence"
	"github.com/ganot/meetsync/internal/transport"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

const metadataPresence = "presence"

// PresencePublisher mirrors presence snapshots outside the process.
type PresencePublisher interface {
	Publish(ctx context.Context, s presence.Snapshot) error
	Clear(ctx context.Context, meetingID string) error
}

// Deps contains everything the engine needs. Presence and Logger are optional.
type Deps struct {
	Registry  *channel.Registry
	Hub       *transport.Hub
	Protocols *protocol.Service
	Summary   *summary.Service
	History   *history.Service
	Presence  PresencePublisher
	Logger    *slog.Logger
}

// Actor is the caller of an engine operation. ClientID is empty for callers
// without a socket, such as the facilitator console.
type Actor struct {
	transport.Identity
	MeetingID string
	ClientID  string
}

// Engine is the meeting synchronization engine.
type Engine struct {
	registry  *channel.Registry
	hub       *transport.Hub
	protocols *protocol.Service
	summaries *summary.Service
	history   *history.Service
	presence  PresencePublisher
	validate  *validator.Validate
	logger    *slog.Logger

	// clientID -> transport.Identity
	clients sync.Map
}

// New creates an engine and subscribes it to registry membership events.
func New(deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &Engine{
		registry:  deps.Registry,
		hub:       deps.Hub,
		protocols: deps.Protocols,
		summaries: deps.Summary,
		history:   deps.History,
		presence:  deps.Presence,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
	}
	e.registry.Subscribe(e.onMembership)
	return e
}

// Connect joins a new socket to its meeting and sends it the catch-up state.
func (e *Engine) Connect(ctx context.Context, clientID, meetingID string, id transport.Identity) error {
	if err := e.registry.Join(meetingID, clientID, id.UserID); err != nil {
		return fmt.Errorf("joining meeting: %w", err)
	}
	e.clients.Store(clientID, id)

	e.refreshPresence(ctx, meetingID)

	actor := Actor{Identity: id, MeetingID: meetingID, ClientID: clientID}
	state, err := e.Sync(ctx, actor)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to build sync state", "client_id", clientID, "meeting_id", meetingID, "error", err)
		e.hub.Send(ctx, clientID, MsgError, MapError(err).Payload())
	} else {
		e.hub.Send(ctx, clientID, MsgSyncState, state)
	}

	// The participant set changed, so every open instance's readiness did too.
	e.broadcastMeeting(ctx, meetingID, clientID)
	return nil
}

// Disconnect removes a socket from its meeting. Unknown clients are ignored.
func (e *Engine) Disconnect(ctx context.Context, clientID string) {
	e.clients.Delete(clientID)
	meetingID, ok := e.registry.ChannelForClient(clientID)
	e.registry.Leave(clientID)
	if !ok || len(e.registry.Members(meetingID)) == 0 {
		return
	}
	e.refreshPresence(ctx, meetingID)
	e.broadcastMeeting(ctx, meetingID, "")
}

// HandleMessage dispatches one inbound message and answers the sender with
// an ack, a sync state or an error.
func (e *Engine) HandleMessage(ctx context.Context, clientID string, env transport.Envelope) {
	actor, err := e.actor(clientID)
	if err == nil {
		var msgType string
		var reply any
		msgType, reply, err = e.dispatch(ctx, actor, env)
		if err == nil {
			e.hub.Reply(ctx, clientID, msgType, env.RequestID, reply)
			return
		}
	}

	apiErr := MapError(err)
	if apiErr.Code == "INTERNAL" {
		e.logger.ErrorContext(ctx, "message failed", "client_id", clientID, "type", env.Type, "error", err)
	} else {
		e.logger.DebugContext(ctx, "message rejected", "client_id", clientID, "type", env.Type, "code", apiErr.Code)
	}
	e.hub.Reply(ctx, clientID, MsgError, env.RequestID, apiErr.Payload())
}

func (e *Engine) dispatch(ctx context.Context, actor Actor, env transport.Envelope) (string, any, error) {
	switch env.Type {
	case MsgSync:
		state, err := e.Sync(ctx, actor)
		return MsgSyncState, state, err
	case MsgProtocolStart:
		var req StartPayload
		if err := e.decode(env.Payload, &req); err != nil {
			return "", nil, err
		}
		inst, err := e.Start(ctx, actor, req.Type)
		return e.ack(actor, inst, "", err)
	case MsgProtocolAdvance:
		var req InstancePayload
		if err := e.decode(env.Payload, &req); err != nil {
			return "", nil, err
		}
		inst, err := e.Advance(ctx, actor, req.InstanceID)
		return e.ack(actor, inst, "", err)
	case MsgProtocolRewind:
		var req InstancePayload
		if err := e.decode(env.Payload, &req); err != nil {
			return "", nil, err
		}
		inst, err := e.Rewind(ctx, actor, req.InstanceID)
		return e.ack(actor, inst, "", err)
	case MsgProtocolReady:
		var req MarkReadyPayload
		if err := e.decode(env.Payload, &req); err != nil {
			return "", nil, err
		}
		inst, err := e.MarkReady(ctx, actor, req.InstanceID, boolOr(req.Ready, true))
		return e.ack(actor, inst, "", err)
	case MsgProtocolDelete:
		var req InstancePayload
		if err := e.decode(env.Payload, &req); err != nil {
			return "", nil, err
		}
		if _, err := e.Delete(ctx, actor, req.InstanceID); err != nil {
			return "", nil, err
		}
		return MsgAck, AckPayload{InstanceID: req.InstanceID}, nil
	case MsgSubmitItem:
		var req SubmitItemPayload
		if err := e.decode(env.Payload, &req); err != nil {
			return "", nil, err
		}
		item, inst, err := e.SubmitItem(ctx, actor, req)
		if err != nil {
			return "", nil, err
		}
		return e.ack(actor, inst, item.ID, nil)
	case MsgActivityTyping:
		var req TypingPayload
		if err := e.decode(env.Payload, &req); err != nil {
			return "", nil, err
		}
		inst, err := e.signal(ctx, actor, req.InstanceID, func(ctx context.Context) (*protocol.Instance, error) {
			return e.protocols.SetTyping(ctx, protocol.SignalRequest{
				InstanceID: req.InstanceID,
				UserID:     actor.UserID,
				Value:      req.Typing,
				Phase:      req.Phase,
			})
		})
		return e.ack(actor, inst, "", err)
	case MsgActivityComplete:
		var req CompletePayload
		if err := e.decode(env.Payload, &req); err != nil {
			return "", nil, err
		}
		inst, err := e.signal(ctx, actor, req.InstanceID, func(ctx context.Context) (*protocol.Instance, error) {
			return e.protocols.SetCompleted(ctx, protocol.SignalRequest{
				InstanceID: req.InstanceID,
				UserID:     actor.UserID,
				Value:      boolOr(req.Completed, true),
				Phase:      req.Phase,
			})
		})
		return e.ack(actor, inst, "", err)
	case MsgMeetingLeave:
		if err := e.Leave(ctx, actor); err != nil {
			return "", nil, err
		}
		return MsgAck, AckPayload{}, nil
	default:
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
}

// Sync returns everything a (re)connecting client needs to render the meeting.
func (e *Engine) Sync(ctx context.Context, actor Actor) (*SyncPayload, error) {
	instances, err := e.protocols.ListByMeeting(ctx, actor.MeetingID)
	if err != nil {
		return nil, err
	}
	items, err := e.summaries.ListByMeeting(ctx, actor.MeetingID)
	if err != nil {
		return nil, err
	}

	participants := e.registry.Participants(actor.MeetingID)
	states := lo.Map(instances, func(inst *protocol.Instance, _ int) StatePayload {
		return *e.stateFor(inst, inst.Snapshot(participants), actor.UserID)
	})

	return &SyncPayload{
		MeetingID: actor.MeetingID,
		ClientID:  actor.ClientID,
		UserID:    actor.UserID,
		Role:      actor.Role,
		Protocols: states,
		Summary:   items,
		Presence:  e.Presence(actor.MeetingID),
		Types:     e.protocols.Catalog().List(),
	}, nil
}

// Start begins a protocol in the actor's meeting.
func (e *Engine) Start(ctx context.Context, actor Actor, typeName string) (*protocol.Instance, error) {
	defer e.releaseIfIdle(actor.MeetingID)
	if err := authorize(actor); err != nil {
		return nil, err
	}
	inst, err := e.protocols.Start(ctx, protocol.StartRequest{
		MeetingID: actor.MeetingID,
		TypeName:  typeName,
		StartedBy: actor.UserID,
	})
	if err != nil {
		return nil, err
	}
	e.record(ctx, inst, actor.UserID, history.TypeProtocolStarted,
		fmt.Sprintf("started %s", inst.Type.Name), map[string]any{"type": inst.Type.Name, "phases": len(inst.Type.Phases)})
	e.broadcastState(ctx, inst, actor.ClientID)
	return inst, nil
}

// Advance moves an instance forward, completing it from its last phase.
func (e *Engine) Advance(ctx context.Context, actor Actor, instanceID string) (*protocol.Instance, error) {
	defer e.releaseIfIdle(actor.MeetingID)
	if err := authorize(actor); err != nil {
		return nil, err
	}
	if err := e.checkMeeting(ctx, actor, instanceID); err != nil {
		return nil, err
	}
	inst, err := e.protocols.Advance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if inst.Completed {
		e.record(ctx, inst, actor.UserID, history.TypeProtocolCompleted,
			fmt.Sprintf("completed %s", inst.Type.Name), nil)
		e.broadcastState(ctx, inst, actor.ClientID)
		e.broadcastSummary(ctx, inst.MeetingID)
		return inst, nil
	}

	e.record(ctx, inst, actor.UserID, history.TypePhaseAdvanced,
		fmt.Sprintf("advanced to %s", inst.Phase().ActivityLabel), nil)
	e.broadcastState(ctx, inst, actor.ClientID)
	return inst, nil
}

// Rewind moves an instance back one phase.
func (e *Engine) Rewind(ctx context.Context, actor Actor, instanceID string) (*protocol.Instance, error) {
	defer e.releaseIfIdle(actor.MeetingID)
	if err := authorize(actor); err != nil {
		return nil, err
	}
	if err := e.checkMeeting(ctx, actor, instanceID); err != nil {
		return nil, err
	}
	inst, err := e.protocols.Rewind(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	e.record(ctx, inst, actor.UserID, history.TypePhaseRewound,
		fmt.Sprintf("went back to %s", inst.Phase().ActivityLabel), nil)
	e.broadcastState(ctx, inst, actor.ClientID)
	return inst, nil
}

// MarkReady sets or clears the ready flag of the current collective phase.
func (e *Engine) MarkReady(ctx context.Context, actor Actor, instanceID string, ready bool) (*protocol.Instance, error) {
	defer e.releaseIfIdle(actor.MeetingID)
	if err := authorize(actor); err != nil {
		return nil, err
	}
	if err := e.checkMeeting(ctx, actor, instanceID); err != nil {
		return nil, err
	}
	inst, err := e.protocols.MarkReady(ctx, instanceID, ready)
	if err != nil {
		return nil, err
	}
	e.record(ctx, inst, actor.UserID, history.TypeReadyMarked,
		fmt.Sprintf("marked %s ready=%t", inst.Phase().ActivityLabel, ready), nil)
	e.broadcastState(ctx, inst, actor.ClientID)
	return inst, nil
}

// Delete removes an instance and retracts its summary contribution.
func (e *Engine) Delete(ctx context.Context, actor Actor, instanceID string) (*protocol.DeleteResult, error) {
	defer e.releaseIfIdle(actor.MeetingID)
	if err := authorize(actor); err != nil {
		return nil, err
	}
	if err := e.checkMeeting(ctx, actor, instanceID); err != nil {
		return nil, err
	}
	res, err := e.protocols.Delete(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	e.record(ctx, res.Instance, actor.UserID, history.TypeProtocolDeleted,
		fmt.Sprintf("deleted %s", res.Instance.Type.Name), map[string]any{"retracted": res.Retracted})

	e.hub.Broadcast(ctx, actor.MeetingID, MsgProtocolDeleted, DeletedPayload{InstanceID: instanceID, Retracted: res.Retracted}, actor.ClientID)
	if res.Retracted > 0 {
		e.broadcastSummary(ctx, actor.MeetingID)
	}
	return res, nil
}

// SubmitItem adds an item to an instance in the actor's meeting.
func (e *Engine) SubmitItem(ctx context.Context, actor Actor, req SubmitItemPayload) (*protocol.Item, *protocol.Instance, error) {
	defer e.releaseIfIdle(actor.MeetingID)
	if err := e.checkMeeting(ctx, actor, req.InstanceID); err != nil {
		return nil, nil, err
	}
	item, inst, err := e.protocols.SubmitItem(ctx, protocol.SubmitItemRequest{
		InstanceID: req.InstanceID,
		AuthorID:   actor.UserID,
		Type:       req.Type,
		ParentID:   req.ParentID,
		Text:       req.Text,
		Mark:       req.Mark,
		Phase:      req.Phase,
	})
	if err != nil {
		return nil, nil, err
	}
	e.record(ctx, inst, actor.UserID, history.TypeItemSubmitted,
		fmt.Sprintf("added %s", item.Type), map[string]any{"item_id": item.ID})
	e.broadcastState(ctx, inst, actor.ClientID)
	return item, inst, nil
}

// Leave removes the actor's user from the active participant set without
// closing any socket. Joining again restores it.
func (e *Engine) Leave(ctx context.Context, actor Actor) error {
	if err := e.registry.MarkLeft(actor.MeetingID, actor.UserID); err != nil {
		return err
	}
	e.recordMeeting(ctx, actor.MeetingID, actor.UserID, history.TypeParticipantLeft, "left the meeting")
	e.refreshPresence(ctx, actor.MeetingID)
	e.broadcastMeeting(ctx, actor.MeetingID, "")
	return nil
}

func (e *Engine) signal(ctx context.Context, actor Actor, instanceID string, apply func(context.Context) (*protocol.Instance, error)) (*protocol.Instance, error) {
	if err := e.checkMeeting(ctx, actor, instanceID); err != nil {
		return nil, err
	}
	inst, err := apply(ctx)
	if err != nil {
		return nil, err
	}
	e.broadcastState(ctx, inst, actor.ClientID)
	return inst, nil
}

// ListProtocols returns every instance of a meeting.
func (e *Engine) ListProtocols(ctx context.Context, meetingID string) ([]*protocol.Instance, error) {
	defer e.releaseIfIdle(meetingID)
	return e.protocols.ListByMeeting(ctx, meetingID)
}

// GetProtocol returns one instance of a meeting.
func (e *Engine) GetProtocol(ctx context.Context, meetingID, instanceID string) (*protocol.Instance, error) {
	inst, err := e.getProtocol(ctx, meetingID, instanceID)
	if inst != nil {
		e.releaseIfIdle(inst.MeetingID)
	}
	return inst, err
}

func (e *Engine) getProtocol(ctx context.Context, meetingID, instanceID string) (*protocol.Instance, error) {
	inst, err := e.protocols.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.MeetingID != meetingID {
		e.releaseIfIdle(inst.MeetingID)
		return nil, protocol.ErrInstanceNotFound
	}
	return inst, nil
}

// Summary returns a meeting's summary items.
func (e *Engine) Summary(ctx context.Context, meetingID string) ([]summary.Item, error) {
	return e.summaries.ListByMeeting(ctx, meetingID)
}

// History returns a meeting's history, newest first.
func (e *Engine) History(ctx context.Context, meetingID string, opts history.ListOptions) ([]history.Entry, error) {
	opts.MeetingID = meetingID
	return e.history.Recent(ctx, opts)
}

// Presence returns the cached presence of a meeting.
func (e *Engine) Presence(meetingID string) presence.Snapshot {
	if md, ok := e.registry.Metadata(meetingID); ok {
		if snap, ok := md[metadataPresence].(presence.Snapshot); ok {
			return snap
		}
	}
	return presence.Snapshot{MeetingID: meetingID, Users: []string{}}
}

// Catalog returns the protocol types that can be started.
func (e *Engine) Catalog() []protocol.ProtocolType {
	return e.protocols.Catalog().List()
}

// View derives the activity aggregates of an instance for one observer.
func (e *Engine) View(inst *protocol.Instance, userID string) activity.View {
	return activity.Derive(e.protocols.Snapshot(inst), userID)
}

func (e *Engine) actor(clientID string) (Actor, error) {
	v, ok := e.clients.Load(clientID)
	if !ok {
		return Actor{}, ErrUnknownClient
	}
	meetingID, ok := e.registry.ChannelForClient(clientID)
	if !ok {
		return Actor{}, ErrUnknownClient
	}
	return Actor{Identity: v.(transport.Identity), MeetingID: meetingID, ClientID: clientID}, nil
}

func authorize(actor Actor) error {
	if !actor.IsFacilitator() {
		return ErrForbidden
	}
	return nil
}

// checkMeeting rejects instances that belong to another meeting as unknown.
func (e *Engine) checkMeeting(ctx context.Context, actor Actor, instanceID string) error {
	if instanceID == "" {
		return fmt.Errorf("%w: instance_id is required", ErrInvalidPayload)
	}
	_, err := e.getProtocol(ctx, actor.MeetingID, instanceID)
	return err
}

func (e *Engine) decode(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := e.validate.Struct(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func (e *Engine) ack(actor Actor, inst *protocol.Instance, itemID string, err error) (string, any, error) {
	if err != nil {
		return "", nil, err
	}
	state := e.stateFor(inst, e.protocols.Snapshot(inst), actor.UserID)
	return MsgAck, AckPayload{InstanceID: inst.ID, ItemID: itemID, Revision: inst.Revision, State: state}, nil
}

func (e *Engine) stateFor(inst *protocol.Instance, snap activity.Snapshot, userID string) *StatePayload {
	participants := snap.Participants
	if participants == nil {
		participants = []string{}
	}
	return &StatePayload{
		Instance:     inst,
		Phase:        inst.Phase(),
		Activity:     activity.Derive(snap, userID),
		Participants: participants,
	}
}

// broadcastState sends every member its own view of the instance.
func (e *Engine) broadcastState(ctx context.Context, inst *protocol.Instance, exclude string) {
	snap := e.protocols.Snapshot(inst)
	e.hub.BroadcastEach(ctx, inst.MeetingID, MsgProtocolState, exclude, func(clientID string) any {
		userID, ok := e.registry.UserForClient(clientID)
		if !ok {
			return nil
		}
		return e.stateFor(inst, snap, userID)
	})
}

// broadcastMeeting re-sends the state of every open instance of the meeting.
func (e *Engine) broadcastMeeting(ctx context.Context, meetingID, exclude string) {
	instances, err := e.protocols.ListByMeeting(ctx, meetingID)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to list meeting protocols", "meeting_id", meetingID, "error", err)
		return
	}
	for _, inst := range lo.Filter(instances, func(inst *protocol.Instance, _ int) bool { return !inst.Completed }) {
		e.broadcastState(ctx, inst, exclude)
	}
}

func (e *Engine) broadcastSummary(ctx context.Context, meetingID string) {
	items, err := e.summaries.ListByMeeting(ctx, meetingID)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to list summary", "meeting_id", meetingID, "error", err)
		return
	}
	e.hub.Broadcast(ctx, meetingID, MsgSummaryUpdated, SummaryPayload{MeetingID: meetingID, Items: items}, "")
}

func (e *Engine) refreshPresence(ctx context.Context, meetingID string) {
	snap := presence.Snapshot{
		MeetingID: meetingID,
		Users:     e.registry.Participants(meetingID),
		Clients:   len(e.registry.Members(meetingID)),
		UpdatedAt: time.Now().UTC(),
	}
	if err := e.registry.UpdateMetadata(meetingID, func(md channel.Metadata) {
		md[metadataPresence] = snap
	}); err != nil {
		// the meeting emptied in the meantime
		return
	}
	e.hub.Broadcast(ctx, meetingID, MsgPresenceUpdated, snap, "")
	if e.presence != nil {
		if err := e.presence.Publish(ctx, snap); err != nil {
			e.logger.WarnContext(ctx, "failed to mirror presence", "meeting_id", meetingID, "error", err)
		}
	}
}

// onMembership drops the working set of a meeting once its last client leaves.
func (e *Engine) onMembership(ev channel.Event) {
	if ev.Kind != channel.EventLeft || !ev.Empty {
		return
	}
	n := e.protocols.Evict(ev.ChannelID)
	e.logger.Debug("meeting emptied", "meeting_id", ev.ChannelID, "evicted", n)
	if e.presence != nil {
		if err := e.presence.Clear(context.Background(), ev.ChannelID); err != nil {
			e.logger.Warn("failed to clear presence", "meeting_id", ev.ChannelID, "error", err)
		}
	}
}

// releaseIfIdle drops the cached instances of a meeting nobody is connected to.
func (e *Engine) releaseIfIdle(meetingID string) {
	if len(e.registry.Members(meetingID)) > 0 {
		return
	}
	if n := e.protocols.Evict(meetingID); n > 0 {
		e.logger.Debug("released idle meeting", "meeting_id", meetingID, "evicted", n)
	}
}

func (e *Engine) record(ctx context.Context, inst *protocol.Instance, userID string, typ history.EventType, text string, details map[string]any) {
	entry := &history.Entry{
		MeetingID:  inst.MeetingID,
		ProtocolID: lo.ToPtr(inst.ID),
		UserID:     userID,
		EventType:  typ,
		Summary:    text,
		Phase:      inst.CurrentPhase,
		Revision:   inst.Revision,
	}
	if len(details) > 0 {
		if data, err := json.Marshal(details); err == nil {
			entry.Details = string(data)
		}
	}
	if err := e.history.Record(ctx, entry); err != nil {
		e.logger.WarnContext(ctx, "failed to record history", "meeting_id", inst.MeetingID, "type", typ, "error", err)
	}
}

func (e *Engine) recordMeeting(ctx context.Context, meetingID, userID string, typ history.EventType, text string) {
	if err := e.history.Record(ctx, &history.Entry{MeetingID: meetingID, UserID: userID, EventType: typ, Summary: text}); err != nil {
		e.logger.WarnContext(ctx, "failed to record history", "meeting_id", meetingID, "type", typ, "error", err)
	}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
