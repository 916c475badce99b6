package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/ganot/meetsync/internal/domain/protocol"
	"github.com/ganot/meetsync/internal/engine"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/samber/lo"
)

type tools struct {
	console Console
}

func registerTools(server *sdkmcp.Server, console Console) {
	t := &tools{console: console}

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_protocol_types",
		Description: "List the protocol types that can be started, with their phases",
	}, t.listProtocolTypes)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_protocols",
		Description: "List every protocol instance of a meeting with its current phase and readiness",
	}, t.listProtocols)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_protocol",
		Description: "Get one protocol instance including its items",
	}, t.getProtocol)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "start_protocol",
		Description: "Start a protocol of the given type in a meeting; it begins at its first phase",
	}, t.startProtocol)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "advance_phase",
		Description: "Advance a protocol to its next phase, or complete it from the last phase. Fails with NOT_READY until the phase is ready",
	}, t.advancePhase)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "rewind_phase",
		Description: "Move a protocol back one phase. Items are kept, activity signals are reset",
	}, t.rewindPhase)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "mark_ready",
		Description: "Set or clear the ready flag of the current collective phase",
	}, t.markReady)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "delete_protocol",
		Description: "Delete a protocol instance and retract its summary items",
	}, t.deleteProtocol)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_summary",
		Description: "Get the meeting summary built from completed protocols",
	}, t.getSummary)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_presence",
		Description: "Get the active participants of a meeting",
	}, t.getPresence)
}

// actor builds the engine caller for a console request. Console calls have
// no socket, so every connected client receives the resulting broadcasts.
func actor(ctx context.Context, meetingID string) (engine.Actor, error) {
	id, ok := getIdentity(ctx)
	if !ok {
		return engine.Actor{}, engine.ErrForbidden
	}
	if strings.TrimSpace(meetingID) == "" {
		return engine.Actor{}, fmt.Errorf("%w: meeting_id is required", engine.ErrInvalidPayload)
	}
	return engine.Actor{Identity: id, MeetingID: meetingID}, nil
}

func (t *tools) view(inst *protocol.Instance) InstanceView {
	return toInstanceView(inst, t.console.View(inst, ""))
}

func (t *tools) listProtocolTypes(_ context.Context, _ *sdkmcp.CallToolRequest, _ struct{}) (*sdkmcp.CallToolResult, ProtocolTypesResult, error) {
	return nil, toProtocolTypes(t.console.Catalog()), nil
}

func (t *tools) listProtocols(ctx context.Context, _ *sdkmcp.CallToolRequest, in MeetingParams) (*sdkmcp.CallToolResult, ListProtocolsResult, error) {
	a, err := actor(ctx, in.MeetingID)
	if err != nil {
		return nil, ListProtocolsResult{}, toolError(err)
	}
	instances, err := t.console.ListProtocols(ctx, a.MeetingID)
	if err != nil {
		return nil, ListProtocolsResult{}, toolError(err)
	}
	return nil, ListProtocolsResult{Protocols: lo.Map(instances, func(inst *protocol.Instance, _ int) InstanceView {
		return t.view(inst)
	})}, nil
}

func (t *tools) getProtocol(ctx context.Context, _ *sdkmcp.CallToolRequest, in InstanceParams) (*sdkmcp.CallToolResult, InstanceView, error) {
	a, err := actor(ctx, in.MeetingID)
	if err != nil {
		return nil, InstanceView{}, toolError(err)
	}
	inst, err := t.console.GetProtocol(ctx, a.MeetingID, in.InstanceID)
	if err != nil {
		return nil, InstanceView{}, toolError(err)
	}
	return nil, t.view(inst), nil
}

func (t *tools) startProtocol(ctx context.Context, _ *sdkmcp.CallToolRequest, in StartProtocolParams) (*sdkmcp.CallToolResult, InstanceView, error) {
	return t.mutate(ctx, in.MeetingID, func(a engine.Actor) (*protocol.Instance, error) {
		return t.console.Start(ctx, a, in.Type)
	})
}

func (t *tools) advancePhase(ctx context.Context, _ *sdkmcp.CallToolRequest, in InstanceParams) (*sdkmcp.CallToolResult, InstanceView, error) {
	return t.mutate(ctx, in.MeetingID, func(a engine.Actor) (*protocol.Instance, error) {
		return t.console.Advance(ctx, a, in.InstanceID)
	})
}

func (t *tools) rewindPhase(ctx context.Context, _ *sdkmcp.CallToolRequest, in InstanceParams) (*sdkmcp.CallToolResult, InstanceView, error) {
	return t.mutate(ctx, in.MeetingID, func(a engine.Actor) (*protocol.Instance, error) {
		return t.console.Rewind(ctx, a, in.InstanceID)
	})
}

func (t *tools) markReady(ctx context.Context, _ *sdkmcp.CallToolRequest, in MarkReadyParams) (*sdkmcp.CallToolResult, InstanceView, error) {
	ready := in.Ready == nil || *in.Ready
	return t.mutate(ctx, in.MeetingID, func(a engine.Actor) (*protocol.Instance, error) {
		return t.console.MarkReady(ctx, a, in.InstanceID, ready)
	})
}

func (t *tools) deleteProtocol(ctx context.Context, _ *sdkmcp.CallToolRequest, in InstanceParams) (*sdkmcp.CallToolResult, DeleteProtocolResult, error) {
	a, err := actor(ctx, in.MeetingID)
	if err != nil {
		return nil, DeleteProtocolResult{}, toolError(err)
	}
	res, err := t.console.Delete(ctx, a, in.InstanceID)
	if err != nil {
		return nil, DeleteProtocolResult{}, toolError(err)
	}
	return nil, DeleteProtocolResult{InstanceID: in.InstanceID, Retracted: res.Retracted}, nil
}

func (t *tools) getSummary(ctx context.Context, _ *sdkmcp.CallToolRequest, in MeetingParams) (*sdkmcp.CallToolResult, SummaryResult, error) {
	a, err := actor(ctx, in.MeetingID)
	if err != nil {
		return nil, SummaryResult{}, toolError(err)
	}
	items, err := t.console.Summary(ctx, a.MeetingID)
	if err != nil {
		return nil, SummaryResult{}, toolError(err)
	}
	return nil, toSummaryResult(a.MeetingID, items), nil
}

func (t *tools) getPresence(ctx context.Context, _ *sdkmcp.CallToolRequest, in MeetingParams) (*sdkmcp.CallToolResult, PresenceResult, error) {
	a, err := actor(ctx, in.MeetingID)
	if err != nil {
		return nil, PresenceResult{}, toolError(err)
	}
	return nil, toPresenceResult(t.console.Presence(a.MeetingID)), nil
}

func (t *tools) mutate(ctx context.Context, meetingID string, op func(engine.Actor) (*protocol.Instance, error)) (*sdkmcp.CallToolResult, InstanceView, error) {
	a, err := actor(ctx, meetingID)
	if err != nil {
		return nil, InstanceView{}, toolError(err)
	}
	inst, err := op(a)
	if err != nil {
		return nil, InstanceView{}, toolError(err)
	}
	return nil, t.view(inst), nil
}
