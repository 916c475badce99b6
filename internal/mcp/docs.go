package mcp

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverInstructions = `meetsync runs structured meeting protocols (brainstorms, retros, decisions) in real time.
You act as the facilitator of a meeting.

Core concepts:
- Meeting: identified by meeting_id; participants join it over WebSocket.
- Protocol type: a named sequence of phases. Each phase is solo (everyone works alone, then marks done) or collective (the group works together).
- Protocol instance: one running protocol in a meeting, at exactly one phase.
- Readiness: a solo phase is ready when every active participant completed it; a collective phase is ready when you mark it ready.
- Summary: completing the last phase projects the protocol's items into the meeting summary.

Default workflow:
1) list_protocol_types, then start_protocol(meeting_id, type).
2) Watch list_protocols / get_protocol: activity.busy_users and activity.ready_for_next_phase.
3) advance_phase when ready. NOT_READY means participants are still working; wait and retry.
4) In collective phases call mark_ready first, then advance_phase.
5) Advancing from the last phase completes the protocol; read get_summary.

Docs:
- meetsync://docs/index
- meetsync://docs/phases
- meetsync://docs/errors
`

type docResource struct {
	URI         string
	Name        string
	Title       string
	Description string
	Content     string
}

var docResources = []docResource{
	{
		URI:         "meetsync://docs/index",
		Name:        "docs_index",
		Title:       "meetsync facilitator guide",
		Description: "Entry point: what the console can do and which doc to read when.",
		Content: `# meetsync: Facilitator Guide

## Quick start

1. ` + "`list_protocol_types`" + ` to see what can be run.
2. ` + "`start_protocol`" + ` with a meeting id and a type name.
3. ` + "`get_protocol`" + ` to follow items and readiness.
4. ` + "`advance_phase`" + ` / ` + "`rewind_phase`" + ` / ` + "`mark_ready`" + ` to drive the phases.
5. ` + "`get_summary`" + ` once protocols complete.

## Docs

- ` + "`meetsync://docs/phases`" + ` - solo vs collective phases and readiness.
- ` + "`meetsync://docs/errors`" + ` - error codes and what to do about them.

## Notes

- Every change you make is broadcast to all participants connected to the meeting.
- ` + "`get_presence`" + ` shows who currently counts as an active participant.
- ` + "`delete_protocol`" + ` also removes the protocol's items from the summary.
`,
	},
	{
		URI:         "meetsync://docs/phases",
		Name:        "docs_phases",
		Title:       "Phases and readiness",
		Description: "How solo and collective phases become ready and what advancing or rewinding does.",
		Content: `# Phases and readiness

## Solo phases

Each participant works alone and marks the phase completed from their client.
The phase is ready when no active participant is still busy
(` + "`activity.busy_users == 0`" + `). Participants that left the meeting do not count.

## Collective phases

The group works together. The phase is ready only after you call ` + "`mark_ready`" + `.
` + "`mark_ready`" + ` with ` + "`ready: false`" + ` clears the flag again.

## Advancing

` + "`advance_phase`" + ` requires readiness. It resets every participant's signals
and the ready flag. From the last phase it completes the protocol and writes
its items to the meeting summary; a completed protocol cannot be advanced again.

## Rewinding

` + "`rewind_phase`" + ` ignores readiness and goes back one phase. Items are kept;
signals and the ready flag are reset so participants redo the phase.
`,
	},
	{
		URI:         "meetsync://docs/errors",
		Name:        "docs_errors",
		Title:       "Error codes",
		Description: "Error codes returned by the console tools and how to recover.",
		Content: `# Error codes

| Code | Meaning | What to do |
|---|---|---|
| NOT_READY | the current phase is not ready | wait for participants, or mark_ready in collective phases |
| ALREADY_COMPLETED | the protocol finished | start a new one |
| AT_FIRST_PHASE | nothing to rewind to | none |
| NOT_COLLECTIVE_PHASE | mark_ready in a solo phase | participants complete solo phases themselves |
| INSTANCE_NOT_FOUND | no such protocol in this meeting | list_protocols |
| UNKNOWN_PROTOCOL_TYPE | type not in the catalog | list_protocol_types |
| FORBIDDEN | the caller is not a facilitator | use a facilitator token |
| INVALID_INPUT | missing or malformed arguments | fix the arguments |
| INTERNAL | server error | retry later |
`,
	},
}

func registerDocResources(server *sdkmcp.Server) {
	for _, doc := range docResources {
		server.AddResource(&sdkmcp.Resource{
			URI:         doc.URI,
			Name:        doc.Name,
			Title:       doc.Title,
			Description: doc.Description,
			MIMEType:    "text/markdown",
			Size:        int64(len(doc.Content)),
		}, func(_ context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
			uri := doc.URI
			if req != nil && req.Params != nil && req.Params.URI != "" {
				uri = req.Params.URI
			}
			return &sdkmcp.ReadResourceResult{
				Contents: []*sdkmcp.ResourceContents{{
					URI:      uri,
					MIMEType: "text/markdown",
					Text:     doc.Content,
				}},
			}, nil
		})
	}
}
