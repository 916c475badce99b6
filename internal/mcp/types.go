package mcp

import (
	"github.com/ganot/meetsync/internal/domain/activity"
	"github.com/ganot/meetsync/internal/domain/protocol"
	"github.com/ganot/meetsync/internal/domain/summary"
	"github.com/ganot/meetsync/internal/presence"
	"github.com/samber/lo"
)

type MeetingParams struct {
	MeetingID string `json:"meeting_id" jsonschema:"meeting identifier"`
}

type InstanceParams struct {
	MeetingID  string `json:"meeting_id" jsonschema:"meeting identifier"`
	InstanceID string `json:"instance_id" jsonschema:"protocol instance identifier"`
}

type StartProtocolParams struct {
	MeetingID string `json:"meeting_id" jsonschema:"meeting identifier"`
	Type      string `json:"type" jsonschema:"protocol type name, see list_protocol_types"`
}

type MarkReadyParams struct {
	MeetingID  string `json:"meeting_id" jsonschema:"meeting identifier"`
	InstanceID string `json:"instance_id" jsonschema:"protocol instance identifier"`
	Ready      *bool  `json:"ready,omitempty" jsonschema:"ready flag, defaults to true"`
}

// Outputs avoid pointers and timestamps so the inferred output schemas stay
// plain objects and arrays.

type PhaseView struct {
	Index int    `json:"index"`
	Kind  string `json:"kind"`
	Label string `json:"label"`
}

type ItemView struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	ParentID string `json:"parent_id,omitempty"`
	AuthorID string `json:"author_id"`
	Text     string `json:"text"`
	Mark     string `json:"mark"`
	Phase    int    `json:"phase"`
}

type InstanceView struct {
	ID         string      `json:"id"`
	MeetingID  string      `json:"meeting_id"`
	Type       string      `json:"type"`
	Phase      PhaseView   `json:"phase"`
	PhaseCount int         `json:"phase_count"`
	Completed  bool        `json:"completed"`
	ReadyFlag  bool        `json:"ready_flag"`
	Revision   int64       `json:"revision"`
	Items      []ItemView  `json:"items"`
	Activity   ActivityRef `json:"activity"`
}

// ActivityRef is the meeting-wide readiness of the current phase.
type ActivityRef struct {
	TypingUsers       int  `json:"typing_users"`
	BusyUsers         int  `json:"busy_users"`
	EveryoneDone      bool `json:"everyone_done"`
	ReadyForNextPhase bool `json:"ready_for_next_phase"`
}

type ListProtocolsResult struct {
	Protocols []InstanceView `json:"protocols"`
}

type DeleteProtocolResult struct {
	InstanceID string `json:"instance_id"`
	Retracted  int    `json:"retracted"`
}

type SummaryItemView struct {
	ID           string `json:"id"`
	ProtocolID   string `json:"protocol_id"`
	ProtocolType string `json:"protocol_type"`
	ItemType     string `json:"item_type"`
	Text         string `json:"text"`
	GroupTitle   string `json:"group_title,omitempty"`
	ChildCount   int    `json:"child_count,omitempty"`
}

type SummaryResult struct {
	MeetingID string            `json:"meeting_id"`
	Items     []SummaryItemView `json:"items"`
}

type ProtocolTypeView struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Phases      []PhaseView `json:"phases"`
}

type ProtocolTypesResult struct {
	Types []ProtocolTypeView `json:"types"`
}

type PresenceResult struct {
	MeetingID string   `json:"meeting_id"`
	Users     []string `json:"users"`
	Clients   int      `json:"clients"`
}

func toInstanceView(inst *protocol.Instance, view activity.View) InstanceView {
	phase := inst.Phase()
	return InstanceView{
		ID:         inst.ID,
		MeetingID:  inst.MeetingID,
		Type:       inst.Type.Name,
		Phase:      PhaseView{Index: inst.CurrentPhase, Kind: string(phase.Kind), Label: phase.ActivityLabel},
		PhaseCount: len(inst.Type.Phases),
		Completed:  inst.Completed,
		ReadyFlag:  inst.ReadyFlag,
		Revision:   inst.Revision,
		Items: lo.Map(inst.Items, func(it protocol.Item, _ int) ItemView {
			return ItemView{
				ID:       it.ID,
				Type:     string(it.Type),
				ParentID: lo.FromPtr(it.ParentID),
				AuthorID: it.AuthorID,
				Text:     it.Text,
				Mark:     string(it.Mark),
				Phase:    it.Phase,
			}
		}),
		Activity: ActivityRef{
			TypingUsers:       view.UserActivityCount,
			BusyUsers:         view.BusyUsersCount,
			EveryoneDone:      view.IsEveryoneDone,
			ReadyForNextPhase: view.ReadyForNextPhase,
		},
	}
}

func toSummaryResult(meetingID string, items []summary.Item) SummaryResult {
	return SummaryResult{
		MeetingID: meetingID,
		Items: lo.Map(items, func(it summary.Item, _ int) SummaryItemView {
			return SummaryItemView{
				ID:           it.ID,
				ProtocolID:   it.ProtocolID,
				ProtocolType: it.ProtocolType,
				ItemType:     string(it.ItemType),
				Text:         it.Text,
				GroupTitle:   it.GroupTitle,
				ChildCount:   it.ChildCount,
			}
		}),
	}
}

func toProtocolTypes(types []protocol.ProtocolType) ProtocolTypesResult {
	return ProtocolTypesResult{
		Types: lo.Map(types, func(t protocol.ProtocolType, _ int) ProtocolTypeView {
			return ProtocolTypeView{
				Name:        t.Name,
				Description: t.Description,
				Phases: lo.Map(t.Phases, func(p protocol.PhaseDefinition, i int) PhaseView {
					return PhaseView{Index: i, Kind: string(p.Kind), Label: p.ActivityLabel}
				}),
			}
		}),
	}
}

func toPresenceResult(s presence.Snapshot) PresenceResult {
	users := s.Users
	if users == nil {
		users = []string{}
	}
	return PresenceResult{MeetingID: s.MeetingID, Users: users, Clients: s.Clients}
}
