package engine

import (
	"github.com/ganot/meetsync/internal/domain/activity"
	"github.com/ganot/meetsync/internal/domain/protocol"
	"github.com/ganot/meetsync/internal/domain/summary"
	"github.com/ganot/meetsync/internal/presence"
)

// Inbound message types.
const (
	MsgSync             = "sync"
	MsgProtocolStart    = "protocol.start"
	MsgProtocolAdvance  = "protocol.advance"
	MsgProtocolRewind   = "protocol.rewind"
	MsgProtocolReady    = "protocol.markReady"
	MsgProtocolDelete   = "protocol.delete"
	MsgSubmitItem       = "protocol.submitItem"
	MsgActivityTyping   = "activity.typing"
	MsgActivityComplete = "activity.complete"
	MsgMeetingLeave     = "meeting.leave"
)

// Outbound message types.
const (
	MsgAck             = "ack"
	MsgError           = "error"
	MsgProtocolState   = "protocol.state"
	MsgProtocolDeleted = "protocol.deleted"
	MsgSummaryUpdated  = "summary.updated"
	MsgPresenceUpdated = "presence.updated"
	MsgSyncState       = "sync.state"
)

type StartPayload struct {
	Type string `json:"type" validate:"required"`
}

type InstancePayload struct {
	InstanceID string `json:"instance_id" validate:"required"`
}

type MarkReadyPayload struct {
	InstanceID string `json:"instance_id" validate:"required"`
	// Ready defaults to true.
	Ready *bool `json:"ready,omitempty"`
}

type SubmitItemPayload struct {
	InstanceID string            `json:"instance_id" validate:"required"`
	Type       protocol.ItemType `json:"type" validate:"required,oneof=Group Item"`
	ParentID   *string           `json:"parent_id,omitempty"`
	Text       string            `json:"text" validate:"required,max=4000"`
	Mark       protocol.Mark     `json:"mark,omitempty" validate:"omitempty,oneof=None Decision Pin Task"`
	Phase      *int              `json:"phase,omitempty"`
}

type TypingPayload struct {
	InstanceID string `json:"instance_id" validate:"required"`
	Typing     bool   `json:"typing"`
	Phase      *int   `json:"phase,omitempty"`
}

type CompletePayload struct {
	InstanceID string `json:"instance_id" validate:"required"`
	// Completed defaults to true.
	Completed *bool `json:"completed,omitempty"`
	Phase     *int  `json:"phase,omitempty"`
}

// StatePayload is one instance as seen by one user.
type StatePayload struct {
	Instance     *protocol.Instance       `json:"instance"`
	Phase        protocol.PhaseDefinition `json:"phase"`
	Activity     activity.View            `json:"activity"`
	Participants []string                 `json:"participants"`
}

type AckPayload struct {
	InstanceID string        `json:"instance_id,omitempty"`
	ItemID     string        `json:"item_id,omitempty"`
	Revision   int64         `json:"revision,omitempty"`
	State      *StatePayload `json:"state,omitempty"`
}

type DeletedPayload struct {
	InstanceID string `json:"instance_id"`
	Retracted  int    `json:"retracted"`
}

type SummaryPayload struct {
	MeetingID string         `json:"meeting_id"`
	Items     []summary.Item `json:"items"`
}

// SyncPayload is the catch-up state sent on connect and on request.
type SyncPayload struct {
	MeetingID string                  `json:"meeting_id"`
	ClientID  string                  `json:"client_id"`
	UserID    string                  `json:"user_id"`
	Role      string                  `json:"role"`
	Protocols []StatePayload          `json:"protocols"`
	Summary   []summary.Item          `json:"summary"`
	Presence  presence.Snapshot       `json:"presence"`
	Types     []protocol.ProtocolType `json:"types"`
}
