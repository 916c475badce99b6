package summary

import (
	"time"

	"github.com/ganot/meetsync/internal/domain/protocol"
)

// ItemType classifies a summary entry.
type ItemType string

const (
	TypeDecision ItemType = "Decision"
	TypePin      ItemType = "Pin"
	TypeTask     ItemType = "Task"
	TypeNone     ItemType = "None"
)

// Item is a durable entry in a meeting's summary.
type Item struct {
	ID           string   `json:"id"`
	MeetingID    string   `json:"meeting_id"`
	ProtocolID   string   `json:"protocol_id"`
	ProtocolType string   `json:"protocol_type"`
	ItemType     ItemType `json:"item_type"`
	Text         string   `json:"text"`
	SourceItemID string   `json:"source_item_id"`
	// Grouping metadata: the containing group for Items, the child count for Groups.
	GroupID    *string   `json:"group_id,omitempty"`
	GroupTitle string    `json:"group_title,omitempty"`
	ChildCount int       `json:"child_count,omitempty"`
	Position   int       `json:"position"`
	CreatedAt  time.Time `json:"created_at"`
}

func typeFromMark(m protocol.Mark) ItemType {
	switch m {
	case protocol.MarkDecision:
		return TypeDecision
	case protocol.MarkPin:
		return TypePin
	case protocol.MarkTask:
		return TypeTask
	}
	return TypeNone
}
