package history

import "time"

// EventType represents the type of a meeting history event
type EventType string

const (
	TypeProtocolStarted   EventType = "protocol_started"
	TypePhaseAdvanced     EventType = "phase_advanced"
	TypePhaseRewound      EventType = "phase_rewound"
	TypeReadyMarked       EventType = "ready_marked"
	TypeProtocolCompleted EventType = "protocol_completed"
	TypeProtocolDeleted   EventType = "protocol_deleted"
	TypeItemSubmitted     EventType = "item_submitted"
	TypeParticipantLeft   EventType = "participant_left"
)

// Entry represents an event in a meeting's history log
type Entry struct {
	ID         int64     `json:"id"`
	MeetingID  string    `json:"meeting_id"`
	ProtocolID *string   `json:"protocol_id,omitempty"`
	UserID     string    `json:"user_id"`
	EventType  EventType `json:"type"`
	Summary    string    `json:"summary"`
	Details    string    `json:"details,omitempty"` // JSON string
	Phase      int       `json:"phase"`
	Revision   int64     `json:"revision"`
	CreatedAt  time.Time `json:"created_at"`
}
