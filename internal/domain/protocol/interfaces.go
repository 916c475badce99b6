package protocol

import "context"

// Repository provides durable storage for protocol instances and their items.
type Repository interface {
	Create(ctx context.Context, inst *Instance) error
	Get(ctx context.Context, id string) (*Instance, error)
	ListIDsByMeeting(ctx context.Context, meetingID string) ([]string, error)
	Update(ctx context.Context, inst *Instance) error
	AddItem(ctx context.Context, item *Item) error
	// Delete removes the instance, its items and every summary item it
	// contributed in one transaction, returning the number of summary items removed.
	Delete(ctx context.Context, id string) (int, error)
}

// ParticipantSource resolves the active participants of a meeting.
type ParticipantSource interface {
	Participants(meetingID string) []string
}

// Projector folds a completed instance into the meeting summary.
type Projector interface {
	Project(ctx context.Context, inst *Instance) (int, error)
	Retract(ctx context.Context, instanceID string) (int, error)
}
