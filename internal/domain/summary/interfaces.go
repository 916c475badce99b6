package summary

import "context"

// Repository provides persistence for summary items.
type Repository interface {
	Append(ctx context.Context, items []Item) error
	ListByMeeting(ctx context.Context, meetingID string) ([]Item, error)
	DeleteByProtocol(ctx context.Context, protocolID string) (int, error)
}
