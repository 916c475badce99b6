package history

// ListOptions provides filtering options for listing history.
type ListOptions struct {
	MeetingID  string
	ProtocolID *string
	EventType  *EventType
	Limit      int
	Offset     int
}
