package protocol

// StartRequest starts a new protocol instance in a meeting.
type StartRequest struct {
	MeetingID string
	TypeName  string
	StartedBy string
}

// SubmitItemRequest adds an item to an instance.
type SubmitItemRequest struct {
	InstanceID string
	AuthorID   string
	Type       ItemType
	ParentID   *string
	Text       string
	Mark       Mark
	// Phase, when set, must equal the instance's current phase.
	Phase *int
}

// SignalRequest updates one user's activity signal in the current phase.
type SignalRequest struct {
	InstanceID string
	UserID     string
	Value      bool
	// Phase, when set, must equal the instance's current phase.
	Phase *int
}

// DeleteResult describes a deleted instance.
type DeleteResult struct {
	Instance  *Instance
	Retracted int
}
