package activity

// Signal is the ephemeral per-user state for the current phase.
type Signal struct {
	Typing    bool `json:"typing"`
	Completed bool `json:"completed"`
}

// Snapshot is the input to every derivation: the raw signals of the current
// phase and the active participant set of the meeting channel.
type Snapshot struct {
	Solo         bool
	ReadyFlag    bool
	Signals      map[string]Signal
	Participants []string
}

// View holds the derived values for one observing user.
type View struct {
	UserActivityCount    int  `json:"user_activity_count"`
	IsSoloStateCompleted bool `json:"is_solo_state_completed"`
	BusyUsersCount       int  `json:"busy_users_count"`
	IsEveryoneDone       bool `json:"is_everyone_done"`
	ReadyForNextPhase    bool `json:"ready_for_next_phase"`
}
