package activity

import "github.com/samber/lo"

// UserActivityCount counts participants that are currently typing.
// Signals from users outside the participant set are ignored.
func UserActivityCount(s Snapshot) int {
	return lo.CountBy(s.Participants, func(user string) bool {
		return s.Signals[user].Typing
	})
}

// IsSoloStateCompleted reports whether the observer completed the current solo phase.
func IsSoloStateCompleted(s Snapshot, observer string) bool {
	if !s.Solo {
		return false
	}
	if !lo.Contains(s.Participants, observer) {
		return false
	}
	return s.Signals[observer].Completed
}

// BusyUsersCount counts participants other than the observer that have not
// completed the current solo phase. It is zero for collective phases.
func BusyUsersCount(s Snapshot, observer string) int {
	if !s.Solo {
		return 0
	}
	return lo.CountBy(s.Participants, func(user string) bool {
		return user != observer && !s.Signals[user].Completed
	})
}

// IsEveryoneDone reports whether no participant is still busy. An empty
// participant set is trivially done.
func IsEveryoneDone(s Snapshot) bool {
	return BusyUsersCount(s, "") == 0
}

// ReadyForNextPhase is the facilitator flag for collective phases and
// IsEveryoneDone for solo phases.
func ReadyForNextPhase(s Snapshot) bool {
	if s.Solo {
		return IsEveryoneDone(s)
	}
	return s.ReadyFlag
}

// Derive computes every aggregate for one observer.
func Derive(s Snapshot, observer string) View {
	return View{
		UserActivityCount:    UserActivityCount(s),
		IsSoloStateCompleted: IsSoloStateCompleted(s, observer),
		BusyUsersCount:       BusyUsersCount(s, observer),
		IsEveryoneDone:       IsEveryoneDone(s),
		ReadyForNextPhase:    ReadyForNextPhase(s),
	}
}
