package domain

import "time"

// ParticipationStatus is one user's relationship to one activity instance.
//
// "none" is the absence of a record; it never appears in storage. Attended and
// missed are terminal. Cancelled preserves history, so no status ever
// transitions back to none.
type ParticipationStatus string

const (
	ParticipationNone             ParticipationStatus = "none"
	ParticipationRegistered       ParticipationStatus = "registered"
	ParticipationAwaitingApproval ParticipationStatus = "awaiting_approval"
	ParticipationAttended         ParticipationStatus = "attended"
	ParticipationMissed           ParticipationStatus = "missed"
	ParticipationCancelled        ParticipationStatus = "cancelled"
)

// Counts reports whether the status occupies a capacity slot.
func (s ParticipationStatus) Counts() bool {
	return s == ParticipationRegistered || s == ParticipationAttended || s == ParticipationMissed
}

// Active reports whether the record represents a live (non-cancelled,
// non-none) relationship.
func (s ParticipationStatus) Active() bool {
	return s != ParticipationNone && s != ParticipationCancelled
}

// Terminal reports whether no further transition is legal.
func (s ParticipationStatus) Terminal() bool {
	return s == ParticipationAttended || s == ParticipationMissed
}

// Participation is the per-user record against one activity instance.
type Participation struct {
	UserID      string
	ActivityID  string
	Status      ParticipationStatus
	JoinedAt    time.Time
	ConfirmedAt *time.Time // set only after the scheduled time has passed
	UpdatedAt   time.Time
}
