// Package participation implements the state machine governing one user's
// relationship to one activity instance. It decides transition legality only;
// the authoritative store still has the final word on racy guards such as
// capacity.
package participation

import (
	"fmt"
	"time"

	"example.com/clubactivities/internal/domain"
	"example.com/clubactivities/internal/timeindex"
)

// Action is a user- or organizer-triggered transition request.
type Action string

const (
	ActionJoin            Action = "join"             // none -> registered (open access)
	ActionRequestJoin     Action = "request_join"     // none -> awaiting_approval
	ActionApprove         Action = "approve"          // awaiting_approval -> registered
	ActionReject          Action = "reject"           // awaiting_approval -> cancelled
	ActionLeave           Action = "leave"            // registered -> cancelled
	ActionConfirmAttended Action = "confirm_attended" // registered -> attended, post-start
	ActionConfirmMissed   Action = "confirm_missed"   // registered -> missed, post-start
)

// Input carries the context the guards need.
type Input struct {
	Activity    domain.ActivityInstance
	Current     domain.ParticipationStatus
	Organizer   bool // acting user is creator or club/group admin
	SelfConfirm bool // attendance confirmation issued by the participant themself
	Registered  int  // current registered count, advisory pre-check only
	Now         time.Time
}

// Next returns the target status for the action, or an error naming the
// violated guard. Leave on an already-cancelled participation is idempotent
// and returns cancelled with no error.
func Next(action Action, in Input) (domain.ParticipationStatus, error) {
	past := timeindex.IsPast(in.Activity.StartsAt, in.Now)

	switch action {
	case ActionJoin:
		if in.Current != domain.ParticipationNone && in.Current != domain.ParticipationCancelled {
			return in.Current, fmt.Errorf("%w: join from %s", domain.ErrIllegalTransition, in.Current)
		}
		if past {
			return in.Current, domain.ErrAlreadyPast
		}
		if in.Activity.Access != domain.AccessOpen {
			return in.Current, fmt.Errorf("%w: activity requires approval", domain.ErrIllegalTransition)
		}
		if capReached(in.Activity.Capacity, in.Registered) {
			return in.Current, domain.ErrCapacityExceeded
		}
		return domain.ParticipationRegistered, nil

	case ActionRequestJoin:
		if in.Current != domain.ParticipationNone && in.Current != domain.ParticipationCancelled {
			return in.Current, fmt.Errorf("%w: request from %s", domain.ErrIllegalTransition, in.Current)
		}
		if past {
			return in.Current, domain.ErrAlreadyPast
		}
		if in.Activity.Access != domain.AccessApproval {
			return in.Current, fmt.Errorf("%w: activity is open access", domain.ErrIllegalTransition)
		}
		return domain.ParticipationAwaitingApproval, nil

	case ActionApprove, ActionReject:
		if !in.Organizer {
			return in.Current, domain.ErrForbidden
		}
		if in.Current != domain.ParticipationAwaitingApproval {
			return in.Current, fmt.Errorf("%w: %s from %s", domain.ErrIllegalTransition, action, in.Current)
		}
		if action == ActionReject {
			return domain.ParticipationCancelled, nil
		}
		if past {
			return in.Current, domain.ErrAlreadyPast
		}
		if capReached(in.Activity.Capacity, in.Registered) {
			return in.Current, domain.ErrCapacityExceeded
		}
		return domain.ParticipationRegistered, nil

	case ActionLeave:
		if in.Current == domain.ParticipationCancelled {
			return domain.ParticipationCancelled, nil
		}
		if in.Current != domain.ParticipationRegistered && in.Current != domain.ParticipationAwaitingApproval {
			return in.Current, fmt.Errorf("%w: leave from %s", domain.ErrIllegalTransition, in.Current)
		}
		if past {
			return in.Current, domain.ErrAlreadyPast
		}
		return domain.ParticipationCancelled, nil

	case ActionConfirmAttended, ActionConfirmMissed:
		if !in.Organizer && !in.SelfConfirm {
			return in.Current, domain.ErrForbidden
		}
		if in.Current != domain.ParticipationRegistered {
			return in.Current, fmt.Errorf("%w: %s from %s", domain.ErrIllegalTransition, action, in.Current)
		}
		if !past {
			return in.Current, fmt.Errorf("%w: %s before scheduled time", domain.ErrIllegalTransition, action)
		}
		if action == ActionConfirmAttended {
			return domain.ParticipationAttended, nil
		}
		return domain.ParticipationMissed, nil
	}

	return in.Current, fmt.Errorf("%w: unknown action %q", domain.ErrIllegalTransition, action)
}

func capReached(capacity *int, registered int) bool {
	return capacity != nil && registered >= *capacity
}
