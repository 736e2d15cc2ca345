package participation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/clubactivities/internal/domain"
)

var now = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

func upcoming(access domain.AccessMode, capacity *int) domain.ActivityInstance {
	return domain.ActivityInstance{
		ID:       "act-1",
		StartsAt: now.Add(48 * time.Hour),
		Access:   access,
		Capacity: capacity,
		Status:   domain.ActivityActive,
	}
}

func intPtr(v int) *int { return &v }

func TestJoinOpenAccess(t *testing.T) {
	next, err := Next(ActionJoin, Input{
		Activity:   upcoming(domain.AccessOpen, intPtr(10)),
		Current:    domain.ParticipationNone,
		Registered: 3,
		Now:        now,
	})
	require.NoError(t, err)
	require.Equal(t, domain.ParticipationRegistered, next)
}

func TestJoinAfterPriorCancellation(t *testing.T) {
	next, err := Next(ActionJoin, Input{
		Activity: upcoming(domain.AccessOpen, nil),
		Current:  domain.ParticipationCancelled,
		Now:      now,
	})
	require.NoError(t, err)
	require.Equal(t, domain.ParticipationRegistered, next)
}

func TestJoinRejectedAtCapacity(t *testing.T) {
	_, err := Next(ActionJoin, Input{
		Activity:   upcoming(domain.AccessOpen, intPtr(5)),
		Current:    domain.ParticipationNone,
		Registered: 5,
		Now:        now,
	})
	require.ErrorIs(t, err, domain.ErrCapacityExceeded)
}

func TestJoinRejectedOncePast(t *testing.T) {
	act := upcoming(domain.AccessOpen, nil)
	act.StartsAt = now.Add(-time.Hour)
	_, err := Next(ActionJoin, Input{Activity: act, Current: domain.ParticipationNone, Now: now})
	require.ErrorIs(t, err, domain.ErrAlreadyPast)
}

func TestApprovalFlowNeverAutoRegisters(t *testing.T) {
	act := upcoming(domain.AccessApproval, nil)

	next, err := Next(ActionRequestJoin, Input{Activity: act, Current: domain.ParticipationNone, Now: now})
	require.NoError(t, err)
	require.Equal(t, domain.ParticipationAwaitingApproval, next)

	// Joining directly is illegal while the activity requires approval.
	_, err = Next(ActionJoin, Input{Activity: act, Current: domain.ParticipationNone, Now: now})
	require.ErrorIs(t, err, domain.ErrIllegalTransition)

	// Only an explicit organizer approval moves the request forward.
	_, err = Next(ActionApprove, Input{Activity: act, Current: domain.ParticipationAwaitingApproval, Now: now})
	require.ErrorIs(t, err, domain.ErrForbidden)

	next, err = Next(ActionApprove, Input{Activity: act, Current: domain.ParticipationAwaitingApproval, Organizer: true, Now: now})
	require.NoError(t, err)
	require.Equal(t, domain.ParticipationRegistered, next)
}

func TestRejectCancelsRequest(t *testing.T) {
	act := upcoming(domain.AccessApproval, nil)
	next, err := Next(ActionReject, Input{Activity: act, Current: domain.ParticipationAwaitingApproval, Organizer: true, Now: now})
	require.NoError(t, err)
	require.Equal(t, domain.ParticipationCancelled, next)
}

func TestLeaveIsIdempotentOnCancelled(t *testing.T) {
	next, err := Next(ActionLeave, Input{
		Activity: upcoming(domain.AccessOpen, nil),
		Current:  domain.ParticipationCancelled,
		Now:      now,
	})
	require.NoError(t, err)
	require.Equal(t, domain.ParticipationCancelled, next)
}

func TestLeaveRejectedOncePast(t *testing.T) {
	act := upcoming(domain.AccessOpen, nil)
	act.StartsAt = now.Add(-time.Minute)
	_, err := Next(ActionLeave, Input{Activity: act, Current: domain.ParticipationRegistered, Now: now})
	require.ErrorIs(t, err, domain.ErrAlreadyPast)
}

func TestAttendanceConfirmation(t *testing.T) {
	act := upcoming(domain.AccessOpen, nil)
	act.StartsAt = now.Add(-2 * time.Hour)

	// Before the scheduled time has passed, confirmation is illegal.
	future := upcoming(domain.AccessOpen, nil)
	_, err := Next(ActionConfirmAttended, Input{Activity: future, Current: domain.ParticipationRegistered, Organizer: true, Now: now})
	require.ErrorIs(t, err, domain.ErrIllegalTransition)

	// Non-organizer, non-self confirmation is forbidden.
	_, err = Next(ActionConfirmAttended, Input{Activity: act, Current: domain.ParticipationRegistered, Now: now})
	require.ErrorIs(t, err, domain.ErrForbidden)

	next, err := Next(ActionConfirmAttended, Input{Activity: act, Current: domain.ParticipationRegistered, Organizer: true, Now: now})
	require.NoError(t, err)
	require.Equal(t, domain.ParticipationAttended, next)

	next, err = Next(ActionConfirmMissed, Input{Activity: act, Current: domain.ParticipationRegistered, Organizer: true, Now: now})
	require.NoError(t, err)
	require.Equal(t, domain.ParticipationMissed, next)

	next, err = Next(ActionConfirmAttended, Input{Activity: act, Current: domain.ParticipationRegistered, SelfConfirm: true, Now: now})
	require.NoError(t, err)
	require.Equal(t, domain.ParticipationAttended, next)
}

func TestTerminalStatesStayTerminal(t *testing.T) {
	act := upcoming(domain.AccessOpen, nil)
	act.StartsAt = now.Add(-2 * time.Hour)

	for _, current := range []domain.ParticipationStatus{domain.ParticipationAttended, domain.ParticipationMissed} {
		_, err := Next(ActionLeave, Input{Activity: act, Current: current, Now: now})
		require.ErrorIs(t, err, domain.ErrIllegalTransition)

		_, err = Next(ActionConfirmAttended, Input{Activity: act, Current: current, Organizer: true, Now: now})
		require.ErrorIs(t, err, domain.ErrIllegalTransition)
	}
}
