package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/clubactivities/internal/domain"
	"example.com/clubactivities/internal/persistence/memory"
)

type captureNotifier struct {
	events []domain.Notification
}

func (c *captureNotifier) NotifyParticipants(_ context.Context, n domain.Notification) error {
	c.events = append(c.events, n)
	return nil
}

func TestSweepRemindsOrganizerWithoutTransitioning(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	notifier := &captureNotifier{}

	now := time.Date(2025, time.June, 4, 12, 0, 0, 0, time.UTC)
	past := domain.ActivityInstance{
		ID:        "past-run",
		Title:     "Yesterday's run",
		StartsAt:  now.Add(-20 * time.Hour),
		Sport:     domain.SportRunning,
		Access:    domain.AccessOpen,
		Status:    domain.ActivityActive,
		CreatorID: "organizer",
	}
	require.NoError(t, repo.CreateActivity(ctx, past))
	require.NoError(t, repo.SaveParticipation(ctx, domain.Participation{
		ActivityID: past.ID,
		UserID:     "runner-1",
		Status:     domain.ParticipationRegistered,
		JoinedAt:   now.Add(-40 * time.Hour),
		UpdatedAt:  now.Add(-40 * time.Hour),
	}))

	s := New(repo, notifier)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Sweep(ctx))

	require.Len(t, notifier.events, 1)
	event := notifier.events[0]
	require.Equal(t, domain.NotificationAttendanceReminder, event.Kind)
	require.Equal(t, []string{past.ID}, event.ActivityIDs)
	require.Equal(t, []string{"organizer"}, event.ParticipantIDs)

	// The sweep must never settle the outcome itself.
	p, err := repo.GetParticipation(ctx, past.ID, "runner-1")
	require.NoError(t, err)
	require.Equal(t, domain.ParticipationRegistered, p.Status)

	// Confirmed activities drop out of subsequent sweeps.
	confirmed := now
	require.NoError(t, repo.SaveParticipation(ctx, domain.Participation{
		ActivityID:  past.ID,
		UserID:      "runner-1",
		Status:      domain.ParticipationAttended,
		JoinedAt:    now.Add(-40 * time.Hour),
		ConfirmedAt: &confirmed,
		UpdatedAt:   now,
	}))
	require.NoError(t, s.Sweep(ctx))
	require.Len(t, notifier.events, 1)
}
