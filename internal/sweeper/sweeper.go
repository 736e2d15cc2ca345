// Package sweeper runs the scheduled attendance sweep: past activities still
// holding registered participations produce an organizer reminder so the
// outcome (attended/missed) gets confirmed explicitly. The sweep never
// transitions participations itself; only confirmations do.
package sweeper

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"example.com/clubactivities/internal/domain"
	"example.com/clubactivities/internal/observability"
	"example.com/clubactivities/internal/scheduling"
)

const sweepBatchSize = 100

// Sweeper periodically scans for unconfirmed past activities.
type Sweeper struct {
	repo     scheduling.Repository
	notifier scheduling.Notifier
	cron     *cron.Cron
	logger   *log.Logger
	now      func() time.Time
}

// New constructs a Sweeper.
func New(repo scheduling.Repository, notifier scheduling.Notifier) *Sweeper {
	return &Sweeper{
		repo:     repo,
		notifier: notifier,
		cron:     cron.New(),
		logger:   log.New(log.Writer(), "[sweeper] ", log.LstdFlags),
		now:      time.Now,
	}
}

// Start registers the sweep on the given cron spec and launches the
// scheduler. The returned stop function drains a running sweep.
func (s *Sweeper) Start(ctx context.Context, spec string) (stop func(), err error) {
	if _, err := s.cron.AddFunc(spec, func() {
		if err := s.Sweep(ctx); err != nil {
			s.logger.Printf("sweep failed: %v", err)
		}
	}); err != nil {
		return nil, err
	}
	s.cron.Start()
	return func() { <-s.cron.Stop().Done() }, nil
}

// Sweep runs one pass. Notification failures are logged per batch and never
// abort the sweep.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := s.now().UTC()
	instances, err := s.repo.ListUnconfirmedPast(ctx, now, sweepBatchSize)
	if err != nil {
		return err
	}

	for _, inst := range instances {
		participants, err := s.repo.ListParticipants(ctx, inst.ID)
		if err != nil {
			s.logger.Printf("listing participants for %s failed: %v", inst.ID, err)
			continue
		}

		pending := make([]string, 0, len(participants))
		for _, p := range participants {
			if p.Status == domain.ParticipationRegistered {
				pending = append(pending, p.UserID)
			}
		}
		if len(pending) == 0 {
			continue
		}

		n := domain.Notification{
			Kind:        domain.NotificationAttendanceReminder,
			ActivityIDs: []string{inst.ID},
			// The reminder goes to the organizer, who owns the confirmation.
			ParticipantIDs: []string{inst.CreatorID},
		}
		if inst.Series != nil {
			n.SeriesID = inst.Series.SeriesID
		}
		if err := s.notifier.NotifyParticipants(ctx, n); err != nil {
			s.logger.Printf("reminder for %s failed: %v", inst.ID, err)
			observability.RecordNotifyFailure()
		}
	}

	observability.RecordSweep(now)
	return nil
}
