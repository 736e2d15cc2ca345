// Package scheduling orchestrates activity and participation workflows: it
// runs the participation state machine, resolves series scopes, and defers
// capacity arbitration to the authoritative repository.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"example.com/clubactivities/internal/domain"
	"example.com/clubactivities/internal/observability"
	"example.com/clubactivities/internal/participation"
	"example.com/clubactivities/internal/series"
)

// ErrInvalidInput rejects requests that violate model invariants before they
// reach the store.
var ErrInvalidInput = errors.New("invalid input")

// Actor is the resolved identity of the calling user. Identity resolution
// happens upstream; the service only reads it.
type Actor struct {
	UserID        string
	AdminClubIDs  []string
	AdminGroupIDs []string
}

// IsOrganizer reports whether the actor may run organizer-only operations on
// the instance: its creator, or an admin of the club/group it is bound to.
func (a Actor) IsOrganizer(inst domain.ActivityInstance) bool {
	if a.UserID != "" && a.UserID == inst.CreatorID {
		return true
	}
	if inst.Visibility.ClubID != "" {
		for _, id := range a.AdminClubIDs {
			if id == inst.Visibility.ClubID {
				return true
			}
		}
	}
	if inst.Visibility.GroupID != "" {
		for _, id := range a.AdminGroupIDs {
			if id == inst.Visibility.GroupID {
				return true
			}
		}
	}
	return false
}

// Repository is the authoritative store. Register enforces capacity
// atomically; the service's pre-checks are advisory only.
type Repository interface {
	CreateActivity(ctx context.Context, inst domain.ActivityInstance) error
	CreateSeries(ctx context.Context, s domain.RecurringSeries, instances []domain.ActivityInstance) error
	GetActivity(ctx context.Context, id string) (*domain.ActivityInstance, error)
	ListSeriesInstances(ctx context.Context, seriesID string) ([]domain.ActivityInstance, error)
	ListWindow(ctx context.Context, q domain.WindowQuery) ([]domain.ActivityInstance, *domain.Cursor, error)
	UpdateActivities(ctx context.Context, instances []domain.ActivityInstance) error

	GetParticipation(ctx context.Context, activityID, userID string) (*domain.Participation, error)
	ListParticipants(ctx context.Context, activityID string) ([]domain.Participation, error)
	CountRegistered(ctx context.Context, activityIDs []string) (map[string]int, error)
	Register(ctx context.Context, activityID, userID string, now time.Time) (*domain.Participation, error)
	SaveParticipation(ctx context.Context, p domain.Participation) error

	ListUnconfirmedPast(ctx context.Context, now time.Time, limit int) ([]domain.ActivityInstance, error)
}

// Notifier delivers participant notifications. Delivery is fire-and-forget:
// failures are logged by the service and never fail the primary mutation.
type Notifier interface {
	NotifyParticipants(ctx context.Context, n domain.Notification) error
}

// Service wires the engine components together.
type Service struct {
	repo     Repository
	notifier Notifier
	now      func() time.Time
	logger   *log.Logger
}

// NewService constructs a Service. A nil notifier disables notifications.
func NewService(repo Repository, notifier Notifier) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		now:      time.Now,
		logger:   log.New(log.Writer(), "[scheduling] ", log.LstdFlags),
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateActivityInput is the payload for a one-off activity.
type CreateActivityInput struct {
	Title       string
	StartsAt    time.Time // carries the organizer's offset
	Location    string
	Sport       domain.Sport
	Difficulty  domain.Difficulty
	DistanceKM  *float64
	DurationMin *int
	ElevationM  *int
	Capacity    *int
	Visibility  domain.Visibility
	Access      domain.AccessMode
}

func (in CreateActivityInput) validate() error {
	if in.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if in.StartsAt.IsZero() {
		return fmt.Errorf("%w: start time is required", ErrInvalidInput)
	}
	if in.Capacity != nil && *in.Capacity < 1 {
		return fmt.Errorf("%w: capacity must be positive", ErrInvalidInput)
	}
	if in.Visibility.ClubID != "" && in.Visibility.GroupID != "" {
		return fmt.Errorf("%w: visibility cannot bind both a club and a group", ErrInvalidInput)
	}
	return nil
}

func (in CreateActivityInput) instance(actor Actor, now time.Time) domain.ActivityInstance {
	_, offset := in.StartsAt.Zone()
	return domain.ActivityInstance{
		ID:              uuid.NewString(),
		Title:           in.Title,
		StartsAt:        in.StartsAt,
		TZOffsetSeconds: offset,
		Location:        in.Location,
		Sport:           in.Sport,
		Difficulty:      in.Difficulty,
		DistanceKM:      in.DistanceKM,
		DurationMin:     in.DurationMin,
		ElevationM:      in.ElevationM,
		Capacity:        in.Capacity,
		Visibility:      in.Visibility,
		Access:          in.Access,
		Status:          domain.ActivityActive,
		CreatorID:       actor.UserID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// CreateActivity persists a single occurrence.
func (s *Service) CreateActivity(ctx context.Context, actor Actor, in CreateActivityInput) (*domain.ActivityInstance, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	inst := in.instance(actor, s.now().UTC())
	if err := s.repo.CreateActivity(ctx, inst); err != nil {
		return nil, err
	}
	observability.RecordActivityCreated(1)
	return &inst, nil
}

// CreateSeriesInput is the payload for a recurring series.
type CreateSeriesInput struct {
	CreateActivityInput

	Frequency     domain.Frequency
	AnchorWeekday time.Weekday
	AnchorHour    int
	AnchorMinute  int
	Count         int
}

// CreateSeries generates and persists all occurrences atomically.
func (s *Service) CreateSeries(ctx context.Context, actor Actor, in CreateSeriesInput) (*domain.RecurringSeries, []domain.ActivityInstance, error) {
	if err := in.validate(); err != nil {
		return nil, nil, err
	}

	now := s.now().UTC()
	template := in.instance(actor, now)
	generated, instances, err := series.Generate(series.GenerateInput{
		Template:      template,
		Frequency:     in.Frequency,
		AnchorWeekday: in.AnchorWeekday,
		AnchorHour:    in.AnchorHour,
		AnchorMinute:  in.AnchorMinute,
		Start:         in.StartsAt,
		Count:         in.Count,
		Now:           now,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if err := s.repo.CreateSeries(ctx, generated, instances); err != nil {
		return nil, nil, err
	}
	observability.RecordActivityCreated(len(instances))
	return &generated, instances, nil
}

// EditResult reports the reach of a scoped edit or cancellation. Affected may
// be less than Requested when instances were already cancelled or had been
// detached by an earlier narrow edit; callers surface this as "N of M".
type EditResult struct {
	Affected         int
	Requested        int
	SkippedDetached  int
	SkippedCancelled int

	// AffectedIDs lists every instance the mutation actually touched, so
	// callers can invalidate per-instance cached views beyond the target.
	AffectedIDs []string

	// Participants counts registered non-organizer participants across the
	// affected instances. When positive, the caller was obliged to choose
	// whether to notify them.
	Participants int
	Notified     bool
}

// EditInput describes a scoped field edit.
type EditInput struct {
	ActivityID string
	Scope      domain.EditScope
	Patch      domain.ActivityPatch
	Notify     bool
}

// EditActivity applies a patch across the resolved scope. Past instances are
// never altered; a this_only edit detaches its target from future bulk edits.
func (s *Service) EditActivity(ctx context.Context, actor Actor, in EditInput) (*EditResult, error) {
	if in.Patch.IsZero() {
		return nil, fmt.Errorf("%w: empty patch", ErrInvalidInput)
	}
	return s.applyScoped(ctx, actor, in.ActivityID, in.Scope, false, in.Notify, func(inst *domain.ActivityInstance) {
		in.Patch.Apply(inst)
	})
}

// CancelInput describes a scoped cancellation.
type CancelInput struct {
	ActivityID string
	Scope      domain.EditScope
	Notify     bool
}

// CancelActivity soft-cancels the resolved scope. Cancellation is only legal
// before the target's scheduled time.
func (s *Service) CancelActivity(ctx context.Context, actor Actor, in CancelInput) (*EditResult, error) {
	return s.applyScoped(ctx, actor, in.ActivityID, in.Scope, true, in.Notify, func(inst *domain.ActivityInstance) {
		inst.Status = domain.ActivityCancelled
	})
}

func (s *Service) applyScoped(ctx context.Context, actor Actor, activityID string, scope domain.EditScope, cancel, notify bool, mutate func(*domain.ActivityInstance)) (*EditResult, error) {
	target, err := s.repo.GetActivity(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, domain.ErrNotFound
	}
	if !actor.IsOrganizer(*target) {
		return nil, domain.ErrForbidden
	}

	now := s.now().UTC()
	if target.IsPast(now) {
		return nil, domain.ErrAlreadyPast
	}

	var seriesInstances []domain.ActivityInstance
	if target.Series != nil {
		seriesInstances, err = s.repo.ListSeriesInstances(ctx, target.Series.SeriesID)
		if err != nil {
			return nil, err
		}
	}

	resolution, err := series.ResolveScope(scope, *target, seriesInstances, cancel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	// Past instances inside a broad scope keep their history untouched.
	affected := make([]domain.ActivityInstance, 0, len(resolution.Affected))
	for _, inst := range resolution.Affected {
		if inst.IsPast(now) {
			continue
		}
		affected = append(affected, inst)
	}

	ids := make([]string, 0, len(affected))
	for i := range affected {
		mutate(&affected[i])
		if scope == domain.ScopeThisOnly && affected[i].Series != nil {
			affected[i].Detached = true
		}
		affected[i].UpdatedAt = now
		ids = append(ids, affected[i].ID)
	}

	if len(affected) > 0 {
		if err := s.repo.UpdateActivities(ctx, affected); err != nil {
			return nil, err
		}
	}

	result := &EditResult{
		Affected:         len(affected),
		Requested:        resolution.Requested,
		SkippedDetached:  resolution.SkippedDetached,
		SkippedCancelled: resolution.SkippedCancelled,
		AffectedIDs:      ids,
	}

	counts, err := s.repo.CountRegistered(ctx, ids)
	if err != nil {
		s.logger.Printf("counting affected participants failed: %v", err)
	} else {
		result.Participants = resolution.AffectedParticipants(counts)
	}

	if notify && result.Participants > 0 {
		kind := domain.NotificationEdited
		if cancel {
			kind = domain.NotificationCancelled
		}
		result.Notified = s.dispatch(ctx, kind, *target, ids, scope)
	}
	return result, nil
}

// dispatch sends notifications best-effort. Failures never propagate.
func (s *Service) dispatch(ctx context.Context, kind domain.NotificationKind, target domain.ActivityInstance, activityIDs []string, scope domain.EditScope) bool {
	if s.notifier == nil {
		return false
	}

	participantIDs := make([]string, 0)
	seen := make(map[string]struct{})
	for _, id := range activityIDs {
		participants, err := s.repo.ListParticipants(ctx, id)
		if err != nil {
			s.logger.Printf("listing participants for notification failed: %v", err)
			continue
		}
		for _, p := range participants {
			if p.Status != domain.ParticipationRegistered || p.UserID == target.CreatorID {
				continue
			}
			if _, dup := seen[p.UserID]; dup {
				continue
			}
			seen[p.UserID] = struct{}{}
			participantIDs = append(participantIDs, p.UserID)
		}
	}
	if len(participantIDs) == 0 {
		return false
	}

	n := domain.Notification{
		Kind:           kind,
		ActivityIDs:    activityIDs,
		Scope:          scope,
		ParticipantIDs: participantIDs,
	}
	if target.Series != nil {
		n.SeriesID = target.Series.SeriesID
	}
	if err := s.notifier.NotifyParticipants(ctx, n); err != nil {
		s.logger.Printf("notification dispatch failed: %v", err)
		observability.RecordNotifyFailure()
		return false
	}
	return true
}

// Join registers the actor on an open-access activity. The repository is the
// sole arbiter of who got the last slot.
func (s *Service) Join(ctx context.Context, actor Actor, activityID string) (*domain.Participation, error) {
	inst, current, registered, err := s.participationContext(ctx, actor, activityID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if _, err := participation.Next(participation.ActionJoin, participation.Input{
		Activity:   *inst,
		Current:    current,
		Registered: registered,
		Now:        now,
	}); err != nil {
		return nil, err
	}

	p, err := s.repo.Register(ctx, activityID, actor.UserID, now)
	if err != nil {
		if errors.Is(err, domain.ErrCapacityExceeded) {
			observability.RecordCapacityRejection()
		}
		return nil, err
	}
	observability.RecordJoin()
	return p, nil
}

// RequestJoin files an approval request on a request-approval activity. The
// request never self-promotes; only Approve moves it to registered.
func (s *Service) RequestJoin(ctx context.Context, actor Actor, activityID string) (*domain.Participation, error) {
	inst, current, _, err := s.participationContext(ctx, actor, activityID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	next, err := participation.Next(participation.ActionRequestJoin, participation.Input{
		Activity: *inst,
		Current:  current,
		Now:      now,
	})
	if err != nil {
		return nil, err
	}

	p := domain.Participation{
		UserID:     actor.UserID,
		ActivityID: activityID,
		Status:     next,
		JoinedAt:   now,
		UpdatedAt:  now,
	}
	if err := s.repo.SaveParticipation(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Leave cancels the actor's registration. Leaving an already-cancelled
// participation is an idempotent no-op.
func (s *Service) Leave(ctx context.Context, actor Actor, activityID string) (*domain.Participation, error) {
	inst, current, _, err := s.participationContext(ctx, actor, activityID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	next, err := participation.Next(participation.ActionLeave, participation.Input{
		Activity: *inst,
		Current:  current,
		Now:      now,
	})
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.GetParticipation(ctx, activityID, actor.UserID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: no participation to leave", domain.ErrIllegalTransition)
	}
	if existing.Status == next {
		return existing, nil
	}

	existing.Status = next
	existing.UpdatedAt = now
	if err := s.repo.SaveParticipation(ctx, *existing); err != nil {
		return nil, err
	}
	observability.RecordLeave()
	return existing, nil
}

// Approve promotes an awaiting-approval request to registered, re-running the
// capacity check atomically in the store.
func (s *Service) Approve(ctx context.Context, actor Actor, activityID, userID string) (*domain.Participation, error) {
	inst, err := s.repo.GetActivity(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, domain.ErrNotFound
	}

	current, registered, err := s.currentStatus(ctx, activityID, userID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if _, err := participation.Next(participation.ActionApprove, participation.Input{
		Activity:   *inst,
		Current:    current,
		Organizer:  actor.IsOrganizer(*inst),
		Registered: registered,
		Now:        now,
	}); err != nil {
		return nil, err
	}

	p, err := s.repo.Register(ctx, activityID, userID, now)
	if err != nil {
		if errors.Is(err, domain.ErrCapacityExceeded) {
			observability.RecordCapacityRejection()
		}
		return nil, err
	}
	return p, nil
}

// Reject declines an awaiting-approval request.
func (s *Service) Reject(ctx context.Context, actor Actor, activityID, userID string) (*domain.Participation, error) {
	inst, err := s.repo.GetActivity(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, domain.ErrNotFound
	}

	current, _, err := s.currentStatus(ctx, activityID, userID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	next, err := participation.Next(participation.ActionReject, participation.Input{
		Activity:  *inst,
		Current:   current,
		Organizer: actor.IsOrganizer(*inst),
		Now:       now,
	})
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.GetParticipation(ctx, activityID, userID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, domain.ErrNotFound
	}
	existing.Status = next
	existing.UpdatedAt = now
	if err := s.repo.SaveParticipation(ctx, *existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// ConfirmAttendance records attended/missed outcomes in bulk. Organizers may
// confirm anyone; a participant may confirm only themself.
func (s *Service) ConfirmAttendance(ctx context.Context, actor Actor, activityID string, outcomes map[string]bool) error {
	inst, err := s.repo.GetActivity(ctx, activityID)
	if err != nil {
		return err
	}
	if inst == nil {
		return domain.ErrNotFound
	}

	now := s.now().UTC()
	organizer := actor.IsOrganizer(*inst)

	for userID, attended := range outcomes {
		current, _, err := s.currentStatus(ctx, activityID, userID)
		if err != nil {
			return err
		}

		action := participation.ActionConfirmMissed
		if attended {
			action = participation.ActionConfirmAttended
		}
		next, err := participation.Next(action, participation.Input{
			Activity:    *inst,
			Current:     current,
			Organizer:   organizer,
			SelfConfirm: userID == actor.UserID,
			Now:         now,
		})
		if err != nil {
			return fmt.Errorf("confirming %s: %w", userID, err)
		}

		existing, err := s.repo.GetParticipation(ctx, activityID, userID)
		if err != nil {
			return err
		}
		if existing == nil {
			return domain.ErrNotFound
		}
		existing.Status = next
		existing.ConfirmedAt = &now
		existing.UpdatedAt = now
		if err := s.repo.SaveParticipation(ctx, *existing); err != nil {
			return err
		}
	}
	return nil
}

// Window lists instances in a time range plus the actor's participation
// status per instance, ready for calendar aggregation.
func (s *Service) Window(ctx context.Context, actor Actor, q domain.WindowQuery) ([]domain.ActivityInstance, map[string]domain.ParticipationStatus, *domain.Cursor, error) {
	instances, next, err := s.repo.ListWindow(ctx, q)
	if err != nil {
		return nil, nil, nil, err
	}

	statuses := make(map[string]domain.ParticipationStatus, len(instances))
	for _, inst := range instances {
		p, err := s.repo.GetParticipation(ctx, inst.ID, actor.UserID)
		if err != nil {
			return nil, nil, nil, err
		}
		if p == nil {
			statuses[inst.ID] = domain.ParticipationNone
			continue
		}
		statuses[inst.ID] = p.Status
	}
	return instances, statuses, next, nil
}

// GetActivity fetches one instance.
func (s *Service) GetActivity(ctx context.Context, id string) (*domain.ActivityInstance, error) {
	inst, err := s.repo.GetActivity(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, domain.ErrNotFound
	}
	return inst, nil
}

// Roster lists all participation records for an activity.
func (s *Service) Roster(ctx context.Context, activityID string) ([]domain.Participation, error) {
	return s.repo.ListParticipants(ctx, activityID)
}

func (s *Service) participationContext(ctx context.Context, actor Actor, activityID string) (*domain.ActivityInstance, domain.ParticipationStatus, int, error) {
	inst, err := s.repo.GetActivity(ctx, activityID)
	if err != nil {
		return nil, domain.ParticipationNone, 0, err
	}
	if inst == nil {
		return nil, domain.ParticipationNone, 0, domain.ErrNotFound
	}
	if inst.Status == domain.ActivityCancelled {
		return nil, domain.ParticipationNone, 0, domain.ErrNotFound
	}

	current, registered, err := s.currentStatus(ctx, activityID, actor.UserID)
	if err != nil {
		return nil, domain.ParticipationNone, 0, err
	}
	return inst, current, registered, nil
}

func (s *Service) currentStatus(ctx context.Context, activityID, userID string) (domain.ParticipationStatus, int, error) {
	p, err := s.repo.GetParticipation(ctx, activityID, userID)
	if err != nil {
		return domain.ParticipationNone, 0, err
	}

	counts, err := s.repo.CountRegistered(ctx, []string{activityID})
	if err != nil {
		return domain.ParticipationNone, 0, err
	}

	current := domain.ParticipationNone
	if p != nil {
		current = p.Status
	}
	return current, counts[activityID], nil
}
