// Package memory provides a mutex-guarded in-memory repository for local
// development and tests. It honours the same contracts as the Postgres
// implementation, including atomic capacity enforcement on Register.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"example.com/clubactivities/internal/domain"
)

type participationKey struct {
	activityID string
	userID     string
}

// Repository stores everything in maps behind one mutex, so every operation
// is atomic with respect to the others. That makes it a faithful stand-in
// for the authoritative store in capacity-race tests.
type Repository struct {
	mu             sync.Mutex
	activities     map[string]domain.ActivityInstance
	series         map[string]domain.RecurringSeries
	participations map[participationKey]domain.Participation
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		activities:     make(map[string]domain.ActivityInstance),
		series:         make(map[string]domain.RecurringSeries),
		participations: make(map[participationKey]domain.Participation),
	}
}

// CreateActivity stores a single instance.
func (r *Repository) CreateActivity(ctx context.Context, inst domain.ActivityInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities[inst.ID] = inst
	return nil
}

// CreateSeries stores the series and all its instances in one critical
// section: all exist or none do.
func (r *Repository) CreateSeries(ctx context.Context, s domain.RecurringSeries, instances []domain.ActivityInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.series[s.ID] = s
	for _, inst := range instances {
		r.activities[inst.ID] = inst
	}
	return nil
}

// GetActivity returns the instance or nil.
func (r *Repository) GetActivity(ctx context.Context, id string) (*domain.ActivityInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.activities[id]
	if !ok {
		return nil, nil
	}
	return &inst, nil
}

// ListSeriesInstances returns a series' instances in sequence order.
func (r *Repository) ListSeriesInstances(ctx context.Context, seriesID string) ([]domain.ActivityInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.ActivityInstance, 0)
	for _, inst := range r.activities {
		if inst.Series != nil && inst.Series.SeriesID == seriesID {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SequenceNumber() < out[j].SequenceNumber()
	})
	return out, nil
}

// ListWindow returns instances inside the query range ordered by start time,
// applying cursor pagination.
func (r *Repository) ListWindow(ctx context.Context, q domain.WindowQuery) ([]domain.ActivityInstance, *domain.Cursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := make([]domain.ActivityInstance, 0)
	for _, inst := range r.activities {
		if !q.From.IsZero() && inst.StartsAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && inst.StartsAt.After(q.To) {
			continue
		}
		if q.ClubID != "" && inst.Visibility.ClubID != q.ClubID {
			continue
		}
		if q.GroupID != "" && inst.Visibility.GroupID != q.GroupID {
			continue
		}
		matched = append(matched, inst)
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.StartsAt.Equal(b.StartsAt) {
			return a.StartsAt.Before(b.StartsAt)
		}
		return a.ID < b.ID
	})

	if q.Cursor != nil {
		cut := 0
		for i, inst := range matched {
			if inst.StartsAt.After(q.Cursor.StartsAt) ||
				(inst.StartsAt.Equal(q.Cursor.StartsAt) && inst.ID > q.Cursor.ID) {
				cut = i
				break
			}
			cut = i + 1
		}
		matched = matched[cut:]
	}

	var next *domain.Cursor
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
		last := matched[len(matched)-1]
		next = &domain.Cursor{StartsAt: last.StartsAt, ID: last.ID}
	}
	return matched, next, nil
}

// UpdateActivities overwrites the given instances.
func (r *Repository) UpdateActivities(ctx context.Context, instances []domain.ActivityInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inst := range instances {
		if _, ok := r.activities[inst.ID]; !ok {
			return domain.ErrNotFound
		}
		r.activities[inst.ID] = inst
	}
	return nil
}

// GetParticipation returns the record or nil.
func (r *Repository) GetParticipation(ctx context.Context, activityID, userID string) (*domain.Participation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participations[participationKey{activityID: activityID, userID: userID}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// ListParticipants returns every record for the activity, newest first.
func (r *Repository) ListParticipants(ctx context.Context, activityID string) ([]domain.Participation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Participation, 0)
	for key, p := range r.participations {
		if key.activityID == activityID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.After(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// CountRegistered returns per-activity counts of slot-occupying records.
func (r *Repository) CountRegistered(ctx context.Context, activityIDs []string) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countLocked(activityIDs), nil
}

func (r *Repository) countLocked(activityIDs []string) map[string]int {
	wanted := make(map[string]struct{}, len(activityIDs))
	for _, id := range activityIDs {
		wanted[id] = struct{}{}
	}

	counts := make(map[string]int, len(activityIDs))
	for key, p := range r.participations {
		if _, ok := wanted[key.activityID]; !ok {
			continue
		}
		if p.Status.Counts() {
			counts[key.activityID]++
		}
	}
	return counts
}

// Register upserts the user to registered, enforcing capacity and the
// scheduled time inside the critical section. It is the only write path that
// may award a capacity slot.
func (r *Repository) Register(ctx context.Context, activityID, userID string, now time.Time) (*domain.Participation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.activities[activityID]
	if !ok || inst.Status == domain.ActivityCancelled {
		return nil, domain.ErrNotFound
	}
	if inst.StartsAt.Before(now) {
		return nil, domain.ErrAlreadyPast
	}

	key := participationKey{activityID: activityID, userID: userID}
	existing, had := r.participations[key]
	if had && existing.Status == domain.ParticipationRegistered {
		return &existing, nil
	}

	if inst.Capacity != nil {
		registered := r.countLocked([]string{activityID})[activityID]
		if registered >= *inst.Capacity {
			return nil, domain.ErrCapacityExceeded
		}
	}

	p := domain.Participation{
		UserID:     userID,
		ActivityID: activityID,
		Status:     domain.ParticipationRegistered,
		JoinedAt:   now,
		UpdatedAt:  now,
	}
	if had && !existing.JoinedAt.IsZero() {
		p.JoinedAt = existing.JoinedAt
	}
	r.participations[key] = p
	return &p, nil
}

// SaveParticipation stores a transition already validated by the state
// machine. Records are never deleted; cancellation is a status.
func (r *Repository) SaveParticipation(ctx context.Context, p domain.Participation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participations[participationKey{activityID: p.ActivityID, userID: p.UserID}] = p
	return nil
}

// ListUnconfirmedPast returns past, active instances that still hold
// registered participations awaiting an attendance outcome.
func (r *Repository) ListUnconfirmedPast(ctx context.Context, now time.Time, limit int) ([]domain.ActivityInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := make(map[string]struct{})
	for key, p := range r.participations {
		if p.Status == domain.ParticipationRegistered {
			pending[key.activityID] = struct{}{}
		}
	}

	out := make([]domain.ActivityInstance, 0)
	for id := range pending {
		inst, ok := r.activities[id]
		if !ok || inst.Status != domain.ActivityActive || !inst.StartsAt.Before(now) {
			continue
		}
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartsAt.Before(out[j].StartsAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
