// Package series expands recurring-series templates into concrete activity
// instances and resolves edit/cancel scopes into the exact set of instances a
// mutation may touch.
package series

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"example.com/clubactivities/internal/domain"
)

var (
	// ErrInvalidScope rejects scope/operation combinations the resolver does
	// not support, e.g. entire_series on an edit or a series scope applied to
	// a one-off instance.
	ErrInvalidScope = errors.New("invalid edit scope")

	// ErrInvalidSeries rejects generation inputs that violate series bounds.
	ErrInvalidSeries = errors.New("invalid series definition")
)

// GenerateInput describes one generation pass.
type GenerateInput struct {
	// Template supplies the field values copied onto every occurrence. Its
	// StartsAt and TZOffsetSeconds are ignored; scheduling comes from the
	// anchor below.
	Template domain.ActivityInstance

	Frequency     domain.Frequency
	AnchorWeekday time.Weekday
	AnchorHour    int
	AnchorMinute  int

	// Start is the earliest date (inclusive) an occurrence may fall on,
	// carrying the organizer's offset.
	Start time.Time
	Count int
	Now   time.Time
}

// Generate produces the series record and its Count instances at successive
// anchor-aligned instants, sequence numbers 0..Count-1 in temporal order. The
// caller persists the result atomically: all instances exist or none do.
func Generate(in GenerateInput) (domain.RecurringSeries, []domain.ActivityInstance, error) {
	if in.Count < 1 || in.Count > domain.MaxSeriesOccurrences {
		return domain.RecurringSeries{}, nil, fmt.Errorf("%w: count %d outside 1..%d", ErrInvalidSeries, in.Count, domain.MaxSeriesOccurrences)
	}
	if in.AnchorHour < 0 || in.AnchorHour > 23 || in.AnchorMinute < 0 || in.AnchorMinute > 59 {
		return domain.RecurringSeries{}, nil, fmt.Errorf("%w: anchor %02d:%02d", ErrInvalidSeries, in.AnchorHour, in.AnchorMinute)
	}

	loc := in.Start.Location()
	dtstart := time.Date(in.Start.Year(), in.Start.Month(), in.Start.Day(), in.AnchorHour, in.AnchorMinute, 0, 0, loc)

	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Interval:  in.Frequency.WeekInterval(),
		Count:     in.Count,
		Dtstart:   dtstart,
		Byweekday: []rrule.Weekday{rruleWeekday(in.AnchorWeekday)},
	})
	if err != nil {
		return domain.RecurringSeries{}, nil, fmt.Errorf("%w: %v", ErrInvalidSeries, err)
	}

	occurrences := rule.All()
	if len(occurrences) != in.Count {
		return domain.RecurringSeries{}, nil, fmt.Errorf("%w: expected %d occurrences, got %d", ErrInvalidSeries, in.Count, len(occurrences))
	}

	_, offset := dtstart.Zone()
	seriesID := uuid.NewString()

	instances := make([]domain.ActivityInstance, 0, in.Count)
	ids := make([]string, 0, in.Count)
	for seq, occ := range occurrences {
		instance := in.Template
		instance.ID = uuid.NewString()
		instance.StartsAt = occ
		instance.TZOffsetSeconds = offset
		instance.Status = domain.ActivityActive
		instance.Series = &domain.SeriesRef{SeriesID: seriesID, SequenceNumber: seq}
		instance.Detached = false
		instance.CreatedAt = in.Now
		instance.UpdatedAt = in.Now
		instances = append(instances, instance)
		ids = append(ids, instance.ID)
	}

	series := domain.RecurringSeries{
		ID:            seriesID,
		Frequency:     in.Frequency,
		AnchorWeekday: in.AnchorWeekday,
		AnchorHour:    in.AnchorHour,
		AnchorMinute:  in.AnchorMinute,
		StartsAt:      instances[0].StartsAt,
		Count:         in.Count,
		InstanceIDs:   ids,
		CreatorID:     in.Template.CreatorID,
		CreatedAt:     in.Now,
	}
	return series, instances, nil
}

func rruleWeekday(wd time.Weekday) rrule.Weekday {
	switch wd {
	case time.Monday:
		return rrule.MO
	case time.Tuesday:
		return rrule.TU
	case time.Wednesday:
		return rrule.WE
	case time.Thursday:
		return rrule.TH
	case time.Friday:
		return rrule.FR
	case time.Saturday:
		return rrule.SA
	default:
		return rrule.SU
	}
}

// Resolution is the concrete outcome of a scope request. Requested counts the
// instances a broad scope nominally covered, so callers can surface "N of M
// affected" instead of silently succeeding on all M.
type Resolution struct {
	Affected         []domain.ActivityInstance
	Requested        int
	SkippedDetached  int
	SkippedCancelled int
}

// Partial reports whether the scope touched fewer instances than it covered.
func (r Resolution) Partial() bool {
	return len(r.Affected) < r.Requested
}

// ResolveScope maps (target, scope) onto the instances a mutation must touch.
//
//   - this_only: exactly the target; it becomes detached from future bulk
//     edits but keeps its series reference for history and grouping.
//   - this_and_following: the target plus every later active instance that an
//     earlier this_only edit has not detached. Skipping detached instances is
//     deliberate: a narrow edit must never be clobbered by a later broad one.
//   - entire_series (cancel only): every active instance at or after the
//     target's sequence; earlier instances are never retroactively altered.
//
// SeriesInstances must be the full instance list of the target's series; it
// may be nil for one-off instances, for which only this_only is legal.
func ResolveScope(scope domain.EditScope, target domain.ActivityInstance, seriesInstances []domain.ActivityInstance, cancel bool) (Resolution, error) {
	if target.Series == nil {
		if scope != domain.ScopeThisOnly {
			return Resolution{}, fmt.Errorf("%w: %s on a one-off activity", ErrInvalidScope, scope)
		}
		return resolveSingle(target)
	}

	switch scope {
	case domain.ScopeThisOnly:
		return resolveSingle(target)

	case domain.ScopeThisAndFollowing, domain.ScopeEntireSeries:
		if scope == domain.ScopeEntireSeries && !cancel {
			return Resolution{}, fmt.Errorf("%w: entire_series is cancel-only", ErrInvalidScope)
		}

		ordered := append([]domain.ActivityInstance(nil), seriesInstances...)
		sort.Slice(ordered, func(i, j int) bool {
			return ordered[i].SequenceNumber() < ordered[j].SequenceNumber()
		})

		k := target.SequenceNumber()
		res := Resolution{}
		for _, inst := range ordered {
			if inst.SequenceNumber() < k {
				continue
			}
			res.Requested++
			if inst.Status == domain.ActivityCancelled {
				res.SkippedCancelled++
				continue
			}
			// this_and_following honours individual detachment; an
			// entire_series cancel does not, since the user asked for the
			// whole remaining series.
			if scope == domain.ScopeThisAndFollowing && inst.Detached && inst.ID != target.ID {
				res.SkippedDetached++
				continue
			}
			res.Affected = append(res.Affected, inst)
		}
		return res, nil
	}

	return Resolution{}, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
}

func resolveSingle(target domain.ActivityInstance) (Resolution, error) {
	res := Resolution{Requested: 1}
	if target.Status == domain.ActivityCancelled {
		res.SkippedCancelled = 1
		return res, nil
	}
	res.Affected = []domain.ActivityInstance{target}
	return res, nil
}

// AffectedParticipants sums registered non-organizer participants across the
// affected instances, given per-activity counts. A positive result obliges the
// caller to offer a "notify participants" choice; the resolver itself never
// dispatches notifications.
func (r Resolution) AffectedParticipants(registered map[string]int) int {
	total := 0
	for _, inst := range r.Affected {
		total += registered[inst.ID]
	}
	return total
}
