// Package domain defines the scheduling and participation model for club activities.
package domain

import "time"

// Sport categorises an activity.
type Sport string

const (
	SportRunning Sport = "running"
	SportTrail   Sport = "trail"
	SportHiking  Sport = "hiking"
	SportCycling Sport = "cycling"
	SportYoga    Sport = "yoga"
	SportWorkout Sport = "workout"
)

// Difficulty grades the expected effort.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// AccessMode controls how a user becomes a participant.
type AccessMode string

const (
	AccessOpen     AccessMode = "open"
	AccessApproval AccessMode = "approval"
)

// ActivityStatus is the lifecycle state of an instance. Cancellation is a
// status, never a deletion, so attendance history survives.
type ActivityStatus string

const (
	ActivityActive    ActivityStatus = "active"
	ActivityCancelled ActivityStatus = "cancelled"
)

// Visibility scopes an activity to the public feed, one club, or one group.
// ClubID and GroupID are mutually exclusive.
type Visibility struct {
	Public  bool
	ClubID  string
	GroupID string
}

// SeriesRef links an instance back to the recurring series that generated it.
// SequenceNumber is assigned at generation time and never reused.
type SeriesRef struct {
	SeriesID       string
	SequenceNumber int
}

// ActivityInstance is one concrete, schedulable occurrence.
//
// StartsAt is an absolute instant; TZOffsetSeconds records the organizer's UTC
// offset at creation time. Day and week grouping always evaluates against that
// recorded offset, never against a viewer's runtime zone, so an activity never
// silently shifts days when viewed from a different timezone.
type ActivityInstance struct {
	ID              string
	Title           string
	StartsAt        time.Time
	TZOffsetSeconds int
	Location        string
	Sport           Sport
	Difficulty      Difficulty
	DistanceKM      *float64
	DurationMin     *int
	ElevationM      *int
	Capacity        *int // nil = unlimited, never negative once set
	Visibility      Visibility
	Access          AccessMode
	Status          ActivityStatus
	Series          *SeriesRef
	Detached        bool // excluded from future bulk edits of its series
	CreatorID       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LocalStart returns the scheduled time expressed in the recorded offset.
func (a ActivityInstance) LocalStart() time.Time {
	return a.StartsAt.In(time.FixedZone("", a.TZOffsetSeconds))
}

// IsPast reports whether the scheduled time has elapsed relative to now.
func (a ActivityInstance) IsPast(now time.Time) bool {
	return a.StartsAt.Before(now)
}

// SequenceNumber returns the series sequence, or -1 for one-off instances.
func (a ActivityInstance) SequenceNumber() int {
	if a.Series == nil {
		return -1
	}
	return a.Series.SequenceNumber
}

// Frequency is the repeat cadence of a recurring series.
type Frequency string

const (
	FrequencyWeekly     Frequency = "weekly"
	FrequencyBiweekly   Frequency = "biweekly"
	FrequencyFourWeekly Frequency = "four_weekly"
)

// WeekInterval converts the cadence to a whole number of weeks.
func (f Frequency) WeekInterval() int {
	switch f {
	case FrequencyBiweekly:
		return 2
	case FrequencyFourWeekly:
		return 4
	default:
		return 1
	}
}

// MaxSeriesOccurrences bounds how many instances one series may generate.
const MaxSeriesOccurrences = 12

// RecurringSeries is a generator template. It is immutable after generation
// apart from bookkeeping of which instances remain active.
type RecurringSeries struct {
	ID            string
	Frequency     Frequency
	AnchorWeekday time.Weekday
	AnchorHour    int
	AnchorMinute  int
	StartsAt      time.Time
	Count         int
	InstanceIDs   []string // temporal order, index == sequence number
	CreatorID     string
	CreatedAt     time.Time
}

// EditScope is the breadth of a recurring-series edit or cancellation.
type EditScope string

const (
	ScopeThisOnly         EditScope = "this_only"
	ScopeThisAndFollowing EditScope = "this_and_following"
	ScopeEntireSeries     EditScope = "entire_series"
)

// ActivityPatch carries the mutable fields of a scoped edit. Nil fields are
// left untouched.
type ActivityPatch struct {
	Title       *string
	Location    *string
	Difficulty  *Difficulty
	DistanceKM  *float64
	DurationMin *int
	ElevationM  *int
	Capacity    *int
	StartShift  *time.Duration // applied to each affected instance's own start
}

// IsZero reports whether the patch changes nothing.
func (p ActivityPatch) IsZero() bool {
	return p.Title == nil && p.Location == nil && p.Difficulty == nil &&
		p.DistanceKM == nil && p.DurationMin == nil && p.ElevationM == nil &&
		p.Capacity == nil && p.StartShift == nil
}

// Apply copies the non-nil patch fields onto the instance.
func (p ActivityPatch) Apply(a *ActivityInstance) {
	if p.Title != nil {
		a.Title = *p.Title
	}
	if p.Location != nil {
		a.Location = *p.Location
	}
	if p.Difficulty != nil {
		a.Difficulty = *p.Difficulty
	}
	if p.DistanceKM != nil {
		a.DistanceKM = p.DistanceKM
	}
	if p.DurationMin != nil {
		a.DurationMin = p.DurationMin
	}
	if p.ElevationM != nil {
		a.ElevationM = p.ElevationM
	}
	if p.Capacity != nil {
		a.Capacity = p.Capacity
	}
	if p.StartShift != nil {
		a.StartsAt = a.StartsAt.Add(*p.StartShift)
	}
}

// Cursor models the pagination token for windowed listings.
type Cursor struct {
	StartsAt time.Time
	ID       string
}

// WindowQuery selects instances inside a time range, optionally narrowed to
// one club or group, with cursor pagination.
type WindowQuery struct {
	From    time.Time
	To      time.Time
	ClubID  string
	GroupID string
	Cursor  *Cursor
	Limit   int
}
