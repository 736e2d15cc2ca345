// Package calendar groups a sparse timeline of activity instances into
// navigable Monday–Sunday week buckets and computes the default collapse
// state for each day.
package calendar

import (
	"sort"
	"time"

	"example.com/clubactivities/internal/domain"
	"example.com/clubactivities/internal/timeindex"
)

// Entry pairs an instance with the caller's participation status, already
// resolved for the viewing user.
type Entry struct {
	Instance      domain.ActivityInstance
	Participation domain.ParticipationStatus
}

// DayBucket holds one day's entries, ordered by scheduled time.
type DayBucket struct {
	DayOfWeek int // Monday=1 .. Sunday=7
	Entries   []Entry
	// Collapsed is the default presentation state. Past weeks and elapsed
	// days of the current week start collapsed; toggling afterwards belongs
	// to the caller, not the aggregator.
	Collapsed bool
}

// WeekBucket is one Monday–Sunday span holding at least one entry.
type WeekBucket struct {
	Offset int // 0 = week containing now, negative past, positive future
	Days   []DayBucket
}

// Timeline is the ordered bucket list plus the reference instant it was
// built against.
type Timeline struct {
	Weeks []WeekBucket
	Now   time.Time
}

// Mode filters which entries participate in a build.
type Mode string

const (
	// ModeAll keeps every entry.
	ModeAll Mode = "all"
	// ModeMine keeps entries with a live participation record.
	ModeMine Mode = "mine"
)

// Build groups entries into week buckets sorted by offset ascending. Weeks
// with no matching entries are never materialised, so navigation is sparse.
func Build(entries []Entry, mode Mode, now time.Time) Timeline {
	type dayKey struct {
		week int
		day  int
	}

	grouped := make(map[dayKey][]Entry)
	for _, entry := range entries {
		if mode == ModeMine && !entry.Participation.Active() {
			continue
		}
		week, day := timeindex.Index(entry.Instance.LocalStart(), now)
		key := dayKey{week: week, day: day}
		grouped[key] = append(grouped[key], entry)
	}

	weeks := make(map[int]*WeekBucket)
	for key, bucket := range grouped {
		sort.Slice(bucket, func(i, j int) bool {
			a, b := bucket[i].Instance, bucket[j].Instance
			if !a.StartsAt.Equal(b.StartsAt) {
				return a.StartsAt.Before(b.StartsAt)
			}
			return a.ID < b.ID
		})

		wb, ok := weeks[key.week]
		if !ok {
			wb = &WeekBucket{Offset: key.week}
			weeks[key.week] = wb
		}
		wb.Days = append(wb.Days, DayBucket{
			DayOfWeek: key.day,
			Entries:   bucket,
			Collapsed: defaultCollapsed(key.week, key.day, now),
		})
	}

	out := Timeline{Now: now, Weeks: make([]WeekBucket, 0, len(weeks))}
	for _, wb := range weeks {
		sort.Slice(wb.Days, func(i, j int) bool {
			return wb.Days[i].DayOfWeek < wb.Days[j].DayOfWeek
		})
		out.Weeks = append(out.Weeks, *wb)
	}
	sort.Slice(out.Weeks, func(i, j int) bool {
		return out.Weeks[i].Offset < out.Weeks[j].Offset
	})
	return out
}

// defaultCollapsed implements the collapse policy: strictly past weeks are
// collapsed, and within the current week any day preceding today's canonical
// day is collapsed.
func defaultCollapsed(weekOffset, dayOfWeek int, now time.Time) bool {
	if weekOffset < 0 {
		return true
	}
	if weekOffset == 0 && dayOfWeek < timeindex.DayOfWeek(now) {
		return true
	}
	return false
}

// Flatten returns every entry across all buckets, week then day then time
// order. Build followed by Flatten preserves the input set exactly.
func (t Timeline) Flatten() []Entry {
	var out []Entry
	for _, week := range t.Weeks {
		for _, day := range week.Days {
			out = append(out, day.Entries...)
		}
	}
	return out
}

// indexOf locates the bucket position for a week offset, or -1.
func (t Timeline) indexOf(offset int) int {
	for i, week := range t.Weeks {
		if week.Offset == offset {
			return i
		}
	}
	return -1
}

// Next returns the nearest materialised week after the given offset. Stepping
// is across existing buckets only.
func (t Timeline) Next(offset int) (WeekBucket, bool) {
	for _, week := range t.Weeks {
		if week.Offset > offset {
			return week, true
		}
	}
	return WeekBucket{}, false
}

// Previous returns the nearest materialised week before the given offset.
func (t Timeline) Previous(offset int) (WeekBucket, bool) {
	for i := len(t.Weeks) - 1; i >= 0; i-- {
		if t.Weeks[i].Offset < offset {
			return t.Weeks[i], true
		}
	}
	return WeekBucket{}, false
}

// JumpToCurrent returns the current week's bucket when it exists, otherwise
// the nearest materialised week (preferring the future). The second result is
// false only for an empty timeline.
func (t Timeline) JumpToCurrent() (WeekBucket, bool) {
	if len(t.Weeks) == 0 {
		return WeekBucket{}, false
	}
	if i := t.indexOf(0); i >= 0 {
		return t.Weeks[i], true
	}
	if week, ok := t.Next(0); ok {
		return week, true
	}
	return t.Previous(0)
}
