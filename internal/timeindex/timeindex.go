// Package timeindex maps instants onto week and day buckets relative to a
// reference "now". All functions are pure; week boundaries run Monday
// 00:00:00 to Sunday 23:59:59 in the instant's own location, which for
// activity instances is the organizer's offset recorded at creation.
package timeindex

import "time"

// DayOfWeek canonicalises the weekday so Monday=1 .. Sunday=7.
func DayOfWeek(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// WeekStart truncates t to the Monday 00:00:00 opening its week, in t's
// own location.
func WeekStart(t time.Time) time.Time {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return midnight.AddDate(0, 0, 1-DayOfWeek(t))
}

// WeekOffset returns 0 when instant falls in the Monday–Sunday span holding
// now, positive for future weeks and negative for past ones. Both week
// boundaries are evaluated in instant's location so the bucket never moves
// with the viewer's clock.
func WeekOffset(instant, now time.Time) int {
	a := WeekStart(instant)
	b := WeekStart(now.In(instant.Location()))
	return int(a.Sub(b) / (7 * 24 * time.Hour))
}

// Index returns the (weekOffset, dayOfWeek) bucket key for instant.
func Index(instant, now time.Time) (weekOffset, dayOfWeek int) {
	return WeekOffset(instant, now), DayOfWeek(instant)
}

// IsPast reports whether instant precedes now.
func IsPast(instant, now time.Time) bool {
	return instant.Before(now)
}
