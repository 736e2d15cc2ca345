package calendar

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"example.com/clubactivities/internal/domain"
)

const icsProductID = "-//clubactivities//calendar feed//EN"

// defaultEventDuration is assumed when an activity carries no duration.
const defaultEventDuration = time.Hour

// ToICS renders instances as an iCalendar feed so members can subscribe from
// a regular calendar app. Cancelled instances are included with STATUS
// CANCELLED so subscribed calendars drop them instead of keeping a stale slot.
func ToICS(name string, instances []domain.ActivityInstance) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(icsProductID)
	cal.SetName(name)

	for _, inst := range instances {
		event := cal.AddEvent(inst.ID)
		start := inst.LocalStart()
		event.SetStartAt(start)
		event.SetEndAt(start.Add(eventDuration(inst)))
		event.SetDtStampTime(inst.UpdatedAt)
		event.SetSummary(inst.Title)
		if inst.Location != "" {
			event.SetLocation(inst.Location)
		}
		event.SetDescription(describe(inst))
		if inst.Status == domain.ActivityCancelled {
			event.SetStatus(ical.ObjectStatusCancelled)
		} else {
			event.SetStatus(ical.ObjectStatusConfirmed)
		}
	}

	return cal.Serialize()
}

func eventDuration(inst domain.ActivityInstance) time.Duration {
	if inst.DurationMin != nil && *inst.DurationMin > 0 {
		return time.Duration(*inst.DurationMin) * time.Minute
	}
	return defaultEventDuration
}

func describe(inst domain.ActivityInstance) string {
	desc := fmt.Sprintf("%s / %s", inst.Sport, inst.Difficulty)
	if inst.DistanceKM != nil {
		desc += fmt.Sprintf(" / %.1f km", *inst.DistanceKM)
	}
	if inst.ElevationM != nil {
		desc += fmt.Sprintf(" / %d m elevation", *inst.ElevationM)
	}
	return desc
}
