package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"example.com/clubactivities/internal/domain"
	"example.com/clubactivities/internal/scheduling"
)

// CreateActivityRequest is the payload for POST /v1/activities. StartsAt must
// carry the organizer's UTC offset; it is recorded on the instance and every
// later day/week grouping evaluates against it.
type CreateActivityRequest struct {
	Title       string    `json:"title"`
	StartsAt    time.Time `json:"starts_at"`
	Location    string    `json:"location"`
	Sport       string    `json:"sport"`
	Difficulty  string    `json:"difficulty"`
	DistanceKM  *float64  `json:"distance_km,omitempty"`
	DurationMin *int      `json:"duration_min,omitempty"`
	ElevationM  *int      `json:"elevation_m,omitempty"`
	Capacity    *int      `json:"capacity,omitempty"`
	Public      bool      `json:"public"`
	ClubID      string    `json:"club_id,omitempty"`
	GroupID     string    `json:"group_id,omitempty"`
	Access      string    `json:"access"`
}

// Validate ensures request correctness.
func (r CreateActivityRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return errors.New("title is required")
	}
	if r.StartsAt.IsZero() {
		return errors.New("starts_at is required")
	}
	if r.ClubID != "" && r.GroupID != "" {
		return errors.New("club_id and group_id are mutually exclusive")
	}
	if r.Capacity != nil && *r.Capacity < 1 {
		return errors.New("capacity must be >= 1")
	}
	switch domain.AccessMode(r.Access) {
	case domain.AccessOpen, domain.AccessApproval, "":
	default:
		return errors.New("access must be open or approval")
	}
	return nil
}

func (r CreateActivityRequest) toInput() scheduling.CreateActivityInput {
	access := domain.AccessMode(r.Access)
	if access == "" {
		access = domain.AccessOpen
	}
	return scheduling.CreateActivityInput{
		Title:       r.Title,
		StartsAt:    r.StartsAt,
		Location:    r.Location,
		Sport:       domain.Sport(r.Sport),
		Difficulty:  domain.Difficulty(r.Difficulty),
		DistanceKM:  r.DistanceKM,
		DurationMin: r.DurationMin,
		ElevationM:  r.ElevationM,
		Capacity:    r.Capacity,
		Visibility: domain.Visibility{
			Public:  r.Public,
			ClubID:  r.ClubID,
			GroupID: r.GroupID,
		},
		Access: access,
	}
}

// CreateSeriesRequest is the payload for POST /v1/series. DayOfWeek is
// Monday=1 through Sunday=7.
type CreateSeriesRequest struct {
	CreateActivityRequest

	Frequency string `json:"frequency"`
	DayOfWeek int    `json:"day_of_week"`
	Hour      int    `json:"hour"`
	Minute    int    `json:"minute"`
	Count     int    `json:"count"`
}

// Validate ensures request correctness.
func (r CreateSeriesRequest) Validate() error {
	if err := r.CreateActivityRequest.Validate(); err != nil {
		return err
	}
	switch domain.Frequency(r.Frequency) {
	case domain.FrequencyWeekly, domain.FrequencyBiweekly, domain.FrequencyFourWeekly:
	default:
		return errors.New("frequency must be weekly, biweekly or four_weekly")
	}
	if r.DayOfWeek < 1 || r.DayOfWeek > 7 {
		return errors.New("day_of_week must be 1 (Monday) through 7 (Sunday)")
	}
	if r.Hour < 0 || r.Hour > 23 || r.Minute < 0 || r.Minute > 59 {
		return errors.New("invalid anchor time")
	}
	if r.Count < 1 || r.Count > domain.MaxSeriesOccurrences {
		return fmt.Errorf("count must be between 1 and %d", domain.MaxSeriesOccurrences)
	}
	return nil
}

func (r CreateSeriesRequest) toInput() scheduling.CreateSeriesInput {
	return scheduling.CreateSeriesInput{
		CreateActivityInput: r.CreateActivityRequest.toInput(),
		Frequency:           domain.Frequency(r.Frequency),
		AnchorWeekday:       time.Weekday(r.DayOfWeek % 7),
		AnchorHour:          r.Hour,
		AnchorMinute:        r.Minute,
		Count:               r.Count,
	}
}

// PatchRequest carries the mutable fields of a scoped edit. Absent fields are
// left untouched; start_shift_min moves each affected instance's own start.
type PatchRequest struct {
	Title         *string  `json:"title,omitempty"`
	Location      *string  `json:"location,omitempty"`
	Difficulty    *string  `json:"difficulty,omitempty"`
	DistanceKM    *float64 `json:"distance_km,omitempty"`
	DurationMin   *int     `json:"duration_min,omitempty"`
	ElevationM    *int     `json:"elevation_m,omitempty"`
	Capacity      *int     `json:"capacity,omitempty"`
	StartShiftMin *int     `json:"start_shift_min,omitempty"`
}

func (p PatchRequest) toDomain() domain.ActivityPatch {
	patch := domain.ActivityPatch{
		Title:       p.Title,
		Location:    p.Location,
		DistanceKM:  p.DistanceKM,
		DurationMin: p.DurationMin,
		ElevationM:  p.ElevationM,
		Capacity:    p.Capacity,
	}
	if p.Difficulty != nil {
		d := domain.Difficulty(*p.Difficulty)
		patch.Difficulty = &d
	}
	if p.StartShiftMin != nil {
		shift := time.Duration(*p.StartShiftMin) * time.Minute
		patch.StartShift = &shift
	}
	return patch
}

// EditActivityRequest is the payload for PATCH /v1/activities/{id}.
type EditActivityRequest struct {
	Scope  string       `json:"scope"`
	Notify bool         `json:"notify"`
	Patch  PatchRequest `json:"patch"`
}

// CancelActivityRequest is the payload for POST /v1/activities/{id}/cancel.
type CancelActivityRequest struct {
	Scope  string `json:"scope"`
	Notify bool   `json:"notify"`
}

// DecisionRequest identifies the subject of an approve/reject decision.
type DecisionRequest struct {
	UserID string `json:"user_id"`
}

// AttendanceRequest records attended (true) or missed (false) per user.
type AttendanceRequest struct {
	Outcomes map[string]bool `json:"outcomes"`
}

// ActivityView exposes full details about an activity instance, including its
// position on the week-indexed timeline relative to request time.
type ActivityView struct {
	ActivityID      string    `json:"activity_id"`
	Title           string    `json:"title"`
	StartsAt        time.Time `json:"starts_at"`
	TZOffsetSeconds int       `json:"tz_offset_seconds"`
	WeekOffset      int       `json:"week_offset"`
	DayOfWeek       int       `json:"day_of_week"`
	Location        string    `json:"location,omitempty"`
	Sport           string    `json:"sport"`
	Difficulty      string    `json:"difficulty"`
	DistanceKM      *float64  `json:"distance_km,omitempty"`
	DurationMin     *int      `json:"duration_min,omitempty"`
	ElevationM      *int      `json:"elevation_m,omitempty"`
	Capacity        *int      `json:"capacity,omitempty"`
	Public          bool      `json:"public"`
	ClubID          string    `json:"club_id,omitempty"`
	GroupID         string    `json:"group_id,omitempty"`
	Access          string    `json:"access"`
	Status          string    `json:"status"`
	SeriesID        string    `json:"series_id,omitempty"`
	SequenceNumber  *int      `json:"sequence_number,omitempty"`
	Detached        bool      `json:"detached,omitempty"`
	CreatorID       string    `json:"creator_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CreateSeriesResponse packages a generated series with its instances.
type CreateSeriesResponse struct {
	SeriesID  string         `json:"series_id"`
	Frequency string         `json:"frequency"`
	Instances []ActivityView `json:"instances"`
}

// EditResultView reports the reach of a scoped edit as "N of M" material.
type EditResultView struct {
	Affected         int  `json:"affected"`
	Requested        int  `json:"requested"`
	SkippedDetached  int  `json:"skipped_detached"`
	SkippedCancelled int  `json:"skipped_cancelled"`
	Participants     int  `json:"participants"`
	Notified         bool `json:"notified"`
}

func toEditResultView(r scheduling.EditResult) EditResultView {
	return EditResultView{
		Affected:         r.Affected,
		Requested:        r.Requested,
		SkippedDetached:  r.SkippedDetached,
		SkippedCancelled: r.SkippedCancelled,
		Participants:     r.Participants,
		Notified:         r.Notified,
	}
}

// ParticipationView exposes one participation record.
type ParticipationView struct {
	UserID      string     `json:"user_id"`
	ActivityID  string     `json:"activity_id"`
	Status      string     `json:"status"`
	JoinedAt    time.Time  `json:"joined_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toParticipationView(p domain.Participation) ParticipationView {
	return ParticipationView{
		UserID:      p.UserID,
		ActivityID:  p.ActivityID,
		Status:      string(p.Status),
		JoinedAt:    p.JoinedAt,
		ConfirmedAt: p.ConfirmedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// RosterView packages the participants of one activity.
type RosterView struct {
	Participants []ParticipationView `json:"participants"`
}

func toRosterView(roster []domain.Participation) RosterView {
	out := RosterView{Participants: make([]ParticipationView, 0, len(roster))}
	for _, p := range roster {
		out.Participants = append(out.Participants, toParticipationView(p))
	}
	return out
}

// EntryView pairs an activity with the caller's participation status for one
// calendar slot.
type EntryView struct {
	Activity      ActivityView `json:"activity"`
	Participation string       `json:"participation"`
}

// DayView groups a day's entries with its default presentation state.
type DayView struct {
	DayOfWeek int         `json:"day_of_week"`
	Collapsed bool        `json:"collapsed"`
	Entries   []EntryView `json:"entries"`
}

// WeekView groups the days of one week-indexed bucket.
type WeekView struct {
	Offset int       `json:"offset"`
	Days   []DayView `json:"days"`
}

// CalendarResponse is the serialized calendar window for GET /v1/calendar.
type CalendarResponse struct {
	Weeks      []WeekView `json:"weeks"`
	NextCursor string     `json:"next_cursor,omitempty"`
}
