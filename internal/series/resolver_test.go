package series

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/clubactivities/internal/domain"
)

func weeklyTuesdayInput(count int) GenerateInput {
	loc := time.FixedZone("", 3600)
	return GenerateInput{
		Template: domain.ActivityInstance{
			Title:      "Tuesday tempo run",
			Sport:      domain.SportRunning,
			Difficulty: domain.DifficultyMedium,
			Access:     domain.AccessOpen,
			Visibility: domain.Visibility{ClubID: "club-1"},
			CreatorID:  "coach-1",
		},
		Frequency:     domain.FrequencyWeekly,
		AnchorWeekday: time.Tuesday,
		AnchorHour:    7,
		AnchorMinute:  0,
		Start:         time.Date(2025, time.January, 7, 0, 0, 0, 0, loc),
		Count:         count,
		Now:           time.Date(2025, time.January, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestGenerateWeeklySeries(t *testing.T) {
	series, instances, err := Generate(weeklyTuesdayInput(4))
	require.NoError(t, err)
	require.Len(t, instances, 4)
	require.Equal(t, 4, series.Count)
	require.Len(t, series.InstanceIDs, 4)

	wantDays := []int{7, 14, 21, 28}
	for i, inst := range instances {
		require.NotNil(t, inst.Series)
		require.Equal(t, series.ID, inst.Series.SeriesID)
		require.Equal(t, i, inst.Series.SequenceNumber)
		require.Equal(t, series.InstanceIDs[i], inst.ID)

		local := inst.LocalStart()
		require.Equal(t, time.January, local.Month())
		require.Equal(t, wantDays[i], local.Day())
		require.Equal(t, 7, local.Hour())
		require.Equal(t, 0, local.Minute())
		require.Equal(t, time.Tuesday, local.Weekday())
		require.Equal(t, 3600, inst.TZOffsetSeconds)

		if i > 0 {
			require.True(t, instances[i-1].StartsAt.Before(inst.StartsAt))
		}
	}
}

func TestGenerateBiweeklyInterval(t *testing.T) {
	in := weeklyTuesdayInput(3)
	in.Frequency = domain.FrequencyBiweekly
	_, instances, err := Generate(in)
	require.NoError(t, err)
	require.Len(t, instances, 3)
	require.Equal(t, 14*24*time.Hour, instances[1].StartsAt.Sub(instances[0].StartsAt))
	require.Equal(t, 14*24*time.Hour, instances[2].StartsAt.Sub(instances[1].StartsAt))
}

func TestGenerateRejectsBadCount(t *testing.T) {
	in := weeklyTuesdayInput(0)
	_, _, err := Generate(in)
	require.ErrorIs(t, err, ErrInvalidSeries)

	in = weeklyTuesdayInput(domain.MaxSeriesOccurrences + 1)
	_, _, err = Generate(in)
	require.ErrorIs(t, err, ErrInvalidSeries)
}

func generated(t *testing.T, count int) []domain.ActivityInstance {
	t.Helper()
	_, instances, err := Generate(weeklyTuesdayInput(count))
	require.NoError(t, err)
	return instances
}

func TestResolveThisOnly(t *testing.T) {
	instances := generated(t, 4)
	res, err := ResolveScope(domain.ScopeThisOnly, instances[1], instances, false)
	require.NoError(t, err)
	require.Len(t, res.Affected, 1)
	require.Equal(t, instances[1].ID, res.Affected[0].ID)
	require.False(t, res.Partial())
}

func TestResolveThisAndFollowingSkipsDetached(t *testing.T) {
	instances := generated(t, 4)

	// A prior this_only edit detached sequence 1.
	instances[1].Detached = true

	res, err := ResolveScope(domain.ScopeThisAndFollowing, instances[0], instances, false)
	require.NoError(t, err)

	ids := make([]string, 0, len(res.Affected))
	for _, inst := range res.Affected {
		ids = append(ids, inst.ID)
	}
	require.Equal(t, []string{instances[0].ID, instances[2].ID, instances[3].ID}, ids)
	require.Equal(t, 4, res.Requested)
	require.Equal(t, 1, res.SkippedDetached)
	require.True(t, res.Partial())
}

func TestResolveThisAndFollowingIgnoresEarlierSequences(t *testing.T) {
	instances := generated(t, 4)
	res, err := ResolveScope(domain.ScopeThisAndFollowing, instances[2], instances, false)
	require.NoError(t, err)
	require.Len(t, res.Affected, 2)
	require.Equal(t, instances[2].ID, res.Affected[0].ID)
	require.Equal(t, instances[3].ID, res.Affected[1].ID)
}

func TestResolveEntireSeriesCancel(t *testing.T) {
	instances := generated(t, 4)
	instances[2].Status = domain.ActivityCancelled
	instances[3].Detached = true

	res, err := ResolveScope(domain.ScopeEntireSeries, instances[1], instances, true)
	require.NoError(t, err)

	// Cancelled instances are skipped; detachment does not shield an
	// instance from a whole-series cancel. Sequence 0 stays untouched.
	ids := make([]string, 0, len(res.Affected))
	for _, inst := range res.Affected {
		ids = append(ids, inst.ID)
	}
	require.Equal(t, []string{instances[1].ID, instances[3].ID}, ids)
	require.Equal(t, 1, res.SkippedCancelled)
}

func TestResolveEntireSeriesEditRejected(t *testing.T) {
	instances := generated(t, 2)
	_, err := ResolveScope(domain.ScopeEntireSeries, instances[0], instances, false)
	require.ErrorIs(t, err, ErrInvalidScope)
}

func TestResolveSeriesScopeOnOneOffRejected(t *testing.T) {
	oneOff := domain.ActivityInstance{ID: "solo", Status: domain.ActivityActive}
	_, err := ResolveScope(domain.ScopeThisAndFollowing, oneOff, nil, false)
	require.ErrorIs(t, err, ErrInvalidScope)

	res, err := ResolveScope(domain.ScopeThisOnly, oneOff, nil, false)
	require.NoError(t, err)
	require.Len(t, res.Affected, 1)
}

func TestNarrowEditSurvivesLaterBroadEdit(t *testing.T) {
	// Editing sequence 1 with this_only then sequence 0 with
	// this_and_following must leave sequence 1 untouched while sequences 2
	// and 3 receive the broad edit.
	instances := generated(t, 4)

	res, err := ResolveScope(domain.ScopeThisOnly, instances[1], instances, false)
	require.NoError(t, err)
	require.Equal(t, []string{instances[1].ID}, []string{res.Affected[0].ID})
	instances[1].Detached = true

	res, err = ResolveScope(domain.ScopeThisAndFollowing, instances[0], instances, false)
	require.NoError(t, err)

	affected := make(map[string]bool, len(res.Affected))
	for _, inst := range res.Affected {
		affected[inst.ID] = true
	}
	require.True(t, affected[instances[0].ID])
	require.False(t, affected[instances[1].ID])
	require.True(t, affected[instances[2].ID])
	require.True(t, affected[instances[3].ID])
}

func TestAffectedParticipants(t *testing.T) {
	instances := generated(t, 3)
	res, err := ResolveScope(domain.ScopeThisAndFollowing, instances[0], instances, false)
	require.NoError(t, err)

	counts := map[string]int{
		instances[0].ID: 2,
		instances[1].ID: 0,
		instances[2].ID: 5,
	}
	require.Equal(t, 7, res.AffectedParticipants(counts))
}
