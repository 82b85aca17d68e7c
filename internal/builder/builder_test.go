package builder

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pedalsync/internal/garmin"
	"pedalsync/internal/strava"
)

func TestFromStrava(t *testing.T) {
	avgWatts := 210.5
	detail := &strava.ActivityDetail{
		ID:                 555,
		Name:               "Morning Ride",
		SportType:          "Ride",
		StartDate:          "2025-06-01T08:00:00Z",
		Distance:           42000,
		MovingTime:         5400,
		ElapsedTime:        5700,
		TotalElevationGain: 820,
		AverageSpeed:       7.77,
		MaxSpeed:           16.1,
		AverageWatts:       &avgWatts,
		Map:                &strava.Map{SummaryPolyline: "abc"},
	}
	raw := json.RawMessage(`{"id":555}`)

	activity, err := FromStrava("user-1", detail, raw, "webhook")
	require.NoError(t, err)

	assert.NotEmpty(t, activity.ID)
	assert.Equal(t, "strava", activity.Provider)
	assert.Equal(t, "555", activity.ProviderActivityID)
	assert.Equal(t, 1, activity.SourcePriority)
	assert.Equal(t, "ride", activity.Sport)
	assert.Equal(t, int64(1748764800), activity.StartTime)
	assert.Equal(t, int64(5700), activity.ElapsedSeconds)
	require.NotNil(t, activity.MovingSeconds)
	assert.Equal(t, int64(5400), *activity.MovingSeconds)
	require.NotNil(t, activity.DistanceM)
	assert.Equal(t, 42000.0, *activity.DistanceM)
	require.NotNil(t, activity.AvgWatts)
	assert.Equal(t, 210.5, *activity.AvgWatts)
	assert.Nil(t, activity.MaxWatts)
	assert.Nil(t, activity.AvgHeartRate)
	require.NotNil(t, activity.MapPolyline)
	assert.Equal(t, "abc", *activity.MapPolyline)
	assert.Equal(t, `{"id":555}`, activity.RawJSON)
	assert.Equal(t, "webhook", activity.ImportedFrom)
}

func TestFromStravaZeroMetricsStayNull(t *testing.T) {
	detail := &strava.ActivityDetail{
		ID:          556,
		SportType:   "VirtualRide",
		StartDate:   "2025-06-01T08:00:00Z",
		ElapsedTime: 3600,
	}

	activity, err := FromStrava("user-1", detail, nil, "webhook")
	require.NoError(t, err)

	assert.Equal(t, "virtual_ride", activity.Sport)
	assert.Nil(t, activity.Name)
	assert.Nil(t, activity.DistanceM)
	assert.Nil(t, activity.ElevationGainM)
	assert.Nil(t, activity.AvgSpeedMps)
	assert.Nil(t, activity.MovingSeconds)
	assert.Nil(t, activity.MapPolyline)
}

func TestFromStravaMissingStartDate(t *testing.T) {
	detail := &strava.ActivityDetail{ID: 557, SportType: "Ride"}

	_, err := FromStrava("user-1", detail, nil, "webhook")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingStartDate))

	detail.StartDate = "yesterday"
	_, err = FromStrava("user-1", detail, nil, "webhook")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingStartDate))
}

func TestFromGarmin(t *testing.T) {
	distance := 41800.0
	kcal := 1200.0
	hr := 142.0
	summary := &garmin.ActivitySummary{
		UserID:                           "g-user-1",
		SummaryID:                        "s-100",
		ActivityID:                       100,
		ActivityName:                     "Gravel loop",
		ActivityType:                     "GRAVEL_CYCLING",
		StartTimeInSeconds:               1748764845,
		DurationInSeconds:                5600,
		DistanceInMeters:                 &distance,
		AverageHeartRateInBeatsPerMinute: &hr,
		ActiveKilocalories:               &kcal,
	}
	raw := json.RawMessage(`{"summaryId":"s-100"}`)

	activity, err := FromGarmin("user-1", summary, raw, "webhook")
	require.NoError(t, err)

	assert.Equal(t, "garmin", activity.Provider)
	assert.Equal(t, "100", activity.ProviderActivityID)
	assert.Equal(t, 2, activity.SourcePriority)
	assert.Equal(t, "gravel_ride", activity.Sport)
	assert.Equal(t, int64(1748764845), activity.StartTime)
	require.NotNil(t, activity.DistanceM)
	assert.Equal(t, 41800.0, *activity.DistanceM)
	require.NotNil(t, activity.Kilojoules)
	assert.InDelta(t, 1200*4.184, *activity.Kilojoules, 0.001)
	require.NotNil(t, activity.AvgHeartRate)
	assert.Equal(t, 142.0, *activity.AvgHeartRate)
	assert.Nil(t, activity.AvgWatts)
}

func TestFromGarminMissingStart(t *testing.T) {
	summary := &garmin.ActivitySummary{SummaryID: "s-101", ActivityType: "CYCLING"}

	_, err := FromGarmin("user-1", summary, nil, "webhook")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingStartDate))
}

func TestCyclingClassification(t *testing.T) {
	assert.True(t, IsCyclingStrava("Ride"))
	assert.True(t, IsCyclingStrava("GravelRide"))
	assert.False(t, IsCyclingStrava("Run"))

	assert.True(t, IsCyclingGarmin("CYCLING"))
	assert.True(t, IsCyclingGarmin("INDOOR_CYCLING"))
	assert.False(t, IsCyclingGarmin("RUNNING"))
}

func TestMeetsMinimumDuration(t *testing.T) {
	assert.False(t, MeetsMinimumDuration(45))
	assert.True(t, MeetsMinimumDuration(60))
	assert.True(t, MeetsMinimumDuration(5400))
}
