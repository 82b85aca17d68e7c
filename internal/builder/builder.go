// Package builder maps provider payloads into canonical activity rows. It
// performs no I/O: unit normalization, sport classification, and
// nullability rules live here so the processor stays orchestration only.
package builder

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"pedalsync/internal/database"
	"pedalsync/internal/garmin"
	"pedalsync/internal/provider"
	"pedalsync/internal/strava"
)

// ErrMissingStartDate marks payloads without a usable start time. These can
// never be imported, so callers treat the error as permanent.
var ErrMissingStartDate = errors.New("activity has no start date")

// minRideSeconds is the shortest elapsed time worth importing. Anything
// under a minute is a false start or a device hiccup.
const minRideSeconds = 60

// kilojoulesPerKilocalorie converts Garmin's kcal energy to Strava-style kJ
const kilojoulesPerKilocalorie = 4.184

// stravaCyclingTypes maps Strava sport types to canonical sport names
var stravaCyclingTypes = map[string]string{
	"Ride":             "ride",
	"VirtualRide":      "virtual_ride",
	"EBikeRide":        "e_bike_ride",
	"GravelRide":       "gravel_ride",
	"MountainBikeRide": "mountain_bike_ride",
	"Handcycle":        "handcycle",
}

// garminCyclingTypes maps Garmin activity types to canonical sport names
var garminCyclingTypes = map[string]string{
	"CYCLING":           "ride",
	"ROAD_BIKING":       "ride",
	"GRAVEL_CYCLING":    "gravel_ride",
	"MOUNTAIN_BIKING":   "mountain_bike_ride",
	"VIRTUAL_RIDE":      "virtual_ride",
	"INDOOR_CYCLING":    "virtual_ride",
	"E_BIKE_FITNESS":    "e_bike_ride",
	"E_BIKE_MOUNTAIN":   "e_bike_ride",
	"HANDCYCLING":       "handcycle",
	"CYCLOCROSS":        "gravel_ride",
	"TRACK_CYCLING":     "ride",
	"RECUMBENT_CYCLING": "ride",
}

// IsCyclingStrava reports whether the Strava sport type is a ride
func IsCyclingStrava(sportType string) bool {
	_, ok := stravaCyclingTypes[sportType]
	return ok
}

// IsCyclingGarmin reports whether the Garmin activity type is a ride
func IsCyclingGarmin(activityType string) bool {
	_, ok := garminCyclingTypes[activityType]
	return ok
}

// MeetsMinimumDuration reports whether an activity is long enough to import
func MeetsMinimumDuration(elapsedSeconds int64) bool {
	return elapsedSeconds >= minRideSeconds
}

// FromStrava builds a canonical activity from a Strava activity detail.
// Zero-valued optional metrics become NULL so later merges can backfill.
func FromStrava(userID string, detail *strava.ActivityDetail, raw json.RawMessage, importedFrom string) (*database.Activity, error) {
	if detail.StartDate == "" {
		return nil, ErrMissingStartDate
	}
	start, err := time.Parse(time.RFC3339, detail.StartDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingStartDate, err)
	}

	sportType := detail.SportType
	if sportType == "" {
		sportType = detail.Type
	}
	sport, ok := stravaCyclingTypes[sportType]
	if !ok {
		sport = sportType
	}

	activity := &database.Activity{
		ID:                 uuid.NewString(),
		UserID:             userID,
		Provider:           string(provider.Strava),
		ProviderActivityID: strconv.FormatInt(detail.ID, 10),
		SourcePriority:     provider.Strava.Priority(),
		Sport:              sport,
		StartTime:          start.Unix(),
		ElapsedSeconds:     detail.ElapsedTime,
		RawJSON:            string(raw),
		ImportedFrom:       importedFrom,
	}

	if detail.Name != "" {
		activity.Name = &detail.Name
	}
	if detail.MovingTime > 0 {
		activity.MovingSeconds = &detail.MovingTime
	}
	activity.DistanceM = positive(detail.Distance)
	activity.ElevationGainM = positive(detail.TotalElevationGain)
	activity.AvgSpeedMps = positive(detail.AverageSpeed)
	activity.MaxSpeedMps = positive(detail.MaxSpeed)
	activity.AvgWatts = detail.AverageWatts
	activity.MaxWatts = detail.MaxWatts
	activity.Kilojoules = detail.Kilojoules
	activity.AvgHeartRate = detail.AverageHeartrate
	activity.MaxHeartRate = detail.MaxHeartrate
	activity.MapPolyline = detail.Map.BestPolyline()

	return activity, nil
}

// FromGarmin builds a canonical activity from a Garmin activity summary
func FromGarmin(userID string, summary *garmin.ActivitySummary, raw json.RawMessage, importedFrom string) (*database.Activity, error) {
	if summary.StartTimeInSeconds == 0 {
		return nil, ErrMissingStartDate
	}

	sport, ok := garminCyclingTypes[summary.ActivityType]
	if !ok {
		sport = summary.ActivityType
	}

	activity := &database.Activity{
		ID:                 uuid.NewString(),
		UserID:             userID,
		Provider:           string(provider.Garmin),
		ProviderActivityID: strconv.FormatInt(summary.ActivityID, 10),
		SourcePriority:     provider.Garmin.Priority(),
		Sport:              sport,
		StartTime:          summary.StartTimeInSeconds,
		ElapsedSeconds:     summary.DurationInSeconds,
		RawJSON:            string(raw),
		ImportedFrom:       importedFrom,
	}

	if summary.ActivityName != "" {
		activity.Name = &summary.ActivityName
	}
	activity.DistanceM = summary.DistanceInMeters
	activity.ElevationGainM = summary.TotalElevationGainInMeters
	activity.AvgSpeedMps = summary.AverageSpeedInMetersPerSecond
	activity.MaxSpeedMps = summary.MaxSpeedInMetersPerSecond
	activity.AvgWatts = summary.AveragePowerInWatts
	activity.MaxWatts = summary.MaxPowerInWatts
	activity.AvgHeartRate = summary.AverageHeartRateInBeatsPerMinute
	activity.MaxHeartRate = summary.MaxHeartRateInBeatsPerMinute

	if summary.ActiveKilocalories != nil {
		kj := *summary.ActiveKilocalories * kilojoulesPerKilocalorie
		activity.Kilojoules = &kj
	}

	return activity, nil
}

func positive(v float64) *float64 {
	if v > 0 {
		return &v
	}
	return nil
}
