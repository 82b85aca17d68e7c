package garmin

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Garmin pushes batched payloads: a JSON object whose keys are summary
// kinds and whose values are arrays of individual notifications.
const (
	KindActivities      = "activities"
	KindActivityDetails = "activityDetails"
	KindActivityFiles   = "activityFiles"
	KindDeactivations   = "deregistrations"
	healthKindPrefix    = "HEALTH_"
)

// Item is one logical notification extracted from a batched push
type Item struct {
	Kind      string
	Index     int
	UserID    string
	SummaryID string
	Payload   json.RawMessage
}

// itemIdentity is the minimal shape shared by every notification kind
type itemIdentity struct {
	UserID    string `json:"userId"`
	SummaryID string `json:"summaryId"`
}

// SplitPayload fans a batched push body out into individual items, one per
// array element, preserving the element order within each kind.
func SplitPayload(body []byte) ([]Item, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode push payload: %w", err)
	}

	var items []Item
	for kind, raw := range envelope {
		if !knownKind(kind) {
			continue
		}

		var elements []json.RawMessage
		if err := json.Unmarshal(raw, &elements); err != nil {
			return nil, fmt.Errorf("failed to decode %s array: %w", kind, err)
		}

		for i, element := range elements {
			var identity itemIdentity
			if err := json.Unmarshal(element, &identity); err != nil {
				return nil, fmt.Errorf("failed to decode %s[%d]: %w", kind, i, err)
			}
			items = append(items, Item{
				Kind:      kind,
				Index:     i,
				UserID:    identity.UserID,
				SummaryID: identity.SummaryID,
				Payload:   element,
			})
		}
	}

	return items, nil
}

func knownKind(kind string) bool {
	switch kind {
	case KindActivities, KindActivityDetails, KindActivityFiles, KindDeactivations:
		return true
	}
	return strings.HasPrefix(kind, healthKindPrefix)
}

// IsHealthKind reports whether kind is a health summary push
func IsHealthKind(kind string) bool {
	return strings.HasPrefix(kind, healthKindPrefix)
}

// ActivitySummary is one element of an "activities" push
type ActivitySummary struct {
	UserID                           string   `json:"userId"`
	SummaryID                        string   `json:"summaryId"`
	ActivityID                       int64    `json:"activityId"`
	ActivityName                     string   `json:"activityName"`
	ActivityType                     string   `json:"activityType"`
	StartTimeInSeconds               int64    `json:"startTimeInSeconds"`
	StartTimeOffsetInSeconds         int64    `json:"startTimeOffsetInSeconds"`
	DurationInSeconds                int64    `json:"durationInSeconds"`
	DistanceInMeters                 *float64 `json:"distanceInMeters,omitempty"`
	TotalElevationGainInMeters       *float64 `json:"totalElevationGainInMeters,omitempty"`
	AverageSpeedInMetersPerSecond    *float64 `json:"averageSpeedInMetersPerSecond,omitempty"`
	MaxSpeedInMetersPerSecond        *float64 `json:"maxSpeedInMetersPerSecond,omitempty"`
	AverageHeartRateInBeatsPerMinute *float64 `json:"averageHeartRateInBeatsPerMinute,omitempty"`
	MaxHeartRateInBeatsPerMinute     *float64 `json:"maxHeartRateInBeatsPerMinute,omitempty"`
	AveragePowerInWatts              *float64 `json:"averageBikingPowerInWatts,omitempty"`
	MaxPowerInWatts                  *float64 `json:"maxBikingPowerInWatts,omitempty"`
	ActiveKilocalories               *float64 `json:"activeKilocalories,omitempty"`
	Manual                           bool     `json:"manual"`
}

// ActivityDetails is one element of an "activityDetails" push: the same
// summary as an "activities" push wrapped alongside sample data.
type ActivityDetails struct {
	UserID     string          `json:"userId"`
	SummaryID  string          `json:"summaryId"`
	ActivityID int64           `json:"activityId"`
	Summary    ActivitySummary `json:"summary"`
}

// HealthSummary is the shared shape of HEALTH_* push elements
type HealthSummary struct {
	UserID             string `json:"userId"`
	SummaryID          string `json:"summaryId"`
	CalendarDate       string `json:"calendarDate"`
	StartTimeInSeconds int64  `json:"startTimeInSeconds"`
}

// ActivityFileNotification is one element of an "activityFiles" push. The
// binary file itself is fetched from the callback URL.
type ActivityFileNotification struct {
	UserID      string `json:"userId"`
	SummaryID   string `json:"summaryId"`
	ActivityID  int64  `json:"activityId"`
	FileType    string `json:"fileType"`
	CallbackURL string `json:"callbackURL"`
}

// Deregistration is one element of a "deregistrations" push: the user
// revoked access on Garmin's side.
type Deregistration struct {
	UserID string `json:"userId"`
}

// TokenResponse represents the response from a token refresh
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}
