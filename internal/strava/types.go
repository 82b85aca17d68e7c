package strava

import "encoding/json"

// WebhookEvent is the body of a single Strava webhook push. Strava sends
// exactly one event per HTTP request.
type WebhookEvent struct {
	ObjectType     string            `json:"object_type"`
	ObjectID       int64             `json:"object_id"`
	AspectType     string            `json:"aspect_type"`
	OwnerID        int64             `json:"owner_id"`
	SubscriptionID int64             `json:"subscription_id"`
	EventTime      int64             `json:"event_time"`
	Updates        map[string]string `json:"updates,omitempty"`
}

// IsDeauthorization reports whether the event is an athlete revoking app
// access. Strava delivers these as athlete/update with authorized=false.
func (e *WebhookEvent) IsDeauthorization() bool {
	return e.ObjectType == "athlete" && e.AspectType == "update" && e.Updates["authorized"] == "false"
}

// ActivityDetail is the subset of Strava's detailed activity representation
// that the importer consumes. Fields Strava omits for a given activity stay
// nil so the canonical store keeps them NULL.
type ActivityDetail struct {
	ID                 int64    `json:"id"`
	Name               string   `json:"name"`
	Type               string   `json:"type"`
	SportType          string   `json:"sport_type"`
	StartDate          string   `json:"start_date"`
	Distance           float64  `json:"distance"`
	MovingTime         int64    `json:"moving_time"`
	ElapsedTime        int64    `json:"elapsed_time"`
	TotalElevationGain float64  `json:"total_elevation_gain"`
	AverageSpeed       float64  `json:"average_speed"`
	MaxSpeed           float64  `json:"max_speed"`
	AverageWatts       *float64 `json:"average_watts,omitempty"`
	MaxWatts           *float64 `json:"max_watts,omitempty"`
	Kilojoules         *float64 `json:"kilojoules,omitempty"`
	AverageHeartrate   *float64 `json:"average_heartrate,omitempty"`
	MaxHeartrate       *float64 `json:"max_heartrate,omitempty"`
	DeviceWatts        bool     `json:"device_watts"`
	Map                *Map     `json:"map,omitempty"`
}

// Map carries Strava's encoded route polylines
type Map struct {
	ID              string `json:"id"`
	Polyline        string `json:"polyline"`
	SummaryPolyline string `json:"summary_polyline"`
}

// BestPolyline returns the detailed polyline when present, otherwise the
// summary polyline, otherwise nil.
func (m *Map) BestPolyline() *string {
	if m == nil {
		return nil
	}
	if m.Polyline != "" {
		return &m.Polyline
	}
	if m.SummaryPolyline != "" {
		return &m.SummaryPolyline
	}
	return nil
}

// TokenResponse represents the response from a token refresh
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	ExpiresIn    int    `json:"expires_in"`
}

// RawActivity pairs the decoded detail with the raw response body so the
// store can preserve the provider payload verbatim.
type RawActivity struct {
	Detail *ActivityDetail
	Raw    json.RawMessage
}
