// Package provider defines the closed set of activity sources and their
// trust ranking used by cross-provider deduplication.
package provider

import "fmt"

// Provider identifies an activity source
type Provider string

const (
	// Strava delivers one webhook event per HTTP push
	Strava Provider = "strava"
	// Garmin delivers batched webhook payloads and FIT file callbacks
	Garmin Provider = "garmin"
	// Upload is a direct device-file upload through the product itself
	Upload Provider = "upload"
)

// Priority returns the trust ranking used when two providers report the
// same physical ride. Higher wins: a direct device file beats Garmin's
// telemetry which beats Strava's leaner summaries.
func (p Provider) Priority() int {
	switch p {
	case Upload:
		return 3
	case Garmin:
		return 2
	case Strava:
		return 1
	default:
		return 0
	}
}

// Valid reports whether p is a known provider
func (p Provider) Valid() bool {
	switch p {
	case Strava, Garmin, Upload:
		return true
	}
	return false
}

// Parse converts a stored provider string back into a Provider
func Parse(s string) (Provider, error) {
	p := Provider(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown provider: %q", s)
	}
	return p, nil
}
