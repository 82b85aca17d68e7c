// Package dedup decides whether an incoming activity is a cross-provider
// copy of one already stored, and how the pair should be resolved.
package dedup

import (
	"fmt"
	"math"
	"time"

	"pedalsync/internal/database"
)

const (
	// startTimeWindow is the widest start-time gap two recordings of the
	// same ride can show. Devices start at slightly different moments and
	// clocks drift, but not by more than a few minutes.
	startTimeWindow = 180 * time.Second

	// narrowWindow applies when either side lacks a distance: without the
	// distance check the time check must carry the whole decision.
	narrowWindow = 30 * time.Second

	// distanceTolerance is the relative distance difference two recordings
	// of the same ride may show (GPS noise, pause handling).
	distanceTolerance = 0.08
)

// Result is the outcome of evaluating an incoming activity against the
// user's stored activities.
type Result struct {
	IsDuplicate    bool
	ShouldTakeover bool
	Existing       *database.Activity
	Reason         string
}

// Store is the slice of the activity store dedup needs
type Store interface {
	FindActivitiesNear(userID, excludeProvider string, startTime int64, window time.Duration) ([]*database.Activity, error)
}

// Engine evaluates incoming activities for cross-provider duplicates
type Engine struct {
	store Store
}

// NewEngine creates a dedup engine backed by the given store
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// Evaluate checks the incoming activity against stored activities of the
// same user from other providers. When several stored activities qualify,
// the one closest in start time wins.
func (e *Engine) Evaluate(incoming *database.Activity) (*Result, error) {
	candidates, err := e.store.FindActivitiesNear(incoming.UserID, incoming.Provider, incoming.StartTime, startTimeWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to query nearby activities: %w", err)
	}

	var best *database.Activity
	var bestDelta int64
	var bestReason string

	for _, candidate := range candidates {
		match, reason := matches(incoming, candidate)
		if !match {
			continue
		}
		delta := abs64(incoming.StartTime - candidate.StartTime)
		if best == nil || delta < bestDelta {
			best = candidate
			bestDelta = delta
			bestReason = reason
		}
	}

	if best == nil {
		return &Result{}, nil
	}

	return &Result{
		IsDuplicate:    true,
		ShouldTakeover: incoming.SourcePriority > best.SourcePriority,
		Existing:       best,
		Reason:         bestReason,
	}, nil
}

// matches applies the duplicate rules to one candidate pair
func matches(incoming, candidate *database.Activity) (bool, string) {
	delta := abs64(incoming.StartTime - candidate.StartTime)

	if incoming.DistanceM == nil || candidate.DistanceM == nil {
		// No distance to corroborate; only near-simultaneous starts count
		if delta <= int64(narrowWindow.Seconds()) {
			return true, fmt.Sprintf("starts %ds apart, distance unavailable", delta)
		}
		return false, ""
	}

	if delta > int64(startTimeWindow.Seconds()) {
		return false, ""
	}

	a, b := *incoming.DistanceM, *candidate.DistanceM
	larger := math.Max(a, b)
	if larger == 0 {
		return false, ""
	}
	relDiff := math.Abs(a-b) / larger
	if relDiff > distanceTolerance {
		return false, ""
	}

	return true, fmt.Sprintf("starts %ds apart, distances within %.1f%%", delta, relDiff*100)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
