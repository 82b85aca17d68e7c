package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pedalsync/internal/database"
)

type fakeStore struct {
	activities []*database.Activity
}

func (f *fakeStore) FindActivitiesNear(userID, excludeProvider string, startTime int64, window time.Duration) ([]*database.Activity, error) {
	var out []*database.Activity
	for _, a := range f.activities {
		if a.UserID != userID || a.Provider == excludeProvider {
			continue
		}
		delta := a.StartTime - startTime
		if delta < 0 {
			delta = -delta
		}
		if time.Duration(delta)*time.Second <= window {
			out = append(out, a)
		}
	}
	return out, nil
}

func dist(v float64) *float64 { return &v }

func stored(id, prov string, priority int, start int64, distance *float64) *database.Activity {
	return &database.Activity{
		ID:             id,
		UserID:         "user-1",
		Provider:       prov,
		SourcePriority: priority,
		StartTime:      start,
		DistanceM:      distance,
	}
}

func TestEvaluateDuplicateWithinTolerance(t *testing.T) {
	base := int64(1748764800)
	engine := NewEngine(&fakeStore{activities: []*database.Activity{
		stored("act-1", "strava", 1, base, dist(42000)),
	}})

	// 90 seconds later, 5% shorter: same ride
	incoming := stored("", "garmin", 2, base+90, dist(39900))
	result, err := engine.Evaluate(incoming)
	require.NoError(t, err)

	assert.True(t, result.IsDuplicate)
	assert.True(t, result.ShouldTakeover)
	require.NotNil(t, result.Existing)
	assert.Equal(t, "act-1", result.Existing.ID)
}

func TestEvaluateFarApartNotDuplicate(t *testing.T) {
	base := int64(1748764800)
	engine := NewEngine(&fakeStore{activities: []*database.Activity{
		stored("act-1", "strava", 1, base, dist(42000)),
	}})

	// Identical distance but 10 minutes apart: separate rides
	incoming := stored("", "garmin", 2, base+600, dist(42000))
	result, err := engine.Evaluate(incoming)
	require.NoError(t, err)

	assert.False(t, result.IsDuplicate)
	assert.Nil(t, result.Existing)
}

func TestEvaluateDistanceOutsideTolerance(t *testing.T) {
	base := int64(1748764800)
	engine := NewEngine(&fakeStore{activities: []*database.Activity{
		stored("act-1", "strava", 1, base, dist(42000)),
	}})

	// Close in time but 20% shorter: different ride
	incoming := stored("", "garmin", 2, base+60, dist(33600))
	result, err := engine.Evaluate(incoming)
	require.NoError(t, err)

	assert.False(t, result.IsDuplicate)
}

func TestEvaluateMissingDistanceNarrowWindow(t *testing.T) {
	base := int64(1748764800)
	engine := NewEngine(&fakeStore{activities: []*database.Activity{
		stored("act-1", "strava", 1, base, nil),
	}})

	// 20s apart with no distance on the stored side: duplicate
	incoming := stored("", "garmin", 2, base+20, dist(41800))
	result, err := engine.Evaluate(incoming)
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate)

	// 90s apart with no distance: outside the narrow window
	incoming = stored("", "garmin", 2, base+90, dist(41800))
	result, err = engine.Evaluate(incoming)
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate)
}

func TestEvaluateClosestMatchWins(t *testing.T) {
	base := int64(1748764800)
	engine := NewEngine(&fakeStore{activities: []*database.Activity{
		stored("act-far", "strava", 1, base-150, dist(42000)),
		stored("act-near", "strava", 1, base+30, dist(41500)),
	}})

	incoming := stored("", "garmin", 2, base, dist(42000))
	result, err := engine.Evaluate(incoming)
	require.NoError(t, err)

	assert.True(t, result.IsDuplicate)
	assert.Equal(t, "act-near", result.Existing.ID)
}

func TestEvaluatePriorityDecidesResolution(t *testing.T) {
	base := int64(1748764800)

	// Incoming outranks existing: takeover
	engine := NewEngine(&fakeStore{activities: []*database.Activity{
		stored("act-1", "strava", 1, base, dist(42000)),
	}})
	result, err := engine.Evaluate(stored("", "garmin", 2, base+45, dist(41800)))
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate)
	assert.True(t, result.ShouldTakeover)

	// Incoming ranks below existing: merge
	engine = NewEngine(&fakeStore{activities: []*database.Activity{
		stored("act-2", "garmin", 2, base, dist(41800)),
	}})
	result, err = engine.Evaluate(stored("", "strava", 1, base+45, dist(42000)))
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate)
	assert.False(t, result.ShouldTakeover)

	// Equal priority keeps the stored row authoritative
	engine = NewEngine(&fakeStore{activities: []*database.Activity{
		stored("act-3", "garmin", 2, base, dist(41800)),
	}})
	result, err = engine.Evaluate(stored("", "upload", 2, base+45, dist(41900)))
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate)
	assert.False(t, result.ShouldTakeover)
}

func TestEvaluateNoCandidates(t *testing.T) {
	engine := NewEngine(&fakeStore{})
	result, err := engine.Evaluate(stored("", "garmin", 2, 1748764800, dist(41800)))
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate)
	assert.False(t, result.ShouldTakeover)
}
