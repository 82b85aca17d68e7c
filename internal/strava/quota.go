package strava

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// QuotaTracker tracks Strava's 15-minute and daily API quotas as reported
// in response headers.
type QuotaTracker struct {
	mu          sync.RWMutex
	limit15Min  int
	usage15Min  int
	limitDaily  int
	usageDaily  int
	lastUpdated time.Time
}

// QuotaStatus represents the most recently observed quota state
type QuotaStatus struct {
	Limit15Min    int
	Usage15Min    int
	LimitDaily    int
	UsageDaily    int
	Usage15MinPct float64
	UsageDailyPct float64
	LastUpdated   time.Time
}

// NewQuotaTracker creates a tracker seeded with Strava's default limits
func NewQuotaTracker() *QuotaTracker {
	return &QuotaTracker{
		limit15Min: 200,
		limitDaily: 2000,
	}
}

// ObserveHeaders updates the tracker from X-RateLimit response headers.
// Headers carry comma-separated 15-minute and daily pairs.
func (q *QuotaTracker) ObserveHeaders(headers http.Header) {
	limitHeader := headers.Get("X-RateLimit-Limit")
	usageHeader := headers.Get("X-RateLimit-Usage")
	if limitHeader == "" || usageHeader == "" {
		return
	}

	limits := strings.Split(limitHeader, ",")
	usages := strings.Split(usageHeader, ",")
	if len(limits) != 2 || len(usages) != 2 {
		return
	}

	limit15, _ := strconv.Atoi(strings.TrimSpace(limits[0]))
	limitDaily, _ := strconv.Atoi(strings.TrimSpace(limits[1]))
	usage15, _ := strconv.Atoi(strings.TrimSpace(usages[0]))
	usageDaily, _ := strconv.Atoi(strings.TrimSpace(usages[1]))

	q.mu.Lock()
	defer q.mu.Unlock()
	q.limit15Min = limit15
	q.usage15Min = usage15
	q.limitDaily = limitDaily
	q.usageDaily = usageDaily
	q.lastUpdated = time.Now()
}

// Status returns the current quota status
func (q *QuotaTracker) Status() QuotaStatus {
	q.mu.RLock()
	defer q.mu.RUnlock()

	usage15MinPct := 0.0
	if q.limit15Min > 0 {
		usage15MinPct = float64(q.usage15Min) / float64(q.limit15Min) * 100
	}

	usageDailyPct := 0.0
	if q.limitDaily > 0 {
		usageDailyPct = float64(q.usageDaily) / float64(q.limitDaily) * 100
	}

	return QuotaStatus{
		Limit15Min:    q.limit15Min,
		Usage15Min:    q.usage15Min,
		LimitDaily:    q.limitDaily,
		UsageDaily:    q.usageDaily,
		Usage15MinPct: usage15MinPct,
		UsageDailyPct: usageDailyPct,
		LastUpdated:   q.lastUpdated,
	}
}

// IsNearLimit returns true when either window is at or above the threshold
// percentage.
func (q *QuotaTracker) IsNearLimit(threshold float64) bool {
	status := q.Status()
	return status.Usage15MinPct >= threshold || status.UsageDailyPct >= threshold
}
