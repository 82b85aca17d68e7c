package metrics

import (
	"context"
	"log/slog"
	"time"
)

// BacklogDB is the slice of the store the backlog collector reads
type BacklogDB interface {
	CountPendingWebhookEvents() (int, error)
	CountDeadLetteredWebhookEvents() (int, error)
}

// StartBacklogCollector starts a background goroutine that periodically
// reads backlog depths from the database into gauges.
func StartBacklogCollector(ctx context.Context, db BacklogDB, interval time.Duration) {
	logger := slog.Default()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect once immediately
	collectBacklog(db, logger)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Backlog collector stopping")
			return
		case <-ticker.C:
			collectBacklog(db, logger)
		}
	}
}

func collectBacklog(db BacklogDB, logger *slog.Logger) {
	if pending, err := db.CountPendingWebhookEvents(); err != nil {
		logger.Error("Failed to count pending events", "error", err)
	} else {
		EventBacklogPending.Set(float64(pending))
	}

	if dead, err := db.CountDeadLetteredWebhookEvents(); err != nil {
		logger.Error("Failed to count dead-lettered events", "error", err)
	} else {
		EventBacklogDeadLettered.Set(float64(dead))
	}
}

// ObserveStravaQuota publishes the Strava quota state to gauges
func ObserveStravaQuota(limit15, usage15, limitDaily, usageDaily int) {
	StravaRateLimitUsage.WithLabelValues(RateLimitOverall15Min, BucketLimit).Set(float64(limit15))
	StravaRateLimitUsage.WithLabelValues(RateLimitOverall15Min, BucketUsage).Set(float64(usage15))
	StravaRateLimitUsage.WithLabelValues(RateLimitOverallDaily, BucketLimit).Set(float64(limitDaily))
	StravaRateLimitUsage.WithLabelValues(RateLimitOverallDaily, BucketUsage).Set(float64(usageDaily))
}
