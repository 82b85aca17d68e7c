// Package processor drains pending webhook events on a schedule: each event
// runs through a per-kind handler, succeeds with a resulting activity,
// retries with exponential backoff, or retires as permanently failed.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pedalsync/internal/database"
	"pedalsync/internal/dedup"
	"pedalsync/internal/fitness"
	"pedalsync/internal/garmin"
	"pedalsync/internal/metrics"
	"pedalsync/internal/provider"
	"pedalsync/internal/strava"
	"pedalsync/internal/telemetry"
)

const (
	// maxRetries is the attempt cap per event. An event reaching this count
	// is dead-lettered.
	maxRetries = 7

	// lookbackWindow bounds how old an unprocessed event may be and still
	// get picked up. Anything older is stale by the time it would import.
	lookbackWindow = 24 * time.Hour
)

// backoffDelay returns the wait before the given retry attempt:
// 1, 2, 4, 8, 16, 32 minutes for attempts 1 through 6.
func backoffDelay(retryCount int) time.Duration {
	return time.Duration(1<<(retryCount-1)) * time.Minute
}

// StravaAPI is the slice of the Strava client the processor uses
type StravaAPI interface {
	GetActivity(ctx context.Context, accessToken string, activityID int64) (*strava.RawActivity, error)
}

// GarminAPI is the slice of the Garmin client the processor uses
type GarminAPI interface {
	DownloadFile(ctx context.Context, accessToken, callbackURL string) ([]byte, error)
}

// TokenSource returns valid access tokens for integration accounts
type TokenSource interface {
	AccessToken(ctx context.Context, account *database.IntegrationAccount) (string, error)
}

// Processor drains pending webhook events
type Processor struct {
	db        *database.DB
	logger    *slog.Logger
	stravaAPI StravaAPI
	garminAPI GarminAPI
	tokens    TokenSource
	dedup     *dedup.Engine
	fitness   fitness.SnapshotUpdater

	interval  time.Duration
	batchSize int
	now       func() time.Time
	parseFIT  func([]byte) (*telemetry.Summary, error)
}

// New creates a processor
func New(db *database.DB, stravaAPI StravaAPI, garminAPI GarminAPI, tokens TokenSource, snapshots fitness.SnapshotUpdater, interval time.Duration, batchSize int, logger *slog.Logger) *Processor {
	return &Processor{
		db:        db,
		logger:    logger,
		stravaAPI: stravaAPI,
		garminAPI: garminAPI,
		tokens:    tokens,
		dedup:     dedup.NewEngine(db),
		fitness:   snapshots,
		interval:  interval,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Start runs the drain loop until the context is cancelled
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info("processor starting", "interval", p.interval, "batch_size", p.batchSize)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("processor stopping")
			return
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil {
				p.logger.Error("batch run failed", "error", err)
			}
			// Rate limit buckets are only read within their window; sweep
			// stale ones while we are here.
			if err := p.db.PruneRateLimitBuckets(time.Hour); err != nil {
				p.logger.Error("failed to prune rate limit buckets", "error", err)
			}
		}
	}
}

// RunOnce drains one batch of pending events, oldest first, and returns how
// many events it handled.
func (p *Processor) RunOnce(ctx context.Context) (int, error) {
	start := p.now()

	events, err := p.db.ListPendingWebhookEvents(start, maxRetries, lookbackWindow, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending events: %w", err)
	}

	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		p.processEvent(ctx, event)
	}

	duration := time.Since(start)
	metrics.BatchDuration.Observe(duration.Seconds())

	if len(events) > 0 {
		p.logger.Info("batch complete", "events", len(events), "duration_ms", duration.Milliseconds())
	}

	return len(events), nil
}

// processEvent runs one event through its handler and records the outcome
func (p *Processor) processEvent(ctx context.Context, event *database.WebhookEvent) {
	resultingID, err := p.handleEvent(ctx, event)

	switch {
	case err == nil:
		if markErr := p.db.MarkWebhookEventProcessed(event.ID, nil, resultingID); markErr != nil {
			p.logger.Error("failed to mark event processed", "event_id", event.ID, "error", markErr)
			return
		}
		metrics.EventsProcessedTotal.WithLabelValues(event.Provider, metrics.ResultSuccess).Inc()

	case isPermanent(err):
		p.logger.Info("event permanently failed",
			"event_id", event.ID,
			"provider", event.Provider,
			"event_type", event.EventType,
			"reason", err.Error(),
		)
		reason := err.Error()
		if markErr := p.db.MarkWebhookEventProcessed(event.ID, &reason, nil); markErr != nil {
			p.logger.Error("failed to retire event", "event_id", event.ID, "error", markErr)
			return
		}
		metrics.EventsProcessedTotal.WithLabelValues(event.Provider, metrics.ResultPermanent).Inc()

	default:
		p.scheduleRetry(event, err)
	}
}

// scheduleRetry either re-queues the event with backoff or dead-letters it
// once the attempt cap is reached.
func (p *Processor) scheduleRetry(event *database.WebhookEvent, cause error) {
	newCount := event.RetryCount + 1
	reason := cause.Error()

	if newCount >= maxRetries {
		p.logger.Error("event exhausted retries",
			"event_id", event.ID,
			"provider", event.Provider,
			"retry_count", newCount,
			"error", reason,
		)
		terminal := fmt.Sprintf("retries exhausted: %s", reason)
		if err := p.db.MarkWebhookEventProcessed(event.ID, &terminal, nil); err != nil {
			p.logger.Error("failed to dead-letter event", "event_id", event.ID, "error", err)
			return
		}
		metrics.EventsProcessedTotal.WithLabelValues(event.Provider, metrics.ResultDeadLetter).Inc()
		return
	}

	nextRetry := p.now().Add(backoffDelay(newCount))
	p.logger.Warn("event failed, scheduling retry",
		"event_id", event.ID,
		"provider", event.Provider,
		"retry_count", newCount,
		"next_retry_at", nextRetry.Unix(),
		"error", reason,
	)
	if err := p.db.ScheduleWebhookEventRetry(event.ID, newCount, nextRetry, reason); err != nil {
		p.logger.Error("failed to schedule retry", "event_id", event.ID, "error", err)
		return
	}
	metrics.EventsProcessedTotal.WithLabelValues(event.Provider, metrics.ResultRetry).Inc()
}

// handleEvent dispatches one event by its (provider, kind, aspect) shape.
// The union is closed: anything outside it retires immediately.
func (p *Processor) handleEvent(ctx context.Context, event *database.WebhookEvent) (*string, error) {
	switch provider.Provider(event.Provider) {
	case provider.Strava:
		return p.handleStravaEvent(ctx, event)
	case provider.Garmin:
		return p.handleGarminEvent(ctx, event)
	}
	return nil, permanentf("unsupported provider %q", event.Provider)
}

// lookupAccount resolves the event's owner to an integration account
func (p *Processor) lookupAccount(prov, providerUserID string) (*database.IntegrationAccount, error) {
	account, err := p.db.GetAccountByProviderUserID(prov, providerUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	if account == nil {
		return nil, permanentf("no integration account for %s user %s", prov, providerUserID)
	}
	return account, nil
}

// storeActivity inserts the built activity or folds it into an existing
// cross-provider duplicate. Returns the id of the surviving row.
func (p *Processor) storeActivity(incoming *database.Activity) (string, error) {
	// A replay or update of an already imported provider activity refreshes
	// the stored row in place.
	existing, err := p.db.GetActivityByProviderID(incoming.UserID, incoming.Provider, incoming.ProviderActivityID)
	if err != nil {
		return "", fmt.Errorf("failed to check for existing import: %w", err)
	}
	if existing != nil {
		if err := p.db.TakeoverActivity(existing.ID, incoming); err != nil {
			return "", fmt.Errorf("failed to refresh activity: %w", err)
		}
		return existing.ID, nil
	}

	result, err := p.dedup.Evaluate(incoming)
	if err != nil {
		return "", fmt.Errorf("failed to evaluate duplicates: %w", err)
	}

	if !result.IsDuplicate {
		if err := p.db.InsertActivity(incoming); err != nil {
			return "", fmt.Errorf("failed to insert activity: %w", err)
		}
		metrics.DedupResolutionsTotal.WithLabelValues(metrics.DedupInserted).Inc()
		metrics.ActivitiesImportedTotal.WithLabelValues(incoming.Provider).Inc()
		return incoming.ID, nil
	}

	if result.ShouldTakeover {
		p.logger.Info("duplicate activity, taking over",
			"existing_id", result.Existing.ID,
			"existing_provider", result.Existing.Provider,
			"incoming_provider", incoming.Provider,
			"reason", result.Reason,
		)
		if err := p.db.TakeoverActivity(result.Existing.ID, incoming); err != nil {
			return "", fmt.Errorf("failed to take over activity: %w", err)
		}
		metrics.DedupResolutionsTotal.WithLabelValues(metrics.DedupTakeover).Inc()
		return result.Existing.ID, nil
	}

	p.logger.Info("duplicate activity, merging",
		"existing_id", result.Existing.ID,
		"existing_provider", result.Existing.Provider,
		"incoming_provider", incoming.Provider,
		"reason", result.Reason,
	)
	if err := p.db.MergeActivityFields(result.Existing.ID, incoming); err != nil {
		return "", fmt.Errorf("failed to merge activity: %w", err)
	}
	metrics.DedupResolutionsTotal.WithLabelValues(metrics.DedupMerged).Inc()
	return result.Existing.ID, nil
}

// finishImport records sync health on the account and nudges the fitness
// snapshot. Snapshot failures are logged, never propagated.
func (p *Processor) finishImport(ctx context.Context, account *database.IntegrationAccount, startTime int64) {
	if err := p.db.SetAccountSyncStatus(account.UserID, account.Provider, nil); err != nil {
		p.logger.Error("failed to record sync status", "user_id", account.UserID, "error", err)
	}

	if err := p.fitness.UpdateForActivity(ctx, account.UserID, time.Unix(startTime, 0)); err != nil {
		p.logger.Warn("fitness snapshot update failed", "user_id", account.UserID, "error", err)
		metrics.FitnessUpdatesTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return
	}
	metrics.FitnessUpdatesTotal.WithLabelValues(metrics.ResultSuccess).Inc()
}

// recordSyncError stamps the account with a transient failure so support
// can see which integration is struggling.
func (p *Processor) recordSyncError(account *database.IntegrationAccount, cause error) {
	msg := cause.Error()
	if err := p.db.SetAccountSyncStatus(account.UserID, account.Provider, &msg); err != nil {
		p.logger.Error("failed to record sync error", "user_id", account.UserID, "error", err)
	}
}

// parseTelemetry decodes a downloaded FIT file. Indirected so tests can
// substitute canned summaries.
func (p *Processor) parseTelemetry(data []byte) (*telemetry.Summary, error) {
	if p.parseFIT != nil {
		return p.parseFIT(data)
	}
	return telemetry.Parse(data)
}

var _ GarminAPI = (*garmin.Client)(nil)
var _ StravaAPI = (*strava.Client)(nil)
