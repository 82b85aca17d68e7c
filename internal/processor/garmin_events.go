package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"pedalsync/internal/builder"
	"pedalsync/internal/database"
	"pedalsync/internal/garmin"
)

// handleGarminEvent dispatches one item of a Garmin batched push
func (p *Processor) handleGarminEvent(ctx context.Context, event *database.WebhookEvent) (*string, error) {
	switch {
	case event.EventType == garmin.KindActivities:
		return p.importGarminActivity(ctx, event)
	case event.EventType == garmin.KindActivityDetails:
		return p.importGarminActivityDetails(ctx, event)
	case event.EventType == garmin.KindActivityFiles:
		return p.attachGarminFile(ctx, event)
	case event.EventType == garmin.KindDeactivations:
		return p.deregisterGarminUser(event)
	case garmin.IsHealthKind(event.EventType):
		return p.pushGarminHealth(ctx, event)
	}
	return nil, permanentf("unsupported garmin event %s", event.EventType)
}

// importGarminActivity writes one activity summary into the canonical store
func (p *Processor) importGarminActivity(ctx context.Context, event *database.WebhookEvent) (*string, error) {
	var summary garmin.ActivitySummary
	if err := json.Unmarshal([]byte(event.Payload), &summary); err != nil {
		return nil, permanent(err, "malformed activity summary")
	}
	return p.storeGarminSummary(ctx, event, &summary)
}

// importGarminActivityDetails imports the summary embedded in an
// activityDetails push.
func (p *Processor) importGarminActivityDetails(ctx context.Context, event *database.WebhookEvent) (*string, error) {
	var details garmin.ActivityDetails
	if err := json.Unmarshal([]byte(event.Payload), &details); err != nil {
		return nil, permanent(err, "malformed activity details")
	}

	summary := details.Summary
	if summary.UserID == "" {
		summary.UserID = details.UserID
	}
	if summary.ActivityID == 0 {
		summary.ActivityID = details.ActivityID
	}
	if summary.SummaryID == "" {
		summary.SummaryID = details.SummaryID
	}

	return p.storeGarminSummary(ctx, event, &summary)
}

func (p *Processor) storeGarminSummary(ctx context.Context, event *database.WebhookEvent, summary *garmin.ActivitySummary) (*string, error) {
	account, err := p.lookupAccount(event.Provider, event.OwnerID)
	if err != nil {
		return nil, err
	}

	if !builder.IsCyclingGarmin(summary.ActivityType) {
		return nil, permanentf("not a cycling activity: %s", summary.ActivityType)
	}
	if !builder.MeetsMinimumDuration(summary.DurationInSeconds) {
		return nil, permanentf("activity too short: %ds", summary.DurationInSeconds)
	}

	activity, err := builder.FromGarmin(account.UserID, summary, json.RawMessage(event.Payload), "webhook")
	if err != nil {
		return nil, permanent(err, "unimportable activity")
	}

	resultingID, err := p.storeActivity(activity)
	if err != nil {
		p.recordSyncError(account, err)
		return nil, err
	}

	p.finishImport(ctx, account, activity.StartTime)

	return &resultingID, nil
}

// attachGarminFile downloads the pushed FIT file and enriches the imported
// activity with telemetry. If the summary push has not landed yet the event
// retries until it has.
func (p *Processor) attachGarminFile(ctx context.Context, event *database.WebhookEvent) (*string, error) {
	var notification garmin.ActivityFileNotification
	if err := json.Unmarshal([]byte(event.Payload), &notification); err != nil {
		return nil, permanent(err, "malformed file notification")
	}
	if notification.CallbackURL == "" {
		return nil, permanentf("file notification without callback URL")
	}

	account, err := p.lookupAccount(event.Provider, event.OwnerID)
	if err != nil {
		return nil, err
	}

	providerActivityID := strconv.FormatInt(notification.ActivityID, 10)
	existing, err := p.db.GetActivityByProviderID(account.UserID, event.Provider, providerActivityID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up activity: %w", err)
	}
	if existing == nil {
		// The matching summary push usually trails by seconds; retry
		return nil, fmt.Errorf("activity %s not imported yet", providerActivityID)
	}

	accessToken, err := p.tokens.AccessToken(ctx, account)
	if err != nil {
		p.recordSyncError(account, err)
		return nil, fmt.Errorf("failed to obtain access token: %w", err)
	}

	data, err := p.garminAPI.DownloadFile(ctx, accessToken, notification.CallbackURL)
	if err != nil {
		p.recordSyncError(account, err)
		return nil, fmt.Errorf("failed to download file: %w", err)
	}

	summary, err := p.parseTelemetry(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse telemetry: %w", err)
	}

	if err := p.db.AttachTelemetry(existing.ID, summary.Polyline, summary.StreamsJSON,
		summary.AvgWatts, summary.MaxWatts, summary.AvgHeartRate, summary.MaxHeartRate); err != nil {
		return nil, fmt.Errorf("failed to attach telemetry: %w", err)
	}

	p.logger.Info("telemetry attached",
		"activity_id", existing.ID,
		"has_polyline", summary.Polyline != nil,
		"has_streams", summary.StreamsJSON != nil,
	)

	p.finishImport(ctx, account, existing.StartTime)

	return &existing.ID, nil
}

// deregisterGarminUser removes the integration account after the user
// revoked access on Garmin's side.
func (p *Processor) deregisterGarminUser(event *database.WebhookEvent) (*string, error) {
	account, err := p.db.GetAccountByProviderUserID(event.Provider, event.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	if account == nil {
		// Already gone; deregistrations are idempotent
		return nil, nil
	}

	if err := p.db.DeleteAccount(account.UserID, account.Provider); err != nil {
		return nil, fmt.Errorf("failed to delete account: %w", err)
	}

	p.logger.Info("integration account removed",
		"user_id", account.UserID,
		"provider", account.Provider,
	)

	return nil, nil
}

// pushGarminHealth forwards a health summary to the fitness service. The
// update is best-effort; the event completes either way.
func (p *Processor) pushGarminHealth(ctx context.Context, event *database.WebhookEvent) (*string, error) {
	var summary garmin.HealthSummary
	if err := json.Unmarshal([]byte(event.Payload), &summary); err != nil {
		return nil, permanent(err, "malformed health summary")
	}

	account, err := p.lookupAccount(event.Provider, event.OwnerID)
	if err != nil {
		return nil, err
	}

	when := time.Unix(summary.StartTimeInSeconds, 0)
	if summary.StartTimeInSeconds == 0 && summary.CalendarDate != "" {
		if parsed, err := time.Parse("2006-01-02", summary.CalendarDate); err == nil {
			when = parsed
		}
	}

	p.finishImport(ctx, account, when.Unix())

	return nil, nil
}
