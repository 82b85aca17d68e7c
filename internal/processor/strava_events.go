package processor

import (
	"context"
	"fmt"
	"strconv"

	"pedalsync/internal/builder"
	"pedalsync/internal/database"
	"pedalsync/internal/strava"
)

// handleStravaEvent dispatches one Strava webhook event
func (p *Processor) handleStravaEvent(ctx context.Context, event *database.WebhookEvent) (*string, error) {
	switch event.EventType {
	case "activity":
		switch event.AspectType {
		case "create", "update":
			return p.importStravaActivity(ctx, event)
		case "delete":
			return p.deleteStravaActivity(event)
		}
	case "athlete":
		// Deauthorizations are handled at the receiver; any athlete event
		// reaching here has nothing left to do.
		return nil, nil
	}
	return nil, permanentf("unsupported strava event %s/%s", event.EventType, event.AspectType)
}

// importStravaActivity fetches the activity detail and writes it into the
// canonical store. Updates of activities never imported degrade to create.
func (p *Processor) importStravaActivity(ctx context.Context, event *database.WebhookEvent) (*string, error) {
	account, err := p.lookupAccount(event.Provider, event.OwnerID)
	if err != nil {
		return nil, err
	}

	activityID, err := strconv.ParseInt(event.ObjectID, 10, 64)
	if err != nil {
		return nil, permanent(err, "malformed activity id")
	}

	accessToken, err := p.tokens.AccessToken(ctx, account)
	if err != nil {
		p.recordSyncError(account, err)
		return nil, fmt.Errorf("failed to obtain access token: %w", err)
	}

	raw, err := p.stravaAPI.GetActivity(ctx, accessToken, activityID)
	if err != nil {
		if strava.IsNotFound(err) {
			// Deleted (or made private) between the push and now
			return nil, permanent(err, "activity no longer accessible")
		}
		p.recordSyncError(account, err)
		return nil, fmt.Errorf("failed to fetch activity: %w", err)
	}

	detail := raw.Detail
	sportType := detail.SportType
	if sportType == "" {
		sportType = detail.Type
	}
	if !builder.IsCyclingStrava(sportType) {
		return nil, permanentf("not a cycling activity: %s", sportType)
	}
	if !builder.MeetsMinimumDuration(detail.ElapsedTime) {
		return nil, permanentf("activity too short: %ds", detail.ElapsedTime)
	}

	activity, err := builder.FromStrava(account.UserID, detail, raw.Raw, "webhook")
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

// deleteStravaActivity soft-deletes the canonical row for a provider-side
// deletion. A delete for an activity never imported retires immediately.
func (p *Processor) deleteStravaActivity(event *database.WebhookEvent) (*string, error) {
	account, err := p.lookupAccount(event.Provider, event.OwnerID)
	if err != nil {
		return nil, err
	}

	existing, err := p.db.GetActivityByProviderID(account.UserID, event.Provider, event.ObjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up activity: %w", err)
	}
	if existing == nil {
		return nil, permanentf("delete for activity never imported: %s", event.ObjectID)
	}

	if err := p.db.MarkActivityDeleted(existing.ID); err != nil {
		return nil, fmt.Errorf("failed to delete activity: %w", err)
	}

	p.logger.Info("activity deleted",
		"activity_id", existing.ID,
		"provider", event.Provider,
		"provider_activity_id", event.ObjectID,
	)

	return &existing.ID, nil
}
