// Package handlers terminates inbound HTTP: the provider webhook receivers
// and the internal operator endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"pedalsync/internal/config"
	"pedalsync/internal/database"
	"pedalsync/internal/metrics"
	"pedalsync/internal/strava"
)

// maxWebhookBody caps inbound webhook bodies. Provider pushes are small;
// anything bigger is not a webhook.
const maxWebhookBody = 1 << 20

// EventRunner processes pending events on demand. The Strava receiver uses
// it in synchronous-import mode; the internal process endpoint triggers it
// from the platform scheduler.
type EventRunner interface {
	RunOnce(ctx context.Context) (int, error)
}

// StravaWebhookHandler handles Strava webhook callbacks
type StravaWebhookHandler struct {
	db     *database.DB
	config *config.Config
	runner EventRunner
	logger *slog.Logger
}

// NewStravaWebhookHandler creates a new Strava webhook handler. runner may
// be nil when synchronous import is disabled.
func NewStravaWebhookHandler(db *database.DB, cfg *config.Config, runner EventRunner) *StravaWebhookHandler {
	return &StravaWebhookHandler{
		db:     db,
		config: cfg,
		runner: runner,
		logger: slog.Default(),
	}
}

// HandleVerification handles GET requests for subscription verification
func (h *StravaWebhookHandler) HandleVerification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hubMode := r.URL.Query().Get("hub.mode")
	hubChallenge := r.URL.Query().Get("hub.challenge")
	hubVerifyToken := r.URL.Query().Get("hub.verify_token")

	h.logger.Info("webhook verification request", "hub.mode", hubMode)

	if hubMode != "subscribe" || hubVerifyToken != h.config.StravaVerifyToken {
		h.logger.Warn("invalid verification request", "hub.mode", hubMode)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{"hub.challenge": hubChallenge}); err != nil {
		h.logger.Error("failed to encode challenge response", "error", err)
	}
}

// HandleEvent handles POST requests carrying one webhook event
func (h *StravaWebhookHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.allowRequest("strava") {
		metrics.WebhookRateLimited.WithLabelValues("strava").Inc()
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var event strava.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Error("invalid JSON in webhook body", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if event.ObjectType == "" || event.AspectType == "" {
		h.logger.Error("webhook event missing identity fields")
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	h.recordReceived("strava")

	h.logger.Info("received webhook event",
		"object_type", event.ObjectType,
		"object_id", event.ObjectID,
		"aspect_type", event.AspectType,
		"owner_id", event.OwnerID,
	)

	// Provider-initiated disconnects are handled inline: there is nothing
	// to fetch, and the account must stop syncing right away.
	if event.IsDeauthorization() {
		h.handleDeauthorization(&event)
		w.WriteHeader(http.StatusOK)
		return
	}

	objectID := strconv.FormatInt(event.ObjectID, 10)

	// Replayed pushes are acknowledged without a second row
	existing, err := h.db.FindWebhookEvent("strava", objectID, event.AspectType)
	if err != nil {
		h.logger.Error("idempotency lookup failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		h.logger.Info("duplicate webhook delivery suppressed", "object_id", objectID)
		metrics.EventsDuplicateTotal.WithLabelValues("strava").Inc()
		w.WriteHeader(http.StatusOK)
		return
	}

	row := &database.WebhookEvent{
		Provider:   "strava",
		EventType:  event.ObjectType,
		AspectType: event.AspectType,
		ObjectID:   objectID,
		OwnerID:    strconv.FormatInt(event.OwnerID, 10),
		Payload:    string(body),
	}
	if err := h.db.CreateWebhookEvent(row); err != nil {
		h.logger.Error("failed to record webhook event", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	metrics.EventsReceivedTotal.WithLabelValues("strava", event.ObjectType).Inc()

	// Some deployments terminate the process once the response is written,
	// so there is no later tick to process on. Import before replying.
	if h.config.StravaSyncImport && h.runner != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		if _, err := h.runner.RunOnce(ctx); err != nil {
			// The row stays pending; a later trigger picks it up
			h.logger.Error("synchronous import failed", "error", err, "event_id", row.ID)
		}
	}

	w.WriteHeader(http.StatusOK)
}

// handleDeauthorization removes the integration account for an athlete who
// revoked access
func (h *StravaWebhookHandler) handleDeauthorization(event *strava.WebhookEvent) {
	ownerID := strconv.FormatInt(event.OwnerID, 10)
	account, err := h.db.GetAccountByProviderUserID("strava", ownerID)
	if err != nil {
		h.logger.Error("failed to look up account for deauthorization", "owner_id", ownerID, "error", err)
		return
	}
	if account == nil {
		return
	}
	if err := h.db.DeleteAccount(account.UserID, account.Provider); err != nil {
		h.logger.Error("failed to remove deauthorized account", "user_id", account.UserID, "error", err)
		return
	}
	h.logger.Info("integration account removed after deauthorization",
		"user_id", account.UserID,
		"provider", "strava",
	)
}

// allowRequest applies the durable inbound rate limit. Limiter errors fail
// open: dropping real webhooks is worse than letting a burst through.
func (h *StravaWebhookHandler) allowRequest(prov string) bool {
	allowed, err := h.db.AllowRequest("webhook:"+prov, h.config.WebhookRateLimit, time.Minute)
	if err != nil {
		h.logger.Error("rate limit check failed", "provider", prov, "error", err)
		return true
	}
	return allowed
}

// recordReceived stamps the persisted per-provider webhook diagnostics
func (h *StravaWebhookHandler) recordReceived(prov string) {
	if err := h.db.RecordWebhookReceived(prov); err != nil {
		h.logger.Error("failed to record webhook health", "provider", prov, "error", err)
	}
}
