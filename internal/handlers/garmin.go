package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"pedalsync/internal/config"
	"pedalsync/internal/database"
	"pedalsync/internal/garmin"
	"pedalsync/internal/metrics"
)

// GarminWebhookHandler handles Garmin push notifications
type GarminWebhookHandler struct {
	db     *database.DB
	config *config.Config
	logger *slog.Logger
}

// NewGarminWebhookHandler creates a new Garmin webhook handler
func NewGarminWebhookHandler(db *database.DB, cfg *config.Config) *GarminWebhookHandler {
	return &GarminWebhookHandler{
		db:     db,
		config: cfg,
		logger: slog.Default(),
	}
}

// HandlePush handles POST requests carrying a batched push payload. Each
// array element becomes its own durable event row; Garmin treats anything
// but a 200 as a delivery failure and retries the whole batch, so business
// problems are acknowledged and sorted out during processing.
func (h *GarminWebhookHandler) HandlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if allowed, err := h.db.AllowRequest("webhook:garmin", h.config.WebhookRateLimit, time.Minute); err != nil {
		h.logger.Error("rate limit check failed", "provider", "garmin", "error", err)
	} else if !allowed {
		metrics.WebhookRateLimited.WithLabelValues("garmin").Inc()
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read push body", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	items, err := garmin.SplitPayload(body)
	if err != nil {
		h.logger.Error("malformed push payload", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if err := h.db.RecordWebhookReceived("garmin"); err != nil {
		h.logger.Error("failed to record webhook health", "provider", "garmin", "error", err)
	}

	recorded := 0
	for _, item := range items {
		// Replays of the same summary are acknowledged without a new row.
		// Items without a summary id (deregistrations) always record.
		if item.SummaryID != "" {
			existing, err := h.db.FindWebhookEvent("garmin", item.SummaryID, "create")
			if err != nil {
				h.logger.Error("idempotency lookup failed", "error", err)
				continue
			}
			if existing != nil {
				metrics.EventsDuplicateTotal.WithLabelValues("garmin").Inc()
				continue
			}
		}

		row := &database.WebhookEvent{
			Provider:   "garmin",
			EventType:  item.Kind,
			AspectType: "create",
			ObjectID:   item.SummaryID,
			OwnerID:    item.UserID,
			Payload:    string(item.Payload),
			BatchIndex: item.Index,
		}
		if err := h.db.CreateWebhookEvent(row); err != nil {
			h.logger.Error("failed to record push item",
				"kind", item.Kind,
				"batch_index", item.Index,
				"error", err,
			)
			continue
		}
		metrics.EventsReceivedTotal.WithLabelValues("garmin", item.Kind).Inc()
		recorded++
	}

	h.logger.Info("garmin push recorded", "items", len(items), "recorded", recorded)

	w.WriteHeader(http.StatusOK)
}
