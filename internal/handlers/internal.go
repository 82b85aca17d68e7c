package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"pedalsync/internal/config"
	"pedalsync/internal/database"
)

// BackfillRequester asks a provider to re-deliver historical activities
type BackfillRequester interface {
	RequestBackfill(ctx context.Context, accessToken string, from, to time.Time) error
}

// TokenSource returns valid access tokens for integration accounts
type TokenSource interface {
	AccessToken(ctx context.Context, account *database.IntegrationAccount) (string, error)
}

// InternalHandler serves the operator endpoints: the scheduler-triggered
// process run, backfill requests, and the health probe.
type InternalHandler struct {
	db       *database.DB
	config   *config.Config
	runner   EventRunner
	backfill BackfillRequester
	tokens   TokenSource
	logger   *slog.Logger
}

// NewInternalHandler creates a new internal endpoints handler
func NewInternalHandler(db *database.DB, cfg *config.Config, runner EventRunner, backfill BackfillRequester, tokens TokenSource) *InternalHandler {
	return &InternalHandler{
		db:       db,
		config:   cfg,
		runner:   runner,
		backfill: backfill,
		tokens:   tokens,
		logger:   slog.Default(),
	}
}

// authorized checks a shared-secret header in constant time
func authorized(r *http.Request, header, secret string) bool {
	if secret == "" {
		return false
	}
	got := r.Header.Get(header)
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}

// HandleProcess triggers one processing batch. Deployments without an
// in-process ticker call this from the platform scheduler.
func (h *InternalHandler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !authorized(r, "X-Cron-Secret", h.config.CronSecret) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	processed, err := h.runner.RunOnce(r.Context())
	if err != nil {
		h.logger.Error("scheduled batch failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"processed": processed})
}

type backfillRequest struct {
	UserID string `json:"user_id"`
	From   int64  `json:"from"`
	To     int64  `json:"to"`
}

// HandleBackfill asks Garmin to re-deliver a user's activities for a time
// range. The summaries arrive later as ordinary pushes.
func (h *InternalHandler) HandleBackfill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !authorized(r, "X-API-Key", h.config.InternalAPIKey) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	var req backfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.From <= 0 || req.To <= req.From {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	account, err := h.db.GetAccount(req.UserID, "garmin")
	if err != nil {
		h.logger.Error("failed to look up account", "user_id", req.UserID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if account == nil {
		http.Error(w, "No garmin account for user", http.StatusNotFound)
		return
	}

	accessToken, err := h.tokens.AccessToken(r.Context(), account)
	if err != nil {
		h.logger.Error("failed to obtain access token", "user_id", req.UserID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if err := h.backfill.RequestBackfill(r.Context(), accessToken, time.Unix(req.From, 0), time.Unix(req.To, 0)); err != nil {
		h.logger.Error("backfill request failed", "user_id", req.UserID, "error", err)
		http.Error(w, "Bad gateway", http.StatusBadGateway)
		return
	}

	h.logger.Info("backfill requested", "user_id", req.UserID, "from", req.From, "to", req.To)
	w.WriteHeader(http.StatusAccepted)
}

type healthResponse struct {
	Status   string               `json:"status"`
	Backlog  backlogStatus        `json:"backlog"`
	Webhooks []providerWebhookAge `json:"webhooks"`
}

type backlogStatus struct {
	Pending      int `json:"pending"`
	DeadLettered int `json:"dead_lettered"`
}

type providerWebhookAge struct {
	Provider       string `json:"provider"`
	LastReceivedAt int64  `json:"last_received_at"`
	ReceivedTotal  int64  `json:"received_total"`
}

// HandleHealth reports database reachability, backlog depth, and the
// persisted last-webhook diagnostics.
func (h *InternalHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.db.Health(); err != nil {
		h.logger.Error("health check failed", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy"})
		return
	}

	resp := healthResponse{Status: "ok"}

	if pending, err := h.db.CountPendingWebhookEvents(); err == nil {
		resp.Backlog.Pending = pending
	}
	if dead, err := h.db.CountDeadLetteredWebhookEvents(); err == nil {
		resp.Backlog.DeadLettered = dead
	}

	if healths, err := h.db.ListWebhookHealth(); err != nil {
		h.logger.Error("failed to list webhook health", "error", err)
	} else {
		for _, wh := range healths {
			resp.Webhooks = append(resp.Webhooks, providerWebhookAge{
				Provider:       wh.Provider,
				LastReceivedAt: wh.LastReceivedAt,
				ReceivedTotal:  wh.ReceivedTotal,
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
