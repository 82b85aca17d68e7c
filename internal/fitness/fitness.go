// Package fitness notifies the fitness-snapshot service that a user's
// training load changed on a given day. Updates are idempotent on the
// service side; callers treat failures as best-effort.
package fitness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// SnapshotUpdater requests a fitness snapshot recomputation
type SnapshotUpdater interface {
	UpdateForActivity(ctx context.Context, userID string, startTime time.Time) error
}

// HTTPUpdater posts snapshot updates to the fitness service
type HTTPUpdater struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
}

// NewHTTPUpdater creates an updater targeting the given fitness service
func NewHTTPUpdater(baseURL, apiKey string, logger *slog.Logger) *HTTPUpdater {
	return &HTTPUpdater{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		logger:     logger,
	}
}

type updateRequest struct {
	UserID string `json:"user_id"`
	Date   string `json:"date"`
}

// UpdateForActivity asks the fitness service to recompute the snapshot for
// the day the activity started.
func (u *HTTPUpdater) UpdateForActivity(ctx context.Context, userID string, startTime time.Time) error {
	payload := updateRequest{
		UserID: userID,
		Date:   startTime.UTC().Format("2006-01-02"),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/snapshots/update", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+u.apiKey)

	start := time.Now()
	resp, err := u.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		return fmt.Errorf("snapshot update failed: %w", err)
	}
	defer resp.Body.Close()

	u.logger.Info("fitness_snapshot_update",
		"user_id", userID,
		"date", payload.Date,
		"status", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
	)

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("snapshot update failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	return nil
}

// NopUpdater discards snapshot updates. Used when no fitness service is
// configured.
type NopUpdater struct{}

// UpdateForActivity does nothing
func (NopUpdater) UpdateForActivity(ctx context.Context, userID string, startTime time.Time) error {
	return nil
}
