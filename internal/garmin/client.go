// Package garmin is the provider client for Garmin's wellness API: batched
// push payload handling, token refresh, FIT file downloads, and backfill
// requests.
package garmin

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pedalsync/internal/metrics"
)

const (
	defaultTokenURL    = "https://diauth.garmin.com/di-oauth2-service/oauth/token"
	defaultBackfillURL = "https://apis.garmin.com/wellness-api/rest/backfill/activities"
	requestTimeout     = 30 * time.Second

	// Upper bound on a single file read. Garmin caps downloads at 10 MiB.
	maxDownloadBytes = 32 << 20
)

// Client is a Garmin API client
type Client struct {
	httpClient   *http.Client
	clientID     string
	clientSecret string
	logger       *slog.Logger

	// TokenURL and BackfillURL default to Garmin's endpoints; tests point
	// them at an httptest server.
	TokenURL    string
	BackfillURL string
}

// NewClient creates a new Garmin API client
func NewClient(clientID, clientSecret string, logger *slog.Logger) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: requestTimeout},
		clientID:     clientID,
		clientSecret: clientSecret,
		logger:       logger,
		TokenURL:     defaultTokenURL,
		BackfillURL:  defaultBackfillURL,
	}
}

// RefreshToken exchanges a refresh token for a fresh access token
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		countRequest(metrics.OpRefreshToken, true)
		c.logger.Error("token refresh failed", "error", err, "duration_ms", duration.Milliseconds())
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Info("garmin_token_refresh", "status", resp.StatusCode, "duration_ms", duration.Milliseconds())

	if resp.StatusCode != http.StatusOK {
		countRequest(metrics.OpRefreshToken, true)
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}
	countRequest(metrics.OpRefreshToken, false)

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &tokenResp, nil
}

// DownloadFile fetches a binary activity file from a push notification's
// callback URL. Responses may arrive gzip-compressed.
func (c *Client) DownloadFile(ctx context.Context, accessToken, callbackURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, callbackURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept-Encoding", "gzip")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		countRequest(metrics.OpDownloadFile, true)
		c.logger.Error("file download failed", "error", err, "duration_ms", duration.Milliseconds())
		return nil, fmt.Errorf("file download failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Info("garmin_file_download",
		"status", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
		"content_encoding", resp.Header.Get("Content-Encoding"),
	)

	if resp.StatusCode != http.StatusOK {
		countRequest(metrics.OpDownloadFile, true)
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}
	countRequest(metrics.OpDownloadFile, false)

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" && !resp.Uncompressed {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxDownloadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return body, nil
}

// RequestBackfill asks Garmin to re-deliver activity summaries for the
// given time range as regular push notifications.
func (c *Client) RequestBackfill(ctx context.Context, accessToken string, from, to time.Time) error {
	params := url.Values{
		"summaryStartTimeInSeconds": {strconv.FormatInt(from.Unix(), 10)},
		"summaryEndTimeInSeconds":   {strconv.FormatInt(to.Unix(), 10)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BackfillURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		countRequest(metrics.OpBackfill, true)
		return fmt.Errorf("backfill request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Info("garmin_backfill_request",
		"status", resp.StatusCode,
		"from", from.Unix(),
		"to", to.Unix(),
	)

	// Garmin acknowledges an accepted backfill with 202
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		countRequest(metrics.OpBackfill, true)
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}
	countRequest(metrics.OpBackfill, false)

	return nil
}

// countRequest records the outcome of one Garmin API call
func countRequest(op string, failed bool) {
	result := metrics.ResultSuccess
	if failed {
		result = metrics.ResultFailure
	}
	metrics.ProviderAPIRequestsTotal.WithLabelValues("garmin", op, result).Inc()
}
