// Package strava is the provider client for the Strava API: activity detail
// fetches, token refresh, and webhook payload shapes.
package strava

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"pedalsync/internal/metrics"
)

const (
	defaultBaseURL  = "https://www.strava.com/api/v3"
	defaultTokenURL = "https://www.strava.com/oauth/token"
	requestTimeout  = 30 * time.Second
)

// Client is a Strava API client
type Client struct {
	httpClient   *http.Client
	clientID     string
	clientSecret string
	logger       *slog.Logger
	quota        *QuotaTracker

	// BaseURL and TokenURL default to Strava's endpoints; tests point them
	// at an httptest server.
	BaseURL  string
	TokenURL string
}

// NewClient creates a new Strava API client
func NewClient(clientID, clientSecret string, logger *slog.Logger) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: requestTimeout},
		clientID:     clientID,
		clientSecret: clientSecret,
		logger:       logger,
		quota:        NewQuotaTracker(),
		BaseURL:      defaultBaseURL,
		TokenURL:     defaultTokenURL,
	}
}

// RefreshToken exchanges a refresh token for a fresh access token
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	data := map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"refresh_token": refreshToken,
		"grant_type":    "refresh_token",
	}

	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		countRequest(metrics.OpRefreshToken, true)
		c.logger.Error("token refresh failed", "error", err, "duration_ms", duration.Milliseconds())
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Info("strava_token_refresh", "status", resp.StatusCode, "duration_ms", duration.Milliseconds())

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

// GetActivity fetches detailed activity data for a specific activity
func (c *Client) GetActivity(ctx context.Context, accessToken string, activityID int64) (*RawActivity, error) {
	path := fmt.Sprintf("/activities/%d", activityID)

	body, err := c.doRequest(ctx, http.MethodGet, path, accessToken, metrics.OpGetActivity)
	if err != nil {
		return nil, fmt.Errorf("failed to get activity %d: %w", activityID, err)
	}

	var detail ActivityDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, fmt.Errorf("failed to decode activity %d: %w", activityID, err)
	}

	return &RawActivity{Detail: &detail, Raw: body}, nil
}

// QuotaStatus returns the most recently observed API quota state
func (c *Client) QuotaStatus() QuotaStatus {
	return c.quota.Status()
}

// doRequest performs an authenticated API request and returns the body
func (c *Client) doRequest(ctx context.Context, method, path, accessToken, op string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		countRequest(op, true)
		c.logger.Error("request failed", "method", method, "path", path, "error", err)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.quota.ObserveHeaders(resp.Header)

	c.logger.Info("strava_api_request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
	)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		countRequest(op, true)
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		countRequest(op, true)
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	countRequest(op, false)

	return body, nil
}

// countRequest records the outcome of one Strava API call
func countRequest(op string, failed bool) {
	result := metrics.ResultSuccess
	if failed {
		result = metrics.ResultFailure
	}
	metrics.ProviderAPIRequestsTotal.WithLabelValues("strava", op, result).Inc()
}
