package strava

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"pedalsync/internal/metrics"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := NewClient("client-id", "client-secret", slog.Default())
	c.BaseURL = server.URL
	c.TokenURL = server.URL + "/oauth/token"
	return c
}

func TestGetActivity(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/activities/555" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("Unexpected authorization header: %s", got)
		}
		w.Header().Set("X-RateLimit-Limit", "200,2000")
		w.Header().Set("X-RateLimit-Usage", "50,500")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": 555,
			"name": "Morning Ride",
			"type": "Ride",
			"sport_type": "Ride",
			"start_date": "2025-06-01T08:00:00Z",
			"distance": 42000.0,
			"moving_time": 5400,
			"elapsed_time": 5700,
			"total_elevation_gain": 820.0,
			"average_speed": 7.77,
			"max_speed": 16.1,
			"average_watts": 210.5,
			"device_watts": true,
			"map": {"id": "a555", "summary_polyline": "abc"}
		}`))
	})

	activity, err := c.GetActivity(context.Background(), "token-1", 555)
	if err != nil {
		t.Fatalf("Failed to get activity: %v", err)
	}
	if activity.Detail.Name != "Morning Ride" {
		t.Errorf("Expected name Morning Ride, got %s", activity.Detail.Name)
	}
	if activity.Detail.Distance != 42000 {
		t.Errorf("Expected distance 42000, got %f", activity.Detail.Distance)
	}
	if activity.Detail.AverageWatts == nil || *activity.Detail.AverageWatts != 210.5 {
		t.Errorf("Expected average watts 210.5, got %v", activity.Detail.AverageWatts)
	}
	if activity.Detail.MaxWatts != nil {
		t.Error("Expected absent max watts to stay nil")
	}
	if got := activity.Detail.Map.BestPolyline(); got == nil || *got != "abc" {
		t.Errorf("Expected summary polyline abc, got %v", got)
	}
	if len(activity.Raw) == 0 {
		t.Error("Expected raw payload preserved")
	}

	status := c.QuotaStatus()
	if status.Usage15Min != 50 {
		t.Errorf("Expected 15min usage 50, got %d", status.Usage15Min)
	}
	if status.UsageDailyPct != 25.0 {
		t.Errorf("Expected daily usage 25%%, got %f", status.UsageDailyPct)
	}
}

func TestGetActivityErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"not found", http.StatusNotFound, IsNotFound},
		{"unauthorized", http.StatusUnauthorized, IsUnauthorized},
		{"rate limited", http.StatusTooManyRequests, IsTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			_, err := c.GetActivity(context.Background(), "token-1", 555)
			if err == nil {
				t.Fatal("Expected error")
			}
			if !tt.check(err) {
				t.Errorf("Expected %s classification for: %v", tt.name, err)
			}
		})
	}
}

func TestRefreshToken(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/token" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","expires_at":1750000000,"expires_in":21600}`))
	})

	resp, err := c.RefreshToken(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("Failed to refresh token: %v", err)
	}
	if resp.AccessToken != "new-access" {
		t.Errorf("Expected new-access, got %s", resp.AccessToken)
	}
	if resp.RefreshToken != "new-refresh" {
		t.Errorf("Expected new-refresh, got %s", resp.RefreshToken)
	}
}

func TestRefreshTokenFailure(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"Bad Request"}`))
	})

	_, err := c.RefreshToken(context.Background(), "revoked")
	if err == nil {
		t.Fatal("Expected error for rejected refresh")
	}
}

func TestAPIRequestsCounted(t *testing.T) {
	success := metrics.ProviderAPIRequestsTotal.WithLabelValues("strava", metrics.OpGetActivity, metrics.ResultSuccess)
	failure := metrics.ProviderAPIRequestsTotal.WithLabelValues("strava", metrics.OpGetActivity, metrics.ResultFailure)
	refreshed := metrics.ProviderAPIRequestsTotal.WithLabelValues("strava", metrics.OpRefreshToken, metrics.ResultSuccess)
	successBefore := testutil.ToFloat64(success)
	failureBefore := testutil.ToFloat64(failure)
	refreshedBefore := testutil.ToFloat64(refreshed)

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/activities/555":
			w.Write([]byte(`{"id":555}`))
		case "/oauth/token":
			w.Write([]byte(`{"access_token":"a","refresh_token":"r","expires_at":1750000000}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	if _, err := c.GetActivity(context.Background(), "token-1", 555); err != nil {
		t.Fatalf("Failed to get activity: %v", err)
	}
	if _, err := c.GetActivity(context.Background(), "token-1", 999); err == nil {
		t.Fatal("Expected error for missing activity")
	}
	if _, err := c.RefreshToken(context.Background(), "old-refresh"); err != nil {
		t.Fatalf("Failed to refresh token: %v", err)
	}

	if got := testutil.ToFloat64(success) - successBefore; got != 1 {
		t.Errorf("Expected 1 successful get_activity counted, got %v", got)
	}
	if got := testutil.ToFloat64(failure) - failureBefore; got != 1 {
		t.Errorf("Expected 1 failed get_activity counted, got %v", got)
	}
	if got := testutil.ToFloat64(refreshed) - refreshedBefore; got != 1 {
		t.Errorf("Expected 1 successful refresh_token counted, got %v", got)
	}
}

func TestIsDeauthorization(t *testing.T) {
	event := &WebhookEvent{
		ObjectType: "athlete",
		AspectType: "update",
		Updates:    map[string]string{"authorized": "false"},
	}
	if !event.IsDeauthorization() {
		t.Error("Expected deauthorization event to be recognized")
	}

	renamed := &WebhookEvent{
		ObjectType: "activity",
		AspectType: "update",
		Updates:    map[string]string{"title": "Evening Ride"},
	}
	if renamed.IsDeauthorization() {
		t.Error("Expected activity update not to read as deauthorization")
	}
}
