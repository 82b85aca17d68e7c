package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pedalsync/internal/database"
)

type fakeBackfill struct {
	calls int
	from  time.Time
	to    time.Time
	err   error
}

func (f *fakeBackfill) RequestBackfill(ctx context.Context, accessToken string, from, to time.Time) error {
	f.calls++
	f.from, f.to = from, to
	return f.err
}

type staticTokens struct{}

func (staticTokens) AccessToken(ctx context.Context, account *database.IntegrationAccount) (string, error) {
	return "token-1", nil
}

func TestHandleProcess(t *testing.T) {
	db := setupTestDB(t)
	runner := &fakeRunner{processed: 3}
	h := NewInternalHandler(db, testConfig(), runner, &fakeBackfill{}, staticTokens{})

	req := httptest.NewRequest(http.MethodPost, "/internal/process", nil)
	req.Header.Set("X-Cron-Secret", "cron-secret")
	w := httptest.NewRecorder()
	h.HandleProcess(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if runner.calls != 1 {
		t.Errorf("Expected 1 run, got %d", runner.calls)
	}
	var resp map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["processed"] != 3 {
		t.Errorf("Expected 3 processed, got %d", resp["processed"])
	}
}

func TestHandleProcessRequiresSecret(t *testing.T) {
	db := setupTestDB(t)
	runner := &fakeRunner{}
	h := NewInternalHandler(db, testConfig(), runner, &fakeBackfill{}, staticTokens{})

	req := httptest.NewRequest(http.MethodPost, "/internal/process", nil)
	req.Header.Set("X-Cron-Secret", "wrong")
	w := httptest.NewRecorder()
	h.HandleProcess(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", w.Code)
	}
	if runner.calls != 0 {
		t.Errorf("Expected no run, got %d", runner.calls)
	}
}

func TestHandleProcessRunFailure(t *testing.T) {
	db := setupTestDB(t)
	runner := &fakeRunner{err: errors.New("boom")}
	h := NewInternalHandler(db, testConfig(), runner, &fakeBackfill{}, staticTokens{})

	req := httptest.NewRequest(http.MethodPost, "/internal/process", nil)
	req.Header.Set("X-Cron-Secret", "cron-secret")
	w := httptest.NewRecorder()
	h.HandleProcess(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}
}

func TestHandleBackfill(t *testing.T) {
	db := setupTestDB(t)
	if err := db.UpsertAccount(&database.IntegrationAccount{
		UserID:         "user-1",
		Provider:       "garmin",
		ProviderUserID: "g-777",
		AccessToken:    "access",
		RefreshToken:   "refresh",
		TokenExpiresAt: time.Now().Add(time.Hour).Unix(),
	}); err != nil {
		t.Fatalf("Failed to seed account: %v", err)
	}

	backfill := &fakeBackfill{}
	h := NewInternalHandler(db, testConfig(), &fakeRunner{}, backfill, staticTokens{})

	body := `{"user_id":"user-1","from":1700000000,"to":1700086400}`
	req := httptest.NewRequest(http.MethodPost, "/internal/backfill", strings.NewReader(body))
	req.Header.Set("X-API-Key", "api-key")
	w := httptest.NewRecorder()
	h.HandleBackfill(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if backfill.calls != 1 {
		t.Fatalf("Expected 1 backfill request, got %d", backfill.calls)
	}
	if backfill.from.Unix() != 1700000000 || backfill.to.Unix() != 1700086400 {
		t.Errorf("Unexpected range: %d..%d", backfill.from.Unix(), backfill.to.Unix())
	}
}

func TestHandleBackfillValidation(t *testing.T) {
	db := setupTestDB(t)
	h := NewInternalHandler(db, testConfig(), &fakeRunner{}, &fakeBackfill{}, staticTokens{})

	tests := []struct {
		name string
		body string
		key  string
		want int
	}{
		{"wrong key", `{"user_id":"user-1","from":1,"to":2}`, "nope", http.StatusForbidden},
		{"bad json", `nope`, "api-key", http.StatusBadRequest},
		{"missing user", `{"from":1,"to":2}`, "api-key", http.StatusBadRequest},
		{"inverted range", `{"user_id":"user-1","from":5,"to":2}`, "api-key", http.StatusBadRequest},
		{"no account", `{"user_id":"user-1","from":1,"to":2}`, "api-key", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/internal/backfill", strings.NewReader(tt.body))
			req.Header.Set("X-API-Key", tt.key)
			w := httptest.NewRecorder()
			h.HandleBackfill(w, req)
			if w.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestHandleHealth(t *testing.T) {
	db := setupTestDB(t)
	if err := db.RecordWebhookReceived("strava"); err != nil {
		t.Fatalf("Failed to record webhook: %v", err)
	}
	if err := db.CreateWebhookEvent(&database.WebhookEvent{
		Provider:   "strava",
		EventType:  "activity",
		AspectType: "create",
		ObjectID:   "1",
		OwnerID:    "777",
		Payload:    "{}",
	}); err != nil {
		t.Fatalf("Failed to seed event: %v", err)
	}

	h := NewInternalHandler(db, testConfig(), &fakeRunner{}, &fakeBackfill{}, staticTokens{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.HandleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("Expected ok status, got %s", resp.Status)
	}
	if resp.Backlog.Pending != 1 {
		t.Errorf("Expected 1 pending, got %d", resp.Backlog.Pending)
	}
	if len(resp.Webhooks) != 1 || resp.Webhooks[0].Provider != "strava" {
		t.Errorf("Expected strava webhook diagnostics, got %+v", resp.Webhooks)
	}
}
