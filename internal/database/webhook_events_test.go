package database

import (
	"testing"
	"time"
)

func testEvent(objectID string) *WebhookEvent {
	return &WebhookEvent{
		Provider:   "strava",
		EventType:  "activity",
		AspectType: "create",
		ObjectID:   objectID,
		OwnerID:    "12345",
		Payload:    `{"object_type":"activity","object_id":` + objectID + `}`,
	}
}

func TestCreateAndGetWebhookEvent(t *testing.T) {
	db := setupTestDB(t)

	event := testEvent("98765")
	if err := db.CreateWebhookEvent(event); err != nil {
		t.Fatalf("Failed to create webhook event: %v", err)
	}
	if event.ID == 0 {
		t.Error("Expected ID to be set after creation")
	}

	retrieved, err := db.GetWebhookEvent(event.ID)
	if err != nil {
		t.Fatalf("Failed to get webhook event: %v", err)
	}
	if retrieved == nil {
		t.Fatal("Expected webhook event, got nil")
	}
	if retrieved.ObjectID != "98765" {
		t.Errorf("Expected object_id 98765, got %s", retrieved.ObjectID)
	}
	if retrieved.AspectType != "create" {
		t.Errorf("Expected aspect_type 'create', got %s", retrieved.AspectType)
	}
	if retrieved.Processed {
		t.Error("Expected processed false")
	}
	if retrieved.RetryCount != 0 {
		t.Errorf("Expected retry_count 0, got %d", retrieved.RetryCount)
	}
}

func TestFindWebhookEvent(t *testing.T) {
	db := setupTestDB(t)

	if err := db.CreateWebhookEvent(testEvent("555")); err != nil {
		t.Fatalf("Failed to create webhook event: %v", err)
	}

	found, err := db.FindWebhookEvent("strava", "555", "create")
	if err != nil {
		t.Fatalf("Failed to find webhook event: %v", err)
	}
	if found == nil {
		t.Fatal("Expected event to be found")
	}

	// Different aspect type is a different logical event
	missing, err := db.FindWebhookEvent("strava", "555", "update")
	if err != nil {
		t.Fatalf("Failed to query webhook event: %v", err)
	}
	if missing != nil {
		t.Error("Expected no event for different aspect type")
	}

	// Different provider is a different logical event
	missing, err = db.FindWebhookEvent("garmin", "555", "create")
	if err != nil {
		t.Fatalf("Failed to query webhook event: %v", err)
	}
	if missing != nil {
		t.Error("Expected no event for different provider")
	}
}

func TestMarkWebhookEventProcessed(t *testing.T) {
	db := setupTestDB(t)

	event := testEvent("98765")
	if err := db.CreateWebhookEvent(event); err != nil {
		t.Fatalf("Failed to create webhook event: %v", err)
	}

	activityID := "act-1"
	if err := db.MarkWebhookEventProcessed(event.ID, nil, &activityID); err != nil {
		t.Fatalf("Failed to mark webhook event processed: %v", err)
	}

	retrieved, err := db.GetWebhookEvent(event.ID)
	if err != nil {
		t.Fatalf("Failed to get webhook event: %v", err)
	}
	if !retrieved.Processed {
		t.Error("Expected processed true")
	}
	if retrieved.ProcessedAt == nil {
		t.Error("Expected processed_at to be set")
	}
	if retrieved.ResultingActivityID == nil || *retrieved.ResultingActivityID != "act-1" {
		t.Errorf("Expected resulting activity id 'act-1', got %v", retrieved.ResultingActivityID)
	}

	// Unknown event id errors
	if err := db.MarkWebhookEventProcessed(9999, nil, nil); err == nil {
		t.Error("Expected error for unknown event")
	}
}

func TestScheduleWebhookEventRetry(t *testing.T) {
	db := setupTestDB(t)

	event := testEvent("98765")
	if err := db.CreateWebhookEvent(event); err != nil {
		t.Fatalf("Failed to create webhook event: %v", err)
	}

	nextRetry := time.Now().Add(2 * time.Minute)
	if err := db.ScheduleWebhookEventRetry(event.ID, 2, nextRetry, "provider timeout"); err != nil {
		t.Fatalf("Failed to schedule retry: %v", err)
	}

	retrieved, err := db.GetWebhookEvent(event.ID)
	if err != nil {
		t.Fatalf("Failed to get webhook event: %v", err)
	}
	if retrieved.Processed {
		t.Error("Expected processed false after retry scheduling")
	}
	if retrieved.RetryCount != 2 {
		t.Errorf("Expected retry_count 2, got %d", retrieved.RetryCount)
	}
	if retrieved.NextRetryAt == nil || *retrieved.NextRetryAt != nextRetry.Unix() {
		t.Errorf("Expected next_retry_at %d, got %v", nextRetry.Unix(), retrieved.NextRetryAt)
	}
	if retrieved.ProcessError == nil || *retrieved.ProcessError != "provider timeout" {
		t.Errorf("Expected process_error 'provider timeout', got %v", retrieved.ProcessError)
	}
}

func TestListPendingWebhookEvents(t *testing.T) {
	db := setupTestDB(t)

	now := time.Now()

	// Three fresh events
	for i, id := range []string{"1", "2", "3"} {
		e := testEvent(id)
		e.BatchIndex = i
		if err := db.CreateWebhookEvent(e); err != nil {
			t.Fatalf("Failed to create webhook event %s: %v", id, err)
		}
	}

	pending, err := db.ListPendingWebhookEvents(now, 7, 24*time.Hour, 10)
	if err != nil {
		t.Fatalf("Failed to list pending events: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("Expected 3 pending events, got %d", len(pending))
	}
	if pending[0].ObjectID != "1" {
		t.Errorf("Expected oldest event first, got object_id %s", pending[0].ObjectID)
	}

	// Processed events drop out
	if err := db.MarkWebhookEventProcessed(pending[0].ID, nil, nil); err != nil {
		t.Fatalf("Failed to mark event processed: %v", err)
	}

	// Events waiting for retry drop out until due
	if err := db.ScheduleWebhookEventRetry(pending[1].ID, 1, now.Add(time.Minute), "transient"); err != nil {
		t.Fatalf("Failed to schedule retry: %v", err)
	}

	// Events at the retry cap drop out
	if err := db.ScheduleWebhookEventRetry(pending[2].ID, 7, now.Add(-time.Second), "exhausted"); err != nil {
		t.Fatalf("Failed to schedule retry: %v", err)
	}

	remaining, err := db.ListPendingWebhookEvents(now, 7, 24*time.Hour, 10)
	if err != nil {
		t.Fatalf("Failed to list pending events: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("Expected 0 pending events, got %d", len(remaining))
	}

	// The retry-scheduled event becomes eligible once its time elapses
	due, err := db.ListPendingWebhookEvents(now.Add(2*time.Minute), 7, 24*time.Hour, 10)
	if err != nil {
		t.Fatalf("Failed to list pending events: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("Expected 1 due event, got %d", len(due))
	}
	if due[0].ObjectID != "2" {
		t.Errorf("Expected object_id 2, got %s", due[0].ObjectID)
	}
}

func TestListPendingWebhookEventsLookback(t *testing.T) {
	db := setupTestDB(t)

	event := testEvent("old")
	if err := db.CreateWebhookEvent(event); err != nil {
		t.Fatalf("Failed to create webhook event: %v", err)
	}

	// An event older than the lookback window is abandoned, not retried
	future := time.Now().Add(25 * time.Hour)
	pending, err := db.ListPendingWebhookEvents(future, 7, 24*time.Hour, 10)
	if err != nil {
		t.Fatalf("Failed to list pending events: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected event outside lookback to be excluded, got %d", len(pending))
	}
}

func TestListPendingWebhookEventsLimit(t *testing.T) {
	db := setupTestDB(t)

	for i := 0; i < 15; i++ {
		if err := db.CreateWebhookEvent(testEvent(string(rune('a' + i)))); err != nil {
			t.Fatalf("Failed to create webhook event: %v", err)
		}
	}

	pending, err := db.ListPendingWebhookEvents(time.Now(), 7, 24*time.Hour, 10)
	if err != nil {
		t.Fatalf("Failed to list pending events: %v", err)
	}
	if len(pending) != 10 {
		t.Errorf("Expected batch capped at 10, got %d", len(pending))
	}
}

func TestBacklogCounts(t *testing.T) {
	db := setupTestDB(t)

	e1 := testEvent("1")
	e2 := testEvent("2")
	if err := db.CreateWebhookEvent(e1); err != nil {
		t.Fatalf("Failed to create webhook event: %v", err)
	}
	if err := db.CreateWebhookEvent(e2); err != nil {
		t.Fatalf("Failed to create webhook event: %v", err)
	}

	pending, err := db.CountPendingWebhookEvents()
	if err != nil {
		t.Fatalf("Failed to count pending events: %v", err)
	}
	if pending != 2 {
		t.Errorf("Expected 2 pending events, got %d", pending)
	}

	// Dead-letter one: retries consumed, processed with an error annotation
	if err := db.ScheduleWebhookEventRetry(e1.ID, 7, time.Now(), "timeout"); err != nil {
		t.Fatalf("Failed to schedule retry: %v", err)
	}
	reason := "dead-lettered after 7 attempts: timeout"
	if err := db.MarkWebhookEventProcessed(e1.ID, &reason, nil); err != nil {
		t.Fatalf("Failed to dead-letter event: %v", err)
	}

	dead, err := db.CountDeadLetteredWebhookEvents()
	if err != nil {
		t.Fatalf("Failed to count dead-lettered events: %v", err)
	}
	if dead != 1 {
		t.Errorf("Expected 1 dead-lettered event, got %d", dead)
	}
}

func TestListWebhookEventsByOwner(t *testing.T) {
	db := setupTestDB(t)

	for _, id := range []string{"1", "2"} {
		if err := db.CreateWebhookEvent(testEvent(id)); err != nil {
			t.Fatalf("Failed to create webhook event: %v", err)
		}
	}
	other := testEvent("3")
	other.OwnerID = "54321"
	if err := db.CreateWebhookEvent(other); err != nil {
		t.Fatalf("Failed to create webhook event: %v", err)
	}

	events, err := db.ListWebhookEventsByOwner("strava", "12345", 0)
	if err != nil {
		t.Fatalf("Failed to list events by owner: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("Expected 2 events for owner, got %d", len(events))
	}

	limited, err := db.ListWebhookEventsByOwner("strava", "12345", 1)
	if err != nil {
		t.Fatalf("Failed to list limited events: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Expected 1 event, got %d", len(limited))
	}
}
