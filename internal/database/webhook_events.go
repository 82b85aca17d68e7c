package database

import (
	"database/sql"
	"fmt"
	"time"
)

// WebhookEvent is the durable record of one inbound notification item.
// One batched provider push fans out into several rows distinguished by
// BatchIndex. Identity fields are immutable after insert.
type WebhookEvent struct {
	ID                  int64
	Provider            string
	EventType           string
	AspectType          string
	ObjectID            string
	OwnerID             string
	Payload             string
	BatchIndex          int
	Processed           bool
	ProcessedAt         *int64
	RetryCount          int
	NextRetryAt         *int64
	ProcessError        *string
	ResultingActivityID *string
	CreatedAt           int64
}

const webhookEventColumns = `id, provider, event_type, aspect_type, object_id, owner_id,
	       payload, batch_index, processed, processed_at, retry_count,
	       next_retry_at, process_error, resulting_activity_id, created_at`

// CreateWebhookEvent inserts a new webhook event
func (db *DB) CreateWebhookEvent(e *WebhookEvent) error {
	e.CreatedAt = time.Now().Unix()

	result, err := db.conn.Exec(`
		INSERT INTO webhook_events (
			provider, event_type, aspect_type, object_id, owner_id,
			payload, batch_index, processed, retry_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Provider, e.EventType, e.AspectType, e.ObjectID, e.OwnerID,
		e.Payload, e.BatchIndex, e.Processed, e.RetryCount, e.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create webhook event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	e.ID = id

	return nil
}

// GetWebhookEvent retrieves a webhook event by ID
func (db *DB) GetWebhookEvent(eventID int64) (*WebhookEvent, error) {
	row := db.conn.QueryRow(`
		SELECT `+webhookEventColumns+`
		FROM webhook_events WHERE id = ?
	`, eventID)
	return scanWebhookEvent(row)
}

// FindWebhookEvent looks up an event by its provider-native identity.
// The webhook receivers use this as the idempotency guard: a replayed push
// with the same (object_id, aspect_type) must not insert a second row.
func (db *DB) FindWebhookEvent(provider, objectID, aspectType string) (*WebhookEvent, error) {
	row := db.conn.QueryRow(`
		SELECT `+webhookEventColumns+`
		FROM webhook_events
		WHERE provider = ? AND object_id = ? AND aspect_type = ?
		ORDER BY id DESC LIMIT 1
	`, provider, objectID, aspectType)
	return scanWebhookEvent(row)
}

func scanWebhookEvent(row *sql.Row) (*WebhookEvent, error) {
	var e WebhookEvent
	err := row.Scan(
		&e.ID, &e.Provider, &e.EventType, &e.AspectType, &e.ObjectID, &e.OwnerID,
		&e.Payload, &e.BatchIndex, &e.Processed, &e.ProcessedAt, &e.RetryCount,
		&e.NextRetryAt, &e.ProcessError, &e.ResultingActivityID, &e.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}
	return &e, nil
}

// ListPendingWebhookEvents returns events ready for processing: unprocessed,
// under the retry cap, created within the lookback window, and either never
// scheduled for retry or past their next_retry_at. Oldest first.
func (db *DB) ListPendingWebhookEvents(now time.Time, maxRetries int, lookback time.Duration, limit int) ([]*WebhookEvent, error) {
	nowUnix := now.Unix()
	oldest := now.Add(-lookback).Unix()

	rows, err := db.conn.Query(`
		SELECT `+webhookEventColumns+`
		FROM webhook_events
		WHERE processed = 0
		  AND retry_count < ?
		  AND created_at >= ?
		  AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, maxRetries, oldest, nowUnix, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending webhook events: %w", err)
	}
	defer rows.Close()

	var events []*WebhookEvent
	for rows.Next() {
		var e WebhookEvent
		err := rows.Scan(
			&e.ID, &e.Provider, &e.EventType, &e.AspectType, &e.ObjectID, &e.OwnerID,
			&e.Payload, &e.BatchIndex, &e.Processed, &e.ProcessedAt, &e.RetryCount,
			&e.NextRetryAt, &e.ProcessError, &e.ResultingActivityID, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhook events: %w", err)
	}

	return events, nil
}

// MarkWebhookEventProcessed moves an event into a terminal state. processErr
// carries the dead-letter or permanent-skip reason; resultingActivityID links
// the canonical activity the event produced or touched.
func (db *DB) MarkWebhookEventProcessed(eventID int64, processErr *string, resultingActivityID *string) error {
	now := time.Now().Unix()

	result, err := db.conn.Exec(`
		UPDATE webhook_events
		SET processed = 1, processed_at = ?, process_error = ?, resulting_activity_id = ?
		WHERE id = ?
	`, now, processErr, resultingActivityID, eventID)

	if err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("webhook event not found")
	}

	return nil
}

// ScheduleWebhookEventRetry records a transient failure and the time the
// event becomes eligible again
func (db *DB) ScheduleWebhookEventRetry(eventID int64, retryCount int, nextRetryAt time.Time, processErr string) error {
	result, err := db.conn.Exec(`
		UPDATE webhook_events
		SET retry_count = ?, next_retry_at = ?, process_error = ?
		WHERE id = ?
	`, retryCount, nextRetryAt.Unix(), processErr, eventID)

	if err != nil {
		return fmt.Errorf("failed to schedule webhook event retry: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("webhook event not found")
	}

	return nil
}

// CountPendingWebhookEvents returns the current backlog size
func (db *DB) CountPendingWebhookEvents() (int, error) {
	var count int
	err := db.conn.QueryRow(`
		SELECT COUNT(*) FROM webhook_events WHERE processed = 0
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending webhook events: %w", err)
	}
	return count, nil
}

// CountDeadLetteredWebhookEvents returns the number of events that exhausted
// their retry budget
func (db *DB) CountDeadLetteredWebhookEvents() (int, error) {
	var count int
	err := db.conn.QueryRow(`
		SELECT COUNT(*) FROM webhook_events
		WHERE processed = 1 AND process_error IS NOT NULL AND retry_count > 0
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count dead-lettered webhook events: %w", err)
	}
	return count, nil
}

// ListWebhookEventsByOwner returns events for a provider-native owner id,
// newest first, for operator inspection
func (db *DB) ListWebhookEventsByOwner(provider, ownerID string, limit int) ([]*WebhookEvent, error) {
	query := `
		SELECT ` + webhookEventColumns + `
		FROM webhook_events
		WHERE provider = ? AND owner_id = ?
		ORDER BY created_at DESC, id DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.conn.Query(query, provider, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook events by owner: %w", err)
	}
	defer rows.Close()

	var events []*WebhookEvent
	for rows.Next() {
		var e WebhookEvent
		err := rows.Scan(
			&e.ID, &e.Provider, &e.EventType, &e.AspectType, &e.ObjectID, &e.OwnerID,
			&e.Payload, &e.BatchIndex, &e.Processed, &e.ProcessedAt, &e.RetryCount,
			&e.NextRetryAt, &e.ProcessError, &e.ResultingActivityID, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhook events: %w", err)
	}

	return events, nil
}
