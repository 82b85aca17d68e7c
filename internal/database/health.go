package database

import (
	"database/sql"
	"fmt"
	"time"
)

// WebhookHealth is the persisted last-webhook-received diagnostic for one
// provider. Stored in the database rather than process memory so it stays
// meaningful across instances and restarts.
type WebhookHealth struct {
	Provider       string
	LastReceivedAt int64
	ReceivedTotal  int64
}

// RecordWebhookReceived bumps the health record for a provider
func (db *DB) RecordWebhookReceived(provider string) error {
	_, err := db.conn.Exec(`
		INSERT INTO webhook_health (provider, last_received_at, received_total)
		VALUES (?, ?, 1)
		ON CONFLICT(provider) DO UPDATE SET
			last_received_at = excluded.last_received_at,
			received_total = received_total + 1
	`, provider, time.Now().Unix())

	if err != nil {
		return fmt.Errorf("failed to record webhook received: %w", err)
	}
	return nil
}

// GetWebhookHealth returns the health record for a provider
func (db *DB) GetWebhookHealth(provider string) (*WebhookHealth, error) {
	var h WebhookHealth
	err := db.conn.QueryRow(`
		SELECT provider, last_received_at, received_total
		FROM webhook_health WHERE provider = ?
	`, provider).Scan(&h.Provider, &h.LastReceivedAt, &h.ReceivedTotal)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook health: %w", err)
	}
	return &h, nil
}

// ListWebhookHealth returns health records for all providers
func (db *DB) ListWebhookHealth() ([]*WebhookHealth, error) {
	rows, err := db.conn.Query(`
		SELECT provider, last_received_at, received_total
		FROM webhook_health ORDER BY provider ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook health: %w", err)
	}
	defer rows.Close()

	var records []*WebhookHealth
	for rows.Next() {
		var h WebhookHealth
		if err := rows.Scan(&h.Provider, &h.LastReceivedAt, &h.ReceivedTotal); err != nil {
			return nil, fmt.Errorf("failed to scan webhook health: %w", err)
		}
		records = append(records, &h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhook health: %w", err)
	}

	return records, nil
}
