package database

import (
	"database/sql"
	"fmt"
	"time"
)

// IntegrationAccount holds the OAuth connection between a user and a provider
type IntegrationAccount struct {
	UserID         string
	Provider       string
	ProviderUserID string
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt int64
	LastSyncAt     *int64
	SyncError      *string
	CreatedAt      int64
	UpdatedAt      int64
}

// UpsertAccount inserts or replaces the account for (user, provider)
func (db *DB) UpsertAccount(a *IntegrationAccount) error {
	now := time.Now().Unix()
	if a.CreatedAt == 0 {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := db.conn.Exec(`
		INSERT INTO integration_accounts (
			user_id, provider, provider_user_id, access_token, refresh_token,
			token_expires_at, last_sync_at, sync_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, provider) DO UPDATE SET
			provider_user_id = excluded.provider_user_id,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expires_at = excluded.token_expires_at,
			updated_at = excluded.updated_at
	`, a.UserID, a.Provider, a.ProviderUserID, a.AccessToken, a.RefreshToken,
		a.TokenExpiresAt, a.LastSyncAt, a.SyncError, a.CreatedAt, a.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

// GetAccount retrieves the account for (user, provider)
func (db *DB) GetAccount(userID, provider string) (*IntegrationAccount, error) {
	return db.scanAccount(db.conn.QueryRow(`
		SELECT user_id, provider, provider_user_id, access_token, refresh_token,
		       token_expires_at, last_sync_at, sync_error, created_at, updated_at
		FROM integration_accounts WHERE user_id = ? AND provider = ?
	`, userID, provider))
}

// GetAccountByProviderUserID resolves a provider-native owner id to an account
func (db *DB) GetAccountByProviderUserID(provider, providerUserID string) (*IntegrationAccount, error) {
	return db.scanAccount(db.conn.QueryRow(`
		SELECT user_id, provider, provider_user_id, access_token, refresh_token,
		       token_expires_at, last_sync_at, sync_error, created_at, updated_at
		FROM integration_accounts WHERE provider = ? AND provider_user_id = ?
	`, provider, providerUserID))
}

func (db *DB) scanAccount(row *sql.Row) (*IntegrationAccount, error) {
	var a IntegrationAccount
	err := row.Scan(
		&a.UserID, &a.Provider, &a.ProviderUserID, &a.AccessToken, &a.RefreshToken,
		&a.TokenExpiresAt, &a.LastSyncAt, &a.SyncError, &a.CreatedAt, &a.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &a, nil
}

// UpdateAccountTokens persists refreshed tokens with a compare-and-swap on
// the refresh token the caller refreshed from. Returns false when the stored
// refresh token no longer matches, meaning a concurrent invocation refreshed
// first and the caller should re-read the account instead of overwriting.
func (db *DB) UpdateAccountTokens(userID, provider, previousRefreshToken, accessToken, refreshToken string, expiresAt int64) (bool, error) {
	result, err := db.conn.Exec(`
		UPDATE integration_accounts
		SET access_token = ?, refresh_token = ?, token_expires_at = ?, updated_at = ?
		WHERE user_id = ? AND provider = ? AND refresh_token = ?
	`, accessToken, refreshToken, expiresAt, time.Now().Unix(), userID, provider, previousRefreshToken)

	if err != nil {
		return false, fmt.Errorf("failed to update account tokens: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// SetAccountSyncStatus records the outcome of the latest sync attempt.
// A nil syncError clears the stored error and stamps last_sync_at.
func (db *DB) SetAccountSyncStatus(userID, provider string, syncError *string) error {
	now := time.Now().Unix()

	var err error
	if syncError == nil {
		_, err = db.conn.Exec(`
			UPDATE integration_accounts
			SET last_sync_at = ?, sync_error = NULL, updated_at = ?
			WHERE user_id = ? AND provider = ?
		`, now, now, userID, provider)
	} else {
		_, err = db.conn.Exec(`
			UPDATE integration_accounts
			SET sync_error = ?, updated_at = ?
			WHERE user_id = ? AND provider = ?
		`, *syncError, now, userID, provider)
	}

	if err != nil {
		return fmt.Errorf("failed to set account sync status: %w", err)
	}
	return nil
}

// DeleteAccount removes the account for (user, provider). Used when the
// provider reports the user revoked access.
func (db *DB) DeleteAccount(userID, provider string) error {
	_, err := db.conn.Exec(`
		DELETE FROM integration_accounts WHERE user_id = ? AND provider = ?
	`, userID, provider)

	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}
