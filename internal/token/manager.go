// Package token manages OAuth access tokens for integration accounts:
// cached reads while tokens are fresh, proactive refresh ahead of expiry,
// and compare-and-swap persistence so concurrent refreshes cannot clobber
// each other's rotated refresh tokens.
package token

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pedalsync/internal/database"
	"pedalsync/internal/provider"
)

// expiryMargin is how far ahead of expiry a token is refreshed. A token
// valid for less than this is treated as expired so in-flight work never
// races the provider's clock.
const expiryMargin = 5 * time.Minute

// RefreshFunc exchanges a refresh token with the provider. Implementations
// return the new access token, the (possibly rotated) refresh token, and
// the unix-seconds expiry of the new access token.
type RefreshFunc func(ctx context.Context, refreshToken string) (accessToken, newRefreshToken string, expiresAt int64, err error)

// Manager returns valid access tokens for integration accounts
type Manager struct {
	db         *database.DB
	logger     *slog.Logger
	refreshers map[provider.Provider]RefreshFunc
	now        func() time.Time
}

// NewManager creates a token manager with the given per-provider refreshers
func NewManager(db *database.DB, refreshers map[provider.Provider]RefreshFunc, logger *slog.Logger) *Manager {
	return &Manager{
		db:         db,
		logger:     logger,
		refreshers: refreshers,
		now:        time.Now,
	}
}

// AccessToken returns a usable access token for the account, refreshing it
// first when it expires within the margin. The passed account is updated
// in place with whatever tokens end up persisted.
func (m *Manager) AccessToken(ctx context.Context, account *database.IntegrationAccount) (string, error) {
	if account.TokenExpiresAt > m.now().Add(expiryMargin).Unix() {
		return account.AccessToken, nil
	}

	refresh, ok := m.refreshers[provider.Provider(account.Provider)]
	if !ok {
		return "", fmt.Errorf("no token refresher for provider %q", account.Provider)
	}

	m.logger.Info("refreshing token",
		"user_id", account.UserID,
		"provider", account.Provider,
		"expires_at", account.TokenExpiresAt,
	)

	accessToken, refreshToken, expiresAt, err := refresh(ctx, account.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	swapped, err := m.db.UpdateAccountTokens(account.UserID, account.Provider, account.RefreshToken, accessToken, refreshToken, expiresAt)
	if err != nil {
		return "", fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	if !swapped {
		// A sibling invocation refreshed first and rotated the refresh
		// token under us. Its persisted tokens win.
		m.logger.Info("token refresh lost race, reloading account",
			"user_id", account.UserID,
			"provider", account.Provider,
		)
		stored, err := m.db.GetAccount(account.UserID, account.Provider)
		if err != nil {
			return "", fmt.Errorf("failed to reload account after refresh race: %w", err)
		}
		if stored == nil {
			return "", fmt.Errorf("account disappeared during token refresh: user %s provider %s", account.UserID, account.Provider)
		}
		*account = *stored
		return account.AccessToken, nil
	}

	account.AccessToken = accessToken
	account.RefreshToken = refreshToken
	account.TokenExpiresAt = expiresAt

	return accessToken, nil
}
