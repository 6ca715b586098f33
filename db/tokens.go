package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func tokenBinding(provider string) string { return "oauth:" + provider }

// UpsertOAuthToken stores or replaces the token row for provider. Tokens are
// sealed when ENCRYPTION_KEY is configured.
func UpsertOAuthToken(ctx context.Context, dbx *sql.DB, provider, access, refresh string, expiry time.Time, scope string) error {
	sealedAccess, version, err := seal(access, tokenBinding(provider))
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	sealedRefresh, _, err := seal(refresh, tokenBinding(provider))
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}
	_, err = dbx.ExecContext(ctx,
		`INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, encryption_version, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,NOW())
		 ON CONFLICT(provider) DO UPDATE SET
		   access_token=EXCLUDED.access_token,
		   refresh_token=EXCLUDED.refresh_token,
		   expires_at=EXCLUDED.expires_at,
		   scope=EXCLUDED.scope,
		   encryption_version=EXCLUDED.encryption_version,
		   updated_at=NOW()`,
		provider, sealedAccess, sealedRefresh, expiry, scope, version)
	return err
}

// GetOAuthToken returns the stored token for provider; zero values when absent.
func GetOAuthToken(ctx context.Context, dbx *sql.DB, provider string) (access, refresh string, expiry time.Time, scope string, err error) {
	var (
		version int
		exp     sql.NullTime
		sc      sql.NullString
		a, r    sql.NullString
	)
	err = dbx.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, scope, encryption_version FROM oauth_tokens WHERE provider=$1`,
		provider).Scan(&a, &r, &exp, &sc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", time.Time{}, "", nil
	}
	if err != nil {
		return "", "", time.Time{}, "", err
	}
	if access, err = open(a.String, version, tokenBinding(provider)); err != nil {
		return "", "", time.Time{}, "", fmt.Errorf("open access token: %w", err)
	}
	if refresh, err = open(r.String, version, tokenBinding(provider)); err != nil {
		return "", "", time.Time{}, "", fmt.Errorf("open refresh token: %w", err)
	}
	return access, refresh, exp.Time, sc.String, nil
}

// TokenStore adapts the oauth_tokens table to oauth.TokenStore.
type TokenStore struct{ DB *sql.DB }

func (t *TokenStore) GetOAuthToken(ctx context.Context, provider string) (string, string, time.Time, string, error) {
	return GetOAuthToken(ctx, t.DB, provider)
}

func (t *TokenStore) UpsertOAuthToken(ctx context.Context, provider, access, refresh string, expiry time.Time, scope string) error {
	return UpsertOAuthToken(ctx, t.DB, provider, access, refresh, expiry, scope)
}
