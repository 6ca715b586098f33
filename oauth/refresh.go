// Package oauth keeps the chat bot's Twitch user token fresh. The token lives
// in the oauth_tokens table; a jittered loop refreshes it when expiry falls
// inside a window.
package oauth

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/oauth2"
)

// TokenStore persists provider tokens.
type TokenStore interface {
	GetOAuthToken(ctx context.Context, provider string) (access, refresh string, expiry time.Time, scope string, err error)
	UpsertOAuthToken(ctx context.Context, provider, access, refresh string, expiry time.Time, scope string) error
}

// RefreshFunc performs the provider-specific refresh grant and returns the new
// token and its scope.
type RefreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, string, error)

// Refresher refreshes one provider's token.
type Refresher struct {
	Store    TokenStore
	Provider string
	Interval time.Duration
	Window   time.Duration
	Refresh  RefreshFunc
}

// RefreshIfDue refreshes the stored token when it expires within the window.
// It reports whether a refresh happened.
func (r *Refresher) RefreshIfDue(ctx context.Context) (bool, error) {
	window := r.Window
	if window <= 0 {
		window = 15 * time.Minute
	}
	_, rt, exp, scope, err := r.Store.GetOAuthToken(ctx, r.Provider)
	if err != nil {
		return false, err
	}
	if rt == "" || time.Until(exp) > window {
		return false, nil
	}
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	tok, newScope, err := r.Refresh(ctx2, rt)
	cancel()
	if err != nil {
		return false, err
	}
	newRT := tok.RefreshToken
	if newRT == "" {
		newRT = rt
	}
	if newScope == "" {
		newScope = scope
	}
	if err := r.Store.UpsertOAuthToken(ctx, r.Provider, tok.AccessToken, newRT, tok.Expiry, newScope); err != nil {
		return false, err
	}
	return true, nil
}

// Start launches the refresh loop; it stops with ctx.
func (r *Refresher) Start(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	log := slog.Default().With(slog.String("component", "oauth_refresh"), slog.String("provider", r.Provider))
	go func() {
		for {
			// ±20% jitter so replicas don't refresh in lockstep
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: scheduling jitter only
			next := interval + time.Duration(rand.Int63n(jitterRange*2+1)-jitterRange)
			select {
			case <-ctx.Done():
				return
			case <-time.After(next):
			}
			refreshed, err := r.RefreshIfDue(ctx)
			switch {
			case err != nil:
				log.Warn("token refresh failed", slog.Any("err", err))
			case refreshed:
				log.Info("token refreshed")
			}
		}
	}()
}
