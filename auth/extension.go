// Package auth verifies Twitch extension JWTs and carries the resulting
// principal through request contexts.
package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/onnwee/task-overlay/tasks"
)

// ErrNoToken means the request carried no bearer token.
var ErrNoToken = errors.New("missing bearer token")

// ExtensionClaims are the claims Twitch puts in an extension JWT.
type ExtensionClaims struct {
	OpaqueUserID string `json:"opaque_user_id"`
	UserID       string `json:"user_id,omitempty"`
	ChannelID    string `json:"channel_id"`
	Role         string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 extension tokens against the extension secret.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier takes the extension secret as shown in the developer console,
// base64 encoded.
func NewVerifier(base64Secret string) (*Verifier, error) {
	base64Secret = strings.TrimSpace(base64Secret)
	if base64Secret == "" {
		return nil, fmt.Errorf("extension secret is empty")
	}
	secret, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode extension secret: %w", err)
	}
	return &Verifier{secret: secret, now: time.Now}, nil
}

// Verify parses token and returns the principal it describes.
func (v *Verifier) Verify(token string) (tasks.Principal, error) {
	claims := &ExtensionClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	t, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil || !t.Valid {
		return tasks.Principal{}, fmt.Errorf("invalid extension token: %w", err)
	}
	if claims.ChannelID == "" || claims.OpaqueUserID == "" {
		return tasks.Principal{}, fmt.Errorf("invalid extension token: missing channel or opaque user id")
	}
	return tasks.Principal{
		ChannelID: claims.ChannelID,
		UserID:    claims.UserID,
		OpaqueID:  claims.OpaqueUserID,
		Role:      tasks.ParseRole(claims.Role),
	}, nil
}

// Sign issues a token for claims. Used by tests and local tooling; Twitch
// signs real tokens.
func (v *Verifier) Sign(claims ExtensionClaims, ttl time.Duration) (string, error) {
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(v.now().Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", ErrNoToken
	}
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tok) == "" {
		return "", ErrNoToken
	}
	return strings.TrimSpace(tok), nil
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p tasks.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (tasks.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(tasks.Principal)
	return p, ok
}

// Middleware rejects requests without a valid extension token and stores the
// principal on the request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, err := BearerToken(r)
		if err == nil {
			var p tasks.Principal
			if p, err = v.Verify(tok); err == nil {
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
				return
			}
		}
		slog.Debug("extension auth failed", slog.String("path", r.URL.Path), slog.Any("err", err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized","code":"invalid_token"}`))
	})
}
