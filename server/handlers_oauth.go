package server

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/task-overlay/telemetry"
	"github.com/onnwee/task-overlay/twitchapi"
)

// HandleTwitchOAuthStart redirects the operator to Twitch to authorize the
// chat bot account.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.bot == nil || h.tokens == nil {
		http.Error(w, "oauth not configured (need TWITCH_CLIENT_ID + TWITCH_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", http.StatusInternalServerError)
		return
	}
	st := hex.EncodeToString(b)
	authURL, err := h.bot.AuthorizeURL(st)
	if err != nil {
		http.Error(w, "oauth not configured (need TWITCH_CLIENT_ID + TWITCH_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	if !h.addOAuthState(st, time.Now().Add(10*time.Minute)) {
		http.Error(w, "too many pending authorizations", http.StatusServiceUnavailable)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleTwitchOAuthCallback exchanges the code and stores the bot's tokens.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.bot == nil || h.tokens == nil {
		http.Error(w, "oauth not configured", http.StatusBadRequest)
		return
	}
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	if !h.consumeOAuthState(st) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	log := telemetry.LoggerWithCorr(ctx)
	tok, err := h.bot.Exchange(ctx, code)
	if err != nil {
		log.Error("twitch code exchange failed", slog.Any("err", err), slog.String("component", "oauth"))
		http.Error(w, "token exchange failed", http.StatusBadGateway)
		return
	}
	scope := twitchapi.Scope(tok)
	if err := h.tokens.UpsertOAuthToken(ctx, botTokenProvider, tok.AccessToken, tok.RefreshToken, tok.Expiry, scope); err != nil {
		log.Error("store twitch token failed", slog.Any("err", err), slog.String("component", "oauth"))
		http.Error(w, "failed to store token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "scopes": strings.Fields(scope), "expires_at": tok.Expiry})
}
