// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"database/sql"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/onnwee/task-overlay/channels"
	"github.com/onnwee/task-overlay/oauth"
	"github.com/onnwee/task-overlay/twitchapi"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
	// botTokenProvider is the oauth_tokens row holding the chat bot's token.
	botTokenProvider = "twitch"
)

// BreakerReporter reports how many Notion circuit breakers are open.
type BreakerReporter interface {
	OpenBreakers() int
}

// Options carries the server's dependencies. Only Registry and Verifier are
// required.
type Options struct {
	DB       *sql.DB
	Registry *channels.Registry
	Verifier ExtensionVerifier
	// BotOAuth and Tokens enable the bot authorization routes.
	BotOAuth *twitchapi.BotOAuth
	Tokens   oauth.TokenStore
	Breakers BreakerReporter
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db       *sql.DB
	ctx      context.Context
	reg      *channels.Registry
	bot      *twitchapi.BotOAuth
	tokens   oauth.TokenStore
	breakers BreakerReporter
	validate *validator.Validate

	stateStore map[string]time.Time
	stateMu    sync.RWMutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, opts Options) *Handlers {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handlers{
		db:         opts.DB,
		ctx:        ctx,
		reg:        opts.Registry,
		bot:        opts.BotOAuth,
		tokens:     opts.Tokens,
		breakers:   opts.Breakers,
		validate:   v,
		stateStore: make(map[string]time.Time),
	}
}

// cleanExpiredStates removes expired OAuth states from the store.
// This should be called with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState adds a new OAuth state to the store with cleanup if needed.
// It reports false when the store is full.
func (h *Handlers) addOAuthState(state string, expiry time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}
	if len(h.stateStore) >= maxOAuthStates {
		return false
	}
	h.stateStore[state] = expiry
	return true
}

// consumeOAuthState removes state and reports whether it was live.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	delete(h.stateStore, state)
	return ok && time.Now().Before(exp)
}
