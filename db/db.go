// Package db provides the Postgres connection, schema migration, and the
// small data access helpers for channel configuration, bot OAuth tokens and
// job markers.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/task-overlay/crypto"
)

var (
	sealer     crypto.Sealer
	sealerOnce sync.Once
	errSealer  error
)

// initSealer builds the process sealer from ENCRYPTION_KEY. Without a key,
// secrets are stored in plaintext with encryption_version 0.
func initSealer() {
	sealerOnce.Do(func() {
		key := os.Getenv("ENCRYPTION_KEY")
		if key == "" {
			slog.Warn("ENCRYPTION_KEY not set, Notion keys and OAuth tokens will be stored in plaintext", slog.String("component", "db_encryption"))
			return
		}
		s, err := crypto.NewAESSealer(key)
		if err != nil {
			errSealer = fmt.Errorf("failed to initialize encryption: %w", err)
			slog.Error("encryption initialization failed", slog.Any("error", errSealer), slog.String("component", "db_encryption"))
			return
		}
		sealer = s
		slog.Info("secret encryption enabled (AES-256-GCM)", slog.String("component", "db_encryption"))
	})
}

// getSealer returns nil when encryption is not configured.
func getSealer() (crypto.Sealer, error) {
	initSealer()
	if errSealer != nil {
		return nil, errSealer
	}
	return sealer, nil
}

// seal returns the stored form of secret and its encryption version.
func seal(secret, boundTo string) (string, int, error) {
	s, err := getSealer()
	if err != nil {
		return "", 0, err
	}
	if s == nil || secret == "" {
		return secret, crypto.VersionPlain, nil
	}
	out, err := crypto.SealString(s, secret, boundTo)
	if err != nil {
		return "", 0, err
	}
	return out, crypto.VersionAESGCM, nil
}

// open reverses seal for a value stored with version.
func open(stored string, version int, boundTo string) (string, error) {
	if version == crypto.VersionPlain || stored == "" {
		return stored, nil
	}
	s, err := getSealer()
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", fmt.Errorf("value is encrypted but ENCRYPTION_KEY not configured")
	}
	return crypto.OpenString(s, stored, boundTo)
}

// Connect opens a Postgres connection pool for dsn.
func Connect(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("empty database dsn")
	}
	return sql.Open("pgx", dsn)
}

// Migrate applies the idempotent baseline schema. It backs RunMigrations for
// databases created before versioned migrations existed.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS channel_configs (
			channel_id TEXT PRIMARY KEY,
			notion_key TEXT NOT NULL DEFAULT '',
			parent_page_id TEXT NOT NULL DEFAULT '',
			streamer_database_id TEXT NOT NULL DEFAULT '',
			viewer_database_id TEXT NOT NULL DEFAULT '',
			setup_complete BOOLEAN NOT NULL DEFAULT FALSE,
			encryption_version INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			provider TEXT PRIMARY KEY,
			access_token TEXT,
			refresh_token TEXT,
			expires_at TIMESTAMPTZ,
			scope TEXT,
			encryption_version INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_channel_configs_setup ON channel_configs(setup_complete)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// SetKV upserts a kv marker.
func SetKV(ctx context.Context, db *sql.DB, key, value string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO kv (key,value,updated_at) VALUES ($1,$2,NOW())
		 ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`, key, value)
	return err
}

// GetKV returns the value for key, or "" when unset.
func GetKV(ctx context.Context, db *sql.DB, key string) (string, error) {
	var v sql.NullString
	err := db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=$1`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v.String, err
}
