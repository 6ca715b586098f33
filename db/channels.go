package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNoChannel is returned when a channel has no stored configuration.
var ErrNoChannel = errors.New("channel not configured")

// ChannelConfig is one channel's Notion setup. NotionKey is plaintext in
// memory and sealed at rest.
type ChannelConfig struct {
	ChannelID          string    `json:"channelId"`
	NotionKey          string    `json:"-"`
	ParentPageID       string    `json:"parentPageId"`
	StreamerDatabaseID string    `json:"streamerDatabaseId"`
	ViewerDatabaseID   string    `json:"viewerDatabaseId"`
	SetupComplete      bool      `json:"setupComplete"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

func channelBinding(channelID string) string { return "channel:" + channelID }

// UpsertChannelConfig stores c, sealing the Notion key. An empty NotionKey
// keeps the stored one.
func UpsertChannelConfig(ctx context.Context, dbx *sql.DB, c ChannelConfig) error {
	if c.ChannelID == "" {
		return errors.New("channel id is required")
	}
	key, version, err := seal(c.NotionKey, channelBinding(c.ChannelID))
	if err != nil {
		return fmt.Errorf("seal notion key: %w", err)
	}
	_, err = dbx.ExecContext(ctx,
		`INSERT INTO channel_configs(channel_id, notion_key, parent_page_id, streamer_database_id, viewer_database_id, setup_complete, encryption_version, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,NOW())
		 ON CONFLICT(channel_id) DO UPDATE SET
		   notion_key=CASE WHEN EXCLUDED.notion_key='' THEN channel_configs.notion_key ELSE EXCLUDED.notion_key END,
		   encryption_version=CASE WHEN EXCLUDED.notion_key='' THEN channel_configs.encryption_version ELSE EXCLUDED.encryption_version END,
		   parent_page_id=EXCLUDED.parent_page_id,
		   streamer_database_id=EXCLUDED.streamer_database_id,
		   viewer_database_id=EXCLUDED.viewer_database_id,
		   setup_complete=EXCLUDED.setup_complete,
		   updated_at=NOW()`,
		c.ChannelID, key, c.ParentPageID, c.StreamerDatabaseID, c.ViewerDatabaseID, c.SetupComplete, version)
	return err
}

const channelColumns = `channel_id, notion_key, parent_page_id, streamer_database_id, viewer_database_id, setup_complete, encryption_version, updated_at`

func scanChannel(row interface{ Scan(...any) error }) (ChannelConfig, error) {
	var (
		c       ChannelConfig
		sealed  string
		version int
	)
	if err := row.Scan(&c.ChannelID, &sealed, &c.ParentPageID, &c.StreamerDatabaseID, &c.ViewerDatabaseID, &c.SetupComplete, &version, &c.UpdatedAt); err != nil {
		return c, err
	}
	key, err := open(sealed, version, channelBinding(c.ChannelID))
	if err != nil {
		return c, fmt.Errorf("open notion key for channel %s: %w", c.ChannelID, err)
	}
	c.NotionKey = key
	return c, nil
}

// GetChannelConfig returns ErrNoChannel when no row exists.
func GetChannelConfig(ctx context.Context, dbx *sql.DB, channelID string) (ChannelConfig, error) {
	c, err := scanChannel(dbx.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channel_configs WHERE channel_id=$1`, channelID))
	if errors.Is(err, sql.ErrNoRows) {
		return ChannelConfig{}, ErrNoChannel
	}
	return c, err
}

// ListChannelConfigs returns every stored channel ordered by id.
func ListChannelConfigs(ctx context.Context, dbx *sql.DB) ([]ChannelConfig, error) {
	rows, err := dbx.QueryContext(ctx, `SELECT `+channelColumns+` FROM channel_configs ORDER BY channel_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []ChannelConfig
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ResealChannelKeys rewrites every stored Notion key with the current sealer.
// Rows already sealed are opened and sealed again. Returns the number updated.
func ResealChannelKeys(ctx context.Context, dbx *sql.DB) (int, error) {
	cfgs, err := ListChannelConfigs(ctx, dbx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range cfgs {
		if c.NotionKey == "" {
			continue
		}
		if err := UpsertChannelConfig(ctx, dbx, c); err != nil {
			return n, fmt.Errorf("reseal channel %s: %w", c.ChannelID, err)
		}
		n++
	}
	return n, nil
}
