// Package channels resolves a Twitch channel to its Notion setup: the stored
// configuration (or the process defaults), a pooled Notion client and the two
// task databases.
package channels

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/onnwee/task-overlay/contentfilter"
	"github.com/onnwee/task-overlay/db"
	"github.com/onnwee/task-overlay/notion"
	"github.com/onnwee/task-overlay/overlay"
	"github.com/onnwee/task-overlay/provision"
	"github.com/onnwee/task-overlay/tasks"
	"github.com/onnwee/task-overlay/telemetry"
)

// ErrNotConfigured means neither a stored row nor the defaults give the
// channel a Notion key.
var ErrNotConfigured = errors.New("channel has no notion configuration")

// Store is the Notion surface every channel operation needs.
type Store interface {
	provision.SetupStore
	provision.RecordStore
	tasks.Store
}

// Source reads and writes channel configuration rows.
type Source interface {
	Get(ctx context.Context, channelID string) (db.ChannelConfig, error)
	List(ctx context.Context) ([]db.ChannelConfig, error)
	Save(ctx context.Context, c db.ChannelConfig) error
}

// Defaults is the env-configured single-channel setup.
type Defaults struct {
	NotionAPIKey       string
	ParentPageID       string
	StreamerDatabaseID string
	ViewerDatabaseID   string
}

// Channel is a resolved channel.
type Channel struct {
	ID          string
	Config      db.ChannelConfig
	Store       Store
	Collections tasks.Collections
	// FromDefaults is set when no stored row exists.
	FromDefaults bool
}

// Registry resolves channels.
type Registry struct {
	source   Source
	defaults Defaults
	open     func(apiKey string) Store
	filter   *contentfilter.Filter
}

// New returns a registry. source may be nil to serve only the defaults.
// Clients come from pool.
func New(source Source, pool *notion.Pool, defaults Defaults, filter *contentfilter.Filter) *Registry {
	return NewWithOpener(source, func(key string) Store { return pool.Client(key) }, defaults, filter)
}

// NewWithOpener is New with a custom client constructor.
func NewWithOpener(source Source, open func(apiKey string) Store, defaults Defaults, filter *contentfilter.Filter) *Registry {
	if filter == nil {
		filter = contentfilter.Default()
	}
	return &Registry{source: source, defaults: defaults, open: open, filter: filter}
}

// Filter returns the content filter shared by every channel.
func (r *Registry) Filter() *contentfilter.Filter { return r.filter }

// Config returns the effective configuration of channelID without opening a
// client. Fields missing from a stored row fall back to the defaults.
func (r *Registry) Config(ctx context.Context, channelID string) (db.ChannelConfig, bool, error) {
	var (
		c   db.ChannelConfig
		err error
	)
	if r.source != nil {
		c, err = r.source.Get(ctx, channelID)
	} else {
		err = db.ErrNoChannel
	}
	fromDefaults := false
	switch {
	case errors.Is(err, db.ErrNoChannel):
		fromDefaults = true
		c = db.ChannelConfig{
			ChannelID:          channelID,
			ParentPageID:       r.defaults.ParentPageID,
			StreamerDatabaseID: r.defaults.StreamerDatabaseID,
			ViewerDatabaseID:   r.defaults.ViewerDatabaseID,
			SetupComplete:      r.defaults.StreamerDatabaseID != "" && r.defaults.ViewerDatabaseID != "",
		}
	case err != nil:
		return db.ChannelConfig{}, false, fmt.Errorf("load channel %s: %w", channelID, err)
	}
	if c.NotionKey == "" {
		c.NotionKey = r.defaults.NotionAPIKey
	}
	return c, fromDefaults, nil
}

// Resolve returns the channel with an open Notion client.
func (r *Registry) Resolve(ctx context.Context, channelID string) (*Channel, error) {
	c, fromDefaults, err := r.Config(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if c.NotionKey == "" {
		return nil, ErrNotConfigured
	}
	return &Channel{
		ID:           channelID,
		Config:       c,
		Store:        r.open(c.NotionKey),
		Collections:  tasks.Collections{Streamer: c.StreamerDatabaseID, Viewer: c.ViewerDatabaseID},
		FromDefaults: fromDefaults,
	}, nil
}

// Open returns a client for apiKey, used to test a candidate key before it is
// saved.
func (r *Registry) Open(apiKey string) Store { return r.open(apiKey) }

// Save persists c. Without a source the defaults are read-only.
func (r *Registry) Save(ctx context.Context, c db.ChannelConfig) error {
	if r.source == nil {
		return errors.New("channel configuration storage is not available")
	}
	return r.source.Save(ctx, c)
}

// Tasks returns the task service for ch.
func (r *Registry) Tasks(ch *Channel) *tasks.Service {
	return tasks.NewService(ch.Store, ch.Collections, r.filter)
}

// Overlay returns the overlay builder for ch.
func (r *Registry) Overlay(ch *Channel) *overlay.Builder {
	return overlay.NewBuilder(ch.Store, r.filter)
}

// Targets lists every channel with both databases configured, including the
// default channel when env carries a complete setup. It satisfies
// provision.TargetSource.
func (r *Registry) Targets(ctx context.Context) ([]provision.Target, error) {
	var rows []db.ChannelConfig
	if r.source != nil {
		var err error
		if rows, err = r.source.List(ctx); err != nil {
			return nil, err
		}
	}
	seen := make(map[string]bool, len(rows))
	var out []provision.Target
	for _, c := range rows {
		seen[c.ChannelID] = true
		key := c.NotionKey
		if key == "" {
			key = r.defaults.NotionAPIKey
		}
		if key == "" || c.StreamerDatabaseID == "" || c.ViewerDatabaseID == "" {
			continue
		}
		out = append(out, provision.Target{
			ChannelID:   c.ChannelID,
			Store:       r.open(key),
			Collections: tasks.Collections{Streamer: c.StreamerDatabaseID, Viewer: c.ViewerDatabaseID},
		})
	}
	d := r.defaults
	if !seen[""] && d.NotionAPIKey != "" && d.StreamerDatabaseID != "" && d.ViewerDatabaseID != "" {
		out = append(out, provision.Target{
			Store:       r.open(d.NotionAPIKey),
			Collections: tasks.Collections{Streamer: d.StreamerDatabaseID, Viewer: d.ViewerDatabaseID},
		})
	}
	telemetry.SetConfiguredChannels(len(out))
	return out, nil
}

// DBSource stores configuration in Postgres.
type DBSource struct{ DB *sql.DB }

func (s DBSource) Get(ctx context.Context, channelID string) (db.ChannelConfig, error) {
	return db.GetChannelConfig(ctx, s.DB, channelID)
}

func (s DBSource) List(ctx context.Context) ([]db.ChannelConfig, error) {
	return db.ListChannelConfigs(ctx, s.DB)
}

func (s DBSource) Save(ctx context.Context, c db.ChannelConfig) error {
	return db.UpsertChannelConfig(ctx, s.DB, c)
}

// MemorySource keeps configuration in memory, for tests and DB-less runs.
type MemorySource struct {
	mu   sync.Mutex
	rows map[string]db.ChannelConfig
}

// NewMemorySource returns a source holding rows.
func NewMemorySource(rows ...db.ChannelConfig) *MemorySource {
	m := &MemorySource{rows: make(map[string]db.ChannelConfig)}
	for _, c := range rows {
		m.rows[c.ChannelID] = c
	}
	return m
}

func (m *MemorySource) Get(ctx context.Context, channelID string) (db.ChannelConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[channelID]
	if !ok {
		return db.ChannelConfig{}, db.ErrNoChannel
	}
	return c, nil
}

func (m *MemorySource) List(ctx context.Context) ([]db.ChannelConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]db.ChannelConfig, 0, len(m.rows))
	for _, c := range m.rows {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}

func (m *MemorySource) Save(ctx context.Context, c db.ChannelConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.rows[c.ChannelID]; ok && c.NotionKey == "" {
		c.NotionKey = prev.NotionKey
	}
	m.rows[c.ChannelID] = c
	return nil
}
