package provision

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/onnwee/task-overlay/notion"
	"github.com/onnwee/task-overlay/schema"
	"github.com/onnwee/task-overlay/tasks"
	"github.com/onnwee/task-overlay/telemetry"
)

// SetupStore is what provisioning needs from Notion.
type SetupStore interface {
	SchemaStore
	CreateDatabase(ctx context.Context, parentPageID, title string, props map[string]notion.PropertyConfig) (*notion.Database, error)
	SearchDatabases(ctx context.Context, query string) ([]notion.Database, error)
	RetrievePage(ctx context.Context, id string) (*notion.Page, error)
}

// CollectionResult describes how one database was resolved.
type CollectionResult struct {
	ID       string `json:"id"`
	Existed  bool   `json:"existed"`
	WasValid bool   `json:"wasValid"`
	Created  bool   `json:"created"`
}

// SetupResult is the outcome of provisioning both databases.
type SetupResult struct {
	Streamer CollectionResult `json:"streamer"`
	Viewer   CollectionResult `json:"viewer"`
}

// Collections returns the resolved database ids.
func (r SetupResult) Collections() tasks.Collections {
	return tasks.Collections{Streamer: r.Streamer.ID, Viewer: r.Viewer.ID}
}

// Preferred carries database ids to try before searching, typically a
// channel's saved configuration or the process defaults.
type Preferred struct {
	Streamer string
	Viewer   string
}

// Provisioner locates, validates or creates the task databases.
type Provisioner struct {
	store      SetupStore
	reconciler *Reconciler
}

// NewProvisioner returns a provisioner. Newly created databases are confirmed
// with reconciler's poll settings.
func NewProvisioner(store SetupStore, reconciler *Reconciler) *Provisioner {
	if reconciler == nil {
		reconciler = NewReconciler(store)
	}
	return &Provisioner{store: store, reconciler: reconciler}
}

// TestConnection checks that the key can read the parent page.
func (p *Provisioner) TestConnection(ctx context.Context, parentPageID string) error {
	if _, err := p.store.RetrievePage(ctx, parentPageID); err != nil {
		return fmt.Errorf("test connection: %w", err)
	}
	return nil
}

// Run resolves both databases under parentPageID. A search failure aborts
// setup: treating it as "not found" could hide a bad key and create
// duplicates.
func (p *Provisioner) Run(ctx context.Context, parentPageID string, pref Preferred) (SetupResult, error) {
	var res SetupResult
	parentPageID = strings.TrimSpace(parentPageID)
	if parentPageID == "" {
		return res, fmt.Errorf("setup: parent page id is required")
	}
	var err error
	if res.Streamer, err = p.ensure(ctx, parentPageID, schema.Streamer(), pref.Streamer); err != nil {
		return res, err
	}
	if res.Viewer, err = p.ensure(ctx, parentPageID, schema.Viewer(), pref.Viewer); err != nil {
		return res, err
	}
	return res, nil
}

func (p *Provisioner) ensure(ctx context.Context, parentPageID string, s schema.Schema, preferred string) (CollectionResult, error) {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "setup"), slog.String("schema", s.Name))

	if preferred != "" {
		db, err := p.store.RetrieveDatabase(ctx, preferred)
		switch {
		case err == nil && !db.Archived && !db.InTrash && Valid(db.Properties, s):
			log.Info("using configured database", slog.String("database", db.ID))
			return CollectionResult{ID: db.ID, Existed: true, WasValid: true}, nil
		case err == nil:
			log.Warn("configured database unusable; searching", slog.String("database", preferred))
		case notion.IsNotFound(err):
			log.Warn("configured database not found; searching", slog.String("database", preferred))
		default:
			return CollectionResult{}, fmt.Errorf("setup %s: retrieve configured database: %w", s.Name, err)
		}
	}

	found, err := p.find(ctx, s.Name)
	if err != nil {
		return CollectionResult{}, err
	}
	var res CollectionResult
	if found != nil {
		res.Existed = true
		if Valid(found.Properties, s) {
			log.Info("found existing database", slog.String("database", found.ID))
			res.ID, res.WasValid = found.ID, true
			return res, nil
		}
		log.Warn("existing database has an invalid schema; creating a new one", slog.String("database", found.ID), slog.String("mismatched", strings.Join(Mismatches(found.Properties, s), ", ")))
	}

	id, err := p.create(ctx, parentPageID, s)
	if err != nil {
		return res, err
	}
	log.Info("created database", slog.String("database", id))
	res.ID, res.Created = id, true
	return res, nil
}

// find returns the best title match, preferring an exact one over a
// case-insensitive one.
func (p *Provisioner) find(ctx context.Context, title string) (*notion.Database, error) {
	results, err := p.store.SearchDatabases(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("setup %s: search: %w", title, err)
	}
	var loose *notion.Database
	for i := range results {
		db := &results[i]
		if db.Archived || db.InTrash {
			continue
		}
		t := strings.TrimSpace(db.TitleText())
		if t == title {
			return db, nil
		}
		if loose == nil && strings.EqualFold(t, title) {
			loose = db
		}
	}
	return loose, nil
}

// create makes the database with status fields empty, then supplies their
// options in a follow-up update.
func (p *Provisioner) create(ctx context.Context, parentPageID string, s schema.Schema) (string, error) {
	props := make(map[string]notion.PropertyConfig, len(s.Fields))
	status := make(map[string]notion.PropertyConfig)
	for _, f := range s.Fields {
		if f.Kind == schema.KindStatus {
			props[f.Name] = f.EmptyConfig()
			status[f.Name] = f.Config()
			continue
		}
		props[f.Name] = f.Config()
	}
	db, err := p.store.CreateDatabase(ctx, parentPageID, s.Name, props)
	if err != nil {
		return "", fmt.Errorf("setup %s: create: %w", s.Name, err)
	}
	if len(status) > 0 {
		if _, err := p.store.UpdateDatabase(ctx, db.ID, status); err != nil {
			return db.ID, fmt.Errorf("setup %s: apply status options: %w", s.Name, err)
		}
	}
	if err := p.reconciler.Wait(ctx, db.ID, s); err != nil {
		return db.ID, err
	}
	return db.ID, nil
}

// ExtractPageID accepts a bare Notion id (dashed or not) or a page URL and
// returns the 32-hex page id.
func ExtractPageID(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", fmt.Errorf("page id is required")
	}
	if tasks.LooksLikeID(s) {
		return strings.ToLower(strings.ReplaceAll(s, "-", "")), nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Path == "" {
		return "", fmt.Errorf("not a Notion page id or URL: %q", input)
	}
	last := path.Base(u.Path)
	if i := strings.LastIndex(last, "-"); i >= 0 {
		last = last[i+1:]
	}
	if len(last) != 32 || !tasks.LooksLikeID(last) {
		return "", fmt.Errorf("no page id in URL %q", input)
	}
	return strings.ToLower(last), nil
}
