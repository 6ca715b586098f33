// Package provision establishes and maintains the two task databases: it
// creates them under a parent page, reconciles their live schema against the
// declared one, and backfills records after a schema change.
//
// Notion refuses to create a status property together with its options, so
// status fields always go out empty first and get their options in a second
// call. That rule lives here and nowhere else.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/task-overlay/notion"
	"github.com/onnwee/task-overlay/schema"
	"github.com/onnwee/task-overlay/telemetry"
)

// ErrSchemaNotApplied reports that the live schema did not converge before
// the poll timeout.
var ErrSchemaNotApplied = errors.New("schema changes not visible before timeout")

// SchemaStore reads and alters database schemas.
type SchemaStore interface {
	RetrieveDatabase(ctx context.Context, id string) (*notion.Database, error)
	UpdateDatabase(ctx context.Context, id string, props map[string]notion.PropertyConfig) (*notion.Database, error)
}

// Report describes one reconcile run.
type Report struct {
	// Staged lists the fields that were created or replaced, in declared order.
	Staged   []string `json:"staged"`
	UpToDate bool     `json:"upToDate"`
}

// Reconciler brings a database's properties in line with a schema. It only
// adds or replaces declared fields; undeclared fields are left alone.
type Reconciler struct {
	store        SchemaStore
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// NewReconciler returns a reconciler polling every second for up to 30s.
func NewReconciler(store SchemaStore) *Reconciler {
	return &Reconciler{store: store, PollInterval: time.Second, PollTimeout: 30 * time.Second}
}

// Mismatches returns the declared fields that are missing from live or have
// a different kind, in declared order.
func Mismatches(live map[string]notion.Property, s schema.Schema) []string {
	var out []string
	for _, f := range s.Fields {
		p, ok := live[f.Name]
		if !ok || p.Type != string(f.Kind) {
			out = append(out, f.Name)
		}
	}
	return out
}

// Valid reports whether live carries every declared field with its kind.
func Valid(live map[string]notion.Property, s schema.Schema) bool {
	return len(Mismatches(live, s)) == 0
}

// Reconcile ensures every field of s exists on the database with the
// declared kind. A field whose kind differs is replaced wholesale, which
// drops its values on existing records. Any store failure fails the run;
// fields already applied are not rolled back.
func (r *Reconciler) Reconcile(ctx context.Context, databaseID string, s schema.Schema) (rep Report, err error) {
	defer func() {
		switch {
		case err != nil:
			telemetry.CountReconcile("error")
		case rep.UpToDate:
			telemetry.CountReconcile("up_to_date")
		default:
			telemetry.CountReconcile("staged")
		}
	}()
	if len(s.Fields) == 0 {
		return rep, fmt.Errorf("reconcile %s: schema %q declares no fields", databaseID, s.Name)
	}
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "reconcile"), slog.String("database", databaseID), slog.String("schema", s.Name))

	db, err := r.store.RetrieveDatabase(ctx, databaseID)
	if err != nil {
		return rep, fmt.Errorf("reconcile %s: retrieve: %w", databaseID, err)
	}
	staged := Mismatches(db.Properties, s)
	if len(staged) == 0 {
		log.Debug("schema up to date")
		return Report{UpToDate: true}, nil
	}
	rep.Staged = staged

	first := make(map[string]notion.PropertyConfig, len(staged))
	second := make(map[string]notion.PropertyConfig)
	for _, name := range staged {
		f, _ := s.Field(name)
		if live, ok := db.Properties[name]; ok {
			log.Warn("replacing field with different kind; existing values are lost", slog.String("field", name), slog.String("from", live.Type), slog.String("to", string(f.Kind)))
		}
		if f.Kind == schema.KindStatus {
			first[name] = f.EmptyConfig()
			second[name] = f.Config()
			continue
		}
		first[name] = f.Config()
	}

	if _, err := r.store.UpdateDatabase(ctx, databaseID, first); err != nil {
		return rep, fmt.Errorf("reconcile %s: apply fields: %w", databaseID, err)
	}
	if len(second) > 0 {
		if _, err := r.store.UpdateDatabase(ctx, databaseID, second); err != nil {
			return rep, fmt.Errorf("reconcile %s: apply status options: %w", databaseID, err)
		}
	}
	if err := r.Wait(ctx, databaseID, s); err != nil {
		return rep, err
	}
	log.Info("schema reconciled", slog.String("staged", strings.Join(staged, ", ")))
	return rep, nil
}

// Wait polls the database until every declared field reports its kind, or
// the poll timeout passes.
func (r *Reconciler) Wait(ctx context.Context, databaseID string, s schema.Schema) error {
	interval, timeout := r.PollInterval, r.PollTimeout
	if interval <= 0 {
		interval = time.Second
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var missing []string
	for {
		db, err := r.store.RetrieveDatabase(ctx, databaseID)
		switch {
		case err == nil:
			missing = Mismatches(db.Properties, s)
			if len(missing) == 0 {
				return nil
			}
		case ctx.Err() == nil:
			return fmt.Errorf("reconcile %s: poll: %w", databaseID, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("reconcile %s: %w (still missing: %s)", databaseID, ErrSchemaNotApplied, strings.Join(missing, ", "))
		case <-ticker.C:
		}
	}
}
