package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/onnwee/task-overlay/notion"
	"github.com/onnwee/task-overlay/schema"
	"github.com/onnwee/task-overlay/tasks"
	"github.com/onnwee/task-overlay/telemetry"
)

// ErrSchemaIncomplete means the live schema lacks declared fields, so records
// cannot be migrated yet. Reconcile first.
var ErrSchemaIncomplete = errors.New("live schema is missing declared fields")

// RecordStore reads and updates records.
type RecordStore interface {
	RetrieveDatabase(ctx context.Context, id string) (*notion.Database, error)
	QueryDatabase(ctx context.Context, databaseID string, filter *notion.Filter) ([]notion.Page, error)
	UpdatePage(ctx context.Context, id string, upd notion.PageUpdate) (*notion.Page, error)
}

// SweepResult counts what a migration pass did.
type SweepResult struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// PartialFailureError reports a sweep that finished with failed records.
type PartialFailureError struct {
	Op     string
	Result SweepResult
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s: %d of %d records failed", e.Op, e.Result.Failed, e.Result.Scanned)
}

// Migrator fills in values on existing records. It never overwrites a value
// that is already present. Records are updated one at a time; a failed record
// is logged and the sweep continues.
type Migrator struct {
	store RecordStore
}

// NewMigrator returns a migrator over store.
func NewMigrator(store RecordStore) *Migrator { return &Migrator{store: store} }

// DefaultValue synthesizes the backfill value for a field. Title and text
// fields have no default.
func DefaultValue(f schema.Field) (notion.PropertyValue, bool) {
	switch f.Kind {
	case schema.KindCheckbox:
		return notion.CheckboxValue(false), true
	case schema.KindStatus:
		name := "Not started"
		if len(f.Options) > 0 {
			name = f.Options[0].Name
		}
		for _, o := range f.Options {
			if o.Name == "Pending" {
				name = o.Name
				break
			}
		}
		return notion.StatusOf(name), true
	case schema.KindSelect:
		name := "Default"
		if len(f.Options) > 0 {
			name = f.Options[0].Name
		}
		return notion.SelectOf(name), true
	}
	return notion.PropertyValue{}, false
}

func (m *Migrator) requireSchema(ctx context.Context, databaseID string, s schema.Schema) error {
	db, err := m.store.RetrieveDatabase(ctx, databaseID)
	if err != nil {
		return fmt.Errorf("migrate %s: retrieve: %w", databaseID, err)
	}
	if missing := Mismatches(db.Properties, s); len(missing) > 0 {
		return fmt.Errorf("migrate %s: %w: %s", databaseID, ErrSchemaIncomplete, strings.Join(missing, ", "))
	}
	return nil
}

// Backfill sets defaults on every record lacking a value for a declared
// field. Approval Status takes the legacy-mapped state rather than a fixed
// default. It aborts before touching any record when the live schema is
// incomplete. Failed records yield a *PartialFailureError alongside the
// result.
func (m *Migrator) Backfill(ctx context.Context, databaseID string, s schema.Schema) (SweepResult, error) {
	if err := m.requireSchema(ctx, databaseID, s); err != nil {
		return SweepResult{}, err
	}
	defaults := make(map[string]notion.PropertyValue)
	kinds := make(map[string]string)
	for _, f := range s.Fields {
		if v, ok := DefaultValue(f); ok {
			defaults[f.Name] = v
			kinds[f.Name] = string(f.Kind)
		}
	}
	return m.sweep(ctx, "backfill", databaseID, func(p notion.Page) map[string]notion.PropertyValue {
		props := make(map[string]notion.PropertyValue)
		for name, def := range defaults {
			if v, ok := p.Properties[name]; !ok || v.Empty(kinds[name]) {
				props[name] = def
			}
		}
		// A missing approval is read through the legacy Status so a record the
		// legacy fill missed keeps its state.
		if _, missing := props[schema.FieldApproval]; missing {
			props[schema.FieldApproval] = notion.SelectOf(string(tasks.ApprovalOf(p)))
		}
		return props
	})
}

// FillLegacyApproval copies the legacy unified Status into Approval Status on
// viewer records that have no approval value. Pending, Approved and Rejected
// carry over; anything else becomes Pending.
func (m *Migrator) FillLegacyApproval(ctx context.Context, viewerDatabaseID string) (SweepResult, error) {
	need := schema.Schema{Name: schema.ViewerName}
	for _, f := range schema.Viewer().Fields {
		if f.Name == schema.FieldApproval {
			need.Fields = append(need.Fields, f)
		}
	}
	if err := m.requireSchema(ctx, viewerDatabaseID, need); err != nil {
		return SweepResult{}, err
	}
	return m.sweep(ctx, "legacy approval fill", viewerDatabaseID, func(p notion.Page) map[string]notion.PropertyValue {
		if p.SelectName(schema.FieldApproval) != "" {
			return nil
		}
		state := tasks.LegacyApproval(p.StatusName(schema.FieldStatus))
		return map[string]notion.PropertyValue{schema.FieldApproval: notion.SelectOf(string(state))}
	})
}

// sweep applies plan to every live record, one update per record.
func (m *Migrator) sweep(ctx context.Context, op, databaseID string, plan func(notion.Page) map[string]notion.PropertyValue) (SweepResult, error) {
	var res SweepResult
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "migrate"), slog.String("database", databaseID), slog.String("op", op))
	pages, err := m.store.QueryDatabase(ctx, databaseID, nil)
	if err != nil {
		return res, fmt.Errorf("%s %s: query: %w", op, databaseID, err)
	}
	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if p.Archived || p.InTrash {
			continue
		}
		res.Scanned++
		props := plan(p)
		if len(props) == 0 {
			res.Skipped++
			continue
		}
		if _, err := m.store.UpdatePage(ctx, p.ID, notion.PageUpdate{Properties: props}); err != nil {
			res.Failed++
			log.Error("record update failed", slog.String("page", p.ID), slog.Any("err", err))
			continue
		}
		res.Updated++
	}
	telemetry.AddMigrationRecords("updated", res.Updated)
	telemetry.AddMigrationRecords("failed", res.Failed)
	telemetry.AddMigrationRecords("skipped", res.Skipped)
	log.Info("sweep finished", slog.Int("scanned", res.Scanned), slog.Int("updated", res.Updated), slog.Int("failed", res.Failed), slog.Int("skipped", res.Skipped))
	if res.Failed > 0 {
		return res, &PartialFailureError{Op: op, Result: res}
	}
	return res, nil
}
