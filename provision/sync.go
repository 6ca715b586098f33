package provision

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/task-overlay/db"
	"github.com/onnwee/task-overlay/schema"
	"github.com/onnwee/task-overlay/tasks"
	"github.com/onnwee/task-overlay/telemetry"
)

// SyncStore is what a full schema sync needs.
type SyncStore interface {
	SchemaStore
	RecordStore
}

// SyncReport collects the outcome of Sync.
type SyncReport struct {
	Streamer         Report      `json:"streamer"`
	Viewer           Report      `json:"viewer"`
	LegacyFill       SweepResult `json:"legacyFill"`
	StreamerBackfill SweepResult `json:"streamerBackfill"`
	ViewerBackfill   SweepResult `json:"viewerBackfill"`
}

// Sync reconciles both databases and migrates their records. A database
// whose reconcile fails is not migrated. The legacy approval fill runs before
// the viewer backfill so legacy Status values are not masked by the default.
// Partial record failures are reported but do not stop later steps.
func Sync(ctx context.Context, store SyncStore, cols tasks.Collections, rec *Reconciler) (SyncReport, error) {
	var rep SyncReport
	if rec == nil {
		rec = NewReconciler(store)
	}
	mig := NewMigrator(store)
	var errs []error

	if cols.Streamer != "" {
		r, err := rec.Reconcile(ctx, cols.Streamer, schema.Streamer())
		rep.Streamer = r
		if err != nil {
			errs = append(errs, err)
		} else {
			rep.StreamerBackfill, err = mig.Backfill(ctx, cols.Streamer, schema.Streamer())
			errs = append(errs, err)
		}
	}
	if cols.Viewer != "" {
		r, err := rec.Reconcile(ctx, cols.Viewer, schema.Viewer())
		rep.Viewer = r
		if err != nil {
			errs = append(errs, err)
		} else {
			rep.LegacyFill, err = mig.FillLegacyApproval(ctx, cols.Viewer)
			errs = append(errs, err)
			rep.ViewerBackfill, err = mig.Backfill(ctx, cols.Viewer, schema.Viewer())
			errs = append(errs, err)
		}
	}
	return rep, errors.Join(errs...)
}

// Target is one channel to keep in sync.
type Target struct {
	ChannelID   string
	Store       SyncStore
	Collections tasks.Collections
}

// TargetSource lists the channels to sync.
type TargetSource func(ctx context.Context) ([]Target, error)

// StartSyncJob syncs every target every interval (default 1h) until ctx is
// cancelled, and once at startup when immediate is set. dbc may be nil; when
// set, the last run time is recorded in kv.
func StartSyncJob(ctx context.Context, dbc *sql.DB, interval time.Duration, immediate bool, source TargetSource) {
	if interval <= 0 {
		interval = time.Hour
	}
	slog.Info("schema sync job starting", slog.Duration("interval", interval), slog.String("component", "schema_sync"))
	if immediate {
		if err := SyncAll(ctx, dbc, source); err != nil {
			slog.Warn("schema sync", slog.Any("err", err), slog.String("component", "schema_sync"))
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("schema sync job stopped", slog.String("component", "schema_sync"))
			return
		case <-ticker.C:
			if err := SyncAll(ctx, dbc, source); err != nil {
				slog.Warn("schema sync", slog.Any("err", err), slog.String("component", "schema_sync"))
			}
		}
	}
}

// SyncAll runs Sync for every target, logging per-channel failures. The
// error reports how many channels failed.
func SyncAll(ctx context.Context, dbc *sql.DB, source TargetSource) error {
	if telemetry.SyncCycles != nil {
		telemetry.SyncCycles.Inc()
	}
	if dbc != nil {
		if err := db.SetKV(ctx, dbc, "job_schema_sync_last", time.Now().UTC().Format(time.RFC3339)); err != nil {
			slog.Debug("record sync marker", slog.Any("err", err))
		}
	}
	targets, err := source(ctx)
	if err != nil {
		return fmt.Errorf("list sync targets: %w", err)
	}
	var failed int
	telemetry.TimeFunc(telemetry.SyncDuration, func() {
		for _, t := range targets {
			if ctx.Err() != nil {
				return
			}
			logger := slog.Default().With(slog.String("channel", t.ChannelID), slog.String("component", "schema_sync"))
			rep, err := Sync(ctx, t.Store, t.Collections, nil)
			if err != nil {
				failed++
				logger.Warn("channel sync failed", slog.Any("err", err))
				continue
			}
			logger.Info("channel synced",
				slog.Int("streamer_staged", len(rep.Streamer.Staged)),
				slog.Int("viewer_staged", len(rep.Viewer.Staged)),
				slog.Int("legacy_filled", rep.LegacyFill.Updated),
				slog.Int("backfilled", rep.StreamerBackfill.Updated+rep.ViewerBackfill.Updated))
		}
	})
	if failed > 0 {
		return fmt.Errorf("%d of %d channels failed to sync", failed, len(targets))
	}
	return nil
}
