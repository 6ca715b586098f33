// Package overlay builds the read-model shown on the stream overlay: the
// broadcaster's open tasks and the approved, incomplete viewer tasks.
package overlay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/task-overlay/contentfilter"
	"github.com/onnwee/task-overlay/notion"
	"github.com/onnwee/task-overlay/schema"
	"github.com/onnwee/task-overlay/tasks"
	"github.com/onnwee/task-overlay/telemetry"
)

// Querier runs database queries.
type Querier interface {
	QueryDatabase(ctx context.Context, databaseID string, filter *notion.Filter) ([]notion.Page, error)
}

// View is the overlay payload.
type View struct {
	StreamerTasks []tasks.Task `json:"streamerTasks"`
	ViewerTasks   []tasks.Task `json:"viewerTasks"`
}

// Builder assembles views.
type Builder struct {
	store  Querier
	filter *contentfilter.Filter
}

// NewBuilder returns a builder. A nil filter uses the default block-list.
func NewBuilder(store Querier, filter *contentfilter.Filter) *Builder {
	if filter == nil {
		filter = contentfilter.Default()
	}
	return &Builder{store: store, filter: filter}
}

// Build queries both databases concurrently. Missing configuration yields
// empty lists. Query failures degrade to an empty list for that side, except
// notion.ErrUnauthorized, which is returned so credential problems surface.
func (b *Builder) Build(ctx context.Context, cols tasks.Collections) (View, error) {
	view := View{StreamerTasks: []tasks.Task{}, ViewerTasks: []tasks.Task{}}
	if !cols.Configured() {
		telemetry.CountOverlayBuild("unconfigured")
		return view, nil
	}
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "overlay"))
	start := time.Now()
	defer func() {
		if telemetry.OverlayBuildDuration != nil {
			telemetry.OverlayBuildDuration.Observe(time.Since(start).Seconds())
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pages, err := b.query(gctx, log, "streamer", cols.Streamer, notion.CheckboxEquals(schema.FieldCompleted, false))
		if err != nil {
			return err
		}
		for _, p := range pages {
			view.StreamerTasks = append(view.StreamerTasks, tasks.StreamerTask(p))
		}
		return nil
	})
	g.Go(func() error {
		f := notion.And(
			notion.CheckboxEquals(schema.FieldCompleted, false),
			notion.Or(
				notion.SelectEquals(schema.FieldApproval, string(tasks.Approved)),
				notion.StatusEquals(schema.FieldStatus, string(tasks.Approved)),
			),
		)
		pages, err := b.query(gctx, log, "viewer", cols.Viewer, f)
		if err != nil {
			return err
		}
		for _, p := range pages {
			if p.Archived || tasks.ApprovalOf(p) != tasks.Approved {
				continue
			}
			if b.filter.Prohibited(p.Title(schema.FieldTask)) {
				log.Warn("hiding prohibited approved task", slog.String("task", p.ID), slog.String("text", b.filter.Redact(p.Title(schema.FieldTask))))
				continue
			}
			view.ViewerTasks = append(view.ViewerTasks, tasks.ViewerTask(p))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		telemetry.CountOverlayBuild("unauthorized")
		return View{StreamerTasks: []tasks.Task{}, ViewerTasks: []tasks.Task{}}, err
	}
	telemetry.CountOverlayBuild("ok")
	return view, nil
}

// query returns the pages or, for anything but an auth failure, nothing.
func (b *Builder) query(ctx context.Context, log *slog.Logger, side, databaseID string, f notion.Filter) ([]notion.Page, error) {
	pages, err := b.store.QueryDatabase(ctx, databaseID, &f)
	if err == nil {
		return pages, nil
	}
	if errors.Is(err, notion.ErrUnauthorized) {
		return nil, err
	}
	log.Warn("overlay query failed; showing no tasks", slog.String("side", side), slog.String("database", databaseID), slog.Any("err", err))
	return nil, nil
}
