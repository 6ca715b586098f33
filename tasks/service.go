// Package tasks implements the moderation state machine for viewer-submitted
// tasks and the completion toggle shared with the broadcaster's own tasks.
//
// Viewer tasks move Pending -> Approved -> completed true/false, or
// Pending -> Rejected, which archives the record for good. Streamer tasks have
// no approval state. Every mutation is a single-record update against the
// store; there are no transactions and no locks.
package tasks

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/onnwee/task-overlay/contentfilter"
	"github.com/onnwee/task-overlay/notion"
	"github.com/onnwee/task-overlay/schema"
	"github.com/onnwee/task-overlay/telemetry"
)

// MaxTitleLen is the longest accepted submission, in characters. Notion caps
// a text run at 2000.
const MaxTitleLen = 2000

// Store is the subset of the Notion client the service needs.
type Store interface {
	CreatePage(ctx context.Context, databaseID string, props map[string]notion.PropertyValue) (*notion.Page, error)
	RetrievePage(ctx context.Context, id string) (*notion.Page, error)
	UpdatePage(ctx context.Context, id string, upd notion.PageUpdate) (*notion.Page, error)
	QueryDatabase(ctx context.Context, databaseID string, filter *notion.Filter) ([]notion.Page, error)
}

// Collections identifies a channel's two databases.
type Collections struct {
	Streamer string
	Viewer   string
}

// Configured reports whether both databases are known.
func (c Collections) Configured() bool { return c.Streamer != "" && c.Viewer != "" }

// Service runs task operations for one channel.
type Service struct {
	store  Store
	filter *contentfilter.Filter
	cols   Collections
}

// NewService returns a service. A nil filter uses the default block-list.
func NewService(store Store, cols Collections, filter *contentfilter.Filter) *Service {
	if filter == nil {
		filter = contentfilter.Default()
	}
	return &Service{store: store, filter: filter, cols: cols}
}

func (s *Service) logger(ctx context.Context) *slog.Logger {
	return telemetry.LoggerWithCorr(ctx).With(slog.String("component", "tasks"))
}

func (s *Service) requireViewer() error {
	if s.cols.Viewer == "" {
		return &NotFoundError{What: "viewer task database not configured"}
	}
	return nil
}

func record(op string, err error) {
	outcome := "ok"
	var (
		ve *ValidationError
		pe *ProhibitedContentError
		ne *NotFoundError
		fe *ForbiddenError
	)
	switch {
	case err == nil:
	case errors.As(err, &ve):
		outcome = "invalid"
	case errors.As(err, &pe):
		outcome = "prohibited"
	case errors.As(err, &ne):
		outcome = "not_found"
	case errors.As(err, &fe):
		outcome = "forbidden"
	default:
		outcome = "error"
	}
	telemetry.CountTaskOp(op, outcome)
}

// Submit creates a Pending viewer task from text on behalf of p.
func (s *Service) Submit(ctx context.Context, p Principal, text string) (t *Task, err error) {
	defer func() { record("submit", err) }()
	title := strings.TrimSpace(text)
	if title == "" {
		return nil, &ValidationError{Field: "task", Message: "task text is required"}
	}
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return nil, &ValidationError{Field: "task", Message: "task text is too long"}
	}
	if strings.TrimSpace(p.OpaqueID) == "" {
		return nil, &ValidationError{Field: "submitter", Message: "submitter id is required"}
	}
	if s.filter.Prohibited(title) {
		telemetry.CountContentRejection()
		s.logger(ctx).Warn("submission refused by content filter", slog.String("submitter", p.OpaqueID), slog.String("text", s.filter.Redact(title)))
		return nil, &ProhibitedContentError{}
	}
	if err := s.requireViewer(); err != nil {
		return nil, err
	}
	page, err := s.store.CreatePage(ctx, s.cols.Viewer, map[string]notion.PropertyValue{
		schema.FieldTask:        notion.TitleValue(title),
		schema.FieldSuggestedBy: notion.TextValue(p.OpaqueID),
		schema.FieldRole:        notion.SelectOf(p.RecordRole()),
		schema.FieldApproval:    notion.SelectOf(string(Pending)),
		schema.FieldCompleted:   notion.CheckboxValue(false),
	})
	if err != nil {
		return nil, err
	}
	s.logger(ctx).Info("task submitted", slog.String("task", page.ID), slog.String("submitter", p.OpaqueID), slog.String("role", p.RecordRole()))
	vt := ViewerTask(*page)
	return &vt, nil
}

// viewerPage loads a live viewer record by id.
func (s *Service) viewerPage(ctx context.Context, id string) (*notion.Page, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, &ValidationError{Field: "id", Message: "task id is required"}
	}
	if err := s.requireViewer(); err != nil {
		return nil, err
	}
	page, err := s.store.RetrievePage(ctx, id)
	if notion.IsNotFound(err) {
		return nil, &NotFoundError{What: id}
	}
	if err != nil {
		return nil, err
	}
	if page.Archived || page.InTrash {
		return nil, &NotFoundError{What: id}
	}
	if db := page.Parent.DatabaseID; db != "" && !sameID(db, s.cols.Viewer) {
		return nil, &NotFoundError{What: id}
	}
	return page, nil
}

// Approve sets a viewer task to Approved. A task whose title fails the
// content filter is archived as Rejected instead and a
// ProhibitedContentError is returned.
func (s *Service) Approve(ctx context.Context, p Principal, taskID string) (t *Task, err error) {
	defer func() { record("approve", err) }()
	if !p.CanModerate() {
		return nil, &ForbiddenError{Op: "approve", Role: p.Role}
	}
	page, err := s.viewerPage(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return s.approvePage(ctx, *page)
}

// ApproveSubmitter approves the submitter's first Pending task.
func (s *Service) ApproveSubmitter(ctx context.Context, p Principal, submitter string) (t *Task, err error) {
	defer func() { record("approve", err) }()
	if !p.CanModerate() {
		return nil, &ForbiddenError{Op: "approve", Role: p.Role}
	}
	page, err := s.FindTask(ctx, submitter, Pending)
	if err != nil {
		return nil, err
	}
	return s.approvePage(ctx, *page)
}

func (s *Service) approvePage(ctx context.Context, page notion.Page) (*Task, error) {
	if s.filter.Prohibited(page.Title(schema.FieldTask)) {
		if _, err := s.rejectPage(ctx, page); err != nil {
			return nil, err
		}
		telemetry.CountContentRejection()
		s.logger(ctx).Warn("auto-rejected prohibited task on approval", slog.String("task", page.ID), slog.String("text", s.filter.Redact(page.Title(schema.FieldTask))))
		return nil, &ProhibitedContentError{TaskID: page.ID, AutoRejected: true}
	}
	updated, err := s.store.UpdatePage(ctx, page.ID, notion.PageUpdate{
		Properties: map[string]notion.PropertyValue{schema.FieldApproval: notion.SelectOf(string(Approved))},
	})
	if err != nil {
		return nil, err
	}
	s.logger(ctx).Info("task approved", slog.String("task", page.ID))
	vt := ViewerTask(*updated)
	return &vt, nil
}

// Reject archives a viewer task as Rejected. target is a task id when it has
// the shape of one, otherwise a submitter id whose first Pending task is
// rejected.
func (s *Service) Reject(ctx context.Context, p Principal, target string) (*Task, error) {
	if LooksLikeID(target) {
		return s.RejectTask(ctx, p, target)
	}
	return s.RejectSubmitter(ctx, p, target)
}

// RejectTask archives the given task as Rejected.
func (s *Service) RejectTask(ctx context.Context, p Principal, taskID string) (t *Task, err error) {
	defer func() { record("reject", err) }()
	if !p.CanModerate() {
		return nil, &ForbiddenError{Op: "reject", Role: p.Role}
	}
	page, err := s.viewerPage(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return s.rejectPage(ctx, *page)
}

// RejectSubmitter archives the submitter's first Pending task as Rejected.
func (s *Service) RejectSubmitter(ctx context.Context, p Principal, submitter string) (t *Task, err error) {
	defer func() { record("reject", err) }()
	if !p.CanModerate() {
		return nil, &ForbiddenError{Op: "reject", Role: p.Role}
	}
	page, err := s.FindTask(ctx, submitter, Pending)
	if err != nil {
		return nil, err
	}
	return s.rejectPage(ctx, *page)
}

// rejectPage is the terminal transition: Rejected and archived in one update.
func (s *Service) rejectPage(ctx context.Context, page notion.Page) (*Task, error) {
	updated, err := s.store.UpdatePage(ctx, page.ID, notion.PageUpdate{
		Properties: map[string]notion.PropertyValue{schema.FieldApproval: notion.SelectOf(string(Rejected))},
		Archived:   notion.Archive(),
	})
	if err != nil {
		return nil, err
	}
	s.logger(ctx).Info("task rejected", slog.String("task", page.ID))
	vt := ViewerTask(*updated)
	return &vt, nil
}

// SetMyCompletion sets completed on the caller's Approved task. Among several
// Approved tasks the first one not already in the requested state wins.
func (s *Service) SetMyCompletion(ctx context.Context, p Principal, done bool) (t *Task, err error) {
	defer func() { record("complete_self", err) }()
	if strings.TrimSpace(p.OpaqueID) == "" {
		return nil, &ValidationError{Field: "submitter", Message: "submitter id is required"}
	}
	pages, err := s.findTasks(ctx, p.OpaqueID, Approved)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, &NotFoundError{What: "no approved task for submitter"}
	}
	target := pages[0]
	for _, pg := range pages {
		if pg.Checkbox(schema.FieldCompleted) != done {
			target = pg
			break
		}
	}
	return s.setCompleted(ctx, target.ID, done, ViewerTask)
}

// SetTaskCompletion sets completed on any task by id, streamer or viewer,
// regardless of approval state.
func (s *Service) SetTaskCompletion(ctx context.Context, p Principal, taskID string, done bool) (t *Task, err error) {
	defer func() { record("complete", err) }()
	if !p.CanModerate() {
		return nil, &ForbiddenError{Op: "complete", Role: p.Role}
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, &ValidationError{Field: "id", Message: "task id is required"}
	}
	return s.setCompleted(ctx, taskID, done, s.taskOf)
}

func (s *Service) taskOf(p notion.Page) Task {
	if s.cols.Streamer != "" && sameID(p.Parent.DatabaseID, s.cols.Streamer) {
		return StreamerTask(p)
	}
	return ViewerTask(p)
}

func (s *Service) setCompleted(ctx context.Context, id string, done bool, view func(notion.Page) Task) (*Task, error) {
	updated, err := s.store.UpdatePage(ctx, id, notion.PageUpdate{
		Properties: map[string]notion.PropertyValue{schema.FieldCompleted: notion.CheckboxValue(done)},
	})
	if notion.IsNotFound(err) {
		return nil, &NotFoundError{What: id}
	}
	if err != nil {
		return nil, err
	}
	s.logger(ctx).Info("task completion set", slog.String("task", id), slog.Bool("completed", done))
	t := view(*updated)
	return &t, nil
}

// findTasks returns the submitter's live viewer tasks in the given state, in
// store order. The store filters by submitter; state is decided by ApprovalOf
// so legacy records match exactly like modern ones.
func (s *Service) findTasks(ctx context.Context, submitter string, state Approval) ([]notion.Page, error) {
	submitter = strings.TrimSpace(submitter)
	if submitter == "" {
		return nil, &ValidationError{Field: "submitter", Message: "submitter id is required"}
	}
	if err := s.requireViewer(); err != nil {
		return nil, err
	}
	f := notion.TextEquals(schema.FieldSuggestedBy, submitter)
	pages, err := s.store.QueryDatabase(ctx, s.cols.Viewer, &f)
	if err != nil {
		return nil, err
	}
	var out []notion.Page
	for _, pg := range pages {
		if pg.Archived || pg.InTrash {
			continue
		}
		if ApprovalOf(pg) == state {
			out = append(out, pg)
		}
	}
	return out, nil
}

// FindTask returns the submitter's first live viewer task in state, or a
// NotFoundError.
func (s *Service) FindTask(ctx context.Context, submitter string, state Approval) (*notion.Page, error) {
	pages, err := s.findTasks(ctx, submitter, state)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, &NotFoundError{What: "no " + strings.ToLower(string(state)) + " task for submitter"}
	}
	return &pages[0], nil
}

// MyTask returns the caller's first in-flight task: Pending, or Approved and
// not completed.
func (s *Service) MyTask(ctx context.Context, p Principal) (*Task, error) {
	if strings.TrimSpace(p.OpaqueID) == "" {
		return nil, &ValidationError{Field: "submitter", Message: "submitter id is required"}
	}
	if err := s.requireViewer(); err != nil {
		return nil, err
	}
	f := notion.TextEquals(schema.FieldSuggestedBy, p.OpaqueID)
	pages, err := s.store.QueryDatabase(ctx, s.cols.Viewer, &f)
	if err != nil {
		return nil, err
	}
	for _, pg := range pages {
		if pg.Archived || pg.InTrash {
			continue
		}
		switch ApprovalOf(pg) {
		case Pending:
			t := ViewerTask(pg)
			return &t, nil
		case Approved:
			if !pg.Checkbox(schema.FieldCompleted) {
				t := ViewerTask(pg)
				return &t, nil
			}
		}
	}
	return nil, &NotFoundError{What: "no task in flight"}
}

func (s *Service) pendingPages(ctx context.Context) ([]notion.Page, error) {
	if err := s.requireViewer(); err != nil {
		return nil, err
	}
	f := notion.CheckboxEquals(schema.FieldCompleted, false)
	pages, err := s.store.QueryDatabase(ctx, s.cols.Viewer, &f)
	if err != nil {
		return nil, err
	}
	var out []notion.Page
	for _, pg := range pages {
		if !pg.Archived && !pg.InTrash && ApprovalOf(pg) == Pending {
			out = append(out, pg)
		}
	}
	return out, nil
}

// ListPending returns the moderation queue.
func (s *Service) ListPending(ctx context.Context, p Principal) ([]Task, error) {
	if !p.CanModerate() {
		return nil, &ForbiddenError{Op: "list pending", Role: p.Role}
	}
	pages, err := s.pendingPages(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Task, 0, len(pages))
	for _, pg := range pages {
		out = append(out, ViewerTask(pg))
	}
	return out, nil
}

// BulkResult counts the outcome of a sweep over many records.
type BulkResult struct {
	Scanned  int `json:"scanned"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Failed   int `json:"failed"`
}

// ApprovePending runs every Pending task through the approval gate. Each
// record is updated on its own; a failure is logged and the sweep moves on.
// Operator-only: callers authorize before invoking.
func (s *Service) ApprovePending(ctx context.Context) (BulkResult, error) {
	var res BulkResult
	pages, err := s.pendingPages(ctx)
	if err != nil {
		return res, err
	}
	log := s.logger(ctx)
	for _, pg := range pages {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Scanned++
		_, err := s.approvePage(ctx, pg)
		var pe *ProhibitedContentError
		switch {
		case err == nil:
			res.Approved++
		case errors.As(err, &pe):
			res.Rejected++
		default:
			res.Failed++
			log.Error("approve failed", slog.String("task", pg.ID), slog.Any("err", err))
		}
	}
	log.Info("approve sweep finished", slog.Int("scanned", res.Scanned), slog.Int("approved", res.Approved), slog.Int("rejected", res.Rejected), slog.Int("failed", res.Failed))
	return res, nil
}

// RejectProhibited archives as Rejected every live viewer task whose title
// fails the content filter, whatever its state. Operator-only.
func (s *Service) RejectProhibited(ctx context.Context) (BulkResult, error) {
	var res BulkResult
	if err := s.requireViewer(); err != nil {
		return res, err
	}
	pages, err := s.store.QueryDatabase(ctx, s.cols.Viewer, nil)
	if err != nil {
		return res, err
	}
	log := s.logger(ctx)
	for _, pg := range pages {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if pg.Archived || pg.InTrash {
			continue
		}
		res.Scanned++
		if !s.filter.Prohibited(pg.Title(schema.FieldTask)) {
			continue
		}
		if _, err := s.rejectPage(ctx, pg); err != nil {
			res.Failed++
			log.Error("reject failed", slog.String("task", pg.ID), slog.Any("err", err))
			continue
		}
		res.Rejected++
		telemetry.CountContentRejection()
	}
	log.Info("prohibited sweep finished", slog.Int("scanned", res.Scanned), slog.Int("rejected", res.Rejected), slog.Int("failed", res.Failed))
	return res, nil
}
