package overlay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/onnwee/task-overlay/notion"
	"github.com/onnwee/task-overlay/schema"
	"github.com/onnwee/task-overlay/tasks"
	"github.com/onnwee/task-overlay/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func setup(t *testing.T) (*testutil.FakeNotion, tasks.Collections) {
	t.Helper()
	fake := testutil.NewFakeNotion()
	return fake, tasks.Collections{
		Streamer: fake.AddDatabase(schema.StreamerName, testutil.PropertiesFor(schema.Streamer())),
		Viewer:   fake.AddDatabase(schema.ViewerName, testutil.PropertiesFor(schema.Viewer())),
	}
}

func viewerRecord(title, submitter, approval string, completed bool) map[string]notion.PropertyValue {
	props := map[string]notion.PropertyValue{
		schema.FieldTask:        notion.TitleValue(title),
		schema.FieldSuggestedBy: notion.TextValue(submitter),
		schema.FieldRole:        notion.SelectOf("Viewer"),
		schema.FieldCompleted:   notion.CheckboxValue(completed),
	}
	if approval != "" {
		props[schema.FieldApproval] = notion.SelectOf(approval)
	}
	return props
}

func TestBuildFiltersAndMaps(t *testing.T) {
	fake, cols := setup(t)
	open := fake.AddPage(cols.Streamer, map[string]notion.PropertyValue{schema.FieldTask: notion.TitleValue("Beat the boss"), schema.FieldCompleted: notion.CheckboxValue(false)})
	untitled := fake.AddPage(cols.Streamer, map[string]notion.PropertyValue{schema.FieldCompleted: notion.CheckboxValue(false)})
	fake.AddPage(cols.Streamer, map[string]notion.PropertyValue{schema.FieldTask: notion.TitleValue("done"), schema.FieldCompleted: notion.CheckboxValue(true)})

	approved := fake.AddPage(cols.Viewer, viewerRecord("Do a backflip", "U123", "Approved", false))
	fake.AddPage(cols.Viewer, viewerRecord("pending", "U2", "Pending", false))
	fake.AddPage(cols.Viewer, viewerRecord("finished", "U3", "Approved", true))
	fake.AddPage(cols.Viewer, viewerRecord("go die", "U4", "Approved", false))
	legacy := viewerRecord("legacy", "U5", "", false)
	legacy[schema.FieldStatus] = notion.StatusOf("Approved")
	legacyID := fake.AddPage(cols.Viewer, legacy)
	overridden := viewerRecord("modern says no", "U6", "Rejected", false)
	overridden[schema.FieldStatus] = notion.StatusOf("Approved")
	fake.AddPage(cols.Viewer, overridden)

	view, err := NewBuilder(fake, nil).Build(context.Background(), cols)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	wantStreamer := []tasks.Task{
		{ID: open, Type: tasks.TypeStreamer, Title: "Beat the boss"},
		{ID: untitled, Type: tasks.TypeStreamer, Title: tasks.UntitledTask},
	}
	if diff := cmp.Diff(wantStreamer, view.StreamerTasks); diff != "" {
		t.Errorf("streamer tasks (-want +got):\n%s", diff)
	}
	wantViewer := []tasks.Task{
		{ID: approved, Type: tasks.TypeViewer, Title: "Do a backflip", Submitter: "U123", Role: "Viewer", Status: "Approved"},
		{ID: legacyID, Type: tasks.TypeViewer, Title: "legacy", Submitter: "U5", Role: "Viewer", Status: "Approved"},
	}
	if diff := cmp.Diff(wantViewer, view.ViewerTasks); diff != "" {
		t.Errorf("viewer tasks (-want +got):\n%s", diff)
	}
}

func TestBuildUnconfiguredIsEmpty(t *testing.T) {
	fake := testutil.NewFakeNotion()
	view, err := NewBuilder(fake, nil).Build(context.Background(), tasks.Collections{Streamer: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if view.StreamerTasks == nil || view.ViewerTasks == nil || len(view.StreamerTasks)+len(view.ViewerTasks) != 0 {
		t.Errorf("view = %+v, want empty non-nil lists", view)
	}
	if fake.Calls("QueryDatabase") != 0 {
		t.Error("queried without configuration")
	}
}

func TestBuildDegradesOnFailure(t *testing.T) {
	fake, cols := setup(t)
	fake.AddPage(cols.Streamer, map[string]notion.PropertyValue{schema.FieldTask: notion.TitleValue("still here"), schema.FieldCompleted: notion.CheckboxValue(false)})
	fake.Errors["QueryDatabase:"+cols.Viewer] = testutil.Unavailable()

	view, err := NewBuilder(fake, nil).Build(context.Background(), cols)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(view.StreamerTasks) != 1 || len(view.ViewerTasks) != 0 {
		t.Errorf("view = %+v", view)
	}
}

func TestBuildPropagatesUnauthorized(t *testing.T) {
	fake, cols := setup(t)
	fake.Fail("QueryDatabase", testutil.Unauthorized())
	_, err := NewBuilder(fake, nil).Build(context.Background(), cols)
	if !errors.Is(err, notion.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

// barrierQuerier only answers once both queries are in flight.
type barrierQuerier struct {
	wg sync.WaitGroup
}

func (b *barrierQuerier) QueryDatabase(ctx context.Context, databaseID string, _ *notion.Filter) ([]notion.Page, error) {
	b.wg.Done()
	done := make(chan struct{})
	go func() { b.wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestBuildQueriesConcurrently(t *testing.T) {
	q := &barrierQuerier{}
	q.wg.Add(2)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := NewBuilder(q, nil).Build(ctx, tasks.Collections{Streamer: "s", Viewer: "v"}); err != nil {
		t.Fatal(err)
	}
	if ctx.Err() != nil {
		t.Fatal("queries ran sequentially")
	}
}

func TestSubmitApproveCompleteScenario(t *testing.T) {
	fake, cols := setup(t)
	ctx := context.Background()
	svc := tasks.NewService(fake, cols, nil)
	builder := NewBuilder(fake, nil)
	viewer := tasks.Principal{OpaqueID: "U123", Role: tasks.RoleViewer}
	mod := tasks.Principal{OpaqueID: "UMOD", Role: tasks.RoleModerator}

	task, err := svc.Submit(ctx, viewer, "Do a backflip")
	if err != nil {
		t.Fatal(err)
	}
	view, _ := builder.Build(ctx, cols)
	if len(view.ViewerTasks) != 0 {
		t.Fatal("pending task visible on overlay")
	}
	if _, err := svc.Approve(ctx, mod, task.ID); err != nil {
		t.Fatal(err)
	}
	view, _ = builder.Build(ctx, cols)
	if len(view.ViewerTasks) != 1 || view.ViewerTasks[0].Submitter != "U123" || view.ViewerTasks[0].Status != "Approved" {
		t.Fatalf("viewer tasks = %+v", view.ViewerTasks)
	}
	if _, err := svc.SetMyCompletion(ctx, viewer, true); err != nil {
		t.Fatal(err)
	}
	view, _ = builder.Build(ctx, cols)
	if len(view.ViewerTasks) != 0 {
		t.Errorf("completed task still on overlay: %+v", view.ViewerTasks)
	}
}
