package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/onnwee/task-overlay/notion"
	"github.com/onnwee/task-overlay/schema"
	"github.com/onnwee/task-overlay/testutil"
)

var (
	viewer    = Principal{ChannelID: "chan", UserID: "u1", OpaqueID: "U123", Role: RoleViewer}
	moderator = Principal{ChannelID: "chan", UserID: "m1", OpaqueID: "UMOD", Role: RoleModerator}
	streamer  = Principal{ChannelID: "chan", UserID: "chan", OpaqueID: "UBRD", Role: RoleBroadcaster}
)

func newService(t *testing.T) (*Service, *testutil.FakeNotion, Collections) {
	t.Helper()
	fake := testutil.NewFakeNotion()
	cols := Collections{
		Streamer: fake.AddDatabase(schema.StreamerName, testutil.PropertiesFor(schema.Streamer())),
		Viewer:   fake.AddDatabase(schema.ViewerName, testutil.PropertiesFor(schema.Viewer())),
	}
	return NewService(fake, cols, nil), fake, cols
}

func legacyPage(submitter, status string) map[string]notion.PropertyValue {
	return map[string]notion.PropertyValue{
		schema.FieldTask:        notion.TitleValue("legacy task"),
		schema.FieldSuggestedBy: notion.TextValue(submitter),
		schema.FieldStatus:      notion.StatusOf(status),
		schema.FieldCompleted:   notion.CheckboxValue(false),
	}
}

func TestSubmitCreatesPendingRecord(t *testing.T) {
	svc, fake, cols := newService(t)
	task, err := svc.Submit(context.Background(), viewer, "  Do a backflip  ")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	pages := fake.Pages(cols.Viewer)
	if len(pages) != 1 {
		t.Fatalf("records = %d, want 1", len(pages))
	}
	p := pages[0]
	if p.Title(schema.FieldTask) != "Do a backflip" {
		t.Errorf("title = %q", p.Title(schema.FieldTask))
	}
	if p.Text(schema.FieldSuggestedBy) != "U123" || p.SelectName(schema.FieldRole) != "Viewer" {
		t.Errorf("submitter/role = %q/%q", p.Text(schema.FieldSuggestedBy), p.SelectName(schema.FieldRole))
	}
	if ApprovalOf(p) != Pending || p.Checkbox(schema.FieldCompleted) {
		t.Errorf("approval=%s completed=%v", ApprovalOf(p), p.Checkbox(schema.FieldCompleted))
	}
	want := &Task{ID: p.ID, Type: TypeViewer, Title: "Do a backflip", Submitter: "U123", Role: "Viewer", Status: "Pending"}
	if diff := cmp.Diff(want, task); diff != "" {
		t.Errorf("task mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmitBroadcasterRecordsModerator(t *testing.T) {
	svc, fake, cols := newService(t)
	if _, err := svc.Submit(context.Background(), streamer, "hydrate"); err != nil {
		t.Fatal(err)
	}
	if got := fake.Pages(cols.Viewer)[0].SelectName(schema.FieldRole); got != "Moderator" {
		t.Errorf("role = %q, want Moderator", got)
	}
}

func TestSubmitRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		text string
		want any
	}{
		{"empty", "", &ValidationError{}},
		{"blank", " \t\n ", &ValidationError{}},
		{"prohibited", "you should kill yourself", &ProhibitedContentError{}},
		{"prohibited mixed case", "Go   DIE", &ProhibitedContentError{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, fake, cols := newService(t)
			_, err := svc.Submit(context.Background(), viewer, tt.text)
			switch tt.want.(type) {
			case *ValidationError:
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("err = %v, want ValidationError", err)
				}
			case *ProhibitedContentError:
				var pe *ProhibitedContentError
				if !errors.As(err, &pe) || pe.AutoRejected {
					t.Fatalf("err = %v, want ProhibitedContentError", err)
				}
			}
			if n := len(fake.Pages(cols.Viewer)); n != 0 {
				t.Errorf("records = %d, want 0", n)
			}
			if fake.Calls("CreatePage") != 0 {
				t.Error("store was called")
			}
		})
	}
}

func TestApprove(t *testing.T) {
	svc, fake, _ := newService(t)
	ctx := context.Background()
	task, err := svc.Submit(ctx, viewer, "sing a song")
	if err != nil {
		t.Fatal(err)
	}

	var fe *ForbiddenError
	if _, err := svc.Approve(ctx, viewer, task.ID); !errors.As(err, &fe) {
		t.Fatalf("viewer approve err = %v, want ForbiddenError", err)
	}

	got, err := svc.Approve(ctx, moderator, task.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if got.Status != "Approved" {
		t.Errorf("status = %q", got.Status)
	}
	p, _ := fake.Page(task.ID)
	if ApprovalOf(p) != Approved || p.Archived {
		t.Errorf("record approval=%s archived=%v", ApprovalOf(p), p.Archived)
	}
}

func TestApproveProhibitedAutoRejects(t *testing.T) {
	svc, fake, cols := newService(t)
	id := fake.AddPage(cols.Viewer, map[string]notion.PropertyValue{
		schema.FieldTask:        notion.TitleValue("go die"),
		schema.FieldSuggestedBy: notion.TextValue("U9"),
		schema.FieldApproval:    notion.SelectOf("Pending"),
		schema.FieldCompleted:   notion.CheckboxValue(false),
	})
	_, err := svc.Approve(context.Background(), moderator, id)
	var pe *ProhibitedContentError
	if !errors.As(err, &pe) || !pe.AutoRejected || pe.TaskID != id {
		t.Fatalf("err = %v, want auto-rejected ProhibitedContentError", err)
	}
	p, _ := fake.Page(id)
	if !p.Archived || p.SelectName(schema.FieldApproval) != "Rejected" {
		t.Errorf("archived=%v approval=%q", p.Archived, p.SelectName(schema.FieldApproval))
	}
}

func TestApproveUnknownOrForeignTask(t *testing.T) {
	svc, fake, cols := newService(t)
	var ne *NotFoundError
	if _, err := svc.Approve(context.Background(), moderator, "ffffffffffffffffffffffffffffffff"); !errors.As(err, &ne) {
		t.Errorf("missing task err = %v", err)
	}
	sid := fake.AddPage(cols.Streamer, map[string]notion.PropertyValue{schema.FieldTask: notion.TitleValue("stream")})
	if _, err := svc.Approve(context.Background(), moderator, sid); !errors.As(err, &ne) {
		t.Errorf("streamer task err = %v", err)
	}
}

func TestRejectBySubmitter(t *testing.T) {
	svc, fake, _ := newService(t)
	ctx := context.Background()
	task, err := svc.Submit(ctx, viewer, "dance")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Reject(ctx, moderator, "U123"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	p, _ := fake.Page(task.ID)
	if !p.Archived || ApprovalOf(p) != Rejected {
		t.Errorf("archived=%v approval=%s", p.Archived, ApprovalOf(p))
	}
}

func TestRejectByTaskID(t *testing.T) {
	svc, fake, _ := newService(t)
	ctx := context.Background()
	task, err := svc.Submit(ctx, viewer, "juggle")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Approve(ctx, moderator, task.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Reject(ctx, streamer, task.ID); err != nil {
		t.Fatalf("Reject by id: %v", err)
	}
	p, _ := fake.Page(task.ID)
	if !p.Archived {
		t.Error("task not archived")
	}
}

func TestRejectNoPendingTaskIsNotFound(t *testing.T) {
	svc, fake, cols := newService(t)
	fake.AddPage(cols.Viewer, legacyPage("U123", "Approved"))
	fake.ResetCalls()

	_, err := svc.Reject(context.Background(), moderator, "U123")
	var ne *NotFoundError
	if !errors.As(err, &ne) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	if fake.Calls("UpdatePage") != 0 {
		t.Error("reject with no pending task mutated a record")
	}
	if _, err := svc.Reject(context.Background(), viewer, "U123"); !errors.As(err, new(*ForbiddenError)) {
		t.Errorf("viewer reject err = %v", err)
	}
}

func TestLegacyApprovedRecordFoundLikeModern(t *testing.T) {
	svc, fake, cols := newService(t)
	legacyID := fake.AddPage(cols.Viewer, legacyPage("LEG", "Approved"))
	modernID := fake.AddPage(cols.Viewer, map[string]notion.PropertyValue{
		schema.FieldTask:        notion.TitleValue("modern"),
		schema.FieldSuggestedBy: notion.TextValue("MOD"),
		schema.FieldApproval:    notion.SelectOf("Approved"),
		schema.FieldCompleted:   notion.CheckboxValue(false),
	})
	for submitter, want := range map[string]string{"LEG": legacyID, "MOD": modernID} {
		p, err := svc.FindTask(context.Background(), submitter, Approved)
		if err != nil {
			t.Fatalf("FindTask(%s): %v", submitter, err)
		}
		if p.ID != want {
			t.Errorf("FindTask(%s) = %s, want %s", submitter, p.ID, want)
		}
	}
}

func TestApprovalOf(t *testing.T) {
	tests := []struct {
		name  string
		props map[string]notion.PropertyValue
		want  Approval
	}{
		{"modern wins", map[string]notion.PropertyValue{schema.FieldApproval: notion.SelectOf("Rejected"), schema.FieldStatus: notion.StatusOf("Approved")}, Rejected},
		{"legacy approved", map[string]notion.PropertyValue{schema.FieldStatus: notion.StatusOf("Approved")}, Approved},
		{"legacy done", map[string]notion.PropertyValue{schema.FieldStatus: notion.StatusOf("Done")}, Pending},
		{"nothing", map[string]notion.PropertyValue{}, Pending},
		{"null select", map[string]notion.PropertyValue{schema.FieldApproval: {}, schema.FieldStatus: notion.StatusOf("Rejected")}, Rejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ApprovalOf(notion.Page{Properties: tt.props}); got != tt.want {
				t.Errorf("ApprovalOf = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSetMyCompletion(t *testing.T) {
	svc, fake, _ := newService(t)
	ctx := context.Background()

	var ne *NotFoundError
	if _, err := svc.SetMyCompletion(ctx, viewer, true); !errors.As(err, &ne) {
		t.Fatalf("no task err = %v", err)
	}

	task, _ := svc.Submit(ctx, viewer, "stretch")
	if _, err := svc.SetMyCompletion(ctx, viewer, true); !errors.As(err, &ne) {
		t.Fatalf("pending task err = %v, want NotFoundError", err)
	}
	if _, err := svc.Approve(ctx, moderator, task.ID); err != nil {
		t.Fatal(err)
	}
	got, err := svc.SetMyCompletion(ctx, viewer, true)
	if err != nil {
		t.Fatalf("SetMyCompletion: %v", err)
	}
	if !got.Completed {
		t.Error("task not completed")
	}
	if _, err := svc.SetMyCompletion(ctx, viewer, false); err != nil {
		t.Fatalf("undo: %v", err)
	}
	p, _ := fake.Page(task.ID)
	if p.Checkbox(schema.FieldCompleted) {
		t.Error("undo did not clear completed")
	}
}

func TestSetMyCompletionPicksFirstTaskNotInState(t *testing.T) {
	svc, fake, cols := newService(t)
	ctx := context.Background()
	add := func(title string, done bool) string {
		return fake.AddPage(cols.Viewer, map[string]notion.PropertyValue{
			schema.FieldTask:        notion.TitleValue(title),
			schema.FieldSuggestedBy: notion.TextValue(viewer.OpaqueID),
			schema.FieldApproval:    notion.SelectOf(string(Approved)),
			schema.FieldCompleted:   notion.CheckboxValue(done),
		})
	}
	first := add("already done", true)
	second := add("still open", false)

	got, err := svc.SetMyCompletion(ctx, viewer, true)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.ID != second {
		t.Errorf("completed %s, want the open task %s", got.ID, second)
	}

	// Both are done now; undo takes the first approved task.
	got, err = svc.SetMyCompletion(ctx, viewer, false)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if got.ID != first {
		t.Errorf("undid %s, want %s", got.ID, first)
	}

	got, err = svc.SetMyCompletion(ctx, viewer, false)
	if err != nil || got.ID != second {
		t.Fatalf("second undo = %v, %v; want %s", got, err, second)
	}

	// Nothing left in the other state: the first approved task is used.
	got, err = svc.SetMyCompletion(ctx, viewer, false)
	if err != nil || got.ID != first {
		t.Errorf("no-op undo = %v, %v; want %s", got, err, first)
	}
	for id, want := range map[string]bool{first: false, second: false} {
		p, _ := fake.Page(id)
		if p.Checkbox(schema.FieldCompleted) != want {
			t.Errorf("%s completed = %v, want %v", id, !want, want)
		}
	}
}

func TestSetTaskCompletionAnyTask(t *testing.T) {
	svc, fake, cols := newService(t)
	ctx := context.Background()
	sid := fake.AddPage(cols.Streamer, map[string]notion.PropertyValue{
		schema.FieldTask:      notion.TitleValue("raid someone"),
		schema.FieldCompleted: notion.CheckboxValue(false),
	})
	got, err := svc.SetTaskCompletion(ctx, moderator, sid, true)
	if err != nil {
		t.Fatalf("SetTaskCompletion: %v", err)
	}
	if got.Type != TypeStreamer || !got.Completed {
		t.Errorf("task = %+v", got)
	}
	pending, _ := svc.Submit(ctx, viewer, "pending one")
	if _, err := svc.SetTaskCompletion(ctx, moderator, pending.ID, true); err != nil {
		t.Errorf("pending task toggle: %v", err)
	}
	if _, err := svc.SetTaskCompletion(ctx, viewer, sid, false); !errors.As(err, new(*ForbiddenError)) {
		t.Errorf("viewer toggle err = %v", err)
	}
	if _, err := svc.SetTaskCompletion(ctx, moderator, "ffffffffffffffffffffffffffffffff", true); !errors.As(err, new(*NotFoundError)) {
		t.Errorf("missing task err = %v", err)
	}
}

func TestMyTaskAndListPending(t *testing.T) {
	svc, fake, cols := newService(t)
	ctx := context.Background()
	fake.AddPage(cols.Viewer, legacyPage("OTHER", "Not started"))
	task, _ := svc.Submit(ctx, viewer, "wave")

	mine, err := svc.MyTask(ctx, viewer)
	if err != nil || mine.ID != task.ID {
		t.Fatalf("MyTask = %+v, %v", mine, err)
	}
	queue, err := svc.ListPending(ctx, moderator)
	if err != nil {
		t.Fatal(err)
	}
	if len(queue) != 2 {
		t.Errorf("pending = %d, want 2 (legacy non-approval status reads as pending)", len(queue))
	}
	if _, err := svc.ListPending(ctx, viewer); !errors.As(err, new(*ForbiddenError)) {
		t.Errorf("viewer ListPending err = %v", err)
	}
}

func TestApprovePendingSweepIsolatesFailures(t *testing.T) {
	svc, fake, _ := newService(t)
	ctx := context.Background()
	a, _ := svc.Submit(ctx, viewer, "one")
	b, _ := svc.Submit(ctx, Principal{OpaqueID: "U2"}, "two")
	c, _ := svc.Submit(ctx, Principal{OpaqueID: "U3"}, "three")
	fake.Errors["UpdatePage:"+b.ID] = testutil.Unavailable()

	res, err := svc.ApprovePending(ctx)
	if err != nil {
		t.Fatalf("ApprovePending: %v", err)
	}
	if diff := cmp.Diff(BulkResult{Scanned: 3, Approved: 2, Failed: 1}, res); diff != "" {
		t.Errorf("result (-want +got):\n%s", diff)
	}
	for _, id := range []string{a.ID, c.ID} {
		p, _ := fake.Page(id)
		if ApprovalOf(p) != Approved {
			t.Errorf("%s approval = %s", id, ApprovalOf(p))
		}
	}
}

func TestRejectProhibitedSweep(t *testing.T) {
	svc, fake, cols := newService(t)
	clean := fake.AddPage(cols.Viewer, map[string]notion.PropertyValue{schema.FieldTask: notion.TitleValue("fine"), schema.FieldApproval: notion.SelectOf("Approved")})
	badApproved := fake.AddPage(cols.Viewer, map[string]notion.PropertyValue{schema.FieldTask: notion.TitleValue("Kill Yourself"), schema.FieldApproval: notion.SelectOf("Approved")})
	badPending := fake.AddPage(cols.Viewer, map[string]notion.PropertyValue{schema.FieldTask: notion.TitleValue("suicide jokes"), schema.FieldStatus: notion.StatusOf("Pending")})

	res, err := svc.RejectProhibited(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(BulkResult{Scanned: 3, Rejected: 2}, res); diff != "" {
		t.Errorf("result (-want +got):\n%s", diff)
	}
	for id, archived := range map[string]bool{clean: false, badApproved: true, badPending: true} {
		p, _ := fake.Page(id)
		if p.Archived != archived {
			t.Errorf("%s archived = %v, want %v", id, p.Archived, archived)
		}
	}
}

func TestUnauthorizedStoreErrorPropagates(t *testing.T) {
	svc, fake, _ := newService(t)
	fake.Fail("CreatePage", testutil.Unauthorized())
	_, err := svc.Submit(context.Background(), viewer, "hello")
	if !notion.IsUnauthorized(err) {
		t.Fatalf("err = %v, want unauthorized", err)
	}
}

func TestLooksLikeID(t *testing.T) {
	tests := map[string]bool{
		"0123456789abcdef0123456789abcdef":     true,
		"01234567-89ab-cdef-0123-456789abcdef": true,
		"U123456":                              false,
		"0123456789abcdef0123456789abcdeg":     false,
		"0123456789-abcdef0123456789abcdef":    false,
	}
	for in, want := range tests {
		if got := LooksLikeID(in); got != want {
			t.Errorf("LooksLikeID(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseRoleAndRecordRole(t *testing.T) {
	tests := []struct {
		claim  string
		role   Role
		record string
		mod    bool
	}{
		{"broadcaster", RoleBroadcaster, "Moderator", true},
		{"moderator", RoleModerator, "Moderator", true},
		{"viewer", RoleViewer, "Viewer", false},
		{"external", RoleViewer, "Viewer", false},
		{"VIP", RoleVIP, "VIP", false},
		{"SubscriberT2", RoleSubscriberT2, "SubscriberT2", false},
	}
	for _, tt := range tests {
		p := Principal{Role: ParseRole(tt.claim)}
		if p.Role != tt.role || p.RecordRole() != tt.record || p.CanModerate() != tt.mod {
			t.Errorf("%s: role=%s record=%s mod=%v", tt.claim, p.Role, p.RecordRole(), p.CanModerate())
		}
	}
}
