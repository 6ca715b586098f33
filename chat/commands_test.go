package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/onnwee/task-overlay/notion"
	"github.com/onnwee/task-overlay/schema"
	"github.com/onnwee/task-overlay/tasks"
	"github.com/onnwee/task-overlay/testutil"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Command
		ok   bool
	}{
		{"!task Do a backflip", Command{"task", "Do a backflip"}, true},
		{"  !TASK   spaced out ", Command{"task", "spaced out"}, true},
		{"!approve @Someone", Command{"approve", "@Someone"}, true},
		{"!done", Command{"done", ""}, true},
		{"!undo", Command{"undo", ""}, true},
		{"!lurk", Command{}, false},
		{"hello !task", Command{}, false},
		{"", Command{}, false},
	}
	for _, tt := range tests {
		got, ok := Parse(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("Parse(%q) = %+v, %v; want %+v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRoleFromBadges(t *testing.T) {
	tests := []struct {
		badges map[string]int
		want   tasks.Role
	}{
		{nil, tasks.RoleViewer},
		{map[string]int{"broadcaster": 1, "subscriber": 0}, tasks.RoleBroadcaster},
		{map[string]int{"moderator": 1}, tasks.RoleModerator},
		{map[string]int{"vip": 1}, tasks.RoleVIP},
		{map[string]int{"subscriber": 12}, tasks.RoleSubscriberT1},
		{map[string]int{"subscriber": 2006}, tasks.RoleSubscriberT2},
		{map[string]int{"subscriber": 3012}, tasks.RoleSubscriberT3},
	}
	for _, tt := range tests {
		if got := RoleFromBadges(tt.badges); got != tt.want {
			t.Errorf("RoleFromBadges(%v) = %s, want %s", tt.badges, got, tt.want)
		}
	}
}

func setup(t *testing.T) (*testutil.FakeNotion, *Dispatcher, tasks.Collections) {
	t.Helper()
	fake := testutil.NewFakeNotion()
	cols := tasks.Collections{
		Streamer: fake.AddDatabase(schema.StreamerName, testutil.PropertiesFor(schema.Streamer())),
		Viewer:   fake.AddDatabase(schema.ViewerName, testutil.PropertiesFor(schema.Viewer())),
	}
	d := &Dispatcher{ChannelID: "42", Service: func(context.Context) (*tasks.Service, error) {
		return tasks.NewService(fake, cols, nil), nil
	}}
	return fake, d, cols
}

var mod = map[string]int{"moderator": 1}

func TestCommandFlow(t *testing.T) {
	fake, d, cols := setup(t)
	ctx := context.Background()
	steps := []struct {
		login  string
		badges map[string]int
		text   string
		want   string
	}{
		{"Viewer1", nil, "hello chat", ""},
		{"Viewer1", nil, "!done", "@viewer1, no active task found for you to update."},
		{"Viewer1", nil, "!task Do a backflip", "@viewer1, your task has been submitted for approval!"},
		{"Viewer1", nil, "!approve @viewer1", "@viewer1, only moderators can do that."},
		{"Mod", mod, "!approve", "Usage: !approve @user"},
		{"Mod", mod, "!approve @nobody", "No pending task found for @nobody."},
		{"Mod", mod, "!approve @Viewer1", "Task for @viewer1 has been approved!"},
		{"Viewer1", nil, "!done", "@viewer1's task has been marked as complete!"},
		{"Viewer1", nil, "!undo", "@viewer1's task has been marked as incomplete!"},
		{"Viewer2", map[string]int{"subscriber": 2001}, "!task sing a song", "@viewer2, your task has been submitted for approval!"},
		{"Mod", mod, "!reject @viewer2", "Task for @viewer2 has been rejected."},
		{"Mod", mod, "!reject @viewer2", "No pending task found for @viewer2 to reject."},
		{"Viewer3", nil, "!task", "@viewer3, usage: !task <description>"},
	}
	for i, s := range steps {
		got := d.Handle(ctx, Message{Login: s.login, Badges: s.badges, Text: s.text})
		if got != s.want {
			t.Errorf("step %d %q: reply = %q, want %q", i, s.text, got, s.want)
		}
	}

	pages := fake.Pages(cols.Viewer)
	if len(pages) != 1 {
		t.Fatalf("live viewer pages = %d, want 1", len(pages))
	}
	p := pages[0]
	if p.Text(schema.FieldSuggestedBy) != "viewer1" || tasks.ApprovalOf(p) != tasks.Approved || p.Checkbox(schema.FieldCompleted) {
		t.Errorf("record = %+v", p.Properties)
	}
}

func TestProhibitedReplies(t *testing.T) {
	fake, d, cols := setup(t)
	ctx := context.Background()
	if got := d.Handle(ctx, Message{Login: "troll", Text: "!task go die"}); got != "@troll, that task contains prohibited content." {
		t.Errorf("reply = %q", got)
	}
	fake.AddPage(cols.Viewer, map[string]notion.PropertyValue{
		schema.FieldTask:        notion.TitleValue("kill yourself"),
		schema.FieldSuggestedBy: notion.TextValue("sneaky"),
		schema.FieldApproval:    notion.SelectOf("Pending"),
		schema.FieldCompleted:   notion.CheckboxValue(false),
	})
	if got := d.Handle(ctx, Message{Login: "mod", Badges: mod, Text: "!approve @sneaky"}); got != "Task for @sneaky contains prohibited content and was rejected." {
		t.Errorf("reply = %q", got)
	}
	if n := len(fake.Pages(cols.Viewer)); n != 0 {
		t.Errorf("live pages = %d, want 0", n)
	}
}

func TestStoreFailureReply(t *testing.T) {
	fake, d, _ := setup(t)
	fake.Fail("CreatePage", testutil.Unavailable())
	got := d.Handle(context.Background(), Message{Login: "v", Text: "!task anything"})
	if got != "@v, something went wrong. Try again later." {
		t.Errorf("reply = %q", got)
	}
}

func TestUnconfiguredChannel(t *testing.T) {
	d := &Dispatcher{Service: func(context.Context) (*tasks.Service, error) { return nil, errors.New("no config") }}
	if got := d.Handle(context.Background(), Message{Login: "v", Text: "!task x"}); got != "@v, the task board isn't set up yet." {
		t.Errorf("reply = %q", got)
	}
	if got := d.Handle(context.Background(), Message{Login: "v", Text: "just chatting"}); got != "" {
		t.Errorf("non-command reply = %q", got)
	}
}

func TestBotRequiresIdentity(t *testing.T) {
	b := &Bot{Token: func(context.Context) (string, error) { return "t", nil }}
	if err := b.Run(context.Background()); err == nil {
		t.Error("Run without channel succeeded")
	}
	b = &Bot{Channel: "c", Username: "u", Token: func(context.Context) (string, error) { return "", nil }}
	if err := b.Run(context.Background()); err == nil {
		t.Error("Run without token succeeded")
	}
}
