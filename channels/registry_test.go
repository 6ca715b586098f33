package channels

import (
	"context"
	"errors"
	"testing"

	"github.com/onnwee/task-overlay/db"
	"github.com/onnwee/task-overlay/notion"
	"github.com/onnwee/task-overlay/testutil"
)

// opener hands out one fake per key and remembers which keys were opened.
type opener struct {
	fakes  map[string]*testutil.FakeNotion
	opened []string
}

func newOpener() *opener { return &opener{fakes: map[string]*testutil.FakeNotion{}} }

func (o *opener) open(key string) Store {
	o.opened = append(o.opened, key)
	f, ok := o.fakes[key]
	if !ok {
		f = testutil.NewFakeNotion()
		o.fakes[key] = f
	}
	return f
}

func TestResolveStoredChannel(t *testing.T) {
	src := NewMemorySource(db.ChannelConfig{ChannelID: "42", NotionKey: "key42", StreamerDatabaseID: "s", ViewerDatabaseID: "v", SetupComplete: true})
	o := newOpener()
	r := NewWithOpener(src, o.open, Defaults{NotionAPIKey: "default"}, nil)

	ch, err := r.Resolve(context.Background(), "42")
	if err != nil {
		t.Fatal(err)
	}
	if ch.FromDefaults || ch.Collections.Streamer != "s" || ch.Collections.Viewer != "v" {
		t.Errorf("channel = %+v", ch)
	}
	if len(o.opened) != 1 || o.opened[0] != "key42" {
		t.Errorf("opened = %v", o.opened)
	}
}

func TestResolveFallsBackToDefaults(t *testing.T) {
	o := newOpener()
	r := NewWithOpener(NewMemorySource(), o.open, Defaults{NotionAPIKey: "default", StreamerDatabaseID: "ds", ViewerDatabaseID: "dv"}, nil)
	ch, err := r.Resolve(context.Background(), "99")
	if err != nil {
		t.Fatal(err)
	}
	if !ch.FromDefaults || !ch.Config.SetupComplete || ch.Collections.Viewer != "dv" {
		t.Errorf("channel = %+v", ch)
	}

	// A stored row without a key borrows the default key.
	_ = r.Save(context.Background(), db.ChannelConfig{ChannelID: "7", StreamerDatabaseID: "s7", ViewerDatabaseID: "v7"})
	ch, err = r.Resolve(context.Background(), "7")
	if err != nil || ch.Collections.Streamer != "s7" || o.opened[len(o.opened)-1] != "default" {
		t.Errorf("channel = %+v, err = %v, opened %v", ch, err, o.opened)
	}
}

func TestResolveNotConfigured(t *testing.T) {
	r := NewWithOpener(nil, newOpener().open, Defaults{}, nil)
	if _, err := r.Resolve(context.Background(), "1"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
	if err := r.Save(context.Background(), db.ChannelConfig{ChannelID: "1"}); err == nil {
		t.Error("Save without source succeeded")
	}
}

type failingSource struct{ MemorySource }

func (*failingSource) Get(context.Context, string) (db.ChannelConfig, error) {
	return db.ChannelConfig{}, errors.New("db down")
}

func TestResolveSourceError(t *testing.T) {
	r := NewWithOpener(&failingSource{}, newOpener().open, Defaults{NotionAPIKey: "k"}, nil)
	if _, err := r.Resolve(context.Background(), "1"); err == nil || errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want load failure", err)
	}
}

func TestTargets(t *testing.T) {
	src := NewMemorySource(
		db.ChannelConfig{ChannelID: "a", NotionKey: "ka", StreamerDatabaseID: "sa", ViewerDatabaseID: "va"},
		db.ChannelConfig{ChannelID: "b", NotionKey: "kb", StreamerDatabaseID: "sb"},
		db.ChannelConfig{ChannelID: "c", StreamerDatabaseID: "sc", ViewerDatabaseID: "vc"},
	)
	r := NewWithOpener(src, newOpener().open, Defaults{NotionAPIKey: "kd", StreamerDatabaseID: "sd", ViewerDatabaseID: "vd"}, nil)
	targets, err := r.Targets(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, tg := range targets {
		got = append(got, tg.ChannelID+":"+tg.Collections.Viewer)
	}
	want := []string{"a:va", "c:vc", ":vd"}
	if len(got) != len(want) {
		t.Fatalf("targets = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("targets = %v, want %v", got, want)
		}
	}
}

func TestServicesShareFilter(t *testing.T) {
	o := newOpener()
	r := NewWithOpener(nil, o.open, Defaults{NotionAPIKey: "k", StreamerDatabaseID: "s", ViewerDatabaseID: "v"}, nil)
	ch, err := r.Resolve(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if r.Tasks(ch) == nil || r.Overlay(ch) == nil || r.Filter() == nil {
		t.Fatal("nil service")
	}
	// Unknown databases degrade to an empty overlay.
	view, err := r.Overlay(ch).Build(context.Background(), ch.Collections)
	if err != nil || len(view.StreamerTasks)+len(view.ViewerTasks) != 0 {
		t.Errorf("Build = %+v, %v", view, err)
	}
}

func TestPoolOpenerReusesClients(t *testing.T) {
	pool := notion.NewPool(notion.Options{})
	r := New(nil, pool, Defaults{NotionAPIKey: "k"}, nil)
	a, _ := r.Resolve(context.Background(), "1")
	b, _ := r.Resolve(context.Background(), "2")
	if a.Store != b.Store {
		t.Error("same key produced two clients")
	}
}

func TestDBSourceRoundTrip(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	src := DBSource{DB: database}
	row := db.ChannelConfig{
		ChannelID:          "db-roundtrip",
		NotionKey:          "secret_roundtrip",
		ParentPageID:       "p1",
		StreamerDatabaseID: "s1",
		ViewerDatabaseID:   "v1",
		SetupComplete:      true,
	}
	if err := src.Save(ctx, row); err != nil {
		t.Fatalf("Save: %v", err)
	}
	reg := NewWithOpener(src, newOpener().open, Defaults{}, nil)
	ch, err := reg.Resolve(ctx, "db-roundtrip")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ch.Config.NotionKey != "secret_roundtrip" || ch.Collections.Viewer != "v1" || ch.FromDefaults {
		t.Errorf("resolved = %+v", ch.Config)
	}
	targets, err := reg.Targets(ctx)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, tg := range targets {
		found = found || tg.ChannelID == "db-roundtrip"
	}
	if !found {
		t.Error("stored channel missing from sync targets")
	}
}
