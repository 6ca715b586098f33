package oauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

type memStore struct {
	mu                     sync.Mutex
	access, refresh, scope string
	expiry                 time.Time
	writes                 int
}

func (m *memStore) GetOAuthToken(ctx context.Context, provider string) (string, string, time.Time, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.access, m.refresh, m.expiry, m.scope, nil
}

func (m *memStore) UpsertOAuthToken(ctx context.Context, provider, access, refresh string, expiry time.Time, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access, m.refresh, m.expiry, m.scope = access, refresh, expiry, scope
	m.writes++
	return nil
}

func TestRefreshIfDue(t *testing.T) {
	newExpiry := time.Now().Add(2 * time.Hour)
	tests := []struct {
		name        string
		store       *memStore
		refreshErr  error
		newRefresh  string
		wantCalled  bool
		wantAccess  string
		wantRefresh string
		wantScope   string
		wantErr     bool
	}{
		{
			name:       "outside window",
			store:      &memStore{access: "a", refresh: "r", expiry: time.Now().Add(time.Hour), scope: "s"},
			wantAccess: "a", wantRefresh: "r", wantScope: "s",
		},
		{
			name:       "no refresh token",
			store:      &memStore{access: "a", expiry: time.Now().Add(time.Minute)},
			wantAccess: "a",
		},
		{
			name:       "within window",
			store:      &memStore{access: "a", refresh: "r", expiry: time.Now().Add(5 * time.Minute), scope: "s"},
			newRefresh: "r2",
			wantCalled: true, wantAccess: "new", wantRefresh: "r2", wantScope: "s",
		},
		{
			name:       "keeps refresh token when provider omits it",
			store:      &memStore{access: "a", refresh: "r", expiry: time.Now().Add(-time.Minute)},
			wantCalled: true, wantAccess: "new", wantRefresh: "r",
		},
		{
			name:       "refresh error leaves row alone",
			store:      &memStore{access: "a", refresh: "r", expiry: time.Now().Add(time.Minute)},
			refreshErr: errors.New("boom"),
			wantCalled: true, wantAccess: "a", wantRefresh: "r", wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			r := &Refresher{Store: tt.store, Provider: "twitch", Window: 15 * time.Minute,
				Refresh: func(ctx context.Context, rt string) (*oauth2.Token, string, error) {
					called = true
					if rt != "r" {
						t.Errorf("refresh called with %q", rt)
					}
					if tt.refreshErr != nil {
						return nil, "", tt.refreshErr
					}
					return &oauth2.Token{AccessToken: "new", RefreshToken: tt.newRefresh, Expiry: newExpiry}, "", nil
				}}
			refreshed, err := r.RefreshIfDue(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if called != tt.wantCalled || refreshed != (tt.wantCalled && !tt.wantErr) {
				t.Errorf("called = %v refreshed = %v", called, refreshed)
			}
			s := tt.store
			if s.access != tt.wantAccess || s.refresh != tt.wantRefresh || s.scope != tt.wantScope {
				t.Errorf("store = %q %q %q", s.access, s.refresh, s.scope)
			}
		})
	}
}

func TestStartRefreshesAndStops(t *testing.T) {
	store := &memStore{access: "a", refresh: "r", expiry: time.Now()}
	done := make(chan struct{}, 1)
	r := &Refresher{Store: store, Provider: "twitch", Interval: 10 * time.Millisecond,
		Refresh: func(ctx context.Context, rt string) (*oauth2.Token, string, error) {
			select {
			case done <- struct{}{}:
			default:
			}
			return &oauth2.Token{AccessToken: "new", Expiry: time.Now().Add(time.Hour)}, "chat:read", nil
		}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("refresher never ran")
	}
	cancel()
	time.Sleep(30 * time.Millisecond)
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.writes != 1 || store.scope != "chat:read" {
		t.Errorf("writes = %d scope = %q", store.writes, store.scope)
	}
}
