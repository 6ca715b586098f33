package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/oauth2"

	"github.com/onnwee/task-overlay/testutil"
)

func tokenServer(t *testing.T, calls *int32, check func(url.Values)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if check != nil {
			check(r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-123",
			"refresh_token": "refresh-456",
			"expires_in":    3600,
			"token_type":    "bearer",
			"scope":         []string{"chat:read", "chat:edit"},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAppTokenSourceCaches(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls, func(v url.Values) {
		if v.Get("grant_type") != "client_credentials" || v.Get("client_id") != "cid" {
			t.Errorf("form = %v", v)
		}
	})
	ts := AppTokenSource(context.Background(), "cid", "secret", srv.URL, srv.Client())
	for i := 0; i < 3; i++ {
		tok, err := ts.Token()
		if err != nil || tok.AccessToken != "access-123" {
			t.Fatalf("Token() = %v, %v", tok, err)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("token endpoint hit %d times, want 1", n)
	}
}

func TestAuthorizeURL(t *testing.T) {
	b := BotOAuth{ClientID: "cid", RedirectURI: "http://localhost/cb", Scopes: "chat:read,chat:edit"}
	u, err := b.AuthorizeURL("state-1")
	if err != nil {
		t.Fatal(err)
	}
	for _, part := range []string{"client_id=cid", "state=state-1", "scope=chat%3Aread+chat%3Aedit", "response_type=code"} {
		if !strings.Contains(u, part) {
			t.Errorf("url %q missing %q", u, part)
		}
	}
	if !strings.HasPrefix(u, DefaultAuthURL) {
		t.Errorf("url %q not on twitch", u)
	}
	if _, err := (BotOAuth{RedirectURI: "x"}).AuthorizeURL("s"); err == nil {
		t.Error("missing client id accepted")
	}
}

func TestExchangeAndRefresh(t *testing.T) {
	var calls int32
	var grants []string
	srv := tokenServer(t, &calls, func(v url.Values) { grants = append(grants, v.Get("grant_type")) })
	b := BotOAuth{ClientID: "cid", ClientSecret: "sec", RedirectURI: "http://localhost/cb", TokenURL: srv.URL}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, srv.Client())

	tok, err := b.Exchange(ctx, "code-1")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if tok.AccessToken != "access-123" || tok.RefreshToken != "refresh-456" || Scope(tok) != "chat:read chat:edit" {
		t.Errorf("token = %+v scope %q", tok, Scope(tok))
	}
	if _, err := b.Refresh(ctx, "refresh-456"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if diff := cmp.Diff([]string{"authorization_code", "refresh_token"}, grants); diff != "" {
		t.Errorf("grants (-want +got):\n%s", diff)
	}
	if _, err := b.Refresh(ctx, ""); err == nil {
		t.Error("empty refresh token accepted")
	}
	if _, err := b.Exchange(ctx, ""); err == nil {
		t.Error("empty code accepted")
	}
}

func TestGetUserID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users" || r.Header.Get("Client-Id") != "cid" || r.Header.Get("Authorization") != "Bearer app" {
			t.Errorf("unexpected request %s %v", r.URL.Path, r.Header)
		}
		var data []User
		if r.URL.Query().Get("login") == "streamer" {
			data = append(data, User{ID: "42", Login: "streamer", DisplayName: "Streamer"})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer srv.Close()

	hc := &HelixClient{BaseURL: srv.URL, ClientID: "cid", Tokens: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "app"})}
	id, err := hc.GetUserID(context.Background(), "@Streamer")
	if err != nil || id != "42" {
		t.Errorf("GetUserID = %q, %v", id, err)
	}
	if _, err := hc.GetUserID(context.Background(), "nobody"); err == nil {
		t.Error("unknown login resolved")
	}
	if _, err := hc.GetUserID(context.Background(), ""); err == nil {
		t.Error("empty login resolved")
	}
}

func TestHelixWithAppToken(t *testing.T) {
	twitch := testutil.NewMockTwitchServer(t)
	twitch.MockOAuthTokenResponse("app-token", "", 3600)
	twitch.MockUserResponse("777", "streamer")

	ctx := context.Background()
	hc := &HelixClient{
		BaseURL:  twitch.URL + "/helix",
		ClientID: "cid",
		Tokens:   AppTokenSource(ctx, "cid", "secret", twitch.URL+"/oauth2/token", nil),
	}
	id, err := hc.GetUserID(ctx, "streamer")
	if err != nil || id != "777" {
		t.Errorf("GetUserID = %q, %v", id, err)
	}
}
