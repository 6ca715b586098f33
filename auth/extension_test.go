package auth

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/go-cmp/cmp"

	"github.com/onnwee/task-overlay/tasks"
)

var testSecret = base64.StdEncoding.EncodeToString([]byte("extension-secret-for-tests"))

func mustVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestVerifyRoundTrip(t *testing.T) {
	v := mustVerifier(t)
	tok, err := v.Sign(ExtensionClaims{OpaqueUserID: "U123", UserID: "123", ChannelID: "999", Role: "moderator"}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	p, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	want := tasks.Principal{ChannelID: "999", UserID: "123", OpaqueID: "U123", Role: tasks.RoleModerator}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Errorf("principal (-want +got):\n%s", diff)
	}
}

func TestVerifyRejects(t *testing.T) {
	v := mustVerifier(t)
	other, _ := NewVerifier(base64.StdEncoding.EncodeToString([]byte("another-secret")))
	foreign, _ := other.Sign(ExtensionClaims{OpaqueUserID: "U1", ChannelID: "1", Role: "viewer"}, time.Minute)
	expired, _ := v.Sign(ExtensionClaims{OpaqueUserID: "U1", ChannelID: "1", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}}, 0)
	noChannel, _ := v.Sign(ExtensionClaims{OpaqueUserID: "U1", Role: "viewer"}, time.Minute)
	none := jwt.NewWithClaims(jwt.SigningMethodNone, ExtensionClaims{OpaqueUserID: "U1", ChannelID: "1"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, tok := range map[string]string{
		"wrong secret": foreign,
		"expired":      expired,
		"no channel":   noChannel,
		"alg none":     unsigned,
		"garbage":      "not.a.jwt",
	} {
		if _, err := v.Verify(tok); err == nil {
			t.Errorf("%s: token accepted", name)
		}
	}
}

func TestNewVerifierErrors(t *testing.T) {
	if _, err := NewVerifier(""); err == nil {
		t.Error("empty secret accepted")
	}
	if _, err := NewVerifier("%%%"); err == nil {
		t.Error("non-base64 secret accepted")
	}
}

func TestMiddleware(t *testing.T) {
	v := mustVerifier(t)
	var got tasks.Principal
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d", rec.Code)
	}

	tok, _ := v.Sign(ExtensionClaims{OpaqueUserID: "U7", ChannelID: "42", Role: "broadcaster"}, time.Minute)
	req = httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("valid token status = %d", rec.Code)
	}
	if got.ChannelID != "42" || got.Role != tasks.RoleBroadcaster {
		t.Errorf("principal = %+v", got)
	}
}
