// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers token extraction, validation, expiry and the disabled mode

package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func serveWithAuth(t *testing.T, verifier TokenVerifier, header string) (*httptest.ResponseRecorder, *Identity) {
	t.Helper()
	var got *Identity
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	HTTPAuthMiddleware(verifier, nil)(handler).ServeHTTP(rec, req)
	return rec, got
}

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	verifier := newTestVerifier(t)
	token, _ := verifier.Generate("dashboard", time.Hour)

	rec, id := serveWithAuth(t, verifier, "Bearer "+token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if id == nil || id.Subject != "dashboard" {
		t.Fatalf("expected identity for dashboard, got %+v", id)
	}
}

func TestHTTPAuthMiddleware_Rejections(t *testing.T) {
	verifier := newTestVerifier(t)

	expired := func() string {
		v := newTestVerifier(t)
		v.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		token, _ := v.Generate("dashboard", time.Minute)
		return token
	}()

	tests := []struct {
		name    string
		header  string
		wantMsg string
	}{
		{"missing header", "", "missing authorization header"},
		{"basic auth", "Basic dXNlcjpwYXNz", "invalid authorization header format"},
		{"empty bearer", "Bearer ", "empty token"},
		{"garbage", "Bearer nonsense", "invalid token"},
		{"expired", "Bearer " + expired, "token expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, id := serveWithAuth(t, verifier, tt.header)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", rec.Code)
			}
			if id != nil {
				t.Error("handler should not have run")
			}
			if !strings.Contains(rec.Body.String(), tt.wantMsg) {
				t.Errorf("body %q does not mention %q", rec.Body.String(), tt.wantMsg)
			}
			if rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header")
			}
		})
	}
}

func TestHTTPAuthMiddleware_Disabled(t *testing.T) {
	rec, id := serveWithAuth(t, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 with auth disabled, got %d", rec.Code)
	}
	if id != nil {
		t.Errorf("expected no identity, got %+v", id)
	}
}
