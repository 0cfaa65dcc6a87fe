package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type stubAuth struct {
	claims map[string]interface{}
	seen   string
}

func (s *stubAuth) Authenticate(r *http.Request) (map[string]interface{}, bool) {
	s.seen = r.Header.Get("Authorization")
	if s.claims == nil {
		return nil, false
	}
	return s.claims, true
}

func echoUser(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(UserID(r.Context())))
}

func TestRequireAuth_Unauthorized(t *testing.T) {
	h := RequireAuth(&stubAuth{})(http.HandlerFunc(echoUser))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json body, got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), `"error":"unauthorized"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestRequireAuth_CookieFallback(t *testing.T) {
	a := &stubAuth{claims: map[string]interface{}{"sub": "user-1"}}
	h := RequireAuth(a)(http.HandlerFunc(echoUser))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: "tok"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "user-1" {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
	if a.seen != "Bearer tok" {
		t.Fatalf("cookie not promoted to header: %q", a.seen)
	}
}

func TestRequireAuth_UserIDClaim(t *testing.T) {
	h := RequireAuth(&stubAuth{claims: map[string]interface{}{"user_id": "u2"}})(http.HandlerFunc(echoUser))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Body.String() != "u2" {
		t.Fatalf("expected u2, got %q", rec.Body.String())
	}

	h = RequireAuth(&stubAuth{claims: map[string]interface{}{"role": "authenticated"}})(http.HandlerFunc(echoUser))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("token without subject should be rejected, got %d", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	cases := []struct {
		name   string
		claims map[string]interface{}
		want   int
	}{
		{"service role", map[string]interface{}{"sub": "svc", "role": "service_role"}, http.StatusOK},
		{"user role", map[string]interface{}{"sub": "u1", "role": "authenticated"}, http.StatusForbidden},
		{"no role", map[string]interface{}{"sub": "u1"}, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := RequireAuth(&stubAuth{claims: tc.claims})(RequireRole("service_role")(http.HandlerFunc(echoUser)))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/admin/x", nil))
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestAccessToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc")
	if got := AccessToken(req); got != "abc" {
		t.Fatalf("header token: %q", got)
	}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: "xyz"})
	if got := AccessToken(req); got != "xyz" {
		t.Fatalf("cookie token: %q", got)
	}
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one log line, got %d", len(entries))
	}
	e := entries[0]
	if e.Level != zap.WarnLevel {
		t.Fatalf("4xx should log at warn, got %s", e.Level)
	}
	fields := e.ContextMap()
	if fields["status"] != int64(http.StatusTeapot) || fields["path"] != "/health" {
		t.Fatalf("unexpected fields %v", fields)
	}
}
