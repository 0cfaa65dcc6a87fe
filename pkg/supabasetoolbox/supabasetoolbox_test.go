package supabasetoolbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestSignedURL_Success verifies we build the final URL from the signedURL response.
func TestSignedURL_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/storage/v1/object/sign/reports/owner-1/mtd-2026-Q1.xlsx" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer access-token" {
			t.Fatalf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		var body struct {
			ExpiresIn int `json:"expiresIn"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.ExpiresIn != 3600 {
			t.Fatalf("unexpected expiresIn: %d", body.ExpiresIn)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"signedURL": "/o/abc?token=xyz"})
	}))
	defer ts.Close()

	c := New(ts.URL, "anon-key", ts.Client())
	out, err := c.SignedURL(context.Background(), "access-token", "reports", "owner-1/mtd-2026-Q1.xlsx", 3600)
	if err != nil {
		t.Fatalf("SignedURL error: %v", err)
	}
	if want := ts.URL + "/storage/v1/o/abc?token=xyz"; out != want {
		t.Fatalf("unexpected url: got %q want %q", out, want)
	}
}

// TestSignedURL_Non200 ensures non-200 responses return an HTTPError.
func TestSignedURL_Non200(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	_, err := New(ts.URL, "anon", ts.Client()).SignedURL(context.Background(), "access", "b", "x", 60)
	var he *HTTPError
	if !errors.As(err, &he) || he.Status != http.StatusInternalServerError {
		t.Fatalf("expected HTTPError 500, got %v", err)
	}
}

func TestUpload(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/storage/v1/object/reports/a/b.xlsx" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("x-upsert") != "true" {
			t.Fatal("expected upsert header")
		}
		b, _ := io.ReadAll(r.Body)
		if string(b) != "data" {
			t.Fatalf("unexpected body %q", b)
		}
		_, _ = w.Write([]byte(`{"Key":"reports/a/b.xlsx"}`))
	}))
	defer ts.Close()

	if err := New(ts.URL, "k", ts.Client()).Upload(context.Background(), "at", "reports", "a/b.xlsx", "application/octet-stream", []byte("data")); err != nil {
		t.Fatalf("Upload: %v", err)
	}
}

// TestSignIn covers success and non-200 failure.
func TestSignIn(t *testing.T) {
	tsOK := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "grant_type=password" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		var p map[string]string
		_ = json.NewDecoder(r.Body).Decode(&p)
		if p["email"] != "a" || p["password"] != "b" {
			http.Error(w, "bad creds", http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "at",
			"refresh_token": "rt",
			"expires_in":    3600,
			"user":          map[string]string{"id": "uid-1"},
		})
	}))
	defer tsOK.Close()

	s, err := New(tsOK.URL, "key", tsOK.Client()).SignIn(context.Background(), "a", "b")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if s.AccessToken != "at" || s.RefreshToken != "rt" || s.User.ID != "uid-1" || s.ExpiresIn != 3600 {
		t.Fatalf("unexpected session: %+v", s)
	}

	if _, err := New(tsOK.URL, "key", tsOK.Client()).SignIn(context.Background(), "a", "wrong"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

// TestRefresh exercises missing token, success and non-200 cases.
func TestRefresh(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "grant_type=refresh_token" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		var p map[string]string
		_ = json.NewDecoder(r.Body).Decode(&p)
		if p["refresh_token"] != "old" {
			http.Error(w, "bad", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(Session{AccessToken: "new-at", RefreshToken: "new-rt"})
	}))
	defer ts.Close()
	c := New(ts.URL, "k", ts.Client())

	if _, err := c.Refresh(context.Background(), ""); err == nil {
		t.Fatal("expected error when refresh token missing")
	}
	s, err := c.Refresh(context.Background(), "old")
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if s.AccessToken != "new-at" || s.RefreshToken != "new-rt" {
		t.Fatalf("unexpected tokens: %+v", s)
	}
	if _, err := c.Refresh(context.Background(), "stale"); err == nil {
		t.Fatal("expected error for non-200 refresh response")
	}
}
