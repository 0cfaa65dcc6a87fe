package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, method jwt.SigningMethod, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signed token: %v", err)
	}
	return s
}

func TestAuthenticate_NoHeader(t *testing.T) {
	a := NewJWT("secret", "", "")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := a.Authenticate(req)
	if ok {
		t.Fatalf("expected not authenticated with no header")
	}
}

func TestAuthenticate_MalformedHeader(t *testing.T) {
	a := NewJWT("secret", "", "")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer") // malformed
	_, ok := a.Authenticate(req)
	if ok {
		t.Fatalf("expected not authenticated for malformed header")
	}
}

func TestAuthenticate_WrongSigningMethod(t *testing.T) {
	secret := "s3cr3t"
	// create HS384 token while code expects HS256
	token := signedToken(t, jwt.SigningMethodHS384, secret, jwt.MapClaims{"sub": "1"})
	a := NewJWT(secret, "", "")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	_, ok := a.Authenticate(req)
	if ok {
		t.Fatalf("expected not authenticated for wrong signing method")
	}
}

func TestAuthenticate_InvalidSignature(t *testing.T) {
	secret := "correct"
	bad := "wrong"
	token := signedToken(t, jwt.SigningMethodHS256, bad, jwt.MapClaims{"sub": "1"})
	a := NewJWT(secret, "", "")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	_, ok := a.Authenticate(req)
	if ok {
		t.Fatalf("expected not authenticated for invalid signature")
	}
}

func TestAuthenticate_ValidToken_IssuerAudience(t *testing.T) {
	secret := "topsecret"

	claims := jwt.MapClaims{
		"sub": "user-1",
		"iss": "test-iss",
		"aud": "test-aud",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token := signedToken(t, jwt.SigningMethodHS256, secret, claims)

	// pass expected issuer/audience into constructor
	a := NewJWT(secret, "test-iss", "test-aud")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	out, ok := a.Authenticate(req)
	if !ok {
		t.Fatalf("expected authenticated for valid token")
	}
	if out["sub"] != "user-1" {
		t.Fatalf("unexpected sub claim: %v", out["sub"])
	}
}

func TestAuthenticate_AudienceArray(t *testing.T) {
	secret := "secret-array"

	// aud as array (use []interface{} so type matches how jwt package decodes)
	claims := jwt.MapClaims{
		"sub": "user-2",
		"aud": []interface{}{"other", "aud-target"},
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token := signedToken(t, jwt.SigningMethodHS256, secret, claims)

	// specify expected audience only
	a := NewJWT(secret, "", "aud-target")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	_, ok := a.Authenticate(req)
	if !ok {
		t.Fatalf("expected authenticated when audience present in array")
	}
}

func TestAuthenticate_WrongAudience(t *testing.T) {
	secret := "secret"
	token := signedToken(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{
		"sub": "user-3",
		"aud": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	a := NewJWT(secret, "", "authenticated")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if _, ok := a.Authenticate(req); ok {
		t.Fatalf("expected not authenticated for wrong audience")
	}
}

func TestAuthenticate_Expired(t *testing.T) {
	secret := "secret"
	token := signedToken(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{
		"sub": "user-4",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	a := NewJWT(secret, "", "")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if _, ok := a.Authenticate(req); ok {
		t.Fatalf("expected not authenticated for expired token")
	}
}

func TestAuthenticate_MissingExpiry(t *testing.T) {
	secret := "secret"
	token := signedToken(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"sub": "user-5"})
	a := NewJWT(secret, "", "")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if _, ok := a.Authenticate(req); ok {
		t.Fatalf("expected not authenticated without exp claim")
	}
}
