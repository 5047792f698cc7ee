package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func runJWT(t *testing.T, path, header string) (echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath(path)

	var seen echo.Context
	handler := func(c echo.Context) error {
		seen = c
		return c.String(http.StatusOK, "ok")
	}
	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(handler)(c)
	return seen, err
}

func assertUnauthorized(t *testing.T, err error) {
	t.Helper()
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err := runJWT(t, "/fhir/Patient", "")
	assertUnauthorized(t, err)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runJWT(t, "/fhir/Patient", tt.header)
			assertUnauthorized(t, err)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	token := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "client-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Scope: "system/Patient.read system/Observation.write",
	}, testSigningKey)

	c, err := runJWT(t, "/fhir/Patient", "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := c.Request().Context()
	if got := SubjectFromContext(ctx); got != "client-1" {
		t.Errorf("subject = %q", got)
	}
	if got := ScopesFromContext(ctx); len(got) != 2 || got[1] != "system/Observation.write" {
		t.Errorf("scopes = %v", got)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	token := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "client-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}, testSigningKey)

	_, err := runJWT(t, "/fhir/Patient", "Bearer "+token)
	assertUnauthorized(t, err)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	token := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "client-1"},
	}, []byte("some-other-key"))

	_, err := runJWT(t, "/fhir/Patient", "Bearer "+token)
	assertUnauthorized(t, err)
}

func TestJWTMiddleware_SkipsPublicPaths(t *testing.T) {
	for _, path := range []string{"/health", "/health/db", "/metrics", "/fhir", "/fhir/metadata"} {
		t.Run(path, func(t *testing.T) {
			if _, err := runJWT(t, path, ""); err != nil {
				t.Errorf("expected %s to bypass auth, got %v", path, err)
			}
		})
	}
}

func TestIsPublicPath_Protected(t *testing.T) {
	for _, path := range []string{"/fhir/Patient", "/fhir/Patient/:id", "/fhir/:type", "/"} {
		if IsPublicPath(path) {
			t.Errorf("expected %s to be protected", path)
		}
	}
}

func TestDevAuthMiddleware(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/fhir/Patient", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var ctx context.Context
	handler := func(c echo.Context) error {
		ctx = c.Request().Context()
		return c.String(http.StatusOK, "ok")
	}

	if err := DevAuthMiddleware()(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if SubjectFromContext(ctx) != DevSubject {
		t.Errorf("subject = %q", SubjectFromContext(ctx))
	}
	if len(ScopesFromContext(ctx)) != 1 {
		t.Errorf("scopes = %v", ScopesFromContext(ctx))
	}
}

func TestMiddleware_ModeSelection(t *testing.T) {
	e := echo.New()
	handler := func(c echo.Context) error { return c.NoContent(http.StatusOK) }

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/fhir/Patient", nil), httptest.NewRecorder())
	if err := Middleware("development", nil)(handler)(c); err != nil {
		t.Errorf("development mode should admit, got %v", err)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/fhir/Patient", nil), httptest.NewRecorder())
	c.SetPath("/fhir/:type")
	assertUnauthorized(t, Middleware("jwt", testSigningKey)(handler)(c))
}
