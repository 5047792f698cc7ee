package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	SubjectKey contextKey = "subject"
	ScopesKey  contextKey = "scopes"
)

// DevSubject is the principal attached to unauthenticated requests in
// development mode.
const DevSubject = "dev-user"

type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// Scopes splits the space-delimited scope claim.
func (c *Claims) Scopes() []string {
	return strings.Fields(c.Scope)
}

type JWTConfig struct {
	SigningKey []byte
	Issuer     string
	Audience   string
	// Skipper bypasses verification; defaults to Skipper.
	Skipper func(echo.Context) bool
}

// JWTMiddleware verifies HS256 bearer tokens and stores the subject and
// scopes on the request context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	skip := cfg.Skipper
	if skip == nil {
		skip = Skipper
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	keyFunc := func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skip(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			scheme, tokenStr, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tokenStr) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(strings.TrimSpace(tokenStr), claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			withPrincipal(c, claims.Subject, claims.Scopes())
			return next(c)
		}
	}
}

// DevAuthMiddleware admits every request as DevSubject with full scope.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			withPrincipal(c, DevSubject, []string{"system/*.*"})
			return next(c)
		}
	}
}

// Middleware picks the middleware for an auth mode: "jwt" verifies tokens,
// anything else admits everyone.
func Middleware(mode string, signingKey []byte) echo.MiddlewareFunc {
	if mode == "jwt" {
		return JWTMiddleware(JWTConfig{SigningKey: signingKey})
	}
	return DevAuthMiddleware()
}

func withPrincipal(c echo.Context, subject string, scopes []string) {
	ctx := c.Request().Context()
	ctx = context.WithValue(ctx, SubjectKey, subject)
	ctx = context.WithValue(ctx, ScopesKey, scopes)
	c.SetRequest(c.Request().WithContext(ctx))
}

func SubjectFromContext(ctx context.Context) string {
	sub, _ := ctx.Value(SubjectKey).(string)
	return sub
}

func ScopesFromContext(ctx context.Context) []string {
	scopes, _ := ctx.Value(ScopesKey).([]string)
	return scopes
}
