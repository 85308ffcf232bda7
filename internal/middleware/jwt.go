package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"context"  // request context passed to the authenticator
	"net/http" // request headers
	"strings"  // bearer scheme parsing

	"github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers

	"github.com/rashiddalii/moodlog-server/internal/model"
)

// Authenticator resolves a raw access token to its user.  The session
// service implements it; verification errors are *service.Error values.
type Authenticator interface {
	Authenticate(ctx context.Context, rawToken string) (*model.User, error)
}

// RequireAuth returns an Echo middleware that rejects the request unless it
// carries a valid bearer access token for an existing user.  On success the
// user and its id are bound to the context (see CurrentUser).
func RequireAuth(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			u, err := auth.Authenticate(c.Request().Context(), bearerToken(c.Request()))
			if err != nil {
				return WriteError(c, err)
			}
			bindUser(c, u)
			return next(c)
		}
	}
}

// OptionalAuth binds the user when a valid token is present and otherwise
// lets the request through anonymously.  Any failure, including a store
// error, is treated as "no user".
func OptionalAuth(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := bearerToken(c.Request())
			if raw == "" {
				return next(c)
			}
			if u, err := auth.Authenticate(c.Request().Context(), raw); err == nil {
				bindUser(c, u)
			}
			return next(c)
		}
	}
}

// bearerToken extracts the token from "Authorization: Bearer <t>".  The
// scheme is matched case-insensitively; anything else yields "".
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get(echo.HeaderAuthorization))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
