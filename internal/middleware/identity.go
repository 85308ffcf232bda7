package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/rashiddalii/moodlog-server/internal/model"
)

// Echo context keys set by the access guard.
const (
	ctxUserID = "user_id"
	ctxUser   = "auth_user"
)

// CurrentUser returns the user bound by RequireAuth or OptionalAuth, or nil.
func CurrentUser(c echo.Context) *model.User {
	u, _ := c.Get(ctxUser).(*model.User)
	return u
}

// userID returns the authenticated user id, or "anon" for anonymous
// requests.  Rate limit keys use it.
func userID(c echo.Context) string {
	if s, ok := c.Get(ctxUserID).(string); ok && s != "" {
		return s
	}
	return "anon"
}

func bindUser(c echo.Context, u *model.User) {
	c.Set(ctxUser, u)
	c.Set(ctxUserID, u.ID)
}
