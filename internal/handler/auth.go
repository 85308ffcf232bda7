package handler

import (
	"context"  // request context for service calls
	"net/http" // HTTP status codes
	"time"     // timestamps in the user projection

	"github.com/labstack/echo/v4" // Echo framework for HTTP routing

	"github.com/rashiddalii/moodlog-server/internal/middleware" // error rendering and the bound user
	"github.com/rashiddalii/moodlog-server/internal/model"
	"github.com/rashiddalii/moodlog-server/internal/service"
)

// SessionManager is the subset of the session service the auth endpoints use.
type SessionManager interface {
	Register(ctx context.Context, in service.RegisterInput) (*service.AuthResult, error)
	RegisterAnonymous(ctx context.Context, in service.AnonymousInput) (*service.AuthResult, error)
	Login(ctx context.Context, in service.LoginInput) (*service.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*service.TokenPair, error)
	Logout(ctx context.Context, userID, refreshToken string) error
	UpdateProfile(ctx context.Context, current *model.User, displayName string) (*model.User, error)
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Sessions SessionManager
}

func NewAuthHandler(s SessionManager) *AuthHandler {
	return &AuthHandler{Sessions: s}
}

// ----- DTOs -----

type registerReq struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}
type anonymousReq struct {
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}
type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
type refreshReq struct {
	RefreshToken string `json:"refreshToken"`
}
type profileReq struct {
	DisplayName string `json:"displayName"`
}

// userPart is the only outward shape of a user: no digest, no token set.
type userPart struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"displayName"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLogin   *time.Time `json:"lastLogin,omitempty"`
}
type authResp struct {
	Message      string   `json:"message"`
	User         userPart `json:"user"`
	Token        string   `json:"token"`
	RefreshToken string   `json:"refreshToken"`
}
type refreshResp struct {
	Message      string `json:"message"`
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}
type profileResp struct {
	Message string   `json:"message,omitempty"`
	User    userPart `json:"user"`
}

func toUserPart(u *model.User) userPart {
	return userPart{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		CreatedAt:   u.CreatedAt,
		LastLogin:   u.LastLogin,
	}
}

func toAuthResp(msg string, r *service.AuthResult) authResp {
	return authResp{
		Message:      msg,
		User:         toUserPart(r.User),
		Token:        r.Access.Token,
		RefreshToken: r.Refresh.Raw, // raw back to client, digest stays in the store
	}
}

// invalidBody answers a body that could not be decoded.
func invalidBody(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, middleware.ErrorBody{Message: "Validation Error", Code: "VALIDATION_ERROR"})
}

// Register: create a named user and return tokens immediately.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}
	res, err := h.Sessions.Register(c.Request().Context(), service.RegisterInput{
		Username:    req.Username,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		return middleware.WriteError(c, err)
	}
	return c.JSON(http.StatusCreated, toAuthResp("User registered successfully", res))
}

// RegisterAnonymous: create a user under a generated username.
func (h *AuthHandler) RegisterAnonymous(c echo.Context) error {
	var req anonymousReq
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}
	res, err := h.Sessions.RegisterAnonymous(c.Request().Context(), service.AnonymousInput{
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		return middleware.WriteError(c, err)
	}
	return c.JSON(http.StatusCreated, toAuthResp("Anonymous account created successfully", res))
}

// Login: verify and return a new pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}
	res, err := h.Sessions.Login(c.Request().Context(), service.LoginInput{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		return middleware.WriteError(c, err)
	}
	return c.JSON(http.StatusOK, toAuthResp("Login successful", res))
}

// Refresh: rotate the refresh token and return a new pair.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}
	pair, err := h.Sessions.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	return c.JSON(http.StatusOK, refreshResp{
		Message:      "Token refreshed successfully",
		Token:        pair.Access.Token,
		RefreshToken: pair.Refresh.Raw,
	})
}

// Profile returns the user bound by the access guard.
func (h *AuthHandler) Profile(c echo.Context) error {
	u := middleware.CurrentUser(c)
	if u == nil {
		return middleware.WriteError(c, service.ErrUserNotFound)
	}
	return c.JSON(http.StatusOK, profileResp{User: toUserPart(u)})
}

// UpdateProfile changes the display name; a blank name is a no-op.
func (h *AuthHandler) UpdateProfile(c echo.Context) error {
	u := middleware.CurrentUser(c)
	if u == nil {
		return middleware.WriteError(c, service.ErrUserNotFound)
	}
	var req profileReq
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}
	updated, err := h.Sessions.UpdateProfile(c.Request().Context(), u, req.DisplayName)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	return c.JSON(http.StatusOK, profileResp{Message: "Profile updated successfully", User: toUserPart(updated)})
}

// Logout drops the presented refresh token from the caller's set.  The body
// is optional.
func (h *AuthHandler) Logout(c echo.Context) error {
	u := middleware.CurrentUser(c)
	if u == nil {
		return middleware.WriteError(c, service.ErrUserNotFound)
	}
	var req refreshReq
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}
	if err := h.Sessions.Logout(c.Request().Context(), u.ID, req.RefreshToken); err != nil {
		return middleware.WriteError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Logout successful"})
}
