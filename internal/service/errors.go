package service

import "fmt"

// Kind classifies an Error for transport mapping.
type Kind int

const (
	KindValidation Kind = iota + 1 // malformed or out-of-range input
	KindAuth                       // bad credentials or token
	KindConflict                   // duplicate username
	KindCapacity                   // identity allocation exhausted
	KindInternal                   // store, crypto or configuration failure
)

// Error is the only error type that leaves the session service.  Code is
// part of the public contract and must stay stable.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so wrapped copies still compare
// equal to the sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) wrap(err error) *Error {
	c := *e
	c.Err = err
	return &c
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// Validation.
var (
	ErrMissingFields         = newError(KindValidation, "MISSING_FIELDS", "Username and password are required")
	ErrMissingPassword       = newError(KindValidation, "MISSING_PASSWORD", "Password is required")
	ErrMissingCredentials    = newError(KindValidation, "MISSING_CREDENTIALS", "Username and password are required")
	ErrPasswordTooShort      = newError(KindValidation, "PASSWORD_TOO_SHORT", "Password must be at least 6 characters long")
	ErrPasswordTooLong       = newError(KindValidation, "PASSWORD_TOO_LONG", "Password must be at most 72 bytes long")
	ErrInvalidUsernameLength = newError(KindValidation, "INVALID_USERNAME_LENGTH", "Username must be between 3 and 20 characters")
	ErrDisplayNameTooLong    = newError(KindValidation, "DISPLAY_NAME_TOO_LONG", "Display name must be 30 characters or less")
	ErrMissingRefreshToken   = newError(KindValidation, "MISSING_REFRESH_TOKEN", "Refresh token is required")
)

// Authentication.
var (
	ErrInvalidCredentials  = newError(KindAuth, "INVALID_CREDENTIALS", "Invalid credentials")
	ErrInvalidRefreshToken = newError(KindAuth, "INVALID_REFRESH_TOKEN", "Invalid refresh token")
	ErrMissingToken        = newError(KindAuth, "MISSING_TOKEN", "Access token required")
	ErrInvalidToken        = newError(KindAuth, "INVALID_TOKEN", "Invalid token")
	ErrTokenExpired        = newError(KindAuth, "TOKEN_EXPIRED", "Token expired")
	ErrUserNotFound        = newError(KindAuth, "USER_NOT_FOUND", "User not found")
)

// Conflict and capacity.
var (
	ErrUsernameExists     = newError(KindConflict, "USERNAME_EXISTS", "Username already exists")
	ErrUsernameGeneration = newError(KindCapacity, "USERNAME_GENERATION_FAILED", "Unable to generate unique username")
)

// Infrastructure, one per operation.
var (
	ErrTokenGeneration       = newError(KindInternal, "TOKEN_GENERATION_ERROR", "Token generation failed")
	ErrRegistration          = newError(KindInternal, "REGISTRATION_ERROR", "Registration failed")
	ErrAnonymousRegistration = newError(KindInternal, "ANONYMOUS_REGISTRATION_ERROR", "Registration failed")
	ErrLogin                 = newError(KindInternal, "LOGIN_ERROR", "Login failed")
	ErrRefresh               = newError(KindInternal, "REFRESH_ERROR", "Token refresh failed")
	ErrProfileFetch          = newError(KindInternal, "PROFILE_FETCH_ERROR", "Failed to fetch profile")
	ErrProfileUpdate         = newError(KindInternal, "PROFILE_UPDATE_ERROR", "Failed to update profile")
	ErrLogout                = newError(KindInternal, "LOGOUT_ERROR", "Logout failed")
	ErrAuth                  = newError(KindInternal, "AUTH_ERROR", "Authentication error")
)
