package model

import "time"

// User represents an account record as held by the credential store.  The
// same struct is used by every store driver; drivers translate it to their
// own row or document shape.
//
// Fields:
//
//	ID            – opaque identifier assigned by the store on creation.
//	Username      – unique login name, immutable after creation.
//	PasswordHash  – bcrypt digest.  Empty when loaded through FindByID.
//	DisplayName   – user-editable name shown to others.
//	CreatedAt     – timestamp of creation.
//	LastLogin     – time of the last successful login (nil until the first).
//	RefreshTokens – currently valid refresh token digests, oldest first.
type User struct {
	ID            string
	Username      string
	PasswordHash  string
	DisplayName   string
	CreatedAt     time.Time
	LastLogin     *time.Time
	RefreshTokens []RefreshTokenEntry
}

// RefreshTokenEntry is one element of a user's refresh token set.  Only the
// SHA-256 digest of the bearer token is stored; the raw value is returned to
// the client once and never persisted.
type RefreshTokenEntry struct {
	TokenHash string
	CreatedAt time.Time
}

// HasRefreshToken reports whether the digest is in the user's set.
func (u *User) HasRefreshToken(tokenHash string) bool {
	for _, rt := range u.RefreshTokens {
		if rt.TokenHash == tokenHash {
			return true
		}
	}
	return false
}

// Public returns a copy without the password digest and token set, the shape
// that may leave the service.
func (u *User) Public() *User {
	c := *u
	c.PasswordHash = ""
	c.RefreshTokens = nil
	if u.LastLogin != nil {
		t := *u.LastLogin
		c.LastLogin = &t
	}
	return &c
}
