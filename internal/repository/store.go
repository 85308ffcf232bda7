package repository

import (
	"context"
	"time"

	"github.com/rashiddalii/moodlog-server/internal/model"
)

// UserStore covers the account record itself.
type UserStore interface {
	// Create inserts u, assigns u.ID and returns ErrUsernameExists when the
	// username is taken.
	Create(ctx context.Context, u *model.User) error
	// FindByUsername returns the full record including the password digest.
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	// FindByID returns the record without the password digest.
	FindByID(ctx context.Context, id string) (*model.User, error)
	// UsernameTaken is the uniqueness predicate used by the anonymous
	// identity allocator.
	UsernameTaken(ctx context.Context, username string) (bool, error)
	// UpdateDisplayName sets the display name and returns the updated record.
	UpdateDisplayName(ctx context.Context, id, displayName string) (*model.User, error)
	// Delete removes the record; used only to roll back a failed registration.
	Delete(ctx context.Context, id string) error
}

// TokenStore covers the per-user refresh token set.  Each method is one
// atomic conditional update in the backing store: no driver reads the
// document, mutates it in memory and writes it back.
type TokenStore interface {
	// PushRefresh appends entry to the user's set, evicting the oldest
	// entries beyond the configured bound, and sets lastLogin when it is
	// non-nil.  ErrNotFound when the user does not exist.
	PushRefresh(ctx context.Context, userID string, entry model.RefreshTokenEntry, lastLogin *time.Time) error
	// RotateRefresh removes oldHash and appends next in a single update
	// filtered on oldHash.  It returns the id of the user that held oldHash,
	// or ErrNotFound when no user currently holds it.
	RotateRefresh(ctx context.Context, oldHash string, next model.RefreshTokenEntry) (string, error)
	// PullRefresh removes tokenHash from the user's set.  Removing an absent
	// entry is not an error.
	PullRefresh(ctx context.Context, userID, tokenHash string) error
}

// CredentialStore is what the session service needs from a driver.
type CredentialStore interface {
	UserStore
	TokenStore
}

// DefaultMaxSessions bounds a user's refresh token set when the driver is
// built with a non-positive limit.
const DefaultMaxSessions = 20
