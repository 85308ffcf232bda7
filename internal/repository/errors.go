// Package repository defines the credential store used by the session
// service and its drivers (MySQL, MongoDB and an in-process map).  Every
// driver reports failures through the sentinel values below so that higher
// layers never see a driver-specific error type.
package repository

import "errors"

// ErrNotFound is returned when no user matches the lookup or the
// conditional update filter.  For refresh rotation this is the signal that
// the presented token is not (or no longer) held by anyone.
var ErrNotFound = errors.New("not found")

// ErrUsernameExists is returned when an insert violates the unique index on
// username.  Callers treat it exactly like a failed pre-check.
var ErrUsernameExists = errors.New("username already exists")
