package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/oklog/ulid/v2"

	"github.com/rashiddalii/moodlog-server/internal/model"
)

// MySQL error numbers the repositories translate.
const (
	mysqlErrDuplicateEntry = 1062
	mysqlErrNoReferenced   = 1452
)

// UserRepo is the MySQL implementation of UserStore over the `users` table.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// Create inserts the user with a fresh ULID primary key.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	id := ulid.Make().String()
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (id, username, password_hash, display_name, created_at, last_login) VALUES (?,?,?,?,?,?)",
		id, u.Username, u.PasswordHash, u.DisplayName, u.CreatedAt, nullTime(u.LastLogin))
	if err != nil {
		if isMySQLError(err, mysqlErrDuplicateEntry) {
			return ErrUsernameExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	u.ID = id
	return nil
}

// FindByUsername fetches a user including the password digest.
func (r *UserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	var (
		u         model.User
		lastLogin sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT id,username,password_hash,display_name,created_at,last_login FROM users WHERE username=? LIMIT 1",
		username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.DisplayName, &u.CreatedAt, &lastLogin)
	if err != nil {
		return nil, notFound(err, "select user by username")
	}
	u.LastLogin = timePtr(lastLogin)
	return &u, nil
}

// FindByID fetches a user by id without the password digest.
func (r *UserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return findByID(ctx, r.DB, id)
}

// UsernameTaken reports whether a row with the username exists.
func (r *UserRepo) UsernameTaken(ctx context.Context, username string) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, "SELECT 1 FROM users WHERE username=? LIMIT 1", username).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	return true, nil
}

// UpdateDisplayName sets display_name and returns the row as stored.
func (r *UserRepo) UpdateDisplayName(ctx context.Context, id, displayName string) (*model.User, error) {
	if _, err := r.DB.ExecContext(ctx, "UPDATE users SET display_name=? WHERE id=?", displayName, id); err != nil {
		return nil, fmt.Errorf("update display name: %w", err)
	}
	return findByID(ctx, r.DB, id)
}

// Delete removes the user; refresh_tokens rows go with it (ON DELETE CASCADE).
func (r *UserRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.DB.ExecContext(ctx, "DELETE FROM users WHERE id=?", id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func findByID(ctx context.Context, db *sql.DB, id string) (*model.User, error) {
	var (
		u         model.User
		lastLogin sql.NullTime
	)
	err := db.QueryRowContext(ctx,
		"SELECT id,username,display_name,created_at,last_login FROM users WHERE id=? LIMIT 1",
		id).Scan(&u.ID, &u.Username, &u.DisplayName, &u.CreatedAt, &lastLogin)
	if err != nil {
		return nil, notFound(err, "select user by id")
	}
	u.LastLogin = timePtr(lastLogin)
	return &u, nil
}

func notFound(err error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isMySQLError(err error, number uint16) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == number
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
