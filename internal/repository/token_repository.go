package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rashiddalii/moodlog-server/internal/database"
	"github.com/rashiddalii/moodlog-server/internal/model"
)

// TokenRepo is the MySQL implementation of TokenStore.  A user's refresh
// token set is the rows of `refresh_tokens` with that user_id, ordered by
// created_at; token_hash is the primary key.
type TokenRepo struct {
	DB          *sql.DB
	MaxSessions int
}

func NewTokenRepo(db *sql.DB, maxSessions int) *TokenRepo {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &TokenRepo{DB: db, MaxSessions: maxSessions}
}

// PushRefresh inserts the entry, optionally stamps last_login and trims the
// set to MaxSessions, all in one transaction.
func (r *TokenRepo) PushRefresh(ctx context.Context, userID string, entry model.RefreshTokenEntry, lastLogin *time.Time) error {
	return database.WithTx(ctx, r.DB, func(ctx context.Context, tx database.DBTX) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO refresh_tokens (token_hash, user_id, created_at) VALUES (?,?,?)",
			entry.TokenHash, userID, entry.CreatedAt)
		if err != nil {
			if isMySQLError(err, mysqlErrNoReferenced) {
				return ErrNotFound
			}
			return fmt.Errorf("insert refresh token: %w", err)
		}
		if lastLogin != nil {
			if _, err := tx.ExecContext(ctx, "UPDATE users SET last_login=? WHERE id=?", *lastLogin, userID); err != nil {
				return fmt.Errorf("update last login: %w", err)
			}
		}
		// The derived table works around MySQL's LIMIT-in-subquery restriction.
		_, err = tx.ExecContext(ctx,
			`DELETE FROM refresh_tokens WHERE user_id=? AND token_hash NOT IN (
				SELECT token_hash FROM (
					SELECT token_hash FROM refresh_tokens WHERE user_id=? ORDER BY created_at DESC LIMIT ?
				) AS keep_tokens
			)`,
			userID, userID, r.MaxSessions)
		if err != nil {
			return fmt.Errorf("trim refresh tokens: %w", err)
		}
		return nil
	})
}

// RotateRefresh swaps oldHash for next with a single conditional UPDATE.
// InnoDB row locking serialises concurrent rotations of the same token; the
// loser sees zero affected rows.
func (r *TokenRepo) RotateRefresh(ctx context.Context, oldHash string, next model.RefreshTokenEntry) (string, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET token_hash=?, created_at=? WHERE token_hash=?",
		next.TokenHash, next.CreatedAt, oldHash)
	if err != nil {
		return "", fmt.Errorf("rotate refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("rotate refresh token: %w", err)
	}
	if n == 0 {
		return "", ErrNotFound
	}

	// next.TokenHash was minted by this request, so nobody else can have
	// touched the row since the update.
	var userID string
	err = r.DB.QueryRowContext(ctx,
		"SELECT user_id FROM refresh_tokens WHERE token_hash=? LIMIT 1", next.TokenHash).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load rotated token owner: %w", err)
	}
	return userID, nil
}

// PullRefresh deletes one token of the user.  Deleting nothing is fine.
func (r *TokenRepo) PullRefresh(ctx context.Context, userID, tokenHash string) error {
	_, err := r.DB.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE user_id=? AND token_hash=?", userID, tokenHash)
	if err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

// MySQLStore joins the two MySQL repositories into a CredentialStore.
type MySQLStore struct {
	*UserRepo
	*TokenRepo
}

func NewMySQLStore(db *sql.DB, maxSessions int) *MySQLStore {
	return &MySQLStore{UserRepo: NewUserRepo(db), TokenRepo: NewTokenRepo(db, maxSessions)}
}
