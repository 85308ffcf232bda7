package repository

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rashiddalii/moodlog-server/internal/model"
)

// MemoryStore is an in-process CredentialStore for local development and
// tests.  A single mutex serialises every operation, which gives the same
// per-document ordering the database drivers provide.
type MemoryStore struct {
	mu          sync.Mutex
	users       map[string]*model.User
	byUsername  map[string]string
	maxSessions int
}

func NewMemoryStore(maxSessions int) *MemoryStore {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &MemoryStore{
		users:       make(map[string]*model.User),
		byUsername:  make(map[string]string),
		maxSessions: maxSessions,
	}
}

func (s *MemoryStore) Create(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[u.Username]; ok {
		return ErrUsernameExists
	}
	id := ulid.Make().String()
	stored := cloneUser(u)
	stored.ID = id
	s.users[id] = stored
	s.byUsername[u.Username] = id
	u.ID = id
	return nil
}

func (s *MemoryStore) FindByUsername(_ context.Context, username string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byUsername[username]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneUser(u)
	out.PasswordHash = ""
	return out, nil
}

func (s *MemoryStore) UsernameTaken(_ context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.byUsername[username]
	return ok, nil
}

func (s *MemoryStore) UpdateDisplayName(_ context.Context, id, displayName string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	u.DisplayName = displayName
	out := cloneUser(u)
	out.PasswordHash = ""
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[id]; ok {
		delete(s.byUsername, u.Username)
		delete(s.users, id)
	}
	return nil
}

func (s *MemoryStore) PushRefresh(_ context.Context, userID string, entry model.RefreshTokenEntry, lastLogin *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.RefreshTokens = s.bound(append(u.RefreshTokens, entry))
	if lastLogin != nil {
		t := *lastLogin
		u.LastLogin = &t
	}
	return nil
}

func (s *MemoryStore) RotateRefresh(_ context.Context, oldHash string, next model.RefreshTokenEntry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, u := range s.users {
		if !u.HasRefreshToken(oldHash) {
			continue
		}
		u.RefreshTokens = s.bound(append(withoutToken(u.RefreshTokens, oldHash), next))
		return id, nil
	}
	return "", ErrNotFound
}

func (s *MemoryStore) PullRefresh(_ context.Context, userID, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[userID]; ok {
		u.RefreshTokens = withoutToken(u.RefreshTokens, tokenHash)
	}
	return nil
}

// bound keeps the newest maxSessions entries.
func (s *MemoryStore) bound(tokens []model.RefreshTokenEntry) []model.RefreshTokenEntry {
	if len(tokens) <= s.maxSessions {
		return tokens
	}
	return append([]model.RefreshTokenEntry(nil), tokens[len(tokens)-s.maxSessions:]...)
}

func withoutToken(tokens []model.RefreshTokenEntry, tokenHash string) []model.RefreshTokenEntry {
	out := make([]model.RefreshTokenEntry, 0, len(tokens))
	for _, rt := range tokens {
		if rt.TokenHash != tokenHash {
			out = append(out, rt)
		}
	}
	return out
}

func cloneUser(u *model.User) *model.User {
	c := *u
	c.RefreshTokens = append([]model.RefreshTokenEntry(nil), u.RefreshTokens...)
	if u.LastLogin != nil {
		t := *u.LastLogin
		c.LastLogin = &t
	}
	return &c
}
