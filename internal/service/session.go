package service // package service holds the session manager that sits between the HTTP handlers and the credential store

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rashiddalii/moodlog-server/internal/model"
	"github.com/rashiddalii/moodlog-server/internal/queue"
	"github.com/rashiddalii/moodlog-server/internal/repository"
	"github.com/rashiddalii/moodlog-server/internal/utils"
)

// Field limits.  Lengths are counted in characters after trimming.
const (
	MinUsernameLen    = 3
	MaxUsernameLen    = 20
	MinPasswordLen    = 6
	MaxPasswordBytes  = 72 // bcrypt rejects longer input
	MaxDisplayNameLen = 30
)

// opTimeout bounds every store round trip made on behalf of one request.
const opTimeout = 5 * time.Second

// Hasher hashes and verifies passwords.  utils.BcryptHasher satisfies it.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(hash, plain string) bool
}

// EventPublisher receives account lifecycle events.  Publishing is best
// effort: a failure is logged and never reaches the caller.
type EventPublisher interface {
	PublishAccountCreated(ctx context.Context, ev queue.AccountCreatedEvent) error
}

// AuthResult is what a successful register or login hands back.
type AuthResult struct {
	User    *model.User
	Access  utils.AccessToken
	Refresh utils.RefreshToken
}

// TokenPair is what a successful refresh hands back.
type TokenPair struct {
	Access  utils.AccessToken
	Refresh utils.RefreshToken
}

// RegisterInput carries a named registration.  An empty DisplayName means
// "use the username".
type RegisterInput struct {
	Username    string
	Password    string
	DisplayName string
}

// AnonymousInput carries an anonymous registration.
type AnonymousInput struct {
	Password    string
	DisplayName string
}

// LoginInput carries username/password credentials.
type LoginInput struct {
	Username string
	Password string
}

// SessionService implements registration, login, refresh-token rotation,
// logout and the profile operations.  It keeps no per-request state; the
// store's conditional updates are the only concurrency control.
type SessionService struct {
	store    repository.CredentialStore
	tokens   *utils.TokenIssuer
	hasher   Hasher
	names    *utils.UsernameGenerator
	events   EventPublisher
	log      *slog.Logger
	now      func() time.Time
	attempts int

	// dummyHash is compared against when the username is unknown so both
	// login failure paths run one bcrypt comparison.
	dummyHash string
}

// Option customises a SessionService.
type Option func(*SessionService)

// WithEvents enables account.created publishing.
func WithEvents(p EventPublisher) Option {
	return func(s *SessionService) { s.events = p }
}

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *SessionService) { s.log = l }
}

// WithUsernameGenerator replaces the anonymous username generator.
func WithUsernameGenerator(g *utils.UsernameGenerator) Option {
	return func(s *SessionService) { s.names = g }
}

// WithUsernameAttempts sets the anonymous allocation budget.
func WithUsernameAttempts(n int) Option {
	return func(s *SessionService) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// WithClock overrides the time source used for stored timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SessionService) { s.now = now }
}

func NewSessionService(store repository.CredentialStore, tokens *utils.TokenIssuer, hasher Hasher, opts ...Option) *SessionService {
	s := &SessionService{
		store:    store,
		tokens:   tokens,
		hasher:   hasher,
		names:    utils.NewUsernameGenerator(),
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		attempts: utils.DefaultUsernameAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	if h, err := hasher.Hash("moodlog-login-timing"); err == nil {
		s.dummyHash = h
	} else {
		s.log.Warn("could not prepare login timing digest", "err", err)
	}
	return s
}

// Register creates a named account and opens its first session.
func (s *SessionService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" || in.Password == "" {
		return nil, ErrMissingFields
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	if n := utf8.RuneCountInString(username); n < MinUsernameLen || n > MaxUsernameLen {
		return nil, ErrInvalidUsernameLength
	}
	displayName, err := normalizeDisplayName(in.DisplayName)
	if err != nil {
		return nil, err
	}
	if displayName == "" {
		displayName = username
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	taken, err := s.store.UsernameTaken(ctx, username)
	if err != nil {
		return nil, s.fail(ctx, ErrRegistration, "check username", err)
	}
	if taken {
		return nil, ErrUsernameExists
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, s.fail(ctx, ErrRegistration, "hash password", err)
	}
	u, err := s.createUser(ctx, username, digest, displayName)
	if errors.Is(err, repository.ErrUsernameExists) {
		// lost the race against a concurrent insert
		return nil, ErrUsernameExists
	}
	if err != nil {
		return nil, s.fail(ctx, ErrRegistration, "create user", err)
	}

	now := s.now()
	res, err := s.openSession(ctx, u, &now, ErrRegistration, true)
	if err != nil {
		return nil, err
	}
	s.publishCreated(ctx, res.User, false)
	return res, nil
}

// RegisterAnonymous creates an account under a generated username.  A
// candidate that loses the insert race to a concurrent registration counts
// against the same attempt budget as one found taken by the pre-check.
func (s *SessionService) RegisterAnonymous(ctx context.Context, in AnonymousInput) (*AuthResult, error) {
	if in.Password == "" {
		return nil, ErrMissingPassword
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	displayName, err := normalizeDisplayName(in.DisplayName)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, s.fail(ctx, ErrAnonymousRegistration, "hash password", err)
	}

	used := 0
	taken := func(ctx context.Context, name string) (bool, error) {
		used++
		return s.store.UsernameTaken(ctx, name)
	}
	for {
		remaining := s.attempts - used
		if remaining <= 0 {
			return nil, ErrUsernameGeneration
		}
		username, err := utils.AllocateUsername(ctx, s.names.Candidates(), taken, remaining)
		if errors.Is(err, utils.ErrIdentityAllocationExhausted) {
			s.log.WarnContext(ctx, "anonymous username space exhausted", "attempts", s.attempts)
			return nil, ErrUsernameGeneration
		}
		if err != nil {
			return nil, s.fail(ctx, ErrAnonymousRegistration, "allocate username", err)
		}

		name := displayName
		if name == "" {
			name = username
		}
		u, err := s.createUser(ctx, username, digest, name)
		if errors.Is(err, repository.ErrUsernameExists) {
			continue
		}
		if err != nil {
			return nil, s.fail(ctx, ErrAnonymousRegistration, "create user", err)
		}

		res, err := s.openSession(ctx, u, nil, ErrAnonymousRegistration, true)
		if err != nil {
			return nil, err
		}
		s.publishCreated(ctx, res.User, true)
		return res, nil
	}
}

// Login verifies credentials and opens a new session.  An unknown username
// and a wrong password produce the same error after the same amount of work.
func (s *SessionService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" || in.Password == "" {
		return nil, ErrMissingCredentials
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	u, err := s.store.FindByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		if s.dummyHash != "" {
			s.hasher.Verify(s.dummyHash, in.Password)
		}
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, s.fail(ctx, ErrLogin, "find user", err)
	}
	if !s.hasher.Verify(u.PasswordHash, in.Password) {
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	return s.openSession(ctx, u, &now, ErrLogin, false)
}

// Refresh exchanges a refresh token for a new pair.  The old token is
// removed and the new one appended by a single update filtered on the old
// digest, so of two concurrent calls with the same token exactly one wins.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	raw := strings.TrimSpace(refreshToken)
	if raw == "" {
		return nil, ErrMissingRefreshToken
	}
	// checked first so a misconfigured process never burns the caller's token
	if err := s.tokens.Ready(); err != nil {
		s.log.ErrorContext(ctx, "refresh: token issuer not ready", "err", err)
		return nil, ErrTokenGeneration.wrap(err)
	}
	if _, err := s.tokens.VerifyRefreshToken(raw); err != nil {
		return nil, ErrInvalidRefreshToken.wrap(err)
	}

	next, err := s.tokens.IssueRefreshToken()
	if err != nil {
		s.log.ErrorContext(ctx, "refresh: mint refresh token", "err", err)
		return nil, ErrTokenGeneration.wrap(err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	entry := model.RefreshTokenEntry{TokenHash: next.Hash(), CreatedAt: s.now()}
	userID, err := s.store.RotateRefresh(ctx, utils.HashRefreshRaw(raw), entry)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, s.fail(ctx, ErrRefresh, "rotate refresh token", err)
	}

	access, err := s.tokens.IssueAccessToken(userID)
	if err != nil {
		s.log.ErrorContext(ctx, "refresh: mint access token", "user_id", userID, "err", err)
		return nil, ErrTokenGeneration.wrap(err)
	}
	return &TokenPair{Access: access, Refresh: next}, nil
}

// Logout removes one refresh token from the user's set.  A blank or unknown
// token is not an error.
func (s *SessionService) Logout(ctx context.Context, userID, refreshToken string) error {
	raw := strings.TrimSpace(refreshToken)
	if raw == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err := s.store.PullRefresh(ctx, userID, utils.HashRefreshRaw(raw))
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return s.fail(ctx, ErrLogout, "pull refresh token", err)
	}
	return nil
}

// Profile loads a user without the password digest.
func (s *SessionService) Profile(ctx context.Context, userID string) (*model.User, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	u, err := s.store.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, s.fail(ctx, ErrProfileFetch, "find user", err)
	}
	return u.Public(), nil
}

// UpdateProfile sets a new display name.  A blank name leaves the record
// untouched and returns current as is.
func (s *SessionService) UpdateProfile(ctx context.Context, current *model.User, displayName string) (*model.User, error) {
	name, err := normalizeDisplayName(displayName)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return current.Public(), nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	u, err := s.store.UpdateDisplayName(ctx, current.ID, name)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, s.fail(ctx, ErrProfileUpdate, "update display name", err)
	}
	return u.Public(), nil
}

// Authenticate resolves a bearer access token to its user.  It backs the
// access guard middleware.
func (s *SessionService) Authenticate(ctx context.Context, rawToken string) (*model.User, error) {
	raw := strings.TrimSpace(rawToken)
	if raw == "" {
		return nil, ErrMissingToken
	}
	claims, err := s.tokens.VerifyAccessToken(raw)
	switch {
	case err == nil:
	case errors.Is(err, utils.ErrTokenExpired):
		return nil, ErrTokenExpired.wrap(err)
	case errors.Is(err, utils.ErrSigningKeyMissing):
		return nil, s.fail(ctx, ErrAuth, "verify access token", err)
	default:
		return nil, ErrInvalidToken.wrap(err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	u, err := s.store.FindByID(ctx, claims.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, s.fail(ctx, ErrAuth, "load user", err)
	}
	return u.Public(), nil
}

func (s *SessionService) createUser(ctx context.Context, username, digest, displayName string) (*model.User, error) {
	u := &model.User{
		Username:     username,
		PasswordHash: digest,
		DisplayName:  displayName,
		CreatedAt:    s.now(),
	}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// openSession mints a token pair for u and records the refresh digest.  When
// compensate is set (u was created by this request) a minting failure
// deletes u again so no account is left without a way to log in.
func (s *SessionService) openSession(ctx context.Context, u *model.User, lastLogin *time.Time, failure *Error, compensate bool) (*AuthResult, error) {
	access, err := s.tokens.IssueAccessToken(u.ID)
	var refresh utils.RefreshToken
	if err == nil {
		refresh, err = s.tokens.IssueRefreshToken()
	}
	if err != nil {
		s.log.ErrorContext(ctx, "token generation failed", "user_id", u.ID, "err", err)
		if compensate {
			if delErr := s.store.Delete(ctx, u.ID); delErr != nil {
				s.log.ErrorContext(ctx, "compensating delete failed", "user_id", u.ID, "err", delErr)
			}
		}
		return nil, ErrTokenGeneration.wrap(err)
	}

	entry := model.RefreshTokenEntry{TokenHash: refresh.Hash(), CreatedAt: s.now()}
	if err := s.store.PushRefresh(ctx, u.ID, entry, lastLogin); err != nil {
		return nil, s.fail(ctx, failure, "store refresh token", err)
	}
	if lastLogin != nil {
		u.LastLogin = lastLogin
	}
	return &AuthResult{User: u.Public(), Access: access, Refresh: refresh}, nil
}

func (s *SessionService) publishCreated(ctx context.Context, u *model.User, anonymous bool) {
	if s.events == nil {
		return
	}
	ev := queue.AccountCreatedEvent{
		UserID:    u.ID,
		Username:  u.Username,
		Anonymous: anonymous,
		CreatedAt: u.CreatedAt,
	}
	// detached from the request so a client disconnect does not drop it
	go func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		if err := s.events.PublishAccountCreated(ctx, ev); err != nil {
			s.log.WarnContext(ctx, "publish account.created failed", "user_id", ev.UserID, "err", err)
		}
	}(context.WithoutCancel(ctx))
}

// fail logs an infrastructure failure and wraps it in the operation's error.
func (s *SessionService) fail(ctx context.Context, op *Error, step string, err error) *Error {
	s.log.ErrorContext(ctx, op.Message, "code", op.Code, "step", step, "err", err)
	return op.wrap(err)
}

func validatePassword(p string) error {
	if utf8.RuneCountInString(p) < MinPasswordLen {
		return ErrPasswordTooShort
	}
	if len(p) > MaxPasswordBytes {
		return ErrPasswordTooLong
	}
	return nil
}

func normalizeDisplayName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if utf8.RuneCountInString(name) > MaxDisplayNameLen {
		return "", ErrDisplayNameTooLong
	}
	return name, nil
}
