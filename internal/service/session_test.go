package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/rashiddalii/moodlog-server/internal/model"
	"github.com/rashiddalii/moodlog-server/internal/queue"
	"github.com/rashiddalii/moodlog-server/internal/repository"
	"github.com/rashiddalii/moodlog-server/internal/utils"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func testIssuer() *utils.TokenIssuer {
	return utils.NewTokenIssuer("access-secret", "refresh-secret", time.Hour, 24*time.Hour)
}

func newTestService(t *testing.T, store repository.CredentialStore, opts ...Option) *SessionService {
	t.Helper()
	opts = append([]Option{WithLogger(discard)}, opts...)
	return NewSessionService(store, testIssuer(), utils.NewBcryptHasher(bcrypt.MinCost), opts...)
}

func codeOf(t *testing.T, err error) string {
	t.Helper()
	var se *Error
	require.ErrorAs(t, err, &se)
	return se.Code
}

// flakyStore wraps the memory store with injectable failures.
type flakyStore struct {
	*repository.MemoryStore

	mu          sync.Mutex
	takenCalls  int
	takenErr    error
	createDupes int // Create calls to fail with ErrUsernameExists
	findByIDErr error
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: repository.NewMemoryStore(0)}
}

func (f *flakyStore) UsernameTaken(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	f.takenCalls++
	err := f.takenErr
	f.mu.Unlock()
	if err != nil {
		return false, err
	}
	return f.MemoryStore.UsernameTaken(ctx, name)
}

func (f *flakyStore) Create(ctx context.Context, u *model.User) error {
	f.mu.Lock()
	if f.createDupes > 0 {
		f.createDupes--
		f.mu.Unlock()
		return repository.ErrUsernameExists
	}
	f.mu.Unlock()
	return f.MemoryStore.Create(ctx, u)
}

func (f *flakyStore) FindByID(ctx context.Context, id string) (*model.User, error) {
	if f.findByIDErr != nil {
		return nil, f.findByIDErr
	}
	return f.MemoryStore.FindByID(ctx, id)
}

type recordingPublisher struct {
	events chan queue.AccountCreatedEvent
}

func (p *recordingPublisher) PublishAccountCreated(_ context.Context, ev queue.AccountCreatedEvent) error {
	p.events <- ev
	return nil
}

func TestRegisterLoginRefreshLifecycle(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(0)
	svc := newTestService(t, store)

	reg, err := svc.Register(ctx, RegisterInput{Username: "alice", Password: "hunter22"})
	require.NoError(t, err)
	assert.Equal(t, "alice", reg.User.Username)
	assert.Equal(t, "alice", reg.User.DisplayName)
	assert.NotNil(t, reg.User.LastLogin)
	assert.Empty(t, reg.User.PasswordHash)
	assert.NotEmpty(t, reg.Access.Token)
	assert.NotEmpty(t, reg.Refresh.Raw)

	login, err := svc.Login(ctx, LoginInput{Username: "alice", Password: "hunter22"})
	require.NoError(t, err)
	assert.NotEqual(t, reg.Refresh.Raw, login.Refresh.Raw)

	stored, err := store.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, stored.RefreshTokens, 2)
	assert.True(t, stored.HasRefreshToken(utils.HashRefreshRaw(reg.Refresh.Raw)))
	assert.False(t, stored.HasRefreshToken(reg.Refresh.Raw), "raw token must not be stored")

	pair, err := svc.Refresh(ctx, reg.Refresh.Raw)
	require.NoError(t, err)
	assert.NotEqual(t, reg.Refresh.Raw, pair.Refresh.Raw)

	claims, err := testIssuer().VerifyAccessToken(pair.Access.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, claims.UserID)

	_, err = svc.Refresh(ctx, reg.Refresh.Raw)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, err = svc.Refresh(ctx, pair.Refresh.Raw)
	assert.NoError(t, err)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, repository.NewMemoryStore(0))
	_, err := svc.Register(ctx, RegisterInput{Username: "taken", Password: "hunter22"})
	require.NoError(t, err)

	cases := []struct {
		name string
		in   RegisterInput
		want *Error
	}{
		{"missing username", RegisterInput{Password: "hunter22"}, ErrMissingFields},
		{"missing password", RegisterInput{Username: "alice"}, ErrMissingFields},
		{"blank username", RegisterInput{Username: "   ", Password: "hunter22"}, ErrMissingFields},
		{"short password", RegisterInput{Username: "alice", Password: "12345"}, ErrPasswordTooShort},
		{"password over bcrypt limit", RegisterInput{Username: "alice", Password: strings.Repeat("p", 73)}, ErrPasswordTooLong},
		{"short username", RegisterInput{Username: "al", Password: "hunter22"}, ErrInvalidUsernameLength},
		{"long username", RegisterInput{Username: strings.Repeat("a", 21), Password: "hunter22"}, ErrInvalidUsernameLength},
		{"long display name", RegisterInput{Username: "alice", Password: "hunter22", DisplayName: strings.Repeat("d", 31)}, ErrDisplayNameTooLong},
		{"duplicate", RegisterInput{Username: "taken", Password: "hunter22"}, ErrUsernameExists},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRegisterCountsCharactersNotBytes(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, repository.NewMemoryStore(0))

	// 20 two-byte runes
	res, err := svc.Register(ctx, RegisterInput{Username: strings.Repeat("é", 20), Password: "pässwörd"})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 20), res.User.Username)

	res, err = svc.Register(ctx, RegisterInput{Username: "  bob  ", Password: "hunter22", DisplayName: "  " + strings.Repeat("ü", 30) + "  "})
	require.NoError(t, err)
	assert.Equal(t, "bob", res.User.Username)
	assert.Equal(t, strings.Repeat("ü", 30), res.User.DisplayName)
}

func TestRegisterLateDuplicate(t *testing.T) {
	store := newFlakyStore()
	store.createDupes = 1
	svc := newTestService(t, store)

	_, err := svc.Register(context.Background(), RegisterInput{Username: "alice", Password: "hunter22"})
	assert.ErrorIs(t, err, ErrUsernameExists)
}

func TestRegisterStoreFailure(t *testing.T) {
	boom := errors.New("store down")
	store := newFlakyStore()
	store.takenErr = boom
	svc := newTestService(t, store)

	_, err := svc.Register(context.Background(), RegisterInput{Username: "alice", Password: "hunter22"})
	assert.ErrorIs(t, err, ErrRegistration)
	assert.ErrorIs(t, err, boom)
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, KindInternal, se.Kind)
}

func TestRegisterCompensatesWhenSigningKeyMissing(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(0)
	issuer := utils.NewTokenIssuer("access-secret", "", time.Hour, time.Hour)
	svc := NewSessionService(store, issuer, utils.NewBcryptHasher(bcrypt.MinCost), WithLogger(discard))

	_, err := svc.Register(ctx, RegisterInput{Username: "alice", Password: "hunter22"})
	assert.ErrorIs(t, err, ErrTokenGeneration)
	assert.ErrorIs(t, err, utils.ErrSigningKeyMissing)

	taken, err := store.UsernameTaken(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, taken, "user must be removed after token failure")

	_, err = svc.RegisterAnonymous(ctx, AnonymousInput{Password: "hunter22"})
	assert.ErrorIs(t, err, ErrTokenGeneration)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, repository.NewMemoryStore(0))
	_, err := svc.Register(ctx, RegisterInput{Username: "alice", Password: "hunter22"})
	require.NoError(t, err)

	_, unknown := svc.Login(ctx, LoginInput{Username: "nobody", Password: "hunter22"})
	_, wrong := svc.Login(ctx, LoginInput{Username: "alice", Password: "wrong-password"})

	require.Error(t, unknown)
	require.Error(t, wrong)
	assert.Equal(t, unknown.Error(), wrong.Error())
	assert.Equal(t, "INVALID_CREDENTIALS", codeOf(t, unknown))

	_, err = svc.Login(ctx, LoginInput{Username: "alice"})
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestLoginUpdatesLastLogin(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(0)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, store, WithClock(func() time.Time { return at }))

	_, err := svc.RegisterAnonymous(ctx, AnonymousInput{Password: "hunter22", DisplayName: "Quiet"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, RegisterInput{Username: "alice", Password: "hunter22"})
	require.NoError(t, err)

	res, err := svc.Login(ctx, LoginInput{Username: "alice", Password: "hunter22"})
	require.NoError(t, err)
	require.NotNil(t, res.User.LastLogin)
	assert.Equal(t, at, *res.User.LastLogin)
}

func TestRefreshErrors(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, repository.NewMemoryStore(0))

	_, err := svc.Refresh(ctx, "  ")
	assert.ErrorIs(t, err, ErrMissingRefreshToken)

	_, err = svc.Refresh(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	reg, err := svc.Register(ctx, RegisterInput{Username: "alice", Password: "hunter22"})
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, reg.Access.Token)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken, "access token is not a refresh token")

	// well-formed but never stored
	orphan, err := testIssuer().IssueRefreshToken()
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, orphan.Raw)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefreshWithMissingKeyKeepsToken(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(0)
	good := newTestService(t, store)
	reg, err := good.Register(ctx, RegisterInput{Username: "alice", Password: "hunter22"})
	require.NoError(t, err)

	broken := NewSessionService(store,
		utils.NewTokenIssuer("", "refresh-secret", time.Hour, 24*time.Hour),
		utils.NewBcryptHasher(bcrypt.MinCost), WithLogger(discard))
	_, err = broken.Refresh(ctx, reg.Refresh.Raw)
	assert.ErrorIs(t, err, ErrTokenGeneration)

	_, err = good.Refresh(ctx, reg.Refresh.Raw)
	assert.NoError(t, err, "token must survive a misconfigured refresh")
}

func TestConcurrentRefreshHasExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, repository.NewMemoryStore(0))
	reg, err := svc.Register(ctx, RegisterInput{Username: "alice", Password: "hunter22"})
	require.NoError(t, err)

	const n = 12
	var (
		wg     sync.WaitGroup
		wins   atomic.Int32
		losses atomic.Int32
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Refresh(ctx, reg.Refresh.Raw)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrInvalidRefreshToken):
				losses.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(n-1), losses.Load())
}

func TestSessionsAreBounded(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, repository.NewMemoryStore(2))
	first, err := svc.Register(ctx, RegisterInput{Username: "alice", Password: "hunter22"})
	require.NoError(t, err)

	for range 2 {
		_, err := svc.Login(ctx, LoginInput{Username: "alice", Password: "hunter22"})
		require.NoError(t, err)
	}
	_, err = svc.Refresh(ctx, first.Refresh.Raw)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken, "oldest session is evicted")
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(0)
	svc := newTestService(t, store)
	reg, err := svc.Register(ctx, RegisterInput{Username: "alice", Password: "hunter22"})
	require.NoError(t, err)
	other, err := svc.Login(ctx, LoginInput{Username: "alice", Password: "hunter22"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, reg.User.ID, ""))
	require.NoError(t, svc.Logout(ctx, reg.User.ID, "never-issued"))
	require.NoError(t, svc.Logout(ctx, reg.User.ID, reg.Refresh.Raw))

	_, err = svc.Refresh(ctx, reg.Refresh.Raw)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	_, err = svc.Refresh(ctx, other.Refresh.Raw)
	assert.NoError(t, err, "other sessions survive")
}

func TestLogoutCannotRevokeAnotherUsersToken(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, repository.NewMemoryStore(0))
	alice, err := svc.Register(ctx, RegisterInput{Username: "alice", Password: "hunter22"})
	require.NoError(t, err)
	bob, err := svc.Register(ctx, RegisterInput{Username: "bob", Password: "hunter22"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, bob.User.ID, alice.Refresh.Raw))
	_, err = svc.Refresh(ctx, alice.Refresh.Raw)
	assert.NoError(t, err)
}

func TestRegisterAnonymous(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, repository.NewMemoryStore(0))

	res, err := svc.RegisterAnonymous(ctx, AnonymousInput{Password: "hunter22"})
	require.NoError(t, err)
	assert.Regexp(t, `^[A-Z][a-z]+[A-Z][a-z]+\d{1,3}$`, res.User.Username)
	assert.Equal(t, res.User.Username, res.User.DisplayName)
	assert.Nil(t, res.User.LastLogin)

	named, err := svc.RegisterAnonymous(ctx, AnonymousInput{Password: "hunter22", DisplayName: " Quiet One "})
	require.NoError(t, err)
	assert.Equal(t, "Quiet One", named.User.DisplayName)

	_, err = svc.RegisterAnonymous(ctx, AnonymousInput{})
	assert.ErrorIs(t, err, ErrMissingPassword)
	_, err = svc.RegisterAnonymous(ctx, AnonymousInput{Password: "123"})
	assert.ErrorIs(t, err, ErrPasswordTooShort)
	_, err = svc.RegisterAnonymous(ctx, AnonymousInput{Password: "hunter22", DisplayName: strings.Repeat("x", 31)})
	assert.ErrorIs(t, err, ErrDisplayNameTooLong)
}

func TestRegisterAnonymousExhaustion(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	gen := &utils.UsernameGenerator{Adjectives: []string{"Calm"}, Nouns: []string{"Soul"}, MaxSuffix: 1}
	svc := newTestService(t, store, WithUsernameGenerator(gen))

	_, err := svc.RegisterAnonymous(ctx, AnonymousInput{Password: "hunter22"})
	require.NoError(t, err, "first CalmSoul0 is free")

	store.takenCalls = 0
	_, err = svc.RegisterAnonymous(ctx, AnonymousInput{Password: "hunter22"})
	assert.ErrorIs(t, err, ErrUsernameGeneration)
	assert.Equal(t, utils.DefaultUsernameAttempts, store.takenCalls)
	assert.Equal(t, KindCapacity, mustServiceError(t, err).Kind)
}

func TestRegisterAnonymousLateDuplicateConsumesAttempt(t *testing.T) {
	ctx := context.Background()

	store := newFlakyStore()
	store.createDupes = 3
	svc := newTestService(t, store)
	_, err := svc.RegisterAnonymous(ctx, AnonymousInput{Password: "hunter22"})
	require.NoError(t, err)
	assert.Equal(t, 4, store.takenCalls)

	store = newFlakyStore()
	store.createDupes = 100
	svc = newTestService(t, store)
	_, err = svc.RegisterAnonymous(ctx, AnonymousInput{Password: "hunter22"})
	assert.ErrorIs(t, err, ErrUsernameGeneration)
	assert.Equal(t, utils.DefaultUsernameAttempts, store.takenCalls)
}

func TestRegisterAnonymousLookupFailure(t *testing.T) {
	store := newFlakyStore()
	store.takenErr = errors.New("store down")
	svc := newTestService(t, store)

	_, err := svc.RegisterAnonymous(context.Background(), AnonymousInput{Password: "hunter22"})
	assert.ErrorIs(t, err, ErrAnonymousRegistration)
	assert.Equal(t, 1, store.takenCalls)
}

func TestProfileAndUpdate(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, repository.NewMemoryStore(0))
	reg, err := svc.Register(ctx, RegisterInput{Username: "alice", Password: "hunter22"})
	require.NoError(t, err)

	p, err := svc.Profile(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.DisplayName)
	assert.Empty(t, p.PasswordHash)
	assert.Empty(t, p.RefreshTokens)

	thirty := strings.Repeat("n", 30)
	updated, err := svc.UpdateProfile(ctx, p, thirty)
	require.NoError(t, err)
	assert.Equal(t, thirty, updated.DisplayName)

	_, err = svc.UpdateProfile(ctx, updated, thirty+"n")
	assert.ErrorIs(t, err, ErrDisplayNameTooLong)

	same, err := svc.UpdateProfile(ctx, updated, "   ")
	require.NoError(t, err)
	assert.Equal(t, thirty, same.DisplayName)

	_, err = svc.Profile(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	svc := newTestService(t, store)
	reg, err := svc.Register(ctx, RegisterInput{Username: "alice", Password: "hunter22"})
	require.NoError(t, err)

	u, err := svc.Authenticate(ctx, reg.Access.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, u.ID)
	assert.Empty(t, u.PasswordHash)

	_, err = svc.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrMissingToken)
	_, err = svc.Authenticate(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = svc.Authenticate(ctx, reg.Refresh.Raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := utils.NewTokenIssuer("access-secret", "refresh-secret", -time.Minute, time.Hour).IssueAccessToken(reg.User.ID)
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, expired.Token)
	assert.ErrorIs(t, err, ErrTokenExpired)

	store.findByIDErr = errors.New("store down")
	_, err = svc.Authenticate(ctx, reg.Access.Token)
	assert.ErrorIs(t, err, ErrAuth)
	store.findByIDErr = nil

	require.NoError(t, store.Delete(ctx, reg.User.ID))
	_, err = svc.Authenticate(ctx, reg.Access.Token)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestAccountCreatedEventsArePublished(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{events: make(chan queue.AccountCreatedEvent, 2)}
	svc := newTestService(t, repository.NewMemoryStore(0), WithEvents(pub))

	reg, err := svc.Register(ctx, RegisterInput{Username: "alice", Password: "hunter22"})
	require.NoError(t, err)
	anon, err := svc.RegisterAnonymous(ctx, AnonymousInput{Password: "hunter22"})
	require.NoError(t, err)

	got := map[string]queue.AccountCreatedEvent{}
	for range 2 {
		select {
		case ev := <-pub.events:
			got[ev.UserID] = ev
		case <-time.After(2 * time.Second):
			t.Fatal("event not published")
		}
	}
	assert.False(t, got[reg.User.ID].Anonymous)
	assert.Equal(t, "alice", got[reg.User.ID].Username)
	assert.True(t, got[anon.User.ID].Anonymous)
}

func TestErrorMatchesByCode(t *testing.T) {
	cause := errors.New("cause")
	wrapped := ErrLogin.wrap(cause)

	assert.ErrorIs(t, wrapped, ErrLogin)
	assert.ErrorIs(t, wrapped, cause)
	assert.NotErrorIs(t, wrapped, ErrRefresh)
	assert.Contains(t, wrapped.Error(), "LOGIN_ERROR")
	assert.Nil(t, ErrLogin.Err, "sentinel is not mutated")
}

func mustServiceError(t *testing.T, err error) *Error {
	t.Helper()
	var se *Error
	require.ErrorAs(t, err, &se)
	return se
}
