package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/transit-tracker/internal/core/domain"
	"github.com/arklim/transit-tracker/internal/infra/security"
	"github.com/arklim/transit-tracker/internal/repository"
)

const testPassword = "C0mplex!Passphrase#2025"

type memoryUserRepo struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: make(map[string]domain.User)}
}

func (r *memoryUserRepo) Create(_ context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return repository.ErrConflict
		}
	}
	r.users[user.ID] = user
	return nil
}

func (r *memoryUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &user, nil
}

func (r *memoryUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			u := user
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memoryUserRepo) TouchLastLogin(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	user.LastLogin = &now
	r.users[id] = user
	return nil
}

func (r *memoryUserRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

type memoryDeniedTokenStore struct {
	mu          sync.Mutex
	tokens      map[string]time.Time
	insertErr   error
	insertDelay time.Duration
}

func (s *memoryDeniedTokenStore) LoadActive(context.Context, time.Time) ([]domain.DeniedToken, error) {
	return nil, nil
}

func (s *memoryDeniedTokenStore) Insert(_ context.Context, token domain.DeniedToken) error {
	time.Sleep(s.insertDelay)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.tokens[token.JTI] = token.ExpiresAt
	return nil
}

func (s *memoryDeniedTokenStore) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type authFixture struct {
	service *AuthService
	users   *memoryUserRepo
	store   *memoryDeniedTokenStore
	clock   *clockwork.FakeClock
}

func newAuthFixture(t *testing.T) authFixture {
	t.Helper()

	clk := clockwork.NewFakeClockAt(time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC))
	store := &memoryDeniedTokenStore{tokens: make(map[string]time.Time)}

	denylist, err := security.NewTokenDenylist(store, security.DenylistOptions{
		SweepInterval: time.Minute,
		LoadTimeout:   time.Second,
		StoreTimeout:  time.Second,
	}, security.WithDenylistClock(clk))
	require.NoError(t, err)
	<-denylist.Ready()

	hasher, err := security.NewArgon2Hasher(security.Argon2Config{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	require.NoError(t, err)

	policy, err := security.NewPasswordPolicy(10, 3)
	require.NoError(t, err)

	tokens, err := security.NewJWTManager(security.JWTOptions{
		Secret:     "usecase-test-secret-with-enough-bytes",
		Issuer:     "transit-tracker-test",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}, clk)
	require.NoError(t, err)

	users := newMemoryUserRepo()
	service, err := NewAuthService(users, hasher, policy, tokens, denylist, clk, zaptest.NewLogger(t))
	require.NoError(t, err)

	return authFixture{service: service, users: users, store: store, clock: clk}
}

func TestRegisterAndAuthenticate(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	user, err := f.service.Register(ctx, " Rider@Example.com ", testPassword)
	require.NoError(t, err)
	require.Equal(t, "rider@example.com", user.Email)
	require.Empty(t, user.PasswordHash)

	_, err = f.service.Register(ctx, "rider@example.com", testPassword)
	require.ErrorIs(t, err, ErrEmailTaken)

	pair, authed, err := f.service.Authenticate(ctx, "RIDER@example.com", testPassword)
	require.NoError(t, err)
	require.Equal(t, user.ID, authed.ID)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	claims, err := f.service.ParseAccessToken(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.UserID)
}

func TestRegisterRejectsBadInput(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.service.Register(ctx, "not-an-email", testPassword)
	require.ErrorIs(t, err, ErrInvalidEmail)

	_, err = f.service.Register(ctx, "rider@example.com", "Password123")
	require.ErrorIs(t, err, ErrWeakPassword)
}

func TestAuthenticateRejectsWrongCredentials(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.service.Register(ctx, "rider@example.com", testPassword)
	require.NoError(t, err)

	_, _, err = f.service.Authenticate(ctx, "rider@example.com", "wrong password entirely")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = f.service.Authenticate(ctx, "nobody@example.com", testPassword)
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogoutDeniesTokens(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.service.Register(ctx, "rider@example.com", testPassword)
	require.NoError(t, err)
	pair, _, err := f.service.Authenticate(ctx, "rider@example.com", testPassword)
	require.NoError(t, err)

	claims, err := f.service.ParseAccessToken(ctx, pair.AccessToken)
	require.NoError(t, err)

	require.NoError(t, f.service.Logout(ctx, claims, pair.RefreshToken))

	_, err = f.service.ParseAccessToken(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrInvalidAccessToken)

	_, err = f.service.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	require.Len(t, f.store.tokens, 2)
	require.Equal(t, claims.ExpiresAt, f.store.tokens[claims.JTI])
}

func TestLogoutFailsWhenStoreRejectsDenial(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.service.Register(ctx, "rider@example.com", testPassword)
	require.NoError(t, err)
	pair, _, err := f.service.Authenticate(ctx, "rider@example.com", testPassword)
	require.NoError(t, err)
	claims, err := f.service.ParseAccessToken(ctx, pair.AccessToken)
	require.NoError(t, err)

	f.store.insertErr = errors.New("database unavailable")
	require.Error(t, f.service.Logout(ctx, claims, ""))

	// The token stays valid: a failed denial is reported, never half-applied.
	_, err = f.service.ParseAccessToken(ctx, pair.AccessToken)
	require.NoError(t, err)
}

func TestRefreshRotatesTokens(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.service.Register(ctx, "rider@example.com", testPassword)
	require.NoError(t, err)
	pair, _, err := f.service.Authenticate(ctx, "rider@example.com", testPassword)
	require.NoError(t, err)

	rotated, err := f.service.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	_, err = f.service.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken, "a refresh token is single use")

	_, err = f.service.Refresh(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken, "access tokens cannot refresh")

	f.clock.Advance(25 * time.Hour)
	_, err = f.service.Refresh(ctx, rotated.RefreshToken)
	require.ErrorIs(t, err, ErrExpiredRefreshToken)
}

func TestParseAccessTokenExpiry(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.service.Register(ctx, "rider@example.com", testPassword)
	require.NoError(t, err)
	pair, _, err := f.service.Authenticate(ctx, "rider@example.com", testPassword)
	require.NoError(t, err)

	f.clock.Advance(16 * time.Minute)
	_, err = f.service.ParseAccessToken(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrExpiredAccessToken)

	_, err = f.service.ParseAccessToken(ctx, "garbage")
	require.ErrorIs(t, err, ErrInvalidAccessToken)
}

func TestDeleteAccountDeniesPresentingToken(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	user, err := f.service.Register(ctx, "rider@example.com", testPassword)
	require.NoError(t, err)
	pair, _, err := f.service.Authenticate(ctx, "rider@example.com", testPassword)
	require.NoError(t, err)
	claims, err := f.service.ParseAccessToken(ctx, pair.AccessToken)
	require.NoError(t, err)

	require.NoError(t, f.service.DeleteAccount(ctx, claims))

	_, err = f.users.GetByID(ctx, user.ID)
	require.ErrorIs(t, err, repository.ErrNotFound)

	_, err = f.service.ParseAccessToken(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrInvalidAccessToken)

	_, err = f.service.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestConcurrentRefreshOfOneTokenSucceedsOnce(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.service.Register(ctx, "rider@example.com", testPassword)
	require.NoError(t, err)
	pair, _, err := f.service.Authenticate(ctx, "rider@example.com", testPassword)
	require.NoError(t, err)

	f.store.insertDelay = 50 * time.Millisecond

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.service.Refresh(ctx, pair.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrInvalidRefreshToken):
				rejected++
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, 1, succeeded)
	require.Equal(t, callers-1, rejected)
}

func TestRefreshCanRetryAfterStoreFailure(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.service.Register(ctx, "rider@example.com", testPassword)
	require.NoError(t, err)
	pair, _, err := f.service.Authenticate(ctx, "rider@example.com", testPassword)
	require.NoError(t, err)

	f.store.insertErr = errors.New("database unavailable")
	_, err = f.service.Refresh(ctx, pair.RefreshToken)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInvalidRefreshToken)

	f.store.insertErr = nil
	_, err = f.service.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
}
