package security

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/arklim/transit-tracker/internal/core/domain"
)

func newTestJWTManager(t *testing.T, clk clockwork.Clock) *JWTManager {
	t.Helper()
	manager, err := NewJWTManager(JWTOptions{
		Secret:     "test-secret-that-is-long-enough-for-hs256",
		Issuer:     "transit-tracker-test",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}, clk)
	require.NoError(t, err)
	return manager
}

func TestJWTManagerIssueAndParse(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))
	manager := newTestJWTManager(t, clk)
	user := domain.User{ID: "user-1", Email: "rider@example.com"}

	raw, issued, err := manager.Issue(user, domain.TokenTypeAccess)
	require.NoError(t, err)
	require.NotEmpty(t, issued.JTI)
	require.Equal(t, clk.Now().Add(15*time.Minute), issued.ExpiresAt)

	parsed, err := manager.Parse(raw, domain.TokenTypeAccess)
	require.NoError(t, err)
	require.Equal(t, issued, parsed)

	_, second, err := manager.Issue(user, domain.TokenTypeAccess)
	require.NoError(t, err)
	require.NotEqual(t, issued.JTI, second.JTI, "every token needs its own jti")
}

func TestJWTManagerRejectsWrongType(t *testing.T) {
	manager := newTestJWTManager(t, clockwork.NewFakeClock())

	raw, _, err := manager.Issue(domain.User{ID: "user-1"}, domain.TokenTypeRefresh)
	require.NoError(t, err)

	_, err = manager.Parse(raw, domain.TokenTypeAccess)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestJWTManagerExpiry(t *testing.T) {
	clk := clockwork.NewFakeClock()
	manager := newTestJWTManager(t, clk)

	raw, _, err := manager.Issue(domain.User{ID: "user-1"}, domain.TokenTypeAccess)
	require.NoError(t, err)

	clk.Advance(16 * time.Minute)
	_, err = manager.Parse(raw, domain.TokenTypeAccess)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestJWTManagerRejectsForeignSignature(t *testing.T) {
	clk := clockwork.NewFakeClock()
	other, err := NewJWTManager(JWTOptions{
		Secret:     "another-secret-that-is-long-enough-too",
		Issuer:     "transit-tracker-test",
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
	}, clk)
	require.NoError(t, err)

	raw, _, err := other.Issue(domain.User{ID: "user-1"}, domain.TokenTypeAccess)
	require.NoError(t, err)

	_, err = newTestJWTManager(t, clk).Parse(raw, domain.TokenTypeAccess)
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = newTestJWTManager(t, clk).Parse("not-a-jwt", domain.TokenTypeAccess)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestNewJWTManagerValidation(t *testing.T) {
	_, err := NewJWTManager(JWTOptions{Secret: "short", Issuer: "x", AccessTTL: time.Minute, RefreshTTL: time.Hour}, nil)
	require.True(t, errors.Is(err, ErrInvalidConfig))
}
