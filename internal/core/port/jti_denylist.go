package port

import (
	"context"
	"time"

	"github.com/arklim/transit-tracker/internal/core/domain"
)

// DeniedTokenStore persists revoked token identifiers so revocations survive restarts.
type DeniedTokenStore interface {
	// LoadActive returns every denied token whose expiry is after now.
	LoadActive(ctx context.Context, now time.Time) ([]domain.DeniedToken, error)
	// Insert stores the denied token. Inserting an existing JTI is not an error.
	Insert(ctx context.Context, token domain.DeniedToken) error
	// DeleteExpired removes denied tokens whose expiry is at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// TokenDenylist answers revocation checks for bearer tokens.
type TokenDenylist interface {
	Deny(ctx context.Context, jti string, expiresAt time.Time) error
	IsDenied(ctx context.Context, jti string) bool
	// Claim atomically denies jti and reports whether it had already been denied.
	Claim(ctx context.Context, jti string, expiresAt time.Time) (bool, error)
}

// DenylistMetrics captures telemetry hooks for the token denylist.
type DenylistMetrics interface {
	IncDenial()
	IncLookup(hit bool)
	SetDenylistSize(n int)
	ObserveDenylistLoad(duration time.Duration)
	AddSweepEvictions(cache string, n int)
	IncSweepError(cache string)
}
