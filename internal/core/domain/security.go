package domain

import "time"

// FailureRecord tracks failed attempts for a single identity key.
type FailureRecord struct {
	Key           string
	Count         int
	LastFailureAt time.Time
}

// IsStale reports whether no failure was recorded within the reset interval ending at the given time.
func (r FailureRecord) IsStale(at time.Time, resetInterval time.Duration) bool {
	return at.Sub(r.LastFailureAt) > resetInterval
}

// LockoutEntry blocks an identity key until ExpiresAt.
type LockoutEntry struct {
	Key       string
	ExpiresAt time.Time
}

// IsActive reports whether the lockout is still in force at the given time.
func (e LockoutEntry) IsActive(at time.Time) bool {
	return !e.ExpiresAt.IsZero() && e.ExpiresAt.After(at)
}

// IsExpired reports whether a lockout was installed and has since elapsed.
func (e LockoutEntry) IsExpired(at time.Time) bool {
	return !e.ExpiresAt.IsZero() && !e.ExpiresAt.After(at)
}

// DeniedToken is a revoked token identifier kept until the token itself would have expired.
type DeniedToken struct {
	JTI       string
	ExpiresAt time.Time
}

// IsExpired reports whether the denied token has outlived its original expiry.
func (t DeniedToken) IsExpired(at time.Time) bool {
	return !t.ExpiresAt.After(at)
}
