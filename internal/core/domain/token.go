package domain

import "time"

// TokenType distinguishes access tokens from refresh tokens carrying the same claim set.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// TokenClaims is the verified content of a bearer token.
type TokenClaims struct {
	JTI       string
	UserID    string
	Email     string
	Type      TokenType
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IsExpired reports whether the token has elapsed its validity window.
func (c TokenClaims) IsExpired(at time.Time) bool {
	return !c.ExpiresAt.After(at)
}

// Denied returns the denylist entry that revokes this token until it would have expired anyway.
func (c TokenClaims) Denied() DeniedToken {
	return DeniedToken{JTI: c.JTI, ExpiresAt: c.ExpiresAt}
}

// TokenPair is returned on login and refresh.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}
