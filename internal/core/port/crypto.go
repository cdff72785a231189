package port

import "github.com/arklim/transit-tracker/internal/core/domain"

// PasswordPolicyValidator enforces password strength requirements.
type PasswordPolicyValidator interface {
	Validate(password string, userInputs ...string) error
}

// PasswordHasher hashes and verifies secrets using the configured algorithm.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password string, encoded string) (bool, error)
}

// TokenIssuer signs and verifies bearer tokens.
type TokenIssuer interface {
	Issue(user domain.User, typ domain.TokenType) (string, domain.TokenClaims, error)
	Parse(raw string, typ domain.TokenType) (domain.TokenClaims, error)
}
