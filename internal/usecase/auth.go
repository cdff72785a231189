package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	uuid "github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/arklim/transit-tracker/internal/core/domain"
	"github.com/arklim/transit-tracker/internal/core/port"
	"github.com/arklim/transit-tracker/internal/infra/logger"
	"github.com/arklim/transit-tracker/internal/infra/security"
	"github.com/arklim/transit-tracker/internal/repository"
)

var (
	// ErrInvalidCredentials indicates the provided email or password are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidEmail indicates the email address could not be parsed.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrEmailTaken indicates another account already uses the email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrWeakPassword indicates the password failed the password policy.
	ErrWeakPassword = errors.New("password does not meet policy")
	// ErrInvalidRefreshToken indicates the refresh token is malformed, denied or belongs to no user.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrExpiredRefreshToken indicates the provided refresh token has expired.
	ErrExpiredRefreshToken = errors.New("refresh token expired")
	// ErrInvalidAccessToken indicates the access token is malformed, has a bad signature, or was denied.
	ErrInvalidAccessToken = errors.New("invalid access token")
	// ErrExpiredAccessToken indicates the provided access token has expired.
	ErrExpiredAccessToken = errors.New("access token expired")
)

// AuthService coordinates registration, login and the token lifecycle. Every token it
// retires goes through the denylist, and every token it accepts is checked against it.
type AuthService struct {
	users    port.UserRepository
	hasher   port.PasswordHasher
	policy   port.PasswordPolicyValidator
	tokens   port.TokenIssuer
	denylist port.TokenDenylist
	clock    clockwork.Clock
	logger   *zap.Logger
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(
	users port.UserRepository,
	hasher port.PasswordHasher,
	policy port.PasswordPolicyValidator,
	tokens port.TokenIssuer,
	denylist port.TokenDenylist,
	clk clockwork.Clock,
	log *zap.Logger,
) (*AuthService, error) {
	if users == nil || hasher == nil || policy == nil || tokens == nil || denylist == nil {
		return nil, fmt.Errorf("auth service: missing dependency")
	}
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &AuthService{
		users:    users,
		hasher:   hasher,
		policy:   policy,
		tokens:   tokens,
		denylist: denylist,
		clock:    clk,
		logger:   log,
	}, nil
}

// Register creates an account after validating the email and password policy.
func (s *AuthService) Register(ctx context.Context, email, password string) (domain.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return domain.User{}, err
	}

	if err := s.policy.Validate(password, email); err != nil {
		var violation *security.PasswordValidationError
		if errors.As(err, &violation) {
			return domain.User{}, fmt.Errorf("%w: %s", ErrWeakPassword, violation.Message)
		}
		return domain.User{}, fmt.Errorf("validate password: %w", err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.clock.Now().UTC(),
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return domain.User{}, ErrEmailTaken
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}

	logger.WithContext(ctx).Info("user registered",
		zap.String("user_id", user.ID),
		zap.String("email", logger.MaskEmail(user.Email)),
	)

	return user.Sanitized(), nil
}

// Authenticate validates credentials and issues an access and refresh token pair.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (domain.TokenPair, domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return domain.TokenPair{}, domain.User{}, ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.TokenPair{}, domain.User{}, ErrInvalidCredentials
		}
		return domain.TokenPair{}, domain.User{}, fmt.Errorf("lookup user: %w", err)
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return domain.TokenPair{}, domain.User{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return domain.TokenPair{}, domain.User{}, ErrInvalidCredentials
	}

	if err := s.users.TouchLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn("failed to record last login", zap.String("user_id", user.ID), zap.Error(err))
	}

	pair, err := s.issuePair(*user)
	if err != nil {
		return domain.TokenPair{}, domain.User{}, err
	}

	return pair, user.Sanitized(), nil
}

// ParseAccessToken verifies the token cryptographically and rejects denied tokens.
// A denied token is indistinguishable from any other invalid token.
func (s *AuthService) ParseAccessToken(ctx context.Context, raw string) (domain.TokenClaims, error) {
	claims, err := s.tokens.Parse(raw, domain.TokenTypeAccess)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return domain.TokenClaims{}, ErrExpiredAccessToken
		}
		return domain.TokenClaims{}, ErrInvalidAccessToken
	}

	if s.denylist.IsDenied(ctx, claims.JTI) {
		return domain.TokenClaims{}, ErrInvalidAccessToken
	}

	return claims, nil
}

// Refresh exchanges a refresh token for a new pair. The presented refresh token is
// claimed on the denylist before the new pair is issued, so among concurrent
// refreshes of one token only the first succeeds.
func (s *AuthService) Refresh(ctx context.Context, raw string) (domain.TokenPair, error) {
	claims, err := s.tokens.Parse(raw, domain.TokenTypeRefresh)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return domain.TokenPair{}, ErrExpiredRefreshToken
		}
		return domain.TokenPair{}, ErrInvalidRefreshToken
	}

	alreadyDenied, err := s.denylist.Claim(ctx, claims.JTI, claims.ExpiresAt)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("claim refresh token: %w", err)
	}
	if alreadyDenied {
		logger.WithContext(ctx).Warn("denied refresh token presented",
			zap.String("user_id", claims.UserID),
			zap.String("jti", security.Fingerprint(claims.JTI)),
		)
		return domain.TokenPair{}, ErrInvalidRefreshToken
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.TokenPair{}, ErrInvalidRefreshToken
		}
		return domain.TokenPair{}, fmt.Errorf("lookup user: %w", err)
	}

	return s.issuePair(*user)
}

// Logout denies the access token and, when supplied, the caller's refresh token.
// A refresh token that does not parse or belongs to another user is ignored.
func (s *AuthService) Logout(ctx context.Context, access domain.TokenClaims, rawRefresh string) error {
	if err := s.denylist.Deny(ctx, access.JTI, access.ExpiresAt); err != nil {
		return fmt.Errorf("deny access token: %w", err)
	}

	if strings.TrimSpace(rawRefresh) == "" {
		return nil
	}

	refresh, err := s.tokens.Parse(rawRefresh, domain.TokenTypeRefresh)
	if err != nil || refresh.UserID != access.UserID {
		return nil
	}
	if err := s.denylist.Deny(ctx, refresh.JTI, refresh.ExpiresAt); err != nil {
		return fmt.Errorf("deny refresh token: %w", err)
	}
	return nil
}

// Me returns the account behind verified access claims.
func (s *AuthService) Me(ctx context.Context, claims domain.TokenClaims) (domain.User, error) {
	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.User{}, ErrInvalidAccessToken
		}
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user.Sanitized(), nil
}

// DeleteAccount removes the account and denies the token that requested it.
func (s *AuthService) DeleteAccount(ctx context.Context, claims domain.TokenClaims) error {
	if err := s.users.Delete(ctx, claims.UserID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("delete user: %w", err)
	}

	if err := s.denylist.Deny(ctx, claims.JTI, claims.ExpiresAt); err != nil {
		return fmt.Errorf("deny access token: %w", err)
	}

	logger.WithContext(ctx).Info("user deleted", zap.String("user_id", claims.UserID))
	return nil
}

func (s *AuthService) issuePair(user domain.User) (domain.TokenPair, error) {
	access, accessClaims, err := s.tokens.Issue(user, domain.TokenTypeAccess)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, refreshClaims, err := s.tokens.Issue(user, domain.TokenTypeRefresh)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("issue refresh token: %w", err)
	}

	return domain.TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessClaims.ExpiresAt,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshClaims.ExpiresAt,
	}, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}
