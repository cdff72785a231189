package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/arklim/transit-tracker/internal/core/domain"
	"github.com/arklim/transit-tracker/internal/core/port"
	"github.com/arklim/transit-tracker/internal/infra/clock"
)

var (
	// ErrTokenInvalid covers malformed tokens, bad signatures and claim mismatches.
	ErrTokenInvalid = errors.New("jwt: invalid token")
	// ErrTokenExpired indicates a well-formed token past its expiry.
	ErrTokenExpired = errors.New("jwt: token expired")
)

const minSecretLength = 32

// JWTOptions configures token signing.
type JWTOptions struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// trackerClaims is the wire form of domain.TokenClaims.
type trackerClaims struct {
	UserID string           `json:"uid"`
	Email  string           `json:"email,omitempty"`
	Type   domain.TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// JWTManager issues and verifies HS256 access and refresh tokens. Every token gets a unique jti
// so it can be denied individually.
type JWTManager struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      clockwork.Clock
}

// NewJWTManager constructs a JWTManager. A nil clock selects the wall clock.
func NewJWTManager(opts JWTOptions, clk clockwork.Clock) (*JWTManager, error) {
	if len(opts.Secret) < minSecretLength {
		return nil, fmt.Errorf("%w: jwt secret must be at least %d bytes", ErrInvalidConfig, minSecretLength)
	}
	issuer := strings.TrimSpace(opts.Issuer)
	if issuer == "" {
		return nil, fmt.Errorf("%w: jwt issuer is required", ErrInvalidConfig)
	}
	if opts.AccessTTL <= 0 || opts.RefreshTTL <= 0 {
		return nil, fmt.Errorf("%w: jwt ttls must be positive", ErrInvalidConfig)
	}
	if clk == nil {
		clk = clock.New()
	}

	return &JWTManager{
		secret:     []byte(opts.Secret),
		issuer:     issuer,
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		clock:      clk,
	}, nil
}

// Issue signs a token of the given type for the user.
func (m *JWTManager) Issue(user domain.User, typ domain.TokenType) (string, domain.TokenClaims, error) {
	if strings.TrimSpace(user.ID) == "" {
		return "", domain.TokenClaims{}, fmt.Errorf("jwt: user id is required")
	}

	ttl, err := m.ttlFor(typ)
	if err != nil {
		return "", domain.TokenClaims{}, err
	}

	// NumericDate has second precision; truncate so the returned claims match what Parse yields.
	now := m.clock.Now().UTC().Truncate(time.Second)
	claims := trackerClaims{
		UserID: user.ID,
		Email:  user.Email,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", domain.TokenClaims{}, fmt.Errorf("jwt: sign token: %w", err)
	}

	return signed, toDomainClaims(claims), nil
}

// Parse verifies the signature, issuer, expiry and type of raw.
func (m *JWTManager) Parse(raw string, typ domain.TokenType) (domain.TokenClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.TokenClaims{}, ErrTokenInvalid
	}

	var claims trackerClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.TokenClaims{}, ErrTokenExpired
		}
		return domain.TokenClaims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if claims.Type != typ || strings.TrimSpace(claims.ID) == "" || strings.TrimSpace(claims.UserID) == "" {
		return domain.TokenClaims{}, ErrTokenInvalid
	}

	return toDomainClaims(claims), nil
}

func (m *JWTManager) ttlFor(typ domain.TokenType) (time.Duration, error) {
	switch typ {
	case domain.TokenTypeAccess:
		return m.accessTTL, nil
	case domain.TokenTypeRefresh:
		return m.refreshTTL, nil
	default:
		return 0, fmt.Errorf("jwt: unknown token type %q", typ)
	}
}

func toDomainClaims(claims trackerClaims) domain.TokenClaims {
	result := domain.TokenClaims{
		JTI:    claims.ID,
		UserID: claims.UserID,
		Email:  claims.Email,
		Type:   claims.Type,
	}
	if claims.IssuedAt != nil {
		result.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		result.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return result
}

var _ port.TokenIssuer = (*JWTManager)(nil)
