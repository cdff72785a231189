package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/arklim/transit-tracker/internal/core/port"
)

const (
	argon2Variant = "argon2id"
	argon2Version = "v=19"
)

var errInvalidHashFormat = errors.New("argon2: invalid encoded hash format")

// Argon2Config defines tunable parameters for Argon2id password hashing.
type Argon2Config struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Config returns the recommended Argon2id parameters.
func DefaultArgon2Config() Argon2Config {
	return Argon2Config{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (c Argon2Config) validate() error {
	switch {
	case c.Memory < 8*1024:
		return fmt.Errorf("%w: argon2 memory must be at least 8192", ErrInvalidConfig)
	case c.Iterations == 0:
		return fmt.Errorf("%w: argon2 iterations must be greater than zero", ErrInvalidConfig)
	case c.Parallelism == 0:
		return fmt.Errorf("%w: argon2 parallelism must be greater than zero", ErrInvalidConfig)
	case c.SaltLength < 8:
		return fmt.Errorf("%w: argon2 salt length must be at least 8 bytes", ErrInvalidConfig)
	case c.KeyLength < 16:
		return fmt.Errorf("%w: argon2 key length must be at least 16 bytes", ErrInvalidConfig)
	}
	return nil
}

// Argon2Hasher hashes passwords with Argon2id. Hashes embed their parameters, so
// changing the configuration does not invalidate stored hashes.
type Argon2Hasher struct {
	cfg Argon2Config
}

// NewArgon2Hasher validates cfg and returns a hasher.
func NewArgon2Hasher(cfg Argon2Config) (*Argon2Hasher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Argon2Hasher{cfg: cfg}, nil
}

// Hash encodes the password as argon2id$v=19$m=<memory>,t=<iterations>,p=<parallelism>$<salt>$<hash>.
func (h *Argon2Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.cfg.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("argon2: generate salt: %w", err)
	}

	sum := argon2.IDKey([]byte(password), salt, h.cfg.Iterations, h.cfg.Memory, h.cfg.Parallelism, h.cfg.KeyLength)

	return strings.Join([]string{
		argon2Variant,
		argon2Version,
		fmt.Sprintf("m=%d,t=%d,p=%d", h.cfg.Memory, h.cfg.Iterations, h.cfg.Parallelism),
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	}, "$"), nil
}

// Verify compares password against an encoded hash in constant time.
func (h *Argon2Hasher) Verify(password, encoded string) (bool, error) {
	if password == "" || encoded == "" {
		return false, nil
	}

	params, salt, expected, err := decodeArgon2Hash(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

func decodeArgon2Hash(encoded string) (Argon2Config, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[0] != argon2Variant {
		return Argon2Config{}, nil, nil, errInvalidHashFormat
	}
	if parts[1] != argon2Version {
		return Argon2Config{}, nil, nil, fmt.Errorf("argon2: unsupported version %q", parts[1])
	}

	var cfg Argon2Config
	if _, err := fmt.Sscanf(parts[2], "m=%d,t=%d,p=%d", &cfg.Memory, &cfg.Iterations, &cfg.Parallelism); err != nil {
		return Argon2Config{}, nil, nil, fmt.Errorf("argon2: parse parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return Argon2Config{}, nil, nil, fmt.Errorf("argon2: decode salt: %w", err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Argon2Config{}, nil, nil, fmt.Errorf("argon2: decode hash: %w", err)
	}

	cfg.SaltLength = uint32(len(salt))
	cfg.KeyLength = uint32(len(hash))
	if err := cfg.validate(); err != nil {
		return Argon2Config{}, nil, nil, fmt.Errorf("argon2: stored hash: %w", err)
	}

	return cfg, salt, hash, nil
}

var _ port.PasswordHasher = (*Argon2Hasher)(nil)
