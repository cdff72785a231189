package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestHasher(t *testing.T) *Argon2Hasher {
	t.Helper()
	hasher, err := NewArgon2Hasher(Argon2Config{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	require.NoError(t, err)
	return hasher
}

func TestArgon2HasherRoundTrip(t *testing.T) {
	hasher := newTestHasher(t)
	password := "correct horse battery staple"

	encoded, err := hasher.Hash(password)
	require.NoError(t, err)

	parts := strings.Split(encoded, "$")
	require.Len(t, parts, 5, "unexpected hash format: %q", encoded)
	require.Equal(t, argon2Variant, parts[0])
	require.Equal(t, argon2Version, parts[1])
	require.Equal(t, "m=8192,t=1,p=1", parts[2], "parameters not embedded")

	ok, err := hasher.Verify(password, encoded)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = hasher.Verify("Tr0ub4dor&3", encoded)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestArgon2HasherVerifiesHashesFromOtherParameters(t *testing.T) {
	encoded, err := newTestHasher(t).Hash("another passphrase")
	require.NoError(t, err)

	stronger, err := NewArgon2Hasher(DefaultArgon2Config())
	require.NoError(t, err)

	ok, err := stronger.Verify("another passphrase", encoded)
	require.NoError(t, err)
	require.True(t, ok, "hash produced with other parameters must still verify")
}

func TestArgon2HasherRejectsMalformedHashes(t *testing.T) {
	hasher := newTestHasher(t)

	for _, encoded := range []string{
		"invalid-format",
		"bcrypt$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		"argon2id$v=18$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		"argon2id$v=19$m=1,t=1,p=1$c2FsdHNhbHRzYWx0$aGFzaGhhc2hoYXNoaGFzaA",
	} {
		_, err := hasher.Verify("password", encoded)
		require.Error(t, err, "expected error for %q", encoded)
	}

	ok, err := hasher.Verify("", "")
	require.NoError(t, err)
	require.False(t, ok, "empty inputs must not verify")
}

func TestNewArgon2HasherRejectsWeakConfig(t *testing.T) {
	cfg := DefaultArgon2Config()
	cfg.Memory = 1024
	_, err := NewArgon2Hasher(cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
