package security

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPasswordPolicy(t *testing.T) {
	policy, err := NewPasswordPolicy(10, 3)
	require.NoError(t, err)

	cases := []struct {
		name     string
		password string
		inputs   []string
		code     string
	}{
		{name: "strong", password: "C0mplex!Passphrase#2025"},
		{name: "short", password: "Short1!", code: "min_length"},
		{name: "common", password: "Password123", code: "weak_password"},
		{name: "contains email", password: "riderexample", inputs: []string{"riderexample@example.com"}, code: "weak_password"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := policy.Validate(tc.password, tc.inputs...)
			if tc.code == "" {
				require.NoError(t, err)
				return
			}

			var vErr *PasswordValidationError
			require.ErrorAs(t, err, &vErr)
			require.Equal(t, tc.code, vErr.Code)
		})
	}
}

func TestNewPasswordPolicyValidation(t *testing.T) {
	_, err := NewPasswordPolicy(0, 3)
	require.ErrorIs(t, err, ErrInvalidConfig)

	policy, err := NewPasswordPolicy(4, 9)
	require.NoError(t, err)
	require.Equal(t, maxZxcvbnScore, policy.minScore, "score clamp")
}
