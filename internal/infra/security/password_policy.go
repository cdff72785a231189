package security

import (
	"fmt"
	"strings"

	zxcvbn "github.com/nbutton23/zxcvbn-go"

	"github.com/arklim/transit-tracker/internal/core/port"
)

const maxZxcvbnScore = 4

// PasswordValidationError represents a single password policy violation.
type PasswordValidationError struct {
	Code    string
	Message string
}

// Error implements error for PasswordValidationError.
func (e *PasswordValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// PasswordPolicy rejects short passwords and passwords zxcvbn scores below the minimum.
type PasswordPolicy struct {
	minLength int
	minScore  int
}

// NewPasswordPolicy builds a policy. A minScore above 4 is clamped.
func NewPasswordPolicy(minLength, minScore int) (*PasswordPolicy, error) {
	if minLength <= 0 {
		return nil, fmt.Errorf("%w: password min length must be positive", ErrInvalidConfig)
	}
	if minScore < 0 {
		return nil, fmt.Errorf("%w: password min score must not be negative", ErrInvalidConfig)
	}
	if minScore > maxZxcvbnScore {
		minScore = maxZxcvbnScore
	}
	return &PasswordPolicy{minLength: minLength, minScore: minScore}, nil
}

// Validate returns a *PasswordValidationError for the first violated rule.
// userInputs (email, name) lower the strength score when the password contains them.
func (p *PasswordPolicy) Validate(password string, userInputs ...string) error {
	if len([]rune(password)) < p.minLength {
		return &PasswordValidationError{
			Code:    "min_length",
			Message: fmt.Sprintf("password must be at least %d characters long", p.minLength),
		}
	}

	if p.minScore == 0 {
		return nil
	}

	inputs := make([]string, 0, len(userInputs)*2)
	for _, input := range userInputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		inputs = append(inputs, input)
		if local, _, ok := strings.Cut(input, "@"); ok && local != "" {
			inputs = append(inputs, local)
		}
	}

	if zxcvbn.PasswordStrength(password, inputs).Score < p.minScore {
		return &PasswordValidationError{
			Code:    "weak_password",
			Message: "password is too weak; choose a more complex value",
		}
	}
	return nil
}

var _ port.PasswordPolicyValidator = (*PasswordPolicy)(nil)
