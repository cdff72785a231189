package port

import (
	"context"

	"github.com/arklim/transit-tracker/internal/core/domain"
)

// UserRepository exposes persistence behavior for users.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	TouchLastLogin(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}
