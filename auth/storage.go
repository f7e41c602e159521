package auth

import (
	"context"

	"github.com/ccmanuelf/kpi-operations-sub013/domain"
)

// UserStore defines the interface for user lookup during authentication.
// The repository layer satisfies it; tests use a map-backed fake.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
}
