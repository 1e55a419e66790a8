package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const RoleAdmin = "admin"

// ErrInvalidToken is returned when a bearer token cannot be verified.
var ErrInvalidToken = errors.New("invalid access token")

// Identity is the caller resolved from a bearer token.
type Identity struct {
	UserID    uuid.UUID
	Email     string
	Role      string
	CreatedAt time.Time
}

// IsAdmin reports whether the provider-issued role grants admin access.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Verifier resolves a bearer token into an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}
