// internal/identity/service.go
package identity

import (
	"context"

	"github.com/google/uuid"

	"staybook/internal/booking"
)

// Service defines the interface for the identity service.
type Service interface {
	Register(ctx context.Context, email, name, password string) (*Account, error)
	Authenticate(ctx context.Context, email, password string) (*Account, error)
	// Principal builds the booking principal of an account from its current
	// state, so admin grants and verification take effect on the next request.
	Principal(ctx context.Context, accountID uuid.UUID) (*booking.Principal, error)
	VerifyEmail(ctx context.Context, accountID uuid.UUID) error
}
