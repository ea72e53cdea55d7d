// internal/identity/domain.go
package identity

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput       = errors.New("invalid registration input")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrAccountNotFound    = errors.New("account not found")
	ErrInvalidToken       = errors.New("invalid session token")
)

// Account represents a registered user.
type Account struct {
	ID            uuid.UUID `json:"id" db:"id"`
	Email         string    `json:"email" db:"email"`
	Name          string    `json:"name" db:"name"`
	EmailVerified bool      `json:"email_verified" db:"email_verified"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Credential represents an account's login credentials.
type Credential struct {
	AccountID    uuid.UUID `db:"account_id"`
	PasswordHash string    `db:"password_hash"`
	Salt         string    `db:"salt"`
}

// AccountRegisteredEvent is recorded when a new account registers.
type AccountRegisteredEvent struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Name  string    `json:"name"`
}

// EmailVerifiedEvent is recorded when an account's email is confirmed.
type EmailVerifiedEvent struct {
	ID uuid.UUID `json:"id"`
}
