// internal/identity/implementation.go
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"staybook/internal/booking"
	"staybook/internal/eventstore"
)

// Schema creates the account tables. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id UUID PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	email_verified BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS credentials (
	account_id UUID PRIMARY KEY REFERENCES accounts (id) ON DELETE CASCADE,
	password_hash TEXT NOT NULL,
	salt TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS admins (
	account_id UUID PRIMARY KEY REFERENCES accounts (id) ON DELETE CASCADE
);
`

const aggregateType = "account"

// service implements the Service interface.
type service struct {
	eventStore *eventstore.EventStore
	db         *sqlx.DB
	limiter    *keyedLimiter
	logger     *zap.Logger
}

// NewService creates a new identity service instance. Each email gets five
// attempts per minute across registration and sign-in.
func NewService(es *eventstore.EventStore, db *sqlx.DB, logger *zap.Logger) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{
		eventStore: es,
		db:         db,
		limiter:    newKeyedLimiter(12*time.Second, 5),
		logger:     logger.Named("identity"),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var validate = validator.New()

type registration struct {
	Email    string `validate:"required,email"`
	Name     string `validate:"required"`
	Password string `validate:"min=8"`
}

// validateRegistration reports the first invalid field as ErrInvalidInput.
func validateRegistration(email, name, password string) error {
	err := validate.Struct(registration{Email: email, Name: strings.TrimSpace(name), Password: password})
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err
	}
	fe := errs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: %s is required", ErrInvalidInput, strings.ToLower(fe.Field()))
	case "min":
		return fmt.Errorf("%w: %s must be at least %s characters", ErrInvalidInput, strings.ToLower(fe.Field()), fe.Param())
	default:
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.ToLower(fe.Field()))
	}
}

// Register creates a new account with an unverified email.
func (s *service) Register(ctx context.Context, email, name, password string) (*Account, error) {
	email = normalizeEmail(email)
	if !s.limiter.Allow(email) {
		return nil, ErrRateLimited
	}
	if err := validateRegistration(email, name, password); err != nil {
		return nil, err
	}

	passwordHash, salt, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account := &Account{
		ID:        uuid.New(),
		Email:     email,
		Name:      strings.TrimSpace(name),
		CreatedAt: time.Now().UTC(),
	}
	credential := &Credential{
		AccountID:    account.ID,
		PasswordHash: passwordHash,
		Salt:         salt,
	}

	if err := s.insertAccount(ctx, account, credential); err != nil {
		return nil, err
	}

	s.logger.Info("account registered", zap.String("account_id", account.ID.String()))
	return account, nil
}

func (s *service) insertAccount(ctx context.Context, account *Account, credential *Credential) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO accounts (id, email, name, email_verified, created_at)
		VALUES (:id, :email, :name, :email_verified, :created_at)
	`, account)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO credentials (account_id, password_hash, salt)
		VALUES (:account_id, :password_hash, :salt)
	`, credential)
	if err != nil {
		return fmt.Errorf("failed to insert credential: %w", err)
	}

	event, err := eventstore.NewEvent("AccountRegistered", AccountRegisteredEvent{
		ID:    account.ID,
		Email: account.Email,
		Name:  account.Name,
	})
	if err != nil {
		return err
	}
	if err := s.eventStore.Append(ctx, tx.Tx, account.ID.String(), aggregateType, 0, []eventstore.Event{event}); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return tx.Commit()
}

// Authenticate verifies an account's credentials and returns the account if successful.
func (s *service) Authenticate(ctx context.Context, email, password string) (*Account, error) {
	email = normalizeEmail(email)
	if !s.limiter.Allow(email) {
		return nil, ErrRateLimited
	}

	var row struct {
		Account
		PasswordHash string `db:"password_hash"`
		Salt         string `db:"salt"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT a.id, a.email, a.name, a.email_verified, a.created_at, c.password_hash, c.salt
		FROM accounts a
		JOIN credentials c ON c.account_id = a.id
		WHERE a.email = $1
	`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	ok, err := verifyPassword(password, row.Salt, row.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	account := row.Account
	return &account, nil
}

// Principal implements Service.
func (s *service) Principal(ctx context.Context, accountID uuid.UUID) (*booking.Principal, error) {
	var row struct {
		ID            uuid.UUID `db:"id"`
		EmailVerified bool      `db:"email_verified"`
		IsAdmin       bool      `db:"is_admin"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT a.id, a.email_verified,
		       EXISTS (SELECT 1 FROM admins ad WHERE ad.account_id = a.id) AS is_admin
		FROM accounts a
		WHERE a.id = $1
	`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load principal: %w", err)
	}

	return &booking.Principal{
		ID:            row.ID.String(),
		IsAdmin:       row.IsAdmin,
		EmailVerified: row.EmailVerified,
	}, nil
}

// VerifyEmail marks the account's email as confirmed. Verifying twice is a no-op.
func (s *service) VerifyEmail(ctx context.Context, accountID uuid.UUID) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE accounts SET email_verified = TRUE
		WHERE id = $1 AND NOT email_verified
	`, accountID)
	if err != nil {
		return fmt.Errorf("failed to verify email: %w", err)
	}
	changed, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if changed == 0 {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID); err != nil {
			return err
		}
		if !exists {
			return ErrAccountNotFound
		}
		return nil
	}

	version, err := s.eventStore.CurrentVersion(ctx, tx, accountID.String())
	if err != nil {
		return err
	}
	event, err := eventstore.NewEvent("EmailVerified", EmailVerifiedEvent{ID: accountID})
	if err != nil {
		return err
	}
	if err := s.eventStore.Append(ctx, tx.Tx, accountID.String(), aggregateType, version, []eventstore.Event{event}); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return tx.Commit()
}
