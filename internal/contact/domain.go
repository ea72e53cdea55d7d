// internal/contact/domain.go
package contact

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidMessage    = errors.New("invalid contact message")
	ErrPolicyNotAccepted = errors.New("privacy policy not accepted")
	ErrDeliveryFailed    = errors.New("message delivery failed")
	ErrRelayUnavailable  = errors.New("mail relay unavailable")
)

// Message is what a signed-in visitor sends through the contact form.
type Message struct {
	Title          string    `json:"title" validate:"required,min=3,max=60"`
	FirstName      string    `json:"first_name" validate:"required,alpha,min=2"`
	LastName       string    `json:"last_name" validate:"required,alpha,min=2"`
	Email          string    `json:"email" validate:"required,email"`
	Phone          string    `json:"phone" validate:"required,numeric,len=10"`
	Body           string    `json:"message" validate:"required,min=10,max=500"`
	AgreedToPolicy bool      `json:"agreed_to_policy"`
	SentAt         time.Time `json:"sent_at,omitempty"`
}

// FieldError names a form field and what is wrong with it.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError lists every invalid field of a message.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Reason))
	}
	return fmt.Sprintf("%s: %s", ErrInvalidMessage, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidMessage
}
