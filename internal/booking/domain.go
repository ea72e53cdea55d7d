// internal/booking/domain.go
package booking

import (
	"fmt"
	"time"
)

// Principal identifies the acting user. It is produced by the identity
// provider; the booking engine only reads it.
type Principal struct {
	ID            string `json:"id"`
	IsAdmin       bool   `json:"is_admin"`
	EmailVerified bool   `json:"email_verified"`
}

// Status is the lifecycle state of a reservation. The only transition is
// StatusActive -> StatusCancelled.
type Status int

const (
	StatusActive Status = iota + 1
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ParseStatus maps the persisted form back to a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "active":
		return StatusActive, nil
	case "cancelled":
		return StatusCancelled, nil
	default:
		return 0, fmt.Errorf("unknown reservation status %q", s)
	}
}

func (s Status) MarshalText() ([]byte, error) {
	if s != StatusActive && s != StatusCancelled {
		return nil, fmt.Errorf("cannot marshal %s", s)
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Reservation is the persisted booking record of one resource by one principal.
type Reservation struct {
	ID             string     `json:"id"`
	ResourceID     string     `json:"resource_id"`
	PrincipalID    string     `json:"principal_id"`
	Range          DateRange  `json:"range"`
	Nights         int        `json:"nights"`
	CreatedAt      time.Time  `json:"created_at"`
	Status         Status     `json:"status"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	IsAdminBooking bool       `json:"is_admin_booking"`
}

// Active reports whether the reservation still blocks its dates.
func (r Reservation) Active() bool {
	return r.Status == StatusActive
}

// Clone returns a copy that shares no pointers with r.
func (r Reservation) Clone() Reservation {
	if r.CancelledAt != nil {
		at := *r.CancelledAt
		r.CancelledAt = &at
	}
	return r
}

// ReservationCreatedEvent is recorded when a reservation commits.
type ReservationCreatedEvent struct {
	ReservationID  string    `json:"reservation_id"`
	ResourceID     string    `json:"resource_id"`
	PrincipalID    string    `json:"principal_id"`
	Range          DateRange `json:"range"`
	Nights         int       `json:"nights"`
	IsAdminBooking bool      `json:"is_admin_booking"`
}

// ReservationCancelledEvent is recorded when an admin cancels a reservation.
type ReservationCancelledEvent struct {
	ReservationID string    `json:"reservation_id"`
	ResourceID    string    `json:"resource_id"`
	CancelledAt   time.Time `json:"cancelled_at"`
}
