// internal/booking/service.go
package booking

import (
	"context"
)

// Service defines the interface for the booking engine.
type Service interface {
	// Create books candidate on resourceID for principal. Validation errors
	// are returned before any transaction is opened; conflicts and policy
	// denials are decided inside the transaction.
	Create(ctx context.Context, principal *Principal, resourceID string, candidate DateRange) (*Reservation, error)
	// Cancel transitions an active reservation to cancelled. Admin only;
	// cancelling an already cancelled reservation succeeds without changes.
	Cancel(ctx context.Context, principal *Principal, reservationID string) error
	// BookedRanges lists the ranges currently blocked on resourceID, for
	// calendar display. The answer may be stale.
	BookedRanges(ctx context.Context, resourceID string) ([]DateRange, error)
}
