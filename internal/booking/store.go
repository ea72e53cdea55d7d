package booking

import (
	"context"
	"time"
)

// Store is the transactional system of record for reservations.
type Store interface {
	// RunInTx executes fn with isolated read/write access. The writes made
	// through tx commit atomically when fn returns nil and are discarded
	// otherwise. Losing a concurrency race surfaces as ErrTransientConflict;
	// backend failures as ErrStoreUnavailable. Errors returned by fn are
	// passed through.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// ActiveByResource is a non-transactional, possibly stale read used to
	// fill the advisory snapshot.
	ActiveByResource(ctx context.Context, resourceID string) ([]Reservation, error)
}

// Tx is the read/write view of a Store inside RunInTx.
type Tx interface {
	ActiveByResource(ctx context.Context, resourceID string) ([]Reservation, error)
	// ActiveByPrincipal returns the principal's active reservations whose
	// stay starts in month.
	ActiveByPrincipal(ctx context.Context, principalID string, month Month) ([]Reservation, error)
	// Get returns ErrReservationNotFound when id is unknown.
	Get(ctx context.Context, id string) (Reservation, error)
	Put(ctx context.Context, r Reservation) error
	// Cancel marks an active reservation cancelled at the given time.
	Cancel(ctx context.Context, id string, at time.Time) error
}

// Snapshot is the cheap, possibly stale view of booked ranges consulted
// before a transaction is opened. It is never the authority.
type Snapshot interface {
	BookedRanges(ctx context.Context, resourceID string) ([]DateRange, error)
	// Remember records a range that has just been committed.
	Remember(ctx context.Context, resourceID string, r DateRange) error
	// Forget drops whatever is known about resourceID.
	Forget(ctx context.Context, resourceID string) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
