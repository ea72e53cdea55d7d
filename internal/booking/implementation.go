// internal/booking/implementation.go
package booking

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// service implements the Service interface.
type service struct {
	store    Store
	snapshot Snapshot
	policy   Policy
	clock    Clock
	logger   *zap.Logger
	tracer   trace.Tracer
	outcomes metric.Int64Counter
}

// NewService creates a new booking service. A nil snapshot reads the store
// directly, a nil clock uses the system clock and a nil logger discards.
func NewService(store Store, snapshot Snapshot, policy Policy, clock Clock, logger *zap.Logger) Service {
	if snapshot == nil {
		snapshot = NewStoreSnapshot(store)
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	outcomes, err := otel.Meter("staybook/booking").Int64Counter("booking.operations",
		metric.WithDescription("Booking operations by outcome"))
	if err != nil {
		logger.Warn("booking metrics disabled", zap.Error(err))
	}
	return &service{
		store:    store,
		snapshot: snapshot,
		policy:   policy,
		clock:    clock,
		logger:   logger.Named("booking"),
		tracer:   otel.Tracer("staybook/booking"),
		outcomes: outcomes,
	}
}

// Create runs the booking protocol: fail-fast validation, the advisory
// pre-check, then the authoritative read-validate-write transaction.
func (s *service) Create(ctx context.Context, principal *Principal, resourceID string, candidate DateRange) (*Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "booking.create",
		trace.WithAttributes(
			attribute.String("resource.id", resourceID),
			attribute.String("range", candidate.String()),
		),
	)
	defer span.End()

	reservation, err := s.create(ctx, principal, resourceID, candidate)
	s.record(ctx, "create", err)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("outcome", Kind(err)))
		return nil, err
	}

	span.SetAttributes(attribute.String("reservation.id", reservation.ID))
	return reservation, nil
}

func (s *service) create(ctx context.Context, principal *Principal, resourceID string, candidate DateRange) (*Reservation, error) {
	// Step 1: Identity
	if principal == nil {
		return nil, ErrNotAuthorized
	}
	if !principal.EmailVerified && !principal.IsAdmin {
		return nil, ErrEmailNotVerified
	}

	// Step 2: Range
	if resourceID == "" {
		return nil, fmt.Errorf("%w: missing resource", ErrInvalidRange)
	}
	if err := candidate.Validate(); err != nil {
		return nil, err
	}
	candidate = candidate.Normalized()

	// Step 3: Advisory pre-check against a possibly stale snapshot
	booked, err := s.snapshot.BookedRanges(ctx, resourceID)
	if err != nil {
		s.logger.Warn("advisory pre-check skipped",
			zap.String("resource_id", resourceID), zap.Error(err))
	} else if HasConflict(candidate, booked) {
		return nil, ErrAlreadyBooked
	}

	// Step 4: Authoritative check-and-write
	var created Reservation
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		existing, err := tx.ActiveByResource(ctx, resourceID)
		if err != nil {
			return err
		}
		if blocking, ok := ConflictsWith(candidate, existing); ok {
			s.logger.Debug("candidate overlaps committed reservation",
				zap.String("resource_id", resourceID),
				zap.Stringer("candidate", candidate),
				zap.String("blocking_id", blocking.ID))
			return ErrAlreadyBooked
		}

		prior, err := tx.ActiveByPrincipal(ctx, principal.ID, MonthOf(candidate.From))
		if err != nil {
			return err
		}
		if decision := s.policy.Evaluate(candidate, *principal, prior); decision != Allowed {
			return decision.Err()
		}

		created = Reservation{
			ID:             uuid.NewString(),
			ResourceID:     resourceID,
			PrincipalID:    principal.ID,
			Range:          candidate,
			Nights:         candidate.Nights(),
			CreatedAt:      s.clock.Now(),
			Status:         StatusActive,
			IsAdminBooking: principal.IsAdmin,
		}
		return tx.Put(ctx, created)
	})
	if err != nil {
		return nil, err
	}

	if err := s.snapshot.Remember(ctx, resourceID, candidate); err != nil {
		s.logger.Warn("snapshot not updated", zap.String("resource_id", resourceID), zap.Error(err))
	}

	s.logger.Info("reservation created",
		zap.String("reservation_id", created.ID),
		zap.String("resource_id", resourceID),
		zap.String("principal_id", principal.ID),
		zap.Stringer("range", candidate),
		zap.Bool("admin_booking", created.IsAdminBooking))
	return &created, nil
}

// Cancel marks a reservation cancelled on behalf of an admin.
func (s *service) Cancel(ctx context.Context, principal *Principal, reservationID string) error {
	ctx, span := s.tracer.Start(ctx, "booking.cancel",
		trace.WithAttributes(attribute.String("reservation.id", reservationID)),
	)
	defer span.End()

	err := s.cancel(ctx, principal, reservationID)
	s.record(ctx, "cancel", err)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (s *service) cancel(ctx context.Context, principal *Principal, reservationID string) error {
	if principal == nil || !principal.IsAdmin {
		return ErrNotAuthorized
	}
	if reservationID == "" {
		return ErrReservationNotFound
	}

	var (
		resourceID string
		changed    bool
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		r, err := tx.Get(ctx, reservationID)
		if err != nil {
			return err
		}
		resourceID = r.ResourceID
		if r.Status == StatusCancelled {
			return nil
		}
		changed = true
		return tx.Cancel(ctx, reservationID, s.clock.Now())
	})
	if err != nil {
		return err
	}

	if !changed {
		s.logger.Debug("reservation already cancelled", zap.String("reservation_id", reservationID))
		return nil
	}

	if err := s.snapshot.Forget(ctx, resourceID); err != nil {
		s.logger.Warn("snapshot not invalidated", zap.String("resource_id", resourceID), zap.Error(err))
	}
	s.logger.Info("reservation cancelled",
		zap.String("reservation_id", reservationID),
		zap.String("resource_id", resourceID),
		zap.String("admin_id", principal.ID))
	return nil
}

// BookedRanges lists the blocked ranges of a resource from the snapshot.
func (s *service) BookedRanges(ctx context.Context, resourceID string) ([]DateRange, error) {
	if resourceID == "" {
		return nil, fmt.Errorf("%w: missing resource", ErrInvalidRange)
	}
	ranges, err := s.snapshot.BookedRanges(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to read booked ranges: %w", err)
	}
	return ranges, nil
}

func (s *service) record(ctx context.Context, op string, err error) {
	if s.outcomes == nil {
		return
	}
	s.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", Kind(err)),
	))
}
