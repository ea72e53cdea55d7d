// Package postgres stores reservations in PostgreSQL. Every booking
// transaction runs at SERIALIZABLE isolation, so two transactions that both
// read an empty calendar and both insert into it cannot both commit; the
// loser fails with a serialization error that is reported as
// booking.ErrTransientConflict.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"staybook/internal/booking"
	"staybook/internal/eventstore"
)

//go:embed schema.sql
var schema string

const aggregateType = "reservation"

// Store implements booking.Store.
type Store struct {
	db     *sqlx.DB
	events *eventstore.EventStore
	tracer trace.Tracer
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return New(db), nil
}

func New(db *sqlx.DB) *Store {
	return &Store{
		db:     db,
		events: eventstore.New(),
		tracer: otel.Tracer("staybook/storage/postgres"),
	}
}

// DB exposes the pool so that other repositories can share it.
func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the reservation and event tables if they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create reservation schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, eventstore.Schema); err != nil {
		return fmt.Errorf("create event schema: %w", err)
	}
	return nil
}

// RunInTx implements booking.Store.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	ctx, span := s.tracer.Start(ctx, "postgres.run_in_tx")
	defer span.End()

	err := s.runInTx(ctx, fn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, booking.Kind(err))
	}
	span.SetAttributes(attribute.String("outcome", booking.Kind(err)))
	return err
}

func (s *Store) runInTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return classify("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &pgTx{tx: tx, events: s.events}); err != nil {
		return classify("transaction", err)
	}

	if err := tx.Commit(); err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

// ActiveByResource implements booking.Store.
func (s *Store) ActiveByResource(ctx context.Context, resourceID string) ([]booking.Reservation, error) {
	rs, err := activeByResource(ctx, s.db, resourceID)
	if err != nil {
		return nil, classify("read reservations", err)
	}
	return rs, nil
}

// History returns the recorded events of a reservation, oldest first.
func (s *Store) History(ctx context.Context, reservationID string) ([]eventstore.Event, error) {
	events, err := s.events.Load(ctx, s.db.DB, reservationID)
	if err != nil {
		return nil, classify("load history", err)
	}
	return events, nil
}

// classify maps driver failures onto the booking error taxonomy. Errors that
// already carry a booking sentinel pass through unchanged.
func classify(op string, err error) error {
	if booking.IsDomainError(err) {
		return err
	}
	if errors.Is(err, eventstore.ErrConcurrencyConflict) {
		return fmt.Errorf("%w: %s: %v", booking.ErrTransientConflict, op, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "23505":
			// serialization_failure, deadlock_detected, unique_violation
			return fmt.Errorf("%w: %s: %v", booking.ErrTransientConflict, op, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", booking.ErrStoreUnavailable, op, err)
}

type reservationRow struct {
	ID             string       `db:"id"`
	ResourceID     string       `db:"resource_id"`
	PrincipalID    string       `db:"principal_id"`
	DateFrom       time.Time    `db:"date_from"`
	DateTo         time.Time    `db:"date_to"`
	Nights         int          `db:"nights"`
	Status         string       `db:"status"`
	CreatedAt      time.Time    `db:"created_at"`
	CancelledAt    sql.NullTime `db:"cancelled_at"`
	IsAdminBooking bool         `db:"is_admin_booking"`
}

func (row reservationRow) toReservation() (booking.Reservation, error) {
	status, err := booking.ParseStatus(row.Status)
	if err != nil {
		return booking.Reservation{}, err
	}
	r := booking.Reservation{
		ID:          row.ID,
		ResourceID:  row.ResourceID,
		PrincipalID: row.PrincipalID,
		Range: booking.DateRange{
			From: booking.Normalize(row.DateFrom),
			To:   booking.Normalize(row.DateTo),
		},
		Nights:         row.Nights,
		CreatedAt:      row.CreatedAt.UTC(),
		Status:         status,
		IsAdminBooking: row.IsAdminBooking,
	}
	if row.CancelledAt.Valid {
		at := row.CancelledAt.Time.UTC()
		r.CancelledAt = &at
	}
	return r, nil
}

func toReservations(rows []reservationRow) ([]booking.Reservation, error) {
	out := make([]booking.Reservation, 0, len(rows))
	for _, row := range rows {
		r, err := row.toReservation()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

const selectColumns = `
	SELECT id, resource_id, principal_id, date_from, date_to, nights, status,
	       created_at, cancelled_at, is_admin_booking
	FROM reservations
`

func activeByResource(ctx context.Context, q sqlx.QueryerContext, resourceID string) ([]booking.Reservation, error) {
	var rows []reservationRow
	err := sqlx.SelectContext(ctx, q, &rows, selectColumns+`
		WHERE resource_id = $1 AND status = 'active'
		ORDER BY date_from, id
	`, resourceID)
	if err != nil {
		return nil, err
	}
	return toReservations(rows)
}

type pgTx struct {
	tx     *sqlx.Tx
	events *eventstore.EventStore
}

func (t *pgTx) ActiveByResource(ctx context.Context, resourceID string) ([]booking.Reservation, error) {
	return activeByResource(ctx, t.tx, resourceID)
}

func (t *pgTx) ActiveByPrincipal(ctx context.Context, principalID string, month booking.Month) ([]booking.Reservation, error) {
	var rows []reservationRow
	err := t.tx.SelectContext(ctx, &rows, selectColumns+`
		WHERE principal_id = $1 AND status = 'active'
		  AND date_from BETWEEN $2 AND $3
		ORDER BY date_from, id
	`, principalID, month.Start().Format(booking.DayLayout), month.End().Format(booking.DayLayout))
	if err != nil {
		return nil, err
	}
	return toReservations(rows)
}

func (t *pgTx) Get(ctx context.Context, id string) (booking.Reservation, error) {
	var row reservationRow
	err := t.tx.GetContext(ctx, &row, selectColumns+`WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return booking.Reservation{}, booking.ErrReservationNotFound
	}
	if err != nil {
		return booking.Reservation{}, err
	}
	return row.toReservation()
}

func (t *pgTx) Put(ctx context.Context, r booking.Reservation) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO reservations (id, resource_id, principal_id, date_from, date_to, nights,
		                          status, created_at, is_admin_booking)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.ResourceID, r.PrincipalID,
		r.Range.From.Format(booking.DayLayout), r.Range.To.Format(booking.DayLayout),
		r.Nights, r.Status.String(), r.CreatedAt, r.IsAdminBooking)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}

	event, err := eventstore.NewEvent("ReservationCreated", booking.ReservationCreatedEvent{
		ReservationID:  r.ID,
		ResourceID:     r.ResourceID,
		PrincipalID:    r.PrincipalID,
		Range:          r.Range,
		Nights:         r.Nights,
		IsAdminBooking: r.IsAdminBooking,
	})
	if err != nil {
		return err
	}
	return t.events.Append(ctx, t.tx.Tx, r.ID, aggregateType, 0, []eventstore.Event{event})
}

func (t *pgTx) Cancel(ctx context.Context, id string, at time.Time) error {
	var resourceID string
	err := t.tx.QueryRowxContext(ctx, `
		UPDATE reservations
		SET status = 'cancelled', cancelled_at = $2
		WHERE id = $1 AND status = 'active'
		RETURNING resource_id
	`, id, at).Scan(&resourceID)
	if errors.Is(err, sql.ErrNoRows) {
		// Someone else cancelled it after our read.
		return fmt.Errorf("%w: reservation %s is no longer active", booking.ErrTransientConflict, id)
	}
	if err != nil {
		return fmt.Errorf("cancel reservation: %w", err)
	}

	version, err := t.events.CurrentVersion(ctx, t.tx, id)
	if err != nil {
		return err
	}
	event, err := eventstore.NewEvent("ReservationCancelled", booking.ReservationCancelledEvent{
		ReservationID: id,
		ResourceID:    resourceID,
		CancelledAt:   at,
	})
	if err != nil {
		return err
	}
	return t.events.Append(ctx, t.tx.Tx, id, aggregateType, version, []eventstore.Event{event})
}
