package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staybook/internal/booking"
	"staybook/internal/eventstore"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		connStr = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			getEnv("PGHOST", "localhost"), getEnv("PGPORT", "5432"), getEnv("PGUSER", "user"),
			getEnv("PGPASSWORD", "password"), getEnv("PGDATABASE", "testdb"))
	}

	db, err := sqlx.Open("postgres", connStr)
	require.NoError(t, err)
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("skipping: could not connect to postgres: %v", err)
	}

	s := New(db)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func newReservation(resourceID, principalID, from, to string) booking.Reservation {
	r := booking.MustParseDateRange(from, to)
	return booking.Reservation{
		ID:          uuid.NewString(),
		ResourceID:  resourceID,
		PrincipalID: principalID,
		Range:       r,
		Nights:      r.Nights(),
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
		Status:      booking.StatusActive,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"serialization failure", &pq.Error{Code: "40001"}, booking.ErrTransientConflict},
		{"deadlock", &pq.Error{Code: "40P01"}, booking.ErrTransientConflict},
		{"unique violation", fmt.Errorf("insert: %w", &pq.Error{Code: "23505"}), booking.ErrTransientConflict},
		{"event version clash", eventstore.ErrConcurrencyConflict, booking.ErrTransientConflict},
		{"undefined table", &pq.Error{Code: "42P01"}, booking.ErrStoreUnavailable},
		{"connection refused", errors.New("dial tcp: connection refused"), booking.ErrStoreUnavailable},
		{"domain error passes", booking.ErrAlreadyBooked, booking.ErrAlreadyBooked},
		{"not found passes", booking.ErrReservationNotFound, booking.ErrReservationNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify("op", tt.err), tt.want)
		})
	}
}

func TestStore_PutAndRead(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	resource := "apt-" + uuid.NewString()
	principal := "user-" + uuid.NewString()

	r := newReservation(resource, principal, "2025-03-10", "2025-03-12")
	err := s.RunInTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		return tx.Put(ctx, r)
	})
	require.NoError(t, err)

	active, err := s.ActiveByResource(ctx, resource)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, r.ID, active[0].ID)
	assert.True(t, r.Range.From.Equal(active[0].Range.From))
	assert.True(t, r.Range.To.Equal(active[0].Range.To))
	assert.Equal(t, 3, active[0].Nights)

	err = s.RunInTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		march, err := tx.ActiveByPrincipal(ctx, principal, booking.Month{Year: 2025, Month: time.March})
		require.NoError(t, err)
		assert.Len(t, march, 1)

		april, err := tx.ActiveByPrincipal(ctx, principal, booking.Month{Year: 2025, Month: time.April})
		require.NoError(t, err)
		assert.Empty(t, april)
		return nil
	})
	require.NoError(t, err)

	history, err := s.History(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "ReservationCreated", history[0].EventType)
}

func TestStore_CancelRecordsEvent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	r := newReservation("apt-"+uuid.NewString(), "user-1", "2025-05-01", "2025-05-02")

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		return tx.Put(ctx, r)
	}))

	at := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		return tx.Cancel(ctx, r.ID, at)
	}))

	var got booking.Reservation
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		var err error
		got, err = tx.Get(ctx, r.ID)
		return err
	}))
	assert.Equal(t, booking.StatusCancelled, got.Status)
	require.NotNil(t, got.CancelledAt)
	assert.True(t, at.Equal(*got.CancelledAt))

	active, err := s.ActiveByResource(ctx, r.ResourceID)
	require.NoError(t, err)
	assert.Empty(t, active)

	history, err := s.History(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "ReservationCancelled", history[1].EventType)
	assert.Equal(t, 2, history[1].Version)

	err = s.RunInTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		return tx.Cancel(ctx, r.ID, at)
	})
	assert.ErrorIs(t, err, booking.ErrTransientConflict)
}

func TestStore_GetMissing(t *testing.T) {
	s := setupTestStore(t)

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx booking.Tx) error {
		_, err := tx.Get(ctx, uuid.NewString())
		return err
	})
	assert.ErrorIs(t, err, booking.ErrReservationNotFound)
}

func TestStore_ConcurrentCreatesSerialize(t *testing.T) {
	s := setupTestStore(t)
	svc := booking.NewService(s, nil, booking.DefaultPolicy(), nil, nil)
	resource := "apt-" + uuid.NewString()
	candidate := booking.MustParseDateRange("2025-07-01", "2025-07-03")

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := &booking.Principal{ID: fmt.Sprintf("user-%d", i), EmailVerified: true}
			_, err := booking.CreateWithRetry(context.Background(), svc, p, resource, candidate, 10)
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, booking.ErrAlreadyBooked)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	active, err := s.ActiveByResource(context.Background(), resource)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}
