package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staybook/internal/booking"
)

// fakeDynamo keeps a single table in memory and evaluates the two condition
// forms the store emits.
type fakeDynamo struct {
	mu       sync.Mutex
	items    map[itemKey]map[string]types.AttributeValue
	tables   map[string]bool
	getErr   error
	writes   int
	rejected int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{
		items:  make(map[itemKey]map[string]types.AttributeValue),
		tables: make(map[string]bool),
	}
}

func keyOf(attrs map[string]types.AttributeValue) itemKey {
	return itemKey{
		pk: attrs["PK"].(*types.AttributeValueMemberS).Value,
		sk: attrs["SK"].(*types.AttributeValueMemberS).Value,
	}
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func (f *fakeDynamo) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tables[*in.TableName] {
		return nil, &types.ResourceInUseException{Message: aws.String("table exists")}
	}
	f.tables[*in.TableName] = true
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeDynamo) satisfied(key itemKey, condition string, values map[string]types.AttributeValue) bool {
	existing, ok := f.items[key]
	switch condition {
	case "attribute_not_exists(PK)":
		return !ok
	case "version = :expected":
		if !ok {
			return false
		}
		return existing["version"].(*types.AttributeValueMemberN).Value == values[":expected"].(*types.AttributeValueMemberN).Value
	default:
		panic("unexpected condition " + condition)
	}
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, w := range in.TransactItems {
		var ok bool
		switch {
		case w.Put != nil:
			ok = f.satisfied(keyOf(w.Put.Item), *w.Put.ConditionExpression, w.Put.ExpressionAttributeValues)
		case w.ConditionCheck != nil:
			ok = f.satisfied(keyOf(w.ConditionCheck.Key), *w.ConditionCheck.ConditionExpression, w.ConditionCheck.ExpressionAttributeValues)
		}
		if !ok {
			f.rejected++
			return nil, &types.TransactionCanceledException{Message: aws.String("ConditionalCheckFailed")}
		}
	}
	for _, w := range in.TransactItems {
		if w.Put != nil {
			f.items[keyOf(w.Put.Item)] = w.Put.Item
		}
	}
	f.writes++
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func newReservation(id, resourceID, principalID, from, to string) booking.Reservation {
	r := booking.MustParseDateRange(from, to)
	return booking.Reservation{
		ID:          id,
		ResourceID:  resourceID,
		PrincipalID: principalID,
		Range:       r,
		Nights:      r.Nights(),
		CreatedAt:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:      booking.StatusActive,
	}
}

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

// newStore runs at the start of 2025 so that the 2025 stays below are upcoming.
func newStore(api API) *Store {
	return New(api, "staybook", WithClock(fixedClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))))
}

func put(t *testing.T, s *Store, r booking.Reservation) {
	t.Helper()
	require.NoError(t, s.RunInTx(context.Background(), func(ctx context.Context, tx booking.Tx) error {
		return tx.Put(ctx, r)
	}))
}

func TestEnsureTable_Idempotent(t *testing.T) {
	s := newStore(newFakeDynamo())

	require.NoError(t, s.EnsureTable(context.Background()))
	require.NoError(t, s.EnsureTable(context.Background()))
}

func TestStore_PutMaintainsAggregates(t *testing.T) {
	s := newStore(newFakeDynamo())
	ctx := context.Background()

	put(t, s, newReservation("r2", "apt-1", "alice", "2025-03-20", "2025-03-22"))
	put(t, s, newReservation("r1", "apt-1", "alice", "2025-03-10", "2025-03-12"))
	put(t, s, newReservation("r3", "apt-2", "alice", "2025-04-01", "2025-04-02"))

	active, err := s.ActiveByResource(ctx, "apt-1")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "r1", active[0].ID)
	assert.Equal(t, "r2", active[1].ID)

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		march, err := tx.ActiveByPrincipal(ctx, "alice", booking.Month{Year: 2025, Month: time.March})
		require.NoError(t, err)
		assert.Len(t, march, 2)

		april, err := tx.ActiveByPrincipal(ctx, "alice", booking.Month{Year: 2025, Month: time.April})
		require.NoError(t, err)
		assert.Len(t, april, 1)

		got, err := tx.Get(ctx, "r3")
		require.NoError(t, err)
		assert.Equal(t, "apt-2", got.ResourceID)
		assert.Equal(t, 2, got.Nights)
		return nil
	}))
}

func TestStore_GetMissing(t *testing.T) {
	s := newStore(newFakeDynamo())

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx booking.Tx) error {
		_, err := tx.Get(ctx, "nope")
		return err
	})
	assert.ErrorIs(t, err, booking.ErrReservationNotFound)
}

func TestStore_CancelRemovesFromAggregates(t *testing.T) {
	s := newStore(newFakeDynamo())
	ctx := context.Background()
	put(t, s, newReservation("r1", "apt-1", "alice", "2025-03-10", "2025-03-12"))

	at := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		return tx.Cancel(ctx, "r1", at)
	}))

	active, err := s.ActiveByResource(ctx, "apt-1")
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		got, err := tx.Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, booking.StatusCancelled, got.Status)
		require.NotNil(t, got.CancelledAt)
		assert.True(t, at.Equal(*got.CancelledAt))

		march, err := tx.ActiveByPrincipal(ctx, "alice", booking.Month{Year: 2025, Month: time.March})
		require.NoError(t, err)
		assert.Empty(t, march)
		return nil
	}))
}

func TestStore_StaleReadLosesCommit(t *testing.T) {
	fake := newFakeDynamo()
	s := newStore(fake)
	ctx := context.Background()

	err := s.RunInTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		active, err := tx.ActiveByResource(ctx, "apt-1")
		require.NoError(t, err)
		require.Empty(t, active)

		// A competing transaction books the same calendar before we commit.
		put(t, s, newReservation("winner", "apt-1", "bob", "2025-06-01", "2025-06-02"))

		return tx.Put(ctx, newReservation("loser", "apt-1", "alice", "2025-06-01", "2025-06-02"))
	})
	assert.ErrorIs(t, err, booking.ErrTransientConflict)
	assert.Equal(t, 1, fake.rejected)

	active, err := s.ActiveByResource(ctx, "apt-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "winner", active[0].ID)
}

func TestStore_ReadOnlyTxWritesNothing(t *testing.T) {
	fake := newFakeDynamo()
	s := newStore(fake)

	require.NoError(t, s.RunInTx(context.Background(), func(ctx context.Context, tx booking.Tx) error {
		_, err := tx.ActiveByResource(ctx, "apt-1")
		return err
	}))
	assert.Zero(t, fake.writes)
}

func TestStore_ErrorMapping(t *testing.T) {
	fake := newFakeDynamo()
	fake.getErr = errors.New("connection reset")
	s := newStore(fake)

	_, err := s.ActiveByResource(context.Background(), "apt-1")
	assert.ErrorIs(t, err, booking.ErrStoreUnavailable)

	err = s.RunInTx(context.Background(), func(ctx context.Context, tx booking.Tx) error {
		return booking.ErrAlreadyBooked
	})
	assert.ErrorIs(t, err, booking.ErrAlreadyBooked)

	assert.ErrorIs(t, classify(&types.TransactionInProgressException{}), booking.ErrTransientConflict)
	assert.ErrorIs(t, classify(fmt.Errorf("wrapped: %w", &types.TransactionCanceledException{})), booking.ErrTransientConflict)
	assert.ErrorIs(t, classify(&types.InternalServerError{}), booking.ErrStoreUnavailable)
}

func TestStore_ConcurrentCreatesThroughService(t *testing.T) {
	s := newStore(newFakeDynamo())
	svc := booking.NewService(s, nil, booking.DefaultPolicy(), nil, nil)
	candidate := booking.MustParseDateRange("2025-08-10", "2025-08-12")

	const workers = 12
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
			_, err := booking.CreateWithRetry(context.Background(), svc, p, "apt-9", candidate, 20)
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
	active, err := s.ActiveByResource(context.Background(), "apt-9")
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestStore_CalendarDropsPastStays(t *testing.T) {
	fake := newFakeDynamo()
	ctx := context.Background()
	early := newStore(fake)
	put(t, early, newReservation("r1", "apt-1", "p1", "2025-03-01", "2025-03-03"))
	put(t, early, newReservation("r2", "apt-1", "p2", "2025-04-01", "2025-04-02"))
	put(t, early, newReservation("r3", "apt-1", "p1", "2025-06-01", "2025-06-05"))

	later := New(fake, "staybook", WithClock(fixedClock(time.Date(2025, 4, 2, 15, 0, 0, 0, time.UTC))))
	put(t, later, newReservation("r4", "apt-1", "p3", "2025-07-01", "2025-07-02"))

	active, err := later.ActiveByResource(ctx, "apt-1")
	require.NoError(t, err)
	var ids []string
	for _, r := range active {
		ids = append(ids, r.ID)
	}
	// r2 ends today and is kept.
	assert.Equal(t, []string{"r2", "r3", "r4"}, ids)

	// The month item still counts r1 against the monthly limit.
	require.NoError(t, later.RunInTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		march, err := tx.ActiveByPrincipal(ctx, "p1", booking.MonthOf(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))
		assert.Len(t, march, 1)
		return err
	}))

	require.NoError(t, later.RunInTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		return tx.Cancel(ctx, "r3", time.Date(2025, 4, 3, 0, 0, 0, 0, time.UTC))
	}))
	beyond := New(fake, "staybook", WithClock(fixedClock(time.Date(2025, 4, 3, 0, 0, 0, 0, time.UTC))))
	require.NoError(t, beyond.RunInTx(ctx, func(ctx context.Context, tx booking.Tx) error {
		return tx.Cancel(ctx, "r4", time.Date(2025, 4, 3, 0, 0, 0, 0, time.UTC))
	}))
	active, err = beyond.ActiveByResource(ctx, "apt-1")
	require.NoError(t, err)
	assert.Empty(t, active)
}
