// Package memory is an in-process reservation store with optimistic
// concurrency control. Transactions read without blocking writers, record
// the version of every partition they observe and commit only if none of
// those versions moved.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"staybook/internal/booking"
)

type principalMonth struct {
	principalID string
	month       booking.Month
}

// Store implements booking.Store.
type Store struct {
	mu           sync.RWMutex
	reservations map[string]booking.Reservation
	resources    map[string]uint64
	principals   map[principalMonth]uint64

	transactions atomic.Int64
	commits      atomic.Int64
}

func New() *Store {
	return &Store{
		reservations: make(map[string]booking.Reservation),
		resources:    make(map[string]uint64),
		principals:   make(map[principalMonth]uint64),
	}
}

// Transactions is the number of transactions opened so far.
func (s *Store) Transactions() int64 { return s.transactions.Load() }

// Commits is the number of transactions that committed at least one write.
func (s *Store) Commits() int64 { return s.commits.Load() }

// RunInTx implements booking.Store.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	s.transactions.Add(1)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", booking.ErrStoreUnavailable, err)
	}

	t := &tx{
		store:      s,
		resources:  make(map[string]uint64),
		principals: make(map[principalMonth]uint64),
		writes:     make(map[string]write),
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", booking.ErrStoreUnavailable, err)
	}
	return s.commit(t)
}

// ActiveByResource implements booking.Store.
func (s *Store) ActiveByResource(ctx context.Context, resourceID string) ([]booking.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeByResourceLocked(resourceID), nil
}

// Get returns a copy of the stored reservation, for inspection in tests and
// experiments.
func (s *Store) Get(id string) (booking.Reservation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[id]
	return r.Clone(), ok
}

func (s *Store) activeByResourceLocked(resourceID string) []booking.Reservation {
	var out []booking.Reservation
	for _, r := range s.reservations {
		if r.ResourceID == resourceID && r.Active() {
			out = append(out, r.Clone())
		}
	}
	sortByFrom(out)
	return out
}

func (s *Store) commit(t *tx) error {
	if len(t.writes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, v := range t.resources {
		if s.resources[id] != v {
			return fmt.Errorf("%w: resource %s changed", booking.ErrTransientConflict, id)
		}
	}
	for key, v := range t.principals {
		if s.principals[key] != v {
			return fmt.Errorf("%w: principal %s changed", booking.ErrTransientConflict, key.principalID)
		}
	}
	for id, w := range t.writes {
		if _, exists := s.reservations[id]; w.insert && exists {
			return fmt.Errorf("%w: reservation %s already exists", booking.ErrTransientConflict, id)
		}
	}

	for id, w := range t.writes {
		s.reservations[id] = w.reservation
		s.resources[w.reservation.ResourceID]++
		s.principals[keyOf(w.reservation)]++
	}
	s.commits.Add(1)
	return nil
}

type write struct {
	reservation booking.Reservation
	insert      bool
}

type tx struct {
	store      *Store
	resources  map[string]uint64
	principals map[principalMonth]uint64
	writes     map[string]write
}

func (t *tx) observeResource(id string) {
	if _, seen := t.resources[id]; !seen {
		t.resources[id] = t.store.resources[id]
	}
}

func (t *tx) observePrincipal(key principalMonth) {
	if _, seen := t.principals[key]; !seen {
		t.principals[key] = t.store.principals[key]
	}
}

func (t *tx) ActiveByResource(ctx context.Context, resourceID string) ([]booking.Reservation, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	t.observeResource(resourceID)
	return t.store.activeByResourceLocked(resourceID), nil
}

func (t *tx) ActiveByPrincipal(ctx context.Context, principalID string, month booking.Month) ([]booking.Reservation, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	t.observePrincipal(principalMonth{principalID: principalID, month: month})

	var out []booking.Reservation
	for _, r := range t.store.reservations {
		if r.PrincipalID == principalID && r.Active() && month.Contains(r.Range.From) {
			out = append(out, r.Clone())
		}
	}
	sortByFrom(out)
	return out, nil
}

func (t *tx) Get(ctx context.Context, id string) (booking.Reservation, error) {
	if w, ok := t.writes[id]; ok {
		return w.reservation.Clone(), nil
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	r, ok := t.store.reservations[id]
	if !ok {
		return booking.Reservation{}, booking.ErrReservationNotFound
	}
	t.observeResource(r.ResourceID)
	t.observePrincipal(keyOf(r))
	return r.Clone(), nil
}

func (t *tx) Put(ctx context.Context, r booking.Reservation) error {
	if _, ok := t.writes[r.ID]; ok {
		return fmt.Errorf("%w: reservation %s written twice", booking.ErrTransientConflict, r.ID)
	}
	t.writes[r.ID] = write{reservation: r.Clone(), insert: true}
	return nil
}

func (t *tx) Cancel(ctx context.Context, id string, at time.Time) error {
	r, err := t.Get(ctx, id)
	if err != nil {
		return err
	}
	if !r.Active() {
		return nil
	}
	r.Status = booking.StatusCancelled
	r.CancelledAt = &at
	t.writes[id] = write{reservation: r, insert: t.writes[id].insert}
	return nil
}

func keyOf(r booking.Reservation) principalMonth {
	return principalMonth{principalID: r.PrincipalID, month: booking.MonthOf(r.Range.From)}
}

func sortByFrom(rs []booking.Reservation) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Range.From.Equal(rs[j].Range.From) {
			return rs[i].ID < rs[j].ID
		}
		return rs[i].Range.From.Before(rs[j].Range.From)
	})
}
