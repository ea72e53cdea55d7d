package chaos

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"staybook/internal/booking"
)

// Target is the system under test: a booking service and the store behind it.
type Target struct {
	Service booking.Service
	Store   booking.Store
	// Admin cancels the reservations an experiment created during rollback.
	Admin *booking.Principal
}

// OverlappingPairs counts pairs of active reservations on resourceID whose
// ranges overlap. Anything but zero is a double booking.
func OverlappingPairs(ctx context.Context, store booking.Store, resourceID string) (int, error) {
	active, err := store.ActiveByResource(ctx, resourceID)
	if err != nil {
		return 0, err
	}
	pairs := 0
	for i := range active {
		for j := i + 1; j < len(active); j++ {
			if booking.Overlaps(active[i].Range, active[j].Range) {
				pairs++
			}
		}
	}
	return pairs, nil
}

// DoubleBookingExperiment fires workers concurrent creates for ranges that
// all share at least one day on resourceID. Every pair of candidates
// overlaps, so at most one may commit.
func DoubleBookingExperiment(target Target, resourceID string, start time.Time, workers int, maxTries uint) Experiment {
	var (
		succeeded atomic.Int64
		mu        sync.Mutex
		created   []string
	)

	return Experiment{
		Name:       "concurrent-double-booking",
		Hypothesis: "Concurrent creates for overlapping ranges commit at most one reservation",
		SteadyState: []Metric{
			{
				Name: "overlapping_active_pairs",
				Query: func(ctx context.Context) (float64, error) {
					pairs, err := OverlappingPairs(ctx, target.Store, resourceID)
					return float64(pairs), err
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
			{
				Name: "successful_creates",
				Query: func(context.Context) (float64, error) {
					return float64(succeeded.Load()), nil
				},
				Threshold: Threshold{Operator: "<=", Value: 1},
			},
		},
		Method: []Action{
			{
				Type:   "concurrent-requests",
				Target: "booking-service",
				Execute: func(ctx context.Context) error {
					from := booking.Normalize(start)
					var wg sync.WaitGroup
					for i := 0; i < workers; i++ {
						wg.Add(1)
						go func(i int) {
							defer wg.Done()
							// Ranges slide by up to two days and last three, so day
							// from+2 is inside every one of them.
							offset := time.Duration(i%3) * 24 * time.Hour
							candidate := booking.DateRange{From: from.Add(offset), To: from.Add(offset + 48*time.Hour)}
							principal := &booking.Principal{ID: fmt.Sprintf("chaos-guest-%d", i), EmailVerified: true}

							r, err := booking.CreateWithRetry(ctx, target.Service, principal, resourceID, candidate, maxTries)
							if err != nil {
								return
							}
							succeeded.Add(1)
							mu.Lock()
							created = append(created, r.ID)
							mu.Unlock()
						}(i)
					}
					wg.Wait()
					return nil
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "cancel-created",
				Target: "booking-service",
				Execute: func(ctx context.Context) error {
					mu.Lock()
					ids := append([]string(nil), created...)
					mu.Unlock()
					for _, id := range ids {
						if err := target.Service.Cancel(ctx, target.Admin, id); err != nil {
							return err
						}
					}
					return nil
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "overlapping_active_pairs",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "No two active reservations may overlap",
			},
			{
				Metric:    "successful_creates",
				Condition: func(v float64) bool { return v <= 1 },
				Message:   "At most one overlapping create may succeed",
			},
		},
		Duration: 2 * time.Second,
	}
}

// FaultyStore wraps a store and fails every failEvery-th transaction with a
// transient conflict before it runs. Zero disables injection.
type FaultyStore struct {
	booking.Store
	failEvery atomic.Int64
	calls     atomic.Int64
	injected  atomic.Int64
}

func NewFaultyStore(store booking.Store) *FaultyStore {
	return &FaultyStore{Store: store}
}

func (f *FaultyStore) SetFailEvery(n int) { f.failEvery.Store(int64(n)) }

// Injected is the number of faults injected so far.
func (f *FaultyStore) Injected() int64 { return f.injected.Load() }

func (f *FaultyStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	n := f.calls.Add(1)
	if every := f.failEvery.Load(); every > 0 && n%every == 0 {
		f.injected.Add(1)
		return fmt.Errorf("%w: injected fault", booking.ErrTransientConflict)
	}
	return f.Store.RunInTx(ctx, fn)
}

// TransientConflictExperiment makes every other transaction on a faulty store
// lose its race and books requests disjoint stays. With retries every stay
// should still be booked.
func TransientConflictExperiment(faulty *FaultyStore, service booking.Service, admin *booking.Principal, resourceID string, start time.Time, requests int, maxTries uint) Experiment {
	var (
		attempted atomic.Int64
		succeeded atomic.Int64
		mu        sync.Mutex
		created   []string
	)

	successRate := func(context.Context) (float64, error) {
		if attempted.Load() == 0 {
			return 100, nil
		}
		return float64(succeeded.Load()) / float64(attempted.Load()) * 100, nil
	}

	return Experiment{
		Name:       "transient-store-conflicts",
		Hypothesis: "Retrying creates absorbs transient store conflicts",
		SteadyState: []Metric{
			{
				Name:      "create_success_rate",
				Query:     successRate,
				Threshold: Threshold{Operator: ">=", Value: 100},
			},
		},
		Method: []Action{
			{
				Type:   "inject-conflicts",
				Target: "reservation-store",
				Execute: func(ctx context.Context) error {
					faulty.SetFailEvery(2)
					from := booking.Normalize(start)
					for i := 0; i < requests; i++ {
						// Two-night stays a week apart never overlap and stay
						// within any monthly limit per principal.
						day := from.Add(time.Duration(i*7) * 24 * time.Hour)
						candidate := booking.DateRange{From: day, To: day.Add(24 * time.Hour)}
						principal := &booking.Principal{ID: fmt.Sprintf("chaos-retry-%d", i), EmailVerified: true}

						attempted.Add(1)
						r, err := booking.CreateWithRetry(ctx, service, principal, resourceID, candidate, maxTries)
						if err != nil {
							continue
						}
						succeeded.Add(1)
						mu.Lock()
						created = append(created, r.ID)
						mu.Unlock()
					}
					return nil
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "remove-conflicts",
				Target: "reservation-store",
				Execute: func(ctx context.Context) error {
					faulty.SetFailEvery(0)
					mu.Lock()
					ids := append([]string(nil), created...)
					mu.Unlock()
					for _, id := range ids {
						if err := service.Cancel(ctx, admin, id); err != nil {
							return err
						}
					}
					return nil
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "create_success_rate",
				Condition: func(v float64) bool { return v >= 100 },
				Message:   "Every create should succeed after retries",
			},
		},
		Duration: time.Second,
	}
}
