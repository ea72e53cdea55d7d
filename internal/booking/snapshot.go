package booking

import "context"

// StoreSnapshot reads booked ranges straight from the store outside any
// transaction. It keeps nothing between calls.
type StoreSnapshot struct {
	store Store
}

func NewStoreSnapshot(store Store) *StoreSnapshot {
	return &StoreSnapshot{store: store}
}

func (s *StoreSnapshot) BookedRanges(ctx context.Context, resourceID string) ([]DateRange, error) {
	rs, err := s.store.ActiveByResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	return Ranges(rs), nil
}

func (s *StoreSnapshot) Remember(context.Context, string, DateRange) error { return nil }

func (s *StoreSnapshot) Forget(context.Context, string) error { return nil }
