package catalog

import (
	"context"
	"sort"
	"sync"
)

type fakeRepository struct {
	mu         sync.Mutex
	apartments map[string]Apartment
	settings   map[string]string
	err        error
}

func newFakeRepository(apartments ...Apartment) *fakeRepository {
	f := &fakeRepository{apartments: make(map[string]Apartment), settings: make(map[string]string)}
	for _, a := range apartments {
		f.apartments[a.ID] = a
	}
	return f
}

func (f *fakeRepository) List(context.Context) ([]Apartment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]Apartment, 0, len(f.apartments))
	for _, a := range f.apartments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeRepository) Get(_ context.Context, id string) (*Apartment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apartments[id]
	if !ok {
		return nil, ErrApartmentNotFound
	}
	return &a, nil
}

func (f *fakeRepository) SetPrice(_ context.Context, id string, price float64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apartments[id]
	if !ok {
		return 0, ErrApartmentNotFound
	}
	old := a.PriceDaily
	a.PriceDaily = price
	f.apartments[id] = a
	return old, nil
}

func (f *fakeRepository) Setting(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings[key], nil
}

func (f *fakeRepository) SetSetting(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings[key] = value
	return nil
}
