package identity

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"staybook/internal/booking"
)

// fakeService is an in-memory Service for handler and middleware tests.
type fakeService struct {
	mu        sync.Mutex
	accounts  map[uuid.UUID]*Account
	passwords map[string]string
	admins    map[uuid.UUID]bool
	err       error
}

func newFakeService() *fakeService {
	return &fakeService{
		accounts:  make(map[uuid.UUID]*Account),
		passwords: make(map[string]string),
		admins:    make(map[uuid.UUID]bool),
	}
}

func (f *fakeService) Register(_ context.Context, email, name, password string) (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if err := validateRegistration(email, name, password); err != nil {
		return nil, err
	}
	if _, ok := f.passwords[email]; ok {
		return nil, ErrEmailTaken
	}
	a := &Account{ID: uuid.New(), Email: email, Name: name}
	f.accounts[a.ID] = a
	f.passwords[email] = password
	return a, nil
}

func (f *fakeService) Authenticate(_ context.Context, email, password string) (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.passwords[email] != password {
		return nil, ErrInvalidCredentials
	}
	for _, a := range f.accounts {
		if a.Email == email {
			return a, nil
		}
	}
	return nil, ErrInvalidCredentials
}

func (f *fakeService) Principal(_ context.Context, id uuid.UUID) (*booking.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &booking.Principal{ID: id.String(), IsAdmin: f.admins[id], EmailVerified: a.EmailVerified}, nil
}

func (f *fakeService) VerifyEmail(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.EmailVerified = true
	return nil
}
