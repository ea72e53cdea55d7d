// internal/catalog/service.go
package catalog

import (
	"context"

	"staybook/internal/booking"
)

// Service defines the interface for the apartment catalog.
type Service interface {
	ListApartments(ctx context.Context) ([]Apartment, error)
	GetApartment(ctx context.Context, id string) (*Apartment, error)
	// UpdatePrice is admin only.
	UpdatePrice(ctx context.Context, principal *booking.Principal, id string, priceDaily float64) (*Apartment, error)
	// Background returns the home page background image URL, empty if unset.
	Background(ctx context.Context) (string, error)
	// UpdateBackground is admin only.
	UpdateBackground(ctx context.Context, principal *booking.Principal, url string) error
}

// Repository persists apartments and site settings.
type Repository interface {
	List(ctx context.Context) ([]Apartment, error)
	Get(ctx context.Context, id string) (*Apartment, error)
	// SetPrice stores the new price and returns the previous one.
	SetPrice(ctx context.Context, id string, priceDaily float64) (old float64, err error)
	Setting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}
