// internal/catalog/domain.go
package catalog

import (
	"errors"
	"time"
)

var (
	ErrApartmentNotFound = errors.New("apartment not found")
	ErrInvalidPrice      = errors.New("price must be positive")
	ErrInvalidURL        = errors.New("background must be an absolute http(s) URL")
)

// Apartment represents a bookable unit. Its ID is the resource id the
// booking engine reserves against.
type Apartment struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Details     string    `json:"details,omitempty" db:"details"`
	PriceDaily  float64   `json:"price_daily" db:"price_daily"`
	Features    []string  `json:"features" db:"-"`
	ImageURLs   []string  `json:"image_urls" db:"-"`
	Featured    bool      `json:"featured" db:"featured"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// ApartmentPriceChangedEvent is recorded when an admin edits a price.
type ApartmentPriceChangedEvent struct {
	ID       string  `json:"id"`
	OldPrice float64 `json:"old_price"`
	NewPrice float64 `json:"new_price"`
}
