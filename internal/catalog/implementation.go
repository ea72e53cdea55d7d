// internal/catalog/implementation.go
package catalog

import (
	"context"
	"fmt"
	"math"
	"net/url"

	"go.uber.org/zap"

	"staybook/internal/booking"
)

const backgroundKey = "background_image_url"

// service implements the Service interface.
type service struct {
	repo   Repository
	logger *zap.Logger
}

// NewService creates a new catalog service instance.
func NewService(repo Repository, logger *zap.Logger) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{repo: repo, logger: logger.Named("catalog")}
}

func (s *service) ListApartments(ctx context.Context) ([]Apartment, error) {
	apartments, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list apartments: %w", err)
	}
	return apartments, nil
}

func (s *service) GetApartment(ctx context.Context, id string) (*Apartment, error) {
	return s.repo.Get(ctx, id)
}

func requireAdmin(principal *booking.Principal) error {
	if principal == nil || !principal.IsAdmin {
		return booking.ErrNotAuthorized
	}
	return nil
}

// UpdatePrice sets the daily price of an apartment.
func (s *service) UpdatePrice(ctx context.Context, principal *booking.Principal, id string, priceDaily float64) (*Apartment, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}
	if priceDaily <= 0 || math.IsNaN(priceDaily) || math.IsInf(priceDaily, 0) {
		return nil, ErrInvalidPrice
	}

	old, err := s.repo.SetPrice(ctx, id, priceDaily)
	if err != nil {
		return nil, err
	}
	s.logger.Info("price updated",
		zap.String("apartment_id", id),
		zap.Float64("old_price", old),
		zap.Float64("new_price", priceDaily),
		zap.String("admin_id", principal.ID))

	return s.repo.Get(ctx, id)
}

func (s *service) Background(ctx context.Context) (string, error) {
	return s.repo.Setting(ctx, backgroundKey)
}

// UpdateBackground replaces the home page background. The image itself is
// hosted by the image CDN; only its URL is stored.
func (s *service) UpdateBackground(ctx context.Context, principal *booking.Principal, raw string) error {
	if err := requireAdmin(principal); err != nil {
		return err
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}

	if err := s.repo.SetSetting(ctx, backgroundKey, u.String()); err != nil {
		return fmt.Errorf("failed to store background: %w", err)
	}
	s.logger.Info("background updated", zap.String("admin_id", principal.ID))
	return nil
}
