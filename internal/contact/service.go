// internal/contact/service.go
package contact

import (
	"context"
	"time"

	"go.uber.org/zap"

	"staybook/internal/booking"
)

// Service defines the interface for the contact form.
type Service interface {
	// Send validates m and relays it. The returned message is the
	// normalized one with SentAt stamped.
	Send(ctx context.Context, principal *booking.Principal, m Message) (*Message, error)
}

type service struct {
	relay  Relay
	clock  booking.Clock
	logger *zap.Logger
}

func NewService(relay Relay, clock booking.Clock, logger *zap.Logger) Service {
	if clock == nil {
		clock = booking.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{relay: relay, clock: clock, logger: logger.Named("contact")}
}

func (s *service) Send(ctx context.Context, principal *booking.Principal, m Message) (*Message, error) {
	if principal == nil {
		return nil, booking.ErrNotAuthorized
	}
	if !m.AgreedToPolicy {
		return nil, ErrPolicyNotAccepted
	}

	m = Normalize(m)
	if err := Validate(m); err != nil {
		return nil, err
	}
	m.SentAt = s.clock.Now()

	err := s.relay.Send(ctx, map[string]string{
		"title":   m.Title,
		"name":    m.FirstName + " " + m.LastName,
		"time":    m.SentAt.Format(time.RFC1123),
		"email":   m.Email,
		"phone":   m.Phone,
		"message": m.Body,
	})
	if err != nil {
		s.logger.Error("contact message not delivered",
			zap.String("principal_id", principal.ID), zap.Error(err))
		return nil, err
	}

	s.logger.Info("contact message sent", zap.String("principal_id", principal.ID))
	return &m, nil
}
