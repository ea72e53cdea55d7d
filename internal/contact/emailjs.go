package contact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const DefaultEmailJSURL = "https://api.emailjs.com/api/v1.0/email/send"

// Relay delivers a rendered template.
type Relay interface {
	Send(ctx context.Context, params map[string]string) error
}

// EmailJSConfig identifies the EmailJS service and template to send through.
type EmailJSConfig struct {
	URL         string
	ServiceID   string
	TemplateID  string
	UserID      string
	AccessToken string
}

// EmailJSClient posts to the EmailJS REST API behind a circuit breaker. The
// breaker opens after five consecutive failed deliveries and tries again
// after thirty seconds.
type EmailJSClient struct {
	cfg     EmailJSConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// errRejected marks a 4xx answer; the relay is up, the request was bad.
var errRejected = errors.New("rejected by relay")

func NewEmailJSClient(cfg EmailJSConfig, logger *zap.Logger) *EmailJSClient {
	if cfg.URL == "" {
		cfg.URL = DefaultEmailJSURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "emailjs",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &EmailJSClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: 10 * time.Second},
		breaker: breaker,
	}
}

type emailJSRequest struct {
	ServiceID      string            `json:"service_id"`
	TemplateID     string            `json:"template_id"`
	UserID         string            `json:"user_id"`
	AccessToken    string            `json:"accessToken,omitempty"`
	TemplateParams map[string]string `json:"template_params"`
}

// Send implements Relay.
func (c *EmailJSClient) Send(ctx context.Context, params map[string]string) error {
	body, err := json.Marshal(emailJSRequest{
		ServiceID:      c.cfg.ServiceID,
		TemplateID:     c.cfg.TemplateID,
		UserID:         c.cfg.UserID,
		AccessToken:    c.cfg.AccessToken,
		TemplateParams: params,
	})
	if err != nil {
		return err
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.post(ctx, body)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %v", ErrRelayUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
}

func (c *EmailJSClient) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return fmt.Errorf("%w: status %d: %s", errRejected, resp.StatusCode, detail)
	}
	return fmt.Errorf("unexpected status code: %d: %s", resp.StatusCode, detail)
}
