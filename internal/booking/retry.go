package booking

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// CreateWithRetry repeats svc.Create, advisory pre-check included, while it
// fails with ErrTransientConflict. Every other outcome is returned as is.
// maxTries counts the first attempt.
func CreateWithRetry(ctx context.Context, svc Service, principal *Principal, resourceID string, candidate DateRange, maxTries uint) (*Reservation, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second

	return backoff.Retry(ctx, func() (*Reservation, error) {
		r, err := svc.Create(ctx, principal, resourceID, candidate)
		if err != nil && !IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return r, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxTries))
}
