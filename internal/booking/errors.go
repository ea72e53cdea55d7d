package booking

import "errors"

var (
	ErrInvalidRange         = errors.New("invalid date range")
	ErrNotAuthorized        = errors.New("not authorized")
	ErrEmailNotVerified     = errors.New("email not verified")
	ErrAlreadyBooked        = errors.New("date range already booked")
	ErrMonthlyLimitExceeded = errors.New("monthly booking limit exceeded")
	ErrStayTooLong          = errors.New("stay exceeds maximum length")
	ErrReservationNotFound  = errors.New("reservation not found")

	// ErrTransientConflict is store-level contention: the transaction lost an
	// optimistic-concurrency race. Retrying the whole create may succeed.
	ErrTransientConflict = errors.New("transient conflict: concurrent update")
	// ErrStoreUnavailable is a backend or network failure. It is not retried.
	ErrStoreUnavailable = errors.New("store unavailable")
)

var domainErrors = []error{
	ErrInvalidRange,
	ErrNotAuthorized,
	ErrEmailNotVerified,
	ErrAlreadyBooked,
	ErrMonthlyLimitExceeded,
	ErrStayTooLong,
	ErrReservationNotFound,
	ErrTransientConflict,
	ErrStoreUnavailable,
}

// IsRetryable reports whether err is worth retrying from the advisory
// pre-check onwards.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientConflict)
}

// IsDomainError reports whether err already carries one of the package's
// sentinels. Stores use it to pass business errors through untouched.
func IsDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Kind returns a short stable label for err, used for metrics and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidRange):
		return "invalid_range"
	case errors.Is(err, ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, ErrEmailNotVerified):
		return "email_not_verified"
	case errors.Is(err, ErrAlreadyBooked):
		return "already_booked"
	case errors.Is(err, ErrMonthlyLimitExceeded):
		return "monthly_limit_exceeded"
	case errors.Is(err, ErrStayTooLong):
		return "stay_too_long"
	case errors.Is(err, ErrReservationNotFound):
		return "reservation_not_found"
	case errors.Is(err, ErrTransientConflict):
		return "transient_conflict"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "unknown"
	}
}
