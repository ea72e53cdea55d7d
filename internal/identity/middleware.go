package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"staybook/internal/booking"
)

// PrincipalResolver loads the current principal of an account.
type PrincipalResolver interface {
	Principal(ctx context.Context, accountID uuid.UUID) (*booking.Principal, error)
}

// Authenticate attaches the principal named by the bearer token to the
// request context. Requests without a valid token, or whose account no
// longer exists, continue anonymously and the handlers decide whether that is
// enough. When the account store fails the request is turned away with 503.
func Authenticate(sessions *Sessions, resolver PrincipalResolver, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			accountID, err := sessions.Verify(token)
			if err != nil {
				logger.Debug("rejected session token", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			principal, err := resolver.Principal(r.Context(), accountID)
			if errors.Is(err, ErrAccountNotFound) {
				logger.Debug("session names unknown account", zap.String("account_id", accountID.String()))
				next.ServeHTTP(w, r)
				return
			}
			if err != nil {
				logger.Warn("could not resolve principal",
					zap.String("account_id", accountID.String()), zap.Error(err))
				w.Header().Set("Retry-After", "1")
				http.Error(w, "identity unavailable", http.StatusServiceUnavailable)
				return
			}

			next.ServeHTTP(w, r.WithContext(booking.WithPrincipal(r.Context(), principal)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}
