// internal/booking/handler.go
package booking

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the reservation endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/apartments/{id}/booked-ranges", h.HandleBookedRanges)
	r.Post("/apartments/{id}/reservations", h.HandleCreate)
	r.Post("/reservations/{id}/cancel", h.HandleCancel)
}

func (h *Handler) HandleBookedRanges(w http.ResponseWriter, r *http.Request) {
	ranges, err := h.service.BookedRanges(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if ranges == nil {
		ranges = []DateRange{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ranges)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var candidate DateRange
	if err := json.NewDecoder(r.Body).Decode(&candidate); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	reservation, err := h.service.Create(r.Context(), PrincipalFrom(r.Context()), chi.URLParam(r, "id"), candidate)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(reservation)
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Cancel(r.Context(), PrincipalFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// StatusCode maps a booking error to its HTTP status. Transient conflicts and
// store failures both map to 503; callers tell them apart by Retry-After.
func StatusCode(err error, authenticated bool) int {
	switch {
	case errors.Is(err, ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotAuthorized):
		if authenticated {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case errors.Is(err, ErrEmailNotVerified):
		return http.StatusForbidden
	case errors.Is(err, ErrReservationNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyBooked):
		return http.StatusConflict
	case errors.Is(err, ErrMonthlyLimitExceeded), errors.Is(err, ErrStayTooLong):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrTransientConflict), errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err with the status StatusCode assigns to it.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	if IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	http.Error(w, err.Error(), StatusCode(err, PrincipalFrom(r.Context()) != nil))
}
