// internal/contact/handler.go
package contact

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"staybook/internal/booking"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/contact", h.HandleSend)
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var m Message
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sent, err := h.service.Send(r.Context(), booking.PrincipalFrom(r.Context()), m)
	var invalid *ValidationError
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(sent)
	case errors.As(err, &invalid):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(invalid)
	case errors.Is(err, ErrPolicyNotAccepted):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrRelayUnavailable):
		w.Header().Set("Retry-After", "30")
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, ErrDeliveryFailed):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		booking.WriteError(w, r, err)
	}
}
