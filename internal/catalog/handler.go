// internal/catalog/handler.go
package catalog

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

// Routes mounts the catalog endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/apartments", h.HandleList)
	r.Get("/apartments/{id}", h.HandleGet)
	r.Patch("/apartments/{id}/price", h.HandleUpdatePrice)
	r.Get("/background", h.HandleBackground)
	r.Put("/background", h.HandleUpdateBackground)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	apartments, err := h.service.ListApartments(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apartments)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	apartment, err := h.service.GetApartment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apartment)
}

func (h *Handler) HandleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PriceDaily float64 `json:"price_daily"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	apartment, err := h.service.UpdatePrice(r.Context(), booking.PrincipalFrom(r.Context()), chi.URLParam(r, "id"), req.PriceDaily)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apartment)
}

func (h *Handler) HandleBackground(w http.ResponseWriter, r *http.Request) {
	url, err := h.service.Background(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *Handler) HandleUpdateBackground(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.service.UpdateBackground(r.Context(), booking.PrincipalFrom(r.Context()), req.URL); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrApartmentNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrInvalidPrice), errors.Is(err, ErrInvalidURL):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		booking.WriteError(w, r, err)
	}
}
