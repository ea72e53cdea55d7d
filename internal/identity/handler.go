// internal/identity/handler.go
package identity

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"staybook/internal/booking"
)

type Handler struct {
	service  Service
	sessions *Sessions
}

func NewHandler(service Service, sessions *Sessions) *Handler {
	return &Handler{service: service, sessions: sessions}
}

// Routes mounts the account endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/auth/register", h.HandleRegister)
	r.Post("/auth/sign-in", h.HandleSignIn)
	r.Post("/accounts/{id}/verify-email", h.HandleVerifyEmail)
}

type sessionResponse struct {
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expires_at"`
	Account   *Account           `json:"account"`
	Principal *booking.Principal `json:"principal,omitempty"`
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	account, err := h.service.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	h.writeSession(w, r, account, http.StatusCreated)
}

func (h *Handler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	account, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	h.writeSession(w, r, account, http.StatusOK)
}

// HandleVerifyEmail confirms an account's email on behalf of an admin.
func (h *Handler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	principal := booking.PrincipalFrom(r.Context())
	if principal == nil {
		http.Error(w, booking.ErrNotAuthorized.Error(), http.StatusUnauthorized)
		return
	}
	if !principal.IsAdmin {
		http.Error(w, booking.ErrNotAuthorized.Error(), http.StatusForbidden)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid account ID", http.StatusBadRequest)
		return
	}

	if err := h.service.VerifyEmail(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeSession(w http.ResponseWriter, r *http.Request, account *Account, status int) {
	token, expires, err := h.sessions.Issue(account.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := sessionResponse{Token: token, ExpiresAt: expires, Account: account}
	if principal, err := h.service.Principal(r.Context(), account.ID); err == nil {
		resp.Principal = principal
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, ErrAccountNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrEmailTaken):
		status = http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		w.Header().Set("Retry-After", "60")
		status = http.StatusTooManyRequests
	}
	http.Error(w, err.Error(), status)
}
