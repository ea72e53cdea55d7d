package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"staybook/internal/booking"
	"staybook/internal/catalog"
	"staybook/internal/contact"
	"staybook/internal/identity"
)

type services struct {
	booking  booking.Service
	identity identity.Service
	sessions *identity.Sessions
	catalog  catalog.Service
	contact  contact.Service
}

// newRouter mounts every endpoint behind the session middleware.
func newRouter(s services, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(identity.Authenticate(s.sessions, s.identity, logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	identity.NewHandler(s.identity, s.sessions).Routes(r)
	catalog.NewHandler(s.catalog).Routes(r)
	booking.NewHandler(s.booking).Routes(r)
	contact.NewHandler(s.contact).Routes(r)
	return r
}
