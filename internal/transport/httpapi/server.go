// Package httpapi is the HTTP request/response half of the Transport
// Edge: one-shot endpoints (submit-track, listener-login, session
// status, master-random-liked, airhorns) and the provider OAuth
// handshake (spec §6 "inbound request/response").
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/jamspot/jamspot/internal/app/room"
	"github.com/jamspot/jamspot/internal/infra/providergw"
)

// Server wires the Room Manager and Provider Gateway to an HTTP router.
type Server struct {
	mgr                 *room.Manager
	gw                  *providergw.Gateway
	airhorns            []string
	jwtSecret           []byte
	frontendRedirectURL string
}

// New builds the chi router for the HTTP surface.
func New(mgr *room.Manager, gw *providergw.Gateway, airhorns []string, jwtSecret []byte, frontendRedirectURL string, rps int) http.Handler {
	s := &Server{mgr: mgr, gw: gw, airhorns: airhorns, jwtSecret: jwtSecret, frontendRedirectURL: frontendRedirectURL}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(httprate.LimitByIP(rps, time.Minute))

	r.Post("/submit-track", s.handleSubmitTrack)
	r.Post("/listener-login", s.handleListenerLogin)
	r.Get("/session/{id}", s.handleSessionStatus)
	r.Post("/master-random-liked", s.handleMasterRandomLiked)
	r.Get("/airhorns", s.handleAirhorns)
	r.Get("/login", s.handleLogin)
	r.Get("/callback", s.handleCallback)

	return r
}
