package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/jamspot/jamspot/internal/app/room"
	"github.com/jamspot/jamspot/internal/transport/message"
)

const requestTimeout = 8 * time.Second

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, message.ErrorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// handleSubmitTrack is POST submit-track (spec §4.H submit_track, §6).
func (s *Server) handleSubmitTrack(w http.ResponseWriter, r *http.Request) {
	var req message.SubmitTrack
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Input == "" || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, errors.New("input and sessionId are required"))
		return
	}
	if !s.mgr.SessionExists(req.SessionID) {
		writeError(w, http.StatusBadRequest, errors.New("unknown session"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	name, email := s.submitterIdentity(req.SessionID)
	if err := s.mgr.SubmitTrack(ctx, req.Input, email, name); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, message.SubmitTrackResponse{Success: true})
}

// submitterIdentity looks up the caller's identity for attribution on
// the HTTP submit-track path (the websocket path attributes via the
// session attached to the inbound frame instead).
func (s *Server) submitterIdentity(sessionID string) (name, email string) {
	return s.mgr.SessionIdentity(sessionID)
}

// handleListenerLogin is POST listener-login (spec §4.C createListener,
// §6).
func (s *Server) handleListenerLogin(w http.ResponseWriter, r *http.Request) {
	var req message.ListenerLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, errors.New("name and email are required"))
		return
	}
	sess := s.mgr.CreateListenerSession(req.Name, req.Email)
	writeJSON(w, http.StatusOK, message.ListenerLoginResponse{SessionID: sess.ID})
}

// handleSessionStatus is GET session/<id> (spec §6).
func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, message.SessionStatusResponse{LoggedIn: s.mgr.SessionExists(id)})
}

// handleMasterRandomLiked is POST master-random-liked (spec §4.H
// master-random-liked; conductor only).
func (s *Server) handleMasterRandomLiked(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	added, err := s.mgr.MasterRandomLiked(ctx, req.SessionID, 10)
	if err != nil {
		if errors.Is(err, room.ErrForbidden) {
			writeError(w, http.StatusForbidden, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, message.MasterRandomLikedResponse{Added: added})
}

// handleAirhorns is GET airhorns (spec §6, SPEC_FULL.md §C.2).
func (s *Server) handleAirhorns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, message.AirhornsResponse{Airhorns: s.airhorns})
}

// handleLogin is GET login: redirects to the provider with a signed
// state carrying the session-id (spec §6, §4.A authorize).
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, errors.New("sessionId is required"))
		return
	}
	state, err := signState(s.jwtSecret, sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	http.Redirect(w, r, s.gw.Authorize(state), http.StatusFound)
}

// handleCallback is GET callback: exchanges the code, fetches the
// account profile, populates the session, and redirects to the
// front-end with sessionId in the query (spec §6, §4.A codeGrant).
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing code or state"))
		return
	}
	sessionID, err := verifyState(s.jwtSecret, state)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	grant, err := s.gw.CodeGrant(ctx, code)
	if err != nil {
		log.Warn().Err(err).Msg("oauth code grant failed")
		writeError(w, http.StatusBadGateway, err)
		return
	}
	profile, err := s.gw.CurrentUser(ctx, grant.AccessToken)
	if err != nil {
		log.Warn().Err(err).Msg("fetching provider profile after code grant failed")
		writeError(w, http.StatusBadGateway, err)
		return
	}

	s.mgr.CreateProviderSession(sessionID, profile.DisplayName, profile.Email, grant.AccessToken, grant.RefreshToken, grant.ExpiresAt)

	redirectURL := s.frontendRedirectURL + "?sessionId=" + sessionID
	http.Redirect(w, r, redirectURL, http.StatusFound)
}
