// Package registry implements the Session Registry: the map of
// session-id to Participant Session, identity de-duplication, and
// conductor assignment/transfer (spec §4.C).
package registry

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/jamspot/jamspot/internal/domain/participant"
)

// ErrInvalidSession is returned by OnLogin when neither a provider nor a
// listener identity is complete (spec §4.C, §7 UnauthorizedSession).
var ErrInvalidSession = errors.New("registry: invalid session identity")

// Registry holds the live session map. Not concurrency-safe on its own;
// the room manager serializes access under its mutation lock.
type Registry struct {
	sessions map[string]*participant.Session
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]*participant.Session)}
}

// Put inserts or overwrites a session by id, used when restoring from
// persistence.
func (r *Registry) Put(s *participant.Session) {
	r.sessions[s.ID] = s
}

// Get returns the session with the given id, if any.
func (r *Registry) Get(id string) (*participant.Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// All returns every session, in no particular order.
func (r *Registry) All() []*participant.Session {
	out := make([]*participant.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of tracked sessions.
func (r *Registry) Count() int {
	return len(r.sessions)
}

// Delete removes a session by id.
func (r *Registry) Delete(id string) {
	delete(r.sessions, id)
}

// EvictResult describes the outcome of de-duplicating by email.
type EvictResult struct {
	EvictedSessionID string
	WasConductor     bool
}

// EvictByEmail removes any session other than keepID whose email
// matches (case-insensitive), per spec §4.C "de-duplication on login".
// Returns the evicted session id and whether it was the conductor, or a
// zero-value result if nothing matched.
func (r *Registry) EvictByEmail(email, keepID, conductorID string) EvictResult {
	lower := strings.ToLower(email)
	for id, s := range r.sessions {
		if id == keepID {
			continue
		}
		if strings.ToLower(s.Identity.Email) != lower {
			continue
		}
		delete(r.sessions, id)
		return EvictResult{EvictedSessionID: id, WasConductor: id == conductorID}
	}
	return EvictResult{}
}

// OnLogin validates that a session's identity is complete enough to
// attach a transport to it (spec §4.C "onLogin"). Returns
// ErrInvalidSession if neither provider-identity nor listener-identity
// is complete.
func OnLogin(s *participant.Session) error {
	if !s.Identity.IsComplete() {
		return errors.Wrapf(ErrInvalidSession, "session %q", s.ID)
	}
	return nil
}

// AttachTransport attaches a transport handle to a session and refreshes
// its heartbeat, clearing any pending stale-eviction risk (spec §4.C
// "attachTransport").
func (r *Registry) AttachTransport(id string, handle participant.TransportHandle, now time.Time) (*participant.Session, bool) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	s.Transport = handle
	s.LastHeartbeat = now
	return s, true
}

// OnHeartbeat updates a session's last-heartbeat timestamp.
func (r *Registry) OnHeartbeat(id string, now time.Time) bool {
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	s.LastHeartbeat = now
	return true
}

// DetachTransport marks a session's transport handle null without
// evicting it (spec §4.H "on transport close").
func (r *Registry) DetachTransport(id string) {
	if s, ok := r.sessions[id]; ok {
		s.Transport = nil
	}
}

// StaleSessions returns the ids of every session whose last-heartbeat
// predates now-timeout (spec §4.C "cleanupStale").
func (r *Registry) StaleSessions(now time.Time, timeout time.Duration) []string {
	var stale []string
	for id, s := range r.sessions {
		if s.IsStale(now, timeout) {
			stale = append(stale, id)
		}
	}
	return stale
}

// AssignConductorIfNeeded returns the id of the earliest-joined session
// carrying a provider access token, unless currentConductorID names a
// registered session that still carries one. Returns "" if that
// conductor is still valid or no session is eligible (spec
// §4.C "conductor assignment": "the first such session"). Iteration
// order over the session map is randomized by Go itself, so "first"
// is resolved by JoinedAt rather than by map traversal order.
func (r *Registry) AssignConductorIfNeeded(currentConductorID string) string {
	if currentConductorID != "" {
		if s, ok := r.sessions[currentConductorID]; ok && s.Identity.IsProviderAuthenticated() {
			return ""
		}
	}
	var earliestID string
	var earliestJoinedAt time.Time
	for id, s := range r.sessions {
		if !s.Identity.IsProviderAuthenticated() {
			continue
		}
		if earliestID == "" || s.JoinedAt.Before(earliestJoinedAt) {
			earliestID = id
			earliestJoinedAt = s.JoinedAt
		}
	}
	return earliestID
}

// DedupedDirectory returns one session per email (case-insensitive),
// newest session-id wins by JoinedAt, for the sessions_list broadcast
// (spec §4.E "deduplicated participant directory").
func (r *Registry) DedupedDirectory() []*participant.Session {
	byEmail := make(map[string]*participant.Session)
	for _, s := range r.sessions {
		key := strings.ToLower(s.Identity.Email)
		existing, ok := byEmail[key]
		if !ok || s.JoinedAt.After(existing.JoinedAt) {
			byEmail[key] = s
		}
	}
	out := make([]*participant.Session, 0, len(byEmail))
	for _, s := range byEmail {
		out = append(out, s)
	}
	return out
}
