// Package broadcast implements the Broadcast Fabric: the single source
// of truth for outbound messages and the fan-out/targeted send
// mechanics that keep every connected participant's view consistent
// (spec §4.E).
package broadcast

import (
	"github.com/rs/zerolog/log"

	"github.com/jamspot/jamspot/internal/domain/participant"
)

// Kind tags an outbound message (spec §4.E).
type Kind string

const (
	KindTracksList       Kind = "tracks_list"
	KindMode             Kind = "mode"
	KindSessionMode      Kind = "session_mode"
	KindSessionsList     Kind = "sessions_list"
	KindHistory          Kind = "history"
	KindPlayHistory      Kind = "play_history"
	KindPlayAirhorn      Kind = "play_airhorn"
	KindProminentMessage Kind = "prominent_message"
	KindPlaybackError    Kind = "playback_error"
	KindPlayTrack        Kind = "play_track"
	KindLoginSuccess     Kind = "login_success"
	KindLoginError       Kind = "login_error"
	KindPong             Kind = "pong"
)

// SessionSource is the narrow view of the session registry the fabric
// needs: every session, regardless of connection state.
type SessionSource interface {
	All() []*participant.Session
}

// Fabric fans outbound messages out to every connected session, or
// targets one session directly. A broadcast silently skips sessions
// whose transport is not currently open; it never evicts — eviction is
// the heartbeat cleanup task's job (spec §4.E).
type Fabric struct {
	sessions SessionSource
}

// New returns a Fabric reading live sessions from the given source.
func New(sessions SessionSource) *Fabric {
	return &Fabric{sessions: sessions}
}

// Broadcast sends kind/payload to every currently-connected session.
// Per-session transport write errors are logged and otherwise ignored
// (spec §7 TransportWriteError): no failure in one session affects
// another's state.
func (f *Fabric) Broadcast(kind Kind, payload any) {
	for _, s := range f.sessions.All() {
		if s.Transport == nil {
			continue
		}
		if err := s.Transport.Send(string(kind), payload); err != nil {
			log.Warn().Err(err).Str("session_id", s.ID).Str("kind", string(kind)).Msg("broadcast send failed")
		}
	}
}

// Send targets one session by id. A no-op if the session does not exist
// or is not currently connected.
func (f *Fabric) Send(sessionID string, kind Kind, payload any) {
	for _, s := range f.sessions.All() {
		if s.ID != sessionID {
			continue
		}
		if s.Transport == nil {
			return
		}
		if err := s.Transport.Send(string(kind), payload); err != nil {
			log.Warn().Err(err).Str("session_id", s.ID).Str("kind", string(kind)).Msg("targeted send failed")
		}
		return
	}
}
