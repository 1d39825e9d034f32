// Package room provides the Room State singleton domain type.
package room

import (
	"time"

	"github.com/jamspot/jamspot/internal/domain/track"
)

// Mode is the room's global playback mode.
type Mode string

const (
	ModePlaying Mode = "playing"
	ModePaused  Mode = "paused"
)

// PlaybackSnapshot is the last poll result read from the conductor's
// real player (§4.D "input snapshot per tick").
type PlaybackSnapshot struct {
	URI        string
	ProgressMs int
	DurationMs int
	IsPlaying  bool
	ObservedAt time.Time
}

// State is the room's singleton mutable state, guarded by the
// serializing lock described in spec §5.
type State struct {
	Mode Mode

	Current           *track.Track
	CurrentIsFallback bool
	// CurrentConsumed is false while Current has only been nominated (via
	// peekNext) and not yet confirmed playing; true once consumeNext has
	// actually removed it from its queue tier. See §4.B peek/consume.
	CurrentConsumed bool

	ConductorSessionID string

	LastCommandedChangeAt time.Time
	LastManualSkipAt      time.Time

	LastPolled *PlaybackSnapshot

	// ExpectedURI/ExpectedDeadline implement the playback-failure window:
	// after nominating a track, the loop expects to observe it playing by
	// ExpectedDeadline.
	ExpectedURI      string
	ExpectedDeadline time.Time
}

// New returns a fresh, paused, conductor-less room state.
func New() *State {
	return &State{Mode: ModePaused}
}

// InGraceWindow reports whether now falls within the grace period after
// the last commanded change or manual skip (spec §4.D "grace window").
func (s *State) InGraceWindow(now time.Time, grace time.Duration) bool {
	if !s.LastCommandedChangeAt.IsZero() && now.Sub(s.LastCommandedChangeAt) < grace {
		return true
	}
	if !s.LastManualSkipAt.IsZero() && now.Sub(s.LastManualSkipAt) < grace {
		return true
	}
	return false
}

// InFailureWindow reports whether a playback-failure watch is armed and
// still within its deadline.
func (s *State) InFailureWindow(now time.Time) bool {
	return s.ExpectedURI != "" && now.Before(s.ExpectedDeadline)
}

// FailureWindowExpired reports whether an armed playback-failure watch
// has passed its deadline without being cleared.
func (s *State) FailureWindowExpired(now time.Time) bool {
	return s.ExpectedURI != "" && !now.Before(s.ExpectedDeadline)
}

// ClearFailureWatch disarms the playback-failure window, called either
// when the expected track is confirmed playing or when the failure is
// declared and handled.
func (s *State) ClearFailureWatch() {
	s.ExpectedURI = ""
	s.ExpectedDeadline = time.Time{}
}

// ArmFailureWatch starts a playback-failure window for uri, expiring at
// now+window.
func (s *State) ArmFailureWatch(uri string, now time.Time, window time.Duration) {
	s.ExpectedURI = uri
	s.ExpectedDeadline = now.Add(window)
}

// MarkCommandedChange records that the server just commanded a track
// change, opening the grace window from now.
func (s *State) MarkCommandedChange(now time.Time) {
	s.LastCommandedChangeAt = now
}

// MarkManualSkip records a master_skip, opening the grace window (see
// InGraceWindow).
func (s *State) MarkManualSkip(now time.Time) {
	s.LastManualSkipAt = now
}
