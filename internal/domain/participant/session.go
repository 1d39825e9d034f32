// Package participant provides the Participant Session domain entity:
// the tuple of identity, transport handle, and follower mode that the
// session registry tracks per connected participant.
package participant

import "time"

// FollowerMode is a participant's relationship to the conductor's
// playback.
type FollowerMode string

const (
	FollowerModeFollow FollowerMode = "follow"
	FollowerModePaused FollowerMode = "paused"
)

// Identity is the participant's authentication state. A session is
// provider-authenticated when AccessToken is non-empty; otherwise it is
// listener-only.
type Identity struct {
	DisplayName string
	Email       string

	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// IsProviderAuthenticated reports whether this identity carries a live
// provider access token, i.e. whether the session can act as conductor
// or follower rather than listener-only.
func (i Identity) IsProviderAuthenticated() bool {
	return i.AccessToken != ""
}

// IsComplete reports whether the identity has enough information to be
// a valid session of either kind (§4.C onLogin).
func (i Identity) IsComplete() bool {
	return i.DisplayName != "" && i.Email != ""
}

// TransportHandle is the narrow interface the session registry holds
// onto for writing frames to a connected participant's persistent
// channel. It is implemented by the transport edge's websocket
// connection wrapper; the registry never constructs one itself and
// never writes to it directly — only the transport edge writes bytes.
type TransportHandle interface {
	// Send enqueues an outbound frame for delivery. Implementations must
	// not block the caller on network I/O; per-session FIFO ordering and
	// actual writes happen on the transport edge's own goroutine.
	Send(kind string, payload any) error
	// Close tears down the underlying connection.
	Close() error
}

// Session is one connected (or recently connected) participant.
type Session struct {
	ID       string
	Identity Identity

	// Transport is nil when the participant is not currently connected.
	// A nil Transport does not mean the session is evicted: only the
	// heartbeat cleanup task evicts sessions.
	Transport TransportHandle

	FollowerMode FollowerMode

	LastHeartbeat time.Time
	JoinedAt      time.Time
}

// NewListener constructs a listener-only session (no provider
// credentials) with the given id.
func NewListener(id, displayName, email string, now time.Time) *Session {
	return &Session{
		ID: id,
		Identity: Identity{
			DisplayName: displayName,
			Email:       email,
		},
		FollowerMode:  FollowerModeFollow,
		LastHeartbeat: now,
		JoinedAt:      now,
	}
}

// IsStale reports whether the session's last heartbeat is older than
// the given timeout, i.e. it is a candidate for eviction by the
// cleanup task.
func (s *Session) IsStale(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastHeartbeat) > timeout
}

// IsConnected reports whether a transport handle is currently attached.
func (s *Session) IsConnected() bool {
	return s.Transport != nil
}

// CanTakeMasterControl reports whether this session is eligible to
// become conductor via take_master_control: it must carry a live
// provider token and have its email on the allow-list (checked by the
// caller, which holds the configured allow-list).
func (s *Session) CanTakeMasterControl(allowListed bool) bool {
	return allowListed && s.Identity.IsProviderAuthenticated()
}
