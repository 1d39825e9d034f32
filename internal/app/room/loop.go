package room

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// credentialRefreshInterval is how often every provider-capable
// session's token is proactively refreshed and re-persisted (spec §4.G
// "every 30 minutes").
const credentialRefreshInterval = 30 * time.Minute

// SetLoopContext stores the context background loops derive their
// lifetime from. Call once, before StartLoop/RunCleanupLoop/
// RunCredentialRefreshLoop, with the process's shutdown context.
func (m *Manager) SetLoopContext(ctx context.Context) {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	m.loopBaseCtx = ctx
}

// StartLoop starts the reconciliation loop's ticker goroutine, if not
// already running. A no-op if the loop is already started (spec §4.D
// "the loop runs only while mode is playing").
func (m *Manager) StartLoop() {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.loopCancel != nil {
		return
	}
	base := m.loopBaseCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	m.loopCancel = cancel
	go m.runLoop(ctx)
}

// StopLoop stops the reconciliation loop's ticker goroutine, if
// running.
func (m *Manager) StopLoop() {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.loopCancel != nil {
		m.loopCancel()
		m.loopCancel = nil
	}
}

// RestartLoop stops and restarts the reconciliation loop, used when the
// conductor changes mid-playback so the next tick polls with the new
// conductor's credentials (spec §4.C "conductor assignment").
func (m *Manager) RestartLoop() {
	m.StopLoop()
	m.StartLoop()
}

// runLoop is the reconciliation loop's ticker lifecycle. Ticks are
// processed one at a time inside this select loop: a slow Tick delays
// the next ticker.C read rather than running concurrently with it, so
// overlapping ticks cannot occur (spec §5 "idempotent").
func (m *Manager) runLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// RunCleanupLoop runs the stale-session eviction sweep on a fixed
// ticker until ctx is canceled (spec §4.C cleanupStale).
func (m *Manager) RunCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupStaleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupStale()
		}
	}
}

// RunCredentialRefreshLoop proactively refreshes every provider-capable
// session's access token and re-persists the session file on a fixed
// ticker until ctx is canceled (spec §4.G).
func (m *Manager) RunCredentialRefreshLoop(ctx context.Context) {
	ticker := time.NewTicker(credentialRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refreshAllCredentials(ctx)
		}
	}
}

func (m *Manager) refreshAllCredentials(ctx context.Context) {
	m.mu.Lock()
	sessions := m.reg.All()
	m.mu.Unlock()

	refreshedAny := false
	for _, s := range sessions {
		if !s.Identity.IsProviderAuthenticated() {
			continue
		}
		if _, ok := m.refreshSessionCredentials(ctx, s.ID); ok {
			refreshedAny = true
		}
	}
	if refreshedAny {
		m.persistSessionsAsync()
	}
}

// refreshSessionCredentials exchanges sessionID's refresh token for a
// fresh access token and stores the result. On failure it drops the
// session's provider credentials (the session itself is kept) (spec §7
// RefreshFailure).
func (m *Manager) refreshSessionCredentials(ctx context.Context, sessionID string) (string, bool) {
	m.mu.Lock()
	s, ok := m.reg.Get(sessionID)
	if !ok {
		m.mu.Unlock()
		return "", false
	}
	refreshToken := s.Identity.RefreshToken
	m.mu.Unlock()

	refreshed, err := m.gateway.Refresh(ctx, refreshToken)

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok = m.reg.Get(sessionID)
	if !ok {
		return "", false
	}
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("dropping provider credentials: refresh failed")
		s.Identity.AccessToken = ""
		s.Identity.RefreshToken = ""
		return "", false
	}
	s.Identity.AccessToken = refreshed.AccessToken
	s.Identity.ExpiresAt = refreshed.ExpiresAt
	if refreshed.RefreshToken != "" {
		s.Identity.RefreshToken = refreshed.RefreshToken
	}
	return s.Identity.AccessToken, true
}
