package room

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/jamspot/jamspot/internal/domain/history"
)

// MasterRandomLiked fair-inserts up to n of the conductor's liked
// tracks, attributed to the conductor, silently skipping any already
// present in the user queue (spec §4.H "master-random-liked"). Returns
// the number actually added.
func (m *Manager) MasterRandomLiked(ctx context.Context, sessionID string, n int) (int, error) {
	m.mu.Lock()
	if m.state.ConductorSessionID != sessionID {
		m.mu.Unlock()
		return 0, errors.Wrap(ErrForbidden, "master-random-liked requires the conductor session")
	}
	conductor, ok := m.reg.Get(sessionID)
	if !ok || !conductor.Identity.IsProviderAuthenticated() {
		m.mu.Unlock()
		return 0, errors.Wrap(ErrInvalidInput, "conductor session has no provider credentials")
	}
	token := conductor.Identity.AccessToken
	name := conductor.Identity.DisplayName
	email := conductor.Identity.Email
	m.mu.Unlock()

	tracks, err := m.gateway.RandomLiked(ctx, token, n)
	if err != nil {
		return 0, errors.Wrap(err, "fetching random liked tracks")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	added := 0
	for i := range tracks {
		t := tracks[i]
		t.SubmitterEmail = email
		t.SubmitterName = name
		t.SubmittedAt = now
		if err := m.queue.Add(&t); err != nil {
			continue
		}
		added++
		m.appendHistoryLocked(history.Event{Kind: history.EventTrackAdded, At: now, ActorName: name, ActorEmail: email, ProviderURI: t.ProviderURI, Details: t.Name})
	}
	if added > 0 {
		m.broadcastTracksAndModeLocked()
		m.broadcastHistoryLocked()
		m.persistQueueAsyncLocked()
	}
	return added, nil
}
