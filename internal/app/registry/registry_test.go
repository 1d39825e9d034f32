package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamspot/jamspot/internal/domain/participant"
)

func TestOnLogin_RejectsIncompleteIdentity(t *testing.T) {
	s := &participant.Session{ID: "s1", Identity: participant.Identity{DisplayName: "A"}}
	err := OnLogin(s)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestOnLogin_AcceptsListenerIdentity(t *testing.T) {
	s := &participant.Session{ID: "s1", Identity: participant.Identity{DisplayName: "A", Email: "a@x.com"}}
	assert.NoError(t, OnLogin(s))
}

// scenario 6 from spec §8: duplicate-email login dedup.
func TestRegistry_EvictByEmail_ReportsEvictedConductor(t *testing.T) {
	r := New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s1 := &participant.Session{ID: "s1", Identity: participant.Identity{Email: "e@x.com", AccessToken: "old"}, JoinedAt: now}
	r.Put(s1)
	conductorID := "s1"

	s2 := &participant.Session{ID: "s2", Identity: participant.Identity{Email: "E@X.com", AccessToken: "new"}, JoinedAt: now.Add(time.Second)}
	r.Put(s2)

	result := r.EvictByEmail("E@X.com", "s2", conductorID)

	assert.Equal(t, "s1", result.EvictedSessionID)
	assert.True(t, result.WasConductor)
	_, ok := r.Get("s1")
	assert.False(t, ok)
	_, ok = r.Get("s2")
	assert.True(t, ok)
}

func TestRegistry_EvictByEmail_NoMatch(t *testing.T) {
	r := New()
	r.Put(&participant.Session{ID: "s1", Identity: participant.Identity{Email: "other@x.com"}})

	result := r.EvictByEmail("e@x.com", "s2", "")
	assert.Equal(t, EvictResult{}, result)
}

func TestRegistry_AtMostOneSessionPerEmail(t *testing.T) {
	r := New()
	now := time.Now().Add(0) // deterministic enough for ordering test below
	r.Put(&participant.Session{ID: "s1", Identity: participant.Identity{Email: "e@x.com"}, JoinedAt: now})

	evicted := r.EvictByEmail("e@x.com", "s2", "")
	r.Put(&participant.Session{ID: "s2", Identity: participant.Identity{Email: "e@x.com"}, JoinedAt: now.Add(time.Second)})

	require.Equal(t, "s1", evicted.EvictedSessionID)
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_StaleSessions(t *testing.T) {
	r := New()
	now := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	r.Put(&participant.Session{ID: "fresh", LastHeartbeat: now})
	r.Put(&participant.Session{ID: "stale", LastHeartbeat: now.Add(-61 * time.Second)})

	stale := r.StaleSessions(now, 60*time.Second)
	assert.Equal(t, []string{"stale"}, stale)
}

func TestRegistry_AssignConductorIfNeeded(t *testing.T) {
	r := New()
	r.Put(&participant.Session{ID: "listener", Identity: participant.Identity{}})
	r.Put(&participant.Session{ID: "provider-sess", Identity: participant.Identity{AccessToken: "tok"}})

	got := r.AssignConductorIfNeeded("")
	assert.Equal(t, "provider-sess", got)
}

func TestRegistry_AssignConductorIfNeeded_EarliestJoinedWinsAmongMultiple(t *testing.T) {
	r := New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.Put(&participant.Session{ID: "third", Identity: participant.Identity{AccessToken: "tok"}, JoinedAt: now.Add(2 * time.Second)})
	r.Put(&participant.Session{ID: "first", Identity: participant.Identity{AccessToken: "tok"}, JoinedAt: now})
	r.Put(&participant.Session{ID: "second", Identity: participant.Identity{AccessToken: "tok"}, JoinedAt: now.Add(time.Second)})

	got := r.AssignConductorIfNeeded("")
	assert.Equal(t, "first", got)
}

func TestRegistry_AssignConductorIfNeeded_AlreadySet(t *testing.T) {
	r := New()
	r.Put(&participant.Session{ID: "provider-sess", Identity: participant.Identity{AccessToken: "tok"}})

	got := r.AssignConductorIfNeeded("provider-sess")
	assert.Equal(t, "", got)
}

func TestRegistry_DedupedDirectory_NewestWins(t *testing.T) {
	r := New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.Put(&participant.Session{ID: "old", Identity: participant.Identity{Email: "e@x.com"}, JoinedAt: now})
	r.Put(&participant.Session{ID: "new", Identity: participant.Identity{Email: "E@X.COM"}, JoinedAt: now.Add(time.Minute)})

	dir := r.DedupedDirectory()
	require.Len(t, dir, 1)
	assert.Equal(t, "new", dir[0].ID)
}

func TestRegistry_DetachTransport(t *testing.T) {
	r := New()
	r.Put(&participant.Session{ID: "s1"})
	_, ok := r.AttachTransport("s1", fakeHandle{}, time.Now())
	require.True(t, ok)

	r.DetachTransport("s1")
	s, _ := r.Get("s1")
	assert.False(t, s.IsConnected())
}

type fakeHandle struct{}

func (fakeHandle) Send(string, any) error { return nil }
func (fakeHandle) Close() error           { return nil }
