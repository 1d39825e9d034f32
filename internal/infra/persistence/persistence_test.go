package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamspot/jamspot/internal/domain/history"
	"github.com/jamspot/jamspot/internal/domain/participant"
	"github.com/jamspot/jamspot/internal/domain/track"
)

func TestStore_QueueRoundTrip(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tracks := []*track.Track{
		{ProviderURI: "provider:track:a", Name: "Song A", SubmitterEmail: "a@x.com", SubmittedAt: now, JamCounts: map[string]int{"a@x.com": 1}},
		{ProviderURI: "provider:track:b", Name: "Song B", SubmitterEmail: track.FallbackSubmitter, IsFallback: true},
	}

	require.NoError(t, store.SaveQueue(tracks))

	loaded, err := store.LoadQueue()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "provider:track:a", loaded[0].ProviderURI)
	assert.Equal(t, 1, loaded[0].JamCounts["a@x.com"])
	assert.True(t, loaded[1].IsFallback)
}

func TestStore_LoadQueue_MissingFileReturnsEmpty(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	loaded, err := store.LoadQueue()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestStore_SessionsRoundTrip_OmitsListenerOnly(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	sessions := []*participant.Session{
		{ID: "s1", Identity: participant.Identity{DisplayName: "A", Email: "a@x.com", AccessToken: "tok"}},
		{ID: "s2", Identity: participant.Identity{DisplayName: "B", Email: "b@x.com"}},
	}

	require.NoError(t, store.SaveSessions(sessions))

	loaded, err := store.LoadSessions()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "s1", loaded[0].ID)
	assert.Nil(t, loaded[0].Transport)
}

func TestStore_HistoryRoundTrip(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	events := []history.Event{
		{Kind: history.EventJam, ActorEmail: "a@x.com", ProviderURI: "provider:track:a"},
	}
	require.NoError(t, store.SaveHistory(events))

	loaded, err := store.LoadHistory()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, history.EventJam, loaded[0].Kind)
}
