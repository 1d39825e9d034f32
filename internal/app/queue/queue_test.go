package queue

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamspot/jamspot/internal/domain/track"
)

func uris(tracks []*track.Track) []string {
	out := make([]string, len(tracks))
	for i, t := range tracks {
		out[i] = t.ProviderURI
	}
	return out
}

func submit(e *Engine, uri, email string) error {
	return e.Add(&track.Track{ProviderURI: uri, SubmitterEmail: email})
}

// scenario 1 from spec §8: fair insertion regression.
func TestEngine_Add_FairInsertionRegression(t *testing.T) {
	e := New()
	require.NoError(t, submit(e, "A1", "u1"))
	require.NoError(t, submit(e, "B1", "u2"))
	require.NoError(t, submit(e, "A2", "u1"))
	require.NoError(t, submit(e, "B2", "u2"))
	require.NoError(t, submit(e, "A3", "u1"))

	require.NoError(t, submit(e, "C1", "u3"))
	if diff := cmp.Diff([]string{"A1", "B1", "C1", "A2", "B2", "A3"}, uris(e.UserTracks())); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, submit(e, "C2", "u3"))
	if diff := cmp.Diff([]string{"A1", "B1", "C1", "A2", "B2", "C2", "A3"}, uris(e.UserTracks())); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

// scenario 2 from spec §8: five-then-one.
func TestEngine_Add_FiveThenOne(t *testing.T) {
	e := New()
	require.NoError(t, submit(e, "A", "u1"))
	require.NoError(t, submit(e, "B", "u1"))
	require.NoError(t, submit(e, "C", "u1"))
	require.NoError(t, submit(e, "D", "u1"))
	require.NoError(t, submit(e, "E", "u1"))

	require.NoError(t, submit(e, "F", "u2"))

	assert.Equal(t, []string{"A", "F", "B", "C", "D", "E"}, uris(e.UserTracks()))
}

func TestEngine_Add_RejectsDuplicateURI(t *testing.T) {
	e := New()
	require.NoError(t, submit(e, "A", "u1"))
	err := submit(e, "A", "u2")
	assert.ErrorIs(t, err, ErrDuplicateURI)
	assert.Equal(t, 1, e.UserLen())
}

func TestEngine_Add_NullSubmitterAppendsToEnd(t *testing.T) {
	e := New()
	require.NoError(t, submit(e, "A", "u1"))
	require.NoError(t, e.Add(&track.Track{ProviderURI: "X"}))
	assert.Equal(t, []string{"A", "X"}, uris(e.UserTracks()))
}

func TestEngine_AddRemove_RestoresEquality(t *testing.T) {
	e := New()
	require.NoError(t, submit(e, "A", "u1"))
	require.NoError(t, submit(e, "B", "u2"))
	before := uris(e.UserTracks())

	require.NoError(t, submit(e, "C", "u3"))
	require.NoError(t, e.Remove("C"))

	assert.Equal(t, before, uris(e.UserTracks()))
}

func TestEngine_PeekNext_Idempotent(t *testing.T) {
	e := New()
	require.NoError(t, submit(e, "A", "u1"))

	first := e.PeekNext()
	second := e.PeekNext()
	assert.Equal(t, first, second)
}

func TestEngine_PeekNext_FallsBackToFallbackQueue(t *testing.T) {
	e := New()
	e.ReplaceFallback([]*track.Track{{ProviderURI: "FB1", SubmitterEmail: track.FallbackSubmitter}})

	peek := e.PeekNext()
	require.NotNil(t, peek)
	assert.True(t, peek.IsFallback)
	assert.Equal(t, "FB1", peek.Track.ProviderURI)
}

func TestEngine_PeekNext_EmptyQueues(t *testing.T) {
	e := New()
	assert.Nil(t, e.PeekNext())
}

func TestEngine_ConsumeNext_DecreasesLengthByOneAndRemovesFormerHead(t *testing.T) {
	e := New()
	require.NoError(t, submit(e, "A", "u1"))
	require.NoError(t, submit(e, "B", "u2"))

	before := e.UserLen()
	consumed, err := e.ConsumeNext(false)
	require.NoError(t, err)

	assert.Equal(t, "A", consumed.ProviderURI)
	assert.Equal(t, before-1, e.UserLen())
}

func TestEngine_DelayOne_NoOpAtTail(t *testing.T) {
	e := New()
	require.NoError(t, submit(e, "A", "u1"))
	require.NoError(t, submit(e, "B", "u2"))

	require.NoError(t, e.DelayOne("B"))
	assert.Equal(t, []string{"A", "B"}, uris(e.UserTracks()))
}

func TestEngine_DelayOne_SwapsWithSuccessor(t *testing.T) {
	e := New()
	require.NoError(t, submit(e, "A", "u1"))
	require.NoError(t, submit(e, "B", "u2"))
	require.NoError(t, submit(e, "C", "u3"))

	require.NoError(t, e.DelayOne("A"))
	assert.Equal(t, []string{"B", "A", "C"}, uris(e.UserTracks()))
}

func TestEngine_Display_AppendsFallbackUpToTarget(t *testing.T) {
	e := New()
	require.NoError(t, submit(e, "U1", "u1"))
	require.NoError(t, submit(e, "U2", "u1"))

	fallback := make([]*track.Track, 0, 12)
	for i := 0; i < 12; i++ {
		fallback = append(fallback, &track.Track{ProviderURI: track.FallbackSubmitter + string(rune('a'+i)), SubmitterEmail: track.FallbackSubmitter})
	}
	e.ReplaceFallback(fallback)

	display := e.Display()
	assert.Len(t, display, DisplayTarget)
	assert.Equal(t, "U1", display[0].ProviderURI)
	assert.Equal(t, "U2", display[1].ProviderURI)
}

func TestEngine_PromoteFallback(t *testing.T) {
	e := New()
	require.NoError(t, submit(e, "U1", "u1"))
	require.NoError(t, submit(e, "U2", "u1"))
	e.ReplaceFallback([]*track.Track{{ProviderURI: "K", SubmitterEmail: track.FallbackSubmitter, IsFallback: true}})

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, e.PromoteFallback("K", "actor@x.com", "Actor", now))

	assert.Equal(t, 0, e.FallbackLen())
	promoted, ok := e.FindUser("K")
	require.True(t, ok)
	assert.False(t, promoted.IsFallback)
	assert.Equal(t, map[string]int{"actor@x.com": 1}, promoted.JamCounts)
}

func TestEngine_SpliceOutUser(t *testing.T) {
	e := New()
	require.NoError(t, submit(e, "A", "u1"))
	require.NoError(t, submit(e, "B", "u2"))
	require.NoError(t, submit(e, "C", "u3"))

	t2, ok := e.SpliceOutUser("B")
	require.True(t, ok)
	assert.Equal(t, "B", t2.ProviderURI)
	assert.Equal(t, []string{"A", "C"}, uris(e.UserTracks()))

	_, ok = e.SpliceOutUser("B")
	assert.False(t, ok)
}

func TestShuffleFallback_PreservesSetAndTagsFallback(t *testing.T) {
	in := []track.Track{
		{ProviderURI: "A"}, {ProviderURI: "B"}, {ProviderURI: "C"}, {ProviderURI: "D"},
	}
	out, err := ShuffleFallback(in, "My Playlist")
	require.NoError(t, err)
	require.Len(t, out, 4)

	seen := map[string]bool{}
	for _, tr := range out {
		seen[tr.ProviderURI] = true
		assert.True(t, tr.IsFallback)
		assert.Equal(t, track.FallbackSubmitter, tr.SubmitterEmail)
		assert.Equal(t, "My Playlist", tr.FallbackPlaylistName)
	}
	assert.Len(t, seen, 4)
}
