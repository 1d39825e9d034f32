package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrack_JamAndUnjam(t *testing.T) {
	tr := &Track{ProviderURI: "provider:track:abc"}

	tr.Jam("a@x.com")
	tr.Jam("a@x.com")
	tr.Jam("b@x.com")
	assert.Equal(t, 2, tr.JamCounts["a@x.com"])
	assert.Equal(t, 1, tr.JamCounts["b@x.com"])

	tr.Unjam("a@x.com")
	assert.Equal(t, 1, tr.JamCounts["a@x.com"])

	tr.Unjam("a@x.com")
	_, ok := tr.JamCounts["a@x.com"]
	assert.False(t, ok, "jam count should be removed once it reaches zero")
}

func TestTrack_Unjam_NoJamCounts(t *testing.T) {
	tr := &Track{ProviderURI: "provider:track:abc"}
	assert.NotPanics(t, func() { tr.Unjam("nobody@x.com") })
}

func TestTrack_IsFallbackSubmitter(t *testing.T) {
	fallback := &Track{SubmitterEmail: FallbackSubmitter}
	user := &Track{SubmitterEmail: "real@x.com"}

	assert.True(t, fallback.IsFallbackSubmitter())
	assert.False(t, user.IsFallbackSubmitter())
}

func TestTrack_Promote(t *testing.T) {
	tr := &Track{
		ProviderURI:    "provider:track:k",
		SubmitterEmail: FallbackSubmitter,
		IsFallback:     true,
	}
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tr.Promote("actor@x.com", "Actor", at)

	assert.False(t, tr.IsFallback)
	assert.Equal(t, "actor@x.com", tr.SubmitterEmail)
	assert.Equal(t, "Actor", tr.SubmitterName)
	assert.Equal(t, at, tr.SubmittedAt)
	assert.Equal(t, map[string]int{"actor@x.com": 1}, tr.JamCounts)
}

func TestTrack_Clone_DeepCopiesJamCounts(t *testing.T) {
	original := &Track{
		ProviderURI: "provider:track:abc",
		JamCounts:   map[string]int{"a@x.com": 1},
		Progress:    &Progress{PositionMs: 1000, DurationMs: 200000},
	}

	clone := original.Clone()
	clone.JamCounts["a@x.com"] = 99
	clone.Progress.PositionMs = 5000

	assert.Equal(t, 1, original.JamCounts["a@x.com"])
	assert.Equal(t, 1000, original.Progress.PositionMs)
}

func TestTrack_Clone_Nil(t *testing.T) {
	var tr *Track
	assert.Nil(t, tr.Clone())
}
