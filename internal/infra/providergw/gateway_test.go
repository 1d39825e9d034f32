package providergw

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamspot/jamspot/internal/domain/track"
)

func TestJoinComma(t *testing.T) {
	assert.Equal(t, "", joinComma(nil))
	assert.Equal(t, "A", joinComma([]string{"A"}))
	assert.Equal(t, "A, B, C", joinComma([]string{"A", "B", "C"}))
}

func TestShuffleTracks_PreservesSet(t *testing.T) {
	in := []track.Track{
		{ProviderURI: "A"}, {ProviderURI: "B"}, {ProviderURI: "C"},
	}
	out, err := shuffleTracks(in)
	require.NoError(t, err)
	require.Len(t, out, 3)

	seen := map[string]bool{}
	for _, t := range out {
		seen[t.ProviderURI] = true
	}
	assert.Len(t, seen, 3)
}

func TestGateway_TrackURL(t *testing.T) {
	g := New(Config{ClientID: "id", ClientSecret: "secret"})
	assert.Equal(t, "https://open.spotify.com/track/abc123", g.TrackURL("abc123"))
}
