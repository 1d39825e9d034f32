package providergw

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_URI(t *testing.T) {
	ref, err := Parse("spotify:track:4uLU6hMCjMI75M1A2tKUQC")
	require.NoError(t, err)
	assert.Equal(t, RefKindTrack, ref.Kind)
	assert.Equal(t, "4uLU6hMCjMI75M1A2tKUQC", ref.ID)
	assert.Equal(t, "provider:track:4uLU6hMCjMI75M1A2tKUQC", ref.URI)
}

func TestParse_PlaylistURL(t *testing.T) {
	ref, err := Parse("https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M?si=abc123")
	require.NoError(t, err)
	assert.Equal(t, RefKindPlaylist, ref.Kind)
	assert.Equal(t, "37i9dQZF1DXcBWIGoYBM5M", ref.ID)
}

func TestParse_TrackURL_TrailingSlash(t *testing.T) {
	ref, err := Parse("https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC/")
	require.NoError(t, err)
	assert.Equal(t, RefKindTrack, ref.Kind)
	assert.Equal(t, "4uLU6hMCjMI75M1A2tKUQC", ref.ID)
}

func TestParse_BareID_TreatedAsTrack(t *testing.T) {
	bareID := "4uLU6hMCjMI75M1A2tKUQ" + "C" // 22 chars
	require.Len(t, bareID, rawIDLength)

	ref, err := Parse(bareID)
	require.NoError(t, err)
	assert.Equal(t, RefKindTrack, ref.Kind)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse("not a reference")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse("")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRefKind_Admissible(t *testing.T) {
	assert.True(t, RefKindTrack.Admissible())
	assert.True(t, RefKindPlaylist.Admissible())
	assert.False(t, RefKindAlbum.Admissible())
	assert.False(t, RefKindArtist.Admissible())
}
