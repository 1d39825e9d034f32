package playlist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jamspot/jamspot/internal/domain/track"
)

func TestPlaylist_TrackIDs(t *testing.T) {
	tests := []struct {
		name     string
		tracks   []track.Track
		expected []string
	}{
		{
			name:     "empty playlist",
			tracks:   []track.Track{},
			expected: []string{},
		},
		{
			name: "single track",
			tracks: []track.Track{
				{ProviderURI: "provider:track:1"},
			},
			expected: []string{"provider:track:1"},
		},
		{
			name: "multiple tracks",
			tracks: []track.Track{
				{ProviderURI: "provider:track:1"},
				{ProviderURI: "provider:track:2"},
				{ProviderURI: "provider:track:3"},
			},
			expected: []string{"provider:track:1", "provider:track:2", "provider:track:3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Playlist{
				ProviderURI: "provider:playlist:1",
				Tracks:      tt.tracks,
			}

			result := p.TrackIDs()
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestPlaylist_TotalDuration(t *testing.T) {
	tests := []struct {
		name     string
		tracks   []track.Track
		expected int64
	}{
		{
			name:     "empty playlist",
			tracks:   []track.Track{},
			expected: 0,
		},
		{
			name: "multiple tracks",
			tracks: []track.Track{
				{ProviderURI: "provider:track:1", Duration: 2 * time.Minute},
				{ProviderURI: "provider:track:2", Duration: 3*time.Minute + 30*time.Second},
				{ProviderURI: "provider:track:3", Duration: 4 * time.Minute},
			},
			expected: 570,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Playlist{ProviderURI: "provider:playlist:1", Tracks: tt.tracks}
			result := p.TotalDuration()
			assert.Equal(t, tt.expected, result)
		})
	}
}
