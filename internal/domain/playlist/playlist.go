// Package playlist provides the Playlist domain entity used to source
// and describe the fallback queue.
package playlist

import "github.com/jamspot/jamspot/internal/domain/track"

// Playlist is a provider playlist, as fetched to seed or describe the
// fallback queue.
type Playlist struct {
	ProviderURI string
	Name        string
	Description string
	Owner       string
	ImageURL    string
	URL         string
	Tracks      []track.Track
}

// TrackIDs returns the provider URIs of every track in the playlist, in
// playlist order.
func (p *Playlist) TrackIDs() []string {
	ids := make([]string, len(p.Tracks))
	for i, t := range p.Tracks {
		ids[i] = t.ProviderURI
	}
	return ids
}

// TotalDuration returns the total duration of all tracks, in seconds.
func (p *Playlist) TotalDuration() int64 {
	var total int64
	for _, t := range p.Tracks {
		total += int64(t.Duration.Seconds())
	}
	return total
}
