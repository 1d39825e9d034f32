package providergw

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// RefKind is the kind of entity a parsed provider reference points to
// (spec §4.A parse).
type RefKind string

const (
	RefKindTrack    RefKind = "track"
	RefKindPlaylist RefKind = "playlist"
	RefKindAlbum    RefKind = "album"
	RefKindArtist   RefKind = "artist"
	RefKindEpisode  RefKind = "episode"
	RefKindShow     RefKind = "show"
)

// Admissible reports whether a RefKind may be queued or played. Only
// track and playlist are admissible; other kinds must be rejected
// upstream with a user-visible error (spec §4.A).
func (k RefKind) Admissible() bool {
	return k == RefKindTrack || k == RefKindPlaylist
}

// Ref is a parsed provider reference.
type Ref struct {
	Kind RefKind
	URI  string // canonical provider:<kind>:<id>
	ID   string
}

// rawIDLength is the length of a bare Spotify base62 entity id.
const rawIDLength = 22

// Parse accepts a provider URL, URI, or bare id and returns its kind and
// canonical URI. A bare rawIDLength-character id is treated as a track
// (spec §4.A "Accepts provider URLs, URIs, and bare 22-character IDs
// (treated as track)").
func Parse(input string) (Ref, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Ref{}, errors.Wrap(ErrInvalidInput, "empty input")
	}

	if strings.HasPrefix(input, "spotify:") {
		parts := strings.SplitN(input, ":", 3)
		if len(parts) != 3 || parts[2] == "" {
			return Ref{}, errors.Wrapf(ErrInvalidInput, "malformed uri %q", input)
		}
		kind := RefKind(parts[1])
		return Ref{Kind: kind, ID: parts[2], URI: canonicalURI(kind, parts[2])}, nil
	}

	if strings.Contains(input, "open.spotify.com") {
		return parseURL(input)
	}

	if len(input) == rawIDLength {
		return Ref{Kind: RefKindTrack, ID: input, URI: canonicalURI(RefKindTrack, input)}, nil
	}

	return Ref{}, errors.Wrapf(ErrInvalidInput, "unrecognized reference %q", input)
}

func parseURL(input string) (Ref, error) {
	for _, kind := range []RefKind{RefKindTrack, RefKindPlaylist, RefKindAlbum, RefKindArtist, RefKindEpisode, RefKindShow} {
		marker := "/" + string(kind) + "/"
		if !strings.Contains(input, marker) {
			continue
		}
		parts := strings.SplitN(input, marker, 2)
		if len(parts) != 2 {
			continue
		}
		id := strings.Split(parts[1], "?")[0]
		id = strings.TrimRight(id, "/")
		if id == "" {
			continue
		}
		return Ref{Kind: kind, ID: id, URI: canonicalURI(kind, id)}, nil
	}
	return Ref{}, errors.Wrapf(ErrInvalidInput, "unrecognized url %q", input)
}

func canonicalURI(kind RefKind, id string) string {
	return "provider:" + string(kind) + ":" + id
}
