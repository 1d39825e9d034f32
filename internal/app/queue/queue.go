// Package queue implements the Queue Engine: the fair-insertion
// algorithm over the user-submitted queue, the shuffled fallback queue,
// and the peek/consume discipline that keeps a nominated track intact
// until the reconciliation loop confirms it actually started playing
// (spec §4.B).
package queue

import (
	"crypto/rand"
	"math/big"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/jamspot/jamspot/internal/domain/track"
)

// DisplayTarget is the minimum total size the display composition fills
// up to by appending fallback tracks (spec §4.B "display composition").
const DisplayTarget = 10

// ErrDuplicateURI is returned by Add when the track's ProviderURI is
// already present in the user queue (spec §3 invariant).
var ErrDuplicateURI = errors.New("queue: duplicate provider uri")

// ErrNotFound is returned by operations addressing a track by URI that
// is not present in the expected tier.
var ErrNotFound = errors.New("queue: track not found")

// Engine holds the two-tier queue. It is not concurrency-safe on its
// own; the room manager serializes access under its mutation lock.
type Engine struct {
	user     []*track.Track
	fallback []*track.Track
}

// New returns an empty engine.
func New() *Engine {
	return &Engine{}
}

// Add inserts t into the user queue using the fair-insertion algorithm
// (spec §4.B). If t.SubmitterEmail is empty, it is appended to the end.
// Returns ErrDuplicateURI if a track with the same ProviderURI already
// exists in the user queue.
func (e *Engine) Add(t *track.Track) error {
	for _, existing := range e.user {
		if existing.ProviderURI == t.ProviderURI {
			return errors.Wrapf(ErrDuplicateURI, "uri %q", t.ProviderURI)
		}
	}

	if t.SubmitterEmail == "" {
		e.user = append(e.user, t)
		return nil
	}

	idx := fairInsertIndex(e.user, t.SubmitterEmail)
	e.user = insertAt(e.user, idx, t)
	return nil
}

// fairInsertIndex computes the round-robin insertion point for a new
// track submitted by email, per spec §4.B steps 2-4.
func fairInsertIndex(user []*track.Track, email string) int {
	joinOrder := make([]string, 0)
	seenJoin := make(map[string]bool)
	userCounts := make(map[string]int)
	lastUserIdx := -1

	for i, t := range user {
		if !seenJoin[t.SubmitterEmail] {
			seenJoin[t.SubmitterEmail] = true
			joinOrder = append(joinOrder, t.SubmitterEmail)
		}
		userCounts[t.SubmitterEmail]++
		if t.SubmitterEmail == email {
			lastUserIdx = i
		}
	}

	thisUserCount := userCounts[email]
	newRound := thisUserCount + 1

	inJoinOrder := make(map[string]bool, len(joinOrder))
	for _, e := range joinOrder {
		inJoinOrder[e] = true
	}

	roundsSeen := make(map[string]int)
	boundaryIdx := -1
	for i, t := range user {
		e := t.SubmitterEmail
		roundsSeen[e]++
		if inJoinOrder[e] && roundsSeen[e] <= newRound {
			boundaryIdx = i
		}
	}

	at := boundaryIdx + 1
	if lastUserIdx+1 > at {
		at = lastUserIdx + 1
	}
	return at
}

func insertAt(s []*track.Track, idx int, t *track.Track) []*track.Track {
	s = append(s, nil)
	copy(s[idx+1:], s[idx:])
	s[idx] = t
	return s
}

// Remove deletes the track with the given provider URI from the user
// queue.
func (e *Engine) Remove(uri string) error {
	for i, t := range e.user {
		if t.ProviderURI == uri {
			e.user = append(e.user[:i], e.user[i+1:]...)
			return nil
		}
	}
	return errors.Wrapf(ErrNotFound, "uri %q in user queue", uri)
}

// RemoveFallback deletes the track with the given provider URI from the
// fallback queue only.
func (e *Engine) RemoveFallback(uri string) error {
	for i, t := range e.fallback {
		if t.ProviderURI == uri {
			e.fallback = append(e.fallback[:i], e.fallback[i+1:]...)
			return nil
		}
	}
	return errors.Wrapf(ErrNotFound, "uri %q in fallback queue", uri)
}

// DelayOne swaps the entry at uri with its immediate successor in the
// user queue. A no-op if uri is the last element or not found.
func (e *Engine) DelayOne(uri string) error {
	for i, t := range e.user {
		if t.ProviderURI == uri {
			if i == len(e.user)-1 {
				return nil
			}
			e.user[i], e.user[i+1] = e.user[i+1], e.user[i]
			return nil
		}
	}
	return errors.Wrapf(ErrNotFound, "uri %q in user queue", uri)
}

// PeekResult is the result of PeekNext.
type PeekResult struct {
	Track      *track.Track
	IsFallback bool
}

// PeekNext returns the head of the user queue if non-empty, else the
// head of the fallback queue, else nil. It does not remove anything
// (spec §4.B "two-tier peek/consume").
func (e *Engine) PeekNext() *PeekResult {
	if len(e.user) > 0 {
		return &PeekResult{Track: e.user[0], IsFallback: false}
	}
	if len(e.fallback) > 0 {
		return &PeekResult{Track: e.fallback[0], IsFallback: true}
	}
	return nil
}

// ConsumeNext removes the head of the chosen tier. Callers must only
// call this after the provider has confirmed the nominated track is
// actually playing (spec §4.D "consume-on-confirm").
func (e *Engine) ConsumeNext(isFallback bool) (*track.Track, error) {
	if isFallback {
		if len(e.fallback) == 0 {
			return nil, errors.Wrap(ErrNotFound, "fallback queue empty")
		}
		t := e.fallback[0]
		e.fallback = e.fallback[1:]
		return t, nil
	}
	if len(e.user) == 0 {
		return nil, errors.Wrap(ErrNotFound, "user queue empty")
	}
	t := e.user[0]
	e.user = e.user[1:]
	return t, nil
}

// SpliceOutUser removes and returns the track with the given URI from
// the user queue, wherever it sits — used by drift correction when the
// conductor has naturally advanced to a track already in the queue
// (spec §4.D "drift correction").
func (e *Engine) SpliceOutUser(uri string) (*track.Track, bool) {
	for i, t := range e.user {
		if t.ProviderURI == uri {
			e.user = append(e.user[:i], e.user[i+1:]...)
			return t, true
		}
	}
	return nil, false
}

// FindUser returns the track with the given URI in the user queue, if
// present, without removing it.
func (e *Engine) FindUser(uri string) (*track.Track, bool) {
	for _, t := range e.user {
		if t.ProviderURI == uri {
			return t, true
		}
	}
	return nil, false
}

// FindFallback returns the track with the given URI in the fallback
// queue, if present, without removing it.
func (e *Engine) FindFallback(uri string) (*track.Track, bool) {
	for _, t := range e.fallback {
		if t.ProviderURI == uri {
			return t, true
		}
	}
	return nil, false
}

// PromoteFallback removes a fallback track by URI and fair-inserts it
// into the user queue as if submitted by actorEmail/actorName with one
// jam already recorded (spec §4.B "jamming a fallback track ... promotes
// it").
func (e *Engine) PromoteFallback(uri, actorEmail, actorName string, now time.Time) error {
	t, ok := e.FindFallback(uri)
	if !ok {
		return errors.Wrapf(ErrNotFound, "uri %q in fallback queue", uri)
	}
	if err := e.RemoveFallback(uri); err != nil {
		return err
	}
	t.Promote(actorEmail, actorName, now)
	return e.Add(t)
}

// UserLen returns the number of tracks in the user queue.
func (e *Engine) UserLen() int {
	return len(e.user)
}

// FallbackLen returns the number of tracks in the fallback queue.
func (e *Engine) FallbackLen() int {
	return len(e.fallback)
}

// UserTracks returns a shallow copy of the user queue, head first.
func (e *Engine) UserTracks() []*track.Track {
	out := make([]*track.Track, len(e.user))
	copy(out, e.user)
	return out
}

// FallbackTracks returns a shallow copy of the fallback queue, head
// first.
func (e *Engine) FallbackTracks() []*track.Track {
	out := make([]*track.Track, len(e.fallback))
	copy(out, e.fallback)
	return out
}

// ReplaceFallback replaces the entire fallback queue, e.g. after a
// playlist reseed.
func (e *Engine) ReplaceFallback(tracks []*track.Track) {
	e.fallback = tracks
}

// Display composes the client-facing view: the user queue first, then
// (if short of DisplayTarget) fallback tracks appended and tagged
// isFallback=true, up to a total of DisplayTarget (spec §4.B "display
// composition").
func (e *Engine) Display() []*track.Track {
	out := make([]*track.Track, 0, len(e.user))
	out = append(out, e.user...)
	for _, t := range e.fallback {
		if len(out) >= DisplayTarget {
			break
		}
		out = append(out, t)
	}
	return out
}

// ShuffleFallback seeds the fallback queue from tracks using a
// Fisher-Yates shuffle (spec §4.B "fallback sourcing"). playlistName is
// stamped onto every shuffled track as FallbackPlaylistName.
func ShuffleFallback(tracks []track.Track, playlistName string) ([]*track.Track, error) {
	out := make([]*track.Track, len(tracks))
	for i := range tracks {
		t := tracks[i]
		t.SubmitterEmail = track.FallbackSubmitter
		t.IsFallback = true
		t.FallbackPlaylistName = playlistName
		out[i] = &t
	}

	for i := len(out) - 1; i > 0; i-- {
		j, err := cryptoRandIntn(i + 1)
		if err != nil {
			return nil, errors.Wrap(err, "shuffling fallback queue")
		}
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func cryptoRandIntn(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
