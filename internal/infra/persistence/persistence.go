// Package persistence implements the Persistence Layer: atomic
// temp+rename serialization of the queue, conductor-capable sessions,
// and history to disk, and the matching loaders (spec §4.G). Loading
// returns records as stored; refreshing provider credentials on load is
// done by the caller (room.Manager.Load).
package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog/log"

	"github.com/jamspot/jamspot/internal/domain/history"
	"github.com/jamspot/jamspot/internal/domain/participant"
	"github.com/jamspot/jamspot/internal/domain/track"
)

const (
	queueFileName    = "queue.json"
	sessionsFileName = "sessions.json"
	historyFileName  = "history.json"
	filePerm         = 0o600
)

// trackRecord is the on-disk shape of a Track.
type trackRecord struct {
	ProviderURI          string         `json:"providerUri"`
	Name                 string         `json:"name"`
	Artist               string         `json:"artist"`
	Album                string         `json:"album"`
	AlbumArtURL          string         `json:"albumArtUrl"`
	DurationMs           int64          `json:"durationMs"`
	SubmitterEmail       string         `json:"submitterEmail"`
	SubmitterName        string         `json:"submitterName"`
	SubmittedAt          time.Time      `json:"submittedAt"`
	JamCounts            map[string]int `json:"jamCounts,omitempty"`
	IsFallback           bool           `json:"isFallback"`
	FallbackPlaylistName string         `json:"fallbackPlaylistName,omitempty"`
}

func toRecord(t *track.Track) trackRecord {
	return trackRecord{
		ProviderURI:          t.ProviderURI,
		Name:                 t.Name,
		Artist:               t.Artist,
		Album:                t.Album,
		AlbumArtURL:          t.AlbumArtURL,
		DurationMs:           t.Duration.Milliseconds(),
		SubmitterEmail:       t.SubmitterEmail,
		SubmitterName:        t.SubmitterName,
		SubmittedAt:          t.SubmittedAt,
		JamCounts:            t.JamCounts,
		IsFallback:           t.IsFallback,
		FallbackPlaylistName: t.FallbackPlaylistName,
	}
}

func fromRecord(r trackRecord) *track.Track {
	return &track.Track{
		ProviderURI:          r.ProviderURI,
		Name:                 r.Name,
		Artist:               r.Artist,
		Album:                r.Album,
		AlbumArtURL:          r.AlbumArtURL,
		Duration:             time.Duration(r.DurationMs) * time.Millisecond,
		SubmitterEmail:       r.SubmitterEmail,
		SubmitterName:        r.SubmitterName,
		SubmittedAt:          r.SubmittedAt,
		JamCounts:            r.JamCounts,
		IsFallback:           r.IsFallback,
		FallbackPlaylistName: r.FallbackPlaylistName,
	}
}

// sessionRecord is the on-disk shape of a conductor-capable session.
// The transport handle is never serialized (spec §4.G "without
// transport handles").
type sessionRecord struct {
	ID            string    `json:"id"`
	DisplayName   string    `json:"displayName"`
	Email         string    `json:"email"`
	AccessToken   string    `json:"accessToken"`
	RefreshToken  string    `json:"refreshToken"`
	ExpiresAt     time.Time `json:"expiresAt"`
	JoinedAt      time.Time `json:"joinedAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// eventRecord is the on-disk shape of a History Event.
type eventRecord struct {
	Kind        string    `json:"kind"`
	At          time.Time `json:"at"`
	ActorName   string    `json:"actorName"`
	ActorEmail  string    `json:"actorEmail"`
	Details     string    `json:"details,omitempty"`
	ProviderURI string    `json:"providerUri,omitempty"`
}

// Store is the Persistence Layer, rooted at a configurable data
// directory.
type Store struct {
	dir string
}

// New returns a Store rooted at dir. The directory is created if
// missing.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrapf(err, "creating data directory %q", dir)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling for persistence")
	}
	if err := renameio.WriteFile(path, data, filePerm); err != nil {
		return errors.Wrapf(err, "writing %q atomically", path)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "reading %q", path)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "unmarshaling %q", path)
	}
	return nil
}

// SaveQueue persists the given queue tracks, user and fallback tiers
// alike (each record keeps its IsFallback flag). Persistence failures
// are logged (spec §7 PersistenceError: "log and continue; do not
// block the mutation") — callers should not treat a non-nil return as
// fatal, but it is still returned so tests can assert on it directly.
func (s *Store) SaveQueue(tracks []*track.Track) error {
	records := make([]trackRecord, len(tracks))
	for i, t := range tracks {
		records[i] = toRecord(t)
	}
	if err := writeJSONAtomic(s.path(queueFileName), records); err != nil {
		log.Error().Err(err).Msg("persisting queue failed")
		return err
	}
	return nil
}

// LoadQueue reloads every persisted queue track, if any, fallback
// tracks included.
func (s *Store) LoadQueue() ([]*track.Track, error) {
	var records []trackRecord
	if err := readJSON(s.path(queueFileName), &records); err != nil {
		return nil, err
	}
	tracks := make([]*track.Track, len(records))
	for i, r := range records {
		tracks[i] = fromRecord(r)
	}
	return tracks, nil
}

// SaveSessions persists every provider-authenticated session, stripped
// of its transport handle.
func (s *Store) SaveSessions(sessions []*participant.Session) error {
	records := make([]sessionRecord, 0, len(sessions))
	for _, sess := range sessions {
		if !sess.Identity.IsProviderAuthenticated() {
			continue
		}
		records = append(records, sessionRecord{
			ID:            sess.ID,
			DisplayName:   sess.Identity.DisplayName,
			Email:         sess.Identity.Email,
			AccessToken:   sess.Identity.AccessToken,
			RefreshToken:  sess.Identity.RefreshToken,
			ExpiresAt:     sess.Identity.ExpiresAt,
			JoinedAt:      sess.JoinedAt,
			LastHeartbeat: sess.LastHeartbeat,
		})
	}
	if err := writeJSONAtomic(s.path(sessionsFileName), records); err != nil {
		log.Error().Err(err).Msg("persisting sessions failed")
		return err
	}
	return nil
}

// LoadSessions reloads persisted conductor-capable sessions.
func (s *Store) LoadSessions() ([]*participant.Session, error) {
	var records []sessionRecord
	if err := readJSON(s.path(sessionsFileName), &records); err != nil {
		return nil, err
	}
	sessions := make([]*participant.Session, len(records))
	for i, r := range records {
		sessions[i] = &participant.Session{
			ID: r.ID,
			Identity: participant.Identity{
				DisplayName:  r.DisplayName,
				Email:        r.Email,
				AccessToken:  r.AccessToken,
				RefreshToken: r.RefreshToken,
				ExpiresAt:    r.ExpiresAt,
			},
			FollowerMode:  participant.FollowerModeFollow,
			JoinedAt:      r.JoinedAt,
			LastHeartbeat: r.LastHeartbeat,
		}
	}
	return sessions, nil
}

// SaveHistory persists the full retained History Event ring.
func (s *Store) SaveHistory(events []history.Event) error {
	records := make([]eventRecord, len(events))
	for i, e := range events {
		records[i] = eventRecord{
			Kind:        string(e.Kind),
			At:          e.At,
			ActorName:   e.ActorName,
			ActorEmail:  e.ActorEmail,
			Details:     e.Details,
			ProviderURI: e.ProviderURI,
		}
	}
	if err := writeJSONAtomic(s.path(historyFileName), records); err != nil {
		log.Error().Err(err).Msg("persisting history failed")
		return err
	}
	return nil
}

// LoadHistory reloads the persisted History Event ring.
func (s *Store) LoadHistory() ([]history.Event, error) {
	var records []eventRecord
	if err := readJSON(s.path(historyFileName), &records); err != nil {
		return nil, err
	}
	events := make([]history.Event, len(records))
	for i, r := range records {
		events[i] = history.Event{
			Kind:        history.EventKind(r.Kind),
			At:          r.At,
			ActorName:   r.ActorName,
			ActorEmail:  r.ActorEmail,
			Details:     r.Details,
			ProviderURI: r.ProviderURI,
		}
	}
	return events, nil
}
