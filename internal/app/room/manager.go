// Package room is the Room Manager: the orchestrator that wires the
// queue engine, session registry, reconciliation tick, broadcast
// fabric, history ledger, persistence layer, and provider gateway
// together, and dispatches every inbound message kind to the right
// mutation (spec §4.H dispatch table).
package room

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jamspot/jamspot/internal/app/broadcast"
	"github.com/jamspot/jamspot/internal/app/queue"
	"github.com/jamspot/jamspot/internal/app/registry"
	"github.com/jamspot/jamspot/internal/domain/history"
	"github.com/jamspot/jamspot/internal/domain/participant"
	roomstate "github.com/jamspot/jamspot/internal/domain/room"
	"github.com/jamspot/jamspot/internal/domain/track"
	"github.com/jamspot/jamspot/internal/infra/persistence"
	"github.com/jamspot/jamspot/internal/infra/providergw"
	"github.com/jamspot/jamspot/internal/transport/message"
)

// Timing constants fixed by spec §5.
const (
	GraceWindow           = 3000 * time.Millisecond
	FailureWindow         = 5000 * time.Millisecond
	providerCallTimeout   = 8 * time.Second
	cleanupStaleInterval  = 30 * time.Second
	defaultHeartbeatLimit = 60 * time.Second
)

// ErrForbidden is returned when a caller lacks the authorization a
// mutation requires (spec §4.C "authorisation rules").
var ErrForbidden = errors.New("room: forbidden")

// ErrInvalidInput is returned for malformed or unparseable inbound
// requests (spec §7 InvalidInput).
var ErrInvalidInput = errors.New("room: invalid input")

// Config is the Room Manager's runtime configuration (spec §6).
type Config struct {
	PollInterval       time.Duration
	HeartbeatTimeout   time.Duration
	AllowList          []string // emails permitted take_master_control
	FallbackPlaylistURI string
	Debug              bool
}

// Manager is the Room Manager. All exported methods are safe for
// concurrent use; internally every mutation is serialized under mu, and
// no Provider Gateway call is made while mu is held (spec §5).
type Manager struct {
	mu sync.Mutex

	cfg     Config
	clock   func() time.Time
	idGen   func() string
	queue   *queue.Engine
	reg     *registry.Registry
	state   *roomstate.State
	ledger  *history.Ledger
	fabric  *broadcast.Fabric
	gateway *providergw.Gateway
	store   *persistence.Store

	fallbackPlaylistName string

	loopMu      sync.Mutex
	loopBaseCtx context.Context
	loopCancel  context.CancelFunc
}

// NewManager wires a fresh Room Manager. Call Load before serving
// traffic to restore persisted state.
func NewManager(cfg Config, gw *providergw.Gateway, store *persistence.Store) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 1000 * time.Millisecond
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = defaultHeartbeatLimit
	}

	reg := registry.New()
	m := &Manager{
		cfg:     cfg,
		clock:   time.Now,
		idGen:   func() string { return uuid.NewString() },
		queue:   queue.New(),
		reg:     reg,
		state:   roomstate.New(),
		ledger:  history.NewLedger(),
		gateway: gw,
		store:   store,
	}
	m.fabric = broadcast.New(reg)
	return m
}

// Load restores queue, sessions, and history from the persistence
// layer, refreshing provider credentials for every loaded session as it
// goes (spec §4.G). Sessions are loaded first so that later steps can
// resolve emails; a session whose refresh fails is dropped.
func (m *Manager) Load(ctx context.Context) error {
	sessions, err := m.store.LoadSessions()
	if err != nil {
		return errors.Wrap(err, "loading persisted sessions")
	}
	for _, s := range sessions {
		refreshed, err := m.gateway.Refresh(ctx, s.Identity.RefreshToken)
		if err != nil {
			log.Warn().Err(err).Str("email", s.Identity.Email).Msg("dropping session: credential refresh failed on load")
			continue
		}
		s.Identity.AccessToken = refreshed.AccessToken
		s.Identity.ExpiresAt = refreshed.ExpiresAt
		if refreshed.RefreshToken != "" {
			s.Identity.RefreshToken = refreshed.RefreshToken
		}
		m.mu.Lock()
		m.reg.Put(s)
		m.mu.Unlock()
	}

	tracks, err := m.store.LoadQueue()
	if err != nil {
		return errors.Wrap(err, "loading persisted queue")
	}
	m.mu.Lock()
	for _, t := range tracks {
		if t.IsFallback {
			continue
		}
		_ = m.queue.Add(t)
	}
	m.mu.Unlock()

	events, err := m.store.LoadHistory()
	if err != nil {
		return errors.Wrap(err, "loading persisted history")
	}
	m.mu.Lock()
	m.ledger.LoadEvents(events)
	m.mu.Unlock()

	return nil
}

// EnsureFallbackQueue seeds the fallback queue from playlistURI if the
// fallback queue is currently empty (spec §4.B "fallback sourcing").
func (m *Manager) EnsureFallbackQueue(ctx context.Context, accessToken string) error {
	m.mu.Lock()
	needsSeed := m.queue.FallbackLen() == 0
	uri := m.cfg.FallbackPlaylistURI
	m.mu.Unlock()

	if !needsSeed || uri == "" || accessToken == "" {
		return nil
	}

	ref, err := providergw.Parse(uri)
	if err != nil {
		return errors.Wrap(err, "parsing fallback playlist uri")
	}
	info, err := m.gateway.PlaylistInfo(ctx, accessToken, ref.ID)
	if err != nil {
		return errors.Wrap(err, "fetching fallback playlist info")
	}
	tracks, err := m.gateway.PlaylistTracks(ctx, accessToken, ref.ID)
	if err != nil {
		return errors.Wrap(err, "fetching fallback playlist tracks")
	}
	shuffled, err := queue.ShuffleFallback(tracks, info.Name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.queue.ReplaceFallback(shuffled)
	m.fallbackPlaylistName = info.Name
	m.mu.Unlock()
	m.persistQueueAsync()
	return nil
}

// playJob is a follower-play/pause command to execute against the
// Provider Gateway without holding the mutation lock.
type playJob struct {
	SessionID  string
	Token      string
	Kind       string // "play" or "pause"
	URI        string
	PositionMs int
}

func (m *Manager) dispatchJobs(jobs []playJob) {
	if len(jobs) == 0 {
		return
	}
	go func() {
		var wg sync.WaitGroup
		for _, j := range jobs {
			wg.Add(1)
			go func(j playJob) {
				defer wg.Done()
				ctx, cancel := context.WithTimeout(context.Background(), providerCallTimeout)
				defer cancel()

				var err error
				if j.Kind == "pause" {
					err = m.gateway.Pause(ctx, j.Token)
				} else {
					err = m.gateway.Play(ctx, j.Token, []string{j.URI}, j.PositionMs)
				}
				if err == nil {
					return
				}
				log.Warn().Err(err).Str("session_id", j.SessionID).Str("kind", j.Kind).Msg("follower playback command failed")
				if providergw.Classify(err) == providergw.ErrKindNoActiveDevice {
					m.fabric.Send(j.SessionID, broadcast.KindProminentMessage, message.ProminentMessage{
						Text: "Activate your Spotify player to keep listening.",
					})
				}
			}(j)
		}
		wg.Wait()
	}()
}

// followerJobsLocked collects play jobs for every session in follower mode
// with a live provider token, and pushes each of them a play_track
// notification so their client can drive its own Web Playback SDK
// alongside the server-side provider command (spec §4.E "play_track...
// commands a follower session's client to start a track"). Must be
// called under mu.
func (m *Manager) followerJobsLocked(uri string, positionMs int) []playJob {
	var jobs []playJob
	for _, s := range m.reg.All() {
		if s.FollowerMode != participant.FollowerModeFollow {
			continue
		}
		if !s.Identity.IsProviderAuthenticated() {
			continue
		}
		jobs = append(jobs, playJob{SessionID: s.ID, Token: s.Identity.AccessToken, Kind: "play", URI: uri, PositionMs: positionMs})
		m.fabric.Send(s.ID, broadcast.KindPlayTrack, message.PlayTrack{ProviderURI: uri, PositionMs: positionMs})
	}
	return jobs
}

// setAndStartLocked assigns t as current, arms the failure watch, opens
// the grace window, and returns the follower play jobs to run once the
// lock is released (spec §4.D "set-and-start operation"). Must be
// called under mu; does not broadcast — callers broadcast after
// deciding whether any further mutation follows in the same tick.
func (m *Manager) setAndStartLocked(t *track.Track, isFallback bool, now time.Time) []playJob {
	m.state.Current = t
	m.state.CurrentIsFallback = isFallback
	m.state.CurrentConsumed = false
	m.state.ArmFailureWatch(t.ProviderURI, now, FailureWindow)
	m.state.MarkCommandedChange(now)

	jobs := m.followerJobsLocked(t.ProviderURI, 0)

	if conductor, ok := m.reg.Get(m.state.ConductorSessionID); ok && conductor.Identity.IsProviderAuthenticated() {
		jobs = append(jobs, playJob{SessionID: conductor.ID, Token: conductor.Identity.AccessToken, Kind: "play", URI: t.ProviderURI, PositionMs: 0})
	}
	return jobs
}

// --- Session lifecycle -----------------------------------------------

// CreateListenerSession creates a listener-only session (spec §4.C
// createListener).
func (m *Manager) CreateListenerSession(name, email string) *participant.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := participant.NewListener(m.idGen(), name, email, m.clock())
	m.reg.Put(s)
	return s
}

// CreateProviderSession registers a session populated from a completed
// OAuth handshake (spec §4.C createProvider).
func (m *Manager) CreateProviderSession(sessionID, name, email, accessToken, refreshToken string, expiresAt time.Time) *participant.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &participant.Session{
		ID: sessionID,
		Identity: participant.Identity{
			DisplayName:  name,
			Email:        email,
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			ExpiresAt:    expiresAt,
		},
		FollowerMode:  participant.FollowerModeFollow,
		JoinedAt:      m.clock(),
		LastHeartbeat: m.clock(),
	}
	m.reg.Put(s)
	return s
}

// Login attaches a transport handle to an existing session, validating
// identity, de-duplicating by email, and assigning a conductor if none
// is set (spec §4.C, §4.H "login"). Returns true if this is the
// session's first attach (for the user_connected history event).
func (m *Manager) Login(ctx context.Context, sessionID string, handle participant.TransportHandle) (firstAttach bool, err error) {
	m.mu.Lock()
	s, ok := m.reg.Get(sessionID)
	if !ok {
		m.mu.Unlock()
		return false, errors.Wrapf(registry.ErrInvalidSession, "unknown session %q", sessionID)
	}
	if err := registry.OnLogin(s); err != nil {
		m.mu.Unlock()
		return false, err
	}

	now := m.clock()
	firstAttach = !s.IsConnected()

	evict := m.reg.EvictByEmail(s.Identity.Email, sessionID, m.state.ConductorSessionID)
	conductorChanged := false
	if evict.WasConductor && s.Identity.IsProviderAuthenticated() {
		// conductor role transfers only if the new session itself carries
		// provider credentials (spec §4.C "de-duplication on login").
		m.state.ConductorSessionID = sessionID
		conductorChanged = true
	} else if evict.WasConductor {
		m.state.ConductorSessionID = ""
	}

	m.reg.AttachTransport(sessionID, handle, now)

	if newConductor := m.reg.AssignConductorIfNeeded(m.state.ConductorSessionID); newConductor != "" {
		m.state.ConductorSessionID = newConductor
		conductorChanged = true
	}

	if firstAttach {
		m.appendHistoryLocked(history.Event{Kind: history.EventUserConnected, At: now, ActorName: s.Identity.DisplayName, ActorEmail: s.Identity.Email})
	}

	adoptConductor := m.state.ConductorSessionID == sessionID && m.state.Current == nil
	restartLoop := conductorChanged && m.state.Mode == roomstate.ModePlaying
	token := s.Identity.AccessToken
	m.broadcastSessionsListLocked()
	m.broadcastHistoryLocked()
	m.mu.Unlock()

	if restartLoop {
		// the new conductor's credentials supersede the old one's; the
		// loop must poll with them from its next tick (spec §4.C
		// "conductor assignment": the loop is restarted to pick up the
		// new credentials).
		m.RestartLoop()
	}
	if adoptConductor && token != "" {
		m.adoptInitialPlayback(ctx, sessionID, token)
	}

	m.persistSessionsAsync()
	return firstAttach, nil
}

// adoptInitialPlayback queries the newly-assigned conductor's real
// playback and adopts it as the observable initial state (spec §4.C
// "conductor assignment": "the loop then queries that session's real
// playback and adopts the current Track and play/pause mode").
func (m *Manager) adoptInitialPlayback(ctx context.Context, sessionID, token string) {
	snapshot, err := m.gateway.CurrentPlayback(ctx, token)
	if err != nil || snapshot == nil || snapshot.URI == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.ConductorSessionID != sessionID || m.state.Current != nil {
		return
	}
	now := m.clock()
	t := &track.Track{ProviderURI: snapshot.URI, SubmittedAt: now, Progress: &track.Progress{PositionMs: snapshot.ProgressMs, DurationMs: snapshot.DurationMs}}
	m.state.Current = t
	m.state.CurrentConsumed = true
	if snapshot.IsPlaying {
		m.state.Mode = roomstate.ModePlaying
	} else {
		m.state.Mode = roomstate.ModePaused
	}
	m.state.LastPolled = &roomstate.PlaybackSnapshot{URI: snapshot.URI, ProgressMs: snapshot.ProgressMs, DurationMs: snapshot.DurationMs, IsPlaying: snapshot.IsPlaying, ObservedAt: now}
	m.broadcastTracksAndModeLocked()
}

// SessionExists reports whether sessionID is a known session, for the
// GET session/<id> status endpoint (spec §6).
func (m *Manager) SessionExists(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.reg.Get(sessionID)
	return ok
}

// SessionIdentity returns the display name and email of a known
// session, for attributing actions submitted over a one-shot HTTP
// request rather than an already-attached transport.
func (m *Manager) SessionIdentity(sessionID string) (name, email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.reg.Get(sessionID)
	if !ok {
		return "", ""
	}
	return s.Identity.DisplayName, s.Identity.Email
}

// Heartbeat updates a session's last-heartbeat timestamp (spec §4.C
// onHeartbeat).
func (m *Manager) Heartbeat(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reg.OnHeartbeat(sessionID, m.clock())
}

// DetachTransport marks a session's transport handle null without
// evicting it (spec §4.H "on transport close").
func (m *Manager) DetachTransport(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reg.DetachTransport(sessionID)
}

// CleanupStale evicts any session whose heartbeat has expired,
// appending a user_disconnected event and rebroadcasting the session
// list (spec §4.C cleanupStale). Intended to be called on a 30s ticker.
func (m *Manager) CleanupStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	stale := m.reg.StaleSessions(now, m.cfg.HeartbeatTimeout)
	if len(stale) == 0 {
		return
	}
	for _, id := range stale {
		s, ok := m.reg.Get(id)
		if !ok {
			continue
		}
		m.reg.Delete(id)
		m.appendHistoryLocked(history.Event{Kind: history.EventUserDisconnected, At: now, ActorName: s.Identity.DisplayName, ActorEmail: s.Identity.Email})
		if m.state.ConductorSessionID == id {
			m.state.ConductorSessionID = m.reg.AssignConductorIfNeeded("")
		}
	}
	m.broadcastSessionsListLocked()
	m.broadcastHistoryLocked()
}

// --- Queue mutations ---------------------------------------------------

// SubmitTrack parses input via the Provider Gateway, fetches metadata
// using the conductor's credentials, fair-inserts, and broadcasts (spec
// §4.H submit_track). If input resolves to a playlist, the fallback
// queue is replaced instead (spec §7 ProviderNotFound/Forbidden keeps
// the previous fallback on failure).
func (m *Manager) SubmitTrack(ctx context.Context, input, submitterEmail, submitterName string) error {
	ref, err := providergw.Parse(input)
	if err != nil {
		return errors.Wrap(err, "submit_track")
	}
	if !ref.Kind.Admissible() {
		return errors.Wrapf(ErrInvalidInput, "unsupported reference kind %q", ref.Kind)
	}

	m.mu.Lock()
	conductorID := m.state.ConductorSessionID
	conductor, ok := m.reg.Get(conductorID)
	m.mu.Unlock()
	if !ok || !conductor.Identity.IsProviderAuthenticated() {
		return errors.Wrap(ErrInvalidInput, "no conductor credentials available to resolve track metadata")
	}

	if ref.Kind == providergw.RefKindPlaylist {
		return m.replaceFallback(ctx, conductor.Identity.AccessToken, ref.ID)
	}

	t, err := m.gateway.TrackInfo(ctx, conductor.Identity.AccessToken, ref.ID)
	if err != nil {
		return errors.Wrap(err, "fetching track metadata")
	}
	t.ProviderURI = ref.URI
	t.SubmitterEmail = submitterEmail
	t.SubmitterName = submitterName
	t.SubmittedAt = m.clock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.queue.Add(t); err != nil {
		return err
	}
	m.appendHistoryLocked(history.Event{Kind: history.EventTrackAdded, At: t.SubmittedAt, ActorName: submitterName, ActorEmail: submitterEmail, ProviderURI: t.ProviderURI, Details: t.Name})
	m.broadcastTracksAndModeLocked()
	m.broadcastHistoryLocked()
	m.persistQueueAsyncLocked()
	return nil
}

func (m *Manager) replaceFallback(ctx context.Context, accessToken, playlistID string) error {
	info, err := m.gateway.PlaylistInfo(ctx, accessToken, playlistID)
	if err != nil {
		return errors.Wrap(err, "playlist unreadable, keeping previous fallback")
	}
	tracks, err := m.gateway.PlaylistTracks(ctx, accessToken, playlistID)
	if err != nil {
		return errors.Wrap(err, "playlist unreadable, keeping previous fallback")
	}
	shuffled, err := queue.ShuffleFallback(tracks, info.Name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue.ReplaceFallback(shuffled)
	m.fallbackPlaylistName = info.Name
	m.broadcastTracksAndModeLocked()
	m.persistQueueAsyncLocked()
	return nil
}

// RemoveTrack deletes a track by URI from the user queue and broadcasts
// (spec §4.H remove_track).
func (m *Manager) RemoveTrack(uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.queue.Remove(uri); err != nil {
		return err
	}
	m.broadcastTracksAndModeLocked()
	m.persistQueueAsyncLocked()
	return nil
}

// DelayTrack swaps a track with its successor and broadcasts (spec
// §4.H delay_track).
func (m *Manager) DelayTrack(uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.queue.DelayOne(uri); err != nil {
		return err
	}
	m.broadcastTracksAndModeLocked()
	m.persistQueueAsyncLocked()
	return nil
}

// Jam increments (or, if unjam, decrements) the jam count for actor on
// the referenced track, wherever it currently sits: the currently
// playing track, the user queue, or the fallback queue (where it is
// promoted unless it is itself the currently-playing track) (spec §4.H
// jam, §4.B, §9 "fallback fairness").
func (m *Manager) Jam(uri, actorEmail, actorName string, unjam bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()

	if m.state.Current != nil && m.state.Current.ProviderURI == uri {
		m.jamTrack(m.state.Current, actorEmail, unjam)
		m.appendJamEvent(uri, actorEmail, actorName, unjam, now)
		m.broadcastTracksAndModeLocked()
		m.broadcastHistoryLocked()
		return nil
	}

	if t, ok := m.queue.FindUser(uri); ok {
		m.jamTrack(t, actorEmail, unjam)
		m.appendJamEvent(uri, actorEmail, actorName, unjam, now)
		m.broadcastTracksAndModeLocked()
		m.broadcastHistoryLocked()
		return nil
	}

	if _, ok := m.queue.FindFallback(uri); ok {
		if !unjam {
			if err := m.queue.PromoteFallback(uri, actorEmail, actorName, now); err != nil {
				return err
			}
		}
		m.appendJamEvent(uri, actorEmail, actorName, unjam, now)
		m.broadcastTracksAndModeLocked()
		m.broadcastHistoryLocked()
		m.persistQueueAsyncLocked()
		return nil
	}

	return errors.Wrapf(ErrInvalidInput, "track %q not found", uri)
}

func (m *Manager) jamTrack(t *track.Track, actorEmail string, unjam bool) {
	if unjam {
		t.Unjam(actorEmail)
	} else {
		t.Jam(actorEmail)
	}
}

func (m *Manager) appendJamEvent(uri, actorEmail, actorName string, unjam bool, now time.Time) {
	kind := history.EventJam
	if unjam {
		kind = history.EventUnjam
	}
	m.appendHistoryLocked(history.Event{Kind: kind, At: now, ActorName: actorName, ActorEmail: actorEmail, ProviderURI: uri})
}

// --- Master controls ----------------------------------------------------

// MasterPlay starts playback: peeks and adopts a track if none is
// current, commands play on every follower and the conductor, and sets
// mode to playing (spec §4.H master_play).
func (m *Manager) MasterPlay(sessionID string) error {
	m.mu.Lock()
	if m.state.ConductorSessionID != sessionID {
		m.mu.Unlock()
		return errors.Wrap(ErrForbidden, "master_play requires the conductor session")
	}
	if m.state.Mode == roomstate.ModePlaying {
		m.mu.Unlock()
		return nil
	}

	now := m.clock()
	var jobs []playJob
	if m.state.Current == nil {
		peek := m.queue.PeekNext()
		if peek == nil {
			m.mu.Unlock()
			return nil
		}
		jobs = m.setAndStartLocked(peek.Track, peek.IsFallback, now)
	} else {
		jobs = m.followerJobsLocked(m.state.Current.ProviderURI, 0)
		if conductor, ok := m.reg.Get(sessionID); ok {
			jobs = append(jobs, playJob{SessionID: conductor.ID, Token: conductor.Identity.AccessToken, Kind: "play", URI: m.state.Current.ProviderURI, PositionMs: 0})
		}
	}
	m.state.Mode = roomstate.ModePlaying
	m.broadcastTracksAndModeLocked()
	m.mu.Unlock()

	m.StartLoop()
	m.dispatchJobs(jobs)
	return nil
}

// MasterPause pauses playback: commands pause on every provider-capable
// session and sets mode to paused (spec §4.H master_pause).
func (m *Manager) MasterPause(sessionID string) error {
	m.mu.Lock()
	if m.state.ConductorSessionID != sessionID {
		m.mu.Unlock()
		return errors.Wrap(ErrForbidden, "master_pause requires the conductor session")
	}
	m.state.Mode = roomstate.ModePaused

	var jobs []playJob
	for _, s := range m.reg.All() {
		if !s.Identity.IsProviderAuthenticated() {
			continue
		}
		jobs = append(jobs, playJob{SessionID: s.ID, Token: s.Identity.AccessToken, Kind: "pause"})
	}
	m.broadcastTracksAndModeLocked()
	m.mu.Unlock()

	m.StopLoop()
	m.dispatchJobs(jobs)
	return nil
}

// MasterSkip pushes the current track to Play History, appends
// track_skip, and peeks/adopts the next track (spec §4.H master_skip;
// conductor only).
func (m *Manager) MasterSkip(sessionID string) error {
	m.mu.Lock()
	if m.state.ConductorSessionID != sessionID {
		m.mu.Unlock()
		return errors.Wrap(ErrForbidden, "master_skip requires the conductor session")
	}

	now := m.clock()
	if m.state.Current != nil {
		m.ledger.AppendPlayed(history.Played{At: now, Track: *m.state.Current.Clone(), StartedByName: m.state.Current.SubmitterName})
		m.appendHistoryLocked(history.Event{Kind: history.EventTrackSkip, At: now, ProviderURI: m.state.Current.ProviderURI})
	}
	m.state.MarkManualSkip(now)

	var jobs []playJob
	peek := m.queue.PeekNext()
	if peek != nil {
		jobs = m.setAndStartLocked(peek.Track, peek.IsFallback, now)
	} else {
		m.state.Current = nil
		m.state.Mode = roomstate.ModePaused
	}
	m.broadcastTracksAndModeLocked()
	m.broadcastHistoryLocked()
	m.broadcastPlayHistoryLocked()
	m.mu.Unlock()

	m.dispatchJobs(jobs)
	return nil
}

// StartFallback force-nominates the head of the fallback queue and
// starts playback (spec §4.H start_fallback).
func (m *Manager) StartFallback(sessionID string) error {
	m.mu.Lock()
	if m.state.ConductorSessionID != sessionID {
		m.mu.Unlock()
		return errors.Wrap(ErrForbidden, "start_fallback requires the conductor session")
	}

	fallback := m.queue.FallbackTracks()
	if len(fallback) == 0 {
		m.mu.Unlock()
		return nil
	}
	now := m.clock()
	jobs := m.setAndStartLocked(fallback[0], true, now)
	m.state.Mode = roomstate.ModePlaying
	m.broadcastTracksAndModeLocked()
	m.mu.Unlock()

	m.StartLoop()
	m.dispatchJobs(jobs)
	return nil
}

// SessionPlay sets the caller's follower mode to follow and, if a
// track is current, commands play on the caller's provider account
// (spec §4.H session_play).
func (m *Manager) SessionPlay(sessionID string) error {
	return m.setSessionMode(sessionID, participant.FollowerModeFollow)
}

// SessionPause sets the caller's follower mode to paused (spec §4.H
// session_pause).
func (m *Manager) SessionPause(sessionID string) error {
	return m.setSessionMode(sessionID, participant.FollowerModePaused)
}

func (m *Manager) setSessionMode(sessionID string, mode participant.FollowerMode) error {
	m.mu.Lock()
	s, ok := m.reg.Get(sessionID)
	if !ok {
		m.mu.Unlock()
		return errors.Wrapf(ErrInvalidInput, "unknown session %q", sessionID)
	}
	s.FollowerMode = mode

	var job *playJob
	if mode == participant.FollowerModeFollow && m.state.Current != nil && s.Identity.IsProviderAuthenticated() {
		position := 0
		if m.state.LastPolled != nil && m.state.LastPolled.URI == m.state.Current.ProviderURI {
			position = m.state.LastPolled.ProgressMs
		}
		job = &playJob{SessionID: s.ID, Token: s.Identity.AccessToken, Kind: "play", URI: m.state.Current.ProviderURI, PositionMs: position}
	}
	m.fabric.Send(sessionID, broadcast.KindSessionMode, message.SessionMode{FollowerMode: string(mode)})
	m.mu.Unlock()

	if job != nil {
		m.dispatchJobs([]playJob{*job})
	}
	return nil
}

// Airhorn fans play_airhorn out to every session and appends an airhorn
// history event (spec §4.H airhorn).
func (m *Manager) Airhorn(name, actorEmail, actorName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fabric.Broadcast(broadcast.KindPlayAirhorn, message.PlayAirhorn{Name: name})
	m.appendHistoryLocked(history.Event{Kind: history.EventAirhorn, At: m.clock(), ActorName: actorName, ActorEmail: actorEmail, Details: name})
	m.broadcastHistoryLocked()
}

// TakeMasterControl reassigns the conductor to sessionID, if its email
// is allow-listed and it carries a provider token (spec §4.C
// authorisation rules, §4.H take_master_control).
func (m *Manager) TakeMasterControl(sessionID string) error {
	m.mu.Lock()
	s, ok := m.reg.Get(sessionID)
	if !ok {
		m.mu.Unlock()
		return errors.Wrapf(ErrInvalidInput, "unknown session %q", sessionID)
	}
	if !s.CanTakeMasterControl(m.isAllowListed(s.Identity.Email)) {
		m.mu.Unlock()
		return errors.Wrap(ErrForbidden, "take_master_control requires an allow-listed, provider-authenticated session")
	}
	m.state.ConductorSessionID = sessionID
	restartLoop := m.state.Mode == roomstate.ModePlaying
	m.broadcastTracksAndModeLocked()
	m.mu.Unlock()

	if restartLoop {
		m.RestartLoop()
	}
	return nil
}

func (m *Manager) isAllowListed(email string) bool {
	lower := strings.ToLower(email)
	for _, e := range m.cfg.AllowList {
		if strings.ToLower(e) == lower {
			return true
		}
	}
	return false
}

// HistoryMessage appends a chat message event and broadcasts history
// (spec §4.H history_message).
func (m *Manager) HistoryMessage(text, actorEmail, actorName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendHistoryLocked(history.Event{Kind: history.EventMessage, At: m.clock(), ActorName: actorName, ActorEmail: actorEmail, Details: text})
	m.broadcastHistoryLocked()
}

// --- Persistence side effects -------------------------------------------

func (m *Manager) persistQueueAsyncLocked() {
	tracks := append(m.queue.UserTracks(), m.queue.FallbackTracks()...)
	go func() {
		if err := m.store.SaveQueue(tracks); err != nil {
			log.Error().Err(err).Msg("queue persistence failed")
		}
	}()
}

func (m *Manager) persistQueueAsync() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persistQueueAsyncLocked()
}

func (m *Manager) persistSessionsAsync() {
	m.mu.Lock()
	sessions := m.reg.All()
	m.mu.Unlock()
	go func() {
		if err := m.store.SaveSessions(sessions); err != nil {
			log.Error().Err(err).Msg("session persistence failed")
		}
	}()
}

func (m *Manager) persistHistoryAsyncLocked() {
	events := m.ledger.AllEvents()
	go func() {
		if err := m.store.SaveHistory(events); err != nil {
			log.Error().Err(err).Msg("history persistence failed")
		}
	}()
}
