package room

import (
	"github.com/jamspot/jamspot/internal/app/broadcast"
	"github.com/jamspot/jamspot/internal/domain/history"
	"github.com/jamspot/jamspot/internal/domain/track"
	"github.com/jamspot/jamspot/internal/transport/message"
)

func toTrackView(t *track.Track) message.TrackView {
	return message.TrackView{
		ProviderURI:    t.ProviderURI,
		Name:           t.Name,
		Artist:         t.Artist,
		Album:          t.Album,
		AlbumArtURL:    t.AlbumArtURL,
		DurationMs:     t.Duration.Milliseconds(),
		SubmitterEmail: t.SubmitterEmail,
		SubmitterName:  t.SubmitterName,
		SubmittedAt:    t.SubmittedAt,
		JamCounts:      t.JamCounts,
		IsFallback:     t.IsFallback,
	}
}

// appendHistoryLocked appends an event and schedules its persistence.
// Must be called under mu.
func (m *Manager) appendHistoryLocked(e history.Event) {
	m.ledger.Append(e)
	m.persistHistoryAsyncLocked()
}

func (m *Manager) tracksListPayloadLocked() message.TracksList {
	display := m.queue.Display()
	views := make([]message.TrackView, len(display))
	for i, t := range display {
		views[i] = toTrackView(t)
	}
	return message.TracksList{Tracks: views}
}

// modeBasePayloadLocked builds the mode payload shared by every
// recipient except CanTakeMasterControl, which is computed per-session
// by the caller (spec §4.E "Mode... CanTakeMasterControl is computed
// per-recipient").
func (m *Manager) modeBasePayloadLocked() message.Mode {
	var cur *message.TrackView
	if m.state.Current != nil {
		v := toTrackView(m.state.Current)
		cur = &v
	}
	var fp *message.PlaylistInfo
	if m.cfg.FallbackPlaylistURI != "" {
		fp = &message.PlaylistInfo{ProviderURI: m.cfg.FallbackPlaylistURI, Name: m.fallbackPlaylistName}
	}
	return message.Mode{
		Mode:               string(m.state.Mode),
		Current:            cur,
		ConductorSessionID: m.state.ConductorSessionID,
		FallbackPlaylist:   fp,
	}
}

func (m *Manager) sessionsListPayloadLocked() message.SessionsList {
	dir := m.reg.DedupedDirectory()
	views := make([]message.SessionView, len(dir))
	for i, s := range dir {
		views[i] = message.SessionView{
			SessionID:         s.ID,
			DisplayName:       s.Identity.DisplayName,
			Email:             s.Identity.Email,
			IsProviderCapable: s.Identity.IsProviderAuthenticated(),
			FollowerMode:      string(s.FollowerMode),
			IsConnected:       s.IsConnected(),
		}
	}
	return message.SessionsList{Sessions: views}
}

func (m *Manager) historyPayloadLocked() message.History {
	events := m.ledger.Events(history.BroadcastEvents)
	views := make([]message.HistoryEventView, len(events))
	for i, e := range events {
		views[i] = message.HistoryEventView{
			Kind:        string(e.Kind),
			At:          e.At,
			ActorName:   e.ActorName,
			ActorEmail:  e.ActorEmail,
			Details:     e.Details,
			ProviderURI: e.ProviderURI,
		}
	}
	return message.History{Events: views}
}

func (m *Manager) playHistoryPayloadLocked() message.PlayHistory {
	played := m.ledger.PlayedEntries(history.MaxPlayed)
	views := make([]message.PlayHistoryEntryView, len(played))
	for i, p := range played {
		views[i] = message.PlayHistoryEntryView{At: p.At, Track: toTrackView(&p.Track), StartedByName: p.StartedByName}
	}
	return message.PlayHistory{Entries: views}
}

// broadcastTracksAndModeLocked fans out the tracks_list payload
// identically to every session, then fans out mode with
// CanTakeMasterControl computed per-recipient (spec §4.E).
func (m *Manager) broadcastTracksAndModeLocked() {
	m.fabric.Broadcast(broadcast.KindTracksList, m.tracksListPayloadLocked())

	base := m.modeBasePayloadLocked()
	for _, s := range m.reg.All() {
		if !s.IsConnected() {
			continue
		}
		payload := base
		payload.CanTakeMasterControl = s.CanTakeMasterControl(m.isAllowListed(s.Identity.Email))
		m.fabric.Send(s.ID, broadcast.KindMode, payload)
	}
}

func (m *Manager) broadcastSessionsListLocked() {
	m.fabric.Broadcast(broadcast.KindSessionsList, m.sessionsListPayloadLocked())
}

func (m *Manager) broadcastHistoryLocked() {
	m.fabric.Broadcast(broadcast.KindHistory, m.historyPayloadLocked())
}

func (m *Manager) broadcastPlayHistoryLocked() {
	m.fabric.Broadcast(broadcast.KindPlayHistory, m.playHistoryPayloadLocked())
}

// SendTracksList answers a get_tracks request targeted at one session
// (spec §4.H "get_tracks").
func (m *Manager) SendTracksList(sessionID string) {
	m.mu.Lock()
	payload := m.tracksListPayloadLocked()
	m.mu.Unlock()
	m.fabric.Send(sessionID, broadcast.KindTracksList, payload)
}

// SendSessionsList answers a get_sessions request (spec §4.H
// "get_sessions").
func (m *Manager) SendSessionsList(sessionID string) {
	m.mu.Lock()
	payload := m.sessionsListPayloadLocked()
	m.mu.Unlock()
	m.fabric.Send(sessionID, broadcast.KindSessionsList, payload)
}

// SendPlayHistory answers a get_play_history request (spec §4.H
// "get_play_history").
func (m *Manager) SendPlayHistory(sessionID string) {
	m.mu.Lock()
	payload := m.playHistoryPayloadLocked()
	m.mu.Unlock()
	m.fabric.Send(sessionID, broadcast.KindPlayHistory, payload)
}

// SendInitialSnapshots pushes every current view to a just-attached
// session (spec §4.C "login": "the loop then sends that session every
// current snapshot").
func (m *Manager) SendInitialSnapshots(sessionID string) {
	m.mu.Lock()
	tracksPayload := m.tracksListPayloadLocked()
	modePayload := m.modeBasePayloadLocked()
	var sessionModePayload message.SessionMode
	if s, ok := m.reg.Get(sessionID); ok {
		modePayload.CanTakeMasterControl = s.CanTakeMasterControl(m.isAllowListed(s.Identity.Email))
		sessionModePayload = message.SessionMode{FollowerMode: string(s.FollowerMode)}
	}
	sessionsPayload := m.sessionsListPayloadLocked()
	historyPayload := m.historyPayloadLocked()
	playHistoryPayload := m.playHistoryPayloadLocked()
	m.mu.Unlock()

	m.fabric.Send(sessionID, broadcast.KindLoginSuccess, message.LoginSuccess{SessionID: sessionID})
	m.fabric.Send(sessionID, broadcast.KindTracksList, tracksPayload)
	m.fabric.Send(sessionID, broadcast.KindMode, modePayload)
	m.fabric.Send(sessionID, broadcast.KindSessionMode, sessionModePayload)
	m.fabric.Send(sessionID, broadcast.KindSessionsList, sessionsPayload)
	m.fabric.Send(sessionID, broadcast.KindHistory, historyPayload)
	m.fabric.Send(sessionID, broadcast.KindPlayHistory, playHistoryPayload)
}
