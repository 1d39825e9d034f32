package room

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jamspot/jamspot/internal/app/broadcast"
	"github.com/jamspot/jamspot/internal/domain/history"
	roomstate "github.com/jamspot/jamspot/internal/domain/room"
	"github.com/jamspot/jamspot/internal/domain/track"
	"github.com/jamspot/jamspot/internal/infra/logger"
	"github.com/jamspot/jamspot/internal/infra/providergw"
	"github.com/jamspot/jamspot/internal/transport/message"
)

// trackEndFraction is the fraction of a track's duration past which
// falling progress or a URI change is interpreted as the track having
// finished, rather than a user seek (spec §4.D "track-end detection").
const trackEndFraction = 0.9

// reconcileLog is tagged so verbose tick tracing (spec §6 "debug flag")
// can be filtered out of a shared log stream by component.
var reconcileLog = logger.Named("reconciler")

// Tick runs one reconciliation pass: it polls the conductor's real
// playback and reacts to whatever it observes (spec §4.D). It is a
// no-op unless the room is currently playing and the conductor carries
// provider credentials.
func (m *Manager) Tick(ctx context.Context) {
	m.mu.Lock()
	if m.state.Mode != roomstate.ModePlaying {
		m.mu.Unlock()
		return
	}
	conductorID := m.state.ConductorSessionID
	conductor, ok := m.reg.Get(conductorID)
	if !ok || !conductor.Identity.IsProviderAuthenticated() {
		m.mu.Unlock()
		return
	}
	token := conductor.Identity.AccessToken
	m.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, providerCallTimeout)
	snap, err := m.gateway.CurrentPlayback(callCtx, token)
	cancel()

	if err != nil && providergw.Classify(err) == providergw.ErrKindUnauthorized {
		if newToken, ok := m.refreshSessionCredentials(ctx, conductorID); ok {
			callCtx, cancel = context.WithTimeout(ctx, providerCallTimeout)
			snap, err = m.gateway.CurrentPlayback(callCtx, newToken)
			cancel()
		}
	}
	if err != nil {
		log.Debug().Err(err).Msg("reconciliation tick: polling conductor playback failed, retrying next tick")
		return
	}
	if snap.URI == "" {
		// observer blind (spec §9 open question): neither advance the
		// queue nor correct drift on an absent snapshot.
		return
	}

	if m.cfg.Debug {
		reconcileLog.Debug().Str("uri", snap.URI).Int("progress_ms", snap.ProgressMs).
			Int("duration_ms", snap.DurationMs).Bool("is_playing", snap.IsPlaying).
			Msg("polled conductor playback")
	}

	m.reconcile(m.clock(), snap)
}

func isTrackEnd(prev, cur *roomstate.PlaybackSnapshot) bool {
	if prev.DurationMs <= 0 {
		return false
	}
	nearEnd := float64(prev.ProgressMs) > float64(prev.DurationMs)*trackEndFraction
	if !nearEnd {
		return false
	}
	if cur.URI == prev.URI {
		return cur.ProgressMs == 0
	}
	return true
}

// reconcile applies one polled snapshot to the room state under the
// mutation lock, then dispatches any resulting play/pause jobs once the
// lock is released (spec §4.D).
func (m *Manager) reconcile(now time.Time, snap *providergw.PlaybackSnapshot) {
	m.mu.Lock()

	cur := &roomstate.PlaybackSnapshot{URI: snap.URI, ProgressMs: snap.ProgressMs, DurationMs: snap.DurationMs, IsPlaying: snap.IsPlaying, ObservedAt: now}
	prev := m.state.LastPolled
	grace := m.state.InGraceWindow(now, GraceWindow)

	var jobs []playJob
	switch {
	case m.state.ExpectedURI != "" && !m.state.CurrentConsumed:
		jobs = m.handleNominationLocked(now, cur)
	case prev != nil && isTrackEnd(prev, cur):
		jobs = m.handleTrackEndLocked(now)
	case m.state.Current != nil && cur.URI != m.state.Current.ProviderURI && !grace:
		jobs = m.handleDriftLocked(now, cur)
	default:
		m.handleModeObservationLocked(now, prev, cur, grace)
	}

	m.state.LastPolled = cur
	m.mu.Unlock()

	m.dispatchJobs(jobs)
}

// handleNominationLocked resolves the playback-failure window armed by
// setAndStartLocked: either the nominated track is now confirmed
// playing (consume-on-confirm), the window has expired (playback
// failure), or neither yet and the tick is a no-op (spec §4.D
// "playback-failure detection").
func (m *Manager) handleNominationLocked(now time.Time, cur *roomstate.PlaybackSnapshot) []playJob {
	if cur.URI == m.state.ExpectedURI && cur.IsPlaying {
		if _, err := m.queue.ConsumeNext(m.state.CurrentIsFallback); err != nil {
			log.Warn().Err(err).Msg("consume-on-confirm: queue tier already empty")
		}
		m.state.CurrentConsumed = true
		m.state.ClearFailureWatch()

		kind := history.EventTrackPlay
		if m.state.CurrentIsFallback {
			kind = history.EventFallbackPlay
		}
		m.appendHistoryLocked(history.Event{
			Kind: kind, At: now, ProviderURI: cur.URI,
			ActorName: m.state.Current.SubmitterName, ActorEmail: m.state.Current.SubmitterEmail,
		})
		m.broadcastTracksAndModeLocked()
		m.broadcastHistoryLocked()
		m.persistQueueAsyncLocked()
		return nil
	}

	if !m.state.FailureWindowExpired(now) {
		return nil // still waiting within the window
	}

	failedURI := m.state.ExpectedURI
	m.fabric.Broadcast(broadcast.KindPlaybackError, message.PlaybackError{ProviderURI: failedURI, Reason: "track did not start playing"})
	m.state.Current = nil
	m.state.CurrentConsumed = false
	m.state.ClearFailureWatch()

	var jobs []playJob
	if peek := m.queue.PeekNext(); peek != nil {
		jobs = m.setAndStartLocked(peek.Track, peek.IsFallback, now)
	} else {
		m.state.Mode = roomstate.ModePaused
	}
	m.broadcastTracksAndModeLocked()
	return jobs
}

// handleTrackEndLocked reacts to the current track having finished on
// its own: it is pushed to Play History and the next queued track is
// nominated (spec §4.D "track-end detection").
func (m *Manager) handleTrackEndLocked(now time.Time) []playJob {
	if m.state.Current != nil {
		m.ledger.AppendPlayed(history.Played{At: now, Track: *m.state.Current.Clone(), StartedByName: m.state.Current.SubmitterName})
	}

	var jobs []playJob
	if peek := m.queue.PeekNext(); peek != nil {
		jobs = m.setAndStartLocked(peek.Track, peek.IsFallback, now)
	} else {
		m.state.Current = nil
		m.state.CurrentConsumed = false
		m.state.Mode = roomstate.ModePaused
	}
	m.broadcastTracksAndModeLocked()
	m.broadcastPlayHistoryLocked()
	return jobs
}

// handleDriftLocked reacts to the conductor reporting a track other
// than the one the room believes is current. If the observed track is
// already queued, the conductor has naturally advanced to it (e.g. the
// participant skipped from their own player); otherwise the provider is
// commanded back to the intended track (spec §4.D "drift correction").
func (m *Manager) handleDriftLocked(now time.Time, cur *roomstate.PlaybackSnapshot) []playJob {
	t, isFallback, ok := m.spliceAdvanceLocked(cur.URI)
	if ok {
		if m.state.Current != nil {
			m.ledger.AppendPlayed(history.Played{At: now, Track: *m.state.Current.Clone(), StartedByName: m.state.Current.SubmitterName})
		}
		m.state.Current = t
		m.state.CurrentIsFallback = isFallback
		m.state.CurrentConsumed = true
		m.state.ClearFailureWatch()

		kind := history.EventTrackPlay
		if isFallback {
			kind = history.EventFallbackPlay
		}
		m.appendHistoryLocked(history.Event{Kind: kind, At: now, ProviderURI: t.ProviderURI, ActorName: t.SubmitterName, ActorEmail: t.SubmitterEmail})

		jobs := m.followerJobsLocked(t.ProviderURI, cur.ProgressMs)
		m.broadcastTracksAndModeLocked()
		m.broadcastHistoryLocked()
		m.broadcastPlayHistoryLocked()
		m.persistQueueAsyncLocked()
		return jobs
	}

	conductor, ok := m.reg.Get(m.state.ConductorSessionID)
	if !ok || !conductor.Identity.IsProviderAuthenticated() || m.state.Current == nil {
		return nil
	}
	m.state.MarkCommandedChange(now)
	return []playJob{{SessionID: conductor.ID, Token: conductor.Identity.AccessToken, Kind: "play", URI: m.state.Current.ProviderURI, PositionMs: 0}}
}

// spliceAdvanceLocked removes and returns the track at uri from
// whichever tier holds it, for the natural-advance branch of drift
// correction (spec §4.B "two-tier peek/consume").
func (m *Manager) spliceAdvanceLocked(uri string) (*track.Track, bool, bool) {
	if t, ok := m.queue.SpliceOutUser(uri); ok {
		return t, false, true
	}
	if t, ok := m.queue.FindFallback(uri); ok {
		if err := m.queue.RemoveFallback(uri); err != nil {
			return nil, false, false
		}
		return t, true, true
	}
	return nil, false, false
}

// handleModeObservationLocked updates the current track's last-known
// position and, outside the grace window and short of track-end,
// interprets a play/pause transition reported by the conductor as the
// room's new mode (spec §4.D "mode transitions").
func (m *Manager) handleModeObservationLocked(now time.Time, prev, cur *roomstate.PlaybackSnapshot, grace bool) {
	if m.state.Current != nil && m.state.Current.ProviderURI == cur.URI {
		if m.state.Current.Progress == nil {
			m.state.Current.Progress = &track.Progress{}
		}
		m.state.Current.Progress.PositionMs = cur.ProgressMs
		m.state.Current.Progress.DurationMs = cur.DurationMs
	}

	atFullProgress := cur.DurationMs > 0 && cur.ProgressMs >= cur.DurationMs
	if grace || atFullProgress || prev == nil {
		return
	}

	switch {
	case prev.IsPlaying && !cur.IsPlaying && m.state.Mode != roomstate.ModePaused:
		m.state.Mode = roomstate.ModePaused
		m.broadcastTracksAndModeLocked()
	case !prev.IsPlaying && cur.IsPlaying && m.state.Mode != roomstate.ModePlaying:
		m.state.Mode = roomstate.ModePlaying
		m.broadcastTracksAndModeLocked()
	}
}
