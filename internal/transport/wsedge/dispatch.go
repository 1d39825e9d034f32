package wsedge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jamspot/jamspot/internal/app/broadcast"
	"github.com/jamspot/jamspot/internal/app/room"
	"github.com/jamspot/jamspot/internal/transport/message"
)

const actionTimeout = 8 * time.Second

// dispatcher routes frames from one already-logged-in connection to the
// Room Manager by kind (spec §4.H dispatch table).
type dispatcher struct {
	mgr       *room.Manager
	conn      *conn
	sessionID string
}

func (d *dispatcher) handle(f frame) {
	switch f.Kind {
	case "ping":
		d.mgr.Heartbeat(d.sessionID)
		_ = d.conn.Send(string(broadcast.KindPong), message.Pong{})
	case "get_tracks":
		d.mgr.SendTracksList(d.sessionID)
	case "get_sessions":
		d.mgr.SendSessionsList(d.sessionID)
	case "get_play_history":
		d.mgr.SendPlayHistory(d.sessionID)
	case "submit_track":
		d.handleSubmitTrack(f)
	case "remove_track":
		d.handleRemoveTrack(f)
	case "delay_track":
		d.handleDelayTrack(f)
	case "jam":
		d.handleJam(f)
	case "master_play":
		d.logErr(d.mgr.MasterPlay(d.sessionID))
	case "master_pause":
		d.logErr(d.mgr.MasterPause(d.sessionID))
	case "master_skip":
		d.logErr(d.mgr.MasterSkip(d.sessionID))
	case "start_fallback":
		d.logErr(d.mgr.StartFallback(d.sessionID))
	case "session_play":
		d.logErr(d.mgr.SessionPlay(d.sessionID))
	case "session_pause":
		d.logErr(d.mgr.SessionPause(d.sessionID))
	case "airhorn":
		d.handleAirhorn(f)
	case "take_master_control":
		d.logErr(d.mgr.TakeMasterControl(d.sessionID))
	case "history_message":
		d.handleHistoryMessage(f)
	default:
		log.Debug().Str("kind", f.Kind).Msg("websocket: unknown inbound frame kind, ignoring")
	}
}

func (d *dispatcher) logErr(err error) {
	if err != nil {
		log.Warn().Err(err).Str("session_id", d.sessionID).Msg("inbound action rejected")
	}
}

func (d *dispatcher) identity() (name, email string) {
	return d.mgr.SessionIdentity(d.sessionID)
}

func (d *dispatcher) handleSubmitTrack(f frame) {
	var req message.SubmitTrack
	if err := json.Unmarshal(f.Payload, &req); err != nil || req.Input == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	name, email := d.identity()
	d.logErr(d.mgr.SubmitTrack(ctx, req.Input, email, name))
}

func (d *dispatcher) handleRemoveTrack(f frame) {
	var req message.RemoveTrack
	if err := json.Unmarshal(f.Payload, &req); err != nil || req.ProviderURI == "" {
		return
	}
	d.logErr(d.mgr.RemoveTrack(req.ProviderURI))
}

func (d *dispatcher) handleDelayTrack(f frame) {
	var req message.DelayTrack
	if err := json.Unmarshal(f.Payload, &req); err != nil || req.ProviderURI == "" {
		return
	}
	d.logErr(d.mgr.DelayTrack(req.ProviderURI))
}

func (d *dispatcher) handleJam(f frame) {
	var req message.Jam
	if err := json.Unmarshal(f.Payload, &req); err != nil || req.ProviderURI == "" {
		return
	}
	name, email := d.identity()
	d.logErr(d.mgr.Jam(req.ProviderURI, email, name, req.Unjam))
}

func (d *dispatcher) handleAirhorn(f frame) {
	var req message.Airhorn
	if err := json.Unmarshal(f.Payload, &req); err != nil || req.Name == "" {
		return
	}
	name, email := d.identity()
	d.mgr.Airhorn(req.Name, email, name)
}

func (d *dispatcher) handleHistoryMessage(f frame) {
	var req message.HistoryMessage
	if err := json.Unmarshal(f.Payload, &req); err != nil || req.Text == "" {
		return
	}
	name, email := d.identity()
	d.mgr.HistoryMessage(req.Text, email, name)
}
