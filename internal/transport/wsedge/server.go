package wsedge

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/jamspot/jamspot/internal/app/broadcast"
	"github.com/jamspot/jamspot/internal/app/room"
	"github.com/jamspot/jamspot/internal/transport/message"
)

const loginTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server upgrades incoming HTTP requests to websocket connections and
// dispatches their frames to the Room Manager.
type Server struct {
	mgr *room.Manager
}

// New returns a Server bound to mgr.
func New(mgr *room.Manager) *Server {
	return &Server{mgr: mgr}
}

// ServeHTTP implements http.Handler: one websocket connection per
// participant (spec §6 "persistent bidirectional channel").
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := newConn(ws)
	go c.writePump()

	sessionID, ok := s.awaitLogin(r.Context(), c)
	if !ok {
		c.Close()
		return
	}

	d := &dispatcher{mgr: s.mgr, conn: c, sessionID: sessionID}
	c.readPump(d.handle)

	s.mgr.DetachTransport(sessionID)
	c.Close()
}

// awaitLogin blocks for the required first frame and attaches the
// transport once it resolves to a valid session (spec §4.H "on open,
// awaits a login message"; §7 UnauthorizedSession).
func (s *Server) awaitLogin(ctx context.Context, c *conn) (string, bool) {
	type result struct {
		sessionID string
		ok        bool
	}
	resultCh := make(chan result, 1)

	go func() {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			resultCh <- result{}
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			resultCh <- result{}
			return
		}
		if f.Kind != "login" {
			resultCh <- result{}
			return
		}
		var login message.Login
		if err := json.Unmarshal(f.Payload, &login); err != nil {
			resultCh <- result{}
			return
		}
		resultCh <- result{sessionID: login.SessionID, ok: true}
	}()

	select {
	case res := <-resultCh:
		if !res.ok {
			_ = c.Send(string(broadcast.KindLoginError), message.LoginError{Reason: "first frame must be login"})
			return "", false
		}
		if _, err := s.mgr.Login(ctx, res.sessionID, c); err != nil {
			_ = c.Send(string(broadcast.KindLoginError), message.LoginError{Reason: err.Error()})
			return "", false
		}
		s.mgr.SendInitialSnapshots(res.sessionID)
		return res.sessionID, true
	case <-time.After(loginTimeout):
		_ = c.Send(string(broadcast.KindLoginError), message.LoginError{Reason: "login timed out"})
		return "", false
	}
}
