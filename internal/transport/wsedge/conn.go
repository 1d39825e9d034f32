// Package wsedge is the persistent-channel half of the Transport Edge:
// one websocket connection per participant, dispatching inbound frames
// by kind to the Room Manager and fanning outbound frames back out
// through a per-session FIFO writer goroutine (spec §4.H).
package wsedge

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBufferSize = 32
)

// frame is the self-delimited typed record exchanged over the channel
// (spec §6 "self-delimited typed JSON-compatible records").
type frame struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// conn wraps one websocket connection. It implements
// participant.TransportHandle: Send enqueues onto sendCh without
// blocking the caller on network I/O, and the actual write happens on
// writePump (spec §3 "transport handles are shared... but only the
// Transport Edge writes to the socket").
type conn struct {
	ws     *websocket.Conn
	sendCh chan frame
	closed chan struct{}
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{ws: ws, sendCh: make(chan frame, sendBufferSize), closed: make(chan struct{})}
}

// Send implements participant.TransportHandle.
func (c *conn) Send(kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	select {
	case c.sendCh <- frame{Kind: kind, Payload: raw}:
		return nil
	case <-c.closed:
		return nil
	default:
		// slow consumer: drop rather than block the mutation path.
		log.Warn().Str("kind", kind).Msg("websocket send buffer full, dropping frame")
		return nil
	}
}

// Close implements participant.TransportHandle.
func (c *conn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return c.ws.Close()
}

// writePump drains sendCh to the socket and pings on a fixed ticker. It
// is the only goroutine that ever calls ws.WriteMessage.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case f, ok := <-c.sendCh:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(f)
			if err != nil {
				continue
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

// readPump reads frames off the socket and hands them to handle until
// the connection errors or closes.
func (c *conn) readPump(handle func(frame)) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		handle(f)
	}
}
