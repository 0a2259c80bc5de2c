package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/waveline/callrelay/internal/relay"
)

// envelope is the wire frame in both directions. Inbound frames carry a raw
// data blob decoded per-event; outbound frames embed the event struct.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outboundEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// client is one upgraded websocket connection. All writes go through send so
// the write deadline and the write mutex cover control and data frames alike.
type client struct {
	handle relay.Handle
	userID string
	conn   *websocket.Conn

	writeMu   sync.Mutex
	writeWait time.Duration
}

func (c *client) send(ev relay.Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.conn.WriteJSON(outboundEnvelope{Event: ev.EventName(), Data: ev})
}

func (c *client) sendError(message string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.conn.WriteJSON(outboundEnvelope{Event: "error", Data: map[string]string{"message": message}})
}

func (c *client) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.writeWait)
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteControl(websocket.PingMessage, nil, deadline)
}
