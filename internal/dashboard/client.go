package dashboard

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tableup/scheduler/internal/logging"
)

// Client is the middleman between one websocket connection and the
// Hub. Dashboard clients are read-only subscribers: readPump exists
// only to observe pongs and the peer's close handshake, never to
// accept commands — mutation goes through the Command/Mutation API.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan Event
	tenantID uuid.UUID
	log      *logging.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, tenantID uuid.UUID, log *logging.Logger) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan Event, sendBufferSize),
		tenantID: tenantID,
		log:      log,
	}
}

// Start registers the client and begins its read/write pumps.
func (c *Client) Start() {
	c.hub.register <- c
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				c.log.Error(context.Background(), "dashboard: write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
