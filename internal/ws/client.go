package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	closeWait      = time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512
	sendBuffer     = 32
)

// ErrSubscriberGone is returned by trySend when the subscriber can no longer
// accept messages.
var ErrSubscriberGone = errors.New("subscriber gone")

// Client is one WebSocket subscriber to a single order's room.
type Client struct {
	orderID string
	conn    *websocket.Conn
	send    chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(orderID string, conn *websocket.Conn) *Client {
	return &Client{
		orderID: orderID,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
	}
}

// trySend queues a payload without blocking the broadcaster. A closed or
// backed-up client counts as unreachable.
func (c *Client) trySend(payload []byte) error {
	select {
	case <-c.done:
		return ErrSubscriberGone
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSubscriberGone
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// closeNormal signals a normal closure to the peer before tearing the
// connection down. The close frame goes out via WriteControl, which may be
// called concurrently with the writePump's data frames; a frame stuck behind
// an in-flight write is abandoned after closeWait.
func (c *Client) closeNormal(reason string) {
	if c.conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
	}
	c.close()
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *Client) writePump(h *Hub) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.Leave(c.orderID, c)
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

// readPump consumes inbound frames. Clients may send messages but they are
// only acknowledged by the read, never acted on.
func (c *Client) readPump(h *Hub) {
	defer func() {
		h.Leave(c.orderID, c)
		c.close()
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
