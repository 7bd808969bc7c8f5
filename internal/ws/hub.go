// Package ws fans order status messages out to WebSocket subscribers grouped
// into per-order rooms.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/dexflow/dexflow/pkg/models"
)

var (
	broadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dexflow_ws_broadcasts_total",
		Help: "Total number of status broadcasts",
	})
	messagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dexflow_ws_messages_dropped_total",
		Help: "Total number of messages dropped for unreachable subscribers",
	})
)

// Hub tracks which subscribers are interested in which order and broadcasts
// status messages to them. Realtime delivery is best-effort; the persisted
// order record remains the source of truth.
//
// A single lock guards both maps: broadcasts and join/leave race on the same
// room.
type Hub struct {
	log *zap.Logger

	mu      sync.Mutex
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]struct{}

	upgrader websocket.Upgrader
}

// NewHub creates an empty hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:     log,
		rooms:   make(map[string]map[*Client]struct{}),
		clients: make(map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Join adds a subscriber to an order's room.
func (h *Hub) Join(orderID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[orderID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[orderID] = room
	}
	room[c] = struct{}{}
	h.clients[c] = struct{}{}
	h.log.Debug("subscriber joined", zap.String("order_id", orderID), zap.Int("room_size", len(room)))
}

// Leave removes a subscriber from an order's room. Safe to call for a
// subscriber that already left.
func (h *Hub) Leave(orderID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(orderID, c)
}

func (h *Hub) removeLocked(orderID string, c *Client) {
	if room, ok := h.rooms[orderID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, orderID)
		}
	}
	delete(h.clients, c)
}

// Broadcast sends a status message to every subscriber of the order.
// Broadcasting to an order with no subscribers is a no-op. Subscribers that
// are unreachable at send time are dropped from the room and disconnected.
func (h *Hub) Broadcast(orderID string, msg models.StatusMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to marshal status message",
			zap.String("order_id", orderID), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[orderID]
	if !ok {
		return
	}
	for c := range room {
		if err := c.trySend(payload); err != nil {
			h.log.Debug("dropping unreachable subscriber",
				zap.String("order_id", orderID), zap.Error(err))
			messagesDropped.Inc()
			h.removeLocked(orderID, c)
			c.close()
		}
	}
	broadcastsTotal.Inc()
}

// RoomCount returns the number of orders with at least one subscriber.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// SubscriberCount returns the total number of tracked subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// RoomSize returns the number of subscribers for one order.
func (h *Hub) RoomSize(orderID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[orderID])
}

// Shutdown closes every subscriber with a normal closure and clears all room
// state. Close frames are written concurrently outside the lock so one
// subscriber stuck mid-write cannot stall teardown. Only used at process
// teardown.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.rooms = make(map[string]map[*Client]struct{})
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			c.closeNormal("server shutting down")
		}(c)
	}
	wg.Wait()
	h.log.Info("fan-out hub shut down")
}

// ServeWS upgrades the request and subscribes the connection to the order's
// room until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, orderID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("order_id", orderID), zap.Error(err))
		return
	}

	c := newClient(orderID, conn)
	h.Join(orderID, c)
	go c.writePump(h)
	go c.readPump(h)
}
