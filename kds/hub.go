package kds

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Event types
const (
	EventGraceTick      = "order_grace_tick"
	EventOrderSubmitted = "order_submitted"
	EventOrderCommitted = "order_committed"
	EventOrderCancelled = "order_cancelled"
	EventOrderModifying = "order_modifying"
	EventCartUpdated    = "cart_updated"
	EventOrderComplete  = "order_complete"
	EventPrintResult    = "print_result"
	EventOrderUpdate    = "order_update"
)

// RoleTable is the pseudo role of a diner's browser subscribed to one session.
const RoleTable = "table"

type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Conn is the part of *websocket.Conn the hub writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type subscriber struct {
	role       string
	sessionKey string
}

// Hub holds the connected staff panels and table browsers.
type Hub struct {
	clients map[Conn]subscriber
	mutex   sync.Mutex
	log     logrus.FieldLogger
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		clients: make(map[Conn]subscriber),
		log:     log,
	}
}

// Register -> adds a connection. sessionKey is only meaningful for RoleTable.
func (h *Hub) Register(conn Conn, role, sessionKey string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.clients[conn] = subscriber{role: role, sessionKey: sessionKey}
}

// Unregister -> drops and closes a connection
func (h *Hub) Unregister(conn Conn) {
	h.mutex.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	h.mutex.Unlock()
	if ok {
		conn.Close()
	}
}

// Close drops and closes every connection. Used on shutdown.
func (h *Hub) Close() {
	h.mutex.Lock()
	clients := h.clients
	h.clients = make(map[Conn]subscriber)
	h.mutex.Unlock()
	for conn := range clients {
		conn.Close()
	}
}

func (h *Hub) ClientCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// Broadcast -> every staff connection
func (h *Hub) Broadcast(msg Message) {
	h.send(msg, func(s subscriber) bool { return s.role != RoleTable })
}

// BroadcastToRoles -> staff connections with one of roles
func (h *Hub) BroadcastToRoles(msg Message, roles ...string) {
	h.send(msg, func(s subscriber) bool {
		for _, r := range roles {
			if s.role == r {
				return true
			}
		}
		return false
	})
}

// BroadcastToSession -> table browsers sharing sessionKey
func (h *Hub) BroadcastToSession(sessionKey string, msg Message) {
	h.send(msg, func(s subscriber) bool {
		return s.role == RoleTable && s.sessionKey == sessionKey
	})
}

func (h *Hub) send(msg Message, match func(subscriber) bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).WithField("event", msg.Event).Error("failed to marshal hub message")
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	var dead []Conn
	for conn, sub := range h.clients {
		if !match(sub) {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.WithError(err).WithField("role", sub.role).Warn("dropping websocket client")
			dead = append(dead, conn)
		}
	}
	for _, conn := range dead {
		delete(h.clients, conn)
		conn.Close()
	}
}
