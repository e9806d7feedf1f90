// Package hub provides connection management for WebSocket clients.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xiaot623/dinematch/internal/metrics"
)

var (
	// ErrBufferFull is returned when the send buffer is full.
	ErrBufferFull = errors.New("send buffer full")
	// ErrHubStopped is returned by Broadcast once Run has returned.
	ErrHubStopped = errors.New("hub stopped")
)

const (
	sendBufferSize      = 256
	broadcastBufferSize = 256
)

// Connection represents a single WebSocket connection of an authenticated user.
type Connection struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	// Room binding, guarded by the hub lock.
	groupID   string
	sessionID string

	mu sync.Mutex
}

// Room identifies what a connection is subscribed to.
type Room struct {
	GroupID   string
	SessionID string
}

// Hub manages all WebSocket connections. Connections subscribe to the room
// of a group; every broadcast for a session goes to its group's room.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// Rooms maps group_id to set of connection IDs
	rooms map[string]map[string]bool

	// Broadcast channel for sending to a room
	broadcast chan *RoomMessage

	// Closed when Run returns
	done     chan struct{}
	stopOnce sync.Once

	logger  *zap.Logger
	metrics *metrics.Collector

	mu sync.RWMutex
}

// RoomMessage is used to broadcast a message to a room.
type RoomMessage struct {
	GroupID string
	Data    []byte
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithMetrics reports live connections and broadcasts.
func WithMetrics(c *metrics.Collector) Option {
	return func(h *Hub) {
		h.metrics = c
	}
}

// NewHub creates a new Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		connections: make(map[string]*Connection),
		rooms:       make(map[string]map[string]bool),
		broadcast:   make(chan *RoomMessage, broadcastBufferSize),
		done:        make(chan struct{}),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run fans out broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer h.stopOnce.Do(func() { close(h.done) })
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg *RoomMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for connID := range h.rooms[msg.GroupID] {
		conn, exists := h.connections[connID]
		if !exists {
			continue
		}
		select {
		case conn.Send <- msg.Data:
		default:
			// Buffer full, drop the slow connection
			h.logger.Warn("connection buffer full, closing", zap.String("conn_id", connID))
			go h.Unregister(conn)
		}
	}
}

// NewConnection creates a connection for userID. It is not registered yet.
func (h *Hub) NewConnection(ws *websocket.Conn, userID string) *Connection {
	return &Connection{
		ID:     uuid.New().String(),
		UserID: userID,
		Conn:   ws,
		Send:   make(chan []byte, sendBufferSize),
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	h.connections[conn.ID] = conn
	count := len(h.connections)
	h.mu.Unlock()

	h.setGauge(count)
	h.logger.Debug("connection registered", zap.String("conn_id", conn.ID), zap.String("user_id", conn.UserID))
}

// Unregister removes a connection and closes its send channel. It returns the
// room the connection was in, if any. Calling it twice is safe.
func (h *Hub) Unregister(conn *Connection) (Room, bool) {
	h.mu.Lock()
	if _, ok := h.connections[conn.ID]; !ok {
		h.mu.Unlock()
		return Room{}, false
	}
	delete(h.connections, conn.ID)
	room, joined := h.leaveLocked(conn)
	close(conn.Send)
	count := len(h.connections)
	h.mu.Unlock()

	h.setGauge(count)
	h.logger.Debug("connection unregistered", zap.String("conn_id", conn.ID))
	return room, joined
}

// Join binds a connection to a group room for sessionID, leaving any previous room.
func (h *Hub) Join(conn *Connection, groupID, sessionID string) (previous Room, moved bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	previous, moved = h.leaveLocked(conn)
	conn.groupID = groupID
	conn.sessionID = sessionID
	if h.rooms[groupID] == nil {
		h.rooms[groupID] = make(map[string]bool)
	}
	h.rooms[groupID][conn.ID] = true
	return previous, moved
}

// Leave unbinds a connection from its room.
func (h *Hub) Leave(conn *Connection) (Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(conn)
}

func (h *Hub) leaveLocked(conn *Connection) (Room, bool) {
	if conn.groupID == "" {
		return Room{}, false
	}
	room := Room{GroupID: conn.groupID, SessionID: conn.sessionID}
	if members := h.rooms[conn.groupID]; members != nil {
		delete(members, conn.ID)
		if len(members) == 0 {
			delete(h.rooms, conn.groupID)
		}
	}
	conn.groupID = ""
	conn.sessionID = ""
	return room, true
}

// RoomOf returns the room a connection is bound to.
func (h *Hub) RoomOf(conn *Connection) (Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if conn.groupID == "" {
		return Room{}, false
	}
	return Room{GroupID: conn.groupID, SessionID: conn.sessionID}, true
}

// Broadcast queues a message for all connections of a group room. It never
// blocks: the message is dropped when the queue is full or Run has returned.
func (h *Hub) Broadcast(groupID string, data []byte) error {
	select {
	case <-h.done:
		h.dropped(groupID, ErrHubStopped)
		return ErrHubStopped
	default:
	}
	select {
	case h.broadcast <- &RoomMessage{GroupID: groupID, Data: data}:
		return nil
	default:
		h.dropped(groupID, ErrBufferFull)
		return ErrBufferFull
	}
}

func (h *Hub) dropped(groupID string, reason error) {
	h.logger.Warn("dropping room message", zap.String("group_id", groupID), zap.Error(reason))
	if h.metrics != nil {
		h.metrics.DroppedBroadcasts.Inc()
	}
}

// BroadcastJSON sends a JSON message to all connections of a group room.
func (h *Hub) BroadcastJSON(groupID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.Broadcast(groupID, data)
}

// SendToConnection sends a message to a specific connection.
func (h *Hub) SendToConnection(conn *Connection, data []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.connections[conn.ID]; !ok {
		return nil
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// SendJSONToConnection sends a JSON message to a specific connection.
func (h *Hub) SendJSONToConnection(conn *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.SendToConnection(conn, data)
}

// ConnectedUsers lists the distinct users present in a group room, sorted.
func (h *Hub) ConnectedUsers(groupID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]bool)
	users := []string{}
	for connID := range h.rooms[groupID] {
		conn, ok := h.connections[connID]
		if !ok || seen[conn.UserID] {
			continue
		}
		seen[conn.UserID] = true
		users = append(users, conn.UserID)
	}
	sort.Strings(users)
	return users
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// GetRoomCount returns the number of rooms with at least one connection.
func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// HasActiveConnections checks if a group room has any active connections.
func (h *Hub) HasActiveConnections(groupID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[groupID]) > 0
}

func (h *Hub) setGauge(count int) {
	if h.metrics != nil {
		h.metrics.LiveConnections.Set(float64(count))
	}
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}
