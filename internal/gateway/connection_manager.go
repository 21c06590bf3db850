package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConnectionManager owns the WebSocket connections of one process,
// pooled by room code. Broadcasts go through a buffered channel so the
// mutation path never blocks on a slow socket.
type ConnectionManager struct {
	roomConnections map[string]map[*Connection]bool
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan broadcast
}

// Connection is one client socket. RoomID and Name are empty until the
// client's join_room is accepted.
type Connection struct {
	ID      string
	RoomID  string
	Name    string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	dispatcher Dispatcher

	ConnectedAt time.Time

	sendMu sync.Mutex
	closed bool
}

// trySend queues a frame without blocking. It reports false when the
// send buffer is full or the connection is already closed; sending and
// closing share a mutex so a late broadcast can never hit a closed
// channel.
func (c *Connection) trySend(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel exactly once.
func (c *Connection) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// Dispatcher routes inbound wire messages from a connection.
type Dispatcher interface {
	HandleMessage(ctx context.Context, conn *Connection, env Envelope)
}

// ConnectionConfig holds socket tuning for the manager.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type broadcast struct {
	roomID string
	data   []byte
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a connection manager.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcast, 1000),
	}
}

// Start processes broadcast messages until ctx is canceled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// Upgrade turns an HTTP request into a managed WebSocket connection. The
// connection is not in any room pool until its join_room is accepted.
func (cm *ConnectionManager) Upgrade(w http.ResponseWriter, r *http.Request, dispatcher Dispatcher) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		dispatcher:  dispatcher,
		ConnectedAt: time.Now(),
	}

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Msg("WebSocket connection established")

	return connection, nil
}

// Subscribe adds the connection to a room's pool. A connection joining a
// second room is moved, not duplicated.
func (cm *ConnectionManager) Subscribe(conn *Connection, roomID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if conn.RoomID != "" && conn.RoomID != roomID {
		cm.removeLocked(conn)
	}
	conn.RoomID = roomID
	if cm.roomConnections[roomID] == nil {
		cm.roomConnections[roomID] = make(map[*Connection]bool)
	}
	cm.roomConnections[roomID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_id", roomID).
		Int("total_connections", len(cm.roomConnections[roomID])).
		Msg("connection subscribed to room")
}

// Unsubscribe removes the connection from its room pool without closing
// it, for a client that left the room but kept the socket.
func (cm *ConnectionManager) Unsubscribe(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.removeLocked(conn)
	conn.RoomID = ""
}

// unregister removes a connection from its pool and closes its send
// channel. Removal on disconnect is best effort; late publishes after an
// ungraceful drop are tolerated by the broadcast path.
func (cm *ConnectionManager) unregister(conn *Connection) {
	cm.mu.Lock()
	cm.removeLocked(conn)
	cm.mu.Unlock()
	conn.closeSend()
}

// drop removes a slow or dead connection from its pool without touching
// its send channel; closing the socket lets its pumps wind down on their
// own.
func (cm *ConnectionManager) drop(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.removeLocked(conn)
}

func (cm *ConnectionManager) removeLocked(conn *Connection) {
	connections, exists := cm.roomConnections[conn.RoomID]
	if !exists {
		return
	}
	if _, exists := connections[conn]; !exists {
		return
	}
	delete(connections, conn)
	if len(connections) == 0 {
		delete(cm.roomConnections, conn.RoomID)
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("room_id", conn.RoomID).
		Msg("connection unsubscribed")
}

// BroadcastToRoom queues a frame for every connection in the room's pool.
func (cm *ConnectionManager) BroadcastToRoom(roomID string, data []byte) {
	select {
	case cm.broadcastCh <- broadcast{roomID: roomID, data: data}:
	default:
		log.Warn().Str("room_id", roomID).Msg("broadcast channel full, dropping message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message broadcast) {
	cm.mu.RLock()
	connections, exists := cm.roomConnections[message.roomID]
	if !exists {
		cm.mu.RUnlock()
		return
	}
	targets := make([]*Connection, 0, len(connections))
	for conn := range connections {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		if !conn.trySend(message.data) {
			log.Warn().
				Str("connection_id", conn.ID).
				Str("room_id", message.roomID).
				Msg("connection slow or closed, dropping from room")
			cm.drop(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("room_id", message.roomID).
		Int("connections", len(targets)).
		Msg("room state broadcasted")
}

// Stats returns connection counts per room.
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

// GetStats returns statistics about active connections.
func (cm *ConnectionManager) GetStats() Stats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := Stats{RoomConnections: make(map[string]int)}
	for roomID, connections := range cm.roomConnections {
		stats.TotalConnections += len(connections)
		stats.RoomConnections[roomID] = len(connections)
	}
	stats.ActiveRooms = len(cm.roomConnections)
	return stats
}

// writePump drains the send channel onto the socket and keeps pings
// flowing.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads wire messages and hands them to the dispatcher.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Debug().
				Str("connection_id", c.ID).
				Msg("dropping malformed wire message")
			continue
		}
		c.dispatcher.HandleMessage(context.Background(), c, env)
	}
}
