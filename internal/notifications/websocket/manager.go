package websocket

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"carbon-scribe/settlement-backend/internal/notifications"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Manager handles WebSocket connections and fans settlement events out to
// them
type Manager struct {
	connections map[string]*Connection
	mu          sync.RWMutex
	hub         *Hub
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

// Connection represents a WebSocket client connection
type Connection struct {
	ID           string
	AccountID    string
	Conn         *websocket.Conn
	Send         chan notifications.WebSocketMessage
	ConnectedAt  time.Time
	LastActivity time.Time
	UserAgent    string
	IPAddress    string
	mu           sync.Mutex
	closeOnce    sync.Once
}

// Hub manages the broadcast of messages to connections
type Hub struct {
	connections map[*Connection]bool
	broadcast   chan notifications.WebSocketMessage
	register    chan *Connection
	unregister  chan *Connection
	stop        chan struct{}
	done        chan struct{}
}

// NewManager creates a new WebSocket manager
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	hub := &Hub{
		connections: make(map[*Connection]bool),
		broadcast:   make(chan notifications.WebSocketMessage, 256),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	m := &Manager{
		connections: make(map[string]*Connection),
		hub:         hub,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	go m.run()
	return m
}

// HandleConnection upgrades the request and registers the connection for
// accountID
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request, accountID string) (*Connection, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	now := time.Now()
	connection := &Connection{
		ID:           uuid.New().String(),
		AccountID:    accountID,
		Conn:         conn,
		Send:         make(chan notifications.WebSocketMessage, 256),
		ConnectedAt:  now,
		LastActivity: now,
		UserAgent:    r.Header.Get("User-Agent"),
		IPAddress:    r.RemoteAddr,
	}

	select {
	case m.hub.register <- connection:
	case <-m.hub.done:
		conn.Close()
		return nil, fmt.Errorf("websocket manager closed")
	}

	go m.readPump(connection)
	go m.writePump(connection)

	return connection, nil
}

// readPump drains client frames so pongs and close frames are processed
func (m *Manager) readPump(conn *Connection) {
	defer func() {
		select {
		case m.hub.unregister <- conn:
		case <-m.hub.done:
		}
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(512)
	conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg notifications.WebSocketMessage
		if err := conn.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Warn("Websocket read failed", zap.String("connection_id", conn.ID), zap.Error(err))
			}
			return
		}

		conn.mu.Lock()
		conn.LastActivity = time.Now()
		conn.mu.Unlock()

		if msg.Type == notifications.WSMessageTypePresence {
			m.sendStatus(conn)
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (m *Manager) writePump(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (m *Manager) sendStatus(conn *Connection) {
	status := notifications.WebSocketMessage{
		ID:        uuid.New(),
		Type:      notifications.WSMessageTypeStatus,
		Data:      map[string]interface{}{"status": "connected", "connection_id": conn.ID},
		Timestamp: time.Now().UTC(),
		Channel:   "private",
		Targets:   []string{conn.AccountID},
	}
	select {
	case m.hub.broadcast <- status:
	default:
	}
}

// run owns the hub's connection set
func (m *Manager) run() {
	h := m.hub
	defer close(h.done)
	for {
		select {
		case conn := <-h.register:
			h.connections[conn] = true
			m.mu.Lock()
			m.connections[conn.ID] = conn
			m.mu.Unlock()
			m.logger.Debug("Websocket connection registered",
				zap.String("connection_id", conn.ID),
				zap.String("account_id", conn.AccountID))

		case conn := <-h.unregister:
			m.drop(conn)

		case message := <-h.broadcast:
			for conn := range h.connections {
				if !conn.wants(message) {
					continue
				}
				select {
				case conn.Send <- message:
				default:
					m.drop(conn)
				}
			}

		case <-h.stop:
			for conn := range h.connections {
				m.drop(conn)
			}
			return
		}
	}
}

func (m *Manager) drop(conn *Connection) {
	if _, ok := m.hub.connections[conn]; !ok {
		return
	}
	delete(m.hub.connections, conn)
	m.mu.Lock()
	delete(m.connections, conn.ID)
	m.mu.Unlock()
	conn.closeOnce.Do(func() { close(conn.Send) })
	m.logger.Debug("Websocket connection unregistered", zap.String("connection_id", conn.ID))
}

func (c *Connection) wants(msg notifications.WebSocketMessage) bool {
	if len(msg.Targets) == 0 {
		return true
	}
	for _, t := range msg.Targets {
		if t == c.AccountID {
			return true
		}
	}
	return false
}

// Publish queues a message for every interested connection
func (m *Manager) Publish(message notifications.WebSocketMessage) error {
	select {
	case <-m.hub.stop:
		return fmt.Errorf("websocket manager closed")
	default:
	}
	select {
	case m.hub.broadcast <- message:
		return nil
	default:
		return fmt.Errorf("broadcast channel full")
	}
}

// GetConnectionCount returns the number of active connections
func (m *Manager) GetConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// ConnectionInfo represents connection information for monitoring
type ConnectionInfo struct {
	ConnectionID string    `json:"connection_id"`
	AccountID    string    `json:"account_id"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	UserAgent    string    `json:"user_agent"`
	IPAddress    string    `json:"ip_address"`
}

// GetConnectionInfo returns information about all active connections
func (m *Manager) GetConnectionInfo() []ConnectionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info := make([]ConnectionInfo, 0, len(m.connections))
	for _, conn := range m.connections {
		conn.mu.Lock()
		info = append(info, ConnectionInfo{
			ConnectionID: conn.ID,
			AccountID:    conn.AccountID,
			ConnectedAt:  conn.ConnectedAt,
			LastActivity: conn.LastActivity,
			UserAgent:    conn.UserAgent,
			IPAddress:    conn.IPAddress,
		})
		conn.mu.Unlock()
	}
	return info
}

// Close stops the hub and closes every connection
func (m *Manager) Close() {
	select {
	case <-m.hub.stop:
		return
	default:
		close(m.hub.stop)
	}
	<-m.hub.done
}
