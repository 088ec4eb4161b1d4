// Package registry maps authenticated user identities to live WebSocket
// connections and delivers events to a user regardless of which connection
// is currently open. It is the only component shared by every session actor
// and is synchronized independently of any session state.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/holyword/trivia/go/internal/events"
)

// MessageHandler receives inbound client messages from the read pump.
type MessageHandler interface {
	HandleClientMessage(conn *Conn, data []byte)
}

// OfflineHandler is invoked once when the last live connection for a user
// closes. Handlers must not block; they typically enqueue a message into a
// session actor's inbox.
type OfflineHandler func(userID string)

// Registry tracks live connections per user.
type Registry struct {
	mu        sync.RWMutex
	userConns map[string]map[*Conn]bool
	anonymous map[*Conn]bool

	upgrader websocket.Upgrader
	config   Config

	handler         MessageHandler
	offlineHandlers []OfflineHandler

	broadcastCh chan broadcast
}

// Conn represents one WebSocket connection. userID is empty until the
// connection authenticates; access is guarded by the registry mutex.
//
// send is never closed: queueing happens from the registry's delivery
// goroutine and from session actors via Push, and a close would race those
// sends. Teardown is signalled through quit instead; messages queued after
// that sit in the abandoned buffer and are collected with the Conn.
type Conn struct {
	ID     string
	userID string
	sock   *websocket.Conn
	send   chan []byte
	quit   chan struct{}
	reg    *Registry

	connectedAt time.Time
	lastPong    time.Time
}

// Config holds transport tuning for WebSocket connections.
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type broadcast struct {
	userID string
	data   []byte
}

// DefaultConfig returns default WebSocket configuration.
func DefaultConfig() Config {
	return Config{
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

// New creates a connection registry.
func New(config Config) *Registry {
	return &Registry{
		userConns: make(map[string]map[*Conn]bool),
		anonymous: make(map[*Conn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcast, 1024),
	}
}

// SetMessageHandler installs the inbound message router. Must be called
// before the first upgrade.
func (r *Registry) SetMessageHandler(h MessageHandler) {
	r.handler = h
}

// OnUserOffline registers a handler fired when a user's last connection
// closes. Must be called during wiring, before connections arrive.
func (r *Registry) OnUserOffline(h OfflineHandler) {
	r.offlineHandlers = append(r.offlineHandlers, h)
}

// Start processes queued deliveries until the context is cancelled.
func (r *Registry) Start(ctx context.Context) {
	log.Info().Msg("connection registry started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection registry shutting down")
			return
		case b := <-r.broadcastCh:
			r.deliver(b)
		}
	}
}

// Upgrade upgrades an HTTP request to a WebSocket connection and starts its
// read/write pumps. The connection is unauthenticated until the client sends
// an authenticate message.
func (r *Registry) Upgrade(w http.ResponseWriter, req *http.Request) (*Conn, error) {
	sock, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade connection: %w", err)
	}

	conn := &Conn{
		ID:          uuid.New().String(),
		sock:        sock,
		send:        make(chan []byte, 256),
		quit:        make(chan struct{}),
		reg:         r,
		connectedAt: time.Now(),
		lastPong:    time.Now(),
	}

	r.mu.Lock()
	r.anonymous[conn] = true
	r.mu.Unlock()

	go conn.writePump()
	go conn.readPump()

	conn.Push(events.MustNew(events.TypeConnectionEstablished, events.ConnectionEstablishedPayload{
		ConnectionID: conn.ID,
	}))

	log.Info().Str("connection_id", conn.ID).Msg("websocket connection established")
	return conn, nil
}

// Authenticate binds a connection to a user identity. Re-authenticating
// with the same id is a no-op; a different id replaces the binding.
func (r *Registry) Authenticate(conn *Conn, userID string) {
	r.mu.Lock()
	if conn.userID == userID {
		r.mu.Unlock()
		return
	}

	var wentOffline string
	if conn.userID != "" {
		if _, last := r.removeFromUserLocked(conn); last {
			wentOffline = conn.userID
		}
	} else {
		delete(r.anonymous, conn)
	}

	conn.userID = userID
	if r.userConns[userID] == nil {
		r.userConns[userID] = make(map[*Conn]bool)
	}
	r.userConns[userID][conn] = true
	total := len(r.userConns[userID])
	r.mu.Unlock()

	if wentOffline != "" {
		r.fireOffline(wentOffline)
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", userID).
		Int("user_connections", total).
		Msg("connection authenticated")
}

// UserID returns the bound user id, or empty if unauthenticated.
func (r *Registry) UserID(conn *Conn) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return conn.userID
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userConns[userID]) > 0
}

// Send delivers an event to every live connection bound to userID. Events
// for offline users are silently dropped; durable delivery is the
// notification dispatcher's job.
func (r *Registry) Send(userID string, ev *events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(ev.Type)).Msg("marshal event")
		return
	}
	select {
	case r.broadcastCh <- broadcast{userID: userID, data: data}:
	default:
		log.Warn().Str("user_id", userID).Msg("broadcast channel full, dropping event")
	}
}

// deliver pushes one queued event to all of a user's connections.
func (r *Registry) deliver(b broadcast) {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.userConns[b.userID]))
	for conn := range r.userConns[b.userID] {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		select {
		case conn.send <- b.data:
		default:
			// Connection is slow/dead, close it.
			log.Warn().
				Str("connection_id", conn.ID).
				Str("user_id", b.userID).
				Msg("send buffer full, closing connection")
			r.unregister(conn)
			conn.sock.Close()
		}
	}
}

// removeFromUserLocked detaches a connection from its user pool. Caller
// holds r.mu. Reports whether the connection was present and whether it was
// the user's last one.
func (r *Registry) removeFromUserLocked(conn *Conn) (removed, last bool) {
	pool, ok := r.userConns[conn.userID]
	if !ok || !pool[conn] {
		return false, false
	}
	delete(pool, conn)
	if len(pool) == 0 {
		delete(r.userConns, conn.userID)
		return true, true
	}
	return true, false
}

// unregister removes a connection. Both pumps call this on teardown; the
// second call is a no-op. The user-offline fan-out fires only when the last
// connection for that user closes, so multiple tabs do not trigger
// disconnect policy on every close.
func (r *Registry) unregister(conn *Conn) {
	r.mu.Lock()
	var wentOffline string
	if conn.userID == "" {
		if !r.anonymous[conn] {
			r.mu.Unlock()
			return
		}
		delete(r.anonymous, conn)
	} else {
		removed, last := r.removeFromUserLocked(conn)
		if !removed {
			r.mu.Unlock()
			return
		}
		if last {
			wentOffline = conn.userID
		}
	}
	close(conn.quit)
	r.mu.Unlock()

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.userID).
		Msg("connection unregistered")

	if wentOffline != "" {
		r.fireOffline(wentOffline)
	}
}

func (r *Registry) fireOffline(userID string) {
	log.Info().Str("user_id", userID).Msg("user fully offline")
	for _, h := range r.offlineHandlers {
		h(userID)
	}
}

// Stats returns connection counts for the health endpoint.
func (r *Registry) Stats() (users int, connections int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, pool := range r.userConns {
		connections += len(pool)
	}
	return len(r.userConns), connections + len(r.anonymous)
}

// Push queues an event on this connection only, bypassing user fan-out.
// Used for direct replies such as validation errors.
func (c *Conn) Push(ev *events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(ev.Type)).Msg("marshal event")
		return
	}
	select {
	case c.send <- data:
	default:
		log.Warn().Str("connection_id", c.ID).Msg("send buffer full, dropping direct event")
	}
}

// writePump handles sending messages to the WebSocket connection.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.reg.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.sock.Close()
		c.reg.unregister(c)
	}()

	for {
		select {
		case message := <-c.send:
			c.sock.SetWriteDeadline(time.Now().Add(c.reg.config.WriteTimeout))
			if err := c.sock.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("write message")
				return
			}

		case <-c.quit:
			c.sock.SetWriteDeadline(time.Now().Add(c.reg.config.WriteTimeout))
			c.sock.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(c.reg.config.WriteTimeout))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection.
// Disconnect detection is transport-close plus missed pongs; it is a soft
// signal, not an ordered one.
func (c *Conn) readPump() {
	defer func() {
		c.reg.unregister(c)
		c.sock.Close()
	}()

	c.sock.SetReadLimit(c.reg.config.MaxMessageSize)
	c.sock.SetReadDeadline(time.Now().Add(c.reg.config.ReadTimeout))
	c.sock.SetPongHandler(func(string) error {
		c.sock.SetReadDeadline(time.Now().Add(c.reg.config.ReadTimeout))
		c.lastPong = time.Now()
		return nil
	})

	for {
		_, message, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected websocket close")
			}
			break
		}
		if c.reg.handler != nil {
			c.reg.handler.HandleClientMessage(c, message)
		}
		c.sock.SetReadDeadline(time.Now().Add(c.reg.config.ReadTimeout))
	}
}
