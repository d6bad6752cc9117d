package realtime

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/meetrec/internal/monitoring"
	"github.com/charlesng35/meetrec/pkg/logger"
)

const (
	writeWait = 10 * time.Second

	defaultPingInterval    = 30 * time.Second
	defaultPongTimeout     = 10 * time.Second
	defaultMaxMessageBytes = 32 << 20
	defaultBufferSize      = 64
)

// Config tunes connection liveness and buffering.
type Config struct {
	PingInterval    time.Duration
	PongTimeout     time.Duration
	MaxMessageBytes int64
	SendBuffer      int
	AllowedOrigins  []string
}

// Binding ties a connection to a meeting participant.
type Binding struct {
	MeetingID     string
	ParticipantID string
}

// Dispatcher receives the traffic of every connection. Calls for one
// connection are made from its reader goroutine, in arrival order.
type Dispatcher interface {
	HandleMessage(ctx context.Context, connID string, msg Inbound)
	HandleAudio(ctx context.Context, connID string, payload []byte)
	Disconnect(ctx context.Context, connID string, binding Binding)
}

// Hub tracks live websocket connections and the meeting each one is bound to.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*connection
	meetings map[string]map[string]*connection

	cfg      Config
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHub constructs a realtime hub.
func NewHub(cfg Config) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultBufferSize
	}

	h := &Hub{
		conns:    make(map[string]*connection),
		meetings: make(map[string]map[string]*connection),
		cfg:      cfg,
		log:      logger.WithModule("realtime"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Serve upgrades the request and pumps the connection until it closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, dispatcher Dispatcher) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		monitoring.RecordRealtimeFailure("upgrade", "handshake", err.Error())
		return
	}

	client := newConnection(h, socket)
	h.register(client)

	go client.writeLoop()
	client.readLoop(r.Context(), dispatcher)
	client.close()

	if binding, ok := h.lastBinding(client); ok && dispatcher != nil {
		dispatcher.Disconnect(context.WithoutCancel(r.Context()), client.id, binding)
	}
}

// Bind attaches the connection to a meeting. Rebinding to another meeting
// detaches it from the previous one.
func (h *Hub) Bind(connID, meetingID, participantID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.conns[connID]
	if !ok {
		return false
	}
	if client.bound && client.binding.MeetingID != meetingID {
		h.detachLocked(client)
	}
	client.binding = Binding{MeetingID: meetingID, ParticipantID: participantID}
	client.bound = true

	members := h.meetings[meetingID]
	if members == nil {
		members = make(map[string]*connection)
		h.meetings[meetingID] = members
	}
	members[connID] = client
	return true
}

// Unbind detaches the connection and returns the binding it held.
func (h *Hub) Unbind(connID string) (Binding, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.conns[connID]
	if !ok || !client.bound {
		return Binding{}, false
	}
	binding := client.binding
	h.detachLocked(client)
	client.bound = false
	client.binding = Binding{}
	return binding, true
}

// BindingOf returns the binding of an open connection.
func (h *Hub) BindingOf(connID string) (Binding, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.conns[connID]
	if !ok || !client.bound {
		return Binding{}, false
	}
	return client.binding, true
}

// Broadcast delivers event to every connection bound to meetingID and returns
// the number of connections it was queued for.
func (h *Hub) Broadcast(meetingID string, event any) int {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("failed to encode event", zap.String("event", eventType(event)), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	targets := make([]*connection, 0, len(h.meetings[meetingID]))
	for _, client := range h.meetings[meetingID] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, client := range targets {
		if client.enqueue(payload) {
			delivered++
		}
	}
	monitoring.RecordRealtimeBroadcast(eventType(event))
	return delivered
}

// SendTo delivers event to a single connection.
func (h *Hub) SendTo(connID string, event any) bool {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("failed to encode event", zap.String("event", eventType(event)), zap.Error(err))
		return false
	}

	h.mu.RLock()
	client, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return client.enqueue(payload)
}

// ActiveConnections returns the number of open connections.
func (h *Hub) ActiveConnections() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return int64(len(h.conns))
}

// ParticipantConnections returns the number of open connections bound to
// meetingID as participantID.
func (h *Hub) ParticipantConnections(meetingID, participantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, client := range h.meetings[meetingID] {
		if client.binding.ParticipantID == participantID {
			n++
		}
	}
	return n
}

// MeetingConnections returns the number of connections bound to meetingID.
func (h *Hub) MeetingConnections(meetingID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.meetings[meetingID])
}

func (h *Hub) register(client *connection) {
	h.mu.Lock()
	h.conns[client.id] = client
	h.mu.Unlock()
	monitoring.RecordRealtimeConnection(1)
}

func (h *Hub) unregister(client *connection) {
	h.mu.Lock()
	if _, ok := h.conns[client.id]; ok {
		delete(h.conns, client.id)
		if client.bound {
			h.detachLocked(client)
		}
	}
	h.mu.Unlock()
	monitoring.RecordRealtimeConnection(-1)
}

func (h *Hub) detachLocked(client *connection) {
	members := h.meetings[client.binding.MeetingID]
	delete(members, client.id)
	if len(members) == 0 {
		delete(h.meetings, client.binding.MeetingID)
	}
}

func (h *Hub) lastBinding(client *connection) (Binding, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return client.binding, client.bound
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	originHost := hostWithoutPort(origin)
	return originHost == hostWithoutPort(r.Host) || isLoopback(originHost)
}

type connection struct {
	id     string
	hub    *Hub
	socket *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once

	// guarded by hub.mu
	binding Binding
	bound   bool
}

func newConnection(hub *Hub, socket *websocket.Conn) *connection {
	return &connection{
		id:     uuid.NewString(),
		hub:    hub,
		socket: socket,
		send:   make(chan []byte, hub.cfg.SendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *connection) readLoop(ctx context.Context, dispatcher Dispatcher) {
	deadline := c.hub.cfg.PingInterval + c.hub.cfg.PongTimeout

	c.socket.SetReadLimit(c.hub.cfg.MaxMessageBytes)
	_ = c.socket.SetReadDeadline(time.Now().Add(deadline))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Info("connection closed unexpectedly", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}
		if len(payload) == 0 || dispatcher == nil {
			continue
		}

		if msg, ok := ParseInbound(payload); ok {
			dispatcher.HandleMessage(ctx, c.id, msg)
			continue
		}
		dispatcher.HandleAudio(ctx, c.id, payload)
	}
}

func (c *connection) writeLoop() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.TextMessage, payload); err != nil {
				monitoring.RecordRealtimeFailure("write", "socket", err.Error())
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.socket.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// enqueue queues payload for writing. A connection whose buffer is full is
// closed.
func (c *connection) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	default:
		c.hub.log.Warn("dropping slow connection", zap.String("conn_id", c.id))
		monitoring.RecordRealtimeFailure("enqueue", "backpressure", "send buffer full")
		c.close()
		return false
	}
}

func (c *connection) close() {
	c.once.Do(func() {
		close(c.done)
		c.hub.unregister(c)
		_ = c.socket.Close()
	})
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		if parsed, err := url.Parse(host); err == nil {
			return hostWithoutPort(parsed.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
