package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/silentauction/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 64
)

// SubscriberVerifier validates a subscriber token and returns its grants.
type SubscriberVerifier interface {
	VerifySubscriber(token string) (Grants, error)
}

// HubConfig configures the built-in hub.
type HubConfig struct {
	// Channel is the signal bus channel carrying updates.
	Channel string
	// AllowedOrigins restricts browser origins; empty allows all.
	AllowedOrigins []string
	StartedAt      time.Time
}

// client represents a single WebSocket connection.
type client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	authorized []string        // selectors granted by the token
	subs       map[string]bool // selectors requested by the client
	mu         sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to change its topics.
type subscribeMsg struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Topics []string `json:"topics"`
}

// Hub delivers updates from the signal bus to connected WebSocket clients.
// Public updates reach every client that selected the topic; private updates
// additionally require a token granting the topic.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan Update
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.SignalBus
	verifier   SubscriberVerifier
	upgrader   websocket.Upgrader
	channel    string
	startedAt  time.Time
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a Hub.
func NewHub(bus domain.SignalBus, verifier SubscriberVerifier, cfg HubConfig, logger *slog.Logger) *Hub {
	channel := cfg.Channel
	if channel == "" {
		channel = DefaultBusChannel
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan Update, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		verifier:   verifier,
		channel:    channel,
		startedAt:  startedAt,
		logger:     logger.With(slog.String("component", "realtime_hub")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

// Run subscribes to the signal bus and runs the hub's event loop until ctx
// is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	msgCh, err := h.bus.Subscribe(ctx, h.channel)
	if err != nil {
		return fmt.Errorf("realtime: subscribe %s: %w", h.channel, err)
	}
	h.logger.Info("subscribed to signal bus", slog.String("channel", h.channel))
	go h.forward(ctx, msgCh)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Debug("client connected", slog.Int("total_clients", h.ClientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client disconnected", slog.Int("total_clients", h.ClientCount()))

		case upd := <-h.broadcast:
			data, err := json.Marshal(Update{Topic: upd.Topic, Data: upd.Data})
			if err != nil {
				h.logger.Warn("dropping malformed update",
					slog.String("topic", upd.Topic),
					slog.String("error", err.Error()),
				)
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(upd) {
					continue
				}
				select {
				case c.send <- data:
				default:
					h.logger.Warn("dropping update for slow client", slog.String("topic", upd.Topic))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// forward decodes bus messages into the broadcast channel.
func (h *Hub) forward(ctx context.Context, msgCh <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-msgCh:
			if !ok {
				h.logger.Warn("signal bus subscription closed", slog.String("channel", h.channel))
				return
			}
			var upd Update
			if err := json.Unmarshal(raw, &upd); err != nil || upd.Topic == "" {
				h.logger.Warn("ignoring undecodable bus message")
				continue
			}
			select {
			case h.broadcast <- upd:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades the request and registers the client. The subscriber
// token is read from the Authorization header or the "token" query
// parameter; without one only public updates are delivered. Initial topic
// selectors come from repeated "topic" query parameters.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	var authorized []string
	if tok := bearerToken(r); tok != "" {
		grants, err := h.verifier.VerifySubscriber(tok)
		if err != nil {
			http.Error(w, "invalid subscriber token", http.StatusUnauthorized)
			return
		}
		authorized = grants.Subscribe
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		authorized: authorized,
		subs:       make(map[string]bool),
	}
	for _, t := range r.URL.Query()["topic"] {
		if t = strings.TrimSpace(t); t != "" {
			c.subs[t] = true
		}
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	c.sendHello()

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// readPump reads subscription changes from the client.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		var msg subscribeMsg
		if json.Unmarshal(message, &msg) == nil && len(msg.Topics) > 0 {
			c.handleSubscription(msg)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, t := range msg.Topics {
			c.subs[t] = true
		}
	case "unsubscribe":
		for _, t := range msg.Topics {
			delete(c.subs, t)
		}
	}
}

// wants reports whether the update should be delivered to this client.
func (c *client) wants(upd Update) bool {
	if upd.Private && !MatchAny(c.authorized, upd.Topic) {
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for sel := range c.subs {
		if MatchTopic(sel, upd.Topic) {
			return true
		}
	}
	return false
}

// sendHello lets the client mark the connection healthy before any bid
// traffic flows.
func (c *client) sendHello() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	c.mu.RLock()
	topics := make([]string, 0, len(c.subs))
	for t := range c.subs {
		topics = append(topics, t)
	}
	c.mu.RUnlock()

	msg, err := json.Marshal(map[string]any{
		"type": "hub_status",
		"payload": map[string]any{
			"connected":      true,
			"authorized":     len(c.authorized) > 0,
			"topics":         topics,
			"uptime_seconds": uptime,
		},
	})
	if err != nil {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

// writePump writes queued updates as text frames and keeps the connection
// alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
