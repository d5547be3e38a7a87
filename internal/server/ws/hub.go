// Package ws bridges the settlement event bus to WebSocket clients. The
// hub holds one upstream subscription to the settlements channel and fans
// events out per client subscription: "settlements" for the firehose,
// "match:<id>" for a single match, "match:*" for every match.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/matchbook/internal/domain"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long a silent client stays connected. pingPeriod
	// must be shorter so pings land before the deadline.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds incoming subscription frames.
	maxMessageSize = 4096

	// sendBufferSize is each client's outgoing queue; slow clients drop.
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the CORS layer and the identity
		// proofs on mutations; the stream itself is read only.
		return true
	},
}

// client is one WebSocket connection and its subscription set.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
	mu   sync.RWMutex
}

// subscribeMsg is the frame clients send to adjust their subscriptions:
//
//	{"subscribe":["match:m-1"],"unsubscribe":["settlements"]}
type subscribeMsg struct {
	Subscribe   []string `json:"subscribe"`
	Unsubscribe []string `json:"unsubscribe"`
}

// Config captures instance metadata included in the greeting frame.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// Hub manages the connected clients and routes settlement events to them.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
	mu         sync.RWMutex
}

// NewHub creates a Hub over the given signal bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		logger:     logger,
		mode:       mode,
		startedAt:  startedAt,
	}
}

// Run subscribes to the settlements channel and pumps events to clients
// until ctx is cancelled. Event frames are the bus payloads verbatim; the
// only frame the hub fabricates is the greeting.
func (h *Hub) Run(ctx context.Context) error {
	events, err := h.bus.Subscribe(ctx, domain.ChannelSettlements)
	if err != nil {
		return err
	}
	h.logger.Info("ws hub following settlement events")

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client connected", slog.Int("clients", total))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client disconnected", slog.Int("clients", total))

		case payload, ok := <-events:
			if !ok {
				h.closeAll()
				return nil
			}
			h.fanOut(payload)
		}
	}
}

// fanOut delivers one event payload to every client subscribed to it. The
// payload's match id decides which per-match channel it belongs to;
// unparsable payloads still reach firehose subscribers.
func (h *Hub) fanOut(payload []byte) {
	channels := []string{domain.ChannelSettlements}
	var ev domain.SettlementEvent
	if err := json.Unmarshal(payload, &ev); err == nil && ev.MatchID != "" {
		channels = append(channels, domain.MatchChannel(ev.MatchID))
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wantsAny(channels) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("ws dropping event for slow client")
		}
	}
}

// closeAll disconnects every client.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// HandleWS upgrades the request and registers the connection. New clients
// start on the firehose and narrow from there.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{domain.ChannelSettlements: true},
	}

	h.register <- c
	c.greet()

	go c.writePump()
	go c.readPump()
}

// greet queues the initial status frame so clients can confirm the stream
// is live before any settlement happens.
func (c *client) greet() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	msg, err := json.Marshal(map[string]any{
		"type": "status",
		"payload": map[string]any{
			"mode":           c.hub.mode,
			"connected":      true,
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

// wantsAny reports whether the client subscribes to any of the channels,
// honoring trailing-star wildcards in subscriptions.
func (c *client) wantsAny(channels []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range channels {
		if c.subs[ch] {
			return true
		}
		for sub := range c.subs {
			if strings.HasSuffix(sub, "*") && strings.HasPrefix(ch, sub[:len(sub)-1]) {
				return true
			}
		}
	}
	return false
}

// readPump consumes subscription frames until the connection drops.
func (c *client) readPump() {
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
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws unexpected close", slog.String("error", err.Error()))
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err != nil {
			continue
		}
		c.applySubscription(sub)
	}
}

func (c *client) applySubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range msg.Subscribe {
		if ch = strings.TrimSpace(ch); ch != "" {
			c.subs[ch] = true
		}
	}
	for _, ch := range msg.Unsubscribe {
		delete(c.subs, strings.TrimSpace(ch))
	}
}

// writePump writes queued frames and keepalive pings.
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
