// Package stream fans committed trades and graduation events out to
// WebSocket subscribers.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/observability"
)

// Message types
const (
	TypeTrade      = "trade"
	TypeGraduation = "graduation"
)

// Message is the envelope written to subscribers.
type Message struct {
	Type    string          `json:"type"`
	AgentID string          `json:"agent_id"`
	Data    json.RawMessage `json:"data"`
}

// TradeData is the wire form of a committed trade.
type TradeData struct {
	TradeID         string    `json:"trade_id"`
	Sequence        int64     `json:"sequence"`
	HolderID        string    `json:"holder_id"`
	Direction       string    `json:"direction"`
	GrossAmount     string    `json:"gross_amount"`
	TokenAmount     string    `json:"token_amount"`
	PriceAfter      string    `json:"price_after"`
	TokensSoldAfter string    `json:"tokens_sold_after"`
	ReserveAfter    string    `json:"reserve_after"`
	DisplayValue    string    `json:"display_value"`
	CreatedAt       time.Time `json:"created_at"`
}

// HubConfig configures connection behavior.
type HubConfig struct {
	// BufferSize is the per-client queue. A client that falls this far
	// behind is disconnected.
	BufferSize int
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// ReadTimeout is how long a client may stay silent, pongs included.
	ReadTimeout time.Duration
}

// DefaultHubConfig returns default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:   256,
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  60 * time.Second,
	}
}

type client struct {
	conn    *websocket.Conn
	agentID string // empty subscribes to every agent
	send    chan []byte
	closed  atomic.Bool
}

// Hub tracks subscribers and broadcasts to them.
type Hub struct {
	config   HubConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	wg      sync.WaitGroup
}

// NewHub creates a hub. Zero config fields take their defaults.
func NewHub(config HubConfig, logger *zap.Logger) *Hub {
	def := DefaultHubConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = def.BufferSize
	}
	if config.PingInterval <= 0 {
		config.PingInterval = def.PingInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = def.ReadTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and subscribes the connection. The optional
// agent_id query parameter limits the subscription to one agent.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		conn:    conn,
		agentID: r.URL.Query().Get("agent_id"),
		send:    make(chan []byte, h.config.BufferSize),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	observability.SetStreamClients(n)

	h.wg.Add(2)
	go h.writeLoop(c)
	go h.readLoop(c)
}

// PublishTrade broadcasts a committed trade.
func (h *Hub) PublishTrade(_ context.Context, t *domain.TradeRecord) {
	data, err := json.Marshal(TradeData{
		TradeID:         t.TradeID,
		Sequence:        t.Sequence,
		HolderID:        t.HolderID,
		Direction:       string(t.Direction),
		GrossAmount:     t.GrossAmount.String(),
		TokenAmount:     t.TokenAmount.String(),
		PriceAfter:      t.PriceAfter.String(),
		TokensSoldAfter: t.TokensSoldAfter.String(),
		ReserveAfter:    t.ReserveAfter.String(),
		DisplayValue:    t.DisplayValue.String(),
		CreatedAt:       t.CreatedAt,
	})
	if err != nil {
		h.logger.Warn("encode trade", zap.Error(err))
		return
	}
	h.broadcast(Message{Type: TypeTrade, AgentID: t.AgentID, Data: data})
}

// Publish broadcasts a graduation event.
func (h *Hub) Publish(_ context.Context, e *domain.GraduationEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	h.broadcast(Message{Type: TypeGraduation, AgentID: e.AgentID, Data: data})
	return nil
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber and waits for their goroutines.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.drop(c)
	}
	h.wg.Wait()
}

func (h *Hub) broadcast(m Message) {
	payload, err := json.Marshal(m)
	if err != nil {
		h.logger.Warn("encode stream message", zap.Error(err))
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if c.agentID != "" && c.agentID != m.AgentID {
			continue
		}
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Info("dropping slow stream client", zap.String("agent_id", c.agentID))
		h.drop(c)
	}
}

// drop unregisters c once. Closing send stops the write loop, which closes
// the connection and so ends the read loop.
func (h *Hub) drop(c *client) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	close(c.send)
	h.mu.Unlock()
	observability.SetStreamClients(n)
}

func (h *Hub) writeLoop(c *client) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.drop(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(c)
				return
			}
		}
	}
}

// readLoop discards client frames and keeps the read deadline fresh on pongs.
func (h *Hub) readLoop(c *client) {
	defer h.wg.Done()
	defer h.drop(c)

	c.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
