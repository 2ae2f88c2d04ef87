// Package feed streams executed trades to WebSocket subscribers.
package feed

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"shares-market/internal/domain"
	"shares-market/internal/observability"
)

// Config configures hub behavior.
type Config struct {
	// WriteTimeout is timeout for writing a frame to a client.
	WriteTimeout time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// PongTimeout is how long a client may go silent before it is dropped.
	PongTimeout time.Duration
	// SendBuffer is the per-client outbound queue length. Clients that
	// fall this far behind start losing messages.
	SendBuffer int
}

// DefaultConfig returns default hub configuration.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
		SendBuffer:   64,
	}
}

// Message is the wire form of a trade event on the feed.
type Message struct {
	Seq         uint64 `json:"seq"`
	Trader      string `json:"trader"`
	Subject     string `json:"subject"`
	Direction   string `json:"direction"`
	Amount      uint64 `json:"amount"`
	Price       uint64 `json:"price"`
	ProtocolFee uint64 `json:"protocol_fee"`
	SubjectFee  uint64 `json:"subject_fee"`
	Supply      uint64 `json:"supply"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// NewMessage converts a trade event to its wire form.
func NewMessage(ev domain.TradeEvent) Message {
	return Message{
		Seq:         ev.Seq,
		Trader:      ev.Trader.String(),
		Subject:     ev.Subject.String(),
		Direction:   ev.Direction(),
		Amount:      ev.Amount,
		Price:       ev.Price,
		ProtocolFee: ev.ProtocolFee,
		SubjectFee:  ev.SubjectFee,
		Supply:      ev.Supply,
		TimestampMs: ev.TimestampMs,
	}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans trade events out to connected clients. Slow clients lose
// messages rather than stalling the broadcast.
type Hub struct {
	config   Config
	logger   *log.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a hub. A nil config uses DefaultConfig.
func NewHub(config *Config, logger *log.Logger) *Hub {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		config: cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*client]struct{}),
	}
}

// Broadcast queues a trade event for every connected client. Safe to
// call from the market's emit path: it never blocks.
func (h *Hub) Broadcast(ev domain.TradeEvent) {
	payload, err := json.Marshal(NewMessage(ev))
	if err != nil {
		h.logger.Printf("[feed] Marshal event seq %d: %v", ev.Seq, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
			observability.DefaultMetrics.FeedMessagesSent.Inc()
		default:
			observability.DefaultMetrics.FeedMessagesDropped.Inc()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams trades until the client
// disconnects or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("[feed] Upgrade: %v", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, h.config.SendBuffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	observability.DefaultMetrics.FeedClients.Set(float64(len(h.clients)))
	h.mu.Unlock()

	go h.writeLoop(c)
	h.readLoop(c)
}

// Close disconnects all clients. Subsequent connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	observability.DefaultMetrics.FeedClients.Set(0)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
		observability.DefaultMetrics.FeedClients.Set(float64(len(h.clients)))
	}
}

// writeLoop pushes queued messages and pings to one client.
func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.unregister(c)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}

// readLoop discards inbound frames; the feed is one-way. It exists to
// process control frames and to notice disconnects.
func (h *Hub) readLoop(c *client) {
	defer h.unregister(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
