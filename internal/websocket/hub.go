package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// Message types pushed to clients
const (
	TypeTicks     = "ticks"
	TypeBar       = "bar"
	TypeDecision  = "decision"
	TypeSignal    = "signal"
	TypeHeartbeat = "heartbeat"
	TypePong      = "pong"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Message is the JSON envelope of every pushed event
type Message struct {
	Type   string      `json:"type"`
	Symbol string      `json:"symbol,omitempty"`
	Time   time.Time   `json:"time"`
	Data   interface{} `json:"data,omitempty"`
}

type outbound struct {
	symbol string
	data   []byte
	// to restricts delivery to one client
	to *Client
}

// Hub pushes live engine output to websocket clients. Client bookkeeping
// happens only on the Run goroutine.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan outbound
	direct     chan outbound
	done       chan struct{}

	heartbeat time.Duration
	count     atomic.Int64
	dropped   atomic.Int64
	nextID    atomic.Int64
	upgrader  websocket.Upgrader
	logger    *logrus.Entry
}

// NewHub creates a hub; allowedOrigins of nil or containing "*" accepts any origin
func NewHub(allowedOrigins []string, logger *logrus.Logger) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan outbound, 1024),
		direct:     make(chan outbound),
		done:       make(chan struct{}),
		heartbeat:  30 * time.Second,
		logger:     logger.WithField("component", "ws-hub"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			allowed = nil
			break
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Run owns the client set until ctx ends
func (h *Hub) Run(ctx context.Context) {
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = true
			h.count.Store(int64(len(h.clients)))

		case c := <-h.unregister:
			h.remove(c)

		case msg := <-h.direct:
			if h.clients[msg.to] {
				select {
				case msg.to.send <- msg.data:
				default:
					h.remove(msg.to)
				}
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				if msg.symbol != "" && !c.IsSubscribed(msg.symbol) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					// slow consumer
					h.remove(c)
				}
			}

		case now := <-heartbeat.C:
			data, _ := json.Marshal(Message{Type: TypeHeartbeat, Time: now.UTC()})
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					h.remove(c)
				}
			}
		}
	}
}

func (h *Hub) remove(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.count.Store(int64(len(h.clients)))
}

func (h *Hub) shutdown() {
	close(h.done)
	for c := range h.clients {
		h.remove(c)
	}
}

// ConnectionCount returns the number of connected clients
func (h *Hub) ConnectionCount() int {
	return int(h.count.Load())
}

// Dropped returns how many messages were discarded on a full queue
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) enqueue(msgType, symbol string, at time.Time, data interface{}) error {
	b, err := json.Marshal(Message{Type: msgType, Symbol: symbol, Time: at.UTC(), Data: data})
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msgType, err)
	}
	select {
	case h.broadcast <- outbound{symbol: symbol, data: b}:
	case <-h.done:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// PublishTicks pushes each symbol's ticks as one message
func (h *Hub) PublishTicks(_ context.Context, recs []models.TickRecord) error {
	if len(recs) == 0 || h.ConnectionCount() == 0 {
		return nil
	}
	bySymbol := make(map[string][]models.TickRecord)
	var order []string
	for _, r := range recs {
		if _, ok := bySymbol[r.Symbol]; !ok {
			order = append(order, r.Symbol)
		}
		bySymbol[r.Symbol] = append(bySymbol[r.Symbol], r)
	}
	for _, sym := range order {
		batch := bySymbol[sym]
		if err := h.enqueue(TypeTicks, sym, batch[len(batch)-1].Timestamp, batch); err != nil {
			return err
		}
	}
	return nil
}

// PublishBar pushes a closed bar
func (h *Hub) PublishBar(_ context.Context, bar models.Bar) error {
	return h.enqueue(TypeBar, bar.Symbol, bar.TimeClose, bar)
}

// PublishDecision pushes a scored bar
func (h *Hub) PublishDecision(_ context.Context, ev models.DecisionEvent) error {
	return h.enqueue(TypeDecision, ev.Symbol, ev.Time, ev)
}

// PublishSignal pushes a signal transition
func (h *Hub) PublishSignal(_ context.Context, symbol string, rec models.SignalRecord) error {
	return h.enqueue(TypeSignal, symbol, time.Now(), rec)
}

// HandleWebSocket upgrades a request. ?symbols=GC,SI pre-subscribes the
// client; a client without subscriptions receives every symbol.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Debug("Failed to upgrade connection")
		return
	}

	c := newClient(fmt.Sprintf("client-%d", h.nextID.Add(1)), conn, h)
	if q := r.URL.Query().Get("symbols"); q != "" {
		c.Subscribe(strings.Split(q, ","))
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// Client is one websocket subscriber
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	mu      sync.RWMutex
	symbols map[string]bool
}

func newClient(id string, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		hub:     hub,
		symbols: make(map[string]bool),
	}
}

// Subscribe adds symbols to the client's filter
func (c *Client) Subscribe(symbols []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			c.symbols[s] = true
		}
	}
}

// Unsubscribe removes symbols from the client's filter
func (c *Client) Unsubscribe(symbols []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range symbols {
		delete(c.symbols, strings.ToUpper(strings.TrimSpace(s)))
	}
}

// IsSubscribed reports whether messages for symbol reach this client
func (c *Client) IsSubscribed(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.symbols) == 0 || c.symbols[strings.ToUpper(symbol)]
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNoStatusReceived, websocket.CloseNormalClosure) {
					c.hub.logger.WithError(err).WithField("client", c.id).Debug("Write error")
				}
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

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.hub.logger.WithError(err).WithField("client", c.id).Debug("WebSocket closed")
			}
			return
		}
		if msgType == websocket.TextMessage {
			c.handleControl(data)
		}
	}
}

// handleControl processes {"type":"subscribe|unsubscribe|ping","symbols":[...]}
func (c *Client) handleControl(data []byte) {
	var msg struct {
		Type    string   `json:"type"`
		Symbols []string `json:"symbols,omitempty"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.hub.logger.WithField("client", c.id).Debug("Invalid control message")
		return
	}

	switch msg.Type {
	case "subscribe":
		c.Subscribe(msg.Symbols)
	case "unsubscribe":
		c.Unsubscribe(msg.Symbols)
	case "ping":
		// replies go through the hub, which owns c.send
		pong, _ := json.Marshal(Message{Type: TypePong, Time: time.Now().UTC()})
		select {
		case c.hub.direct <- outbound{data: pong, to: c}:
		case <-c.hub.done:
		}
	default:
		c.hub.logger.WithFields(logrus.Fields{
			"client": c.id,
			"type":   msg.Type,
		}).Debug("Unknown control message")
	}
}
