package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jgraef/gdax-go/pkg/model"
)

const (
	writeWait           = 10 * time.Second
	pongWait            = 60 * time.Second
	pingPeriod          = (pongWait * 9) / 10
	maxMessageSize      = 64 * 1024
	defaultSendBuf      = 256
	defaultPublishBuf   = 4096
	maxConsecutiveDrops = 50
)

// BookUpdate is pushed to subscribers after every applied book event.
// Consumers needing full depth query the HTTP API; this carries only the
// top of book so slow clients stay cheap.
type BookUpdate struct {
	ProductID string          `json:"product_id"`
	Sequence  int64           `json:"sequence"`
	Top       model.TopOfBook `json:"top"`
	Seq       uint64          `json:"seq,omitempty"` // per-product publish counter
}

type publishMsg struct {
	Topic string
	Data  []byte
}

type subscription struct {
	client *Client
	topic  string
}

// Hub fans out book and ticker updates to websocket clients subscribed by
// product id.
type Hub struct {
	register    chan *Client
	unregister  chan *Client
	subscribe   chan subscription
	unsubscribe chan subscription
	publish     chan publishMsg

	clients map[*Client]struct{}
	topics  map[string]map[*Client]struct{}

	sendBuf int

	publishDrops uint64

	logger *zap.Logger
}

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	subscribed map[string]struct{}

	// consecutive drops counter: a client that never drains gets evicted
	drops int
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		publish:     make(chan publishMsg, defaultPublishBuf),
		clients:     make(map[*Client]struct{}),
		topics:      make(map[string]map[*Client]struct{}),
		sendBuf:     defaultSendBuf,
		logger:      logger,
	}
}

// Run runs the hub event loop. Call as: go hub.Run(ctx).
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("ws hub started")
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.dropClient(c)
			}

		case sub := <-h.subscribe:
			subs := h.topics[sub.topic]
			if subs == nil {
				subs = make(map[*Client]struct{})
				h.topics[sub.topic] = subs
			}
			subs[sub.client] = struct{}{}
			sub.client.subscribed[sub.topic] = struct{}{}

		case sub := <-h.unsubscribe:
			if subs := h.topics[sub.topic]; subs != nil {
				delete(subs, sub.client)
				if len(subs) == 0 {
					delete(h.topics, sub.topic)
				}
			}
			delete(sub.client.subscribed, sub.topic)

		case p := <-h.publish:
			for c := range h.recipients(p.Topic) {
				select {
				case c.send <- p.Data:
					continue
				default:
				}
				atomic.AddUint64(&h.publishDrops, 1)
				c.drops++
				if c.drops > maxConsecutiveDrops {
					h.logger.Warn("evicting slow client", zap.Int("drops", c.drops))
					h.dropClient(c)
					_ = c.conn.Close()
				}
			}

		case <-ctx.Done():
			h.logger.Info("ws hub shutting down")
			for c := range h.clients {
				close(c.send)
				_ = c.conn.Close()
				delete(h.clients, c)
			}
			return
		}
	}
}

func (h *Hub) recipients(topic string) map[*Client]struct{} {
	if topic == "" {
		return h.clients
	}
	return h.topics[topic]
}

func (h *Hub) dropClient(c *Client) {
	delete(h.clients, c)
	for t := range c.subscribed {
		if subs := h.topics[t]; subs != nil {
			delete(subs, c)
			if len(subs) == 0 {
				delete(h.topics, t)
			}
		}
	}
	close(c.send)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// In prod, check origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and registers a client. Initial product
// subscriptions can be passed via ?products=BTC-USD,ETH-USD.
func ServeWS(h *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}

	client := &Client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, h.sendBuf),
		subscribed: make(map[string]struct{}),
	}

	if s := r.URL.Query().Get("products"); s != "" {
		for _, p := range strings.Split(s, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			client.subscribed[p] = struct{}{}
		}
	}

	h.register <- client
	for p := range client.subscribed {
		h.subscribe <- subscription{client: client, topic: p}
	}

	go client.writePump()
	go client.readPump()
}

// readPump turns client commands into subscribe/unsubscribe requests.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			) {
				c.hub.logger.Warn("client read error", zap.Error(err))
			}
			return
		}

		// any incoming activity -> reset drops counter
		c.drops = 0

		var cmd struct {
			Type      string `json:"type"`       // "subscribe" | "unsubscribe"
			ProductID string `json:"product_id"` // e.g. "BTC-USD"
		}
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.hub.logger.Warn("invalid client msg", zap.Error(err))
			continue
		}

		switch cmd.Type {
		case "subscribe":
			if cmd.ProductID != "" {
				c.hub.subscribe <- subscription{client: c, topic: cmd.ProductID}
			}
		case "unsubscribe":
			if cmd.ProductID != "" {
				c.hub.unsubscribe <- subscription{client: c, topic: cmd.ProductID}
			}
		}
	}
}

// writePump serializes all writes to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				)
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(message); err != nil {
				_ = w.Close()
				return
			}

			// batch queued messages into same frame
			n := len(c.send)
			for i := 0; i < n; i++ {
				if msg := <-c.send; msg != nil {
					if _, err := w.Write([]byte("\n")); err != nil {
						break
					}
					if _, err := w.Write(msg); err != nil {
						break
					}
				}
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// PublishBookUpdate publishes a top-of-book change to subscribers of the
// product. Non-blocking: when the hub buffer is full the update is
// dropped; consumers recover from the next one.
func (h *Hub) PublishBookUpdate(u BookUpdate) {
	u.Seq = nextSeq(u.ProductID)
	payload := struct {
		Type string     `json:"type"`
		Book BookUpdate `json:"book"`
	}{"book", u}
	h.publishJSON(u.ProductID, payload)
}

// PublishTicker publishes the latest match to subscribers of its product.
func (h *Hub) PublishTicker(t model.Ticker) {
	payload := struct {
		Type   string       `json:"type"`
		Ticker model.Ticker `json:"ticker"`
	}{"ticker", t}
	h.publishJSON(t.ProductID, payload)
}

func (h *Hub) publishJSON(topic string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("marshal publish payload", zap.Error(err))
		return
	}

	select {
	case h.publish <- publishMsg{Topic: topic, Data: b}:
	default:
		// avoid blocking the feed goroutine; track drops
		atomic.AddUint64(&h.publishDrops, 1)
		h.logger.Warn("publish channel full, dropping update")
	}
}

// Stats returns simple metrics (clients count and publish drops).
func (h *Hub) Stats() (clients int, drops uint64) {
	clients = len(h.clients)
	drops = atomic.LoadUint64(&h.publishDrops)
	return
}
