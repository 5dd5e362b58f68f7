package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultURL = "wss://ws-feed.gdax.com"

	writeWait        = 10 * time.Second
	readWait         = 60 * time.Second
	pingPeriod       = 30 * time.Second
	handshakeTimeout = 10 * time.Second
)

// Listener consumes decoded events in receipt order. A returned error is
// treated as fatal for the subscription: the client records it and closes.
type Listener interface {
	OnMessage(ctx context.Context, ev Event) error
}

type ClientOpts struct {
	URL      string // defaults to DefaultURL
	Listener Listener
	Logger   *zap.Logger
	Auth     *Credentials // optional; signs subscribe requests
	// OnRaw sees every frame before decoding, e.g. for journaling. May be nil.
	OnRaw func(ctx context.Context, raw []byte)
}

// Client is a websocket connection to the exchange feed. It owns the read
// loop and the keepalive ping loop; decoded events go to the Listener.
type Client struct {
	url      string
	listener Listener
	logger   *zap.Logger
	auth     *Credentials
	onRaw    func(ctx context.Context, raw []byte)

	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	errMu sync.Mutex
	err   error
}

func NewClient(opts ClientOpts) *Client {
	url := opts.URL
	if url == "" {
		url = DefaultURL
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		url:      url,
		listener: opts.Listener,
		logger:   logger,
		auth:     opts.Auth,
		onRaw:    opts.OnRaw,
	}
}

// Start dials the feed and launches the read and ping loops. The client
// stops when ctx is canceled, Close is called, or the listener fails.
func (c *Client) Start(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	header := make(http.Header)

	conn, _, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return err
	}
	c.conn = conn

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(2)
	go c.readLoop(ctx)
	go c.pingLoop(ctx)

	c.logger.Info("feed connected", zap.String("url", c.url))
	return nil
}

// Subscribe requests a channel for the given products, signing the
// request when credentials are configured.
func (c *Client) Subscribe(channel string, productIDs []string) error {
	msg := map[string]any{
		"type": "subscribe",
		"channels": []map[string]any{{
			"name":        channel,
			"product_ids": productIDs,
		}},
	}
	if c.auth != nil {
		if err := c.auth.sign(msg); err != nil {
			return err
		}
	}
	return c.writeJSON(msg)
}

// Close tears the connection down and waits for the loops to exit.
func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	err := c.conn.Close()
	c.wg.Wait()
	return err
}

// Err reports the first fatal listener error, if any.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) fail(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
	c.cancel()
	_ = c.conn.Close()
}

func (c *Client) readLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("feed read error", zap.Error(err))
			}
			return
		}

		if c.onRaw != nil {
			c.onRaw(ctx, raw)
		}

		ev, err := Decode(raw)
		if err != nil {
			// the feed is best-effort: unparseable and sequence-less
			// frames carry no book position and are dropped whole
			if !errors.Is(err, ErrNoSequence) {
				c.logger.Debug("dropping malformed feed message", zap.Error(err))
			}
			continue
		}

		if err := c.listener.OnMessage(ctx, ev); err != nil {
			c.logger.Error("feed listener failed", zap.Error(err))
			c.fail(err)
			return
		}
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive"))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}
