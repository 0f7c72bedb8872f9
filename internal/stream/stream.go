package stream

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"nl2sqlgen-client/internal/models"
)

const (
	handshakeTimeout = 10 * time.Second
	maxFrameSize     = 512 * 1024 // 512KB
)

// Client owns at most one live event channel to the backend. Opening a new
// channel tears down the previous one first, so the orchestrator can never
// receive duplicate deliveries from two attachments.
type Client struct {
	wsURL  string
	logger *zap.Logger

	mu      sync.Mutex
	current *Conn
}

// NewClient creates a stream client for the given websocket base URL
// (e.g. ws://localhost:8000).
func NewClient(wsURL string, logger *zap.Logger) *Client {
	return &Client{
		wsURL:  wsURL,
		logger: logger.Named("stream"),
	}
}

// Open dials /ws/all and starts delivering decoded events to onEvent in
// frame arrival order. onErr is invoked at most once, on a transport-level
// failure that was not caused by a local Close. There is no auto-reconnect:
// re-attachment is the caller's decision.
func (c *Client) Open(onEvent func(models.JobEvent), onErr func(error)) (*Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.current.Close()
		c.current = nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.Dial(c.wsURL+"/ws/all", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to event stream: %w", err)
	}
	ws.SetReadLimit(maxFrameSize)

	conn := &Conn{
		ws:     ws,
		logger: c.logger,
	}
	c.current = conn

	go conn.readPump(onEvent, onErr)

	return conn, nil
}

// CloseCurrent tears down the active channel, if any. Idempotent.
func (c *Client) CloseCurrent() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.current.Close()
		c.current = nil
	}
}

// Conn is one live event channel
type Conn struct {
	ws     *websocket.Conn
	logger *zap.Logger

	closeOnce sync.Once
	closed    atomic.Bool
	errOnce   sync.Once
	dropped   atomic.Int64
}

// Close terminates the channel. Safe to call multiple times and safe to call
// concurrently with frame delivery.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		deadline := time.Now().Add(time.Second)
		// Best-effort close handshake, then drop the transport
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.ws.Close()
	})
}

// Dropped returns how many undecodable frames were discarded, for diagnosis
func (c *Conn) Dropped() int64 {
	return c.dropped.Load()
}

// readPump delivers frames until the transport fails or Close is called.
// A frame that fails to decode is dropped and counted; it never stops
// delivery of subsequent frames.
func (c *Conn) readPump(onEvent func(models.JobEvent), onErr func(error)) {
	defer c.Close()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				// Local teardown, not a transport failure
				return
			}
			c.errOnce.Do(func() {
				c.logger.Warn("event stream transport error", zap.Error(err))
				onErr(err)
			})
			return
		}

		event, err := models.DecodeJobEvent(data)
		if err != nil {
			n := c.dropped.Add(1)
			c.logger.Warn("dropping malformed frame",
				zap.Error(err),
				zap.Int64("dropped_total", n))
			continue
		}

		if event.Type == models.EventPong {
			continue
		}

		onEvent(event)
	}
}
