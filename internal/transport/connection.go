// Package transport implements the client-side connection manager of §4.6:
// a state machine that maintains at most one open WebSocket to a URL, with
// exponential-backoff reconnection, an open-timeout guard, and a heartbeat.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config carries the timing knobs named in §4.6, sourced from
// config.RoomConfig by the caller.
type Config struct {
	URL            string
	Header         http.Header
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	MaxRetries     int
	OpenTimeout    time.Duration
	HeartbeatEvery time.Duration
}

func (c Config) withDefaults() Config {
	if c.BackoffBase <= 0 {
		c.BackoffBase = 250 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 20
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 10 * time.Second
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = 30 * time.Second
	}
	return c
}

// Connection is the connection manager. All exported methods are safe to
// call from any goroutine; the onMessage/onStateChange callbacks are
// invoked from the connection's own read/supervisor goroutines and, per
// §5, MUST NOT block.
type Connection struct {
	cfg    Config
	logger *zap.Logger
	dialer *websocket.Dialer

	onMessage     func([]byte)
	onStateChange func(State)
	onLost        func()

	mu    sync.Mutex
	state State
	conn  *websocket.Conn
	send  chan []byte

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Connection targeting url. Handlers must be set via
// SetHandlers before Connect is called.
func New(cfg Config, logger *zap.Logger) *Connection {
	return &Connection{
		cfg:    cfg.withDefaults(),
		logger: logger,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.withDefaults().OpenTimeout},
		state:  StateDisconnected,
		send:   make(chan []byte, 256),
		stopCh: make(chan struct{}),
	}
}

// SetHandlers wires the application's callbacks. Call before Connect.
func (c *Connection) SetHandlers(onMessage func([]byte), onStateChange func(State), onLost func()) {
	c.onMessage = onMessage
	c.onStateChange = onStateChange
	c.onLost = onLost
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if c.onStateChange != nil {
		c.onStateChange(s)
	}
}

// Connect starts the supervisor loop in the background and returns
// immediately; the caller observes progress via onStateChange.
func (c *Connection) Connect() {
	go c.supervise()
}

// Send enqueues a frame for the write pump. It never blocks: if the
// outbound buffer is full, the frame is dropped and false is returned.
// Frames sent while no socket is open wait in the buffer and are written
// once the next connection is up (callers decide whether to buffer for
// replay themselves, as the room client does per §4.7).
func (c *Connection) Send(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Disconnect is idempotent: it cancels any pending reconnect/open timers,
// closes the socket cleanly, and moves to the terminal disconnected state.
func (c *Connection) Disconnect() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
	c.setState(StateDisconnected)
}

func (c *Connection) stopped() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *Connection) supervise() {
	bo := newBackoff(c.cfg.BackoffBase, c.cfg.BackoffMax)
	retries := 0

	for {
		if c.stopped() {
			return
		}

		if err := c.attemptConnect(); err != nil {
			c.logger.Debug("connect attempt failed", zap.Error(err))
			retries++
			if retries > c.cfg.MaxRetries {
				c.logger.Warn("max reconnect retries exhausted", zap.Int("retries", retries))
				c.setState(StateDisconnected)
				if c.onLost != nil {
					c.onLost()
				}
				return
			}
			if !c.sleepBackoff(bo.next()) {
				return
			}
			continue
		}

		bo.reset()
		retries = 0
		c.runConnected() // blocks until the socket drops or Disconnect is called

		if c.stopped() {
			return
		}
		c.setState(StateReconnecting)
	}
}

func (c *Connection) sleepBackoff(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.stopCh:
		return false
	}
}

func (c *Connection) attemptConnect() error {
	c.setState(StateConnecting)

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.OpenTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected)
	return nil
}

// runConnected drives the read pump, write pump, and heartbeat ticker for
// the currently open socket, and blocks until one of them observes the
// connection has dropped (or Disconnect is called).
func (c *Connection) runConnected() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	done := make(chan struct{})
	var closeOnce sync.Once
	closeDown := func() {
		closeOnce.Do(func() { close(done) })
	}

	go c.readPump(conn, closeDown)
	c.writePump(conn, done, closeDown)

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
}

func (c *Connection) readPump(conn *websocket.Conn, closeDown func()) {
	defer closeDown()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.logger.Debug("read pump closed", zap.Error(err))
			return
		}
		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}

func (c *Connection) writePump(conn *websocket.Conn, done chan struct{}, closeDown func()) {
	ticker := time.NewTicker(c.cfg.HeartbeatEvery)
	defer ticker.Stop()
	defer conn.Close()

	heartbeat := []byte(`{"type":"heartbeat"}`)

	for {
		select {
		case <-done:
			return
		case <-c.stopCh:
			return
		case payload := <-c.send:
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug("write pump error", zap.Error(err))
				closeDown()
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.TextMessage, heartbeat); err != nil {
				c.logger.Debug("heartbeat write failed", zap.Error(err))
				closeDown()
				return
			}
		}
	}
}
