package cgate

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ConnectionType distinguishes the two roles a C-Gate TCP socket plays.
type ConnectionType int

const (
	// EventConnection receives unsolicited event lines; no handshake.
	EventConnection ConnectionType = iota
	// CommandConnection sends commands and receives their responses;
	// opens with EVENT ON and an optional LOGIN.
	CommandConnection
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
// Grounded on the teacher's knxd.go closeOnce.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close()           { c.once.Do(func() { close(c.ch) }) }
func (c *closeOnce) Done() <-chan struct{} { return c.ch }

// ConnectionConfig configures a single C-Gate TCP endpoint.
type ConnectionConfig struct {
	Host string
	Port int
	Type ConnectionType

	// User/Password are only sent for CommandConnection, and only when
	// User is non-empty.
	User     string
	Password string

	DialTimeout time.Duration

	// AutoReconnect enables this Connection's own backoff/reconnect loop,
	// used for the singular event connection. Pool slots run with
	// AutoReconnect false; the pool owns their reconnect scheduling so
	// two independent backoff loops never compete for the same socket.
	AutoReconnect        bool
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	MaxReconnectAttempts  int // 0 means unbounded
}

// Connection manages one TCP socket to C-Gate, framing inbound bytes into
// lines and delivering them to OnLine. Grounded on the teacher's
// KNXDClient: dial-with-timeout, a single receive goroutine, closeOnce
// shutdown, and (when AutoReconnect) an exponential backoff reconnect
// loop with a reconnecting/attempts state pair.
type Connection struct {
	cfg    ConnectionConfig
	logger Logger

	connMu sync.RWMutex
	conn   net.Conn

	connected    atomic.Bool
	reconnecting atomic.Bool
	attempts     atomic.Int32
	lastActivity atomic.Int64

	linesSent     atomic.Int64
	linesReceived atomic.Int64
	reconnects    atomic.Int32

	onLine      func(string)
	onConnect   func()
	onClose     func(hadError bool)
	callbackMu  sync.RWMutex

	framer *LineFramer

	done *closeOnce
	wg   sync.WaitGroup
}

// NewConnection creates a Connection. Dial is not attempted until Start.
func NewConnection(cfg ConnectionConfig, logger Logger) *Connection {
	if logger == nil {
		logger = nopLogger{}
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.InitialReconnectDelay == 0 {
		cfg.InitialReconnectDelay = 1 * time.Second
	}
	if cfg.MaxReconnectDelay == 0 {
		cfg.MaxReconnectDelay = 30 * time.Second
	}
	return &Connection{
		cfg:    cfg,
		logger: logger,
		framer: NewLineFramer(),
		done:   newCloseOnce(),
	}
}

// SetOnLine sets the callback invoked for every framed line received.
func (c *Connection) SetOnLine(f func(string)) {
	c.callbackMu.Lock()
	c.onLine = f
	c.callbackMu.Unlock()
}

// SetOnConnect sets the callback invoked after a successful (re)connect.
func (c *Connection) SetOnConnect(f func()) {
	c.callbackMu.Lock()
	c.onConnect = f
	c.callbackMu.Unlock()
}

// SetOnClose sets the callback invoked when the socket closes, whether
// cleanly or due to error. hadError is false for an explicit Disconnect.
func (c *Connection) SetOnClose(f func(hadError bool)) {
	c.callbackMu.Lock()
	c.onClose = f
	c.callbackMu.Unlock()
}

// Start dials the connection once. If it fails and AutoReconnect is set,
// a background goroutine keeps retrying with backoff; the caller is not
// blocked waiting for that retry loop to eventually succeed.
func (c *Connection) Start(ctx context.Context) error {
	if err := c.dialAndHandshake(ctx); err != nil {
		if !c.cfg.AutoReconnect {
			return err
		}
		c.logger.Warn("initial connect failed, entering backoff", "error", err)
		c.wg.Add(1)
		go c.reconnectLoop()
		return nil
	}

	c.wg.Add(1)
	go c.receiveLoop()
	return nil
}

func (c *Connection) dialAndHandshake(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	var dialer net.Dialer
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, addr, err)
	}

	if c.cfg.Type == CommandConnection {
		if _, err := conn.Write([]byte("EVENT ON\n")); err != nil {
			conn.Close()
			return fmt.Errorf("%w: handshake write: %w", ErrConnectionFailed, err)
		}
		if c.cfg.User != "" {
			line := fmt.Sprintf("LOGIN %s %s\n", c.cfg.User, c.cfg.Password)
			if _, err := conn.Write([]byte(line)); err != nil {
				conn.Close()
				return fmt.Errorf("%w: login write: %w", ErrConnectionFailed, err)
			}
		}
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.connected.Store(true)
	c.attempts.Store(0)
	c.lastActivity.Store(time.Now().Unix())
	c.framer.Reset()

	c.callbackMu.RLock()
	onConnect := c.onConnect
	c.callbackMu.RUnlock()
	if onConnect != nil {
		onConnect()
	}

	return nil
}

func (c *Connection) receiveLoop() {
	defer c.wg.Done()

	buf := make([]byte, 4096)
	for {
		select {
		case <-c.done.Done():
			return
		default:
		}

		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()
		if conn == nil {
			return
		}

		n, err := conn.Read(buf)
		if n > 0 {
			c.lastActivity.Store(time.Now().Unix())
			data := append([]byte(nil), buf[:n]...)
			if ferr := c.framer.Feed(data, c.dispatchLine); ferr != nil {
				c.logger.Error("line framer error, closing connection", "error", ferr)
				c.handleSocketClosed(true)
				return
			}
		}
		if err != nil {
			if c.isClosed() {
				return
			}
			c.handleSocketClosed(true)
			if c.cfg.AutoReconnect {
				c.wg.Add(1)
				go c.reconnectLoop()
			}
			return
		}
	}
}

func (c *Connection) dispatchLine(line string) {
	c.linesReceived.Add(1)

	c.callbackMu.RLock()
	onLine := c.onLine
	c.callbackMu.RUnlock()
	if onLine == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("connection line handler panic recovered", "panic", fmt.Sprint(r))
		}
	}()
	onLine(line)
}

func (c *Connection) handleSocketClosed(hadError bool) {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
	c.connected.Store(false)

	c.callbackMu.RLock()
	onClose := c.onClose
	c.callbackMu.RUnlock()
	if onClose != nil {
		onClose(hadError)
	}
}

// reconnectLoop retries dialAndHandshake with exponential backoff:
// min(initial * 2^attempts, max). Only used when AutoReconnect is set.
func (c *Connection) reconnectLoop() {
	defer c.wg.Done()

	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer c.reconnecting.Store(false)

	backoff := c.cfg.InitialReconnectDelay
	for {
		if c.isClosed() {
			return
		}

		attempt := c.attempts.Add(1)
		if c.cfg.MaxReconnectAttempts > 0 && int(attempt) > c.cfg.MaxReconnectAttempts {
			c.logger.Error("exceeded reconnect attempt budget, giving up", "attempts", attempt)
			c.done.Close()
			return
		}

		select {
		case <-c.done.Done():
			return
		case <-time.After(backoff):
		}

		if err := c.dialAndHandshake(context.Background()); err != nil {
			c.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
			backoff *= 2
			if backoff > c.cfg.MaxReconnectDelay {
				backoff = c.cfg.MaxReconnectDelay
			}
			continue
		}

		c.reconnects.Add(1)
		c.wg.Add(1)
		go c.receiveLoop()
		return
	}
}

func (c *Connection) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// Write sends a raw line (including trailing newline, if the caller
// included one) to C-Gate. Returns ErrNotConnected if the socket is down.
func (c *Connection) Write(line string) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	if conn == nil || !c.connected.Load() {
		return ErrNotConnected
	}

	if _, err := conn.Write([]byte(line)); err != nil {
		return fmt.Errorf("%w: write: %w", ErrConnectionFailed, err)
	}
	c.linesSent.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// IsConnected reports whether the socket is currently established.
func (c *Connection) IsConnected() bool {
	return c.connected.Load()
}

// LastActivity returns the time of the most recent send or receive.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(c.lastActivity.Load(), 0)
}

// ConnectionStats is a point-in-time snapshot of one connection's traffic
// counters, grounded on the teacher's KNXDStats.
type ConnectionStats struct {
	LinesSent     int64
	LinesReceived int64
	Reconnects    int32
	Connected     bool
	LastActivity  time.Time
}

// Stats returns a snapshot of this connection's counters.
func (c *Connection) Stats() ConnectionStats {
	return ConnectionStats{
		LinesSent:     c.linesSent.Load(),
		LinesReceived: c.linesReceived.Load(),
		Reconnects:    c.reconnects.Load(),
		Connected:     c.connected.Load(),
		LastActivity:  c.LastActivity(),
	}
}

// Disconnect explicitly closes the connection and cancels any pending
// backoff or reconnect attempt. It is terminal: Start must be called
// again (on a new Connection) to reuse this endpoint.
func (c *Connection) Disconnect() {
	c.done.Close()
	c.handleSocketClosed(false)
	c.wg.Wait()
}
