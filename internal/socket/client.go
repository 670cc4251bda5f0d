// Package socket implements the WebSocket transport to a repowiki backend.
//
// A Client owns one logical connection: it dials, heartbeats, reconnects
// with exponential backoff, queues outbound messages while disconnected,
// discards duplicate inbound messages, and routes everything else to the
// registered handler table. Transport failures never surface as returned
// errors from send paths; they are absorbed into the connection state
// machine and reported through the OnError and OnDisconnect handlers.
// Connect is the only operation that reports failure to its caller.
package socket

import (
	"context"
	"crypto/tls"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "github.com/repowiki/console/internal/errors"
	"github.com/repowiki/console/internal/metrics"
	"github.com/repowiki/console/internal/protocol"
)

const (
	// writeWait is the deadline for a single write to the connection.
	writeWait = 10 * time.Second

	// maxFrameBytes bounds inbound frame size. Research conclusions can
	// run long, so the limit is generous.
	maxFrameBytes = 1 << 20

	defaultConnectTimeout    = 10 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
	defaultReconnectBase     = time.Second
	defaultReconnectCap      = 30 * time.Second
	defaultReconnectAttempts = 5
	defaultDedupCapacity     = 512
	defaultSentTTL           = 5 * time.Minute
	defaultSentSweep         = time.Minute
)

// Config carries the transport settings for a Client.
// Zero-valued fields fall back to the defaults above.
type Config struct {
	// Endpoint is the backend WebSocket URL (ws:// or wss://).
	Endpoint string

	// ConnectTimeout bounds a single dial, including the handshake.
	ConnectTimeout time.Duration

	// HeartbeatInterval is the ping cadence. The connection is declared
	// dead when no pong has arrived within twice this interval.
	HeartbeatInterval time.Duration

	// ReconnectBase is the delay before the first reconnect attempt.
	// Attempt n waits base * 2^(n-1), capped at ReconnectCap.
	ReconnectBase time.Duration

	// ReconnectCap is the upper bound on the reconnect delay.
	ReconnectCap time.Duration

	// ReconnectMaxAttempts is how many automatic reconnect attempts are
	// made before giving up. A fresh Connect resets the counter.
	ReconnectMaxAttempts int

	// QueueCapacity bounds the outbound queue. When full, the oldest
	// queued message is dropped.
	QueueCapacity int

	// DedupCapacity bounds the inbound duplicate-detection window.
	DedupCapacity int

	// SentTTL is how long sent-message records are retained.
	SentTTL time.Duration

	// SentSweep is how often expired sent-message records are purged.
	SentSweep time.Duration

	// SendRate limits outbound messages per second. Zero disables the
	// limiter. Heartbeat pings count against the limit.
	SendRate float64

	// SendBurst is the burst size for the send limiter.
	SendBurst int

	// TLS is the TLS configuration for wss endpoints. Nil uses the
	// system defaults.
	TLS *tls.Config
}

func (cfg *Config) applyDefaults() {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = defaultReconnectBase
	}
	if cfg.ReconnectCap <= 0 {
		cfg.ReconnectCap = defaultReconnectCap
	}
	if cfg.ReconnectMaxAttempts <= 0 {
		cfg.ReconnectMaxAttempts = defaultReconnectAttempts
	}
	if cfg.DedupCapacity <= 0 {
		cfg.DedupCapacity = defaultDedupCapacity
	}
	if cfg.SentTTL <= 0 {
		cfg.SentTTL = defaultSentTTL
	}
	if cfg.SentSweep <= 0 {
		cfg.SentSweep = defaultSentSweep
	}
	if cfg.SendBurst <= 0 {
		cfg.SendBurst = 1
	}
}

// Client is a WebSocket client for a repowiki backend.
//
// All methods are safe for concurrent use. The zero value is not usable;
// create clients with New.
type Client struct {
	cfg      Config
	log      *zap.Logger
	endpoint *url.URL

	hmu      sync.RWMutex
	handlers Handlers

	// queue and wake outlive individual connections: messages queued
	// while disconnected are flushed by the next connection's writer.
	queue *sendQueue
	wake  chan struct{}

	// seen and sent persist across reconnects within this client.
	seen       *lru.Cache[string, struct{}]
	sent       *gocache.Cache
	dupDropped atomic.Uint64

	limiter *rate.Limiter

	// mu guards the connection state machine below.
	mu             sync.Mutex
	phase          phase
	gen            int
	conn           *websocket.Conn
	connCancel     context.CancelFunc
	attempts       int
	exhausted      bool
	lastConnected  time.Time
	lastErr        error
	lastPong       time.Time
	backoff        *backoff.ExponentialBackOff
	reconnectTimer *time.Timer
}

// New creates a client for the configured endpoint. The client starts
// disconnected; call Connect to open the connection.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, apperrors.InvalidEndpoint(cfg.Endpoint, err.Error())
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, apperrors.InvalidEndpoint(cfg.Endpoint, "scheme must be ws or wss")
	}
	if u.Host == "" {
		return nil, apperrors.InvalidEndpoint(cfg.Endpoint, "missing host")
	}

	seen, err := lru.New[string, struct{}](cfg.DedupCapacity)
	if err != nil {
		return nil, apperrors.Internal("failed to create dedup cache", err)
	}

	c := &Client{
		cfg:      cfg,
		log:      logger.Named("socket"),
		endpoint: u,
		queue:    newSendQueue(cfg.QueueCapacity),
		wake:     make(chan struct{}, 1),
		seen:     seen,
		sent:     gocache.New(cfg.SentTTL, cfg.SentSweep),
		backoff:  newReconnectBackoff(cfg.ReconnectBase, cfg.ReconnectCap),
	}
	if cfg.SendRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendBurst)
	}
	return c, nil
}

// newReconnectBackoff builds the reconnect delay schedule: attempt n waits
// base * 2^(n-1), capped. Randomization is disabled so the schedule is
// exact and testable.
func newReconnectBackoff(base, cap time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = cap
	b.Reset()
	return b
}

// Endpoint returns the configured endpoint URL.
func (c *Client) Endpoint() string { return c.endpoint.String() }

// Connect opens the connection. It is idempotent when already connected
// and fails fast with socket.connect_in_progress when another attempt is
// in flight. A successful Connect resets the reconnect attempt counter;
// calling it while a reconnect is merely scheduled cancels the pending
// timer and dials immediately.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.phase {
	case phaseOpen:
		c.mu.Unlock()
		return nil
	case phaseConnecting:
		c.mu.Unlock()
		return apperrors.ConnectInProgress()
	case phaseReconnecting:
		// Take over the pending automatic retry.
		if c.reconnectTimer != nil {
			c.reconnectTimer.Stop()
			c.reconnectTimer = nil
		}
	}
	c.phase = phaseConnecting
	c.attempts = 0
	c.exhausted = false
	c.lastErr = nil
	c.backoff.Reset()
	gen := c.gen
	c.mu.Unlock()

	c.log.Info("connecting", zap.String("endpoint", c.cfg.Endpoint))
	conn, err := c.dial(ctx)

	c.mu.Lock()
	if c.gen != gen || c.phase != phaseConnecting {
		// Disconnect raced with the dial.
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return apperrors.SocketClosed()
	}
	if err != nil {
		c.phase = phaseIdle
		c.lastErr = err
		c.mu.Unlock()
		return err
	}
	c.adoptConnLocked(conn)
	c.mu.Unlock()

	c.log.Info("connected", zap.String("endpoint", c.cfg.Endpoint))
	c.callOnConnect()
	return nil
}

// Disconnect deliberately closes the connection: it cancels any pending
// reconnect timer, sends a close frame, resets the attempt counter, and
// suppresses automatic reconnection until the next Connect. Queued unsent
// messages are preserved. Safe to call in any state.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	wasOpen := c.phase == phaseOpen
	if c.connCancel != nil {
		// The writer sends the close frame and closes the socket.
		c.connCancel()
		c.connCancel = nil
	}
	c.conn = nil
	c.phase = phaseIdle
	c.attempts = 0
	c.exhausted = false
	c.lastErr = nil
	c.backoff.Reset()
	c.mu.Unlock()

	if wasOpen {
		metrics.ConnectionState.Set(0)
		c.log.Info("disconnected")
		c.callOnDisconnect(nil)
	}
}

// Send transmits a message, queueing it if the connection is not open.
// The message is stamped with a timestamp if it lacks one. When the client
// is fully disconnected (no dial in flight, no retry pending), Send also
// kicks off a connection attempt in the background.
func (c *Client) Send(msg protocol.Message) {
	protocol.Stamp(msg)

	if c.queue.Push(msg) {
		metrics.QueueDrops.Inc()
		c.log.Warn("outbound queue full, dropped oldest message",
			zap.Int("capacity", c.queue.cap))
	}
	metrics.QueueDepth.Set(float64(c.queue.Len()))
	c.wakeWriter()

	c.mu.Lock()
	idle := c.phase == phaseIdle
	c.mu.Unlock()
	if idle {
		go func() {
			if err := c.Connect(context.Background()); err != nil {
				c.log.Debug("send-triggered connect failed", zap.Error(err))
			}
		}()
	}
}

// SendChat sends a chat question and returns the generated message id.
func (c *Client) SendChat(repositoryID, question, context string) string {
	msg := protocol.NewChat(repositoryID, question, context)
	c.Send(msg)
	return msg.MessageID()
}

// SendWikiGenerate sends a wiki generation request and returns the
// generated message id.
func (c *Client) SendWikiGenerate(repositoryID string, cfg protocol.WikiConfig) string {
	msg := protocol.NewWikiGenerate(repositoryID, cfg)
	c.Send(msg)
	return msg.MessageID()
}

// IsConnected reports whether the physical connection is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == phaseOpen
}

// State returns a snapshot of the connection state machine.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := State{
		ReconnectAttempts: c.attempts,
		LastConnected:     c.lastConnected,
	}
	switch c.phase {
	case phaseOpen:
		st.Status = StatusConnected
	case phaseConnecting, phaseReconnecting:
		st.Status = StatusConnecting
	case phaseIdle:
		if c.exhausted || c.lastErr != nil {
			st.Status = StatusError
		} else {
			st.Status = StatusDisconnected
		}
	}
	if c.lastErr != nil {
		st.Err = c.lastErr.Error()
	}
	return st
}

// dial performs one connection attempt.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.ConnectTimeout,
		TLSClientConfig:  c.cfg.TLS,
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, c.endpoint.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if dialCtx.Err() == context.DeadlineExceeded {
			return nil, apperrors.ConnectTimeout(c.cfg.Endpoint)
		}
		return nil, apperrors.ConnectFailed(c.cfg.Endpoint, err)
	}
	conn.SetReadLimit(maxFrameBytes)
	return conn, nil
}

// adoptConnLocked installs a freshly dialed connection and starts its
// pumps. Caller holds c.mu.
func (c *Client) adoptConnLocked(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	c.conn = conn
	c.connCancel = cancel
	c.phase = phaseOpen
	c.attempts = 0
	c.exhausted = false
	c.lastErr = nil
	c.lastConnected = time.Now()
	c.lastPong = time.Now()
	c.backoff.Reset()
	metrics.ConnectionState.Set(1)

	gen := c.gen
	go c.readPump(conn, gen)
	go c.writePump(ctx, conn, gen)

	// Flush anything queued while disconnected.
	c.wakeWriter()
}

// readPump reads frames until the connection dies, then runs teardown.
// One readPump runs per physical connection.
func (c *Client) readPump(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.teardown(gen, err)
			return
		}
		metrics.MessagesTotal.WithLabelValues("inbound").Inc()
		c.handleFrame(data)
	}
}

// handleFrame parses one inbound frame and routes it. Malformed frames are
// dropped without affecting the connection; pongs refresh the heartbeat
// clock; duplicate ids are discarded before dispatch.
func (c *Client) handleFrame(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeProtocolUnknownType) {
			c.log.Debug("ignoring unknown message type", zap.Error(err))
			return
		}
		metrics.MalformedFrames.Inc()
		c.log.Warn("dropping malformed frame",
			zap.Int("bytes", len(data)), zap.Error(err))
		return
	}

	if _, ok := msg.(*protocol.Pong); ok {
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
		return
	}

	if c.markSeen(msg.MessageID()) {
		c.log.Debug("dropping duplicate message",
			zap.String("id", msg.MessageID()),
			zap.String("type", string(msg.MessageType())))
		return
	}

	c.dispatch(msg)
}

// writePump owns all writes to the connection: queued messages, heartbeat
// pings, and the final close frame. It also watches pong freshness, since
// the heartbeat tick is the natural place to notice a silent peer.
func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, gen int) {
	interval := c.cfg.HeartbeatInterval
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		// A deliberate close outranks pending work.
		select {
		case <-ctx.Done():
			c.sendClose(conn)
			return
		default:
		}

		if msg, ok := c.queue.Pop(); ok {
			metrics.QueueDepth.Set(float64(c.queue.Len()))
			if err := c.writeMessage(ctx, conn, msg); err != nil {
				if ctx.Err() != nil {
					c.sendClose(conn)
				} else {
					c.teardown(gen, err)
				}
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			c.sendClose(conn)
			return
		case <-c.wake:
		case <-ticker.C:
			if c.pongStale(interval) {
				metrics.HeartbeatTimeouts.Inc()
				c.log.Warn("heartbeat timeout, closing connection",
					zap.Duration("interval", interval))
				c.teardown(gen, apperrors.HeartbeatTimeout(interval))
				return
			}
			if err := c.writeMessage(ctx, conn, protocol.NewPing()); err != nil {
				if ctx.Err() != nil {
					c.sendClose(conn)
				} else {
					c.teardown(gen, err)
				}
				return
			}
		}
	}
}

// writeMessage serializes and writes one message, honoring the send rate
// limit. Encoding failures are logged and swallowed; only transport
// failures are returned.
func (c *Client) writeMessage(ctx context.Context, conn *websocket.Conn, msg protocol.Message) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		c.log.Error("failed to encode outbound message",
			zap.String("type", string(msg.MessageType())), zap.Error(err))
		return nil
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return apperrors.Wrap(apperrors.CodeSocketSendFailed, "write failed", err)
	}
	metrics.MessagesTotal.WithLabelValues("outbound").Inc()
	c.recordSent(msg)
	return nil
}

func (c *Client) sendClose(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (c *Client) pongStale(interval time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastPong) > 2*interval
}

func (c *Client) wakeWriter() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// teardown handles the death of an open connection. Both pumps call it;
// the generation and phase checks make the second call a no-op, and also
// neutralize calls from pumps of a connection that Disconnect already
// dismantled. A normal-closure frame from the backend counts as a clean
// shutdown; everything else schedules a reconnect.
func (c *Client) teardown(gen int, err error) {
	c.mu.Lock()
	if c.gen != gen || c.phase != phaseOpen {
		c.mu.Unlock()
		return
	}
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
	c.conn = nil
	metrics.ConnectionState.Set(0)

	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		c.phase = phaseIdle
		c.lastErr = nil
		c.mu.Unlock()
		c.log.Info("connection closed by backend")
		c.callOnDisconnect(nil)
		return
	}

	c.lastErr = err
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	c.log.Warn("connection lost", zap.Error(err))
	c.callOnDisconnect(err)
	c.callOnError(err)
}

// scheduleReconnectLocked arms the next reconnect timer, or gives up once
// the attempts are exhausted. Caller holds c.mu.
func (c *Client) scheduleReconnectLocked() {
	if c.attempts >= c.cfg.ReconnectMaxAttempts {
		c.phase = phaseIdle
		c.exhausted = true
		c.log.Warn("reconnect attempts exhausted",
			zap.Int("max_attempts", c.cfg.ReconnectMaxAttempts))
		return
	}

	c.attempts++
	delay := c.backoff.NextBackOff()
	c.phase = phaseReconnecting
	metrics.Reconnects.Inc()
	c.log.Info("scheduling reconnect",
		zap.Int("attempt", c.attempts), zap.Duration("delay", delay))

	gen := c.gen
	c.reconnectTimer = time.AfterFunc(delay, func() { c.redial(gen) })
}

// redial is the body of the reconnect timer: one background dial attempt.
// Failure schedules the next attempt; success re-enters the open phase.
func (c *Client) redial(gen int) {
	c.mu.Lock()
	if c.gen != gen || c.phase != phaseReconnecting {
		// Disconnect or an explicit Connect got here first.
		c.mu.Unlock()
		return
	}
	c.phase = phaseConnecting
	c.reconnectTimer = nil
	c.mu.Unlock()

	conn, err := c.dial(context.Background())

	c.mu.Lock()
	if c.gen != gen || c.phase != phaseConnecting {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.lastErr = err
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		c.callOnError(err)
		return
	}
	c.adoptConnLocked(conn)
	c.mu.Unlock()

	c.log.Info("reconnected", zap.String("endpoint", c.cfg.Endpoint))
	c.callOnConnect()
}
