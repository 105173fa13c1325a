package livechannel

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yndnr/querydeck-go/internal/core/domain"
	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
	"github.com/yndnr/querydeck-go/internal/telemetry/metric"
)

const (
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectInterval    = 3 * time.Second
	DefaultDialTimeout          = 10 * time.Second
)

// Topic names a subscription: a lifecycle event, or a message type via
// MessageType.Topic.
type Topic string

const (
	TopicConnected    Topic = "connected"
	TopicDisconnected Topic = "disconnected"
	TopicMessage      Topic = "message"
	TopicError        Topic = "error"
	TopicMaxReconnect Topic = "max_reconnect_attempts_reached"
)

// Event is delivered to subscribers.
type Event struct {
	Topic Topic
	// Message is set for TopicMessage and per-type topics.
	Message Message
	// Err is set for TopicError and TopicMaxReconnect.
	Err error
	// Attempt is the reconnect attempt that produced the event, zero otherwise.
	Attempt int
}

// Handler receives events. Panics are recovered per handler.
type Handler func(Event)

// Subscription identifies a registered handler for Off.
type Subscription struct {
	topic Topic
	id    uint64
}

// Config tunes reconnection.
type Config struct {
	URL                  string        `koanf:"url"`
	MaxReconnectAttempts int           `koanf:"max_reconnect_attempts"`
	ReconnectInterval    time.Duration `koanf:"reconnect_interval"`
	DialTimeout          time.Duration `koanf:"dial_timeout"`
}

// DefaultConfig returns the standard policy for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:                  url,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		ReconnectInterval:    DefaultReconnectInterval,
		DialTimeout:          DefaultDialTimeout,
	}
}

// Option configures a Channel.
type Option func(*Channel)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

// WithHeader sets headers sent on every dial.
func WithHeader(h http.Header) Option {
	return func(c *Channel) { c.header = h.Clone() }
}

// WithLogger sets the channel logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Channel) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records channel metrics to m.
func WithMetrics(m *metric.Registry) Option {
	return func(c *Channel) { c.metrics = m }
}

type subscriber struct {
	id uint64
	fn Handler
}

// Channel is a reconnecting message channel. Safe for concurrent use.
type Channel struct {
	cfg     Config
	dialer  Dialer
	header  http.Header
	logger  logger.Logger
	metrics *metric.Registry

	mu         sync.Mutex
	conn       Conn
	generation uint64
	remaining  int
	attempt    int
	timer      *time.Timer

	writeMu sync.Mutex

	subMu  sync.RWMutex
	subs   map[Topic][]subscriber
	nextID uint64
}

// New builds a closed channel.
func New(cfg Config, opts ...Option) *Channel {
	if cfg.MaxReconnectAttempts < 0 {
		cfg.MaxReconnectAttempts = 0
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	c := &Channel{
		cfg:    cfg,
		dialer: WebSocketDialer{HandshakeTimeout: cfg.DialTimeout},
		logger: logger.Default(),
		subs:   make(map[Topic][]subscriber),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "livechannel")
	return c
}

// IsOpen reports whether a connection is established.
func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Open dials the gateway and emits TopicConnected. It is a no-op when
// already open. Open restores the full reconnect budget.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.stopTimerLocked()
	c.generation++
	gen := c.generation
	c.remaining = c.cfg.MaxReconnectAttempts
	c.attempt = 0
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, err := c.dialer.Dial(dialCtx, c.cfg.URL, c.header)
	cancel()
	if err != nil {
		c.logger.Warn("live channel open failed", "url", c.cfg.URL, "error", err)
		c.emit(Event{Topic: TopicError, Err: err})
		return err
	}

	if !c.install(gen, conn) {
		// Closed or reopened while dialing.
		conn.Close()
		return domain.ErrChannelClosed
	}
	c.logger.Info("live channel open", "url", c.cfg.URL)
	c.emit(Event{Topic: TopicConnected})
	return nil
}

// install makes conn current if gen is still current and restores the
// reconnect budget.
func (c *Channel) install(gen uint64, conn Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.conn != nil {
		return false
	}
	c.conn = conn
	c.remaining = c.cfg.MaxReconnectAttempts
	c.attempt = 0
	c.metrics.SetChannelOpen(true)
	go c.readLoop(gen, conn)
	return true
}

// Close shuts the connection and cancels any pending reconnect. No
// reconnect fires afterwards until Open.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.remaining = 0
	c.generation++
	c.stopTimerLocked()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	c.metrics.SetChannelOpen(false)

	c.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	err := conn.Close()

	c.logger.Info("live channel closed")
	c.emit(Event{Topic: TopicDisconnected})
	return err
}

// Send transmits cmd. It fails with ErrChannelClosed when the channel is
// not open; nothing is queued.
func (c *Channel) Send(ctx context.Context, cmd Command) error {
	if !cmd.Valid() {
		return domain.ErrBadRequest.WithDetails("unknown or incomplete command " + string(cmd.Type))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		c.logger.Warn("send on closed live channel", "command", cmd.Type)
		return domain.ErrChannelClosed.WithDetails(string(cmd.Type))
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return domain.ErrInternal.WithCause(err)
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Warn("live channel write failed", "command", cmd.Type, "error", err)
		return domain.ErrChannelClosed.WithCause(err)
	}
	c.metrics.ObserveMessage("out", string(cmd.Type))
	return nil
}

// On registers h for topic.
func (c *Channel) On(topic Topic, h Handler) Subscription {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.nextID++
	c.subs[topic] = append(c.subs[topic], subscriber{id: c.nextID, fn: h})
	return Subscription{topic: topic, id: c.nextID}
}

// Off removes a handler registered with On.
func (c *Channel) Off(s Subscription) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	list := c.subs[s.topic]
	for i, sub := range list {
		if sub.id == s.id {
			c.subs[s.topic] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

func (c *Channel) readLoop(gen uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.connectionLost(gen, conn, err)
			return
		}
		msg, err := Decode(data)
		if err != nil {
			c.logger.Warn("undecodable live channel frame", "error", err)
			c.emit(Event{Topic: TopicError, Err: err})
			continue
		}
		c.metrics.ObserveMessage("in", string(msg.Type()))
		c.dispatch(msg)
	}
}

// dispatch delivers to generic subscribers, then per-type subscribers.
func (c *Channel) dispatch(msg Message) {
	c.emit(Event{Topic: TopicMessage, Message: msg})
	if t := msg.Type().Topic(); t != "" {
		c.emit(Event{Topic: t, Message: msg})
	}
}

func (c *Channel) connectionLost(gen uint64, conn Conn, cause error) {
	c.mu.Lock()
	if gen != c.generation || c.conn != conn {
		// Intentional close or a replaced connection.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	conn.Close()
	c.metrics.SetChannelOpen(false)
	c.mu.Unlock()

	if websocket.IsCloseError(cause, websocket.CloseNormalClosure) {
		c.logger.Info("live channel closed by gateway")
	} else {
		c.logger.Warn("live channel lost", "error", cause)
	}
	c.emit(Event{Topic: TopicDisconnected, Err: cause})
	c.scheduleReconnect(gen)
}

// scheduleReconnect arms the next attempt, or emits exhaustion.
func (c *Channel) scheduleReconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	if c.remaining <= 0 {
		attempts := c.attempt
		c.mu.Unlock()
		c.logger.Error("live channel reconnect budget exhausted", "attempts", attempts)
		c.emit(Event{Topic: TopicMaxReconnect, Err: domain.ErrMaxReconnectAttemptsReached, Attempt: attempts})
		return
	}
	c.remaining--
	c.attempt++
	attempt := c.attempt
	c.timer = time.AfterFunc(c.cfg.ReconnectInterval, func() { c.reconnect(gen, attempt) })
	c.mu.Unlock()

	c.logger.Info("live channel reconnect scheduled", "attempt", attempt, "in", c.cfg.ReconnectInterval)
}

func (c *Channel) reconnect(gen uint64, attempt int) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	conn, err := c.dialer.Dial(ctx, c.cfg.URL, c.header)
	cancel()
	c.metrics.ObserveReconnect(err)
	if err != nil {
		c.logger.Warn("live channel reconnect failed", "attempt", attempt, "error", err)
		c.emit(Event{Topic: TopicError, Err: err, Attempt: attempt})
		c.scheduleReconnect(gen)
		return
	}

	if !c.install(gen, conn) {
		conn.Close()
		return
	}

	c.logger.Info("live channel reconnected", "attempt", attempt)
	c.emit(Event{Topic: TopicConnected, Attempt: attempt})
}

func (c *Channel) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Channel) emit(ev Event) {
	c.subMu.RLock()
	list := append([]subscriber(nil), c.subs[ev.Topic]...)
	c.subMu.RUnlock()

	for _, s := range list {
		c.call(s.fn, ev)
	}
}

func (c *Channel) call(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("live channel subscriber panicked", "topic", ev.Topic, "panic", r)
		}
	}()
	h(ev)
}

