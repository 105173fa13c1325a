package service

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yndnr/querydeck-go/internal/core/domain"
	"github.com/yndnr/querydeck-go/internal/gateway"
	"github.com/yndnr/querydeck-go/internal/livechannel"
	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
	"github.com/yndnr/querydeck-go/internal/telemetry/metric"
)

// DefaultStreamInterval is the period of real_time_data messages.
const DefaultStreamInterval = 2 * time.Second

const (
	msgStreamStarted = "Real-time data streaming started"
	msgStreamStopped = "Real-time data streaming stopped"
	msgQueryRejected = "Database not connected or invalid query"
)

// QueryRunner executes queries for execute_query commands.
type QueryRunner interface {
	Query(ctx context.Context, q string) (*gateway.QueryResult, error)
}

// Sampler produces one real-time data sample.
type Sampler func(now time.Time) livechannel.Metrics

// StreamHub serves live channel clients.
type StreamHub struct {
	queries  QueryRunner
	interval time.Duration
	sample   Sampler
	now      func() time.Time
	logger   logger.Logger
	metrics  *metric.Registry

	mu      sync.Mutex
	clients map[*streamClient]struct{}
}

// StreamOption configures a StreamHub.
type StreamOption func(*StreamHub)

// WithInterval sets the stream period.
func WithInterval(d time.Duration) StreamOption {
	return func(h *StreamHub) {
		if d > 0 {
			h.interval = d
		}
	}
}

// WithSampler replaces the sample source.
func WithSampler(s Sampler) StreamOption {
	return func(h *StreamHub) {
		if s != nil {
			h.sample = s
		}
	}
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) StreamOption {
	return func(h *StreamHub) { h.now = now }
}

// WithStreamLogger sets the hub logger.
func WithStreamLogger(l logger.Logger) StreamOption {
	return func(h *StreamHub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithStreamMetrics sets the metrics registry.
func WithStreamMetrics(m *metric.Registry) StreamOption {
	return func(h *StreamHub) { h.metrics = m }
}

// NewStreamHub creates a hub answering queries with q.
func NewStreamHub(q QueryRunner, opts ...StreamOption) *StreamHub {
	h := &StreamHub{
		queries:  q,
		interval: DefaultStreamInterval,
		sample:   SyntheticSample,
		now:      time.Now,
		logger:   logger.Default(),
		clients:  make(map[*streamClient]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "stream")
	return h
}

// SyntheticSample generates plausible activity figures.
func SyntheticSample(time.Time) livechannel.Metrics {
	return livechannel.Metrics{
		ActiveUsers:  45 + rand.IntN(20),
		Transactions: 12 + rand.IntN(8),
		Revenue:      float64(1500 + rand.IntN(500)),
		CPUUsage:     float64(30 + rand.IntN(40)),
		MemoryUsage:  float64(60 + rand.IntN(30)),
	}
}

// Clients returns the number of connected clients.
func (h *StreamHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

type streamClient struct {
	conn livechannel.Conn

	writeMu sync.Mutex

	streamMu   sync.Mutex
	stopStream context.CancelFunc
}

// Serve runs the command loop for conn until the client goes away or ctx
// ends. The connection is closed on return.
func (h *StreamHub) Serve(ctx context.Context, conn livechannel.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := &streamClient{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.AddStreamClients(1)
	h.logger.Info("stream client connected", "clients", n)

	defer func() {
		h.stop(c)
		h.mu.Lock()
		delete(h.clients, c)
		n := len(h.clients)
		h.mu.Unlock()
		h.metrics.AddStreamClients(-1)
		conn.Close()
		h.logger.Info("stream client disconnected", "clients", n)
	}()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if err := h.handle(ctx, c, data); err != nil {
			return err
		}
	}
}

func (h *StreamHub) handle(ctx context.Context, c *streamClient, data []byte) error {
	cmd, err := livechannel.DecodeCommand(data)
	if err != nil {
		return h.writeText(c, "Echo: "+string(data))
	}
	h.metrics.ObserveMessage("in", string(cmd.Type))

	switch cmd.Type {
	case livechannel.CommandStartStream:
		h.start(ctx, c)
		return h.send(c, livechannel.StreamStarted{Message: msgStreamStarted})

	case livechannel.CommandStopStream:
		h.stop(c)
		return h.send(c, livechannel.StreamStopped{Message: msgStreamStopped})

	case livechannel.CommandExecuteQuery:
		return h.send(c, h.query(ctx, cmd.Query))

	case livechannel.CommandPing:
		return h.send(c, livechannel.Pong{Timestamp: h.timestamp()})

	default:
		return h.send(c, livechannel.Echo{OriginalMessage: append(json.RawMessage(nil), data...)})
	}
}

func (h *StreamHub) query(ctx context.Context, q string) livechannel.Message {
	if q == "" || h.queries == nil {
		return livechannel.ErrorMessage{Message: msgQueryRejected}
	}
	res, err := h.queries.Query(ctx, q)
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveConnection) {
			return livechannel.ErrorMessage{Message: msgQueryRejected}
		}
		msg := err.Error()
		var de *domain.DomainError
		if errors.As(err, &de) && de.Details != "" {
			msg = de.Details
		}
		return livechannel.ErrorMessage{Message: msg}
	}
	body, err := json.Marshal(res)
	if err != nil {
		return livechannel.ErrorMessage{Message: err.Error()}
	}
	return livechannel.QueryResult{Timestamp: h.timestamp(), Result: body}
}

// start replaces any running stream for c.
func (h *StreamHub) start(ctx context.Context, c *streamClient) {
	sctx, cancel := context.WithCancel(ctx)

	c.streamMu.Lock()
	if c.stopStream != nil {
		c.stopStream()
	}
	c.stopStream = cancel
	c.streamMu.Unlock()

	go h.stream(sctx, c)
	h.logger.Debug("started real-time data streaming")
}

func (h *StreamHub) stop(c *streamClient) {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	if c.stopStream != nil {
		c.stopStream()
		c.stopStream = nil
		h.logger.Debug("stopped real-time data streaming")
	}
}

func (h *StreamHub) stream(ctx context.Context, c *streamClient) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		now := h.now()
		msg := livechannel.RealTimeData{Timestamp: now.Format(time.RFC3339Nano), Data: h.sample(now)}
		if err := h.send(c, msg); err != nil {
			h.logger.Debug("stream write failed", "error", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *StreamHub) send(c *streamClient, m livechannel.Message) error {
	data, err := livechannel.Encode(m)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	h.metrics.ObserveMessage("out", string(m.Type()))
	return nil
}

func (h *StreamHub) writeText(c *streamClient, s string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(s))
}

func (h *StreamHub) timestamp() string {
	return h.now().Format(time.RFC3339Nano)
}
