package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/yndnr/querydeck-go/internal/core/audit"
	"github.com/yndnr/querydeck-go/internal/core/domain"
	"github.com/yndnr/querydeck-go/internal/driver"
	"github.com/yndnr/querydeck-go/internal/gateway"
	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
	"github.com/yndnr/querydeck-go/internal/telemetry/metric"
)

// Opener opens driver sessions. driver.Set implements it.
type Opener interface {
	Open(ctx context.Context, t driver.Target) (driver.Session, error)
}

// DatabaseService holds the gateway's current database session. A new
// connect replaces the previous session.
type DatabaseService struct {
	opener  Opener
	logger  logger.Logger
	metrics *metric.Registry

	// connectMu serializes connects so Open runs outside mu.
	connectMu sync.Mutex

	mu  sync.RWMutex
	cur *dbSession
}

type dbSession struct {
	kind        domain.Kind
	endpoint    domain.Endpoint
	session     driver.Session
	connectedAt time.Time
}

// ServiceOption configures a service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	logger  logger.Logger
	metrics *metric.Registry
	trail   *audit.Trail
}

// WithLogger sets the service logger.
func WithLogger(l logger.Logger) ServiceOption {
	return func(o *serviceOptions) { o.logger = l }
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metric.Registry) ServiceOption {
	return func(o *serviceOptions) { o.metrics = m }
}

// WithAudit persists credential operations to t.
func WithAudit(t *audit.Trail) ServiceOption {
	return func(o *serviceOptions) { o.trail = t }
}

func buildServiceOptions(opts []ServiceOption) serviceOptions {
	o := serviceOptions{logger: logger.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Discard()
	}
	return o
}

// NewDatabaseService creates a DatabaseService.
func NewDatabaseService(opener Opener, opts ...ServiceOption) *DatabaseService {
	o := buildServiceOptions(opts)
	return &DatabaseService{
		opener:  opener,
		logger:  o.logger.With("component", "database"),
		metrics: o.metrics,
	}
}

// Connect opens a session to the requested database.
func (s *DatabaseService) Connect(ctx context.Context, req gateway.ConnectRequest) (*gateway.ConnectResult, error) {
	target, err := targetFromRequest(req)
	if err != nil {
		return nil, err
	}

	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	start := time.Now()
	sess, err := s.opener.Open(ctx, target)
	s.metrics.ObserveConnect(string(target.Kind), start, err)
	if err != nil {
		s.logger.Warn("database connection failed",
			"kind", target.Kind, "host", target.Endpoint.Host, "database", target.Endpoint.Database, "error", err)
		return nil, domain.ErrRemoteConnectFailed.
			WithDetails("Database connection failed: " + err.Error()).
			WithCause(err)
	}

	next := &dbSession{
		kind:        target.Kind,
		endpoint:    target.Endpoint,
		session:     sess,
		connectedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	prev := s.cur
	s.cur = next
	s.mu.Unlock()

	if prev != nil {
		s.closeSession(prev)
	}

	s.logger.Info("database connected",
		"kind", target.Kind, "host", target.Endpoint.Host, "database", target.Endpoint.Database)
	return &gateway.ConnectResult{
		Status:         "success",
		Message:        "Successfully connected to database",
		ConnectionInfo: sess.Info(),
	}, nil
}

func targetFromRequest(req gateway.ConnectRequest) (driver.Target, error) {
	kind, ok := domain.ParseKind(string(req.Kind))
	if !ok {
		if req.Kind == "" {
			kind = domain.KindPostgreSQL
		} else {
			return driver.Target{}, domain.ErrBadRequest.WithDetails("unsupported db_type " + string(req.Kind))
		}
	}
	p := domain.Profile{
		Kind: kind,
		Endpoint: domain.Endpoint{
			Host:     strings.TrimSpace(req.Host),
			Port:     req.Port,
			Database: strings.TrimSpace(req.Database),
			Username: req.Username,
		},
	}
	if err := p.Validate(); err != nil {
		var de *domain.DomainError
		if errors.As(err, &de) {
			return driver.Target{}, domain.ErrBadRequest.WithDetails(de.Details)
		}
		return driver.Target{}, domain.ErrBadRequest.WithCause(err)
	}
	return driver.Target{
		Kind:     kind,
		Endpoint: p.Endpoint,
		Secret:   domain.Secret{Username: req.Username, Password: req.Password},
	}, nil
}

// Disconnect closes the current session. It succeeds when none is open.
func (s *DatabaseService) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	prev := s.cur
	s.cur = nil
	s.mu.Unlock()

	if prev != nil {
		s.closeSession(prev)
		s.logger.Info("database disconnected", "kind", prev.kind, "database", prev.endpoint.Database)
	}
	return nil
}

// Status reports the current session.
func (s *DatabaseService) Status() gateway.StatusResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cur == nil {
		return gateway.StatusResult{Status: string(domain.StatusDisconnected)}
	}
	at := s.cur.connectedAt
	return gateway.StatusResult{
		Connected:   true,
		Status:      string(domain.StatusConnected),
		Kind:        s.cur.kind,
		Database:    s.cur.endpoint.Database,
		ConnectedAt: &at,
	}
}

// Schema lists tables of the connected database.
func (s *DatabaseService) Schema(ctx context.Context) ([]gateway.Table, error) {
	cur, err := s.current()
	if err != nil {
		return nil, err
	}
	tables, err := cur.session.Schema(ctx)
	if err != nil {
		return nil, domain.ErrInternal.WithDetails("Failed to get database schema: " + err.Error()).WithCause(err)
	}
	return tables, nil
}

// Query runs q on the connected database.
func (s *DatabaseService) Query(ctx context.Context, q string) (*gateway.QueryResult, error) {
	if strings.TrimSpace(q) == "" {
		return nil, domain.ErrBadRequest.WithDetails("query is empty")
	}
	cur, err := s.current()
	if err != nil {
		return nil, err
	}
	res, err := cur.session.Query(ctx, q)
	if err != nil {
		return nil, domain.ErrBadRequest.WithDetails(err.Error()).WithCause(err)
	}
	return res, nil
}

// Close releases the current session.
func (s *DatabaseService) Close() error {
	return s.Disconnect(context.Background())
}

func (s *DatabaseService) current() (*dbSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cur == nil {
		return nil, domain.ErrNoActiveConnection.WithDetails("Database not connected")
	}
	return s.cur, nil
}

func (s *DatabaseService) closeSession(d *dbSession) {
	if err := d.session.Close(); err != nil {
		s.logger.Warn("closing database session", "kind", d.kind, "error", err)
	}
}
