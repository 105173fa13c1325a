package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yndnr/querydeck-go/internal/core/audit"
	"github.com/yndnr/querydeck-go/internal/core/domain"
	"github.com/yndnr/querydeck-go/internal/infra/buildinfo"
	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
	"github.com/yndnr/querydeck-go/pkg/token"
)

// DefaultTimeout bounds a single gateway request.
const DefaultTimeout = 30 * time.Second

// Client talks to one gateway on behalf of one caller session.
type Client struct {
	baseURL string
	client  *http.Client
	session string
	logger  logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// WithSessionToken sets the caller session sent in X-User-Session.
func WithSessionToken(tok string) Option {
	return func(c *Client) { c.session = tok }
}

// WithLogger sets the client logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient builds a client for server. A bare host:port gets http://.
func NewClient(server string, opts ...Option) *Client {
	baseURL := strings.TrimRight(server, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}

	c := &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: DefaultTimeout},
		logger:  logger.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "gateway-client")
	return c
}

// BaseURL returns the gateway base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// WebSocketURL returns the live channel URL derived from the base URL.
func (c *Client) WebSocketURL() string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	default:
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

// SessionToken returns the caller session, possibly empty.
func (c *Client) SessionToken() string {
	return c.session
}

// ============================================================================
// Database session
// ============================================================================

// Connect asks the gateway to open a session to endpoint. A rejection is
// returned as ErrRemoteConnectFailed with the gateway message in Details.
func (c *Client) Connect(ctx context.Context, ep domain.Endpoint, kind domain.Kind, secret *domain.Secret) (*ConnectResult, error) {
	req := ConnectRequest{
		Kind:     kind,
		Host:     ep.Host,
		Port:     ep.Port,
		Database: ep.Database,
		Username: ep.Username,
	}
	if secret != nil {
		if secret.Username != "" {
			req.Username = secret.Username
		}
		req.Password = secret.Password
	}

	var res ConnectResult
	err := c.do(ctx, http.MethodPost, "/api/database/connect", req, &res)
	if err != nil {
		var de *domain.DomainError
		if errors.As(err, &de) && !errors.Is(err, domain.ErrGatewayUnavailable) {
			msg := de.Details
			if msg == "" {
				msg = de.Message
			}
			return nil, domain.ErrRemoteConnectFailed.WithDetails(msg).WithCause(err)
		}
		return nil, err
	}
	c.logger.Debug("gateway connect accepted", "kind", kind, "host", ep.Host, "database", ep.Database)
	return &res, nil
}

// Disconnect closes the gateway's current session.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/database/disconnect", nil, nil)
}

// Status reports the gateway's current session.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var res StatusResult
	if err := c.do(ctx, http.MethodGet, "/api/database/status", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Schema lists tables of the connected database.
func (c *Client) Schema(ctx context.Context) ([]Table, error) {
	var res SchemaResult
	if err := c.do(ctx, http.MethodGet, "/api/database/schema", nil, &res); err != nil {
		return nil, err
	}
	return res.Tables, nil
}

// Health checks gateway liveness.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// ============================================================================
// Credential store (vault.CredentialStore)
// ============================================================================

// PutCredential stores secret for profile id under the caller session.
func (c *Client) PutCredential(ctx context.Context, id string, secret domain.Secret) error {
	body := CredentialBody{Username: secret.Username, Password: secret.Password}
	return c.do(ctx, http.MethodPut, credentialPath(id), body, nil)
}

// GetCredential fetches the secret for id.
func (c *Client) GetCredential(ctx context.Context, id string) (domain.Secret, error) {
	var body CredentialBody
	if err := c.do(ctx, http.MethodGet, credentialPath(id), nil, &body); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Secret{}, domain.ErrSecretNotFound.WithDetails(id)
		}
		return domain.Secret{}, err
	}
	return domain.Secret{Username: body.Username, Password: body.Password}, nil
}

// DeleteCredential removes the secret for id.
func (c *Client) DeleteCredential(ctx context.Context, id string) error {
	err := c.do(ctx, http.MethodDelete, credentialPath(id), nil, nil)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrSecretNotFound.WithDetails(id)
	}
	return err
}

// ResetCredentials removes every secret held for the caller session.
func (c *Client) ResetCredentials(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/credentials/reset", nil, nil)
}

// HasCredential reports whether a secret is stored for id.
func (c *Client) HasCredential(ctx context.Context, id string) (bool, error) {
	var st CredentialState
	if err := c.do(ctx, http.MethodGet, credentialPath(id)+"/state", nil, &st); err != nil {
		return false, err
	}
	return st.Stored, nil
}

// Audit returns the caller's credential audit trail, newest first. An empty
// id returns entries for every profile; limit <= 0 uses the gateway default.
func (c *Client) Audit(ctx context.Context, id string, limit int) ([]audit.Entry, error) {
	path := "/api/credentials/audit"
	if id != "" {
		path = credentialPath(id) + "/audit"
	}
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var res AuditList
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return res.Entries, nil
}

// ============================================================================
// Profiles (registry.RemoteSource)
// ============================================================================

// ListProfiles returns the profiles the gateway holds for the caller.
func (c *Client) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	var res ProfileList
	if err := c.do(ctx, http.MethodGet, "/api/connections", nil, &res); err != nil {
		return nil, err
	}
	return res.Connections, nil
}

// PutProfile creates or replaces a profile on the gateway.
func (c *Client) PutProfile(ctx context.Context, p domain.Profile) error {
	return c.do(ctx, http.MethodPut, "/api/connections/"+url.PathEscape(p.ID), p, nil)
}

// DeleteProfile removes a profile from the gateway.
func (c *Client) DeleteProfile(ctx context.Context, id string) error {
	err := c.do(ctx, http.MethodDelete, "/api/connections/"+url.PathEscape(id), nil, nil)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrUnknownConnection.WithDetails(id)
	}
	return err
}

func credentialPath(id string) string {
	return "/api/credentials/" + url.PathEscape(id)
}

// ============================================================================
// Transport
// ============================================================================

func (c *Client) do(ctx context.Context, method, path string, body, target any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return domain.ErrInternal.WithCause(fmt.Errorf("marshal body: %w", err))
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return domain.ErrInternal.WithCause(fmt.Errorf("create request: %w", err))
	}
	c.addHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("gateway request failed", "method", method, "path", path, "error", err)
		return domain.ErrGatewayUnavailable.WithCause(err)
	}
	c.logger.Debug("gateway request", "method", method, "path", path,
		"status", resp.StatusCode, "elapsed", time.Since(start))
	return parseResponse(resp, target)
}

func (c *Client) addHeaders(req *http.Request) {
	if c.session != "" {
		req.Header.Set(HeaderUserSession, c.session)
	}
	req.Header.Set(HeaderRequestID, token.NewRequestID())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent("querydeck-cli"))
}

// parseResponse decodes the envelope. Errors come back as domain errors
// keyed by the envelope code so errors.Is works across the wire.
func parseResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	var env Envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode >= 400 {
		if decodeErr == nil && env.Code != "" {
			return &domain.DomainError{Code: env.Code, Message: env.Message, Details: env.Details}
		}
		return statusError(resp.StatusCode)
	}
	if decodeErr != nil {
		if errors.Is(decodeErr, io.EOF) && target == nil {
			return nil
		}
		return domain.ErrInternal.WithCause(fmt.Errorf("parse response: %w", decodeErr))
	}
	if target != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, target); err != nil {
			return domain.ErrInternal.WithCause(fmt.Errorf("parse response data: %w", err))
		}
	}
	return nil
}

func statusError(status int) error {
	msg := fmt.Sprintf("request failed with status %d", status)
	switch status {
	case http.StatusBadRequest:
		return domain.ErrBadRequest.WithDetails(msg)
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized.WithDetails(msg)
	case http.StatusNotFound:
		return domain.ErrNotFound.WithDetails(msg)
	case http.StatusTooManyRequests:
		return domain.ErrRateLimited.WithDetails(msg)
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return domain.ErrGatewayUnavailable.WithDetails(msg)
	default:
		return domain.ErrInternal.WithDetails(msg)
	}
}
