package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yndnr/querydeck-go/internal/core/domain"
	"github.com/yndnr/querydeck-go/internal/core/registry"
	"github.com/yndnr/querydeck-go/internal/core/vault"
	"github.com/yndnr/querydeck-go/internal/gateway"
	"github.com/yndnr/querydeck-go/internal/livechannel"
	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
	"github.com/yndnr/querydeck-go/internal/telemetry/metric"
)

// Gateway is the remote side of a database session.
type Gateway interface {
	Connect(ctx context.Context, ep domain.Endpoint, kind domain.Kind, secret *domain.Secret) (*gateway.ConnectResult, error)
	Disconnect(ctx context.Context) error
}

// StatusChecker is implemented by gateways that report whether their
// session is still open. The controller uses it after a live channel
// reconnect to detect a session the gateway dropped meanwhile.
type StatusChecker interface {
	Status(ctx context.Context) (*gateway.StatusResult, error)
}

// statusCheckTimeout bounds the post-reconnect status call.
const statusCheckTimeout = 10 * time.Second

// Profiles is the part of the registry the controller needs.
type Profiles interface {
	Get(ctx context.Context, id string) (*domain.Profile, error)
	UpdateStatus(ctx context.Context, id string, status domain.Status, connectedAt *time.Time) error
	OnDelete(h registry.DeleteHook)
}

// Channel is the live channel bound to the active session.
type Channel interface {
	Open(ctx context.Context) error
	Close() error
	IsOpen() bool
	Send(ctx context.Context, cmd livechannel.Command) error
	On(topic livechannel.Topic, h livechannel.Handler) livechannel.Subscription
}

// SecretPrompt asks the caller for a secret. ok is false when the caller
// declines.
type SecretPrompt func(ctx context.Context, p domain.Profile) (secret domain.Secret, ok bool)

// Navigator receives the profile entered by ActivateAndEnter.
type Navigator interface {
	Enter(ctx context.Context, p domain.Profile)
}

// ConnectOptions tunes one Connect call.
type ConnectOptions struct {
	// Secret bypasses the vault and the prompt.
	Secret *domain.Secret
	// Remember stores a prompted secret in the vault after a successful connect.
	Remember bool
}

// Controller owns the active-session state. Safe for concurrent use.
type Controller struct {
	profiles Profiles
	vault    vault.Vault
	gateway  Gateway
	channel  Channel
	prompt   SecretPrompt
	logger   logger.Logger
	metrics  *metric.Registry

	mu          sync.Mutex
	active      string
	connectedID string
	inflight    map[string]bool
	passphrase  string

	events eventBus
}

// Option configures a Controller.
type Option func(*Controller)

// WithChannel binds a live channel opened after each successful connect.
func WithChannel(ch Channel) Option {
	return func(c *Controller) { c.channel = ch }
}

// WithPrompt sets the interactive secret fallback.
func WithPrompt(p SecretPrompt) Option {
	return func(c *Controller) { c.prompt = p }
}

// WithLogger sets the controller logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records connect and transition metrics to m.
func WithMetrics(m *metric.Registry) Option {
	return func(c *Controller) { c.metrics = m }
}

// New builds a controller and registers its delete hook on profiles.
func New(profiles Profiles, v vault.Vault, gw Gateway, opts ...Option) *Controller {
	c := &Controller{
		profiles: profiles,
		vault:    v,
		gateway:  gw,
		logger:   logger.Default(),
		inflight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "session")
	c.events.logger = c.logger

	profiles.OnDelete(c.profileDeleted)
	if c.channel != nil {
		c.forwardChannel()
	}
	return c
}

// Active returns the active profile id, empty when none is selected.
func (c *Controller) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// ActiveProfile returns the active profile.
func (c *Controller) ActiveProfile(ctx context.Context) (*domain.Profile, error) {
	id := c.Active()
	if id == "" {
		return nil, domain.ErrNoActiveConnection
	}
	return c.profiles.Get(ctx, id)
}

// Unlock verifies passphrase against the vault and keeps it in memory for
// vault retrieval during connects.
func (c *Controller) Unlock(ctx context.Context, passphrase string) error {
	has, err := c.vault.HasMasterPassphrase(ctx)
	if err != nil {
		return err
	}
	if !has {
		return domain.ErrPassphraseRequired
	}
	if !c.vault.VerifyPassphrase(ctx, passphrase) {
		return domain.ErrDecryptionFailed.WithDetails("passphrase does not match")
	}
	c.mu.Lock()
	c.passphrase = passphrase
	c.mu.Unlock()
	return nil
}

// Lock forgets the unlocked passphrase.
func (c *Controller) Lock() {
	c.mu.Lock()
	c.passphrase = ""
	c.mu.Unlock()
}

// Activate selects id as the active profile. Switching away from a
// connected profile disconnects it first.
func (c *Controller) Activate(ctx context.Context, id string) error {
	if _, err := c.profiles.Get(ctx, id); err != nil {
		return err
	}

	c.mu.Lock()
	prev, prevConnected := c.active, c.connectedID
	if prev == id {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if prevConnected != "" && prevConnected == prev {
		if err := c.Disconnect(ctx); err != nil {
			c.logger.Warn("disconnect of previous profile failed", "profile_id", prev, "error", err)
		}
	}

	c.mu.Lock()
	c.active = id
	c.mu.Unlock()
	c.logger.Debug("profile activated", "profile_id", id, "previous", prev)
	return nil
}

// Connect activates id and connects it.
func (c *Controller) Connect(ctx context.Context, id string, opts ConnectOptions) error {
	if err := c.Activate(ctx, id); err != nil {
		return err
	}
	p, err := c.profiles.Get(ctx, id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.inflight[id] {
		c.mu.Unlock()
		return domain.ErrAlreadyInProgress.WithDetails(id)
	}
	if p.Status == domain.StatusConnected && c.connectedID == id {
		c.mu.Unlock()
		return nil
	}
	c.inflight[id] = true
	passphrase := c.passphrase
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, id)
		c.mu.Unlock()
	}()

	ctx = logger.WithProfileID(ctx, id)
	started := time.Now()
	c.transition(ctx, id, p.Status, domain.StatusConnecting, nil)

	secret, prompted, err := c.resolveSecret(ctx, p, opts, passphrase)
	if err != nil {
		c.metrics.ObserveConnect(string(p.Kind), started, err)
		c.transition(ctx, id, domain.StatusConnecting, domain.StatusDisconnected, nil)
		c.events.publish(Event{Kind: EventError, ProfileID: id, Err: err})
		return err
	}

	_, err = c.gateway.Connect(ctx, p.Endpoint, p.Kind, secret)
	c.metrics.ObserveConnect(string(p.Kind), started, err)
	if err != nil {
		if !errors.Is(err, domain.ErrRemoteConnectFailed) {
			err = domain.ErrRemoteConnectFailed.WithDetails(err.Error()).WithCause(err)
		}
		c.logger.Warn("connect failed", "profile_id", id, "kind", p.Kind, "error", err)
		c.transition(ctx, id, domain.StatusConnecting, domain.StatusFailed, nil)
		c.events.publish(Event{Kind: EventError, ProfileID: id, Err: err})
		return err
	}

	c.mu.Lock()
	superseded := c.active != id
	otherLive := c.connectedID != ""
	if !superseded {
		c.connectedID = id
	}
	c.mu.Unlock()
	if superseded {
		// Another profile was activated while this one was connecting. The
		// gateway holds the session just opened; release it unless another
		// profile has connected since.
		if !otherLive {
			if err := c.gateway.Disconnect(ctx); err != nil {
				c.logger.Warn("remote disconnect of superseded session failed", "profile_id", id, "error", err)
			}
		}
		c.transition(ctx, id, domain.StatusConnecting, domain.StatusDisconnected, nil)
		return domain.ErrNoActiveConnection.WithDetails("activation changed during connect")
	}

	now := time.Now()
	c.transition(ctx, id, domain.StatusConnecting, domain.StatusConnected, &now)
	c.logger.Info("connected", "profile_id", id, "kind", p.Kind, "elapsed", time.Since(started))

	if opts.Remember && prompted && secret != nil {
		if err := c.vault.Store(ctx, id, *secret, passphrase); err != nil {
			c.logger.Warn("could not remember secret", "profile_id", id, "error", err)
			c.events.publish(Event{Kind: EventError, ProfileID: id, Err: err})
		}
	}

	if c.channel != nil {
		if err := c.channel.Open(ctx); err != nil {
			// Streaming is optional; the session stays connected.
			c.logger.Warn("live channel unavailable", "profile_id", id, "error", err)
			c.events.publish(Event{Kind: EventError, ProfileID: id, Err: domain.ErrChannelClosed.WithCause(err)})
		}
	}
	return nil
}

// ConnectAsync runs Connect on its own goroutine. The returned channel
// receives exactly one result.
func (c *Controller) ConnectAsync(ctx context.Context, id string, opts ConnectOptions) <-chan error {
	out := make(chan error, 1)
	go func() { out <- c.Connect(ctx, id, opts) }()
	return out
}

// resolveSecret picks the explicit secret, then the vault, then the prompt.
// prompted reports whether the secret came from the prompt.
func (c *Controller) resolveSecret(ctx context.Context, p *domain.Profile, opts ConnectOptions, passphrase string) (secret *domain.Secret, prompted bool, err error) {
	if opts.Secret != nil {
		return opts.Secret, false, nil
	}
	if !p.Kind.UsesCredentials() {
		return nil, false, nil
	}

	var vaultErr error
	if p.HasStoredSecret || c.vaultHas(ctx, p.ID) {
		s, err := c.vault.Retrieve(ctx, p.ID, passphrase)
		if err == nil {
			return &s, false, nil
		}
		vaultErr = err
		c.logger.Warn("stored secret unavailable, falling back to prompt", "profile_id", p.ID, "error", err)
	}

	if c.prompt != nil {
		if s, ok := c.prompt(ctx, *p); ok {
			return &s, true, nil
		}
	}

	e := domain.ErrCredentialsRequired.WithDetails(p.Name)
	if vaultErr != nil {
		e = e.WithCause(vaultErr)
	}
	return nil, false, e
}

// vaultHas asks the vault directly, for profiles whose cached flag is stale.
func (c *Controller) vaultHas(ctx context.Context, id string) bool {
	has, err := c.vault.Has(ctx, id)
	if err != nil {
		c.logger.Debug("vault lookup failed", "profile_id", id, "error", err)
		return false
	}
	return has
}

// Disconnect ends the active session. The profile always ends disconnected;
// a failing remote call is still reported.
func (c *Controller) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	id := c.active
	connected := c.connectedID == id && id != ""
	c.connectedID = ""
	c.mu.Unlock()

	if id == "" {
		return domain.ErrNoActiveConnection
	}
	if !connected {
		return nil
	}

	c.closeChannel()
	remoteErr := c.gateway.Disconnect(ctx)
	if remoteErr != nil {
		c.logger.Warn("remote disconnect failed", "profile_id", id, "error", remoteErr)
		c.events.publish(Event{Kind: EventError, ProfileID: id, Err: remoteErr})
	}
	c.transition(ctx, id, domain.StatusConnected, domain.StatusDisconnected, nil)
	c.logger.Info("disconnected", "profile_id", id)
	return remoteErr
}

// SessionDropped records that the gateway lost the active session.
func (c *Controller) SessionDropped(ctx context.Context) {
	c.mu.Lock()
	id := c.connectedID
	c.connectedID = ""
	c.mu.Unlock()
	if id == "" {
		return
	}

	c.closeChannel()
	c.transition(ctx, id, domain.StatusConnected, domain.StatusDisconnected, nil)
	c.logger.Warn("session dropped by gateway", "profile_id", id)
}

// verifySession asks the gateway whether the connected session survived and
// records a drop when it did not. Gateways without StatusChecker are trusted.
func (c *Controller) verifySession(ctx context.Context) {
	sc, ok := c.gateway.(StatusChecker)
	if !ok {
		return
	}
	c.mu.Lock()
	id := c.connectedID
	c.mu.Unlock()
	if id == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, statusCheckTimeout)
	defer cancel()
	st, err := sc.Status(ctx)
	if err != nil {
		c.logger.Warn("gateway status unavailable after reconnect", "profile_id", id, "error", err)
		return
	}
	if !st.Connected {
		c.SessionDropped(ctx)
	}
}

// ActivateAndEnter selects id, connects it when a secret is stored, and
// hands the profile to nav whatever the connect outcome. Connect failures
// are published as error events.
func (c *Controller) ActivateAndEnter(ctx context.Context, id string, nav Navigator) error {
	if err := c.Activate(ctx, id); err != nil {
		return err
	}
	p, err := c.profiles.Get(ctx, id)
	if err != nil {
		return err
	}

	if p.HasStoredSecret {
		// Connect publishes its own error events.
		if err := c.Connect(ctx, id, ConnectOptions{}); err != nil {
			c.logger.Debug("auto-connect failed", "profile_id", id, "error", err)
		}
		if fresh, err := c.profiles.Get(ctx, id); err == nil {
			p = fresh
		}
	}

	if nav != nil {
		nav.Enter(ctx, *p)
	}
	return nil
}

// Send forwards cmd on the live channel.
func (c *Controller) Send(ctx context.Context, cmd livechannel.Command) error {
	if c.channel == nil {
		return domain.ErrChannelClosed.WithDetails("no live channel configured")
	}
	return c.channel.Send(ctx, cmd)
}

// Subscribe registers fn for every controller event. The returned func
// removes it.
func (c *Controller) Subscribe(fn func(Event)) (cancel func()) {
	return c.events.subscribe(fn)
}

func (c *Controller) transition(ctx context.Context, id string, from, to domain.Status, at *time.Time) {
	if err := c.profiles.UpdateStatus(ctx, id, to, at); err != nil {
		c.logger.Error("status not persisted", "profile_id", id, "to", to, "error", err)
	}
	c.metrics.ObserveTransition(string(from), string(to))
	c.events.publish(Event{Kind: EventStatus, ProfileID: id, From: from, To: to})
}

func (c *Controller) closeChannel() {
	if c.channel == nil || !c.channel.IsOpen() {
		return
	}
	if err := c.channel.Close(); err != nil {
		c.logger.Debug("live channel close", "error", err)
	}
}

// profileDeleted clears the active reference to a deleted profile.
func (c *Controller) profileDeleted(ctx context.Context, id string) {
	c.mu.Lock()
	wasActive := c.active == id
	wasConnected := c.connectedID == id
	if wasActive {
		c.active = ""
	}
	if wasConnected {
		c.connectedID = ""
	}
	c.mu.Unlock()

	if wasConnected {
		c.closeChannel()
		if err := c.gateway.Disconnect(ctx); err != nil {
			c.logger.Warn("remote disconnect of deleted profile failed", "profile_id", id, "error", err)
		}
	}
	if wasActive {
		c.logger.Info("active profile deleted", "profile_id", id)
		c.events.publish(Event{Kind: EventStatus, ProfileID: id, To: domain.StatusDisconnected})
	}
}

func (c *Controller) forwardChannel() {
	for _, topic := range []livechannel.Topic{
		livechannel.TopicConnected,
		livechannel.TopicDisconnected,
		livechannel.TopicMessage,
		livechannel.TopicError,
		livechannel.TopicMaxReconnect,
	} {
		c.channel.On(topic, func(ev livechannel.Event) {
			c.events.publish(Event{Kind: EventStream, ProfileID: c.Active(), Stream: &ev})
		})
	}
	// A reconnect means the gateway may have restarted without our session.
	c.channel.On(livechannel.TopicConnected, func(ev livechannel.Event) {
		if ev.Attempt > 0 {
			c.verifySession(context.Background())
		}
	})
}
