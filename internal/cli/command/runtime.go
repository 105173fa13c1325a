package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/querydeck-go/internal/cli/config"
	"github.com/yndnr/querydeck-go/internal/core/audit"
	"github.com/yndnr/querydeck-go/internal/core/domain"
	"github.com/yndnr/querydeck-go/internal/core/registry"
	"github.com/yndnr/querydeck-go/internal/core/session"
	"github.com/yndnr/querydeck-go/internal/core/vault"
	"github.com/yndnr/querydeck-go/internal/gateway"
	"github.com/yndnr/querydeck-go/internal/infra/tlsroots"
	"github.com/yndnr/querydeck-go/internal/livechannel"
	"github.com/yndnr/querydeck-go/internal/storage"
	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
	"github.com/yndnr/querydeck-go/internal/telemetry/metric"
)

const (
	metaConfig     = "config"
	metaConfigPath = "configPath"
	metaRuntime    = "runtime"
)

// Runtime is the wired object graph behind the data commands.
type Runtime struct {
	Config   *config.CLIConfig
	Logger   logger.Logger
	KV       storage.KV
	Registry *registry.Registry
	Vault    vault.Vault
	Trail    *audit.Trail
	Gateway  *gateway.Client
	Channel  *livechannel.Channel
	Session  *session.Controller
	Terminal Terminal
	Metrics  *metric.Registry
}

// NewRuntime opens the data directory and wires registry, vault, gateway
// client, live channel and session controller from cfg.
func NewRuntime(ctx context.Context, cfg *config.CLIConfig, kv storage.KV, term Terminal, l logger.Logger) (*Runtime, error) {
	if l == nil {
		l = logger.Default()
	}
	tlsCfg, err := tlsroots.ClientTLSConfig(cfg.Gateway.CAFile)
	if err != nil {
		return nil, fmt.Errorf("gateway.ca_file: %w", err)
	}

	hc := &http.Client{Timeout: cfg.Gateway.Timeout}
	if tlsCfg != nil {
		hc.Transport = &http.Transport{Proxy: http.ProxyFromEnvironment, TLSClientConfig: tlsCfg}
	}
	gw := gateway.NewClient(cfg.Gateway.URL,
		gateway.WithHTTPClient(hc),
		gateway.WithSessionToken(cfg.Gateway.SessionToken),
		gateway.WithLogger(l),
	)

	m := metric.NewRegistry()

	regOpts := []registry.Option{registry.WithLogger(l)}
	if cfg.Gateway.SyncProfiles {
		regOpts = append(regOpts, registry.WithRemote(gw))
		if cfg.Vault.Backend == config.VaultRemote {
			regOpts = append(regOpts, registry.WithRemoteSecrets())
		}
	}
	reg, err := registry.New(ctx, kv, regOpts...)
	if err != nil {
		// Unreadable entries are skipped; a failing scan is fatal.
		return nil, err
	}

	trail := audit.New(kv, audit.WithLogger(l))
	var v vault.Vault
	switch cfg.Vault.Backend {
	case config.VaultRemote:
		v = vault.NewRemote(gw, vault.WithFlagger(reg), vault.WithLogger(l), vault.WithMetrics(m))
	default:
		v = vault.NewLocal(kv, cfg.VaultSettings(),
			vault.WithFlagger(reg), vault.WithLogger(l), vault.WithMetrics(m), vault.WithAudit(trail))
	}
	reg.SetSecretRemover(v)

	header := http.Header{}
	if tok := gw.SessionToken(); tok != "" {
		header.Set(gateway.HeaderUserSession, tok)
	}
	ch := livechannel.New(cfg.ChannelSettings(gw.WebSocketURL()),
		livechannel.WithDialer(livechannel.WebSocketDialer{TLS: tlsCfg}),
		livechannel.WithHeader(header),
		livechannel.WithLogger(l),
		livechannel.WithMetrics(m),
	)

	rt := &Runtime{
		Config:   cfg,
		Logger:   l,
		KV:       kv,
		Registry: reg,
		Vault:    v,
		Trail:    trail,
		Gateway:  gw,
		Channel:  ch,
		Terminal: term,
		Metrics:  m,
	}
	rt.Session = session.New(reg, v, gw,
		session.WithChannel(ch),
		session.WithPrompt(rt.promptSecret),
		session.WithLogger(l),
		session.WithMetrics(m),
	)
	return rt, nil
}

// Close releases the channel and the store.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Channel != nil && rt.Channel.IsOpen() {
		errs = append(errs, rt.Channel.Close())
	}
	if rt.KV != nil {
		errs = append(errs, rt.KV.Close())
	}
	return errors.Join(errs...)
}

// promptSecret is the controller's interactive fallback.
func (rt *Runtime) promptSecret(_ context.Context, p domain.Profile) (domain.Secret, bool) {
	if rt.Terminal == nil || !rt.Terminal.Interactive() {
		return domain.Secret{}, false
	}
	user := p.Endpoint.Username
	answer, err := rt.Terminal.ReadLine(fmt.Sprintf("Username for %s [%s]: ", p.Name, user))
	if err != nil {
		return domain.Secret{}, false
	}
	if answer = strings.TrimSpace(answer); answer != "" {
		user = answer
	}
	pass, err := rt.Terminal.ReadSecret(fmt.Sprintf("Password for %s@%s: ", user, p.Endpoint.Address()))
	if err != nil {
		return domain.Secret{}, false
	}
	return domain.Secret{Username: user, Password: pass}, true
}

// unlock makes stored secrets available to the controller. It is a no-op
// for the remote vault and when no passphrase is set. passphrase may come
// from a flag or the environment; otherwise the terminal is asked.
func (rt *Runtime) unlock(ctx context.Context, passphrase string) error {
	if rt.Vault.Backend() != config.VaultLocal {
		return nil
	}
	has, err := rt.Vault.HasMasterPassphrase(ctx)
	if err != nil || !has {
		return err
	}
	if passphrase == "" {
		if rt.Terminal == nil || !rt.Terminal.Interactive() {
			return nil
		}
		if passphrase, err = rt.Terminal.ReadSecret("Vault passphrase: "); err != nil {
			return err
		}
	}
	return rt.Session.Unlock(ctx, passphrase)
}

// findProfile resolves ref as a profile id, then as a unique name.
func (rt *Runtime) findProfile(ctx context.Context, ref string) (*domain.Profile, error) {
	if ref == "" {
		return nil, domain.ErrUnknownConnection.WithDetails("profile id or name required")
	}
	if domain.IsValidProfileID(ref) {
		return rt.Registry.Get(ctx, ref)
	}
	profiles, err := rt.Registry.List(ctx)
	if err != nil {
		return nil, err
	}
	var match *domain.Profile
	for i := range profiles {
		if !strings.EqualFold(profiles[i].Name, ref) {
			continue
		}
		if match != nil {
			return nil, domain.ErrUnknownConnection.WithDetails(fmt.Sprintf("name %q is ambiguous, use the id", ref))
		}
		match = &profiles[i]
	}
	if match == nil {
		return nil, domain.ErrUnknownConnection.WithDetails(ref)
	}
	return match, nil
}

// runtimeFrom returns the runtime for c, building it on first use.
func runtimeFrom(c *cli.Context) (*Runtime, error) {
	if rt, ok := c.App.Metadata[metaRuntime].(*Runtime); ok {
		return rt, nil
	}
	cfg := configFrom(c)
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	path, _ := c.App.Metadata[metaConfigPath].(string)
	if _, err := config.EnsureSessionToken(cfg, path); err != nil {
		return nil, err
	}

	l := logger.Default()
	kv, err := storage.Open(cfg.StorageConfig(), storage.WithLogger(l))
	if err != nil {
		return nil, fmt.Errorf("open data dir %s: %w", cfg.DataDir, err)
	}
	rt, err := NewRuntime(c.Context, cfg, kv, StdTerminal(), l)
	if err != nil {
		kv.Close()
		return nil, err
	}
	c.App.Metadata[metaRuntime] = rt
	return rt, nil
}

func configFrom(c *cli.Context) *config.CLIConfig {
	if cfg, ok := c.App.Metadata[metaConfig].(*config.CLIConfig); ok {
		return cfg
	}
	if rt, ok := c.App.Metadata[metaRuntime].(*Runtime); ok {
		return rt.Config
	}
	return nil
}

func stdout(c *cli.Context) io.Writer {
	if c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}

func stderr(c *cli.Context) io.Writer {
	if c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}
