package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yndnr/querydeck-go/internal/core/vault"
	"github.com/yndnr/querydeck-go/internal/infra/confloader"
	"github.com/yndnr/querydeck-go/internal/livechannel"
	"github.com/yndnr/querydeck-go/internal/storage"
	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
	"github.com/yndnr/querydeck-go/pkg/crypto/seal"
	"github.com/yndnr/querydeck-go/pkg/token"
)

// Vault backends.
const (
	VaultLocal  = "local"
	VaultRemote = "remote"
)

// CLIConfig is the configuration for querydeck-cli.
type CLIConfig struct {
	// DataDir holds the badger store with profiles and the local vault.
	DataDir string `koanf:"data_dir" yaml:"data_dir"`

	// Output is the default output format: table, json or yaml.
	Output string `koanf:"output" yaml:"output"`

	Gateway GatewayConfig `koanf:"gateway" yaml:"gateway"`
	Vault   VaultConfig   `koanf:"vault" yaml:"vault"`
	Channel ChannelConfig `koanf:"channel" yaml:"channel"`
	Log     LogConfig     `koanf:"log" yaml:"log"`
}

// GatewayConfig locates the gateway.
type GatewayConfig struct {
	URL     string        `koanf:"url" yaml:"url"`
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"`
	// SessionToken identifies this caller to the gateway credential store.
	SessionToken string `koanf:"session_token" yaml:"session_token,omitempty"`
	// SyncProfiles reconciles the local registry with the gateway's list.
	SyncProfiles bool `koanf:"sync_profiles" yaml:"sync_profiles"`
	// CAFile adds a PEM bundle to the trusted roots for https and wss.
	CAFile string `koanf:"ca_file" yaml:"ca_file,omitempty"`
}

// VaultConfig selects the credential vault.
type VaultConfig struct {
	Backend        string        `koanf:"backend" yaml:"backend"`
	UnlockInterval time.Duration `koanf:"unlock_interval" yaml:"unlock_interval"`
	// KDF is the Argon2id cost for newly sealed local records.
	KDF seal.KDFParams `koanf:"kdf" yaml:"kdf"`
}

// ChannelConfig is the live channel reconnect policy.
type ChannelConfig struct {
	MaxReconnectAttempts int           `koanf:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	ReconnectInterval    time.Duration `koanf:"reconnect_interval" yaml:"reconnect_interval"`
}

// LogConfig controls CLI diagnostics on stderr.
type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	home, _ := os.UserHomeDir()
	return &CLIConfig{
		DataDir: filepath.Join(home, ".querydeck", "data"),
		Output:  "table",
		Gateway: GatewayConfig{
			URL:     "http://localhost:8000",
			Timeout: 30 * time.Second,
		},
		Vault: VaultConfig{
			Backend:        VaultLocal,
			UnlockInterval: vault.DefaultConfig().UnlockInterval,
			KDF:            seal.DefaultKDFParams(),
		},
		Channel: ChannelConfig{
			MaxReconnectAttempts: livechannel.DefaultMaxReconnectAttempts,
			ReconnectInterval:    livechannel.DefaultReconnectInterval,
		},
		Log: LogConfig{Level: "warn", Format: "text"},
	}
}

// DefaultConfigPath returns the default CLI config file path.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".querydeck", "cli.yaml")
}

// Load reads path (optional), then QUERYDECK_* variables, then overrides.
func Load(path string, overrides map[string]any) (*CLIConfig, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	cfg := Default()
	l := confloader.NewLoader(
		confloader.WithOptionalConfigFile(path),
		confloader.WithOverrides(overrides),
	)
	if err := l.Load(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated fields.
func (c *CLIConfig) Validate() error {
	var errs []error
	switch c.Output {
	case "table", "json", "yaml":
	default:
		errs = append(errs, fmt.Errorf("output: unsupported format %q", c.Output))
	}
	switch c.Vault.Backend {
	case VaultLocal, VaultRemote:
	default:
		errs = append(errs, fmt.Errorf("vault.backend: must be %q or %q", VaultLocal, VaultRemote))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir: required"))
	}
	if c.Channel.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("channel.max_reconnect_attempts: must not be negative"))
	}
	if c.Gateway.SessionToken != "" && !token.IsSessionToken(c.Gateway.SessionToken) {
		errs = append(errs, errors.New("gateway.session_token: malformed"))
	}
	return errors.Join(errs...)
}

// Save writes cfg to path with owner-only permissions.
func Save(cfg *CLIConfig, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// EnsureSessionToken generates and persists a caller session token when
// none is configured. It reports whether a new token was written.
func EnsureSessionToken(cfg *CLIConfig, path string) (bool, error) {
	if cfg.Gateway.SessionToken != "" {
		return false, nil
	}
	tok, err := token.NewSession()
	if err != nil {
		return false, err
	}
	cfg.Gateway.SessionToken = tok
	if err := Save(cfg, path); err != nil {
		return false, fmt.Errorf("persist session token: %w", err)
	}
	return true, nil
}

// StorageConfig returns the badger config for DataDir.
func (c *CLIConfig) StorageConfig() storage.Config {
	return storage.DefaultConfig(c.DataDir)
}

// VaultSettings returns the local vault config.
func (c *CLIConfig) VaultSettings() vault.Config {
	v := vault.DefaultConfig()
	v.UnlockInterval = c.Vault.UnlockInterval
	if c.Vault.KDF.Time > 0 && c.Vault.KDF.MemoryKiB > 0 && c.Vault.KDF.Threads > 0 {
		v.KDF = c.Vault.KDF
	}
	return v
}

// ChannelSettings returns the live channel config for url.
func (c *CLIConfig) ChannelSettings(url string) livechannel.Config {
	lc := livechannel.DefaultConfig(url)
	lc.MaxReconnectAttempts = c.Channel.MaxReconnectAttempts
	if c.Channel.ReconnectInterval > 0 {
		lc.ReconnectInterval = c.Channel.ReconnectInterval
	}
	return lc
}

// LoggerConfig returns the stderr logger config.
func (c *CLIConfig) LoggerConfig() logger.Config {
	lc := logger.DefaultConfig()
	lc.Level = strings.ToLower(c.Log.Level)
	lc.Format = c.Log.Format
	return lc
}
