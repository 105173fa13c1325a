package config

import (
	"time"

	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
)

// GatewayConfig is the root configuration for querydeck-gateway.
type GatewayConfig struct {
	Server   ServerSection   `koanf:"server"`
	Storage  StorageSection  `koanf:"storage"`
	Security SecuritySection `koanf:"security"`
	Stream   StreamSection   `koanf:"stream"`
	Log      LogSection      `koanf:"log"`
}

// ServerSection configures the HTTP listener.
type ServerSection struct {
	HTTP HTTPConfig `koanf:"http"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	TLSCertFile     string        `koanf:"tls_cert_file"`
	TLSKeyFile      string        `koanf:"tls_key_file"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// AllowedOrigins lists Origin values accepted on /ws. Empty allows
	// same-host requests only.
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// StorageSection configures the credential store.
type StorageSection struct {
	Engine     string        `koanf:"engine"`
	DataDir    string        `koanf:"data_dir"`
	GCInterval time.Duration `koanf:"gc_interval"`
}

// SecuritySection configures secrets and throttling.
type SecuritySection struct {
	// ServerKey seals stored credentials (qdsk_ prefix).
	ServerKey string          `koanf:"server_key"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

// RateLimitConfig is the per client IP token bucket.
type RateLimitConfig struct {
	Enabled bool    `koanf:"enabled"`
	RPS     float64 `koanf:"rps"`
	Burst   int     `koanf:"burst"`
}

// StreamSection configures the /ws data stream.
type StreamSection struct {
	Interval time.Duration `koanf:"interval"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string            `koanf:"level"`
	Format string            `koanf:"format"`
	File   logger.FileConfig `koanf:"file"`
}
