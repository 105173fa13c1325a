package config

import "time"

// Default configuration values.
const (
	DefaultHTTPAddr        = "127.0.0.1:8000"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second

	DefaultStorageEngine = "badger"
	DefaultDataDir       = "/var/lib/querydeck-gateway/data"
	DefaultGCInterval    = 10 * time.Minute

	DefaultRateLimitRPS   = 20
	DefaultRateLimitBurst = 40

	DefaultStreamInterval = 2 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default gateway configuration.
func Default() *GatewayConfig {
	return &GatewayConfig{
		Server: ServerSection{
			HTTP: HTTPConfig{
				Addr:            DefaultHTTPAddr,
				ReadTimeout:     DefaultReadTimeout,
				WriteTimeout:    DefaultWriteTimeout,
				ShutdownTimeout: DefaultShutdownTimeout,
			},
		},
		Storage: StorageSection{
			Engine:     DefaultStorageEngine,
			DataDir:    DefaultDataDir,
			GCInterval: DefaultGCInterval,
		},
		Security: SecuritySection{
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     DefaultRateLimitRPS,
				Burst:   DefaultRateLimitBurst,
			},
		},
		Stream: StreamSection{
			Interval: DefaultStreamInterval,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
