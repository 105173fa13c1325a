package config

import (
	"github.com/yndnr/querydeck-go/internal/storage"
	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
	"github.com/yndnr/querydeck-go/pkg/token"
)

// StorageConfig maps the storage section onto a KV config.
func (c *GatewayConfig) StorageConfig() storage.Config {
	sc := storage.DefaultConfig(c.Storage.DataDir)
	sc.Engine = c.Storage.Engine
	if c.Storage.GCInterval > 0 {
		sc.GCInterval = c.Storage.GCInterval
	}
	return sc
}

// LoggerConfig maps the log section onto a logger config.
func (c *GatewayConfig) LoggerConfig() logger.Config {
	lc := logger.DefaultConfig()
	lc.Level = c.Log.Level
	lc.Format = c.Log.Format
	lc.File = c.Log.File
	return lc
}

// ServerKeyBytes returns the decoded server key. Call after Verify.
func (c *GatewayConfig) ServerKeyBytes() []byte {
	raw, _ := token.DecodeServerKey(c.Security.ServerKey)
	return raw
}
