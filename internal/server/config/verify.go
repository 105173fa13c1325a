package config

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
	"github.com/yndnr/querydeck-go/pkg/token"
)

// Verify validates the configuration and creates the data directory.
func Verify(cfg *GatewayConfig) error {
	if err := verifyServer(&cfg.Server); err != nil {
		return err
	}
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := verifySecurity(&cfg.Security); err != nil {
		return err
	}
	if cfg.Stream.Interval <= 0 {
		return errors.New("stream.interval must be positive")
	}
	if !logger.ValidLevel(cfg.Log.Level) {
		return fmt.Errorf("log.level: unknown level %q", cfg.Log.Level)
	}
	return nil
}

func verifyServer(cfg *ServerSection) error {
	if _, _, err := net.SplitHostPort(cfg.HTTP.Addr); err != nil {
		return fmt.Errorf("server.http.addr: %w", err)
	}
	if (cfg.HTTP.TLSCertFile == "") != (cfg.HTTP.TLSKeyFile == "") {
		return errors.New("server.http: tls_cert_file and tls_key_file must be set together")
	}
	for _, f := range []string{cfg.HTTP.TLSCertFile, cfg.HTTP.TLSKeyFile} {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("server.http: %w", err)
		}
	}
	return nil
}

func verifyStorage(cfg *StorageSection) error {
	switch cfg.Engine {
	case "memory":
		return nil
	case "badger":
	default:
		return fmt.Errorf("storage.engine: unknown engine %q", cfg.Engine)
	}
	if cfg.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return errors.New("cannot create data directory: " + err.Error())
	}
	return nil
}

func verifySecurity(cfg *SecuritySection) error {
	if cfg.ServerKey == "" {
		return errors.New("security.server_key is required (generate one with `querydeck-gateway keygen`)")
	}
	if _, ok := token.DecodeServerKey(cfg.ServerKey); !ok {
		return errors.New("security.server_key: malformed key")
	}
	if cfg.RateLimit.Enabled && (cfg.RateLimit.RPS <= 0 || cfg.RateLimit.Burst < 1) {
		return errors.New("security.rate_limit: rps and burst must be positive")
	}
	return nil
}
