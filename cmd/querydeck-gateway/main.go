package main

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/querydeck-go/internal/core/audit"
	"github.com/yndnr/querydeck-go/internal/core/service"
	"github.com/yndnr/querydeck-go/internal/driver"
	"github.com/yndnr/querydeck-go/internal/infra/buildinfo"
	"github.com/yndnr/querydeck-go/internal/infra/confloader"
	"github.com/yndnr/querydeck-go/internal/infra/shutdown"
	"github.com/yndnr/querydeck-go/internal/infra/tlsroots"
	"github.com/yndnr/querydeck-go/internal/server/config"
	"github.com/yndnr/querydeck-go/internal/server/httpserver"
	"github.com/yndnr/querydeck-go/internal/storage"
	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
	"github.com/yndnr/querydeck-go/internal/telemetry/metric"
	"github.com/yndnr/querydeck-go/pkg/token"
)

// envPrefix keeps gateway variables apart from the CLI's QUERYDECK_*.
const envPrefix = "QUERYDECK_GATEWAY_"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "querydeck-gateway",
		Usage:   "QueryDeck database gateway",
		Version: buildinfo.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				EnvVars: []string{envPrefix + "CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the gateway",
				Action: serveAction,
			},
			{
				Name:   "check",
				Usage:  "Validate the configuration and exit",
				Action: checkAction,
			},
			{
				Name:   "keygen",
				Usage:  "Print a new server key for security.server_key",
				Action: keygenAction,
			},
		},
		DefaultCommand: "serve",
	}
}

func keygenAction(c *cli.Context) error {
	key, err := token.NewServerKey()
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, key)
	return nil
}

func checkAction(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	s := config.Sanitize(cfg)
	fmt.Fprintf(c.App.Writer, "configuration OK\n  listen:     %s (tls=%t)\n  storage:    %s %s\n  server_key: %s\n  log:        %s/%s\n",
		s.Server.HTTP.Addr, s.Server.HTTP.TLSCertFile != "",
		s.Storage.Engine, s.Storage.DataDir,
		s.Security.ServerKey,
		s.Log.Level, s.Log.Format)
	return nil
}

func serveAction(c *cli.Context) error {
	configFile := c.String("config")
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	log, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log.Info("starting querydeck-gateway",
		"version", buildinfo.Version,
		"commit", buildinfo.Get().Commit,
		"config", configFile)

	metrics := metric.Global()

	kv, err := initStorage(cfg, log, metrics)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	svcs, err := initServices(cfg, kv, log, metrics)
	if err != nil {
		kv.Close()
		return fmt.Errorf("init services: %w", err)
	}

	router := httpserver.NewRouter(&httpserver.RouterConfig{
		Database:       svcs.Database,
		Credentials:    svcs.Credentials,
		Stream:         svcs.Stream,
		Logger:         log,
		Metrics:        metrics,
		AllowedOrigins: cfg.Server.HTTP.AllowedOrigins,
		RateLimit:      rateLimit(cfg),
		RateBurst:      cfg.Security.RateLimit.Burst,
	})

	opts := httpserver.Options{
		Addr:         cfg.Server.HTTP.Addr,
		ReadTimeout:  cfg.Server.HTTP.ReadTimeout,
		WriteTimeout: cfg.Server.HTTP.WriteTimeout,
	}
	var certs *tlsroots.CertReloader
	if cfg.Server.HTTP.TLSCertFile != "" {
		certs, err = tlsroots.NewCertReloader(cfg.Server.HTTP.TLSCertFile, cfg.Server.HTTP.TLSKeyFile, tlsroots.WithLogger(log))
		if err != nil {
			kv.Close()
			return err
		}
		if err := certs.Start(); err != nil {
			log.Warn("certificate hot reload disabled", "error", err)
		}
		opts.TLS = certs.ServerConfig()
	}
	httpServer := httpserver.New(opts, router)

	ln, err := net.Listen("tcp", cfg.Server.HTTP.Addr)
	if err != nil {
		kv.Close()
		return fmt.Errorf("listen %s: %w", cfg.Server.HTTP.Addr, err)
	}

	// Register shutdown hooks (reverse order of startup)
	shutdownHandler := shutdown.NewHandler(cfg.Server.HTTP.ShutdownTimeout, log)
	shutdownHandler.OnShutdown("storage", func(context.Context) error {
		return kv.Close()
	})
	shutdownHandler.OnShutdown("database", func(context.Context) error {
		return svcs.Database.Close()
	})
	if certs != nil {
		shutdownHandler.OnShutdown("tls", func(context.Context) error { return certs.Stop() })
	}
	shutdownHandler.OnShutdown("http", httpServer.Shutdown)

	if configFile != "" {
		if w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log)); err != nil {
			log.Warn("config watcher disabled", "error", err)
		} else if err := w.Watch(configFile); err != nil {
			w.Stop()
			log.Warn("config watcher disabled", "error", err)
		} else {
			w.OnChange(confloader.ReloadLogLevel("log.level", log))
			w.StartAsync()
			shutdownHandler.OnShutdown("config-watcher", func(context.Context) error { return w.Stop() })
		}
	}

	go func() {
		log.Info("HTTP server listening", "addr", ln.Addr().String(), "tls", httpServer.TLSEnabled())
		if err := httpServer.Serve(ln); err != nil {
			log.Error("HTTP server error", "error", err)
			shutdownHandler.Trigger()
		}
	}()

	log.Info("gateway started, press Ctrl+C to stop")
	if err := shutdownHandler.Wait(c.Context); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}
	log.Info("gateway stopped gracefully")
	return nil
}

// loadConfig loads configuration from file and environment.
func loadConfig(configFile string) (*config.GatewayConfig, error) {
	cfg := config.Default()

	opts := []confloader.Option{confloader.WithEnvPrefix(envPrefix)}
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// initLogger initializes the structured logger and makes it the default.
func initLogger(cfg *config.GatewayConfig) (logger.Logger, error) {
	lc := cfg.LoggerConfig()
	lc.Output = os.Stdout
	log, err := logger.New(lc)
	if err != nil {
		return nil, err
	}
	logger.SetDefault(log)
	return log, nil
}

// initStorage opens the credential store.
func initStorage(cfg *config.GatewayConfig, log logger.Logger, m *metric.Registry) (storage.KV, error) {
	kv, err := storage.Open(cfg.StorageConfig(), storage.WithLogger(log))
	if err != nil {
		return nil, err
	}
	if b, ok := kv.(*storage.BadgerKV); ok {
		b.RegisterMetrics(m.Registerer())
	}
	log.Info("storage opened", "engine", cfg.Storage.Engine, "dir", cfg.Storage.DataDir)
	return kv, nil
}

// Services holds all initialized services.
type Services struct {
	Database    *service.DatabaseService
	Credentials *service.CredentialService
	Stream      *service.StreamHub
}

// initServices initializes all gateway services.
func initServices(cfg *config.GatewayConfig, kv storage.KV, log logger.Logger, m *metric.Registry) (*Services, error) {
	db := service.NewDatabaseService(driver.Defaults(), service.WithLogger(log), service.WithMetrics(m))

	trail := audit.New(kv, audit.WithLogger(log))
	creds, err := service.NewCredentialService(kv, cfg.ServerKeyBytes(),
		service.WithLogger(log), service.WithMetrics(m), service.WithAudit(trail))
	if err != nil {
		return nil, err
	}

	hub := service.NewStreamHub(db,
		service.WithInterval(cfg.Stream.Interval),
		service.WithStreamLogger(log),
		service.WithStreamMetrics(m),
	)

	log.Info("services initialized", "drivers", []string{"postgresql", "sqlite", "mysql(probe)", "mongodb(probe)"})
	return &Services{Database: db, Credentials: creds, Stream: hub}, nil
}

func rateLimit(cfg *config.GatewayConfig) float64 {
	if !cfg.Security.RateLimit.Enabled {
		return 0
	}
	return cfg.Security.RateLimit.RPS
}
