package command

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/querydeck-go/internal/cli/config"
	"github.com/yndnr/querydeck-go/internal/cli/output"
	"github.com/yndnr/querydeck-go/internal/infra/buildinfo"
	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
)

// App creates the CLI application.
func App() *cli.App {
	return newApp(nil)
}

// newApp builds the app. A non-nil rt replaces config loading and the
// data-dir runtime.
func newApp(rt *Runtime) *cli.App {
	app := &cli.App{
		Name:                 "querydeck-cli",
		Usage:                "Manage database connection profiles and sessions through a QueryDeck gateway",
		Version:              buildinfo.String(),
		Flags:                globalFlags(),
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			ProfileCommand(),
			VaultCommand(),
			ConnectCommand(),
			DisconnectCommand(),
			StatusCommand(),
			SchemaCommand(),
			StreamCommand(),
			ShellCommand(),
			SystemCommand(),
			ConfigCommand(),
		},
		Metadata: map[string]any{},
		Before:   before,
		After:    after,
	}
	if rt != nil {
		app.Metadata[metaRuntime] = rt
	}
	return app
}

func before(c *cli.Context) error {
	if _, ok := c.App.Metadata[metaRuntime].(*Runtime); ok {
		return nil
	}
	flags := ParseGlobalFlags(c)
	cfg, err := config.Load(flags.ConfigPath, flags.overrides())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	l, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(l)

	c.App.Metadata[metaConfig] = cfg
	c.App.Metadata[metaConfigPath] = flags.ConfigPath
	return nil
}

func after(c *cli.Context) error {
	rt, ok := c.App.Metadata[metaRuntime].(*Runtime)
	if !ok {
		return nil
	}
	var metricsErr error
	if path := c.String("metrics-file"); path != "" {
		if err := rt.Metrics.WriteTextfile(path); err != nil {
			metricsErr = fmt.Errorf("write metrics: %w", err)
		}
	}
	// Test runtimes are owned by the caller.
	if _, built := c.App.Metadata[metaConfig]; !built {
		return metricsErr
	}
	delete(c.App.Metadata, metaRuntime)
	return errors.Join(metricsErr, rt.Close())
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "CLI config file",
			EnvVars: []string{"QUERYDECK_CONFIG"},
			Value:   config.DefaultConfigPath(),
		},
		&cli.StringFlag{
			Name:  "data-dir",
			Usage: "Directory holding profiles and the local vault",
		},
		&cli.StringFlag{
			Name:    "gateway",
			Aliases: []string{"g"},
			Usage:   "Gateway URL (e.g., http://localhost:8000)",
		},
		&cli.StringFlag{
			Name:  "ca-file",
			Usage: "PEM bundle trusted for an https gateway",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Diagnostics on stderr: debug, info, warn, error",
		},
		&cli.StringFlag{
			Name:    "metrics-file",
			Usage:   "Write client metrics to this file on exit (Prometheus text format)",
			EnvVars: []string{"QUERYDECK_METRICS_FILE"},
		},
	}
}

// GlobalFlags holds the parsed global flags. Empty strings mean "not set".
type GlobalFlags struct {
	ConfigPath string
	DataDir    string
	Gateway    string
	CAFile     string
	Output     string
	Wide       bool
	LogLevel   string
}

// ParseGlobalFlags extracts global flags from context.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	return &GlobalFlags{
		ConfigPath: c.String("config"),
		DataDir:    c.String("data-dir"),
		Gateway:    c.String("gateway"),
		CAFile:     c.String("ca-file"),
		Output:     c.String("output"),
		Wide:       c.Bool("wide"),
		LogLevel:   c.String("log-level"),
	}
}

// overrides maps set flags onto config keys.
func (f *GlobalFlags) overrides() map[string]any {
	m := map[string]any{}
	set := func(key, val string) {
		if val != "" {
			m[key] = val
		}
	}
	set("data_dir", f.DataDir)
	set("gateway.url", f.Gateway)
	set("gateway.ca_file", f.CAFile)
	set("output", f.Output)
	set("log.level", f.LogLevel)
	return m
}

// render writes data in the selected output format.
func render(c *cli.Context, data any) error {
	flags := ParseGlobalFlags(c)
	format := flags.Output
	if format == "" {
		if cfg := configFrom(c); cfg != nil {
			format = cfg.Output
		}
	}
	f, err := output.ParseFormat(format)
	if err != nil {
		return err
	}
	return output.NewFormatter(f, flags.Wide).Format(stdout(c), data)
}

// machineOutput reports whether json or yaml was requested.
func machineOutput(c *cli.Context) bool {
	format := ParseGlobalFlags(c).Output
	if format == "" {
		if cfg := configFrom(c); cfg != nil {
			format = cfg.Output
		}
	}
	return format == string(output.FormatJSON) || format == string(output.FormatYAML)
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
