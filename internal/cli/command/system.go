package command

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/querydeck-go/internal/infra/buildinfo"
)

// SystemCommand returns the system subcommand group.
func SystemCommand() *cli.Command {
	return &cli.Command{
		Name:    "system",
		Aliases: []string{"sys"},
		Usage:   "Gateway reachability and build information",
		Subcommands: []*cli.Command{
			{
				Name:   "health",
				Usage:  "Check that the gateway answers",
				Action: systemHealth,
			},
			{
				Name:   "version",
				Usage:  "Show CLI build information",
				Action: systemVersion,
			},
		},
	}
}

type healthView struct {
	Gateway string `json:"gateway" yaml:"gateway"`
	Healthy bool   `json:"healthy" yaml:"healthy"`
	Latency string `json:"latency" yaml:"latency"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

func systemHealth(c *cli.Context) error {
	rt, err := runtimeFrom(c)
	if err != nil {
		return err
	}
	started := time.Now()
	herr := rt.Gateway.Health(c.Context)
	view := healthView{
		Gateway: rt.Gateway.BaseURL(),
		Healthy: herr == nil,
		Latency: time.Since(started).Round(time.Millisecond).String(),
	}
	if herr != nil {
		view.Error = herr.Error()
	}

	if machineOutput(c) {
		if err := render(c, view); err != nil {
			return err
		}
	} else if herr == nil {
		fmt.Fprintf(stdout(c), "✓ Gateway is healthy (%s)\n  Target: %s\n", view.Latency, view.Gateway)
	} else {
		fmt.Fprintf(stdout(c), "✗ Gateway is unhealthy: %v\n  Target: %s\n", herr, view.Gateway)
	}
	if herr != nil {
		return fmt.Errorf("gateway unhealthy")
	}
	return nil
}

func systemVersion(c *cli.Context) error {
	if machineOutput(c) {
		return render(c, buildinfo.Get())
	}
	fmt.Fprintf(stdout(c), "querydeck-cli %s\n", buildinfo.String())
	return nil
}
