package command

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/yndnr/querydeck-go/internal/core/domain"
	"github.com/yndnr/querydeck-go/internal/core/session"
	"github.com/yndnr/querydeck-go/internal/livechannel"
)

// StreamCommand returns the stream command.
func StreamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Follow the gateway's real-time metrics stream",
		ArgsUsage: "[PROFILE]",
		Description: "With PROFILE the profile is connected first. Without it the live channel\n" +
			"is opened against whatever session the gateway currently holds.",
		Flags: []cli.Flag{
			passphraseFlag(),
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Usage: "Stop after N data samples (0: until interrupted)"},
			&cli.DurationFlag{Name: "duration", Usage: "Stop after this long (0: until interrupted)"},
		},
		Action: streamAction,
	}
}

func streamAction(c *cli.Context) error {
	rt, err := runtimeFrom(c)
	if err != nil {
		return err
	}

	ctx := c.Context
	if d := c.Duration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	samples := make(chan livechannel.Message, 16)
	failed := make(chan error, 1)
	unsubscribe := rt.Session.Subscribe(func(ev session.Event) {
		if ev.Kind != session.EventStream || ev.Stream == nil {
			return
		}
		switch ev.Stream.Topic {
		case livechannel.TopicMessage:
			select {
			case samples <- ev.Stream.Message:
			default:
				// Slow terminal; drop the sample.
			}
		case livechannel.TopicDisconnected:
			fmt.Fprintln(stderr(c), "live channel lost, reconnecting...")
		case livechannel.TopicConnected:
			if ev.Stream.Attempt > 0 {
				fmt.Fprintf(stderr(c), "live channel restored after %d attempt(s)\n", ev.Stream.Attempt)
			}
		case livechannel.TopicMaxReconnect:
			select {
			case failed <- domain.ErrMaxReconnectAttemptsReached:
			default:
			}
		}
	})
	defer unsubscribe()

	if ref := c.Args().First(); ref != "" {
		p, err := rt.findProfile(ctx, ref)
		if err != nil {
			return err
		}
		if err := rt.unlock(ctx, c.String("passphrase")); err != nil {
			return err
		}
		if err := rt.Session.Connect(ctx, p.ID, session.ConnectOptions{}); err != nil {
			return err
		}
	}
	if !rt.Channel.IsOpen() {
		if err := rt.Channel.Open(ctx); err != nil {
			return domain.ErrChannelClosed.WithCause(err)
		}
	}
	if err := rt.Session.Send(ctx, livechannel.StartStream()); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(c.Context, time.Second)
		defer cancel()
		rt.Session.Send(stopCtx, livechannel.StopStream())
	}()

	out := stdout(c)
	machine := machineOutput(c)
	limit := c.Int("count")
	seen := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-failed:
			return err
		case m := <-samples:
			if err := printStreamMessage(out, m, machine); err != nil {
				return err
			}
			if _, ok := m.(livechannel.RealTimeData); ok {
				seen++
			}
			if limit > 0 && seen >= limit {
				return nil
			}
		}
	}
}

func printStreamMessage(w io.Writer, m livechannel.Message, machine bool) error {
	if machine {
		data, err := livechannel.Encode(m)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}

	switch v := m.(type) {
	case livechannel.RealTimeData:
		d := v.Data
		_, err := fmt.Fprintf(w, "%s  users=%s  tx=%s  revenue=%s  cpu=%.1f%%  mem=%.1f%%\n",
			shortTime(v.Timestamp),
			humanize.Comma(int64(d.ActiveUsers)),
			humanize.Comma(int64(d.Transactions)),
			humanize.FormatFloat("#,###.##", d.Revenue),
			d.CPUUsage, d.MemoryUsage)
		return err
	case livechannel.StreamStarted:
		_, err := fmt.Fprintf(w, "-- %s\n", v.Message)
		return err
	case livechannel.StreamStopped:
		_, err := fmt.Fprintf(w, "-- %s\n", v.Message)
		return err
	case livechannel.ErrorMessage:
		_, err := fmt.Fprintf(w, "gateway error: %s\n", v.Message)
		return err
	default:
		// pong, echo, query results and unknown types are not part of the stream.
		return nil
	}
}

// shortTime renders an RFC 3339 gateway timestamp as local clock time.
func shortTime(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("15:04:05")
}
