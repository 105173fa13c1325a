package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/querydeck-go/internal/cli/repl"
	"github.com/yndnr/querydeck-go/internal/core/domain"
	"github.com/yndnr/querydeck-go/internal/core/session"
	"github.com/yndnr/querydeck-go/internal/gateway"
	"github.com/yndnr/querydeck-go/internal/livechannel"
)

const queryTimeout = 30 * time.Second

// ShellCommand returns the interactive query shell.
func ShellCommand() *cli.Command {
	return &cli.Command{
		Name:      "shell",
		Aliases:   []string{"sh"},
		Usage:     "Run queries interactively over the live channel",
		ArgsUsage: "[PROFILE]",
		Flags: []cli.Flag{
			passphraseFlag(),
			&cli.BoolFlag{Name: "remember", Aliases: []string{"r"}, Usage: "Store prompted credentials in the vault"},
			&cli.StringFlag{Name: "history", Usage: "History file", Value: repl.DefaultHistoryFile()},
		},
		Action: shellAction,
	}
}

func shellAction(c *cli.Context) error {
	rt, err := runtimeFrom(c)
	if err != nil {
		return err
	}
	nav := &shellNavigator{c: c, rt: rt}

	ref := c.Args().First()
	if ref == "" {
		st, err := rt.Gateway.Status(c.Context)
		if err != nil {
			return err
		}
		if !st.Connected {
			return domain.ErrNoActiveConnection.WithDetails("pass a profile or run connect first")
		}
		nav.run(c.Context, st.Database)
		return nav.err
	}

	p, err := rt.findProfile(c.Context, ref)
	if err != nil {
		return err
	}
	if err := rt.unlock(c.Context, c.String("passphrase")); err != nil {
		return err
	}
	if err := rt.Session.ActivateAndEnter(c.Context, p.ID, nav); err != nil {
		return err
	}
	return nav.err
}

// shellNavigator enters the shell for the profile the controller hands it.
type shellNavigator struct {
	c   *cli.Context
	rt  *Runtime
	err error
}

func (n *shellNavigator) Enter(ctx context.Context, p domain.Profile) {
	if p.Status != domain.StatusConnected {
		opts := session.ConnectOptions{Remember: n.c.Bool("remember")}
		if err := n.rt.Session.Connect(ctx, p.ID, opts); err != nil {
			n.err = err
			return
		}
	}
	n.run(ctx, p.Name)
}

func (n *shellNavigator) run(ctx context.Context, prompt string) {
	if !n.rt.Channel.IsOpen() {
		if err := n.rt.Channel.Open(ctx); err != nil {
			n.err = domain.ErrChannelClosed.WithCause(err)
			return
		}
	}
	exec, stop := newChannelExecutor(n.rt.Session, n.rt.Gateway)
	defer stop()

	var in io.Reader = n.c.App.Reader
	if in == nil {
		in = os.Stdin
	}
	shell := repl.New(exec,
		repl.WithIO(in, stdout(n.c)),
		repl.WithPrompt(prompt),
		repl.WithHistory(repl.NewHistory(n.c.String("history"))),
	)
	n.err = shell.Run(ctx)
}

// channelExecutor runs one query at a time as execute_query and waits for
// the matching query_result or error message.
type channelExecutor struct {
	ctl     *session.Controller
	gw      *gateway.Client
	mu      sync.Mutex
	replies chan livechannel.Message
	timeout time.Duration
}

func newChannelExecutor(ctl *session.Controller, gw *gateway.Client) (*channelExecutor, func()) {
	e := &channelExecutor{
		ctl:     ctl,
		gw:      gw,
		replies: make(chan livechannel.Message, 1),
		timeout: queryTimeout,
	}
	cancel := ctl.Subscribe(func(ev session.Event) {
		if ev.Kind != session.EventStream || ev.Stream == nil || ev.Stream.Topic != livechannel.TopicMessage {
			return
		}
		switch ev.Stream.Message.(type) {
		case livechannel.QueryResult, livechannel.ErrorMessage:
			select {
			case e.replies <- ev.Stream.Message:
			default:
				// Nobody is waiting; a late reply to a timed-out query.
			}
		}
	})
	return e, cancel
}

func (e *channelExecutor) Query(ctx context.Context, q string) (*gateway.QueryResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Discard a stale reply left by an earlier timeout.
	select {
	case <-e.replies:
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.ctl.Send(ctx, livechannel.ExecuteQuery(q)); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("no reply within %s", e.timeout)
		}
		return nil, ctx.Err()
	case m := <-e.replies:
		switch v := m.(type) {
		case livechannel.ErrorMessage:
			return nil, errors.New(v.Message)
		case livechannel.QueryResult:
			var res gateway.QueryResult
			if err := json.Unmarshal(v.Result, &res); err != nil {
				return nil, fmt.Errorf("malformed query result: %w", err)
			}
			return &res, nil
		}
		return nil, fmt.Errorf("unexpected reply %s", m.Type())
	}
}

func (e *channelExecutor) Schema(ctx context.Context) ([]gateway.Table, error) {
	return e.gw.Schema(ctx)
}
