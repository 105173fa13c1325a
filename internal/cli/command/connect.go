package command

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/querydeck-go/internal/cli/output"
	"github.com/yndnr/querydeck-go/internal/core/domain"
	"github.com/yndnr/querydeck-go/internal/core/session"
	"github.com/yndnr/querydeck-go/internal/gateway"
)

// ConnectCommand returns the connect command.
func ConnectCommand() *cli.Command {
	return &cli.Command{
		Name:      "connect",
		Usage:     "Open the gateway database session for a profile",
		ArgsUsage: "PROFILE",
		Flags: []cli.Flag{
			passphraseFlag(),
			&cli.BoolFlag{Name: "remember", Aliases: []string{"r"}, Usage: "Store prompted credentials in the vault"},
			&cli.BoolFlag{Name: "password-stdin", Usage: "Read the password from stdin instead of the vault or a prompt"},
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "Username for --password-stdin (default: the profile's user)"},
		},
		Action: connectAction,
	}
}

func connectAction(c *cli.Context) error {
	rt, err := runtimeFrom(c)
	if err != nil {
		return err
	}
	p, err := rt.findProfile(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	if err := rt.unlock(c.Context, c.String("passphrase")); err != nil {
		return err
	}

	opts := session.ConnectOptions{Remember: c.Bool("remember")}
	if c.Bool("password-stdin") {
		pass, err := rt.Terminal.ReadSecret("")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		user := c.String("user")
		if user == "" {
			user = p.Endpoint.Username
		}
		opts.Secret = &domain.Secret{Username: user, Password: pass}
	}

	// Connect errors are returned; other error events are warnings here.
	unsubscribe := rt.Session.Subscribe(func(ev session.Event) {
		if ev.Kind == session.EventError && ev.Err != nil && errors.Is(ev.Err, domain.ErrChannelClosed) {
			fmt.Fprintf(stderr(c), "warning: %v\n", ev.Err)
		}
	})
	defer unsubscribe()

	var spin *output.Spinner
	if rt.Terminal != nil && rt.Terminal.Interactive() && !machineOutput(c) {
		spin = output.NewSpinner(stderr(c), fmt.Sprintf("Connecting to %s", p.Name))
		spin.Start()
	}

	started := time.Now()
	select {
	case err = <-rt.Session.ConnectAsync(c.Context, p.ID, opts):
	case <-c.Context.Done():
		err = c.Context.Err()
	}
	if err != nil {
		if spin != nil {
			spin.Fail(fmt.Sprintf("Connection to %s failed", p.Name))
		}
		if msg := domain.RemoteMessage(err); msg != "" {
			return fmt.Errorf("gateway refused the connection: %s", msg)
		}
		return err
	}

	if spin != nil {
		spin.Stop()
	}
	if machineOutput(c) {
		fresh, err := rt.Registry.Get(c.Context, p.ID)
		if err != nil {
			return err
		}
		return render(c, newProfileView(*fresh))
	}
	fmt.Fprintf(stdout(c), "Connected to %q (%s %s/%s) in %s\n",
		p.Name, p.Kind, p.Endpoint.Address(), p.Endpoint.Database, time.Since(started).Round(time.Millisecond))
	return nil
}

// DisconnectCommand returns the disconnect command.
func DisconnectCommand() *cli.Command {
	return &cli.Command{
		Name:   "disconnect",
		Usage:  "Close the gateway database session",
		Action: disconnectAction,
	}
}

func disconnectAction(c *cli.Context) error {
	rt, err := runtimeFrom(c)
	if err != nil {
		return err
	}
	st, err := rt.Gateway.Status(c.Context)
	if err != nil {
		return err
	}
	if !st.Connected {
		fmt.Fprintln(stdout(c), "Not connected")
		return nil
	}
	if err := rt.Gateway.Disconnect(c.Context); err != nil {
		return err
	}
	fmt.Fprintf(stdout(c), "Disconnected from %s\n", st.Database)
	return nil
}

type statusView struct {
	Connected   bool        `json:"connected" yaml:"connected" table:"CONNECTED"`
	Status      string      `json:"status" yaml:"status" table:"STATUS"`
	Kind        domain.Kind `json:"kind,omitempty" yaml:"kind,omitempty" table:"KIND"`
	Database    string      `json:"database,omitempty" yaml:"database,omitempty" table:"DATABASE"`
	ConnectedAt *time.Time  `json:"connected_at,omitempty" yaml:"connected_at,omitempty" table:"SINCE"`
	Gateway     string      `json:"gateway" yaml:"gateway" table:"GATEWAY,wide"`
}

// StatusCommand returns the status command.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show the gateway database session",
		Action: statusAction,
	}
}

func statusAction(c *cli.Context) error {
	rt, err := runtimeFrom(c)
	if err != nil {
		return err
	}
	st, err := rt.Gateway.Status(c.Context)
	if err != nil {
		return err
	}
	return render(c, statusView{
		Connected:   st.Connected,
		Status:      st.Status,
		Kind:        st.Kind,
		Database:    st.Database,
		ConnectedAt: st.ConnectedAt,
		Gateway:     rt.Gateway.BaseURL(),
	})
}

type tableView struct {
	Schema  string `json:"schema" yaml:"schema" table:"SCHEMA"`
	Name    string `json:"name" yaml:"name" table:"NAME"`
	Columns int    `json:"columns" yaml:"columns" table:"COLUMNS"`
}

type columnView struct {
	Name     string `json:"name" yaml:"name" table:"COLUMN"`
	Type     string `json:"type" yaml:"type" table:"TYPE"`
	Nullable bool   `json:"nullable" yaml:"nullable" table:"NULLABLE"`
	Default  string `json:"default,omitempty" yaml:"default,omitempty" table:"DEFAULT"`
}

// SchemaCommand returns the schema command.
func SchemaCommand() *cli.Command {
	return &cli.Command{
		Name:      "schema",
		Usage:     "List tables of the connected database, or the columns of one",
		ArgsUsage: "[TABLE]",
		Action:    schemaAction,
	}
}

func schemaAction(c *cli.Context) error {
	rt, err := runtimeFrom(c)
	if err != nil {
		return err
	}
	tables, err := rt.Gateway.Schema(c.Context)
	if err != nil {
		return err
	}

	if name := c.Args().First(); name != "" {
		t, ok := findTable(tables, name)
		if !ok {
			return domain.ErrNotFound.WithDetails(fmt.Sprintf("table %q", name))
		}
		cols := make([]columnView, 0, len(t.Columns))
		for _, col := range t.Columns {
			v := columnView{Name: col.Name, Type: col.Type, Nullable: col.Nullable}
			if col.Default != nil {
				v.Default = *col.Default
			}
			cols = append(cols, v)
		}
		return render(c, cols)
	}

	views := make([]tableView, 0, len(tables))
	for _, t := range tables {
		views = append(views, tableView{Schema: t.Schema, Name: t.Name, Columns: len(t.Columns)})
	}
	return render(c, views)
}

func findTable(tables []gateway.Table, name string) (gateway.Table, bool) {
	schema, table, qualified := strings.Cut(name, ".")
	for _, t := range tables {
		if qualified && strings.EqualFold(t.Schema, schema) && strings.EqualFold(t.Name, table) {
			return t, true
		}
		if !qualified && strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return gateway.Table{}, false
}
