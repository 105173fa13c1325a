package command

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/querydeck-go/internal/core/domain"
)

// profileView is the printed shape of a profile.
type profileView struct {
	ID              string        `json:"id" yaml:"id" table:"ID,wide"`
	Name            string        `json:"name" yaml:"name" table:"NAME"`
	Kind            domain.Kind   `json:"kind" yaml:"kind" table:"KIND"`
	Address         string        `json:"address" yaml:"address" table:"ADDRESS"`
	Database        string        `json:"database" yaml:"database" table:"DATABASE"`
	Username        string        `json:"username,omitempty" yaml:"username,omitempty" table:"USER,wide"`
	Status          domain.Status `json:"status" yaml:"status" table:"STATUS"`
	HasStoredSecret bool          `json:"has_stored_secret" yaml:"has_stored_secret" table:"SAVED"`
	LastConnectedAt *time.Time    `json:"last_connected_at,omitempty" yaml:"last_connected_at,omitempty" table:"LAST CONNECTED"`
	CreatedAt       time.Time     `json:"created_at" yaml:"created_at" table:"CREATED,wide"`
}

func newProfileView(p domain.Profile) profileView {
	return profileView{
		ID:              p.ID,
		Name:            p.Name,
		Kind:            p.Kind,
		Address:         p.Endpoint.Address(),
		Database:        p.Endpoint.Database,
		Username:        p.Endpoint.Username,
		Status:          p.Status,
		HasStoredSecret: p.HasStoredSecret,
		LastConnectedAt: p.LastConnectedAt,
		CreatedAt:       p.CreatedAt,
	}
}

// ProfileCommand returns the profile subcommand group.
func ProfileCommand() *cli.Command {
	return &cli.Command{
		Name:    "profile",
		Aliases: []string{"profiles", "p"},
		Usage:   "Manage connection profiles",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List profiles",
				Action:  profileList,
			},
			{
				Name:      "show",
				Usage:     "Show one profile",
				ArgsUsage: "PROFILE",
				Action:    profileShow,
			},
			{
				Name:  "create",
				Usage: "Create a profile",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Display name (default: derived from host and database)"},
					&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Usage: "postgresql, mysql, mongodb or sqlite", Required: true},
					&cli.StringFlag{Name: "host", Usage: "Database host", Value: "localhost"},
					&cli.IntFlag{Name: "port", Usage: "Database port (default: the kind's standard port)"},
					&cli.StringFlag{Name: "database", Aliases: []string{"d"}, Usage: "Database name, or file path for sqlite", Required: true},
					&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "Database user"},
				},
				Action: profileCreate,
			},
			{
				Name:      "rename",
				Usage:     "Rename a profile",
				ArgsUsage: "PROFILE NEW_NAME",
				Action:    profileRename,
			},
			{
				Name:      "delete",
				Aliases:   []string{"rm"},
				Usage:     "Delete a profile and its stored secret",
				ArgsUsage: "PROFILE",
				Action:    profileDelete,
			},
			{
				Name:      "export",
				Usage:     "Write all profiles as YAML (no secrets)",
				ArgsUsage: "[FILE]",
				Action:    profileExport,
			},
			{
				Name:      "import",
				Usage:     "Create profiles from a YAML export",
				ArgsUsage: "FILE|-",
				Action:    profileImport,
			},
		},
	}
}

func profileList(c *cli.Context) error {
	rt, err := runtimeFrom(c)
	if err != nil {
		return err
	}
	profiles, err := rt.Registry.List(c.Context)
	if err != nil {
		return err
	}
	sort.Slice(profiles, func(i, j int) bool {
		return strings.ToLower(profiles[i].Name) < strings.ToLower(profiles[j].Name)
	})

	views := make([]profileView, 0, len(profiles))
	for _, p := range profiles {
		views = append(views, newProfileView(p))
	}
	if len(views) == 0 && !machineOutput(c) {
		fmt.Fprintln(stdout(c), "No profiles. Create one with: querydeck-cli profile create")
		return nil
	}
	return render(c, views)
}

func profileShow(c *cli.Context) error {
	rt, err := runtimeFrom(c)
	if err != nil {
		return err
	}
	p, err := rt.findProfile(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	return render(c, newProfileView(*p))
}

func profileCreate(c *cli.Context) error {
	rt, err := runtimeFrom(c)
	if err != nil {
		return err
	}
	kind, ok := domain.ParseKind(c.String("kind"))
	if !ok {
		return domain.ErrInvalidProfile.WithDetails(fmt.Sprintf("unsupported kind %q", c.String("kind")))
	}
	port := c.Int("port")
	if port == 0 {
		port = kind.DefaultPort()
	}
	p := domain.Profile{
		Name: c.String("name"),
		Kind: kind,
		Endpoint: domain.Endpoint{
			Host:     c.String("host"),
			Port:     port,
			Database: c.String("database"),
			Username: c.String("user"),
		},
	}

	if dup := rt.Registry.FindDuplicate(p); dup != nil {
		fmt.Fprintf(stderr(c), "warning: profile %q (%s) already points at this database\n", dup.Name, dup.ID)
	}

	id, err := rt.Registry.Create(c.Context, p)
	if err != nil {
		return err
	}
	created, err := rt.Registry.Get(c.Context, id)
	if err != nil {
		return err
	}
	if machineOutput(c) {
		return render(c, newProfileView(*created))
	}
	fmt.Fprintf(stdout(c), "Created profile %q (%s)\n", created.Name, created.ID)
	return nil
}

func profileRename(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: %s", "profile rename PROFILE NEW_NAME")
	}
	rt, err := runtimeFrom(c)
	if err != nil {
		return err
	}
	p, err := rt.findProfile(c.Context, c.Args().Get(0))
	if err != nil {
		return err
	}
	if err := rt.Registry.Rename(c.Context, p.ID, c.Args().Get(1)); err != nil {
		return err
	}
	fmt.Fprintf(stdout(c), "Renamed %q to %q\n", p.Name, strings.TrimSpace(c.Args().Get(1)))
	return nil
}

func profileDelete(c *cli.Context) error {
	rt, err := runtimeFrom(c)
	if err != nil {
		return err
	}
	p, err := rt.findProfile(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	if err := rt.Registry.Delete(c.Context, p.ID); err != nil {
		return err
	}
	fmt.Fprintf(stdout(c), "Deleted profile %q\n", p.Name)
	return nil
}

func profileExport(c *cli.Context) error {
	rt, err := runtimeFrom(c)
	if err != nil {
		return err
	}
	path := c.Args().First()
	if path == "" || path == "-" {
		return rt.Registry.Export(c.Context, stdout(c))
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := rt.Registry.Export(c.Context, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(stderr(c), "Exported profiles to %s\n", path)
	return nil
}

func profileImport(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("import file required (use - for stdin)")
	}
	rt, err := runtimeFrom(c)
	if err != nil {
		return err
	}

	var src io.Reader = c.App.Reader
	if src == nil {
		src = os.Stdin
	}
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
	}

	res, err := rt.Registry.Import(c.Context, src)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout(c), "Imported %d profile(s)\n", len(res.Created))
	if len(res.Rejected) == 0 {
		return nil
	}
	idx := make([]int, 0, len(res.Rejected))
	for i := range res.Rejected {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	for _, i := range idx {
		fmt.Fprintf(stderr(c), "  entry %d skipped: %v\n", i+1, res.Rejected[i])
	}
	return fmt.Errorf("%d of %d entries rejected", len(res.Rejected), len(res.Rejected)+len(res.Created))
}
