package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/querydeck-go/internal/cli/config"
	"github.com/yndnr/querydeck-go/internal/core/audit"
	"github.com/yndnr/querydeck-go/internal/core/domain"
)

func passphraseFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "passphrase",
		Usage:   "Vault passphrase (prompted when omitted)",
		EnvVars: []string{"QUERYDECK_PASSPHRASE"},
	}
}

// VaultCommand returns the vault subcommand group.
func VaultCommand() *cli.Command {
	return &cli.Command{
		Name:  "vault",
		Usage: "Manage stored credentials",
		Subcommands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Show vault backend and passphrase state",
				Action: vaultStatus,
			},
			{
				Name:   "init",
				Usage:  "Set the master passphrase of the local vault",
				Flags:  []cli.Flag{passphraseFlag()},
				Action: vaultInit,
			},
			{
				Name:      "store",
				Usage:     "Store credentials for a profile",
				ArgsUsage: "PROFILE",
				Flags: []cli.Flag{
					passphraseFlag(),
					&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "Username (default: the profile's user)"},
				},
				Action: vaultStore,
			},
			{
				Name:      "remove",
				Aliases:   []string{"rm"},
				Usage:     "Forget the stored credentials of a profile",
				ArgsUsage: "PROFILE",
				Action:    vaultRemove,
			},
			{
				Name:      "audit",
				Usage:     "Show recorded credential operations, newest first",
				ArgsUsage: "[PROFILE]",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "Maximum number of entries"},
				},
				Action: vaultAudit,
			},
			{
				Name:  "reset",
				Usage: "Destroy the passphrase and every stored credential",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Do not ask for confirmation"},
				},
				Action: vaultReset,
			},
		},
	}
}

type vaultState struct {
	Backend       string `json:"backend" yaml:"backend"`
	PassphraseSet bool   `json:"passphrase_set" yaml:"passphrase_set"`
	StoredSecrets int    `json:"stored_secrets" yaml:"stored_secrets"`
}

func vaultStatus(c *cli.Context) error {
	rt, err := runtimeFrom(c)
	if err != nil {
		return err
	}
	has, err := rt.Vault.HasMasterPassphrase(c.Context)
	if err != nil {
		return err
	}
	profiles, err := rt.Registry.List(c.Context)
	if err != nil {
		return err
	}
	st := vaultState{Backend: rt.Vault.Backend(), PassphraseSet: has}
	for _, p := range profiles {
		if p.HasStoredSecret {
			st.StoredSecrets++
		}
	}
	return render(c, st)
}

func vaultInit(c *cli.Context) error {
	rt, err := runtimeFrom(c)
	if err != nil {
		return err
	}
	if rt.Vault.Backend() != config.VaultLocal {
		fmt.Fprintf(stdout(c), "The %s vault needs no passphrase\n", rt.Vault.Backend())
		return nil
	}
	pass := c.String("passphrase")
	if pass == "" {
		if pass, err = readNewSecret(rt.Terminal, "vault passphrase"); err != nil {
			return err
		}
	}
	if strings.TrimSpace(pass) == "" {
		return domain.ErrPassphraseRequired.WithDetails("passphrase must not be empty")
	}
	if err := rt.Vault.SetMasterPassphrase(c.Context, pass); err != nil {
		return err
	}
	fmt.Fprintln(stdout(c), "Vault passphrase set")
	return nil
}

func vaultStore(c *cli.Context) error {
	rt, err := runtimeFrom(c)
	if err != nil {
		return err
	}
	p, err := rt.findProfile(c.Context, c.Args().First())
	if err != nil {
		return err
	}

	pass := c.String("passphrase")
	if rt.Vault.Backend() == config.VaultLocal && pass == "" {
		has, err := rt.Vault.HasMasterPassphrase(c.Context)
		if err != nil {
			return err
		}
		if !has {
			return domain.ErrPassphraseRequired.WithDetails("run: querydeck-cli vault init")
		}
		if pass, err = rt.Terminal.ReadSecret("Vault passphrase: "); err != nil {
			return err
		}
	}

	user := c.String("user")
	if user == "" {
		user = p.Endpoint.Username
	}
	secret, err := rt.Terminal.ReadSecret(fmt.Sprintf("Password for %s@%s: ", user, p.Endpoint.Address()))
	if err != nil {
		return err
	}
	if err := rt.Vault.Store(c.Context, p.ID, domain.Secret{Username: user, Password: secret}, pass); err != nil {
		return err
	}
	fmt.Fprintf(stdout(c), "Stored credentials for %q\n", p.Name)
	return nil
}

func vaultRemove(c *cli.Context) error {
	rt, err := runtimeFrom(c)
	if err != nil {
		return err
	}
	p, err := rt.findProfile(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	if err := rt.Vault.Remove(c.Context, p.ID); err != nil {
		return err
	}
	fmt.Fprintf(stdout(c), "Removed stored credentials for %q\n", p.Name)
	return nil
}

func vaultReset(c *cli.Context) error {
	rt, err := runtimeFrom(c)
	if err != nil {
		return err
	}
	if !c.Bool("yes") {
		if rt.Terminal == nil || !rt.Terminal.Interactive() {
			return fmt.Errorf("refusing to reset without --yes")
		}
		answer, err := rt.Terminal.ReadLine("Delete the passphrase and all stored credentials? [y/N] ")
		if err != nil {
			return err
		}
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			fmt.Fprintln(stdout(c), "Aborted")
			return nil
		}
	}
	if err := rt.Vault.Reset(c.Context); err != nil {
		return err
	}
	fmt.Fprintln(stdout(c), "Vault reset")
	return nil
}

type auditRow struct {
	Time      time.Time `json:"time" yaml:"time" table:"WHEN"`
	Op        string    `json:"op" yaml:"op" table:"OP"`
	Profile   string    `json:"profile_id,omitempty" yaml:"profile_id,omitempty" table:"PROFILE"`
	Success   bool      `json:"success" yaml:"success" table:"OK"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty" table:"ERROR"`
	Backend   string    `json:"backend" yaml:"backend" table:"BACKEND,wide"`
	Client    string    `json:"remote_addr,omitempty" yaml:"remote_addr,omitempty" table:"CLIENT,wide"`
	UserAgent string    `json:"user_agent,omitempty" yaml:"user_agent,omitempty" table:"-"`
	ID        string    `json:"id" yaml:"id" table:"ID,wide"`
}

func vaultAudit(c *cli.Context) error {
	rt, err := runtimeFrom(c)
	if err != nil {
		return err
	}
	// A bare id stays usable after its profile is deleted.
	id := c.Args().First()
	if id != "" && !domain.IsValidProfileID(id) {
		p, err := rt.findProfile(c.Context, id)
		if err != nil {
			return err
		}
		id = p.ID
	}

	var entries []audit.Entry
	if rt.Vault.Backend() == config.VaultRemote {
		entries, err = rt.Gateway.Audit(c.Context, id, c.Int("limit"))
	} else {
		entries, err = rt.Trail.List(c.Context, audit.LocalScope, audit.Query{ProfileID: id, Limit: c.Int("limit")})
	}
	if err != nil {
		return err
	}

	rows := make([]auditRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, auditRow{
			Time:      e.Time,
			Op:        e.Op,
			Profile:   e.ProfileID,
			Success:   e.Success,
			Error:     e.Error,
			Backend:   e.Backend,
			Client:    e.RemoteAddr,
			UserAgent: e.UserAgent,
			ID:        e.ID,
		})
	}
	return render(c, rows)
}
