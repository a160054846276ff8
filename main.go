package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"library-catalog/config"
	"library-catalog/library"
	"library-catalog/logger"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// app carries what every subcommand needs once the root command has run.
type app struct {
	configPath string
	username   string
	jsonOut    bool

	cfg  *config.Config
	log  zerolog.Logger
	mgr  *library.LibraryManager
	user *library.User

	in  *bufio.Reader
	out io.Writer
	tty bool // stdin is a terminal; passwords are read masked
}

func main() {
	a := &app{
		in:  bufio.NewReader(os.Stdin),
		out: os.Stdout,
		tty: term.IsTerminal(int(os.Stdin.Fd())),
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := a.rootCommand().ExecuteContext(ctx)
	stop()
	if a.mgr != nil {
		a.mgr.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "library",
		Short:         "Library catalog and circulation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (yaml, toml or json)")
	root.PersistentFlags().StringVarP(&a.username, "user", "u", os.Getenv("LIBRARY_USER"), "log in as this user")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		a.initCommand(),
		a.whoamiCommand(),
		a.bookCommand(),
		a.authorCommand(),
		a.genreCommand(),
		a.publisherCommand(),
		a.languagesCommand(),
		a.copiesCommand(),
		a.loanCommand(),
		a.reserveCommand(),
		a.reservationCommand(),
		a.customerCommand(),
		a.userCommand(),
		a.statsCommand(),
		a.activityCommand(),
	)
	return root
}

// open loads the configuration and opens the store. Seeding runs on every
// start and only writes the demo users that are missing.
func (a *app) open(cmd *cobra.Command) error {
	cfg, err := config.NewConfig(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger.Init(cfg.App.Env, cfg.App.LogLevel)

	mgr, err := library.OpenLibraryManager(cfg.Database.Driver, cfg.Database.DataSource(),
		library.WithLogger(a.log),
		library.WithBcryptCost(cfg.Auth.BcryptCost),
		library.WithImageStore(library.NewImageStore(afero.NewOsFs(), cfg.Images.Dir)),
	)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	a.mgr = mgr

	if cfg.Seed.DemoUsers {
		if _, err := mgr.SeedDemoUsers(cmd.Context()); err != nil {
			return fmt.Errorf("seeding demo users: %w", err)
		}
	}
	return nil
}

func (a *app) initCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the schema and demo users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// open has already migrated and seeded.
			fmt.Fprintf(a.out, "Database ready (%s).\n", a.cfg.Database.Driver)
			return nil
		},
	}
}

func (a *app) whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Log in and show the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.login(cmd)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(u)
			}
			fmt.Fprintf(a.out, "%s (%s), role %s\n", u.FullName(), u.Username, u.Role)
			return nil
		},
	}
}

// login authenticates --user once per run, prompting for the password.
func (a *app) login(cmd *cobra.Command) (*library.User, error) {
	if a.user != nil {
		return a.user, nil
	}
	if a.username == "" {
		return nil, errors.New("this command needs --user")
	}
	password, err := a.readPassword(fmt.Sprintf("Password for %s: ", a.username))
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	u, err := a.mgr.Authenticate(cmd.Context(), a.username, password)
	if err != nil {
		return nil, err
	}
	a.user = u
	a.log.Debug().Str("user", u.Username).Str("role", string(u.Role)).Msg("logged in")
	return u, nil
}

// require logs in and checks the role before any work is done.
func (a *app) require(cmd *cobra.Command, c library.Capability) (*library.User, error) {
	u, err := a.login(cmd)
	if err != nil {
		return nil, err
	}
	if !u.Role.Can(c) {
		return nil, fmt.Errorf("%s cannot %s: %w", u.Role, c, library.ErrForbidden)
	}
	return u, nil
}

// readPassword masks input on a terminal and reads a plain line otherwise.
func (a *app) readPassword(prompt string) (string, error) {
	if a.tty {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s ID: %s", what, s)
	}
	return id, nil
}

// parseDate accepts YYYY-MM-DD. An empty string is no date.
func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return &t, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.DateOnly)
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
