// SunTec Dashboard - terminal client for the SunTec gateway
//
// The dashboard signs in once, keeps the session in a local SQLite file,
// and shows each inverter's status, availability, energy and power with
// 24-hour and same-day charts. Charts are painted from the local cache
// first and refreshed from the gateway, so the last known state stays
// visible while the gateway is unreachable.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nerrad567/suntec-core/internal/dashboard"
	"github.com/nerrad567/suntec-core/internal/dashboard/tui"
	"github.com/nerrad567/suntec-core/internal/gateway"
	"github.com/nerrad567/suntec-core/internal/infrastructure/config"
	"github.com/nerrad567/suntec-core/internal/infrastructure/logging"
	"github.com/nerrad567/suntec-core/internal/localstore"
	"github.com/nerrad567/suntec-core/internal/session"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/dashboard.yaml"
	configEnv         = "SUNTEC_DASH_CONFIG"
	passwordEnv       = "SUNTEC_DASH_PASSWORD"
	logFileName       = "suntec-dash.log"
)

// errNotLoggedIn is returned when there is no stored session and no
// credentials were given.
var errNotLoggedIn = errors.New("not signed in: pass --email and --password (or " + passwordEnv + ")")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	envFile    string
	gatewayURL string
	devices    []string
	email      string
	password   string
	logout     bool
	version    bool
}

func parseFlags(args []string) (options, error) {
	var o options
	flags := pflag.NewFlagSet("suntec-dash", pflag.ContinueOnError)
	flags.StringVarP(&o.configPath, "config", "c", "", "path to the YAML configuration file")
	flags.StringVar(&o.envFile, "env-file", ".env", "optional dotenv file loaded before the configuration")
	flags.StringVar(&o.gatewayURL, "gateway", "", "gateway base URL (overrides client.gateway_url)")
	flags.StringSliceVarP(&o.devices, "device", "d", nil, "device id to show; repeat for several (overrides client.devices)")
	flags.StringVar(&o.email, "email", "", "account email for signing in")
	flags.StringVar(&o.password, "password", "", "account password (or "+passwordEnv+")")
	flags.BoolVar(&o.logout, "logout", false, "forget the stored session and exit")
	flags.BoolVar(&o.version, "version", false, "print version and exit")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	return o, nil
}

func run(ctx context.Context, args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.version {
		fmt.Printf("suntec-dash %s (%s, %s)\n", version, commit, date)
		return nil
	}

	if opts.envFile != "" {
		if envErr := godotenv.Load(opts.envFile); envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", opts.envFile, envErr)
		}
	}
	if opts.password == "" {
		opts.password = os.Getenv(passwordEnv)
	}

	cfg, err := config.LoadClient(getConfigPath(opts.configPath))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyOptions(cfg, opts)

	loc, err := cfg.GetLocation()
	if err != nil {
		return err
	}

	log := logging.New(cfg.Logging, version).With("site", cfg.Site.ID)
	log.Info("starting SunTec dashboard",
		"version", version,
		"gateway", cfg.Client.GatewayURL,
		"devices", cfg.Client.Devices,
		"timezone", loc.String(),
	)

	store := localstore.New(localstore.Config{
		Path:     cfg.Client.DatabasePath,
		Location: loc,
	})
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Error("error closing local store", "error", closeErr)
		}
	}()

	gwCfg := gateway.Config{
		BaseURL:        cfg.Client.GatewayURL,
		Timeout:        time.Duration(cfg.Client.RequestTimeout) * time.Second,
		ReconnectDelay: time.Duration(cfg.Client.ReconnectDelay) * time.Second,
	}
	authClient, err := gateway.New(gwCfg, nil, log)
	if err != nil {
		return fmt.Errorf("creating gateway client: %w", err)
	}

	sessions := session.NewManager(store.KV(), authClient, log)
	if opts.logout {
		if logoutErr := sessions.Logout(ctx); logoutErr != nil {
			return fmt.Errorf("signing out: %w", logoutErr)
		}
		fmt.Println("signed out")
		return nil
	}
	if signInErr := signIn(ctx, sessions, opts); signInErr != nil {
		return signInErr
	}

	client, err := gateway.New(gwCfg, sessions.TokenSource(ctx), log)
	if err != nil {
		return fmt.Errorf("creating gateway client: %w", err)
	}
	if ready, healthErr := client.Health(ctx); healthErr != nil || !ready {
		log.Warn("gateway not ready, showing cached data", "error", healthErr)
	}

	view := &tui.ProgramView{}
	coord := dashboard.NewCoordinator(dashboard.NewRemote(client), store, view, log, dashboard.Config{
		PointBudget: cfg.Client.PointBudget,
		Retention:   cfg.GetRetention(),
		Location:    loc,
	})
	defer coord.Close()

	program := tea.NewProgram(
		tui.NewModel(ctx, coord, cfg.Client.Devices, loc),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	view.SetProgram(program)

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("running dashboard: %w", err)
	}
	log.Info("dashboard stopped")
	return nil
}

// signIn restores the stored session, or signs in with the given
// credentials. Credentials always replace a stored session.
func signIn(ctx context.Context, sessions *session.Manager, opts options) error {
	if opts.email != "" {
		if opts.password == "" {
			return errNotLoggedIn
		}
		if _, err := sessions.Login(ctx, opts.email, opts.password); err != nil {
			return fmt.Errorf("signing in: %w", err)
		}
		return nil
	}

	s, err := sessions.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	if !s.Authenticated() {
		return errNotLoggedIn
	}
	return nil
}

// applyOptions folds command-line overrides into cfg and keeps log output
// off the terminal the dashboard draws on.
func applyOptions(cfg *config.Config, opts options) {
	if opts.gatewayURL != "" {
		cfg.Client.GatewayURL = opts.gatewayURL
	}
	if len(opts.devices) > 0 {
		cfg.Client.Devices = opts.devices
	}

	switch cfg.Logging.Output {
	case "file", "discard":
	default:
		cfg.Logging.Output = "file"
	}
	if cfg.Logging.Output == "file" && cfg.Logging.File.Path == "" {
		cfg.Logging.File.Path = filepath.Join(filepath.Dir(cfg.Client.DatabasePath), logFileName)
	}
}

func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return defaultConfigPath
}
