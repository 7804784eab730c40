// SunTec Gateway - solar inverter telemetry service
//
// The gateway authenticates users, serves the latest and historical state
// of each inverter over REST, and relays new readings to live subscribers
// over Server-Sent Events and WebSocket. Readings arrive from the devices
// on MQTT and are stored in the configured telemetry backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/pflag"

	"github.com/nerrad567/suntec-core/internal/api"
	"github.com/nerrad567/suntec-core/internal/audit"
	"github.com/nerrad567/suntec-core/internal/identity"
	"github.com/nerrad567/suntec-core/internal/infrastructure/config"
	"github.com/nerrad567/suntec-core/internal/infrastructure/database"
	"github.com/nerrad567/suntec-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/suntec-core/internal/infrastructure/logging"
	"github.com/nerrad567/suntec-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/suntec-core/internal/telemetry"
	"github.com/nerrad567/suntec-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnv         = "SUNTEC_CONFIG"

	// maintenanceInterval is how often expired refresh tokens and old
	// audit events are removed.
	maintenanceInterval = 6 * time.Hour
	auditRetention      = 90 * 24 * time.Hour
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the gateway lifecycle, separated from main for testability.
// It returns nil on a clean shutdown after ctx is cancelled.
func run(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("suntec", pflag.ContinueOnError)
	configFlag := flags.StringP("config", "c", "", "path to the YAML configuration file")
	envFile := flags.String("env-file", ".env", "optional dotenv file loaded before the configuration")
	showVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Printf("suntec %s (%s, %s)\n", version, commit, date)
		return nil
	}

	log := logging.Default()
	log.Info("starting SunTec gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	if err := loadEnvFile(*envFile); err != nil {
		return err
	}

	configPath := getConfigPath(*configFlag)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version).With("site", cfg.Site.ID)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"site_name", cfg.Site.Name,
	)

	db, err := database.Open(database.Config{
		Driver:      database.DriverSQLite3,
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	ids, err := buildIdentity(cfg, db, log)
	if err != nil {
		return err
	}
	seeded, err := ids.SeedAdmin(ctx, cfg.Identity.Admin.Email, cfg.Identity.Admin.Password, cfg.Identity.Admin.DisplayName)
	if err != nil {
		return err
	}
	if seeded {
		log.Info("administrator account created", "email", cfg.Identity.Admin.Email)
	}
	auditRepo := audit.NewSQLiteRepository(db.DB)
	local, _ := ids.Provider().(*identity.LocalProvider)
	go maintain(ctx, local, auditRepo, log)

	source, closeSource, err := openSource(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSource()

	feed := telemetry.NewFeed()

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		ingest := telemetry.NewIngest(source, feed, cfg.Telemetry.StateTopic, log)
		if startErr := ingest.Start(mqttClient); startErr != nil {
			return fmt.Errorf("starting ingest: %w", startErr)
		}
	} else {
		log.Warn("MQTT disabled, live readings will not be ingested")
	}

	server, err := api.New(api.Deps{
		Config:    cfg.API,
		Telemetry: cfg.Telemetry,
		Logger:    log,
		Identity:  ids,
		Source:    source,
		Feed:      feed,
		Audit:     auditRepo,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if healthErr := healthCheck(ctx, db, mqttClient, source); healthErr != nil {
		log.Warn("initial health check failed", "error", healthErr)
	} else {
		log.Info("all services healthy")
	}

	log.Info("SunTec gateway started successfully",
		"source", cfg.Telemetry.Source,
		"identity", cfg.Identity.Mode,
	)

	<-ctx.Done()
	log.Info("shutdown signal received, stopping services")

	return nil
}

// buildIdentity wires the configured identity provider to the account
// database.
func buildIdentity(cfg *config.Config, db *database.DB, log *logging.Logger) (*identity.Service, error) {
	profiles := identity.NewProfileRepository(db.DB)

	var provider identity.Provider
	switch cfg.Identity.Mode {
	case config.IdentityRemote:
		r := cfg.Identity.Remote
		remote, err := identity.NewRemoteProvider(identity.RemoteConfig{
			APIKey:    r.APIKey,
			ProjectID: r.ProjectID,
			Endpoint:  r.Endpoint,
			TokenURL:  r.TokenURL,
			JWKSURL:   r.JWKSURL,
			Issuer:    r.Issuer,
			Timeout:   time.Duration(r.Timeout) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("creating remote identity provider: %w", err)
		}
		provider = remote
	default:
		provider = identity.NewLocalProvider(
			identity.NewAccountRepository(db.DB),
			identity.NewTokenRepository(db.DB),
			identity.LocalConfig{
				Secret:     cfg.Security.JWT.Secret,
				AccessTTL:  time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute,
				RefreshTTL: time.Duration(cfg.Security.JWT.RefreshTokenTTL) * time.Minute,
			},
		)
	}
	log.Info("identity provider initialised", "mode", cfg.Identity.Mode)

	return identity.NewService(provider, profiles, log), nil
}

// openSource connects the configured telemetry backend. The returned
// function releases it.
func openSource(ctx context.Context, cfg *config.Config, log *logging.Logger) (telemetry.Source, func(), error) {
	switch cfg.Telemetry.Source {
	case config.SourcePostgres:
		pg, err := telemetry.NewPostgresSource(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to Postgres: %w", err)
		}
		log.Info("Postgres telemetry source connected")
		return pg, func() {
			log.Info("closing Postgres")
			pg.Close()
		}, nil

	case config.SourceMemory:
		log.Warn("using in-memory telemetry source, readings are lost on restart")
		return telemetry.NewMemorySource(), func() {}, nil

	default:
		influxClient, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"bucket", cfg.InfluxDB.Bucket,
		)
		return telemetry.NewInfluxSource(influxClient), func() {
			log.Info("closing InfluxDB")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}, nil
	}
}

// maintain prunes expired refresh tokens and old audit events until ctx is
// cancelled. local is nil with a remote identity provider.
func maintain(ctx context.Context, local *identity.LocalProvider, events audit.Repository, log *logging.Logger) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		if local != nil {
			n, err := local.PruneTokens(ctx)
			switch {
			case err != nil && ctx.Err() == nil:
				log.Warn("pruning refresh tokens failed", "error", err)
			case n > 0:
				log.Info("expired refresh tokens pruned", "count", n)
			}
		}

		n, err := events.Prune(ctx, time.Now().Add(-auditRetention))
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("pruning audit events failed", "error", err)
		case n > 0:
			log.Info("old audit events pruned", "count", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// healthCheck verifies the connected services respond. mqttClient may be
// nil when ingestion is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, source telemetry.Source) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if err := source.HealthCheck(ctx); err != nil {
		return fmt.Errorf("telemetry source: %w", err)
	}
	return nil
}

// loadEnvFile loads KEY=value pairs into the environment without
// overriding variables that are already set. A missing file is ignored.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// getConfigPath returns the configuration file path: the flag, then the
// SUNTEC_CONFIG environment variable, then the default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return defaultConfigPath
}
