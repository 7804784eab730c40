package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // site.timezone must resolve on hosts without zoneinfo

	"gopkg.in/yaml.v3"
)

// Telemetry source backends.
const (
	SourceInfluxDB = "influxdb"
	SourcePostgres = "postgres"
	SourceMemory   = "memory"
)

// Identity provider modes.
const (
	IdentityLocal  = "local"
	IdentityRemote = "remote"
)

// Config is the root configuration structure for SunTec Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Identity  IdentityConfig  `yaml:"identity"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Client    ClientConfig    `yaml:"client"`
}

// SiteConfig contains site-specific information.
//
// ID tags every log entry. Timezone names the IANA zone used for day
// buckets and the "today" window; "Local" means the host zone.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings for the gateway account store.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	TLS       TLSConfig        `yaml:"tls"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	CORS      CORSConfig       `yaml:"cors"`
	Stream    StreamConfig     `yaml:"stream"`
	StaticDir string           `yaml:"static_dir"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
// The write timeout does not apply to the live stream endpoints.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
}

// StreamConfig contains live channel settings (SSE and WebSocket).
type StreamConfig struct {
	// KeepAlive is the interval in seconds between SSE keep-alive comments
	// and WebSocket pings.
	KeepAlive      int `yaml:"keep_alive"`
	MaxMessageSize int `yaml:"max_message_size"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	Measurement   string `yaml:"measurement"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// PostgresConfig contains settings for the Postgres telemetry backend.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"max_conns"`
}

// TelemetryConfig selects and tunes the authoritative telemetry source.
type TelemetryConfig struct {
	Source            string `yaml:"source"`
	StateTopic        string `yaml:"state_topic"`
	DefaultRangeLimit int    `yaml:"default_range_limit"`
	MaxRangeLimit     int    `yaml:"max_range_limit"`
}

// IdentityConfig selects the identity provider.
type IdentityConfig struct {
	Mode   string               `yaml:"mode"`
	Remote RemoteIdentityConfig `yaml:"remote"`
	Admin  AdminSeedConfig      `yaml:"admin"`
}

// RemoteIdentityConfig configures an Identity-Toolkit-compatible provider.
type RemoteIdentityConfig struct {
	APIKey    string `yaml:"api_key"`
	ProjectID string `yaml:"project_id"`
	// Endpoint is the base URL of the accounts REST API.
	Endpoint string `yaml:"endpoint"`
	// TokenURL exchanges refresh tokens.
	TokenURL string `yaml:"token_url"`
	// JWKSURL serves the public keys that sign ID tokens.
	JWKSURL string `yaml:"jwks_url"`
	// Issuer overrides the expected "iss" claim. Defaults to
	// https://securetoken.google.com/<project_id>.
	Issuer  string `yaml:"issuer"`
	Timeout int    `yaml:"timeout"`
}

// AdminSeedConfig describes the administrator account created on startup.
type AdminSeedConfig struct {
	Email       string `yaml:"email"`
	Password    string `yaml:"password"`
	DisplayName string `yaml:"display_name"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path string `yaml:"path"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings. TTLs are in minutes.
type JWTConfig struct {
	Secret          string `yaml:"secret"`
	AccessTokenTTL  int    `yaml:"access_token_ttl"`
	RefreshTokenTTL int    `yaml:"refresh_token_ttl"`
}

// ClientConfig contains settings for the dashboard client.
type ClientConfig struct {
	GatewayURL     string   `yaml:"gateway_url"`
	DatabasePath   string   `yaml:"database_path"`
	Devices        []string `yaml:"devices"`
	PointBudget    int      `yaml:"point_budget"`
	RetentionHours int      `yaml:"retention_hours"`
	RequestTimeout int      `yaml:"request_timeout"`
	ReconnectDelay int      `yaml:"reconnect_delay"`
}

// Load reads gateway configuration from a YAML file and applies environment
// variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SUNTEC_SECTION_KEY
// For example: SUNTEC_DATABASE_PATH, SUNTEC_API_PORT
func Load(path string) (*Config, error) {
	cfg, err := load(path, false)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadClient reads dashboard configuration. A missing file is not an error;
// defaults and environment overrides are used instead.
func LoadClient(path string) (*Config, error) {
	cfg, err := load(path, true)
	if err != nil {
		return nil, err
	}

	if err := cfg.ValidateClient(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func load(path string, allowMissing bool) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case allowMissing && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "suntec",
			Name:     "SunTec",
			Timezone: "Local",
		},
		Database: DatabaseConfig{
			Path:        "./data/suntec.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "suntec-gateway",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			Stream: StreamConfig{
				KeepAlive:      25,
				MaxMessageSize: 4096,
				PongTimeout:    10,
			},
		},
		InfluxDB: InfluxDBConfig{
			Measurement:   "state",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Postgres: PostgresConfig{
			MaxConns: 4,
		},
		Telemetry: TelemetryConfig{
			Source:            SourceInfluxDB,
			StateTopic:        "suntec/devices/+/state",
			DefaultRangeLimit: 50,
			MaxRangeLimit:     1000,
		},
		Identity: IdentityConfig{
			Mode: IdentityLocal,
			Remote: RemoteIdentityConfig{
				Endpoint: "https://identitytoolkit.googleapis.com/v1",
				TokenURL: "https://securetoken.googleapis.com/v1/token",
				JWKSURL:  "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com",
				Timeout:  10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL:  60,
				RefreshTokenTTL: 43200,
			},
		},
		Client: ClientConfig{
			GatewayURL:     "http://localhost:8080",
			DatabasePath:   "./data/suntec-client.db",
			Devices:        []string{"mega01"},
			PointBudget:    360,
			RetentionHours: 48,
			RequestTimeout: 10,
			ReconnectDelay: 3,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SUNTEC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("SUNTEC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("SUNTEC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SUNTEC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SUNTEC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("SUNTEC_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// Telemetry backends
	if v := os.Getenv("SUNTEC_TELEMETRY_SOURCE"); v != "" {
		cfg.Telemetry.Source = v
	}
	if v := os.Getenv("SUNTEC_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("SUNTEC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("SUNTEC_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}

	// Identity
	if v := os.Getenv("SUNTEC_IDENTITY_MODE"); v != "" {
		cfg.Identity.Mode = v
	}
	if v := os.Getenv("SUNTEC_IDENTITY_API_KEY"); v != "" {
		cfg.Identity.Remote.APIKey = v
	}
	if v := os.Getenv("SUNTEC_IDENTITY_PROJECT_ID"); v != "" {
		cfg.Identity.Remote.ProjectID = v
	}
	if v := os.Getenv("SUNTEC_ADMIN_EMAIL"); v != "" {
		cfg.Identity.Admin.Email = v
	}
	if v := os.Getenv("SUNTEC_ADMIN_PASSWORD"); v != "" {
		cfg.Identity.Admin.Password = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("SUNTEC_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}

	// Client
	if v := os.Getenv("SUNTEC_GATEWAY_URL"); v != "" {
		cfg.Client.GatewayURL = v
	}
	if v := os.Getenv("SUNTEC_CLIENT_DATABASE_PATH"); v != "" {
		cfg.Client.DatabasePath = v
	}
}

// Validate checks the gateway configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if _, err := c.GetLocation(); err != nil {
		errs = append(errs, err.Error())
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	switch c.Telemetry.Source {
	case SourceInfluxDB:
		if !c.InfluxDB.Enabled {
			errs = append(errs, "influxdb.enabled must be true when telemetry.source is influxdb")
		}
	case SourcePostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, "postgres.dsn is required when telemetry.source is postgres")
		}
	case SourceMemory:
	default:
		errs = append(errs, "telemetry.source must be influxdb, postgres, or memory")
	}

	if c.Telemetry.DefaultRangeLimit < 1 {
		errs = append(errs, "telemetry.default_range_limit must be positive")
	}
	if c.Telemetry.MaxRangeLimit < c.Telemetry.DefaultRangeLimit {
		errs = append(errs, "telemetry.max_range_limit must be at least telemetry.default_range_limit")
	}

	switch c.Identity.Mode {
	case IdentityLocal:
		// Local mode signs its own tokens, so the secret is mandatory.
		const minJWTSecretLength = 32
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required (set SUNTEC_JWT_SECRET environment variable)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
		}
	case IdentityRemote:
		if c.Identity.Remote.APIKey == "" {
			errs = append(errs, "identity.remote.api_key is required in remote mode")
		}
		if c.Identity.Remote.ProjectID == "" {
			errs = append(errs, "identity.remote.project_id is required in remote mode")
		}
	default:
		errs = append(errs, "identity.mode must be local or remote")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ValidateClient checks the dashboard client configuration.
func (c *Config) ValidateClient() error {
	var errs []string

	if c.Client.GatewayURL == "" {
		errs = append(errs, "client.gateway_url is required")
	}
	if c.Client.DatabasePath == "" {
		errs = append(errs, "client.database_path is required")
	}
	if c.Client.PointBudget < 2 {
		errs = append(errs, "client.point_budget must be at least 2")
	}
	if c.Client.RetentionHours < 1 {
		errs = append(errs, "client.retention_hours must be positive")
	}
	if _, err := c.GetLocation(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetLocation returns the site time zone. Empty or "Local" is the host zone.
func (c *Config) GetLocation() (*time.Location, error) {
	switch c.Site.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Site.Timezone)
	if err != nil {
		return nil, fmt.Errorf("site.timezone %q is not a known time zone", c.Site.Timezone)
	}
	return loc, nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetKeepAlive returns the live channel keep-alive interval.
func (c *Config) GetKeepAlive() time.Duration {
	return time.Duration(c.API.Stream.KeepAlive) * time.Second
}

// GetRetention returns the dashboard local store retention horizon.
func (c *Config) GetRetention() time.Duration {
	return time.Duration(c.Client.RetentionHours) * time.Hour
}
