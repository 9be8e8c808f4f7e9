package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Vault     VaultConfig
	Sync      SyncConfig
	Providers ProvidersConfig
	Telemetry TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
	// PublicBaseURL is the externally reachable base URL used when
	// registering provider-side webhooks
	PublicBaseURL string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string
	// CORSAllowOrigins is the cross-origin whitelist; empty rejects all
	// cross-origin requests
	CORSAllowOrigins []string
}

// VaultConfig holds the Secret Vault key material. The key is required at
// boot; a missing or malformed key is fatal, not retryable.
type VaultConfig struct {
	// Key is the base64-encoded 32-byte encryption key
	Key string
}

// DecodeKey decodes and validates the configured vault key
func (v VaultConfig) DecodeKey() ([]byte, error) {
	if v.Key == "" {
		return nil, fmt.Errorf("vault.key is required")
	}
	key, err := base64.StdEncoding.DecodeString(v.Key)
	if err != nil {
		return nil, fmt.Errorf("vault.key is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("vault.key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// SyncConfig holds sync orchestrator settings
type SyncConfig struct {
	// WorkerPoolSize bounds concurrent per-container sync tasks. This is a
	// backpressure mechanism against provider rate limits, not a tunable
	// optimization.
	WorkerPoolSize int
	// PageSize is the default page size requested from providers
	PageSize int
	// MaxPagesPerContainer caps runaway pagination within one container
	MaxPagesPerContainer int
	// ContainerTimeout bounds one container's sync task
	ContainerTimeout time.Duration
	// RetryBudget is the number of backoff retries for throttled requests
	RetryBudget int
	// ScheduleInterval is how often the background trigger re-syncs
	// connected integrations; zero disables the scheduler
	ScheduleInterval time.Duration
}

// OAuthAppConfig holds the OAuth2 application credentials for one provider
type OAuthAppConfig struct {
	ClientID     string
	ClientSecret string
}

// ProvidersConfig holds per-provider application-level settings
type ProvidersConfig struct {
	Jira   OAuthAppConfig
	Asana  OAuthAppConfig
	Slack  OAuthAppConfig
	GitHub OAuthAppConfig
	// StripeWebhookSecret verifies inbound Stripe webhook signatures
	StripeWebhookSecret string
	// SlackSigningSecret verifies inbound Slack event signatures; Slack
	// signs with an app-level secret, not a per-workspace one
	SlackSigningSecret string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	SamplingRatio     float64
	ServiceName       string
	Insecure          bool
}

// Load loads configuration from TOML file and environment variables.
// Priority (highest to lowest):
// 1. Environment variables with PULSEDECK_ prefix (e.g. PULSEDECK_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("PULSEDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name:          v.GetString("app.name"),
			Env:           v.GetString("app.env"),
			Port:          v.GetString("app.port"),
			PublicBaseURL: v.GetString("app.public_base_url"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
		},
		Vault: VaultConfig{
			Key: v.GetString("vault.key"),
		},
		Sync: SyncConfig{
			WorkerPoolSize:       v.GetInt("sync.worker_pool_size"),
			PageSize:             v.GetInt("sync.page_size"),
			MaxPagesPerContainer: v.GetInt("sync.max_pages_per_container"),
			ContainerTimeout:     v.GetDuration("sync.container_timeout"),
			RetryBudget:          v.GetInt("sync.retry_budget"),
			ScheduleInterval:     v.GetDuration("sync.schedule_interval"),
		},
		Providers: ProvidersConfig{
			Jira: OAuthAppConfig{
				ClientID:     v.GetString("providers.jira.client_id"),
				ClientSecret: v.GetString("providers.jira.client_secret"),
			},
			Asana: OAuthAppConfig{
				ClientID:     v.GetString("providers.asana.client_id"),
				ClientSecret: v.GetString("providers.asana.client_secret"),
			},
			Slack: OAuthAppConfig{
				ClientID:     v.GetString("providers.slack.client_id"),
				ClientSecret: v.GetString("providers.slack.client_secret"),
			},
			SlackSigningSecret: v.GetString("providers.slack.signing_secret"),
			GitHub: OAuthAppConfig{
				ClientID:     v.GetString("providers.github.client_id"),
				ClientSecret: v.GetString("providers.github.client_secret"),
			},
			StripeWebhookSecret: v.GetString("providers.stripe.webhook_secret"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "pulsedeck-backend"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "pulsedeck"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 5 << 20 // 5MB
	}
	if cfg.Sync.WorkerPoolSize == 0 {
		cfg.Sync.WorkerPoolSize = 5
	}
	if cfg.Sync.PageSize == 0 {
		cfg.Sync.PageSize = 50
	}
	if cfg.Sync.MaxPagesPerContainer == 0 {
		cfg.Sync.MaxPagesPerContainer = 200
	}
	if cfg.Sync.ContainerTimeout == 0 {
		cfg.Sync.ContainerTimeout = 5 * time.Minute
	}
	if cfg.Sync.RetryBudget == 0 {
		cfg.Sync.RetryBudget = 3
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "pulsedeck-backend"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Sync.WorkerPoolSize < 1 {
		return fmt.Errorf("sync.worker_pool_size must be at least 1")
	}
	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	if c.App.Env == "production" {
		if _, err := c.Vault.DecodeKey(); err != nil {
			return fmt.Errorf("vault key invalid in production: %w", err)
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.App.PublicBaseURL == "" {
			return fmt.Errorf("app.public_base_url is required in production for webhook registration")
		}
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns the Redis address in host:port form
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
