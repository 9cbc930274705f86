package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig
	HTTP        HTTPConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Log         LogConfig
	JWT         JWTConfig
	Telemetry   TelemetryConfig
	Profiling   ProfilingConfig
	Portal      PortalConfig
	Dispatch    DispatchConfig
	Approval    ApprovalConfig
	Event       EventConfig
	Concurrency ConcurrencyConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string
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
	LogLevel        string
}

// RedisConfig holds Redis connection settings.
// An empty host disables Redis and the in-memory idempotency store is used.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Required bool
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// JWTConfig holds the settings used to verify buyer and approver tokens
type JWTConfig struct {
	Secret string
	Issuer string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string  // OTLP gRPC endpoint, e.g. "localhost:4317"
	SamplingRatio     float64 // 0.0-1.0
	ServiceName       string
	Insecure          bool
	LogsEnabled       bool // export zap logs through the OTLP log pipeline
	DBTraceEnabled    bool
}

// ProfilingConfig holds Pyroscope continuous profiling configuration
type ProfilingConfig struct {
	Enabled           bool
	ServerAddress     string
	ApplicationName   string // defaults to the telemetry service name
	BasicAuthUser     string
	BasicAuthPassword string
	Mutex             bool
	Block             bool
}

// PortalConfig holds the supplier portal endpoint and signing secrets
type PortalConfig struct {
	BaseURL          string
	MasterSecret     string
	SupplierSecrets  map[string]string
	RequestTimeout   time.Duration
	AcceptanceWindow time.Duration
	// RateLimit caps inbound messages per supplier per minute; 0 disables
	RateLimit int
}

// DispatchConfig holds outbound delivery retry settings
type DispatchConfig struct {
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterFraction float64
	MaxAttempts    int
	Workers        int
	PollInterval   time.Duration
	StaleAfter     time.Duration
}

// ApprovalLevelConfig is one configured approval level
type ApprovalLevelConfig struct {
	Level     int           `mapstructure:"level"`
	Mode      string        `mapstructure:"mode"`
	Approvers []string      `mapstructure:"approvers"`
	ExpiresIn time.Duration `mapstructure:"expires_in"`
}

// ApprovalConfig holds the default approval policy and the expiry sweep
type ApprovalConfig struct {
	SweepInterval time.Duration
	SweepBatch    int
	Levels        []ApprovalLevelConfig
	ByCostCenter  map[string][]ApprovalLevelConfig
}

// EventConfig holds outbox processing configuration
type EventConfig struct {
	ProcessorEnabled   bool
	OutboxBatchSize    int
	OutboxPollInterval time.Duration
	MaxRetries         int
	CleanupRetention   time.Duration
	IdempotencyTTL     time.Duration
}

// ConcurrencyConfig holds optimistic-lock retry settings
type ConcurrencyConfig struct {
	ConflictRetries int
}

// Load loads configuration from TOML file and environment variables.
// Priority (highest to lowest):
// 1. Environment variables with ERP_ prefix (e.g., ERP_DATABASE_PASSWORD)
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
	}
	return load(v)
}

// LoadFile loads configuration from an explicit file, still honoring ERP_ env overrides
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("ERP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
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
			LogLevel:        v.GetString("database.log_level"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Required: v.GetBool("redis.required"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
			Issuer: v.GetString("jwt.issuer"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
		},
		Profiling: ProfilingConfig{
			Enabled:           v.GetBool("profiling.enabled"),
			ServerAddress:     v.GetString("profiling.server_address"),
			ApplicationName:   v.GetString("profiling.application_name"),
			BasicAuthUser:     v.GetString("profiling.basic_auth_user"),
			BasicAuthPassword: v.GetString("profiling.basic_auth_password"),
			Mutex:             v.GetBool("profiling.mutex"),
			Block:             v.GetBool("profiling.block"),
		},
		Portal: PortalConfig{
			BaseURL:          v.GetString("portal.base_url"),
			MasterSecret:     v.GetString("portal.master_secret"),
			SupplierSecrets:  v.GetStringMapString("portal.supplier_secrets"),
			RequestTimeout:   v.GetDuration("portal.request_timeout"),
			AcceptanceWindow: v.GetDuration("portal.acceptance_window"),
			RateLimit:        v.GetInt("portal.rate_limit"),
		},
		Dispatch: DispatchConfig{
			BaseDelay:      v.GetDuration("dispatch.base_delay"),
			MaxDelay:       v.GetDuration("dispatch.max_delay"),
			JitterFraction: v.GetFloat64("dispatch.jitter_fraction"),
			MaxAttempts:    v.GetInt("dispatch.max_attempts"),
			Workers:        v.GetInt("dispatch.workers"),
			PollInterval:   v.GetDuration("dispatch.poll_interval"),
			StaleAfter:     v.GetDuration("dispatch.stale_after"),
		},
		Approval: ApprovalConfig{
			SweepInterval: v.GetDuration("approval.sweep_interval"),
			SweepBatch:    v.GetInt("approval.sweep_batch"),
		},
		Event: EventConfig{
			ProcessorEnabled:   v.GetBool("event.processor_enabled"),
			OutboxBatchSize:    v.GetInt("event.outbox_batch_size"),
			OutboxPollInterval: v.GetDuration("event.outbox_poll_interval"),
			MaxRetries:         v.GetInt("event.max_retries"),
			CleanupRetention:   v.GetDuration("event.cleanup_retention"),
			IdempotencyTTL:     v.GetDuration("event.idempotency_ttl"),
		},
		Concurrency: ConcurrencyConfig{
			ConflictRetries: v.GetInt("concurrency.conflict_retries"),
		},
	}

	if err := v.UnmarshalKey("approval.levels", &cfg.Approval.Levels); err != nil {
		return nil, fmt.Errorf("error reading approval.levels: %w", err)
	}
	if err := v.UnmarshalKey("approval.by_cost_center", &cfg.Approval.ByCostCenter); err != nil {
		return nil, fmt.Errorf("error reading approval.by_cost_center: %w", err)
	}
	if !v.IsSet("event.processor_enabled") {
		cfg.Event.ProcessorEnabled = true
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
		cfg.App.Name = "procurement"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
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
		cfg.HTTP.MaxHeaderBytes = 1 << 20
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20
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
		cfg.Database.DBName = "procurement"
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
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = "warn"
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
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "procurement"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Portal.RequestTimeout == 0 {
		cfg.Portal.RequestTimeout = 10 * time.Second
	}
	if cfg.Portal.AcceptanceWindow == 0 {
		cfg.Portal.AcceptanceWindow = 5 * time.Minute
	}
	if cfg.Dispatch.BaseDelay == 0 {
		cfg.Dispatch.BaseDelay = 2 * time.Second
	}
	if cfg.Dispatch.MaxDelay == 0 {
		cfg.Dispatch.MaxDelay = 10 * time.Minute
	}
	if cfg.Dispatch.JitterFraction == 0 {
		cfg.Dispatch.JitterFraction = 0.2
	}
	if cfg.Dispatch.MaxAttempts == 0 {
		cfg.Dispatch.MaxAttempts = 5
	}
	if cfg.Dispatch.Workers == 0 {
		cfg.Dispatch.Workers = 4
	}
	if cfg.Dispatch.PollInterval == 0 {
		cfg.Dispatch.PollInterval = time.Second
	}
	if cfg.Dispatch.StaleAfter == 0 {
		cfg.Dispatch.StaleAfter = 2 * cfg.Portal.RequestTimeout
	}
	if cfg.Approval.SweepInterval == 0 {
		cfg.Approval.SweepInterval = time.Minute
	}
	if cfg.Approval.SweepBatch == 0 {
		cfg.Approval.SweepBatch = 100
	}
	if cfg.Event.OutboxBatchSize == 0 {
		cfg.Event.OutboxBatchSize = 100
	}
	if cfg.Event.OutboxPollInterval == 0 {
		cfg.Event.OutboxPollInterval = 2 * time.Second
	}
	if cfg.Event.MaxRetries == 0 {
		cfg.Event.MaxRetries = 5
	}
	if cfg.Event.CleanupRetention == 0 {
		cfg.Event.CleanupRetention = 168 * time.Hour
	}
	if cfg.Event.IdempotencyTTL == 0 {
		cfg.Event.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.Concurrency.ConflictRetries == 0 {
		cfg.Concurrency.ConflictRetries = 3
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
	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	if c.Dispatch.JitterFraction < 0 || c.Dispatch.JitterFraction > 1 {
		return fmt.Errorf("dispatch.jitter_fraction must be between 0 and 1, got %f", c.Dispatch.JitterFraction)
	}
	if c.Dispatch.MaxDelay < c.Dispatch.BaseDelay {
		return fmt.Errorf("dispatch.max_delay (%s) cannot be shorter than dispatch.base_delay (%s)",
			c.Dispatch.MaxDelay, c.Dispatch.BaseDelay)
	}
	if c.Concurrency.ConflictRetries < 1 {
		return fmt.Errorf("concurrency.conflict_retries must be at least 1")
	}
	if c.Portal.AcceptanceWindow < 0 {
		return fmt.Errorf("portal.acceptance_window cannot be negative")
	}

	if c.App.Env == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Portal.BaseURL == "" {
			return fmt.Errorf("portal.base_url is required in production")
		}
		if c.Portal.MasterSecret == "" && len(c.Portal.SupplierSecrets) == 0 {
			return fmt.Errorf("portal.master_secret or portal.supplier_secrets is required in production")
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

// Addr returns host:port, or "" when Redis is not configured
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
