package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DenylistBackendPostgres = "postgres"
	DenylistBackendRedis    = "redis"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	JWT       JWTSettings       `mapstructure:"jwt"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
	Security  SecuritySettings  `mapstructure:"security"`
	Password  PasswordSettings  `mapstructure:"password"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures the Redis connection. Redis is only dialled when enabled
// or when it backs the token denylist.
type RedisSettings struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
}

type JWTSettings struct {
	Secret          string        `mapstructure:"secret"`
	Issuer          string        `mapstructure:"issuer"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

type TelemetrySettings struct {
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

// SecuritySettings groups the in-memory security caches.
type SecuritySettings struct {
	Lockout  LockoutSettings  `mapstructure:"lockout"`
	Denylist DenylistSettings `mapstructure:"denylist"`
}

// LockoutSettings configures adaptive lockout of identity keys.
type LockoutSettings struct {
	MaxAttempts         int           `mapstructure:"max_attempts"`
	InitialDuration     time.Duration `mapstructure:"initial_duration"`
	IncrementalDuration time.Duration `mapstructure:"incremental_duration"`
	ResetInterval       time.Duration `mapstructure:"reset_interval"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
}

// DenylistSettings configures the revoked token denylist and its durable store.
type DenylistSettings struct {
	Backend       string        `mapstructure:"backend"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	LoadTimeout   time.Duration `mapstructure:"load_timeout"`
	StoreTimeout  time.Duration `mapstructure:"store_timeout"`
	RedisKey      string        `mapstructure:"redis_key"`
}

// PasswordSettings configures registration password policy and Argon2id parameters.
type PasswordSettings struct {
	MinLength   int    `mapstructure:"min_length"`
	MinScore    int    `mapstructure:"min_score"`
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("TRACKER")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.enabled",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"jwt.secret",
		"jwt.issuer",
		"jwt.access_token_ttl",
		"jwt.refresh_token_ttl",
		"telemetry.tracing_enabled",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"security.lockout.max_attempts",
		"security.lockout.initial_duration",
		"security.lockout.incremental_duration",
		"security.lockout.reset_interval",
		"security.lockout.sweep_interval",
		"security.denylist.backend",
		"security.denylist.sweep_interval",
		"security.denylist.load_timeout",
		"security.denylist.store_timeout",
		"security.denylist.redis_key",
		"password.min_length",
		"password.min_score",
		"password.memory",
		"password.iterations",
		"password.parallelism",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate rejects configuration the service cannot start with.
func (c *AppConfig) Validate() error {
	var errs []error

	lockout := c.Security.Lockout
	if lockout.MaxAttempts <= 0 {
		errs = append(errs, errors.New("security.lockout.max_attempts must be positive"))
	}
	if lockout.InitialDuration <= 0 {
		errs = append(errs, errors.New("security.lockout.initial_duration must be positive"))
	}
	if lockout.IncrementalDuration <= 0 {
		errs = append(errs, errors.New("security.lockout.incremental_duration must be positive"))
	}
	if lockout.ResetInterval <= 0 {
		errs = append(errs, errors.New("security.lockout.reset_interval must be positive"))
	}
	if lockout.SweepInterval <= 0 {
		errs = append(errs, errors.New("security.lockout.sweep_interval must be positive"))
	}

	denylist := c.Security.Denylist
	switch denylist.Backend {
	case DenylistBackendPostgres:
	case DenylistBackendRedis:
		if strings.TrimSpace(denylist.RedisKey) == "" {
			errs = append(errs, errors.New("security.denylist.redis_key is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("security.denylist.backend %q is not supported", denylist.Backend))
	}
	if denylist.SweepInterval <= 0 {
		errs = append(errs, errors.New("security.denylist.sweep_interval must be positive"))
	}
	if denylist.LoadTimeout <= 0 {
		errs = append(errs, errors.New("security.denylist.load_timeout must be positive"))
	}
	if denylist.StoreTimeout <= 0 {
		errs = append(errs, errors.New("security.denylist.store_timeout must be positive"))
	}

	if c.App.Env == "production" && len(c.JWT.Secret) < 32 {
		errs = append(errs, errors.New("jwt.secret must be at least 32 bytes in production"))
	}
	if c.JWT.AccessTokenTTL <= 0 || c.JWT.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("jwt token ttls must be positive"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "transit-tracker")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "tracker")
	v.SetDefault("postgres.password", "tracker_password")
	v.SetDefault("postgres.database", "tracker")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)

	v.SetDefault("jwt.secret", "development-only-secret-change-me")
	v.SetDefault("jwt.issuer", "transit-tracker")
	v.SetDefault("jwt.access_token_ttl", "15m")
	v.SetDefault("jwt.refresh_token_ttl", "168h")

	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4318")
	v.SetDefault("telemetry.service_name", "transit-tracker")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("security.lockout.max_attempts", 5)
	v.SetDefault("security.lockout.initial_duration", "15m")
	v.SetDefault("security.lockout.incremental_duration", "5m")
	v.SetDefault("security.lockout.reset_interval", "30m")
	v.SetDefault("security.lockout.sweep_interval", "1m")

	v.SetDefault("security.denylist.backend", DenylistBackendPostgres)
	v.SetDefault("security.denylist.sweep_interval", "5m")
	v.SetDefault("security.denylist.load_timeout", "30s")
	v.SetDefault("security.denylist.store_timeout", "5s")
	v.SetDefault("security.denylist.redis_key", "tracker:denied_tokens")

	v.SetDefault("password.min_length", 10)
	v.SetDefault("password.min_score", 3)
	v.SetDefault("password.memory", 65536) // 64 MB
	v.SetDefault("password.iterations", 3)
	v.SetDefault("password.parallelism", 4)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "TRACKER_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
