package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults for everything except the two origins, which are required.
const (
	DefaultListenPort      = "8080"
	DefaultHealthCheckPath = "/api/notice"
	DefaultProbeTimeout    = 10 * time.Second
	DefaultRecordTTL       = 600 * time.Second
)

// Config holds the proxy configuration. Origins are immutable for the
// process lifetime; there is no hot reload.
type Config struct {
	ListenPort string `mapstructure:"listen_port"`

	// PrimaryOrigin and BackupOrigin are base URLs (scheme + host, optional
	// path prefix), normalized without a trailing slash.
	PrimaryOrigin string `mapstructure:"primary_origin"`
	BackupOrigin  string `mapstructure:"backup_origin"`

	// HealthCheckPath is the one path that probes the primary instead of
	// routing from the cached record. Matched exactly.
	HealthCheckPath string `mapstructure:"health_check_path"`

	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	RecordTTL    time.Duration `mapstructure:"record_ttl"`

	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// RedisConfig selects the shared health store. With an empty Addr the proxy
// keeps the record in process memory instead.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// RateLimitConfig enables per-route token bucket limiting when
// RequestsPerSecond > 0.
type RateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
	BurstSize         int `mapstructure:"burst_size"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Endpoint    string `mapstructure:"endpoint"`
}

// ConfigError marks the proxy as unable to route at all. The server still
// starts and reports the problem on every request rather than guessing a
// default origin.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("missing required configuration value %q", e.Field)
}

// Load reads configuration from an optional YAML file plus environment
// variables. PRIMARY_ORIGIN and BACKUP_ORIGIN env vars override the file.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_port", DefaultListenPort)
	v.SetDefault("health_check_path", DefaultHealthCheckPath)
	v.SetDefault("probe_timeout", DefaultProbeTimeout)
	v.SetDefault("record_ttl", DefaultRecordTTL)

	// The two origins come from the environment by default, matching the
	// edge deployments this proxy replaced.
	_ = v.BindEnv("primary_origin", "PRIMARY_ORIGIN")
	_ = v.BindEnv("backup_origin", "BACKUP_ORIGIN")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.PrimaryOrigin = normalizeOrigin(cfg.PrimaryOrigin)
	cfg.BackupOrigin = normalizeOrigin(cfg.BackupOrigin)

	if cfg.PrimaryOrigin == "" {
		return nil, &ConfigError{Field: "primary_origin"}
	}
	if cfg.BackupOrigin == "" {
		return nil, &ConfigError{Field: "backup_origin"}
	}
	return &cfg, nil
}

// normalizeOrigin strips a single trailing slash so path concatenation
// never produces "//".
func normalizeOrigin(origin string) string {
	origin = strings.TrimSpace(origin)
	return strings.TrimSuffix(origin, "/")
}
