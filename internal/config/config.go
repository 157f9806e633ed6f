// Package config loads and validates the pipeline engine's configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the pipeline engine.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Lock      LockConfig      `mapstructure:"lock"`
}

// AppConfig holds application-level metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ServerConfig holds control-surface server settings (health/metrics endpoints).
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	URL             string        `mapstructure:"url"`
}

// RedisConfig holds the optional Redis L1 cache settings for the retry-policy
// store (see internal/policy). Addr empty means the L1 cache is disabled and
// the store falls back to its in-process TTL cache only.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LogConfig holds structured-logger settings.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Output      string `mapstructure:"output"`
	FilePath    string `mapstructure:"file_path"`
	MaxBytes    int64  `mapstructure:"max_bytes"`
	BackupCount int    `mapstructure:"backup_count"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
	QueueDepth  int    `mapstructure:"queue_depth"`
}

// SchedulerConfig holds pipeline-scheduler settings.
type SchedulerConfig struct {
	MaxConcurrentDocuments    int           `mapstructure:"max_concurrent_documents"`
	ProgressWriteInterval     time.Duration `mapstructure:"progress_write_interval"`
	DefaultStageTimeout       time.Duration `mapstructure:"default_stage_timeout"`
	ShutdownGrace             time.Duration `mapstructure:"shutdown_grace"`
	ForceReprocessAllowed     bool          `mapstructure:"force_reprocess_allowed"`
	IdleRecoverySweepEnabled  bool          `mapstructure:"idle_recovery_sweep_enabled"`
	IdleRecoverySweepInterval time.Duration `mapstructure:"idle_recovery_sweep_interval"`
	IdleRecoveryThreshold     time.Duration `mapstructure:"idle_recovery_threshold"`
}

// PolicyConfig holds retry-policy-store settings.
type PolicyConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// LockConfig holds advisory-lock settings.
type LockConfig struct {
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	ReleaseTimeout time.Duration `mapstructure:"release_timeout"`
}

// LoadConfig loads configuration from an optional YAML file plus environment
// variables, rejecting any key that does not map to a known field: loose
// kwargs-style config maps become an explicit, exhaustive struct.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config (unknown field?): %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pipeline-engine")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "pipeline")
	v.SetDefault("database.username", "pipeline")
	v.SetDefault("database.password", "pipeline")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.query_timeout", "30s")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file_path", "pipeline.log")
	v.SetDefault("log.max_bytes", 100*1024*1024)
	v.SetDefault("log.backup_count", 10)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", true)
	v.SetDefault("log.queue_depth", 1024)

	v.SetDefault("scheduler.max_concurrent_documents", 4)
	v.SetDefault("scheduler.progress_write_interval", "250ms")
	v.SetDefault("scheduler.default_stage_timeout", "5m")
	v.SetDefault("scheduler.shutdown_grace", "30s")
	v.SetDefault("scheduler.force_reprocess_allowed", true)
	v.SetDefault("scheduler.idle_recovery_sweep_enabled", false)
	v.SetDefault("scheduler.idle_recovery_sweep_interval", "1m")
	v.SetDefault("scheduler.idle_recovery_threshold", "15m")

	v.SetDefault("policy.cache_ttl", "300s")

	v.SetDefault("lock.acquire_timeout", "5s")
	v.SetDefault("lock.release_timeout", "2s")
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database host cannot be empty")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if c.Log.Level == "" {
		return fmt.Errorf("log level cannot be empty")
	}
	if c.Scheduler.MaxConcurrentDocuments <= 0 {
		return fmt.Errorf("scheduler.max_concurrent_documents must be > 0")
	}
	if c.Policy.CacheTTL <= 0 {
		return fmt.Errorf("policy.cache_ttl must be > 0")
	}
	return nil
}

// DatabaseURL constructs the Postgres connection URL from configuration.
func (c *Config) DatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}

	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Username,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		sslMode,
	)
}

// IsDevelopment returns true when the app environment is "development".
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
