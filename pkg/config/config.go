package config

import (
	"fmt"
	"time"
)

// Config holds runtime configuration for the lesson notifier.
type Config struct {
	AppEnv    string          `mapstructure:"app_env"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Server    ServerConfig    `mapstructure:"server"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
	Push      PushConfig      `mapstructure:"push"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=json text"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
}

type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn" validate:"required_if=Enabled true"`
	SampleRate  float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
	Environment string  `mapstructure:"environment"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

type StorageConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=postgres memory"`
	// OptInCacheTTL caches notification opt-ins in Redis; zero disables the cache.
	// It bounds how long a changed preference can be ignored.
	OptInCacheTTL time.Duration `mapstructure:"optin_cache_ttl" validate:"gte=0"`
}

type RedisConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db" validate:"gte=0"`
	PoolSize        int           `mapstructure:"pool_size" validate:"gte=0"`
	MinIdleConns    int           `mapstructure:"min_idle_conns" validate:"gte=0"`
	PoolTimeout     time.Duration `mapstructure:"pool_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

type AdminConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=16"`
}

type SchedulerConfig struct {
	Backend      string        `mapstructure:"backend" validate:"oneof=cron asynq"`
	Timezone     string        `mapstructure:"timezone" validate:"required,timezone"`
	MorningCron  string        `mapstructure:"morning_cron" validate:"required,cronspec"`
	EveningCron  string        `mapstructure:"evening_cron" validate:"required,cronspec"`
	RolloverCron string        `mapstructure:"rollover_cron" validate:"required,cronspec"`
	TickInterval time.Duration `mapstructure:"tick_interval" validate:"gt=0"`
	LeaseTTL     time.Duration `mapstructure:"lease_ttl" validate:"gtefield=TickInterval"`
	Concurrency  int           `mapstructure:"concurrency" validate:"gte=1"`
}

// Location loads the scheduler time zone.
func (c SchedulerConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

type NotifierConfig struct {
	BatchSize      int           `mapstructure:"batch_size" validate:"gte=1,lte=1000"`
	FastRetry      time.Duration `mapstructure:"fast_retry" validate:"gt=0"`
	PendingTimeout time.Duration `mapstructure:"pending_timeout" validate:"gt=0"`
	Cooldown       time.Duration `mapstructure:"cooldown" validate:"gtefield=FastRetry"`
	SendTimeout    time.Duration `mapstructure:"send_timeout" validate:"gt=0"`
	StatusPollRate time.Duration `mapstructure:"status_poll_rate" validate:"gt=0"`
}

type PushConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=telegram log"`
	TelegramToken   string        `mapstructure:"telegram_token" validate:"required_if=Driver telegram"`
	RatePerSecond   float64       `mapstructure:"rate_per_second" validate:"gt=0"`
	Burst           int           `mapstructure:"burst" validate:"gte=1"`
	DefaultLocale   string        `mapstructure:"default_locale" validate:"required"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout" validate:"gt=0"`
	BreakerMinCalls int           `mapstructure:"breaker_min_calls" validate:"gte=1"`
}

type RateLimitConfig struct {
	ManualTrigger RateLimitRule `mapstructure:"manual_trigger"`
}

type RateLimitRule struct {
	Limit  int           `mapstructure:"limit" validate:"gte=1"`
	Window time.Duration `mapstructure:"window" validate:"gt=0"`
}
