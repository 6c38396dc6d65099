// Package config provides configuration loading and validation utilities.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

var defaults = map[string]any{
	"logger.level":               "info",
	"logger.format":              "json",
	"sentry.sample_rate":         1.0,
	"database.host":              "localhost",
	"database.port":              "5432",
	"database.sslmode":           "disable",
	"database.max_open_conns":    10,
	"database.max_idle_conns":    5,
	"database.conn_max_lifetime": 30 * time.Minute,
	"storage.driver":             "postgres",
	"storage.optin_cache_ttl":    0,
	"redis.pool_size":            10,
	"server.addr":                ":8080",
	"server.read_timeout":        10 * time.Second,
	"server.write_timeout":       60 * time.Second,
	"server.shutdown_timeout":    15 * time.Second,
	"scheduler.backend":          "cron",
	"scheduler.timezone":         "Asia/Shanghai",
	"scheduler.morning_cron":     "0 8 * * *",
	"scheduler.evening_cron":     "0 22 * * *",
	"scheduler.rollover_cron":    "0 0 * * *",
	"scheduler.tick_interval":    10 * time.Second,
	"scheduler.lease_ttl":        30 * time.Second,
	"scheduler.concurrency":      2,
	"notifier.batch_size":        20,
	"notifier.fast_retry":        5 * time.Minute,
	"notifier.pending_timeout":   5 * time.Minute,
	"notifier.cooldown":          20 * time.Minute,
	"notifier.send_timeout":      15 * time.Second,
	"notifier.status_poll_rate":  30 * time.Second,
	"push.driver":                "log",
	"push.rate_per_second":       25.0,
	"push.burst":                 5,
	"push.default_locale":        "en",
	"push.breaker_timeout":       30 * time.Second,
	"push.breaker_min_calls":     10,

	"rate_limit.manual_trigger.limit":  5,
	"rate_limit.manual_trigger.window": time.Minute,

	"database.user":       "",
	"database.password":   "",
	"database.name":       "",
	"admin.jwt_secret":    "",
	"push.telegram_token": "",
	"sentry.enabled":      false,
	"sentry.dsn":          "",
	"redis.enabled":       false,
	"redis.addr":          "",
}

// CronParser parses the standard five-field cron specs used by the scheduler section.
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Load reads configuration from YAML files and environment variables, validates it, and returns the resulting Config.
func Load() (*Config, *viper.Viper, error) {
	if err := godotenv.Load(".env.local", ".env"); err != nil {
		// env files are optional
		_ = err
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	return LoadFile(fmt.Sprintf("./configs/%s.yaml", env), env)
}

// LoadFile reads the configuration from path; env is recorded as Config.AppEnv.
func LoadFile(path, env string) (*Config, *viper.Viper, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	cfg.AppEnv = env

	return cfg, v, nil
}

// Watch re-reads the configuration whenever the file changes and hands every valid
// result to onChange. Invalid edits are logged and ignored.
func Watch(v *viper.Viper, log *slog.Logger, onChange func(*Config)) {
	if v == nil || onChange == nil {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		cfg, err := decode(v)
		if err != nil {
			if log != nil {
				log.Error("config reload rejected", slog.String("file", e.Name), slog.Any("error", err))
			}
			return
		}

		if log != nil {
			log.Info("config reloaded", slog.String("file", e.Name))
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := newValidator().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())

	_ = validate.RegisterValidation("cronspec", func(fl validator.FieldLevel) bool {
		_, err := CronParser.Parse(fl.Field().String())
		return err == nil
	})

	return validate
}
