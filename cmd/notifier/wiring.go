package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Proton-105/lesson-notifier/internal/database"
	"github.com/Proton-105/lesson-notifier/internal/domain"
	apperrors "github.com/Proton-105/lesson-notifier/internal/errors"
	"github.com/Proton-105/lesson-notifier/internal/health"
	"github.com/Proton-105/lesson-notifier/internal/i18n"
	"github.com/Proton-105/lesson-notifier/internal/push"
	"github.com/Proton-105/lesson-notifier/internal/store"
	"github.com/Proton-105/lesson-notifier/internal/store/memory"
	"github.com/Proton-105/lesson-notifier/internal/store/postgres"
	"github.com/Proton-105/lesson-notifier/migrations"
	"github.com/Proton-105/lesson-notifier/pkg/config"
)

func openStore(ctx context.Context, cfg *config.Config, loc *time.Location, log *slog.Logger) (store.Store, error) {
	if cfg.Storage.Driver == "memory" {
		st := memory.New()
		cursor := demoCursor(time.Now().In(loc))
		st.SetCursor(cursor)
		log.Warn("using in-memory store; state is lost on restart", slog.String("cursor", cursor.Coordinate.String()))
		return st, nil
	}

	db, err := database.Open(ctx, cfg.Database.DSN(), database.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}

	migrator := database.NewMigrator(db, log)
	if cfg.Database.MigrationsDir != "" {
		err = migrator.ApplyDir(ctx, cfg.Database.MigrationsDir)
	} else {
		err = migrator.ApplyFS(ctx, migrations.FS, ".")
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	log.Info("database migrations applied")

	return postgres.New(db, log), nil
}

// demoCursor seeds the in-memory store with the academic slot of now.
func demoCursor(now time.Time) domain.Cursor {
	start := now.Year()
	if now.Month() < time.September {
		start--
	}
	day := int(now.Weekday())
	if day == 0 {
		day = domain.DaysPerWeek
	}

	return domain.Cursor{
		Coordinate: domain.Coordinate{
			StartYear: start,
			EndYear:   start + 1,
			Semester:  1,
			Week:      1,
			DayOfWeek: day,
		},
		Version: 1,
	}
}

func newSender(cfg config.PushConfig, catalog *i18n.Catalog, checker *health.Checker, log *slog.Logger) (push.Sender, error) {
	var next push.Sender

	switch cfg.Driver {
	case "telegram":
		tg, err := push.NewTelegramSender(cfg.TelegramToken, catalog, cfg.RatePerSecond, cfg.Burst)
		if err != nil {
			return nil, fmt.Errorf("init telegram sender: %w", err)
		}
		checker.AddCheck("telegram", health.CheckFunc(tg.Ping))
		next = tg
	default:
		next = push.NewLogSender(log, catalog)
	}

	settings := apperrors.DefaultBreakerSettings
	settings.MinRequests = cfg.BreakerMinCalls
	settings.OpenTimeout = cfg.BreakerTimeout

	return push.NewBreakerSender(next, settings, log), nil
}
