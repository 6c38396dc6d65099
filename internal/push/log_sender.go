package push

import (
	"context"
	"log/slog"

	"github.com/Proton-105/lesson-notifier/internal/i18n"
)

// LogSender writes notifications to the log instead of a transport. Used in development.
type LogSender struct {
	log     *slog.Logger
	catalog *i18n.Catalog
}

func NewLogSender(log *slog.Logger, catalog *i18n.Catalog) *LogSender {
	if log == nil {
		log = slog.Default()
	}
	return &LogSender{log: log.With(slog.String("component", "log_sender")), catalog: catalog}
}

func (s *LogSender) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.Recipient.PushAddress == "" {
		return ErrNoAddress
	}

	msg := Render(s.catalog, n)
	s.log.InfoContext(ctx, "notification delivered",
		slog.Int64("user_id", n.Recipient.UserID),
		slog.String("push_address", n.Recipient.PushAddress),
		slog.String("variant", n.Variant.String()),
		slog.String("coordinate", n.Coordinate.String()),
		slog.String("title", msg.Title),
	)
	return nil
}
