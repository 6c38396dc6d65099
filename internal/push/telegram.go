package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/lesson-notifier/internal/i18n"
)

// TelegramSender delivers notifications as Telegram chat messages. The recipient's
// push address is its chat id.
type TelegramSender struct {
	bot     *telebot.Bot
	catalog *i18n.Catalog
	limiter *rate.Limiter
}

// NewTelegramSender creates an offline bot client; no updates are polled.
func NewTelegramSender(token string, catalog *i18n.Catalog, ratePerSecond float64, burst int) (*TelegramSender, error) {
	bot, err := telebot.NewBot(telebot.Settings{
		Token:   token,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize telebot: %w", err)
	}

	return newTelegramSender(bot, catalog, ratePerSecond, burst), nil
}

func newTelegramSender(bot *telebot.Bot, catalog *i18n.Catalog, ratePerSecond float64, burst int) *TelegramSender {
	if burst < 1 {
		burst = 1
	}
	return &TelegramSender{
		bot:     bot,
		catalog: catalog,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

// Send waits for a rate limiter slot and posts the rendered message.
func (s *TelegramSender) Send(ctx context.Context, n Notification) error {
	chatID, err := parseChatID(n.Recipient.PushAddress)
	if err != nil {
		return &RecipientError{Err: err}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	text := Render(s.catalog, n).Text()

	done := make(chan error, 1)
	go func() {
		_, err := s.bot.Send(telebot.ChatID(chatID), text)
		done <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return classifyTelegramError(err)
	}
}

// classifyTelegramError marks Bot API rejections of a single chat (400, 403) as
// recipient errors. Flood control, 5xx and network failures stay transport errors.
func classifyTelegramError(err error) error {
	if err == nil {
		return nil
	}
	err = fmt.Errorf("telegram send: %w", err)

	var apiErr *telebot.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusBadRequest, http.StatusForbidden:
			return &RecipientError{Err: err}
		}
	}
	return err
}

// Ping verifies the bot token against the Bot API.
func (s *TelegramSender) Ping(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		_, err := s.bot.Raw("getMe", nil)
		done <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func parseChatID(address string) (int64, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return 0, ErrNoAddress
	}
	id, err := strconv.ParseInt(address, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", address, err)
	}
	return id, nil
}
