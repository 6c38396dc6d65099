// Package push delivers lesson notifications to users through an external messaging transport.
package push

import (
	"context"
	"errors"
	"strconv"

	"github.com/Proton-105/lesson-notifier/internal/domain"
	"github.com/Proton-105/lesson-notifier/internal/i18n"
)

// ErrNoAddress indicates a recipient without a usable push address.
var ErrNoAddress = errors.New("recipient has no push address")

// RecipientError is a delivery failure caused by the recipient itself, such as a
// malformed address or a chat that blocked the bot. The transport is healthy.
type RecipientError struct {
	Err error
}

func (e *RecipientError) Error() string {
	return e.Err.Error()
}

func (e *RecipientError) Unwrap() error {
	return e.Err
}

// IsRecipientError reports whether err was caused by the recipient rather than the transport.
func IsRecipientError(err error) bool {
	if err == nil {
		return false
	}
	var re *RecipientError
	return errors.Is(err, ErrNoAddress) || errors.As(err, &re)
}

// Notification is a single lesson reminder for one recipient.
type Notification struct {
	Recipient  domain.Recipient
	Coordinate domain.Coordinate
	Variant    domain.Variant
}

// Sender delivers notifications. Implementations must honour ctx cancellation.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, n Notification) error

func (f SenderFunc) Send(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Message is the rendered text of a notification.
type Message struct {
	Title string
	Body  string
}

// Text joins title and body the way chat transports display them.
func (m Message) Text() string {
	if m.Title == "" {
		return m.Body
	}
	return m.Title + "\n\n" + m.Body
}

// Render localises n for its recipient.
func Render(catalog *i18n.Catalog, n Notification) Message {
	tr := catalog.Translator(n.Recipient.Locale)
	args := map[string]string{
		"week": strconv.Itoa(n.Coordinate.Week),
		"day":  strconv.Itoa(n.Coordinate.DayOfWeek),
	}

	return Message{
		Title: tr.Format("notification.title."+n.Variant.String(), args),
		Body:  tr.Format("notification.body."+n.Variant.String(), args),
	}
}
