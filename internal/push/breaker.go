package push

import (
	"context"
	"log/slog"

	apperrors "github.com/Proton-105/lesson-notifier/internal/errors"
)

// BreakerSender stops calling the transport while it keeps failing. Recipient
// errors are returned to the caller but count as successful calls.
type BreakerSender struct {
	next    Sender
	breaker *apperrors.CircuitBreaker
}

// NewBreakerSender wraps next with a circuit breaker and logs its transitions.
func NewBreakerSender(next Sender, settings apperrors.BreakerSettings, log *slog.Logger) *BreakerSender {
	if log == nil {
		log = slog.Default()
	}

	breaker := apperrors.NewCircuitBreaker(settings)
	breaker.OnStateChange(func(from, to apperrors.State) {
		log.Warn("push circuit breaker state changed",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	})

	return &BreakerSender{next: next, breaker: breaker}
}

func (s *BreakerSender) Send(ctx context.Context, n Notification) error {
	var recipientErr error
	err := s.breaker.Call(func() error {
		err := s.next.Send(ctx, n)
		if IsRecipientError(err) {
			recipientErr = err
			return nil
		}
		return err
	})
	if recipientErr != nil {
		return recipientErr
	}
	return err
}

// State reports the breaker state.
func (s *BreakerSender) State() apperrors.State {
	return s.breaker.State()
}
