package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Proton-105/lesson-notifier/internal/domain"
	apperrors "github.com/Proton-105/lesson-notifier/internal/errors"
	"github.com/Proton-105/lesson-notifier/internal/push"
	"github.com/Proton-105/lesson-notifier/pkg/metrics"
)

// Outcome is the settled result of one delivery.
type Outcome struct {
	Recipient domain.Recipient
	Err       error
}

func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Dispatcher fans a claimed batch out to the push transport.
type Dispatcher struct {
	sender push.Sender
	policy *PolicyHolder
	log    *slog.Logger
}

func NewDispatcher(sender push.Sender, policy *PolicyHolder, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{sender: sender, policy: policy, log: log}
}

// Dispatch sends one notification per claimed recipient concurrently and waits for all of
// them to settle. It never retries and never returns early: each recipient gets exactly one
// outcome, whatever happens to the others.
func (d *Dispatcher) Dispatch(ctx context.Context, claim Claim) []Outcome {
	if claim.Empty() {
		return nil
	}

	timeout := d.policy.Load().SendTimeout
	p := pool.NewWithResults[Outcome]()

	for _, recipient := range claim.Recipients {
		recipient := recipient
		p.Go(func() Outcome {
			n := push.Notification{Recipient: recipient, Coordinate: claim.Coordinate, Variant: claim.Variant}

			started := time.Now()
			err := d.send(ctx, n, timeout)
			metrics.RecordDelivery(claim.Variant.String(), err == nil, time.Since(started))

			if err != nil {
				err = apperrors.NewDeliveryError(recipient.UserID, err)
				d.log.WarnContext(ctx, "notification delivery failed",
					slog.Int64("user_id", recipient.UserID),
					slog.String("variant", claim.Variant.String()),
					slog.Any("error", err),
				)
			}
			return Outcome{Recipient: recipient, Err: err}
		})
	}

	return p.Wait()
}

// send bounds a single delivery by timeout, even when the sender ignores its context.
func (d *Dispatcher) send(ctx context.Context, n push.Notification, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("push sender panic: %v", r)
			}
		}()
		done <- d.sender.Send(ctx, n)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
