// Package deliver consumes dispatch messages and performs the actual
// provider sends. Workers are stateless: retry is entirely the queue's
// redelivery, and each received message gets exactly one outbound call per
// attempt.
package deliver

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"botrelay/internal/provider/telegram"
	"botrelay/internal/relay"
	logx "botrelay/pkg/logx"
)

// Provider performs one outbound send. Errors must be classified as
// telegram.ErrRejected (non-retryable) or telegram.ErrUnreachable
// (retryable); anything else is treated as retryable.
type Provider interface {
	Send(ctx context.Context, token string, chatID int64, text string, mode relay.ParseMode) error
}

// Worker is the per-message handler bound to queue subscribers. A shared
// limiter caps the aggregate provider request rate across all subscribers.
type Worker struct {
	log      logx.Logger
	provider Provider
	limiter  *rate.Limiter
}

func NewWorker(provider Provider, ratePerSec int, log logx.Logger) *Worker {
	if ratePerSec <= 0 {
		ratePerSec = 25
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Worker{
		log:      log,
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
	}
}

// Handle implements queue.Handler. Return value drives acking:
//   - nil on success and on provider rejection (redelivering a rejected
//     message cannot succeed, so it is dropped with a log record);
//   - non-nil on transport failure, leaving the entry pending for
//     redelivery.
func (w *Worker) Handle(ctx context.Context, payload []byte) error {
	msg, err := relay.DecodeDispatchMessage(payload)
	if err != nil {
		// Poison entry; ack it away so it cannot wedge the group.
		w.log.Error("dropping undecodable dispatch message", logx.Err(err))
		return nil
	}

	if err := w.limiter.Wait(ctx); err != nil {
		// Shutdown while queued behind the limiter; leave the entry pending.
		return err
	}

	err = w.provider.Send(ctx, msg.BotToken, msg.TargetID, msg.Message, msg.Format)
	switch {
	case err == nil:
		w.log.Debug("delivered",
			logx.String("msg_id", msg.ID),
			logx.Int64("target_id", msg.TargetID))
		return nil
	case errors.Is(err, telegram.ErrRejected):
		w.log.Warn("provider rejected; message dropped",
			logx.String("msg_id", msg.ID),
			logx.Int64("target_id", msg.TargetID),
			logx.Err(err))
		return nil
	default:
		w.log.Warn("provider unreachable; message left for redelivery",
			logx.String("msg_id", msg.ID),
			logx.Int64("target_id", msg.TargetID),
			logx.Err(err))
		return err
	}
}
