package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/photoproc/internal/config"
	"github.com/your-org/photoproc/internal/observability"
	"github.com/your-org/photoproc/internal/queue"
)

// FailureRecorder records why a photo will not be processed.
type FailureRecorder interface {
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (int64, error)
}

// Deliver runs one queue delivery through the processor.
func (p *Processor) Deliver(ctx context.Context, d queue.Delivery) error {
	_, err := p.Handle(ctx, d.PhotoID, d.Attempt)
	return err
}

// RetryPolicy is the queue policy for photo jobs. Dead letters are written
// back onto the record so the failure is visible to readers.
func RetryPolicy(cfg config.QueueConfig, rec FailureRecorder, notify func(queue.DeadLetter)) queue.Policy {
	return queue.Policy{
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     Backoff(cfg.BackoffBase, cfg.BackoffMax),
		Retryable:   IsRetryable,
		OnDeadLetter: func(ctx context.Context, dl queue.DeadLetter) {
			observability.JobsTotal.WithLabelValues("dead_letter").Inc()
			if rec != nil {
				mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if _, err := rec.MarkFailed(mctx, dl.PhotoID, dl.Error); err != nil {
					slog.Error("record photo failure", "photo_id", dl.PhotoID, "error", err)
				}
			}
			if notify != nil {
				notify(dl)
			}
		},
	}
}
