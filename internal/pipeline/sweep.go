package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/photoproc/internal/models"
)

// PendingLister finds photos still waiting for a successful job.
type PendingLister interface {
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]models.Photo, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, photoID uuid.UUID) error
}

// Sweep re-enqueues photos that have been pending for longer than age.
// It covers uploads whose enqueue failed after the record was committed
// and jobs that were dead-lettered after transient failures. Photos whose
// last failure was an unreadable asset are left alone, since a retry cannot
// succeed. It returns how many were queued.
func Sweep(ctx context.Context, photos PendingLister, q Enqueuer, age time.Duration, limit int) (int, error) {
	pending, err := photos.ListPending(ctx, time.Now().Add(-age), limit)
	if err != nil {
		return 0, fmt.Errorf("list pending photos: %w", err)
	}

	queued := 0
	for _, p := range pending {
		if permanentFailure(p.LastError) {
			slog.Debug("skip permanently failed photo", "photo_id", p.ID, "last_error", p.LastError)
			continue
		}
		if err := q.Enqueue(ctx, p.ID); err != nil {
			return queued, fmt.Errorf("enqueue %s: %w", p.ID, err)
		}
		slog.Debug("photo re-enqueued", "photo_id", p.ID, "last_error", p.LastError)
		queued++
	}
	return queued, nil
}

func permanentFailure(lastError string) bool {
	return strings.Contains(lastError, ErrAssetUnreadable.Error())
}
