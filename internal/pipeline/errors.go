package pipeline

import (
	"errors"
	"time"
)

var (
	// ErrAssetUnreadable marks an original that cannot be decoded. Retrying
	// will not help.
	ErrAssetUnreadable = errors.New("asset unreadable")
	// ErrTransientIO marks a read, write or commit failure worth retrying.
	ErrTransientIO = errors.New("transient io")
	// ErrPartialRender marks a commit that went through without a preview.
	ErrPartialRender = errors.New("partial render")
)

// IsRetryable reports whether a failed attempt should be redelivered.
func IsRetryable(err error) bool {
	return err != nil && !errors.Is(err, ErrAssetUnreadable)
}

// Backoff returns the delay before the given (1-based) retry attempt:
// base doubled per attempt, capped at limit.
func Backoff(base, limit time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= limit {
				return limit
			}
		}
		return min(d, limit)
	}
}
