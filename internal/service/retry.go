package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sakif/meeting-scheduler/internal/apperror"
)

// DefaultRetryBackoff is the pause before the single retry of a write that
// failed with a transient store error.
const DefaultRetryBackoff = 100 * time.Millisecond

// retryOnce runs fn and, if it fails with a retryable error, runs it one more
// time after backoff. Writes are atomic, so a failed attempt left nothing
// behind.
func retryOnce(ctx context.Context, logger *slog.Logger, op string, backoff time.Duration, fn func() error) error {
	err := fn()
	if !apperror.IsRetryable(err) {
		return err
	}

	logger.Warn("transient store error, retrying",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)

	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return err
	case <-timer.C:
	}

	return fn()
}
