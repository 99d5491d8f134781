package backoff

import (
	"context"
	"time"

	"github.com/dagucloud/herd/internal/cmn/logger"
	"github.com/dagucloud/herd/internal/cmn/logger/tag"
)

type (
	// Operation to retry.
	Operation func(ctx context.Context) error

	// IsRetriableFunc reports whether err should be retried.
	IsRetriableFunc func(err error) bool
)

// Retry runs op until it succeeds, the policy gives up, or ctx is done.
// A nil isRetriable treats every error as retriable. The last operation
// error is returned when the policy gives up.
func Retry(ctx context.Context, op Operation, policy RetryPolicy, isRetriable IsRetriableFunc) error {
	if isRetriable == nil {
		isRetriable = func(error) bool { return true }
	}

	start := time.Now()
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Debug(ctx, "Retryable operation succeeded", tag.Count(attempt+1))
			}
			return nil
		}
		if !isRetriable(err) {
			return err
		}

		interval, perr := policy.ComputeNextInterval(attempt, time.Since(start), err)
		if perr != nil {
			logger.Warn(ctx, "Retry attempts exhausted", tag.Count(attempt+1), tag.Error(err))
			return err
		}
		if interval <= 0 {
			interval = 100 * time.Millisecond
		}

		logger.Debug(ctx, "Retryable operation failed; scheduling retry",
			tag.Count(attempt+1), tag.Duration(interval), tag.Error(err))

		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
