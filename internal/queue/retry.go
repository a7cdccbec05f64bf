package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/timmy/supaarchive/internal/domain"
)

// RetryDelay returns an exponential backoff bounded by maxDelay: base, 2*base, 4*base...
func RetryDelay(base, maxDelay time.Duration) func(n int, err error, t *asynq.Task) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if maxDelay < base {
		maxDelay = base
	}
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		if n < 0 {
			n = 0
		}
		delay := base
		for i := 0; i < n; i++ {
			delay *= 2
			if delay >= maxDelay || delay <= 0 {
				return maxDelay
			}
		}
		return delay
	}
}

// Retryable reports whether an error may succeed on a later attempt.
// Missing records and malformed payloads are structural and never retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, domain.ErrNotFound) &&
		!errors.Is(err, domain.ErrValidation) &&
		!errors.Is(err, asynq.SkipRetry)
}

// classify converts a handler error into what asynq expects: structural errors
// wrap SkipRetry so the task goes straight to the archive.
func classify(err error) error {
	if err == nil || Retryable(err) || errors.Is(err, asynq.SkipRetry) {
		return err
	}
	return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
}
