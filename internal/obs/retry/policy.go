package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// PublishPolicy retries broker writes with exponential backoff. Context
// cancellation stops retrying.
func PublishPolicy(log *zap.Logger, attempts int) Policy {
	if log == nil {
		log = zap.NewNop()
	}
	if attempts <= 0 {
		attempts = 6
	}
	return Policy{
		Attempts: attempts,
		Backoff:  ExpoJitter{Base: 200 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2},
		Retryable: func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		},
		OnAttempt: func(i int, err error) {
			log.Warn("publish retry", zap.Int("attempt", i+1), zap.Error(err))
		},
		OnExhaust: func(err error) {
			if !errors.Is(err, context.Canceled) {
				log.Error("publish retries exhausted", zap.Error(err))
			}
		},
	}
}
