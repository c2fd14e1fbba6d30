package service

import (
	"context"
	"errors"
	"time"

	"wallet-ledger/config"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

// errStaleVersion signals that the wallet changed between the read and the guarded re-read.
var errStaleVersion = errors.New("wallet version changed")

// RetryPolicy bounds the optimistic single-wallet loop.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// RetryPolicyFrom builds a policy from engine settings.
func RetryPolicyFrom(cfg config.EngineConfig) RetryPolicy {
	return RetryPolicy{MaxAttempts: cfg.MaxAttempts, BaseDelay: cfg.BaseDelay}
}

// delay returns the wait before the given retry: BaseDelay, 2*BaseDelay, 4*BaseDelay...
func (p RetryPolicy) delay(retry int) time.Duration {
	return p.BaseDelay * time.Duration(1<<(retry-1))
}

func isOptimisticConflict(err error) bool {
	return errors.Is(err, errStaleVersion) || errors.Is(err, ports.ErrVersionConflict) || ports.IsTransient(err)
}

// withOptimisticRetry runs op until it succeeds, fails with a non-conflict
// error, or the attempts run out. Exhaustion maps to ErrConcurrentModification.
func withOptimisticRetry(ctx context.Context, p RetryPolicy, log zerolog.Logger, op func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(p.delay(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return apperror.InternalError(ctx.Err())
			case <-timer.C:
			}
		}

		lastErr = op(attempt)
		if lastErr == nil {
			return nil
		}
		if !isOptimisticConflict(lastErr) {
			return lastErr
		}
		log.Debug().Err(lastErr).Int("attempt", attempt).Msg("optimistic write conflict")
	}

	log.Warn().Err(lastErr).Int("attempts", attempts).Msg("optimistic retries exhausted")
	return apperror.ErrConcurrentModification(lastErr)
}
