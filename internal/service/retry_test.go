package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"wallet-ledger/config"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicyFrom(config.EngineConfig{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond})

	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, p.delay(1))
	assert.Equal(t, 200*time.Millisecond, p.delay(2))
	assert.Equal(t, 400*time.Millisecond, p.delay(3))
}

func TestIsOptimisticConflict(t *testing.T) {
	assert.True(t, isOptimisticConflict(errStaleVersion))
	assert.True(t, isOptimisticConflict(ports.ErrVersionConflict))
	assert.True(t, isOptimisticConflict(&pgconn.PgError{Code: "40001"}))
	assert.False(t, isOptimisticConflict(apperror.ErrInsufficientFunds()))
	assert.False(t, isOptimisticConflict(errors.New("connection refused")))
}

func TestWithOptimisticRetry(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	t.Run("succeeds after conflicts", func(t *testing.T) {
		var attempts []int
		err := withOptimisticRetry(context.Background(), policy, zerolog.Nop(), func(attempt int) error {
			attempts = append(attempts, attempt)
			if attempt < 3 {
				return ports.ErrVersionConflict
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3}, attempts)
	})

	t.Run("stops on business error", func(t *testing.T) {
		calls := 0
		err := withOptimisticRetry(context.Background(), policy, zerolog.Nop(), func(int) error {
			calls++
			return apperror.ErrInsufficientFunds()
		})
		assertAppError(t, err, apperror.CodeInsufficientFunds)
		assert.Equal(t, 1, calls)
	})

	t.Run("exhaustion", func(t *testing.T) {
		calls := 0
		err := withOptimisticRetry(context.Background(), policy, zerolog.Nop(), func(int) error {
			calls++
			return errStaleVersion
		})
		assertAppError(t, err, apperror.CodeConcurrentModification)
		assert.Equal(t, 3, calls)
	})

	t.Run("waits with backoff", func(t *testing.T) {
		slow := RetryPolicy{MaxAttempts: 3, BaseDelay: 20 * time.Millisecond}
		start := time.Now()
		_ = withOptimisticRetry(context.Background(), slow, zerolog.Nop(), func(int) error {
			return errStaleVersion
		})
		// 20ms before the second attempt, 40ms before the third
		assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour}
		calls := 0
		err := withOptimisticRetry(ctx, slow, zerolog.Nop(), func(int) error {
			calls++
			cancel()
			return errStaleVersion
		})
		assertAppError(t, err, apperror.CodeInternal)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}
