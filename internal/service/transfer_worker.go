package service

import (
	"context"
	"time"

	"wallet-ledger/config"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// TransferWorker drains the transfer queue through the same Transfer path
// used by synchronous requests.
type TransferWorker struct {
	queue        ports.TransferQueue
	transfers    ports.TransferService
	pollInterval time.Duration
	concurrency  int
	log          zerolog.Logger
}

// NewTransferWorker creates a worker with the queue's polling settings.
func NewTransferWorker(queue ports.TransferQueue, transfers ports.TransferService, cfg config.QueueConfig, log zerolog.Logger) *TransferWorker {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	return &TransferWorker{
		queue:        queue,
		transfers:    transfers,
		pollInterval: poll,
		concurrency:  concurrency,
		log:          log,
	}
}

// RunOnce processes at most one due job and reports whether one was found.
// Retryable failures go back to the queue with backoff; business rejections
// fail the job at once.
func (w *TransferWorker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.queue.Reserve(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	logger := w.log.With().
		Str("job_id", job.ID.String()).
		Str("idempotency_key", job.Request.IdempotencyKey).
		Int("attempt", job.AttemptsMade).
		Logger()

	result, err := w.transfers.Transfer(ctx, job.Request)

	// the outcome is recorded even when the worker is shutting down
	finishCtx := context.WithoutCancel(ctx)
	if err != nil {
		retry := apperror.IsRetryable(err)
		logger.Warn().Err(err).Bool("retry", retry).Msg("queued transfer failed")
		return true, w.queue.Fail(finishCtx, job, err, retry)
	}

	if err := w.queue.Complete(finishCtx, job, result.Transaction.ID); err != nil {
		return true, err
	}
	logger.Info().
		Str("tx_id", result.Transaction.ID.String()).
		Bool("replayed", result.Replayed).
		Msg("queued transfer completed")
	return true, nil
}

// Run polls the queue with the configured concurrency until ctx is done.
func (w *TransferWorker) Run(ctx context.Context) error {
	w.log.Info().Int("concurrency", w.concurrency).Dur("poll_interval", w.pollInterval).Msg("transfer worker started")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			w.loop(ctx)
			return nil
		})
	}
	err := g.Wait()
	w.log.Info().Msg("transfer worker stopped")
	return err
}

func (w *TransferWorker) loop(ctx context.Context) {
	for {
		found, err := w.RunOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			w.log.Error().Err(err).Msg("transfer queue error")
		}
		if found && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.pollInterval):
		}
	}
}
