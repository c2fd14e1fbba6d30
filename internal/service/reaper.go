package service

import (
	"context"
	"fmt"
	"time"

	"wallet-ledger/config"
	"wallet-ledger/internal/core/ports"

	"github.com/rs/zerolog"
)

// StaleTransferReaper cancels PENDING transfer records whose process died
// before finishing them, so their keys stop reporting "in progress".
type StaleTransferReaper struct {
	txRepo     ports.TransactionRepository
	interval   time.Duration
	pendingTTL time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

// NewStaleTransferReaper creates a reaper from its config section.
func NewStaleTransferReaper(txRepo ports.TransactionRepository, cfg config.ReaperConfig, log zerolog.Logger) *StaleTransferReaper {
	return &StaleTransferReaper{
		txRepo:     txRepo,
		interval:   cfg.Interval,
		pendingTTL: cfg.PendingTTL,
		log:        log,
		now:        time.Now,
	}
}

// RunOnce cancels every pending record older than the TTL.
func (r *StaleTransferReaper) RunOnce(ctx context.Context) (int64, error) {
	cutoff := r.now().UTC().Add(-r.pendingTTL)
	reason := fmt.Sprintf("abandoned: not completed within %s", r.pendingTTL)

	n, err := r.txRepo.CancelStalePending(ctx, cutoff, reason)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Warn().Int64("cancelled", n).Time("cutoff", cutoff).Msg("cancelled stale pending transfers")
	}
	return n, nil
}

// Run sweeps on every interval until ctx is done. A non-positive interval disables it.
func (r *StaleTransferReaper) Run(ctx context.Context) error {
	if r.interval <= 0 || r.pendingTTL <= 0 {
		r.log.Info().Msg("stale transfer reaper disabled")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.log.Error().Err(err).Msg("stale transfer sweep failed")
			}
		}
	}
}
