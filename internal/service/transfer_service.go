package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TransferServiceImpl implements ports.TransferService with pessimistic
// two-wallet locking.
type TransferServiceImpl struct {
	walletRepo ports.WalletRepository
	txRepo     ports.TransactionRepository
	transactor ports.DBTransactor
	cache      ports.BalanceCache
	queue      ports.TransferQueue
	resolver   *idempotencyResolver
	log        zerolog.Logger
	now        func() time.Time
}

// NewTransferService creates a new TransferServiceImpl.
func NewTransferService(
	walletRepo ports.WalletRepository,
	txRepo ports.TransactionRepository,
	transactor ports.DBTransactor,
	cache ports.BalanceCache,
	queue ports.TransferQueue,
	log zerolog.Logger,
) *TransferServiceImpl {
	return &TransferServiceImpl{
		walletRepo: walletRepo,
		txRepo:     txRepo,
		transactor: transactor,
		cache:      cache,
		queue:      queue,
		resolver:   &idempotencyResolver{txRepo: txRepo},
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Transfer moves money between two wallets exactly once per idempotency key.
func (s *TransferServiceImpl) Transfer(ctx context.Context, req ports.TransferRequest) (*ports.TransferResult, error) {
	amount := domain.RoundAmount(req.Amount)
	if !amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}
	if req.SourceWalletID == req.TargetWalletID {
		return nil, apperror.ErrSameWallet()
	}
	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}

	source, err := s.walletRepo.GetByID(ctx, req.SourceWalletID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load source wallet: %w", err))
	}
	if source == nil {
		return nil, apperror.ErrNotFound("source wallet")
	}
	target, err := s.walletRepo.GetByID(ctx, req.TargetWalletID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load target wallet: %w", err))
	}
	if target == nil {
		return nil, apperror.ErrNotFound("target wallet")
	}

	record := domain.NewPendingTransfer(key, source.ID, target.ID, amount, source.Currency,
		req.Description, req.Metadata, s.now())

	existing, err := s.resolver.claim(ctx, record)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.log.Info().
			Str("idempotency_key", key).
			Str("tx_id", existing.ID.String()).
			Msg("transfer replayed from idempotency key")
		return s.replay(ctx, existing, source, target)
	}

	result, err := s.execute(ctx, record)
	if err != nil {
		s.settleFailure(ctx, record, err)
		return nil, err
	}

	if err := s.cache.Invalidate(ctx, result.SourceWallet, result.TargetWallet); err != nil {
		s.log.Warn().Err(err).
			Str("source_wallet_id", source.ID.String()).
			Str("target_wallet_id", target.ID.String()).
			Msg("failed to invalidate wallet cache after transfer")
	}

	s.log.Info().
		Str("tx_id", record.ID.String()).
		Str("idempotency_key", key).
		Str("source_wallet_id", source.ID.String()).
		Str("target_wallet_id", target.ID.String()).
		Str("amount", domain.FormatAmount(amount)).
		Msg("transfer completed")

	return result, nil
}

// replay answers a completed key with the stored transaction and the current
// state of the wallets that transaction moved, which need not be the wallets
// named in the repeated request.
func (s *TransferServiceImpl) replay(ctx context.Context, existing *domain.Transaction, loaded ...*domain.Wallet) (*ports.TransferResult, error) {
	if existing.Type != domain.TransactionTypeTransfer || existing.TargetWalletID == nil {
		return nil, apperror.Validation("idempotency key is already used by a non-transfer transaction")
	}
	source, err := s.walletFor(ctx, existing.SourceWalletID, loaded)
	if err != nil {
		return nil, err
	}
	target, err := s.walletFor(ctx, *existing.TargetWalletID, loaded)
	if err != nil {
		return nil, err
	}
	return &ports.TransferResult{
		Transaction:  existing,
		SourceWallet: source,
		TargetWallet: target,
		Replayed:     true,
	}, nil
}

func (s *TransferServiceImpl) walletFor(ctx context.Context, id uuid.UUID, loaded []*domain.Wallet) (*domain.Wallet, error) {
	for _, w := range loaded {
		if w.ID == id {
			return w, nil
		}
	}
	w, err := s.walletRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load wallet %s: %w", id, err))
	}
	if w == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	return w, nil
}

// execute runs the locked unit of work for a claimed transfer.
func (s *TransferServiceImpl) execute(ctx context.Context, record *domain.Transaction) (*ports.TransferResult, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, storeError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	sourceID, targetID := record.SourceWalletID, *record.TargetWalletID
	locked := make(map[uuid.UUID]*domain.Wallet, 2)
	for _, id := range lockOrder(sourceID, targetID) {
		w, err := s.walletRepo.GetByIDForUpdate(ctx, dbTx, id)
		if err != nil {
			return nil, storeError(fmt.Errorf("lock wallet %s: %w", id, err))
		}
		if w == nil {
			return nil, apperror.ErrNotFound("wallet")
		}
		locked[id] = w
	}
	source, target := locked[sourceID], locked[targetID]

	// an inactive source cannot withdraw and is reported the same way as a short one
	if !source.CanWithdraw(record.Amount) {
		return nil, apperror.ErrInsufficientFunds()
	}
	if !target.CanDeposit(record.Amount) {
		return nil, apperror.ErrInvalidTargetStatus()
	}
	if source.Currency != target.Currency {
		return nil, apperror.ErrCurrencyMismatch(source.Currency, target.Currency)
	}

	if err := source.SubtractBalance(record.Amount); err != nil {
		return nil, apperror.InternalError(err)
	}
	if err := target.AddBalance(record.Amount); err != nil {
		return nil, apperror.InternalError(err)
	}
	if err := s.walletRepo.Update(ctx, dbTx, source); err != nil {
		return nil, storeError(fmt.Errorf("update source wallet: %w", err))
	}
	if err := s.walletRepo.Update(ctx, dbTx, target); err != nil {
		return nil, storeError(fmt.Errorf("update target wallet: %w", err))
	}

	if err := record.MarkCompleted(s.now()); err != nil {
		return nil, apperror.InternalError(err)
	}
	if err := s.txRepo.Finalize(ctx, dbTx, record); err != nil {
		return nil, storeError(fmt.Errorf("complete transaction: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, storeError(fmt.Errorf("commit tx: %w", err))
	}

	return &ports.TransferResult{
		Transaction:  record,
		SourceWallet: source,
		TargetWallet: target,
	}, nil
}

// settleFailure resolves the claim after the unit of work rolled back.
// Business rejections are recorded as FAILED so the key cannot be reused;
// infrastructure failures release the claim so the same key may be retried.
func (s *TransferServiceImpl) settleFailure(ctx context.Context, record *domain.Transaction, cause error) {
	ctx = context.WithoutCancel(ctx)
	logger := s.log.With().
		Str("tx_id", record.ID.String()).
		Str("idempotency_key", record.IdempotencyKey).
		Logger()

	if !isBusinessRejection(cause) {
		if err := s.txRepo.Release(ctx, record.ID); err != nil {
			logger.Error().Err(err).Msg("failed to release transfer claim")
		}
		logger.Warn().Err(cause).Msg("transfer aborted")
		return
	}

	if err := s.recordFailure(ctx, record, failureReason(cause)); err != nil {
		logger.Error().Err(err).Msg("failed to record transfer failure")
		return
	}
	logger.Info().Str("reason", failureReason(cause)).Msg("transfer rejected")
}

func (s *TransferServiceImpl) recordFailure(ctx context.Context, record *domain.Transaction, reason string) error {
	if err := record.MarkFailed(reason, s.now()); err != nil {
		return err
	}
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return err
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.txRepo.Finalize(ctx, dbTx, record); err != nil {
		return err
	}
	return dbTx.Commit(ctx)
}

// SubmitTransferAsync validates and enqueues a transfer for the worker.
func (s *TransferServiceImpl) SubmitTransferAsync(ctx context.Context, req ports.TransferRequest) (*ports.TransferJob, error) {
	req.Amount = domain.RoundAmount(req.Amount)
	if !req.Amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}
	if req.SourceWalletID == req.TargetWalletID {
		return nil, apperror.ErrSameWallet()
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	job, err := s.queue.Enqueue(ctx, req)
	if err != nil {
		return nil, apperror.InternalError(err)
	}

	s.log.Info().
		Str("job_id", job.ID.String()).
		Str("idempotency_key", req.IdempotencyKey).
		Msg("transfer queued")
	return job, nil
}

// GetTransferJob returns the queued job with the given id.
func (s *TransferServiceImpl) GetTransferJob(ctx context.Context, id uuid.UUID) (*ports.TransferJob, error) {
	job, err := s.queue.Get(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if job == nil {
		return nil, apperror.ErrNotFound("transfer job")
	}
	return job, nil
}

func (s *TransferServiceImpl) QueueStats(ctx context.Context) (*ports.QueueStats, error) {
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	return stats, nil
}

// lockOrder returns the two ids in ascending byte order. Every writer locks
// in this order, so two opposite transfers cannot deadlock.
func lockOrder(a, b uuid.UUID) [2]uuid.UUID {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return [2]uuid.UUID{a, b}
	}
	return [2]uuid.UUID{b, a}
}

// storeError classifies a storage failure. Lock waits, deadlocks and
// serialization failures become LockTimeout; everything else is internal.
func storeError(err error) *apperror.AppError {
	if ports.IsTransient(err) {
		return apperror.ErrLockTimeout(err)
	}
	return apperror.InternalError(err)
}

// isBusinessRejection reports whether err is a decision about the request
// rather than a failure to evaluate it.
func isBusinessRejection(err error) bool {
	switch apperror.KindOf(err) {
	case apperror.KindState, apperror.KindInsufficientFunds, apperror.KindNotFound, apperror.KindValidation:
		return true
	default:
		return false
	}
}

func failureReason(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
