package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

const openingBalanceDescription = "Initial wallet balance"

// WalletServiceImpl implements ports.WalletService. Deposits and withdrawals
// use version-guarded optimistic writes against a single wallet.
type WalletServiceImpl struct {
	walletRepo ports.WalletRepository
	txRepo     ports.TransactionRepository
	transactor ports.DBTransactor
	cache      ports.BalanceCache
	policy     RetryPolicy
	log        zerolog.Logger
	now        func() time.Time
}

// NewWalletService creates a new WalletServiceImpl.
func NewWalletService(
	walletRepo ports.WalletRepository,
	txRepo ports.TransactionRepository,
	transactor ports.DBTransactor,
	cache ports.BalanceCache,
	policy RetryPolicy,
	log zerolog.Logger,
) *WalletServiceImpl {
	return &WalletServiceImpl{
		walletRepo: walletRepo,
		txRepo:     txRepo,
		transactor: transactor,
		cache:      cache,
		policy:     policy,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateWallet opens the single wallet of an owner. A positive opening
// balance is recorded as a completed deposit in the same unit of work.
func (s *WalletServiceImpl) CreateWallet(ctx context.Context, req ports.CreateWalletRequest) (*domain.Wallet, error) {
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		return nil, apperror.Validation("owner_id is required")
	}
	initial := domain.RoundAmount(req.InitialBalance)
	if initial.IsNegative() {
		return nil, apperror.Validation("initial balance cannot be negative")
	}

	existing, err := s.walletRepo.GetByOwnerID(ctx, ownerID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("check existing wallet: %w", err))
	}
	if existing != nil {
		return nil, apperror.ErrDuplicateWallet()
	}

	now := s.now()
	wallet := domain.NewWallet(ownerID, initial, strings.ToUpper(req.Currency), now)

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.walletRepo.Create(ctx, dbTx, wallet); err != nil {
		if errors.Is(err, ports.ErrDuplicateOwner) {
			return nil, apperror.ErrDuplicateWallet()
		}
		return nil, apperror.InternalError(fmt.Errorf("create wallet: %w", err))
	}

	if wallet.Balance.IsPositive() {
		desc := openingBalanceDescription
		entry := domain.NewCompletedEntry(domain.TransactionTypeDeposit, wallet.ID, wallet.Balance, wallet.Currency, &desc, now)
		if err := s.txRepo.Create(ctx, dbTx, entry); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("record opening balance: %w", err))
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	if err := s.cache.SetWallet(ctx, wallet); err != nil {
		s.log.Warn().Err(err).Str("wallet_id", wallet.ID.String()).Msg("failed to cache new wallet")
	}

	s.log.Info().
		Str("wallet_id", wallet.ID.String()).
		Str("owner_id", ownerID).
		Str("balance", domain.FormatAmount(wallet.Balance)).
		Msg("wallet created")

	return wallet, nil
}

// GetWallet reads through the cache.
func (s *WalletServiceImpl) GetWallet(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	cached, err := s.cache.GetWallet(ctx, id)
	if err != nil {
		s.log.Warn().Err(err).Str("wallet_id", id.String()).Msg("wallet cache read failed, falling through to DB")
	}
	if cached != nil {
		return cached, nil
	}

	wallet, err := s.loadWallet(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetWallet(ctx, wallet); err != nil {
		s.log.Warn().Err(err).Str("wallet_id", id.String()).Msg("failed to cache wallet")
	}
	return wallet, nil
}

func (s *WalletServiceImpl) GetWalletByOwner(ctx context.Context, ownerID string) (*domain.Wallet, error) {
	wallet, err := s.walletRepo.GetByOwnerID(ctx, ownerID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	return wallet, nil
}

// GetBalance reads the balance through the cache.
func (s *WalletServiceImpl) GetBalance(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	cached, err := s.cache.GetBalance(ctx, id)
	if err != nil {
		s.log.Warn().Err(err).Str("wallet_id", id.String()).Msg("balance cache read failed, falling through to DB")
	}
	if cached != nil {
		return *cached, nil
	}

	wallet, err := s.loadWallet(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.cache.SetWallet(ctx, wallet); err != nil {
		s.log.Warn().Err(err).Str("wallet_id", id.String()).Msg("failed to cache balance")
	}
	return wallet.Balance, nil
}

// Deposit credits a wallet.
func (s *WalletServiceImpl) Deposit(ctx context.Context, req ports.BalanceChangeRequest) (*domain.Wallet, error) {
	return s.applyBalanceChange(ctx, req, domain.TransactionTypeDeposit)
}

// Withdraw debits a wallet.
func (s *WalletServiceImpl) Withdraw(ctx context.Context, req ports.BalanceChangeRequest) (*domain.Wallet, error) {
	return s.applyBalanceChange(ctx, req, domain.TransactionTypeWithdrawal)
}

func (s *WalletServiceImpl) applyBalanceChange(ctx context.Context, req ports.BalanceChangeRequest, txType domain.TransactionType) (*domain.Wallet, error) {
	amount := domain.RoundAmount(req.Amount)
	if !amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}

	logger := s.log.With().Str("wallet_id", req.WalletID.String()).Str("type", string(txType)).Logger()

	var updated *domain.Wallet
	err := withOptimisticRetry(ctx, s.policy, logger, func(int) error {
		w, err := s.writeBalanceChange(ctx, req, txType, amount)
		if err != nil {
			return err
		}
		updated = w
		return nil
	})
	if err != nil {
		return nil, asAppError(err)
	}

	if err := s.cache.Invalidate(ctx, updated); err != nil {
		logger.Warn().Err(err).Msg("failed to invalidate wallet cache")
	}

	logger.Info().
		Str("amount", domain.FormatAmount(amount)).
		Str("balance", domain.FormatAmount(updated.Balance)).
		Int64("version", updated.Version).
		Msg("balance changed")

	return updated, nil
}

// writeBalanceChange is one optimistic attempt: read, re-read under the noted
// version, mutate, record and write back guarded by that version.
func (s *WalletServiceImpl) writeBalanceChange(ctx context.Context, req ports.BalanceChangeRequest, txType domain.TransactionType, amount decimal.Decimal) (*domain.Wallet, error) {
	snapshot, err := s.walletRepo.GetByID(ctx, req.WalletID)
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	if snapshot == nil {
		return nil, apperror.ErrNotFound("wallet")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	wallet, err := s.walletRepo.GetByIDAndVersion(ctx, dbTx, snapshot.ID, snapshot.Version)
	if err != nil {
		return nil, fmt.Errorf("reload wallet: %w", err)
	}
	if wallet == nil {
		return nil, errStaleVersion
	}

	if req.Currency != "" && !strings.EqualFold(req.Currency, wallet.Currency) {
		return nil, apperror.ErrCurrencyMismatch(wallet.Currency, strings.ToUpper(req.Currency))
	}

	switch txType {
	case domain.TransactionTypeDeposit:
		if !wallet.CanDeposit(amount) {
			return nil, apperror.ErrWalletNotActive()
		}
		if err := wallet.AddBalance(amount); err != nil {
			return nil, apperror.InternalError(err)
		}
	case domain.TransactionTypeWithdrawal:
		if !wallet.IsActive() {
			return nil, apperror.ErrWalletNotActive()
		}
		if !wallet.CanWithdraw(amount) {
			return nil, apperror.ErrInsufficientFunds()
		}
		if err := wallet.SubtractBalance(amount); err != nil {
			return nil, apperror.ErrInsufficientFunds()
		}
	default:
		return nil, apperror.InternalError(fmt.Errorf("unsupported balance change %q", txType))
	}

	entry := domain.NewCompletedEntry(txType, wallet.ID, amount, wallet.Currency, req.Description, s.now())
	if err := s.txRepo.Create(ctx, dbTx, entry); err != nil {
		return nil, fmt.Errorf("record %s: %w", strings.ToLower(string(txType)), err)
	}
	if err := s.walletRepo.Update(ctx, dbTx, wallet); err != nil {
		return nil, err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return wallet, nil
}

// UpdateStatus changes a wallet's status under a row lock.
func (s *WalletServiceImpl) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.WalletStatus) (*domain.Wallet, error) {
	if !status.Valid() {
		return nil, apperror.Validation(fmt.Sprintf("invalid wallet status %q", status))
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	wallet, err := s.walletRepo.GetByIDForUpdate(ctx, dbTx, id)
	if err != nil {
		return nil, storeError(fmt.Errorf("lock wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}

	from := wallet.Status
	if err := wallet.ChangeStatus(status); err != nil {
		return nil, apperror.ErrInvalidStatusTransition(string(from), string(status))
	}
	if err := s.walletRepo.Update(ctx, dbTx, wallet); err != nil {
		return nil, storeError(fmt.Errorf("update wallet: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, storeError(fmt.Errorf("commit tx: %w", err))
	}

	if err := s.cache.Invalidate(ctx, wallet); err != nil {
		s.log.Warn().Err(err).Str("wallet_id", id.String()).Msg("failed to invalidate wallet cache")
	}

	s.log.Info().
		Str("wallet_id", id.String()).
		Str("from", string(from)).
		Str("to", string(status)).
		Msg("wallet status changed")

	return wallet, nil
}

func (s *WalletServiceImpl) ListWallets(ctx context.Context, params ports.WalletListParams) ([]domain.Wallet, int64, error) {
	params.Page, params.PageSize = normalizePage(params.Page, params.PageSize)
	if params.Status != nil && !params.Status.Valid() {
		return nil, 0, apperror.Validation(fmt.Sprintf("invalid wallet status %q", *params.Status))
	}

	wallets, total, err := s.walletRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(err)
	}
	return wallets, total, nil
}

// WalletsByBalanceRange lists wallets whose balance lies in [min, max].
func (s *WalletServiceImpl) WalletsByBalanceRange(ctx context.Context, min, max decimal.Decimal) ([]domain.Wallet, error) {
	if min.IsNegative() || max.IsNegative() {
		return nil, apperror.Validation("balance bounds cannot be negative")
	}
	if min.GreaterThan(max) {
		return nil, apperror.Validation("min balance exceeds max balance")
	}

	wallets, err := s.walletRepo.ListByBalanceRange(ctx, domain.RoundAmount(min), domain.RoundAmount(max))
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	return wallets, nil
}

func (s *WalletServiceImpl) GetStats(ctx context.Context) (*ports.WalletStats, error) {
	stats, err := s.walletRepo.GetStats(ctx)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	return stats, nil
}

// Reconcile compares the stored balance with the sum of the wallet's
// completed transactions.
func (s *WalletServiceImpl) Reconcile(ctx context.Context, id uuid.UUID) (*ports.ReconcileResult, error) {
	wallet, err := s.loadWallet(ctx, id)
	if err != nil {
		return nil, err
	}
	ledger, err := s.txRepo.LedgerBalance(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(err)
	}

	result := &ports.ReconcileResult{
		WalletID:      id,
		Balance:       wallet.Balance,
		LedgerBalance: domain.RoundAmount(ledger),
		Consistent:    wallet.Balance.Equal(ledger),
	}
	if !result.Consistent {
		s.log.Error().
			Str("wallet_id", id.String()).
			Str("balance", domain.FormatAmount(wallet.Balance)).
			Str("ledger_balance", domain.FormatAmount(ledger)).
			Msg("wallet balance diverges from ledger")
	}
	return result, nil
}

func (s *WalletServiceImpl) loadWallet(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	wallet, err := s.walletRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	return wallet, nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

// asAppError keeps AppErrors as they are and wraps anything else as internal.
func asAppError(err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.InternalError(err)
}
