package ports

//go:generate mockgen -destination=mocks/repositories.go -package=mocks . WalletRepository,TransactionRepository,DBTransactor

import (
	"context"
	"time"

	"wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// WalletRepository defines persistence operations for wallets.
// Methods accepting pgx.Tx run inside the caller's unit of work.
type WalletRepository interface {
	Create(ctx context.Context, tx pgx.Tx, wallet *domain.Wallet) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetByOwnerID(ctx context.Context, ownerID string) (*domain.Wallet, error)
	// GetByIDForUpdate takes a row lock held until tx ends.
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error)
	// GetByIDAndVersion returns nil, nil when the row is gone or its version differs.
	GetByIDAndVersion(ctx context.Context, tx pgx.Tx, id uuid.UUID, version int64) (*domain.Wallet, error)
	// Update writes balance and status guarded by wallet.Version and bumps it on success.
	Update(ctx context.Context, tx pgx.Tx, wallet *domain.Wallet) error
	List(ctx context.Context, params WalletListParams) ([]domain.Wallet, int64, error)
	ListByBalanceRange(ctx context.Context, min, max decimal.Decimal) ([]domain.Wallet, error)
	GetStats(ctx context.Context) (*WalletStats, error)
}

// TransactionRepository defines persistence operations for transactions.
type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error
	// Claim inserts a pending record in its own statement. It returns false
	// when another record already owns the idempotency key.
	Claim(ctx context.Context, transaction *domain.Transaction) (bool, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error)
	// Finalize moves a pending record to its terminal status.
	Finalize(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error
	// Release deletes a still-pending claim so its key can be submitted again.
	Release(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
	GetStats(ctx context.Context, walletID *uuid.UUID) (*TransactionStats, error)
	// LedgerBalance sums the net effect of all completed transactions on walletID.
	LedgerBalance(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error)
	// CancelStalePending cancels pending records created before olderThan.
	CancelStalePending(ctx context.Context, olderThan time.Time, reason string) (int64, error)
}

// WalletListParams holds filter + pagination for listing wallets.
type WalletListParams struct {
	Status   *domain.WalletStatus
	Currency *string
	Page     int
	PageSize int
}

// WalletStats holds aggregate figures across all wallets.
type WalletStats struct {
	TotalWallets   int64           `json:"total_wallets"`
	ActiveWallets  int64           `json:"active_wallets"`
	TotalBalance   decimal.Decimal `json:"total_balance"`
	AverageBalance decimal.Decimal `json:"average_balance"`
}

// TransactionListParams holds filter + pagination for listing transactions.
// WalletID matches either side of a transfer. OwnerID joins through wallets.
type TransactionListParams struct {
	WalletID    *uuid.UUID
	OwnerID     *string
	Type        *domain.TransactionType
	Status      *domain.TransactionStatus
	From        *time.Time
	To          *time.Time
	MinAmount   *decimal.Decimal
	MaxAmount   *decimal.Decimal
	OldestFirst bool
	Page        int
	PageSize    int
}

// TransactionStats holds aggregated ledger statistics.
type TransactionStats struct {
	TotalTransactions int64           `json:"total_transactions"`
	Completed         int64           `json:"completed"`
	Pending           int64           `json:"pending"`
	Failed            int64           `json:"failed"`
	Cancelled         int64           `json:"cancelled"`
	TotalDeposits     decimal.Decimal `json:"total_deposits"`
	TotalWithdrawals  decimal.Decimal `json:"total_withdrawals"`
	TotalTransfers    decimal.Decimal `json:"total_transfers"`
	TotalFees         decimal.Decimal `json:"total_fees"`
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
