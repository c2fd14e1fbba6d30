package ports

//go:generate mockgen -destination=mocks/services.go -package=mocks . BalanceCache,TransferQueue,WalletService,TransferService,TransactionService

import (
	"context"
	"time"

	"wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceCache is the TTL-bounded side cache of wallet snapshots and balances.
// Getters return nil, nil on a miss.
type BalanceCache interface {
	GetWallet(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	SetWallet(ctx context.Context, wallet *domain.Wallet) error
	GetBalance(ctx context.Context, id uuid.UUID) (*decimal.Decimal, error)
	// Invalidate drops the entries of wallets that were just committed.
	Invalidate(ctx context.Context, wallets ...*domain.Wallet) error
}

// TransferQueue is the durable work queue behind asynchronous transfers.
type TransferQueue interface {
	Enqueue(ctx context.Context, req TransferRequest) (*TransferJob, error)
	// Reserve hands out the next due job, or nil when none is ready.
	Reserve(ctx context.Context) (*TransferJob, error)
	Complete(ctx context.Context, job *TransferJob, transactionID uuid.UUID) error
	// Fail records the attempt; retry schedules another run with backoff while attempts remain.
	Fail(ctx context.Context, job *TransferJob, cause error, retry bool) error
	Get(ctx context.Context, id uuid.UUID) (*TransferJob, error)
	Stats(ctx context.Context) (*QueueStats, error)
}

// JobState is the lifecycle state of a queued transfer.
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateDelayed   JobState = "delayed"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// TransferJob is one queued transfer request and its processing history.
type TransferJob struct {
	ID            uuid.UUID       `json:"id"`
	Request       TransferRequest `json:"request"`
	State         JobState        `json:"state"`
	AttemptsMade  int             `json:"attempts_made"`
	MaxAttempts   int             `json:"max_attempts"`
	LastError     string          `json:"last_error,omitempty"`
	TransactionID *uuid.UUID      `json:"transaction_id,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	RunAt         *time.Time      `json:"run_at,omitempty"`
}

// QueueStats counts jobs per state.
type QueueStats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// --- Service Ports (Business Logic) ---

// WalletService covers wallet lifecycle, single-wallet money movement and wallet reads.
type WalletService interface {
	CreateWallet(ctx context.Context, req CreateWalletRequest) (*domain.Wallet, error)
	GetWallet(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetWalletByOwner(ctx context.Context, ownerID string) (*domain.Wallet, error)
	GetBalance(ctx context.Context, id uuid.UUID) (decimal.Decimal, error)
	Deposit(ctx context.Context, req BalanceChangeRequest) (*domain.Wallet, error)
	Withdraw(ctx context.Context, req BalanceChangeRequest) (*domain.Wallet, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.WalletStatus) (*domain.Wallet, error)
	ListWallets(ctx context.Context, params WalletListParams) ([]domain.Wallet, int64, error)
	WalletsByBalanceRange(ctx context.Context, min, max decimal.Decimal) ([]domain.Wallet, error)
	GetStats(ctx context.Context) (*WalletStats, error)
	Reconcile(ctx context.Context, id uuid.UUID) (*ReconcileResult, error)
}

// TransferService moves money between two wallets, synchronously or through the queue.
type TransferService interface {
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
	SubmitTransferAsync(ctx context.Context, req TransferRequest) (*TransferJob, error)
	GetTransferJob(ctx context.Context, id uuid.UUID) (*TransferJob, error)
	QueueStats(ctx context.Context) (*QueueStats, error)
}

// TransactionService answers read-side queries over the ledger.
type TransactionService interface {
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error)
	List(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
	Stats(ctx context.Context, walletID *uuid.UUID) (*TransactionStats, error)
	Failed(ctx context.Context, limit int) ([]domain.Transaction, error)
	Pending(ctx context.Context, limit int) ([]domain.Transaction, error)
	ByDateRange(ctx context.Context, from, to time.Time, ownerID *string) ([]domain.Transaction, error)
	ByOwner(ctx context.Context, ownerID string, page, pageSize int) ([]domain.Transaction, int64, error)
}

// CreateWalletRequest holds validated input for wallet creation.
type CreateWalletRequest struct {
	OwnerID        string
	InitialBalance decimal.Decimal
	Currency       string
}

// BalanceChangeRequest holds validated input for a deposit or withdrawal.
// An empty Currency skips the currency check.
type BalanceChangeRequest struct {
	WalletID    uuid.UUID
	Amount      decimal.Decimal
	Description *string
	Currency    string
}

// TransferRequest holds input for a wallet-to-wallet transfer. It is also the
// payload of queued transfer jobs.
type TransferRequest struct {
	SourceWalletID uuid.UUID              `json:"source_wallet_id"`
	TargetWalletID uuid.UUID              `json:"target_wallet_id"`
	Amount         decimal.Decimal        `json:"amount"`
	IdempotencyKey string                 `json:"idempotency_key"`
	Description    *string                `json:"description,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// TransferResult is returned by a completed or replayed transfer.
type TransferResult struct {
	Transaction  *domain.Transaction
	SourceWallet *domain.Wallet
	TargetWallet *domain.Wallet
	Replayed     bool
}

// ReconcileResult compares a wallet's stored balance with its ledger.
type ReconcileResult struct {
	WalletID      uuid.UUID       `json:"wallet_id"`
	Balance       decimal.Decimal `json:"balance"`
	LedgerBalance decimal.Decimal `json:"ledger_balance"`
	Consistent    bool            `json:"consistent"`
}
