package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const transactionColumns = `id, idempotency_key, source_wallet_id, target_wallet_id, type, status,
	amount, fee, currency, description, error_message, metadata, created_at, updated_at`

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

const insertTransaction = `INSERT INTO transactions (` + transactionColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

func insertArgs(t *domain.Transaction) []any {
	return []any{
		t.ID, t.IdempotencyKey, t.SourceWalletID, t.TargetWalletID, t.Type, t.Status,
		t.Amount, t.Fee, t.Currency, t.Description, t.ErrorMessage, t.Metadata,
		t.CreatedAt, t.UpdatedAt,
	}
}

// Create inserts a transaction within a database transaction.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	if _, err := tx.Exec(ctx, insertTransaction, insertArgs(t)...); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// Claim inserts a pending record on its own, outside any caller transaction,
// so the claim is visible to concurrent requests with the same key.
func (r *TransactionRepo) Claim(ctx context.Context, t *domain.Transaction) (bool, error) {
	query := insertTransaction + ` ON CONFLICT (idempotency_key) DO NOTHING`

	tag, err := r.pool.Exec(ctx, query, insertArgs(t)...)
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetByIdempotencyKey fetches a transaction by its idempotency key.
func (r *TransactionRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE idempotency_key = $1`

	t, err := scanTransaction(r.pool.QueryRow(ctx, query, key))
	if err != nil {
		return nil, fmt.Errorf("get transaction by idempotency key: %w", err)
	}
	return t, nil
}

// Finalize writes the terminal status of a pending transaction. A record that
// is no longer pending yields domain.ErrTransactionFinalized.
func (r *TransactionRepo) Finalize(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `UPDATE transactions SET status = $1, error_message = $2, updated_at = $3
		WHERE id = $4 AND status = 'PENDING'`

	tag, err := tx.Exec(ctx, query, t.Status, t.ErrorMessage, t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("finalize transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTransactionFinalized
	}
	return nil
}

// Release drops a pending claim whose unit of work never committed.
// Terminal records are left untouched.
func (r *TransactionRepo) Release(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM transactions WHERE id = $1 AND status = 'PENDING'`, id); err != nil {
		return fmt.Errorf("release transaction claim: %w", err)
	}
	return nil
}

// List fetches transactions with filtering and pagination.
func (r *TransactionRepo) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	from := "transactions t"
	if params.OwnerID != nil {
		from = "transactions t JOIN wallets w ON w.id = t.source_wallet_id OR w.id = t.target_wallet_id"
		conditions = append(conditions, fmt.Sprintf("w.owner_id = $%d", argIdx))
		args = append(args, *params.OwnerID)
		argIdx++
	}
	if params.WalletID != nil {
		conditions = append(conditions, fmt.Sprintf("(t.source_wallet_id = $%d OR t.target_wallet_id = $%d)", argIdx, argIdx))
		args = append(args, *params.WalletID)
		argIdx++
	}
	if params.Type != nil {
		conditions = append(conditions, fmt.Sprintf("t.type = $%d", argIdx))
		args = append(args, *params.Type)
		argIdx++
	}
	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("t.status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.From != nil {
		conditions = append(conditions, fmt.Sprintf("t.created_at >= $%d", argIdx))
		args = append(args, *params.From)
		argIdx++
	}
	if params.To != nil {
		conditions = append(conditions, fmt.Sprintf("t.created_at <= $%d", argIdx))
		args = append(args, *params.To)
		argIdx++
	}
	if params.MinAmount != nil {
		conditions = append(conditions, fmt.Sprintf("t.amount >= $%d", argIdx))
		args = append(args, *params.MinAmount)
		argIdx++
	}
	if params.MaxAmount != nil {
		conditions = append(conditions, fmt.Sprintf("t.amount <= $%d", argIdx))
		args = append(args, *params.MaxAmount)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(DISTINCT t.id) FROM %s %s", from, where)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	order := "DESC"
	if params.OldestFirst {
		order = "ASC"
	}
	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT DISTINCT %s FROM %s %s ORDER BY t.created_at %s LIMIT $%d OFFSET $%d`,
		prefixed("t", transactionColumns), from, where, order, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan transaction row: %w", err)
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, total, nil
}

// GetStats aggregates counts per status and completed totals per type,
// optionally restricted to one wallet.
func (r *TransactionRepo) GetStats(ctx context.Context, walletID *uuid.UUID) (*ports.TransactionStats, error) {
	var args []any
	where := ""
	if walletID != nil {
		where = "WHERE source_wallet_id = $1 OR target_wallet_id = $1"
		args = append(args, *walletID)
	}

	query := fmt.Sprintf(`SELECT
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE status = 'COMPLETED') AS completed,
		COUNT(*) FILTER (WHERE status = 'PENDING') AS pending,
		COUNT(*) FILTER (WHERE status = 'FAILED') AS failed,
		COUNT(*) FILTER (WHERE status = 'CANCELLED') AS cancelled,
		COALESCE(SUM(amount) FILTER (WHERE type = 'DEPOSIT' AND status = 'COMPLETED'), 0) AS deposits,
		COALESCE(SUM(amount) FILTER (WHERE type = 'WITHDRAWAL' AND status = 'COMPLETED'), 0) AS withdrawals,
		COALESCE(SUM(amount) FILTER (WHERE type = 'TRANSFER' AND status = 'COMPLETED'), 0) AS transfers,
		COALESCE(SUM(fee) FILTER (WHERE status = 'COMPLETED'), 0) AS fees
		FROM transactions %s`, where)

	stats := &ports.TransactionStats{}
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&stats.TotalTransactions, &stats.Completed, &stats.Pending, &stats.Failed, &stats.Cancelled,
		&stats.TotalDeposits, &stats.TotalWithdrawals, &stats.TotalTransfers, &stats.TotalFees,
	)
	if err != nil {
		return nil, fmt.Errorf("get transaction stats: %w", err)
	}
	return stats, nil
}

// LedgerBalance replays the completed history of walletID.
func (r *TransactionRepo) LedgerBalance(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(
			CASE
				WHEN type = 'DEPOSIT' THEN amount
				WHEN type = 'WITHDRAWAL' THEN -amount
				WHEN type = 'TRANSFER' AND target_wallet_id = $1 THEN amount
				WHEN type = 'TRANSFER' THEN -amount
			END), 0)
		FROM transactions
		WHERE status = 'COMPLETED' AND (source_wallet_id = $1 OR target_wallet_id = $1)`

	var sum decimal.Decimal
	if err := r.pool.QueryRow(ctx, query, walletID).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("ledger balance: %w", err)
	}
	return sum, nil
}

// CancelStalePending cancels pending records left behind by crashed attempts.
func (r *TransactionRepo) CancelStalePending(ctx context.Context, olderThan time.Time, reason string) (int64, error) {
	query := `UPDATE transactions SET status = 'CANCELLED', error_message = $1, updated_at = NOW()
		WHERE status = 'PENDING' AND created_at < $2`

	tag, err := r.pool.Exec(ctx, query, reason, olderThan)
	if err != nil {
		return 0, fmt.Errorf("cancel stale pending transactions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanTransaction returns nil, nil when the row does not exist.
func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	err := row.Scan(
		&t.ID, &t.IdempotencyKey, &t.SourceWalletID, &t.TargetWalletID, &t.Type, &t.Status,
		&t.Amount, &t.Fee, &t.Currency, &t.Description, &t.ErrorMessage, &t.Metadata,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// prefixed qualifies a comma separated column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
