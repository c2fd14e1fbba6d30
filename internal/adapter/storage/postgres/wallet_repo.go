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

const walletColumns = `id, owner_id, balance, status, currency, version, created_at, updated_at`

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// Create inserts a new wallet inside tx. A second wallet for the same owner
// yields ports.ErrDuplicateOwner.
func (r *WalletRepo) Create(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error {
	query := `INSERT INTO wallets (` + walletColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := tx.Exec(ctx, query,
		w.ID, w.OwnerID, w.Balance, w.Status, w.Currency,
		w.Version, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		if ports.IsUniqueViolation(err) {
			return ports.ErrDuplicateOwner
		}
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

// GetByID fetches a wallet by its UUID (without locking).
func (r *WalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`

	w, err := scanWallet(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get wallet by id: %w", err)
	}
	return w, nil
}

// GetByOwnerID fetches the wallet belonging to ownerID.
func (r *WalletRepo) GetByOwnerID(ctx context.Context, ownerID string) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE owner_id = $1`

	w, err := scanWallet(r.pool.QueryRow(ctx, query, ownerID))
	if err != nil {
		return nil, fmt.Errorf("get wallet by owner: %w", err)
	}
	return w, nil
}

// GetByIDForUpdate fetches a wallet by ID with pessimistic locking.
// This MUST be called within a transaction.
func (r *WalletRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 FOR UPDATE`

	w, err := scanWallet(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get wallet for update by id: %w", err)
	}
	return w, nil
}

// GetByIDAndVersion re-reads a wallet only if it still carries version.
func (r *WalletRepo) GetByIDAndVersion(ctx context.Context, tx pgx.Tx, id uuid.UUID, version int64) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 AND version = $2`

	w, err := scanWallet(tx.QueryRow(ctx, query, id, version))
	if err != nil {
		return nil, fmt.Errorf("get wallet by version: %w", err)
	}
	return w, nil
}

// Update persists balance and status if the row still has w.Version, then
// advances w.Version to the stored value.
func (r *WalletRepo) Update(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error {
	query := `UPDATE wallets
		SET balance = $1, status = $2, version = version + 1, updated_at = $3
		WHERE id = $4 AND version = $5
		RETURNING version`

	now := time.Now().UTC()
	var next int64
	err := tx.QueryRow(ctx, query, w.Balance, w.Status, now, w.ID, w.Version).Scan(&next)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ports.ErrVersionConflict
		}
		return fmt.Errorf("update wallet: %w", err)
	}
	w.Version = next
	w.UpdatedAt = now
	return nil
}

// List fetches wallets with optional status/currency filters and pagination.
func (r *WalletRepo) List(ctx context.Context, params ports.WalletListParams) ([]domain.Wallet, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.Currency != nil {
		conditions = append(conditions, fmt.Sprintf("currency = $%d", argIdx))
		args = append(args, *params.Currency)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM wallets %s", where)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count wallets: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT %s FROM wallets %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		walletColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	wallets, err := r.queryWallets(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list wallets: %w", err)
	}
	return wallets, total, nil
}

// ListByBalanceRange returns wallets whose balance lies in [min, max], richest first.
func (r *WalletRepo) ListByBalanceRange(ctx context.Context, min, max decimal.Decimal) ([]domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets
		WHERE balance BETWEEN $1 AND $2 ORDER BY balance DESC`

	wallets, err := r.queryWallets(ctx, query, min, max)
	if err != nil {
		return nil, fmt.Errorf("list wallets by balance range: %w", err)
	}
	return wallets, nil
}

// GetStats aggregates wallet counts and balances.
func (r *WalletRepo) GetStats(ctx context.Context) (*ports.WalletStats, error) {
	query := `SELECT
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE status = 'ACTIVE') AS active,
		COALESCE(SUM(balance), 0) AS total_balance,
		COALESCE(AVG(balance), 0) AS average_balance
		FROM wallets`

	stats := &ports.WalletStats{}
	err := r.pool.QueryRow(ctx, query).Scan(
		&stats.TotalWallets, &stats.ActiveWallets, &stats.TotalBalance, &stats.AverageBalance,
	)
	if err != nil {
		return nil, fmt.Errorf("get wallet stats: %w", err)
	}
	stats.AverageBalance = domain.RoundAmount(stats.AverageBalance)
	return stats, nil
}

func (r *WalletRepo) queryWallets(ctx context.Context, query string, args ...any) ([]domain.Wallet, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []domain.Wallet
	for rows.Next() {
		var w domain.Wallet
		if err := rows.Scan(
			&w.ID, &w.OwnerID, &w.Balance, &w.Status, &w.Currency,
			&w.Version, &w.CreatedAt, &w.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan wallet row: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet rows: %w", err)
	}
	return wallets, nil
}

// scanWallet returns nil, nil when the row does not exist.
func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	w := &domain.Wallet{}
	err := row.Scan(
		&w.ID, &w.OwnerID, &w.Balance, &w.Status, &w.Currency,
		&w.Version, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return w, nil
}
