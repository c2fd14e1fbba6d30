package integration

import (
	"context"
	"sort"
	"sync"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// ledgerStore is an in-memory stand-in for PostgreSQL that keeps the
// properties the services rely on: row locks held until commit, version
// guarded updates that wait for the row lock, and writes that only become
// visible on commit.
type ledgerStore struct {
	mu          sync.Mutex
	wallets     map[uuid.UUID]domain.Wallet
	owners      map[string]uuid.UUID
	txns        map[uuid.UUID]*storedTxn
	keys        map[string]uuid.UUID
	rowLocks    map[uuid.UUID]chan struct{}
	seq         int64
	lockTimeout time.Duration
}

type storedTxn struct {
	seq int64
	txn domain.Transaction
}

func newLedgerStore(lockTimeout time.Duration) *ledgerStore {
	return &ledgerStore{
		wallets:     make(map[uuid.UUID]domain.Wallet),
		owners:      make(map[string]uuid.UUID),
		txns:        make(map[uuid.UUID]*storedTxn),
		keys:        make(map[string]uuid.UUID),
		rowLocks:    make(map[uuid.UUID]chan struct{}),
		lockTimeout: lockTimeout,
	}
}

func (s *ledgerStore) rowLock(id uuid.UUID) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.rowLocks[id]
	if !ok {
		l = make(chan struct{}, 1)
		s.rowLocks[id] = l
	}
	return l
}

// --- unit of work ---

// memTx buffers writes until Commit. Unused pgx.Tx methods are not implemented.
type memTx struct {
	pgx.Tx
	store   *ledgerStore
	held    map[uuid.UUID]bool
	wallets map[uuid.UUID]domain.Wallet
	txns    []domain.Transaction
	owners  []string
	done    bool
}

func (t *memTx) lock(ctx context.Context, id uuid.UUID) error {
	if t.held[id] {
		return nil
	}
	timer := time.NewTimer(t.store.lockTimeout)
	defer timer.Stop()

	select {
	case t.store.rowLock(id) <- struct{}{}:
		t.held[id] = true
		return nil
	case <-timer.C:
		return &pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	s := t.store
	s.mu.Lock()
	for id, w := range t.wallets {
		s.wallets[id] = w
	}
	for _, txn := range t.txns {
		if existing, ok := s.txns[txn.ID]; ok {
			existing.txn = txn
			continue
		}
		s.seq++
		s.txns[txn.ID] = &storedTxn{seq: s.seq, txn: txn}
		s.keys[txn.IdempotencyKey] = txn.ID
	}
	s.mu.Unlock()
	t.finish()
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	s := t.store
	s.mu.Lock()
	for _, owner := range t.owners {
		delete(s.owners, owner)
	}
	s.mu.Unlock()
	t.finish()
	return nil
}

func (t *memTx) finish() {
	t.done = true
	for id := range t.held {
		<-t.store.rowLock(id)
	}
	t.held = nil
}

type memTransactor struct {
	store *ledgerStore
}

func (m *memTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return &memTx{
		store:   m.store,
		held:    make(map[uuid.UUID]bool),
		wallets: make(map[uuid.UUID]domain.Wallet),
	}, nil
}

// --- wallets ---

type memWalletRepo struct {
	store *ledgerStore
}

func (r *memWalletRepo) Create(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error {
	t := tx.(*memTx)
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.owners[w.OwnerID]; taken {
		return ports.ErrDuplicateOwner
	}
	s.owners[w.OwnerID] = w.ID
	t.owners = append(t.owners, w.OwnerID)
	t.wallets[w.ID] = *w
	return nil
}

func (r *memWalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (r *memWalletRepo) GetByOwnerID(ctx context.Context, ownerID string) (*domain.Wallet, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.wallets {
		if w.OwnerID == ownerID {
			found := w
			return &found, nil
		}
	}
	return nil, nil
}

func (r *memWalletRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
	t := tx.(*memTx)
	if err := t.lock(ctx, id); err != nil {
		return nil, err
	}
	if w, ok := t.wallets[id]; ok {
		return &w, nil
	}
	return r.GetByID(ctx, id)
}

func (r *memWalletRepo) GetByIDAndVersion(ctx context.Context, tx pgx.Tx, id uuid.UUID, version int64) (*domain.Wallet, error) {
	w, err := r.GetByID(ctx, id)
	if err != nil || w == nil || w.Version != version {
		return nil, err
	}
	return w, nil
}

// Update waits for the row lock like UPDATE does, then applies the version guard.
func (r *memWalletRepo) Update(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error {
	t := tx.(*memTx)
	if err := t.lock(ctx, w.ID); err != nil {
		return err
	}

	current, ok := t.wallets[w.ID]
	if !ok {
		r.store.mu.Lock()
		current, ok = r.store.wallets[w.ID]
		r.store.mu.Unlock()
	}
	if !ok || current.Version != w.Version {
		return ports.ErrVersionConflict
	}

	w.Version++
	w.UpdatedAt = time.Now().UTC()
	t.wallets[w.ID] = *w
	return nil
}

func (r *memWalletRepo) List(ctx context.Context, params ports.WalletListParams) ([]domain.Wallet, int64, error) {
	var matched []domain.Wallet
	for _, w := range r.snapshot() {
		if params.Status != nil && w.Status != *params.Status {
			continue
		}
		if params.Currency != nil && w.Currency != *params.Currency {
			continue
		}
		matched = append(matched, w)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return paginate(matched, params.Page, params.PageSize), int64(len(matched)), nil
}

func (r *memWalletRepo) ListByBalanceRange(ctx context.Context, min, max decimal.Decimal) ([]domain.Wallet, error) {
	matched := []domain.Wallet{}
	for _, w := range r.snapshot() {
		if w.Balance.GreaterThanOrEqual(min) && w.Balance.LessThanOrEqual(max) {
			matched = append(matched, w)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Balance.GreaterThan(matched[j].Balance) })
	return matched, nil
}

func (r *memWalletRepo) GetStats(ctx context.Context) (*ports.WalletStats, error) {
	stats := &ports.WalletStats{TotalBalance: decimal.Zero, AverageBalance: decimal.Zero}
	for _, w := range r.snapshot() {
		stats.TotalWallets++
		if w.IsActive() {
			stats.ActiveWallets++
		}
		stats.TotalBalance = stats.TotalBalance.Add(w.Balance)
	}
	if stats.TotalWallets > 0 {
		stats.AverageBalance = stats.TotalBalance.Div(decimal.NewFromInt(stats.TotalWallets))
	}
	return stats, nil
}

func (r *memWalletRepo) snapshot() []domain.Wallet {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Wallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		out = append(out, w)
	}
	return out
}

// --- transactions ---

type memTransactionRepo struct {
	store *ledgerStore
}

func (r *memTransactionRepo) Create(ctx context.Context, tx pgx.Tx, txn *domain.Transaction) error {
	t := tx.(*memTx)
	t.txns = append(t.txns, *txn)
	return nil
}

func (r *memTransactionRepo) Claim(ctx context.Context, txn *domain.Transaction) (bool, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.keys[txn.IdempotencyKey]; taken {
		return false, nil
	}
	s.seq++
	s.txns[txn.ID] = &storedTxn{seq: s.seq, txn: *txn}
	s.keys[txn.IdempotencyKey] = txn.ID
	return true, nil
}

func (r *memTransactionRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.keys[key]
	if !ok {
		return nil, nil
	}
	txn := s.txns[id].txn
	return &txn, nil
}

func (r *memTransactionRepo) Finalize(ctx context.Context, tx pgx.Tx, txn *domain.Transaction) error {
	t := tx.(*memTx)
	t.txns = append(t.txns, *txn)
	return nil
}

func (r *memTransactionRepo) Release(ctx context.Context, id uuid.UUID) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.txns[id]
	if !ok || !stored.txn.IsPending() {
		return nil
	}
	delete(s.keys, stored.txn.IdempotencyKey)
	delete(s.txns, id)
	return nil
}

func (r *memTransactionRepo) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	var ownerWallet *uuid.UUID
	if params.OwnerID != nil {
		r.store.mu.Lock()
		if id, ok := r.store.owners[*params.OwnerID]; ok {
			ownerWallet = &id
		}
		r.store.mu.Unlock()
		if ownerWallet == nil {
			return []domain.Transaction{}, 0, nil
		}
	}

	var matched []storedTxn
	for _, st := range r.snapshot() {
		t := st.txn
		if params.WalletID != nil && !touches(&t, *params.WalletID) {
			continue
		}
		if ownerWallet != nil && !touches(&t, *ownerWallet) {
			continue
		}
		if params.Type != nil && t.Type != *params.Type {
			continue
		}
		if params.Status != nil && t.Status != *params.Status {
			continue
		}
		if params.From != nil && t.CreatedAt.Before(*params.From) {
			continue
		}
		if params.To != nil && t.CreatedAt.After(*params.To) {
			continue
		}
		if params.MinAmount != nil && t.Amount.LessThan(*params.MinAmount) {
			continue
		}
		if params.MaxAmount != nil && t.Amount.GreaterThan(*params.MaxAmount) {
			continue
		}
		matched = append(matched, st)
	}

	sort.Slice(matched, func(i, j int) bool {
		if params.OldestFirst {
			return matched[i].seq < matched[j].seq
		}
		return matched[i].seq > matched[j].seq
	})

	out := make([]domain.Transaction, 0, len(matched))
	for _, st := range matched {
		out = append(out, st.txn)
	}
	return paginate(out, params.Page, params.PageSize), int64(len(out)), nil
}

func (r *memTransactionRepo) GetStats(ctx context.Context, walletID *uuid.UUID) (*ports.TransactionStats, error) {
	stats := &ports.TransactionStats{
		TotalDeposits:    decimal.Zero,
		TotalWithdrawals: decimal.Zero,
		TotalTransfers:   decimal.Zero,
		TotalFees:        decimal.Zero,
	}
	for _, st := range r.snapshot() {
		t := st.txn
		if walletID != nil && !touches(&t, *walletID) {
			continue
		}
		stats.TotalTransactions++
		switch t.Status {
		case domain.TransactionStatusCompleted:
			stats.Completed++
		case domain.TransactionStatusPending:
			stats.Pending++
		case domain.TransactionStatusFailed:
			stats.Failed++
		case domain.TransactionStatusCancelled:
			stats.Cancelled++
		}
		if !t.IsCompleted() {
			continue
		}
		switch t.Type {
		case domain.TransactionTypeDeposit:
			stats.TotalDeposits = stats.TotalDeposits.Add(t.Amount)
		case domain.TransactionTypeWithdrawal:
			stats.TotalWithdrawals = stats.TotalWithdrawals.Add(t.Amount)
		case domain.TransactionTypeTransfer:
			stats.TotalTransfers = stats.TotalTransfers.Add(t.Amount)
		}
		stats.TotalFees = stats.TotalFees.Add(t.Fee)
	}
	return stats, nil
}

func (r *memTransactionRepo) LedgerBalance(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, st := range r.snapshot() {
		sum = sum.Add(st.txn.NetEffectOn(walletID))
	}
	return sum, nil
}

func (r *memTransactionRepo) CancelStalePending(ctx context.Context, olderThan time.Time, reason string) (int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, st := range s.txns {
		if st.txn.IsPending() && st.txn.CreatedAt.Before(olderThan) {
			if err := st.txn.MarkCancelled(reason, time.Now().UTC()); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func (r *memTransactionRepo) snapshot() []storedTxn {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storedTxn, 0, len(s.txns))
	for _, st := range s.txns {
		out = append(out, *st)
	}
	return out
}

func touches(t *domain.Transaction, walletID uuid.UUID) bool {
	return t.SourceWalletID == walletID || (t.TargetWalletID != nil && *t.TargetWalletID == walletID)
}

func paginate[T any](items []T, page, pageSize int) []T {
	if pageSize <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
