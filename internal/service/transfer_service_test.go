package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/internal/core/ports/mocks"
	"wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type transferTestDeps struct {
	ctrl       *gomock.Controller
	walletRepo *mocks.MockWalletRepository
	txRepo     *mocks.MockTransactionRepository
	transactor *mocks.MockDBTransactor
	cache      *mocks.MockBalanceCache
	queue      *mocks.MockTransferQueue
	svc        *TransferServiceImpl
}

func setupTransferService(t *testing.T) *transferTestDeps {
	ctrl := gomock.NewController(t)
	d := &transferTestDeps{
		ctrl:       ctrl,
		walletRepo: mocks.NewMockWalletRepository(ctrl),
		txRepo:     mocks.NewMockTransactionRepository(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
		cache:      mocks.NewMockBalanceCache(ctrl),
		queue:      mocks.NewMockTransferQueue(ctrl),
	}
	d.svc = NewTransferService(d.walletRepo, d.txRepo, d.transactor, d.cache, d.queue, zerolog.Nop())
	d.svc.now = func() time.Time { return testNow }
	return d
}

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// mockTx implements pgx.Tx for testing
type mockTx struct {
	pgx.Tx
	commits int
}

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { m.commits++; return nil }

func assertAppError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, expectedCode, appErr.Code)
}

func testWallet(balance string, status domain.WalletStatus) *domain.Wallet {
	return &domain.Wallet{
		ID:        uuid.New(),
		OwnerID:   "owner-" + uuid.NewString()[:8],
		Balance:   decimal.RequireFromString(balance),
		Status:    status,
		Currency:  "USD",
		Version:   1,
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
}

func clone(w *domain.Wallet) *domain.Wallet {
	c := *w
	return &c
}

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// walletWithID matches a *domain.Wallet by id, whatever its in-memory state.
type walletWithID uuid.UUID

func (m walletWithID) Matches(x any) bool {
	w, ok := x.(*domain.Wallet)
	return ok && w != nil && w.ID == uuid.UUID(m)
}

func (m walletWithID) String() string { return "wallet " + uuid.UUID(m).String() }

// expectLoad stubs the unlocked reads that precede the claim.
func (d *transferTestDeps) expectLoad(source, target *domain.Wallet) {
	d.walletRepo.EXPECT().GetByID(gomock.Any(), source.ID).Return(clone(source), nil)
	d.walletRepo.EXPECT().GetByID(gomock.Any(), target.ID).Return(clone(target), nil)
}

// expectLocks stubs the row locks, asserting ascending id order.
func (d *transferTestDeps) expectLocks(tx pgx.Tx, source, target *domain.Wallet) {
	first, second := source, target
	if target.ID.String() < source.ID.String() {
		first, second = target, source
	}
	gomock.InOrder(
		d.walletRepo.EXPECT().GetByIDForUpdate(gomock.Any(), tx, first.ID).Return(clone(first), nil),
		d.walletRepo.EXPECT().GetByIDForUpdate(gomock.Any(), tx, second.ID).Return(clone(second), nil),
	)
}

// expectRecordedFailure stubs the separate unit of work that stores a rejection.
func (d *transferTestDeps) expectRecordedFailure(t *testing.T, reason string) *mockTx {
	failTx := &mockTx{}
	d.transactor.EXPECT().Begin(gomock.Any()).Return(failTx, nil)
	d.txRepo.EXPECT().Finalize(gomock.Any(), failTx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
			assert.Equal(t, domain.TransactionStatusFailed, txn.Status)
			require.NotNil(t, txn.ErrorMessage)
			assert.Equal(t, reason, *txn.ErrorMessage)
			return nil
		})
	return failTx
}

// ==================== Transfer Tests ====================

func TestTransferService_Transfer_Success(t *testing.T) {
	d := setupTransferService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	source := testWallet("500.00", domain.WalletStatusActive)
	target := testWallet("300.00", domain.WalletStatusActive)
	tx := &mockTx{}

	d.expectLoad(source, target)
	d.txRepo.EXPECT().Claim(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, txn *domain.Transaction) (bool, error) {
			assert.Equal(t, "transfer-001", txn.IdempotencyKey)
			assert.Equal(t, domain.TransactionStatusPending, txn.Status)
			assert.Equal(t, "USD", txn.Currency)
			return true, nil
		})
	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.expectLocks(tx, source, target)
	d.walletRepo.EXPECT().Update(gomock.Any(), tx, gomock.Any()).Times(2).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, w *domain.Wallet) error {
			w.Version++
			return nil
		})
	d.txRepo.EXPECT().Finalize(gomock.Any(), tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
			assert.Equal(t, domain.TransactionStatusCompleted, txn.Status)
			return nil
		})
	d.cache.EXPECT().Invalidate(gomock.Any(), walletWithID(source.ID), walletWithID(target.ID)).Return(nil)

	result, err := d.svc.Transfer(ctx, ports.TransferRequest{
		SourceWalletID: source.ID,
		TargetWalletID: target.ID,
		Amount:         amount("100"),
		IdempotencyKey: "transfer-001",
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Replayed)
	assert.Equal(t, 1, tx.commits)
	assert.Equal(t, "400.00", domain.FormatAmount(result.SourceWallet.Balance))
	assert.Equal(t, "400.00", domain.FormatAmount(result.TargetWallet.Balance))
	assert.Equal(t, int64(2), result.SourceWallet.Version)
	assert.Equal(t, domain.TransactionStatusCompleted, result.Transaction.Status)
	assert.Equal(t, "100.00", domain.FormatAmount(result.Transaction.Amount))
}

func TestTransferService_Transfer_SameWallet(t *testing.T) {
	d := setupTransferService(t)
	defer d.ctrl.Finish()

	id := uuid.New()
	result, err := d.svc.Transfer(context.Background(), ports.TransferRequest{
		SourceWalletID: id,
		TargetWalletID: id,
		Amount:         amount("10"),
	})
	assert.Nil(t, result)
	assertAppError(t, err, apperror.CodeSameWallet)
}

func TestTransferService_Transfer_InvalidAmount(t *testing.T) {
	for _, raw := range []string{"0", "-5", "0.004"} {
		t.Run(raw, func(t *testing.T) {
			d := setupTransferService(t)
			defer d.ctrl.Finish()

			_, err := d.svc.Transfer(context.Background(), ports.TransferRequest{
				SourceWalletID: uuid.New(),
				TargetWalletID: uuid.New(),
				Amount:         amount(raw),
			})
			assertAppError(t, err, apperror.CodeInvalidAmount)
		})
	}
}

func TestTransferService_Transfer_SourceNotFound(t *testing.T) {
	d := setupTransferService(t)
	defer d.ctrl.Finish()

	sourceID := uuid.New()
	d.walletRepo.EXPECT().GetByID(gomock.Any(), sourceID).Return(nil, nil)

	_, err := d.svc.Transfer(context.Background(), ports.TransferRequest{
		SourceWalletID: sourceID,
		TargetWalletID: uuid.New(),
		Amount:         amount("10"),
	})
	assertAppError(t, err, apperror.CodeNotFound)
	assert.Contains(t, err.Error(), "source wallet")
}

func TestTransferService_Transfer_GeneratesIdempotencyKey(t *testing.T) {
	d := setupTransferService(t)
	defer d.ctrl.Finish()

	source := testWallet("50", domain.WalletStatusActive)
	target := testWallet("0", domain.WalletStatusActive)
	completed := domain.NewPendingTransfer("generated", source.ID, target.ID, amount("5"), "USD", nil, nil, testNow)
	completed.Status = domain.TransactionStatusCompleted

	d.expectLoad(source, target)
	d.txRepo.EXPECT().Claim(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, txn *domain.Transaction) (bool, error) {
			_, err := uuid.Parse(txn.IdempotencyKey)
			assert.NoError(t, err)
			return false, nil
		})
	d.txRepo.EXPECT().GetByIdempotencyKey(gomock.Any(), gomock.Any()).Return(completed, nil)

	result, err := d.svc.Transfer(context.Background(), ports.TransferRequest{
		SourceWalletID: source.ID,
		TargetWalletID: target.ID,
		Amount:         amount("5"),
	})
	require.NoError(t, err)
	assert.True(t, result.Replayed)
}

func TestTransferService_Transfer_ReplaysCompletedKey(t *testing.T) {
	d := setupTransferService(t)
	defer d.ctrl.Finish()

	source := testWallet("400", domain.WalletStatusActive)
	target := testWallet("400", domain.WalletStatusActive)
	original := domain.NewPendingTransfer("dup-key", source.ID, target.ID, amount("100"), "USD", nil, nil, testNow)
	require.NoError(t, original.MarkCompleted(testNow))

	d.expectLoad(source, target)
	d.txRepo.EXPECT().Claim(gomock.Any(), gomock.Any()).Return(false, nil)
	d.txRepo.EXPECT().GetByIdempotencyKey(gomock.Any(), "dup-key").Return(original, nil)

	result, err := d.svc.Transfer(context.Background(), ports.TransferRequest{
		SourceWalletID: source.ID,
		TargetWalletID: target.ID,
		Amount:         amount("100"),
		IdempotencyKey: "dup-key",
	})
	require.NoError(t, err)
	assert.True(t, result.Replayed)
	assert.Equal(t, original.ID, result.Transaction.ID)
	assert.Equal(t, "400.00", domain.FormatAmount(result.SourceWallet.Balance))
}

func TestTransferService_Transfer_ReplayReturnsStoredWallets(t *testing.T) {
	d := setupTransferService(t)
	defer d.ctrl.Finish()

	storedSource := testWallet("300", domain.WalletStatusActive)
	storedTarget := testWallet("700", domain.WalletStatusActive)
	original := domain.NewPendingTransfer("reused-key", storedSource.ID, storedTarget.ID, amount("100"), "USD", nil, nil, testNow)
	require.NoError(t, original.MarkCompleted(testNow))

	// the key is repeated with different wallets
	otherSource := testWallet("50", domain.WalletStatusActive)
	otherTarget := testWallet("0", domain.WalletStatusActive)
	d.expectLoad(otherSource, otherTarget)
	d.txRepo.EXPECT().Claim(gomock.Any(), gomock.Any()).Return(false, nil)
	d.txRepo.EXPECT().GetByIdempotencyKey(gomock.Any(), "reused-key").Return(original, nil)
	d.walletRepo.EXPECT().GetByID(gomock.Any(), storedSource.ID).Return(clone(storedSource), nil)
	d.walletRepo.EXPECT().GetByID(gomock.Any(), storedTarget.ID).Return(clone(storedTarget), nil)

	result, err := d.svc.Transfer(context.Background(), ports.TransferRequest{
		SourceWalletID: otherSource.ID,
		TargetWalletID: otherTarget.ID,
		Amount:         amount("5"),
		IdempotencyKey: "reused-key",
	})
	require.NoError(t, err)
	assert.True(t, result.Replayed)
	assert.Equal(t, original.ID, result.Transaction.ID)
	assert.Equal(t, storedSource.ID, result.SourceWallet.ID)
	require.NotNil(t, result.TargetWallet)
	assert.Equal(t, storedTarget.ID, result.TargetWallet.ID)
	assert.Equal(t, "700.00", domain.FormatAmount(result.TargetWallet.Balance))
}

func TestTransferService_Transfer_KeyOwnedByDeposit(t *testing.T) {
	d := setupTransferService(t)
	defer d.ctrl.Finish()

	source := testWallet("50", domain.WalletStatusActive)
	target := testWallet("0", domain.WalletStatusActive)
	deposit := domain.NewCompletedEntry(domain.TransactionTypeDeposit, source.ID, amount("50"), "USD", nil, testNow)

	d.expectLoad(source, target)
	d.txRepo.EXPECT().Claim(gomock.Any(), gomock.Any()).Return(false, nil)
	d.txRepo.EXPECT().GetByIdempotencyKey(gomock.Any(), deposit.IdempotencyKey).Return(deposit, nil)

	_, err := d.svc.Transfer(context.Background(), ports.TransferRequest{
		SourceWalletID: source.ID,
		TargetWalletID: target.ID,
		Amount:         amount("5"),
		IdempotencyKey: deposit.IdempotencyKey,
	})
	assertAppError(t, err, apperror.CodeValidation)
}

func TestTransferService_Transfer_ExistingKeyRejected(t *testing.T) {
	tests := []struct {
		name   string
		status domain.TransactionStatus
		code   string
	}{
		{"previous attempt failed", domain.TransactionStatusFailed, apperror.CodePreviousAttemptFailed},
		{"previous attempt cancelled", domain.TransactionStatusCancelled, apperror.CodePreviousAttemptFailed},
		{"still pending", domain.TransactionStatusPending, apperror.CodeTransferInProgress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupTransferService(t)
			defer d.ctrl.Finish()

			source := testWallet("100", domain.WalletStatusActive)
			target := testWallet("0", domain.WalletStatusActive)
			existing := domain.NewPendingTransfer("key", source.ID, target.ID, amount("10"), "USD", nil, nil, testNow)
			existing.Status = tt.status

			d.expectLoad(source, target)
			d.txRepo.EXPECT().Claim(gomock.Any(), gomock.Any()).Return(false, nil)
			d.txRepo.EXPECT().GetByIdempotencyKey(gomock.Any(), "key").Return(existing, nil)

			_, err := d.svc.Transfer(context.Background(), ports.TransferRequest{
				SourceWalletID: source.ID,
				TargetWalletID: target.ID,
				Amount:         amount("10"),
				IdempotencyKey: "key",
			})
			assertAppError(t, err, tt.code)
		})
	}
}

func TestTransferService_Transfer_InsufficientFunds(t *testing.T) {
	d := setupTransferService(t)
	defer d.ctrl.Finish()

	source := testWallet("500", domain.WalletStatusActive)
	target := testWallet("0", domain.WalletStatusActive)
	tx := &mockTx{}

	d.expectLoad(source, target)
	d.txRepo.EXPECT().Claim(gomock.Any(), gomock.Any()).Return(true, nil)
	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.expectLocks(tx, source, target)
	failTx := d.expectRecordedFailure(t, "Insufficient balance in wallet")

	_, err := d.svc.Transfer(context.Background(), ports.TransferRequest{
		SourceWalletID: source.ID,
		TargetWalletID: target.ID,
		Amount:         amount("1000"),
		IdempotencyKey: "too-much",
	})
	assertAppError(t, err, apperror.CodeInsufficientFunds)
	assert.Equal(t, 0, tx.commits)
	assert.Equal(t, 1, failTx.commits)
}

func TestTransferService_Transfer_StateRejections(t *testing.T) {
	tests := []struct {
		name   string
		source *domain.Wallet
		target *domain.Wallet
		code   string
	}{
		{
			name:   "source suspended",
			source: testWallet("100", domain.WalletStatusSuspended),
			target: testWallet("0", domain.WalletStatusActive),
			code:   apperror.CodeInsufficientFunds,
		},
		{
			name:   "target closed",
			source: testWallet("100", domain.WalletStatusActive),
			target: testWallet("0", domain.WalletStatusClosed),
			code:   apperror.CodeInvalidTargetStatus,
		},
		{
			name:   "currency mismatch",
			source: testWallet("100", domain.WalletStatusActive),
			target: func() *domain.Wallet {
				w := testWallet("0", domain.WalletStatusActive)
				w.Currency = "EUR"
				return w
			}(),
			code: apperror.CodeCurrencyMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupTransferService(t)
			defer d.ctrl.Finish()
			tx := &mockTx{}

			d.expectLoad(tt.source, tt.target)
			d.txRepo.EXPECT().Claim(gomock.Any(), gomock.Any()).Return(true, nil)
			d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
			d.expectLocks(tx, tt.source, tt.target)
			failTx := &mockTx{}
			d.transactor.EXPECT().Begin(gomock.Any()).Return(failTx, nil)
			d.txRepo.EXPECT().Finalize(gomock.Any(), failTx, gomock.Any()).Return(nil)

			_, err := d.svc.Transfer(context.Background(), ports.TransferRequest{
				SourceWalletID: tt.source.ID,
				TargetWalletID: tt.target.ID,
				Amount:         amount("10"),
				IdempotencyKey: "state-" + tt.name,
			})
			assertAppError(t, err, tt.code)
			assert.Equal(t, 0, tx.commits)
		})
	}
}

func TestTransferService_Transfer_LockTimeoutReleasesClaim(t *testing.T) {
	d := setupTransferService(t)
	defer d.ctrl.Finish()

	source := testWallet("100", domain.WalletStatusActive)
	target := testWallet("0", domain.WalletStatusActive)
	tx := &mockTx{}

	var claimed *domain.Transaction
	d.expectLoad(source, target)
	d.txRepo.EXPECT().Claim(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, txn *domain.Transaction) (bool, error) {
			claimed = txn
			return true, nil
		})
	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.walletRepo.EXPECT().GetByIDForUpdate(gomock.Any(), tx, gomock.Any()).
		Return(nil, &pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"})
	d.txRepo.EXPECT().Release(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, id uuid.UUID) error {
			assert.Equal(t, claimed.ID, id)
			return nil
		})

	_, err := d.svc.Transfer(context.Background(), ports.TransferRequest{
		SourceWalletID: source.ID,
		TargetWalletID: target.ID,
		Amount:         amount("10"),
		IdempotencyKey: "slow",
	})
	assertAppError(t, err, apperror.CodeLockTimeout)
	assert.True(t, apperror.IsRetryable(err))
}

func TestTransferService_Transfer_BeginFailureReleasesClaim(t *testing.T) {
	d := setupTransferService(t)
	defer d.ctrl.Finish()

	source := testWallet("100", domain.WalletStatusActive)
	target := testWallet("0", domain.WalletStatusActive)

	d.expectLoad(source, target)
	d.txRepo.EXPECT().Claim(gomock.Any(), gomock.Any()).Return(true, nil)
	d.transactor.EXPECT().Begin(gomock.Any()).Return(nil, errors.New("pool exhausted"))
	d.txRepo.EXPECT().Release(gomock.Any(), gomock.Any()).Return(nil)

	_, err := d.svc.Transfer(context.Background(), ports.TransferRequest{
		SourceWalletID: source.ID,
		TargetWalletID: target.ID,
		Amount:         amount("10"),
		IdempotencyKey: "no-conn",
	})
	assertAppError(t, err, apperror.CodeInternal)
}

func TestTransferService_Transfer_CacheFailureIsNotFatal(t *testing.T) {
	d := setupTransferService(t)
	defer d.ctrl.Finish()

	source := testWallet("20", domain.WalletStatusActive)
	target := testWallet("0", domain.WalletStatusActive)
	tx := &mockTx{}

	d.expectLoad(source, target)
	d.txRepo.EXPECT().Claim(gomock.Any(), gomock.Any()).Return(true, nil)
	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.expectLocks(tx, source, target)
	d.walletRepo.EXPECT().Update(gomock.Any(), tx, gomock.Any()).Times(2).Return(nil)
	d.txRepo.EXPECT().Finalize(gomock.Any(), tx, gomock.Any()).Return(nil)
	d.cache.EXPECT().Invalidate(gomock.Any(), walletWithID(source.ID), walletWithID(target.ID)).Return(errors.New("redis down"))

	result, err := d.svc.Transfer(context.Background(), ports.TransferRequest{
		SourceWalletID: source.ID,
		TargetWalletID: target.ID,
		Amount:         amount("20"),
	})
	require.NoError(t, err)
	assert.True(t, result.SourceWallet.Balance.IsZero())
	assert.Equal(t, "20.00", domain.FormatAmount(result.TargetWallet.Balance))
}

func TestLockOrder(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	b := uuid.MustParse("ffffffff-0000-0000-0000-000000000000")

	assert.Equal(t, [2]uuid.UUID{a, b}, lockOrder(a, b))
	assert.Equal(t, [2]uuid.UUID{a, b}, lockOrder(b, a))
}

// ==================== Async Submission Tests ====================

func TestTransferService_SubmitTransferAsync(t *testing.T) {
	d := setupTransferService(t)
	defer d.ctrl.Finish()

	req := ports.TransferRequest{
		SourceWalletID: uuid.New(),
		TargetWalletID: uuid.New(),
		Amount:         amount("12.345"),
	}
	d.queue.EXPECT().Enqueue(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, r ports.TransferRequest) (*ports.TransferJob, error) {
			assert.NotEmpty(t, r.IdempotencyKey)
			assert.Equal(t, "12.35", domain.FormatAmount(r.Amount))
			return &ports.TransferJob{ID: uuid.New(), Request: r, State: ports.JobStateWaiting, MaxAttempts: 3}, nil
		})

	job, err := d.svc.SubmitTransferAsync(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, ports.JobStateWaiting, job.State)
}

func TestTransferService_SubmitTransferAsync_Rejected(t *testing.T) {
	d := setupTransferService(t)
	defer d.ctrl.Finish()

	id := uuid.New()
	_, err := d.svc.SubmitTransferAsync(context.Background(), ports.TransferRequest{
		SourceWalletID: id, TargetWalletID: id, Amount: amount("1"),
	})
	assertAppError(t, err, apperror.CodeSameWallet)

	_, err = d.svc.SubmitTransferAsync(context.Background(), ports.TransferRequest{
		SourceWalletID: uuid.New(), TargetWalletID: uuid.New(), Amount: decimal.Zero,
	})
	assertAppError(t, err, apperror.CodeInvalidAmount)
}

func TestTransferService_GetTransferJob_NotFound(t *testing.T) {
	d := setupTransferService(t)
	defer d.ctrl.Finish()

	d.queue.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, nil)

	_, err := d.svc.GetTransferJob(context.Background(), uuid.New())
	assertAppError(t, err, apperror.CodeNotFound)
}

func TestTransferService_QueueStats(t *testing.T) {
	d := setupTransferService(t)
	defer d.ctrl.Finish()

	d.queue.EXPECT().Stats(gomock.Any()).Return(&ports.QueueStats{Waiting: 2, Failed: 1}, nil)

	stats, err := d.svc.QueueStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Waiting)
}
