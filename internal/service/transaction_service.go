package service

import (
	"context"
	"strings"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// transactionService implements ports.TransactionService.
type transactionService struct {
	txRepo ports.TransactionRepository
}

// NewTransactionService creates a new read-side transaction service.
func NewTransactionService(txRepo ports.TransactionRepository) ports.TransactionService {
	return &transactionService{txRepo: txRepo}
}

// GetByIdempotencyKey returns the transaction that owns key.
func (s *transactionService) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	if strings.TrimSpace(key) == "" {
		return nil, apperror.Validation("idempotency key is required")
	}
	txn, err := s.txRepo.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	return txn, nil
}

// List returns a filtered page of transactions.
func (s *transactionService) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	if params.Type != nil && !params.Type.Valid() {
		return nil, 0, apperror.Validation("invalid transaction type")
	}
	if params.Status != nil && !params.Status.Valid() {
		return nil, 0, apperror.Validation("invalid transaction status")
	}
	if params.From != nil && params.To != nil && params.From.After(*params.To) {
		return nil, 0, apperror.Validation("from must not be after to")
	}
	if params.MinAmount != nil && params.MaxAmount != nil && params.MinAmount.GreaterThan(*params.MaxAmount) {
		return nil, 0, apperror.Validation("min_amount exceeds max_amount")
	}
	params.Page, params.PageSize = normalizePage(params.Page, params.PageSize)

	txns, total, err := s.txRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(err)
	}
	return txns, total, nil
}

// Stats aggregates over all transactions, or over one wallet's when walletID is set.
func (s *transactionService) Stats(ctx context.Context, walletID *uuid.UUID) (*ports.TransactionStats, error) {
	stats, err := s.txRepo.GetStats(ctx, walletID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	return stats, nil
}

// Failed lists failed transactions, newest first.
func (s *transactionService) Failed(ctx context.Context, limit int) ([]domain.Transaction, error) {
	status := domain.TransactionStatusFailed
	return s.listAll(ctx, ports.TransactionListParams{Status: &status, PageSize: clampLimit(limit)})
}

// Pending lists pending transactions, oldest first.
func (s *transactionService) Pending(ctx context.Context, limit int) ([]domain.Transaction, error) {
	status := domain.TransactionStatusPending
	return s.listAll(ctx, ports.TransactionListParams{Status: &status, OldestFirst: true, PageSize: clampLimit(limit)})
}

// ByDateRange lists transactions created between from and the end of to's day,
// optionally limited to one owner's wallet.
func (s *transactionService) ByDateRange(ctx context.Context, from, to time.Time, ownerID *string) ([]domain.Transaction, error) {
	end := endOfDay(to)
	if from.After(end) {
		return nil, apperror.Validation("from must not be after to")
	}
	return s.listAll(ctx, ports.TransactionListParams{
		OwnerID:  ownerID,
		From:     &from,
		To:       &end,
		PageSize: maxListLimit,
	})
}

// ByOwner pages through the history of an owner's wallet.
func (s *transactionService) ByOwner(ctx context.Context, ownerID string, page, pageSize int) ([]domain.Transaction, int64, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, 0, apperror.Validation("owner id is required")
	}
	page, pageSize = normalizePage(page, pageSize)

	txns, total, err := s.txRepo.List(ctx, ports.TransactionListParams{OwnerID: &ownerID, Page: page, PageSize: pageSize})
	if err != nil {
		return nil, 0, apperror.InternalError(err)
	}
	return txns, total, nil
}

func (s *transactionService) listAll(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, error) {
	params.Page = 1
	txns, _, err := s.txRepo.List(ctx, params)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	return txns, nil
}

func clampLimit(limit int) int {
	if limit < 1 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// endOfDay returns the last instant of t's calendar day in t's location.
func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location()).Add(24*time.Hour - time.Nanosecond)
}
