package service

import (
	"context"
	"fmt"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"
)

// idempotencyResolver decides what a transfer request may do with its key.
type idempotencyResolver struct {
	txRepo ports.TransactionRepository
}

// claim inserts pending as the owner of its idempotency key. It returns
// nil, nil when the caller now owns the key, the earlier transaction when that
// one completed, and an error when the key is failed, cancelled or in flight.
func (r *idempotencyResolver) claim(ctx context.Context, pending *domain.Transaction) (*domain.Transaction, error) {
	claimed, err := r.txRepo.Claim(ctx, pending)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if claimed {
		return nil, nil
	}

	existing, err := r.txRepo.GetByIdempotencyKey(ctx, pending.IdempotencyKey)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if existing == nil {
		// lost the insert race to a claim that was released in between
		return nil, apperror.ErrTransferInProgress()
	}
	return resolveExisting(existing)
}

// resolveExisting maps a stored record to replay or rejection.
func resolveExisting(existing *domain.Transaction) (*domain.Transaction, error) {
	switch existing.Status {
	case domain.TransactionStatusCompleted:
		return existing, nil
	case domain.TransactionStatusFailed, domain.TransactionStatusCancelled:
		return nil, apperror.ErrPreviousAttemptFailed()
	case domain.TransactionStatusPending:
		return nil, apperror.ErrTransferInProgress()
	default:
		return nil, apperror.InternalError(fmt.Errorf("transaction %s has unknown status %q", existing.ID, existing.Status))
	}
}
