package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrTransactionFinalized is returned when a terminal transaction is asked to change state.
var ErrTransactionFinalized = errors.New("transaction already in a terminal state")

// TransactionType represents the kind of money movement.
type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal TransactionType = "WITHDRAWAL"
	TransactionTypeTransfer   TransactionType = "TRANSFER"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeWithdrawal, TransactionTypeTransfer:
		return true
	}
	return false
}

// TransactionStatus represents the lifecycle state of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
	TransactionStatusCancelled TransactionStatus = "CANCELLED"
)

// Valid reports whether s is a known transaction status.
func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCancelled:
		return true
	}
	return false
}

// Transaction is a ledger entry keyed by its idempotency key. Deposits and
// withdrawals reference only SourceWalletID; transfers also carry TargetWalletID.
type Transaction struct {
	ID             uuid.UUID              `json:"id"`
	IdempotencyKey string                 `json:"idempotency_key"`
	SourceWalletID uuid.UUID              `json:"source_wallet_id"`
	TargetWalletID *uuid.UUID             `json:"target_wallet_id,omitempty"`
	Type           TransactionType        `json:"type"`
	Status         TransactionStatus      `json:"status"`
	Amount         decimal.Decimal        `json:"amount"`
	Fee            decimal.Decimal        `json:"fee"`
	Currency       string                 `json:"currency"`
	Description    *string                `json:"description,omitempty"`
	ErrorMessage   *string                `json:"error_message,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// NewPendingTransfer creates the record that claims key for a transfer.
func NewPendingTransfer(key string, source, target uuid.UUID, amount decimal.Decimal, currency string, description *string, metadata map[string]interface{}, now time.Time) *Transaction {
	return &Transaction{
		ID:             uuid.New(),
		IdempotencyKey: key,
		SourceWalletID: source,
		TargetWalletID: &target,
		Type:           TransactionTypeTransfer,
		Status:         TransactionStatusPending,
		Amount:         RoundAmount(amount),
		Fee:            decimal.Zero,
		Currency:       currency,
		Description:    description,
		Metadata:       metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NewCompletedEntry creates a single-wallet deposit or withdrawal that is final on insert.
func NewCompletedEntry(txType TransactionType, walletID uuid.UUID, amount decimal.Decimal, currency string, description *string, now time.Time) *Transaction {
	return &Transaction{
		ID:             uuid.New(),
		IdempotencyKey: uuid.NewString(),
		SourceWalletID: walletID,
		Type:           txType,
		Status:         TransactionStatusCompleted,
		Amount:         RoundAmount(amount),
		Fee:            decimal.Zero,
		Currency:       currency,
		Description:    description,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsTerminal returns true if the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status == TransactionStatusCompleted ||
		t.Status == TransactionStatusFailed ||
		t.Status == TransactionStatusCancelled
}

func (t *Transaction) IsCompleted() bool { return t.Status == TransactionStatusCompleted }
func (t *Transaction) IsPending() bool   { return t.Status == TransactionStatusPending }

// MarkCompleted finalises a pending transaction.
func (t *Transaction) MarkCompleted(now time.Time) error {
	return t.finish(TransactionStatusCompleted, nil, now)
}

// MarkFailed finalises a pending transaction and records why it failed.
func (t *Transaction) MarkFailed(reason string, now time.Time) error {
	return t.finish(TransactionStatusFailed, &reason, now)
}

// MarkCancelled finalises a pending transaction that was abandoned.
func (t *Transaction) MarkCancelled(reason string, now time.Time) error {
	return t.finish(TransactionStatusCancelled, &reason, now)
}

func (t *Transaction) finish(status TransactionStatus, reason *string, now time.Time) error {
	if t.IsTerminal() {
		return ErrTransactionFinalized
	}
	t.Status = status
	t.ErrorMessage = reason
	t.UpdatedAt = now
	return nil
}

// NetEffectOn returns how much this transaction moves walletID's balance.
// Only completed transactions count.
func (t *Transaction) NetEffectOn(walletID uuid.UUID) decimal.Decimal {
	if !t.IsCompleted() {
		return decimal.Zero
	}
	effect := decimal.Zero
	switch t.Type {
	case TransactionTypeDeposit:
		if t.SourceWalletID == walletID {
			effect = effect.Add(t.Amount)
		}
	case TransactionTypeWithdrawal:
		if t.SourceWalletID == walletID {
			effect = effect.Sub(t.Amount)
		}
	case TransactionTypeTransfer:
		if t.SourceWalletID == walletID {
			effect = effect.Sub(t.Amount)
		}
		if t.TargetWalletID != nil && *t.TargetWalletID == walletID {
			effect = effect.Add(t.Amount)
		}
	}
	return effect
}
