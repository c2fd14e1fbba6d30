package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is assigned to wallets created without an explicit currency.
const DefaultCurrency = "USD"

var (
	ErrNonPositiveAmount       = errors.New("amount must be greater than zero")
	ErrNegativeBalance         = errors.New("balance cannot go below zero")
	ErrInvalidStatusTransition = errors.New("invalid wallet status transition")
)

// WalletStatus represents the lifecycle state of a wallet.
type WalletStatus string

const (
	WalletStatusActive    WalletStatus = "ACTIVE"
	WalletStatusSuspended WalletStatus = "SUSPENDED"
	WalletStatusClosed    WalletStatus = "CLOSED"
)

// Valid reports whether s is a known wallet status.
func (s WalletStatus) Valid() bool {
	switch s {
	case WalletStatusActive, WalletStatusSuspended, WalletStatusClosed:
		return true
	}
	return false
}

// Wallet holds an owner's balance. Mutations happen in memory only; the
// storage layer persists the result and bumps Version.
type Wallet struct {
	ID        uuid.UUID       `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Balance   decimal.Decimal `json:"balance"`
	Status    WalletStatus    `json:"status"`
	Currency  string          `json:"currency"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewWallet builds an active wallet for ownerID at version 1.
func NewWallet(ownerID string, initialBalance decimal.Decimal, currency string, now time.Time) *Wallet {
	if currency == "" {
		currency = DefaultCurrency
	}
	return &Wallet{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Balance:   RoundAmount(initialBalance),
		Status:    WalletStatusActive,
		Currency:  currency,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsActive returns true if the wallet accepts money movements.
func (w *Wallet) IsActive() bool {
	return w.Status == WalletStatusActive
}

// CanWithdraw is true when the wallet is active and holds at least amount.
func (w *Wallet) CanWithdraw(amount decimal.Decimal) bool {
	return w.IsActive() && w.Balance.GreaterThanOrEqual(RoundAmount(amount))
}

// CanDeposit is true when the wallet is active and amount is positive.
func (w *Wallet) CanDeposit(amount decimal.Decimal) bool {
	return w.IsActive() && RoundAmount(amount).IsPositive()
}

// AddBalance credits the rounded amount.
func (w *Wallet) AddBalance(amount decimal.Decimal) error {
	amount = RoundAmount(amount)
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	w.Balance = w.Balance.Add(amount)
	return nil
}

// SubtractBalance debits the rounded amount, refusing to overdraw.
func (w *Wallet) SubtractBalance(amount decimal.Decimal) error {
	amount = RoundAmount(amount)
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	next := w.Balance.Sub(amount)
	if next.IsNegative() {
		return ErrNegativeBalance
	}
	w.Balance = next
	return nil
}

// ChangeStatus moves the wallet to next. Active and Suspended may swap freely
// and both may close; a closed wallet never reopens.
func (w *Wallet) ChangeStatus(next WalletStatus) error {
	if !next.Valid() || w.Status == WalletStatusClosed {
		return ErrInvalidStatusTransition
	}
	w.Status = next
	return nil
}
