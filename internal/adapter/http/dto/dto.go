package dto

import (
	"bytes"
	"encoding/json"
	"fmt"

	"wallet-ledger/internal/core/domain"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value accepted as either a JSON number or a JSON string.
// It stays textual until validated so no precision is lost in float parsing.
type Amount string

// UnmarshalJSON keeps the literal digits of numbers and unquotes strings.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Amount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("amount must be a number or numeric string")
	}
	*a = Amount(n.String())
	return nil
}

// Decimal parses and rounds the amount. Empty amounts are zero.
func (a Amount) Decimal() (decimal.Decimal, error) {
	if a == "" {
		return decimal.Zero, nil
	}
	return domain.ParseAmount(string(a))
}

// CreateWalletRequest is the request body for wallet creation.
type CreateWalletRequest struct {
	OwnerID        string `json:"owner_id" binding:"required,max=255"`
	InitialBalance Amount `json:"initial_balance" binding:"omitempty,decimal_amount"`
	Currency       string `json:"currency" binding:"omitempty,len=3,alpha"`
}

// BalanceChangeRequest is the request body for deposits and withdrawals.
type BalanceChangeRequest struct {
	Amount      Amount  `json:"amount" binding:"required,decimal_amount"`
	Description *string `json:"description,omitempty" binding:"omitempty,max=500"`
	Currency    string  `json:"currency,omitempty" binding:"omitempty,len=3,alpha"`
}

// TransferRequest is the request body for synchronous and queued transfers.
// The idempotency key may also arrive in the Idempotency-Key header.
type TransferRequest struct {
	SourceWalletID string                 `json:"source_wallet_id" binding:"required,uuid"`
	TargetWalletID string                 `json:"target_wallet_id" binding:"required,uuid"`
	Amount         Amount                 `json:"amount" binding:"required,decimal_amount"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty" binding:"omitempty,max=255,safe_id"`
	Description    *string                `json:"description,omitempty" binding:"omitempty,max=500"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// UpdateStatusRequest is the request body for wallet status changes.
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=ACTIVE SUSPENDED CLOSED"`
}

// WalletResponse is the response body for a wallet.
type WalletResponse struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Balance   string `json:"balance"`
	Status    string `json:"status"`
	Currency  string `json:"currency"`
	Version   int64  `json:"version"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// BalanceResponse is the response for a balance query.
type BalanceResponse struct {
	WalletID string `json:"wallet_id"`
	Balance  string `json:"balance"`
}

// TransactionResponse is the response body for a ledger entry.
type TransactionResponse struct {
	ID             string                 `json:"id"`
	IdempotencyKey string                 `json:"idempotency_key"`
	SourceWalletID string                 `json:"source_wallet_id"`
	TargetWalletID *string                `json:"target_wallet_id,omitempty"`
	Type           string                 `json:"type"`
	Status         string                 `json:"status"`
	Amount         string                 `json:"amount"`
	Fee            string                 `json:"fee"`
	Currency       string                 `json:"currency"`
	Description    *string                `json:"description,omitempty"`
	ErrorMessage   *string                `json:"error_message,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      string                 `json:"created_at"`
	UpdatedAt      string                 `json:"updated_at"`
}

// TransferResponse is the response body for a completed or replayed transfer.
type TransferResponse struct {
	Transaction  TransactionResponse `json:"transaction"`
	SourceWallet WalletResponse      `json:"source_wallet"`
	TargetWallet WalletResponse      `json:"target_wallet"`
	Replayed     bool                `json:"replayed"`
}

// TransferJobResponse describes a queued transfer.
type TransferJobResponse struct {
	JobID          string  `json:"job_id"`
	IdempotencyKey string  `json:"idempotency_key"`
	State          string  `json:"state"`
	AttemptsMade   int     `json:"attempts_made"`
	MaxAttempts    int     `json:"max_attempts"`
	LastError      string  `json:"last_error,omitempty"`
	TransactionID  *string `json:"transaction_id,omitempty"`
	EnqueuedAt     string  `json:"enqueued_at"`
	RunAt          *string `json:"run_at,omitempty"`
}

// WalletStatsResponse is the response for wallet statistics.
type WalletStatsResponse struct {
	TotalWallets   int64  `json:"total_wallets"`
	ActiveWallets  int64  `json:"active_wallets"`
	TotalBalance   string `json:"total_balance"`
	AverageBalance string `json:"average_balance"`
}

// TransactionStatsResponse is the response for ledger statistics.
type TransactionStatsResponse struct {
	TotalTransactions int64  `json:"total_transactions"`
	Completed         int64  `json:"completed"`
	Pending           int64  `json:"pending"`
	Failed            int64  `json:"failed"`
	Cancelled         int64  `json:"cancelled"`
	TotalDeposits     string `json:"total_deposits"`
	TotalWithdrawals  string `json:"total_withdrawals"`
	TotalTransfers    string `json:"total_transfers"`
	TotalFees         string `json:"total_fees"`
}

// ReconcileResponse compares a stored balance with the ledger sum.
type ReconcileResponse struct {
	WalletID      string `json:"wallet_id"`
	Balance       string `json:"balance"`
	LedgerBalance string `json:"ledger_balance"`
	Consistent    bool   `json:"consistent"`
}
