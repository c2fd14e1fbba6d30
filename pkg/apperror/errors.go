package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups error codes into the ledger's failure families.
type Kind string

const (
	KindValidation        Kind = "VALIDATION"
	KindNotFound          Kind = "NOT_FOUND"
	KindConflict          Kind = "CONFLICT"
	KindState             Kind = "STATE"
	KindInsufficientFunds Kind = "INSUFFICIENT_FUNDS"
	KindInternal          Kind = "INTERNAL"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	Kind       Kind   `json:"-"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(kind Kind, code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Kind:       kind,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(kind Kind, code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Kind:       kind,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// HasCode reports whether err is an AppError carrying the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// KindOf returns the failure family of err. Errors that are not AppErrors are internal.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsRetryable reports whether re-running the failed operation may succeed.
// Conflicts and infrastructure failures qualify; business rejections do not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindConflict, KindInternal:
		return !HasCode(err, CodeDuplicateWallet) && !HasCode(err, CodePreviousAttemptFailed)
	default:
		return false
	}
}

// ---- Wallet & Ledger (WAL) ----

const (
	CodeInsufficientFunds       = "WAL_001"
	CodeInvalidAmount           = "WAL_002"
	CodeDuplicateWallet         = "WAL_003"
	CodeNotFound                = "WAL_004"
	CodeWalletNotActive         = "WAL_005"
	CodeCurrencyMismatch        = "WAL_006"
	CodeInvalidTargetStatus     = "WAL_007"
	CodeConcurrentModification  = "WAL_008"
	CodeSameWallet              = "WAL_009"
	CodePreviousAttemptFailed   = "WAL_010"
	CodeInvalidStatusTransition = "WAL_011"
	CodeTransferInProgress      = "WAL_012"
	CodeValidation              = "VAL_001"
	CodeInternal                = "SYS_001"
	CodeLockTimeout             = "SYS_002"
	CodeRateLimitExceeded       = "RATE_001"
)

func ErrInsufficientFunds() *AppError {
	return New(KindInsufficientFunds, CodeInsufficientFunds, "Insufficient balance in wallet", http.StatusUnprocessableEntity)
}

func ErrInvalidAmount() *AppError {
	return New(KindValidation, CodeInvalidAmount, "Amount must be greater than zero", http.StatusBadRequest)
}

func ErrDuplicateWallet() *AppError {
	return New(KindConflict, CodeDuplicateWallet, "Wallet already exists for this owner", http.StatusConflict)
}

func ErrNotFound(entity string) *AppError {
	return New(KindNotFound, CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrWalletNotActive() *AppError {
	return New(KindState, CodeWalletNotActive, "Wallet is not active", http.StatusUnprocessableEntity)
}

func ErrCurrencyMismatch(expected, got string) *AppError {
	return New(KindState, CodeCurrencyMismatch,
		fmt.Sprintf("Currency mismatch: wallet uses %s, request uses %s", expected, got), http.StatusUnprocessableEntity)
}

func ErrInvalidTargetStatus() *AppError {
	return New(KindState, CodeInvalidTargetStatus, "Invalid target wallet status", http.StatusUnprocessableEntity)
}

// ErrConcurrentModification is returned once optimistic retries are exhausted.
func ErrConcurrentModification(err error) *AppError {
	return Wrap(KindConflict, CodeConcurrentModification, "Wallet was modified concurrently, please retry", http.StatusConflict, err)
}

func ErrSameWallet() *AppError {
	return New(KindValidation, CodeSameWallet, "Cannot transfer to the same wallet", http.StatusBadRequest)
}

func ErrPreviousAttemptFailed() *AppError {
	return New(KindConflict, CodePreviousAttemptFailed,
		"Previous transfer attempt failed, submit a new idempotency key", http.StatusConflict)
}

func ErrInvalidStatusTransition(from, to string) *AppError {
	return New(KindState, CodeInvalidStatusTransition,
		fmt.Sprintf("Cannot change wallet status from %s to %s", from, to), http.StatusUnprocessableEntity)
}

// ErrTransferInProgress is returned when a pending record already holds the idempotency key.
func ErrTransferInProgress() *AppError {
	return New(KindConflict, CodeTransferInProgress,
		"Transfer with this idempotency key is in progress, retry later", http.StatusConflict)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New(KindConflict, CodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrLockTimeout(err error) *AppError {
	return Wrap(KindInternal, CodeLockTimeout, "Lock acquisition timeout", http.StatusServiceUnavailable, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(KindInternal, CodeInternal, "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a VAL_001 validation error.
func Validation(message string) *AppError {
	return New(KindValidation, CodeValidation, message, http.StatusBadRequest)
}
