package ports

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrVersionConflict is returned by versioned writes when the stored version moved on.
	ErrVersionConflict = errors.New("wallet version conflict")
	// ErrDuplicateOwner is returned when a wallet already exists for the owner.
	ErrDuplicateOwner = errors.New("wallet already exists for owner")
	// ErrTransient marks store failures that may succeed when the unit of work is re-run.
	ErrTransient = errors.New("transient store failure")
)

// PostgreSQL SQLSTATE codes the ledger reacts to.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

// IsTransient reports whether err is a serialization failure, a detected
// deadlock or a lock wait timeout.
func IsTransient(err error) bool {
	if errors.Is(err, ErrTransient) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return true
		}
	}
	return false
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
