package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// Serialization failure, deadlock and lock-not-available abort a transaction
// that can succeed when run again from the start.
var retryableCodes = map[string]struct{}{
	"40001": {},
	"40P01": {},
	"55P03": {},
}

// IsUniqueViolation reports whether the provided error is a unique constraint
// violation. When constraintName is provided the constraint must match too.
// SQLite errors are matched on their message so tests exercise the same path.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgUniqueViolation {
			return false
		}
		return constraintName == "" || pgErr.ConstraintName == constraintName
	}

	msg := err.Error()
	if !strings.Contains(msg, "duplicate key value") && !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	if constraintName == "" {
		return true
	}
	return strings.Contains(msg, constraintName)
}

// IsNotFound reports gorm's record-not-found sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// IsRetryable reports whether the transaction failed on a lock conflict and
// may be re-run. SQLite busy errors are matched on their message.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := retryableCodes[pgErr.Code]
		return ok
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
