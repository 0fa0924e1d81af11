package relationaldb

import (
	"errors"
	"fmt"
	"strings"
)

// Common database errors
var (
	ErrDatabaseClosed    = errors.New("database is not open")
	ErrTransactionClosed = errors.New("transaction is closed")

	// Lookup misses
	ErrUserNotFound   = errors.New("user not found")
	ErrCodeNotFound   = errors.New("referral code not found")
	ErrTradeNotFound  = errors.New("trade not found")
	ErrBatchNotFound  = errors.New("payout batch not found")
	ErrTreasuryAbsent = errors.New("treasury user not configured")

	// Constraint and concurrency faults
	ErrUniqueViolation     = errors.New("unique constraint violation")
	ErrConflictRetry       = errors.New("serialization conflict, retry")
	ErrCodeAlreadyAssigned = errors.New("referral code already assigned")
)

// DatabaseError carries operation context around an underlying store fault.
type DatabaseError struct {
	Code      string
	Operation string
	Message   string
	Cause     error
}

func (e *DatabaseError) Error() string {
	var parts []string
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("operation=%s", e.Operation))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}
	return strings.Join(parts, " | ")
}

func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

func (e *DatabaseError) Is(target error) bool {
	if target == nil {
		return false
	}
	if e.Cause != nil && errors.Is(e.Cause, target) {
		return true
	}
	return e.Error() == target.Error()
}

func newError(code, operation, message string, cause error) *DatabaseError {
	return &DatabaseError{Code: code, Operation: operation, Message: message, Cause: cause}
}

// NewConnectionError creates an error for connection-level faults.
func NewConnectionError(operation, message string, cause error) *DatabaseError {
	return newError("connection", operation, message, cause)
}

// NewConfigurationError creates an error for invalid configuration.
func NewConfigurationError(operation, message string, cause error) *DatabaseError {
	return newError("configuration", operation, message, cause)
}

// NewSchemaError creates an error for schema initialization faults.
func NewSchemaError(operation, message string, cause error) *DatabaseError {
	return newError("schema", operation, message, cause)
}

// NewTransactionError creates an error for begin/commit/rollback faults.
func NewTransactionError(operation, message string, cause error) *DatabaseError {
	return newError("transaction", operation, message, cause)
}

// NewQueryError creates an error for statement execution faults.
func NewQueryError(operation, message string, cause error) *DatabaseError {
	return newError("query", operation, message, cause)
}

// IsNotFound reports whether err is any of the lookup-miss sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrCodeNotFound) ||
		errors.Is(err, ErrTradeNotFound) ||
		errors.Is(err, ErrBatchNotFound)
}

// IsRetryable reports whether the caller may safely retry the whole
// transaction. Safe because every write path is guarded by an idempotency
// key or a row lock.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflictRetry)
}
