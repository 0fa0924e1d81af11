package postgres

import (
	"github.com/lib/pq"

	"github.com/nikatrade/referrald/internal/storage/relationaldb"
)

// Postgres error codes that matter to callers.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// queryError wraps a statement fault, translating the pq error codes that
// callers branch on into the package sentinels.
func queryError(operation, message string, err error) error {
	if pqErr, ok := err.(*pq.Error); ok {
		switch string(pqErr.Code) {
		case codeUniqueViolation:
			return relationaldb.NewQueryError(operation, message, relationaldb.ErrUniqueViolation)
		case codeSerializationFailure, codeDeadlockDetected:
			return relationaldb.NewQueryError(operation, message, relationaldb.ErrConflictRetry)
		}
	}
	return relationaldb.NewQueryError(operation, message, err)
}
