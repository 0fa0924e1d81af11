package postgres

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/nikatrade/referrald/internal/storage/relationaldb"
)

// LedgerRepository implements the LedgerRepository interface for PostgreSQL
type LedgerRepository struct {
	exec executor
}

// NewLedgerRepository creates a repository backed by the connection pool
func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{exec: db}
}

// NewLedgerRepositoryWithTx creates a repository bound to an open transaction
func NewLedgerRepositoryWithTx(tx *sql.Tx) *LedgerRepository {
	return &LedgerRepository{exec: tx}
}

// AddAccrued upserts the (user, kind, token) aggregate. The upsert's row lock
// serializes concurrent accruals to the same key; addition is commutative so
// arrival order does not matter.
func (r *LedgerRepository) AddAccrued(ctx context.Context, userID int64, kind relationaldb.Kind, token string, delta decimal.Decimal) error {
	_, err := r.exec.ExecContext(ctx,
		`INSERT INTO accrual_ledger (user_id, kind, token, accrued_amount, claimed_amount)
		 VALUES ($1, $2, $3, $4, 0)
		 ON CONFLICT (user_id, kind, token)
		 DO UPDATE SET
			accrued_amount = accrual_ledger.accrued_amount + EXCLUDED.accrued_amount,
			updated_at = NOW()`,
		userID, string(kind), token, delta.StringFixed(6))
	if err != nil {
		return queryError("add_accrued", "failed to upsert ledger row", err)
	}
	return nil
}

const ledgerColumns = "user_id, kind, token, accrued_amount, claimed_amount, updated_at"

func (r *LedgerRepository) scanRows(operation string, rows *sql.Rows) ([]relationaldb.LedgerRow, error) {
	defer rows.Close()

	var result []relationaldb.LedgerRow
	for rows.Next() {
		var lr relationaldb.LedgerRow
		var kind, accrued, claimed string

		if err := rows.Scan(&lr.UserID, &kind, &lr.Token, &accrued, &claimed, &lr.UpdatedAt); err != nil {
			return nil, queryError(operation, "failed to scan row", err)
		}
		lr.Kind = relationaldb.Kind(kind)

		var err error
		if lr.AccruedAmount, err = decimal.NewFromString(accrued); err != nil {
			return nil, queryError(operation, "failed to parse accrued amount", err)
		}
		if lr.ClaimedAmount, err = decimal.NewFromString(claimed); err != nil {
			return nil, queryError(operation, "failed to parse claimed amount", err)
		}
		result = append(result, lr)
	}

	if err := rows.Err(); err != nil {
		return nil, queryError(operation, "error iterating rows", err)
	}
	return result, nil
}

func (r *LedgerRepository) ListByUser(ctx context.Context, userID int64) ([]relationaldb.LedgerRow, error) {
	rows, err := r.exec.QueryContext(ctx,
		"SELECT "+ledgerColumns+" FROM accrual_ledger WHERE user_id = $1", userID)
	if err != nil {
		return nil, queryError("list_ledger_by_user", "failed to query ledger", err)
	}
	return r.scanRows("list_ledger_by_user", rows)
}

func (r *LedgerRepository) ListByUserToken(ctx context.Context, userID int64, token string) ([]relationaldb.LedgerRow, error) {
	rows, err := r.exec.QueryContext(ctx,
		"SELECT "+ledgerColumns+" FROM accrual_ledger WHERE user_id = $1 AND token = $2",
		userID, token)
	if err != nil {
		return nil, queryError("list_ledger_by_user_token", "failed to query ledger", err)
	}
	return r.scanRows("list_ledger_by_user_token", rows)
}

// ListByUserTokenForUpdate takes FOR UPDATE locks on the returned rows. Two
// concurrent claims for the same (user, token) serialize here; the loser sees
// the settled rows after the winner commits.
func (r *LedgerRepository) ListByUserTokenForUpdate(ctx context.Context, userID int64, token string) ([]relationaldb.LedgerRow, error) {
	rows, err := r.exec.QueryContext(ctx,
		"SELECT "+ledgerColumns+" FROM accrual_ledger WHERE user_id = $1 AND token = $2 FOR UPDATE",
		userID, token)
	if err != nil {
		return nil, queryError("list_ledger_for_update", "failed to lock ledger rows", err)
	}
	return r.scanRows("list_ledger_for_update", rows)
}

// SettleClaimed moves every unclaimed amount of the given kinds into claimed
// in one statement. Setting claimed = accrued is idempotent and can never
// violate the claimed <= accrued constraint.
func (r *LedgerRepository) SettleClaimed(ctx context.Context, userID int64, token string, kinds []relationaldb.Kind) error {
	kindStrings := make([]string, len(kinds))
	for i, k := range kinds {
		kindStrings[i] = string(k)
	}

	_, err := r.exec.ExecContext(ctx,
		`UPDATE accrual_ledger
		 SET claimed_amount = accrued_amount, updated_at = NOW()
		 WHERE user_id = $1 AND token = $2 AND kind = ANY($3)`,
		userID, token, pq.Array(kindStrings))
	if err != nil {
		return queryError("settle_claimed", "failed to settle claimed amounts", err)
	}
	return nil
}
