package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nikatrade/referrald/internal/storage/relationaldb"
)

// EntryRepository implements the EntryRepository interface for PostgreSQL
type EntryRepository struct {
	exec executor
}

// NewEntryRepository creates a repository backed by the connection pool
func NewEntryRepository(db *sql.DB) *EntryRepository {
	return &EntryRepository{exec: db}
}

// NewEntryRepositoryWithTx creates a repository bound to an open transaction
func NewEntryRepositoryWithTx(tx *sql.Tx) *EntryRepository {
	return &EntryRepository{exec: tx}
}

func (r *EntryRepository) Insert(ctx context.Context, e *relationaldb.AccrualEntry) error {
	_, err := r.exec.ExecContext(ctx,
		`INSERT INTO accrual_entries
			(trade_id, chain, beneficiary_user_id, kind, token, amount, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.TradeRef, e.Chain, e.BeneficiaryUserID, string(e.Kind), e.Token,
		e.Amount.StringFixed(6), e.ExecutedAt)
	if err != nil {
		return queryError("insert_accrual_entry", "failed to insert journal entry", err)
	}
	return nil
}

// windowClause appends [from, to) predicates on executed_at to a WHERE clause
// that already holds argCount placeholders.
func windowClause(column string, from, to *time.Time, args []interface{}) (string, []interface{}) {
	clause := ""
	if from != nil {
		args = append(args, *from)
		clause += fmt.Sprintf(" AND %s >= $%d", column, len(args))
	}
	if to != nil {
		args = append(args, *to)
		clause += fmt.Sprintf(" AND %s < $%d", column, len(args))
	}
	return clause, args
}

func (r *EntryRepository) SumByKindInWindow(ctx context.Context, userID int64, from, to *time.Time) ([]relationaldb.KindSum, error) {
	args := []interface{}{userID}
	clause, args := windowClause("executed_at", from, to, args)

	query := `SELECT kind, token, SUM(amount)
		 FROM accrual_entries
		 WHERE beneficiary_user_id = $1` + clause + `
		 GROUP BY kind, token`

	rows, err := r.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, queryError("sum_by_kind_in_window", "failed to aggregate journal", err)
	}
	defer rows.Close()

	var sums []relationaldb.KindSum
	for rows.Next() {
		var s relationaldb.KindSum
		var kind, amount string

		if err := rows.Scan(&kind, &s.Token, &amount); err != nil {
			return nil, queryError("sum_by_kind_in_window", "failed to scan row", err)
		}
		s.Kind = relationaldb.Kind(kind)
		if s.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, queryError("sum_by_kind_in_window", "failed to parse amount", err)
		}
		sums = append(sums, s)
	}

	if err := rows.Err(); err != nil {
		return nil, queryError("sum_by_kind_in_window", "error iterating rows", err)
	}
	return sums, nil
}

func (r *EntryRepository) ListBreakdown(ctx context.Context, userID int64, from, to *time.Time, limit int) ([]relationaldb.BreakdownEntry, error) {
	args := []interface{}{userID}
	clause, args := windowClause("ae.executed_at", from, to, args)

	args = append(args, limit)
	query := fmt.Sprintf(
		`SELECT t.trade_id, ae.chain, ae.kind, ae.token, ae.amount, ae.executed_at
		 FROM accrual_entries ae
		 JOIN trades t ON ae.trade_id = t.id
		 WHERE ae.beneficiary_user_id = $1%s
		 ORDER BY ae.executed_at DESC
		 LIMIT $%d`, clause, len(args))

	rows, err := r.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, queryError("list_breakdown", "failed to query breakdown", err)
	}
	defer rows.Close()

	var entries []relationaldb.BreakdownEntry
	for rows.Next() {
		var e relationaldb.BreakdownEntry
		var kind, amount string

		if err := rows.Scan(&e.TradeID, &e.Chain, &kind, &e.Token, &amount, &e.ExecutedAt); err != nil {
			return nil, queryError("list_breakdown", "failed to scan row", err)
		}
		e.Kind = relationaldb.Kind(kind)
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, queryError("list_breakdown", "failed to parse amount", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, queryError("list_breakdown", "error iterating rows", err)
	}
	return entries, nil
}

func (r *EntryRepository) SumForLedgerKey(ctx context.Context, userID int64, kind relationaldb.Kind, token string) (decimal.Decimal, error) {
	var amount sql.NullString
	err := r.exec.QueryRowContext(ctx,
		`SELECT SUM(amount) FROM accrual_entries
		 WHERE beneficiary_user_id = $1 AND kind = $2 AND token = $3`,
		userID, string(kind), token).Scan(&amount)
	if err != nil {
		return decimal.Zero, queryError("sum_for_ledger_key", "failed to aggregate journal", err)
	}

	if !amount.Valid {
		return decimal.Zero, nil
	}
	sum, err := decimal.NewFromString(amount.String)
	if err != nil {
		return decimal.Zero, queryError("sum_for_ledger_key", "failed to parse amount", err)
	}
	return sum, nil
}
