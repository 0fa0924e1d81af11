package postgres

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	"github.com/nikatrade/referrald/internal/storage/relationaldb"
)

// BatchRepository implements the BatchRepository interface for PostgreSQL
type BatchRepository struct {
	exec executor
}

// NewBatchRepository creates a repository backed by the connection pool
func NewBatchRepository(db *sql.DB) *BatchRepository {
	return &BatchRepository{exec: db}
}

// NewBatchRepositoryWithTx creates a repository bound to an open transaction
func NewBatchRepositoryWithTx(tx *sql.Tx) *BatchRepository {
	return &BatchRepository{exec: tx}
}

func (r *BatchRepository) Insert(ctx context.Context, b *relationaldb.PayoutBatch) error {
	if b.Status == "" {
		b.Status = relationaldb.BatchStatusPending
	}

	err := r.exec.QueryRowContext(ctx,
		`INSERT INTO payout_batches (user_id, token, amount, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		b.UserID, b.Token, b.Amount.StringFixed(6), b.Status,
	).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		return queryError("insert_payout_batch", "failed to insert payout batch", err)
	}
	return nil
}

func (r *BatchRepository) GetByID(ctx context.Context, id int64) (*relationaldb.PayoutBatch, error) {
	var b relationaldb.PayoutBatch
	var amount string

	err := r.exec.QueryRowContext(ctx,
		`SELECT id, user_id, token, amount, status, created_at
		 FROM payout_batches WHERE id = $1`, id,
	).Scan(&b.ID, &b.UserID, &b.Token, &amount, &b.Status, &b.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, relationaldb.ErrBatchNotFound
	}
	if err != nil {
		return nil, queryError("get_batch_by_id", "failed to query payout batch", err)
	}

	b.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, queryError("get_batch_by_id", "failed to parse amount", err)
	}
	return &b, nil
}

func (r *BatchRepository) MarkStatus(ctx context.Context, id int64, status string) error {
	res, err := r.exec.ExecContext(ctx,
		"UPDATE payout_batches SET status = $1 WHERE id = $2", status, id)
	if err != nil {
		return queryError("mark_batch_status", "failed to update batch status", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return queryError("mark_batch_status", "failed to read rows affected", err)
	}
	if affected != 1 {
		return relationaldb.ErrBatchNotFound
	}
	return nil
}
