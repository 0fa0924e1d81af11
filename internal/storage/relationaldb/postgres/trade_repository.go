package postgres

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	"github.com/nikatrade/referrald/internal/storage/relationaldb"
)

// TradeRepository implements the TradeRepository interface for PostgreSQL
type TradeRepository struct {
	exec executor
}

// NewTradeRepository creates a repository backed by the connection pool
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{exec: db}
}

// NewTradeRepositoryWithTx creates a repository bound to an open transaction
func NewTradeRepositoryWithTx(tx *sql.Tx) *TradeRepository {
	return &TradeRepository{exec: tx}
}

// Insert creates the trade row if absent. The unique constraint on
// (trade_id, chain) is the idempotency gate: on conflict nothing is written
// and the existing row's id is returned with created=false.
func (r *TradeRepository) Insert(ctx context.Context, t *relationaldb.Trade) (int64, bool, error) {
	var id int64
	err := r.exec.QueryRowContext(ctx,
		`INSERT INTO trades (trade_id, chain, trader_id, fee_token, fee_amount, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (trade_id, chain) DO NOTHING
		 RETURNING id`,
		t.TradeID, t.Chain, t.TraderID, t.FeeToken, t.FeeAmount.StringFixed(6), t.ExecutedAt,
	).Scan(&id)

	if err == sql.ErrNoRows {
		// Conflict: the trade already exists.
		err = r.exec.QueryRowContext(ctx,
			"SELECT id FROM trades WHERE trade_id = $1 AND chain = $2",
			t.TradeID, t.Chain).Scan(&id)
		if err != nil {
			return 0, false, queryError("insert_trade", "failed to load existing trade", err)
		}
		return id, false, nil
	}
	if err != nil {
		return 0, false, queryError("insert_trade", "failed to insert trade", err)
	}
	return id, true, nil
}

func (r *TradeRepository) GetByKey(ctx context.Context, tradeID, chain string) (*relationaldb.Trade, error) {
	var t relationaldb.Trade
	var fee string

	err := r.exec.QueryRowContext(ctx,
		`SELECT id, trade_id, chain, trader_id, fee_token, fee_amount, executed_at
		 FROM trades WHERE trade_id = $1 AND chain = $2`,
		tradeID, chain,
	).Scan(&t.ID, &t.TradeID, &t.Chain, &t.TraderID, &t.FeeToken, &fee, &t.ExecutedAt)

	if err == sql.ErrNoRows {
		return nil, relationaldb.ErrTradeNotFound
	}
	if err != nil {
		return nil, queryError("get_trade_by_key", "failed to query trade", err)
	}

	t.FeeAmount, err = decimal.NewFromString(fee)
	if err != nil {
		return nil, queryError("get_trade_by_key", "failed to parse fee amount", err)
	}
	return &t, nil
}
