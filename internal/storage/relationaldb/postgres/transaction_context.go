package postgres

import (
	"context"
	"database/sql"

	"github.com/nikatrade/referrald/internal/storage/relationaldb"
)

// TransactionContext implements the TransactionContext interface for PostgreSQL
type TransactionContext struct {
	tx *sql.Tx

	// Repository instances bound to this transaction
	userRepo   *UserRepository
	tradeRepo  *TradeRepository
	entryRepo  *EntryRepository
	ledgerRepo *LedgerRepository
	batchRepo  *BatchRepository
}

// NewTransactionContext creates a new PostgreSQL transaction context
func NewTransactionContext(tx *sql.Tx) *TransactionContext {
	return &TransactionContext{
		tx:         tx,
		userRepo:   NewUserRepositoryWithTx(tx),
		tradeRepo:  NewTradeRepositoryWithTx(tx),
		entryRepo:  NewEntryRepositoryWithTx(tx),
		ledgerRepo: NewLedgerRepositoryWithTx(tx),
		batchRepo:  NewBatchRepositoryWithTx(tx),
	}
}

func (tc *TransactionContext) Commit(ctx context.Context) error {
	if tc.tx == nil {
		return relationaldb.ErrTransactionClosed
	}

	err := tc.tx.Commit()
	tc.tx = nil

	if err != nil {
		return relationaldb.NewTransactionError("commit", "failed to commit transaction", err)
	}

	return nil
}

func (tc *TransactionContext) Rollback(ctx context.Context) error {
	if tc.tx == nil {
		return nil // Already rolled back or committed
	}

	err := tc.tx.Rollback()
	tc.tx = nil

	if err != nil {
		return relationaldb.NewTransactionError("rollback", "failed to rollback transaction", err)
	}

	return nil
}

func (tc *TransactionContext) Users() relationaldb.UserRepository {
	return tc.userRepo
}

func (tc *TransactionContext) Trades() relationaldb.TradeRepository {
	return tc.tradeRepo
}

func (tc *TransactionContext) Entries() relationaldb.EntryRepository {
	return tc.entryRepo
}

func (tc *TransactionContext) Ledger() relationaldb.LedgerRepository {
	return tc.ledgerRepo
}

func (tc *TransactionContext) Batches() relationaldb.BatchRepository {
	return tc.batchRepo
}
