package postgres

import (
	"context"
	"database/sql"

	"github.com/nikatrade/referrald/internal/storage/relationaldb"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// RepositoryManager implements the Store interface for PostgreSQL
type RepositoryManager struct {
	db     *sql.DB
	config *relationaldb.Config

	// Repository instances
	userRepo   *UserRepository
	tradeRepo  *TradeRepository
	entryRepo  *EntryRepository
	ledgerRepo *LedgerRepository
	batchRepo  *BatchRepository
}

// NewRepositoryManager creates a new PostgreSQL repository manager
func NewRepositoryManager(config *relationaldb.Config) (*RepositoryManager, error) {
	if err := config.Validate(); err != nil {
		return nil, relationaldb.NewConfigurationError("new_repository_manager", "invalid configuration", err)
	}

	return &RepositoryManager{
		config: config,
	}, nil
}

// Open opens the database connection and initializes the schema.
func (rm *RepositoryManager) Open(ctx context.Context) error {
	connStr, err := rm.config.BuildConnectionString()
	if err != nil {
		return relationaldb.NewConfigurationError("open", "failed to build connection string", err)
	}

	sqlDB, err := sql.Open(rm.config.Driver, connStr)
	if err != nil {
		return relationaldb.NewConnectionError("open", "failed to open database connection", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(rm.config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(rm.config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(rm.config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(rm.config.ConnMaxIdleTime)

	// Test connection
	ctxTimeout, cancel := context.WithTimeout(ctx, rm.config.DefaultTimeout)
	defer cancel()

	if err := sqlDB.PingContext(ctxTimeout); err != nil {
		sqlDB.Close()
		return relationaldb.NewConnectionError("open", "failed to ping database", err)
	}

	rm.db = sqlDB

	if err := rm.initSchema(ctx); err != nil {
		rm.db.Close()
		rm.db = nil
		return relationaldb.NewSchemaError("open", "failed to initialize schema", err)
	}

	// Initialize repository instances
	rm.userRepo = NewUserRepository(rm.db)
	rm.tradeRepo = NewTradeRepository(rm.db)
	rm.entryRepo = NewEntryRepository(rm.db)
	rm.ledgerRepo = NewLedgerRepository(rm.db)
	rm.batchRepo = NewBatchRepository(rm.db)

	return nil
}

// Close closes the database connection
func (rm *RepositoryManager) Close(ctx context.Context) error {
	if rm.db == nil {
		return nil
	}

	err := rm.db.Close()
	rm.db = nil

	rm.userRepo = nil
	rm.tradeRepo = nil
	rm.entryRepo = nil
	rm.ledgerRepo = nil
	rm.batchRepo = nil

	if err != nil {
		return relationaldb.NewConnectionError("close", "failed to close database connection", err)
	}

	return nil
}

// Ping tests the database connection
func (rm *RepositoryManager) Ping(ctx context.Context) error {
	if rm.db == nil {
		return relationaldb.ErrDatabaseClosed
	}

	ctx, cancel := context.WithTimeout(ctx, rm.config.DefaultTimeout)
	defer cancel()

	if err := rm.db.PingContext(ctx); err != nil {
		return relationaldb.NewConnectionError("ping", "database ping failed", err)
	}

	return nil
}

func (rm *RepositoryManager) Users() relationaldb.UserRepository {
	return rm.userRepo
}

func (rm *RepositoryManager) Trades() relationaldb.TradeRepository {
	return rm.tradeRepo
}

func (rm *RepositoryManager) Entries() relationaldb.EntryRepository {
	return rm.entryRepo
}

func (rm *RepositoryManager) Ledger() relationaldb.LedgerRepository {
	return rm.ledgerRepo
}

func (rm *RepositoryManager) Batches() relationaldb.BatchRepository {
	return rm.batchRepo
}

// Begin starts a new transaction
func (rm *RepositoryManager) Begin(ctx context.Context) (relationaldb.TransactionContext, error) {
	if rm.db == nil {
		return nil, relationaldb.ErrDatabaseClosed
	}

	tx, err := rm.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, relationaldb.NewTransactionError("begin", "failed to begin transaction", err)
	}

	return NewTransactionContext(tx), nil
}

// WithTransaction runs fn inside a transaction, committing on nil error and
// rolling back otherwise (and on panic).
func (rm *RepositoryManager) WithTransaction(ctx context.Context, fn func(relationaldb.TransactionContext) error) error {
	tx, err := rm.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			// Return the original error; the rollback failure is secondary.
			return err
		}
		return err
	}

	return tx.Commit(ctx)
}

// initSchema creates the referral accounting tables and indexes.
func (rm *RepositoryManager) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			referral_code TEXT UNIQUE,
			referrer_id BIGINT REFERENCES users(id),
			is_treasury BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`,

		// (trade_id, chain) is the idempotency key for webhook deliveries
		`CREATE TABLE IF NOT EXISTS trades (
			id BIGSERIAL PRIMARY KEY,
			trade_id TEXT NOT NULL,
			chain TEXT NOT NULL,
			trader_id BIGINT NOT NULL REFERENCES users(id),
			fee_token TEXT NOT NULL,
			fee_amount NUMERIC(30,6) NOT NULL CHECK (fee_amount >= 0),
			executed_at TIMESTAMP WITH TIME ZONE NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			UNIQUE (trade_id, chain)
		)`,

		// Append-only journal; one row per (trade, kind, beneficiary)
		`CREATE TABLE IF NOT EXISTS accrual_entries (
			id BIGSERIAL PRIMARY KEY,
			trade_id BIGINT NOT NULL REFERENCES trades(id),
			chain TEXT NOT NULL,
			beneficiary_user_id BIGINT NOT NULL REFERENCES users(id),
			kind TEXT NOT NULL,
			token TEXT NOT NULL,
			amount NUMERIC(30,6) NOT NULL CHECK (amount >= 0),
			executed_at TIMESTAMP WITH TIME ZONE NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			UNIQUE (trade_id, kind, beneficiary_user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS accrual_ledger (
			user_id BIGINT NOT NULL REFERENCES users(id),
			kind TEXT NOT NULL,
			token TEXT NOT NULL,
			accrued_amount NUMERIC(30,6) NOT NULL DEFAULT 0,
			claimed_amount NUMERIC(30,6) NOT NULL DEFAULT 0
				CHECK (claimed_amount >= 0 AND claimed_amount <= accrued_amount),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, kind, token)
		)`,

		`CREATE TABLE IF NOT EXISTS payout_batches (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			token TEXT NOT NULL,
			amount NUMERIC(30,6) NOT NULL CHECK (amount > 0),
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_users_referrer_id ON users(referrer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_accrual_entries_beneficiary_executed
			ON accrual_entries(beneficiary_user_id, executed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_payout_batches_user_id ON payout_batches(user_id)`,
	}

	for _, query := range queries {
		if _, err := rm.db.ExecContext(ctx, query); err != nil {
			return relationaldb.NewSchemaError("init_schema", "failed to execute schema query", err)
		}
	}

	return nil
}
