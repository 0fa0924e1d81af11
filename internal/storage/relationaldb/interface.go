package relationaldb

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies the accounting bucket an accrual belongs to.
type Kind string

const (
	KindCashback     Kind = "cashback"
	KindCommissionL1 Kind = "commission_l1"
	KindCommissionL2 Kind = "commission_l2"
	KindCommissionL3 Kind = "commission_l3"
	KindTreasury     Kind = "treasury"
)

// KnownKinds returns every kind the ledger tracks, in presentation order.
func KnownKinds() []Kind {
	return []Kind{KindCashback, KindCommissionL1, KindCommissionL2, KindCommissionL3, KindTreasury}
}

// ClaimableKinds returns the kinds a user may claim. Treasury is excluded:
// the treasury sink is settled out of band.
func ClaimableKinds() []Kind {
	return []Kind{KindCashback, KindCommissionL1, KindCommissionL2, KindCommissionL3}
}

// CommissionKind maps a lineage level (1..3) to its commission kind.
func CommissionKind(level int) Kind {
	switch level {
	case 1:
		return KindCommissionL1
	case 2:
		return KindCommissionL2
	case 3:
		return KindCommissionL3
	default:
		return ""
	}
}

// User is a row in the users table.
type User struct {
	ID           int64
	Username     string
	ReferralCode string // empty until assigned
	ReferrerID   *int64
	IsTreasury   bool
	CreatedAt    time.Time
}

// Trade is a row in the trades table. The pair (TradeID, Chain) is the
// idempotency key; the surrogate ID is internal.
type Trade struct {
	ID         int64
	TradeID    string
	Chain      string
	TraderID   int64
	FeeToken   string
	FeeAmount  decimal.Decimal
	ExecutedAt time.Time
}

// AccrualEntry is an append-only journal row.
type AccrualEntry struct {
	ID                int64
	TradeRef          int64 // surrogate trades.id
	Chain             string
	BeneficiaryUserID int64
	Kind              Kind
	Token             string
	Amount            decimal.Decimal
	ExecutedAt        time.Time
}

// LedgerRow is the per-(user, kind, token) aggregate.
type LedgerRow struct {
	UserID        int64
	Kind          Kind
	Token         string
	AccruedAmount decimal.Decimal
	ClaimedAmount decimal.Decimal
	UpdatedAt     time.Time
}

// PayoutBatch is a pending payout created by a successful claim.
type PayoutBatch struct {
	ID        int64
	UserID    int64
	Token     string
	Amount    decimal.Decimal
	Status    string
	CreatedAt time.Time
}

// BatchStatusPending is the status a claim creates batches with. Later
// transitions belong to the payout executor.
const BatchStatusPending = "pending"

// KindSum is one row of a grouped journal aggregation.
type KindSum struct {
	Kind   Kind
	Token  string
	Amount decimal.Decimal
}

// BreakdownEntry is a journal row joined to its trade for presentation.
type BreakdownEntry struct {
	TradeID    string // business trade id
	Chain      string
	Kind       Kind
	Token      string
	Amount     decimal.Decimal
	ExecutedAt time.Time
}

// UserRepository provides typed access to the users table.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByReferralCode(ctx context.Context, code string) (*User, error)
	// GetReferrerID returns the user's referrer id, nil when the user is a root.
	GetReferrerID(ctx context.Context, id int64) (*int64, error)
	// GetReferrerIDForUpdate is GetReferrerID with a row-level exclusive lock,
	// used by the cycle walk so concurrent assignments serialize.
	GetReferrerIDForUpdate(ctx context.Context, id int64) (*int64, error)
	SetReferrerID(ctx context.Context, childID, parentID int64) error
	// SetReferralCode assigns a code only when the user has none yet; a code
	// is immutable once assigned and a lost race fails with
	// ErrCodeAlreadyAssigned.
	SetReferralCode(ctx context.Context, id int64, code string) error
	ReferralCodeExists(ctx context.Context, code string) (bool, error)
	// GetTreasuryID returns the id of the designated treasury sink user.
	GetTreasuryID(ctx context.Context) (int64, error)
	// ListByReferrerIDs returns users whose referrer is any of parentIDs,
	// newest first, capped at limit.
	ListByReferrerIDs(ctx context.Context, parentIDs []int64, limit int) ([]User, error)
}

// TradeRepository provides typed access to the trades table.
type TradeRepository interface {
	// Insert attempts to create the trade row. created is false when a row
	// with the same (trade_id, chain) already exists; id is the surviving
	// row's surrogate id in either case.
	Insert(ctx context.Context, t *Trade) (id int64, created bool, err error)
	GetByKey(ctx context.Context, tradeID, chain string) (*Trade, error)
}

// EntryRepository provides typed access to the accrual_entries journal.
type EntryRepository interface {
	Insert(ctx context.Context, e *AccrualEntry) error
	// SumByKindInWindow aggregates SUM(amount) grouped by (kind, token) for a
	// beneficiary over the half-open window [from, to). Nil bounds are open.
	SumByKindInWindow(ctx context.Context, userID int64, from, to *time.Time) ([]KindSum, error)
	// ListBreakdown returns the newest journal entries for a beneficiary,
	// joined to trades, optionally bounded by [from, to).
	ListBreakdown(ctx context.Context, userID int64, from, to *time.Time, limit int) ([]BreakdownEntry, error)
	// SumForLedgerKey returns the journal total for one (user, kind, token).
	SumForLedgerKey(ctx context.Context, userID int64, kind Kind, token string) (decimal.Decimal, error)
}

// LedgerRepository provides typed access to the accrual_ledger aggregate.
type LedgerRepository interface {
	// AddAccrued upserts the (user, kind, token) row, adding delta to
	// accrued_amount and bumping updated_at.
	AddAccrued(ctx context.Context, userID int64, kind Kind, token string, delta decimal.Decimal) error
	ListByUser(ctx context.Context, userID int64) ([]LedgerRow, error)
	ListByUserToken(ctx context.Context, userID int64, token string) ([]LedgerRow, error)
	// ListByUserTokenForUpdate locks the returned rows exclusively for the
	// duration of the transaction (claim serialization point).
	ListByUserTokenForUpdate(ctx context.Context, userID int64, token string) ([]LedgerRow, error)
	// SettleClaimed sets claimed_amount = accrued_amount for the given kinds
	// in a single statement. Idempotent for already-settled rows.
	SettleClaimed(ctx context.Context, userID int64, token string, kinds []Kind) error
}

// BatchRepository provides typed access to the payout_batches table.
type BatchRepository interface {
	// Insert creates a batch and fills in its id and created_at.
	Insert(ctx context.Context, b *PayoutBatch) error
	GetByID(ctx context.Context, id int64) (*PayoutBatch, error)
	// MarkStatus transitions a batch; used by the payout executor.
	MarkStatus(ctx context.Context, id int64, status string) error
}

// TransactionContext exposes all repositories bound to one open transaction.
type TransactionContext interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	Users() UserRepository
	Trades() TradeRepository
	Entries() EntryRepository
	Ledger() LedgerRepository
	Batches() BatchRepository
}

// Store is the top-level access point to the relational database.
type Store interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	Ping(ctx context.Context) error

	// Auto-commit repositories, for single-statement reads.
	Users() UserRepository
	Trades() TradeRepository
	Entries() EntryRepository
	Ledger() LedgerRepository
	Batches() BatchRepository

	Begin(ctx context.Context) (TransactionContext, error)
	// WithTransaction runs fn inside a transaction, committing on nil error
	// and rolling back otherwise (and on panic).
	WithTransaction(ctx context.Context, fn func(TransactionContext) error) error
}
