// Package accrual is the accounting core: it turns fee events into journal
// entries and ledger deltas, aggregates earnings views, and settles claims.
package accrual

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nikatrade/referrald/internal/core/fees"
	"github.com/nikatrade/referrald/internal/core/money"
	"github.com/nikatrade/referrald/internal/core/referral"
	"github.com/nikatrade/referrald/internal/storage/relationaldb"
)

// Ingestion outcomes.
const (
	StatusApplied   = "applied"
	StatusDuplicate = "duplicate"
)

// Rule violations surfaced to callers.
var (
	ErrInvalidEvent   = errors.New("unknown trader")
	ErrMisconfigured  = errors.New("treasury user is not configured")
	ErrNoBalance      = errors.New("no balance for token")
	ErrNothingToClaim = errors.New("nothing to claim")
)

// TradeEvent is a fee event delivered by the trading platform.
type TradeEvent struct {
	TradeID    string
	TraderID   int64
	Chain      string
	FeeToken   string
	FeeAmount  decimal.Decimal
	ExecutedAt time.Time
}

// IngestResult reports what happened to one event. Lineage and Splits are
// only populated when Status is StatusApplied.
type IngestResult struct {
	Status  string
	TradeID string
	Lineage []*int64
	Splits  fees.Splits
}

// Engine executes the accrual operations against the store.
type Engine struct {
	store relationaldb.Store

	// Treasury id is configuration-stable, so it is resolved once and
	// cached for the process lifetime. Zero means not yet resolved.
	treasuryID atomic.Int64
}

func NewEngine(store relationaldb.Store) *Engine {
	return &Engine{store: store}
}

// Ingest applies one fee event in a single transaction. The unique
// constraint on (trade_id, chain) is the idempotency gate: replays commit
// nothing and report StatusDuplicate.
func (e *Engine) Ingest(ctx context.Context, ev TradeEvent) (*IngestResult, error) {
	if ev.FeeAmount.IsNegative() {
		return nil, ErrInvalidEvent
	}

	res := &IngestResult{TradeID: ev.TradeID}

	err := e.store.WithTransaction(ctx, func(tx relationaldb.TransactionContext) error {
		users := tx.Users()

		if _, err := users.GetByID(ctx, ev.TraderID); err != nil {
			if errors.Is(err, relationaldb.ErrUserNotFound) {
				return ErrInvalidEvent
			}
			return err
		}

		trade := &relationaldb.Trade{
			TradeID:    ev.TradeID,
			Chain:      ev.Chain,
			TraderID:   ev.TraderID,
			FeeToken:   ev.FeeToken,
			FeeAmount:  money.Truncate(ev.FeeAmount),
			ExecutedAt: ev.ExecutedAt,
		}

		tradeRef, created, err := tx.Trades().Insert(ctx, trade)
		if err != nil {
			return err
		}
		if !created {
			res.Status = StatusDuplicate
			return nil
		}

		lineage, err := referral.ResolveLineage(ctx, users, ev.TraderID, fees.MaxLevels)
		if err != nil {
			return err
		}

		var present [fees.MaxLevels]bool
		for i, ancestor := range lineage {
			present[i] = ancestor != nil
		}
		splits := fees.Compute(trade.FeeAmount, present)

		treasuryID, err := e.resolveTreasuryID(ctx, users)
		if err != nil {
			return err
		}

		for _, p := range payouts(ev.TraderID, treasuryID, lineage, splits) {
			entry := &relationaldb.AccrualEntry{
				TradeRef:          tradeRef,
				Chain:             ev.Chain,
				BeneficiaryUserID: p.userID,
				Kind:              p.kind,
				Token:             ev.FeeToken,
				Amount:            p.amount,
				ExecutedAt:        trade.ExecutedAt,
			}
			if err := tx.Entries().Insert(ctx, entry); err != nil {
				return err
			}
			if err := tx.Ledger().AddAccrued(ctx, p.userID, p.kind, ev.FeeToken, p.amount); err != nil {
				return err
			}
		}

		res.Status = StatusApplied
		res.Lineage = lineage
		res.Splits = splits
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

type payout struct {
	userID int64
	kind   relationaldb.Kind
	amount decimal.Decimal
}

// payouts lists the strictly positive accruals for one split: trader
// cashback, one commission per present ancestor, treasury residual.
func payouts(traderID, treasuryID int64, lineage []*int64, s fees.Splits) []payout {
	out := make([]payout, 0, fees.MaxLevels+2)

	if s.Cashback.IsPositive() {
		out = append(out, payout{traderID, relationaldb.KindCashback, s.Cashback})
	}
	for i, ancestor := range lineage {
		if ancestor != nil && s.Commissions[i].IsPositive() {
			out = append(out, payout{*ancestor, relationaldb.CommissionKind(i + 1), s.Commissions[i]})
		}
	}
	if s.Treasury.IsPositive() {
		out = append(out, payout{treasuryID, relationaldb.KindTreasury, s.Treasury})
	}
	return out
}

func (e *Engine) resolveTreasuryID(ctx context.Context, users relationaldb.UserRepository) (int64, error) {
	if id := e.treasuryID.Load(); id != 0 {
		return id, nil
	}

	id, err := users.GetTreasuryID(ctx)
	if errors.Is(err, relationaldb.ErrTreasuryAbsent) {
		return 0, ErrMisconfigured
	}
	if err != nil {
		return 0, err
	}
	e.treasuryID.Store(id)
	return id, nil
}
