package accrual

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nikatrade/referrald/internal/storage/relationaldb"
)

// KindTotals is one kind's line in an earnings view.
type KindTotals struct {
	Total     decimal.Decimal
	Claimed   decimal.Decimal
	Unclaimed decimal.Decimal
}

// EarningsView is a user's earnings, either all-time (from the ledger) or
// restricted to a [from, to) window (from the journal). Kinds is zero-filled
// for every known kind. Token is the fee token the totals are denominated in,
// taken from the first aggregated row; empty when the user has no accruals.
type EarningsView struct {
	UserID    int64
	Token     string
	From      *time.Time
	To        *time.Time
	Kinds     map[relationaldb.Kind]KindTotals
	Breakdown []relationaldb.BreakdownEntry
}

// Windowed reports whether the view was computed over a time window.
func (v *EarningsView) Windowed() bool {
	return v.From != nil || v.To != nil
}

// Earnings builds the earnings view for a user. When either window bound is
// set, totals come from the journal and claimed is zero: claims are not
// time-indexed, and the view refuses to attribute them to windows. Otherwise
// totals come straight off the ledger.
func (e *Engine) Earnings(ctx context.Context, userID int64, from, to *time.Time, breakdownLimit int) (*EarningsView, error) {
	if _, err := e.store.Users().GetByID(ctx, userID); err != nil {
		return nil, err
	}

	view := &EarningsView{
		UserID: userID,
		From:   from,
		To:     to,
		Kinds:  make(map[relationaldb.Kind]KindTotals, len(relationaldb.KnownKinds())),
	}
	for _, k := range relationaldb.KnownKinds() {
		view.Kinds[k] = KindTotals{
			Total:     decimal.Zero,
			Claimed:   decimal.Zero,
			Unclaimed: decimal.Zero,
		}
	}

	if view.Windowed() {
		sums, err := e.store.Entries().SumByKindInWindow(ctx, userID, from, to)
		if err != nil {
			return nil, err
		}
		for _, s := range sums {
			if view.Token == "" {
				view.Token = s.Token
			}
			kt := view.Kinds[s.Kind]
			kt.Total = kt.Total.Add(s.Amount)
			kt.Unclaimed = kt.Unclaimed.Add(s.Amount)
			view.Kinds[s.Kind] = kt
		}
	} else {
		rows, err := e.store.Ledger().ListByUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if view.Token == "" {
				view.Token = row.Token
			}
			kt := view.Kinds[row.Kind]
			kt.Total = kt.Total.Add(row.AccruedAmount)
			kt.Claimed = kt.Claimed.Add(row.ClaimedAmount)
			kt.Unclaimed = kt.Unclaimed.Add(row.AccruedAmount.Sub(row.ClaimedAmount))
			view.Kinds[row.Kind] = kt
		}
	}

	if breakdownLimit > 0 {
		breakdown, err := e.store.Entries().ListBreakdown(ctx, userID, from, to, breakdownLimit)
		if err != nil {
			return nil, err
		}
		view.Breakdown = breakdown
	}

	return view, nil
}
