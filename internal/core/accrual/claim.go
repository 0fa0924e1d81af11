package accrual

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nikatrade/referrald/internal/storage/relationaldb"
)

// ClaimPreview is the lock-free view of what a claim would settle.
type ClaimPreview struct {
	UserID  int64
	Token   string
	Total   decimal.Decimal
	PerKind map[relationaldb.Kind]decimal.Decimal
}

// ClaimReceipt is the outcome of a settled claim.
type ClaimReceipt struct {
	BatchID   int64
	UserID    int64
	Token     string
	Amount    decimal.Decimal
	Status    string
	PerKind   map[relationaldb.Kind]decimal.Decimal
	CreatedAt time.Time
}

// claimable sums the unclaimed balance of the claimable kinds. Treasury rows
// are excluded; the treasury sink is settled out of band.
func claimable(rows []relationaldb.LedgerRow) (decimal.Decimal, map[relationaldb.Kind]decimal.Decimal) {
	eligible := make(map[relationaldb.Kind]bool)
	for _, k := range relationaldb.ClaimableKinds() {
		eligible[k] = true
	}

	total := decimal.Zero
	perKind := make(map[relationaldb.Kind]decimal.Decimal)
	for _, row := range rows {
		if !eligible[row.Kind] {
			continue
		}
		unclaimed := row.AccruedAmount.Sub(row.ClaimedAmount)
		if !unclaimed.IsPositive() {
			continue
		}
		total = total.Add(unclaimed)
		perKind[row.Kind] = perKind[row.Kind].Add(unclaimed)
	}
	return total, perKind
}

// PreviewClaim reports the claimable balance without locking or writing.
func (e *Engine) PreviewClaim(ctx context.Context, userID int64, token string) (*ClaimPreview, error) {
	rows, err := e.store.Ledger().ListByUserToken(ctx, userID, token)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoBalance
	}

	total, perKind := claimable(rows)
	if !total.IsPositive() {
		return nil, ErrNothingToClaim
	}

	return &ClaimPreview{UserID: userID, Token: token, Total: total, PerKind: perKind}, nil
}

// ExecuteClaim settles a user's unclaimed balance for one token and records a
// pending payout batch, all in one transaction. The FOR UPDATE read in step
// one is the serialization point: of two concurrent claims, the loser sees
// fully-claimed rows and fails with ErrNothingToClaim.
func (e *Engine) ExecuteClaim(ctx context.Context, userID int64, token string) (*ClaimReceipt, error) {
	var receipt *ClaimReceipt

	err := e.store.WithTransaction(ctx, func(tx relationaldb.TransactionContext) error {
		rows, err := tx.Ledger().ListByUserTokenForUpdate(ctx, userID, token)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return ErrNoBalance
		}

		total, perKind := claimable(rows)
		if !total.IsPositive() {
			return ErrNothingToClaim
		}

		if err := tx.Ledger().SettleClaimed(ctx, userID, token, relationaldb.ClaimableKinds()); err != nil {
			return err
		}

		batch := &relationaldb.PayoutBatch{
			UserID: userID,
			Token:  token,
			Amount: total,
			Status: relationaldb.BatchStatusPending,
		}
		if err := tx.Batches().Insert(ctx, batch); err != nil {
			return err
		}

		receipt = &ClaimReceipt{
			BatchID:   batch.ID,
			UserID:    userID,
			Token:     token,
			Amount:    total,
			Status:    batch.Status,
			PerKind:   perKind,
			CreatedAt: batch.CreatedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}
