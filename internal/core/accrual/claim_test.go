package accrual

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikatrade/referrald/internal/storage/relationaldb"
)

func TestClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.Ingest(ctx, event("T1", f.d.ID, "200.000000"))
	require.NoError(t, err)

	// c earned a level-1 commission of 60.
	preview, err := f.engine.PreviewClaim(ctx, f.c.ID, "USDC")
	require.NoError(t, err)
	assert.Equal(t, "60.000000", preview.Total.StringFixed(6))
	assert.Equal(t, "60.000000", preview.PerKind[relationaldb.KindCommissionL1].StringFixed(6))

	receipt, err := f.engine.ExecuteClaim(ctx, f.c.ID, "USDC")
	require.NoError(t, err)
	assert.NotZero(t, receipt.BatchID)
	assert.Equal(t, "60.000000", receipt.Amount.StringFixed(6))
	assert.Equal(t, relationaldb.BatchStatusPending, receipt.Status)
	assert.Equal(t, "60.000000", receipt.PerKind[relationaldb.KindCommissionL1].StringFixed(6))
	assert.False(t, receipt.CreatedAt.IsZero())

	batch, err := f.store.Batches().GetByID(ctx, receipt.BatchID)
	require.NoError(t, err)
	assert.Equal(t, f.c.ID, batch.UserID)
	assert.Equal(t, "60.000000", batch.Amount.StringFixed(6))

	// Claim exhaustion: nothing left immediately after.
	_, err = f.engine.PreviewClaim(ctx, f.c.ID, "USDC")
	assert.ErrorIs(t, err, ErrNothingToClaim)

	_, err = f.engine.ExecuteClaim(ctx, f.c.ID, "USDC")
	assert.ErrorIs(t, err, ErrNothingToClaim)
}

func TestClaimNoBalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.PreviewClaim(ctx, f.c.ID, "USDC")
	assert.ErrorIs(t, err, ErrNoBalance)

	_, err = f.engine.ExecuteClaim(ctx, f.c.ID, "USDC")
	assert.ErrorIs(t, err, ErrNoBalance)
}

func TestClaimUnknownToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.Ingest(ctx, event("T1", f.d.ID, "200.000000"))
	require.NoError(t, err)

	_, err = f.engine.ExecuteClaim(ctx, f.c.ID, "WETH")
	assert.ErrorIs(t, err, ErrNoBalance)
}

func TestClaimExcludesTreasuryKind(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.Ingest(ctx, event("T1", f.d.ID, "200.000000"))
	require.NoError(t, err)

	// The treasury user holds only treasury-kind rows; those are not
	// claimable.
	_, err = f.engine.ExecuteClaim(ctx, f.treasury.ID, "USDC")
	assert.ErrorIs(t, err, ErrNothingToClaim)

	rows, err := f.store.Ledger().ListByUser(ctx, f.treasury.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].ClaimedAmount.IsZero(), "treasury rows must stay untouched")
}

func TestClaimAccumulatesAcrossTrades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.Ingest(ctx, event("T1", f.d.ID, "200.000000"))
	require.NoError(t, err)
	_, err = f.engine.Ingest(ctx, event("T2", f.d.ID, "100.000000"))
	require.NoError(t, err)

	// d claims cashback from both trades: 20 + 10.
	receipt, err := f.engine.ExecuteClaim(ctx, f.d.ID, "USDC")
	require.NoError(t, err)
	assert.Equal(t, "30.000000", receipt.Amount.StringFixed(6))

	// New accruals after a claim are claimable again.
	_, err = f.engine.Ingest(ctx, event("T3", f.d.ID, "50.000000"))
	require.NoError(t, err)

	preview, err := f.engine.PreviewClaim(ctx, f.d.ID, "USDC")
	require.NoError(t, err)
	assert.Equal(t, "5.000000", preview.Total.StringFixed(6))
}
