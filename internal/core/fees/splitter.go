// Package fees computes the division of a trade fee between the trader's
// cashback, up to three upline commissions, and the treasury residual.
package fees

import (
	"github.com/shopspring/decimal"

	"github.com/nikatrade/referrald/internal/core/money"
)

// MaxLevels is the depth of the commission upline.
const MaxLevels = 3

// Rates applied to the fee, per bucket. Commission rates are indexed by
// lineage level (1-based).
var (
	CashbackRate = decimal.RequireFromString("0.10")

	commissionRates = [MaxLevels]decimal.Decimal{
		decimal.RequireFromString("0.30"),
		decimal.RequireFromString("0.03"),
		decimal.RequireFromString("0.02"),
	}
)

// Splits is the outcome of dividing one fee. All amounts are quantized at
// six fractional digits and sum exactly to the input fee.
type Splits struct {
	Cashback    decimal.Decimal
	Commissions [MaxLevels]decimal.Decimal
	Treasury    decimal.Decimal
}

// Compute divides fee between the buckets. present[i] reports whether the
// level-(i+1) ancestor exists; absent levels earn zero and their share stays
// in the treasury residual.
//
// Every beneficiary amount is truncated down, so the rounding error is
// non-negative and lands in Treasury: Cashback + ΣCommissions + Treasury
// equals fee exactly.
func Compute(fee decimal.Decimal, present [MaxLevels]bool) Splits {
	fee = money.Truncate(fee)

	s := Splits{
		Cashback: money.Truncate(fee.Mul(CashbackRate)),
	}

	paid := s.Cashback
	for i := 0; i < MaxLevels; i++ {
		if !present[i] {
			continue
		}
		s.Commissions[i] = money.Truncate(fee.Mul(commissionRates[i]))
		paid = paid.Add(s.Commissions[i])
	}

	s.Treasury = money.Truncate(fee.Sub(paid))
	return s
}

// Total returns the sum of every bucket.
func (s Splits) Total() decimal.Decimal {
	total := s.Cashback.Add(s.Treasury)
	for _, c := range s.Commissions {
		total = total.Add(c)
	}
	return total
}
