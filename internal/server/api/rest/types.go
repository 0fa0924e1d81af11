package rest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/nikatrade/referrald/internal/core/accrual"
	"github.com/nikatrade/referrald/internal/core/fees"
	"github.com/nikatrade/referrald/internal/core/money"
	"github.com/nikatrade/referrald/internal/core/referral"
	"github.com/nikatrade/referrald/internal/storage/relationaldb"
)

// All monetary fields are rendered as strings with exactly six fractional
// digits; timestamps are RFC 3339.

type registerRequest struct {
	ChildUserID  int64  `json:"child_user_id"`
	ReferralCode string `json:"referral_code"`
}

type registerResponse struct {
	Status   string `json:"status"`
	ChildID  int64  `json:"child_id"`
	ParentID int64  `json:"parent_id"`
}

type generateRequest struct {
	UserID int64 `json:"user_id"`
}

type generateResponse struct {
	UserID       int64  `json:"user_id"`
	ReferralCode string `json:"referral_code"`
}

type tradeWebhookRequest struct {
	TradeID    string    `json:"trade_id"`
	TraderID   int64     `json:"trader_id"`
	Chain      string    `json:"chain"`
	FeeToken   string    `json:"fee_token"`
	FeeAmount  string    `json:"fee_amount"`
	ExecutedAt time.Time `json:"executed_at"`
}

type splitsPayload struct {
	Cashback string `json:"cashback"`
	L1       string `json:"l1"`
	L2       string `json:"l2"`
	L3       string `json:"l3"`
	Treasury string `json:"treasury"`
}

type tradeWebhookResponse struct {
	Status  string         `json:"status"`
	TradeID string         `json:"trade_id"`
	Lineage []*int64       `json:"lineage,omitempty"`
	Splits  *splitsPayload `json:"splits,omitempty"`
}

func newSplitsPayload(s fees.Splits) *splitsPayload {
	return &splitsPayload{
		Cashback: money.Format(s.Cashback),
		L1:       money.Format(s.Commissions[0]),
		L2:       money.Format(s.Commissions[1]),
		L3:       money.Format(s.Commissions[2]),
		Treasury: money.Format(s.Treasury),
	}
}

type networkUser struct {
	UserID     int64     `json:"user_id"`
	Username   string    `json:"username"`
	JoinedAt   time.Time `json:"joined_at"`
	ReferrerID *int64    `json:"referrer_id"`
}

type networkLevel struct {
	Level int           `json:"level"`
	Users []networkUser `json:"users"`
}

type networkResponse struct {
	UserID        int64          `json:"user_id"`
	MaxLevels     int            `json:"max_levels"`
	LimitPerLevel int            `json:"limit_per_level"`
	Levels        []networkLevel `json:"levels"`
}

func newNetworkResponse(userID int64, maxLevels, limitPerLevel int, levels []referral.Level) *networkResponse {
	resp := &networkResponse{
		UserID:        userID,
		MaxLevels:     maxLevels,
		LimitPerLevel: limitPerLevel,
		Levels:        make([]networkLevel, 0, len(levels)),
	}
	for _, lvl := range levels {
		nl := networkLevel{Level: lvl.Level, Users: make([]networkUser, 0, len(lvl.Users))}
		for _, u := range lvl.Users {
			nl.Users = append(nl.Users, networkUser{
				UserID:     u.ID,
				Username:   u.Username,
				JoinedAt:   u.CreatedAt,
				ReferrerID: u.ReferrerID,
			})
		}
		resp.Levels = append(resp.Levels, nl)
	}
	return resp
}

type earningsRange struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

type breakdownPayload struct {
	TradeID    string    `json:"trade_id"`
	Chain      string    `json:"chain"`
	Kind       string    `json:"kind"`
	Token      string    `json:"token"`
	Amount     string    `json:"amount"`
	ExecutedAt time.Time `json:"executed_at"`
}

type earningsResponse struct {
	UserID    int64              `json:"user_id"`
	Token     string             `json:"token"`
	Totals    map[string]string  `json:"totals"`
	Claimed   map[string]string  `json:"claimed"`
	Unclaimed map[string]string  `json:"unclaimed"`
	Range     *earningsRange     `json:"range,omitempty"`
	Breakdown []breakdownPayload `json:"breakdown,omitempty"`
}

func newEarningsResponse(view *accrual.EarningsView) *earningsResponse {
	resp := &earningsResponse{
		UserID:    view.UserID,
		Token:     view.Token,
		Totals:    make(map[string]string, len(view.Kinds)),
		Claimed:   make(map[string]string, len(view.Kinds)),
		Unclaimed: make(map[string]string, len(view.Kinds)),
	}
	if resp.Token == "" {
		resp.Token = DefaultToken
	}
	for kind, totals := range view.Kinds {
		resp.Totals[string(kind)] = money.Format(totals.Total)
		resp.Claimed[string(kind)] = money.Format(totals.Claimed)
		resp.Unclaimed[string(kind)] = money.Format(totals.Unclaimed)
	}
	if view.Windowed() {
		resp.Range = &earningsRange{From: view.From, To: view.To}
	}
	for _, e := range view.Breakdown {
		resp.Breakdown = append(resp.Breakdown, breakdownPayload{
			TradeID:    e.TradeID,
			Chain:      e.Chain,
			Kind:       string(e.Kind),
			Token:      e.Token,
			Amount:     money.Format(e.Amount),
			ExecutedAt: e.ExecutedAt,
		})
	}
	return resp
}

type claimRequest struct {
	UserID int64  `json:"user_id"`
	Token  string `json:"token"`
}

type claimPreviewResponse struct {
	UserID    int64             `json:"user_id"`
	Token     string            `json:"token"`
	Claimable string            `json:"claimable"`
	Kinds     map[string]string `json:"kinds"`
}

type claimExecuteResponse struct {
	BatchID   int64             `json:"batch_id"`
	UserID    int64             `json:"user_id"`
	Token     string            `json:"token"`
	Amount    string            `json:"amount"`
	Status    string            `json:"status"`
	PerKind   map[string]string `json:"per_kind"`
	CreatedAt time.Time         `json:"created_at"`
}

func formatKindAmounts(perKind map[relationaldb.Kind]decimal.Decimal) map[string]string {
	out := make(map[string]string, len(perKind))
	for kind, amount := range perKind {
		out[string(kind)] = money.Format(amount)
	}
	return out
}

type errorResponse struct {
	Detail string `json:"detail"`
}
