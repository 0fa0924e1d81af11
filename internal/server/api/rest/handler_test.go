package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikatrade/referrald/internal/core/accrual"
	"github.com/nikatrade/referrald/internal/core/referral"
	"github.com/nikatrade/referrald/internal/events"
	"github.com/nikatrade/referrald/internal/storage/relationaldb"
	"github.com/nikatrade/referrald/internal/storage/relationaldb/memory"
)

type testEnv struct {
	store   *memory.Store
	handler http.Handler

	treasury   *relationaldb.User
	a, b, c, d *relationaldb.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.NewStore()
	env := &testEnv{store: store}

	env.treasury = store.AddUser("treasury", nil, true)
	env.a = store.AddUser("a", nil, false)
	env.b = store.AddUser("b", &env.a.ID, false)
	env.c = store.AddUser("c", &env.b.ID, false)
	env.d = store.AddUser("d", &env.c.ID, false)

	h := NewHandler(
		referral.NewService(store),
		accrual.NewEngine(store),
		store,
		events.NopPublisher{},
		nil,
	)
	env.handler = h.Routes()
	return env
}

func (env *testEnv) post(t *testing.T, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

func (env *testEnv) ingest(t *testing.T, tradeID string, traderID int64, fee string) {
	t.Helper()
	env.ingestAt(t, tradeID, traderID, fee, "2025-01-01T12:00:00Z")
}

func (env *testEnv) ingestAt(t *testing.T, tradeID string, traderID int64, fee, executedAt string) {
	t.Helper()

	rec := env.post(t, "/api/webhook/trade", map[string]interface{}{
		"trade_id":    tradeID,
		"trader_id":   traderID,
		"chain":       "arbitrum",
		"fee_token":   "USDC",
		"fee_amount":  fee,
		"executed_at": executedAt,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRegisterEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	outsider := env.store.AddUser("outsider", nil, false)
	require.NoError(t, env.store.Users().SetReferralCode(ctx, env.a.ID, "REF_ROOT0001"))

	t.Run("links", func(t *testing.T) {
		rec := env.post(t, "/api/referral/register", map[string]interface{}{
			"child_user_id": outsider.ID,
			"referral_code": "REF_ROOT0001",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Status   string `json:"status"`
			ChildID  int64  `json:"child_id"`
			ParentID int64  `json:"parent_id"`
		}
		decode(t, rec, &resp)
		assert.Equal(t, "linked", resp.Status)
		assert.Equal(t, outsider.ID, resp.ChildID)
		assert.Equal(t, env.a.ID, resp.ParentID)
	})

	t.Run("unknown code", func(t *testing.T) {
		rec := env.post(t, "/api/referral/register", map[string]interface{}{
			"child_user_id": env.d.ID,
			"referral_code": "REF_NOPE0000",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var resp struct {
			Detail string `json:"detail"`
		}
		decode(t, rec, &resp)
		assert.NotEmpty(t, resp.Detail)
	})

	t.Run("already referred", func(t *testing.T) {
		rec := env.post(t, "/api/referral/register", map[string]interface{}{
			"child_user_id": env.b.ID,
			"referral_code": "REF_ROOT0001",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("cycle", func(t *testing.T) {
		require.NoError(t, env.store.Users().SetReferralCode(ctx, env.c.ID, "REF_CCCC0003"))
		rec := env.post(t, "/api/referral/register", map[string]interface{}{
			"child_user_id": env.a.ID,
			"referral_code": "REF_CCCC0003",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := env.post(t, "/api/referral/register", map[string]interface{}{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := env.get(t, "/api/referral/register")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestGenerateEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.post(t, "/api/referral/generate", map[string]interface{}{"user_id": env.a.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		UserID       int64  `json:"user_id"`
		ReferralCode string `json:"referral_code"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, env.a.ID, resp.UserID)
	assert.Regexp(t, `^REF_[A-Z0-9]{8}$`, resp.ReferralCode)

	// Idempotent.
	again := env.post(t, "/api/referral/generate", map[string]interface{}{"user_id": env.a.ID})
	var resp2 struct {
		ReferralCode string `json:"referral_code"`
	}
	decode(t, again, &resp2)
	assert.Equal(t, resp.ReferralCode, resp2.ReferralCode)

	missing := env.post(t, "/api/referral/generate", map[string]interface{}{"user_id": 9999})
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestTradeWebhookEndpoint(t *testing.T) {
	env := newTestEnv(t)

	payload := map[string]interface{}{
		"trade_id":    "T1",
		"trader_id":   env.d.ID,
		"chain":       "arbitrum",
		"fee_token":   "USDC",
		"fee_amount":  "200.000000",
		"executed_at": "2025-01-01T12:00:00Z",
	}

	t.Run("applied", func(t *testing.T) {
		rec := env.post(t, "/api/webhook/trade", payload)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp struct {
			Status  string   `json:"status"`
			TradeID string   `json:"trade_id"`
			Lineage []*int64 `json:"lineage"`
			Splits  struct {
				Cashback string `json:"cashback"`
				L1       string `json:"l1"`
				L2       string `json:"l2"`
				L3       string `json:"l3"`
				Treasury string `json:"treasury"`
			} `json:"splits"`
		}
		decode(t, rec, &resp)
		assert.Equal(t, "applied", resp.Status)
		assert.Equal(t, "T1", resp.TradeID)
		require.Len(t, resp.Lineage, 3)
		assert.Equal(t, env.c.ID, *resp.Lineage[0])
		assert.Equal(t, "20.000000", resp.Splits.Cashback)
		assert.Equal(t, "60.000000", resp.Splits.L1)
		assert.Equal(t, "6.000000", resp.Splits.L2)
		assert.Equal(t, "4.000000", resp.Splits.L3)
		assert.Equal(t, "110.000000", resp.Splits.Treasury)
	})

	t.Run("duplicate", func(t *testing.T) {
		rec := env.post(t, "/api/webhook/trade", payload)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Status string `json:"status"`
		}
		decode(t, rec, &resp)
		assert.Equal(t, "duplicate", resp.Status)
	})

	t.Run("unknown trader", func(t *testing.T) {
		bad := map[string]interface{}{
			"trade_id":    "T2",
			"trader_id":   9999,
			"chain":       "arbitrum",
			"fee_token":   "USDC",
			"fee_amount":  "200.000000",
			"executed_at": "2025-01-01T12:00:00Z",
		}
		rec := env.post(t, "/api/webhook/trade", bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("negative fee", func(t *testing.T) {
		bad := map[string]interface{}{
			"trade_id":    "T3",
			"trader_id":   env.d.ID,
			"chain":       "arbitrum",
			"fee_token":   "USDC",
			"fee_amount":  "-5",
			"executed_at": "2025-01-01T12:00:00Z",
		}
		rec := env.post(t, "/api/webhook/trade", bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestNetworkEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, fmt.Sprintf("/api/referral/network?user_id=%d", env.a.ID))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		UserID        int64 `json:"user_id"`
		MaxLevels     int   `json:"max_levels"`
		LimitPerLevel int   `json:"limit_per_level"`
		Levels        []struct {
			Level int `json:"level"`
			Users []struct {
				UserID   int64  `json:"user_id"`
				Username string `json:"username"`
			} `json:"users"`
		} `json:"levels"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, 3, resp.MaxLevels)
	assert.Equal(t, 50, resp.LimitPerLevel)
	require.Len(t, resp.Levels, 3)
	require.Len(t, resp.Levels[0].Users, 1)
	assert.Equal(t, env.b.ID, resp.Levels[0].Users[0].UserID)
	require.Len(t, resp.Levels[1].Users, 1)
	assert.Equal(t, env.c.ID, resp.Levels[1].Users[0].UserID)

	t.Run("bounds", func(t *testing.T) {
		rec := env.get(t, fmt.Sprintf("/api/referral/network?user_id=%d&max_levels=9", env.a.ID))
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = env.get(t, fmt.Sprintf("/api/referral/network?user_id=%d&limit_per_level=501", env.a.ID))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing user", func(t *testing.T) {
		rec := env.get(t, "/api/referral/network?user_id=9999")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing param", func(t *testing.T) {
		rec := env.get(t, "/api/referral/network")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestEarningsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.ingest(t, "T1", env.d.ID, "200.000000")

	t.Run("all time", func(t *testing.T) {
		rec := env.get(t, fmt.Sprintf("/api/referral/earnings?user_id=%d", env.c.ID))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Token     string            `json:"token"`
			Totals    map[string]string `json:"totals"`
			Claimed   map[string]string `json:"claimed"`
			Unclaimed map[string]string `json:"unclaimed"`
			Range     *struct{}         `json:"range"`
		}
		decode(t, rec, &resp)
		assert.Equal(t, "USDC", resp.Token)
		assert.Equal(t, "60.000000", resp.Totals["commission_l1"])
		assert.Equal(t, "0.000000", resp.Totals["cashback"])
		assert.Equal(t, "0.000000", resp.Claimed["commission_l1"])
		assert.Equal(t, "60.000000", resp.Unclaimed["commission_l1"])
		assert.Len(t, resp.Totals, 5, "all five kinds zero-filled")
		assert.Nil(t, resp.Range)
	})

	t.Run("windowed", func(t *testing.T) {
		rec := env.get(t, fmt.Sprintf(
			"/api/referral/earnings?user_id=%d&from=2024-12-01T00:00:00Z&to=2025-02-01T00:00:00Z", env.c.ID))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Totals  map[string]string      `json:"totals"`
			Claimed map[string]string      `json:"claimed"`
			Range   map[string]interface{} `json:"range"`
		}
		decode(t, rec, &resp)
		assert.Equal(t, "60.000000", resp.Totals["commission_l1"])
		assert.Equal(t, "0.000000", resp.Claimed["commission_l1"])
		assert.NotNil(t, resp.Range)
	})

	t.Run("window excludes trade", func(t *testing.T) {
		rec := env.get(t, fmt.Sprintf(
			"/api/referral/earnings?user_id=%d&from=2025-02-01T00:00:00Z", env.c.ID))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Totals map[string]string `json:"totals"`
		}
		decode(t, rec, &resp)
		assert.Equal(t, "0.000000", resp.Totals["commission_l1"])
	})

	t.Run("breakdown", func(t *testing.T) {
		rec := env.get(t, fmt.Sprintf(
			"/api/referral/earnings?user_id=%d&include_breakdown=true", env.c.ID))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Breakdown []struct {
				TradeID string `json:"trade_id"`
				Kind    string `json:"kind"`
				Amount  string `json:"amount"`
			} `json:"breakdown"`
		}
		decode(t, rec, &resp)
		require.Len(t, resp.Breakdown, 1)
		assert.Equal(t, "T1", resp.Breakdown[0].TradeID)
		assert.Equal(t, "commission_l1", resp.Breakdown[0].Kind)
		assert.Equal(t, "60.000000", resp.Breakdown[0].Amount)
	})

	t.Run("date only window", func(t *testing.T) {
		// Second trade a month after T1; a date-only window straddling only
		// the second must count exactly one commission.
		env.ingestAt(t, "T2", env.d.ID, "200.000000", "2025-02-01T12:00:00Z")

		rec := env.get(t, fmt.Sprintf(
			"/api/referral/earnings?user_id=%d&from=2025-01-15&to=2025-02-15", env.c.ID))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp struct {
			Totals map[string]string `json:"totals"`
		}
		decode(t, rec, &resp)
		assert.Equal(t, "60.000000", resp.Totals["commission_l1"])
		assert.Equal(t, "0.000000", resp.Totals["cashback"])
	})

	t.Run("token follows accrual denomination", func(t *testing.T) {
		fresh := newTestEnv(t)
		rec := fresh.post(t, "/api/webhook/trade", map[string]interface{}{
			"trade_id":    "W1",
			"trader_id":   fresh.d.ID,
			"chain":       "arbitrum",
			"fee_token":   "WETH",
			"fee_amount":  "1.000000",
			"executed_at": "2025-01-01T12:00:00Z",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = fresh.get(t, fmt.Sprintf("/api/referral/earnings?user_id=%d", fresh.c.ID))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Token string `json:"token"`
		}
		decode(t, rec, &resp)
		assert.Equal(t, "WETH", resp.Token)
	})

	t.Run("token defaults without accruals", func(t *testing.T) {
		loner := env.store.AddUser("loner", nil, false)

		rec := env.get(t, fmt.Sprintf("/api/referral/earnings?user_id=%d", loner.ID))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Token  string            `json:"token"`
			Totals map[string]string `json:"totals"`
		}
		decode(t, rec, &resp)
		assert.Equal(t, "USDC", resp.Token)
		assert.Equal(t, "0.000000", resp.Totals["cashback"])
	})

	t.Run("inverted window", func(t *testing.T) {
		rec := env.get(t, fmt.Sprintf(
			"/api/referral/earnings?user_id=%d&from=2025-03-01T00:00:00Z&to=2025-01-01T00:00:00Z", env.c.ID))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad timestamp", func(t *testing.T) {
		rec := env.get(t, fmt.Sprintf("/api/referral/earnings?user_id=%d&from=yesterday", env.c.ID))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestClaimEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.ingest(t, "T1", env.d.ID, "200.000000")

	t.Run("preview", func(t *testing.T) {
		rec := env.post(t, "/api/referral/claim", map[string]interface{}{"user_id": env.c.ID})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp struct {
			Token     string            `json:"token"`
			Claimable string            `json:"claimable"`
			Kinds     map[string]string `json:"kinds"`
		}
		decode(t, rec, &resp)
		assert.Equal(t, DefaultToken, resp.Token, "token defaults to USDC")
		assert.Equal(t, "60.000000", resp.Claimable)
		assert.Equal(t, "60.000000", resp.Kinds["commission_l1"])
	})

	t.Run("execute", func(t *testing.T) {
		rec := env.post(t, "/api/referral/claim/execute", map[string]interface{}{
			"user_id": env.c.ID,
			"token":   "USDC",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp struct {
			BatchID   int64             `json:"batch_id"`
			Amount    string            `json:"amount"`
			Status    string            `json:"status"`
			PerKind   map[string]string `json:"per_kind"`
			CreatedAt string            `json:"created_at"`
		}
		decode(t, rec, &resp)
		assert.NotZero(t, resp.BatchID)
		assert.Equal(t, "60.000000", resp.Amount)
		assert.Equal(t, "pending", resp.Status)
		assert.Equal(t, "60.000000", resp.PerKind["commission_l1"])
		assert.NotEmpty(t, resp.CreatedAt)
	})

	t.Run("exhausted", func(t *testing.T) {
		rec := env.post(t, "/api/referral/claim", map[string]interface{}{"user_id": env.c.ID})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = env.post(t, "/api/referral/claim/execute", map[string]interface{}{"user_id": env.c.ID})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no balance", func(t *testing.T) {
		stranger := env.store.AddUser("stranger", nil, false)
		rec := env.post(t, "/api/referral/claim", map[string]interface{}{"user_id": stranger.ID})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHealthzEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status string `json:"status"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, "ok", resp.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.ingest(t, "T1", env.d.ID, "200.000000")

	// A delivery for an unknown trader is refused but still counted.
	rec := env.post(t, "/api/webhook/trade", map[string]interface{}{
		"trade_id":    "T2",
		"trader_id":   9999,
		"chain":       "arbitrum",
		"fee_token":   "USDC",
		"fee_amount":  "200.000000",
		"executed_at": "2025-01-01T12:00:00Z",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `referrald_trades_ingested_total{status="applied"} 1`)
	assert.Contains(t, body, `referrald_trades_ingested_total{status="rejected"} 1`)
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, fmt.Sprintf("/api/referral/network?user_id=%d", env.a.ID))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
