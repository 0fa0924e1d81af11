// Package rest exposes the referral and accrual operations over HTTP.
package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nikatrade/referrald/internal/core/accrual"
	"github.com/nikatrade/referrald/internal/core/money"
	"github.com/nikatrade/referrald/internal/core/referral"
	"github.com/nikatrade/referrald/internal/events"
	"github.com/nikatrade/referrald/internal/storage/relationaldb"
)

// Query parameter bounds and defaults.
const (
	defaultMaxLevels     = 3
	maxMaxLevels         = 5
	defaultLimitPerLevel = 50
	maxLimitPerLevel     = 500
	defaultBreakdown     = 50
	maxBreakdown         = 500

	// DefaultToken is assumed when a claim request omits the token.
	DefaultToken = "USDC"

	// statusRejected labels webhook deliveries the engine refused. Applied and
	// duplicate outcomes carry the engine's own status strings.
	statusRejected = "rejected"
)

// Handler routes the HTTP surface to the core services.
type Handler struct {
	referrals *referral.Service
	engine    *accrual.Engine
	store     relationaldb.Store
	publisher events.Publisher
	stream    http.Handler
	metrics   *Metrics
	registry  *prometheus.Registry
}

func NewHandler(referrals *referral.Service, engine *accrual.Engine, store relationaldb.Store, publisher events.Publisher, stream http.Handler) *Handler {
	registry := prometheus.NewRegistry()

	return &Handler{
		referrals: referrals,
		engine:    engine,
		store:     store,
		publisher: publisher,
		stream:    stream,
		metrics:   NewMetrics(registry),
		registry:  registry,
	}
}

// Routes builds the request mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/referral/register", h.withObservability("/api/referral/register", h.handleRegister))
	mux.HandleFunc("/api/referral/generate", h.withObservability("/api/referral/generate", h.handleGenerate))
	mux.HandleFunc("/api/webhook/trade", h.withObservability("/api/webhook/trade", h.handleTradeWebhook))
	mux.HandleFunc("/api/referral/network", h.withObservability("/api/referral/network", h.handleNetwork))
	mux.HandleFunc("/api/referral/earnings", h.withObservability("/api/referral/earnings", h.handleEarnings))
	mux.HandleFunc("/api/referral/claim", h.withObservability("/api/referral/claim", h.handleClaimPreview))
	mux.HandleFunc("/api/referral/claim/execute", h.withObservability("/api/referral/claim/execute", h.handleClaimExecute))

	if h.stream != nil {
		mux.Handle("/api/referral/stream", h.stream)
	}
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))

	return mux
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Detail: "method not allowed"})
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		badRequest(w, "malformed JSON body")
		return false
	}
	return true
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ChildUserID <= 0 || req.ReferralCode == "" {
		badRequest(w, "child_user_id and referral_code are required")
		return
	}

	parentID, err := h.referrals.AssignReferrer(r.Context(), req.ChildUserID, req.ReferralCode)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, registerResponse{
		Status:   "linked",
		ChildID:  req.ChildUserID,
		ParentID: parentID,
	})
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID <= 0 {
		badRequest(w, "user_id is required")
		return
	}

	code, err := h.referrals.GetOrAssignCode(r.Context(), req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, generateResponse{UserID: req.UserID, ReferralCode: code})
}

func (h *Handler) handleTradeWebhook(w http.ResponseWriter, r *http.Request) {
	var req tradeWebhookRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TradeID == "" || req.Chain == "" || req.FeeToken == "" || req.TraderID <= 0 {
		badRequest(w, "trade_id, trader_id, chain and fee_token are required")
		return
	}
	if req.ExecutedAt.IsZero() {
		badRequest(w, "executed_at is required")
		return
	}

	fee, err := money.ParseNonNegative(req.FeeAmount)
	if err != nil {
		badRequest(w, "fee_amount must be a non-negative decimal")
		return
	}

	result, err := h.engine.Ingest(r.Context(), accrual.TradeEvent{
		TradeID:    req.TradeID,
		TraderID:   req.TraderID,
		Chain:      req.Chain,
		FeeToken:   req.FeeToken,
		FeeAmount:  fee,
		ExecutedAt: req.ExecutedAt,
	})
	if err != nil {
		h.metrics.TradesIngested.WithLabelValues(statusRejected).Inc()
		writeError(w, err)
		return
	}

	h.metrics.TradesIngested.WithLabelValues(result.Status).Inc()

	resp := tradeWebhookResponse{Status: result.Status, TradeID: result.TradeID}
	if result.Status == accrual.StatusApplied {
		resp.Lineage = result.Lineage
		resp.Splits = newSplitsPayload(result.Splits)

		if h.publisher != nil {
			h.publisher.PublishTradeApplied(&events.TradeAppliedEvent{
				TradeID:   result.TradeID,
				Chain:     req.Chain,
				TraderID:  req.TraderID,
				FeeToken:  req.FeeToken,
				FeeAmount: money.Format(fee),
				Splits: map[string]string{
					string(relationaldb.KindCashback):     resp.Splits.Cashback,
					string(relationaldb.KindCommissionL1): resp.Splits.L1,
					string(relationaldb.KindCommissionL2): resp.Splits.L2,
					string(relationaldb.KindCommissionL3): resp.Splits.L3,
					string(relationaldb.KindTreasury):     resp.Splits.Treasury,
				},
				ExecutedAt: req.ExecutedAt,
			})
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleNetwork(w http.ResponseWriter, r *http.Request) {
	userID, ok := queryInt64(w, r, "user_id")
	if !ok {
		return
	}

	maxLevels, ok := queryBounded(w, r, "max_levels", defaultMaxLevels, 1, maxMaxLevels)
	if !ok {
		return
	}
	limit, ok := queryBounded(w, r, "limit_per_level", defaultLimitPerLevel, 1, maxLimitPerLevel)
	if !ok {
		return
	}

	levels, err := h.referrals.Downline(r.Context(), userID, maxLevels, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newNetworkResponse(userID, maxLevels, limit, levels))
}

func (h *Handler) handleEarnings(w http.ResponseWriter, r *http.Request) {
	userID, ok := queryInt64(w, r, "user_id")
	if !ok {
		return
	}

	from, ok := queryTime(w, r, "from")
	if !ok {
		return
	}
	to, ok := queryTime(w, r, "to")
	if !ok {
		return
	}
	if from != nil && to != nil && !from.Before(*to) {
		badRequest(w, "from must precede to")
		return
	}

	breakdownLimit := 0
	if queryBool(r, "include_breakdown") {
		breakdownLimit, ok = queryBounded(w, r, "breakdown_limit", defaultBreakdown, 1, maxBreakdown)
		if !ok {
			return
		}
	}

	view, err := h.engine.Earnings(r.Context(), userID, from, to, breakdownLimit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newEarningsResponse(view))
}

func (h *Handler) handleClaimPreview(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID <= 0 {
		badRequest(w, "user_id is required")
		return
	}
	if req.Token == "" {
		req.Token = DefaultToken
	}

	preview, err := h.engine.PreviewClaim(r.Context(), req.UserID, req.Token)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, claimPreviewResponse{
		UserID:    preview.UserID,
		Token:     preview.Token,
		Claimable: money.Format(preview.Total),
		Kinds:     formatKindAmounts(preview.PerKind),
	})
}

func (h *Handler) handleClaimExecute(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID <= 0 {
		badRequest(w, "user_id is required")
		return
	}
	if req.Token == "" {
		req.Token = DefaultToken
	}

	receipt, err := h.engine.ExecuteClaim(r.Context(), req.UserID, req.Token)
	if err != nil {
		writeError(w, err)
		return
	}

	h.metrics.ClaimsExecuted.Inc()
	h.metrics.ClaimedAmount.WithLabelValues(receipt.Token).Add(receipt.Amount.InexactFloat64())

	writeJSON(w, http.StatusOK, claimExecuteResponse{
		BatchID:   receipt.BatchID,
		UserID:    receipt.UserID,
		Token:     receipt.Token,
		Amount:    money.Format(receipt.Amount),
		Status:    receipt.Status,
		PerKind:   formatKindAmounts(receipt.PerKind),
		CreatedAt: receipt.CreatedAt,
	})
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func queryInt64(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		badRequest(w, name+" is required")
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		badRequest(w, name+" must be a positive integer")
		return 0, false
	}
	return v, true
}

func queryBounded(w http.ResponseWriter, r *http.Request, name string, def, min, max int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		badRequest(w, name+" must be between "+strconv.Itoa(min)+" and "+strconv.Itoa(max))
		return 0, false
	}
	return v, true
}

func queryBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

func queryTime(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		// Date-only bounds are midnight UTC.
		t, err = time.Parse("2006-01-02", raw)
	}
	if err != nil {
		badRequest(w, name+" must be an RFC 3339 timestamp or a YYYY-MM-DD date")
		return nil, false
	}
	return &t, true
}
