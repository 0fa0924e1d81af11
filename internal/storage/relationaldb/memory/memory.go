// Package memory provides an in-memory Store used by unit tests of the core
// services. Transactions snapshot the whole state on Begin and restore it on
// Rollback; that is enough fidelity for single-goroutine tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nikatrade/referrald/internal/storage/relationaldb"
)

type ledgerKey struct {
	userID int64
	kind   relationaldb.Kind
	token  string
}

type tradeKey struct {
	tradeID string
	chain   string
}

type state struct {
	users       map[int64]*relationaldb.User
	tradesByKey map[tradeKey]int64
	tradesByID  map[int64]*relationaldb.Trade
	entries     []relationaldb.AccrualEntry
	ledger      map[ledgerKey]*relationaldb.LedgerRow
	batches     map[int64]*relationaldb.PayoutBatch

	nextUserID  int64
	nextTradeID int64
	nextEntryID int64
	nextBatchID int64
}

func newState() *state {
	return &state{
		users:       make(map[int64]*relationaldb.User),
		tradesByKey: make(map[tradeKey]int64),
		tradesByID:  make(map[int64]*relationaldb.Trade),
		ledger:      make(map[ledgerKey]*relationaldb.LedgerRow),
		batches:     make(map[int64]*relationaldb.PayoutBatch),
		nextUserID:  1,
		nextTradeID: 1,
		nextEntryID: 1,
		nextBatchID: 1,
	}
}

func (s *state) clone() *state {
	c := newState()
	c.nextUserID = s.nextUserID
	c.nextTradeID = s.nextTradeID
	c.nextEntryID = s.nextEntryID
	c.nextBatchID = s.nextBatchID

	for id, u := range s.users {
		cu := *u
		if u.ReferrerID != nil {
			ref := *u.ReferrerID
			cu.ReferrerID = &ref
		}
		c.users[id] = &cu
	}
	for k, id := range s.tradesByKey {
		c.tradesByKey[k] = id
	}
	for id, t := range s.tradesByID {
		ct := *t
		c.tradesByID[id] = &ct
	}
	c.entries = append(c.entries, s.entries...)
	for k, r := range s.ledger {
		cr := *r
		c.ledger[k] = &cr
	}
	for id, b := range s.batches {
		cb := *b
		c.batches[id] = &cb
	}
	return c
}

// Store is the in-memory implementation of relationaldb.Store.
type Store struct {
	mu    sync.Mutex
	state *state
}

func NewStore() *Store {
	return &Store{state: newState()}
}

func (s *Store) Open(ctx context.Context) error  { return nil }
func (s *Store) Close(ctx context.Context) error { return nil }
func (s *Store) Ping(ctx context.Context) error  { return nil }

func (s *Store) Users() relationaldb.UserRepository   { return &userRepo{s} }
func (s *Store) Trades() relationaldb.TradeRepository { return &tradeRepo{s} }
func (s *Store) Entries() relationaldb.EntryRepository {
	return &entryRepo{s}
}
func (s *Store) Ledger() relationaldb.LedgerRepository { return &ledgerRepo{s} }
func (s *Store) Batches() relationaldb.BatchRepository { return &batchRepo{s} }

func (s *Store) Begin(ctx context.Context) (relationaldb.TransactionContext, error) {
	s.mu.Lock()
	snapshot := s.state.clone()
	s.mu.Unlock()

	return &txContext{store: s, snapshot: snapshot}, nil
}

func (s *Store) WithTransaction(ctx context.Context, fn func(relationaldb.TransactionContext) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

type txContext struct {
	store    *Store
	snapshot *state
	done     bool
}

func (t *txContext) Commit(ctx context.Context) error {
	if t.done {
		return relationaldb.ErrTransactionClosed
	}
	t.done = true
	return nil
}

func (t *txContext) Rollback(ctx context.Context) error {
	if t.done {
		return relationaldb.ErrTransactionClosed
	}
	t.done = true

	t.store.mu.Lock()
	t.store.state = t.snapshot
	t.store.mu.Unlock()
	return nil
}

func (t *txContext) Users() relationaldb.UserRepository   { return &userRepo{t.store} }
func (t *txContext) Trades() relationaldb.TradeRepository { return &tradeRepo{t.store} }
func (t *txContext) Entries() relationaldb.EntryRepository {
	return &entryRepo{t.store}
}
func (t *txContext) Ledger() relationaldb.LedgerRepository { return &ledgerRepo{t.store} }
func (t *txContext) Batches() relationaldb.BatchRepository { return &batchRepo{t.store} }

// AddUser seeds a user and returns it. Test helper, not part of the Store
// interface.
func (s *Store) AddUser(username string, referrerID *int64, isTreasury bool) *relationaldb.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := &relationaldb.User{
		ID:         s.state.nextUserID,
		Username:   username,
		ReferrerID: referrerID,
		IsTreasury: isTreasury,
		CreatedAt:  time.Now().UTC(),
	}
	s.state.nextUserID++
	s.state.users[u.ID] = u
	return u
}

type userRepo struct{ s *Store }

func copyUser(u *relationaldb.User) *relationaldb.User {
	c := *u
	if u.ReferrerID != nil {
		ref := *u.ReferrerID
		c.ReferrerID = &ref
	}
	return &c
}

func (r *userRepo) GetByID(ctx context.Context, id int64) (*relationaldb.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.state.users[id]
	if !ok {
		return nil, relationaldb.ErrUserNotFound
	}
	return copyUser(u), nil
}

func (r *userRepo) GetByReferralCode(ctx context.Context, code string) (*relationaldb.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.state.users {
		if u.ReferralCode == code && code != "" {
			return copyUser(u), nil
		}
	}
	return nil, relationaldb.ErrCodeNotFound
}

func (r *userRepo) GetReferrerID(ctx context.Context, id int64) (*int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.state.users[id]
	if !ok {
		return nil, relationaldb.ErrUserNotFound
	}
	if u.ReferrerID == nil {
		return nil, nil
	}
	ref := *u.ReferrerID
	return &ref, nil
}

func (r *userRepo) GetReferrerIDForUpdate(ctx context.Context, id int64) (*int64, error) {
	return r.GetReferrerID(ctx, id)
}

func (r *userRepo) SetReferrerID(ctx context.Context, childID, parentID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.state.users[childID]
	if !ok {
		return relationaldb.ErrUserNotFound
	}
	ref := parentID
	u.ReferrerID = &ref
	return nil
}

func (r *userRepo) SetReferralCode(ctx context.Context, id int64, code string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.state.users[id]
	if !ok {
		return relationaldb.ErrUserNotFound
	}
	if u.ReferralCode != "" {
		return relationaldb.ErrCodeAlreadyAssigned
	}
	u.ReferralCode = code
	return nil
}

func (r *userRepo) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.state.users {
		if u.ReferralCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (r *userRepo) GetTreasuryID(ctx context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.state.users {
		if u.IsTreasury {
			return u.ID, nil
		}
	}
	return 0, relationaldb.ErrTreasuryAbsent
}

func (r *userRepo) ListByReferrerIDs(ctx context.Context, parentIDs []int64, limit int) ([]relationaldb.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	parents := make(map[int64]bool, len(parentIDs))
	for _, id := range parentIDs {
		parents[id] = true
	}

	var result []relationaldb.User
	for _, u := range r.s.state.users {
		if u.ReferrerID != nil && parents[*u.ReferrerID] {
			result = append(result, *copyUser(u))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit >= 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

type tradeRepo struct{ s *Store }

func (r *tradeRepo) Insert(ctx context.Context, t *relationaldb.Trade) (int64, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := tradeKey{t.TradeID, t.Chain}
	if id, ok := r.s.state.tradesByKey[key]; ok {
		return id, false, nil
	}

	stored := *t
	stored.ID = r.s.state.nextTradeID
	r.s.state.nextTradeID++
	r.s.state.tradesByKey[key] = stored.ID
	r.s.state.tradesByID[stored.ID] = &stored
	return stored.ID, true, nil
}

func (r *tradeRepo) GetByKey(ctx context.Context, tradeID, chain string) (*relationaldb.Trade, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.state.tradesByKey[tradeKey{tradeID, chain}]
	if !ok {
		return nil, relationaldb.ErrTradeNotFound
	}
	t := *r.s.state.tradesByID[id]
	return &t, nil
}

type entryRepo struct{ s *Store }

func (r *entryRepo) Insert(ctx context.Context, e *relationaldb.AccrualEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored := *e
	stored.ID = r.s.state.nextEntryID
	r.s.state.nextEntryID++
	r.s.state.entries = append(r.s.state.entries, stored)
	return nil
}

func inWindow(ts time.Time, from, to *time.Time) bool {
	if from != nil && ts.Before(*from) {
		return false
	}
	if to != nil && !ts.Before(*to) {
		return false
	}
	return true
}

func (r *entryRepo) SumByKindInWindow(ctx context.Context, userID int64, from, to *time.Time) ([]relationaldb.KindSum, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	type sumKey struct {
		kind  relationaldb.Kind
		token string
	}
	sums := make(map[sumKey]decimal.Decimal)
	for _, e := range r.s.state.entries {
		if e.BeneficiaryUserID != userID || !inWindow(e.ExecutedAt, from, to) {
			continue
		}
		k := sumKey{e.Kind, e.Token}
		sums[k] = sums[k].Add(e.Amount)
	}

	var result []relationaldb.KindSum
	for k, amount := range sums {
		result = append(result, relationaldb.KindSum{Kind: k.kind, Token: k.token, Amount: amount})
	}
	return result, nil
}

func (r *entryRepo) ListBreakdown(ctx context.Context, userID int64, from, to *time.Time, limit int) ([]relationaldb.BreakdownEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var result []relationaldb.BreakdownEntry
	for _, e := range r.s.state.entries {
		if e.BeneficiaryUserID != userID || !inWindow(e.ExecutedAt, from, to) {
			continue
		}
		t := r.s.state.tradesByID[e.TradeRef]
		result = append(result, relationaldb.BreakdownEntry{
			TradeID:    t.TradeID,
			Chain:      e.Chain,
			Kind:       e.Kind,
			Token:      e.Token,
			Amount:     e.Amount,
			ExecutedAt: e.ExecutedAt,
		})
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ExecutedAt.After(result[j].ExecutedAt)
	})

	if limit >= 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *entryRepo) SumForLedgerKey(ctx context.Context, userID int64, kind relationaldb.Kind, token string) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sum := decimal.Zero
	for _, e := range r.s.state.entries {
		if e.BeneficiaryUserID == userID && e.Kind == kind && e.Token == token {
			sum = sum.Add(e.Amount)
		}
	}
	return sum, nil
}

type ledgerRepo struct{ s *Store }

func (r *ledgerRepo) AddAccrued(ctx context.Context, userID int64, kind relationaldb.Kind, token string, delta decimal.Decimal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := ledgerKey{userID, kind, token}
	row, ok := r.s.state.ledger[key]
	if !ok {
		row = &relationaldb.LedgerRow{
			UserID:        userID,
			Kind:          kind,
			Token:         token,
			AccruedAmount: decimal.Zero,
			ClaimedAmount: decimal.Zero,
		}
		r.s.state.ledger[key] = row
	}
	row.AccruedAmount = row.AccruedAmount.Add(delta)
	row.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *ledgerRepo) list(userID int64, token string, allTokens bool) []relationaldb.LedgerRow {
	var result []relationaldb.LedgerRow
	for _, row := range r.s.state.ledger {
		if row.UserID != userID {
			continue
		}
		if !allTokens && row.Token != token {
			continue
		}
		result = append(result, *row)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Token != result[j].Token {
			return result[i].Token < result[j].Token
		}
		return result[i].Kind < result[j].Kind
	})
	return result
}

func (r *ledgerRepo) ListByUser(ctx context.Context, userID int64) ([]relationaldb.LedgerRow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.list(userID, "", true), nil
}

func (r *ledgerRepo) ListByUserToken(ctx context.Context, userID int64, token string) ([]relationaldb.LedgerRow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.list(userID, token, false), nil
}

func (r *ledgerRepo) ListByUserTokenForUpdate(ctx context.Context, userID int64, token string) ([]relationaldb.LedgerRow, error) {
	return r.ListByUserToken(ctx, userID, token)
}

func (r *ledgerRepo) SettleClaimed(ctx context.Context, userID int64, token string, kinds []relationaldb.Kind) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	settle := make(map[relationaldb.Kind]bool, len(kinds))
	for _, k := range kinds {
		settle[k] = true
	}

	for _, row := range r.s.state.ledger {
		if row.UserID == userID && row.Token == token && settle[row.Kind] {
			row.ClaimedAmount = row.AccruedAmount
			row.UpdatedAt = time.Now().UTC()
		}
	}
	return nil
}

type batchRepo struct{ s *Store }

func (r *batchRepo) Insert(ctx context.Context, b *relationaldb.PayoutBatch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if b.Status == "" {
		b.Status = relationaldb.BatchStatusPending
	}
	b.ID = r.s.state.nextBatchID
	r.s.state.nextBatchID++
	b.CreatedAt = time.Now().UTC()

	stored := *b
	r.s.state.batches[b.ID] = &stored
	return nil
}

func (r *batchRepo) GetByID(ctx context.Context, id int64) (*relationaldb.PayoutBatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.state.batches[id]
	if !ok {
		return nil, relationaldb.ErrBatchNotFound
	}
	c := *b
	return &c, nil
}

func (r *batchRepo) MarkStatus(ctx context.Context, id int64, status string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.state.batches[id]
	if !ok {
		return relationaldb.ErrBatchNotFound
	}
	b.Status = status
	return nil
}
