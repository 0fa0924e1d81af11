package referral

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikatrade/referrald/internal/storage/relationaldb"
	"github.com/nikatrade/referrald/internal/storage/relationaldb/memory"
)

func TestAssignReferrer(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*memory.Store, *Service) {
		store := memory.NewStore()
		return store, NewService(store)
	}

	t.Run("links child to code owner", func(t *testing.T) {
		store, svc := setup(t)
		parent := store.AddUser("alice", nil, false)
		child := store.AddUser("bob", nil, false)
		require.NoError(t, store.Users().SetReferralCode(ctx, parent.ID, "REF_AAAA1111"))

		parentID, err := svc.AssignReferrer(ctx, child.ID, "REF_AAAA1111")
		require.NoError(t, err)
		assert.Equal(t, parent.ID, parentID)

		got, err := store.Users().GetReferrerID(ctx, child.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, parent.ID, *got)
	})

	t.Run("unknown code", func(t *testing.T) {
		store, svc := setup(t)
		child := store.AddUser("bob", nil, false)

		_, err := svc.AssignReferrer(ctx, child.ID, "REF_MISSING0")
		assert.ErrorIs(t, err, ErrUnknownCode)
	})

	t.Run("self referral", func(t *testing.T) {
		store, svc := setup(t)
		u := store.AddUser("alice", nil, false)
		require.NoError(t, store.Users().SetReferralCode(ctx, u.ID, "REF_AAAA1111"))

		_, err := svc.AssignReferrer(ctx, u.ID, "REF_AAAA1111")
		assert.ErrorIs(t, err, ErrSelfReferral)
	})

	t.Run("already referred", func(t *testing.T) {
		store, svc := setup(t)
		first := store.AddUser("alice", nil, false)
		second := store.AddUser("carol", nil, false)
		child := store.AddUser("bob", &first.ID, false)
		require.NoError(t, store.Users().SetReferralCode(ctx, second.ID, "REF_CCCC2222"))

		_, err := svc.AssignReferrer(ctx, child.ID, "REF_CCCC2222")
		assert.ErrorIs(t, err, ErrAlreadyReferred)

		got, err := store.Users().GetReferrerID(ctx, child.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, first.ID, *got, "existing referrer must be untouched")
	})

	t.Run("direct cycle", func(t *testing.T) {
		store, svc := setup(t)
		// a -> b; linking a under b's subtree member would close the loop.
		a := store.AddUser("alice", nil, false)
		b := store.AddUser("bob", &a.ID, false)
		require.NoError(t, store.Users().SetReferralCode(ctx, b.ID, "REF_BBBB2222"))

		_, err := svc.AssignReferrer(ctx, a.ID, "REF_BBBB2222")
		assert.ErrorIs(t, err, ErrCycle)
	})

	t.Run("deep cycle", func(t *testing.T) {
		store, svc := setup(t)
		a := store.AddUser("a", nil, false)
		b := store.AddUser("b", &a.ID, false)
		c := store.AddUser("c", &b.ID, false)
		d := store.AddUser("d", &c.ID, false)
		require.NoError(t, store.Users().SetReferralCode(ctx, d.ID, "REF_DDDD4444"))

		_, err := svc.AssignReferrer(ctx, a.ID, "REF_DDDD4444")
		assert.ErrorIs(t, err, ErrCycle)

		got, err := store.Users().GetReferrerID(ctx, a.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestGetOrAssignCode(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := NewService(store)
	u := store.AddUser("alice", nil, false)

	code, err := svc.GetOrAssignCode(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(code, "REF_"))
	assert.Len(t, code, len("REF_")+8)
	for _, r := range strings.TrimPrefix(code, "REF_") {
		assert.Contains(t, "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789", string(r))
	}

	// Second call returns the persisted code.
	again, err := svc.GetOrAssignCode(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, code, again)

	_, err = svc.GetOrAssignCode(ctx, 9999)
	assert.ErrorIs(t, err, relationaldb.ErrUserNotFound)
}

func TestSetReferralCodeImmutable(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	u := store.AddUser("alice", nil, false)

	require.NoError(t, store.Users().SetReferralCode(ctx, u.ID, "REF_AAAA1111"))

	err := store.Users().SetReferralCode(ctx, u.ID, "REF_BBBB2222")
	assert.ErrorIs(t, err, relationaldb.ErrCodeAlreadyAssigned)

	got, err := store.Users().GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "REF_AAAA1111", got.ReferralCode, "first assignment must survive")
}

func TestGetOrAssignCodeConcurrent(t *testing.T) {
	// Generators that lose the write race must surface the winner's code,
	// never overwrite it.
	ctx := context.Background()
	store := memory.NewStore()
	svc := NewService(store)
	u := store.AddUser("alice", nil, false)

	const generators = 8
	codes := make(chan string, generators)
	var wg sync.WaitGroup
	for i := 0; i < generators; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := svc.GetOrAssignCode(ctx, u.ID)
			assert.NoError(t, err)
			codes <- code
		}()
	}
	wg.Wait()
	close(codes)

	persisted, err := store.Users().GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotEmpty(t, persisted.ReferralCode)
	for code := range codes {
		assert.Equal(t, persisted.ReferralCode, code)
	}
}

func TestResolveLineage(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	a := store.AddUser("a", nil, false)
	b := store.AddUser("b", &a.ID, false)
	c := store.AddUser("c", &b.ID, false)
	d := store.AddUser("d", &c.ID, false)

	t.Run("full upline", func(t *testing.T) {
		lineage, err := ResolveLineage(ctx, store.Users(), d.ID, 3)
		require.NoError(t, err)
		require.Len(t, lineage, 3)
		assert.Equal(t, c.ID, *lineage[0])
		assert.Equal(t, b.ID, *lineage[1])
		assert.Equal(t, a.ID, *lineage[2])
	})

	t.Run("padded past root", func(t *testing.T) {
		lineage, err := ResolveLineage(ctx, store.Users(), b.ID, 3)
		require.NoError(t, err)
		require.Len(t, lineage, 3)
		assert.Equal(t, a.ID, *lineage[0])
		assert.Nil(t, lineage[1])
		assert.Nil(t, lineage[2])
	})

	t.Run("root has empty lineage", func(t *testing.T) {
		lineage, err := ResolveLineage(ctx, store.Users(), a.ID, 3)
		require.NoError(t, err)
		require.Len(t, lineage, 3)
		for _, id := range lineage {
			assert.Nil(t, id)
		}
	})
}

func TestDownline(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := NewService(store)

	root := store.AddUser("root", nil, false)
	c1 := store.AddUser("c1", &root.ID, false)
	store.AddUser("c2", &root.ID, false)
	g1 := store.AddUser("g1", &c1.ID, false)
	store.AddUser("other", nil, false)

	t.Run("levels and continuation", func(t *testing.T) {
		levels, err := svc.Downline(ctx, root.ID, 3, 50)
		require.NoError(t, err)
		require.Len(t, levels, 3)

		assert.Equal(t, 1, levels[0].Level)
		require.Len(t, levels[0].Users, 2)

		require.Len(t, levels[1].Users, 1)
		assert.Equal(t, g1.ID, levels[1].Users[0].ID)

		// Third level is empty but still present.
		assert.Equal(t, 3, levels[2].Level)
		assert.Empty(t, levels[2].Users)
	})

	t.Run("per level cap", func(t *testing.T) {
		levels, err := svc.Downline(ctx, root.ID, 2, 1)
		require.NoError(t, err)
		require.Len(t, levels[0].Users, 1)

		// The cap is applied before descending: only the surviving child's
		// subtree is walked.
		capped := levels[0].Users[0].ID
		for _, u := range levels[1].Users {
			require.NotNil(t, u.ReferrerID)
			assert.Equal(t, capped, *u.ReferrerID)
		}
	})

	t.Run("unknown root", func(t *testing.T) {
		_, err := svc.Downline(ctx, 9999, 3, 50)
		assert.ErrorIs(t, err, relationaldb.ErrUserNotFound)
	})
}
