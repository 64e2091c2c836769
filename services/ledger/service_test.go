package ledger

import (
	"context"
	"testing"

	"viewexchange-engine/pkg/db/pagination"
	"viewexchange-engine/pkg/errutil"
	"viewexchange-engine/pkg/event"
	"viewexchange-engine/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &Entry{}, &Balance{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParams{
		DB:        db,
		Node:      node,
		Publisher: event.Nop{},
	})
}

func TestAppendUpdatesBalance(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	entry, err := svc.Append(ctx, "acc-1", 100, KindWelcomeGrant, "welcome grant")
	require.NoError(t, err)
	assert.Equal(t, genesisHash, entry.PreviousHash)
	assert.NotEmpty(t, entry.Hash)

	second, err := svc.Append(ctx, "acc-1", -40, KindEscrowDebit, "escrow")
	require.NoError(t, err)
	assert.Equal(t, entry.Hash, second.PreviousHash)

	balance, err := svc.BalanceOf(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(60), balance)
}

func TestAppendRejectsOverdraft(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Append(ctx, "acc-1", 30, KindWelcomeGrant, "welcome grant")
	require.NoError(t, err)

	_, err = svc.Append(ctx, "acc-1", -31, KindEscrowDebit, "escrow")
	require.Error(t, err)
	assert.Equal(t, ReasonInsufficientFunds, errutil.ReasonOf(err))
	assert.Equal(t, errutil.StatusUnprocessableEntity, errutil.StatusOf(err))

	// The failed debit must leave no trace.
	balance, err := svc.BalanceOf(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), balance)

	entries, err := svc.entries.Find(ctx, &Entry{AccountID: "acc-1"})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAppendRejectsOverdraftOnEmptyAccount(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Append(context.Background(), "ghost", -1, KindEscrowDebit, "escrow")
	require.Error(t, err)
	assert.Equal(t, ReasonInsufficientFunds, errutil.ReasonOf(err))
}

func TestAppendRejectsZeroDelta(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Append(context.Background(), "acc-1", 0, KindManualAdjustment, "noop")
	require.Error(t, err)
	assert.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))
}

func TestBalanceOfUnknownAccountIsZero(t *testing.T) {
	svc := newTestService(t)

	balance, err := svc.BalanceOf(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestHistoryPaginates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Append(ctx, "acc-1", 10, KindWatchCredit, "watch credit")
		require.NoError(t, err)
	}

	seen := make(map[string]bool)
	cursor := ""
	pages := 0
	for {
		entries, info, err := svc.History(ctx, "acc-1", pagination.Pagination{Cursor: cursor, Limit: 2})
		require.NoError(t, err)
		pages++

		for _, e := range entries {
			assert.False(t, seen[e.ID], "entry %s returned twice", e.ID)
			seen[e.ID] = true
		}

		if !info.HasMore {
			break
		}
		cursor = info.NextCursor
	}

	assert.Len(t, seen, 5)
	assert.Equal(t, 3, pages)
}

func TestReconcileDetectsDrift(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Append(ctx, "acc-1", 100, KindWelcomeGrant, "welcome grant")
	require.NoError(t, err)

	ok, drift, err := svc.Reconcile(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, drift)

	require.NoError(t, svc.db.Model(&Balance{}).
		Where("account_id = ?", "acc-1").
		Update("balance", 150).Error)

	ok, drift, err = svc.Reconcile(ctx, "acc-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(50), drift)
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.Append(ctx, "acc-1", 100, KindWelcomeGrant, "welcome grant")
	require.NoError(t, err)
	_, err = svc.Append(ctx, "acc-1", -20, KindEscrowDebit, "escrow")
	require.NoError(t, err)

	ok, err := svc.VerifyChain(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, svc.db.Model(&Entry{}).
		Where("id = ?", first.ID).
		Update("delta", 1000).Error)

	ok, err = svc.VerifyChain(ctx, "acc-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
