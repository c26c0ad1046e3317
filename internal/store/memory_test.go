package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/ledgersync/internal/model"
)

func voucher(id string) model.LedgerVoucher {
	return model.LedgerVoucher{
		ID:          id,
		DocumentID:  "doc-" + id,
		VoucherType: "Journal",
		Date:        time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		Amount:      decimal.NewFromInt(335),
		LedgerName:  "ABC",
		SyncStatus:  model.SyncPending,
	}
}

func TestMemory_Lifecycle(t *testing.T) {
	ctx := context.Background()
	q := NewMemory()

	require.NoError(t, q.Enqueue(ctx, voucher("a")))
	require.NoError(t, q.Enqueue(ctx, voucher("b")))

	due, err := q.Due(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, due, 2)
	assert.Equal(t, "a", due[0].ID, "oldest first")

	require.NoError(t, q.MarkSynced(ctx, "a", "ext-1"))
	got, err := q.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.SyncSynced, got.SyncStatus)
	assert.Equal(t, "ext-1", got.ExternalID)

	// synced is terminal
	assert.ErrorIs(t, q.MarkFailed(ctx, "a", "late", false), ErrInvalidTransition)
	assert.ErrorIs(t, q.MarkPending(ctx, "a"), ErrInvalidTransition)

	require.NoError(t, q.MarkFailed(ctx, "b", "timeout", false))
	got, _ = q.Get(ctx, "b")
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "timeout", got.LastError)

	// failed and not permanent is still due
	due, _ = q.Due(ctx, 10)
	require.Len(t, due, 1)
	assert.Equal(t, "b", due[0].ID)

	require.NoError(t, q.MarkPending(ctx, "b"))
	require.NoError(t, q.MarkFailed(ctx, "b", "timeout", true))

	due, _ = q.Due(ctx, 10)
	assert.Empty(t, due, "permanent failures are never due")

	failed, _ := q.Failed(ctx)
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].Attempts)

	assert.ErrorIs(t, q.MarkPending(ctx, "b"), ErrInvalidTransition)
	require.NoError(t, q.Requeue(ctx, "b"))
	got, _ = q.Get(ctx, "b")
	assert.Equal(t, model.SyncPending, got.SyncStatus)
	assert.Zero(t, got.Attempts)
}

func TestMemory_EnqueueRejectsSynced(t *testing.T) {
	v := voucher("x")
	v.SyncStatus = model.SyncSynced
	assert.ErrorIs(t, NewMemory().Enqueue(context.Background(), v), ErrInvalidTransition)
}

func TestMemory_HoldAndRelease(t *testing.T) {
	ctx := context.Background()
	q := NewMemory()
	require.NoError(t, q.Enqueue(ctx, voucher("a")))
	require.NoError(t, q.Enqueue(ctx, voucher("b")))

	require.NoError(t, q.Hold(ctx, "c1", "a", "b"))
	due, _ := q.Due(ctx, 0)
	assert.Empty(t, due)

	counts, _ := q.Counts(ctx)
	assert.Equal(t, 2, counts.Held)

	require.NoError(t, q.Release(ctx, "a"))
	require.NoError(t, q.Discard(ctx, "b"))
	due, _ = q.Due(ctx, 0)
	require.Len(t, due, 1)
	assert.Equal(t, "a", due[0].ID)

	assert.ErrorIs(t, q.Discard(ctx, "b"), ErrNotFound)
	assert.ErrorIs(t, q.Hold(ctx, "c2", "missing"), ErrNotFound)
}

func TestMemory_HoldTouchesModifiedAt(t *testing.T) {
	ctx := context.Background()
	q := NewMemory()
	start := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return start }
	require.NoError(t, q.Enqueue(ctx, voucher("a")))

	later := start.Add(time.Hour)
	q.now = func() time.Time { return later }
	require.NoError(t, q.Hold(ctx, "c1", "a"))

	got, err := q.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ConflictID)
	assert.True(t, got.ModifiedAt.Equal(later), "modified at = %s", got.ModifiedAt)
}

func TestMemory_DueLimit(t *testing.T) {
	ctx := context.Background()
	q := NewMemory()
	for _, id := range []string{"1", "2", "3", "4"} {
		require.NoError(t, q.Enqueue(ctx, voucher(id)))
	}
	due, _ := q.Due(ctx, 3)
	assert.Len(t, due, 3)
}

func TestMemory_Conflicts(t *testing.T) {
	ctx := context.Background()
	q := NewMemory()
	base := time.Now()

	require.NoError(t, q.SaveConflict(ctx, model.Conflict{ID: "old", DetectedAt: base}))
	require.NoError(t, q.SaveConflict(ctx, model.Conflict{ID: "new", DetectedAt: base.Add(time.Second)}))
	require.NoError(t, q.SaveConflict(ctx, model.Conflict{
		ID:         "done",
		DetectedAt: base,
		Resolution: &model.Resolution{Strategy: model.ResolveTimestamp, Confidence: 1},
	}))

	open, _ := q.Conflicts(ctx, false)
	require.Len(t, open, 2)
	assert.Equal(t, "new", open[0].ID)

	all, _ := q.Conflicts(ctx, true)
	assert.Len(t, all, 3)

	_, err := q.Conflict(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
