package memorystore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proteanhq/eventengine-go/outbox"
	"github.com/proteanhq/eventengine-go/outbox/memorystore"
)

func Test_ClaimPending_OrdersByPriorityThenStagingOrder(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewStore()

	low, err := outbox.BuildRecord("order", []byte(`{}`), nil, 1)
	require.NoError(t, err)

	firstHigh, err := outbox.BuildRecord("order", []byte(`{}`), nil, 9)
	require.NoError(t, err)

	secondHigh, err := outbox.BuildRecord("order", []byte(`{}`), nil, 9)
	require.NoError(t, err)

	store.Add(outbox.Records{low, firstHigh, secondHigh})

	claimed, err := store.ClaimPending(ctx, 10, time.Now())
	require.NoError(t, err)
	require.Len(t, claimed, 3)

	assert.Equal(t, firstHigh.MessageID, claimed[0].MessageID, "highest priority first, staging order within a priority")
	assert.Equal(t, secondHigh.MessageID, claimed[1].MessageID)
	assert.Equal(t, low.MessageID, claimed[2].MessageID)
}

func Test_ClaimPending_KeepsStagingOrderAcrossBatches(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewStore()

	// Records staged by one append share a CreatedAt; only the staging
	// sequence preserves their order.
	ids := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		record, err := outbox.BuildRecord("order", []byte(`{}`), nil, 0)
		require.NoError(t, err)
		store.Add(outbox.Records{record})
		ids = append(ids, record.MessageID)
	}

	claimed, err := store.ClaimPending(ctx, 10, time.Now())
	require.NoError(t, err)
	require.Len(t, claimed, 4)

	for i, record := range claimed {
		assert.Equal(t, ids[i], record.MessageID)
	}
}

func Test_ClaimPending_LeasesClaimedRecords(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewStore()

	record, err := outbox.BuildRecord("order", []byte(`{}`), nil, 0)
	require.NoError(t, err)
	store.Add(outbox.Records{record})

	now := time.Now()

	first, err := store.ClaimPending(ctx, 10, now)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// A concurrent processor claiming at the same instant must not see the record.
	second, err := store.ClaimPending(ctx, 10, now)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func Test_ClaimPending_RespectsLimit(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewStore()

	for i := 0; i < 5; i++ {
		record, err := outbox.BuildRecord("order", []byte(`{}`), nil, 0)
		require.NoError(t, err)
		store.Add(outbox.Records{record})
	}

	claimed, err := store.ClaimPending(ctx, 2, time.Now())
	require.NoError(t, err)
	assert.Len(t, claimed, 2)
}

func Test_PurgePublished_RemovesOnlyOldPublishedRecords(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewStore()

	published, err := outbox.BuildRecord("order", []byte(`{}`), nil, 0)
	require.NoError(t, err)
	published.CreatedAt = time.Now().Add(-48 * time.Hour)

	pending, err := outbox.BuildRecord("order", []byte(`{}`), nil, 0)
	require.NoError(t, err)
	pending.CreatedAt = time.Now().Add(-48 * time.Hour)

	store.Add(outbox.Records{published, pending})
	require.NoError(t, store.MarkPublished(ctx, published.MessageID))

	purged, err := store.PurgePublished(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, found := store.Get(published.MessageID)
	assert.False(t, found)

	_, found = store.Get(pending.MessageID)
	assert.True(t, found, "pending records are never purged")
}

func Test_MarkOperations_UnknownRecord(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewStore()

	assert.ErrorIs(t, store.MarkPublished(ctx, "missing"), outbox.ErrRecordNotFound)
	assert.ErrorIs(t, store.MarkAbandoned(ctx, "missing", 1), outbox.ErrRecordNotFound)
	assert.ErrorIs(t, store.Reschedule(ctx, "missing", 1, time.Now()), outbox.ErrRecordNotFound)
}
