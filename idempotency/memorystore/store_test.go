package memorystore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proteanhq/eventengine-go/idempotency"
	"github.com/proteanhq/eventengine-go/idempotency/memorystore"
)

func Test_Begin_CreatesPendingOnce(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewStore()

	started, _, err := store.Begin(ctx, "tok-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, started)

	started, existing, err := store.Begin(ctx, "tok-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, started)
	assert.Equal(t, idempotency.StatusPending, existing.Status)
}

func Test_ExpiredRecordsAreInvisible(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewStore()

	require.NoError(t, store.Complete(ctx, "tok-1", []byte(`{}`), time.Nanosecond))
	time.Sleep(time.Millisecond)

	_, found, err := store.Get(ctx, "tok-1")
	require.NoError(t, err)
	assert.False(t, found)

	started, _, err := store.Begin(ctx, "tok-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, started, "an expired token behaves like an absent one")
}

func Test_Fail_NeverReplacesSuccess(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewStore()

	require.NoError(t, store.Complete(ctx, "tok-1", []byte(`{"n": 1}`), time.Hour))
	require.NoError(t, store.Fail(ctx, "tok-1", time.Minute))

	record, found, err := store.Get(ctx, "tok-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, idempotency.StatusSuccess, record.Status, "success never regresses")
	assert.JSONEq(t, `{"n": 1}`, string(record.Result))
}

func Test_Complete_OverwritesPending(t *testing.T) {
	ctx := context.Background()
	store := memorystore.NewStore()

	_, _, err := store.Begin(ctx, "tok-1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.Complete(ctx, "tok-1", []byte(`{}`), time.Hour))

	record, found, err := store.Get(ctx, "tok-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, idempotency.StatusSuccess, record.Status)
}
