package redisstream_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proteanhq/eventengine-go/transport"
	"github.com/proteanhq/eventengine-go/transport/redisstream"
)

// Redis-backed tests are gated on an address in the environment, e.g.
// EVENTENGINE_REDIS_ADDR=localhost:6379
const redisAddrEnv = "EVENTENGINE_REDIS_ADDR"

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv(redisAddrEnv)
	if addr == "" {
		t.Skipf("set %s to run Redis-backed tests", redisAddrEnv)
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func uniqueStream(t *testing.T) string {
	t.Helper()

	return "order-" + uuid.New().String()
}

func buildMessage(stream, eventType string) transport.Message {
	return transport.Message{
		ID:      uuid.New().String(),
		Stream:  stream,
		Payload: []byte(`{"order_id":"o-1"}`),
		Headers: map[string]string{
			transport.HeaderEventType: eventType,
		},
	}
}

func Test_Transport_PublishAndConsume_RoundTripsMessages(t *testing.T) {
	client := newTestClient(t)
	broker := redisstream.NewTransport(client)
	ctx := context.Background()
	stream := uniqueStream(t)

	first := buildMessage(stream, "OrderPlaced")
	second := buildMessage(stream, "PaymentReceived")
	require.NoError(t, broker.Publish(ctx, first))
	require.NoError(t, broker.Publish(ctx, second))

	deliveries, err := broker.Consume(ctx, stream, "grp", "c-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, deliveries, 2)

	assert.Equal(t, first.ID, deliveries[0].Message.ID)
	assert.Equal(t, first.Payload, deliveries[0].Message.Payload)
	assert.Equal(t, "OrderPlaced", deliveries[0].Message.Headers[transport.HeaderEventType])
	assert.Equal(t, second.ID, deliveries[1].Message.ID)
	assert.NotEmpty(t, deliveries[0].Position)
}

func Test_Transport_Consume_ReturnsNothingWhenStreamIsDrained(t *testing.T) {
	client := newTestClient(t)
	broker := redisstream.NewTransport(client)
	ctx := context.Background()
	stream := uniqueStream(t)

	require.NoError(t, broker.Publish(ctx, buildMessage(stream, "OrderPlaced")))

	deliveries, err := broker.Consume(ctx, stream, "grp", "c-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	deliveries, err = broker.Consume(ctx, stream, "grp", "c-1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, deliveries)
}

func Test_Transport_Consume_BlocksUntilTimeoutWhenStreamIsEmpty(t *testing.T) {
	client := newTestClient(t)
	broker := redisstream.NewTransport(client)
	ctx := context.Background()
	stream := uniqueStream(t)

	started := time.Now()
	deliveries, err := broker.Consume(ctx, stream, "grp", "c-1", 10, 100*time.Millisecond)
	elapsed := time.Since(started)

	require.NoError(t, err)
	assert.Empty(t, deliveries)
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
}

func Test_Transport_Ack_PreventsRedeliveryToTheGroup(t *testing.T) {
	client := newTestClient(t)
	broker := redisstream.NewTransport(client)
	ctx := context.Background()
	stream := uniqueStream(t)

	require.NoError(t, broker.Publish(ctx, buildMessage(stream, "OrderPlaced")))

	deliveries, err := broker.Consume(ctx, stream, "grp", "c-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	require.NoError(t, broker.Ack(ctx, stream, "grp", deliveries[0].Position))

	pending, err := client.XPending(ctx, stream, "grp").Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func Test_Transport_Consume_GroupsTrackIndependentPositions(t *testing.T) {
	client := newTestClient(t)
	broker := redisstream.NewTransport(client)
	ctx := context.Background()
	stream := uniqueStream(t)

	message := buildMessage(stream, "OrderPlaced")
	require.NoError(t, broker.Publish(ctx, message))

	forFirst, err := broker.Consume(ctx, stream, "grp-a", "c-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, forFirst, 1)

	forSecond, err := broker.Consume(ctx, stream, "grp-b", "c-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, forSecond, 1)

	assert.Equal(t, message.ID, forSecond[0].Message.ID)
}

func Test_Transport_Consume_RedeliversUnackedEntriesAfterRestart(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	stream := uniqueStream(t)

	message := buildMessage(stream, "OrderPlaced")
	require.NoError(t, redisstream.NewTransport(client).Publish(ctx, message))

	// First process lifetime: the entry is delivered but never acknowledged.
	crashed := redisstream.NewTransport(client)
	deliveries, err := crashed.Consume(ctx, stream, "grp", "c-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	// Restart: a fresh Transport must hand the stranded entry back to the
	// same consumer before reading anything new.
	restarted := redisstream.NewTransport(client)
	redelivered, err := restarted.Consume(ctx, stream, "grp", "c-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, redelivered, 1)
	assert.Equal(t, message.ID, redelivered[0].Message.ID)
	assert.Equal(t, deliveries[0].Position, redelivered[0].Position)
}

func Test_Transport_Consume_MovesOnToNewEntriesOnceRecoveryIsDrained(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	stream := uniqueStream(t)

	broker := redisstream.NewTransport(client)

	first := buildMessage(stream, "OrderPlaced")
	require.NoError(t, broker.Publish(ctx, first))

	crashed := redisstream.NewTransport(client)
	deliveries, err := crashed.Consume(ctx, stream, "grp", "c-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	restarted := redisstream.NewTransport(client)
	redelivered, err := restarted.Consume(ctx, stream, "grp", "c-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, redelivered, 1)
	require.NoError(t, restarted.Ack(ctx, stream, "grp", redelivered[0].Position))

	second := buildMessage(stream, "PaymentReceived")
	require.NoError(t, broker.Publish(ctx, second))

	fresh, err := restarted.Consume(ctx, stream, "grp", "c-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, second.ID, fresh[0].Message.ID)
}

func Test_Transport_Ack_WithoutPositionsIsANoOp(t *testing.T) {
	client := newTestClient(t)
	broker := redisstream.NewTransport(client)

	assert.NoError(t, broker.Ack(context.Background(), uniqueStream(t), "grp"))
}
