package subscription_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proteanhq/eventengine-go/idempotency"
	idemstore "github.com/proteanhq/eventengine-go/idempotency/memorystore"
	"github.com/proteanhq/eventengine-go/subscription"
	"github.com/proteanhq/eventengine-go/transport"
	"github.com/proteanhq/eventengine-go/transport/memorytransport"
)

type recordingHandler struct {
	mu       sync.Mutex
	messages []transport.Message
	fail     error
}

func (h *recordingHandler) handle(_ context.Context, message transport.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages, message)

	return h.fail
}

func (h *recordingHandler) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, len(h.messages))
	for _, message := range h.messages {
		ids = append(ids, message.ID)
	}

	return ids
}

type recordingMetrics struct {
	mu        sync.Mutex
	counters  map[string]int
	durations map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		counters:  make(map[string]int),
		durations: make(map[string]int),
	}
}

func (m *recordingMetrics) RecordDuration(metric string, _ time.Duration, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.durations[metric]++
}

func (m *recordingMetrics) IncrementCounter(metric string, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counters[metric]++
}

func (m *recordingMetrics) RecordValue(string, float64, map[string]string) {}

func (m *recordingMetrics) counter(metric string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.counters[metric]
}

func (m *recordingMetrics) duration(metric string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.durations[metric]
}

// loadCountingCursorStore wraps the in-process store and counts Load calls.
type loadCountingCursorStore struct {
	*subscription.MemoryCursorStore

	mu     sync.Mutex
	loaded []string
}

func (s *loadCountingCursorStore) Load(ctx context.Context, consumer, stream string) (subscription.Cursor, bool, error) {
	s.mu.Lock()
	s.loaded = append(s.loaded, stream)
	s.mu.Unlock()

	return s.MemoryCursorStore.Load(ctx, consumer, stream)
}

func (s *loadCountingCursorStore) loadedStreams() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.loaded...)
}

func testConfig() subscription.Config {
	return subscription.Config{
		Group:        "grp",
		Consumer:     "c-1",
		Stream:       "order",
		MaxAttempts:  2,
		BaseDelay:    time.Millisecond,
		BlockTimeout: 20 * time.Millisecond,
	}
}

func publish(t *testing.T, broker *memorytransport.Transport, stream, id string, headers map[string]string) {
	t.Helper()

	require.NoError(t, broker.Publish(context.Background(), transport.Message{
		ID:      id,
		Stream:  stream,
		Payload: []byte(`{}`),
		Headers: headers,
	}))
}

func Test_Poll_PrimaryLaneWinsOverBackfill(t *testing.T) {
	ctx := context.Background()
	broker := memorytransport.NewTransport()
	handler := &recordingHandler{}
	guard := idempotency.NewGuard(idemstore.NewStore())
	engine := subscription.NewEngine(broker, guard, handler.handle, testConfig())

	backfillStream := transport.BackfillStream("order", ":backfill")
	publish(t, broker, backfillStream, "m-backfill", nil)
	publish(t, broker, "order", "m-primary", nil)

	engine.Poll(ctx)
	assert.Equal(t, []string{"m-primary"}, handler.seen(), "primary is always read first")

	engine.Poll(ctx)
	assert.Equal(t, []string{"m-primary", "m-backfill"}, handler.seen(), "backfill drains only when primary is empty")
}

func Test_Poll_BackfillBlockingReadIsBounded(t *testing.T) {
	ctx := context.Background()
	broker := memorytransport.NewTransport()
	handler := &recordingHandler{}
	guard := idempotency.NewGuard(idemstore.NewStore())
	engine := subscription.NewEngine(broker, guard, handler.handle, testConfig())

	start := time.Now()
	engine.Poll(ctx)
	elapsed := time.Since(start)

	assert.Empty(t, handler.seen())
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond, "an empty cycle blocks on backfill")
	assert.Less(t, elapsed, time.Second, "the blocking read is bounded")
}

func Test_Dispatch_DuplicateTokenSkipsHandler(t *testing.T) {
	ctx := context.Background()
	broker := memorytransport.NewTransport()
	handler := &recordingHandler{}
	guard := idempotency.NewGuard(idemstore.NewStore())
	engine := subscription.NewEngine(broker, guard, handler.handle, testConfig())

	headers := map[string]string{transport.HeaderIdempotencyToken: "tok-1"}

	publish(t, broker, "order", "m-1", headers)
	engine.Poll(ctx)
	require.Equal(t, []string{"m-1"}, handler.seen())

	// The same logical request is delivered again, e.g. re-published after a
	// crashed producer retry. The success record makes it a no-op.
	publish(t, broker, "order", "m-1-redelivered", headers)
	engine.Poll(ctx)

	assert.Equal(t, []string{"m-1"}, handler.seen(), "prior success skips the handler")
	assert.Equal(t, 0, broker.UnackedCount("order", "grp"), "skipped duplicates are still acknowledged")
}

func Test_Dispatch_SuccessWritesIdempotencyRecord(t *testing.T) {
	ctx := context.Background()
	broker := memorytransport.NewTransport()
	handler := &recordingHandler{}
	store := idemstore.NewStore()
	guard := idempotency.NewGuard(store)
	engine := subscription.NewEngine(broker, guard, handler.handle, testConfig())

	publish(t, broker, "order", "m-1", map[string]string{transport.HeaderIdempotencyToken: "tok-1"})
	engine.Poll(ctx)

	record, found, err := store.Get(ctx, "tok-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, idempotency.StatusSuccess, record.Status)
}

func Test_Dispatch_FatalErrorDeadLettersImmediately(t *testing.T) {
	ctx := context.Background()
	broker := memorytransport.NewTransport()
	handler := &recordingHandler{fail: subscription.Fatal(errors.New("unparseable payload"))}
	guard := idempotency.NewGuard(idemstore.NewStore())
	engine := subscription.NewEngine(broker, guard, handler.handle, testConfig())

	publish(t, broker, "order", "m-1", nil)
	engine.Poll(ctx)

	assert.Len(t, handler.seen(), 1, "fatal errors are not retried")

	deadLetters := broker.Messages(transport.DeadLetterStream("grp"))
	require.Len(t, deadLetters, 1)
	assert.Equal(t, "m-1", deadLetters[0].ID)
	assert.Equal(t, "order", deadLetters[0].Headers["dead_letter_origin_stream"])
	assert.Equal(t, "grp", deadLetters[0].Headers["dead_letter_origin_group"])
	assert.NotEmpty(t, deadLetters[0].Headers["dead_letter_reason"])

	assert.Equal(t, 0, broker.UnackedCount("order", "grp"), "dead-lettered messages are acknowledged so the consumer keeps moving")
}

func Test_Dispatch_RetryableErrorExhaustsThenDeadLetters(t *testing.T) {
	ctx := context.Background()
	broker := memorytransport.NewTransport()
	handler := &recordingHandler{fail: errors.New("downstream flaky")}
	guard := idempotency.NewGuard(idemstore.NewStore())
	engine := subscription.NewEngine(broker, guard, handler.handle, testConfig())

	publish(t, broker, "order", "m-1", nil)
	engine.Poll(ctx)

	assert.Len(t, handler.seen(), 2, "retried up to MaxAttempts")
	assert.Len(t, broker.Messages(transport.DeadLetterStream("grp")), 1)
	assert.Equal(t, 0, broker.UnackedCount("order", "grp"))
}

func Test_Engine_RecordsProcessedAndDuplicateMetrics(t *testing.T) {
	ctx := context.Background()
	broker := memorytransport.NewTransport()
	handler := &recordingHandler{}
	guard := idempotency.NewGuard(idemstore.NewStore())
	metrics := newRecordingMetrics()
	engine := subscription.NewEngine(broker, guard, handler.handle, testConfig(),
		subscription.WithMetrics(metrics),
	)

	headers := map[string]string{transport.HeaderIdempotencyToken: "tok-1"}

	publish(t, broker, "order", "m-1", headers)
	engine.Poll(ctx)

	publish(t, broker, "order", "m-1-redelivered", headers)
	engine.Poll(ctx)

	assert.Equal(t, 1, metrics.counter("subscription_messages_processed_total"))
	assert.Equal(t, 1, metrics.counter("subscription_duplicates_skipped_total"))
	assert.Equal(t, 1, metrics.duration("subscription_handler_duration_seconds"))
}

func Test_Engine_RecordsDeadLetterMetric(t *testing.T) {
	ctx := context.Background()
	broker := memorytransport.NewTransport()
	handler := &recordingHandler{fail: subscription.Fatal(errors.New("unparseable payload"))}
	guard := idempotency.NewGuard(idemstore.NewStore())
	metrics := newRecordingMetrics()
	engine := subscription.NewEngine(broker, guard, handler.handle, testConfig(),
		subscription.WithMetrics(metrics),
	)

	publish(t, broker, "order", "m-1", nil)
	engine.Poll(ctx)

	assert.Equal(t, 0, metrics.counter("subscription_messages_processed_total"))
	assert.Equal(t, 1, metrics.counter("subscription_messages_dead_lettered_total"))
}

func Test_Engine_LoadsPersistedCursorsOnFirstPoll(t *testing.T) {
	ctx := context.Background()
	broker := memorytransport.NewTransport()
	handler := &recordingHandler{}
	guard := idempotency.NewGuard(idemstore.NewStore())
	cursors := &loadCountingCursorStore{MemoryCursorStore: subscription.NewMemoryCursorStore()}

	require.NoError(t, cursors.Save(ctx, subscription.Cursor{
		Consumer:  "c-1",
		Stream:    "order",
		Lane:      subscription.LanePrimary,
		Position:  "41",
		UpdatedAt: time.Now(),
	}))

	engine := subscription.NewEngine(broker, guard, handler.handle, testConfig(),
		subscription.WithCursorStore(cursors),
	)

	engine.Poll(ctx)
	engine.Poll(ctx)

	backfillStream := transport.BackfillStream("order", ":backfill")
	assert.Equal(t, []string{"order", backfillStream}, cursors.loadedStreams(),
		"persisted cursors are read once at startup, for both lanes")
}

func Test_Run_FlushesCursorsOnShutdown(t *testing.T) {
	broker := memorytransport.NewTransport()
	cursors := subscription.NewMemoryCursorStore()
	guard := idempotency.NewGuard(idemstore.NewStore())

	ctx, cancel := context.WithCancel(context.Background())
	handler := &recordingHandler{}
	stopping := func(hctx context.Context, message transport.Message) error {
		err := handler.handle(hctx, message)
		cancel()
		return err
	}

	engine := subscription.NewEngine(broker, guard, stopping, testConfig(),
		subscription.WithCursorStore(cursors),
	)

	publish(t, broker, "order", "m-1", nil)
	engine.Run(ctx)

	cursor, found, err := cursors.Load(context.Background(), "c-1", "order")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, subscription.LanePrimary, cursor.Lane)
	assert.Equal(t, "0", cursor.Position)
}

func Test_ReadDeadLetters_ReturnsExhaustedMessages(t *testing.T) {
	ctx := context.Background()
	broker := memorytransport.NewTransport()
	handler := &recordingHandler{fail: subscription.Fatal(errors.New("poison"))}
	guard := idempotency.NewGuard(idemstore.NewStore())
	engine := subscription.NewEngine(broker, guard, handler.handle, testConfig())

	publish(t, broker, "order", "m-1", nil)
	engine.Poll(ctx)

	deliveries, err := subscription.ReadDeadLetters(ctx, broker, "grp", "operator-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "m-1", deliveries[0].ID)
}
