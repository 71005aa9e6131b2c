package postgresengine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proteanhq/eventengine-go/eventstore"
	"github.com/proteanhq/eventengine-go/eventstore/postgresengine"
)

// collectingMetrics records every collector call keyed by metric name.
type collectingMetrics struct {
	mu        sync.Mutex
	durations map[string][]string // metric -> status labels seen
	counters  map[string]int
	values    map[string][]float64
}

func newCollectingMetrics() *collectingMetrics {
	return &collectingMetrics{
		durations: make(map[string][]string),
		counters:  make(map[string]int),
		values:    make(map[string][]float64),
	}
}

func (m *collectingMetrics) RecordDuration(metric string, _ time.Duration, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.durations[metric] = append(m.durations[metric], labels["status"])
}

func (m *collectingMetrics) IncrementCounter(metric string, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counters[metric]++
}

func (m *collectingMetrics) RecordValue(metric string, value float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[metric] = append(m.values[metric], value)
}

func (m *collectingMetrics) durationStatuses(metric string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.durations[metric]...)
}

func (m *collectingMetrics) counter(metric string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.counters[metric]
}

func (m *collectingMetrics) valuesFor(metric string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]float64(nil), m.values[metric]...)
}

// collectingSpan is one recorded span.
type collectingSpan struct {
	name   string
	status string
}

func (s *collectingSpan) SetStatus(status string)     { s.status = status }
func (s *collectingSpan) AddAttribute(string, string) {}

// collectingTracer records started and finished spans.
type collectingTracer struct {
	mu    sync.Mutex
	spans []*collectingSpan
}

func (tr *collectingTracer) StartSpan(ctx context.Context, name string, _ map[string]string) (context.Context, eventstore.SpanContext) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	span := &collectingSpan{name: name}
	tr.spans = append(tr.spans, span)

	return ctx, span
}

func (tr *collectingTracer) FinishSpan(spanCtx eventstore.SpanContext, status string, _ map[string]string) {
	if span, ok := spanCtx.(*collectingSpan); ok {
		span.status = status
	}
}

func (tr *collectingTracer) finished() []collectingSpan {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	spans := make([]collectingSpan, 0, len(tr.spans))
	for _, span := range tr.spans {
		spans = append(spans, *span)
	}

	return spans
}

// collectingContextualLogger records messages per level.
type collectingContextualLogger struct {
	mu       sync.Mutex
	messages map[string][]string
}

func newCollectingContextualLogger() *collectingContextualLogger {
	return &collectingContextualLogger{messages: make(map[string][]string)}
}

func (l *collectingContextualLogger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages[level] = append(l.messages[level], msg)
}

func (l *collectingContextualLogger) DebugContext(_ context.Context, msg string, _ ...any) {
	l.record("debug", msg)
}

func (l *collectingContextualLogger) InfoContext(_ context.Context, msg string, _ ...any) {
	l.record("info", msg)
}

func (l *collectingContextualLogger) WarnContext(_ context.Context, msg string, _ ...any) {
	l.record("warn", msg)
}

func (l *collectingContextualLogger) ErrorContext(_ context.Context, msg string, _ ...any) {
	l.record("error", msg)
}

func (l *collectingContextualLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.messages[level])
}

func newObservedStore(t *testing.T) (postgresengine.EventStore, *collectingMetrics, *collectingTracer, *collectingContextualLogger) {
	t.Helper()

	pool := newTestPool(t)
	metrics := newCollectingMetrics()
	tracer := &collectingTracer{}
	logger := newCollectingContextualLogger()

	store, err := postgresengine.NewEventStoreFromPGXPool(pool,
		postgresengine.WithMetrics(metrics),
		postgresengine.WithTracing(tracer),
		postgresengine.WithContextualLogger(logger),
	)
	require.NoError(t, err)

	return store, metrics, tracer, logger
}

func Test_Append_RecordsMetricsAndFinishesSpan(t *testing.T) {
	ctx := context.Background()
	store, metrics, tracer, logger := newObservedStore(t)
	stream := uniqueStream(t, "order")

	_, err := store.Append(ctx, stream, 0, eventstore.EventRecords{
		buildTestRecord(t, stream, "OrderPlaced"),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"success"}, metrics.durationStatuses("eventstore_append_duration_seconds"))
	assert.Equal(t, []float64{1}, metrics.valuesFor("eventstore_events_appended_total"))

	spans := tracer.finished()
	require.Len(t, spans, 1)
	assert.Equal(t, "eventstore.append", spans[0].name)
	assert.Equal(t, "success", spans[0].status)

	assert.Positive(t, logger.count("info"), "the append is reported through the contextual logger")
}

func Test_Append_ConcurrencyConflictIncrementsTheConflictCounter(t *testing.T) {
	ctx := context.Background()
	store, metrics, tracer, _ := newObservedStore(t)
	stream := uniqueStream(t, "order")

	_, err := store.Append(ctx, stream, 0, eventstore.EventRecords{
		buildTestRecord(t, stream, "OrderPlaced"),
	}, nil)
	require.NoError(t, err)

	// Same expected version again: the stream has moved on.
	_, err = store.Append(ctx, stream, 0, eventstore.EventRecords{
		buildTestRecord(t, stream, "OrderPaid"),
	}, nil)
	require.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)

	assert.Equal(t, 1, metrics.counter("eventstore_concurrency_conflicts_total"))

	spans := tracer.finished()
	require.Len(t, spans, 2)
	assert.Equal(t, "error", spans[1].status)
}

func Test_ReadStream_RecordsQueryMetricsAndSpan(t *testing.T) {
	ctx := context.Background()
	store, metrics, tracer, logger := newObservedStore(t)
	stream := uniqueStream(t, "order")

	_, err := store.Append(ctx, stream, 0, eventstore.EventRecords{
		buildTestRecord(t, stream, "OrderPlaced"),
	}, nil)
	require.NoError(t, err)

	_, err = store.ReadStream(ctx, stream, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"success"}, metrics.durationStatuses("eventstore_query_duration_seconds"))

	spans := tracer.finished()
	require.Len(t, spans, 2)
	assert.Equal(t, "eventstore.query", spans[1].name)
	assert.Equal(t, "success", spans[1].status)

	assert.Positive(t, logger.count("debug"), "executed SQL is logged with its duration")
}
