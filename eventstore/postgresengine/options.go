package postgresengine

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/proteanhq/eventengine-go/eventstore"
)

// jsonMarshal is the hot-path JSON encoder used for headers and metadata.
func jsonMarshal(v any) ([]byte, error) {
	return jsoniter.ConfigFastest.Marshal(v)
}

// The collector and contextual logger contracts live in the eventstore
// package so one adapter (see oteladapters) serves every engine.
type (
	MetricsCollector = eventstore.MetricsCollector
	TracingCollector = eventstore.TracingCollector
	SpanContext      = eventstore.SpanContext
	ContextualLogger = eventstore.ContextualLogger
)

// Option defines a functional option for configuring EventStore.
type Option func(*EventStore) error

// WithEventsTableName sets the events table name for the EventStore.
func WithEventsTableName(tableName string) Option {
	return func(es *EventStore) error {
		if tableName == "" {
			return eventstore.ErrEmptyEventsTableName
		}

		es.eventsTableName = tableName

		return nil
	}
}

// WithOutboxTableName sets the outbox table name for the EventStore.
// It must match the table the outbox processor's store operates on.
func WithOutboxTableName(tableName string) Option {
	return func(es *EventStore) error {
		if tableName == "" {
			return eventstore.ErrEmptyOutboxTableName
		}

		es.outboxTableName = tableName

		return nil
	}
}

// WithSnapshotsTableName sets the snapshots table name for the EventStore.
func WithSnapshotsTableName(tableName string) Option {
	return func(es *EventStore) error {
		if tableName == "" {
			return eventstore.ErrEmptySnapshotsTableName
		}

		es.snapshotsTableName = tableName

		return nil
	}
}

// WithLogger sets the logger for the EventStore.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: SQL queries with execution timing (development use)
// Info level: Event counts, durations, concurrency conflicts (production-safe)
// Warn level: Non-critical issues like cleanup failures
// Error level: Critical failures that cause operation failures.
func WithLogger(logger Logger) Option {
	return func(es *EventStore) error {
		es.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the EventStore.
// The collector will receive query/append durations, event counts,
// concurrency conflicts, and database errors.
func WithMetrics(collector MetricsCollector) Option {
	return func(es *EventStore) error {
		es.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the EventStore.
// The collector will receive a span per query/append operation including
// error tracking and context propagation.
func WithTracing(collector TracingCollector) Option {
	return func(es *EventStore) error {
		es.tracingCollector = collector
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the EventStore.
// It receives the same messages as the plain logger but with the operation's
// context, which enables automatic trace correlation when tracing is enabled.
func WithContextualLogger(logger ContextualLogger) Option {
	return func(es *EventStore) error {
		es.contextualLogger = logger
		return nil
	}
}
