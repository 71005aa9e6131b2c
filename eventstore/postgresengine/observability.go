package postgresengine

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/proteanhq/eventengine-go/eventstore"
)

const (
	metricAppendDuration       = "eventstore_append_duration_seconds"
	metricQueryDuration        = "eventstore_query_duration_seconds"
	metricEventsAppended       = "eventstore_events_appended_total"
	metricConcurrencyConflicts = "eventstore_concurrency_conflicts_total"
	metricDatabaseErrors       = "eventstore_database_errors_total"

	spanNameAppend = "eventstore.append"
	spanNameQuery  = "eventstore.query"

	operationAppend = "append"
	operationQuery  = "query"

	statusSuccess = "success"
	statusError   = "error"

	spanAttrOperation  = "operation"
	spanAttrStatus     = "status"
	spanAttrErrorType  = "error_type"
	spanAttrEventCount = "event_count"
	spanAttrStream     = "stream"

	errorTypeConcurrencyConflict = "concurrency_conflict"
	errorTypeDatabase            = "database_error"
)

// logQueryWithDuration logs SQL queries with execution time at debug level if a logger is configured.
func (es EventStore) logQueryWithDuration(ctx context.Context, sqlQuery string, action string, duration time.Duration) {
	if es.contextualLogger != nil {
		es.contextualLogger.DebugContext(ctx, logMsgSQLExecuted+action, logAttrDurationMS, es.durationToMilliseconds(duration), logAttrQuery, sqlQuery)
		return
	}

	if es.logger != nil {
		es.logger.Debug(logMsgSQLExecuted+action, logAttrDurationMS, es.durationToMilliseconds(duration), logAttrQuery, sqlQuery)
	}
}

// logOperation logs operational information at info level if a logger is configured.
func (es EventStore) logOperation(ctx context.Context, action string, args ...any) {
	if es.contextualLogger != nil {
		es.contextualLogger.InfoContext(ctx, logMsgOperation+action, args...)
		return
	}

	if es.logger != nil {
		es.logger.Info(logMsgOperation+action, args...)
	}
}

func (es EventStore) logWarn(msg string, args ...any) {
	if es.logger != nil {
		es.logger.Warn(msg, args...)
	}
}

func (es EventStore) logError(ctx context.Context, msg string, args ...any) {
	if es.contextualLogger != nil {
		es.contextualLogger.ErrorContext(ctx, msg, args...)
		return
	}

	if es.logger != nil {
		es.logger.Error(msg, args...)
	}
}

// durationToMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func (es EventStore) durationToMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

// recordDurationMetric records an operation duration, preferring the
// context-aware collector variant when the backend supports it.
func (es EventStore) recordDurationMetric(ctx context.Context, metric string, duration time.Duration, operation, status string) {
	if es.metricsCollector == nil {
		return
	}

	labels := map[string]string{spanAttrOperation: operation, spanAttrStatus: status}

	if contextual, ok := es.metricsCollector.(eventstore.ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, metric, duration, labels)
		return
	}

	es.metricsCollector.RecordDuration(metric, duration, labels)
}

func (es EventStore) recordCounterMetric(ctx context.Context, metric string, labels map[string]string) {
	if es.metricsCollector == nil {
		return
	}

	if contextual, ok := es.metricsCollector.(eventstore.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metric, labels)
		return
	}

	es.metricsCollector.IncrementCounter(metric, labels)
}

func (es EventStore) recordValueMetric(ctx context.Context, metric string, value float64, operation string) {
	if es.metricsCollector == nil {
		return
	}

	labels := map[string]string{spanAttrOperation: operation}

	if contextual, ok := es.metricsCollector.(eventstore.ContextualMetricsCollector); ok {
		contextual.RecordValueContext(ctx, metric, value, labels)
		return
	}

	es.metricsCollector.RecordValue(metric, value, labels)
}

func (es EventStore) recordErrorMetric(ctx context.Context, operation, errorType string) {
	es.recordCounterMetric(ctx, metricDatabaseErrors, map[string]string{
		spanAttrOperation: operation,
		spanAttrStatus:    statusError,
		spanAttrErrorType: errorType,
	})
}

func (es EventStore) recordConcurrencyConflictMetric(ctx context.Context, operation string) {
	es.recordCounterMetric(ctx, metricConcurrencyConflicts, map[string]string{
		spanAttrOperation: operation,
	})
}

// startSpan starts a tracing span if the tracing collector is configured.
// The returned SpanContext is nil otherwise; finishSpan tolerates that.
func (es EventStore) startSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, SpanContext) {
	if es.tracingCollector == nil {
		return ctx, nil
	}

	return es.tracingCollector.StartSpan(ctx, name, attrs)
}

func (es EventStore) finishSpanSuccess(span SpanContext, eventCount int) {
	if es.tracingCollector == nil || span == nil {
		return
	}

	es.tracingCollector.FinishSpan(span, statusSuccess, map[string]string{
		spanAttrEventCount: strconv.Itoa(eventCount),
	})
}

func (es EventStore) finishSpanError(span SpanContext, errorType string) {
	if es.tracingCollector == nil || span == nil {
		return
	}

	es.tracingCollector.FinishSpan(span, statusError, map[string]string{
		spanAttrErrorType: errorType,
	})
}
