package outbox

import (
	"context"
	"math/rand"
	"time"

	"github.com/proteanhq/eventengine-go/eventstore"
	"github.com/proteanhq/eventengine-go/transport"
)

const (
	defaultPollInterval   = 200 * time.Millisecond
	defaultBatchSize      = 50
	defaultMaxAttempts    = 10
	defaultBaseDelay      = 100 * time.Millisecond
	defaultMaxDelay       = 1 * time.Minute
	defaultPublishTimeout = 5 * time.Second
	defaultJitterFactor   = 0.3
	defaultBackfillSuffix = ":backfill"

	logMsgClaimFailed      = "failed to claim pending outbox records"
	logMsgPublishFailed    = "failed to publish outbox record"
	logMsgMarkFailed       = "failed to mark outbox record published"
	logMsgRescheduleFailed = "failed to reschedule outbox record"
	logMsgAbandonFailed    = "failed to mark outbox record abandoned"
	logMsgRecordAbandoned  = "outbox record abandoned after exhausted attempts"
	logMsgRecordPublished  = "outbox record published"
	logMsgProcessorStopped = "outbox processor stopped"
	logAttrError           = "error"
	logAttrMessageID       = "message_id"
	logAttrStream          = "stream"
	logAttrAttempts        = "attempts"
	logAttrNextAttemptAt   = "next_attempt_at"

	metricRecordsPublished = "outbox_records_published_total"
	metricPublishFailures  = "outbox_publish_failures_total"
	metricRecordsAbandoned = "outbox_records_abandoned_total"
	metricPublishDuration  = "outbox_publish_duration_seconds"
	labelStream            = "stream"
)

// Logger interface for operational information, warnings, and error reporting.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the externally supplied processor parameters.
// Zero values are replaced with defaults by NewProcessor.
type Config struct {
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterFactor   float64
	PublishTimeout time.Duration

	// Records with Priority below PriorityThreshold are routed to the
	// backfill-lane stream at publish time.
	PriorityThreshold int
	BackfillSuffix    string
}

// Processor reliably moves pending outbox records to the broker.
//
// Each tick it claims a bounded batch of due pending records ordered by
// priority then age, attempts to publish each, and marks records published
// only on broker acknowledgment. Failed records are rescheduled with
// exponential backoff until MaxAttempts, then marked abandoned and surfaced
// through the OnAbandoned callback - never silently dropped.
//
// Multiple processors may run concurrently against the same store; the store's
// ClaimPending guarantees a record is handled by at most one of them per tick.
type Processor struct {
	store       Store
	transport   transport.Transport
	config      Config
	logger      Logger
	metrics     eventstore.MetricsCollector
	onAbandoned func(Record)
}

// ProcessorOption defines a functional option for configuring Processor.
type ProcessorOption func(*Processor)

// WithLogger sets the logger for the Processor.
func WithLogger(logger Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collector for the Processor. It receives
// publish durations plus counters for published, failed, and abandoned records.
func WithMetrics(collector eventstore.MetricsCollector) ProcessorOption {
	return func(p *Processor) {
		p.metrics = collector
	}
}

// WithOnAbandoned sets a callback invoked for every record marked abandoned,
// so operators can be alerted.
func WithOnAbandoned(fn func(Record)) ProcessorOption {
	return func(p *Processor) {
		p.onAbandoned = fn
	}
}

// NewProcessor creates a Processor with defaults filled in for zero config values.
func NewProcessor(store Store, tp transport.Transport, config Config, options ...ProcessorOption) *Processor {
	if config.PollInterval <= 0 {
		config.PollInterval = defaultPollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaultBatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaultMaxAttempts
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = defaultBaseDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaultMaxDelay
	}
	if config.JitterFactor <= 0 {
		config.JitterFactor = defaultJitterFactor
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = defaultPublishTimeout
	}
	if config.BackfillSuffix == "" {
		config.BackfillSuffix = defaultBackfillSuffix
	}

	p := &Processor{
		store:     store,
		transport: tp,
		config:    config,
	}

	for _, option := range options {
		option(p)
	}

	return p
}

// Run polls the outbox until the context is canceled.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logInfo(logMsgProcessorStopped)
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick claims and processes one batch of due pending records.
// It is exported so hosts can drive the processor from their own scheduler.
func (p *Processor) Tick(ctx context.Context) {
	records, claimErr := p.store.ClaimPending(ctx, p.config.BatchSize, time.Now())
	if claimErr != nil {
		p.logError(logMsgClaimFailed, logAttrError, claimErr.Error())
		return
	}

	for _, record := range records {
		p.publishAndMark(ctx, record)
	}
}

func (p *Processor) publishAndMark(ctx context.Context, record Record) {
	publishCtx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
	defer cancel()

	start := time.Now()
	publishErr := p.transport.Publish(publishCtx, p.messageFor(record))
	p.recordDuration(metricPublishDuration, time.Since(start), record.Stream)

	if publishErr != nil {
		p.incrementCounter(metricPublishFailures, record.Stream)
		p.handlePublishFailure(ctx, record, publishErr)

		return
	}

	p.incrementCounter(metricRecordsPublished, record.Stream)

	// Broker acknowledged: only now may the record be marked published.
	if markErr := p.store.MarkPublished(ctx, record.MessageID); markErr != nil {
		// The record stays pending and will be retried; consumers must
		// tolerate the resulting duplicate delivery.
		p.logWarn(logMsgMarkFailed, logAttrError, markErr.Error(), logAttrMessageID, record.MessageID)
		return
	}

	p.logDebug(logMsgRecordPublished, logAttrMessageID, record.MessageID, logAttrStream, record.Stream)
}

func (p *Processor) handlePublishFailure(ctx context.Context, record Record, publishErr error) {
	attempts := record.Attempts + 1

	if attempts >= p.config.MaxAttempts {
		if abandonErr := p.store.MarkAbandoned(ctx, record.MessageID, attempts); abandonErr != nil {
			p.logError(logMsgAbandonFailed, logAttrError, abandonErr.Error(), logAttrMessageID, record.MessageID)
			return
		}

		p.logError(logMsgRecordAbandoned,
			logAttrMessageID, record.MessageID,
			logAttrStream, record.Stream,
			logAttrAttempts, attempts,
			logAttrError, publishErr.Error(),
		)
		p.incrementCounter(metricRecordsAbandoned, record.Stream)

		if p.onAbandoned != nil {
			record.Status = StatusAbandoned
			record.Attempts = attempts
			p.onAbandoned(record)
		}

		return
	}

	nextAttemptAt := time.Now().Add(p.backoffDelay(attempts))

	if rescheduleErr := p.store.Reschedule(ctx, record.MessageID, attempts, nextAttemptAt); rescheduleErr != nil {
		p.logError(logMsgRescheduleFailed, logAttrError, rescheduleErr.Error(), logAttrMessageID, record.MessageID)
		return
	}

	p.logWarn(logMsgPublishFailed,
		logAttrError, publishErr.Error(),
		logAttrMessageID, record.MessageID,
		logAttrAttempts, attempts,
		logAttrNextAttemptAt, nextAttemptAt,
	)
}

// messageFor converts a record to a broker message, routing records below the
// priority threshold to the backfill-lane stream. This is purely a routing
// decision at publish time; delivery semantics are unchanged.
func (p *Processor) messageFor(record Record) transport.Message {
	stream := record.Stream
	if record.Priority < p.config.PriorityThreshold {
		stream = transport.BackfillStream(record.Stream, p.config.BackfillSuffix)
	}

	return transport.Message{
		ID:      record.MessageID,
		Stream:  stream,
		Payload: record.Payload,
		Headers: record.Headers,
	}
}

// backoffDelay computes the exponential backoff delay for the given attempt
// count with jitter to prevent thundering herd, capped at MaxDelay.
func (p *Processor) backoffDelay(attempts int) time.Duration {
	delay := p.config.BaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= p.config.MaxDelay {
			delay = p.config.MaxDelay
			break
		}
	}

	jitter := rand.Float64() * float64(delay) * p.config.JitterFactor //nolint:gosec //math/rand is sufficient for jitter

	capped := delay + time.Duration(jitter)
	if capped > p.config.MaxDelay {
		capped = p.config.MaxDelay
	}

	return capped
}

func (p *Processor) incrementCounter(metric string, stream string) {
	if p.metrics != nil {
		p.metrics.IncrementCounter(metric, map[string]string{labelStream: stream})
	}
}

func (p *Processor) recordDuration(metric string, duration time.Duration, stream string) {
	if p.metrics != nil {
		p.metrics.RecordDuration(metric, duration, map[string]string{labelStream: stream})
	}
}

func (p *Processor) logDebug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) logInfo(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Processor) logWarn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}

func (p *Processor) logError(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Error(msg, args...)
	}
}
