package subscription

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/proteanhq/eventengine-go/eventstore"
	"github.com/proteanhq/eventengine-go/idempotency"
	"github.com/proteanhq/eventengine-go/transport"
)

const (
	defaultBatchSize      = 10
	defaultBlockTimeout   = 500 * time.Millisecond
	maxBlockTimeout       = 1 * time.Second
	defaultMaxAttempts    = 3
	defaultBaseDelay      = 100 * time.Millisecond
	defaultJitterFactor   = 0.3
	defaultHandlerTimeout = 5 * time.Second
	defaultBackfillSuffix = ":backfill"
	defaultFlushInterval  = 5 * time.Second
	defaultFlushEveryN    = 100

	headerDeadLetterStream = "dead_letter_origin_stream"
	headerDeadLetterGroup  = "dead_letter_origin_group"
	headerDeadLetterReason = "dead_letter_reason"

	logMsgConsumeFailed     = "failed to consume from stream"
	logMsgHandlerFailed     = "handler failed, will retry"
	logMsgHandlerFatal      = "handler returned fatal error, dead-lettering"
	logMsgRetriesExhausted  = "handler retries exhausted, dead-lettering"
	logMsgDeadLetterFailed  = "failed to publish to dead-letter stream"
	logMsgAckFailed         = "failed to acknowledge delivery"
	logMsgDuplicateSkipped  = "duplicate message skipped via idempotency record"
	logMsgIdempotencyFailed = "idempotency check failed, processing anyway"
	logMsgCursorFlushFailed = "failed to flush subscription cursor"
	logMsgCursorLoadFailed  = "failed to load subscription cursor"
	logMsgCursorResumed     = "resuming from persisted cursor"
	logMsgEngineStopped     = "subscription engine stopped"
	logAttrError            = "error"
	logAttrStream           = "stream"
	logAttrGroup            = "group"
	logAttrMessageID        = "message_id"
	logAttrAttempts         = "attempts"
	logAttrIdempotencyToken = "idempotency_token"
	logAttrPosition         = "position"
	logAttrLane             = "lane"

	metricMessagesProcessed    = "subscription_messages_processed_total"
	metricMessagesDeadLettered = "subscription_messages_dead_lettered_total"
	metricDuplicatesSkipped    = "subscription_duplicates_skipped_total"
	metricHandlerDuration      = "subscription_handler_duration_seconds"
	labelGroup                 = "group"
	labelLane                  = "lane"
)

// Logger interface for operational information, warnings, and error reporting.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the externally supplied engine parameters.
// Zero values are replaced with defaults by NewEngine.
type Config struct {
	Group    string
	Consumer string

	// Stream is the primary stream; the backfill lane is derived from it with
	// BackfillSuffix.
	Stream         string
	BackfillSuffix string

	BatchSize int

	// BlockTimeout bounds the blocking backfill read so a burst of primary
	// traffic is never starved by draining backfill. It is capped at one second
	// regardless of configuration.
	BlockTimeout time.Duration

	MaxAttempts    int
	BaseDelay      time.Duration
	JitterFactor   float64
	HandlerTimeout time.Duration

	// Cursors are flushed every FlushInterval or every FlushEveryN
	// acknowledged messages, whichever comes first. That pair bounds the
	// redelivery window after a crash.
	FlushInterval time.Duration
	FlushEveryN   int
}

// Engine is one consumer of a (stream, consumer-group) pair.
//
// Lane arbitration: the primary lane is always read first with a non-blocking
// read; only when it is drained does the engine issue one bounded blocking read
// against the backfill lane, then checks primary again. Backfill volume can
// therefore delay primary delivery by at most BlockTimeout.
//
// Dispatch consults the idempotency layer before and after the handler - the
// safety net for crash-before-cursor-persist redelivery.
type Engine struct {
	transport   transport.Transport
	guard       *idempotency.Guard
	handler     Handler
	cursors     CursorStore
	config      Config
	logger      Logger
	metrics     eventstore.MetricsCollector
	deadLetters string

	resumeOnce     sync.Once
	pendingCursors map[string]Cursor
	acksSinceFlush int
	lastFlush      time.Time
}

// EngineOption defines a functional option for configuring Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger for the Engine.
func WithLogger(logger Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics collector for the Engine. It receives handler
// durations plus counters for processed, dead-lettered, and skipped messages.
func WithMetrics(collector eventstore.MetricsCollector) EngineOption {
	return func(e *Engine) {
		e.metrics = collector
	}
}

// WithCursorStore sets the cursor store; without one, cursors stay in memory
// for the lifetime of the engine only.
func WithCursorStore(store CursorStore) EngineOption {
	return func(e *Engine) {
		e.cursors = store
	}
}

// NewEngine creates an Engine with defaults filled in for zero config values.
func NewEngine(
	tp transport.Transport,
	guard *idempotency.Guard,
	handler Handler,
	config Config,
	options ...EngineOption,
) *Engine {

	if config.BatchSize <= 0 {
		config.BatchSize = defaultBatchSize
	}
	if config.BlockTimeout <= 0 {
		config.BlockTimeout = defaultBlockTimeout
	}
	if config.BlockTimeout > maxBlockTimeout {
		config.BlockTimeout = maxBlockTimeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaultMaxAttempts
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = defaultBaseDelay
	}
	if config.JitterFactor <= 0 {
		config.JitterFactor = defaultJitterFactor
	}
	if config.HandlerTimeout <= 0 {
		config.HandlerTimeout = defaultHandlerTimeout
	}
	if config.BackfillSuffix == "" {
		config.BackfillSuffix = defaultBackfillSuffix
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = defaultFlushInterval
	}
	if config.FlushEveryN <= 0 {
		config.FlushEveryN = defaultFlushEveryN
	}

	e := &Engine{
		transport:      tp,
		guard:          guard,
		handler:        handler,
		cursors:        NewMemoryCursorStore(),
		config:         config,
		deadLetters:    transport.DeadLetterStream(config.Group),
		pendingCursors: make(map[string]Cursor),
		lastFlush:      time.Now(),
	}

	for _, option := range options {
		option(e)
	}

	return e
}

// Run consumes until the context is canceled, flushing cursors on shutdown.
func (e *Engine) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			e.flushCursors(context.WithoutCancel(ctx))
			e.logInfo(logMsgEngineStopped, logAttrGroup, e.config.Group)
			return
		}

		e.Poll(ctx)
		e.maybeFlushCursors(ctx)
	}
}

// Poll runs one lane-arbitration cycle: primary first, then one bounded
// blocking backfill read when primary is drained. It is exported so hosts can
// drive the engine from their own scheduler.
func (e *Engine) Poll(ctx context.Context) {
	e.resumeOnce.Do(func() { e.loadPersistedCursors(ctx) })

	if processed := e.consumeLane(ctx, e.config.Stream, LanePrimary, 0); processed {
		return
	}

	backfillStream := transport.BackfillStream(e.config.Stream, e.config.BackfillSuffix)
	e.consumeLane(ctx, backfillStream, LaneBackfill, e.config.BlockTimeout)
}

// loadPersistedCursors reads the persisted cursors for both lanes once at
// startup and logs the resume position per lane.
//
// The broker's consumer-group state decides where reading actually resumes;
// the persisted cursor tells operators how far this consumer had confirmed
// progress before the restart, and seeds the monotonic guard in Save.
func (e *Engine) loadPersistedCursors(ctx context.Context) {
	streams := []string{
		e.config.Stream,
		transport.BackfillStream(e.config.Stream, e.config.BackfillSuffix),
	}

	for _, stream := range streams {
		cursor, found, loadErr := e.cursors.Load(ctx, e.config.Consumer, stream)
		if loadErr != nil {
			e.logWarn(logMsgCursorLoadFailed, logAttrError, loadErr.Error(), logAttrStream, stream)
			continue
		}

		if !found {
			continue
		}

		e.logInfo(logMsgCursorResumed,
			logAttrStream, stream,
			logAttrLane, cursor.Lane,
			logAttrPosition, cursor.Position,
		)
	}
}

// consumeLane reads one batch from the lane and processes it.
// Returns true when at least one message was handled.
func (e *Engine) consumeLane(ctx context.Context, stream, lane string, block time.Duration) bool {
	deliveries, consumeErr := e.transport.Consume(ctx, stream, e.config.Group, e.config.Consumer, e.config.BatchSize, block)
	if consumeErr != nil {
		if ctx.Err() == nil {
			e.logError(logMsgConsumeFailed, logAttrError, consumeErr.Error(), logAttrStream, stream)
		}
		return false
	}

	for _, delivery := range deliveries {
		e.dispatch(ctx, stream, lane, delivery)
	}

	return len(deliveries) > 0
}

// dispatch processes one delivery end to end: idempotency pre-check, handler
// invocation with retries, idempotency post-write, acknowledgment.
//
// Every exit path acknowledges the delivery; a poison message never stalls the
// consumer beyond its retry limit.
func (e *Engine) dispatch(ctx context.Context, stream, lane string, delivery transport.Delivery) {
	token := delivery.Headers[transport.HeaderIdempotencyToken]

	if token != "" && e.guard != nil {
		alreadyDone, checkErr := e.guard.AlreadySucceeded(ctx, token)
		if checkErr != nil {
			// A broken cache must not stall delivery; handler-level
			// deduplication is the remaining protection.
			e.logWarn(logMsgIdempotencyFailed, logAttrError, checkErr.Error(), logAttrIdempotencyToken, token)
		} else if alreadyDone {
			e.logDebug(logMsgDuplicateSkipped, logAttrMessageID, delivery.ID, logAttrIdempotencyToken, token)
			e.incrementCounter(metricDuplicatesSkipped, lane)
			e.ack(ctx, stream, lane, delivery)

			return
		}
	}

	start := time.Now()
	handled := e.invokeWithRetries(ctx, stream, lane, delivery)
	e.recordDuration(metricHandlerDuration, time.Since(start), lane)

	if handled {
		e.incrementCounter(metricMessagesProcessed, lane)
	}

	if handled && token != "" && e.guard != nil {
		if recordErr := e.guard.RecordSuccess(ctx, token, nil); recordErr != nil {
			e.logWarn(logMsgIdempotencyFailed, logAttrError, recordErr.Error(), logAttrIdempotencyToken, token)
		}
	}

	e.ack(ctx, stream, lane, delivery)
}

// invokeWithRetries runs the handler under its timeout, retrying retryable
// failures with backoff and dead-lettering fatal or exhausted messages.
// Returns true when the handler succeeded.
func (e *Engine) invokeWithRetries(ctx context.Context, stream, lane string, delivery transport.Delivery) bool {
	var lastErr error

	for attempt := 0; attempt < e.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			if !e.sleepWithBackoff(ctx, attempt) {
				return false
			}
		}

		handlerCtx, cancel := context.WithTimeout(ctx, e.config.HandlerTimeout)
		lastErr = e.handler(handlerCtx, delivery.Message)
		cancel()

		if lastErr == nil {
			return true
		}

		if IsFatal(lastErr) {
			e.logError(logMsgHandlerFatal, logAttrError, lastErr.Error(), logAttrMessageID, delivery.ID)
			e.deadLetter(ctx, stream, lane, delivery, lastErr)
			return false
		}

		e.logWarn(logMsgHandlerFailed,
			logAttrError, lastErr.Error(),
			logAttrMessageID, delivery.ID,
			logAttrAttempts, attempt+1,
		)
	}

	e.logError(logMsgRetriesExhausted,
		logAttrError, lastErr.Error(),
		logAttrMessageID, delivery.ID,
		logAttrAttempts, e.config.MaxAttempts,
	)
	e.deadLetter(ctx, stream, lane, delivery, lastErr)

	return false
}

// deadLetter appends the message to the consumer group's dead-letter stream
// for operator replay, preserving payload and headers.
func (e *Engine) deadLetter(ctx context.Context, stream, lane string, delivery transport.Delivery, cause error) {
	headers := make(map[string]string, len(delivery.Headers)+3)
	for key, value := range delivery.Headers {
		headers[key] = value
	}
	headers[headerDeadLetterStream] = stream
	headers[headerDeadLetterGroup] = e.config.Group
	headers[headerDeadLetterReason] = cause.Error()

	publishErr := e.transport.Publish(ctx, transport.Message{
		ID:      delivery.ID,
		Stream:  e.deadLetters,
		Payload: delivery.Payload,
		Headers: headers,
	})
	if publishErr != nil {
		e.logError(logMsgDeadLetterFailed, logAttrError, publishErr.Error(), logAttrMessageID, delivery.ID)
		return
	}

	e.incrementCounter(metricMessagesDeadLettered, lane)
}

// ack acknowledges the delivery and records its position for the next cursor flush.
func (e *Engine) ack(ctx context.Context, stream, lane string, delivery transport.Delivery) {
	if ackErr := e.transport.Ack(ctx, stream, e.config.Group, delivery.Position); ackErr != nil {
		e.logWarn(logMsgAckFailed, logAttrError, ackErr.Error(), logAttrMessageID, delivery.ID)
		return
	}

	e.pendingCursors[stream] = Cursor{
		Consumer:  e.config.Consumer,
		Stream:    stream,
		Lane:      lane,
		Position:  delivery.Position,
		UpdatedAt: time.Now(),
	}
	e.acksSinceFlush++
}

func (e *Engine) maybeFlushCursors(ctx context.Context) {
	if e.acksSinceFlush == 0 {
		return
	}

	if e.acksSinceFlush < e.config.FlushEveryN && time.Since(e.lastFlush) < e.config.FlushInterval {
		return
	}

	e.flushCursors(ctx)
}

func (e *Engine) flushCursors(ctx context.Context) {
	for stream, cursor := range e.pendingCursors {
		if saveErr := e.cursors.Save(ctx, cursor); saveErr != nil {
			e.logWarn(logMsgCursorFlushFailed, logAttrError, saveErr.Error(), logAttrStream, stream)
			continue
		}

		delete(e.pendingCursors, stream)
	}

	e.acksSinceFlush = 0
	e.lastFlush = time.Now()
}

// sleepWithBackoff waits the exponential backoff delay for the attempt with
// jitter. Returns false when the context was canceled while waiting.
func (e *Engine) sleepWithBackoff(ctx context.Context, attempt int) bool {
	delay := e.config.BaseDelay * time.Duration(1<<(attempt-1))
	jitter := rand.Float64() * float64(delay) * e.config.JitterFactor //nolint:gosec //math/rand is sufficient for jitter

	select {
	case <-time.After(delay + time.Duration(jitter)):
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) incrementCounter(metric string, lane string) {
	if e.metrics != nil {
		e.metrics.IncrementCounter(metric, map[string]string{labelGroup: e.config.Group, labelLane: lane})
	}
}

func (e *Engine) recordDuration(metric string, duration time.Duration, lane string) {
	if e.metrics != nil {
		e.metrics.RecordDuration(metric, duration, map[string]string{labelGroup: e.config.Group, labelLane: lane})
	}
}

func (e *Engine) logDebug(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}

func (e *Engine) logInfo(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Info(msg, args...)
	}
}

func (e *Engine) logWarn(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Warn(msg, args...)
	}
}

func (e *Engine) logError(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Error(msg, args...)
	}
}
