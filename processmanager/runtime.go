// Package processmanager runs stateful, event-sourced coordinators spanning
// multiple aggregate streams via a correlation key.
//
// A Definition declares which event types the process manager correlates,
// which of those start an instance, and how an instance's state evolves
// (Apply) and which commands it issues (React). The Runtime routes each
// incoming event to its instance stream, replays the instance, appends the
// event with optimistic concurrency and forwards issued commands to the
// command submission boundary.
package processmanager

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/proteanhq/eventengine-go/eventstore"
	"github.com/proteanhq/eventengine-go/outbox"
	"github.com/proteanhq/eventengine-go/subscription"
	"github.com/proteanhq/eventengine-go/transport"
)

const (
	logMsgEventIgnored      = "processmanager: non-starting event without instance ignored"
	logMsgInstanceCompleted = "processmanager: event for completed instance ignored"
	logMsgDuplicateIgnored  = "processmanager: already applied event ignored"
	logMsgCommandsIssued    = "processmanager: commands issued"

	logAttrProcessManager = "process_manager"
	logAttrEventType      = "event_type"
	logAttrEventID        = "event_id"
	logAttrCorrelationKey = "correlation_key"
	logAttrInstanceStream = "instance_stream"
	logAttrCommandCount   = "command_count"
)

var (
	// ErrNilEventStorage is returned when a nil event storage is provided.
	ErrNilEventStorage = errors.New("event storage must not be nil")

	// ErrNilDispatcher is returned when a nil command dispatcher is provided.
	ErrNilDispatcher = errors.New("command dispatcher must not be nil")

	// ErrDispatchingCommandFailed is returned when forwarding a command failed.
	ErrDispatchingCommandFailed = errors.New("dispatching process manager command failed")
)

// EventStorage is the slice of the event store engine the runtime needs for
// instance streams. Both the Postgres and the in-process engine satisfy it.
type EventStorage interface {
	Append(
		ctx context.Context,
		stream eventstore.StreamName,
		expectedVersion eventstore.StreamVersionUint,
		records eventstore.EventRecords,
		staged outbox.Records,
	) (eventstore.StreamVersionUint, error)

	ReadStream(
		ctx context.Context,
		stream eventstore.StreamName,
		fromVersion eventstore.StreamVersionUint,
		limit uint,
	) (eventstore.EventRecords, error)
}

// Runtime hosts registered process manager definitions and routes incoming
// events to their instances.
//
// It holds explicit handles to storage and dispatcher; nothing is ambient.
type Runtime struct {
	store       EventStorage
	dispatcher  CommandDispatcher
	byEventType map[string][]*Definition
	logger      eventstore.Logger
}

// RuntimeOption defines a functional option for configuring Runtime.
type RuntimeOption func(*Runtime)

// WithLogger sets the logger.
func WithLogger(logger eventstore.Logger) RuntimeOption {
	return func(r *Runtime) {
		r.logger = logger
	}
}

// NewRuntime creates a Runtime on the given storage and dispatcher.
func NewRuntime(store EventStorage, dispatcher CommandDispatcher, options ...RuntimeOption) (*Runtime, error) {
	if store == nil {
		return nil, ErrNilEventStorage
	}

	if dispatcher == nil {
		return nil, ErrNilDispatcher
	}

	r := &Runtime{
		store:       store,
		dispatcher:  dispatcher,
		byEventType: make(map[string][]*Definition),
	}

	for _, option := range options {
		option(r)
	}

	return r, nil
}

// Register validates the definition and adds it to the dispatch table.
// The table is keyed by event type and resolved once at startup.
func (r *Runtime) Register(def *Definition) error {
	if err := def.validate(); err != nil {
		return err
	}

	for eventType := range def.Correlate {
		r.byEventType[eventType] = append(r.byEventType[eventType], def)
	}

	return nil
}

// Handle routes one event to every registered definition interested in its
// type. Events of types no definition correlates are ignored.
func (r *Runtime) Handle(ctx context.Context, event eventstore.EventRecord) error {
	for _, def := range r.byEventType[event.EventType] {
		if err := r.handleFor(ctx, def, event); err != nil {
			return err
		}
	}

	return nil
}

// MessageHandler adapts the runtime to the subscription engine's handler
// contract. Malformed envelopes are fatal; they would fail identically on
// every retry.
func (r *Runtime) MessageHandler() subscription.Handler {
	return func(ctx context.Context, message transport.Message) error {
		event, buildErr := eventFromMessage(message)
		if buildErr != nil {
			return subscription.Fatal(buildErr)
		}

		return r.Handle(ctx, event)
	}
}

// handleFor runs one event through one definition: resolve the correlation
// key, replay the instance, append the event with optimistic concurrency
// (conflicts reload and retry) and dispatch the commands React issued.
func (r *Runtime) handleFor(ctx context.Context, def *Definition, event eventstore.EventRecord) error {
	correlate := def.Correlate[event.EventType]

	key, correlateErr := correlate(event.PayloadJSON)
	if correlateErr != nil {
		return correlateErr
	}

	stream, streamErr := eventstore.BuildStreamName(def.Name, key)
	if streamErr != nil {
		return streamErr
	}

	var commands []Command

	retryErr := eventstore.RetryOnConcurrencyConflict(ctx, func(ctx context.Context) error {
		var attemptErr error
		commands, attemptErr = r.applyToInstance(ctx, def, stream, event)

		return attemptErr
	})
	if retryErr != nil {
		return retryErr
	}

	for _, command := range commands {
		if dispatchErr := r.dispatcher.Dispatch(ctx, command); dispatchErr != nil {
			return errors.Join(ErrDispatchingCommandFailed, dispatchErr)
		}
	}

	if len(commands) > 0 {
		r.logDebug(logMsgCommandsIssued,
			logAttrProcessManager, def.Name,
			logAttrCorrelationKey, key,
			logAttrCommandCount, len(commands),
		)
	}

	return nil
}

// applyToInstance is one optimistic attempt: replay, append, apply, react.
func (r *Runtime) applyToInstance(
	ctx context.Context,
	def *Definition,
	stream eventstore.StreamName,
	event eventstore.EventRecord,
) ([]Command, error) {

	history, readErr := r.store.ReadStream(ctx, stream, 0, 0)
	if readErr != nil {
		return nil, readErr
	}

	// Instance streams carry no idempotency tokens, so redelivery after a
	// crash-before-ack reaches this point again. The replayed history is the
	// deduplication record: an event id already on the stream was applied,
	// and re-running React would re-issue its commands.
	if historyContains(history, event.Metadata.EventID) {
		r.logDebug(logMsgDuplicateIgnored,
			logAttrProcessManager, def.Name,
			logAttrEventType, event.EventType,
			logAttrEventID, event.Metadata.EventID,
			logAttrInstanceStream, stream.String(),
		)

		return nil, nil
	}

	if len(history) == 0 && !def.isStart(event.EventType) {
		r.logDebug(logMsgEventIgnored,
			logAttrProcessManager, def.Name,
			logAttrEventType, event.EventType,
			logAttrInstanceStream, stream.String(),
		)

		return nil, nil
	}

	state := def.NewState()
	for _, past := range history {
		def.Apply(state, past)
	}

	if state.Completed() {
		r.logDebug(logMsgInstanceCompleted,
			logAttrProcessManager, def.Name,
			logAttrEventType, event.EventType,
			logAttrInstanceStream, stream.String(),
		)

		return nil, nil
	}

	instanceRecord, buildErr := eventstore.BuildEventRecordWithMetadata(
		stream, event.EventType, event.OccurredAt, event.PayloadJSON, event.Metadata,
	)
	if buildErr != nil {
		return nil, buildErr
	}

	expectedVersion := eventstore.StreamVersionUint(len(history))
	if _, appendErr := r.store.Append(ctx, stream, expectedVersion, eventstore.EventRecords{instanceRecord}, nil); appendErr != nil {
		return nil, appendErr
	}

	def.Apply(state, event)

	if def.isTerminal(event.EventType) {
		state.Complete()
	}

	if def.React == nil {
		return nil, nil
	}

	return def.React(ctx, state, event)
}

// historyContains reports whether an event with the given id is already on the
// instance stream. An empty id never matches; without an id there is nothing
// to deduplicate on.
func historyContains(history eventstore.EventRecords, eventID string) bool {
	if eventID == "" {
		return false
	}

	for _, past := range history {
		if past.Metadata.EventID == eventID {
			return true
		}
	}

	return false
}

func (r *Runtime) logDebug(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}

// eventFromMessage rebuilds an event record from a broker message envelope.
func eventFromMessage(message transport.Message) (eventstore.EventRecord, error) {
	stream, parseErr := eventstore.ParseStreamName(message.Headers[transport.HeaderStream])
	if parseErr != nil {
		return eventstore.EventRecord{}, parseErr
	}

	occurredAt := time.Now()
	if raw := message.Headers[transport.HeaderOccurredAt]; raw != "" {
		if parsed, timeErr := time.Parse(time.RFC3339Nano, raw); timeErr == nil {
			occurredAt = parsed
		}
	}

	priority := 0
	if raw := message.Headers[transport.HeaderPriority]; raw != "" {
		if parsed, atoiErr := strconv.Atoi(raw); atoiErr == nil {
			priority = parsed
		}
	}

	return eventstore.BuildEventRecordWithMetadata(
		stream,
		message.Headers[transport.HeaderEventType],
		occurredAt,
		message.Payload,
		eventstore.Metadata{
			EventID:          message.Headers[transport.HeaderEventID],
			CausationID:      message.Headers[transport.HeaderCausationID],
			CorrelationID:    message.Headers[transport.HeaderCorrelationID],
			IdempotencyToken: message.Headers[transport.HeaderIdempotencyToken],
			Priority:         priority,
		},
	)
}
