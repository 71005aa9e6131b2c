// Package engine is the composition root tying the event store, the outbox
// and the idempotency guard together.
//
// Commit is the sole write path from domain logic into the event store: it
// appends events and stages their outbox records in one transaction. Submit
// is the command submission boundary, the only place idempotency tokens are
// accepted.
package engine

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/proteanhq/eventengine-go/eventstore"
	"github.com/proteanhq/eventengine-go/idempotency"
	"github.com/proteanhq/eventengine-go/outbox"
	"github.com/proteanhq/eventengine-go/processmanager"
	"github.com/proteanhq/eventengine-go/transport"
)

const defaultHandlerTimeout = 10 * time.Second

const (
	logMsgEventsCommitted  = "engine: events committed"
	logMsgCommandSubmitted = "engine: command submitted"
	logMsgDuplicateCommand = "engine: duplicate command, cached result returned"

	logAttrStream      = "stream"
	logAttrEventCount  = "event_count"
	logAttrNewVersion  = "new_version"
	logAttrCommandType = "command_type"
)

var (
	// ErrNilEventStorage is returned when a nil event storage is provided.
	ErrNilEventStorage = errors.New("event storage must not be nil")

	// ErrNilGuard is returned when a nil idempotency guard is provided.
	ErrNilGuard = errors.New("idempotency guard must not be nil")

	// ErrNilHandler is returned when a nil handler is registered.
	ErrNilHandler = errors.New("command handler must not be nil")

	// ErrEmptyCommandType is returned when a handler is registered without a command type.
	ErrEmptyCommandType = errors.New("command type must not be empty")

	// ErrHandlerAlreadyRegistered is returned when a command type is registered twice.
	ErrHandlerAlreadyRegistered = errors.New("command type already has a handler")

	// ErrUnknownCommandType is returned when no handler is registered for a submitted command.
	ErrUnknownCommandType = errors.New("no handler registered for command type")
)

// Command is an instruction submitted to the engine. Concrete commands are
// plain structs with a type discriminator; handlers type-assert to their
// command struct. The alias lets process manager commands flow through
// Submit unchanged.
type Command = processmanager.Command

// CommandHandler executes one command and returns its result.
type CommandHandler func(ctx context.Context, command Command) ([]byte, error)

// EventStorage is the slice of the event store engine Commit needs.
// Both the Postgres and the in-process engine satisfy it.
type EventStorage interface {
	Append(
		ctx context.Context,
		stream eventstore.StreamName,
		expectedVersion eventstore.StreamVersionUint,
		records eventstore.EventRecords,
		staged outbox.Records,
	) (eventstore.StreamVersionUint, error)
}

// Engine is the explicit handle each worker holds to commit events and
// submit commands. There is no ambient singleton.
type Engine struct {
	store          EventStorage
	guard          *idempotency.Guard
	handlers       map[string]CommandHandler
	handlerTimeout time.Duration
	logger         eventstore.Logger
}

// Option defines a functional option for configuring Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger eventstore.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithHandlerTimeout bounds each command handler invocation. Exceeding it is
// a failure, never a success. A zero timeout disables the bound.
func WithHandlerTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		e.handlerTimeout = timeout
	}
}

// NewEngine creates an Engine on the given event storage and idempotency guard.
func NewEngine(store EventStorage, guard *idempotency.Guard, options ...Option) (*Engine, error) {
	if store == nil {
		return nil, ErrNilEventStorage
	}

	if guard == nil {
		return nil, ErrNilGuard
	}

	e := &Engine{
		store:          store,
		guard:          guard,
		handlers:       make(map[string]CommandHandler),
		handlerTimeout: defaultHandlerTimeout,
	}

	for _, option := range options {
		option(e)
	}

	return e, nil
}

// Commit appends the events to the stream and stages one outbox record per
// event in the same transaction. The outbox records target the category
// stream, with the event's envelope carried as message headers and its
// priority taken from metadata.
//
// A version mismatch returns eventstore.ErrConcurrencyConflict and applies
// nothing; the caller must reload and retry.
func (e *Engine) Commit(
	ctx context.Context,
	stream eventstore.StreamName,
	expectedVersion eventstore.StreamVersionUint,
	records eventstore.EventRecords,
) (eventstore.StreamVersionUint, error) {

	staged := make(outbox.Records, 0, len(records))
	for _, record := range records {
		outboxRecord, buildErr := outbox.BuildRecord(
			string(record.Stream.Category()),
			record.PayloadJSON,
			messageHeaders(record),
			record.Metadata.Priority,
		)
		if buildErr != nil {
			return 0, buildErr
		}

		staged = append(staged, outboxRecord)
	}

	newVersion, appendErr := e.store.Append(ctx, stream, expectedVersion, records, staged)
	if appendErr != nil {
		return 0, appendErr
	}

	e.logDebug(logMsgEventsCommitted,
		logAttrStream, stream.String(),
		logAttrEventCount, len(records),
		logAttrNewVersion, newVersion,
	)

	return newVersion, nil
}

// Register adds the handler for the command type to the dispatch table.
// The table is resolved once at startup; Submit never uses reflection.
func (e *Engine) Register(commandType string, handler CommandHandler) error {
	if commandType == "" {
		return ErrEmptyCommandType
	}

	if handler == nil {
		return ErrNilHandler
	}

	if _, exists := e.handlers[commandType]; exists {
		return ErrHandlerAlreadyRegistered
	}

	e.handlers[commandType] = handler

	return nil
}

// SubmitOption configures one Submit call.
type SubmitOption func(*submitConfig)

type submitConfig struct {
	token             string
	explicitDuplicate bool
}

// WithIdempotencyToken attaches the caller-supplied token to the submission.
// Submitting twice with the same token returns the original result without
// re-executing. Tokens are always caller-supplied, never derived from the
// command payload.
func WithIdempotencyToken(token string) SubmitOption {
	return func(c *submitConfig) {
		c.token = token
	}
}

// WithExplicitDuplicateDetection makes a duplicate submission return the
// cached result wrapped in *idempotency.DuplicateError instead of silently.
// For callers that need to distinguish a retry from a fresh success.
func WithExplicitDuplicateDetection() SubmitOption {
	return func(c *submitConfig) {
		c.explicitDuplicate = true
	}
}

// Submit executes the command through its registered handler under the
// idempotency guard. Callers see either a definitive result or a definitive
// error; handler invocations are bounded by the handler timeout.
func (e *Engine) Submit(ctx context.Context, command Command, options ...SubmitOption) ([]byte, error) {
	config := submitConfig{}
	for _, option := range options {
		option(&config)
	}

	handler, registered := e.handlers[command.CommandType()]
	if !registered {
		return nil, ErrUnknownCommandType
	}

	execute := func(ctx context.Context) ([]byte, error) {
		runCtx := ctx
		if e.handlerTimeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, e.handlerTimeout)
			defer cancel()
		}

		return handler(runCtx, command)
	}

	result, duplicate, runErr := e.guard.Run(ctx, config.token, execute)
	if runErr != nil {
		return nil, runErr
	}

	if duplicate {
		e.logDebug(logMsgDuplicateCommand, logAttrCommandType, command.CommandType())

		if config.explicitDuplicate {
			return result, &idempotency.DuplicateError{Result: result}
		}

		return result, nil
	}

	e.logDebug(logMsgCommandSubmitted, logAttrCommandType, command.CommandType())

	return result, nil
}

// Dispatch forwards a process manager command through Submit. It satisfies
// the processmanager.CommandDispatcher contract.
func (e *Engine) Dispatch(ctx context.Context, command Command) error {
	_, err := e.Submit(ctx, command)
	return err
}

func (e *Engine) logDebug(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}

// messageHeaders builds the broker message headers from an event's envelope.
func messageHeaders(record eventstore.EventRecord) map[string]string {
	headers := map[string]string{
		transport.HeaderEventID:    record.Metadata.EventID,
		transport.HeaderEventType:  record.EventType,
		transport.HeaderStream:     record.Stream.String(),
		transport.HeaderOccurredAt: record.OccurredAt.Format(time.RFC3339Nano),
	}

	if record.Metadata.CausationID != "" {
		headers[transport.HeaderCausationID] = record.Metadata.CausationID
	}

	if record.Metadata.CorrelationID != "" {
		headers[transport.HeaderCorrelationID] = record.Metadata.CorrelationID
	}

	if record.Metadata.IdempotencyToken != "" {
		headers[transport.HeaderIdempotencyToken] = record.Metadata.IdempotencyToken
	}

	if record.Metadata.Priority != 0 {
		headers[transport.HeaderPriority] = strconv.Itoa(record.Metadata.Priority)
	}

	return headers
}
