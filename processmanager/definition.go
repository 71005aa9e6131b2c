package processmanager

import (
	"context"
	"errors"

	jsoniter "github.com/json-iterator/go"

	"github.com/proteanhq/eventengine-go/eventstore"
)

var (
	// ErrEmptyDefinitionName is returned when a definition has no name.
	ErrEmptyDefinitionName = errors.New("process manager definition name must not be empty")

	// ErrNoCorrelatedEventTypes is returned when a definition correlates no event types.
	ErrNoCorrelatedEventTypes = errors.New("process manager definition must correlate at least one event type")

	// ErrNoStartingEventTypes is returned when a definition declares no starting event types.
	ErrNoStartingEventTypes = errors.New("process manager definition must declare at least one starting event type")

	// ErrStartNotCorrelated is returned when a starting event type has no correlation mapping.
	ErrStartNotCorrelated = errors.New("starting event type must have a correlation mapping")

	// ErrNilStateFactory is returned when a definition has no state factory.
	ErrNilStateFactory = errors.New("process manager definition must have a state factory")

	// ErrNilApplyFunc is returned when a definition has no apply function.
	ErrNilApplyFunc = errors.New("process manager definition must have an apply function")

	// ErrCorrelationKeyMissing is returned when the correlation field is absent or empty.
	ErrCorrelationKeyMissing = errors.New("correlation key missing from event payload")
)

// State is the local state of one process manager instance.
//
// Implementations embed Completion to get the lifecycle methods, or provide
// their own when completion derives from domain fields.
type State interface {
	// Complete ends the instance's lifecycle. Events arriving afterwards
	// are ignored.
	Complete()

	// Completed reports whether the instance's lifecycle has ended.
	Completed() bool
}

// Completion is an embeddable completion flag implementing the lifecycle
// part of State.
type Completion struct {
	done bool
}

func (c *Completion) Complete() {
	c.done = true
}

func (c *Completion) Completed() bool {
	return c.done
}

// Command is an outbound instruction a process manager issues to another
// aggregate. Concrete commands are plain structs with a type discriminator.
type Command interface {
	CommandType() string
}

// CommandDispatcher forwards commands issued by process manager instances
// to the command submission boundary.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, command Command) error
}

// CorrelateFunc extracts the correlation key from an event payload.
type CorrelateFunc func(payload []byte) (string, error)

// ApplyFunc mutates instance state with one event. It must be a pure state
// transition: no I/O, no command emission.
type ApplyFunc func(state State, event eventstore.EventRecord)

// ReactFunc decides which commands the instance issues in response to one
// event, after Apply has run. Compensation for failed downstream steps is
// ordinary ReactFunc logic issuing compensating commands; persisted events
// are never undone.
type ReactFunc func(ctx context.Context, state State, event eventstore.EventRecord) ([]Command, error)

// Definition declares one process manager: which event types it correlates,
// which of those start an instance, and how instances evolve and react.
//
// The correlation key is a business field present on all relevant event
// types, possibly under different names per type, mapped explicitly through
// Correlate. Instances live on streams named "<Name>-<correlationKey>".
type Definition struct {
	// Name is the stream category of this process manager's instances.
	Name string

	// Correlate maps each event type of interest to its key extraction.
	Correlate map[string]CorrelateFunc

	// Starts lists the event types that create a new instance. Non-starting
	// events with no existing instance are ignored.
	Starts []string

	// Terminal lists event types that complete the instance after Apply.
	// Optional; handlers may instead call State.Complete explicitly.
	Terminal []string

	// NewState creates a zero-value instance state.
	NewState func() State

	// Apply is the state transition.
	Apply ApplyFunc

	// React is the command emission. Optional; a nil React issues no commands.
	React ReactFunc

	starts   map[string]struct{}
	terminal map[string]struct{}
}

// validate checks the definition and builds the internal lookup sets.
func (d *Definition) validate() error {
	if d.Name == "" {
		return ErrEmptyDefinitionName
	}

	if len(d.Correlate) == 0 {
		return ErrNoCorrelatedEventTypes
	}

	if len(d.Starts) == 0 {
		return ErrNoStartingEventTypes
	}

	if d.NewState == nil {
		return ErrNilStateFactory
	}

	if d.Apply == nil {
		return ErrNilApplyFunc
	}

	d.starts = make(map[string]struct{}, len(d.Starts))
	for _, eventType := range d.Starts {
		if _, ok := d.Correlate[eventType]; !ok {
			return ErrStartNotCorrelated
		}

		d.starts[eventType] = struct{}{}
	}

	d.terminal = make(map[string]struct{}, len(d.Terminal))
	for _, eventType := range d.Terminal {
		d.terminal[eventType] = struct{}{}
	}

	return nil
}

func (d *Definition) isStart(eventType string) bool {
	_, ok := d.starts[eventType]
	return ok
}

func (d *Definition) isTerminal(eventType string) bool {
	_, ok := d.terminal[eventType]
	return ok
}

// CorrelateField builds a CorrelateFunc reading a top-level string field
// from the event payload. Use it when the correlation key appears under
// different field names per event type.
func CorrelateField(fieldName string) CorrelateFunc {
	return func(payload []byte) (string, error) {
		key := jsoniter.ConfigFastest.Get(payload, fieldName).ToString()
		if key == "" {
			return "", ErrCorrelationKeyMissing
		}

		return key, nil
	}
}
