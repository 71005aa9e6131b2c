package idempotency

import (
	"context"
	"errors"
	"time"
)

const (
	defaultSuccessTTL = 24 * time.Hour
	defaultErrorTTL   = 1 * time.Minute
)

// ExecuteFunc is the unit of work protected by the guard.
type ExecuteFunc func(ctx context.Context) ([]byte, error)

// Guard wraps units of work with token-based deduplication.
//
// It implements the submission layer (Run) used by the command boundary and
// the dispatch layer (AlreadySucceeded / RecordSuccess) used by the
// subscription engine before and after handler invocation.
type Guard struct {
	store      Store
	successTTL time.Duration
	errorTTL   time.Duration
}

// GuardOption defines a functional option for configuring Guard.
type GuardOption func(*Guard)

// WithSuccessTTL sets how long success records stay authoritative.
func WithSuccessTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.successTTL = ttl
		}
	}
}

// WithErrorTTL sets the short TTL of error records.
func WithErrorTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.errorTTL = ttl
		}
	}
}

// NewGuard creates a Guard on the given store.
func NewGuard(store Store, options ...GuardOption) *Guard {
	g := &Guard{
		store:      store,
		successTTL: defaultSuccessTTL,
		errorTTL:   defaultErrorTTL,
	}

	for _, option := range options {
		option(g)
	}

	return g
}

// Run executes fn under the token.
//
// With an empty token Run is a passthrough. On a cached success the original
// result is returned without re-executing and duplicate is true. Otherwise fn
// runs: its success is cached authoritatively, its failure is cached as a
// short-TTL error record so a retry with the same token re-executes.
func (g *Guard) Run(ctx context.Context, token string, fn ExecuteFunc) (result []byte, duplicate bool, err error) {
	if token == "" {
		result, err = fn(ctx)
		return result, false, err
	}

	started, existing, beginErr := g.store.Begin(ctx, token, g.successTTL)
	if beginErr != nil {
		return nil, false, beginErr
	}

	if !started && existing.Status == StatusSuccess {
		return existing.Result, true, nil
	}

	// pending or error records do not block execution: pending covers a
	// concurrent first attempt, error permits the retry.
	result, err = fn(ctx)
	if err != nil {
		if failErr := g.store.Fail(ctx, token, g.errorTTL); failErr != nil {
			// The caller needs the execution failure; the bookkeeping
			// failure rides along.
			return nil, false, errors.Join(err, failErr)
		}

		return nil, false, err
	}

	if completeErr := g.store.Complete(ctx, token, result, g.successTTL); completeErr != nil {
		return nil, false, completeErr
	}

	return result, false, nil
}

// AlreadySucceeded reports whether the token resolved to a cached success.
// An empty token is never a duplicate.
func (g *Guard) AlreadySucceeded(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	record, found, getErr := g.store.Get(ctx, token)
	if getErr != nil {
		return false, getErr
	}

	return found && record.Status == StatusSuccess, nil
}

// RecordSuccess writes the authoritative success record for the token.
// An empty token is a no-op.
func (g *Guard) RecordSuccess(ctx context.Context, token string, result []byte) error {
	if token == "" {
		return nil
	}

	return g.store.Complete(ctx, token, result, g.successTTL)
}
