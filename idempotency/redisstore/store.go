// Package redisstore implements the idempotency cache on Redis.
//
// Each token maps to a Redis hash holding status and result, expired by TTL.
// The pending transition uses HSETNX and the error transition a small Lua
// script, so the invariant that a success record never regresses holds under
// concurrent writers.
package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/proteanhq/eventengine-go/idempotency"
)

const (
	defaultKeyPrefix = "idempotency:"

	fieldStatus = "status"
	fieldResult = "result"
)

// failScript writes an error record only when the current status is not success.
var failScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') == 'success' then
  return 0
end
redis.call('HSET', KEYS[1], 'status', 'error', 'result', '')
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return 1
`)

// Store is the Redis idempotency cache.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

// Option defines a functional option for configuring Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix for idempotency records.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.keyPrefix = prefix
		}
	}
}

// NewStore creates a Store on an existing Redis client.
func NewStore(client *redis.Client, options ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: defaultKeyPrefix,
	}

	for _, option := range options {
		option(s)
	}

	return s
}

// Get returns the record for the token if one exists and has not expired.
// Redis drops expired keys itself, so a missing hash simply means absent.
func (s *Store) Get(ctx context.Context, token string) (idempotency.Record, bool, error) {
	key := s.keyFor(token)

	values, getErr := s.client.HGetAll(ctx, key).Result()
	if getErr != nil {
		return idempotency.Record{}, false, errors.Join(idempotency.ErrStoreUnavailable, getErr)
	}

	if len(values) == 0 {
		return idempotency.Record{}, false, nil
	}

	record := idempotency.Record{
		Token:  token,
		Status: idempotency.Status(values[fieldStatus]),
		Result: []byte(values[fieldResult]),
	}

	if ttl, ttlErr := s.client.PTTL(ctx, key).Result(); ttlErr == nil && ttl > 0 {
		record.ExpiresAt = time.Now().Add(ttl)
	}

	return record, true, nil
}

// Begin transitions an absent token to pending via HSETNX.
func (s *Store) Begin(ctx context.Context, token string, ttl time.Duration) (bool, idempotency.Record, error) {
	key := s.keyFor(token)

	created, setErr := s.client.HSetNX(ctx, key, fieldStatus, string(idempotency.StatusPending)).Result()
	if setErr != nil {
		return false, idempotency.Record{}, errors.Join(idempotency.ErrStoreUnavailable, setErr)
	}

	if created {
		if expireErr := s.client.PExpire(ctx, key, ttl).Err(); expireErr != nil {
			return false, idempotency.Record{}, errors.Join(idempotency.ErrStoreUnavailable, expireErr)
		}

		return true, idempotency.Record{
			Token:     token,
			Status:    idempotency.StatusPending,
			ExpiresAt: time.Now().Add(ttl),
		}, nil
	}

	existing, _, getErr := s.Get(ctx, token)
	if getErr != nil {
		return false, idempotency.Record{}, getErr
	}

	return false, existing, nil
}

// Complete writes the authoritative success record.
func (s *Store) Complete(ctx context.Context, token string, result []byte, ttl time.Duration) error {
	key := s.keyFor(token)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fieldStatus, string(idempotency.StatusSuccess), fieldResult, string(result))
	pipe.PExpire(ctx, key, ttl)

	if _, execErr := pipe.Exec(ctx); execErr != nil {
		return errors.Join(idempotency.ErrStoreUnavailable, execErr)
	}

	return nil
}

// Fail writes a short-TTL error record unless a success record exists.
func (s *Store) Fail(ctx context.Context, token string, ttl time.Duration) error {
	if runErr := failScript.Run(ctx, s.client, []string{s.keyFor(token)}, ttl.Milliseconds()).Err(); runErr != nil {
		return errors.Join(idempotency.ErrStoreUnavailable, runErr)
	}

	return nil
}

func (s *Store) keyFor(token string) string {
	return s.keyPrefix + token
}
