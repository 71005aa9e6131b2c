// Package memorystore implements the idempotency cache in process memory,
// for tests and examples. Expiry is checked lazily on read.
package memorystore

import (
	"context"
	"sync"
	"time"

	"github.com/proteanhq/eventengine-go/idempotency"
)

// Store is the in-process idempotency cache.
type Store struct {
	mu      sync.Mutex
	records map[string]idempotency.Record
}

// NewStore creates an empty in-process idempotency cache.
func NewStore() *Store {
	return &Store{records: make(map[string]idempotency.Record)}
}

// Get returns the record for the token if one exists and has not expired.
func (s *Store) Get(_ context.Context, token string) (idempotency.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, found := s.liveRecord(token)

	return record, found, nil
}

// Begin transitions an absent token to pending.
func (s *Store) Begin(_ context.Context, token string, ttl time.Duration) (bool, idempotency.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, found := s.liveRecord(token); found {
		return false, existing, nil
	}

	record := idempotency.Record{
		Token:     token,
		Status:    idempotency.StatusPending,
		ExpiresAt: time.Now().Add(ttl),
	}
	s.records[token] = record

	return true, record, nil
}

// Complete writes the authoritative success record.
func (s *Store) Complete(_ context.Context, token string, result []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[token] = idempotency.Record{
		Token:     token,
		Status:    idempotency.StatusSuccess,
		Result:    result,
		ExpiresAt: time.Now().Add(ttl),
	}

	return nil
}

// Fail writes a short-TTL error record unless a success record exists.
func (s *Store) Fail(_ context.Context, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, found := s.liveRecord(token); found && existing.Status == idempotency.StatusSuccess {
		return nil
	}

	s.records[token] = idempotency.Record{
		Token:     token,
		Status:    idempotency.StatusError,
		ExpiresAt: time.Now().Add(ttl),
	}

	return nil
}

// liveRecord returns the unexpired record for the token, dropping expired ones.
// Callers must hold the mutex.
func (s *Store) liveRecord(token string) (idempotency.Record, bool) {
	record, found := s.records[token]
	if !found {
		return idempotency.Record{}, false
	}

	if time.Now().After(record.ExpiresAt) {
		delete(s.records, token)
		return idempotency.Record{}, false
	}

	return record, true
}
