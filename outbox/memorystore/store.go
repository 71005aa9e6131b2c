// Package memorystore implements the outbox store in process memory,
// for tests and examples.
package memorystore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/proteanhq/eventengine-go/outbox"
)

const defaultClaimLease = 30 * time.Second

// Store is the in-process outbox store.
type Store struct {
	mu         sync.Mutex
	records    map[string]*outbox.Record
	order      []string
	nextSeq    int64
	claimLease time.Duration
}

// NewStore creates an empty in-process outbox store.
func NewStore() *Store {
	return &Store{
		records:    make(map[string]*outbox.Record),
		claimLease: defaultClaimLease,
	}
}

// Add stages records as pending. It satisfies memoryengine.OutboxSink.
func (s *Store) Add(records outbox.Records) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range records {
		record := record
		if record.Status == "" {
			record.Status = outbox.StatusPending
		}
		if record.CreatedAt.IsZero() {
			record.CreatedAt = time.Now()
		}

		s.nextSeq++
		record.Seq = s.nextSeq

		s.records[record.MessageID] = &record
		s.order = append(s.order, record.MessageID)
	}
}

// ClaimPending returns up to limit due pending records ordered by priority then
// staging sequence, leasing them so a concurrent claim skips them.
func (s *Store) ClaimPending(_ context.Context, limit int, now time.Time) (outbox.Records, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*outbox.Record, 0)
	for _, id := range s.order {
		record := s.records[id]
		if record.Status == outbox.StatusPending && !record.NextAttemptAt.After(now) {
			due = append(due, record)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].Seq < due[j].Seq
	})

	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make(outbox.Records, 0, len(due))
	for _, record := range due {
		record.NextAttemptAt = now.Add(s.claimLease)
		claimed = append(claimed, *record)
	}

	return claimed, nil
}

// MarkPublished transitions a record to published.
func (s *Store) MarkPublished(_ context.Context, messageID string) error {
	return s.update(messageID, func(record *outbox.Record) {
		record.Status = outbox.StatusPublished
	})
}

// Reschedule increments the attempt count and sets the next attempt time.
func (s *Store) Reschedule(_ context.Context, messageID string, attempts int, nextAttemptAt time.Time) error {
	return s.update(messageID, func(record *outbox.Record) {
		record.Attempts = attempts
		record.NextAttemptAt = nextAttemptAt
	})
}

// MarkAbandoned transitions a record to abandoned.
func (s *Store) MarkAbandoned(_ context.Context, messageID string, attempts int) error {
	return s.update(messageID, func(record *outbox.Record) {
		record.Status = outbox.StatusAbandoned
		record.Attempts = attempts
	})
}

// PurgePublished deletes published records older than the retention cutoff.
func (s *Store) PurgePublished(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	remaining := s.order[:0]

	for _, id := range s.order {
		record := s.records[id]
		if record.Status == outbox.StatusPublished && record.CreatedAt.Before(olderThan) {
			delete(s.records, id)
			purged++
			continue
		}
		remaining = append(remaining, id)
	}

	s.order = remaining

	return purged, nil
}

// Get returns a copy of the record with the given message id, for test assertions.
func (s *Store) Get(messageID string) (outbox.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, found := s.records[messageID]
	if !found {
		return outbox.Record{}, false
	}

	return *record, true
}

// All returns copies of all records in staging order, for test assertions.
func (s *Store) All() outbox.Records {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make(outbox.Records, 0, len(s.order))
	for _, id := range s.order {
		records = append(records, *s.records[id])
	}

	return records
}

func (s *Store) update(messageID string, change func(*outbox.Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, found := s.records[messageID]
	if !found {
		return outbox.ErrRecordNotFound
	}

	change(record)

	return nil
}
