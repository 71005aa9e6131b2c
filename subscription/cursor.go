package subscription

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrSavingCursorFailed = errors.New("saving subscription cursor failed")
var ErrLoadingCursorFailed = errors.New("loading subscription cursor failed")

// Lane names recorded on cursors.
const (
	LanePrimary  = "primary"
	LaneBackfill = "backfill"
)

// Cursor is the persisted read progress of one (consumer, stream) pair.
//
// Position is the broker-assigned position of the last acknowledged message.
// The engine only ever advances its cursors, so persisted positions are
// monotonically non-decreasing as long as one engine instance owns the
// (consumer, stream) pair - which consumer groups guarantee.
type Cursor struct {
	Consumer  string
	Stream    string
	Lane      string
	Position  string
	UpdatedAt time.Time
}

// CursorStore persists subscription cursors.
//
// Persistence is periodic, not per-message: after a crash anything between the
// last flush and the crash point is redelivered, which downstream handlers and
// the idempotency layer are built to absorb.
type CursorStore interface {
	Load(ctx context.Context, consumer, stream string) (Cursor, bool, error)
	Save(ctx context.Context, cursor Cursor) error
}

// MemoryCursorStore is an in-process CursorStore for tests and examples.
type MemoryCursorStore struct {
	mu      sync.Mutex
	cursors map[string]Cursor
}

// NewMemoryCursorStore creates an empty in-process cursor store.
func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{cursors: make(map[string]Cursor)}
}

// Load returns the cursor for the (consumer, stream) pair if one was saved.
func (s *MemoryCursorStore) Load(_ context.Context, consumer, stream string) (Cursor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cursor, found := s.cursors[consumer+"/"+stream]

	return cursor, found, nil
}

// Save upserts the cursor. A save older than the stored cursor is ignored, so
// a delayed flush from a superseded engine instance never rewinds progress.
func (s *MemoryCursorStore) Save(_ context.Context, cursor Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cursor.Consumer + "/" + cursor.Stream
	if existing, found := s.cursors[key]; found && cursor.UpdatedAt.Before(existing.UpdatedAt) {
		return nil
	}

	s.cursors[key] = cursor

	return nil
}
