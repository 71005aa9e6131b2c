// Package postgresstore implements the outbox store on PostgreSQL.
//
// ClaimPending uses FOR UPDATE SKIP LOCKED plus a short claim lease, so
// multiple processor instances can poll the same table without handing the
// same record to two of them in one tick. It operates on the table the
// Postgres event store engine stages records into.
package postgresstore

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // driver import
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"

	"github.com/proteanhq/eventengine-go/eventstore"
	"github.com/proteanhq/eventengine-go/outbox"
)

const (
	defaultTableName  = "outbox"
	defaultClaimLease = 30 * time.Second

	colMessageID     = "message_id"
	colSeq           = "seq"
	colStream        = "stream"
	colPayload       = "payload"
	colHeaders       = "headers"
	colPriority      = "priority"
	colStatus        = "status"
	colAttempts      = "attempts"
	colNextAttemptAt = "next_attempt_at"
	colCreatedAt     = "created_at"

	dialectPostgres = "postgres"
)

// Store is the PostgreSQL outbox store used by the outbox processor.
type Store struct {
	pool       *pgxpool.Pool
	tableName  string
	claimLease time.Duration
}

// Option defines a functional option for configuring Store.
type Option func(*Store) error

// WithTableName sets the outbox table name.
// It must match the table the event store engine stages records into.
func WithTableName(tableName string) Option {
	return func(s *Store) error {
		if tableName == "" {
			return eventstore.ErrEmptyOutboxTableName
		}

		s.tableName = tableName

		return nil
	}
}

// WithClaimLease sets how long a claimed record stays invisible to other
// processors before it becomes claimable again.
func WithClaimLease(lease time.Duration) Option {
	return func(s *Store) error {
		if lease > 0 {
			s.claimLease = lease
		}

		return nil
	}
}

// NewStore creates a Store backed by a pgx pool.
func NewStore(pool *pgxpool.Pool, options ...Option) (*Store, error) {
	if pool == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	s := &Store{
		pool:       pool,
		tableName:  defaultTableName,
		claimLease: defaultClaimLease,
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// ClaimPending selects up to limit due pending records ordered by priority then
// staging sequence, pushing their next attempt time forward by the claim lease
// so concurrent processors skip them.
//
// The locking subquery picks which rows are claimed; UPDATE ... RETURNING
// hands them back in whatever order Postgres pleases, so the claimed batch is
// re-sorted on the same key before it is returned. The seq column breaks the
// created_at ties of records staged in one append, keeping per-stream publish
// order aligned with append order.
func (s *Store) ClaimPending(ctx context.Context, limit int, now time.Time) (outbox.Records, error) {
	claimable := goqu.Dialect(dialectPostgres).
		From(s.tableName).
		Select(colMessageID).
		Where(
			goqu.Ex{colStatus: string(outbox.StatusPending)},
			goqu.C(colNextAttemptAt).Lte(now),
		).
		Order(goqu.I(colPriority).Desc(), goqu.I(colSeq).Asc()).
		Limit(uint(limit)).
		ForUpdate(exp.SkipLocked)

	updateStmt := goqu.Dialect(dialectPostgres).
		Update(s.tableName).
		Set(goqu.Record{colNextAttemptAt: now.Add(s.claimLease)}).
		Where(goqu.C(colMessageID).In(claimable)).
		Returning(colMessageID, colSeq, colStream, colPayload, colHeaders, colPriority, colStatus, colAttempts, colNextAttemptAt, colCreatedAt)

	sqlQuery, _, toSQLErr := updateStmt.ToSQL()
	if toSQLErr != nil {
		return nil, errors.Join(outbox.ErrFetchingPendingFailed, toSQLErr)
	}

	rows, queryErr := s.pool.Query(ctx, sqlQuery)
	if queryErr != nil {
		return nil, errors.Join(outbox.ErrFetchingPendingFailed, queryErr)
	}
	defer rows.Close()

	records := make(outbox.Records, 0)

	for rows.Next() {
		var (
			record      outbox.Record
			status      string
			headersJSON []byte
		)

		scanErr := rows.Scan(
			&record.MessageID,
			&record.Seq,
			&record.Stream,
			&record.Payload,
			&headersJSON,
			&record.Priority,
			&status,
			&record.Attempts,
			&record.NextAttemptAt,
			&record.CreatedAt,
		)
		if scanErr != nil {
			return nil, errors.Join(outbox.ErrFetchingPendingFailed, scanErr)
		}

		if unmarshalErr := jsoniter.ConfigFastest.Unmarshal(headersJSON, &record.Headers); unmarshalErr != nil {
			return nil, errors.Join(outbox.ErrFetchingPendingFailed, unmarshalErr)
		}

		record.Status = outbox.Status(status)
		records = append(records, record)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, errors.Join(outbox.ErrFetchingPendingFailed, rowsErr)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Priority != records[j].Priority {
			return records[i].Priority > records[j].Priority
		}

		return records[i].Seq < records[j].Seq
	})

	return records, nil
}

// MarkPublished transitions a record to published after broker acknowledgment.
func (s *Store) MarkPublished(ctx context.Context, messageID string) error {
	return s.updateRecord(ctx, messageID, goqu.Record{colStatus: string(outbox.StatusPublished)})
}

// Reschedule increments the attempt count and sets the next attempt time.
func (s *Store) Reschedule(ctx context.Context, messageID string, attempts int, nextAttemptAt time.Time) error {
	return s.updateRecord(ctx, messageID, goqu.Record{
		colAttempts:      attempts,
		colNextAttemptAt: nextAttemptAt,
	})
}

// MarkAbandoned transitions a record to abandoned once attempts are exhausted.
func (s *Store) MarkAbandoned(ctx context.Context, messageID string, attempts int) error {
	return s.updateRecord(ctx, messageID, goqu.Record{
		colStatus:   string(outbox.StatusAbandoned),
		colAttempts: attempts,
	})
}

// PurgePublished deletes published records older than the retention cutoff.
func (s *Store) PurgePublished(ctx context.Context, olderThan time.Time) (int64, error) {
	deleteStmt := goqu.Dialect(dialectPostgres).
		Delete(s.tableName).
		Where(
			goqu.Ex{colStatus: string(outbox.StatusPublished)},
			goqu.C(colCreatedAt).Lt(olderThan),
		)

	sqlQuery, _, toSQLErr := deleteStmt.ToSQL()
	if toSQLErr != nil {
		return 0, errors.Join(outbox.ErrUpdatingRecordFailed, toSQLErr)
	}

	tag, execErr := s.pool.Exec(ctx, sqlQuery)
	if execErr != nil {
		return 0, errors.Join(outbox.ErrUpdatingRecordFailed, execErr)
	}

	return tag.RowsAffected(), nil
}

func (s *Store) updateRecord(ctx context.Context, messageID string, changes goqu.Record) error {
	updateStmt := goqu.Dialect(dialectPostgres).
		Update(s.tableName).
		Set(changes).
		Where(goqu.Ex{colMessageID: messageID})

	sqlQuery, _, toSQLErr := updateStmt.ToSQL()
	if toSQLErr != nil {
		return errors.Join(outbox.ErrUpdatingRecordFailed, toSQLErr)
	}

	tag, execErr := s.pool.Exec(ctx, sqlQuery)
	if execErr != nil {
		return errors.Join(outbox.ErrUpdatingRecordFailed, execErr)
	}

	if tag.RowsAffected() == 0 {
		return outbox.ErrRecordNotFound
	}

	return nil
}
