// Package postgrescursors persists subscription cursors in PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE subscription_cursors (
//	    consumer   TEXT NOT NULL,
//	    stream     TEXT NOT NULL,
//	    lane       TEXT NOT NULL,
//	    position   TEXT NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (consumer, stream)
//	);
package postgrescursors

import (
	"context"
	"errors"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // driver import
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proteanhq/eventengine-go/eventstore"
	"github.com/proteanhq/eventengine-go/subscription"
)

const (
	defaultTableName = "subscription_cursors"

	colConsumer  = "consumer"
	colStream    = "stream"
	colLane      = "lane"
	colPosition  = "position"
	colUpdatedAt = "updated_at"

	dialectPostgres = "postgres"
)

// Store is the PostgreSQL cursor store.
type Store struct {
	pool      *pgxpool.Pool
	tableName string
}

// Option defines a functional option for configuring Store.
type Option func(*Store)

// WithTableName sets the cursor table name.
func WithTableName(tableName string) Option {
	return func(s *Store) {
		if tableName != "" {
			s.tableName = tableName
		}
	}
}

// NewStore creates a Store backed by a pgx pool.
func NewStore(pool *pgxpool.Pool, options ...Option) (*Store, error) {
	if pool == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	s := &Store{
		pool:      pool,
		tableName: defaultTableName,
	}

	for _, option := range options {
		option(s)
	}

	return s, nil
}

// Load returns the cursor for the (consumer, stream) pair if one was saved.
func (s *Store) Load(ctx context.Context, consumer, stream string) (subscription.Cursor, bool, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(s.tableName).
		Select(colLane, colPosition, colUpdatedAt).
		Where(goqu.Ex{colConsumer: consumer, colStream: stream})

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return subscription.Cursor{}, false, errors.Join(subscription.ErrLoadingCursorFailed, toSQLErr)
	}

	cursor := subscription.Cursor{Consumer: consumer, Stream: stream}

	row := s.pool.QueryRow(ctx, sqlQuery)
	scanErr := row.Scan(&cursor.Lane, &cursor.Position, &cursor.UpdatedAt)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return subscription.Cursor{}, false, nil
		}

		return subscription.Cursor{}, false, errors.Join(subscription.ErrLoadingCursorFailed, scanErr)
	}

	return cursor, true, nil
}

// Save upserts the cursor. The update is guarded on updated_at, so a delayed
// flush from a superseded engine instance never rewinds stored progress.
func (s *Store) Save(ctx context.Context, cursor subscription.Cursor) error {
	insertStmt := goqu.Dialect(dialectPostgres).
		Insert(s.tableName).
		Cols(colConsumer, colStream, colLane, colPosition, colUpdatedAt).
		Vals(goqu.Vals{cursor.Consumer, cursor.Stream, cursor.Lane, cursor.Position, cursor.UpdatedAt}).
		OnConflict(goqu.DoUpdate(colConsumer+","+colStream, goqu.Record{
			colLane:      cursor.Lane,
			colPosition:  cursor.Position,
			colUpdatedAt: cursor.UpdatedAt,
		}).Where(goqu.I(s.tableName + "." + colUpdatedAt).Lte(goqu.I("excluded." + colUpdatedAt))))

	sqlQuery, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		return errors.Join(subscription.ErrSavingCursorFailed, toSQLErr)
	}

	if _, execErr := s.pool.Exec(ctx, sqlQuery); execErr != nil {
		return errors.Join(subscription.ErrSavingCursorFailed, execErr)
	}

	return nil
}
