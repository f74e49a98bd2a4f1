// Package sqlitestore implements persist.Adapter on an embedded SQLite
// database for single-node deployments and local development.
//
// Conditional writes are single UPDATE/DELETE/UPSERT statements guarded by a
// WHERE clause, so the database serialises competing writers. Expired rows are
// invisible to reads and removed by PurgeExpired.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goAccount/persist"
	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed persist.Adapter.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at dsn and applies migrations.
// Use "file::memory:?cache=shared" style DSNs for tests.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A single connection keeps conditional statements strictly serialised
	// and makes in-memory databases visible to every caller.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), `PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, now: time.Now}
	if err := s.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", persist.ErrUnavailable, err)
}

func (s *Store) nowMillis() int64 { return s.now().UnixMilli() }

// expiryFor rounds up to the next millisecond so a short ttl is not lost.
func (s *Store) expiryFor(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	at := s.now().Add(ttl)
	ms := at.UnixMilli()
	if at.Nanosecond()%int(time.Millisecond) != 0 {
		ms++
	}
	return ms
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`,
		key, s.nowMillis(),
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persist.ErrNotFound
		}
		return nil, unavailable(err)
	}
	return value, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, s.expiryFor(ttl),
	)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE key = ? AND value = ? AND (expires_at = 0 OR expires_at > ?)`,
		key, expected, s.nowMillis(),
	)
	return affected(res, err)
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, expected, value []byte, ttl time.Duration) (bool, error) {
	now := s.nowMillis()
	if expected == nil {
		// Insert, or take over a row that is logically expired.
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
			 WHERE kv.expires_at != 0 AND kv.expires_at <= ?`,
			key, value, s.expiryFor(ttl), now,
		)
		return affected(res, err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE kv SET value = ?, expires_at = ?
		 WHERE key = ? AND value = ? AND (expires_at = 0 OR expires_at > ?)`,
		value, s.expiryFor(ttl), key, expected, now,
	)
	return affected(res, err)
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

// Scan visits live rows whose key starts with prefix, in key order.
func (s *Store) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM kv
		 WHERE substr(key, 1, ?) = ? AND (expires_at = 0 OR expires_at > ?)
		 ORDER BY key`,
		len(prefix), prefix, s.nowMillis(),
	)
	if err != nil {
		return unavailable(err)
	}

	type row struct {
		key   string
		value []byte
	}
	// Buffer first: fn may write through the same single connection.
	var batch []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.key, &r.value); err != nil {
			_ = rows.Close()
			return unavailable(err)
		}
		batch = append(batch, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return unavailable(err)
	}
	_ = rows.Close()

	for _, r := range batch {
		if !strings.HasPrefix(r.key, prefix) {
			continue
		}
		if err := fn(r.key, r.value); err != nil {
			return err
		}
	}
	return nil
}

// PurgeExpired deletes rows past their ttl hint.
func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE expires_at != 0 AND expires_at <= ?`, s.nowMillis())
	if err != nil {
		return 0, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}
