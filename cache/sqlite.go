package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agentuity/quizbot/codec"
	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

// SQLite is a durable Cache keeping one row per key in a SQLite database.
// The row holds the encoded entry and its expiration in unix nanoseconds;
// expired rows stay until overwritten or deleted.
type SQLite[K comparable, V any] struct {
	ttl   time.Duration
	db    *sql.DB
	codec codec.Codec[Entry[V]]
	cfg   config
}

var _ Cache[string, any] = (*SQLite[string, any])(nil)

// NewSQLite opens (or creates) the database at dbPath. If dbPath is empty or
// ":memory:", an in-memory database is used. It panics if ttl is not positive
// or codec is nil.
func NewSQLite[K comparable, V any](ctx context.Context, ttl time.Duration, dbPath string, c codec.Codec[Entry[V]], opts ...Option) (*SQLite[K, V], error) {
	mustPositiveTTL(ttl)
	if c == nil {
		panic(errors.AssertionFailedf("cache: sqlite cache requires a codec"))
	}
	if dbPath == "" {
		dbPath = ":memory:"
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrapf(err, "cache: opening %s", dbPath)
	}
	// One connection: an in-memory database is private to its connection and
	// SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT PRIMARY KEY,
			entry BLOB NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "cache: initializing %s", dbPath)
		}
	}

	return &SQLite[K, V]{
		ttl:   ttl,
		db:    db,
		codec: c,
		cfg:   applyOptions(opts),
	}, nil
}

func (c *SQLite[K, V]) TTL() time.Duration { return c.ttl }

func (c *SQLite[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	return getValue[K, V](ctx, c, c.cfg.now, key)
}

func (c *SQLite[K, V]) Set(ctx context.Context, key K, value V) error {
	return setValue[K, V](ctx, c, c.cfg.now, c.ttl, key, value)
}

func (c *SQLite[K, V]) GetOrLoad(ctx context.Context, key K, loader Loader[V]) (V, error) {
	return loadThrough[K, V](ctx, c, c.cfg.now, c.ttl, key, loader)
}

// GetEntry returns the decoded row for key. A row that does not decode is
// logged and reported as a miss.
func (c *SQLite[K, V]) GetEntry(ctx context.Context, key K) (*Entry[V], error) {
	k := fmt.Sprint(key)
	var data []byte
	err := c.db.QueryRowContext(ctx, `SELECT entry FROM cache_entries WHERE key = ?`, k).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cache: reading %s", k)
	}
	entry, err := c.codec.Decode(data)
	if err != nil {
		c.cfg.logger.With(map[string]interface{}{"key": k}).
			Warn("ignoring unreadable cache row: %s", err)
		return nil, nil
	}
	return &entry, nil
}

func (c *SQLite[K, V]) SetEntry(ctx context.Context, key K, entry *Entry[V]) error {
	if entry == nil {
		return errors.WithStack(ErrNilEntry)
	}
	k := fmt.Sprint(key)
	data, err := c.codec.Encode(*entry)
	if err != nil {
		return errors.Wrapf(err, "cache: encoding entry for %s", k)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, entry, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET entry = excluded.entry, expires_at = excluded.expires_at`,
		k, data, entry.Expiration.UnixNano(),
	)
	if err != nil {
		return errors.Wrapf(err, "cache: writing %s", k)
	}
	return nil
}

// Delete removes the row for key. Deleting a missing key is not an error.
func (c *SQLite[K, V]) Delete(ctx context.Context, key K) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, fmt.Sprint(key)); err != nil {
		return errors.Wrapf(err, "cache: deleting %v", key)
	}
	return nil
}

// Keys lists the stored keys in lexical order.
func (c *SQLite[K, V]) Keys(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT key FROM cache_entries ORDER BY key`)
	if err != nil {
		return nil, errors.Wrap(err, "cache: listing keys")
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errors.Wrap(err, "cache: listing keys")
		}
		keys = append(keys, k)
	}
	return keys, errors.Wrap(rows.Err(), "cache: listing keys")
}

func (c *SQLite[K, V]) Close() error {
	return c.db.Close()
}
