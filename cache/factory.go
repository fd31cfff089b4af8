package cache

import (
	"context"
	"time"

	"github.com/agentuity/quizbot/codec"
)

// Durable is a cache tier that outlives the process.
type Durable[K comparable, V any] interface {
	Cache[K, V]
	// Delete removes the entry for key, if any.
	Delete(ctx context.Context, key K) error
	// Keys lists the stored keys.
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

var (
	_ Durable[string, any] = (*File[string, any])(nil)
	_ Durable[string, any] = (*SQLite[string, any])(nil)
)

// Layered is a memory tier in front of a durable tier. Reads check memory
// first and fall back to the durable tier, copying what they find there into
// memory. Writes go to both tiers, memory first.
type Layered[K comparable, V any] struct {
	*Fallback[K, V]
	Memory  *Memory[K, V]
	Durable Durable[K, V]
}

// Close closes the durable tier.
func (c *Layered[K, V]) Close() error {
	return c.Durable.Close()
}

// NewLayered composes memory and durable. It panics if their TTLs differ.
func NewLayered[K comparable, V any](memory *Memory[K, V], durable Durable[K, V], opts ...Option) *Layered[K, V] {
	return &Layered[K, V]{
		Fallback: NewFallback[K, V](
			NewWritePropagation[K, V](memory, durable, opts...),
			NewReadPropagation[K, V](durable, memory, opts...),
			opts...,
		),
		Memory:  memory,
		Durable: durable,
	}
}

// NewMemoryCache returns a bare in-memory cache.
func NewMemoryCache[K comparable, V any](ttl time.Duration, opts ...Option) *Memory[K, V] {
	return NewMemory[K, V](ttl, opts...)
}

// entryCodec looks up the codec for format, bounded by WithMaxEntrySize.
func entryCodec[V any](format codec.Format, opts []Option) (codec.Codec[Entry[V]], error) {
	c, err := codec.Lookup[Entry[V]](format)
	if err != nil {
		return nil, err
	}
	if n := applyOptions(opts).maxEntrySize; n > 0 {
		return codec.Limit[Entry[V]]{Inner: c, MaxDecode: n}, nil
	}
	return c, nil
}

// NewFileCache returns a bare file cache storing entries in the given format.
func NewFileCache[K comparable, V any](ttl time.Duration, dir string, format codec.Format, opts ...Option) (*File[K, V], error) {
	c, err := entryCodec[V](format, opts)
	if err != nil {
		return nil, err
	}
	return NewFile[K, V](ttl, dir, c, opts...), nil
}

// NewMemoryWithFileFallback returns a memory tier backed by a file tier under
// dir.
func NewMemoryWithFileFallback[K comparable, V any](ttl time.Duration, dir string, format codec.Format, opts ...Option) (*Layered[K, V], error) {
	file, err := NewFileCache[K, V](ttl, dir, format, opts...)
	if err != nil {
		return nil, err
	}
	return NewLayered[K, V](NewMemory[K, V](ttl, opts...), file, opts...), nil
}

// NewPersistentMemoryWithFileFallback is NewMemoryWithFileFallback behind a
// Persistent decorator: one load per key at a time, stale entries served
// while they refresh. Persistent.Unwrap returns the *Layered.
func NewPersistentMemoryWithFileFallback[K comparable, V any](ttl time.Duration, dir string, format codec.Format, opts ...Option) (*Persistent[K, V], error) {
	layered, err := NewMemoryWithFileFallback[K, V](ttl, dir, format, opts...)
	if err != nil {
		return nil, err
	}
	return NewPersistent[K, V](layered, opts...), nil
}

// NewMemoryWithSQLiteFallback returns a memory tier backed by the SQLite
// database at dbPath. The caller closes the database with Layered.Close.
func NewMemoryWithSQLiteFallback[K comparable, V any](ctx context.Context, ttl time.Duration, dbPath string, format codec.Format, opts ...Option) (*Layered[K, V], error) {
	c, err := entryCodec[V](format, opts)
	if err != nil {
		return nil, err
	}
	db, err := NewSQLite[K, V](ctx, ttl, dbPath, c, opts...)
	if err != nil {
		return nil, err
	}
	return NewLayered[K, V](NewMemory[K, V](ttl, opts...), db, opts...), nil
}

// NewPersistentMemoryWithSQLiteFallback is NewMemoryWithSQLiteFallback behind
// a Persistent decorator.
func NewPersistentMemoryWithSQLiteFallback[K comparable, V any](ctx context.Context, ttl time.Duration, dbPath string, format codec.Format, opts ...Option) (*Persistent[K, V], error) {
	layered, err := NewMemoryWithSQLiteFallback[K, V](ctx, ttl, dbPath, format, opts...)
	if err != nil {
		return nil, err
	}
	return NewPersistent[K, V](layered, opts...), nil
}
