package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

// WritePropagation writes every entry to primary and then to secondary, and
// reads from primary only.
//
// The writes are not atomic. If the secondary write fails the error is
// returned, but the primary already holds the new entry.
type WritePropagation[K comparable, V any] struct {
	primary   Cache[K, V]
	secondary Cache[K, V]
	cfg       config
}

var _ Cache[string, any] = (*WritePropagation[string, any])(nil)

// NewWritePropagation panics if either cache is nil or their TTLs differ.
func NewWritePropagation[K comparable, V any](primary, secondary Cache[K, V], opts ...Option) *WritePropagation[K, V] {
	mustPair("write propagation", primary, secondary)
	return &WritePropagation[K, V]{primary: primary, secondary: secondary, cfg: applyOptions(opts)}
}

func (c *WritePropagation[K, V]) TTL() time.Duration { return c.primary.TTL() }

func (c *WritePropagation[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	return getValue[K, V](ctx, c, c.cfg.now, key)
}

func (c *WritePropagation[K, V]) Set(ctx context.Context, key K, value V) error {
	return setValue[K, V](ctx, c, c.cfg.now, c.TTL(), key, value)
}

func (c *WritePropagation[K, V]) GetOrLoad(ctx context.Context, key K, loader Loader[V]) (V, error) {
	return loadThrough[K, V](ctx, c, c.cfg.now, c.TTL(), key, loader)
}

func (c *WritePropagation[K, V]) GetEntry(ctx context.Context, key K) (*Entry[V], error) {
	return c.primary.GetEntry(ctx, key)
}

func (c *WritePropagation[K, V]) SetEntry(ctx context.Context, key K, entry *Entry[V]) error {
	if err := c.primary.SetEntry(ctx, key, entry); err != nil {
		return err
	}
	if err := c.secondary.SetEntry(ctx, key, entry); err != nil {
		return errors.Wrap(err, "cache: propagating write")
	}
	return nil
}

// ReadPropagation reads from primary and copies every entry it finds into
// secondary before returning it. Writes go to primary only.
//
// A failed copy is logged and does not fail the read; the entry from primary
// is still returned.
type ReadPropagation[K comparable, V any] struct {
	primary   Cache[K, V]
	secondary Cache[K, V]
	cfg       config
}

var _ Cache[string, any] = (*ReadPropagation[string, any])(nil)

// NewReadPropagation panics if either cache is nil or their TTLs differ.
func NewReadPropagation[K comparable, V any](primary, secondary Cache[K, V], opts ...Option) *ReadPropagation[K, V] {
	mustPair("read propagation", primary, secondary)
	return &ReadPropagation[K, V]{primary: primary, secondary: secondary, cfg: applyOptions(opts)}
}

func (c *ReadPropagation[K, V]) TTL() time.Duration { return c.primary.TTL() }

func (c *ReadPropagation[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	return getValue[K, V](ctx, c, c.cfg.now, key)
}

func (c *ReadPropagation[K, V]) Set(ctx context.Context, key K, value V) error {
	return setValue[K, V](ctx, c, c.cfg.now, c.TTL(), key, value)
}

func (c *ReadPropagation[K, V]) GetOrLoad(ctx context.Context, key K, loader Loader[V]) (V, error) {
	return loadThrough[K, V](ctx, c, c.cfg.now, c.TTL(), key, loader)
}

func (c *ReadPropagation[K, V]) GetEntry(ctx context.Context, key K) (*Entry[V], error) {
	entry, err := c.primary.GetEntry(ctx, key)
	if err != nil || entry == nil {
		return entry, err
	}
	if err := c.secondary.SetEntry(ctx, key, entry); err != nil {
		c.cfg.logger.With(map[string]interface{}{"key": fmt.Sprint(key)}).
			Warn("failed to warm cache: %s", err)
	}
	return entry, nil
}

func (c *ReadPropagation[K, V]) SetEntry(ctx context.Context, key K, entry *Entry[V]) error {
	return c.primary.SetEntry(ctx, key, entry)
}
