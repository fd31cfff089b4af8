package cache

import (
	"context"
	"time"
)

// Fallback reads from primary and, when primary has no entry, from
// secondary. Writes go to primary only.
//
// An expired entry in primary is still an entry: the secondary is consulted
// only when primary has nothing at all for the key.
type Fallback[K comparable, V any] struct {
	primary   Cache[K, V]
	secondary Cache[K, V]
	cfg       config
}

var _ Cache[string, any] = (*Fallback[string, any])(nil)

// NewFallback returns a Fallback over the two caches. It panics if either is
// nil or their TTLs differ.
func NewFallback[K comparable, V any](primary, secondary Cache[K, V], opts ...Option) *Fallback[K, V] {
	mustPair("fallback", primary, secondary)
	return &Fallback[K, V]{primary: primary, secondary: secondary, cfg: applyOptions(opts)}
}

func (c *Fallback[K, V]) TTL() time.Duration { return c.primary.TTL() }

func (c *Fallback[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	return getValue[K, V](ctx, c, c.cfg.now, key)
}

func (c *Fallback[K, V]) Set(ctx context.Context, key K, value V) error {
	return setValue[K, V](ctx, c, c.cfg.now, c.TTL(), key, value)
}

func (c *Fallback[K, V]) GetOrLoad(ctx context.Context, key K, loader Loader[V]) (V, error) {
	return loadThrough[K, V](ctx, c, c.cfg.now, c.TTL(), key, loader)
}

func (c *Fallback[K, V]) GetEntry(ctx context.Context, key K) (*Entry[V], error) {
	entry, err := c.primary.GetEntry(ctx, key)
	if err != nil || entry != nil {
		return entry, err
	}
	return c.secondary.GetEntry(ctx, key)
}

func (c *Fallback[K, V]) SetEntry(ctx context.Context, key K, entry *Entry[V]) error {
	return c.primary.SetEntry(ctx, key, entry)
}
