package cache

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// Memory is an in-process Cache. A single mutex guards the whole map, and
// GetOrLoad holds it across the loader call, so a running load blocks every
// other operation on the cache. Wrap it in Persistent for per-key loading.
//
// Expired entries are kept until overwritten; nothing sweeps them.
type Memory[K comparable, V any] struct {
	ttl     time.Duration
	cfg     config
	mutex   sync.Mutex
	entries map[K]*Entry[V]
}

var _ Cache[string, any] = (*Memory[string, any])(nil)

// NewMemory returns an empty in-memory cache. It panics if ttl is not positive.
func NewMemory[K comparable, V any](ttl time.Duration, opts ...Option) *Memory[K, V] {
	mustPositiveTTL(ttl)
	return &Memory[K, V]{
		ttl:     ttl,
		cfg:     applyOptions(opts),
		entries: make(map[K]*Entry[V]),
	}
}

func (c *Memory[K, V]) TTL() time.Duration { return c.ttl }

func (c *Memory[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	return getValue[K, V](ctx, c, c.cfg.now, key)
}

func (c *Memory[K, V]) Set(ctx context.Context, key K, value V) error {
	return setValue[K, V](ctx, c, c.cfg.now, c.ttl, key, value)
}

func (c *Memory[K, V]) GetOrLoad(ctx context.Context, key K, loader Loader[V]) (V, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return loadThrough[K, V](ctx, lockedMemory[K, V]{c}, c.cfg.now, c.ttl, key, loader)
}

func (c *Memory[K, V]) GetEntry(_ context.Context, key K) (*Entry[V], error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.entries[key], nil
}

func (c *Memory[K, V]) SetEntry(_ context.Context, key K, entry *Entry[V]) error {
	if entry == nil {
		return errors.WithStack(ErrNilEntry)
	}
	c.mutex.Lock()
	c.entries[key] = entry
	c.mutex.Unlock()
	return nil
}

// Len returns the number of entries held, expired ones included.
func (c *Memory[K, V]) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.entries)
}

// lockedMemory accesses the map of a Memory whose mutex is already held.
type lockedMemory[K comparable, V any] struct {
	c *Memory[K, V]
}

func (m lockedMemory[K, V]) GetEntry(_ context.Context, key K) (*Entry[V], error) {
	return m.c.entries[key], nil
}

func (m lockedMemory[K, V]) SetEntry(_ context.Context, key K, entry *Entry[V]) error {
	m.c.entries[key] = entry
	return nil
}
