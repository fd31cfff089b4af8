package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// ErrLoaderContract marks the internal error returned to a caller that waited
// for another caller's load, found the load reported success, and still saw
// no entry in the wrapped cache.
var ErrLoaderContract = errors.New("cache: load finished without storing an entry")

// errLoadAborted is what waiters see when the loading goroutine never got to
// record an outcome, for example because its loader panicked.
var errLoadAborted = errors.New("cache: concurrent load aborted")

// keyLock serializes loads of one key. refs counts the callers currently
// holding or waiting on it; the table drops the lock when it reaches zero.
type keyLock struct {
	sem  *semaphore.Weighted
	refs int
	// err is the outcome of the last load, written and read only while sem
	// is held.
	err error
}

// Persistent wraps a cache so that at most one loader runs per key at a time,
// and so that an expired entry keeps being served while it is refreshed.
//
// Get returns expired values. GetOrLoad returns a fresh entry without
// locking. On a miss the first caller runs the loader and every concurrent
// caller waits for it. On an expired entry the first caller refreshes it
// while concurrent callers get the stale value immediately.
type Persistent[K comparable, V any] struct {
	inner  Cache[K, V]
	cfg    config
	tracer trace.Tracer

	mutex sync.Mutex
	locks map[K]*keyLock
}

var _ Cache[string, any] = (*Persistent[string, any])(nil)

// NewPersistent wraps inner. It panics if inner is nil.
func NewPersistent[K comparable, V any](inner Cache[K, V], opts ...Option) *Persistent[K, V] {
	if inner == nil {
		panic(errors.AssertionFailedf("cache: persistent requires a cache"))
	}
	cfg := applyOptions(opts)
	return &Persistent[K, V]{
		inner:  inner,
		cfg:    cfg,
		tracer: cfg.tracer.Tracer("github.com/agentuity/quizbot/cache"),
		locks:  make(map[K]*keyLock),
	}
}

func (c *Persistent[K, V]) TTL() time.Duration { return c.inner.TTL() }

// Unwrap returns the wrapped cache.
func (c *Persistent[K, V]) Unwrap() Cache[K, V] { return c.inner }

// Locks returns the number of keys that currently have callers loading or
// waiting on them.
func (c *Persistent[K, V]) Locks() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.locks)
}

// Get returns the stored value whether or not it has expired.
func (c *Persistent[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	var zero V
	entry, err := c.inner.GetEntry(ctx, key)
	if err != nil || entry == nil {
		return zero, false, err
	}
	return entry.Value, true, nil
}

func (c *Persistent[K, V]) Set(ctx context.Context, key K, value V) error {
	return c.inner.Set(ctx, key, value)
}

func (c *Persistent[K, V]) GetEntry(ctx context.Context, key K) (*Entry[V], error) {
	return c.inner.GetEntry(ctx, key)
}

func (c *Persistent[K, V]) SetEntry(ctx context.Context, key K, entry *Entry[V]) error {
	return c.inner.SetEntry(ctx, key, entry)
}

func (c *Persistent[K, V]) GetOrLoad(ctx context.Context, key K, loader Loader[V]) (V, error) {
	var zero V
	entry, err := c.inner.GetEntry(ctx, key)
	if err != nil {
		return zero, err
	}
	if !Invalid(entry, c.cfg.now()) {
		return entry.Value, nil
	}

	l := c.ref(key)
	defer c.unref(key, l)

	if l.sem.TryAcquire(1) {
		return c.load(ctx, key, l, loader)
	}
	if entry != nil {
		c.cfg.logger.Debug("serving stale entry for %v while it is refreshed", key)
		return entry.Value, nil
	}

	// Another caller is loading a key we have nothing for. Wait for it to
	// finish, without taking the load over.
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	loadErr := l.err
	l.sem.Release(1)
	c.cfg.logger.Debug("woke up for %v after a concurrent load", key)

	entry, err = c.inner.GetEntry(ctx, key)
	if err != nil {
		return zero, err
	}
	if entry != nil {
		return entry.Value, nil
	}
	if loadErr != nil {
		return zero, loadErr
	}
	return zero, errors.WithAssertionFailure(errors.Wrapf(ErrLoaderContract, "key %v", key))
}

// load runs loader with l held and releases it on every path, including a
// panicking loader.
func (c *Persistent[K, V]) load(ctx context.Context, key K, l *keyLock, loader Loader[V]) (V, error) {
	var zero V
	l.err = errLoadAborted
	defer l.sem.Release(1)

	// A load may have completed between our read and the acquire.
	entry, err := c.inner.GetEntry(ctx, key)
	if err != nil {
		l.err = err
		return zero, err
	}
	if !Invalid(entry, c.cfg.now()) {
		l.err = nil
		return entry.Value, nil
	}

	ctx, span := c.tracer.Start(ctx, "cache.load",
		trace.WithAttributes(
			attribute.String("cache.key", fmt.Sprint(key)),
			attribute.Bool("cache.stale", entry != nil),
		))
	defer span.End()

	c.cfg.logger.Debug("loading %v", key)
	started := time.Now()
	value, err := loader(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.err = err
		return zero, err
	}
	if err := c.inner.Set(ctx, key, value); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.err = err
		return zero, err
	}
	span.SetStatus(codes.Ok, "loaded")
	c.cfg.logger.Debug("loaded %v in %s", key, time.Since(started))
	l.err = nil
	return value, nil
}

func (c *Persistent[K, V]) ref(key K) *keyLock {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &keyLock{sem: semaphore.NewWeighted(1)}
		c.locks[key] = l
	}
	l.refs++
	return l
}

func (c *Persistent[K, V]) unref(key K, l *keyLock) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(c.locks, key)
	}
}
