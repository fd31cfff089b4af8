package cache

import (
	"context"
	"os"
	"time"

	"github.com/agentuity/quizbot/logger"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Loader produces the value for a key on a cache miss. It may block and may
// fail; failures are returned to the caller of GetOrLoad and never cached.
type Loader[V any] func(ctx context.Context) (V, error)

// Cache is a keyed store of expiring entries.
//
// Get and GetOrLoad work on values and treat expired entries as absent.
// GetEntry and SetEntry are the raw accessors: GetEntry returns expired
// entries as they are and SetEntry stores the caller's expiration unchanged.
// Every cache has a fixed TTL which Set and GetOrLoad use to compute the
// expiration of the entries they write.
type Cache[K comparable, V any] interface {
	// Get returns the value for key, or false when there is no entry or the
	// entry has expired.
	Get(ctx context.Context, key K) (V, bool, error)
	// GetOrLoad returns the cached value if present and valid. Otherwise it
	// calls loader, stores the result with Set and returns it.
	GetOrLoad(ctx context.Context, key K, loader Loader[V]) (V, error)
	// Set stores value with an expiration of now + TTL.
	Set(ctx context.Context, key K, value V) error
	// GetEntry returns the stored entry, expired or not. A nil entry with a
	// nil error means there is none.
	GetEntry(ctx context.Context, key K) (*Entry[V], error)
	// SetEntry stores entry as is.
	SetEntry(ctx context.Context, key K, entry *Entry[V]) error
	// TTL is the lifetime given to entries written by Set.
	TTL() time.Duration
}

// ErrNilEntry is returned by SetEntry implementations for a nil entry.
var ErrNilEntry = errors.New("cache: nil entry")

// config holds the resolved options shared by every cache implementation.
type config struct {
	logger   logger.Logger
	now      func() time.Time
	fileMode os.FileMode
	dirMode  os.FileMode
	tracer   trace.TracerProvider
	// maxEntrySize bounds the encoded size of entries read by the factory
	// built durable tiers; 0 means unlimited.
	maxEntrySize int
}

// Option configures a Cache implementation.
type Option func(*config)

func defaultConfig() config {
	return config{
		logger:   logger.Nop(),
		now:      time.Now,
		fileMode: 0o644,
		dirMode:  0o755,
		tracer:   otel.GetTracerProvider(),
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithLogger sets the logger used for recovered errors and load tracing.
// Defaults to logger.Nop, a console logger at LevelNone.
func WithLogger(l logger.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock sets the time source used to compute and check expirations.
// Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithFileMode sets the permission bits of files written by the file tier.
func WithFileMode(mode os.FileMode) Option {
	return func(c *config) { c.fileMode = mode }
}

// WithDirMode sets the permission bits of directories created by the file tier.
func WithDirMode(mode os.FileMode) Option {
	return func(c *config) { c.dirMode = mode }
}

// WithMaxEntrySize makes the durable tiers built by the factory treat stored
// entries larger than n bytes as unreadable, so they are logged and missed
// instead of decoded. n <= 0 disables the check.
func WithMaxEntrySize(n int) Option {
	return func(c *config) { c.maxEntrySize = n }
}

// WithTracerProvider sets the provider of the tracer Persistent records load
// spans with. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) {
		if tp != nil {
			c.tracer = tp
		}
	}
}

// entryStore is the raw half of the Cache contract. The value-level
// operations of every implementation are derived from it by the helpers
// below, so expiry is decided in exactly one place.
type entryStore[K comparable, V any] interface {
	GetEntry(ctx context.Context, key K) (*Entry[V], error)
	SetEntry(ctx context.Context, key K, entry *Entry[V]) error
}

func getValue[K comparable, V any](ctx context.Context, s entryStore[K, V], now func() time.Time, key K) (V, bool, error) {
	var zero V
	entry, err := s.GetEntry(ctx, key)
	if err != nil {
		return zero, false, err
	}
	if Invalid(entry, now()) {
		return zero, false, nil
	}
	return entry.Value, true, nil
}

func setValue[K comparable, V any](ctx context.Context, s entryStore[K, V], now func() time.Time, ttl time.Duration, key K, value V) error {
	return s.SetEntry(ctx, key, NewEntry(value, now().Add(ttl)))
}

// loadThrough is the unsynchronized read-through path: two concurrent misses
// for the same key may both run their loader. Persistent adds single-flight.
func loadThrough[K comparable, V any](ctx context.Context, s entryStore[K, V], now func() time.Time, ttl time.Duration, key K, loader Loader[V]) (V, error) {
	var zero V
	entry, err := s.GetEntry(ctx, key)
	if err != nil {
		return zero, err
	}
	if !Invalid(entry, now()) {
		return entry.Value, nil
	}
	value, err := loader(ctx)
	if err != nil {
		return zero, err
	}
	if err := setValue(ctx, s, now, ttl, key, value); err != nil {
		return zero, err
	}
	return value, nil
}

func mustPositiveTTL(ttl time.Duration) {
	if ttl <= 0 {
		panic(errors.AssertionFailedf("cache: ttl must be positive, got %s", ttl))
	}
}

func mustPair[K comparable, V any](kind string, primary, secondary Cache[K, V]) {
	if primary == nil || secondary == nil {
		panic(errors.AssertionFailedf("cache: %s requires two caches", kind))
	}
	if primary.TTL() != secondary.TTL() {
		panic(errors.AssertionFailedf("cache: %s wraps caches with different ttls (%s != %s)",
			kind, primary.TTL(), secondary.TTL()))
	}
}
