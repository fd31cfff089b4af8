package cache

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/agentuity/quizbot/codec"
	"github.com/cockroachdb/errors"
)

// File is a durable Cache keeping one file per key under a directory. The
// file is named after the key (fmt.Sprint of it), so keys must be valid file
// names; they are not sanitized. The file content is the entry encoded with
// the configured codec.
//
// Nothing is held in memory and nothing is locked: every call touches the
// filesystem, and concurrent writers of one key race at the filesystem
// level. The directory is assumed to belong to a single process.
type File[K comparable, V any] struct {
	ttl   time.Duration
	dir   string
	codec codec.Codec[Entry[V]]
	cfg   config
}

var _ Cache[string, any] = (*File[string, any])(nil)

// NewFile returns a file cache rooted at dir. The directory is created on the
// first write. It panics if ttl is not positive or codec is nil.
func NewFile[K comparable, V any](ttl time.Duration, dir string, c codec.Codec[Entry[V]], opts ...Option) *File[K, V] {
	mustPositiveTTL(ttl)
	if c == nil {
		panic(errors.AssertionFailedf("cache: file cache requires a codec"))
	}
	return &File[K, V]{
		ttl:   ttl,
		dir:   dir,
		codec: c,
		cfg:   applyOptions(opts),
	}
}

func (c *File[K, V]) TTL() time.Duration { return c.ttl }

// Dir returns the directory holding the cache files.
func (c *File[K, V]) Dir() string { return c.dir }

func (c *File[K, V]) path(key K) string {
	return filepath.Join(c.dir, fmt.Sprint(key))
}

func (c *File[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	return getValue[K, V](ctx, c, c.cfg.now, key)
}

func (c *File[K, V]) Set(ctx context.Context, key K, value V) error {
	return setValue[K, V](ctx, c, c.cfg.now, c.ttl, key, value)
}

func (c *File[K, V]) GetOrLoad(ctx context.Context, key K, loader Loader[V]) (V, error) {
	return loadThrough[K, V](ctx, c, c.cfg.now, c.ttl, key, loader)
}

// GetEntry reads and decodes the file for key. A missing file is a miss. A
// file that does not decode is logged and also reported as a miss.
func (c *File[K, V]) GetEntry(ctx context.Context, key K) (*Entry[V], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filename := c.path(key)
	buf, err := os.ReadFile(filename)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cache: reading %s", filename)
	}
	entry, err := c.codec.Decode(buf)
	if err != nil {
		c.cfg.logger.With(map[string]interface{}{"key": fmt.Sprint(key), "file": filename}).
			Warn("ignoring unreadable cache file: %s", err)
		return nil, nil
	}
	return &entry, nil
}

// SetEntry encodes entry and overwrites the file for key, creating the
// directory first if needed.
func (c *File[K, V]) SetEntry(ctx context.Context, key K, entry *Entry[V]) error {
	if entry == nil {
		return errors.WithStack(ErrNilEntry)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	buf, err := c.codec.Encode(*entry)
	if err != nil {
		return errors.Wrapf(err, "cache: encoding entry for %v", key)
	}
	if err := os.MkdirAll(c.dir, c.cfg.dirMode); err != nil {
		return errors.Wrapf(err, "cache: creating %s", c.dir)
	}
	filename := c.path(key)
	if err := os.WriteFile(filename, buf, c.cfg.fileMode); err != nil {
		return errors.Wrapf(err, "cache: writing %s", filename)
	}
	return nil
}

// Delete removes the file for key. Deleting a missing key is not an error.
func (c *File[K, V]) Delete(ctx context.Context, key K) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(c.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, "cache: deleting %v", key)
	}
	return nil
}

// Keys lists the names of the regular files in the cache directory. A
// directory that does not exist yet holds no keys.
func (c *File[K, V]) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cache: listing %s", c.dir)
	}
	keys := make([]string, 0, len(dirents))
	for _, d := range dirents {
		if d.Type().IsRegular() {
			keys = append(keys, d.Name())
		}
	}
	return keys, nil
}

// Close is a no-op; the file tier holds no open handles.
func (c *File[K, V]) Close() error {
	return nil
}
