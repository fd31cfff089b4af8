package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentuity/quizbot/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T, path string, opts ...Option) *SQLite[string, string] {
	t.Helper()
	c, err := NewSQLite[string, string](context.Background(), time.Minute, path, jsonEntries(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSQLiteSetGet(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := newTestSQLite(t, ":memory:", WithClock(clock.Now))

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", "v1"))
	require.NoError(t, c.Set(ctx, "k", "v2"))
	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", val)

	clock.Advance(time.Minute)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	entry, err := c.GetEntry(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "v2", entry.Value)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")
	first, err := NewSQLite[string, string](ctx, time.Minute, path, jsonEntries())
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "en", "hello"))
	require.NoError(t, first.Close())

	second := newTestSQLite(t, path)
	val, ok, err := second.Get(ctx, "en")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", val)
}

func TestSQLiteCorruptRowIsMiss(t *testing.T) {
	ctx := context.Background()
	log := logger.NewTestLogger()
	c := newTestSQLite(t, "", WithLogger(log))
	_, err := c.db.ExecContext(ctx, `INSERT INTO cache_entries (key, entry, expires_at) VALUES (?, ?, ?)`, "k", []byte("garbage"), 0)
	require.NoError(t, err)

	entry, err := c.GetEntry(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.True(t, log.Contains("WARNING", "unreadable cache row"))
}

func TestSQLiteKeysAndDelete(t *testing.T) {
	ctx := context.Background()
	c := newTestSQLite(t, "")
	require.NoError(t, c.Set(ctx, "es", "hola"))
	require.NoError(t, c.Set(ctx, "de", "hallo"))

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"de", "es"}, keys)

	require.NoError(t, c.Delete(ctx, "es"))
	require.NoError(t, c.Delete(ctx, "missing"))
	keys, err = c.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"de"}, keys)
}
