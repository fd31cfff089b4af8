package cache

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agentuity/quizbot/codec"
	"github.com/agentuity/quizbot/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryWithFileFallbackWritesBothTiers(t *testing.T) {
	ctx := context.Background()
	c, err := NewMemoryWithFileFallback[string, string](time.Minute, t.TempDir(), codec.FormatJSON)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k", "v"))
	for _, tier := range []Cache[string, string]{c.Memory, c.Durable} {
		val, ok, err := tier.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v", val)
	}
}

func TestMemoryWithFileFallbackWarmsMemory(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	dir := t.TempDir()
	c, err := NewMemoryWithFileFallback[string, string](time.Minute, dir, codec.FormatJSON, WithClock(clock.Now))
	require.NoError(t, err)

	fresh := NewEntry("fresh", clock.Now().Add(time.Minute))
	stale := NewEntry("stale", clock.Now().Add(-time.Minute))
	require.NoError(t, c.Durable.SetEntry(ctx, "fresh", fresh))
	require.NoError(t, c.Durable.SetEntry(ctx, "stale", stale))
	assert.Equal(t, 0, c.Memory.Len())

	val, ok, err := c.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "fresh", val)

	entry, err := c.GetEntry(ctx, "stale")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "stale", entry.Value)

	for _, want := range []*Entry[string]{fresh, stale} {
		got, err := c.Memory.GetEntry(ctx, want.Value)
		require.NoError(t, err)
		require.NotNil(t, got, want.Value)
		assert.Equal(t, want.Value, got.Value)
		assert.True(t, want.Expiration.Equal(got.Expiration))
	}
}

func TestMemoryWithFileFallbackSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	first, err := NewPersistentMemoryWithFileFallback[string, string](time.Hour, dir, codec.FormatMsgpack)
	require.NoError(t, err)
	_, err = first.GetOrLoad(ctx, "en", func(context.Context) (string, error) { return "questions", nil })
	require.NoError(t, err)

	second, err := NewPersistentMemoryWithFileFallback[string, string](time.Hour, dir, codec.FormatMsgpack)
	require.NoError(t, err)
	val, err := second.GetOrLoad(ctx, "en", func(context.Context) (string, error) {
		t.Fatal("loader called although the file tier holds the entry")
		return "", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "questions", val)

	layered, ok := second.Unwrap().(*Layered[string, string])
	require.True(t, ok)
	assert.Equal(t, 1, layered.Memory.Len())
}

func TestMemoryWithFileFallbackRealTimeExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("sleeps past a one second ttl")
	}
	ctx := context.Background()
	c, err := NewMemoryWithFileFallback[string, string](time.Second, t.TempDir(), codec.FormatJSON)
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "k", "v1"))
	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1", val)

	time.Sleep(1100 * time.Millisecond)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	val, err = c.GetOrLoad(ctx, "k", func(context.Context) (string, error) { return "v2", nil })
	require.NoError(t, err)
	assert.Equal(t, "v2", val)

	val, ok, err = c.Durable.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", val)
}

func TestPersistentMemoryWithSQLiteFallback(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	c, err := NewPersistentMemoryWithSQLiteFallback[string, string](ctx, time.Hour, dbPath, codec.FormatCBOR)
	require.NoError(t, err)
	layered := c.Unwrap().(*Layered[string, string])
	defer layered.Close()

	val, err := c.GetOrLoad(ctx, "fr", func(context.Context) (string, error) { return "bonjour", nil })
	require.NoError(t, err)
	assert.Equal(t, "bonjour", val)

	keys, err := layered.Durable.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fr"}, keys)
}

func TestFactoryRejectsUnknownFormat(t *testing.T) {
	_, err := NewMemoryWithFileFallback[string, string](time.Minute, t.TempDir(), codec.Format("toml"))
	assert.ErrorIs(t, err, codec.ErrUnknownFormat)
	_, err = NewMemoryWithSQLiteFallback[string, string](context.Background(), time.Minute, "", codec.Format("toml"))
	assert.ErrorIs(t, err, codec.ErrUnknownFormat)
}

func TestFileCacheMaxEntrySize(t *testing.T) {
	ctx := context.Background()
	log := logger.NewTestLogger()
	c, err := NewFileCache[string, string](time.Minute, t.TempDir(), codec.FormatJSON, WithMaxEntrySize(256), WithLogger(log))
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "small", "ok"))
	val, ok, err := c.Get(ctx, "small")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ok", val)

	require.NoError(t, c.Set(ctx, "huge", strings.Repeat("x", 1024)))
	entry, err := c.GetEntry(ctx, "huge")
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.True(t, log.Contains("WARNING", "unreadable cache file"))
}
