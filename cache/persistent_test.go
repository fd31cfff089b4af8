package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentuity/quizbot/logger"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// droppingCache accepts writes through Set and discards them.
type droppingCache struct {
	*Memory[string, string]
}

func (droppingCache) Set(context.Context, string, string) error { return nil }

func refs(c *Persistent[string, string], key string) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if l, ok := c.locks[key]; ok {
		return l.refs
	}
	return 0
}

func waitForRefs(t *testing.T, c *Persistent[string, string], key string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return refs(c, key) == n }, time.Second, time.Millisecond)
	// let the last caller get from its ref to the blocking acquire
	time.Sleep(20 * time.Millisecond)
}

func TestPersistentGetReturnsStale(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewPersistent[string, string](NewMemory[string, string](time.Minute, WithClock(clock.Now)), WithClock(clock.Now))

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", "v"))
	clock.Advance(time.Hour)
	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", val)
	assert.Equal(t, time.Minute, c.TTL())
}

func TestPersistentFreshEntrySkipsLoader(t *testing.T) {
	ctx := context.Background()
	c := NewPersistent[string, string](NewMemory[string, string](time.Minute))
	require.NoError(t, c.Set(ctx, "k", "cached"))
	val, err := c.GetOrLoad(ctx, "k", func(context.Context) (string, error) {
		t.Fatal("loader called for a fresh entry")
		return "", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "cached", val)
	assert.Equal(t, 0, c.Locks())
}

func TestPersistentSingleFlight(t *testing.T) {
	ctx := context.Background()
	c, err := NewPersistentMemoryWithFileFallback[string, string](time.Minute, t.TempDir(), "")
	require.NoError(t, err)

	var counter atomic.Int32
	loader := func(context.Context) (string, error) {
		time.Sleep(100 * time.Millisecond)
		counter.Add(1)
		return "x", nil
	}

	const n = 1000
	results := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrLoad(ctx, "k", loader)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), counter.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "x", results[i])
	}
	assert.Equal(t, 0, c.Locks())
}

func TestPersistentDifferentKeysDoNotBlock(t *testing.T) {
	ctx := context.Background()
	c := NewPersistent[string, string](NewFile[string, string](time.Minute, t.TempDir(), jsonEntries()))
	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := c.GetOrLoad(ctx, "slow", func(context.Context) (string, error) {
			close(started)
			<-release
			return "slow", nil
		})
		assert.NoError(t, err)
	}()
	<-started

	val, err := c.GetOrLoad(ctx, "fast", func(context.Context) (string, error) { return "fast", nil })
	require.NoError(t, err)
	assert.Equal(t, "fast", val)
	assert.Equal(t, 1, c.Locks())

	close(release)
	wg.Wait()
}

func TestPersistentServesStaleDuringRefresh(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c, err := NewPersistentMemoryWithFileFallback[string, string](time.Minute, t.TempDir(), "", WithClock(clock.Now))
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "k", "old"))
	clock.Advance(2 * time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	refreshed := make(chan string, 1)
	go func() {
		val, err := c.GetOrLoad(ctx, "k", func(context.Context) (string, error) {
			close(started)
			<-release
			return "new", nil
		})
		assert.NoError(t, err)
		refreshed <- val
	}()
	<-started

	val, err := c.GetOrLoad(ctx, "k", func(context.Context) (string, error) {
		t.Error("second loader must not run while a refresh is in flight")
		return "other", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "old", val)

	close(release)
	assert.Equal(t, "new", <-refreshed)

	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "new", val)
}

func TestPersistentReleasesLockOnFailure(t *testing.T) {
	ctx := context.Background()
	c, err := NewPersistentMemoryWithFileFallback[string, string](time.Minute, t.TempDir(), "")
	require.NoError(t, err)
	boom := errors.New("api down")

	_, err = c.GetOrLoad(ctx, "k", func(context.Context) (string, error) { return "", boom })
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 0, c.Locks())

	entry, err := c.GetEntry(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, entry)

	done := make(chan struct{})
	go func() {
		defer close(done)
		val, err := c.GetOrLoad(ctx, "k", func(context.Context) (string, error) { return "ok", nil })
		assert.NoError(t, err)
		assert.Equal(t, "ok", val)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("GetOrLoad blocked after a failed load")
	}
}

func TestPersistentReleasesLockOnPanic(t *testing.T) {
	ctx := context.Background()
	c := NewPersistent[string, string](NewMemory[string, string](time.Minute))
	assert.Panics(t, func() {
		_, _ = c.GetOrLoad(ctx, "k", func(context.Context) (string, error) { panic("loader bug") })
	})
	assert.Equal(t, 0, c.Locks())
	val, err := c.GetOrLoad(ctx, "k", func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
}

func TestPersistentWaiterSeesLoaderError(t *testing.T) {
	ctx := context.Background()
	log := logger.NewTestLogger()
	c := NewPersistent[string, string](NewMemory[string, string](time.Minute), WithLogger(log))
	boom := errors.New("api down")
	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := c.GetOrLoad(ctx, "k", func(context.Context) (string, error) {
			close(started)
			<-release
			return "", boom
		})
		assert.True(t, errors.Is(err, boom))
	}()
	<-started

	waited := make(chan error, 1)
	go func() {
		_, err := c.GetOrLoad(ctx, "k", func(context.Context) (string, error) {
			return "unused", nil
		})
		waited <- err
	}()
	waitForRefs(t, c, "k", 2)
	close(release)
	wg.Wait()
	assert.True(t, errors.Is(<-waited, boom))
	assert.Equal(t, 0, c.Locks())
	assert.True(t, log.Contains("DEBUG", "loading k"))
	assert.True(t, log.Contains("DEBUG", "woke up for k"))
}

func TestPersistentWaiterCancellation(t *testing.T) {
	c := NewPersistent[string, string](NewMemory[string, string](time.Minute))
	started := make(chan struct{})
	release := make(chan struct{})
	loaded := make(chan string, 1)
	go func() {
		val, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (string, error) {
			close(started)
			<-release
			return "v", nil
		})
		assert.NoError(t, err)
		loaded <- val
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	waited := make(chan error, 1)
	go func() {
		_, err := c.GetOrLoad(ctx, "k", func(context.Context) (string, error) { return "unused", nil })
		waited <- err
	}()
	waitForRefs(t, c, "k", 2)
	cancel()
	assert.ErrorIs(t, <-waited, context.Canceled)
	assert.Equal(t, 1, refs(c, "k"))

	// the in-flight load is unaffected
	close(release)
	assert.Equal(t, "v", <-loaded)
	assert.Equal(t, 0, c.Locks())
}

func TestPersistentLoaderContractViolation(t *testing.T) {
	ctx := context.Background()
	c := NewPersistent[string, string](droppingCache{NewMemory[string, string](time.Minute)})
	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := c.GetOrLoad(ctx, "k", func(context.Context) (string, error) {
			close(started)
			<-release
			return "lost", nil
		})
		assert.NoError(t, err)
	}()
	<-started

	waited := make(chan error, 1)
	go func() {
		_, err := c.GetOrLoad(ctx, "k", func(context.Context) (string, error) { return "unused", nil })
		waited <- err
	}()
	waitForRefs(t, c, "k", 2)
	close(release)
	wg.Wait()

	err := <-waited
	assert.True(t, errors.Is(err, ErrLoaderContract))
	assert.True(t, errors.HasAssertionFailure(err))
}

func TestPersistentLoadSpan(t *testing.T) {
	ctx := context.Background()
	recorder := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(recorder))
	c := NewPersistent[string, string](NewMemory[string, string](time.Minute), WithTracerProvider(tp))

	_, err := c.GetOrLoad(ctx, "en", func(context.Context) (string, error) { return "v", nil })
	require.NoError(t, err)
	_, err = c.GetOrLoad(ctx, "de", func(context.Context) (string, error) { return "", errors.New("boom") })
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "cache.load", spans[0].Name())
	assert.Equal(t, "Ok", spans[0].Status().Code.String())
	assert.Equal(t, "Error", spans[1].Status().Code.String())
}
