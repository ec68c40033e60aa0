package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/staticpack/pkg/modrt"
)

func TestModuleCache_LoadsOnce(t *testing.T) {
	c := NewModuleCache()
	ctx := context.Background()

	var runs int32
	load := func(ctx context.Context, exports modrt.Exports) (modrt.Exports, error) {
		atomic.AddInt32(&runs, 1)
		exports["value"] = 42
		return exports, nil
	}

	first, err := c.GetOrLoad(ctx, "/a.go#react-server", load)
	require.NoError(t, err)
	second, err := c.GetOrLoad(ctx, "/a.go#react-server", load)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
	assert.Equal(t, 42, second["value"])
	first["marker"] = true
	assert.Equal(t, true, second["marker"], "same exports reference")

	got, ok := c.Get("/a.go#react-server")
	require.True(t, ok)
	assert.Equal(t, 42, got["value"])

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Loads)
	assert.Equal(t, int64(1), stats.Hits)
}

func TestModuleCache_ConcurrentCallersCollapse(t *testing.T) {
	c := NewModuleCache()
	ctx := context.Background()

	var runs int32
	release := make(chan struct{})
	load := func(ctx context.Context, exports modrt.Exports) (modrt.Exports, error) {
		atomic.AddInt32(&runs, 1)
		<-release
		exports["ok"] = true
		return exports, nil
	}

	const callers = 16
	var wg sync.WaitGroup
	results := make([]modrt.Exports, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.GetOrLoad(ctx, "k", load)
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
	for _, r := range results {
		assert.Equal(t, true, r["ok"])
	}
}

func TestModuleCache_ErrorIsMemoized(t *testing.T) {
	c := NewModuleCache()
	ctx := context.Background()
	boom := errors.New("boom")

	var runs int32
	load := func(ctx context.Context, exports modrt.Exports) (modrt.Exports, error) {
		atomic.AddInt32(&runs, 1)
		return nil, boom
	}

	_, err := c.GetOrLoad(ctx, "k", load)
	assert.ErrorIs(t, err, boom)
	_, err = c.GetOrLoad(ctx, "k", load)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestModuleCache_CancelledLoadIsForgotten(t *testing.T) {
	c := NewModuleCache()

	var runs int32
	load := func(ctx context.Context, exports modrt.Exports) (modrt.Exports, error) {
		atomic.AddInt32(&runs, 1)
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("evaluating: %w", err)
		}
		exports["ok"] = true
		return exports, nil
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetOrLoad(cancelled, "k", load)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.Len())

	exports, err := c.GetOrLoad(context.Background(), "k", load)
	require.NoError(t, err)
	assert.Equal(t, true, exports["ok"])
	assert.Equal(t, int32(2), atomic.LoadInt32(&runs))

	// A cancellation error from a live context is an ordinary failure.
	_, err = c.GetOrLoad(context.Background(), "other", func(ctx context.Context, _ modrt.Exports) (modrt.Exports, error) {
		return nil, context.Canceled
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, c.Len())
}

func TestModuleCache_CycleReturnsPartialExports(t *testing.T) {
	c := NewModuleCache()
	ctx := context.Background()

	var loadA, loadB LoadFunc
	var seenFromB modrt.Exports

	loadA = func(ctx context.Context, exports modrt.Exports) (modrt.Exports, error) {
		exports["early"] = "a"
		if _, err := c.GetOrLoad(ctx, "b", loadB); err != nil {
			return nil, err
		}
		exports["late"] = "a"
		return exports, nil
	}
	loadB = func(ctx context.Context, exports modrt.Exports) (modrt.Exports, error) {
		a, err := c.GetOrLoad(ctx, "a", loadA)
		if err != nil {
			return nil, err
		}
		seenFromB = a
		assert.Equal(t, []string{"b", "a"}, LoadChain(ctx))
		return exports, nil
	}

	a, err := c.GetOrLoad(ctx, "a", loadA)
	require.NoError(t, err)

	require.NotNil(t, seenFromB)
	assert.Equal(t, "a", seenFromB["early"])
	assert.Equal(t, "a", seenFromB["late"], "cycle sees the final object")
	assert.Equal(t, "a", a["late"])
}

func TestModuleCache_Reset(t *testing.T) {
	c := NewModuleCache()
	ctx := context.Background()

	var runs int32
	load := func(ctx context.Context, exports modrt.Exports) (modrt.Exports, error) {
		atomic.AddInt32(&runs, 1)
		return exports, nil
	}

	_, _ = c.GetOrLoad(ctx, "k", load)
	c.Reset()
	assert.Equal(t, 0, c.Len())

	_, _ = c.GetOrLoad(ctx, "k", load)
	assert.Equal(t, int32(2), atomic.LoadInt32(&runs))
}

func TestModuleCache_WaitHonorsContext(t *testing.T) {
	c := NewModuleCache()
	release := make(chan struct{})
	defer close(release)

	started := make(chan struct{})
	go func() {
		_, _ = c.GetOrLoad(context.Background(), "slow", func(ctx context.Context, exports modrt.Exports) (modrt.Exports, error) {
			close(started)
			<-release
			return exports, nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.GetOrLoad(ctx, "slow", func(ctx context.Context, exports modrt.Exports) (modrt.Exports, error) {
		t.Fatal("second load must not run")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemo_Do(t *testing.T) {
	m := NewMemo[string]()

	var runs int32
	fn := func() (string, error) {
		atomic.AddInt32(&runs, 1)
		return "packaged", nil
	}

	v, shared, err := m.Do("svg", fn)
	require.NoError(t, err)
	assert.Equal(t, "packaged", v)
	assert.False(t, shared)

	v, shared, err = m.Do("svg", fn)
	require.NoError(t, err)
	assert.Equal(t, "packaged", v)
	assert.True(t, shared)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestMemo_FailuresNotStored(t *testing.T) {
	m := NewMemo[int]()

	calls := 0
	_, _, err := m.Do("k", func() (int, error) {
		calls++
		return 0, errors.New("transient")
	})
	assert.Error(t, err)

	v, _, err := m.Do("k", func() (int, error) {
		calls++
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 2, calls)
}

func TestMemo_ConcurrentCollapse(t *testing.T) {
	m := NewMemo[int]()

	var runs int32
	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := m.Do("k", func() (int, error) {
				atomic.AddInt32(&runs, 1)
				<-release
				return 1, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, 1, v)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestMemo_DoContextIsolatesCallers(t *testing.T) {
	m := NewMemo[int]()

	var once sync.Once
	started := make(chan struct{})
	release := make(chan struct{})
	fn := func(ctx context.Context) (int, error) {
		once.Do(func() { close(started) })
		<-release
		return 5, ctx.Err()
	}

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := m.DoContext(first, "lib", fn)
		firstErr <- err
	}()
	<-started

	second := make(chan int, 1)
	go func() {
		v, _, err := m.DoContext(context.Background(), "lib", fn)
		assert.NoError(t, err)
		second <- v
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled, "the cancelled caller stops waiting")

	close(release)
	assert.Equal(t, 5, <-second, "other callers are unaffected by the first caller's cancellation")

	v, ok := m.Get("lib")
	assert.True(t, ok)
	assert.Equal(t, 5, v)
}

func TestMemo_Reset(t *testing.T) {
	m := NewMemo[int]()
	_, _, _ = m.Do("k", func() (int, error) { return 1, nil })
	assert.Equal(t, 1, m.Len())

	m.Reset()
	_, ok := m.Get("k")
	assert.False(t, ok)
}
