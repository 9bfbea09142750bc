package ttlcache_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvs-project/coordkit/pkg/metrics"
	"github.com/jvs-project/coordkit/pkg/ttlcache"
)

func TestCache_GetSet(t *testing.T) {
	c := ttlcache.New[string]()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("a", "1", time.Minute)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", v)
}

func TestCache_Expiry(t *testing.T) {
	c := ttlcache.New[int]()
	c.Set("k", 42, 50*time.Millisecond)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	time.Sleep(60 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestCache_OverwriteRefreshes(t *testing.T) {
	c := ttlcache.New[int]()
	c.Set("k", 1, 30*time.Millisecond)
	time.Sleep(40 * time.Millisecond)

	c.Set("k", 2, time.Minute)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestCache_PerEntryValidity(t *testing.T) {
	c := ttlcache.New[string]()
	c.Set("short", "s", 20*time.Millisecond)
	c.Set("long", "l", time.Minute)

	time.Sleep(40 * time.Millisecond)
	_, ok := c.Get("short")
	assert.False(t, ok)
	_, ok = c.Get("long")
	assert.True(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestCache_NonPositiveValidity(t *testing.T) {
	c := ttlcache.New[string]()
	c.Set("k", "v", 0)
	time.Sleep(time.Millisecond)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCache_ClearAndDelete(t *testing.T) {
	c := ttlcache.New[int]()
	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestCache_GetOrLoad(t *testing.T) {
	c := ttlcache.New[string]()
	var calls atomic.Int32
	load := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "loaded", nil
	}

	v, err := c.GetOrLoad(context.Background(), "k", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, "loaded", v)

	v, err = c.GetOrLoad(context.Background(), "k", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, "loaded", v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_NilInterfaceValue(t *testing.T) {
	c := ttlcache.New[any]()
	c.Set("null", nil, time.Minute)

	var (
		v  any
		ok bool
	)
	require.NotPanics(t, func() { v, ok = c.Get("null") })
	assert.True(t, ok, "a stored nil is still a hit")
	assert.Nil(t, v)

	_, ok = c.Get("absent")
	assert.False(t, ok)
}

func TestCache_GetOrLoad_NilResult(t *testing.T) {
	c := ttlcache.New[error]()
	var calls atomic.Int32
	load := func(ctx context.Context) (error, error) {
		calls.Add(1)
		return nil, nil
	}

	for i := 0; i < 2; i++ {
		var (
			v   error
			err error
		)
		require.NotPanics(t, func() { v, err = c.GetOrLoad(context.Background(), "k", time.Minute, load) })
		require.NoError(t, err)
		assert.Nil(t, v)
	}
	assert.Equal(t, int32(1), calls.Load(), "nil result is cached like any other")
}

func TestCache_GetOrLoad_ErrorsNotCached(t *testing.T) {
	c := ttlcache.New[string]()
	errUpstream := errors.New("503")
	fail := true
	load := func(ctx context.Context) (string, error) {
		if fail {
			return "", errUpstream
		}
		return "ok", nil
	}

	_, err := c.GetOrLoad(context.Background(), "k", time.Minute, load)
	require.ErrorIs(t, err, errUpstream)
	_, ok := c.Get("k")
	assert.False(t, ok)

	fail = false
	v, err := c.GetOrLoad(context.Background(), "k", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestCache_GetOrLoad_CollapsesConcurrentLoads(t *testing.T) {
	c := ttlcache.New[int]()
	var calls atomic.Int32
	release := make(chan struct{})
	load := func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 7, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrLoad(context.Background(), "k", time.Minute, load)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, 7, v)
	}
}

func TestCache_Metrics(t *testing.T) {
	reg := metrics.NewRegistry()
	c := ttlcache.New[int](ttlcache.WithMetrics(reg))

	c.Get("k")
	c.Set("k", 1, time.Minute)
	c.Get("k")

	var buf bytes.Buffer
	require.NoError(t, reg.WriteText(&buf))
	assert.Contains(t, buf.String(), `coordkit_cache_lookups_total{result="hit"} 1`)
	assert.Contains(t, buf.String(), `coordkit_cache_lookups_total{result="miss"} 1`)
}
