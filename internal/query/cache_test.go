package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T) (*Client, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c := New(Options{StaleTime: -1}, NewMetrics(reg, "test"), zap.NewNop())
	t.Cleanup(c.Close)
	return c, reg
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		total := 0.0
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	return 0
}

func TestKeyPrefix(t *testing.T) {
	key := K("getPostById", "p1")

	assert.True(t, key.HasPrefix(K("getPostById")))
	assert.True(t, key.HasPrefix(Key{}))
	assert.False(t, key.HasPrefix(K("getPostById", "p2")))
	assert.False(t, K("getPost").HasPrefix(key))
	assert.Equal(t, "getPostById", key.Name())
	assert.NotEqual(t, K("a", "b c").String(), K("a b", "c").String())
}

func TestConcurrentReadsShareOneFetch(t *testing.T) {
	c, reg := newTestClient(t)
	release := make(chan struct{})
	var calls atomic.Int32

	fetch := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "post", nil
	}

	const readers = 5
	results := make([]string, readers)
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := Query(context.Background(), c, K("getPostById", "p1"), fetch)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	require.Eventually(t, func() bool {
		return counterValue(t, reg, "test_query_cache_misses_total")+
			counterValue(t, reg, "test_query_cache_dedup_waits_total") == readers
	}, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, "post", v)
	}
	assert.Equal(t, StatusSuccess, c.State(K("getPostById", "p1")).Status)
}

func TestFreshValueServedFromCache(t *testing.T) {
	c, reg := newTestClient(t)
	var calls atomic.Int32
	fetch := func(ctx context.Context) ([]string, error) {
		calls.Add(1)
		return []string{"a", "b"}, nil
	}

	first, err := Query(context.Background(), c, K("getRecentPosts"), fetch)
	require.NoError(t, err)
	second, err := Query(context.Background(), c, K("getRecentPosts"), fetch)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1.0, counterValue(t, reg, "test_query_cache_hits_total"))
}

func TestInvalidatedValueServedWhileRevalidating(t *testing.T) {
	c, reg := newTestClient(t)
	var version atomic.Int32
	fetch := func(ctx context.Context) (int32, error) {
		return version.Add(1), nil
	}
	key := K("getPostById", "p1")

	v, err := Query(context.Background(), c, key, fetch)
	require.NoError(t, err)
	require.Equal(t, int32(1), v)

	assert.Equal(t, 1, c.Invalidate(K("getPostById")))
	assert.True(t, c.State(key).Stale)

	v, err = Query(context.Background(), c, key, fetch)
	require.NoError(t, err)
	assert.Equal(t, int32(1), v, "stale value is returned without waiting")

	require.Eventually(t, func() bool {
		s := c.State(key)
		return s.Data == int32(2) && !s.Stale && !s.Fetching
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1.0, counterValue(t, reg, "test_query_cache_stale_serves_total"))
	assert.Equal(t, 1.0, counterValue(t, reg, "test_query_cache_invalidations_total"))
}

func TestInvalidationDuringFetchStoresStaleResult(t *testing.T) {
	c, _ := newTestClient(t)
	release := make(chan struct{})
	key := K("getUsers", 10)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := Query(context.Background(), c, key, func(ctx context.Context) (string, error) {
			<-release
			return "users", nil
		})
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool { return c.State(key).Fetching }, time.Second, time.Millisecond)
	c.Invalidate(K("getUsers"))
	close(release)
	<-done

	state := c.State(key)
	assert.Equal(t, StatusSuccess, state.Status)
	assert.True(t, state.Stale)
}

func TestStaleTimeExpiresEntries(t *testing.T) {
	c, _ := newTestClient(t)
	c.SetStaleTime(time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	c.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	key := K("getCurrentUser")
	_, err := Query(context.Background(), c, key, func(ctx context.Context) (string, error) { return "me", nil })
	require.NoError(t, err)

	assert.False(t, c.State(key).Stale)
	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	assert.True(t, c.State(key).Stale)
}

func TestCanceledCallerLeavesNoErrorState(t *testing.T) {
	c, _ := newTestClient(t)
	key := K("getPostById", "p1")
	fetchCanceled := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := Query(ctx, c, key, func(fctx context.Context) (string, error) {
			<-fctx.Done()
			close(fetchCanceled)
			return "", fctx.Err()
		})
		errCh <- err
	}()

	require.Eventually(t, func() bool { return c.State(key).Fetching }, time.Second, time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
	select {
	case <-fetchCanceled:
	case <-time.After(time.Second):
		t.Fatal("remote call was not canceled")
	}
	require.Eventually(t, func() bool { return !c.State(key).Fetching }, time.Second, time.Millisecond)

	state := c.State(key)
	assert.Equal(t, StatusIdle, state.Status)
	assert.NoError(t, state.Err)
}

func TestFetchErrorIsKeptUntilNextRead(t *testing.T) {
	c, reg := newTestClient(t)
	key := K("getInfinitePosts")
	var calls atomic.Int32
	boom := errors.New("connection reset")
	fetch := func(ctx context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "", boom
		}
		return "ok", nil
	}

	_, err := Query(context.Background(), c, key, fetch)
	assert.ErrorIs(t, err, boom)
	state := c.State(key)
	assert.Equal(t, StatusError, state.Status)
	assert.ErrorIs(t, state.Err, boom)
	assert.Equal(t, int32(1), calls.Load(), "no automatic retry")

	v, err := Query(context.Background(), c, key, fetch)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 1.0, counterValue(t, reg, "test_query_cache_fetch_errors_total"))
}

func TestQueryTypeMismatch(t *testing.T) {
	c, _ := newTestClient(t)
	c.SetQueryData(K("getUsers"), "not a slice")

	_, err := Query(context.Background(), c, K("getUsers"), func(ctx context.Context) ([]string, error) {
		return nil, nil
	})
	assert.Error(t, err)
}

func TestSnapshotRestore(t *testing.T) {
	c, _ := newTestClient(t)
	present := K("getPostById", "p1")
	absent := K("getPostById", "p2")
	c.SetQueryData(present, []string{})

	snap := c.Snapshot(present, absent)
	c.SetQueryData(present, []string{"u1"})
	c.SetQueryData(absent, []string{"u2"})
	snap.Restore()

	v, ok := c.GetQueryData(present)
	require.True(t, ok)
	assert.Equal(t, []string{}, v)
	_, ok = c.GetQueryData(absent)
	assert.False(t, ok)
}

func TestUpdateQueryDataRequiresExistingValue(t *testing.T) {
	c, _ := newTestClient(t)
	key := K("getCurrentUser")

	assert.False(t, c.UpdateQueryData(key, func(old any) (any, bool) { return "x", true }))
	c.SetQueryData(key, 1)
	assert.True(t, c.UpdateQueryData(key, func(old any) (any, bool) { return old.(int) + 1, true }))

	v, _ := c.GetQueryData(key)
	assert.Equal(t, 2, v)
}

func TestRemoveAndClear(t *testing.T) {
	c, _ := newTestClient(t)
	c.SetQueryData(K("getPostById", "p1"), 1)
	c.SetQueryData(K("getPostById", "p2"), 2)
	c.SetQueryData(K("getUsers"), 3)

	c.Remove(K("getPostById", "p1"))
	_, ok := c.GetQueryData(K("getPostById", "p1"))
	assert.False(t, ok)
	_, ok = c.GetQueryData(K("getPostById", "p2"))
	assert.True(t, ok)

	c.Clear()
	assert.Equal(t, StatusIdle, c.State(K("getUsers")).Status)
}
