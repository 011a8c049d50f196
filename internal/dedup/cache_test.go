package dedup

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
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/cadflow/internal/pool"
	"github.com/BaSui01/cadflow/types"
)

func newTestCache(t *testing.T, cfg Config) *Cache[string] {
	t.Helper()
	p := pool.NewGoroutinePool(pool.Config{MaxWorkers: 4}, nil)
	t.Cleanup(p.Close)
	return New[string](cfg, p, nil)
}

func TestCache_ConcurrentIdenticalSubmitsRunOnce(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, DefaultConfig())
	var calls atomic.Int32
	release := make(chan struct{})
	work := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "mesh", nil
	}

	const n = 16
	results := make([]*Result[string], n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			r, err := c.Submit(context.Background(), "fp", work)
			results[i] = r
			return err
		})
	}

	require.Eventually(t, func() bool {
		s, ok := c.Get("fp")
		return ok && s.Waiters == n
	}, time.Second, 5*time.Millisecond)
	close(release)
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), calls.Load())
	created := 0
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, "mesh", r.Value)
		if r.Origin == OriginCreated {
			created++
		}
	}
	assert.Equal(t, 1, created)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(n-1), stats.Joins)
	assert.Equal(t, 0, stats.InFlight)
}

func TestCache_ConcurrentIdenticalFailuresShareError(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, DefaultConfig())
	var calls atomic.Int32
	boom := errors.New("kernel exploded")
	release := make(chan struct{})

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Submit(context.Background(), "bad", func(ctx context.Context) (string, error) {
				calls.Add(1)
				<-release
				return "", boom
			})
		}()
	}
	require.Eventually(t, func() bool {
		s, ok := c.Get("bad")
		return ok && s.Waiters == n
	}, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, err := range errs {
		assert.ErrorIs(t, err, boom)
	}

	// Retained failure: a later caller sees the same error without rerunning.
	r, err := c.Submit(context.Background(), "bad", func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "ok", nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, OriginHit, r.Origin)
	assert.Equal(t, int32(1), calls.Load())

	snap, ok := c.Get("bad")
	require.True(t, ok)
	assert.Equal(t, Failed, snap.State)
	assert.Equal(t, "kernel exploded", snap.Error)
}

func TestCache_FailureNotRetainedAllowsRetry(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.RetainFailures = false
	c := newTestCache(t, cfg)

	var calls atomic.Int32
	work := func(ctx context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "", errors.New("transient")
		}
		return "mesh", nil
	}

	_, err := c.Submit(context.Background(), "fp", work)
	require.Error(t, err)
	_, ok := c.Get("fp")
	assert.False(t, ok)

	r, err := c.Submit(context.Background(), "fp", work)
	require.NoError(t, err)
	assert.Equal(t, "mesh", r.Value)
	assert.Equal(t, OriginCreated, r.Origin)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCache_CallerCancelDoesNotCancelJob(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, DefaultConfig())
	release := make(chan struct{})
	var jobCtxErr atomic.Value
	work := func(ctx context.Context) (string, error) {
		<-release
		if err := ctx.Err(); err != nil {
			jobCtxErr.Store(err)
		}
		return "mesh", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Submit(ctx, "fp", work)
		firstErr <- err
	}()

	require.Eventually(t, func() bool {
		s, ok := c.Get("fp")
		return ok && s.State == Running
	}, time.Second, 5*time.Millisecond)

	secondDone := make(chan *Result[string], 1)
	go func() {
		r, err := c.Submit(context.Background(), "fp", work)
		assert.NoError(t, err)
		secondDone <- r
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	r := <-secondDone
	require.NotNil(t, r)
	assert.Equal(t, "mesh", r.Value)
	assert.Nil(t, jobCtxErr.Load())
}

func TestCache_JobTimeout(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.JobTimeout = 30 * time.Millisecond
	c := newTestCache(t, cfg)

	_, err := c.Submit(context.Background(), "slow", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCache_LRUEvictsOnlyTerminalJobs(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Capacity = 2
	c := newTestCache(t, cfg)
	ok := func(v string) WorkFunc[string] {
		return func(context.Context) (string, error) { return v, nil }
	}

	// Keep one job in flight across the evictions.
	release := make(chan struct{})
	inflightDone := make(chan struct{})
	go func() {
		defer close(inflightDone)
		_, _ = c.Submit(context.Background(), "inflight", func(context.Context) (string, error) {
			<-release
			return "late", nil
		})
	}()
	require.Eventually(t, func() bool { _, ok := c.Get("inflight"); return ok }, time.Second, 5*time.Millisecond)

	for _, fp := range []string{"a", "b"} {
		_, err := c.Submit(context.Background(), fp, ok(fp))
		require.NoError(t, err)
	}
	// Touch "a" so "b" becomes least recently used.
	r, err := c.Submit(context.Background(), "a", ok("unused"))
	require.NoError(t, err)
	assert.Equal(t, OriginHit, r.Origin)
	assert.Equal(t, "a", r.Value)

	_, err = c.Submit(context.Background(), "c", ok("c"))
	require.NoError(t, err)

	_, hasB := c.Get("b")
	assert.False(t, hasB)
	for _, fp := range []string{"a", "c", "inflight"} {
		_, has := c.Get(fp)
		assert.True(t, has, fp)
	}
	assert.Equal(t, int64(1), c.Stats().Evictions)

	close(release)
	<-inflightDone
	// Finishing the in-flight job pushes retention over capacity again.
	assert.Equal(t, 2, c.Len())
}

func TestCache_UnboundedByDefault(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, DefaultConfig())
	for i := 0; i < 50; i++ {
		fp := fmt.Sprintf("fp-%d", i)
		_, err := c.Submit(context.Background(), fp, func(context.Context) (string, error) { return fp, nil })
		require.NoError(t, err)
	}
	assert.Equal(t, 50, c.Len())
	assert.Equal(t, int64(0), c.Stats().Evictions)
}

func TestCache_PanicBecomesFailure(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, DefaultConfig())
	_, err := c.Submit(context.Background(), "p", func(context.Context) (string, error) {
		panic("bad script")
	})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInternalError))
	assert.Equal(t, 0, c.Stats().InFlight)
}

func TestCache_PoolClosedFailsJob(t *testing.T) {
	t.Parallel()

	p := pool.NewGoroutinePool(pool.Config{MaxWorkers: 1}, nil)
	p.Close()
	c := New[string](DefaultConfig(), p, nil)

	_, err := c.Submit(context.Background(), "fp", func(context.Context) (string, error) { return "x", nil })
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrServiceUnavailable))
	assert.ErrorIs(t, err, pool.ErrPoolClosed)
	assert.Equal(t, 0, c.Stats().Jobs, "rejected job is not retained")
}

func TestCache_PoolRejectionIsNotRetained(t *testing.T) {
	t.Parallel()

	p := pool.NewGoroutinePool(pool.Config{MaxWorkers: 1, QueueSize: 1}, nil)
	t.Cleanup(p.Close)
	c := New[string](DefaultConfig(), p, nil)

	gate := make(chan struct{})
	gated := func(v string) WorkFunc[string] {
		return func(context.Context) (string, error) { <-gate; return v, nil }
	}

	var g errgroup.Group
	g.Go(func() error {
		_, err := c.Submit(context.Background(), "a", gated("a"))
		return err
	})
	require.Eventually(t, func() bool { return p.Stats().Active == 1 }, time.Second, 5*time.Millisecond)
	g.Go(func() error {
		_, err := c.Submit(context.Background(), "b", gated("b"))
		return err
	})
	require.Eventually(t, func() bool { return p.Stats().Queued == 1 }, time.Second, 5*time.Millisecond)

	var calls atomic.Int32
	work := func(context.Context) (string, error) {
		calls.Add(1)
		return "c", nil
	}
	_, err := c.Submit(context.Background(), "c", work)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrServiceUnavailable))
	assert.ErrorIs(t, err, pool.ErrPoolFull)
	assert.Equal(t, int32(0), calls.Load())

	close(gate)
	require.NoError(t, g.Wait())

	res, err := c.Submit(context.Background(), "c", work)
	require.NoError(t, err)
	assert.Equal(t, OriginCreated, res.Origin)
	assert.Equal(t, "c", res.Value)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_CancelledBeforeSubmit(t *testing.T) {
	t.Parallel()

	c := New[string](DefaultConfig(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Submit(ctx, "fp", func(context.Context) (string, error) { return "x", nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.Len())
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "done", Done.String())
	assert.Equal(t, "failed", Failed.String())
	assert.True(t, Failed.Terminal())
	assert.False(t, Running.Terminal())
}
