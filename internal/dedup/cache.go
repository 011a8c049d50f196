package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/cadflow/internal/pool"
	"github.com/BaSui01/cadflow/types"
)

// WorkFunc produces the value for one fingerprint.
type WorkFunc[V any] func(ctx context.Context) (V, error)

// Origin tells a caller how its result was obtained.
type Origin string

const (
	// OriginCreated: this call started the job.
	OriginCreated Origin = "created"
	// OriginJoined: this call waited on an in-flight job.
	OriginJoined Origin = "joined"
	// OriginHit: the job had already finished.
	OriginHit Origin = "hit"
)

// Result is what Submit hands back to every caller of a fingerprint.
type Result[V any] struct {
	Fingerprint string
	Value       V
	Origin      Origin
}

// Config configures retention and job execution.
type Config struct {
	// Capacity bounds retained finished jobs. 0 keeps all of them.
	Capacity int `yaml:"capacity" json:"capacity"`
	// RetainFailures keeps failed jobs so later callers observe the same
	// failure. When false a failed fingerprint can be retried. Retryable
	// failures are never kept.
	RetainFailures bool `yaml:"retain_failures" json:"retain_failures"`
	// JobTimeout bounds a job's own run, independent of any caller.
	JobTimeout time.Duration `yaml:"job_timeout" json:"job_timeout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:       0,
		RetainFailures: true,
		JobTimeout:     2 * time.Minute,
	}
}

// Stats contains cache counters.
type Stats struct {
	Jobs      int   `json:"jobs"`
	InFlight  int   `json:"in_flight"`
	Retained  int   `json:"retained"`
	Misses    int64 `json:"misses"`
	Joins     int64 `json:"joins"`
	Hits      int64 `json:"hits"`
	Failures  int64 `json:"failures"`
	Evictions int64 `json:"evictions"`
}

// Cache runs at most one job per fingerprint and shares its outcome with
// every caller that asks for the same fingerprint.
type Cache[V any] struct {
	cfg    Config
	pool   *pool.GoroutinePool
	logger *zap.Logger

	mu        sync.Mutex
	jobs      map[string]*job[V]
	retained  *lruList
	inFlight  int
	misses    int64
	joins     int64
	hits      int64
	failures  int64
	evictions int64
}

// New creates a cache. A nil pool runs each job on its own goroutine.
func New[V any](cfg Config, p *pool.GoroutinePool, logger *zap.Logger) *Cache[V] {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultConfig().JobTimeout
	}
	if cfg.Capacity < 0 {
		cfg.Capacity = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache[V]{
		cfg:      cfg,
		pool:     p,
		logger:   logger.With(zap.String("component", "dedup_cache")),
		jobs:     make(map[string]*job[V]),
		retained: newLRUList(),
	}
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Submit returns the outcome of the job for fingerprint, starting it with work
// if none exists. Cancelling ctx abandons only this caller's wait.
func (c *Cache[V]) Submit(ctx context.Context, fingerprint string, work WorkFunc[V]) (*Result[V], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if j, ok := c.jobs[fingerprint]; ok {
		origin := OriginJoined
		if j.state.Terminal() {
			origin = OriginHit
			c.hits++
			c.retained.touch(fingerprint)
		} else {
			c.joins++
		}
		j.waiters++
		c.mu.Unlock()
		c.logger.Debug("dedup reuse", zap.String("fingerprint", fingerprint), zap.String("origin", string(origin)))
		return c.wait(ctx, j, origin)
	}

	j := &job[V]{
		fingerprint: fingerprint,
		state:       Pending,
		done:        make(chan struct{}),
		waiters:     1,
		createdAt:   time.Now(),
	}
	c.jobs[fingerprint] = j
	c.inFlight++
	c.misses++
	c.mu.Unlock()

	c.start(ctx, j, work)
	return c.wait(ctx, j, OriginCreated)
}

func (c *Cache[V]) start(ctx context.Context, j *job[V], work WorkFunc[V]) {
	detached := context.WithoutCancel(ctx)
	task := func(taskCtx context.Context) error {
		runCtx, cancel := context.WithTimeout(taskCtx, c.cfg.JobTimeout)
		defer cancel()

		c.mu.Lock()
		j.state = Running
		j.startedAt = time.Now()
		c.mu.Unlock()

		v, err := c.call(runCtx, work)
		c.finish(j, v, err)
		return err
	}

	if c.pool == nil {
		go func() { _ = task(detached) }()
		return
	}
	if err := c.pool.Submit(detached, task); err != nil {
		var zero V
		c.finish(j, zero, types.NewError(types.ErrServiceUnavailable, "worker pool rejected job").
			WithCause(err).
			WithRetryable(true))
	}
}

func (c *Cache[V]) call(ctx context.Context, work WorkFunc[V]) (v V, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("job panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = types.NewError(types.ErrInternalError, fmt.Sprintf("job panicked: %v", r))
		}
	}()
	return work(ctx)
}

func (c *Cache[V]) finish(j *job[V], v V, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	j.value, j.err = v, err
	j.finishedAt = time.Now()
	c.inFlight--
	if err != nil {
		j.state = Failed
		c.failures++
	} else {
		j.state = Done
	}
	close(j.done)

	// A retryable failure such as a pool rejection is never kept.
	if err != nil && (!c.cfg.RetainFailures || types.IsRetryable(err)) {
		delete(c.jobs, j.fingerprint)
		c.logger.Debug("failed job dropped", zap.String("fingerprint", j.fingerprint), zap.Error(err))
		return
	}

	c.retained.touch(j.fingerprint)
	for c.cfg.Capacity > 0 && c.retained.len() > c.cfg.Capacity {
		key, ok := c.retained.popTail()
		if !ok {
			break
		}
		delete(c.jobs, key)
		c.evictions++
	}
}

func (c *Cache[V]) wait(ctx context.Context, j *job[V], origin Origin) (*Result[V], error) {
	select {
	case <-j.done:
	case <-ctx.Done():
		c.mu.Lock()
		j.waiters--
		c.mu.Unlock()
		return nil, ctx.Err()
	}

	c.mu.Lock()
	j.waiters--
	c.mu.Unlock()

	return &Result[V]{Fingerprint: j.fingerprint, Value: j.value, Origin: origin}, j.err
}

// =============================================================================
// 🔍 查询
// =============================================================================

// Get returns a snapshot of the job for fingerprint without touching recency.
func (c *Cache[V]) Get(fingerprint string) (JobSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[fingerprint]
	if !ok {
		return JobSnapshot{}, false
	}
	return j.snapshot(), true
}

// Len returns the number of in-flight and retained jobs.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs)
}

// Stats returns cache counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Jobs:      len(c.jobs),
		InFlight:  c.inFlight,
		Retained:  c.retained.len(),
		Misses:    c.misses,
		Joins:     c.joins,
		Hits:      c.hits,
		Failures:  c.failures,
		Evictions: c.evictions,
	}
}
