// Package pool bounds how many conversion jobs run at once.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Task represents a unit of work.
type Task func(ctx context.Context) error

// Config configures the pool.
type Config struct {
	// MaxWorkers is the number of tasks allowed to run concurrently.
	MaxWorkers int `yaml:"max_workers" json:"max_workers"`
	// QueueSize caps tasks waiting for a slot. 0 means unbounded.
	QueueSize int `yaml:"queue_size" json:"queue_size"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkers: 4,
		QueueSize:  0,
	}
}

// GoroutinePool runs tasks on their own goroutines, at most MaxWorkers at a
// time. Waiting tasks hold no slot.
type GoroutinePool struct {
	slots     chan struct{}
	queueSize int
	logger    *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	queued    atomic.Int32
	active    atomic.Int32
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	panics    atomic.Int64
}

// NewGoroutinePool creates a new goroutine pool.
func NewGoroutinePool(cfg Config, logger *zap.Logger) *GoroutinePool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultConfig().MaxWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GoroutinePool{
		slots:     make(chan struct{}, cfg.MaxWorkers),
		queueSize: cfg.QueueSize,
		logger:    logger.With(zap.String("component", "worker_pool")),
	}
}

// Submit schedules task and returns immediately. ctx bounds both the wait for
// a slot and the task itself.
func (p *GoroutinePool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	if !p.reserve() {
		p.rejected.Add(1)
		return ErrPoolFull
	}

	p.submitted.Add(1)
	p.wg.Add(1)
	go p.run(ctx, task)
	return nil
}

// reserve claims a queue place. Check and increment are one CAS so
// concurrent submitters cannot overshoot QueueSize.
func (p *GoroutinePool) reserve() bool {
	if p.queueSize <= 0 {
		p.queued.Add(1)
		return true
	}
	for {
		n := p.queued.Load()
		if int(n) >= p.queueSize {
			return false
		}
		if p.queued.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (p *GoroutinePool) run(ctx context.Context, task Task) {
	defer p.wg.Done()

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		p.queued.Add(-1)
		p.rejected.Add(1)
		return
	}
	p.queued.Add(-1)
	p.active.Add(1)

	err := p.execute(ctx, task)

	p.active.Add(-1)
	<-p.slots

	if err != nil {
		p.failed.Add(1)
	} else {
		p.completed.Add(1)
	}
}

func (p *GoroutinePool) execute(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.Error("task panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// Close rejects new tasks and waits for queued and running ones to finish.
func (p *GoroutinePool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}

// Stats returns pool statistics.
func (p *GoroutinePool) Stats() Stats {
	return Stats{
		MaxWorkers: cap(p.slots),
		Active:     int(p.active.Load()),
		Queued:     int(p.queued.Load()),
		Submitted:  p.submitted.Load(),
		Completed:  p.completed.Load(),
		Failed:     p.failed.Load(),
		Rejected:   p.rejected.Load(),
		Panics:     p.panics.Load(),
	}
}

// Stats contains pool statistics.
type Stats struct {
	MaxWorkers int   `json:"max_workers"`
	Active     int   `json:"active"`
	Queued     int   `json:"queued"`
	Submitted  int64 `json:"submitted"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Rejected   int64 `json:"rejected"`
	Panics     int64 `json:"panics"`
}
