// Package worker runs background jobs such as memory extraction and session renaming
// off the request path.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrQueueFull is returned by Submit when the queue has no free slot.
var ErrQueueFull = errors.New("queue full")

// ErrClosed is returned by Submit after Shutdown.
var ErrClosed = errors.New("pool closed")

// Job is a named unit of background work.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Config holds pool sizing.
type Config struct {
	Workers       int
	QueueSize     int
	MaxConcurrent int
	// JobTimeout bounds a single job. Zero means no limit.
	JobTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{Workers: 4, QueueSize: 256, MaxConcurrent: 2, JobTimeout: 2 * time.Minute}
}

// Metrics is a snapshot of pool counters.
type Metrics struct {
	Submitted int64
	Succeeded int64
	Failed    int64
	Inflight  int
}

// Pool executes jobs on a fixed set of workers with a concurrency cap.
type Pool struct {
	queue  chan Job
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	cfg    Config

	mu      sync.RWMutex
	closed  bool
	metrics Metrics
}

func NewPool(cfg Config) *Pool {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:  make(chan Job, cfg.QueueSize),
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.queue {
		p.process(job)
	}
}

func (p *Pool) process(job Job) {
	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		slog.Warn("background job dropped", "job", job.Name, "error", err)
		p.record(false)
		return
	}
	defer p.sem.Release(1)

	p.mu.Lock()
	p.metrics.Inflight++
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.metrics.Inflight--
		p.mu.Unlock()
	}()

	ctx := p.ctx
	if p.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	err := runSafely(ctx, job)
	if err != nil {
		slog.Error("background job failed", "job", job.Name, "error", err, "duration", time.Since(start))
		p.record(false)
		return
	}
	slog.Debug("background job done", "job", job.Name, "duration", time.Since(start))
	p.record(true)
}

func runSafely(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job.Run(ctx)
}

func (p *Pool) record(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ok {
		p.metrics.Succeeded++
	} else {
		p.metrics.Failed++
	}
}

// Submit enqueues a job without blocking.
func (p *Pool) Submit(job Job) error {
	if job.Run == nil {
		return errors.New("job has no run function")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- job:
		p.metrics.Submitted++
		return nil
	default:
		return ErrQueueFull
	}
}

// Go submits fn as a job and logs instead of returning a submit error.
func (p *Pool) Go(name string, fn func(ctx context.Context) error) {
	if err := p.Submit(Job{Name: name, Run: fn}); err != nil {
		slog.Warn("failed to submit background job", "job", name, "error", err)
	}
}

func (p *Pool) Metrics() Metrics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.metrics
}

func (p *Pool) QueueLength() int {
	return len(p.queue)
}

// Check fails with ErrQueueFull while every queue slot is taken. The health check calls it.
func (p *Pool) Check(context.Context) error {
	if n := p.QueueLength(); n >= cap(p.queue) {
		return fmt.Errorf("%d jobs waiting: %w", n, ErrQueueFull)
	}
	return nil
}

// Shutdown stops accepting jobs and waits for queued ones to drain. Jobs still
// running when the timeout expires have their context cancelled.
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-timer.C:
		p.cancel()
		return errors.New("shutdown timeout exceeded")
	}
}
