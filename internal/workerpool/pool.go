// Package workerpool runs request work on a fixed set of goroutines, each
// locked to its own OS thread with an adjusted scheduling priority.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrStopped is returned when submitting to a stopped pool.
	ErrStopped = errors.New("worker pool stopped")

	// ErrTaskPanicked is returned by Do when the task panicked.
	ErrTaskPanicked = errors.New("task panicked")
)

// Task is a unit of work.
type Task func(ctx context.Context) error

type job struct {
	ctx  context.Context
	fn   Task
	done chan error
}

// Config holds worker pool configuration.
type Config struct {
	// Name labels log lines and stats.
	Name string

	// Workers is the number of worker goroutines. Values below 1 mean 1.
	Workers int

	// QueueSize bounds the number of accepted but not yet running tasks.
	// Zero means 4 per worker.
	QueueSize int

	// NicenessAdj is added to each worker thread's nice value.
	NicenessAdj int

	Logger *zap.Logger
}

// Pool is a bounded worker pool.
type Pool struct {
	name      string
	workers   int
	queueSize int
	queue     chan job
	logger    *zap.Logger

	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
	stopCh  chan struct{}

	active    atomic.Int32
	total     atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

// New starts the workers and waits until every one of them has applied the
// niceness adjustment. If any worker fails to, the pool is stopped and the
// error returned.
func New(cfg Config) (*Pool, error) {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4 * cfg.Workers
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.NicenessAdj != 0 && !NicenessSupported() {
		return nil, ErrNicenessUnsupported
	}

	p := &Pool{
		name:      cfg.Name,
		workers:   cfg.Workers,
		queueSize: cfg.QueueSize,
		queue:     make(chan job, cfg.QueueSize),
		logger:    cfg.Logger,
		stopCh:    make(chan struct{}),
	}

	started := make(chan error, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i, cfg.NicenessAdj, started)
	}

	var startErr error
	for i := 0; i < cfg.Workers; i++ {
		if err := <-started; err != nil && startErr == nil {
			startErr = err
		}
	}
	if startErr != nil {
		p.Stop()
		return nil, fmt.Errorf("start worker pool %q: %w", p.name, startErr)
	}

	p.logger.Info("worker pool started",
		zap.String("name", p.name),
		zap.Int("workers", p.workers),
		zap.Int("queue_size", p.queueSize),
		zap.Int("niceness_adj", cfg.NicenessAdj))
	return p, nil
}

func (p *Pool) worker(id, nicenessAdj int, started chan<- error) {
	defer p.wg.Done()

	// The thread is never unlocked, so it exits with the goroutine instead of
	// returning to the scheduler with a modified priority.
	runtime.LockOSThread()

	if err := Renice(nicenessAdj); err != nil {
		started <- err
		return
	}
	started <- nil

	for {
		select {
		case j := <-p.queue:
			p.run(id, j)
		case <-p.stopCh:
			// Finish whatever was accepted before the stop.
			for {
				select {
				case j := <-p.queue:
					p.run(id, j)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) run(workerID int, j job) {
	p.active.Add(1)
	defer p.active.Add(-1)

	start := time.Now()
	err := p.safeExecute(j)
	if err != nil {
		p.failed.Add(1)
		p.logger.Debug("task failed",
			zap.String("pool", p.name),
			zap.Int("worker_id", workerID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
	} else {
		p.completed.Add(1)
	}
	j.done <- err
}

func (p *Pool) safeExecute(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
			p.logger.Error("task panic recovered",
				zap.String("pool", p.name),
				zap.Any("panic", r))
		}
	}()
	return j.fn(j.ctx)
}

// Do runs fn on a worker and waits for it to return. It blocks until the task
// is accepted, so a full queue applies backpressure to the caller. A task that
// has been accepted always runs to completion.
func (p *Pool) Do(ctx context.Context, fn Task) error {
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	// Holding the read lock while enqueueing keeps Stop from closing the pool
	// between the check and the send.
	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		p.rejected.Add(1)
		return ErrStopped
	}
	select {
	case <-ctx.Done():
		p.mu.RUnlock()
		p.rejected.Add(1)
		return ctx.Err()
	case p.queue <- j:
		p.total.Add(1)
	}
	p.mu.RUnlock()

	return <-j.done
}

// Stop stops accepting tasks and waits for queued and running tasks to finish.
// It is safe to call more than once.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.stopCh)
		p.logger.Info("stopping worker pool", zap.String("name", p.name))
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Name           string
	Workers        int
	ActiveWorkers  int
	QueueSize      int
	QueuedTasks    int
	TotalTasks     uint64
	CompletedTasks uint64
	FailedTasks    uint64
	RejectedTasks  uint64
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Name:           p.name,
		Workers:        p.workers,
		ActiveWorkers:  int(p.active.Load()),
		QueueSize:      p.queueSize,
		QueuedTasks:    len(p.queue),
		TotalTasks:     p.total.Load(),
		CompletedTasks: p.completed.Load(),
		FailedTasks:    p.failed.Load(),
		RejectedTasks:  p.rejected.Load(),
	}
}
