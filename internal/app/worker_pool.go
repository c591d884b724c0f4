// Package app wires the analysis engine, its configuration and the background
// worker pool that the upload service hands post-processing to.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrPoolStopped = errors.New("worker pool stopped")

// Job is one unit of background work, such as indexing an upload into the
// record store or archiving it.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// WorkerPool runs jobs on a fixed set of goroutines.
//
// Features:
//   - Fixed worker count for predictable resource usage
//   - Backpressure with a configurable submit timeout
//   - Automatic worker restart on panic
//   - Queued jobs are drained on Stop
//
// Thread Safety: All public methods are safe for concurrent access.
type WorkerPool struct {
	workerCount int
	jobs        chan Job
	bufferSize  int

	submitTimeout time.Duration

	completed atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
	running  bool
	mu       sync.RWMutex
}

// WorkerPoolConfig defines worker pool configuration options.
type WorkerPoolConfig struct {
	WorkerCount   int           // Number of worker goroutines (default: 4)
	BufferSize    int           // Job queue size (default: 256)
	SubmitTimeout time.Duration // Backpressure timeout for Submit (0 disables waiting)
}

func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount:   4,
		BufferSize:    256,
		SubmitTimeout: 100 * time.Millisecond,
	}
}

// WorkerPoolStats is a point-in-time view of the pool counters.
type WorkerPoolStats struct {
	Workers       int     `json:"workers"`
	Running       bool    `json:"running"`
	QueueLength   int     `json:"queue_length"`
	QueueCapacity int     `json:"queue_capacity"`
	Utilization   float64 `json:"utilization"`
	Completed     int64   `json:"completed"`
	Failed        int64   `json:"failed"`
	Panics        int64   `json:"panics"`
}

// NewWorkerPool creates a configured worker pool.
//
// Parameters:
//   - config: Pool configuration options; non-positive sizes use defaults
//
// Returns:
//   - Configured WorkerPool ready for Start()
func NewWorkerPool(config WorkerPoolConfig) *WorkerPool {
	defaults := DefaultWorkerPoolConfig()
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.SubmitTimeout < 0 {
		config.SubmitTimeout = 0
	}

	return &WorkerPool{
		workerCount:   config.WorkerCount,
		jobs:          make(chan Job, config.BufferSize),
		bufferSize:    config.BufferSize,
		submitTimeout: config.SubmitTimeout,
		stopChan:      make(chan struct{}),
	}
}

// Start launches the worker goroutines. Jobs run with ctx. Calling Start on
// a running pool does nothing.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.mu.Lock()
	if wp.running {
		wp.mu.Unlock()
		return
	}
	wp.running = true
	wp.mu.Unlock()

	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}

	log.Info().
		Int("workers", wp.workerCount).
		Int("queue", wp.bufferSize).
		Msg("Worker pool started")
}

// worker is the processing loop for a single goroutine. A panicking job is
// counted as failed and the worker is replaced.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	var current string

	defer func() {
		if r := recover(); r != nil {
			wp.panics.Add(1)
			wp.failed.Add(1)
			log.Error().
				Interface("panic", r).
				Str("job", current).
				Int("worker_id", id).
				Msg("Worker panic recovered")

			wp.wg.Add(1)
			go wp.worker(ctx, id)
		}
	}()

	log.Debug().Int("worker_id", id).Msg("Worker started")

	for {
		select {
		case <-wp.stopChan:
			for {
				select {
				case job := <-wp.jobs:
					current = job.Name
					wp.execute(ctx, id, job)
				default:
					log.Debug().Int("worker_id", id).Msg("Worker stopped")
					return
				}
			}
		case job := <-wp.jobs:
			current = job.Name
			wp.execute(ctx, id, job)
			current = ""
		}
	}
}

func (wp *WorkerPool) execute(ctx context.Context, id int, job Job) {
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		wp.failed.Add(1)
		log.Warn().
			Err(err).
			Str("job", job.Name).
			Int("worker_id", id).
			Msg("Job failed")
		return
	}
	wp.completed.Add(1)
	log.Debug().
		Str("job", job.Name).
		Dur("duration", time.Since(start)).
		Msg("Job completed")
}

// Submit queues a job without blocking longer than the submit timeout.
//
// Returns:
//   - true if the job was queued
//   - false if the pool is not running or the queue stayed full
func (wp *WorkerPool) Submit(job Job) bool {
	if job.Run == nil || !wp.IsRunning() {
		return false
	}

	select {
	case wp.jobs <- job:
		return true
	default:
	}

	if wp.submitTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(wp.submitTimeout)
	defer timer.Stop()
	select {
	case wp.jobs <- job:
		return true
	case <-timer.C:
		log.Warn().Str("job", job.Name).Msg("Worker queue full, job rejected")
		return false
	case <-wp.stopChan:
		return false
	}
}

// SubmitBlocking waits until the job is queued, ctx is done or the pool
// stops.
func (wp *WorkerPool) SubmitBlocking(ctx context.Context, job Job) error {
	if job.Run == nil {
		return fmt.Errorf("submit %q: nil job", job.Name)
	}
	if !wp.IsRunning() {
		return ErrPoolStopped
	}
	select {
	case wp.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-wp.stopChan:
		return ErrPoolStopped
	}
}

// Stop rejects new jobs, lets the workers drain the queue and waits for
// them. Idempotent via sync.Once.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		wp.mu.Lock()
		wp.running = false
		wp.mu.Unlock()

		close(wp.stopChan)
		wp.wg.Wait()

		log.Info().
			Int64("completed", wp.completed.Load()).
			Int64("failed", wp.failed.Load()).
			Msg("Worker pool stopped")
	})
}

func (wp *WorkerPool) IsRunning() bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.running
}

// QueueLength returns the number of jobs waiting for a worker.
func (wp *WorkerPool) QueueLength() int {
	return len(wp.jobs)
}

func (wp *WorkerPool) QueueCapacity() int {
	return wp.bufferSize
}

// QueueUtilization returns the percentage of queue capacity in use.
func (wp *WorkerPool) QueueUtilization() float64 {
	if wp.bufferSize == 0 {
		return 0
	}
	return float64(len(wp.jobs)) / float64(wp.bufferSize) * 100
}

func (wp *WorkerPool) Stats() WorkerPoolStats {
	return WorkerPoolStats{
		Workers:       wp.workerCount,
		Running:       wp.IsRunning(),
		QueueLength:   wp.QueueLength(),
		QueueCapacity: wp.bufferSize,
		Utilization:   wp.QueueUtilization(),
		Completed:     wp.completed.Load(),
		Failed:        wp.failed.Load(),
		Panics:        wp.panics.Load(),
	}
}
