package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a background job, such as a cache fill after a version read.
type Task func(ctx context.Context) error

type WorkerPool struct {
	taskQueue   chan Task
	wg          sync.WaitGroup
	mu          sync.RWMutex // guards isClosing against a send on the closed queue
	isClosing   bool
	taskTimeout time.Duration
	logger      *zap.Logger
}

func NewWorkerPool(size, queueSize int, taskTimeout time.Duration, logger *zap.Logger) *WorkerPool {
	if size < 1 {
		size = 1
	}
	wp := &WorkerPool{
		taskQueue:   make(chan Task, queueSize),
		taskTimeout: taskTimeout,
		logger:      logger,
	}

	// Start the workers
	for range size {
		wp.wg.Add(1) // add to WaitGroup
		go wp.startWorker()
	}

	return wp
}

func (wp *WorkerPool) startWorker() {
	defer wp.wg.Done() // signal when worker finished
	for task := range wp.taskQueue {
		wp.run(task)
	}
}

func (wp *WorkerPool) run(task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), wp.taskTimeout)
	defer cancel()
	if err := task(ctx); err != nil {
		wp.logger.Warn("background task failed", zap.Error(err))
	}
}

// Submit enqueues t without blocking. It reports false when the task was
// dropped because the pool is shutting down or the queue is full.
func (wp *WorkerPool) Submit(t Task) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.isClosing {
		wp.logger.Warn("task submitted during shutdown, dropping")
		return false
	}
	select {
	case wp.taskQueue <- t: // send task to worker pool
		return true
	default:
		wp.logger.Warn("task queue full, dropping task")
		return false
	}
}

// Shutdown closes the queue and waits for workers to finish
func (wp *WorkerPool) Shutdown() {
	wp.mu.Lock()
	if wp.isClosing {
		wp.mu.Unlock()
		return
	}
	wp.isClosing = true
	close(wp.taskQueue) // Stop accepting new tasks
	wp.mu.Unlock()

	wp.wg.Wait() // Wait for all active workers to finish tasks
}
