package router

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolStopped is returned by Submit after Stop
var ErrPoolStopped = errors.New("worker pool stopped")

// WorkerPool runs routing tasks on a fixed set of goroutines
type WorkerPool struct {
	size     int
	taskChan chan func()
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
}

// NewWorkerPool creates a pool with size workers
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		size:     size,
		taskChan: make(chan func(), size*2),
		stopChan: make(chan struct{}),
	}
}

// Start launches the workers
func (p *WorkerPool) Start() {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop signals the workers and waits for them to exit. Queued tasks that
// were not picked up yet are dropped.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	p.wg.Wait()
}

// Submit queues a task, blocking while the queue is full
func (p *WorkerPool) Submit(ctx context.Context, task func()) error {
	select {
	case p.taskChan <- task:
		return nil
	case <-p.stopChan:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()

	for {
		select {
		case task := <-p.taskChan:
			if task != nil {
				task()
			}
		case <-p.stopChan:
			return
		}
	}
}
