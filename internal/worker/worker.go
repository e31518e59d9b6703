package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var ErrStopped = errors.New("worker pool stopped")

type Job interface{}

type ProcessFunc func(ctx context.Context, job Job) error

type task struct {
	ctx    context.Context
	job    Job
	result chan error
}

// WorkerPool runs submitted jobs on a fixed number of goroutines. Workers
// drain the queue until Stop, so jobs accepted before Stop always finish.
type WorkerPool struct {
	numWorkers int
	jobs       chan task
	processor  ProcessFunc
	wg         sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

func NewWorkerPool(numWorkers int, bufferSize int, processor ProcessFunc) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &WorkerPool{
		numWorkers: numWorkers,
		jobs:       make(chan task, bufferSize),
		processor:  processor,
	}
}

func (wp *WorkerPool) Start() {
	for i := 1; i <= wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for t := range wp.jobs {
		err := wp.run(t)
		if err != nil {
			slog.Debug("job failed", "worker", id, "error", err)
		}
		t.result <- err
	}
}

func (wp *WorkerPool) run(t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
			slog.Error("worker recovered from panic", "panic", r)
		}
	}()
	return wp.processor(t.ctx, t.job)
}

// Submit queues job and returns a channel that receives its result. It
// blocks while the queue is full unless ctx is done first.
func (wp *WorkerPool) Submit(ctx context.Context, job Job) (<-chan error, error) {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return nil, ErrStopped
	}

	t := task{ctx: ctx, job: job, result: make(chan error, 1)}
	select {
	case wp.jobs <- t:
		return t.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run submits every job and waits for all of them. errs[i] belongs to
// jobs[i]; a job that could not be queued gets the submit error.
func (wp *WorkerPool) Run(ctx context.Context, jobs []Job) []error {
	errs := make([]error, len(jobs))
	results := make([]<-chan error, len(jobs))

	for i, job := range jobs {
		ch, err := wp.Submit(ctx, job)
		if err != nil {
			errs[i] = err
			continue
		}
		results[i] = ch
	}
	for i, ch := range results {
		if ch != nil {
			errs[i] = <-ch
		}
	}
	return errs
}

func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.jobs)
	wp.mu.Unlock()

	wp.wg.Wait()
}
