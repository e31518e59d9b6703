package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestWorkerPool_StartStop(t *testing.T) {
	var processed atomic.Int64
	processor := func(ctx context.Context, job Job) error {
		processed.Add(1)
		return nil
	}

	pool := NewWorkerPool(2, 10, processor)
	pool.Start()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := pool.Submit(ctx, i); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	pool.Stop()

	if processed.Load() != 5 {
		t.Errorf("expected 5 jobs processed, got %d", processed.Load())
	}
}

func TestWorkerPool_ConcurrentSubmit(t *testing.T) {
	var processed atomic.Int64
	processor := func(ctx context.Context, job Job) error {
		processed.Add(1)
		return nil
	}

	pool := NewWorkerPool(4, 100, processor)
	pool.Start()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			pool.Submit(context.Background(), n)
		}(i)
	}
	wg.Wait()

	pool.Stop()

	if processed.Load() != 100 {
		t.Errorf("expected 100 jobs processed, got %d", processed.Load())
	}
}

func TestWorkerPool_RunReturnsPerJobResults(t *testing.T) {
	boom := errors.New("boom")
	processor := func(ctx context.Context, job Job) error {
		switch job.(int) {
		case 1:
			return boom
		case 2:
			panic("bad job")
		}
		return nil
	}

	pool := NewWorkerPool(3, 1, processor)
	pool.Start()
	defer pool.Stop()

	errs := pool.Run(context.Background(), []Job{0, 1, 2, 3})

	if len(errs) != 4 {
		t.Fatalf("expected 4 results, got %d", len(errs))
	}
	if errs[0] != nil || errs[3] != nil {
		t.Errorf("expected jobs 0 and 3 to succeed, got %v, %v", errs[0], errs[3])
	}
	if !errors.Is(errs[1], boom) {
		t.Errorf("expected job 1 error, got %v", errs[1])
	}
	if errs[2] == nil {
		t.Error("expected panicking job to report an error")
	}
}

func TestWorkerPool_GracefulShutdown(t *testing.T) {
	var processed atomic.Int64
	processor := func(ctx context.Context, job Job) error {
		time.Sleep(10 * time.Millisecond) // Simulate work
		processed.Add(1)
		return nil
	}

	pool := NewWorkerPool(2, 50, processor)
	pool.Start()

	for i := 0; i < 20; i++ {
		pool.Submit(context.Background(), i)
	}

	// Stop drains everything already queued
	pool.Stop()

	if processed.Load() != 20 {
		t.Errorf("expected all 20 queued jobs processed, got %d", processed.Load())
	}
}

func TestWorkerPool_SubmitAfterStop(t *testing.T) {
	pool := NewWorkerPool(1, 1, func(ctx context.Context, job Job) error { return nil })
	pool.Start()
	pool.Stop()
	pool.Stop()

	if _, err := pool.Submit(context.Background(), 1); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

func TestWorkerPool_SubmitRespectsContext(t *testing.T) {
	release := make(chan struct{})
	pool := NewWorkerPool(1, 0, func(ctx context.Context, job Job) error {
		<-release
		return nil
	})
	pool.Start()

	// occupy the only worker
	first, err := pool.Submit(context.Background(), 1)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := pool.Submit(ctx, 2); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	close(release)
	<-first
	pool.Stop()
}
