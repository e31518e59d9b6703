package ingestion

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/mr1hm/go-raid-alerts/internal/dispatch"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingCycle struct {
	calls atomic.Int64
	mu    sync.Mutex
	ids   []string
	err   error
}

func (c *countingCycle) run(ctx context.Context, cycleID string) (dispatch.Report, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.ids = append(c.ids, cycleID)
	c.mu.Unlock()
	return dispatch.Report{CycleID: cycleID}, c.err
}

type healthLog struct {
	mu     sync.Mutex
	status map[string]bool
}

func (h *healthLog) SetServing(task string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == nil {
		h.status = make(map[string]bool)
	}
	h.status[task] = ok
}

func (h *healthLog) get(task string) (bool, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.status[task]
	return v, ok
}

func TestManager_InitialRunAndTicks(t *testing.T) {
	disp := &countingCycle{}
	bcast := &countingCycle{}
	m := NewManager(disp.run, bcast.run, nil, ManagerOptions{
		DispatchInterval:  20 * time.Millisecond,
		BroadcastInterval: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	time.Sleep(70 * time.Millisecond)
	cancel()
	if !m.Stop() {
		t.Fatal("expected pollers to stop within grace")
	}

	if disp.calls.Load() < 3 {
		t.Errorf("expected initial run plus ticks, got %d dispatch cycles", disp.calls.Load())
	}
	if bcast.calls.Load() != 1 {
		t.Errorf("expected only the initial broadcast cycle, got %d", bcast.calls.Load())
	}

	seen := make(map[string]bool)
	for _, id := range disp.ids {
		if id == "" || seen[id] {
			t.Errorf("expected unique non-empty cycle ids, got %q", id)
		}
		seen[id] = true
	}
}

func TestManager_NoCycleAfterCancel(t *testing.T) {
	disp := &countingCycle{}
	m := NewManager(disp.run, nil, nil, ManagerOptions{DispatchInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	time.Sleep(25 * time.Millisecond)
	cancel()
	m.Stop()

	after := disp.calls.Load()
	time.Sleep(40 * time.Millisecond)
	if disp.calls.Load() != after {
		t.Errorf("expected no cycles after shutdown, got %d more", disp.calls.Load()-after)
	}
}

func TestManager_RunningCycleOutlivesCancellation(t *testing.T) {
	started := make(chan struct{})
	var cycleErr atomic.Value
	slow := func(ctx context.Context, cycleID string) (dispatch.Report, error) {
		close(started)
		time.Sleep(30 * time.Millisecond)
		if err := ctx.Err(); err != nil {
			cycleErr.Store(err)
		}
		return dispatch.Report{}, nil
	}

	m := NewManager(slow, nil, nil, ManagerOptions{
		DispatchInterval: time.Hour,
		Grace:            time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	<-started
	cancel()

	if !m.Stop() {
		t.Fatal("expected the running cycle to finish within grace")
	}
	if err := cycleErr.Load(); err != nil {
		t.Errorf("expected cycle context to survive shutdown, got %v", err)
	}
}

func TestManager_StopGivesUpAfterGrace(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	stuck := func(ctx context.Context, cycleID string) (dispatch.Report, error) {
		close(started)
		<-release
		return dispatch.Report{}, nil
	}

	m := NewManager(stuck, nil, nil, ManagerOptions{
		DispatchInterval: time.Hour,
		Grace:            20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	<-started
	cancel()

	begin := time.Now()
	if m.Stop() {
		t.Error("expected Stop to report a timeout")
	}
	if elapsed := time.Since(begin); elapsed > 500*time.Millisecond {
		t.Errorf("Stop blocked for %v", elapsed)
	}

	close(release)
	m.wg.Wait()
}

func TestManager_CycleTimeoutBoundsCycle(t *testing.T) {
	var deadline atomic.Bool
	fn := func(ctx context.Context, cycleID string) (dispatch.Report, error) {
		_, ok := ctx.Deadline()
		deadline.Store(ok)
		return dispatch.Report{}, nil
	}
	m := NewManager(fn, nil, nil, ManagerOptions{CycleTimeout: time.Second})

	if _, err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if !deadline.Load() {
		t.Error("expected cycle context to carry a deadline")
	}
}

func TestManager_ReportsHealth(t *testing.T) {
	disp := &countingCycle{}
	health := &healthLog{}
	m := NewManager(disp.run, nil, health, ManagerOptions{
		HealthNames: map[string]string{TaskDispatch: "raid.dispatch"},
	})

	if _, err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if ok, set := health.get("raid.dispatch"); !set || !ok {
		t.Errorf("expected SERVING after a good cycle, got %v (set=%v)", ok, set)
	}

	disp.err = errors.New("upstream down")
	if _, err := m.RunOnce(context.Background()); err == nil {
		t.Fatal("expected RunOnce to surface the cycle error")
	}
	if ok, _ := health.get("raid.dispatch"); ok {
		t.Error("expected NOT_SERVING after a failed cycle")
	}
}
