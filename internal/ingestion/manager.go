package ingestion

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mr1hm/go-raid-alerts/internal/dispatch"
	"github.com/mr1hm/go-raid-alerts/internal/metrics"
)

const (
	TaskDispatch  = "dispatch"
	TaskBroadcast = "broadcast"
)

// CycleFunc runs one poll cycle under the given correlation id.
type CycleFunc func(ctx context.Context, cycleID string) (dispatch.Report, error)

// HealthReporter receives the outcome of every cycle, keyed by task.
type HealthReporter interface {
	SetServing(task string, ok bool)
}

type ManagerOptions struct {
	DispatchInterval  time.Duration
	BroadcastInterval time.Duration
	CycleTimeout      time.Duration
	Grace             time.Duration
	// HealthNames maps a task to the name it is reported under.
	HealthNames map[string]string
}

// Manager drives the periodic tasks. Each runs once at start and then on its
// own ticker until the context passed to Start is cancelled.
type Manager struct {
	dispatch  CycleFunc
	broadcast CycleFunc
	health    HealthReporter
	opts      ManagerOptions
	wg        sync.WaitGroup
}

// NewManager wires the task functions. broadcast and health may be nil.
func NewManager(dispatchFn, broadcastFn CycleFunc, health HealthReporter, opts ManagerOptions) *Manager {
	if opts.DispatchInterval <= 0 {
		opts.DispatchInterval = 30 * time.Second
	}
	if opts.BroadcastInterval <= 0 {
		opts.BroadcastInterval = opts.DispatchInterval
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = opts.DispatchInterval
	}
	if opts.Grace <= 0 {
		opts.Grace = 500 * time.Millisecond
	}
	return &Manager{
		dispatch:  dispatchFn,
		broadcast: broadcastFn,
		health:    health,
		opts:      opts,
	}
}

func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.runPoller(ctx, TaskDispatch, m.opts.DispatchInterval, m.dispatch)

	if m.broadcast != nil {
		m.wg.Add(1)
		go m.runPoller(ctx, TaskBroadcast, m.opts.BroadcastInterval, m.broadcast)
	}
}

func (m *Manager) runPoller(ctx context.Context, task string, interval time.Duration, fn CycleFunc) {
	defer m.wg.Done()
	slog.Info("starting poller", "task", task, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial poll
	m.cycle(ctx, task, fn)

	for {
		select {
		case <-ctx.Done():
			slog.Info("poller shutting down", "task", task)
			return
		case <-ticker.C:
			m.cycle(ctx, task, fn)
		}
	}
}

// cycle runs fn unless shutdown has begun. The cycle itself is detached from
// cancellation so state already computed is persisted; only the cycle
// timeout bounds it.
func (m *Manager) cycle(ctx context.Context, task string, fn CycleFunc) {
	if ctx.Err() != nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.CycleTimeout)
	defer cancel()

	m.run(cctx, task, fn)
}

// RunOnce runs an ad-hoc dispatch cycle now. Subscribers still being handled
// by a scheduled cycle are skipped.
func (m *Manager) RunOnce(ctx context.Context) (dispatch.Report, error) {
	cctx, cancel := context.WithTimeout(ctx, m.opts.CycleTimeout)
	defer cancel()

	return m.run(cctx, TaskDispatch, m.dispatch)
}

func (m *Manager) run(ctx context.Context, task string, fn CycleFunc) (dispatch.Report, error) {
	id := uuid.NewString()
	start := time.Now()
	slog.Debug("cycle starting", "task", task, "cycle_id", id)

	report, err := fn(ctx, id)
	elapsed := time.Since(start)
	metrics.CycleDuration.WithLabelValues(task).Observe(elapsed.Seconds())

	if err != nil {
		metrics.Cycles.WithLabelValues(task, "error").Inc()
		slog.Error("cycle failed", "task", task, "cycle_id", id, "duration", elapsed, "error", err)
	} else {
		metrics.Cycles.WithLabelValues(task, "ok").Inc()
		slog.Debug("cycle finished", "task", task, "cycle_id", id, "duration", elapsed)
	}

	if m.health != nil {
		name := task
		if n, ok := m.opts.HealthNames[task]; ok {
			name = n
		}
		m.health.SetServing(name, err == nil)
	}
	return report, err
}

// Stop waits for running cycles to finish, at most for the grace period. It
// reports whether every poller exited in time. Cancel the Start context
// first.
func (m *Manager) Stop() bool {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("ingestion manager stopped")
		return true
	case <-time.After(m.opts.Grace):
		slog.Warn("ingestion manager stop timed out", "grace", m.opts.Grace)
		return false
	}
}
