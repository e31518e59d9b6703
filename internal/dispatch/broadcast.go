package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mr1hm/go-raid-alerts/internal/metrics"
	"github.com/mr1hm/go-raid-alerts/internal/models"
	"github.com/mr1hm/go-raid-alerts/internal/repository"
	"github.com/mr1hm/go-raid-alerts/internal/worker"
)

// BroadcastWatch follows one operator-chosen location and notifies a fixed
// set of chats. Its first evaluation only records a baseline. Alerts are
// numbered per Kyiv calendar day; a day change during an active alert takes
// effect after its all-clear.
type BroadcastWatch struct {
	d      *Dispatcher
	target models.LocationNode
	chats  []string

	mu        sync.Mutex
	baselined bool
	alerted   bool
	since     time.Time
	day       string
	count     int
	deferred  bool
}

func (d *Dispatcher) NewBroadcastWatch(targetID string, chats []string) (*BroadcastWatch, error) {
	target, ok := d.dir.Get(targetID)
	if !ok {
		return nil, fmt.Errorf("unknown broadcast target %q", targetID)
	}
	return &BroadcastWatch{d: d, target: target, chats: chats}, nil
}

// State returns the last observed state and whether a baseline exists yet.
func (w *BroadcastWatch) State() (alerted, baselined bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.alerted, w.baselined
}

// Sequence returns the number of the latest alert and the day it counts in.
func (w *BroadcastWatch) Sequence() (count int, day string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count, w.day
}

// Check evaluates the target once. Checks never overlap.
func (w *BroadcastWatch) Check(ctx context.Context, cycleID string) (Report, error) {
	d := w.d
	start := d.clock.Now()
	report := Report{CycleID: cycleID}

	alerts, err := d.source.FetchActiveAlerts(ctx)
	if err != nil {
		return report, fmt.Errorf("fetch alerts: %w", err)
	}
	report.Alerts = len(alerts)

	w.mu.Lock()
	defer w.mu.Unlock()

	active := d.resolver.IsActive(alerts, w.target.ID)
	now := d.clock.Now()

	if !w.baselined {
		w.baselined = true
		w.alerted = active
		w.since = now
		w.restore(ctx, now)
		slog.Info("broadcast watch baseline",
			"cycle_id", cycleID,
			"location", w.target.ID,
			"alert", active,
			"daily_count", w.count)
		return report, nil
	}

	w.rollover(now)
	if active == w.alerted {
		return report, nil
	}

	since := w.since
	w.alerted = active
	w.since = now
	if active {
		w.count++
	}
	seq := w.count

	metrics.Transitions.WithLabelValues(models.WatchBroadcast, string(models.EventFor(active))).Inc()
	slog.Info("broadcast watch changed", "cycle_id", cycleID, "location", w.target.ID, "alert", active, "sequence", seq)

	c := d.newCycle(cycleID, alerts)
	n := d.compose(ctx, c, models.WatchBroadcast, w.target, active, now, since, seq)

	report.Results = make([]Result, len(w.chats))
	jobs := make([]worker.Job, len(w.chats))
	for i, chat := range w.chats {
		jobs[i] = func(ctx context.Context) error {
			outcome, err := d.deliver(ctx, chat, n)
			report.Results[i] = Result{RecipientID: chat, LocationID: w.target.ID, Outcome: outcome, Err: err}
			return err
		}
	}
	errs := d.pool.Run(ctx, jobs)
	for i, err := range errs {
		if err != nil && report.Results[i].Outcome == "" {
			report.Results[i] = Result{RecipientID: w.chats[i], LocationID: w.target.ID, Outcome: OutcomeFailed, Err: err}
		}
	}

	d.record(ctx, n)
	d.publish(n, "")

	if !active {
		w.rollover(now)
	}

	report.Duration = d.clock.Now().Sub(start)
	counts := report.Counts()
	slog.Info("broadcast delivered",
		"cycle_id", cycleID,
		"chats", len(w.chats),
		"delivered", counts[OutcomeDelivered],
		"fell_back", counts[OutcomeFellBack],
		"failed", counts[OutcomeFailed],
	)
	return report, nil
}

// rollover starts a new daily count once the Kyiv date changes, unless the
// target is still alerted.
func (w *BroadcastWatch) rollover(now time.Time) {
	today := w.dayOf(now)
	if today == w.day {
		return
	}
	if w.alerted {
		if !w.deferred {
			slog.Info("alert active, daily count reset deferred", "location", w.target.ID, "count", w.count)
			w.deferred = true
		}
		return
	}
	if w.day != "" {
		slog.Info("daily alert count reset", "location", w.target.ID, "previous", w.count)
	}
	w.day = today
	w.count = 0
	w.deferred = false
}

// restore picks the daily count up from the latest numbered broadcast alert
// so that a restart keeps counting.
func (w *BroadcastWatch) restore(ctx context.Context, now time.Time) {
	if w.d.history != nil {
		page, err := w.d.history.ListHistory(ctx, repository.HistoryFilter{
			Event:      models.EventAlert,
			Watch:      models.WatchBroadcast,
			LocationID: w.target.ID,
			Limit:      1,
		})
		switch {
		case err != nil:
			slog.Warn("failed to restore daily alert count", "location", w.target.ID, "error", err)
		case len(page.Records) > 0 && page.Records[0].Sequence != nil:
			last := page.Records[0]
			w.day = w.dayOf(last.CreatedAt)
			w.count = *last.Sequence
		}
	}
	w.rollover(now)
}

func (w *BroadcastWatch) dayOf(t time.Time) string {
	return t.In(w.d.renderer.Zone()).Format(time.DateOnly)
}
