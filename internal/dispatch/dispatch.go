// Package dispatch detects alert state transitions for every subscriber and
// for the operator's broadcast watch, and delivers one notification per
// transition.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mr1hm/go-raid-alerts/internal/clock"
	"github.com/mr1hm/go-raid-alerts/internal/message"
	"github.com/mr1hm/go-raid-alerts/internal/metrics"
	"github.com/mr1hm/go-raid-alerts/internal/models"
	"github.com/mr1hm/go-raid-alerts/internal/notify"
	"github.com/mr1hm/go-raid-alerts/internal/repository"
	"github.com/mr1hm/go-raid-alerts/internal/resolver"
	"github.com/mr1hm/go-raid-alerts/internal/subscribers"
	"github.com/mr1hm/go-raid-alerts/internal/worker"
)

type AlertSource interface {
	FetchActiveAlerts(ctx context.Context) ([]models.AlertRecord, error)
}

type SubscriberStore interface {
	ListAll(ctx context.Context) ([]models.Subscriber, error)
	Transition(ctx context.Context, recipientID string, decide subscribers.Decider) (models.Subscriber, bool, error)
}

type Directory interface {
	Get(id string) (models.LocationNode, bool)
	Coordinates(id string) (lat, lon float64)
}

type WeatherSource interface {
	Current(ctx context.Context, lat, lon float64) *models.Weather
}

type Publisher interface {
	Broadcast(e *models.TransitionEvent)
}

type Outcome string

const (
	OutcomeDelivered      Outcome = "delivered"
	OutcomeFellBack       Outcome = "fell_back"
	OutcomeFailed         Outcome = "failed"
	OutcomeUnchanged      Outcome = "unchanged"
	OutcomeSkippedBusy    Outcome = "skipped_busy"
	OutcomeSkippedUnknown Outcome = "skipped_unknown"
	OutcomePersistFailed  Outcome = "persist_failed"
	OutcomeUnsubscribed   Outcome = "unsubscribed"
)

// Result is what happened to one recipient in one cycle.
type Result struct {
	RecipientID string
	LocationID  string
	Outcome     Outcome
	Err         error
}

type Report struct {
	CycleID  string
	Alerts   int
	Results  []Result
	Duration time.Duration
}

// Counts tallies results by outcome.
func (r Report) Counts() map[Outcome]int {
	out := make(map[Outcome]int)
	for _, res := range r.Results {
		out[res.Outcome]++
	}
	return out
}

type Config struct {
	Source   AlertSource
	Store    SubscriberStore
	Resolver *resolver.Resolver
	Dir      Directory
	Sink     notify.Sink
	History  repository.HistoryRepository
	Weather  WeatherSource
	Events   Publisher
	Renderer *message.Renderer
	Media    Media
	Clock    clock.Clock

	Workers    int
	BufferSize int
}

type Dispatcher struct {
	source   AlertSource
	store    SubscriberStore
	resolver *resolver.Resolver
	dir      Directory
	sink     notify.Sink
	history  repository.HistoryRepository
	weather  WeatherSource
	events   Publisher
	renderer *message.Renderer
	media    Media
	clock    clock.Clock
	guard    *subscribers.Guard
	pool     *worker.WorkerPool
}

func New(cfg Config) *Dispatcher {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	d := &Dispatcher{
		source:   cfg.Source,
		store:    cfg.Store,
		resolver: cfg.Resolver,
		dir:      cfg.Dir,
		sink:     cfg.Sink,
		history:  cfg.History,
		weather:  cfg.Weather,
		events:   cfg.Events,
		renderer: cfg.Renderer,
		media:    cfg.Media,
		clock:    cfg.Clock,
		guard:    subscribers.NewGuard(),
	}
	d.pool = worker.NewWorkerPool(cfg.Workers, cfg.BufferSize, func(ctx context.Context, job worker.Job) error {
		return job.(func(context.Context) error)(ctx)
	})
	return d
}

func (d *Dispatcher) Start() {
	d.pool.Start()
}

// Stop waits for queued deliveries to finish.
func (d *Dispatcher) Stop() {
	d.pool.Stop()
}

// RunCycle evaluates every subscriber against one alert snapshot. A fetch or
// listing failure aborts the cycle before any state is touched.
func (d *Dispatcher) RunCycle(ctx context.Context, cycleID string) (Report, error) {
	start := d.clock.Now()
	report := Report{CycleID: cycleID}

	alerts, err := d.source.FetchActiveAlerts(ctx)
	if err != nil {
		return report, fmt.Errorf("fetch alerts: %w", err)
	}
	report.Alerts = len(alerts)

	subs, err := d.store.ListAll(ctx)
	if err != nil {
		return report, fmt.Errorf("list subscribers: %w", err)
	}
	metrics.Subscribers.Set(float64(len(subs)))

	c := d.newCycle(cycleID, alerts)
	report.Results = make([]Result, len(subs))
	jobs := make([]worker.Job, len(subs))
	for i, sub := range subs {
		jobs[i] = func(ctx context.Context) error {
			report.Results[i] = d.evaluate(ctx, c, sub)
			return report.Results[i].Err
		}
	}

	errs := d.pool.Run(ctx, jobs)
	for i, err := range errs {
		if err != nil && report.Results[i].Outcome == "" {
			report.Results[i] = Result{
				RecipientID: subs[i].RecipientID,
				LocationID:  subs[i].LocationID,
				Outcome:     OutcomeFailed,
				Err:         err,
			}
		}
	}
	report.Duration = d.clock.Now().Sub(start)

	counts := report.Counts()
	slog.Info("dispatch cycle complete",
		"cycle_id", cycleID,
		"alerts", report.Alerts,
		"subscribers", len(subs),
		"delivered", counts[OutcomeDelivered],
		"fell_back", counts[OutcomeFellBack],
		"failed", counts[OutcomeFailed],
		"persist_failed", counts[OutcomePersistFailed],
		"skipped", counts[OutcomeSkippedBusy]+counts[OutcomeSkippedUnknown]+counts[OutcomeUnsubscribed],
		"duration", report.Duration,
	)
	return report, nil
}

func (d *Dispatcher) evaluate(ctx context.Context, c *cycle, sub models.Subscriber) Result {
	res := Result{RecipientID: sub.RecipientID, LocationID: sub.LocationID}

	release, err := d.guard.Acquire(sub.RecipientID)
	if err != nil {
		slog.Debug("subscriber busy, skipping", "cycle_id", c.id, "recipient", sub.RecipientID)
		res.Outcome = OutcomeSkippedBusy
		return res
	}
	defer release()

	var (
		loc   models.LocationNode
		since time.Time
	)
	updated, changed, err := d.store.Transition(ctx, sub.RecipientID, func(cur models.Subscriber) (bool, error) {
		node, ok := d.dir.Get(cur.LocationID)
		if !ok {
			return false, fmt.Errorf("%w: %s", subscribers.ErrUnknownLocation, cur.LocationID)
		}
		loc = node
		since = cur.UpdatedAt
		return d.resolver.IsActive(c.alerts, cur.LocationID), nil
	})
	switch {
	case errors.Is(err, subscribers.ErrUnknownLocation):
		slog.Warn("cannot resolve watched location", "cycle_id", c.id, "recipient", sub.RecipientID, "location", sub.LocationID)
		res.Outcome = OutcomeSkippedUnknown
		return res
	case errors.Is(err, subscribers.ErrNotSubscribed):
		res.Outcome = OutcomeUnsubscribed
		return res
	case err != nil:
		slog.Error("failed to persist alert state", "cycle_id", c.id, "recipient", sub.RecipientID, "error", err)
		res.Outcome = OutcomePersistFailed
		res.Err = err
		return res
	case !changed:
		res.Outcome = OutcomeUnchanged
		return res
	}

	res.LocationID = updated.LocationID
	alerted := updated.LastAlertState
	metrics.Transitions.WithLabelValues(models.WatchSubscriber, string(models.EventFor(alerted))).Inc()
	slog.Info("alert state changed",
		"cycle_id", c.id,
		"recipient", sub.RecipientID,
		"location", loc.ID,
		"alert", alerted,
	)

	n := d.compose(ctx, c, models.WatchSubscriber, loc, alerted, updated.UpdatedAt, since, 0)
	res.Outcome, res.Err = d.deliver(ctx, sub.RecipientID, n)

	if c.firstRecord(loc.ID, alerted) {
		d.record(ctx, n)
	}
	d.publish(n, sub.RecipientID)
	return res
}

// cycle holds what every evaluation in one cycle shares: the alert snapshot
// and lookups worth doing once per location.
type cycle struct {
	id      string
	alerts  []models.AlertRecord
	country resolver.CountrySummary

	mu       sync.Mutex
	weather  map[string]*models.Weather
	recorded map[string]bool
}

func (d *Dispatcher) newCycle(id string, alerts []models.AlertRecord) *cycle {
	return &cycle{
		id:       id,
		alerts:   alerts,
		country:  d.resolver.Summarize(alerts),
		weather:  make(map[string]*models.Weather),
		recorded: make(map[string]bool),
	}
}

// firstRecord reports whether this is the first history entry for the
// location and event in this cycle.
func (c *cycle) firstRecord(locationID string, alerted bool) bool {
	key := locationID + "|" + string(models.EventFor(alerted))
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recorded[key] {
		return false
	}
	c.recorded[key] = true
	return true
}

func (d *Dispatcher) weatherFor(ctx context.Context, c *cycle, locationID string) *models.Weather {
	if d.weather == nil {
		return nil
	}
	c.mu.Lock()
	w, ok := c.weather[locationID]
	c.mu.Unlock()
	if ok {
		return w
	}

	lat, lon := d.dir.Coordinates(locationID)
	w = d.weather.Current(ctx, lat, lon)

	c.mu.Lock()
	c.weather[locationID] = w
	c.mu.Unlock()
	return w
}
