package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mr1hm/go-raid-alerts/internal/clock"
	"github.com/mr1hm/go-raid-alerts/internal/locations"
	"github.com/mr1hm/go-raid-alerts/internal/message"
	"github.com/mr1hm/go-raid-alerts/internal/models"
	"github.com/mr1hm/go-raid-alerts/internal/repository"
	"github.com/mr1hm/go-raid-alerts/internal/resolver"
	"github.com/mr1hm/go-raid-alerts/internal/subscribers"
)

var errWrite = errors.New("write failed")

// scriptedSource serves whatever snapshot the test last set.
type scriptedSource struct {
	mu     sync.Mutex
	alerts []models.AlertRecord
	err    error
	calls  int
}

func (s *scriptedSource) set(alerts ...models.AlertRecord) {
	s.mu.Lock()
	s.alerts = alerts
	s.mu.Unlock()
}

func (s *scriptedSource) FetchActiveAlerts(ctx context.Context) ([]models.AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.alerts, s.err
}

func alertOn(id string) models.AlertRecord {
	return models.AlertRecord{LocationID: id, LocationKind: models.KindSubdivision, Threat: models.ThreatAirRaid}
}

func districtAlert(id, parent string) models.AlertRecord {
	return models.AlertRecord{
		LocationID:          id,
		LocationKind:        models.KindDistrict,
		ParentSubdivisionID: parent,
		Threat:              models.ThreatAirRaid,
	}
}

// memRepo is an in-memory SubscriberRepository with per-recipient write
// failures.
type memRepo struct {
	mu       sync.Mutex
	subs     map[string]models.Subscriber
	order    []string
	failSet  map[string]bool
	setCalls int
}

func newMemRepo() *memRepo {
	return &memRepo{subs: make(map[string]models.Subscriber), failSet: make(map[string]bool)}
}

func (r *memRepo) GetSubscriber(ctx context.Context, id string) (*models.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *memRepo) UpsertSubscriber(ctx context.Context, s *models.Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[s.RecipientID]; !ok {
		r.order = append(r.order, s.RecipientID)
	}
	cp := *s
	cp.LastAlertState = false
	r.subs[s.RecipientID] = cp
	return nil
}

func (r *memRepo) DeleteSubscriber(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[id]
	delete(r.subs, id)
	return ok, nil
}

func (r *memRepo) SetAlertState(ctx context.Context, id string, alerted bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setCalls++
	if r.failSet[id] {
		return errWrite
	}
	s, ok := r.subs[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.LastAlertState = alerted
	s.UpdatedAt = at
	r.subs[id] = s
	return nil
}

func (r *memRepo) ListSubscribers(ctx context.Context) ([]models.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Subscriber, 0, len(r.subs))
	for _, id := range r.order {
		if s, ok := r.subs[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memRepo) state(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[id].LastAlertState
}

func (r *memRepo) writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setCalls
}

type sent struct {
	recipient string
	text      string
	media     string
}

// recorder is a notify.Sink that remembers deliveries and fails on demand.
type recorder struct {
	mu         sync.Mutex
	sent       []sent
	failPhoto  map[string]bool
	failText   map[string]bool
	block      chan struct{}
	photoCalls int
}

func newRecorder() *recorder {
	return &recorder{failPhoto: make(map[string]bool), failText: make(map[string]bool)}
}

func (r *recorder) SendPhoto(ctx context.Context, recipientID, caption, media string) error {
	r.wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.photoCalls++
	if r.failPhoto[recipientID] {
		return errors.New("photo rejected")
	}
	r.sent = append(r.sent, sent{recipientID, caption, media})
	return nil
}

func (r *recorder) SendText(ctx context.Context, recipientID, text string) error {
	r.wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failText[recipientID] {
		return errors.New("chat not found")
	}
	r.sent = append(r.sent, sent{recipient: recipientID, text: text})
	return nil
}

func (r *recorder) wait() {
	r.mu.Lock()
	block := r.block
	r.mu.Unlock()
	if block != nil {
		<-block
	}
}

func (r *recorder) to(recipient string) []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sent
	for _, s := range r.sent {
		if s.recipient == recipient {
			out = append(out, s)
		}
	}
	return out
}

type memHistory struct {
	mu      sync.Mutex
	records []models.HistoryRecord
}

func (h *memHistory) AddHistory(ctx context.Context, r *models.HistoryRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, *r)
	return nil
}

// ListHistory filters on event, watch, location and start date, newest
// first.
func (h *memHistory) ListHistory(ctx context.Context, f repository.HistoryFilter) (*repository.HistoryPage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if f.Limit < 1 {
		f.Limit = repository.DefaultHistoryLimit
	}
	page := &repository.HistoryPage{Page: 1, Limit: f.Limit}
	for i := len(h.records) - 1; i >= 0; i-- {
		r := h.records[i]
		if (f.Event != "" && r.Event != f.Event) ||
			(f.Watch != "" && r.Watch != f.Watch) ||
			(f.LocationID != "" && r.LocationID != f.LocationID) ||
			(f.DateFrom != nil && r.CreatedAt.Before(*f.DateFrom)) {
			continue
		}
		page.Total++
		if len(page.Records) < f.Limit {
			page.Records = append(page.Records, r)
		}
	}
	return page, nil
}

func (h *memHistory) HistoryStats(ctx context.Context) (*models.HistoryStats, error) {
	return &models.HistoryStats{}, nil
}

func (h *memHistory) all() []models.HistoryRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.HistoryRecord(nil), h.records...)
}

type memEvents struct {
	mu     sync.Mutex
	events []models.TransitionEvent
}

func (e *memEvents) Broadcast(ev *models.TransitionEvent) {
	e.mu.Lock()
	e.events = append(e.events, *ev)
	e.mu.Unlock()
}

type fixedWeather struct{ calls int }

func (w *fixedWeather) Current(ctx context.Context, lat, lon float64) *models.Weather {
	w.calls++
	return &models.Weather{Temp: 12, Desc: "Ясно", Icon: "☀️"}
}

type harness struct {
	source  *scriptedSource
	repo    *memRepo
	store   *subscribers.Store
	sink    *recorder
	history *memHistory
	events  *memEvents
	clock   *clock.Fake
	d       *Dispatcher
}

func newHarness(t *testing.T, media Media) *harness {
	t.Helper()

	dir, err := locations.Load()
	require.NoError(t, err)
	renderer, err := message.NewRenderer("", "")
	require.NoError(t, err)

	h := &harness{
		source:  &scriptedSource{},
		repo:    newMemRepo(),
		sink:    newRecorder(),
		history: &memHistory{},
		events:  &memEvents{},
		clock:   clock.NewFake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)),
	}
	h.store = subscribers.NewStore(h.repo, dir, 0, h.clock)
	h.d = New(Config{
		Source:     h.source,
		Store:      h.store,
		Resolver:   resolver.New(dir),
		Dir:        dir,
		Sink:       h.sink,
		History:    h.history,
		Events:     h.events,
		Renderer:   renderer,
		Media:      media,
		Clock:      h.clock,
		Workers:    3,
		BufferSize: 4,
	})
	h.d.Start()
	t.Cleanup(h.d.Stop)
	return h
}

func (h *harness) subscribe(t *testing.T, id, location string) {
	t.Helper()
	require.NoError(t, h.store.UpsertWatch(context.Background(), id, location, "user "+id))
}

func (h *harness) cycle(t *testing.T) Report {
	t.Helper()
	h.clock.Advance(30 * time.Second)
	report, err := h.d.RunCycle(context.Background(), "test-cycle")
	require.NoError(t, err)
	return report
}
