package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mr1hm/go-raid-alerts/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRunCycle_UnchangedStateIsNoOp(t *testing.T) {
	h := newHarness(t, Media{})
	h.subscribe(t, "100", "24")
	h.subscribe(t, "200", "14")

	report := h.cycle(t)

	assert.Equal(t, 2, report.Counts()[OutcomeUnchanged])
	assert.Zero(t, h.repo.writes(), "no state write for unchanged subscribers")
	assert.Empty(t, h.sink.to("100"))
	assert.Empty(t, h.sink.to("200"))
	assert.Empty(t, h.history.all())
}

func TestRunCycle_ExactlyOneNotificationPerTransition(t *testing.T) {
	h := newHarness(t, Media{})
	h.subscribe(t, "100", "24")

	for _, active := range []bool{false, false, true, true, false} {
		if active {
			h.source.set(alertOn("24"))
		} else {
			h.source.set()
		}
		h.cycle(t)
	}

	got := h.sink.to("100")
	require.Len(t, got, 2)
	assert.True(t, strings.HasPrefix(got[0].text, "🔴"), "first notification is the alert")
	assert.True(t, strings.HasPrefix(got[1].text, "🟢"), "second notification is the all-clear")
	assert.Contains(t, got[1].text, "1 хв", "all-clear reports how long the alert lasted")
	assert.Equal(t, 2, h.repo.writes())
	assert.False(t, h.repo.state("100"))

	history := h.history.all()
	require.Len(t, history, 2)
	assert.Equal(t, "ALERT", string(history[0].Event))
	assert.Equal(t, []string{"air_raid"}, history[0].ThreatTypes)
	assert.Equal(t, "END", string(history[1].Event))
}

func TestRunCycle_DistrictAlertReachesSubdivisionWatcher(t *testing.T) {
	h := newHarness(t, Media{})
	h.subscribe(t, "100", "24")
	h.subscribe(t, "200", "14")

	h.source.set(districtAlert("151", "24"))
	h.cycle(t)

	require.Len(t, h.sink.to("100"), 1)
	assert.Contains(t, h.sink.to("100")[0].text, "Уманський")
	assert.Empty(t, h.sink.to("200"))
}

func TestRunCycle_PartialFailureIsolation(t *testing.T) {
	h := newHarness(t, Media{})
	h.subscribe(t, "100", "24")
	h.subscribe(t, "200", "24")
	h.subscribe(t, "300", "24")
	h.sink.failText["200"] = true

	h.source.set(alertOn("24"))
	report := h.cycle(t)

	assert.Len(t, h.sink.to("100"), 1)
	assert.Len(t, h.sink.to("300"), 1)
	assert.Empty(t, h.sink.to("200"))

	counts := report.Counts()
	assert.Equal(t, 2, counts[OutcomeDelivered])
	assert.Equal(t, 1, counts[OutcomeFailed])

	// state is persisted before delivery, so the failed recipient is not
	// notified again on the next cycle
	assert.True(t, h.repo.state("100"))
	assert.True(t, h.repo.state("200"))
	assert.True(t, h.repo.state("300"))

	h.sink.failText["200"] = false
	h.cycle(t)
	assert.Empty(t, h.sink.to("200"))

	require.Len(t, h.history.all(), 1, "one history entry per location and event per cycle")
}

func TestRunCycle_PersistFailureSkipsDelivery(t *testing.T) {
	h := newHarness(t, Media{})
	h.subscribe(t, "100", "24")
	h.subscribe(t, "200", "24")
	h.repo.failSet["100"] = true

	h.source.set(alertOn("24"))
	report := h.cycle(t)

	assert.Empty(t, h.sink.to("100"))
	assert.Len(t, h.sink.to("200"), 1)
	assert.Equal(t, 1, report.Counts()[OutcomePersistFailed])
	assert.False(t, h.repo.state("100"))

	// once the store recovers the transition is still detected
	h.repo.failSet["100"] = false
	h.cycle(t)
	assert.Len(t, h.sink.to("100"), 1)
}

func TestRunCycle_ResubscribeRebaselines(t *testing.T) {
	h := newHarness(t, Media{})
	h.subscribe(t, "100", "24")

	h.source.set(alertOn("24"))
	h.cycle(t)
	require.True(t, h.repo.state("100"))

	h.subscribe(t, "100", "14")
	assert.False(t, h.repo.state("100"), "re-subscribing resets to clear")

	// 14 is quiet: the reset state matches, so nothing fires
	h.cycle(t)
	assert.Len(t, h.sink.to("100"), 1)
}

func TestRunCycle_ResubscribeToAlertedLocationNotifies(t *testing.T) {
	h := newHarness(t, Media{})
	h.subscribe(t, "100", "24")

	h.source.set(alertOn("24"), alertOn("14"))
	h.cycle(t)
	require.Len(t, h.sink.to("100"), 1)

	h.subscribe(t, "100", "14")
	require.False(t, h.repo.state("100"))

	report := h.cycle(t)
	got := h.sink.to("100")
	require.Len(t, got, 2)
	assert.True(t, strings.HasPrefix(got[1].text, "🔴"))
	assert.Contains(t, got[1].text, "Київська область")
	assert.Equal(t, 1, report.Counts()[OutcomeDelivered])
	assert.True(t, h.repo.state("100"))

	// re-subscribing to the same alerted location announces it again
	h.subscribe(t, "100", "14")
	h.cycle(t)
	assert.Len(t, h.sink.to("100"), 3)

	h.cycle(t)
	assert.Len(t, h.sink.to("100"), 3, "steady alert stays quiet")
}

func TestRunCycle_FallsBackToText(t *testing.T) {
	h := newHarness(t, Media{Alert: []string{"https://img/alert.gif"}, Clear: []string{"https://img/clear.gif"}})
	h.subscribe(t, "100", "24")
	h.subscribe(t, "200", "24")
	h.sink.failPhoto["200"] = true

	h.source.set(alertOn("24"))
	report := h.cycle(t)

	got := h.sink.to("100")
	require.Len(t, got, 1)
	assert.Equal(t, "https://img/alert.gif", got[0].media)

	fallback := h.sink.to("200")
	require.Len(t, fallback, 1)
	assert.Empty(t, fallback[0].media)

	counts := report.Counts()
	assert.Equal(t, 1, counts[OutcomeDelivered])
	assert.Equal(t, 1, counts[OutcomeFellBack])
}

func TestRunCycle_UnknownLocationIsSkipped(t *testing.T) {
	h := newHarness(t, Media{})
	h.subscribe(t, "100", "24")
	// bypass the store's validation to simulate a directory out of sync
	require.NoError(t, h.repo.UpsertSubscriber(context.Background(), &models.Subscriber{RecipientID: "200", LocationID: "9999"}))

	h.source.set(alertOn("24"))
	report := h.cycle(t)

	assert.Equal(t, 1, report.Counts()[OutcomeSkippedUnknown])
	assert.Len(t, h.sink.to("100"), 1)
}

func TestRunCycle_FetchFailureTouchesNothing(t *testing.T) {
	h := newHarness(t, Media{})
	h.subscribe(t, "100", "24")
	h.source.err = errors.New("upstream down")

	_, err := h.d.RunCycle(context.Background(), "c1")
	require.Error(t, err)
	assert.Zero(t, h.repo.writes())
}

func TestRunCycle_BusySubscriberIsSkipped(t *testing.T) {
	h := newHarness(t, Media{})
	h.subscribe(t, "100", "24")
	block := make(chan struct{})
	h.sink.block = block

	h.source.set(alertOn("24"))
	first := make(chan Report, 1)
	go func() {
		r, _ := h.d.RunCycle(context.Background(), "slow")
		first <- r
	}()

	require.Eventually(t, func() bool { return h.d.guard.Busy() == 1 }, time.Second, 5*time.Millisecond)

	second, err := h.d.RunCycle(context.Background(), "overlap")
	require.NoError(t, err)
	assert.Equal(t, 1, second.Counts()[OutcomeSkippedBusy])

	close(block)
	assert.Equal(t, 1, (<-first).Counts()[OutcomeDelivered])
	assert.Len(t, h.sink.to("100"), 1)
}

func TestRunCycle_PublishesEvents(t *testing.T) {
	h := newHarness(t, Media{})
	h.subscribe(t, "100", "24")

	h.source.set(alertOn("24"))
	h.cycle(t)

	h.events.mu.Lock()
	defer h.events.mu.Unlock()
	require.Len(t, h.events.events, 1)
	ev := h.events.events[0]
	assert.Equal(t, "subscriber", ev.Watch)
	assert.Equal(t, "100", ev.RecipientID)
	assert.Equal(t, "24", ev.LocationID)
	assert.True(t, ev.Alerted)
	assert.NotEmpty(t, ev.ID)
}
