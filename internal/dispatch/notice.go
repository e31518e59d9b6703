package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/mr1hm/go-raid-alerts/internal/message"
	"github.com/mr1hm/go-raid-alerts/internal/metrics"
	"github.com/mr1hm/go-raid-alerts/internal/models"
	"github.com/mr1hm/go-raid-alerts/internal/resolver"
)

// Media lists the images attached to alert and all-clear notifications.
type Media struct {
	Alert []string
	Clear []string
}

// Pick returns a random image for the event, or "" when none is configured.
func (m Media) Pick(alerted bool) string {
	list := m.Clear
	if alerted {
		list = m.Alert
	}
	if len(list) == 0 {
		return ""
	}
	return list[rand.IntN(len(list))]
}

// notice is one rendered transition, shared by delivery, history and events.
type notice struct {
	watch     string
	location  models.LocationNode
	alerted   bool
	sequence  int
	at        time.Time
	threats   []string
	districts []string
	country   resolver.CountrySummary
	weather   *models.Weather
	caption   string
	media     string
}

func (d *Dispatcher) compose(ctx context.Context, c *cycle, watch string, loc models.LocationNode, alerted bool, at, since time.Time, seq int) *notice {
	n := &notice{
		watch:    watch,
		location: loc,
		alerted:  alerted,
		sequence: seq,
		at:       at,
		country:  c.country,
		weather:  d.weatherFor(ctx, c, loc.ID),
		media:    d.media.Pick(alerted),
	}

	data := message.Data{
		Alerted:  alerted,
		Location: loc.Name,
		Time:     at,
		Country:  &n.country,
		Weather:  n.weather,
		Sequence: seq,
	}
	if alerted {
		details := d.resolver.DetailsFor(c.alerts, loc.ID)
		summary := d.resolver.SummarizeLocation(c.alerts, loc.ID)
		n.threats = resolver.ThreatTypes(details)
		n.districts = summary.Districts
		data.Threats = message.ThreatLabels(n.threats)
		data.Districts = summary.Districts
		data.MoreDistricts = summary.HasMore
		for _, a := range details {
			if a.Note != "" {
				data.Note = a.Note
				break
			}
		}
		if len(details) > 0 && !details[0].StartedAt.IsZero() {
			data.Time = details[0].StartedAt
		}
	} else if !since.IsZero() && at.After(since) {
		data.Duration = at.Sub(since)
	}

	caption, err := d.renderer.Render(data)
	if err != nil {
		slog.Error("failed to render notification", "location", loc.ID, "error", err)
		caption = fallbackCaption(loc.Name, alerted)
	}
	n.caption = caption
	return n
}

func fallbackCaption(location string, alerted bool) string {
	if alerted {
		return "🔴 Повітряна тривога: " + location
	}
	return "🟢 Відбій тривоги: " + location
}

// deliver sends the rich form first and falls back to one plain-text
// attempt when it fails.
func (d *Dispatcher) deliver(ctx context.Context, recipientID string, n *notice) (Outcome, error) {
	var outcome Outcome
	var err error

	if n.media != "" {
		photoErr := d.sink.SendPhoto(ctx, recipientID, n.caption, n.media)
		if photoErr == nil {
			outcome = OutcomeDelivered
		} else {
			slog.Warn("rich delivery failed, falling back to text", "recipient", recipientID, "error", photoErr)
			if textErr := d.sink.SendText(ctx, recipientID, n.caption); textErr != nil {
				outcome, err = OutcomeFailed, errors.Join(photoErr, textErr)
			} else {
				outcome = OutcomeFellBack
			}
		}
	} else if err = d.sink.SendText(ctx, recipientID, n.caption); err != nil {
		outcome = OutcomeFailed
	} else {
		outcome = OutcomeDelivered
	}

	metrics.Deliveries.WithLabelValues(string(outcome)).Inc()
	if err != nil {
		slog.Error("delivery failed", "recipient", recipientID, "error", err)
	}
	return outcome, err
}

func (d *Dispatcher) record(ctx context.Context, n *notice) {
	if d.history == nil {
		return
	}

	rec := &models.HistoryRecord{
		LocationID:   n.location.ID,
		LocationName: n.location.Name,
		Event:        models.EventFor(n.alerted),
		ThreatTypes:  n.threats,
		Districts:    n.districts,
		Watch:        n.watch,
		CreatedAt:    n.at,
	}
	if n.sequence > 0 {
		seq := n.sequence
		rec.Sequence = &seq
	}
	count := n.country.TotalAlerts
	rec.CountryCount = &count
	if n.weather != nil {
		temp := n.weather.Temp
		rec.WeatherTemp = &temp
		rec.WeatherDesc = n.weather.Desc
		rec.WeatherIcon = n.weather.Icon
	}

	if err := d.history.AddHistory(ctx, rec); err != nil {
		slog.Error("failed to record history", "location", n.location.ID, "error", err)
	}
}

func (d *Dispatcher) publish(n *notice, recipientID string) {
	if d.events == nil {
		return
	}
	d.events.Broadcast(&models.TransitionEvent{
		ID:           uuid.NewString(),
		Watch:        n.watch,
		RecipientID:  recipientID,
		LocationID:   n.location.ID,
		LocationName: n.location.Name,
		Alerted:      n.alerted,
		Threats:      n.threats,
		At:           n.at,
	})
}
