package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mr1hm/go-raid-alerts/internal/models"
)

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d - status: %s", e.Code, e.Status)
}

// Fetcher performs a single upstream request.
type Fetcher interface {
	Fetch(ctx context.Context) ([]models.AlertRecord, error)
}

// AlertsInUA fetches active alerts from the alerts.in.ua API.
type AlertsInUA struct {
	url    string
	token  string
	client *http.Client
}

func NewAlertsInUA(url, token string, timeout time.Duration) *AlertsInUA {
	return &AlertsInUA{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

func (a *AlertsInUA) Fetch(ctx context.Context) ([]models.AlertRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error while doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	return parseAlerts(resp.Body)
}

type alertsResponse struct {
	Alerts json.RawMessage `json:"alerts"`
}

type rawAlert struct {
	LocationUID       flexString `json:"location_uid"`
	LocationType      string     `json:"location_type"`
	LocationTitle     string     `json:"location_title"`
	LocationOblastUID flexString `json:"location_oblast_uid"`
	AlertType         string     `json:"alert_type"`
	Notes             string     `json:"notes"`
	StartedAt         string     `json:"started_at"`
}

// flexString accepts ids encoded either as JSON strings or numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %s", b)
	}
	*f = flexString(n.String())
	return nil
}

// parseAlerts maps the upstream document onto typed records. A missing,
// null or non-array alerts field is an empty set. Records that do not decode
// or carry no location are dropped one by one.
func parseAlerts(r io.Reader) ([]models.AlertRecord, error) {
	var data alertsResponse
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("error decoding resp.Body: %w", err)
	}

	items := decodeAlertList(data.Alerts)
	alerts := make([]models.AlertRecord, 0, len(items))
	for i, item := range items {
		var a rawAlert
		if err := json.Unmarshal(item, &a); err != nil {
			slog.Warn("dropping malformed alert record", "index", i, "error", err)
			continue
		}
		if a.LocationUID == "" {
			continue
		}
		alerts = append(alerts, a.record())
	}

	return alerts, nil
}

func decodeAlertList(raw json.RawMessage) []json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		slog.Warn("alerts field is not a list, treating as empty", "error", err)
		return nil
	}
	return items
}

func (a rawAlert) record() models.AlertRecord {
	rec := models.AlertRecord{
		LocationID:          string(a.LocationUID),
		LocationKind:        models.ParseLocationKind(a.LocationType),
		LocationTitle:       a.LocationTitle,
		ParentSubdivisionID: string(a.LocationOblastUID),
		Threat:              models.ParseThreatType(a.AlertType),
		Note:                strings.TrimSpace(a.Notes),
	}
	if rec.Threat == models.ThreatOther {
		rec.RawThreat = a.AlertType
	}
	if a.StartedAt != "" {
		if t, err := time.Parse(time.RFC3339, a.StartedAt); err == nil {
			rec.StartedAt = t
		}
	}
	return rec
}
