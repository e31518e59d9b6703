package models

import "time"

type EventType string

const (
	EventAlert EventType = "ALERT"
	EventEnd   EventType = "END"
)

func EventFor(alerted bool) EventType {
	if alerted {
		return EventAlert
	}
	return EventEnd
}

// HistoryRecord is one logged transition.
type HistoryRecord struct {
	ID           int64     `json:"id"`
	LocationID   string    `json:"location_uid"`
	LocationName string    `json:"location_name"`
	Event        EventType `json:"alert_type"`
	ThreatTypes  []string  `json:"threat_types,omitempty"`
	WeatherTemp  *int      `json:"weather_temp,omitempty"`
	WeatherDesc  string    `json:"weather_desc,omitempty"`
	WeatherIcon  string    `json:"weather_icon,omitempty"`
	Districts    []string  `json:"raions,omitempty"`
	CountryCount *int      `json:"country_count,omitempty"`
	Watch        string    `json:"watch"`
	Sequence     *int      `json:"sequence,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type HistoryStats struct {
	Total       int64      `json:"total"`
	Alerts      int64      `json:"alerts"`
	Ends        int64      `json:"ends"`
	FirstRecord *time.Time `json:"first_record"`
	LastRecord  *time.Time `json:"last_record"`
}
