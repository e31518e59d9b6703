package models

import "time"

// Watch kinds that produce transitions.
const (
	WatchSubscriber = "subscriber"
	WatchBroadcast  = "broadcast"
)

// TransitionEvent is published whenever a watched location changes state.
type TransitionEvent struct {
	ID           string    `json:"id"`
	Watch        string    `json:"watch"`
	RecipientID  string    `json:"recipientId,omitempty"`
	LocationID   string    `json:"locationUid"`
	LocationName string    `json:"location"`
	Alerted      bool      `json:"alert"`
	Threats      []string  `json:"threats,omitempty"`
	At           time.Time `json:"at"`
}
