package models

import "time"

// Subscriber is a chat that watches one location. LastAlertState holds the
// alert flag observed for that location on the last evaluated cycle.
type Subscriber struct {
	RecipientID    string    `json:"recipientId"`
	DisplayName    string    `json:"displayName,omitempty"`
	LocationID     string    `json:"locationUid"`
	LastAlertState bool      `json:"lastAlertState"`
	SubscribedAt   time.Time `json:"subscribedAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
