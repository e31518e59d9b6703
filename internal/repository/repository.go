package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mr1hm/go-raid-alerts/internal/models"
)

var ErrNotFound = errors.New("record not found")

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

type HistoryFilter struct {
	Page       int
	Limit      int
	Event      models.EventType
	Watch      string
	LocationID string
	Search     string
	DateFrom   *time.Time
	DateTo     *time.Time
}

type HistoryPage struct {
	Records    []models.HistoryRecord `json:"data"`
	Page       int                    `json:"page"`
	Limit      int                    `json:"limit"`
	Total      int64                  `json:"total"`
	TotalPages int                    `json:"totalPages"`
}

// SubscriberRepository persists subscribers. GetSubscriber returns nil, nil
// when the recipient is unknown.
type SubscriberRepository interface {
	GetSubscriber(ctx context.Context, recipientID string) (*models.Subscriber, error)
	UpsertSubscriber(ctx context.Context, s *models.Subscriber) error
	DeleteSubscriber(ctx context.Context, recipientID string) (bool, error)
	SetAlertState(ctx context.Context, recipientID string, alerted bool, at time.Time) error
	ListSubscribers(ctx context.Context) ([]models.Subscriber, error)
}

type HistoryRepository interface {
	AddHistory(ctx context.Context, r *models.HistoryRecord) error
	ListHistory(ctx context.Context, f HistoryFilter) (*HistoryPage, error)
	HistoryStats(ctx context.Context) (*models.HistoryStats, error)
}

// normalize clamps paging to sane values.
func (f HistoryFilter) normalize() HistoryFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultHistoryLimit
	}
	if f.Limit > MaxHistoryLimit {
		f.Limit = MaxHistoryLimit
	}
	return f
}
