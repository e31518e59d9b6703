package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mr1hm/go-raid-alerts/internal/models"
)

const subscriberColumns = `recipient_id, display_name, location_uid, last_alert_state, subscribed_at, updated_at`

func (s *SQLDB) GetSubscriber(ctx context.Context, recipientID string) (*models.Subscriber, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+subscriberColumns+` FROM subscribers WHERE recipient_id = ?`),
		recipientID)

	sub, err := scanSubscriber(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting subscriber %s: %w", recipientID, err)
	}
	return sub, nil
}

// UpsertSubscriber stores the watch and resets the alert state. The original
// subscription time is kept for existing recipients.
func (s *SQLDB) UpsertSubscriber(ctx context.Context, sub *models.Subscriber) error {
	now := sub.UpdatedAt.UTC()
	subscribedAt := sub.SubscribedAt.UTC()
	if subscribedAt.IsZero() {
		subscribedAt = now
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO subscribers (`+subscriberColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (recipient_id) DO UPDATE SET
			display_name = excluded.display_name,
			location_uid = excluded.location_uid,
			last_alert_state = excluded.last_alert_state,
			updated_at = excluded.updated_at`),
		sub.RecipientID, sub.DisplayName, sub.LocationID, false, subscribedAt, now)
	if err != nil {
		return fmt.Errorf("error upserting subscriber %s: %w", sub.RecipientID, err)
	}
	return nil
}

func (s *SQLDB) DeleteSubscriber(ctx context.Context, recipientID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM subscribers WHERE recipient_id = ?`), recipientID)
	if err != nil {
		return false, fmt.Errorf("error deleting subscriber %s: %w", recipientID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading affected rows: %w", err)
	}
	return n > 0, nil
}

func (s *SQLDB) SetAlertState(ctx context.Context, recipientID string, alerted bool, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE subscribers SET last_alert_state = ?, updated_at = ? WHERE recipient_id = ?`),
		alerted, at.UTC(), recipientID)
	if err != nil {
		return fmt.Errorf("error setting alert state for %s: %w", recipientID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("subscriber %s: %w", recipientID, ErrNotFound)
	}
	return nil
}

func (s *SQLDB) ListSubscribers(ctx context.Context) ([]models.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers ORDER BY subscribed_at, recipient_id`)
	if err != nil {
		return nil, fmt.Errorf("error listing subscribers: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning subscriber: %w", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscribers: %w", err)
	}
	return subs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubscriber(row scanner) (*models.Subscriber, error) {
	var (
		sub                     models.Subscriber
		subscribedAt, updatedAt any
	)
	if err := row.Scan(&sub.RecipientID, &sub.DisplayName, &sub.LocationID, &sub.LastAlertState, &subscribedAt, &updatedAt); err != nil {
		return nil, err
	}
	if t := parseTime(subscribedAt); t != nil {
		sub.SubscribedAt = *t
	}
	if t := parseTime(updatedAt); t != nil {
		sub.UpdatedAt = *t
	}
	return &sub, nil
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

// parseTime accepts what the drivers hand back for timestamp columns and
// aggregates over them: time.Time from typed columns, text from sqlite
// expressions.
func parseTime(v any) *time.Time {
	var s string
	switch t := v.(type) {
	case time.Time:
		return &t
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return &parsed
		}
	}
	return nil
}
