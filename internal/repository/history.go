package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mr1hm/go-raid-alerts/internal/models"
)

func (s *SQLDB) AddHistory(ctx context.Context, r *models.HistoryRecord) error {
	var (
		temp, count, seq sql.NullInt64
	)
	if r.WeatherTemp != nil {
		temp = sql.NullInt64{Int64: int64(*r.WeatherTemp), Valid: true}
	}
	if r.CountryCount != nil {
		count = sql.NullInt64{Int64: int64(*r.CountryCount), Valid: true}
	}
	if r.Sequence != nil {
		seq = sql.NullInt64{Int64: int64(*r.Sequence), Valid: true}
	}
	watch := r.Watch
	if watch == "" {
		watch = models.WatchSubscriber
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO alerts_history
		(location_uid, location_name, alert_type, threat_types, weather_temp, weather_desc, weather_icon, raions, country_count, watch, sequence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.LocationID, r.LocationName, string(r.Event),
		nullString(strings.Join(r.ThreatTypes, ",")),
		temp, nullString(r.WeatherDesc), nullString(r.WeatherIcon),
		nullString(strings.Join(r.Districts, ", ")),
		count, watch, seq, r.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("error adding history for %s: %w", r.LocationID, err)
	}
	return nil
}

// ListHistory returns one page of records, newest first, plus the total
// number of records matching the filter.
func (s *SQLDB) ListHistory(ctx context.Context, f HistoryFilter) (*HistoryPage, error) {
	f = f.normalize()

	where, args := historyWhere(f)

	var total int64
	if err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT COUNT(*) FROM alerts_history`+where), args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("error counting history: %w", err)
	}

	pageArgs := append(append([]any{}, args...), f.Limit, (f.Page-1)*f.Limit)
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, location_uid, location_name, alert_type, threat_types, weather_temp,
			weather_desc, weather_icon, raions, country_count, watch, sequence, created_at
		FROM alerts_history`+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`), pageArgs...)
	if err != nil {
		return nil, fmt.Errorf("error listing history: %w", err)
	}
	defer rows.Close()

	records := make([]models.HistoryRecord, 0, f.Limit)
	for rows.Next() {
		r, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning history: %w", err)
		}
		records = append(records, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return &HistoryPage{
		Records:    records,
		Page:       f.Page,
		Limit:      f.Limit,
		Total:      total,
		TotalPages: int((total + int64(f.Limit) - 1) / int64(f.Limit)),
	}, nil
}

func (s *SQLDB) HistoryStats(ctx context.Context) (*models.HistoryStats, error) {
	var (
		stats       models.HistoryStats
		alerts      sql.NullInt64
		ends        sql.NullInt64
		first, last any
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			SUM(CASE WHEN alert_type = 'ALERT' THEN 1 ELSE 0 END),
			SUM(CASE WHEN alert_type = 'END' THEN 1 ELSE 0 END),
			MIN(created_at),
			MAX(created_at)
		FROM alerts_history`).Scan(&stats.Total, &alerts, &ends, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("error reading history stats: %w", err)
	}

	stats.Alerts = alerts.Int64
	stats.Ends = ends.Int64
	stats.FirstRecord = parseTime(first)
	stats.LastRecord = parseTime(last)
	return &stats, nil
}

func historyWhere(f HistoryFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.Event != "" {
		clauses = append(clauses, "alert_type = ?")
		args = append(args, string(f.Event))
	}
	if f.Watch != "" {
		clauses = append(clauses, "watch = ?")
		args = append(args, f.Watch)
	}
	if f.LocationID != "" {
		clauses = append(clauses, "location_uid = ?")
		args = append(args, f.LocationID)
	}
	if f.Search != "" {
		clauses = append(clauses, "location_name LIKE ?")
		args = append(args, "%"+f.Search+"%")
	}
	if f.DateFrom != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.DateFrom.UTC())
	}
	if f.DateTo != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, f.DateTo.UTC())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanHistory(row scanner) (*models.HistoryRecord, error) {
	var (
		r                           models.HistoryRecord
		event                       string
		threats, desc, icon, raions sql.NullString
		temp, count, seq            sql.NullInt64
		createdAt                   any
	)
	if err := row.Scan(&r.ID, &r.LocationID, &r.LocationName, &event, &threats, &temp,
		&desc, &icon, &raions, &count, &r.Watch, &seq, &createdAt); err != nil {
		return nil, err
	}

	r.Event = models.EventType(event)
	r.ThreatTypes = splitList(threats.String, ",")
	r.Districts = splitList(raions.String, ", ")
	r.WeatherDesc = desc.String
	r.WeatherIcon = icon.String
	if temp.Valid {
		v := int(temp.Int64)
		r.WeatherTemp = &v
	}
	if count.Valid {
		v := int(count.Int64)
		r.CountryCount = &v
	}
	if seq.Valid {
		v := int(seq.Int64)
		r.Sequence = &v
	}
	if t := parseTime(createdAt); t != nil {
		r.CreatedAt = *t
	}
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func splitList(s, sep string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, sep)
}
