package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLDB implements the repositories on top of database/sql. Queries are
// written with ? placeholders and rebound for postgres.
type SQLDB struct {
	db     *sql.DB
	driver string
}

// Open connects to driver (sqlite or postgres) and applies the schema.
func Open(driver, dsn string) (*SQLDB, error) {
	switch driver {
	case DriverSQLite:
		return NewSQLiteDB(dsn)
	case DriverPostgres:
		return NewPostgresDB(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func NewSQLiteDB(path string) (*SQLDB, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// one connection keeps :memory: databases shared and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	return initDB(db, DriverSQLite)
}

func NewPostgresDB(dsn string) (*SQLDB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	return initDB(db, DriverPostgres)
}

// NewWithDB wraps an existing handle without migrating it.
func NewWithDB(db *sql.DB, driver string) *SQLDB {
	return &SQLDB{db: db, driver: driver}
}

func initDB(db *sql.DB, driver string) (*SQLDB, error) {
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := NewWithDB(db, driver)
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

func (s *SQLDB) migrate() error {
	historyID := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == DriverPostgres {
		historyID = "BIGSERIAL PRIMARY KEY"
	}

	schema := `
		CREATE TABLE IF NOT EXISTS subscribers (
			recipient_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			location_uid TEXT NOT NULL,
			last_alert_state BOOLEAN NOT NULL DEFAULT FALSE,
			subscribed_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS alerts_history (
			id ` + historyID + `,
			location_uid TEXT NOT NULL,
			location_name TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			threat_types TEXT,
			weather_temp INTEGER,
			weather_desc TEXT,
			weather_icon TEXT,
			raions TEXT,
			country_count INTEGER,
			watch TEXT NOT NULL DEFAULT 'subscriber',
			sequence INTEGER,
			created_at TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_history_created_at ON alerts_history(created_at);
		CREATE INDEX IF NOT EXISTS idx_history_location_uid ON alerts_history(location_uid);
		CREATE INDEX IF NOT EXISTS idx_history_alert_type ON alerts_history(alert_type);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLDB) Ping() error {
	return s.db.Ping()
}

func (s *SQLDB) Close() error {
	return s.db.Close()
}

// rebind turns ? placeholders into $1..$n for postgres.
func (s *SQLDB) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
