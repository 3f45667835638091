package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gymbook/internal/domain"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const (
	dateLayout = "2006-01-02"
	// fixed width keeps stored timestamps sortable as text
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

// NewDB opens the SQLite file at path (":memory:" for tests) and creates the
// schema. A single connection with immediate transactions serializes writers.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: sqlDB, path: path, logger: logger}, nil
}

func dsn(path string) string {
	params := "_txlock=immediate&_busy_timeout=5000"
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return path + "?" + params
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS slots (
            date TEXT NOT NULL,
            hour INTEGER NOT NULL,
            capacity INTEGER NOT NULL CHECK (capacity > 0),
            occupancy INTEGER NOT NULL DEFAULT 0 CHECK (occupancy >= 0 AND occupancy <= capacity),
            PRIMARY KEY (date, hour)
        )`,
		`CREATE TABLE IF NOT EXISTS slot_bookers (
            date TEXT NOT NULL,
            hour INTEGER NOT NULL,
            user_id TEXT NOT NULL,
            PRIMARY KEY (date, hour, user_id),
            FOREIGN KEY (date, hour) REFERENCES slots(date, hour)
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            date TEXT NOT NULL,
            hour INTEGER NOT NULL,
            created_at TEXT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS audit_events (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            id TEXT NOT NULL UNIQUE,
            actor TEXT NOT NULL,
            action TEXT NOT NULL,
            detail TEXT,
            created_at TEXT NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_user_id ON bookings(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_date ON bookings(date)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_events(actor)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_events(action)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// store implements domain.Store on top of a queryer; DB uses it directly for
// reads and through a *sql.Tx for writes.
type store struct {
	q     queryer
	newID func() string
}

func (db *DB) reader() *store {
	return &store{q: db.DB, newID: uuid.NewString}
}

var _ domain.Repository = (*DB)(nil)

func (db *DB) WithTx(ctx context.Context, fn func(tx domain.Store) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(&store{q: tx, newID: uuid.NewString}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (db *DB) Path() string {
	return db.path
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(timeLayout, raw)
}

func formatDate(t time.Time) string {
	return t.Format(dateLayout)
}

func parseDate(raw string) (time.Time, error) {
	return time.Parse(dateLayout, raw)
}
