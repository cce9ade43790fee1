package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/penpal/internal/shared"
	"github.com/cenkalti/backoff/v5"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver
)

const (
	// DriverSQLite selects the embedded SQLite backend.
	DriverSQLite = "sqlite"
	// DriverPostgres selects the Postgres backend.
	DriverPostgres = "postgres"

	busyRetryAttempts  = 3
	busyRetryBaseDelay = 100 * time.Millisecond
)

// SQLStore implements Repository on top of database/sql via sqlx. Queries are
// written with '?' placeholders and rebound for the active driver.
type SQLStore struct {
	db     *sqlx.DB
	driver string
	now    func() time.Time
}

var _ Repository = (*SQLStore)(nil)

// NewSQLite creates a new SQLite-backed repository at dbPath.
func NewSQLite(dbPath string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent readers; busy_timeout lets writers queue instead
	// of failing immediately.
	dsn := "file:" + dbPath +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)"

	return Open(DriverSQLite, dsn)
}

// NewPostgres creates a new Postgres-backed repository.
func NewPostgres(databaseURL string) (*SQLStore, error) {
	return Open(DriverPostgres, databaseURL)
}

// Open connects to the database, verifies connectivity and creates the schema.
func Open(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLStore{db: db, driver: driver, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS revoked_tokens (
		jti TEXT PRIMARY KEY,
		expires_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS writing_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		topic TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'IN_PROGRESS',
		created_at BIGINT NOT NULL,
		completed_at BIGINT
	);
	CREATE INDEX IF NOT EXISTS idx_writing_sessions_user ON writing_sessions(user_id, created_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES writing_sessions(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		order_index INTEGER NOT NULL,
		is_correct INTEGER,
		improvement TEXT,
		created_at BIGINT NOT NULL,
		UNIQUE (session_id, order_index)
	);

	CREATE TABLE IF NOT EXISTS mistakes (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES writing_sessions(id) ON DELETE CASCADE,
		original TEXT NOT NULL,
		correction TEXT NOT NULL,
		explanation TEXT NOT NULL,
		reviewed INTEGER NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_mistakes_session ON mistakes(session_id, created_at);

	CREATE TABLE IF NOT EXISTS flashcards (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		source_text TEXT NOT NULL,
		translation TEXT,
		source_lang TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		UNIQUE (user_id, source_text)
	);

	CREATE TABLE IF NOT EXISTS goals (
		user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		weekly_session_goal INTEGER NOT NULL,
		reminder_enabled INTEGER NOT NULL DEFAULT 0,
		reminder_time TEXT NOT NULL,
		reminder_timezone TEXT,
		updated_at BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_goals_reminder ON goals(reminder_enabled) WHERE reminder_enabled = 1;
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// retryBusy runs fn, retrying with exponential backoff while SQLite reports
// the database busy or locked. Any other error is returned at once.
func (s *SQLStore) retryBusy(ctx context.Context, operation string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = busyRetryBaseDelay

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn()
		if err != nil && !shared.IsSQLiteConflictError(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(busyRetryAttempts),
		backoff.WithNotify(func(err error, delay time.Duration) {
			slog.Debug("database busy, retrying", "operation", operation, "delay", delay, "error", err)
		}),
	)
	return err
}

func (s *SQLStore) nowMillis() int64 {
	return s.now().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
