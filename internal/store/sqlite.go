package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("already exists")
	// ErrConflict is returned when a conditional write lost to a concurrent one.
	ErrConflict = errors.New("conflicting update")
)

// SessionCounter names the counter row that allocates chat session ids.
const SessionCounter = "chat_session_counter"

type SQLiteStore struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite has a single writer; one connection serialises all writes and
	// keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        full_name TEXT NOT NULL,
        birth_date TEXT NOT NULL DEFAULT '',
        hometown TEXT NOT NULL DEFAULT '',
        email TEXT UNIQUE,
        password_hash TEXT,
        created_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS user_preferences (
        user_id INTEGER PRIMARY KEY,
        hobby_json TEXT NOT NULL DEFAULT '[]',
        favorite_color TEXT NOT NULL DEFAULT '',
        favorite_food TEXT NOT NULL DEFAULT '',
        favorite_song TEXT NOT NULL DEFAULT '',
        favorite_movie TEXT NOT NULL DEFAULT ''
    );

    CREATE TABLE IF NOT EXISTS life_events (
        id TEXT PRIMARY KEY, -- UUID
        user_id INTEGER NOT NULL,
        event_title TEXT NOT NULL,
        event_date TEXT NOT NULL DEFAULT '',
        description TEXT NOT NULL DEFAULT '',
        emotions_json TEXT NOT NULL DEFAULT '[]',
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_life_events_user ON life_events (user_id);

    CREATE TABLE IF NOT EXISTS life_event_people (
        event_id TEXT NOT NULL,
        person_name TEXT NOT NULL,
        relationship TEXT NOT NULL DEFAULT '',
        FOREIGN KEY (event_id) REFERENCES life_events (id)
    );

    CREATE TABLE IF NOT EXISTS images_with_context (
        id TEXT PRIMARY KEY, -- UUID
        user_id INTEGER NOT NULL,
        image_base64 TEXT NOT NULL,
        context_who_json TEXT NOT NULL DEFAULT '[]',
        context_where TEXT NOT NULL DEFAULT '',
        context_when TEXT NOT NULL DEFAULT '',
        event_title TEXT NOT NULL DEFAULT '',
        description TEXT NOT NULL DEFAULT '',
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_images_user ON images_with_context (user_id);

    CREATE TABLE IF NOT EXISTS chat_sessions (
        id INTEGER PRIMARY KEY, -- allocated from counters
        user_id INTEGER NOT NULL,
        start_time DATETIME NOT NULL,
        last_active DATETIME NOT NULL,
        end_time DATETIME,
        end_reason TEXT,
        quiz_count INTEGER NOT NULL DEFAULT 0 CHECK (quiz_count BETWEEN 0 AND 5),
        current_question TEXT NOT NULL DEFAULT '',
        current_answer TEXT NOT NULL DEFAULT '',
        current_image TEXT NOT NULL DEFAULT '',
        current_record_id TEXT NOT NULL DEFAULT '',
        quiz_attempts INTEGER NOT NULL DEFAULT 0,
        asked_json TEXT NOT NULL DEFAULT '[]'
    );

    CREATE TABLE IF NOT EXISTS chat_records (
        id TEXT PRIMARY KEY, -- UUID
        session_id INTEGER NOT NULL,
        kind TEXT NOT NULL CHECK (kind IN ('chat', 'quiz')),
        question TEXT NOT NULL,
        answer TEXT,
        is_correct BOOLEAN NOT NULL DEFAULT FALSE,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (session_id) REFERENCES chat_sessions (id)
    );
    CREATE INDEX IF NOT EXISTS idx_chat_records_session ON chat_records (session_id);

    CREATE TABLE IF NOT EXISTS quiz_scores (
        session_id INTEGER PRIMARY KEY,
        total_questions INTEGER NOT NULL,
        correct_answers INTEGER NOT NULL,
        score REAL NOT NULL
    );

    CREATE TABLE IF NOT EXISTS counters (
        name TEXT PRIMARY KEY,
        last_id INTEGER NOT NULL
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// NextCounterValue atomically increments the named counter and returns the
// new value. A missing counter starts at 1.
func (s *SQLiteStore) NextCounterValue(ctx context.Context, name string) (int64, error) {
	var next int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
            INSERT INTO counters (name, last_id) VALUES (?, 1)
            ON CONFLICT (name) DO UPDATE SET last_id = last_id + 1
            RETURNING last_id`, name).Scan(&next)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", name, err)
	}
	return next, nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to marshal list: %w", err)
	}
	return string(b), nil
}

func decodeList(raw string) ([]string, error) {
	values := []string{}
	if raw == "" {
		return values, nil
	}
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal list: %w", err)
	}
	return values, nil
}

func notFoundOr(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}
