package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Open opens a SQLite database with foreign keys enforced. SQLite takes one
// writer at a time, so the pool is capped at a single connection.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

func withPragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Migrate creates the schema. Statements are idempotent.
// Timestamps are stored as unix milliseconds.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id              TEXT    PRIMARY KEY,
			participant_a   TEXT    NOT NULL,
			participant_b   TEXT    NOT NULL,
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL,
			last_message_at INTEGER NOT NULL,
			is_deleted      INTEGER NOT NULL DEFAULT 0,
			CHECK (participant_a < participant_b)
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT    NOT NULL UNIQUE,
			conversation_id TEXT    NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			sender_id       TEXT    NOT NULL,
			content         TEXT    NOT NULL,
			encrypted       INTEGER NOT NULL,
			message_type    TEXT    NOT NULL DEFAULT 'text',
			created_at      INTEGER NOT NULL,
			delivered_at    INTEGER,
			read_at         INTEGER
		);`,
		// one live conversation per pair; tombstones do not count
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_conversations_live_pair
			ON conversations(participant_a, participant_b) WHERE is_deleted = 0;`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_a ON conversations(participant_a, last_message_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_b ON conversations(participant_b, last_message_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conv_created ON messages(conversation_id, created_at, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(conversation_id, read_at) WHERE read_at IS NULL;`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return false
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}
