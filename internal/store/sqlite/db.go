package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"chatcore/internal/store"
)

// Dialect implements store.Dialect for SQLite.
type Dialect struct{}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) Rebind(query string) string { return query }

func (Dialect) IsUniqueViolation(err error) bool {
	var e *sqlite.Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

// Open opens a SQLite database at path. SQLite allows a single writer, so the
// pool is capped at one connection; that also keeps the foreign_keys pragma in
// effect for every statement.
func Open(path string) (*store.DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return store.New(db, Dialect{}), nil
}

// Migrate runs idempotent CREATE TABLE / CREATE INDEX statements.
func Migrate(db *store.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			username VARCHAR(50) UNIQUE NOT NULL,
			name VARCHAR(100) NOT NULL DEFAULT '',
			email VARCHAR(100) UNIQUE NOT NULL,
			hashed_password VARCHAR(255) NOT NULL,
			profile_picture TEXT DEFAULT NULL,
			status TEXT DEFAULT NULL,
			is_online BOOLEAN NOT NULL DEFAULT 0,
			last_seen_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chats (
			id INTEGER PRIMARY KEY,
			name VARCHAR(100) NOT NULL DEFAULT '',
			is_group BOOLEAN NOT NULL DEFAULT 0,
			description TEXT DEFAULT NULL,
			picture TEXT DEFAULT NULL,
			created_by INTEGER NOT NULL REFERENCES users(id) ON DELETE RESTRICT,
			created_at DATETIME NOT NULL,
			last_activity_at DATETIME NOT NULL,
			private_key VARCHAR(64) UNIQUE DEFAULT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chat_participants (
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			chat_id INTEGER NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			role VARCHAR(16) NOT NULL DEFAULT 'member',
			joined_at DATETIME NOT NULL,
			last_read_at DATETIME DEFAULT NULL,
			is_muted BOOLEAN NOT NULL DEFAULT 0,
			is_blocked BOOLEAN NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, chat_id)
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY,
			chat_id INTEGER NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			sender_id INTEGER NOT NULL REFERENCES users(id) ON DELETE RESTRICT,
			content TEXT NOT NULL,
			type VARCHAR(16) NOT NULL DEFAULT 'text',
			status VARCHAR(16) NOT NULL DEFAULT 'sent',
			reply_to_id INTEGER DEFAULT NULL REFERENCES messages(id) ON DELETE SET NULL,
			file_name TEXT DEFAULT NULL,
			file_size INTEGER DEFAULT NULL,
			sent_at DATETIME NOT NULL,
			delivered_at DATETIME DEFAULT NULL,
			read_at DATETIME DEFAULT NULL,
			is_edited BOOLEAN NOT NULL DEFAULT 0,
			edited_at DATETIME DEFAULT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_users_is_online ON users(is_online);`,
		`CREATE INDEX IF NOT EXISTS idx_chats_last_activity ON chats(last_activity_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_participants_chat ON chat_participants(chat_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_sent ON messages(chat_id, sent_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(chat_id, sender_id) WHERE read_at IS NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_messages_reply_to ON messages(reply_to_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
