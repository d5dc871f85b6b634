package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"chatcore/internal/store"
)

const uniqueViolation = "23505"

// Dialect implements store.Dialect for PostgreSQL.
type Dialect struct{}

func (Dialect) Name() string { return "postgres" }

func (Dialect) Rebind(query string) string { return store.RebindDollar(query) }

func (Dialect) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*store.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store.New(db, Dialect{}), nil
}

// Migrate runs idempotent DDL migrations for the chat schema on PostgreSQL.
func Migrate(db *store.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id               BIGSERIAL    PRIMARY KEY,
			username         VARCHAR(50)  UNIQUE NOT NULL,
			name             VARCHAR(100) NOT NULL DEFAULT '',
			email            VARCHAR(100) UNIQUE NOT NULL,
			hashed_password  VARCHAR(255) NOT NULL,
			profile_picture  TEXT,
			status           TEXT,
			is_online        BOOLEAN      NOT NULL DEFAULT FALSE,
			last_seen_at     TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			created_at       TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS chats (
			id               BIGSERIAL    PRIMARY KEY,
			name             VARCHAR(100) NOT NULL DEFAULT '',
			is_group         BOOLEAN      NOT NULL DEFAULT FALSE,
			description      TEXT,
			picture          TEXT,
			created_by       BIGINT       NOT NULL REFERENCES users(id) ON DELETE RESTRICT,
			created_at       TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			last_activity_at TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			private_key      VARCHAR(64)  UNIQUE
		)`,

		`CREATE TABLE IF NOT EXISTS chat_participants (
			user_id      BIGINT      NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			chat_id      BIGINT      NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			role         VARCHAR(16) NOT NULL DEFAULT 'member',
			joined_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_read_at TIMESTAMPTZ,
			is_muted     BOOLEAN     NOT NULL DEFAULT FALSE,
			is_blocked   BOOLEAN     NOT NULL DEFAULT FALSE,
			PRIMARY KEY (user_id, chat_id)
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id           BIGSERIAL   PRIMARY KEY,
			chat_id      BIGINT      NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			sender_id    BIGINT      NOT NULL REFERENCES users(id) ON DELETE RESTRICT,
			content      TEXT        NOT NULL,
			type         VARCHAR(16) NOT NULL DEFAULT 'text',
			status       VARCHAR(16) NOT NULL DEFAULT 'sent',
			reply_to_id  BIGINT      REFERENCES messages(id) ON DELETE SET NULL,
			file_name    TEXT,
			file_size    BIGINT,
			sent_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			delivered_at TIMESTAMPTZ,
			read_at      TIMESTAMPTZ,
			is_edited    BOOLEAN     NOT NULL DEFAULT FALSE,
			edited_at    TIMESTAMPTZ
		)`,

		`CREATE INDEX IF NOT EXISTS idx_users_is_online ON users(is_online)`,
		`CREATE INDEX IF NOT EXISTS idx_chats_last_activity ON chats(last_activity_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_participants_chat ON chat_participants(chat_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_sent ON messages(chat_id, sent_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(chat_id, sender_id) WHERE read_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_messages_reply_to ON messages(reply_to_id)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}
