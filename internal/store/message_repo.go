package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chatcore/internal/domain"
)

const messageColumns = `id, chat_id, sender_id, content, type, status, reply_to_id, file_name, file_size, sent_at, delivered_at, read_at, is_edited, edited_at`

type MessageRepo struct {
	db *DB
}

func NewMessageRepo(db *DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	if m.SentAt.IsZero() {
		m.SentAt = time.Now()
	}
	m.SentAt = m.SentAt.UTC()
	if m.Status == "" {
		m.Status = domain.StatusSent
	}
	if m.Type == "" {
		m.Type = domain.MessageText
	}

	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		err := r.db.queryRow(ctx, tx, `
			INSERT INTO messages (chat_id, sender_id, content, type, status, reply_to_id, file_name, file_size, sent_at, is_edited)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id
		`, m.ChatID, m.SenderID, m.Content, m.Type, m.Status, m.ReplyToID, m.FileName, m.FileSize, m.SentAt, false).Scan(&m.ID)
		if err != nil {
			return r.db.wrapWrite("insert message", err)
		}

		// Only ever moves forward; a concurrent sender with a later timestamp wins.
		if _, err := r.db.exec(ctx, tx, `
			UPDATE chats SET last_activity_at = ?
			WHERE id = ? AND last_activity_at < ?
		`, m.SentAt, m.ChatID, m.SentAt); err != nil {
			return fmt.Errorf("touch chat activity: %w", err)
		}
		return nil
	})
}

func (r *MessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	m := &domain.Message{}
	err := scanMessage(r.db.queryRow(ctx, r.db, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id), m)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) ListPage(ctx context.Context, chatID int64, limit, offset int) ([]*domain.Message, error) {
	rows, err := r.db.query(ctx, r.db, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE chat_id = ?
		ORDER BY sent_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, chatID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var res []*domain.Message
	for rows.Next() {
		m := &domain.Message{}
		if err := scanMessage(rows, m); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r *MessageRepo) Last(ctx context.Context, chatID int64) (*domain.Message, error) {
	msgs, err := r.ListPage(ctx, chatID, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return msgs[0], nil
}

func (r *MessageRepo) CountUnread(ctx context.Context, chatID, userID int64) (int, error) {
	var count int
	if err := r.db.queryRow(ctx, r.db, `
		SELECT COUNT(*)
		FROM messages
		WHERE chat_id = ? AND sender_id <> ? AND read_at IS NULL
	`, chatID, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

func (r *MessageRepo) MarkRead(ctx context.Context, chatID, readerID int64, at time.Time) (int64, error) {
	at = at.UTC()
	res, err := r.db.exec(ctx, r.db, `
		UPDATE messages
		SET read_at = ?, status = ?, delivered_at = COALESCE(delivered_at, ?)
		WHERE chat_id = ? AND sender_id <> ? AND read_at IS NULL
	`, at, domain.StatusRead, at, chatID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark read rows: %w", err)
	}
	return n, nil
}

func (r *MessageRepo) UpdateContent(ctx context.Context, id int64, content string, editedAt time.Time) error {
	res, err := r.db.exec(ctx, r.db, `
		UPDATE messages SET content = ?, is_edited = ?, edited_at = ? WHERE id = ?
	`, content, true, editedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanMessage(row rowScanner, m *domain.Message) error {
	return row.Scan(
		&m.ID,
		&m.ChatID,
		&m.SenderID,
		&m.Content,
		&m.Type,
		&m.Status,
		&m.ReplyToID,
		&m.FileName,
		&m.FileSize,
		&m.SentAt,
		&m.DeliveredAt,
		&m.ReadAt,
		&m.IsEdited,
		&m.EditedAt,
	)
}
