package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chatcore/internal/domain"
)

const chatColumns = `c.id, c.name, c.is_group, c.description, c.picture, c.created_by, c.created_at, c.last_activity_at, c.private_key`

type ChatRepo struct {
	db *DB
}

func NewChatRepo(db *DB) *ChatRepo {
	return &ChatRepo{db: db}
}

var _ domain.ChatRepository = (*ChatRepo)(nil)

// Create inserts the chat and its participants atomically. A second private chat
// for the same pair fails on the private_key unique index with domain.ErrConflict.
func (r *ChatRepo) Create(ctx context.Context, c *domain.Chat, participants []domain.ChatParticipant) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.CreatedAt = c.CreatedAt.UTC()
	if c.LastActivityAt.IsZero() {
		c.LastActivityAt = c.CreatedAt
	}
	c.LastActivityAt = c.LastActivityAt.UTC()

	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		err := r.db.queryRow(ctx, tx, `
			INSERT INTO chats (name, is_group, description, picture, created_by, created_at, last_activity_at, private_key)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id
		`, c.Name, c.IsGroup, c.Description, c.Picture, c.CreatedBy, c.CreatedAt, c.LastActivityAt, c.PrivateKey).Scan(&c.ID)
		if err != nil {
			return r.db.wrapWrite("insert chat", err)
		}

		for _, p := range participants {
			joined := p.JoinedAt
			if joined.IsZero() {
				joined = c.CreatedAt
			}
			if _, err := r.db.exec(ctx, tx, `
				INSERT INTO chat_participants (user_id, chat_id, role, joined_at, is_muted, is_blocked)
				VALUES (?, ?, ?, ?, ?, ?)
			`, p.UserID, c.ID, p.Role, joined, p.IsMuted, p.IsBlocked); err != nil {
				return r.db.wrapWrite(fmt.Sprintf("insert participant %d", p.UserID), err)
			}
		}
		return nil
	})
}

func (r *ChatRepo) GetByID(ctx context.Context, id int64) (*domain.Chat, error) {
	return r.scanOne(ctx, `SELECT `+chatColumns+` FROM chats c WHERE c.id = ?`, id)
}

func (r *ChatRepo) GetByPrivateKey(ctx context.Context, key string) (*domain.Chat, error) {
	return r.scanOne(ctx, `SELECT `+chatColumns+` FROM chats c WHERE c.private_key = ?`, key)
}

func (r *ChatRepo) ListForUser(ctx context.Context, userID int64) ([]*domain.Chat, error) {
	rows, err := r.db.query(ctx, r.db, `
		SELECT `+chatColumns+`
		FROM chats c
		JOIN chat_participants cp ON cp.chat_id = c.id
		WHERE cp.user_id = ?
		ORDER BY c.last_activity_at DESC, c.id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var res []*domain.Chat
	for rows.Next() {
		c := &domain.Chat{}
		if err := scanChat(rows, c); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r *ChatRepo) UpdateInfo(ctx context.Context, id int64, name string, description *string) error {
	res, err := r.db.exec(ctx, r.db, `UPDATE chats SET name = ?, description = ? WHERE id = ?`, name, description, id)
	if err != nil {
		return fmt.Errorf("update chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ChatRepo) scanOne(ctx context.Context, query string, arg any) (*domain.Chat, error) {
	c := &domain.Chat{}
	err := scanChat(r.db.queryRow(ctx, r.db, query, arg), c)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return c, nil
}

func scanChat(row rowScanner, c *domain.Chat) error {
	return row.Scan(
		&c.ID,
		&c.Name,
		&c.IsGroup,
		&c.Description,
		&c.Picture,
		&c.CreatedBy,
		&c.CreatedAt,
		&c.LastActivityAt,
		&c.PrivateKey,
	)
}
