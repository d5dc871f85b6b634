package store

import (
	"context"
	"fmt"
	"time"

	"chatcore/internal/domain"
)

type ParticipantRepo struct {
	db *DB
}

func NewParticipantRepo(db *DB) *ParticipantRepo {
	return &ParticipantRepo{db: db}
}

var _ domain.ParticipantRepository = (*ParticipantRepo)(nil)

func (r *ParticipantRepo) Get(ctx context.Context, chatID, userID int64) (*domain.ChatParticipant, error) {
	p := &domain.ChatParticipant{}
	err := r.db.queryRow(ctx, r.db, `
		SELECT user_id, chat_id, role, joined_at, last_read_at, is_muted, is_blocked
		FROM chat_participants
		WHERE chat_id = ? AND user_id = ?
	`, chatID, userID).Scan(
		&p.UserID,
		&p.ChatID,
		&p.Role,
		&p.JoinedAt,
		&p.LastReadAt,
		&p.IsMuted,
		&p.IsBlocked,
	)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	return p, nil
}

func (r *ParticipantRepo) ListMembers(ctx context.Context, chatID int64) ([]*domain.Member, error) {
	rows, err := r.db.query(ctx, r.db, `
		SELECT cp.user_id, cp.chat_id, cp.role, cp.joined_at, cp.last_read_at, cp.is_muted, cp.is_blocked,
			u.id, u.username, u.name, u.email, u.hashed_password, u.profile_picture, u.status, u.is_online, u.last_seen_at, u.created_at
		FROM chat_participants cp
		JOIN users u ON u.id = cp.user_id
		WHERE cp.chat_id = ?
		ORDER BY cp.joined_at ASC, u.id ASC
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []*domain.Member
	for rows.Next() {
		m := &domain.Member{User: &domain.User{}}
		if err := rows.Scan(
			&m.UserID,
			&m.ChatID,
			&m.Role,
			&m.JoinedAt,
			&m.LastReadAt,
			&m.IsMuted,
			&m.IsBlocked,
			&m.User.ID,
			&m.User.Username,
			&m.User.Name,
			&m.User.Email,
			&m.User.HashedPassword,
			&m.User.ProfilePicture,
			&m.User.Status,
			&m.User.IsOnline,
			&m.User.LastSeenAt,
			&m.User.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *ParticipantRepo) Add(ctx context.Context, p *domain.ChatParticipant) error {
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	_, err := r.db.exec(ctx, r.db, `
		INSERT INTO chat_participants (user_id, chat_id, role, joined_at, is_muted, is_blocked)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.UserID, p.ChatID, p.Role, p.JoinedAt, p.IsMuted, p.IsBlocked)
	return r.db.wrapWrite("insert participant", err)
}

func (r *ParticipantRepo) Remove(ctx context.Context, chatID, userID int64) error {
	res, err := r.db.exec(ctx, r.db, `DELETE FROM chat_participants WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ParticipantRepo) SetRole(ctx context.Context, chatID, userID int64, role domain.Role) error {
	res, err := r.db.exec(ctx, r.db, `UPDATE chat_participants SET role = ? WHERE chat_id = ? AND user_id = ?`, role, chatID, userID)
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ParticipantRepo) TouchLastRead(ctx context.Context, chatID, userID int64, at time.Time) error {
	if _, err := r.db.exec(ctx, r.db, `
		UPDATE chat_participants SET last_read_at = ? WHERE chat_id = ? AND user_id = ?
	`, at.UTC(), chatID, userID); err != nil {
		return fmt.Errorf("touch last read: %w", err)
	}
	return nil
}
