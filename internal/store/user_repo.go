package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"chatcore/internal/domain"
)

const userColumns = `id, username, name, email, hashed_password, profile_picture, status, is_online, last_seen_at, created_at`

type UserRepo struct {
	db *DB
}

func NewUserRepo(db *DB) *UserRepo {
	return &UserRepo{db: db}
}

var _ domain.UserRepository = (*UserRepo)(nil)

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.LastSeenAt.IsZero() {
		u.LastSeenAt = now
	}
	err := r.db.queryRow(ctx, r.db, `
		INSERT INTO users (username, name, email, hashed_password, profile_picture, status, is_online, last_seen_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, u.Username, u.Name, u.Email, u.HashedPassword, u.ProfilePicture, u.Status, u.IsOnline, u.LastSeenAt, u.CreatedAt).Scan(&u.ID)
	return r.db.wrapWrite("insert user", err)
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

func (r *UserRepo) Search(ctx context.Context, query string, limit int) ([]*domain.User, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	rows, err := r.db.query(ctx, r.db, `
		SELECT `+userColumns+`
		FROM users
		WHERE LOWER(username) LIKE ? OR LOWER(name) LIKE ?
		ORDER BY username ASC
		LIMIT ?
	`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return scanUsers(rows)
}

func (r *UserRepo) ListOnline(ctx context.Context) ([]*domain.User, error) {
	rows, err := r.db.query(ctx, r.db, `
		SELECT `+userColumns+`
		FROM users
		WHERE is_online = ?
		ORDER BY last_seen_at DESC
	`, true)
	if err != nil {
		return nil, fmt.Errorf("list online users: %w", err)
	}
	return scanUsers(rows)
}

func (r *UserRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.queryRow(ctx, r.db, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func (r *UserRepo) SetOnlineStatus(ctx context.Context, id int64, isOnline bool, at time.Time) error {
	if _, err := r.db.exec(ctx, r.db, `UPDATE users SET is_online = ?, last_seen_at = ? WHERE id = ?`, isOnline, at.UTC(), id); err != nil {
		return fmt.Errorf("set online status: %w", err)
	}
	return nil
}

func (r *UserRepo) TouchLastSeen(ctx context.Context, id int64, at time.Time) error {
	if _, err := r.db.exec(ctx, r.db, `UPDATE users SET last_seen_at = ? WHERE id = ?`, at.UTC(), id); err != nil {
		return fmt.Errorf("touch last seen: %w", err)
	}
	return nil
}

func (r *UserRepo) UpdateProfile(ctx context.Context, id int64, name string, status, profilePicture *string) error {
	res, err := r.db.exec(ctx, r.db, `UPDATE users SET name = ?, status = ?, profile_picture = ? WHERE id = ?`, name, status, profilePicture, id)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *UserRepo) ResetOnline(ctx context.Context) error {
	if _, err := r.db.exec(ctx, r.db, `UPDATE users SET is_online = ? WHERE is_online = ?`, false, true); err != nil {
		return fmt.Errorf("reset online: %w", err)
	}
	return nil
}

func (r *UserRepo) scanOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	u := &domain.User{}
	err := scanUser(r.db.queryRow(ctx, r.db, query, arg), u)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner, u *domain.User) error {
	return row.Scan(
		&u.ID,
		&u.Username,
		&u.Name,
		&u.Email,
		&u.HashedPassword,
		&u.ProfilePicture,
		&u.Status,
		&u.IsOnline,
		&u.LastSeenAt,
		&u.CreatedAt,
	)
}

func scanUsers(rows *sql.Rows) ([]*domain.User, error) {
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u := &domain.User{}
		if err := scanUser(rows, u); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
