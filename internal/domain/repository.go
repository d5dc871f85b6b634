package domain

import (
	"context"
	"time"
)

// Lookups return (nil, nil) when the row does not exist. Unique-constraint
// violations surface as ErrConflict.

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Search(ctx context.Context, query string, limit int) ([]*User, error)
	ListOnline(ctx context.Context) ([]*User, error)
	Count(ctx context.Context) (int, error)
	SetOnlineStatus(ctx context.Context, id int64, isOnline bool, at time.Time) error
	// TouchLastSeen stamps last_seen_at without touching the online flag.
	TouchLastSeen(ctx context.Context, id int64, at time.Time) error
	// UpdateProfile replaces name, status and profile picture.
	UpdateProfile(ctx context.Context, id int64, name string, status, profilePicture *string) error
	// ResetOnline marks every user offline; presence is rebuilt as clients reconnect.
	ResetOnline(ctx context.Context) error
}

// ChatRepository defines persistence operations for chats.
type ChatRepository interface {
	// Create inserts the chat and its participant rows in one transaction.
	Create(ctx context.Context, c *Chat, participants []ChatParticipant) error
	GetByID(ctx context.Context, id int64) (*Chat, error)
	GetByPrivateKey(ctx context.Context, key string) (*Chat, error)
	ListForUser(ctx context.Context, userID int64) ([]*Chat, error)
	UpdateInfo(ctx context.Context, id int64, name string, description *string) error
}

// Member is a participant row joined with its user.
type Member struct {
	ChatParticipant
	User *User
}

// ParticipantRepository defines operations around chat participants.
type ParticipantRepository interface {
	Get(ctx context.Context, chatID, userID int64) (*ChatParticipant, error)
	ListMembers(ctx context.Context, chatID int64) ([]*Member, error)
	Add(ctx context.Context, p *ChatParticipant) error
	Remove(ctx context.Context, chatID, userID int64) error
	SetRole(ctx context.Context, chatID, userID int64, role Role) error
	TouchLastRead(ctx context.Context, chatID, userID int64, at time.Time) error
}

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	// Create inserts the message and moves the chat's last_activity_at forward
	// to the message's SentAt, never backward.
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id int64) (*Message, error)
	// ListPage returns messages newest first.
	ListPage(ctx context.Context, chatID int64, limit, offset int) ([]*Message, error)
	Last(ctx context.Context, chatID int64) (*Message, error)
	CountUnread(ctx context.Context, chatID, userID int64) (int, error)
	// MarkRead stamps every unread message not sent by readerID and returns the
	// number of rows changed.
	MarkRead(ctx context.Context, chatID, readerID int64, at time.Time) (int64, error)
	UpdateContent(ctx context.Context, id int64, content string, editedAt time.Time) error
}
