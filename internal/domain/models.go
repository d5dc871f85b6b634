package domain

import (
	"fmt"
	"time"
)

// User represents an application user.
type User struct {
	ID             int64     `db:"id" json:"id"`
	Username       string    `db:"username" json:"username"`
	Name           string    `db:"name" json:"name"`
	Email          string    `db:"email" json:"email"`
	HashedPassword string    `db:"hashed_password" json:"-"`
	ProfilePicture *string   `db:"profile_picture" json:"profile_picture,omitempty"`
	Status         *string   `db:"status" json:"status,omitempty"`
	IsOnline       bool      `db:"is_online" json:"is_online"`
	LastSeenAt     time.Time `db:"last_seen_at" json:"last_seen_at"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// DisplayName is the name shown to other users.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}

// Chat represents a conversation, either private (two members) or a group.
type Chat struct {
	ID             int64     `db:"id"`
	Name           string    `db:"name"`
	IsGroup        bool      `db:"is_group"`
	Description    *string   `db:"description"`
	Picture        *string   `db:"picture"`
	CreatedBy      int64     `db:"created_by"`
	CreatedAt      time.Time `db:"created_at"`
	LastActivityAt time.Time `db:"last_activity_at"`
	// PrivateKey identifies a private chat by its sorted member pair; nil for groups.
	PrivateKey *string `db:"private_key"`
}

// PrivateChatKey returns the unordered-pair key of a private chat between a and b.
func PrivateChatKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// Role is a participant's role inside a chat.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleAdmin, RoleOwner:
		return true
	}
	return false
}

// ChatParticipant represents the membership of a user in a chat.
type ChatParticipant struct {
	UserID     int64      `db:"user_id"`
	ChatID     int64      `db:"chat_id"`
	Role       Role       `db:"role"`
	JoinedAt   time.Time  `db:"joined_at"`
	LastReadAt *time.Time `db:"last_read_at"`
	IsMuted    bool       `db:"is_muted"`
	IsBlocked  bool       `db:"is_blocked"`
}

// MessageType classifies message content.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
	MessageAudio MessageType = "audio"
	MessageVideo MessageType = "video"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessageAudio, MessageVideo:
		return true
	}
	return false
}

// MessageStatus only moves forward: sent -> delivered -> read.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

func (s MessageStatus) rank() int {
	switch s {
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	}
	return 0
}

// Advance returns the later of s and next.
func (s MessageStatus) Advance(next MessageStatus) MessageStatus {
	if next.rank() > s.rank() {
		return next
	}
	return s
}

// Message represents a single chat message.
type Message struct {
	ID          int64         `db:"id"`
	ChatID      int64         `db:"chat_id"`
	SenderID    int64         `db:"sender_id"`
	Content     string        `db:"content"`
	Type        MessageType   `db:"type"`
	Status      MessageStatus `db:"status"`
	ReplyToID   *int64        `db:"reply_to_id"`
	FileName    *string       `db:"file_name"`
	FileSize    *int64        `db:"file_size"`
	SentAt      time.Time     `db:"sent_at"`
	DeliveredAt *time.Time    `db:"delivered_at"`
	ReadAt      *time.Time    `db:"read_at"`
	IsEdited    bool          `db:"is_edited"`
	EditedAt    *time.Time    `db:"edited_at"`
}
