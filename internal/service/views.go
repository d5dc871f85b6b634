package service

import (
	"time"

	"chatcore/internal/domain"
)

// UserView is the public projection of a user.
type UserView struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	Name           string    `json:"name"`
	Email          string    `json:"email,omitempty"`
	ProfilePicture *string   `json:"profile_picture,omitempty"`
	Status         *string   `json:"status,omitempty"`
	IsOnline       bool      `json:"is_online"`
	LastSeenAt     time.Time `json:"last_seen_at"`
}

func NewUserView(u *domain.User) *UserView {
	if u == nil {
		return nil
	}
	return &UserView{
		ID:             u.ID,
		Username:       u.Username,
		Name:           u.Name,
		Email:          u.Email,
		ProfilePicture: u.ProfilePicture,
		Status:         u.Status,
		IsOnline:       u.IsOnline,
		LastSeenAt:     u.LastSeenAt,
	}
}

// ParticipantView is a chat member as seen by other members.
type ParticipantView struct {
	UserView
	Role     domain.Role `json:"role"`
	JoinedAt time.Time   `json:"joined_at"`
}

// MessageView is a message enriched with sender info and reply preview.
type MessageView struct {
	ID                   int64                `json:"id"`
	ChatID               int64                `json:"chat_id"`
	Content              string               `json:"content"`
	Type                 domain.MessageType   `json:"type"`
	Status               domain.MessageStatus `json:"status"`
	SenderID             int64                `json:"sender_id"`
	SenderName           string               `json:"sender_name"`
	SenderProfilePicture *string              `json:"sender_profile_picture,omitempty"`
	ReplyToMessageID     *int64               `json:"reply_to_message_id,omitempty"`
	ReplyToContent       *string              `json:"reply_to_content,omitempty"`
	ReplyToSenderName    *string              `json:"reply_to_sender_name,omitempty"`
	FileName             *string              `json:"file_name,omitempty"`
	FileSize             *int64               `json:"file_size,omitempty"`
	SentAt               time.Time            `json:"sent_at"`
	DeliveredAt          *time.Time           `json:"delivered_at,omitempty"`
	ReadAt               *time.Time           `json:"read_at,omitempty"`
	IsEdited             bool                 `json:"is_edited"`
	EditedAt             *time.Time           `json:"edited_at,omitempty"`
}

// ChatView is a chat as seen by one particular viewer: private chats are
// named after the other participant and the unread count is the viewer's.
type ChatView struct {
	ID             int64              `json:"id"`
	Name           string             `json:"name"`
	IsGroup        bool               `json:"is_group"`
	Description    *string            `json:"description,omitempty"`
	Picture        *string            `json:"picture,omitempty"`
	CreatedBy      int64              `json:"created_by"`
	CreatedAt      time.Time          `json:"created_at"`
	LastActivityAt time.Time          `json:"last_activity_at"`
	LastMessage    *MessageView       `json:"last_message,omitempty"`
	UnreadCount    int                `json:"unread_count"`
	Participants   []*ParticipantView `json:"participants"`
}
