package ws

import (
	"encoding/json"
	"time"
)

// Inbound commands.
const (
	CmdJoinUserGroup      = "JoinUserGroup"
	CmdJoinChat           = "JoinChat"
	CmdLeaveChat          = "LeaveChat"
	CmdSendMessage        = "SendMessage"
	CmdEditMessage        = "EditMessage"
	CmdStartTyping        = "StartTyping"
	CmdStopTyping         = "StopTyping"
	CmdMarkMessagesAsRead = "MarkMessagesAsRead"
)

// Outbound events.
const (
	EvtReceiveMessage          = "ReceiveMessage"
	EvtChatUpdated             = "ChatUpdated"
	EvtUserTyping              = "UserTyping"
	EvtMessagesRead            = "MessagesRead"
	EvtUserOnlineStatusChanged = "UserOnlineStatusChanged"
	EvtMessageEdited           = "MessageEdited"
	EvtAck                     = "Ack"
	EvtError                   = "Error"
)

// Frame is an inbound client frame.
type Frame struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// Event is an outbound server frame.
type Event struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type userRef struct {
	UserID int64 `json:"user_id"`
}

type chatRef struct {
	ChatID int64 `json:"chat_id"`
}

type editMessagePayload struct {
	MessageID int64  `json:"message_id"`
	Content   string `json:"content"`
}

type TypingPayload struct {
	ChatID   int64  `json:"chat_id"`
	UserID   int64  `json:"user_id"`
	UserName string `json:"user_name"`
	IsTyping bool   `json:"is_typing"`
}

type MessagesReadPayload struct {
	ChatID int64 `json:"chat_id"`
	UserID int64 `json:"user_id"`
	Count  int64 `json:"count"`
}

type PresencePayload struct {
	UserID     int64     `json:"user_id"`
	IsOnline   bool      `json:"is_online"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

type AckPayload struct {
	Command string `json:"command"`
	ChatID  int64  `json:"chat_id,omitempty"`
	Count   int64  `json:"count,omitempty"`
}

type ErrorPayload struct {
	Command string `json:"command,omitempty"`
	Message string `json:"message"`
}
