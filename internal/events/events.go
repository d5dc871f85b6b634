// Package events publishes domain events to external consumers.
package events

import (
	"context"
	"time"
)

// MessageSent is emitted for every accepted message.
type MessageSent struct {
	MessageID int64     `json:"message_id"`
	ChatID    int64     `json:"chat_id"`
	SenderID  int64     `json:"sender_id"`
	Type      string    `json:"type"`
	SentAt    time.Time `json:"sent_at"`
}

type Publisher interface {
	PublishMessageSent(ctx context.Context, ev MessageSent) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) PublishMessageSent(context.Context, MessageSent) error { return nil }

func (Nop) Close() error { return nil }
