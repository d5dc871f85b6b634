package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"chatcore/internal/domain"
	"chatcore/internal/events"
	"chatcore/internal/metrics"
	"chatcore/internal/service"
)

var (
	errBadFrame    = errors.New("malformed frame")
	errNotBound    = errors.New("connection is not bound to a user")
	errRateLimited = errors.New("rate limit exceeded")
)

// ChatDirectory is the part of the chat service the realtime layer calls.
type ChatDirectory interface {
	SendMessage(ctx context.Context, in service.SendMessageInput, senderID int64) (*service.MessageView, error)
	EditMessage(ctx context.Context, messageID int64, content string, byUserID int64) (*service.MessageView, error)
	MarkRead(ctx context.Context, chatID, userID int64) (int64, error)
	GetChat(ctx context.Context, chatID, userID int64) (*service.ChatView, error)
	ParticipantIDs(ctx context.Context, chatID int64) ([]int64, error)
}

// Session is the per-connection state the dispatcher needs. UserID is the
// authenticated user; the connection is only bound after JoinUserGroup.
type Session struct {
	ConnID   string
	UserID   int64
	UserName string

	limiter *rate.Limiter
}

type DispatcherConfig struct {
	RateLimit float64
	RateBurst int

	// PublishTimeout bounds each message.sent publish. Zero means 5s.
	PublishTimeout time.Duration
}

// Dispatcher maps inbound frames onto chat operations and fans results out
// through the registry. Failed commands never broadcast: they are logged,
// counted and answered with an Error frame to the caller only.
type Dispatcher struct {
	registry *Registry
	presence *Presence
	typing   *TypingTracker
	chats    ChatDirectory
	events   events.Publisher
	log      *zap.Logger
	cfg      DispatcherConfig
}

func NewDispatcher(
	registry *Registry,
	presence *Presence,
	typing *TypingTracker,
	chats ChatDirectory,
	publisher events.Publisher,
	log *zap.Logger,
	cfg DispatcherConfig,
) *Dispatcher {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &Dispatcher{
		registry: registry,
		presence: presence,
		typing:   typing,
		chats:    chats,
		events:   publisher,
		log:      log,
		cfg:      cfg,
	}
}

// Connect attaches a new transport connection for an authenticated user.
func (d *Dispatcher) Connect(connID string, user *domain.User, sink Sink) (*Session, error) {
	if err := d.registry.Attach(connID, sink); err != nil {
		return nil, err
	}
	s := &Session{ConnID: connID, UserID: user.ID, UserName: user.DisplayName()}
	if d.cfg.RateLimit > 0 {
		burst := max(d.cfg.RateBurst, 1)
		s.limiter = rate.NewLimiter(rate.Limit(d.cfg.RateLimit), burst)
	}
	return s, nil
}

// Disconnect tears down connection state: typing first, then the binding,
// then presence if that was the user's last connection.
func (d *Dispatcher) Disconnect(ctx context.Context, s *Session) {
	ctx = context.WithoutCancel(ctx)
	d.typing.Clear(s.ConnID)
	userID, last := d.registry.Unbind(s.ConnID)
	if userID != 0 && last {
		d.presence.Disconnected(ctx, userID)
	}
}

// Handle processes one inbound frame. Persistence runs detached from the
// connection so a disconnect never aborts a write half way.
func (d *Dispatcher) Handle(ctx context.Context, s *Session, data []byte) {
	ctx = context.WithoutCancel(ctx)

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		d.fail(s, f, fmt.Errorf("%w: %v", errBadFrame, err))
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		d.fail(s, f, errRateLimited)
		return
	}

	var err error
	switch f.Type {
	case CmdJoinUserGroup:
		err = d.joinUserGroup(ctx, s, f)
	case CmdJoinChat:
		err = d.joinChat(s, f)
	case CmdLeaveChat:
		err = d.leaveChat(s, f)
	case CmdSendMessage:
		err = d.sendMessage(ctx, s, f)
	case CmdEditMessage:
		err = d.editMessage(ctx, s, f)
	case CmdStartTyping:
		err = d.startTyping(s, f)
	case CmdStopTyping:
		err = d.stopTyping(s, f)
	case CmdMarkMessagesAsRead:
		err = d.markRead(ctx, s, f)
	default:
		d.fail(s, f, fmt.Errorf("%w: unknown command %q", errBadFrame, f.Type))
		return
	}
	metrics.Commands.WithLabelValues(f.Type).Inc()
	if err != nil {
		d.fail(s, f, err)
	}
}

func (d *Dispatcher) joinUserGroup(ctx context.Context, s *Session, f Frame) error {
	var p userRef
	if err := decode(f, &p); err != nil {
		return err
	}
	if p.UserID == 0 {
		p.UserID = s.UserID
	}
	if p.UserID != s.UserID {
		return fmt.Errorf("bind to user %d: %w", p.UserID, domain.ErrNotAuthorized)
	}
	if _, err := d.registry.Bind(s.ConnID, s.UserID); err != nil {
		return err
	}
	d.presence.Connected(ctx, s.UserID)
	d.ack(s, f, AckPayload{Command: f.Type})
	return nil
}

func (d *Dispatcher) joinChat(s *Session, f Frame) error {
	var p chatRef
	if err := decodeChat(f, &p); err != nil {
		return err
	}
	if err := d.registry.JoinRoom(s.ConnID, p.ChatID); err != nil {
		return err
	}
	d.ack(s, f, AckPayload{Command: f.Type, ChatID: p.ChatID})
	return nil
}

func (d *Dispatcher) leaveChat(s *Session, f Frame) error {
	var p chatRef
	if err := decodeChat(f, &p); err != nil {
		return err
	}
	d.typing.Stop(s.ConnID, p.ChatID)
	if err := d.registry.LeaveRoom(s.ConnID, p.ChatID); err != nil {
		return err
	}
	d.ack(s, f, AckPayload{Command: f.Type, ChatID: p.ChatID})
	return nil
}

func (d *Dispatcher) sendMessage(ctx context.Context, s *Session, f Frame) error {
	userID, err := d.boundUser(s)
	if err != nil {
		return err
	}
	var in service.SendMessageInput
	if err := decode(f, &in); err != nil {
		return err
	}

	msg, err := d.chats.SendMessage(ctx, in, userID)
	if err != nil {
		return err
	}
	d.typing.Stop(s.ConnID, msg.ChatID)

	// Targets and per-recipient views are resolved before anything is sent.
	type delivery struct {
		group string
		ev    Event
	}
	out := []delivery{{group: RoomGroup(msg.ChatID), ev: Event{Type: EvtReceiveMessage, Payload: msg}}}
	participants, err := d.chats.ParticipantIDs(ctx, msg.ChatID)
	if err != nil {
		d.log.Warn("resolve participants", zap.Int64("chat_id", msg.ChatID), zap.Error(err))
	}
	for _, pid := range participants {
		view, err := d.chats.GetChat(ctx, msg.ChatID, pid)
		if err != nil {
			d.log.Warn("build chat view", zap.Int64("chat_id", msg.ChatID), zap.Int64("user_id", pid), zap.Error(err))
			continue
		}
		out = append(out, delivery{group: UserGroup(pid), ev: Event{Type: EvtChatUpdated, Payload: view}})
	}

	for _, o := range out {
		d.registry.Broadcast(o.group, o.ev)
	}
	d.ack(s, f, AckPayload{Command: f.Type, ChatID: msg.ChatID})

	pubCtx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout)
	defer cancel()
	if err := d.events.PublishMessageSent(pubCtx, events.MessageSent{
		MessageID: msg.ID,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Type:      string(msg.Type),
		SentAt:    msg.SentAt,
	}); err != nil {
		d.log.Warn("publish message.sent", zap.Int64("message_id", msg.ID), zap.Error(err))
	}
	return nil
}

func (d *Dispatcher) editMessage(ctx context.Context, s *Session, f Frame) error {
	userID, err := d.boundUser(s)
	if err != nil {
		return err
	}
	var p editMessagePayload
	if err := decode(f, &p); err != nil {
		return err
	}
	if p.MessageID <= 0 {
		return fmt.Errorf("%w: message_id is required", errBadFrame)
	}
	msg, err := d.chats.EditMessage(ctx, p.MessageID, p.Content, userID)
	if err != nil {
		return err
	}
	d.registry.Broadcast(RoomGroup(msg.ChatID), Event{Type: EvtMessageEdited, Payload: msg})
	d.ack(s, f, AckPayload{Command: f.Type, ChatID: msg.ChatID})
	return nil
}

func (d *Dispatcher) startTyping(s *Session, f Frame) error {
	userID, err := d.boundUser(s)
	if err != nil {
		return err
	}
	var p chatRef
	if err := decodeChat(f, &p); err != nil {
		return err
	}
	d.typing.Start(s.ConnID, p.ChatID, userID, s.UserName)
	return nil
}

func (d *Dispatcher) stopTyping(s *Session, f Frame) error {
	if _, err := d.boundUser(s); err != nil {
		return err
	}
	var p chatRef
	if err := decodeChat(f, &p); err != nil {
		return err
	}
	d.typing.Stop(s.ConnID, p.ChatID)
	return nil
}

func (d *Dispatcher) markRead(ctx context.Context, s *Session, f Frame) error {
	userID, err := d.boundUser(s)
	if err != nil {
		return err
	}
	var p chatRef
	if err := decodeChat(f, &p); err != nil {
		return err
	}
	n, err := d.chats.MarkRead(ctx, p.ChatID, userID)
	if err != nil {
		return err
	}

	d.registry.Broadcast(RoomGroup(p.ChatID), Event{
		Type:    EvtMessagesRead,
		Payload: MessagesReadPayload{ChatID: p.ChatID, UserID: userID, Count: n},
	}, s.ConnID)
	if view, err := d.chats.GetChat(ctx, p.ChatID, userID); err == nil {
		d.registry.Broadcast(UserGroup(userID), Event{Type: EvtChatUpdated, Payload: view})
	}
	d.ack(s, f, AckPayload{Command: f.Type, ChatID: p.ChatID, Count: n})
	return nil
}

// boundUser resolves the acting user from the registry, never from the frame.
func (d *Dispatcher) boundUser(s *Session) (int64, error) {
	userID, ok := d.registry.UserOf(s.ConnID)
	if !ok {
		return 0, errNotBound
	}
	return userID, nil
}

func (d *Dispatcher) ack(s *Session, f Frame, p AckPayload) {
	d.registry.SendTo(s.ConnID, Event{Type: EvtAck, Payload: p, RequestID: f.RequestID})
}

func (d *Dispatcher) fail(s *Session, f Frame, err error) {
	reason, msg := classify(err)
	command := f.Type
	if !knownCommand(command) {
		command = "unknown"
	}
	metrics.CommandFailures.WithLabelValues(command, reason).Inc()

	fields := []zap.Field{
		zap.String("conn_id", s.ConnID),
		zap.Int64("user_id", s.UserID),
		zap.String("command", f.Type),
		zap.String("reason", reason),
		zap.Error(err),
	}
	if reason == "internal" {
		d.log.Error("realtime command failed", fields...)
	} else {
		d.log.Warn("realtime command rejected", fields...)
	}

	d.registry.SendTo(s.ConnID, Event{
		Type:      EvtError,
		Payload:   ErrorPayload{Command: f.Type, Message: msg},
		RequestID: f.RequestID,
	})
}

func classify(err error) (reason, msg string) {
	switch {
	case errors.Is(err, domain.ErrNotAuthorized):
		return "not_authorized", "not authorized"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found", "not found"
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, errBadFrame):
		return "invalid", err.Error()
	case errors.Is(err, domain.ErrConflict):
		return "conflict", err.Error()
	case errors.Is(err, errNotBound):
		return "not_bound", errNotBound.Error()
	case errors.Is(err, ErrAlreadyBound):
		return "already_bound", ErrAlreadyBound.Error()
	case errors.Is(err, errRateLimited):
		return "rate_limited", errRateLimited.Error()
	case errors.Is(err, ErrUnknownConn):
		return "closed", ErrUnknownConn.Error()
	}
	return "internal", domain.ErrInternal.Error()
}

func knownCommand(t string) bool {
	switch t {
	case CmdJoinUserGroup, CmdJoinChat, CmdLeaveChat, CmdSendMessage, CmdEditMessage,
		CmdStartTyping, CmdStopTyping, CmdMarkMessagesAsRead:
		return true
	}
	return false
}

func decode(f Frame, v any) error {
	if len(f.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", errBadFrame, err)
	}
	return nil
}

func decodeChat(f Frame, p *chatRef) error {
	if err := decode(f, p); err != nil {
		return err
	}
	if p.ChatID <= 0 {
		return fmt.Errorf("%w: chat_id is required", errBadFrame)
	}
	return nil
}
