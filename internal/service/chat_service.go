package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"

	"chatcore/internal/domain"
)

const unknownUserName = "Unknown User"

// ChatConfig bounds paging and message size.
type ChatConfig struct {
	DefaultPageSize  int
	MaxPageSize      int
	MaxMessageLength int
}

type action string

const (
	actionAddParticipant action = "add_participant"
	actionUpdateChat     action = "update_chat"
	actionSetRole        action = "set_role"
)

// rolePermissions lists the roles allowed to perform each mutating action.
var rolePermissions = map[action][]domain.Role{
	actionAddParticipant: {domain.RoleAdmin, domain.RoleOwner},
	actionUpdateChat:     {domain.RoleAdmin, domain.RoleOwner},
	actionSetRole:        {domain.RoleOwner},
}

// removableRoles lists, per actor role, the target roles it may remove.
// Anyone may remove themself.
var removableRoles = map[domain.Role][]domain.Role{
	domain.RoleOwner: {domain.RoleMember, domain.RoleAdmin, domain.RoleOwner},
	domain.RoleAdmin: {domain.RoleMember},
}

var errPrivateMembership = fmt.Errorf("%w: private chat membership is fixed", domain.ErrNotAuthorized)

// ChatService owns chats, participants and messages. Every operation resolves
// the caller's participant role first and fails closed.
type ChatService struct {
	chats        domain.ChatRepository
	participants domain.ParticipantRepository
	messages     domain.MessageRepository
	users        domain.UserRepository
	cfg          ChatConfig
	now          func() time.Time

	private singleflight.Group
}

func NewChatService(
	chats domain.ChatRepository,
	participants domain.ParticipantRepository,
	messages domain.MessageRepository,
	users domain.UserRepository,
	cfg ChatConfig,
) *ChatService {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 50
	}
	if cfg.MaxPageSize < cfg.DefaultPageSize {
		cfg.MaxPageSize = cfg.DefaultPageSize
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 5000
	}
	return &ChatService{
		chats:        chats,
		participants: participants,
		messages:     messages,
		users:        users,
		cfg:          cfg,
		now:          time.Now,
	}
}

type CreateChatInput struct {
	Name           string  `json:"name" validate:"max=100"`
	IsGroup        bool    `json:"is_group"`
	Description    *string `json:"description" validate:"omitempty,max=500"`
	ParticipantIDs []int64 `json:"participant_ids" validate:"dive,gt=0"`
}

type SendMessageInput struct {
	ChatID    int64              `json:"chat_id" validate:"required,gt=0"`
	Content   string             `json:"content" validate:"required"`
	Type      domain.MessageType `json:"type" validate:"omitempty,oneof=text image file audio video"`
	ReplyToID *int64             `json:"reply_to_message_id" validate:"omitempty,gt=0"`
	FileName  *string            `json:"file_name" validate:"omitempty,max=255"`
	FileSize  *int64             `json:"file_size" validate:"omitempty,gte=0"`
}

// authorize resolves the caller's role in the chat. With a non-empty action
// the role must also appear in rolePermissions.
func (s *ChatService) authorize(ctx context.Context, chatID, userID int64, act action) (*domain.Chat, domain.Role, error) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, "", err
	}
	if chat == nil {
		return nil, "", fmt.Errorf("chat %d: %w", chatID, domain.ErrNotFound)
	}
	p, err := s.participants.Get(ctx, chatID, userID)
	if err != nil {
		return nil, "", err
	}
	if p == nil {
		return nil, "", fmt.Errorf("user %d in chat %d: %w", userID, chatID, domain.ErrNotAuthorized)
	}
	if act != "" && !lo.Contains(rolePermissions[act], p.Role) {
		return nil, "", fmt.Errorf("%s as %s: %w", act, p.Role, domain.ErrNotAuthorized)
	}
	return chat, p.Role, nil
}

// ListChatsForUser returns the user's chats, most recently active first.
func (s *ChatService) ListChatsForUser(ctx context.Context, userID int64) ([]*ChatView, error) {
	chats, err := s.chats.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]*ChatView, 0, len(chats))
	for _, c := range chats {
		v, err := s.chatView(ctx, c, userID)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

func (s *ChatService) GetChat(ctx context.Context, chatID, userID int64) (*ChatView, error) {
	chat, _, err := s.authorize(ctx, chatID, userID, "")
	if err != nil {
		return nil, err
	}
	return s.chatView(ctx, chat, userID)
}

// CreateChat creates a group chat owned by createdBy. A non-group request
// naming exactly one other user resolves to the private chat for that pair.
func (s *ChatService) CreateChat(ctx context.Context, in CreateChatInput, createdBy int64) (*ChatView, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	others := lo.Without(lo.Uniq(in.ParticipantIDs), createdBy)

	if !in.IsGroup {
		if len(others) != 1 {
			return nil, fmt.Errorf("%w: a private chat needs exactly one other participant", domain.ErrInvalidInput)
		}
		return s.GetOrCreatePrivateChat(ctx, createdBy, others[0])
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", domain.ErrInvalidInput)
	}
	if err := s.requireUsers(ctx, append([]int64{createdBy}, others...)...); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	chat := &domain.Chat{
		Name:           name,
		IsGroup:        true,
		Description:    in.Description,
		CreatedBy:      createdBy,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	rows := make([]domain.ChatParticipant, 0, len(others)+1)
	rows = append(rows, domain.ChatParticipant{UserID: createdBy, Role: domain.RoleOwner, JoinedAt: now})
	for _, id := range others {
		rows = append(rows, domain.ChatParticipant{UserID: id, Role: domain.RoleMember, JoinedAt: now})
	}
	if err := s.chats.Create(ctx, chat, rows); err != nil {
		return nil, err
	}
	return s.chatView(ctx, chat, createdBy)
}

// GetOrCreatePrivateChat returns the single private chat of the unordered pair
// (userA, userB), creating it on first use. The view is built for userA.
func (s *ChatService) GetOrCreatePrivateChat(ctx context.Context, userA, userB int64) (*ChatView, error) {
	if userA == userB {
		return nil, fmt.Errorf("%w: cannot open a private chat with yourself", domain.ErrInvalidInput)
	}
	if err := s.requireUsers(ctx, userA, userB); err != nil {
		return nil, err
	}

	key := domain.PrivateChatKey(userA, userB)
	v, err, _ := s.private.Do(key, func() (any, error) {
		return s.findOrCreatePrivate(ctx, userA, userB, key)
	})
	if err != nil {
		return nil, err
	}
	return s.chatView(ctx, v.(*domain.Chat), userA)
}

func (s *ChatService) findOrCreatePrivate(ctx context.Context, userA, userB int64, key string) (*domain.Chat, error) {
	existing, err := s.chats.GetByPrivateKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := s.now().UTC()
	chat := &domain.Chat{
		CreatedBy:      userA,
		CreatedAt:      now,
		LastActivityAt: now,
		PrivateKey:     &key,
	}
	err = s.chats.Create(ctx, chat, []domain.ChatParticipant{
		{UserID: userA, Role: domain.RoleMember, JoinedAt: now},
		{UserID: userB, Role: domain.RoleMember, JoinedAt: now},
	})
	if errors.Is(err, domain.ErrConflict) {
		// Lost the race to another writer; theirs is the chat.
		existing, err = s.chats.GetByPrivateKey(ctx, key)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("private chat %s missing after conflict: %w", key, domain.ErrInternal)
		}
		return existing, nil
	}
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// ListMessages returns one page of messages, oldest first. Page 0 holds the
// newest pageSize messages. Callers outside the chat get an empty page.
func (s *ChatService) ListMessages(ctx context.Context, chatID, userID int64, page, pageSize int) ([]*MessageView, error) {
	if _, _, err := s.authorize(ctx, chatID, userID, ""); err != nil {
		if domain.IsDenial(err) {
			return []*MessageView{}, nil
		}
		return nil, err
	}
	if page < 0 {
		page = 0
	}
	if pageSize <= 0 {
		pageSize = s.cfg.DefaultPageSize
	}
	pageSize = min(pageSize, s.cfg.MaxPageSize)
	if page > math.MaxInt/pageSize {
		return []*MessageView{}, nil
	}

	msgs, err := s.messages.ListPage(ctx, chatID, pageSize, page*pageSize)
	if err != nil {
		return nil, err
	}
	known := make(map[int64]*domain.User)
	views := make([]*MessageView, len(msgs))
	for i, m := range msgs {
		v, err := s.messageView(ctx, m, known)
		if err != nil {
			return nil, err
		}
		views[len(msgs)-1-i] = v
	}
	return views, nil
}

// SendMessage persists a message from senderID and returns its enriched view.
func (s *ChatService) SendMessage(ctx context.Context, in SendMessageInput, senderID int64) (*MessageView, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if err := s.checkContent(in.Content); err != nil {
		return nil, err
	}
	if _, _, err := s.authorize(ctx, in.ChatID, senderID, ""); err != nil {
		return nil, err
	}
	if in.ReplyToID != nil {
		target, err := s.messages.GetByID(ctx, *in.ReplyToID)
		if err != nil {
			return nil, err
		}
		if target == nil || target.ChatID != in.ChatID {
			return nil, fmt.Errorf("%w: reply target %d is not in chat %d", domain.ErrInvalidInput, *in.ReplyToID, in.ChatID)
		}
	}

	typ := in.Type
	if typ == "" {
		typ = domain.MessageText
	}
	m := &domain.Message{
		ChatID:    in.ChatID,
		SenderID:  senderID,
		Content:   in.Content,
		Type:      typ,
		Status:    domain.StatusSent,
		ReplyToID: in.ReplyToID,
		FileName:  in.FileName,
		FileSize:  in.FileSize,
		SentAt:    s.now().UTC(),
	}
	if err := s.messages.Create(ctx, m); err != nil {
		return nil, err
	}
	return s.messageView(ctx, m, nil)
}

// EditMessage replaces the content of a message. Only its sender may edit it.
func (s *ChatService) EditMessage(ctx context.Context, messageID int64, content string, byUserID int64) (*MessageView, error) {
	if err := s.checkContent(content); err != nil {
		return nil, err
	}
	m, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("message %d: %w", messageID, domain.ErrNotFound)
	}
	if m.SenderID != byUserID {
		return nil, fmt.Errorf("edit message %d: %w", messageID, domain.ErrNotAuthorized)
	}
	if _, _, err := s.authorize(ctx, m.ChatID, byUserID, ""); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.messages.UpdateContent(ctx, messageID, content, now); err != nil {
		return nil, err
	}
	m.Content = content
	m.IsEdited = true
	m.EditedAt = &now
	return s.messageView(ctx, m, nil)
}

// MarkRead marks every message from other senders as read and returns how
// many changed. Repeating the call is a no-op.
func (s *ChatService) MarkRead(ctx context.Context, chatID, userID int64) (int64, error) {
	if _, _, err := s.authorize(ctx, chatID, userID, ""); err != nil {
		return 0, err
	}
	now := s.now().UTC()
	n, err := s.messages.MarkRead(ctx, chatID, userID, now)
	if err != nil {
		return 0, err
	}
	if err := s.participants.TouchLastRead(ctx, chatID, userID, now); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *ChatService) AddParticipant(ctx context.Context, chatID, userID, byUserID int64) error {
	chat, _, err := s.authorize(ctx, chatID, byUserID, actionAddParticipant)
	if err != nil {
		return err
	}
	if !chat.IsGroup {
		return errPrivateMembership
	}
	if err := s.requireUsers(ctx, userID); err != nil {
		return err
	}
	existing, err := s.participants.Get(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("user %d already in chat %d: %w", userID, chatID, domain.ErrConflict)
	}
	return s.participants.Add(ctx, &domain.ChatParticipant{
		ChatID:   chatID,
		UserID:   userID,
		Role:     domain.RoleMember,
		JoinedAt: s.now().UTC(),
	})
}

func (s *ChatService) RemoveParticipant(ctx context.Context, chatID, userID, byUserID int64) error {
	chat, role, err := s.authorize(ctx, chatID, byUserID, "")
	if err != nil {
		return err
	}
	if !chat.IsGroup {
		return errPrivateMembership
	}
	target, err := s.participants.Get(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if target == nil {
		return fmt.Errorf("user %d in chat %d: %w", userID, chatID, domain.ErrNotFound)
	}
	if userID != byUserID && !lo.Contains(removableRoles[role], target.Role) {
		return fmt.Errorf("%s removing %s: %w", role, target.Role, domain.ErrNotAuthorized)
	}
	return s.participants.Remove(ctx, chatID, userID)
}

func (s *ChatService) UpdateChat(ctx context.Context, chatID int64, name string, description *string, byUserID int64) error {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > 100 {
		return fmt.Errorf("%w: name must be 1-100 characters", domain.ErrInvalidInput)
	}
	chat, _, err := s.authorize(ctx, chatID, byUserID, actionUpdateChat)
	if err != nil {
		return err
	}
	if !chat.IsGroup {
		return errPrivateMembership
	}
	return s.chats.UpdateInfo(ctx, chatID, name, description)
}

// SetParticipantRole promotes or demotes a group member. Ownership is not transferable.
func (s *ChatService) SetParticipantRole(ctx context.Context, chatID, userID int64, role domain.Role, byUserID int64) error {
	if role != domain.RoleMember && role != domain.RoleAdmin {
		return fmt.Errorf("%w: role must be member or admin", domain.ErrInvalidInput)
	}
	if userID == byUserID {
		return fmt.Errorf("%w: cannot change your own role", domain.ErrInvalidInput)
	}
	chat, _, err := s.authorize(ctx, chatID, byUserID, actionSetRole)
	if err != nil {
		return err
	}
	if !chat.IsGroup {
		return errPrivateMembership
	}
	target, err := s.participants.Get(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if target == nil {
		return fmt.Errorf("user %d in chat %d: %w", userID, chatID, domain.ErrNotFound)
	}
	return s.participants.SetRole(ctx, chatID, userID, role)
}

// ParticipantIDs returns the user ids of every member of the chat.
func (s *ChatService) ParticipantIDs(ctx context.Context, chatID int64) ([]int64, error) {
	members, err := s.participants.ListMembers(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return lo.Map(members, func(m *domain.Member, _ int) int64 { return m.UserID }), nil
}

func (s *ChatService) checkContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: message content cannot be empty", domain.ErrInvalidInput)
	}
	if utf8.RuneCountInString(content) > s.cfg.MaxMessageLength {
		return fmt.Errorf("%w: message content exceeds %d characters", domain.ErrInvalidInput, s.cfg.MaxMessageLength)
	}
	return nil
}

func (s *ChatService) requireUsers(ctx context.Context, ids ...int64) error {
	for _, id := range ids {
		u, err := s.users.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if u == nil {
			return fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
		}
	}
	return nil
}

func (s *ChatService) chatView(ctx context.Context, c *domain.Chat, viewerID int64) (*ChatView, error) {
	members, err := s.participants.ListMembers(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	known := make(map[int64]*domain.User, len(members))
	v := &ChatView{
		ID:             c.ID,
		Name:           c.Name,
		IsGroup:        c.IsGroup,
		Description:    c.Description,
		Picture:        c.Picture,
		CreatedBy:      c.CreatedBy,
		CreatedAt:      c.CreatedAt,
		LastActivityAt: c.LastActivityAt,
		Participants:   make([]*ParticipantView, 0, len(members)),
	}
	for _, m := range members {
		known[m.UserID] = m.User
		uv := NewUserView(m.User)
		uv.Email = ""
		v.Participants = append(v.Participants, &ParticipantView{UserView: *uv, Role: m.Role, JoinedAt: m.JoinedAt})
	}
	if !c.IsGroup {
		v.Name = privateChatName(members, viewerID)
	}

	last, err := s.messages.Last(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if last != nil {
		if v.LastMessage, err = s.messageView(ctx, last, known); err != nil {
			return nil, err
		}
	}
	if v.UnreadCount, err = s.messages.CountUnread(ctx, c.ID, viewerID); err != nil {
		return nil, err
	}
	return v, nil
}

func privateChatName(members []*domain.Member, viewerID int64) string {
	other, ok := lo.Find(members, func(m *domain.Member) bool { return m.UserID != viewerID })
	if !ok || other.User == nil {
		return unknownUserName
	}
	return other.User.DisplayName()
}

func (s *ChatService) messageView(ctx context.Context, m *domain.Message, known map[int64]*domain.User) (*MessageView, error) {
	v := &MessageView{
		ID:               m.ID,
		ChatID:           m.ChatID,
		Content:          m.Content,
		Type:             m.Type,
		Status:           m.Status,
		SenderID:         m.SenderID,
		ReplyToMessageID: m.ReplyToID,
		FileName:         m.FileName,
		FileSize:         m.FileSize,
		SentAt:           m.SentAt,
		DeliveredAt:      m.DeliveredAt,
		ReadAt:           m.ReadAt,
		IsEdited:         m.IsEdited,
		EditedAt:         m.EditedAt,
	}

	sender, err := s.lookupUser(ctx, m.SenderID, known)
	if err != nil {
		return nil, err
	}
	v.SenderName = unknownUserName
	if sender != nil {
		v.SenderName = sender.DisplayName()
		v.SenderProfilePicture = sender.ProfilePicture
	}

	if m.ReplyToID != nil {
		reply, err := s.messages.GetByID(ctx, *m.ReplyToID)
		if err != nil {
			return nil, err
		}
		if reply != nil {
			replySender, err := s.lookupUser(ctx, reply.SenderID, known)
			if err != nil {
				return nil, err
			}
			name := unknownUserName
			if replySender != nil {
				name = replySender.DisplayName()
			}
			v.ReplyToContent = &reply.Content
			v.ReplyToSenderName = &name
		}
	}
	return v, nil
}

func (s *ChatService) lookupUser(ctx context.Context, id int64, known map[int64]*domain.User) (*domain.User, error) {
	if u, ok := known[id]; ok {
		return u, nil
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if known != nil {
		known[id] = u
	}
	return u, nil
}
