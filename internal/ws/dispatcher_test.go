package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatcore/internal/domain"
	"chatcore/internal/events"
	"chatcore/internal/service"
)

type MockChatDirectory struct {
	mock.Mock
}

func (m *MockChatDirectory) SendMessage(ctx context.Context, in service.SendMessageInput, senderID int64) (*service.MessageView, error) {
	args := m.Called(ctx, in, senderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.MessageView), args.Error(1)
}

func (m *MockChatDirectory) EditMessage(ctx context.Context, messageID int64, content string, byUserID int64) (*service.MessageView, error) {
	args := m.Called(ctx, messageID, content, byUserID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.MessageView), args.Error(1)
}

func (m *MockChatDirectory) MarkRead(ctx context.Context, chatID, userID int64) (int64, error) {
	args := m.Called(ctx, chatID, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockChatDirectory) GetChat(ctx context.Context, chatID, userID int64) (*service.ChatView, error) {
	args := m.Called(ctx, chatID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ChatView), args.Error(1)
}

func (m *MockChatDirectory) ParticipantIDs(ctx context.Context, chatID int64) ([]int64, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.MessageSent
}

func (p *recordingPublisher) PublishMessageSent(_ context.Context, ev events.MessageSent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type dispatcherFixture struct {
	registry  *Registry
	typing    *TypingTracker
	presence  *Presence
	chats     *MockChatDirectory
	store     *fakeStatusStore
	publisher *recordingPublisher
	d         *Dispatcher
}

func newDispatcherFixture(t *testing.T, cfg DispatcherConfig) *dispatcherFixture {
	t.Helper()
	f := &dispatcherFixture{
		registry:  NewRegistry(nil),
		chats:     new(MockChatDirectory),
		store:     &fakeStatusStore{},
		publisher: &recordingPublisher{},
	}
	f.typing = NewTypingTracker(f.registry, time.Minute, nil)
	f.presence = NewPresence(f.registry, f.store, nil, nil)
	f.d = NewDispatcher(f.registry, f.presence, f.typing, f.chats, f.publisher, nil, cfg)
	return f
}

// connect attaches a connection for user and optionally binds it.
func (f *dispatcherFixture) connect(t *testing.T, connID string, user *domain.User, bind bool) (*Session, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	s, err := f.d.Connect(connID, user, sink)
	require.NoError(t, err)
	if bind {
		f.d.Handle(context.Background(), s, frame(t, CmdJoinUserGroup, "", userRef{}))
		require.Len(t, sink.events(EvtAck), 1)
		sink.reset()
	}
	return s, sink
}

func frame(t *testing.T, typ, requestID string, payload any) []byte {
	t.Helper()
	f := map[string]any{"type": typ}
	if requestID != "" {
		f["request_id"] = requestID
	}
	if payload != nil {
		f["payload"] = payload
	}
	data, err := json.Marshal(f)
	require.NoError(t, err)
	return data
}

var (
	alice = &domain.User{ID: 1, Username: "alice", Name: "Alice Silva"}
	bob   = &domain.User{ID: 2, Username: "bob", Name: "Bob Santos"}
	eve   = &domain.User{ID: 3, Username: "eve"}
)

func TestDispatcher_JoinUserGroup(t *testing.T) {
	f := newDispatcherFixture(t, DispatcherConfig{})
	ctx := context.Background()

	s, sink := f.connect(t, "c1", alice, false)

	f.d.Handle(ctx, s, frame(t, CmdJoinUserGroup, "r1", userRef{UserID: bob.ID}))
	errs := sink.events(EvtError)
	require.Len(t, errs, 1)
	assert.Equal(t, "r1", errs[0].RequestID)
	assert.Equal(t, "not authorized", payloadOf[ErrorPayload](t, errs[0]).Message)
	_, bound := f.registry.UserOf("c1")
	assert.False(t, bound)

	f.d.Handle(ctx, s, frame(t, CmdJoinUserGroup, "r2", userRef{UserID: alice.ID}))
	acks := sink.events(EvtAck)
	require.Len(t, acks, 1)
	assert.Equal(t, "r2", acks[0].RequestID)
	assert.True(t, f.presence.IsOnline(alice.ID))
	assert.Equal(t, []statusCall{{alice.ID, true}}, f.store.snapshot())

	f.d.Handle(ctx, s, frame(t, CmdJoinUserGroup, "r3", nil))
	errs = sink.events(EvtError)
	require.Len(t, errs, 2)
	assert.Equal(t, ErrAlreadyBound.Error(), payloadOf[ErrorPayload](t, errs[1]).Message)
}

func TestDispatcher_UnboundCommandsRejected(t *testing.T) {
	f := newDispatcherFixture(t, DispatcherConfig{})
	s, sink := f.connect(t, "c1", alice, false)

	f.d.Handle(context.Background(), s, frame(t, CmdSendMessage, "r1", map[string]any{"chat_id": 1, "content": "hi"}))

	errs := sink.events(EvtError)
	require.Len(t, errs, 1)
	p := payloadOf[ErrorPayload](t, errs[0])
	assert.Equal(t, CmdSendMessage, p.Command)
	assert.Equal(t, errNotBound.Error(), p.Message)
	f.chats.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_MalformedFrames(t *testing.T) {
	f := newDispatcherFixture(t, DispatcherConfig{})
	ctx := context.Background()
	s, sink := f.connect(t, "c1", alice, true)

	f.d.Handle(ctx, s, []byte("{not json"))
	f.d.Handle(ctx, s, frame(t, "Teleport", "", nil))
	f.d.Handle(ctx, s, frame(t, CmdJoinChat, "", chatRef{}))

	assert.Len(t, sink.events(EvtError), 3)
	assert.Empty(t, sink.events(EvtAck))
}

func TestDispatcher_SendMessageDeniedStaysPrivate(t *testing.T) {
	f := newDispatcherFixture(t, DispatcherConfig{})
	ctx := context.Background()

	member, memberSink := f.connect(t, "member", alice, true)
	intruder, intruderSink := f.connect(t, "intruder", eve, true)
	f.d.Handle(ctx, member, frame(t, CmdJoinChat, "", chatRef{ChatID: 10}))
	// Joining a room is not checked; the write is.
	f.d.Handle(ctx, intruder, frame(t, CmdJoinChat, "", chatRef{ChatID: 10}))
	memberSink.reset()
	intruderSink.reset()

	f.chats.On("SendMessage", mock.Anything, mock.MatchedBy(func(in service.SendMessageInput) bool {
		return in.ChatID == 10 && in.Content == "let me in"
	}), eve.ID).Return(nil, domain.ErrNotAuthorized)

	f.d.Handle(ctx, intruder, frame(t, CmdSendMessage, "r9", map[string]any{"chat_id": 10, "content": "let me in"}))

	errs := intruderSink.events(EvtError)
	require.Len(t, errs, 1)
	assert.Equal(t, "r9", errs[0].RequestID)
	assert.Equal(t, "not authorized", payloadOf[ErrorPayload](t, errs[0]).Message)
	assert.Empty(t, intruderSink.events(EvtReceiveMessage))
	assert.Empty(t, memberSink.events(EvtReceiveMessage))
	assert.Empty(t, memberSink.events(EvtError))
	assert.Empty(t, f.publisher.events)
	f.chats.AssertExpectations(t)
}

func TestDispatcher_SendMessageFansOut(t *testing.T) {
	f := newDispatcherFixture(t, DispatcherConfig{})
	ctx := context.Background()

	sender, senderSink := f.connect(t, "a1", alice, true)
	_, inboxSink := f.connect(t, "b1", bob, true)
	watcher, watcherSink := f.connect(t, "b2", bob, true)
	f.d.Handle(ctx, sender, frame(t, CmdJoinChat, "", chatRef{ChatID: 10}))
	f.d.Handle(ctx, watcher, frame(t, CmdJoinChat, "", chatRef{ChatID: 10}))
	f.d.Handle(ctx, sender, frame(t, CmdStartTyping, "", chatRef{ChatID: 10}))
	senderSink.reset()
	inboxSink.reset()
	watcherSink.reset()

	sent := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := &service.MessageView{ID: 100, ChatID: 10, Content: "hello", Type: domain.MessageText, SenderID: alice.ID, SentAt: sent}
	f.chats.On("SendMessage", mock.Anything, mock.Anything, alice.ID).Return(msg, nil)
	f.chats.On("ParticipantIDs", mock.Anything, int64(10)).Return([]int64{alice.ID, bob.ID}, nil)
	f.chats.On("GetChat", mock.Anything, int64(10), alice.ID).Return(&service.ChatView{ID: 10, Name: "Bob Santos"}, nil)
	f.chats.On("GetChat", mock.Anything, int64(10), bob.ID).Return(&service.ChatView{ID: 10, Name: "Alice Silva", UnreadCount: 1}, nil)

	f.d.Handle(ctx, sender, frame(t, CmdSendMessage, "r1", map[string]any{"chat_id": 10, "content": "hello"}))

	for name, sink := range map[string]*fakeSink{"sender": senderSink, "watcher": watcherSink} {
		got := sink.events(EvtReceiveMessage)
		require.Len(t, got, 1, name)
		assert.Equal(t, int64(100), payloadOf[service.MessageView](t, got[0]).ID)
	}
	assert.Empty(t, inboxSink.events(EvtReceiveMessage))

	updated := inboxSink.events(EvtChatUpdated)
	require.Len(t, updated, 1)
	view := payloadOf[service.ChatView](t, updated[0])
	assert.Equal(t, "Alice Silva", view.Name)
	assert.Equal(t, 1, view.UnreadCount)
	assert.Len(t, watcherSink.events(EvtChatUpdated), 1)
	assert.Equal(t, "Bob Santos", payloadOf[service.ChatView](t, senderSink.events(EvtChatUpdated)[0]).Name)

	acks := senderSink.events(EvtAck)
	require.Len(t, acks, 1)
	assert.Equal(t, "r1", acks[0].RequestID)

	// Sending clears the sender's typing indicator.
	_, typing := f.typing.Typing("a1")
	assert.False(t, typing)
	stops := watcherSink.events(EvtUserTyping)
	require.Len(t, stops, 1)
	assert.False(t, payloadOf[TypingPayload](t, stops[0]).IsTyping)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, events.MessageSent{MessageID: 100, ChatID: 10, SenderID: alice.ID, Type: "text", SentAt: sent}, f.publisher.events[0])
	f.chats.AssertExpectations(t)
}

func TestDispatcher_MarkRead(t *testing.T) {
	f := newDispatcherFixture(t, DispatcherConfig{})
	ctx := context.Background()

	reader, readerSink := f.connect(t, "b1", bob, true)
	author, authorSink := f.connect(t, "a1", alice, true)
	f.d.Handle(ctx, reader, frame(t, CmdJoinChat, "", chatRef{ChatID: 10}))
	f.d.Handle(ctx, author, frame(t, CmdJoinChat, "", chatRef{ChatID: 10}))
	readerSink.reset()
	authorSink.reset()

	f.chats.On("MarkRead", mock.Anything, int64(10), bob.ID).Return(int64(3), nil)
	f.chats.On("GetChat", mock.Anything, int64(10), bob.ID).Return(&service.ChatView{ID: 10}, nil)

	f.d.Handle(ctx, reader, frame(t, CmdMarkMessagesAsRead, "r1", chatRef{ChatID: 10}))

	reads := authorSink.events(EvtMessagesRead)
	require.Len(t, reads, 1)
	assert.Equal(t, MessagesReadPayload{ChatID: 10, UserID: bob.ID, Count: 3}, payloadOf[MessagesReadPayload](t, reads[0]))
	assert.Empty(t, readerSink.events(EvtMessagesRead))

	require.Len(t, readerSink.events(EvtChatUpdated), 1)
	assert.Empty(t, authorSink.events(EvtChatUpdated))

	acks := readerSink.events(EvtAck)
	require.Len(t, acks, 1)
	assert.Equal(t, int64(3), payloadOf[AckPayload](t, acks[0]).Count)
}

func TestDispatcher_EditMessage(t *testing.T) {
	f := newDispatcherFixture(t, DispatcherConfig{})
	ctx := context.Background()

	editor, editorSink := f.connect(t, "a1", alice, true)
	f.d.Handle(ctx, editor, frame(t, CmdJoinChat, "", chatRef{ChatID: 10}))
	editorSink.reset()

	f.chats.On("EditMessage", mock.Anything, int64(5), "fixed", alice.ID).
		Return(&service.MessageView{ID: 5, ChatID: 10, Content: "fixed", IsEdited: true}, nil)
	f.chats.On("EditMessage", mock.Anything, int64(6), "nope", alice.ID).
		Return(nil, domain.ErrNotAuthorized)

	f.d.Handle(ctx, editor, frame(t, CmdEditMessage, "", editMessagePayload{MessageID: 5, Content: "fixed"}))
	f.d.Handle(ctx, editor, frame(t, CmdEditMessage, "", editMessagePayload{MessageID: 6, Content: "nope"}))

	edited := editorSink.events(EvtMessageEdited)
	require.Len(t, edited, 1)
	assert.True(t, payloadOf[service.MessageView](t, edited[0]).IsEdited)
	assert.Len(t, editorSink.events(EvtError), 1)
}

func TestDispatcher_RateLimit(t *testing.T) {
	f := newDispatcherFixture(t, DispatcherConfig{RateLimit: 0.001, RateBurst: 2})
	ctx := context.Background()
	s, sink := f.connect(t, "c1", alice, true)

	f.d.Handle(ctx, s, frame(t, CmdJoinChat, "", chatRef{ChatID: 1}))
	f.d.Handle(ctx, s, frame(t, CmdJoinChat, "", chatRef{ChatID: 2}))

	errs := sink.events(EvtError)
	require.Len(t, errs, 1)
	assert.Equal(t, errRateLimited.Error(), payloadOf[ErrorPayload](t, errs[0]).Message)
	assert.Len(t, sink.events(EvtAck), 1)
}

func TestDispatcher_DisconnectClearsState(t *testing.T) {
	f := newDispatcherFixture(t, DispatcherConfig{})
	ctx := context.Background()

	typist, _ := f.connect(t, "a1", alice, true)
	watcher, watcherSink := f.connect(t, "b1", bob, true)
	f.d.Handle(ctx, typist, frame(t, CmdJoinChat, "", chatRef{ChatID: 10}))
	f.d.Handle(ctx, watcher, frame(t, CmdJoinChat, "", chatRef{ChatID: 10}))
	f.d.Handle(ctx, typist, frame(t, CmdStartTyping, "", chatRef{ChatID: 10}))
	watcherSink.reset()

	f.d.Disconnect(ctx, typist)

	stops := watcherSink.events(EvtUserTyping)
	require.Len(t, stops, 1)
	assert.False(t, payloadOf[TypingPayload](t, stops[0]).IsTyping)

	status := watcherSink.events(EvtUserOnlineStatusChanged)
	require.Len(t, status, 1)
	assert.Equal(t, alice.ID, payloadOf[PresencePayload](t, status[0]).UserID)
	assert.False(t, f.presence.IsOnline(alice.ID))
	assert.True(t, f.presence.IsOnline(bob.ID))
	assert.False(t, f.registry.InGroup("a1", RoomGroup(10)))
}

type stalledPublisher struct {
	done chan error
}

func (p *stalledPublisher) PublishMessageSent(ctx context.Context, _ events.MessageSent) error {
	<-ctx.Done()
	p.done <- ctx.Err()
	return ctx.Err()
}

func (p *stalledPublisher) Close() error { return nil }

func TestDispatcher_SendMessagePublishIsBounded(t *testing.T) {
	f := newDispatcherFixture(t, DispatcherConfig{})
	pub := &stalledPublisher{done: make(chan error, 1)}
	f.d = NewDispatcher(f.registry, f.presence, f.typing, f.chats, pub, nil, DispatcherConfig{PublishTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	sender, senderSink := f.connect(t, "a1", alice, true)
	msg := &service.MessageView{ID: 7, ChatID: 10, Content: "hi", Type: domain.MessageText, SenderID: alice.ID}
	f.chats.On("SendMessage", mock.Anything, mock.Anything, alice.ID).Return(msg, nil)
	f.chats.On("ParticipantIDs", mock.Anything, int64(10)).Return([]int64{alice.ID}, nil)
	f.chats.On("GetChat", mock.Anything, int64(10), alice.ID).Return(&service.ChatView{ID: 10}, nil)

	data := frame(t, CmdSendMessage, "r1", map[string]any{"chat_id": 10, "content": "hi"})
	returned := make(chan struct{})
	go func() {
		f.d.Handle(ctx, sender, data)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("send blocked on the event publisher")
	}
	assert.ErrorIs(t, <-pub.done, context.DeadlineExceeded)
	require.Len(t, senderSink.events(EvtAck), 1)
	assert.Empty(t, senderSink.events(EvtError))

	// Later frames on the same connection are still served.
	f.d.Handle(ctx, sender, frame(t, CmdStartTyping, "", chatRef{ChatID: 10}))
	_, typing := f.typing.Typing("a1")
	assert.True(t, typing)
}
