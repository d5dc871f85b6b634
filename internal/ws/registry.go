package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"chatcore/internal/metrics"
)

var (
	ErrAlreadyBound   = errors.New("connection already bound to a user")
	ErrUnknownConn    = errors.New("unknown connection")
	ErrDuplicateConn  = errors.New("connection id already registered")
	ErrRegistryClosed = errors.New("registry closed")
)

// Sink delivers encoded frames to one transport connection. Send must not
// block; it reports false when the frame was dropped.
type Sink interface {
	Send(data []byte) bool
	Close()
}

// RoomGroup names the broadcast group of a chat.
func RoomGroup(chatID int64) string { return fmt.Sprintf("chat:%d", chatID) }

// UserGroup names the personal channel of a user.
func UserGroup(userID int64) string { return fmt.Sprintf("user:%d", userID) }

type connEntry struct {
	id   string
	sink Sink

	mu     sync.Mutex
	userID int64
	groups map[string]struct{}
	closed bool
}

// memberSet is one group or one user's connection set. A set that became
// empty is marked dead and removed from its map; writers that raced with the
// removal see dead and retry against a fresh set.
type memberSet struct {
	mu      sync.Mutex
	members map[string]*connEntry
	dead    bool
}

// Registry tracks live connections, the user each is bound to and the groups
// each has joined. All maps are keyed per connection, user or group so that
// unrelated connections never contend on a shared lock.
type Registry struct {
	log    *zap.Logger
	conns  sync.Map // connID -> *connEntry
	users  sync.Map // userID -> *memberSet
	groups sync.Map // group name -> *memberSet
	closed atomic.Bool
}

func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{log: log}
}

// Attach registers a transport connection. The connection is unbound until Bind.
func (r *Registry) Attach(connID string, sink Sink) error {
	if r.closed.Load() {
		return ErrRegistryClosed
	}
	e := &connEntry{id: connID, sink: sink, groups: make(map[string]struct{})}
	if _, loaded := r.conns.LoadOrStore(connID, e); loaded {
		return ErrDuplicateConn
	}
	metrics.Connections.Inc()
	return nil
}

// Bind associates connID with userID and joins the user's personal channel.
// first reports whether this is the user's only connection.
func (r *Registry) Bind(connID string, userID int64) (first bool, err error) {
	e, err := r.entry(connID)
	if err != nil {
		return false, err
	}

	group := UserGroup(userID)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false, ErrUnknownConn
	}
	if e.userID != 0 {
		e.mu.Unlock()
		return false, ErrAlreadyBound
	}
	e.userID = userID
	e.groups[group] = struct{}{}
	e.mu.Unlock()

	first = addMember(&r.users, userID, e)
	addMember(&r.groups, group, e)
	return first, nil
}

func (r *Registry) JoinRoom(connID string, chatID int64) error {
	return r.join(connID, RoomGroup(chatID))
}

func (r *Registry) LeaveRoom(connID string, chatID int64) error {
	e, err := r.entry(connID)
	if err != nil {
		return err
	}
	group := RoomGroup(chatID)
	e.mu.Lock()
	delete(e.groups, group)
	e.mu.Unlock()
	removeMember(&r.groups, group, connID)
	return nil
}

func (r *Registry) join(connID, group string) error {
	e, err := r.entry(connID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrUnknownConn
	}
	e.groups[group] = struct{}{}
	e.mu.Unlock()
	addMember(&r.groups, group, e)
	return nil
}

// Unbind tears down every piece of state held for connID. It returns the user
// the connection was bound to (0 if never bound) and whether that was the
// user's last connection.
func (r *Registry) Unbind(connID string) (userID int64, last bool) {
	v, ok := r.conns.LoadAndDelete(connID)
	if !ok {
		return 0, false
	}
	metrics.Connections.Dec()

	e := v.(*connEntry)
	e.mu.Lock()
	e.closed = true
	userID = e.userID
	groups := make([]string, 0, len(e.groups))
	for g := range e.groups {
		groups = append(groups, g)
	}
	e.groups = nil
	e.mu.Unlock()

	for _, g := range groups {
		removeMember(&r.groups, g, connID)
	}
	if userID != 0 {
		last = removeMember(&r.users, userID, connID)
	}
	return userID, last
}

// UserOf returns the user bound to connID.
func (r *Registry) UserOf(connID string) (int64, bool) {
	e, err := r.entry(connID)
	if err != nil {
		return 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.userID, e.userID != 0
}

// ConnectionCount returns how many connections are bound to userID.
func (r *Registry) ConnectionCount(userID int64) int {
	v, ok := r.users.Load(userID)
	if !ok {
		return 0
	}
	set := v.(*memberSet)
	set.mu.Lock()
	defer set.mu.Unlock()
	return len(set.members)
}

// InGroup reports whether connID has joined group.
func (r *Registry) InGroup(connID, group string) bool {
	e, err := r.entry(connID)
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.groups[group]
	return ok
}

// Broadcast sends ev to every connection in group except the listed ones.
func (r *Registry) Broadcast(group string, ev Event, except ...string) {
	v, ok := r.groups.Load(group)
	if !ok {
		return
	}
	data, err := r.encode(ev)
	if err != nil {
		return
	}
	for _, e := range v.(*memberSet).snapshot() {
		if lo.Contains(except, e.id) {
			continue
		}
		r.deliver(e, data)
	}
}

// BroadcastAll sends ev to every attached connection.
func (r *Registry) BroadcastAll(ev Event) {
	data, err := r.encode(ev)
	if err != nil {
		return
	}
	r.conns.Range(func(_, v any) bool {
		r.deliver(v.(*connEntry), data)
		return true
	})
}

// SendTo sends ev to a single connection.
func (r *Registry) SendTo(connID string, ev Event) {
	e, err := r.entry(connID)
	if err != nil {
		return
	}
	data, err := r.encode(ev)
	if err != nil {
		return
	}
	r.deliver(e, data)
}

// Close stops accepting connections and closes every attached sink. Each
// transport then unbinds itself as its read loop ends.
func (r *Registry) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	r.conns.Range(func(_, v any) bool {
		v.(*connEntry).sink.Close()
		return true
	})
}

func (r *Registry) entry(connID string) (*connEntry, error) {
	v, ok := r.conns.Load(connID)
	if !ok {
		return nil, ErrUnknownConn
	}
	return v.(*connEntry), nil
}

func (r *Registry) encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		r.log.Error("encode event", zap.String("type", ev.Type), zap.Error(err))
	}
	return data, err
}

func (r *Registry) deliver(e *connEntry, data []byte) {
	if !e.sink.Send(data) {
		metrics.DroppedFrames.Inc()
		r.log.Debug("frame dropped", zap.String("conn_id", e.id))
	}
}

func addMember[K comparable](m *sync.Map, key K, e *connEntry) (first bool) {
	for {
		v, _ := m.LoadOrStore(key, &memberSet{members: make(map[string]*connEntry)})
		set := v.(*memberSet)
		set.mu.Lock()
		if set.dead {
			set.mu.Unlock()
			continue
		}
		first = len(set.members) == 0
		set.members[e.id] = e
		set.mu.Unlock()
		return first
	}
}

func removeMember[K comparable](m *sync.Map, key K, connID string) (last bool) {
	v, ok := m.Load(key)
	if !ok {
		return false
	}
	set := v.(*memberSet)
	set.mu.Lock()
	defer set.mu.Unlock()
	if _, ok := set.members[connID]; !ok {
		return false
	}
	delete(set.members, connID)
	if len(set.members) > 0 {
		return false
	}
	set.dead = true
	m.CompareAndDelete(key, set)
	return true
}

func (s *memberSet) snapshot() []*connEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*connEntry, 0, len(s.members))
	for _, e := range s.members {
		out = append(out, e)
	}
	return out
}
