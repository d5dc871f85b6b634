package ws

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatcore/internal/metrics"
)

// StatusUpdater persists a user's online flag and last-seen time.
type StatusUpdater interface {
	SetOnlineStatus(ctx context.Context, userID int64, isOnline bool) error
}

// PresenceMirror optionally publishes presence outside the process.
type PresenceMirror interface {
	SetPresence(ctx context.Context, userID int64, online bool, at time.Time) error
}

type userPresence struct {
	mu     sync.Mutex
	online bool
}

// Presence turns registry population changes into online/offline transitions.
// Transitions for one user are serialized and each re-checks the live
// connection count, so a bind racing an unbind settles on the right state.
type Presence struct {
	registry *Registry
	store    StatusUpdater
	mirror   PresenceMirror
	log      *zap.Logger
	now      func() time.Time

	users sync.Map // userID -> *userPresence
}

func NewPresence(registry *Registry, store StatusUpdater, mirror PresenceMirror, log *zap.Logger) *Presence {
	if log == nil {
		log = zap.NewNop()
	}
	return &Presence{
		registry: registry,
		store:    store,
		mirror:   mirror,
		log:      log,
		now:      time.Now,
	}
}

// Connected is called after a successful Bind.
func (p *Presence) Connected(ctx context.Context, userID int64) {
	p.settle(ctx, userID)
}

// Disconnected is called after Unbind reported the user's last connection.
func (p *Presence) Disconnected(ctx context.Context, userID int64) {
	p.settle(ctx, userID)
}

func (p *Presence) settle(ctx context.Context, userID int64) {
	v, _ := p.users.LoadOrStore(userID, &userPresence{})
	up := v.(*userPresence)

	up.mu.Lock()
	defer up.mu.Unlock()

	online := p.registry.ConnectionCount(userID) > 0
	if online == up.online {
		return
	}
	up.online = online

	now := p.now().UTC()
	if err := p.store.SetOnlineStatus(ctx, userID, online); err != nil {
		p.log.Warn("persist presence", zap.Int64("user_id", userID), zap.Bool("online", online), zap.Error(err))
	}
	if p.mirror != nil {
		if err := p.mirror.SetPresence(ctx, userID, online, now); err != nil {
			p.log.Warn("mirror presence", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	if online {
		metrics.OnlineUsers.Inc()
	} else {
		metrics.OnlineUsers.Dec()
	}

	p.log.Debug("presence changed", zap.Int64("user_id", userID), zap.Bool("online", online))
	p.registry.BroadcastAll(Event{
		Type:    EvtUserOnlineStatusChanged,
		Payload: PresencePayload{UserID: userID, IsOnline: online, LastSeenAt: now},
	})
}

// IsOnline reports the last settled state for userID.
func (p *Presence) IsOnline(userID int64) bool {
	v, ok := p.users.Load(userID)
	if !ok {
		return false
	}
	up := v.(*userPresence)
	up.mu.Lock()
	defer up.mu.Unlock()
	return up.online
}
