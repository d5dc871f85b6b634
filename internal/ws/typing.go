package ws

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatcore/internal/metrics"
)

// TypingInfo is the typing state of one connection.
type TypingInfo struct {
	ChatID    int64
	UserID    int64
	UserName  string
	StartedAt time.Time
}

// TypingTracker holds per-connection typing state. Every transition back to
// idle goes through a delete on the map, and only the caller that performed
// the delete broadcasts the stop.
type TypingTracker struct {
	registry *Registry
	timeout  time.Duration
	log      *zap.Logger
	now      func() time.Time

	entries sync.Map // connID -> *TypingInfo
}

func NewTypingTracker(registry *Registry, timeout time.Duration, log *zap.Logger) *TypingTracker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TypingTracker{
		registry: registry,
		timeout:  timeout,
		log:      log,
		now:      time.Now,
	}
}

// Start records connID as typing in chatID. A previous entry for another chat
// is replaced and that chat is told the user stopped.
func (t *TypingTracker) Start(connID string, chatID, userID int64, userName string) {
	info := &TypingInfo{ChatID: chatID, UserID: userID, UserName: userName, StartedAt: t.now()}
	prev, loaded := t.entries.Swap(connID, info)
	if loaded {
		if old := prev.(*TypingInfo); old.ChatID != chatID {
			t.broadcast(connID, old, false)
		}
	}
	t.broadcast(connID, info, true)
}

// Stop clears connID's typing state if it is typing in chatID.
func (t *TypingTracker) Stop(connID string, chatID int64) {
	v, ok := t.entries.Load(connID)
	if !ok {
		return
	}
	info := v.(*TypingInfo)
	if info.ChatID != chatID {
		return
	}
	if t.entries.CompareAndDelete(connID, info) {
		t.broadcast(connID, info, false)
	}
}

// Clear drops connID's typing state regardless of chat. Used on disconnect.
func (t *TypingTracker) Clear(connID string) {
	if v, ok := t.entries.LoadAndDelete(connID); ok {
		t.broadcast(connID, v.(*TypingInfo), false)
	}
}

// Sweep clears every entry older than the timeout and returns how many it cleared.
func (t *TypingTracker) Sweep() int {
	cutoff := t.now().Add(-t.timeout)
	n := 0
	t.entries.Range(func(k, v any) bool {
		info := v.(*TypingInfo)
		if info.StartedAt.After(cutoff) {
			return true
		}
		connID := k.(string)
		if t.entries.CompareAndDelete(connID, info) {
			n++
			metrics.TypingExpired.Inc()
			t.broadcast(connID, info, false)
		}
		return true
	})
	return n
}

// Run sweeps every interval until ctx is done.
func (t *TypingTracker) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := t.Sweep(); n > 0 {
				t.log.Debug("typing sweep", zap.Int("expired", n))
			}
		}
	}
}

// Typing returns connID's current typing state.
func (t *TypingTracker) Typing(connID string) (TypingInfo, bool) {
	v, ok := t.entries.Load(connID)
	if !ok {
		return TypingInfo{}, false
	}
	return *v.(*TypingInfo), true
}

func (t *TypingTracker) broadcast(connID string, info *TypingInfo, typing bool) {
	t.registry.Broadcast(RoomGroup(info.ChatID), Event{
		Type: EvtUserTyping,
		Payload: TypingPayload{
			ChatID:   info.ChatID,
			UserID:   info.UserID,
			UserName: info.UserName,
			IsTyping: typing,
		},
	}, connID)
}
