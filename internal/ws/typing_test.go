package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type typingFixture struct {
	registry *Registry
	tracker  *TypingTracker
	typist   *fakeSink
	watcher  *fakeSink
	clock    time.Time
}

func newTypingFixture(t *testing.T) *typingFixture {
	t.Helper()
	f := &typingFixture{
		registry: NewRegistry(nil),
		typist:   &fakeSink{},
		watcher:  &fakeSink{},
		clock:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.tracker = NewTypingTracker(f.registry, 10*time.Second, nil)
	f.tracker.now = func() time.Time { return f.clock }

	require.NoError(t, f.registry.Attach("typist", f.typist))
	require.NoError(t, f.registry.Attach("watcher", f.watcher))
	for _, id := range []string{"typist", "watcher"} {
		require.NoError(t, f.registry.JoinRoom(id, 1))
		require.NoError(t, f.registry.JoinRoom(id, 2))
	}
	return f
}

func TestTyping_StartStop(t *testing.T) {
	f := newTypingFixture(t)

	f.tracker.Start("typist", 1, 42, "Alice")
	evs := f.watcher.events(EvtUserTyping)
	require.Len(t, evs, 1)
	p := payloadOf[TypingPayload](t, evs[0])
	assert.Equal(t, TypingPayload{ChatID: 1, UserID: 42, UserName: "Alice", IsTyping: true}, p)
	assert.Empty(t, f.typist.events(EvtUserTyping))

	// Stop for another chat is a no-op.
	f.tracker.Stop("typist", 2)
	assert.Len(t, f.watcher.events(EvtUserTyping), 1)

	f.tracker.Stop("typist", 1)
	evs = f.watcher.events(EvtUserTyping)
	require.Len(t, evs, 2)
	assert.False(t, payloadOf[TypingPayload](t, evs[1]).IsTyping)

	f.tracker.Stop("typist", 1)
	assert.Len(t, f.watcher.events(EvtUserTyping), 2)
	_, ok := f.tracker.Typing("typist")
	assert.False(t, ok)
}

func TestTyping_SwitchChatStopsPrevious(t *testing.T) {
	f := newTypingFixture(t)

	f.tracker.Start("typist", 1, 42, "Alice")
	f.tracker.Start("typist", 2, 42, "Alice")

	evs := f.watcher.events(EvtUserTyping)
	require.Len(t, evs, 3)
	stop := payloadOf[TypingPayload](t, evs[1])
	assert.Equal(t, int64(1), stop.ChatID)
	assert.False(t, stop.IsTyping)
	start := payloadOf[TypingPayload](t, evs[2])
	assert.Equal(t, int64(2), start.ChatID)
	assert.True(t, start.IsTyping)

	info, ok := f.tracker.Typing("typist")
	require.True(t, ok)
	assert.Equal(t, int64(2), info.ChatID)
}

func TestTyping_RestartRefreshesTimestamp(t *testing.T) {
	f := newTypingFixture(t)

	f.tracker.Start("typist", 1, 42, "Alice")
	f.clock = f.clock.Add(8 * time.Second)
	f.tracker.Start("typist", 1, 42, "Alice")
	f.clock = f.clock.Add(8 * time.Second)

	assert.Zero(t, f.tracker.Sweep())
	_, ok := f.tracker.Typing("typist")
	assert.True(t, ok)
}

func TestTyping_SweepExpires(t *testing.T) {
	f := newTypingFixture(t)

	f.tracker.Start("typist", 1, 42, "Alice")
	f.clock = f.clock.Add(9 * time.Second)
	assert.Zero(t, f.tracker.Sweep())

	f.clock = f.clock.Add(time.Second)
	assert.Equal(t, 1, f.tracker.Sweep())

	evs := f.watcher.events(EvtUserTyping)
	require.Len(t, evs, 2)
	assert.False(t, payloadOf[TypingPayload](t, evs[1]).IsTyping)
	assert.Zero(t, f.tracker.Sweep())
}

func TestTyping_StopRacingSweepBroadcastsOnce(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newTypingFixture(t)
		f.tracker.Start("typist", 1, 42, "Alice")
		f.clock = f.clock.Add(time.Minute)
		f.watcher.reset()

		var wg sync.WaitGroup
		wg.Add(3)
		go func() { defer wg.Done(); f.tracker.Sweep() }()
		go func() { defer wg.Done(); f.tracker.Stop("typist", 1) }()
		go func() { defer wg.Done(); f.tracker.Clear("typist") }()
		wg.Wait()

		require.Len(t, f.watcher.events(EvtUserTyping), 1)
	}
}

func TestTyping_RunStopsWithContext(t *testing.T) {
	f := newTypingFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.tracker.Run(ctx, 5*time.Millisecond) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
