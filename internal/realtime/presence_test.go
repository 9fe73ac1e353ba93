package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func nextPresence(t *testing.T, subscription *Subscription) PresenceDiff {
	t.Helper()
	select {
	case event := <-subscription.C():
		require.Equal(t, KindPresence, event.Kind)
		require.NotNil(t, event.Presence)
		return *event.Presence
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected presence event")
		return PresenceDiff{}
	}
}

func TestPresenceHeartbeatJoinsOnce(t *testing.T) {
	hub := NewHub(HubConfig{})
	clock := &fakeClock{now: time.Unix(100, 0)}
	registry := NewPresenceRegistry(PresenceConfig{Hub: hub, TTL: 30 * time.Second, Clock: clock.Now})
	subscription := hub.Subscribe(context.Background(), PresenceTopic)
	defer subscription.Close()

	assert.True(t, registry.Heartbeat("user-b"))
	joined := nextPresence(t, subscription)
	assert.Equal(t, PresenceJoin, joined.Event)
	assert.Equal(t, []string{"user-b"}, joined.Joins)

	assert.True(t, registry.Heartbeat("user-a"))
	assert.Equal(t, []string{"user-a", "user-b"}, nextPresence(t, subscription).Online)

	assert.False(t, registry.Heartbeat("user-a"))
	assert.Len(t, subscription.C(), 0, "refreshing a heartbeat must not announce a join")
}

func TestPresenceSweepEvictsStaleEntries(t *testing.T) {
	hub := NewHub(HubConfig{})
	clock := &fakeClock{now: time.Unix(100, 0)}
	registry := NewPresenceRegistry(PresenceConfig{Hub: hub, TTL: 30 * time.Second, Clock: clock.Now})

	registry.Heartbeat("stale")
	clock.Advance(20 * time.Second)
	registry.Heartbeat("fresh")
	clock.Advance(15 * time.Second)

	subscription := hub.Subscribe(context.Background(), PresenceTopic)
	defer subscription.Close()

	evicted := registry.Sweep()
	assert.Equal(t, []string{"stale"}, evicted)
	left := nextPresence(t, subscription)
	assert.Equal(t, PresenceLeave, left.Event)
	assert.Equal(t, []string{"fresh"}, left.Online)
	assert.False(t, registry.IsOnline("stale"))
	assert.True(t, registry.IsOnline("fresh"))

	assert.Empty(t, registry.Sweep())
}

func TestPresenceLeaveAndSync(t *testing.T) {
	hub := NewHub(HubConfig{})
	registry := NewPresenceRegistry(PresenceConfig{Hub: hub})
	registry.Heartbeat("u1")
	registry.Heartbeat("u2")

	subscription := hub.Subscribe(context.Background(), PresenceTopic)
	defer subscription.Close()

	registry.Leave("u1")
	left := nextPresence(t, subscription)
	assert.Equal(t, []string{"u1"}, left.Leaves)

	registry.Leave("u1")
	registry.Sync()
	synced := nextPresence(t, subscription)
	assert.Equal(t, PresenceSync, synced.Event)
	assert.Equal(t, []string{"u2"}, synced.Online)
}

func TestPresenceRunStopsWithContext(t *testing.T) {
	registry := NewPresenceRegistry(PresenceConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		registry.Run(ctx, 10*time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return after cancellation")
	}
}
