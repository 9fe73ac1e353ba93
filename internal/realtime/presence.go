package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/metrics"
)

const defaultPresenceTTL = 45 * time.Second

// PresenceConfig configures a PresenceRegistry.
type PresenceConfig struct {
	Hub   *Hub
	TTL   time.Duration
	Clock func() time.Time
}

// PresenceRegistry tracks which users are online. A user stays online while
// heartbeats keep arriving; an entry older than the TTL is evicted by Sweep.
type PresenceRegistry struct {
	mu       sync.Mutex
	hub      *Hub
	ttl      time.Duration
	clock    func() time.Time
	lastSeen map[string]time.Time
}

// NewPresenceRegistry constructs an empty registry.
func NewPresenceRegistry(cfg PresenceConfig) *PresenceRegistry {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultPresenceTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &PresenceRegistry{
		hub:      cfg.Hub,
		ttl:      ttl,
		clock:    clock,
		lastSeen: make(map[string]time.Time),
	}
}

// Heartbeat marks userID online and reports whether it just joined.
func (r *PresenceRegistry) Heartbeat(userID string) bool {
	if userID == "" {
		return false
	}
	r.mu.Lock()
	_, known := r.lastSeen[userID]
	r.lastSeen[userID] = r.clock()
	online := r.onlineLocked()
	r.mu.Unlock()

	if !known {
		r.publish(PresenceDiff{Event: PresenceJoin, Joins: []string{userID}, Online: online})
	}
	return !known
}

// Leave marks userID offline right away.
func (r *PresenceRegistry) Leave(userID string) {
	r.mu.Lock()
	_, known := r.lastSeen[userID]
	delete(r.lastSeen, userID)
	online := r.onlineLocked()
	r.mu.Unlock()

	if known {
		r.publish(PresenceDiff{Event: PresenceLeave, Leaves: []string{userID}, Online: online})
	}
}

// Online returns the ids currently online, sorted.
func (r *PresenceRegistry) Online() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onlineLocked()
}

// IsOnline reports whether userID is online.
func (r *PresenceRegistry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.lastSeen[userID]
	return ok
}

// Sweep evicts entries whose last heartbeat is older than the TTL and returns
// the evicted ids.
func (r *PresenceRegistry) Sweep() []string {
	now := r.clock()
	r.mu.Lock()
	var evicted []string
	for userID, seen := range r.lastSeen {
		if now.Sub(seen) > r.ttl {
			evicted = append(evicted, userID)
			delete(r.lastSeen, userID)
		}
	}
	online := r.onlineLocked()
	r.mu.Unlock()

	if len(evicted) > 0 {
		sort.Strings(evicted)
		r.publish(PresenceDiff{Event: PresenceLeave, Leaves: evicted, Online: online})
	}
	return evicted
}

// Sync publishes the full online list.
func (r *PresenceRegistry) Sync() {
	r.publish(PresenceDiff{Event: PresenceSync, Online: r.Online()})
}

// Run sweeps every interval and publishes a sync after each sweep until ctx
// is done.
func (r *PresenceRegistry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
			r.Sync()
		}
	}
}

func (r *PresenceRegistry) onlineLocked() []string {
	online := make([]string, 0, len(r.lastSeen))
	for userID := range r.lastSeen {
		online = append(online, userID)
	}
	sort.Strings(online)
	metrics.PresenceOnline.Set(float64(len(online)))
	return online
}

func (r *PresenceRegistry) publish(diff PresenceDiff) {
	if r.hub == nil {
		return
	}
	r.hub.Publish(Event{
		Kind:     KindPresence,
		Topic:    PresenceTopic,
		Presence: &diff,
	})
}
