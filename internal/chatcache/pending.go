package chatcache

import (
	"strconv"
	"sync"
)

// PendingLog tracks optimistic commands awaiting a server answer. Every
// begun command gets its own ticket, so rollback inverts exactly that
// command even when several target the same row.
type PendingLog struct {
	cache *Cache

	mu      sync.Mutex
	seq     uint64
	entries map[string]Command
}

// NewPendingLog binds a log to cache.
func NewPendingLog(cache *Cache) *PendingLog {
	return &PendingLog{cache: cache, entries: make(map[string]Command)}
}

// Begin applies command and returns the ticket to confirm or roll it back
// with. label only makes tickets readable in logs.
func (l *PendingLog) Begin(label string, command Command) string {
	l.mu.Lock()
	l.seq++
	ticket := label + "#" + strconv.FormatUint(l.seq, 10)
	l.entries[ticket] = command
	l.mu.Unlock()
	command.Apply(l.cache)
	return ticket
}

// Confirm forgets the command under ticket and keeps its effect.
func (l *PendingLog) Confirm(ticket string) {
	l.mu.Lock()
	delete(l.entries, ticket)
	l.mu.Unlock()
}

// Rollback inverts and forgets the command under ticket.
func (l *PendingLog) Rollback(ticket string) bool {
	l.mu.Lock()
	command, ok := l.entries[ticket]
	delete(l.entries, ticket)
	l.mu.Unlock()
	if !ok {
		return false
	}
	command.Invert(l.cache)
	return true
}

// Pending counts commands awaiting an answer.
func (l *PendingLog) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
