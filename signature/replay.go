package signature

import (
	"sync"
	"time"

	"github.com/ruteri/agentsec-relay/interfaces"
)

// ReplayKey identifies an envelope for replay detection.
func ReplayKey(env interfaces.Envelope) string {
	return string(env.Type) + "|" + env.Sender + "|" + env.ID
}

// ReplayGuard remembers consumed envelope keys until they fall out of the window.
type ReplayGuard struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	lastPrune time.Time
}

func NewReplayGuard() *ReplayGuard {
	return &ReplayGuard{seen: make(map[string]time.Time)}
}

// Consume records key and reports whether it was unseen within the window.
func (g *ReplayGuard) Consume(key string, now time.Time, window time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if now.Sub(g.lastPrune) > window {
		g.prune(now, window)
	}

	if at, ok := g.seen[key]; ok && now.Sub(at) <= 2*window {
		return false
	}
	g.seen[key] = now
	return true
}

// Entries that old can no longer pass the freshness check.
func (g *ReplayGuard) prune(now time.Time, window time.Duration) {
	for key, at := range g.seen {
		if now.Sub(at) > 2*window {
			delete(g.seen, key)
		}
	}
	g.lastPrune = now
}

// Len returns the number of remembered keys.
func (g *ReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
