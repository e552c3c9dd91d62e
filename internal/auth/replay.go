package auth

import (
	"sync"
	"time"
)

// replayGuard remembers nonces until they expire.
type replayGuard struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	ttl    time.Duration
	swept  time.Time
	period time.Duration
}

func newReplayGuard(ttl time.Duration) *replayGuard {
	return &replayGuard{seen: map[string]time.Time{}, ttl: ttl, period: ttl / 4}
}

func (g *replayGuard) markIfNew(nonce string, expiresAt time.Time) bool {
	if nonce == "" {
		return false
	}
	now := time.Now().UTC()
	g.mu.Lock()
	defer g.mu.Unlock()
	if now.Sub(g.swept) >= g.period {
		for n, exp := range g.seen {
			if !exp.After(now) {
				delete(g.seen, n)
			}
		}
		g.swept = now
	}
	if exp, ok := g.seen[nonce]; ok && exp.After(now) {
		return false
	}
	if expiresAt.IsZero() {
		expiresAt = now.Add(g.ttl)
	}
	g.seen[nonce] = expiresAt
	return true
}

func (g *replayGuard) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
