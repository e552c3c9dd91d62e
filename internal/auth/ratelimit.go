package auth

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/csai/cyborg-arviz-agent/internal/config"
	"github.com/csai/cyborg-arviz-agent/internal/metrics"
)

// idleBucketTTL is how long a per-client bucket survives without traffic.
const idleBucketTTL = 10 * time.Minute

type bucket struct {
	tokens float64
	last   time.Time
}

type RateLimiter struct {
	mu      sync.Mutex
	cfg     config.RateLimitConfig
	global  bucket
	clients map[string]bucket
	reg     *metrics.Registry
	now     func() time.Time
}

func NewRateLimiter(cfg config.RateLimitConfig, reg *metrics.Registry) *RateLimiter {
	now := time.Now().UTC()
	return &RateLimiter{
		cfg:     cfg,
		global:  bucket{tokens: float64(cfg.GlobalBurst), last: now},
		clients: map[string]bucket{},
		reg:     reg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if !rl.cfg.Enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r.RemoteAddr)) {
			if rl.reg != nil {
				rl.reg.IncRateLimited()
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"code":"throttled","message":"Rate limit exceeded.","details":null}}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for k, b := range rl.clients {
		if now.Sub(b.last) > idleBucketTTL {
			delete(rl.clients, k)
		}
	}
	if !take(&rl.global, rl.cfg.GlobalRPS, float64(rl.cfg.GlobalBurst), now) {
		return false
	}
	b, ok := rl.clients[ip]
	if !ok {
		b = bucket{tokens: float64(rl.cfg.PerIPBurst), last: now}
	}
	allowed := take(&b, rl.cfg.PerIPRPS, float64(rl.cfg.PerIPBurst), now)
	rl.clients[ip] = b
	return allowed
}

func take(b *bucket, ratePerSec, burst float64, now time.Time) bool {
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * ratePerSec
	}
	if b.tokens > burst {
		b.tokens = burst
	}
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}
