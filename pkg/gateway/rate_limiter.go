package gateway

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/DeBrosOfficial/subchannel/pkg/errors"
)

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
	trusted []*net.IPNet
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter. ratePerMinute is the sustained rate;
// burst is the maximum number of requests that can be made in a short window.
// Clients inside a trusted CIDR are never limited; invalid CIDRs are skipped.
func NewRateLimiter(ratePerMinute, burst int, trustedCIDRs []string) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(float64(ratePerMinute) / 60.0),
		burst:   burst,
	}
	for _, cidr := range trustedCIDRs {
		if _, n, err := net.ParseCIDR(cidr); err == nil {
			rl.trusted = append(rl.trusted, n)
		}
	}
	return rl
}

// Allow reports whether a request from ip may proceed.
func (rl *RateLimiter) Allow(ip string) bool {
	if rl.isTrusted(ip) {
		return true
	}

	rl.mu.Lock()
	c, ok := rl.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = time.Now()
	rl.mu.Unlock()

	return c.limiter.Allow()
}

func (rl *RateLimiter) isTrusted(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range rl.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Cleanup removes clients not seen within maxAge.
func (rl *RateLimiter) Cleanup(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for ip, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// cleanupLoop runs Cleanup every interval until stop is closed.
func (rl *RateLimiter) cleanupLoop(stop <-chan struct{}, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			rl.Cleanup(maxAge)
		}
	}
}

// rateLimitMiddleware answers 429 when a client exceeds the rate limit.
func (g *Gateway) rateLimitMiddleware(next http.Handler) http.Handler {
	if g.rateLimiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.rateLimiter.Allow(getClientIP(r)) {
			w.Header().Set("Retry-After", "5")
			g.writeError(w, r, apperrors.ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}
