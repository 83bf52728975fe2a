package httpserver

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// sweepInterval is how often idle client buckets are looked for
const sweepInterval = time.Minute

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter gives every client address its own token bucket. A bucket
// idle long enough to have refilled completely is dropped by Sweep, since a
// fresh bucket would behave the same.
type IPRateLimiter struct {
	clock   quartz.Clock
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu      sync.Mutex
	clients map[string]*clientBucket
}

// NewIPRateLimiter allows each client limit requests per second with bursts
// of up to burst
func NewIPRateLimiter(limit rate.Limit, burst int, clock quartz.Clock) *IPRateLimiter {
	return &IPRateLimiter{
		clock:   clock,
		limit:   limit,
		burst:   burst,
		idleTTL: max(refillTime(limit, burst), sweepInterval),
		clients: make(map[string]*clientBucket),
	}
}

// refillTime is how long an empty bucket takes to fill up again
func refillTime(limit rate.Limit, burst int) time.Duration {
	if limit == rate.Inf || limit <= 0 {
		return 0
	}
	return time.Duration(float64(burst) / float64(limit) * float64(time.Second))
}

// Allow takes a token from the client's bucket
func (rl *IPRateLimiter) Allow(client string) bool {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.clients[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[client] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Sweep forgets clients idle for longer than a full refill and returns how
// many it removed
func (rl *IPRateLimiter) Sweep() int {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for client, b := range rl.clients {
		if now.Sub(b.lastSeen) >= rl.idleTTL {
			delete(rl.clients, client)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients
func (rl *IPRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Run sweeps idle clients until ctx is cancelled
func (rl *IPRateLimiter) Run(ctx context.Context) {
	ticker := rl.clock.NewTicker(sweepInterval, "rateLimiter")
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := rl.Sweep(); n > 0 {
				log.Debug().Int("removed", n).Int("clients", rl.Len()).Msg("rate limiter swept idle clients")
			}

		case <-ctx.Done():
			return
		}
	}
}

// Limit returns a middleware that rate limits requests by client address
func (rl *IPRateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP is the host part of RemoteAddr. That is the transport peer
// unless the router trusts proxy headers and RealIP rewrote it.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
