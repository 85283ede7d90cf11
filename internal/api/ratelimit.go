package api

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/observability"
)

type RateLimiterConfig struct {
	RPM   int
	Burst int
	// IdleTTL drops limiters for clients not seen for this long.
	IdleTTL time.Duration
	Now     func() time.Time
}

// RateLimiter applies a token bucket per client. Authenticated callers are
// keyed by subject, others by remote IP.
type RateLimiter struct {
	limit   rate.Limit
	rpm     int
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastSweep time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.RPM <= 0 {
		cfg.RPM = 60
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RateLimiter{
		limit:   rate.Every(time.Minute / time.Duration(cfg.RPM)),
		rpm:     cfg.RPM,
		burst:   cfg.Burst,
		idleTTL: cfg.IdleTTL,
		now:     cfg.Now,
		clients: map[string]*clientLimiter{},
	}
}

func (l *RateLimiter) Allow(clientID string) bool {
	now := l.now()

	l.mu.Lock()
	l.sweepLocked(now)
	client, ok := l.clients[clientID]
	if !ok {
		client = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[clientID] = client
	}
	client.lastSeen = now
	l.mu.Unlock()

	return client.limiter.AllowN(now, 1)
}

func (l *RateLimiter) ActiveClients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientID(r)) {
			observability.IncrementRateLimited()
			w.Header().Set("Retry-After", strconv.Itoa(int((time.Minute/time.Duration(l.rpm)).Seconds())+1))
			writeError(r.Context(), w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded, try again later", true, map[string]any{
				"limit_rpm": l.rpm,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	l.lastSweep = now
	for id, client := range l.clients {
		if now.Sub(client.lastSeen) > l.idleTTL {
			delete(l.clients, id)
		}
	}
}

func clientID(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.Subject != "" {
		return "subject:" + identity.Subject
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		host = r.RemoteAddr
	}
	if host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("ip:%s", host)
}
