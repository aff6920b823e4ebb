package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fakhrymubarak/api-template/internal/config"
	"github.com/fakhrymubarak/api-template/internal/logging"
	"github.com/fakhrymubarak/api-template/internal/problem"
)

// visitor holds the rate limiter and last seen time for a specific client.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-client token bucket keyed by client IP.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	problems *problem.Writer

	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time
}

func NewRateLimiter(cfg config.RateLimiterConfig, problems *problem.Writer) *RateLimiter {
	ttl := cfg.CleanupTimeout
	if ttl <= 0 {
		ttl = 3 * time.Minute
	}
	return &RateLimiter{
		limit:    rate.Limit(cfg.Rate),
		burst:    cfg.Burst,
		ttl:      ttl,
		problems: problems,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// getLimiter returns the limiter for ip, creating one if it does not exist.
func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	v, exists := rl.visitors[ip]
	if !exists {
		limiter := rate.NewLimiter(rl.limit, rl.burst)
		rl.visitors[ip] = &visitor{limiter, rl.now()}
		return limiter
	}
	v.lastSeen = rl.now()
	return v.limiter
}

// Cleanup removes visitors idle for longer than the configured timeout.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, v := range rl.visitors {
		if rl.now().Sub(v.lastSeen) > rl.ttl {
			delete(rl.visitors, ip)
		}
	}
}

// Visitors returns the number of tracked clients.
func (rl *RateLimiter) Visitors() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

// StartCleanup evicts stale visitors every minute until ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.Cleanup()
			}
		}
	}()
}

// clientIP prefers the address resolved by the enrichment middleware.
func clientIP(r *http.Request) string {
	if info, ok := logging.RequestInfoFrom(r.Context()); ok && info.ClientIP != "" {
		return info.ClientIP
	}
	return remoteIP(r)
}

// remoteIP is the connection peer. ProxyHeaders rewrites RemoteAddr for
// trusted proxies, so forwarding headers are never read here.
func remoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// Middleware rejects clients over their budget with a 429 problem.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		limiter := rl.getLimiter(ip)
		if !limiter.Allow() {
			logging.FromContext(r.Context()).Warn("Rate limit exceeded", zap.String("client_ip", ip))
			retryAfter := time.Second
			if rl.limit > 0 {
				retryAfter = time.Duration(float64(time.Second) / float64(rl.limit))
			}
			w.Header().Set("Retry-After", strconv.Itoa(max(1, int(retryAfter.Seconds()))))
			d := problem.New(http.StatusTooManyRequests)
			d.Detail = "Rate limit exceeded. Try again later."
			rl.problems.Write(w, r, d)
			return
		}
		next.ServeHTTP(w, r)
	})
}
