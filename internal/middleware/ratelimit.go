package middleware

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"bedsync/internal/common/logging"
)

// RateLimitConfig bounds inbound requests per client IP.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// Entries idle longer than CleanupPeriod are dropped.
	CleanupPeriod time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 5,
		BurstSize:         10,
		CleanupPeriod:     10 * time.Minute,
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// IPRateLimiter keeps one token bucket per client IP.
type IPRateLimiter struct {
	config RateLimitConfig

	mu          sync.Mutex
	limiters    map[string]*limiterEntry
	lastCleanup time.Time
}

func NewIPRateLimiter(config RateLimitConfig) *IPRateLimiter {
	if config.CleanupPeriod <= 0 {
		config.CleanupPeriod = 10 * time.Minute
	}
	return &IPRateLimiter{
		config:      config,
		limiters:    make(map[string]*limiterEntry),
		lastCleanup: time.Now(),
	}
}

// Allow reports whether a request from key may proceed now.
func (l *IPRateLimiter) Allow(key string) bool {
	return l.limiterFor(key).Allow()
}

func (l *IPRateLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastCleanup) > l.config.CleanupPeriod {
		for k, entry := range l.limiters {
			if now.Sub(entry.lastUsed) > l.config.CleanupPeriod {
				delete(l.limiters, k)
			}
		}
		l.lastCleanup = now
	}

	entry, ok := l.limiters[key]
	if !ok {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.BurstSize),
		}
		l.limiters[key] = entry
	}
	entry.lastUsed = now
	return entry.limiter
}

// Middleware rejects requests over the limit with 429. A zero rate disables it.
func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	if l.config.RequestsPerSecond <= 0 {
		return next
	}
	retryAfter := int(math.Ceil(1 / l.config.RequestsPerSecond))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ClientIP(r)
		if !l.Allow(key) {
			logging.WithContext(r.Context()).Warn("Rate limit exceeded",
				logging.String("client_ip", key),
				logging.String("path", r.URL.Path))
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection address.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
