package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/platinummonkey/finmcp/pkg/auth"
	"github.com/platinummonkey/finmcp/pkg/httputil"
	"github.com/platinummonkey/finmcp/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

// DefaultRateLimitConfig returns default rate limit settings
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 60,
		WindowDuration:    time.Minute,
		BurstSize:         10,
	}
}

// capacity is the most requests a fresh key may make at once
func (c *RateLimitConfig) capacity() int {
	return c.RequestsPerWindow + c.BurstSize
}

// Decision is the outcome of one limiter check
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	Reset      time.Time
}

// Limiter decides whether the request identified by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RateLimiter is an in-process token bucket per key. Buckets hold
// RequestsPerWindow+BurstSize tokens and refill at RequestsPerWindow per
// WindowDuration.
type RateLimiter struct {
	config  *RateLimitConfig
	limit   rate.Limit
	buckets map[string]*bucket
	mu      sync.Mutex
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if config.RequestsPerWindow <= 0 || config.WindowDuration <= 0 {
		config = DefaultRateLimitConfig()
	}

	return &RateLimiter{
		config:  config,
		limit:   rate.Every(config.WindowDuration / time.Duration(config.RequestsPerWindow)),
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (rl *RateLimiter) bucketFor(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.config.capacity())}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// Allow takes one token for key. It never returns an error.
func (rl *RateLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := rl.now()
	lim := rl.bucketFor(key, now)

	d := Decision{Limit: rl.config.capacity()}
	if lim.AllowN(now, 1) {
		d.Allowed = true
	} else {
		missing := 1 - lim.TokensAt(now)
		d.RetryAfter = time.Duration(missing / float64(rl.limit) * float64(time.Second))
	}

	tokens := lim.TokensAt(now)
	d.Remaining = max(int(tokens), 0)
	refill := float64(d.Limit) - tokens
	d.Reset = now.Add(time.Duration(refill / float64(rl.limit) * float64(time.Second)))
	return d, nil
}

// Remaining returns the number of remaining tokens for a key
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.Lock()
	b, exists := rl.buckets[key]
	rl.mu.Unlock()

	if !exists {
		return rl.config.capacity()
	}
	return max(int(b.limiter.TokensAt(rl.now())), 0)
}

// Cleanup removes buckets idle for more than two windows and reports how
// many were dropped
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	dropped := 0
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.config.WindowDuration*2 {
			delete(rl.buckets, key)
			dropped++
		}
	}
	return dropped
}

// RunCleanup calls Cleanup every window until ctx is done. It is shaped as
// a shutdown manager runner.
func (rl *RateLimiter) RunCleanup(ctx context.Context) error {
	ticker := time.NewTicker(rl.config.WindowDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-ctx.Done():
			return nil
		}
	}
}

// IdentityKey keys authenticated callers by user id and everyone else by
// client IP
func IdentityKey(r *http.Request) string {
	if id, ok := IdentityFrom(r.Context()); ok && id.UserID != 0 {
		return fmt.Sprintf("user:%d", id.UserID)
	}
	return "ip:" + getClientIP(r)
}

// RateLimitMiddleware provides HTTP rate limiting over any Limiter
type RateLimitMiddleware struct {
	limiter Limiter
	name    string
	key     func(r *http.Request) string
	metrics *observability.Recorder
	audit   *auth.AuditLogger
	// failOpen lets requests through when the limiter errors
	failOpen bool
}

// NewRateLimitMiddleware creates a new rate limit middleware. name labels
// the rejection counter.
func NewRateLimitMiddleware(limiter Limiter, name string, metrics *observability.Recorder) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter:  limiter,
		name:     name,
		key:      IdentityKey,
		metrics:  metrics,
		failOpen: true,
	}
}

// WithAuditLogger records every rejected request as an audit event
func (m *RateLimitMiddleware) WithAuditLogger(al *auth.AuditLogger) *RateLimitMiddleware {
	m.audit = al
	return m
}

// SetFallbackEnabled controls whether to fail open (true) or closed (false) on limiter errors
func (m *RateLimitMiddleware) SetFallbackEnabled(enabled bool) {
	m.failOpen = enabled
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := m.key(r)

		d, err := m.limiter.Allow(r.Context(), key)
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).WithField("limiter", m.name).Warn("rate limiter unavailable")
			if m.failOpen {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteServiceUnavailable(w, "Service temporarily unavailable")
			return
		}

		setRateLimitHeaders(w, d)
		if !d.Allowed {
			m.metrics.RateLimited(m.name)
			if m.audit != nil {
				var userID *int64
				if id, ok := IdentityFrom(r.Context()); ok && id.UserID != 0 {
					userID = &id.UserID
				}
				_ = m.audit.LogFromRequest(r, userID, auth.ActionRateLimitExceeded, auth.ResourceEndpoint, r.URL.Path, auth.StatusDenied, nil)
			}
			httputil.WriteTooManyRequests(w, "Rate limit exceeded", d.RetryAfter)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func setRateLimitHeaders(w http.ResponseWriter, d Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.Reset.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	}
}

// getClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then
// the connection's remote host
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
