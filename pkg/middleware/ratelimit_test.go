package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/finmcp/pkg/auth"
	"github.com/platinummonkey/finmcp/pkg/contextkeys"
	"github.com/platinummonkey/finmcp/pkg/observability"
	"github.com/platinummonkey/finmcp/pkg/rbac"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClockedLimiter(cfg *RateLimitConfig) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(cfg)
	rl.now = clock.now
	return rl, clock
}

func TestRateLimiter_Allow(t *testing.T) {
	cfg := &RateLimitConfig{RequestsPerWindow: 10, WindowDuration: 10 * time.Second, BurstSize: 2}
	rl, clock := newClockedLimiter(cfg)
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 20; i++ {
		d, err := rl.Allow(ctx, "user:1")
		require.NoError(t, err)
		if d.Allowed {
			allowed++
		}
	}
	assert.Equal(t, 12, allowed, "limit plus burst")

	d, _ := rl.Allow(ctx, "user:1")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 12, d.Limit)
	assert.InDelta(t, time.Second, d.RetryAfter, float64(time.Millisecond))

	clock.advance(time.Second)
	d, _ = rl.Allow(ctx, "user:1")
	assert.True(t, d.Allowed, "one token refills per second")

	d, _ = rl.Allow(ctx, "user:2")
	assert.True(t, d.Allowed, "keys are independent")
	assert.Equal(t, 11, d.Remaining)
}

func TestRateLimiter_Remaining(t *testing.T) {
	rl, _ := newClockedLimiter(&RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Minute, BurstSize: 1})

	assert.Equal(t, 6, rl.Remaining("fresh"))
	_, _ = rl.Allow(context.Background(), "fresh")
	_, _ = rl.Allow(context.Background(), "fresh")
	assert.Equal(t, 4, rl.Remaining("fresh"))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl, clock := newClockedLimiter(&RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Minute})
	ctx := context.Background()

	_, _ = rl.Allow(ctx, "old")
	clock.advance(90 * time.Second)
	_, _ = rl.Allow(ctx, "recent")
	clock.advance(60 * time.Second)

	assert.Equal(t, 1, rl.Cleanup())
	assert.NotContains(t, rl.buckets, "old")
	assert.Contains(t, rl.buckets, "recent")
	assert.Equal(t, 5, rl.Remaining("old"), "dropped bucket starts fresh")
}

func TestRateLimiter_RunCleanupStops(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rl.RunCleanup(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RunCleanup did not stop")
	}
}

func TestNewRateLimiter_InvalidConfigFallsBack(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{})
	assert.Equal(t, 70, rl.Remaining("k"))
}

func newRedisLimiter(t *testing.T, cfg *RateLimitConfig) (*DistributedRateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewDistributedRateLimiter(client, cfg, "test"), mr
}

func TestDistributedRateLimiter_Allow(t *testing.T) {
	rl, mr := newRedisLimiter(t, &RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute, BurstSize: 1})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		d, err := rl.Allow(ctx, "user:7")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, 3-i, d.Remaining)
	}

	d, err := rl.Allow(ctx, "user:7")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, time.Minute, d.RetryAfter)
	assert.Equal(t, time.Minute, mr.TTL("test:user:7"))

	remaining, err := rl.Remaining(ctx, "user:7")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	mr.FastForward(time.Minute)
	d, err = rl.Allow(ctx, "user:7")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "window expired")
}

func TestDistributedRateLimiter_WindowNotExtended(t *testing.T) {
	rl, mr := newRedisLimiter(t, &RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute})
	ctx := context.Background()

	_, err := rl.Allow(ctx, "k")
	require.NoError(t, err)
	mr.FastForward(40 * time.Second)
	_, err = rl.Allow(ctx, "k")
	require.NoError(t, err)

	assert.Equal(t, 20*time.Second, mr.TTL("test:k"))
}

func TestDistributedRateLimiter_ResetAndRemaining(t *testing.T) {
	rl, _ := newRedisLimiter(t, &RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute})
	ctx := context.Background()

	remaining, err := rl.Remaining(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)

	_, _ = rl.Allow(ctx, "k")
	require.NoError(t, rl.Reset(ctx, "k"))
	remaining, err = rl.Remaining(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)
	assert.NoError(t, rl.HealthCheck(ctx))
}

func TestDistributedRateLimiter_RedisDown(t *testing.T) {
	rl, mr := newRedisLimiter(t, DefaultRateLimitConfig())
	mr.Close()

	_, err := rl.Allow(context.Background(), "k")
	assert.ErrorContains(t, err, "redis error")
}

type stubLimiter struct {
	decision Decision
	err      error
	keys     []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (Decision, error) {
	s.keys = append(s.keys, key)
	return s.decision, s.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
}

func TestRateLimitMiddleware_Headers(t *testing.T) {
	reset := time.Unix(1718452800, 0)
	limiter := &stubLimiter{decision: Decision{Allowed: true, Limit: 70, Remaining: 69, Reset: reset}}
	h := NewRateLimitMiddleware(limiter, "reasoning", nil).Handler(okHandler())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/reasoning", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "70", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "69", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1718452800", w.Header().Get("X-RateLimit-Reset"))
}

func TestRateLimitMiddleware_Rejects(t *testing.T) {
	recorder, metrics := newTestRecorder()
	limiter := &stubLimiter{decision: Decision{Allowed: false, Limit: 1, RetryAfter: 3 * time.Second}}
	h := NewRateLimitMiddleware(limiter, "reasoning", recorder).Handler(okHandler())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/reasoning", nil))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "3", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "Rate limit exceeded")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RateLimitExceededTotal.WithLabelValues("reasoning")))
}

func TestRateLimitMiddleware_AuditsRejection(t *testing.T) {
	var buf bytes.Buffer
	al := auth.NewAuditLogger(observability.NewLogger(observability.InfoLevel, &buf))
	limiter := &stubLimiter{decision: Decision{Allowed: false, Limit: 1, RetryAfter: time.Second}}
	h := NewRateLimitMiddleware(limiter, "reasoning", nil).WithAuditLogger(al).Handler(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reasoning", nil)
	req = req.WithContext(contextkeys.WithIdentity(req.Context(), rbac.Identity{UserID: 42}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, buf.String(), `"action":"ratelimit.exceeded"`)
	assert.Contains(t, buf.String(), `"status":"denied"`)
	assert.Contains(t, buf.String(), `"audit_user_id":42`)

	buf.Reset()
	limiter.decision.Allowed = true
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/reasoning", nil))
	assert.Empty(t, buf.String())
}

func TestRateLimitMiddleware_LimiterError(t *testing.T) {
	limiter := &stubLimiter{err: errors.New("redis error: connection refused")}
	m := NewRateLimitMiddleware(limiter, "reasoning", nil)

	w := httptest.NewRecorder()
	m.Handler(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code, "fails open by default")

	m.SetFallbackEnabled(false)
	w = httptest.NewRecorder()
	m.Handler(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestIdentityKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:41234"
	assert.Equal(t, "ip:10.0.0.5", IdentityKey(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "ip:203.0.113.9", IdentityKey(req))

	anon := req.WithContext(contextkeys.WithIdentity(req.Context(), rbac.AnonymousIdentity("admin")))
	assert.Equal(t, "ip:203.0.113.9", IdentityKey(anon), "anonymous callers share the IP key")

	user := req.WithContext(contextkeys.WithIdentity(req.Context(), rbac.Identity{UserID: 42}))
	assert.Equal(t, "user:42", IdentityKey(user))
}

func TestRateLimitMiddleware_InMemoryEndToEnd(t *testing.T) {
	rl, _ := newClockedLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute, BurstSize: 0})
	h := NewRateLimitMiddleware(rl, "reasoning", nil).Handler(okHandler())

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = "192.0.2.1:5000"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}
