package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/fleet-gateway/internal/config"
	"github.com/tbourn/fleet-gateway/internal/domain"
	"github.com/tbourn/fleet-gateway/internal/ratelimit"
)

type stubLimiter struct {
	d       ratelimit.Decision
	err     error
	gotTier domain.Tier
	gotIP   string
}

func (s *stubLimiter) Allow(_ context.Context, clientID string, tier domain.Tier) (ratelimit.Decision, error) {
	s.gotTier, s.gotIP = tier, clientID
	return s.d, s.err
}

func newRateLimitEngine(l Limiter, rule *domain.RouteRule) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if rule != nil {
			c.Set(ruleKey, *rule)
		}
		c.Next()
	})
	r.Use(RateLimit(l))
	r.GET("/*any", func(c *gin.Context) {
		if RateLimitDegraded(c) {
			c.Header("X-Degraded", "1")
		}
		c.String(http.StatusOK, "ok")
	})
	return r
}

func TestRateLimit_AllowedSetsStandardHeaders(t *testing.T) {
	l := &stubLimiter{d: ratelimit.Decision{Allowed: true, Limit: 30, Remaining: 29, ResetIn: 60 * time.Second}}
	rule := &domain.RouteRule{PathPrefix: "/api/fleet", Tier: domain.TierAPI}
	r := newRateLimitEngine(l, rule)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/fleet/x", nil)
	req.RemoteAddr = net.JoinHostPort("203.0.113.9", "4242")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if l.gotTier != domain.TierAPI || l.gotIP != "203.0.113.9" {
		t.Fatalf("limiter called with %q %q", l.gotTier, l.gotIP)
	}
	h := w.Header()
	if h.Get(HeaderRateLimitLimit) != "30" || h.Get(HeaderRateLimitRemaining) != "29" || h.Get(HeaderRateLimitReset) != "60" {
		t.Fatalf("unexpected RateLimit headers: %v", h)
	}
	for _, legacy := range []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"} {
		if h.Get(legacy) != "" {
			t.Fatalf("legacy header %s must not be sent", legacy)
		}
	}
	if h.Get(HeaderRetryAfter) != "" {
		t.Fatalf("Retry-After only on 429")
	}
}

func TestRateLimit_UnmatchedUsesGeneralTier(t *testing.T) {
	l := &stubLimiter{d: ratelimit.Decision{Allowed: true, Limit: 100, Remaining: 99}}
	r := newRateLimitEngine(l, nil)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	if l.gotTier != domain.TierGeneral {
		t.Fatalf("tier = %q; want general", l.gotTier)
	}
}

func TestRateLimit_DeniedIs429WithRetryAfter(t *testing.T) {
	l := &stubLimiter{d: ratelimit.Decision{Limit: 5, Remaining: 0, ResetIn: 850 * time.Second, RetryAfter: 850 * time.Second}}
	r := newRateLimitEngine(l, &domain.RouteRule{PathPrefix: "/api/auth", Tier: domain.TierStrict})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d; want 429", w.Code)
	}
	if w.Header().Get(HeaderRetryAfter) != "850" || w.Header().Get(HeaderRateLimitRemaining) != "0" {
		t.Fatalf("unexpected headers: %v", w.Header())
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body["error"] != msgRateLimited || body["retryAfter"] != "850" || len(body) != 2 {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestRateLimit_DegradedPassesAndFailClosedIs503(t *testing.T) {
	l := &stubLimiter{d: ratelimit.Decision{Allowed: true, Degraded: true, Limit: 100, Remaining: 100}}
	r := newRateLimitEngine(l, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusOK || w.Header().Get("X-Degraded") != "1" {
		t.Fatalf("degraded request should pass and be flagged: %d %v", w.Code, w.Header())
	}

	captureLogger(t)
	closed := &stubLimiter{err: errors.Join(ratelimit.ErrStoreUnavailable, errors.New("down"))}
	r2 := newRateLimitEngine(closed, nil)
	w2 := httptest.NewRecorder()
	r2.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w2.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d; want 503", w2.Code)
	}
}

func TestRateLimit_RealLimiterWindowReset(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	cfg := config.RateLimitConfig{
		General:  config.TierLimits{Window: time.Minute, Max: 2},
		Strict:   config.TierLimits{Window: time.Minute, Max: 1},
		API:      config.TierLimits{Window: time.Minute, Max: 1},
		FailOpen: true,
	}
	lim := ratelimit.New(ratelimit.NewMemoryStore(ratelimit.MemoryClock(clock)), cfg, ratelimit.WithClock(clock))
	r := newRateLimitEngine(lim, nil)

	do := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		return w
	}
	if do().Code != http.StatusOK || do().Code != http.StatusOK {
		t.Fatalf("first two requests should pass")
	}
	now = now.Add(20 * time.Second)
	w := do()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third request should be limited, got %d", w.Code)
	}
	if w.Header().Get(HeaderRetryAfter) != "40" || w.Header().Get(HeaderRateLimitReset) != "40" {
		t.Fatalf("retry/reset = %q/%q; want 40", w.Header().Get(HeaderRetryAfter), w.Header().Get(HeaderRateLimitReset))
	}

	now = now.Add(40 * time.Second)
	if w := do(); w.Code != http.StatusOK || w.Header().Get(HeaderRateLimitRemaining) != "1" {
		t.Fatalf("after the window: %d remaining=%q", w.Code, w.Header().Get(HeaderRateLimitRemaining))
	}
}
