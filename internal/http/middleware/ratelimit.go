// Package middleware contains the Gin middleware used by the gateway.
//
// This file implements the rate limit stage. Requests are keyed by client IP
// (gin's ClientIP, which honours X-Forwarded-For only from trusted proxies)
// and counted against the tier of the resolved route, or the general tier
// when no route matched.
//
// Every response that passes through the stage carries the standard
// RateLimit-Limit, RateLimit-Remaining and RateLimit-Reset headers; the
// legacy X-RateLimit-* set is never sent.
//
// A rejected request gets:
//
//	HTTP/1.1 429 Too Many Requests
//	Retry-After: 850
//	{ "error": "Too many requests, please try again later.", "retryAfter": "850" }
package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/fleet-gateway/internal/domain"
	"github.com/tbourn/fleet-gateway/internal/ratelimit"
)

const (
	HeaderRateLimitLimit     = "RateLimit-Limit"
	HeaderRateLimitRemaining = "RateLimit-Remaining"
	HeaderRateLimitReset     = "RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// Limiter is the subset of *ratelimit.Limiter used by the stage.
type Limiter interface {
	Allow(ctx context.Context, clientID string, tier domain.Tier) (ratelimit.Decision, error)
}

// RateLimit returns the rate limit stage.
//
// Store failures follow the limiter's policy: under fail-open the request
// continues (and is flagged for the access log); under fail-closed the stage
// answers 503.
func RateLimit(l Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		tier := domain.TierGeneral
		if rule, ok := RuleFrom(c); ok {
			tier = rule.Tier
		}

		d, err := l.Allow(c.Request.Context(), c.ClientIP(), tier)
		if err != nil {
			LoggerFrom(c).Error().Err(err).Str("tier", string(tier)).Msg("rate limit check failed")
			abortWithError(c, http.StatusServiceUnavailable, msgLimiterDown)
			return
		}

		h := c.Writer.Header()
		h.Set(HeaderRateLimitLimit, strconv.FormatInt(d.Limit, 10))
		h.Set(HeaderRateLimitRemaining, strconv.FormatInt(d.Remaining, 10))
		h.Set(HeaderRateLimitReset, seconds(d.ResetIn))

		if d.Degraded {
			c.Set(degradedKey, true)
		}
		if d.Allowed {
			c.Next()
			return
		}

		retry := seconds(d.RetryAfter)
		LoggerFrom(c).Warn().Str("tier", string(tier)).Str("retry_after", retry).Msg("rate limited")
		h.Set(HeaderRetryAfter, retry)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":      msgRateLimited,
			"retryAfter": retry,
		})
	}
}

func seconds(d time.Duration) string {
	return strconv.FormatInt(int64(d/time.Second), 10)
}
