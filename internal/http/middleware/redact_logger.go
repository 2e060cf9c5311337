// Package middleware contains the Gin middleware used by the gateway.
//
// This file implements RedactingLogger, the gateway's access log. It scrubs
// obvious PII from request metadata before emitting logs and attaches the
// request-scoped logger used by later stages (LoggerFrom) and by the proxy
// (via the request context).
//
// Design goals:
//   - Default-safe: never logs request or response bodies
//   - Redacts common identifiers (emails, phone numbers, UUIDs)
//   - Masks sensitive headers (Authorization, Cookie, Set-Cookie, plus custom)
//   - Produces structured JSON logs via zerolog
//
// Usage:
//
//	r := gin.New()
//	r.Use(middleware.CorrelationID())
//	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
//	    MaskHeaders: []string{"X-Api-Key"},
//	}))
package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions configures additional scrub behavior for RedactingLogger.
//
// MaskHeaders specifies extra HTTP header names whose values will be fully
// replaced with "[REDACTED]". Matching is case-insensitive and merged with
// built-in sensitive headers ("Authorization", "Cookie", "Set-Cookie").
type RedactOptions struct {
	MaskHeaders []string
}

var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits-only phone pattern (prevents matching hex characters from UUIDs).
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// idHeaders carry request identifiers and are logged verbatim.
var idHeaders = map[string]struct{}{
	http.CanonicalHeaderKey(HeaderCorrelationID): {},
	http.CanonicalHeaderKey(headerRequestID):     {},
}

// redact scrubs IDs, emails and phone numbers from s.
// Order matters: IDs → email → phone (phone is the loosest).
func redact(s string) string {
	if s == "" {
		return s
	}
	out := uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	out = emailRE.ReplaceAllString(out, "[REDACTED:email]")
	out = phoneRE.ReplaceAllString(out, "[REDACTED:phone]")
	return out
}

// RedactingLogger returns a Gin middleware that logs one line per request
// with sensitive values scrubbed.
//
// Behavior:
//   - Attaches a request-scoped logger (correlation ID, method, path, client
//     IP) to the Gin context and to the request context.
//   - After the chain completes, logs status, size, latency, the matched
//     route prefix and service, the user id (never the token), and scrubbed
//     request headers.
//   - INFO by default, WARN for 4xx, ERROR for 5xx.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	maskHeaders := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			maskHeaders[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		l := log.With().
			Str("correlation_id", CorrelationIDFrom(c)).
			Str("method", c.Request.Method).
			Str("path", redact(path)).
			Str("client_ip", c.ClientIP()).
			Logger()
		c.Set(loggerKey, &l)
		c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))

		safeQuery := truncate(redact(c.Request.URL.RawQuery), maxQueryLogLength)
		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			if _, ok := idHeaders[k]; ok {
				// Usually a UUID; the scrubber would erase the one value worth grepping for.
				safeHeaders[k] = truncate(strings.Join(vv, ", "), maxCorrelationIDLength)
				continue
			}
			safeHeaders[k] = redact(strings.Join(vv, ", "))
		}

		c.Next()

		status := c.Writer.Status()
		ev := l.Info()
		switch {
		case status >= 500:
			ev = l.Error()
		case status >= 400:
			ev = l.Warn()
		}

		if rule, ok := RuleFrom(c); ok {
			ev = ev.Str("route", rule.PathPrefix).Str("service", string(rule.Service))
		}
		if id := IdentityFrom(c); id != nil {
			ev = ev.Str("user_id", id.UserID)
		}
		if RateLimitDegraded(c) {
			ev = ev.Bool("ratelimit_degraded", true)
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}

		ev.
			Str("query", safeQuery).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
