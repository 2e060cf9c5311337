package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures the response hardening headers.
//
// HSTS is only emitted for HTTPS requests (TLS or X-Forwarded-Proto: https)
// and only when EnableHSTS is set. HSTSMaxAge defaults to 180 days.
type SecurityOptions struct {
	EnableHSTS   bool
	HSTSMaxAge   time.Duration
	NoStore      bool // Cache-Control: no-store, Pragma, Expires
	EnablePolicy bool // Permissions-Policy, X-Permitted-Cross-Domain-Policies
}

type headerDefault struct {
	name, value string
}

// SecurityHeaders fills in hardening headers (nosniff, frame deny, referrer
// policy, plus the optional ones) on every response, gateway-owned or
// proxied.
//
// A header is only added when the response does not already carry it, and
// only when the response headers are committed. A downstream service that
// sends its own X-Frame-Options or Cache-Control keeps it untouched.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int((180 * 24 * time.Hour).Seconds())
	}

	base := []headerDefault{
		{"X-Content-Type-Options", "nosniff"},
		{"X-Frame-Options", "DENY"},
		{"Referrer-Policy", "no-referrer"},
	}
	if opt.EnablePolicy {
		base = append(base,
			headerDefault{"Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()"},
			headerDefault{"X-Permitted-Cross-Domain-Policies", "none"},
		)
	}
	if opt.NoStore {
		base = append(base,
			headerDefault{"Cache-Control", "no-store"},
			headerDefault{"Pragma", "no-cache"},
			headerDefault{"Expires", "0"},
		)
	}
	withHSTS := append(append([]headerDefault(nil), base...),
		headerDefault{"Strict-Transport-Security", "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains; preload"})

	return func(c *gin.Context) {
		defs := base
		if opt.EnableHSTS && isHTTPS(c.Request) {
			defs = withHSTS
		}
		c.Writer = &securityWriter{ResponseWriter: c.Writer, defaults: defs}
		c.Next()
	}
}

// securityWriter applies header defaults right before the status line goes
// out, after handlers and the reverse proxy have set theirs.
type securityWriter struct {
	gin.ResponseWriter
	defaults []headerDefault
	applied  bool
}

func (w *securityWriter) apply() {
	if w.applied || w.ResponseWriter.Written() {
		return
	}
	w.applied = true
	h := w.ResponseWriter.Header()
	for _, d := range w.defaults {
		if _, ok := h[http.CanonicalHeaderKey(d.name)]; !ok {
			h.Set(d.name, d.value)
		}
	}
}

func (w *securityWriter) WriteHeader(code int) {
	if code >= http.StatusOK {
		w.apply()
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *securityWriter) WriteHeaderNow() {
	w.apply()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *securityWriter) Write(b []byte) (int, error) {
	w.apply()
	return w.ResponseWriter.Write(b)
}

func (w *securityWriter) WriteString(s string) (int, error) {
	w.apply()
	return w.ResponseWriter.WriteString(s)
}

func (w *securityWriter) Flush() {
	w.apply()
	w.ResponseWriter.Flush()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *securityWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// isHTTPS reports whether the request arrived over TLS, directly or behind
// a proxy that set X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
