package middleware

import (
	"net/url"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/fleet-gateway/internal/domain"
)

const (
	ruleKey     = "routeRule"
	identityKey = "identity"
	degradedKey = "rateLimitDegraded"
	// userIDKey mirrors the identity's user id for code that only needs it.
	userIDKey = "userID"
)

// RouteMatcher resolves an inbound path to a route rule.
type RouteMatcher interface {
	Match(path string) (domain.RouteRule, bool)
}

// Resolve looks up the route rule for the request path and stores it in the
// context. Unmatched requests continue without a rule; the rate limit stage
// then uses the general tier and the gateway handler answers 404.
//
// Dot segments are cleaned first so "/api/auth/../fleet" resolves (and is
// forwarded) as "/api/fleet".
func Resolve(m RouteMatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		u := c.Request.URL
		p := cleanPath(u.Path)
		if p != u.Path {
			raw := ""
			if u.RawPath != "" {
				// Keep escapes like %2F when the escaped form cleans to the same path.
				if r := cleanPath(u.RawPath); unescapesTo(r, p) {
					raw = r
				}
			}
			u.Path = p
			u.RawPath = raw
		}
		if rule, ok := m.Match(p); ok {
			c.Set(ruleKey, rule)
		}
		c.Next()
	}
}

// RuleFrom returns the rule stored by Resolve.
func RuleFrom(c *gin.Context) (domain.RouteRule, bool) {
	v, ok := c.Get(ruleKey)
	if !ok {
		return domain.RouteRule{}, false
	}
	r, ok := v.(domain.RouteRule)
	return r, ok
}

// IdentityFrom returns the identity stored by Authenticate, or nil.
func IdentityFrom(c *gin.Context) *domain.AuthContext {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	id, _ := v.(*domain.AuthContext)
	return id
}

// RateLimitDegraded reports whether the request passed only because the
// limiter store was unavailable.
func RateLimitDegraded(c *gin.Context) bool {
	return c.GetBool(degradedKey)
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	cp := path.Clean(p)
	if strings.HasSuffix(p, "/") && cp != "/" {
		cp += "/"
	}
	return cp
}

func unescapesTo(raw, p string) bool {
	u, err := url.PathUnescape(raw)
	return err == nil && u == p
}
