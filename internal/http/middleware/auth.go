package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/fleet-gateway/internal/auth"
	"github.com/tbourn/fleet-gateway/internal/domain"
)

// TokenVerifier validates a bearer token and returns its identity.
type TokenVerifier interface {
	Verify(token string) (domain.AuthContext, error)
}

// AuditSink receives one entry per authentication decision. Record must not
// block the request.
type AuditSink interface {
	Record(e domain.AuditEntry)
}

// PathPolicy decides whether an unmatched path still needs a token.
type PathPolicy interface {
	RequiresAuth(path string) bool
}

// Authenticate returns the auth stage.
//
// A request needs a token when its resolved rule says so or, with no rule,
// when policy protects the path. On any verification failure the stage
// answers 401 and nothing downstream runs. On success the identity is stored
// for the proxy (IdentityFrom) and the access log.
//
// Only the user id, route and outcome are logged; the token never is.
// audit may be nil.
func Authenticate(v TokenVerifier, policy PathPolicy, audit AuditSink) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		rule, matched := RuleFrom(c)
		required := rule.RequiresAuth
		if !matched {
			required = policy != nil && policy.RequiresAuth(path)
		}
		if !required {
			c.Next()
			return
		}

		route := path
		if matched {
			route = rule.PathPrefix
		}
		lg := LoggerFrom(c)

		id, err := verify(v, c.GetHeader("Authorization"))
		if err != nil {
			reason := auth.Reason(err)
			lg.Warn().Str("route", route).Str("outcome", string(domain.AuditRejected)).Str("reason", reason).Msg("auth")
			record(audit, c, "", domain.AuditRejected, reason)

			msg := msgInvalidToken
			if errors.Is(err, auth.ErrMissingToken) {
				msg = msgUnauthenticated
			}
			c.Header("WWW-Authenticate", `Bearer realm="gateway"`)
			abortWithError(c, http.StatusUnauthorized, msg)
			return
		}

		lg.Info().Str("route", route).Str("user_id", id.UserID).Str("outcome", string(domain.AuditAuthenticated)).Msg("auth")
		record(audit, c, id.UserID, domain.AuditAuthenticated, "")

		c.Set(identityKey, &id)
		c.Set(userIDKey, id.UserID)
		c.Next()
	}
}

func verify(v TokenVerifier, header string) (domain.AuthContext, error) {
	tok, err := auth.BearerToken(header)
	if err != nil {
		return domain.AuthContext{}, err
	}
	return v.Verify(tok)
}

func record(sink AuditSink, c *gin.Context, userID string, outcome domain.AuditOutcome, reason string) {
	if sink == nil {
		return
	}
	sink.Record(domain.AuditEntry{
		UserID:    userID,
		Method:    c.Request.Method,
		Route:     c.Request.URL.Path,
		Outcome:   outcome,
		Reason:    reason,
		ClientIP:  c.ClientIP(),
		CreatedAt: time.Now().UTC(),
	})
}
