package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/fleet-gateway/internal/domain"
	"github.com/tbourn/fleet-gateway/internal/http/middleware"
	"github.com/tbourn/fleet-gateway/internal/proxy"
)

// Forwarder relays a request to the service named by rule.
//
// A returned *proxy.Error means nothing was written to w yet.
type Forwarder interface {
	Forward(w http.ResponseWriter, r *http.Request, rule domain.RouteRule, identity *domain.AuthContext) error
}

// Gateway is the last stage of the catch-all pipeline.
type Gateway struct {
	fwd Forwarder
}

// NewGateway returns a Gateway forwarding through fwd.
func NewGateway(fwd Forwarder) *Gateway {
	return &Gateway{fwd: fwd}
}

// Proxy answers 404 for unmatched paths and otherwise streams the request
// to the downstream service. Upstream failures become 502 or 504 with a
// generic message.
func (g *Gateway) Proxy(c *gin.Context) {
	rule, ok := middleware.RuleFrom(c)
	if !ok {
		fail(c, http.StatusNotFound, MsgNotFound)
		return
	}

	if strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		// Event streams outlive the server's write timeout.
		_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})
	}

	err := g.fwd.Forward(c.Writer, c.Request, rule, middleware.IdentityFrom(c))
	if err == nil {
		// Commit the upstream status even when the body was empty; otherwise
		// gin's NoRoute fallback appends its own 404 page.
		c.Writer.WriteHeaderNow()
		return
	}
	_ = c.Error(err)

	if c.Writer.Written() {
		// Upstream bytes already reached the client; nothing left to say.
		c.Abort()
		return
	}

	var pe *proxy.Error
	if !errors.As(err, &pe) {
		fail(c, http.StatusInternalServerError, MsgInternal)
		return
	}
	switch pe.Status {
	case http.StatusGatewayTimeout:
		fail(c, http.StatusGatewayTimeout, MsgUpstreamTimeout)
	default:
		fail(c, http.StatusBadGateway, MsgUpstreamUnavailable)
	}
}
