// Package handlers provides the gateway's own HTTP handlers: the terminal
// forwarding stage of the catch-all pipeline and the gateway-owned health,
// route listing and development token endpoints.
//
// This file defines the response helpers shared by those handlers. Every
// error leaves the gateway in the same envelope:
//
//	HTTP/1.1 502 Bad Gateway
//	{ "error": "Service temporarily unavailable" }
//
// Rate-limited responses additionally carry "retryAfter". Bodies never name
// a downstream service, host or port; those details only go to the logs.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/fleet-gateway/internal/http/middleware"
)

// ErrorResponse is the error envelope returned by every gateway endpoint.
type ErrorResponse struct {
	// Human-readable message, safe to show to users.
	Error string `json:"error" example:"Route not found"`
	// Seconds until the rate-limit window resets (429 only).
	RetryAfter string `json:"retryAfter,omitempty" example:"850"`
}

// fail aborts the request with an ErrorResponse.
//
// Server errors (>=500) are logged with the request-scoped logger so the
// correlation id ties the log line to the client-visible failure.
func fail(c *gin.Context, status int, msg string) {
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg})
}

// Fail is the exported variant of fail() for router fallbacks.
func Fail(c *gin.Context, status int, msg string) { fail(c, status, msg) }

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
