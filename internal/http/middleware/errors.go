package middleware

import "github.com/gin-gonic/gin"

// Client-facing messages. They never name a downstream service.
const (
	msgInternal        = "Internal server error"
	msgOriginForbidden = "Origin not allowed"
	msgUnauthenticated = "Authentication required"
	msgInvalidToken    = "Invalid or expired token"
	msgRateLimited     = "Too many requests, please try again later."
	msgLimiterDown     = "Service temporarily unavailable"
)

// abortWithError writes the {error} envelope and stops the chain.
func abortWithError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
