// Package middleware contains the Gin middleware used by the gateway.
//
// This file provides correlation IDs, panic recovery, and access to the
// request-scoped logger:
//
//   - CorrelationID() ensures every request carries a correlation ID
//     (X-Correlation-ID, falling back to an inbound X-Request-ID) that is
//     echoed to the client and forwarded downstream.
//   - Recovery() converts panics into a JSON 500 {error} response and logs
//     the stack with the correlation ID.
//   - LoggerFrom() retrieves the request-scoped logger attached by
//     RedactingLogger so stages can log with request fields.
//
// Order: CorrelationID → RedactingLogger → Recovery, so panics and errors
// are logged with the correlation ID.
package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/fleet-gateway/internal/sysutil"
)

const (
	// correlationIDKey is the Gin context key holding the correlation ID.
	correlationIDKey = "correlationID"
	// HeaderCorrelationID carries the correlation ID in both directions.
	HeaderCorrelationID = "X-Correlation-ID"
	// headerRequestID is accepted as an inbound alias.
	headerRequestID = "X-Request-ID"
	// loggerKey stores the request-scoped logger.
	loggerKey = "logger"
	// maxQueryLogLength caps the number of bytes of the raw query string logged.
	maxQueryLogLength = 2048
	// maxCorrelationIDLength bounds client-supplied IDs.
	maxCorrelationIDLength = 128
)

// CorrelationID attaches (or propagates) a correlation identifier per request.
//
// An inbound X-Correlation-ID wins, then X-Request-ID; otherwise a UUIDv4 is
// generated. The ID is stored in the Gin context, set on the response, and
// written back onto the request so the proxy forwards it unchanged.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := sysutil.FirstNonEmpty(c.GetHeader(HeaderCorrelationID), c.GetHeader(headerRequestID))
		if cid == "" || len(cid) > maxCorrelationIDLength {
			cid = uuid.NewString()
		}
		c.Set(correlationIDKey, cid)
		c.Request.Header.Set(HeaderCorrelationID, cid)
		c.Writer.Header().Set(HeaderCorrelationID, cid)
		c.Next()
	}
}

// CorrelationIDFrom returns the ID set by CorrelationID, or "".
func CorrelationIDFrom(c *gin.Context) string {
	v, _ := c.Get(correlationIDKey)
	return asString(v)
}

// Recovery intercepts panics, logs a stack trace, and returns a JSON 500 error.
//
// http.ErrAbortHandler is re-panicked so net/http can drop the connection;
// the reverse proxy uses it to abort a response whose upstream body failed
// midway.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")

			if !c.Writer.Written() {
				abortWithError(c, http.StatusInternalServerError, msgInternal)
				return
			}
			c.AbortWithStatus(http.StatusInternalServerError)
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped zerolog.Logger.
//
// If RedactingLogger did not attach one, a logger carrying only the
// correlation ID is returned. Callers can use the result without nil checks.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Str("correlation_id", CorrelationIDFrom(c)).Logger()
	return &l
}

// asString converts an arbitrary interface to a string, returning an empty
// string when the value is not a string. Used for context values.
func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate returns s unchanged when within max length, otherwise it truncates
// s to max bytes and appends an ellipsis. A max <= 0 disables truncation.
//
// Note: This operates on bytes (not runes) which is acceptable for logging.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
