// Package httpapi wires the HTTP transport (Gin) to the gateway stages,
// middleware, and gateway-owned handlers. It centralizes cross-cutting
// concerns such as tracing, correlation IDs, logging/redaction, panic
// recovery, metrics, CORS, and security headers.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (CorrelationID → logging → recovery)
//   - Every proxied request passes Resolve → RateLimit → Authenticate → Proxy
//   - All dependencies injected
package httpapi

import (
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/fleet-gateway/internal/config"
	_ "github.com/tbourn/fleet-gateway/internal/http/docs"
	"github.com/tbourn/fleet-gateway/internal/http/handlers"
	"github.com/tbourn/fleet-gateway/internal/http/middleware"
)

// RateLimiter is the limiter used by the rate limit stage and the route
// listing.
type RateLimiter interface {
	middleware.Limiter
	handlers.TierLimiter
}

// Authenticator verifies bearer tokens and, in development, issues them.
type Authenticator interface {
	middleware.TokenVerifier
	handlers.TokenIssuer
}

// RouteTable resolves paths and lists its rules.
type RouteTable interface {
	middleware.RouteMatcher
	handlers.RuleLister
}

// Deps groups everything RegisterRoutes needs.
type Deps struct {
	Config    config.Config
	Routes    RouteTable
	Policy    middleware.PathPolicy
	Limiter   RateLimiter
	Store     handlers.StorePinger
	Auth      Authenticator
	Forwarder handlers.Forwarder
	// Audit may be nil.
	Audit middleware.AuditSink
}

// exposedHeaders are readable by browser scripts on cross-origin responses.
var exposedHeaders = []string{
	middleware.HeaderCorrelationID,
	middleware.HeaderRateLimitLimit,
	middleware.HeaderRateLimitRemaining,
	middleware.HeaderRateLimitReset,
	middleware.HeaderRetryAfter,
}

// RegisterRoutes attaches all middleware, the gateway-owned endpoints and
// the catch-all proxy pipeline to the given Gin engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. CorrelationID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS (refuses unlisted origins before any other stage)
//  8. Security headers
//
// Paths that are not gateway-owned fall through to NoRoute, which runs
// Resolve → RateLimit → Authenticate → Proxy.
func RegisterRoutes(r *gin.Engine, d Deps) {
	cfg := d.Config
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.CorrelationID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))

	// 4) Panic recovery to JSON 500
	r.Use(middleware.Recovery())

	// 5) Global body size limit
	r.Use(limitBody(cfg.MaxBodyBytes))

	// 6) Prometheus metrics
	r.Use(middleware.Metrics())

	// 7) CORS allow-list
	r.Use(middleware.CORS(middleware.CORSOptions{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		ExposeHeaders:  exposedHeaders,
	}))

	// 8) Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Gateway-owned endpoints: not rate limited, not authenticated.
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	own := r.Group("", gzip.Gzip(gzip.DefaultCompression))
	{
		own.GET("/health", handlers.NewHealth(d.Store, cfg.RateLimit.FailOpen).Get)
		own.GET("/routes", handlers.NewRoutes(d.Routes, d.Limiter).List)
		if cfg.IsDevelopment() {
			own.POST("/dev/token", handlers.NewDevToken(d.Auth, cfg.JWT.ExpiresIn).Create)
		}
	}

	// Everything else is proxied.
	r.NoRoute(
		middleware.Resolve(d.Routes),
		middleware.RateLimit(d.Limiter),
		middleware.Authenticate(d.Auth, d.Policy, d.Audit),
		handlers.NewGateway(d.Forwarder).Proxy,
	)
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.MsgMethodNotAllowed)
	})
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
