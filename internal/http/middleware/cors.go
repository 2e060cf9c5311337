package middleware

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSOptions configures CORS.
type CORSOptions struct {
	// AllowedOrigins is the explicit allow-list; a lone "*" allows any origin
	// without credentials.
	AllowedOrigins []string
	// ExposeHeaders are readable by browser scripts.
	ExposeHeaders []string
}

// CORS enforces the origin allow-list.
//
// Requests without an Origin header pass untouched. A listed origin is
// echoed back with Access-Control-Allow-Credentials: true; any other origin
// is refused with 403 {error} and never echoed. With "*", every origin gets
// Access-Control-Allow-Origin: * and no credentials. Preflights are
// answered with 204.
func CORS(opt CORSOptions) gin.HandlerFunc {
	anyOrigin := len(opt.AllowedOrigins) == 1 && opt.AllowedOrigins[0] == "*"

	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", HeaderCorrelationID, headerRequestID},
		ExposeHeaders: opt.ExposeHeaders,
		MaxAge:        12 * time.Hour,
	}
	allowed := make(map[string]struct{}, len(opt.AllowedOrigins))
	if anyOrigin {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false // must remain false with AllowAllOrigins
	} else {
		cfg.AllowOrigins = opt.AllowedOrigins
		cfg.AllowCredentials = true
		for _, o := range opt.AllowedOrigins {
			allowed[o] = struct{}{}
		}
	}
	inner := cors.New(cfg)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && !anyOrigin {
			if _, ok := allowed[origin]; !ok {
				c.Writer.Header().Add("Vary", "Origin")
				abortWithError(c, http.StatusForbidden, msgOriginForbidden)
				return
			}
		}
		inner(c)
	}
}
