package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/fleet-gateway/internal/http/middleware"
)

const healthPingTimeout = 2 * time.Second

// StorePinger checks the rate-limit store.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status         string    `json:"status" example:"ok"`
	RateLimitStore string    `json:"rateLimitStore" example:"ok"`
	Time           time.Time `json:"time"`
}

// Health reports liveness and the state of the limiter store.
type Health struct {
	store    StorePinger
	failOpen bool
	now      func() time.Time
}

// NewHealth returns a Health handler. With failOpen an unreachable store is
// reported as degraded but still answers 200, because traffic keeps flowing.
func NewHealth(store StorePinger, failOpen bool) *Health {
	return &Health{store: store, failOpen: failOpen, now: time.Now}
}

// Get godoc
// @ID          getHealth
// @Summary     Liveness and limiter store state
// @Description Pings the rate-limit store. Answers 503 only when the limiter is fail-closed and the store is down.
// @Tags        Gateway
// @Produce     json
// @Success     200  {object}  handlers.HealthResponse
// @Failure     503  {object}  handlers.HealthResponse  "Store unavailable (fail-closed)"
// @Router      /health [get]
func (h *Health) Get(c *gin.Context) {
	resp := HealthResponse{Status: "ok", RateLimitStore: "ok", Time: h.now().UTC()}

	ctx, cancel := context.WithTimeout(c.Request.Context(), healthPingTimeout)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		lg := middleware.LoggerFrom(c)
		lg.Warn().Err(err).Bool("fail_open", h.failOpen).Msg("rate limit store unreachable")

		resp.Status = "degraded"
		resp.RateLimitStore = "unavailable"
		if !h.failOpen {
			ok(c, http.StatusServiceUnavailable, resp)
			return
		}
	}
	ok(c, http.StatusOK, resp)
}
