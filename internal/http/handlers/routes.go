package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/fleet-gateway/internal/config"
	"github.com/tbourn/fleet-gateway/internal/domain"
)

// RuleLister exposes the loaded route table.
type RuleLister interface {
	Rules() []domain.RouteRule
}

// TierLimiter reports the configured limits of a tier.
type TierLimiter interface {
	Limits(tier domain.Tier) config.TierLimits
}

// RouteView is one entry of GET /routes. Upstream addresses are omitted.
type RouteView struct {
	PathPrefix   string            `json:"pathPrefix" example:"/api/fleet"`
	Service      domain.ServiceKey `json:"service" example:"fleet"`
	RequiresAuth bool              `json:"requiresAuth"`
	Tier         domain.Tier       `json:"tier" example:"api"`
	WindowMS     int64             `json:"windowMs" example:"60000"`
	Max          int64             `json:"max" example:"30"`
}

// RoutesResponse is the body of GET /routes.
type RoutesResponse struct {
	Routes []RouteView `json:"routes"`
}

// Routes lists the route table together with each rule's rate limit.
type Routes struct {
	rules  RuleLister
	limits TierLimiter
}

// NewRoutes returns a Routes handler.
func NewRoutes(rules RuleLister, limits TierLimiter) *Routes {
	return &Routes{rules: rules, limits: limits}
}

// List godoc
// @ID          listRoutes
// @Summary     List the route table
// @Description Returns every route prefix with its service, auth requirement and rate-limit tier. Upstream addresses are never included.
// @Tags        Gateway
// @Produce     json
// @Success     200  {object}  handlers.RoutesResponse
// @Router      /routes [get]
func (h *Routes) List(c *gin.Context) {
	rules := h.rules.Rules()
	out := RoutesResponse{Routes: make([]RouteView, 0, len(rules))}
	for _, r := range rules {
		lim := h.limits.Limits(r.Tier)
		out.Routes = append(out.Routes, RouteView{
			PathPrefix:   r.PathPrefix,
			Service:      r.Service,
			RequiresAuth: r.RequiresAuth,
			Tier:         r.Tier,
			WindowMS:     lim.Window.Milliseconds(),
			Max:          lim.Max,
		})
	}
	ok(c, http.StatusOK, out)
}
