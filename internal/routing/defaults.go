package routing

import "github.com/tbourn/fleet-gateway/internal/domain"

// DefaultRules is the built-in route table.
//
// Authentication endpoints are public and sit in the strict tier. Webhooks
// from Smartcar bypass auth and keep their /webhooks path upstream.
func DefaultRules() []domain.RouteRule {
	return []domain.RouteRule{
		{PathPrefix: "/api/auth", Service: domain.ServiceAuth, RequiresAuth: false, Tier: domain.TierStrict},
		{PathPrefix: "/api/workshop", Service: domain.ServiceWorkshop, RequiresAuth: true, Tier: domain.TierGeneral},
		{PathPrefix: "/api/fleet", Service: domain.ServiceFleet, RequiresAuth: true, Tier: domain.TierAPI},
		{PathPrefix: "/api/parts", Service: domain.ServiceParts, RequiresAuth: true, Tier: domain.TierGeneral},
		{PathPrefix: "/api/delivery", Service: domain.ServiceDelivery, RequiresAuth: true, Tier: domain.TierAPI},
		{PathPrefix: "/api/smartcar", Service: domain.ServiceSmartcar, RequiresAuth: true, Tier: domain.TierAPI},
		{PathPrefix: "/api/webhooks/smartcar", Service: domain.ServiceSmartcar, RequiresAuth: false, Tier: domain.TierAPI, StripPrefix: "/api"},
	}
}
