// Package domain defines the gateway's core types: the static route table
// entries, the downstream service endpoints, per-request identity, and the
// persisted audit record. These types are shared by the routing, rate
// limiting, auth, proxy, and repository layers.
package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// ServiceKey names one of the downstream services fronted by the gateway.
type ServiceKey string

const (
	ServiceAuth     ServiceKey = "auth"
	ServiceWorkshop ServiceKey = "workshop"
	ServiceFleet    ServiceKey = "fleet"
	ServiceParts    ServiceKey = "parts"
	ServiceDelivery ServiceKey = "delivery"
	ServiceSmartcar ServiceKey = "smartcar"
)

// ServiceKeys lists every known service in a stable order.
func ServiceKeys() []ServiceKey {
	return []ServiceKey{
		ServiceAuth, ServiceWorkshop, ServiceFleet,
		ServiceParts, ServiceDelivery, ServiceSmartcar,
	}
}

// ParseServiceKey validates s (case-insensitive) against the known services.
func ParseServiceKey(s string) (ServiceKey, error) {
	k := ServiceKey(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range ServiceKeys() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown service %q", s)
}

// Tier selects the rate-limit window and ceiling applied to a route.
type Tier string

const (
	// TierGeneral is the default tier for ordinary traffic.
	TierGeneral Tier = "general"
	// TierStrict guards authentication endpoints against credential stuffing.
	TierStrict Tier = "strict"
	// TierAPI applies to high-frequency data endpoints.
	TierAPI Tier = "api"
)

// Tiers lists every tier in a stable order.
func Tiers() []Tier { return []Tier{TierGeneral, TierStrict, TierAPI} }

// ParseTier validates s (case-insensitive). An empty string yields TierGeneral.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if t == "" {
		return TierGeneral, nil
	}
	for _, known := range Tiers() {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown rate limit tier %q", s)
}

// RouteRule maps an inbound path prefix to a downstream service.
//
// Rules are loaded once at startup and never mutated afterwards.
type RouteRule struct {
	PathPrefix   string     `json:"pathPrefix"   yaml:"pathPrefix"`
	Service      ServiceKey `json:"service"      yaml:"service"`
	RequiresAuth bool       `json:"requiresAuth" yaml:"requiresAuth"`
	Tier         Tier       `json:"tier"         yaml:"tier"`
	// StripPrefix is removed from the inbound path before forwarding.
	// Empty means PathPrefix.
	StripPrefix string `json:"stripPrefix,omitempty" yaml:"stripPrefix,omitempty"`
}

// UpstreamPath returns the path forwarded to the service for an inbound path
// matched by this rule. The result always starts with "/".
func (r RouteRule) UpstreamPath(inbound string) string {
	strip := r.StripPrefix
	if strip == "" {
		strip = r.PathPrefix
	}
	rest := strings.TrimPrefix(inbound, strings.TrimSuffix(strip, "/"))
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return rest
}

// ServiceEndpoint is the base URL of a downstream service.
type ServiceEndpoint struct {
	Key     ServiceKey
	BaseURL *url.URL
}

// AuthContext is the identity established from a verified bearer token.
// It lives for the duration of a single request.
type AuthContext struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
}
