// Package routing holds the gateway's static route table.
//
// A Table is built once at startup from a list of domain.RouteRule values
// (the built-in defaults or a YAML file) and answers longest-prefix lookups
// for inbound paths. It is immutable and safe for concurrent use.
package routing

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tbourn/fleet-gateway/internal/domain"
)

var (
	// ErrNoRules is returned when a table would be empty.
	ErrNoRules = errors.New("route table has no rules")
	// ErrInvalidRule wraps every per-rule validation failure.
	ErrInvalidRule = errors.New("invalid route rule")
)

// Table is an immutable, longest-prefix-first list of route rules.
type Table struct {
	rules []domain.RouteRule
}

// NewTable validates rules and returns a Table ordered for matching.
//
// Prefixes are normalized (leading "/", no trailing "/"), must be unique,
// and must name a known service. An empty tier means general.
func NewTable(rules []domain.RouteRule) (*Table, error) {
	if len(rules) == 0 {
		return nil, ErrNoRules
	}
	seen := make(map[string]struct{}, len(rules))
	out := make([]domain.RouteRule, 0, len(rules))
	for i, r := range rules {
		p, err := normalizePrefix(r.PathPrefix)
		if err != nil {
			return nil, fmt.Errorf("%w #%d: %v", ErrInvalidRule, i, err)
		}
		if _, dup := seen[p]; dup {
			return nil, fmt.Errorf("%w #%d: duplicate prefix %q", ErrInvalidRule, i, p)
		}
		seen[p] = struct{}{}

		svc, err := domain.ParseServiceKey(string(r.Service))
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidRule, p, err)
		}
		tier, err := domain.ParseTier(string(r.Tier))
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidRule, p, err)
		}
		strip := r.StripPrefix
		if strip != "" {
			if strip, err = normalizePrefix(strip); err != nil {
				return nil, fmt.Errorf("%w %q: stripPrefix: %v", ErrInvalidRule, p, err)
			}
			if !hasSegmentPrefix(p, strip) {
				return nil, fmt.Errorf("%w %q: stripPrefix %q is not a prefix of the route", ErrInvalidRule, p, strip)
			}
		}

		out = append(out, domain.RouteRule{
			PathPrefix:   p,
			Service:      svc,
			RequiresAuth: r.RequiresAuth,
			Tier:         tier,
			StripPrefix:  strip,
		})
	}

	// Longest prefix first; ties are impossible after the uniqueness check,
	// but keep the order deterministic anyway.
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i].PathPrefix) != len(out[j].PathPrefix) {
			return len(out[i].PathPrefix) > len(out[j].PathPrefix)
		}
		return out[i].PathPrefix < out[j].PathPrefix
	})
	return &Table{rules: out}, nil
}

// Match returns the rule with the longest prefix covering path.
//
// Prefixes match on segment boundaries: "/api/fleet" covers "/api/fleet"
// and "/api/fleet/..." but not "/api/fleetx".
func (t *Table) Match(path string) (domain.RouteRule, bool) {
	if t == nil {
		return domain.RouteRule{}, false
	}
	if path == "" {
		path = "/"
	}
	for _, r := range t.rules {
		if hasSegmentPrefix(path, r.PathPrefix) {
			return r, true
		}
	}
	return domain.RouteRule{}, false
}

// Rules returns a copy of the rules in match order.
func (t *Table) Rules() []domain.RouteRule {
	if t == nil {
		return nil
	}
	out := make([]domain.RouteRule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Services returns the distinct services referenced by the table.
func (t *Table) Services() []domain.ServiceKey {
	if t == nil {
		return nil
	}
	seen := map[domain.ServiceKey]struct{}{}
	var out []domain.ServiceKey
	for _, k := range domain.ServiceKeys() {
		for _, r := range t.rules {
			if r.Service == k {
				if _, ok := seen[k]; !ok {
					seen[k] = struct{}{}
					out = append(out, k)
				}
			}
		}
	}
	return out
}

func normalizePrefix(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", errors.New("empty path prefix")
	}
	if !strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("path prefix %q must start with /", p)
	}
	if strings.ContainsAny(p, "?#*") {
		return "", fmt.Errorf("path prefix %q must be a literal path", p)
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	return p, nil
}

func hasSegmentPrefix(path, prefix string) bool {
	if prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
