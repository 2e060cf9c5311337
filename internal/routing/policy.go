package routing

import "strings"

// PathPolicy decides whether a path needs a bearer token when no route rule
// matched it. Public prefixes win over protected ones.
type PathPolicy struct {
	Protected []string
	Public    []string
}

// DefaultPolicy protects /api and /trpc except sign-in, sign-up and webhooks.
func DefaultPolicy() PathPolicy {
	return PathPolicy{
		Protected: []string{"/api/", "/trpc/"},
		Public:    []string{"/sign-in", "/sign-up", "/api/webhooks"},
	}
}

// RequiresAuth reports whether path is protected by the policy.
func (p PathPolicy) RequiresAuth(path string) bool {
	for _, pub := range p.Public {
		if strings.HasPrefix(path, pub) {
			return false
		}
	}
	for _, prot := range p.Protected {
		if strings.HasPrefix(path, prot) || path == strings.TrimSuffix(prot, "/") {
			return true
		}
	}
	return false
}
