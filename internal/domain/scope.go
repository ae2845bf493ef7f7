package domain

import "strings"

// Scope values with claim gating semantics.
const (
	ScopeOpenID  = "openid"
	ScopeProfile = "profile"
	ScopeEmail   = "email"
)

// ParseScopes splits a space separated scope string, dropping blanks and duplicates.
func ParseScopes(scope string) []string {
	fields := strings.Fields(scope)
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// HasScope reports whether want appears in the space separated scope string.
func HasScope(scope, want string) bool {
	for _, s := range strings.Fields(scope) {
		if s == want {
			return true
		}
	}
	return false
}

// ScopeSubset reports whether every scope in requested is present in allowed.
func ScopeSubset(requested, allowed string) bool {
	for _, s := range strings.Fields(requested) {
		if !HasScope(allowed, s) {
			return false
		}
	}
	return true
}
