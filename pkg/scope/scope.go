package scope

import (
	"sort"
	"strings"
)

// Scope partitions the route surface by the kind of authority it needs
type Scope string

const (
	// ScopeSystem is the platform console, internal staff only.
	ScopeSystem Scope = "system"
	// ScopeOrganization is tenant-scoped work surfaces.
	ScopeOrganization Scope = "organization"
	// ScopeUser is the user's own account pages.
	ScopeUser Scope = "user"
	// ScopeAuth is the sign-in and callback surface.
	ScopeAuth Scope = "auth"
	// ScopePublic is everything else.
	ScopePublic Scope = "public"
)

// Rule binds a route prefix to a scope
type Rule struct {
	Prefix string
	Scope  Scope
}

// DefaultRules is the route prefix table for the clearway surface
func DefaultRules() []Rule {
	return []Rule{
		{Prefix: "/console", Scope: ScopeSystem},
		{Prefix: "/licensing", Scope: ScopeOrganization},
		{Prefix: "/publishing", Scope: ScopeOrganization},
		{Prefix: "/royalties", Scope: ScopeOrganization},
		{Prefix: "/helpcenter", Scope: ScopeOrganization},
		{Prefix: "/account", Scope: ScopeUser},
		{Prefix: "/auth", Scope: ScopeAuth},
	}
}

// Classifier maps request paths to scopes by longest matching prefix. An
// unmatched path is public; a path never fails to classify.
type Classifier struct {
	rules []Rule
}

// NewClassifier builds a classifier. Rules are matched longest prefix first
// so "/console/audit" style overrides behave predictably regardless of the
// order rules were given in.
func NewClassifier(rules []Rule) *Classifier {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &Classifier{rules: sorted}
}

// Classify returns the scope for a request path
func (c *Classifier) Classify(path string) Scope {
	for _, rule := range c.rules {
		if matchesPrefix(path, rule.Prefix) {
			return rule.Scope
		}
	}
	return ScopePublic
}

// matchesPrefix is a path-segment prefix match: "/console" matches
// "/console" and "/console/x" but not "/consoles".
func matchesPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
