package access

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MrEthical07/lexguard/permission"
)

// RouteRule restricts every path under Prefix to Roles.
type RouteRule struct {
	Prefix string
	Roles  permission.RoleSet
}

// Requirement is what a path demands of the caller.
type Requirement struct {
	// Public paths need no session.
	Public bool
	// Roles is empty when any authenticated session is enough.
	Roles permission.RoleSet
	// Prefix is the matched rule, empty when nothing matched.
	Prefix string
}

// RoutePolicy maps request paths to requirements by longest matching prefix.
// A prefix matches on path-segment boundaries: "/admin" matches "/admin"
// and "/admin/users" but not "/administrator". A prefix ending in "/"
// matches anything beneath it.
type RoutePolicy struct {
	entries []policyEntry
}

type policyEntry struct {
	prefix string
	public bool
	roles  permission.RoleSet
}

// DefaultRules is the portal's stock role table.
func DefaultRules() []RouteRule {
	return []RouteRule{
		{Prefix: "/admin", Roles: permission.NewRoleSet(permission.RoleAdmin)},
		{Prefix: "/dashboard", Roles: permission.NewRoleSet(permission.RoleLawyer)},
		{Prefix: "/client", Roles: permission.NewRoleSet(permission.RoleClient)},
	}
}

// DefaultPublicPrefixes are reachable without a session.
func DefaultPublicPrefixes() []string {
	return []string{"/auth/signin", "/unauthorized", "/api/auth/", "/static/", "/healthz"}
}

// DefaultPolicy combines [DefaultRules] and [DefaultPublicPrefixes].
func DefaultPolicy() *RoutePolicy {
	p, err := NewRoutePolicy(DefaultRules(), DefaultPublicPrefixes())
	if err != nil {
		panic("access: default policy: " + err.Error())
	}
	return p
}

// NewRoutePolicy validates and indexes rules. Prefixes must start with "/"
// and may appear only once across rules and public prefixes.
func NewRoutePolicy(rules []RouteRule, public []string) (*RoutePolicy, error) {
	seen := make(map[string]struct{}, len(rules)+len(public))
	entries := make([]policyEntry, 0, len(rules)+len(public))

	add := func(e policyEntry) error {
		if !strings.HasPrefix(e.prefix, "/") {
			return fmt.Errorf("route prefix %q must start with /", e.prefix)
		}
		if _, dup := seen[e.prefix]; dup {
			return fmt.Errorf("route prefix %q declared twice", e.prefix)
		}
		seen[e.prefix] = struct{}{}
		entries = append(entries, e)
		return nil
	}

	for _, r := range rules {
		if err := add(policyEntry{prefix: r.Prefix, roles: r.Roles}); err != nil {
			return nil, err
		}
	}
	for _, p := range public {
		if err := add(policyEntry{prefix: p, public: true}); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return len(entries[i].prefix) > len(entries[j].prefix)
	})
	return &RoutePolicy{entries: entries}, nil
}

// Match returns the requirement for path. Unmatched paths require
// authentication only.
func (p *RoutePolicy) Match(path string) Requirement {
	if path == "" {
		path = "/"
	}
	for _, e := range p.entries {
		if prefixMatches(e.prefix, path) {
			return Requirement{Public: e.public, Roles: e.roles, Prefix: e.prefix}
		}
	}
	return Requirement{}
}

// Rules returns the role rules in match order.
func (p *RoutePolicy) Rules() []RouteRule {
	out := make([]RouteRule, 0, len(p.entries))
	for _, e := range p.entries {
		if !e.public {
			out = append(out, RouteRule{Prefix: e.prefix, Roles: e.roles})
		}
	}
	return out
}

func prefixMatches(prefix, path string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) || strings.HasSuffix(prefix, "/") {
		return true
	}
	return path[len(prefix)] == '/'
}
