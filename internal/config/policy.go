package config

import (
	"fmt"
	"io"

	"github.com/MrEthical07/lexguard/access"
	"github.com/MrEthical07/lexguard/permission"
	"gopkg.in/yaml.v3"
)

// PolicyFile is the on-disk access policy.
//
//	bundles:
//	  basic: [view_cases, send_messages]
//	  enterprise: ["*"]
//	roles:
//	  CLIENT: basic
//	  LAWYER: enterprise
//	routes:
//	  - prefix: /admin
//	    roles: [ADMIN]
//	public: [/auth/signin, /healthz]
type PolicyFile struct {
	permission.CatalogFile `yaml:",inline"`

	Routes []RouteEntry `yaml:"routes"`
	Public []string     `yaml:"public"`
}

// RouteEntry is one route rule. An empty role list only requires a session.
type RouteEntry struct {
	Prefix string   `yaml:"prefix"`
	Roles  []string `yaml:"roles"`
}

// LoadPolicy decodes a policy file. Unknown keys are rejected.
func LoadPolicy(r io.Reader) (PolicyFile, error) {
	var p PolicyFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return PolicyFile{}, fmt.Errorf("decode policy: %w", err)
	}
	return p, nil
}

// Catalog compiles the bundle section, or returns nil when there is none.
func (p PolicyFile) Catalog() (*permission.Catalog, error) {
	if len(p.Bundles) == 0 && len(p.Roles) == 0 {
		return nil, nil
	}
	return p.CatalogFile.Build()
}

// RouteTable converts the route section and checks it compiles.
func (p PolicyFile) RouteTable() ([]access.RouteRule, []string, error) {
	rules := make([]access.RouteRule, 0, len(p.Routes))
	for _, e := range p.Routes {
		roles, err := permission.ParseRoleSet(e.Roles)
		if err != nil {
			return nil, nil, fmt.Errorf("route %s: %w", e.Prefix, err)
		}
		rules = append(rules, access.RouteRule{Prefix: e.Prefix, Roles: roles})
	}
	if _, err := access.NewRoutePolicy(rules, p.Public); err != nil {
		return nil, nil, err
	}
	return rules, p.Public, nil
}
