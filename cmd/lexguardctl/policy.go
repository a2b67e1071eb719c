package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/MrEthical07/lexguard/access"
	"github.com/MrEthical07/lexguard/internal/config"
	"github.com/MrEthical07/lexguard/permission"
	"github.com/spf13/cobra"
)

// loadedPolicy is the catalog and route table a command works against.
type loadedPolicy struct {
	catalog *permission.Catalog
	routes  *access.RoutePolicy
}

func loadPolicy(cmd *cobra.Command) (loadedPolicy, error) {
	path, _ := cmd.Flags().GetString("policy")
	out := loadedPolicy{
		catalog: permission.DefaultCatalog(),
		routes:  access.DefaultPolicy(),
	}
	if path == "" {
		return out, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return loadedPolicy{}, err
	}
	defer f.Close()

	p, err := config.LoadPolicy(f)
	if err != nil {
		return loadedPolicy{}, err
	}
	catalog, err := p.Catalog()
	if err != nil {
		return loadedPolicy{}, err
	}
	if catalog != nil {
		out.catalog = catalog
	}
	if len(p.Routes) > 0 || len(p.Public) > 0 {
		rules, public, err := p.RouteTable()
		if err != nil {
			return loadedPolicy{}, err
		}
		if out.routes, err = access.NewRoutePolicy(rules, public); err != nil {
			return loadedPolicy{}, err
		}
	}
	return out, nil
}

func newCanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "can ROLE CAPABILITY",
		Short: "Report whether a role's bundle grants a capability",
		Example: `  lexguardctl can CLIENT view_cases
  lexguardctl can LAWYER manage_users --policy policy.yaml`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := permission.ParseRole(args[0])
			if err != nil {
				return err
			}
			p, err := loadPolicy(cmd)
			if err != nil {
				return err
			}
			bundle, _ := p.catalog.BundleFor(role)
			allowed := p.catalog.HasPermission(role, args[1])
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s (bundle %s)\n", role, verdict(allowed), args[1], bundle)
			return nil
		},
	}
}

func verdict(allowed bool) string {
	if allowed {
		return "may"
	}
	return "may not"
}

func newRouteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "route PATH",
		Short: "Show which rule governs a request path",
		Example: `  lexguardctl route /dashboard/cases/42
  lexguardctl route /api/auth/signin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPolicy(cmd)
			if err != nil {
				return err
			}
			req := p.routes.Match(args[0])
			out := cmd.OutOrStdout()
			switch {
			case req.Public:
				fmt.Fprintf(out, "%s: public (rule %s)\n", args[0], req.Prefix)
			case req.Roles.Empty():
				rule := req.Prefix
				if rule == "" {
					rule = "none"
				}
				fmt.Fprintf(out, "%s: any signed-in user (rule %s)\n", args[0], rule)
			default:
				fmt.Fprintf(out, "%s: roles %s (rule %s)\n", args[0], req.Roles, req.Prefix)
			}
			return nil
		},
	}
}

func newBundlesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bundles",
		Short: "List permission bundles, their capabilities and bound roles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := loadPolicy(cmd)
			if err != nil {
				return err
			}
			bound := map[string][]string{}
			for _, r := range permission.Roles() {
				if b, ok := p.catalog.BundleFor(r); ok {
					bound[b] = append(bound[b], r.String())
				}
			}
			out := cmd.OutOrStdout()
			for _, name := range p.catalog.Bundles() {
				roles := strings.Join(bound[name], ",")
				if roles == "" {
					roles = "-"
				}
				fmt.Fprintf(out, "%s\troles=%s\t%s\n", name, roles, strings.Join(p.catalog.BundleCapabilities(name), " "))
			}
			return nil
		},
	}
}
