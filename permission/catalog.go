package permission

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrCatalogFrozen is returned when a frozen catalog is modified.
	ErrCatalogFrozen = errors.New("catalog frozen")
	// ErrUnknownBundle is returned when a role is bound to a bundle that was never defined.
	ErrUnknownBundle = errors.New("unknown bundle")
)

// Catalog is the declarative capability table: named bundles of capabilities
// and the binding of each role to exactly one bundle.
//
// A catalog is populated with [Catalog.DefineBundle] and [Catalog.Bind], then
// frozen. Reads are safe for concurrent use at any time.
type Catalog struct {
	registry *Registry

	mu       sync.RWMutex
	bundles  map[string]CapSet
	bindings map[Role]string
	frozen   bool
}

// NewCatalog creates an empty catalog whose capability sets are width
// bits wide (64 or 128).
func NewCatalog(width int) (*Catalog, error) {
	registry, err := NewRegistry(width)
	if err != nil {
		return nil, err
	}
	return &Catalog{
		registry: registry,
		bundles:  make(map[string]CapSet),
		bindings: make(map[Role]string),
	}, nil
}

// DefineBundle registers a named bundle. Capabilities not yet known to the
// catalog's registry are registered on the fly; listing [Wildcard] sets the
// wildcard bit.
func (c *Catalog) DefineBundle(name string, capabilities ...string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("bundle name empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frozen {
		return ErrCatalogFrozen
	}
	if _, exists := c.bundles[name]; exists {
		return fmt.Errorf("bundle already defined: %s", name)
	}

	var set CapSet
	for _, capability := range capabilities {
		bit, err := c.registry.Register(capability)
		if err != nil {
			return fmt.Errorf("bundle %s: %w", name, err)
		}
		set = set.With(bit)
	}

	c.bundles[name] = set
	return nil
}

// Bind assigns role to a previously defined bundle. Rebinding replaces the
// previous binding.
func (c *Catalog) Bind(role Role, bundle string) error {
	if !role.Valid() {
		return ErrUnknownRole
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frozen {
		return ErrCatalogFrozen
	}
	if _, ok := c.bundles[bundle]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBundle, bundle)
	}

	c.bindings[role] = bundle
	return nil
}

// Freeze makes the catalog immutable.
func (c *Catalog) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
	c.registry.Freeze()
}

// Frozen reports whether [Catalog.Freeze] has been called.
func (c *Catalog) Frozen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frozen
}

// HasPermission reports whether role's bundle grants capability.
//
// The check is total: an unknown role, an unbound role or an unregistered
// capability all yield false unless the bundle holds the wildcard.
func (c *Catalog) HasPermission(role Role, capability string) bool {
	set, ok := c.setFor(role)
	if !ok {
		return false
	}
	if set.Has(c.registry.WildcardBit()) {
		return true
	}
	bit, ok := c.registry.Bit(capability)
	return ok && set.Has(bit)
}

// BundleFor returns the bundle bound to role.
func (c *Catalog) BundleFor(role Role) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.bindings[role]
	return name, ok
}

// SetFor returns the capability set bound to role.
func (c *Catalog) SetFor(role Role) (CapSet, bool) {
	return c.setFor(role)
}

// Capabilities returns the sorted capability names granted to role.
// A wildcard bundle yields ["*"].
func (c *Catalog) Capabilities(role Role) []string {
	name, ok := c.BundleFor(role)
	if !ok {
		return nil
	}
	return c.BundleCapabilities(name)
}

// BundleCapabilities returns the sorted capability names of the named bundle.
func (c *Catalog) BundleCapabilities(name string) []string {
	c.mu.RLock()
	set, ok := c.bundles[name]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	if set.Has(c.registry.WildcardBit()) {
		return []string{Wildcard}
	}

	out := make([]string, 0, set.Count())
	for _, bit := range set.Bits() {
		if capability, ok := c.registry.Name(bit); ok {
			out = append(out, capability)
		}
	}
	sort.Strings(out)
	return out
}

// Bundles returns the sorted bundle names.
func (c *Catalog) Bundles() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.bundles))
	for name := range c.bundles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// BundleSet returns the named bundle's capability set.
func (c *Catalog) BundleSet(name string) (CapSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.bundles[name]
	return set, ok
}

// Extends reports whether bundle a grants at least every capability of bundle b.
func (c *Catalog) Extends(a, b string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sa, okA := c.bundles[a]
	sb, okB := c.bundles[b]
	if !okA || !okB {
		return false
	}
	return sa.Has(c.registry.WildcardBit()) || sa.Covers(sb)
}

// Registry exposes the catalog's capability registry.
func (c *Catalog) Registry() *Registry {
	return c.registry
}

func (c *Catalog) setFor(role Role) (CapSet, bool) {
	if !role.Valid() {
		return CapSet{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.bindings[role]
	if !ok {
		return CapSet{}, false
	}
	set, ok := c.bundles[name]
	return set, ok
}
