package permission

import (
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"
)

// CatalogFile is the on-disk shape of a catalog.
//
//	bundles:
//	  basic: [view_cases, send_messages]
//	  enterprise: ["*"]
//	roles:
//	  CLIENT: basic
//	  LAWYER: enterprise
type CatalogFile struct {
	Width   int                 `yaml:"width,omitempty"`
	Bundles map[string][]string `yaml:"bundles"`
	Roles   map[string]string   `yaml:"roles"`
}

// LoadCatalog decodes a YAML catalog and returns it frozen.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var file CatalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return file.Build()
}

// Build validates the file and compiles it into a frozen catalog.
func (f CatalogFile) Build() (*Catalog, error) {
	width := f.Width
	if width == 0 {
		width = 64
	}
	if len(f.Bundles) == 0 {
		return nil, fmt.Errorf("catalog defines no bundles")
	}

	bindings := make(map[Role]string, len(f.Roles))
	for name, bundle := range f.Roles {
		role, err := ParseRole(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRole, name)
		}
		if _, ok := f.Bundles[bundle]; !ok {
			return nil, fmt.Errorf("%w: role %s bound to %q", ErrUnknownBundle, name, bundle)
		}
		bindings[role] = bundle
	}

	return BuildCatalog(width, f.Bundles, bindings)
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
