package permission

import "sync"

// Capability names used by the portal.
const (
	ViewCases            = "view_cases"
	SendMessages         = "send_messages"
	ScheduleAppointments = "schedule_appointments"
	VideoCalls           = "video_calls"
	UploadDocuments      = "upload_documents"
	ViewInvoices         = "view_invoices"
)

// Bundle names shipped in the default catalog.
const (
	BundleBasic      = "basic"
	BundlePremium    = "premium"
	BundleEnterprise = "enterprise"
)

// DefaultBundles is the stock bundle table.
var DefaultBundles = map[string][]string{
	BundleBasic:      {ViewCases, SendMessages, ScheduleAppointments},
	BundlePremium:    {ViewCases, SendMessages, ScheduleAppointments, VideoCalls, UploadDocuments, ViewInvoices},
	BundleEnterprise: {Wildcard},
}

// DefaultBindings is the stock role → bundle table.
var DefaultBindings = map[Role]string{
	RoleClient: BundleBasic,
	RoleLawyer: BundleEnterprise,
	RoleAdmin:  BundleEnterprise,
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// DefaultCatalog returns the shared, frozen catalog built from
// [DefaultBundles] and [DefaultBindings].
func DefaultCatalog() *Catalog {
	defaultOnce.Do(func() {
		c, err := BuildCatalog(64, DefaultBundles, DefaultBindings)
		if err != nil {
			panic("permission: default catalog: " + err.Error())
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// HasPermission checks role against the default catalog.
func HasPermission(role Role, capability string) bool {
	return DefaultCatalog().HasPermission(role, capability)
}

// BuildCatalog defines bundles in sorted name order, applies bindings and
// freezes the result.
func BuildCatalog(width int, bundles map[string][]string, bindings map[Role]string) (*Catalog, error) {
	c, err := NewCatalog(width)
	if err != nil {
		return nil, err
	}

	for role := range bindings {
		if !role.Valid() {
			return nil, ErrUnknownRole
		}
	}

	for _, name := range sortedKeys(bundles) {
		if err := c.DefineBundle(name, bundles[name]...); err != nil {
			return nil, err
		}
	}
	for _, role := range Roles() {
		bundle, ok := bindings[role]
		if !ok {
			continue
		}
		if err := c.Bind(role, bundle); err != nil {
			return nil, err
		}
	}

	c.Freeze()
	return c, nil
}
