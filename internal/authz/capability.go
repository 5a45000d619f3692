package authz

import "strings"

// Capability is an opaque, statically enumerated permission identifier,
// namespaced by kind: "route:<path>" for page loads, "action:<name>" for
// server-side mutations.
type Capability string

// Route capabilities.
const (
	CapRouteDashboard  Capability = "route:/dashboard"
	CapRouteAdmin      Capability = "route:/admin"
	CapRouteAdminUsers Capability = "route:/admin/users"
	CapRouteAdminAudit Capability = "route:/admin/audit"
	CapRouteJobs       Capability = "route:/jobs"
)

// Action capabilities.
const (
	CapActionChangeRole Capability = "action:user.changeRole"
	CapActionSetActive  Capability = "action:user.setActive"
	CapActionDeleteUser Capability = "action:user.delete"
	CapActionPurgeAudit Capability = "action:audit.purge"
)

// Kind returns the namespace prefix of the capability ("route" or "action").
func (c Capability) Kind() string {
	if i := strings.IndexByte(string(c), ':'); i > 0 {
		return string(c)[:i]
	}
	return ""
}

// Name returns the capability identifier without its namespace prefix.
func (c Capability) Name() string {
	if i := strings.IndexByte(string(c), ':'); i >= 0 {
		return string(c)[i+1:]
	}
	return string(c)
}

// RouteCapability builds the capability identifier for a route path.
func RouteCapability(path string) Capability {
	return Capability("route:" + path)
}

// ActionCapability builds the capability identifier for an action name.
func ActionCapability(name string) Capability {
	return Capability("action:" + name)
}
