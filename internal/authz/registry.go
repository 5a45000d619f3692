package authz

// Registry holds the authoritative capability to role-set mapping. It is
// built once at process start and never mutated afterwards; changing the
// mapping requires a new deployment.
type Registry struct {
	grants map[Capability]map[Role]struct{}
}

// NewRegistry constructs a Registry from a literal mapping. The input map
// is copied, so callers cannot alias the internal state.
func NewRegistry(grants map[Capability][]Role) *Registry {
	out := make(map[Capability]map[Role]struct{}, len(grants))
	for cap, roles := range grants {
		set := make(map[Role]struct{}, len(roles))
		for _, role := range roles {
			set[role] = struct{}{}
		}
		out[cap] = set
	}
	return &Registry{grants: out}
}

// DefaultRegistry returns the shipped capability table. Every capability
// referenced by a guard anywhere in the application must appear here;
// absence means nobody is allowed.
func DefaultRegistry() *Registry {
	return NewRegistry(map[Capability][]Role{
		CapRouteDashboard:  {RoleUser, RoleAdmin},
		CapRouteAdmin:      {RoleAdmin},
		CapRouteAdminUsers: {RoleAdmin},
		CapRouteAdminAudit: {RoleAdmin},
		CapRouteJobs:       {RoleAdmin},

		CapActionChangeRole: {RoleAdmin},
		CapActionSetActive:  {RoleAdmin},
		CapActionDeleteUser: {RoleAdmin},
		CapActionPurgeAudit: {RoleAdmin},
	})
}

// RolesFor returns the roles permitted to exercise the capability. An
// unmapped capability yields an empty set, which denies everyone.
func (r *Registry) RolesFor(cap Capability) []Role {
	set, ok := r.grants[cap]
	if !ok {
		return nil
	}
	roles := make([]Role, 0, len(set))
	for role := range set {
		roles = append(roles, role)
	}
	return roles
}

// Allows reports whether the role may exercise the capability.
func (r *Registry) Allows(cap Capability, role Role) bool {
	set, ok := r.grants[cap]
	if !ok {
		return false
	}
	_, ok = set[role]
	return ok
}

// Known reports whether the capability has a registry entry. Guards use
// this to flag referencing an unmapped capability as an integrity fault
// while still denying.
func (r *Registry) Known(cap Capability) bool {
	_, ok := r.grants[cap]
	return ok
}

// Capabilities lists every mapped capability.
func (r *Registry) Capabilities() []Capability {
	caps := make([]Capability, 0, len(r.grants))
	for cap := range r.grants {
		caps = append(caps, cap)
	}
	return caps
}
