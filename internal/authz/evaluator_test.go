package authz

import "testing"

func TestCheckAbsentIdentityIsUnauthenticated(t *testing.T) {
	eval := NewEvaluator(DefaultRegistry())
	for _, cap := range DefaultRegistry().Capabilities() {
		d := eval.Check(nil, cap)
		if d.Allowed {
			t.Fatalf("nil identity allowed for %q", cap)
		}
		if d.Reason != ReasonUnauthenticated {
			t.Fatalf("nil identity reason = %q for %q, want unauthenticated", d.Reason, cap)
		}
	}
}

func TestCheckMatchesRegistryMembership(t *testing.T) {
	reg := DefaultRegistry()
	eval := NewEvaluator(reg)
	roles := []Role{RoleUser, RoleAdmin}
	for _, cap := range reg.Capabilities() {
		for _, role := range roles {
			identity := &Identity{ID: 7, Role: role}
			d := eval.Check(identity, cap)
			want := reg.Allows(cap, role)
			if d.Allowed != want {
				t.Fatalf("Check(role=%s, %q).Allowed = %v, registry says %v", role, cap, d.Allowed, want)
			}
			if !d.Allowed && d.Reason != ReasonUnauthorized {
				t.Fatalf("denied with reason %q, want unauthorized", d.Reason)
			}
		}
	}
}

func TestCheckIsDeterministic(t *testing.T) {
	eval := NewEvaluator(DefaultRegistry())
	identity := &Identity{ID: 3, Role: RoleUser}
	first := eval.Check(identity, CapRouteAdmin)
	for i := 0; i < 100; i++ {
		if got := eval.Check(identity, CapRouteAdmin); got != first {
			t.Fatalf("iteration %d: %+v != %+v", i, got, first)
		}
	}
}

func TestCheckUnmappedCapabilityDeniesEveryone(t *testing.T) {
	eval := NewEvaluator(DefaultRegistry())
	cap := Capability("action:definitely.not.mapped")
	for _, role := range []Role{RoleUser, RoleAdmin} {
		d := eval.Check(&Identity{ID: 1, Role: role}, cap)
		if d.Allowed {
			t.Fatalf("unmapped capability allowed role %s", role)
		}
		if d.Reason != ReasonUnauthorized {
			t.Fatalf("unmapped capability reason = %q", d.Reason)
		}
	}
}

func TestCheckWithAlternateRegistry(t *testing.T) {
	// The registry is injected, so an alternate mapping changes decisions
	// without touching global state.
	reg := NewRegistry(map[Capability][]Role{
		CapRouteAdmin: {RoleUser},
	})
	eval := NewEvaluator(reg)
	if d := eval.Check(&Identity{ID: 1, Role: RoleUser}, CapRouteAdmin); !d.Allowed {
		t.Fatalf("alternate registry should allow user on %q", CapRouteAdmin)
	}
	if d := eval.Check(&Identity{ID: 2, Role: RoleAdmin}, CapRouteAdmin); d.Allowed {
		t.Fatalf("alternate registry should deny admin on %q", CapRouteAdmin)
	}
}
