package authz_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/quarterdeck-app/quarterdeck/internal/authz"
)

type stubResolver struct {
	identity *authz.Identity
	err      error
}

func (s *stubResolver) ResolveIdentity(ctx context.Context, r *http.Request) (*authz.Identity, error) {
	return s.identity, s.err
}

type recordedDecision struct {
	decision authz.Decision
	ip       string
	ua       string
}

type stubRecorder struct {
	mu      sync.Mutex
	entries []recordedDecision
}

func (s *stubRecorder) RecordDecision(ctx context.Context, d authz.Decision, ip, ua string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, recordedDecision{decision: d, ip: ip, ua: ua})
}

func newGuard(resolver authz.IdentityResolver, recorder authz.DecisionRecorder) *authz.Guard {
	return authz.NewGuard(authz.GuardConfig{
		Evaluator: authz.NewEvaluator(authz.DefaultRegistry()),
		Resolver:  resolver,
		Recorder:  recorder,
	})
}

func TestCheckRouteUnauthenticatedRedirectsToLoginWithNext(t *testing.T) {
	guard := newGuard(&stubResolver{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/admin/users?page=2", nil)

	result := guard.CheckRoute(req.Context(), req, authz.CapRouteAdminUsers)
	if result.Allowed() {
		t.Fatalf("expected denial for anonymous request")
	}
	if result.Decision.Reason != authz.ReasonUnauthenticated {
		t.Fatalf("reason = %q, want unauthenticated", result.Decision.Reason)
	}

	target, err := url.Parse(result.Redirect)
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	if target.Path != "/auth/login" {
		t.Fatalf("redirect path = %q, want /auth/login", target.Path)
	}
	if next := target.Query().Get("next"); next != "/admin/users?page=2" {
		t.Fatalf("next = %q, original path not preserved", next)
	}
}

func TestCheckRouteUnauthorizedRedirectsToForbidden(t *testing.T) {
	resolver := &stubResolver{identity: &authz.Identity{ID: 4, Role: authz.RoleUser}}
	guard := newGuard(resolver, nil)
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)

	result := guard.CheckRoute(req.Context(), req, authz.CapRouteAdmin)
	if result.Allowed() {
		t.Fatalf("role user must not reach %q", authz.CapRouteAdmin)
	}
	if result.Decision.Reason != authz.ReasonUnauthorized {
		t.Fatalf("reason = %q, want unauthorized", result.Decision.Reason)
	}
	if result.Redirect != "/forbidden" {
		t.Fatalf("redirect = %q, must be distinct from login", result.Redirect)
	}
}

func TestCheckRouteResolverErrorFailsClosed(t *testing.T) {
	resolver := &stubResolver{err: errors.New("redis: connection refused")}
	guard := newGuard(resolver, nil)
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)

	result := guard.CheckRoute(req.Context(), req, authz.CapRouteDashboard)
	if result.Allowed() {
		t.Fatalf("transport error must not fail open")
	}
	if result.Decision.Reason != authz.ReasonUnauthenticated {
		t.Fatalf("reason = %q, want unauthenticated", result.Decision.Reason)
	}
}

func TestCheckRouteAllowedCarriesIdentity(t *testing.T) {
	identity := &authz.Identity{ID: 9, Email: "admin@example.com", Role: authz.RoleAdmin}
	guard := newGuard(&stubResolver{identity: identity}, nil)
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)

	result := guard.CheckRoute(req.Context(), req, authz.CapRouteAdmin)
	if !result.Allowed() {
		t.Fatalf("admin should pass: %+v", result.Decision)
	}
	if result.Redirect != "" {
		t.Fatalf("allowed result must not carry a redirect")
	}
	if result.Decision.Identity != identity {
		t.Fatalf("decision should carry the resolved identity")
	}
}

func TestRequireRouteMiddleware(t *testing.T) {
	identity := &authz.Identity{ID: 2, Role: authz.RoleAdmin}
	guard := newGuard(&stubResolver{identity: identity}, nil)

	var seen *authz.Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = authz.IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := guard.RequireRoute(authz.CapRouteAdminUsers)(next)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/admin/users", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if seen == nil || seen.ID != 2 {
		t.Fatalf("identity not propagated to handler context")
	}

	// Same middleware, anonymous request: redirect instead of render.
	anonGuard := newGuard(&stubResolver{}, nil)
	handler = anonGuard.RequireRoute(authz.CapRouteAdminUsers)(next)
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/admin/users", nil))
	if res.Code != http.StatusSeeOther {
		t.Fatalf("expected 303 redirect, got %d", res.Code)
	}
}

func TestAuthorizeReturnsDistinguishableErrors(t *testing.T) {
	guard := newGuard(&stubResolver{}, nil)

	err := guard.Authorize(context.Background(), nil, authz.CapActionDeleteUser)
	if !errors.Is(err, authz.ErrUnauthenticated) {
		t.Fatalf("nil identity: got %v, want ErrUnauthenticated", err)
	}
	if errors.Is(err, authz.ErrUnauthorized) {
		t.Fatalf("the two denial reasons must never be conflated")
	}

	err = guard.Authorize(context.Background(), &authz.Identity{ID: 5, Role: authz.RoleUser}, authz.CapActionDeleteUser)
	if !errors.Is(err, authz.ErrUnauthorized) {
		t.Fatalf("role user: got %v, want ErrUnauthorized", err)
	}

	if err := guard.Authorize(context.Background(), &authz.Identity{ID: 1, Role: authz.RoleAdmin}, authz.CapActionDeleteUser); err != nil {
		t.Fatalf("admin should be authorized: %v", err)
	}
}

func TestDenialsAreRecorded(t *testing.T) {
	recorder := &stubRecorder{}
	resolver := &stubResolver{identity: &authz.Identity{ID: 8, Role: authz.RoleUser}}
	guard := newGuard(resolver, recorder)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.RemoteAddr = "203.0.113.9:4711"
	req.Header.Set("User-Agent", "test-agent")
	guard.CheckRoute(req.Context(), req, authz.CapRouteAdmin)

	_ = guard.Authorize(context.Background(), resolver.identity, authz.CapActionDeleteUser)

	if len(recorder.entries) != 2 {
		t.Fatalf("expected 2 recorded denials, got %d", len(recorder.entries))
	}
	route := recorder.entries[0]
	if route.decision.Capability != authz.CapRouteAdmin || route.decision.Reason != authz.ReasonUnauthorized {
		t.Fatalf("unexpected route denial record: %+v", route.decision)
	}
	if route.ip != "203.0.113.9:4711" || route.ua != "test-agent" {
		t.Fatalf("route denial missing client metadata: %+v", route)
	}
	action := recorder.entries[1]
	if action.decision.Capability != authz.CapActionDeleteUser {
		t.Fatalf("unexpected action denial record: %+v", action.decision)
	}
}

func TestAllowedRouteIsNotRecorded(t *testing.T) {
	recorder := &stubRecorder{}
	guard := newGuard(&stubResolver{identity: &authz.Identity{ID: 1, Role: authz.RoleAdmin}}, recorder)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	guard.CheckRoute(req.Context(), req, authz.CapRouteAdmin)
	if len(recorder.entries) != 0 {
		t.Fatalf("allowed route loads should not hit the audit trail, got %d entries", len(recorder.entries))
	}
}
