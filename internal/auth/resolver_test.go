package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/quarterdeck-app/quarterdeck/internal/auth"
	"github.com/quarterdeck-app/quarterdeck/internal/authz"
	"github.com/quarterdeck-app/quarterdeck/internal/shared"
)

func sessionRequest(t *testing.T, userID string) *http.Request {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	manager := shared.NewSessionManager(client, "qd_session", "secret", time.Hour, false)

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	sess, err := manager.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if userID != "" {
		sess.SetUser(userID)
	}
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

func TestResolveIdentityAnonymous(t *testing.T) {
	repo := newMemRepo()
	resolver := auth.NewSessionResolver(repo, time.Hour)

	req := sessionRequest(t, "")
	identity, err := resolver.ResolveIdentity(req.Context(), req)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if identity != nil {
		t.Fatalf("anonymous session resolved to %+v", identity)
	}
}

func TestResolveIdentityHappyPath(t *testing.T) {
	repo := newMemRepo()
	svc := auth.NewService(repo, nil, nil)
	user, err := svc.Signup(context.Background(), "resolve@example.com", "Resolve", "password123")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}

	resolver := auth.NewSessionResolver(repo, 2*time.Hour)
	req := sessionRequest(t, "1")
	identity, err := resolver.ResolveIdentity(req.Context(), req)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if identity == nil {
		t.Fatalf("expected identity")
	}
	if identity.ID != user.ID || identity.Email != user.Email {
		t.Fatalf("identity mismatch: %+v", identity)
	}
	if identity.Role != authz.RoleAdmin {
		t.Fatalf("first user should resolve as admin, got %q", identity.Role)
	}
	if identity.ExpiresAt.Sub(identity.IssuedAt) != 2*time.Hour {
		t.Fatalf("expiry not derived from ttl: %+v", identity)
	}
}

func TestResolveIdentityUnknownUser(t *testing.T) {
	repo := newMemRepo()
	resolver := auth.NewSessionResolver(repo, time.Hour)

	req := sessionRequest(t, "999")
	identity, err := resolver.ResolveIdentity(req.Context(), req)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if identity != nil {
		t.Fatalf("stale session should resolve anonymous, got %+v", identity)
	}
}

func TestResolveIdentityCorruptSessionValue(t *testing.T) {
	repo := newMemRepo()
	resolver := auth.NewSessionResolver(repo, time.Hour)

	req := sessionRequest(t, "not-a-number")
	identity, err := resolver.ResolveIdentity(req.Context(), req)
	if err != nil {
		t.Fatalf("corrupt session value is not a transport error: %v", err)
	}
	if identity != nil {
		t.Fatalf("corrupt session should resolve anonymous")
	}
}

func TestResolveIdentityInactiveUser(t *testing.T) {
	repo := newMemRepo()
	svc := auth.NewService(repo, nil, nil)
	if _, err := svc.Signup(context.Background(), "inactive@example.com", "Inactive", "password123"); err != nil {
		t.Fatalf("signup: %v", err)
	}
	repo.users[1].IsActive = false

	resolver := auth.NewSessionResolver(repo, time.Hour)
	req := sessionRequest(t, "1")
	identity, err := resolver.ResolveIdentity(req.Context(), req)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if identity != nil {
		t.Fatalf("deactivated account must not resolve an identity")
	}
}

func TestResolveIdentityTransportErrorPropagates(t *testing.T) {
	repo := newMemRepo()
	repo.findErr = errors.New("pg: connection refused")
	resolver := auth.NewSessionResolver(repo, time.Hour)

	req := sessionRequest(t, "1")
	if _, err := resolver.ResolveIdentity(req.Context(), req); err == nil {
		t.Fatalf("transport failure must surface so the guard can fail closed")
	}
}
