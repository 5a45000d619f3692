package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

var (
	// ErrUnauthenticated is returned by the action guard when no identity
	// is present. The UI maps it to a sign-in prompt.
	ErrUnauthenticated = errors.New("authz: unauthenticated")
	// ErrUnauthorized is returned by the action guard when the identity's
	// role does not cover the capability. The UI maps it to a
	// permission-denied message, never conflated with ErrUnauthenticated.
	ErrUnauthorized = errors.New("authz: unauthorized")
)

// IdentityResolver resolves the authenticated identity for a request.
// Implementations may perform I/O; a transport-level failure must surface
// as an error so the guard can fail closed.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, r *http.Request) (*Identity, error)
}

// DecisionRecorder receives security-relevant authorization decisions for
// the audit trail. Implementations must be best-effort and never panic
// into the caller.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, d Decision, ip, userAgent string)
}

// DecisionObserver feeds decision outcomes into metrics.
type DecisionObserver interface {
	ObserveDecision(cap Capability, outcome string)
}

// GuardResult is the explicit outcome of a route-load check: either the
// request may proceed, or the router must redirect. Denials never proceed.
type GuardResult struct {
	Decision Decision
	// Redirect is the destination for a denied request, empty when allowed.
	Redirect string
}

// Allowed reports whether the guarded route may render.
func (g GuardResult) Allowed() bool {
	return g.Decision.Allowed
}

// Guard bridges the pure Evaluator into route-load and action-call
// control flow.
type Guard struct {
	evaluator *Evaluator
	resolver  IdentityResolver
	recorder  DecisionRecorder
	observer  DecisionObserver
	logger    *slog.Logger

	loginPath     string
	forbiddenPath string
}

// GuardConfig collects Guard dependencies. Recorder and Observer are
// optional; Logger falls back to slog.Default.
type GuardConfig struct {
	Evaluator     *Evaluator
	Resolver      IdentityResolver
	Recorder      DecisionRecorder
	Observer      DecisionObserver
	Logger        *slog.Logger
	LoginPath     string
	ForbiddenPath string
}

// NewGuard constructs a Guard.
func NewGuard(cfg GuardConfig) *Guard {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loginPath := cfg.LoginPath
	if loginPath == "" {
		loginPath = "/auth/login"
	}
	forbiddenPath := cfg.ForbiddenPath
	if forbiddenPath == "" {
		forbiddenPath = "/forbidden"
	}
	return &Guard{
		evaluator:     cfg.Evaluator,
		resolver:      cfg.Resolver,
		recorder:      cfg.Recorder,
		observer:      cfg.Observer,
		logger:        logger,
		loginPath:     loginPath,
		forbiddenPath: forbiddenPath,
	}
}

// CheckRoute resolves the identity for the request and evaluates cap,
// translating a denial into an explicit redirect destination. An
// unauthenticated denial targets the login page with the original path
// preserved in the "next" parameter; an unauthorized denial targets the
// access-denied page. Resolver failures are treated as unauthenticated.
func (g *Guard) CheckRoute(ctx context.Context, r *http.Request, cap Capability) GuardResult {
	identity, err := g.resolver.ResolveIdentity(ctx, r)
	if err != nil {
		g.logger.Warn("identity resolution failed, failing closed",
			slog.String("capability", string(cap)), slog.Any("error", err))
		identity = nil
	}

	decision := g.evaluate(identity, cap)
	if decision.Allowed {
		g.observe(decision)
		return GuardResult{Decision: decision}
	}

	g.observe(decision)
	g.record(ctx, decision, r)

	if decision.Reason == ReasonUnauthenticated {
		return GuardResult{Decision: decision, Redirect: g.loginRedirect(r)}
	}
	return GuardResult{Decision: decision, Redirect: g.forbiddenPath}
}

// RequireRoute returns chi middleware enforcing cap before the protected
// view renders. Allowed requests proceed with the identity stored in
// context; denied requests redirect per CheckRoute.
func (g *Guard) RequireRoute(cap Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := g.CheckRoute(r.Context(), r, cap)
			if !result.Allowed() {
				http.Redirect(w, r, result.Redirect, http.StatusSeeOther)
				return
			}
			ctx := ContextWithIdentity(r.Context(), result.Decision.Identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authorize is the action guard: it evaluates cap for an already-resolved
// identity and returns a typed error on denial so the operation never
// executes. Callers distinguish the reasons with errors.Is.
func (g *Guard) Authorize(ctx context.Context, identity *Identity, cap Capability) error {
	decision := g.evaluate(identity, cap)
	g.observe(decision)
	if decision.Allowed {
		return nil
	}
	g.recordAction(ctx, decision)
	if decision.Reason == ReasonUnauthenticated {
		return fmt.Errorf("%w: %s", ErrUnauthenticated, cap)
	}
	return fmt.Errorf("%w: %s", ErrUnauthorized, cap)
}

func (g *Guard) evaluate(identity *Identity, cap Capability) Decision {
	if !g.evaluator.Registry().Known(cap) {
		// Deployment defect: a guard references a capability the registry
		// does not map. Fail closed and be loud.
		g.logger.Error("capability missing from registry",
			slog.String("capability", string(cap)))
	}
	return g.evaluator.Check(identity, cap)
}

func (g *Guard) observe(d Decision) {
	if g.observer == nil {
		return
	}
	outcome := "allow"
	if !d.Allowed {
		outcome = string(d.Reason)
	}
	g.observer.ObserveDecision(d.Capability, outcome)
}

func (g *Guard) record(ctx context.Context, d Decision, r *http.Request) {
	if g.recorder == nil {
		return
	}
	g.recorder.RecordDecision(ctx, d, r.RemoteAddr, r.UserAgent())
}

func (g *Guard) recordAction(ctx context.Context, d Decision) {
	if g.recorder == nil {
		return
	}
	g.recorder.RecordDecision(ctx, d, "", "")
}

func (g *Guard) loginRedirect(r *http.Request) string {
	next := r.URL.Path
	if r.URL.RawQuery != "" {
		next += "?" + r.URL.RawQuery
	}
	return g.loginPath + "?next=" + url.QueryEscape(next)
}

type identityContextKey struct{}

// ContextWithIdentity stores the resolved identity in context.
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext extracts the identity placed by the route guard,
// nil when the request was not guarded or is anonymous.
func IdentityFromContext(ctx context.Context) *Identity {
	identity, _ := ctx.Value(identityContextKey{}).(*Identity)
	return identity
}
