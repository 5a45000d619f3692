package authz

import "time"

// Identity is the authenticated principal as seen by the authorization
// layer. It is resolved by the session boundary; this package only reads
// it, never mutates it.
type Identity struct {
	ID        int64
	Email     string
	Role      Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Reason classifies why a check was denied.
type Reason string

const (
	// ReasonUnauthenticated means no identity was present. Recoverable by
	// signing in.
	ReasonUnauthenticated Reason = "unauthenticated"
	// ReasonUnauthorized means the identity's role is not in the
	// capability's allowed set. Recoverable only by a privilege change.
	ReasonUnauthorized Reason = "unauthorized"
)

// Decision is the ephemeral result of a single authorization check. It is
// consumed immediately by the calling guard and never persisted.
type Decision struct {
	Allowed    bool
	Reason     Reason
	Capability Capability
	Identity   *Identity
}

// Evaluator is the single decision point for "may this identity exercise
// this capability". It is a pure function of its inputs and the injected
// registry: no I/O, no side effects, safe under any concurrency.
type Evaluator struct {
	registry *Registry
}

// NewEvaluator constructs an Evaluator over the given registry.
func NewEvaluator(registry *Registry) *Evaluator {
	return &Evaluator{registry: registry}
}

// Check decides whether identity may exercise cap. A nil identity denies
// with ReasonUnauthenticated; a role outside the mapped set denies with
// ReasonUnauthorized. Never errors for well-formed input.
func (e *Evaluator) Check(identity *Identity, cap Capability) Decision {
	if identity == nil {
		return Decision{Allowed: false, Reason: ReasonUnauthenticated, Capability: cap}
	}
	if e.registry.Allows(cap, identity.Role) {
		return Decision{Allowed: true, Capability: cap, Identity: identity}
	}
	return Decision{Allowed: false, Reason: ReasonUnauthorized, Capability: cap, Identity: identity}
}

// Registry exposes the injected registry, mainly for guards that need to
// distinguish unmapped capabilities from ordinary denials.
func (e *Evaluator) Registry() *Registry {
	return e.registry
}
