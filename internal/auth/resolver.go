package auth

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/quarterdeck-app/quarterdeck/internal/authz"
	"github.com/quarterdeck-app/quarterdeck/internal/shared"
)

// SessionResolver turns the request session into an authz.Identity. It is
// the only place a stored role string is parsed into the closed Role set;
// downstream code never sees raw role values.
type SessionResolver struct {
	repo Repository
	ttl  time.Duration
}

// NewSessionResolver constructs a SessionResolver. ttl is the configured
// session lifetime, used to derive identity expiry.
func NewSessionResolver(repo Repository, ttl time.Duration) *SessionResolver {
	return &SessionResolver{repo: repo, ttl: ttl}
}

// ResolveIdentity returns the authenticated identity for the request, or
// (nil, nil) when the request is anonymous. Only transport-level failures
// return an error; the guard treats those as unauthenticated.
func (sr *SessionResolver) ResolveIdentity(ctx context.Context, r *http.Request) (*authz.Identity, error) {
	sess := shared.SessionFromContext(ctx)
	if sess == nil {
		sess = shared.SessionFromContext(r.Context())
	}
	if sess == nil || sess.User() == "" {
		return nil, nil
	}
	userID, err := strconv.ParseInt(sess.User(), 10, 64)
	if err != nil {
		// A malformed session value is corrupt state, not a transport
		// error; treat the request as anonymous.
		return nil, nil
	}

	user, err := sr.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, nil
	}

	issued := sess.IssuedAt()
	return &authz.Identity{
		ID:        user.ID,
		Email:     user.Email,
		Role:      user.Role,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(sr.ttl),
	}, nil
}

var _ authz.IdentityResolver = (*SessionResolver)(nil)
