package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/quarterdeck-app/quarterdeck/internal/audit"
	"github.com/quarterdeck-app/quarterdeck/internal/authz"
	"github.com/quarterdeck-app/quarterdeck/internal/shared"
)

// ErrSelfAction indicates an admin tried to delete or demote themselves.
var ErrSelfAction = errors.New("users: cannot modify own account")

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	List(ctx context.Context, query ListQuery) ([]User, int, error)
	UpdateRole(ctx context.Context, id int64, role authz.Role) error
	SetActive(ctx context.Context, id int64, active bool) error
	Delete(ctx context.Context, id int64) (*User, error)
}

// AuditRecorder receives the audit entry for every successful mutation.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry)
}

// Service handles user management business logic. Every mutation passes
// through the action guard before it executes and is audited when it
// succeeds.
type Service struct {
	repo     RepositoryPort
	guard    *authz.Guard
	recorder AuditRecorder
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, guard *authz.Guard, recorder AuditRecorder) *Service {
	return &Service{repo: repo, guard: guard, recorder: recorder}
}

// Listing bundles one page of users with pagination metadata.
type Listing struct {
	Users      []User
	Pagination shared.Pagination
}

// List returns a page of users. Read access is enforced by the route
// guard on the admin surface, so no action check happens here.
func (s *Service) List(ctx context.Context, query ListQuery) (Listing, error) {
	if query.PerPage <= 0 {
		query.PerPage = 20
	}
	if query.Page <= 0 {
		query.Page = 1
	}
	rows, total, err := s.repo.List(ctx, query)
	if err != nil {
		return Listing{}, err
	}
	return Listing{
		Users:      rows,
		Pagination: shared.NewPagination(query.Page, query.PerPage, total),
	}, nil
}

// ChangeRole assigns a new role to the target account.
func (s *Service) ChangeRole(ctx context.Context, actor *authz.Identity, userID int64, role authz.Role) error {
	if err := s.guard.Authorize(ctx, actor, authz.CapActionChangeRole); err != nil {
		return err
	}
	if !role.Valid() {
		return fmt.Errorf("users: unknown role %q", role)
	}
	if actor.ID == userID && role != authz.RoleAdmin {
		// Demoting yourself would lock the last admin out.
		return ErrSelfAction
	}
	if err := s.repo.UpdateRole(ctx, userID, role); err != nil {
		return err
	}
	s.record(ctx, actor, "user.changeRole", userID, map[string]any{"role": string(role)})
	return nil
}

// SetActive toggles the active flag on the target account.
func (s *Service) SetActive(ctx context.Context, actor *authz.Identity, userID int64, active bool) error {
	if err := s.guard.Authorize(ctx, actor, authz.CapActionSetActive); err != nil {
		return err
	}
	if actor.ID == userID && !active {
		return ErrSelfAction
	}
	if err := s.repo.SetActive(ctx, userID, active); err != nil {
		return err
	}
	s.record(ctx, actor, "user.setActive", userID, map[string]any{"active": active})
	return nil
}

// Delete removes the target account.
func (s *Service) Delete(ctx context.Context, actor *authz.Identity, userID int64) error {
	if err := s.guard.Authorize(ctx, actor, authz.CapActionDeleteUser); err != nil {
		return err
	}
	if actor.ID == userID {
		return ErrSelfAction
	}
	deleted, err := s.repo.Delete(ctx, userID)
	if err != nil {
		return err
	}
	s.record(ctx, actor, "user.delete", userID, map[string]any{"email": deleted.Email})
	return nil
}

func (s *Service) record(ctx context.Context, actor *authz.Identity, action string, targetID int64, meta map[string]any) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(ctx, audit.Entry{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "users",
		EntityID: fmt.Sprintf("%d", targetID),
		Meta:     meta,
	})
}
