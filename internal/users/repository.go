package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quarterdeck-app/quarterdeck/internal/authz"
	"github.com/quarterdeck-app/quarterdeck/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns one page of users plus the total matching count. Sort
// column and direction are validated against a whitelist; anything else
// falls back to creation order.
func (r *Repository) List(ctx context.Context, query ListQuery) ([]User, int, error) {
	where := ""
	args := []any{}
	if search := strings.TrimSpace(query.Search); search != "" {
		where = " WHERE email ILIKE $1 OR name ILIKE $1"
		args = append(args, "%"+search+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM users"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	offset := (query.Page - 1) * query.PerPage
	listQuery := fmt.Sprintf(
		"SELECT id, email, name, role, is_active, created_at, updated_at FROM users%s ORDER BY %s %s LIMIT $%d OFFSET $%d",
		where, sortColumn(query.SortBy), sortDirection(query.SortDir), len(args)+1, len(args)+2)
	args = append(args, query.PerPage, offset)

	rows, err := r.pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var user User
		var role string
		if err := rows.Scan(&user.ID, &user.Email, &user.Name, &role, &user.IsActive, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, 0, err
		}
		user.Role = authz.ParseRole(role)
		out = append(out, user)
	}
	return out, total, rows.Err()
}

// UpdateRole sets the role column. The bootstrap flag clears on any
// explicit role change so the partial unique index only ever covers the
// original first admin.
func (r *Repository) UpdateRole(ctx context.Context, id int64, role authz.Role) error {
	tag, err := r.pool.Exec(ctx,
		"UPDATE users SET role = $2, bootstrap_admin = FALSE, updated_at = NOW() WHERE id = $1",
		id, string(role))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SetActive toggles the active flag.
func (r *Repository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx,
		"UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1", id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Delete removes the account and returns the deleted row for auditing.
func (r *Repository) Delete(ctx context.Context, id int64) (*User, error) {
	var user User
	var role string
	err := r.pool.QueryRow(ctx,
		"DELETE FROM users WHERE id = $1 RETURNING id, email, name, role, is_active, created_at, updated_at", id).
		Scan(&user.ID, &user.Email, &user.Name, &role, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	user.Role = authz.ParseRole(role)
	return &user, nil
}

func sortColumn(sortBy string) string {
	switch sortBy {
	case SortByEmail:
		return "email"
	case SortByRole:
		return "role"
	case SortByCreated:
		return "created_at"
	default:
		return "created_at"
	}
}

func sortDirection(dir string) string {
	if strings.EqualFold(dir, "asc") {
		return "ASC"
	}
	return "DESC"
}

var _ RepositoryPort = (*Repository)(nil)
