package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quarterdeck-app/quarterdeck/internal/authz"
	"github.com/quarterdeck-app/quarterdeck/internal/shared"
)

// CreateUserParams carries the fields for a new account. The role is not a
// parameter: the repository assigns it per the bootstrap rule.
type CreateUserParams struct {
	Email        string
	Name         string
	PasswordHash string
}

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	CreateUser(ctx context.Context, params CreateUserParams) (*User, error)
	CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error
	DeleteSession(ctx context.Context, id string) error
}

// bootstrapLockKey serializes first-admin bootstrap across the cluster.
const bootstrapLockKey = 0x51444b01

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = "id, email, name, password_hash, role, is_active, created_at, updated_at"

// FindByEmail fetches a user by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return r.scanUser(r.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = $1", email))
}

// FindByID fetches a user by primary key.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	return r.scanUser(r.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

// CreateUser inserts a new account, assigning the role atomically: inside
// one transaction an advisory lock serializes the count check, so exactly
// one account can ever observe an empty table and become admin. A partial
// unique index on (role) WHERE bootstrap_admin backs this up: should the
// insert still conflict, the account is demoted to the default role.
func (r *PGRepository) CreateUser(ctx context.Context, params CreateUserParams) (*User, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	user, err := r.createUserTx(ctx, tx, params)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return user, nil
}

// createUserTx runs the locked bootstrap flow inside the caller's
// transaction: take the advisory lock, count, pick the role, insert, and
// resolve a unique violation.
func (r *PGRepository) createUserTx(ctx context.Context, tx pgx.Tx, params CreateUserParams) (*User, error) {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", bootstrapLockKey); err != nil {
		return nil, err
	}

	var count int64
	if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return nil, err
	}

	role := authz.DefaultRole
	bootstrap := count == 0
	if bootstrap {
		role = authz.RoleAdmin
	}

	user, err := r.insertUserSavepoint(ctx, tx, params, role, bootstrap)
	if err != nil {
		switch classifyInsertError(err) {
		case insertConflictEmail:
			return nil, shared.ErrEmailTaken
		case insertConflictBootstrap:
			// Another signup won the bootstrap concurrently. Demote.
			return r.insertUserSavepoint(ctx, tx, params, authz.DefaultRole, false)
		default:
			return nil, err
		}
	}
	return user, nil
}

// insertConflict classifies a failed user insert by the constraint that
// rejected it.
type insertConflict int

const (
	insertConflictNone insertConflict = iota
	insertConflictEmail
	insertConflictBootstrap
)

// classifyInsertError maps a unique violation (code 23505) onto the two
// constraints CreateUser knows how to resolve. Any other error, including
// a 23505 from an unexpected constraint, classifies as none and must
// propagate unchanged.
func classifyInsertError(err error) insertConflict {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return insertConflictNone
	}
	switch pgErr.ConstraintName {
	case "users_email_key":
		return insertConflictEmail
	case "users_bootstrap_admin_idx":
		return insertConflictBootstrap
	}
	return insertConflictNone
}

// insertUserSavepoint runs the insert inside a savepoint so a unique
// violation aborts only the attempt, keeping the outer transaction usable
// for the demotion retry.
func (r *PGRepository) insertUserSavepoint(ctx context.Context, tx pgx.Tx, params CreateUserParams, role authz.Role, bootstrap bool) (*User, error) {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return nil, err
	}
	user, err := r.insertUser(ctx, sp, params, role, bootstrap)
	if err != nil {
		_ = sp.Rollback(ctx)
		return nil, err
	}
	if err := sp.Commit(ctx); err != nil {
		return nil, err
	}
	return user, nil
}

func (r *PGRepository) insertUser(ctx context.Context, tx pgx.Tx, params CreateUserParams, role authz.Role, bootstrap bool) (*User, error) {
	row := tx.QueryRow(ctx,
		`INSERT INTO users (email, name, password_hash, role, bootstrap_admin, is_active)
		 VALUES ($1, $2, $3, $4, $5, TRUE)
		 RETURNING `+userColumns,
		params.Email, params.Name, params.PasswordHash, string(role), bootstrap)
	return r.scanUser(row)
}

// CreateSession persists a login session row for audit independence.
func (r *PGRepository) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id, created_at, expires_at, ip, user_agent)
		 VALUES ($1, $2, NOW(), $3, NULLIF($4, ''), NULLIF($5, ''))
		 ON CONFLICT (id) DO UPDATE SET expires_at = EXCLUDED.expires_at`,
		id, userID, expiresAt.UTC(), ip, ua)
	return err
}

// DeleteSession removes a session record.
func (r *PGRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM sessions WHERE id = $1", id)
	return err
}

func (r *PGRepository) scanUser(row pgx.Row) (*User, error) {
	var user User
	var role string
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &role, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	user.Role = authz.ParseRole(role)
	return &user, nil
}

var _ Repository = (*PGRepository)(nil)
