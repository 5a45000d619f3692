package users

import (
	"time"

	"github.com/quarterdeck-app/quarterdeck/internal/authz"
)

// User represents a user account for management.
type User struct {
	ID        int64
	Email     string
	Name      string
	Role      authz.Role
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ListQuery narrows and orders the user listing.
type ListQuery struct {
	Search  string
	SortBy  string
	SortDir string
	Page    int
	PerPage int
}

// Sort columns accepted by the listing.
const (
	SortByEmail   = "email"
	SortByCreated = "created_at"
	SortByRole    = "role"
)
