package auth

import (
	"time"

	"github.com/quarterdeck-app/quarterdeck/internal/authz"
)

// User represents a user account.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	Role         authz.Role
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
