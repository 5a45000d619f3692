package authz

import "strings"

// Role is a closed category assigned to an identity. Unknown values are
// normalized to the default at the session boundary, never deeper.
type Role string

const (
	// RoleUser is the default role for new accounts.
	RoleUser Role = "user"
	// RoleAdmin grants access to the admin surface and destructive actions.
	RoleAdmin Role = "admin"
)

// DefaultRole is assigned when no explicit role applies.
const DefaultRole = RoleUser

// Valid reports whether the role belongs to the closed set.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// ParseRole normalizes a stored role value. Empty or unrecognized input
// falls back to DefaultRole so a corrupt row can never widen access.
func ParseRole(raw string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleUser:
		return RoleUser
	default:
		return DefaultRole
	}
}
