package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Role is the authorization level of a user account.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// ErrInvalidRole indicates a role value outside the supported set.
var ErrInvalidRole = errors.New("auth: invalid role")

// ParseRole accepts USER or ADMIN in any letter case.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, raw)
	}
}

// String returns the wire representation.
func (r Role) String() string {
	return string(r)
}

// Principal is the caller identity resolved from trusted server state, never from client claims.
type Principal struct {
	UserID string
	Role   Role
}

// Authenticated reports whether the principal carries a user id.
func (p Principal) Authenticated() bool {
	return strings.TrimSpace(p.UserID) != ""
}

// IsAdmin reports whether the principal holds the ADMIN role.
func (p Principal) IsAdmin() bool {
	return p.Authenticated() && p.Role == RoleAdmin
}

// CanModify applies the ownership matrix: the owner or any admin. Records without an
// owner can only be modified by admins.
func (p Principal) CanModify(ownerID *string) bool {
	if !p.Authenticated() {
		return false
	}
	if p.Role == RoleAdmin {
		return true
	}
	return ownerID != nil && *ownerID == p.UserID
}
