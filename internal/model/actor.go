package model

import "strings"

// Role is carried in the bearer token's "role" claim.
type Role string

const (
	RoleUser       Role = "USER"
	RoleTechnician Role = "TECHNICIAN"
	RoleAdmin      Role = "ADMIN"
)

// ParseRole normalises a role claim, accepting the Spanish names used by
// the identity service ("usuario", "tecnico", "administrador").
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin", "administrador", "administrator":
		return RoleAdmin
	case "technician", "tecnico", "técnico":
		return RoleTechnician
	}
	return RoleUser
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   uint64
	Role Role
}

// Staff reports whether the actor may act on other users' records.
func (a Actor) Staff() bool { return a.Role == RoleTechnician || a.Role == RoleAdmin }
