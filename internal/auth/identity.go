package auth

import "github.com/google/uuid"

type Role string

const (
	RoleClient Role = "client"
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleDriver, RoleAdmin:
		return true
	}
	return false
}

// Identity is the authenticated user bound to a connection or request.
type Identity struct {
	UserID uuid.UUID
	Role   Role
}

func (i Identity) IsDriver() bool { return i.Role == RoleDriver }
func (i Identity) IsClient() bool { return i.Role == RoleClient }
func (i Identity) IsAdmin() bool  { return i.Role == RoleAdmin }
