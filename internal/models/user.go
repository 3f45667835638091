package models

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Actor is the caller identity handed over by the identity provider.
// The engine trusts it as-is.
type Actor struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// ParseRole maps an unknown or empty role to RoleUser.
func ParseRole(raw string) Role {
	if Role(raw) == RoleAdmin {
		return RoleAdmin
	}
	return RoleUser
}
