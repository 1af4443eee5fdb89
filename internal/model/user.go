package model

type Role string

const (
	RoleOwner   Role = "owner"
	RoleAdmin   Role = "admin"
	RoleMember  Role = "member"
	RoleMentor  Role = "mentor"
	RoleStudent Role = "student"
	RoleUnknown Role = "unknown"
)

// Known reports whether r is one of the roles the backend hands out.
func (r Role) Known() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleMentor, RoleStudent:
		return true
	}
	return false
}

// GroupMember is one roster entry of a group.
type GroupMember struct {
	UserID   int64  `json:"user_id"`
	Role     Role   `json:"role"`
	Username string `json:"username"`
}

// NormalizedRole maps anything unexpected to RoleUnknown.
func (m GroupMember) NormalizedRole() Role {
	if m.Role.Known() {
		return m.Role
	}
	return RoleUnknown
}
