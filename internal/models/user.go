package models

import "time"

// RoleName represents the assignable portal roles.
type RoleName string

const (
	RoleAdmin        RoleName = "admin"
	RoleOfficeMember RoleName = "office_member"
	RoleTeacher      RoleName = "teacher"
	RoleViewer       RoleName = "viewer"
	RoleParent       RoleName = "parent"
)

// ValidRole reports whether the name is one of the known roles.
func ValidRole(name RoleName) bool {
	switch name {
	case RoleAdmin, RoleOfficeMember, RoleTeacher, RoleViewer, RoleParent:
		return true
	default:
		return false
	}
}

// Role is a persisted role row referenced by user_roles.
type Role struct {
	ID   string   `db:"id" json:"id"`
	Name RoleName `db:"name" json:"name"`
}

// User represents an application user stored in the users table.
// Roles come from the user_roles join table; a user may hold several at once.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Roles        []RoleName `db:"-" json:"roles"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// HasRole reports whether the user has been assigned the given role.
func (u *User) HasRole(name RoleName) bool {
	for _, r := range u.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *RoleName
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
