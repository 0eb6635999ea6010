package models

import (
	"fmt"
	"strings"
	"time"
)

// UserRole is both the RBAC role of an account and an approval authority.
type UserRole string

const (
	RoleFaculty   UserRole = "faculty"
	RoleHOD       UserRole = "hod"
	RolePrincipal UserRole = "principal"
	RoleCSO       UserRole = "cso"
)

// KnownRoles lists every role the system recognises.
var KnownRoles = []UserRole{RoleFaculty, RoleHOD, RolePrincipal, RoleCSO}

// ParseUserRole matches raw case-insensitively against KnownRoles.
func ParseUserRole(raw string) (UserRole, error) {
	candidate := UserRole(strings.ToLower(strings.TrimSpace(raw)))
	for _, role := range KnownRoles {
		if role == candidate {
			return role, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

// Upper renders the role the way it appears in system-generated comments.
func (r UserRole) Upper() string {
	return strings.ToUpper(string(r))
}

// User represents an application user stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         UserRole   `db:"role" json:"role"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
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
