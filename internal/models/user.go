package models

import (
	"strings"
	"time"
)

// UserRole is the single role a user holds.
type UserRole string

const (
	RoleStudent    UserRole = "STUDENT"
	RoleInstructor UserRole = "INSTRUCTOR"
	RoleAdmin      UserRole = "ADMIN"
)

// ParseRole accepts a role name case-insensitively.
func ParseRole(raw string) (UserRole, bool) {
	role := UserRole(strings.ToUpper(strings.TrimSpace(raw)))
	switch role {
	case RoleStudent, RoleInstructor, RoleAdmin:
		return role, true
	}
	return "", false
}

// User represents an application user stored in the users table.
type User struct {
	ID        string    `db:"id" json:"id"`
	UserName  string    `db:"user_name" json:"user_name"`
	Email     string    `db:"email" json:"email"`
	FirstName string    `db:"first_name" json:"first_name"`
	LastName  string    `db:"last_name" json:"last_name"`
	Role      UserRole  `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// DisplayName returns "First Last", falling back to the user name.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.UserName
	}
	return name
}

// Ref returns the compact reference embedded in report views.
func (u User) Ref() UserRef {
	return UserRef{ID: u.ID, UserName: u.UserName, DisplayName: u.DisplayName(), Role: u.Role}
}

// UserRef is a user as shown inside other resources.
type UserRef struct {
	ID          string   `json:"id"`
	UserName    string   `json:"user_name"`
	DisplayName string   `json:"display_name"`
	Role        UserRole `json:"role"`
}

// RoleChangeResult reports the outcome of one role replacement.
type RoleChangeResult struct {
	UserID  string   `json:"user_id"`
	Role    UserRole `json:"role,omitempty"`
	Updated bool     `json:"updated"`
	Error   string   `json:"error,omitempty"`
}
