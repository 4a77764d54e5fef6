package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims identifies the actor of a request. Tokens are minted by the
// identity provider (or the token command) and only validated here.
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Role   UserRole `json:"role"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the actor holds the ADMIN role.
func (c *JWTClaims) IsAdmin() bool {
	return c.Is(RoleAdmin)
}

// IsStudent reports whether the actor may file reports.
func (c *JWTClaims) IsStudent() bool {
	return c.Is(RoleStudent)
}

// Is reports whether the actor holds role. A nil actor holds none.
func (c *JWTClaims) Is(role UserRole) bool {
	return c != nil && c.Role == role
}
