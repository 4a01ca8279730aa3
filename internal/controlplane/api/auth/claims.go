// Package auth provides JWT authentication for the echoport control API.
package auth

import "github.com/golang-jwt/jwt/v5"

// RoleAdmin may restart and shut down the server.
const RoleAdmin = "admin"

// Claims represents the JWT claims of a control API token.
type Claims struct {
	jwt.RegisteredClaims

	// Role is the caller's role. Only "admin" is issued today.
	Role string `json:"role"`
}

// IsAdmin returns true if the token carries the admin role.
func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}
