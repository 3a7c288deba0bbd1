// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Role is the principal's privilege level.
type Role string

const (
	RoleJudge Role = "judge"
	RoleAdmin Role = "admin"
)

// ParseRole normalizes s into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleJudge:
		return RoleJudge, nil
	case RoleAdmin:
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Identity is the signed-in principal.
type Identity struct {
	Username string
	Role     Role
	Token    string
}

// Valid reports whether the identity is well-formed enough to be held.
func (i Identity) Valid() bool {
	return strings.TrimSpace(i.Username) != "" && i.Token != "" && (i.Role == RoleJudge || i.Role == RoleAdmin)
}

// IsAdmin reports whether the principal may see every judge's sessions.
func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// Persisted is the identity minus its token, the shape kept under the "user" key.
type Persisted struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// Persisted strips the token.
func (i Identity) Persisted() Persisted {
	return Persisted{Username: i.Username, Role: i.Role}
}

// Credentials are what a judge types on the login form.
type Credentials struct {
	Username string
	Password string
}

// Registration is a new account request.
type Registration struct {
	Username string
	Password string
	Role     Role
}

// User is a backend account as the admin listing reports it. Passwords are
// never part of it.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// String keeps tokens and passwords out of logs.
func (c Credentials) String() string { return "Credentials{" + c.Username + ", ***}" }
