package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Role is a marketplace role.
type Role string

const (
	RoleAdmin         Role = "admin"
	RoleFarmer        Role = "farmer"
	RoleCustomer      Role = "customer"
	RoleDeliveryAgent Role = "delivery-agent"
)

// ErrUnknownRole is returned when a backend role identifier has no mapping.
var ErrUnknownRole = errors.New("unknown role")

// roleIDs is the single numeric role table shared by login and register.
var roleIDs = map[int]Role{
	1: RoleAdmin,
	2: RoleCustomer,
	3: RoleFarmer,
	4: RoleDeliveryAgent,
}

// RoleFromID maps a numeric backend role identifier to a Role.
func RoleFromID(id int) (Role, error) {
	r, ok := roleIDs[id]
	if !ok {
		return "", fmt.Errorf("%w: id %d", ErrUnknownRole, id)
	}
	return r, nil
}

// ParseRole accepts a role name ("farmer", "delivery_agent", ...) or a
// numeric identifier.
func ParseRole(raw string) (Role, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if id, err := strconv.Atoi(raw); err == nil {
		return RoleFromID(id)
	}
	raw = strings.ReplaceAll(raw, "_", "-")
	switch Role(raw) {
	case RoleAdmin, RoleFarmer, RoleCustomer, RoleDeliveryAgent:
		return Role(raw), nil
	case "delivery", "agent":
		return RoleDeliveryAgent, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
}

// ID returns the numeric backend identifier of r, or 0 when r is unknown.
func (r Role) ID() int {
	for id, role := range roleIDs {
		if role == r {
			return id
		}
	}
	return 0
}

// Session is the authenticated user's token pair plus identity.
//
// The access token expiry is derived with the token inspector, never stored.
type Session struct {
	UserID       string `json:"user_id"`
	Role         Role   `json:"role"`
	Name         string `json:"name,omitempty"`
	Email        string `json:"email,omitempty"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Valid reports whether s carries the minimum a session needs.
func (s Session) Valid() bool {
	return s.UserID != "" && s.AccessToken != ""
}
