package enums

import "fmt"

// Role is the marketplace role carried in access tokens.
type Role string

const (
	RolePoster    Role = "poster"
	RoleInspector Role = "inspector"
	RoleAdmin     Role = "admin"
)

var validRoles = []Role{RolePoster, RoleInspector, RoleAdmin}

func (r Role) String() string {
	return string(r)
}

func (r Role) IsValid() bool {
	for _, candidate := range validRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

func ParseRole(value string) (Role, error) {
	for _, candidate := range validRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid role %q", value)
}
