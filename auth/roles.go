package auth

// Role represents a user role.
type Role string

const (
	// RoleRepresentante is a parent or guardian paying for a student.
	RoleRepresentante Role = "representante"
	RoleStaff         Role = "staff"
	RoleAdmin         Role = "admin"
)

// NormalizeRole validates and normalizes a role string.
func NormalizeRole(value string) (Role, bool) {
	switch Role(value) {
	case RoleRepresentante, RoleStaff, RoleAdmin:
		return Role(value), true
	default:
		return "", false
	}
}

// Privileged reports whether the role may configure prices and review payments.
func (r Role) Privileged() bool {
	return r == RoleStaff || r == RoleAdmin
}
