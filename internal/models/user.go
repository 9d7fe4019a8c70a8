package models

// UserRole defines the role carried by an authenticated caller.
type UserRole string

const (
	// UserRoleJobSeeker browses and applies to postings.
	UserRoleJobSeeker UserRole = "jobseeker"
	// UserRoleEmployer posts jobs and manages applications.
	UserRoleEmployer UserRole = "employer"
	// UserRoleAdmin can bulk-import students and issue certificates.
	UserRoleAdmin UserRole = "admin"
)

// ValidUserRoles returns all recognised roles.
func ValidUserRoles() []UserRole {
	return []UserRole{UserRoleJobSeeker, UserRoleEmployer, UserRoleAdmin}
}

// IsValid returns true if the role is recognised.
func (r UserRole) IsValid() bool {
	for _, v := range ValidUserRoles() {
		if r == v {
			return true
		}
	}
	return false
}

// Identity is the request-scoped caller, populated by the auth middleware
// from a verified bearer token.
type Identity struct {
	UserID string   `json:"user_id"`
	Name   string   `json:"name,omitempty"`
	Email  string   `json:"email,omitempty"`
	Role   UserRole `json:"role"`
}

// IsAdmin returns true if the caller has the admin role.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == UserRoleAdmin
}
