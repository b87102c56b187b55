package rbac

import "time"

// Permission represents an atomic capability. Codename is the stable
// identifier used in authorization checks.
type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Codename    string    `json:"codename"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Role represents a named permission grouping. At most one role carries
// IsDefault at any time.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsDefault   bool      `json:"is_default"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UserRole links a user to a role with assignment metadata. Links expire
// logically via ExpiresAt without being deleted.
type UserRole struct {
	UserID     int64      `json:"user_id"`
	RoleID     int64      `json:"role_id"`
	IsActive   bool       `json:"is_active"`
	AssignedBy *int64     `json:"assigned_by"`
	AssignedAt time.Time  `json:"assigned_at"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

// IsExpired reports whether the link has an expiry in the past.
func (ur UserRole) IsExpired(now time.Time) bool {
	return ur.ExpiresAt != nil && now.After(*ur.ExpiresAt)
}
