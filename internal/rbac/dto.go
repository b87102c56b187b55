package rbac

import "time"

// CreateRoleRequest is the JSON body for creating or updating a role.
type CreateRoleRequest struct {
	Name        string `json:"name" validate:"required,max=50"`
	Description string `json:"description" validate:"omitempty"`
	IsDefault   bool   `json:"is_default"`
}

// SetRolePermissionsRequest replaces the permission set of a role.
type SetRolePermissionsRequest struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"required"`
}

// AssignRoleRequest links a role to a user with optional expiry.
type AssignRoleRequest struct {
	RoleID    int64      `json:"role_id" validate:"required,gt=0"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
