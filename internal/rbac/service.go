package rbac

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/voxpoll/voxpoll/internal/shared"
)

// ServiceConfig tunes authorization graph behavior.
type ServiceConfig struct {
	// FilterExpiredRoles also excludes expired user-role links from active
	// role reads. Off by default: an expired-but-active link still counts,
	// matching the historical behavior callers may depend on.
	FilterExpiredRoles bool
}

// Service orchestrates RBAC operations. All reads are fresh lookups; there
// is no caching layer.
type Service struct {
	repo RepositoryPort
	cfg  ServiceConfig
}

// NewService constructs a Service backed by the provided repository.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	return &Service{repo: repo, cfg: cfg}
}

// HasPermission checks a single permission codename for the user: superusers
// hold everything, then direct grants, then permissions reachable through
// active roles. Presence is what matters, not how many paths grant it.
func (s *Service) HasPermission(ctx context.Context, userID int64, codename string) (bool, error) {
	codename = strings.TrimSpace(codename)
	if codename == "" {
		return false, nil
	}
	superuser, err := s.repo.IsSuperuser(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if superuser {
		return true, nil
	}
	if ok, err := s.repo.HasDirectPermission(ctx, userID, codename); err != nil || ok {
		return ok, err
	}
	return s.repo.HasRolePermission(ctx, userID, codename)
}

// AllPermissions returns every permission the user holds: the full catalog
// for superusers, otherwise the deduplicated union of role-derived and
// direct grants.
func (s *Service) AllPermissions(ctx context.Context, userID int64) ([]Permission, error) {
	superuser, err := s.repo.IsSuperuser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if superuser {
		return s.repo.ListAllPermissions(ctx)
	}
	return s.repo.ListUserPermissions(ctx, userID)
}

// ActiveRoles returns roles linked through an active user-role row.
func (s *Service) ActiveRoles(ctx context.Context, userID int64) ([]Role, error) {
	return s.repo.ListActiveRoles(ctx, userID, s.cfg.FilterExpiredRoles)
}

// ActiveRoleNames returns the distinct names of the user's active roles.
func (s *Service) ActiveRoleNames(ctx context.Context, userID int64) ([]string, error) {
	roles, err := s.ActiveRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	return names, nil
}

// ActiveRolePermissionCodenames returns the distinct permission codenames
// reachable through the user's active roles, for token claims. Expired links
// are excluded only when FilterExpiredRoles is set, keeping the permissions
// claim consistent with the roles claim.
func (s *Service) ActiveRolePermissionCodenames(ctx context.Context, userID int64) ([]string, error) {
	return s.repo.ActiveRolePermissionCodenames(ctx, userID, s.cfg.FilterExpiredRoles)
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// CreateRole inserts a new role; marking it default demotes the previous one.
func (s *Service) CreateRole(ctx context.Context, name, description string, isDefault bool) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, shared.NewValidationError("name", "role name required")
	}
	return s.repo.CreateRole(ctx, name, strings.TrimSpace(description), isDefault)
}

// UpdateRole updates an existing role.
func (s *Service) UpdateRole(ctx context.Context, id int64, name, description string, isDefault bool) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, shared.NewValidationError("name", "role name required")
	}
	return s.repo.UpdateRole(ctx, id, name, strings.TrimSpace(description), isDefault)
}

// DeleteRole removes a role by ID.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	return s.repo.DeleteRole(ctx, id)
}

// EnsurePermission upserts a permission by codename.
func (s *Service) EnsurePermission(ctx context.Context, name, codename, description string) (Permission, error) {
	return s.repo.EnsurePermission(ctx, strings.TrimSpace(name), strings.TrimSpace(codename), strings.TrimSpace(description))
}

// ListPermissions returns the permission catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListAllPermissions(ctx)
}

// SetRolePermissions replaces the permission set of a role, attaching what
// is missing and detaching what no longer belongs.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	current, err := s.repo.ListRolePermissionIDs(ctx, roleID)
	if err != nil {
		return err
	}
	existing := make(map[int64]struct{}, len(current))
	for _, id := range current {
		existing[id] = struct{}{}
	}
	keep := make(map[int64]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		keep[id] = struct{}{}
		if _, ok := existing[id]; !ok {
			if err := s.repo.AttachPermission(ctx, roleID, id); err != nil {
				return err
			}
		}
	}
	for id := range existing {
		if _, ok := keep[id]; !ok {
			if err := s.repo.DetachPermission(ctx, roleID, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// AssignRole links a user to a role with optional assigner and expiry.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64, assignedBy *int64, expiresAt *time.Time) error {
	return s.repo.AssignRole(ctx, userID, roleID, assignedBy, expiresAt)
}

// RemoveRole deactivates a user-role link.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID int64) error {
	return s.repo.RemoveRole(ctx, userID, roleID)
}

// GrantPermission grants a permission directly to a user.
func (s *Service) GrantPermission(ctx context.Context, userID, permissionID int64) error {
	return s.repo.GrantPermission(ctx, userID, permissionID)
}

// DeactivateExpiredRoles sweeps expired user-role links, returning how many
// were deactivated.
func (s *Service) DeactivateExpiredRoles(ctx context.Context, now time.Time) (int64, error) {
	return s.repo.DeactivateExpiredRoles(ctx, now)
}
