package rbac

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voxpoll/voxpoll/internal/shared"
)

type memoryGraph struct {
	superusers  map[int64]bool
	permissions map[int64]Permission
	roles       map[int64]Role
	rolePerms   map[int64][]int64
	userRoles   []UserRole
	userPerms   map[int64][]int64
	nextRoleID  int64
	nextPermID  int64
}

func newMemoryGraph() *memoryGraph {
	return &memoryGraph{
		superusers:  make(map[int64]bool),
		permissions: make(map[int64]Permission),
		roles:       make(map[int64]Role),
		rolePerms:   make(map[int64][]int64),
		userPerms:   make(map[int64][]int64),
	}
}

func (g *memoryGraph) addPermission(codename string) Permission {
	g.nextPermID++
	p := Permission{ID: g.nextPermID, Name: codename, Codename: codename}
	g.permissions[p.ID] = p
	return p
}

func (g *memoryGraph) addRole(name string, permIDs ...int64) Role {
	g.nextRoleID++
	r := Role{ID: g.nextRoleID, Name: name}
	g.roles[r.ID] = r
	g.rolePerms[r.ID] = permIDs
	return r
}

func (g *memoryGraph) IsSuperuser(ctx context.Context, userID int64) (bool, error) {
	su, ok := g.superusers[userID]
	if !ok {
		return false, shared.ErrNotFound
	}
	return su, nil
}

func (g *memoryGraph) HasDirectPermission(ctx context.Context, userID int64, codename string) (bool, error) {
	for _, permID := range g.userPerms[userID] {
		if g.permissions[permID].Codename == codename {
			return true, nil
		}
	}
	return false, nil
}

func (g *memoryGraph) HasRolePermission(ctx context.Context, userID int64, codename string) (bool, error) {
	for _, link := range g.userRoles {
		if link.UserID != userID || !link.IsActive {
			continue
		}
		for _, permID := range g.rolePerms[link.RoleID] {
			if g.permissions[permID].Codename == codename {
				return true, nil
			}
		}
	}
	return false, nil
}

func (g *memoryGraph) ListAllPermissions(ctx context.Context) ([]Permission, error) {
	out := make([]Permission, 0, len(g.permissions))
	for _, p := range g.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *memoryGraph) ListUserPermissions(ctx context.Context, userID int64) ([]Permission, error) {
	seen := make(map[int64]struct{})
	var out []Permission
	add := func(permID int64) {
		if _, ok := seen[permID]; ok {
			return
		}
		seen[permID] = struct{}{}
		out = append(out, g.permissions[permID])
	}
	for _, link := range g.userRoles {
		if link.UserID == userID && link.IsActive {
			for _, permID := range g.rolePerms[link.RoleID] {
				add(permID)
			}
		}
	}
	for _, permID := range g.userPerms[userID] {
		add(permID)
	}
	return out, nil
}

func (g *memoryGraph) ListActiveRoles(ctx context.Context, userID int64, filterExpired bool) ([]Role, error) {
	now := time.Now()
	var out []Role
	for _, link := range g.userRoles {
		if link.UserID != userID || !link.IsActive {
			continue
		}
		if filterExpired && link.IsExpired(now) {
			continue
		}
		out = append(out, g.roles[link.RoleID])
	}
	return out, nil
}

func (g *memoryGraph) ActiveRolePermissionCodenames(ctx context.Context, userID int64, filterExpired bool) ([]string, error) {
	now := time.Now()
	seen := make(map[string]struct{})
	var out []string
	for _, link := range g.userRoles {
		if link.UserID != userID || !link.IsActive {
			continue
		}
		if filterExpired && link.IsExpired(now) {
			continue
		}
		for _, permID := range g.rolePerms[link.RoleID] {
			codename := g.permissions[permID].Codename
			if _, ok := seen[codename]; ok {
				continue
			}
			seen[codename] = struct{}{}
			out = append(out, codename)
		}
	}
	return out, nil
}

func (g *memoryGraph) ListRoles(ctx context.Context) ([]Role, error) {
	out := make([]Role, 0, len(g.roles))
	for _, r := range g.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *memoryGraph) GetRole(ctx context.Context, id int64) (Role, error) {
	r, ok := g.roles[id]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	return r, nil
}

func (g *memoryGraph) CreateRole(ctx context.Context, name, description string, isDefault bool) (Role, error) {
	if isDefault {
		g.clearDefaults()
	}
	g.nextRoleID++
	r := Role{ID: g.nextRoleID, Name: name, Description: description, IsDefault: isDefault}
	g.roles[r.ID] = r
	return r, nil
}

func (g *memoryGraph) UpdateRole(ctx context.Context, id int64, name, description string, isDefault bool) (Role, error) {
	r, ok := g.roles[id]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	if isDefault {
		g.clearDefaults()
	}
	r.Name, r.Description, r.IsDefault = name, description, isDefault
	g.roles[id] = r
	return r, nil
}

func (g *memoryGraph) clearDefaults() {
	for id, r := range g.roles {
		if r.IsDefault {
			r.IsDefault = false
			g.roles[id] = r
		}
	}
}

func (g *memoryGraph) DeleteRole(ctx context.Context, id int64) error {
	if _, ok := g.roles[id]; !ok {
		return shared.ErrNotFound
	}
	delete(g.roles, id)
	delete(g.rolePerms, id)
	return nil
}

func (g *memoryGraph) EnsurePermission(ctx context.Context, name, codename, description string) (Permission, error) {
	for _, p := range g.permissions {
		if p.Codename == codename {
			p.Name, p.Description = name, description
			g.permissions[p.ID] = p
			return p, nil
		}
	}
	g.nextPermID++
	p := Permission{ID: g.nextPermID, Name: name, Codename: codename, Description: description}
	g.permissions[p.ID] = p
	return p, nil
}

func (g *memoryGraph) ListRolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error) {
	return append([]int64(nil), g.rolePerms[roleID]...), nil
}

func (g *memoryGraph) AttachPermission(ctx context.Context, roleID, permissionID int64) error {
	g.rolePerms[roleID] = append(g.rolePerms[roleID], permissionID)
	return nil
}

func (g *memoryGraph) DetachPermission(ctx context.Context, roleID, permissionID int64) error {
	kept := g.rolePerms[roleID][:0]
	for _, id := range g.rolePerms[roleID] {
		if id != permissionID {
			kept = append(kept, id)
		}
	}
	g.rolePerms[roleID] = kept
	return nil
}

func (g *memoryGraph) GrantPermission(ctx context.Context, userID, permissionID int64) error {
	g.userPerms[userID] = append(g.userPerms[userID], permissionID)
	return nil
}

func (g *memoryGraph) AssignRole(ctx context.Context, userID, roleID int64, assignedBy *int64, expiresAt *time.Time) error {
	for i, link := range g.userRoles {
		if link.UserID == userID && link.RoleID == roleID {
			g.userRoles[i].IsActive = true
			g.userRoles[i].AssignedBy = assignedBy
			g.userRoles[i].ExpiresAt = expiresAt
			return nil
		}
	}
	g.userRoles = append(g.userRoles, UserRole{
		UserID: userID, RoleID: roleID, IsActive: true,
		AssignedBy: assignedBy, AssignedAt: time.Now(), ExpiresAt: expiresAt,
	})
	return nil
}

func (g *memoryGraph) RemoveRole(ctx context.Context, userID, roleID int64) error {
	for i, link := range g.userRoles {
		if link.UserID == userID && link.RoleID == roleID {
			g.userRoles[i].IsActive = false
			return nil
		}
	}
	return shared.ErrNotFound
}

func (g *memoryGraph) DeactivateExpiredRoles(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for i, link := range g.userRoles {
		if link.IsActive && link.IsExpired(now) {
			g.userRoles[i].IsActive = false
			n++
		}
	}
	return n, nil
}

var _ RepositoryPort = (*memoryGraph)(nil)

func TestHasPermissionSuperuser(t *testing.T) {
	g := newMemoryGraph()
	g.superusers[1] = true
	svc := NewService(g, ServiceConfig{})

	ok, err := svc.HasPermission(context.Background(), 1, "anything.at.all")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHasPermissionUnknownUser(t *testing.T) {
	g := newMemoryGraph()
	svc := NewService(g, ServiceConfig{})

	ok, err := svc.HasPermission(context.Background(), 99, "polls.view")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHasPermissionViaRole(t *testing.T) {
	g := newMemoryGraph()
	g.superusers[1] = false
	view := g.addPermission("polls.view")
	role := g.addRole("Regular User", view.ID)
	require.NoError(t, g.AssignRole(context.Background(), 1, role.ID, nil, nil))
	svc := NewService(g, ServiceConfig{})

	ok, err := svc.HasPermission(context.Background(), 1, "polls.view")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.HasPermission(context.Background(), 1, "polls.edit")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHasPermissionDirectGrant(t *testing.T) {
	g := newMemoryGraph()
	g.superusers[1] = false
	edit := g.addPermission("polls.edit")
	require.NoError(t, g.GrantPermission(context.Background(), 1, edit.ID))
	svc := NewService(g, ServiceConfig{})

	ok, err := svc.HasPermission(context.Background(), 1, "polls.edit")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHasPermissionInactiveLinkIgnored(t *testing.T) {
	g := newMemoryGraph()
	g.superusers[1] = false
	view := g.addPermission("polls.view")
	role := g.addRole("Regular User", view.ID)
	require.NoError(t, g.AssignRole(context.Background(), 1, role.ID, nil, nil))
	require.NoError(t, g.RemoveRole(context.Background(), 1, role.ID))
	svc := NewService(g, ServiceConfig{})

	ok, err := svc.HasPermission(context.Background(), 1, "polls.view")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAllPermissionsDeduplicates(t *testing.T) {
	g := newMemoryGraph()
	g.superusers[1] = false
	view := g.addPermission("polls.view")
	create := g.addPermission("polls.create")
	roleA := g.addRole("A", view.ID, create.ID)
	roleB := g.addRole("B", view.ID)
	require.NoError(t, g.AssignRole(context.Background(), 1, roleA.ID, nil, nil))
	require.NoError(t, g.AssignRole(context.Background(), 1, roleB.ID, nil, nil))
	require.NoError(t, g.GrantPermission(context.Background(), 1, view.ID))
	svc := NewService(g, ServiceConfig{})

	perms, err := svc.AllPermissions(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, perms, 2)
}

func TestAllPermissionsSuperuserGetsCatalog(t *testing.T) {
	g := newMemoryGraph()
	g.superusers[1] = true
	g.addPermission("polls.view")
	g.addPermission("rbac.edit")
	svc := NewService(g, ServiceConfig{})

	perms, err := svc.AllPermissions(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, perms, 2)
}

func TestActiveRolesExpiryFiltering(t *testing.T) {
	g := newMemoryGraph()
	g.superusers[1] = false
	role := g.addRole("Temp")
	expired := time.Now().Add(-time.Hour)
	require.NoError(t, g.AssignRole(context.Background(), 1, role.ID, nil, &expired))

	// Default behavior: an expired-but-active link still counts.
	svc := NewService(g, ServiceConfig{})
	roles, err := svc.ActiveRoles(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, roles, 1)

	filtering := NewService(g, ServiceConfig{FilterExpiredRoles: true})
	roles, err = filtering.ActiveRoles(context.Background(), 1)
	require.NoError(t, err)
	require.Empty(t, roles)
}

func TestActiveRolePermissionCodenamesExpiryFiltering(t *testing.T) {
	g := newMemoryGraph()
	g.superusers[1] = false
	view := g.addPermission("polls.view")
	edit := g.addPermission("polls.edit")
	keeper := g.addRole("Regular User", view.ID)
	temp := g.addRole("Temp", edit.ID)
	require.NoError(t, g.AssignRole(context.Background(), 1, keeper.ID, nil, nil))
	expired := time.Now().Add(-time.Hour)
	require.NoError(t, g.AssignRole(context.Background(), 1, temp.ID, nil, &expired))

	// Default behavior: the expired link still contributes its permissions.
	svc := NewService(g, ServiceConfig{})
	codenames, err := svc.ActiveRolePermissionCodenames(context.Background(), 1)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"polls.view", "polls.edit"}, codenames)

	// With filtering on, the permissions claim matches the roles claim.
	filtering := NewService(g, ServiceConfig{FilterExpiredRoles: true})
	codenames, err = filtering.ActiveRolePermissionCodenames(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []string{"polls.view"}, codenames)

	names, err := filtering.ActiveRoleNames(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []string{"Regular User"}, names)
}

func TestSetRolePermissionsDiff(t *testing.T) {
	g := newMemoryGraph()
	a := g.addPermission("polls.view")
	b := g.addPermission("polls.create")
	c := g.addPermission("polls.edit")
	role := g.addRole("Editor", a.ID, b.ID)
	svc := NewService(g, ServiceConfig{})

	require.NoError(t, svc.SetRolePermissions(context.Background(), role.ID, []int64{b.ID, c.ID}))

	ids, err := g.ListRolePermissionIDs(context.Background(), role.ID)
	require.NoError(t, err)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	require.Equal(t, []int64{b.ID, c.ID}, ids)
}

func TestCreateRoleDefaultDemotesPrevious(t *testing.T) {
	g := newMemoryGraph()
	svc := NewService(g, ServiceConfig{})

	first, err := svc.CreateRole(context.Background(), "First", "", true)
	require.NoError(t, err)
	second, err := svc.CreateRole(context.Background(), "Second", "", true)
	require.NoError(t, err)

	got, err := svc.GetRole(context.Background(), first.ID)
	require.NoError(t, err)
	require.False(t, got.IsDefault)
	got, err = svc.GetRole(context.Background(), second.ID)
	require.NoError(t, err)
	require.True(t, got.IsDefault)
}

func TestCreateRoleRequiresName(t *testing.T) {
	g := newMemoryGraph()
	svc := NewService(g, ServiceConfig{})

	_, err := svc.CreateRole(context.Background(), "   ", "", false)
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "name")
}

func TestDeactivateExpiredRoles(t *testing.T) {
	g := newMemoryGraph()
	role := g.addRole("Temp")
	expired := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	require.NoError(t, g.AssignRole(context.Background(), 1, role.ID, nil, &expired))
	require.NoError(t, g.AssignRole(context.Background(), 2, role.ID, nil, &future))
	svc := NewService(g, ServiceConfig{})

	n, err := svc.DeactivateExpiredRoles(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	g.superusers[1] = false
	roles, err := svc.ActiveRoles(context.Background(), 1)
	require.NoError(t, err)
	require.Empty(t, roles)
}
