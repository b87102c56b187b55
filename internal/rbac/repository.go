package rbac

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxpoll/voxpoll/internal/platform/db"
	"github.com/voxpoll/voxpoll/internal/shared"
)

// RepositoryPort defines data access for the authorization graph.
type RepositoryPort interface {
	IsSuperuser(ctx context.Context, userID int64) (bool, error)
	HasDirectPermission(ctx context.Context, userID int64, codename string) (bool, error)
	HasRolePermission(ctx context.Context, userID int64, codename string) (bool, error)
	ListAllPermissions(ctx context.Context) ([]Permission, error)
	ListUserPermissions(ctx context.Context, userID int64) ([]Permission, error)
	ListActiveRoles(ctx context.Context, userID int64, filterExpired bool) ([]Role, error)
	ActiveRolePermissionCodenames(ctx context.Context, userID int64, filterExpired bool) ([]string, error)

	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, name, description string, isDefault bool) (Role, error)
	UpdateRole(ctx context.Context, id int64, name, description string, isDefault bool) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	EnsurePermission(ctx context.Context, name, codename, description string) (Permission, error)
	ListRolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error)
	AttachPermission(ctx context.Context, roleID, permissionID int64) error
	DetachPermission(ctx context.Context, roleID, permissionID int64) error
	GrantPermission(ctx context.Context, userID, permissionID int64) error

	AssignRole(ctx context.Context, userID, roleID int64, assignedBy *int64, expiresAt *time.Time) error
	RemoveRole(ctx context.Context, userID, roleID int64) error
	DeactivateExpiredRoles(ctx context.Context, now time.Time) (int64, error)
}

// PGRepository implements RepositoryPort using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ RepositoryPort = (*PGRepository)(nil)

func (r *PGRepository) IsSuperuser(ctx context.Context, userID int64) (bool, error) {
	var isSuperuser bool
	err := r.pool.QueryRow(ctx, `SELECT is_superuser FROM users WHERE id = $1`, userID).Scan(&isSuperuser)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, shared.ErrNotFound
		}
		return false, err
	}
	return isSuperuser, nil
}

func (r *PGRepository) HasDirectPermission(ctx context.Context, userID int64, codename string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM user_permissions up
JOIN permissions p ON p.id = up.permission_id
WHERE up.user_id = $1 AND p.codename = $2)`, userID, codename).Scan(&exists)
	return exists, err
}

func (r *PGRepository) HasRolePermission(ctx context.Context, userID int64, codename string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM user_roles ur
JOIN role_permissions rp ON rp.role_id = ur.role_id
JOIN permissions p ON p.id = rp.permission_id
WHERE ur.user_id = $1 AND ur.is_active AND p.codename = $2)`, userID, codename).Scan(&exists)
	return exists, err
}

const permissionColumns = `id, name, codename, description, created_at, updated_at`

func scanPermissions(rows pgx.Rows) ([]Permission, error) {
	defer rows.Close()
	perms := make([]Permission, 0)
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Codename, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (r *PGRepository) ListAllPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return scanPermissions(rows)
}

// ListUserPermissions returns the deduplicated union of role-derived and
// directly granted permissions.
func (r *PGRepository) ListUserPermissions(ctx context.Context, userID int64) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions
WHERE id IN (
	SELECT rp.permission_id FROM role_permissions rp
	JOIN user_roles ur ON ur.role_id = rp.role_id
	WHERE ur.user_id = $1 AND ur.is_active
	UNION
	SELECT up.permission_id FROM user_permissions up WHERE up.user_id = $1
)
ORDER BY name`, userID)
	if err != nil {
		return nil, err
	}
	return scanPermissions(rows)
}

const roleColumns = `id, name, description, is_default, created_at, updated_at`

func scanRoles(rows pgx.Rows) ([]Role, error) {
	defer rows.Close()
	roles := make([]Role, 0)
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.IsDefault, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// ListActiveRoles filters on is_active only unless filterExpired is set; an
// expired-but-active link is still reported as active by default.
func (r *PGRepository) ListActiveRoles(ctx context.Context, userID int64, filterExpired bool) ([]Role, error) {
	query := `SELECT r.id, r.name, r.description, r.is_default, r.created_at, r.updated_at
FROM roles r
JOIN user_roles ur ON ur.role_id = r.id
WHERE ur.user_id = $1 AND ur.is_active`
	if filterExpired {
		query += ` AND (ur.expires_at IS NULL OR ur.expires_at > NOW())`
	}
	query += ` ORDER BY r.name`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	return scanRoles(rows)
}

func (r *PGRepository) ActiveRolePermissionCodenames(ctx context.Context, userID int64, filterExpired bool) ([]string, error) {
	query := `SELECT DISTINCT p.codename
FROM permissions p
JOIN role_permissions rp ON rp.permission_id = p.id
JOIN user_roles ur ON ur.role_id = rp.role_id
WHERE ur.user_id = $1 AND ur.is_active`
	if filterExpired {
		query += ` AND (ur.expires_at IS NULL OR ur.expires_at > NOW())`
	}
	query += ` ORDER BY p.codename`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	codenames := make([]string, 0)
	for rows.Next() {
		var codename string
		if err := rows.Scan(&codename); err != nil {
			return nil, err
		}
		codenames = append(codenames, codename)
	}
	return codenames, rows.Err()
}

func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return scanRoles(rows)
}

func (r *PGRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name, &role.Description, &role.IsDefault, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// CreateRole inserts a role. Setting the default flag clears it on every
// other role inside the same transaction (last-writer-wins uniqueness).
func (r *PGRepository) CreateRole(ctx context.Context, name, description string, isDefault bool) (Role, error) {
	var role Role
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if isDefault {
			if _, err := tx.Exec(ctx, `UPDATE roles SET is_default = FALSE, updated_at = NOW() WHERE is_default`); err != nil {
				return err
			}
		}
		return tx.QueryRow(ctx, `INSERT INTO roles (name, description, is_default)
VALUES ($1, $2, $3)
RETURNING `+roleColumns, name, description, isDefault).
			Scan(&role.ID, &role.Name, &role.Description, &role.IsDefault, &role.CreatedAt, &role.UpdatedAt)
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Role{}, shared.ErrDuplicate
		}
		return Role{}, err
	}
	return role, nil
}

func (r *PGRepository) UpdateRole(ctx context.Context, id int64, name, description string, isDefault bool) (Role, error) {
	var role Role
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if isDefault {
			if _, err := tx.Exec(ctx, `UPDATE roles SET is_default = FALSE, updated_at = NOW() WHERE is_default AND id <> $1`, id); err != nil {
				return err
			}
		}
		err := tx.QueryRow(ctx, `UPDATE roles SET name = $2, description = $3, is_default = $4, updated_at = NOW()
WHERE id = $1
RETURNING `+roleColumns, id, name, description, isDefault).
			Scan(&role.ID, &role.Name, &role.Description, &role.IsDefault, &role.CreatedAt, &role.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.ErrNotFound
		}
		return err
	})
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

func (r *PGRepository) DeleteRole(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// EnsurePermission upserts a permission by codename.
func (r *PGRepository) EnsurePermission(ctx context.Context, name, codename, description string) (Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx, `INSERT INTO permissions (name, codename, description)
VALUES ($1, $2, $3)
ON CONFLICT (codename) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description, updated_at = NOW()
RETURNING `+permissionColumns, name, codename, description).
		Scan(&p.ID, &p.Name, &p.Codename, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *PGRepository) ListRolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT permission_id FROM role_permissions WHERE role_id = $1`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PGRepository) AttachPermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id)
VALUES ($1, $2) ON CONFLICT DO NOTHING`, roleID, permissionID)
	return err
}

func (r *PGRepository) DetachPermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	return err
}

func (r *PGRepository) GrantPermission(ctx context.Context, userID, permissionID int64) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO user_permissions (user_id, permission_id)
VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, permissionID)
	return err
}

// AssignRole creates or reactivates the unique (user, role) link.
func (r *PGRepository) AssignRole(ctx context.Context, userID, roleID int64, assignedBy *int64, expiresAt *time.Time) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO user_roles (user_id, role_id, is_active, assigned_by, expires_at)
VALUES ($1, $2, TRUE, $3, $4)
ON CONFLICT (user_id, role_id) DO UPDATE
SET is_active = TRUE, assigned_by = EXCLUDED.assigned_by, assigned_at = NOW(), expires_at = EXCLUDED.expires_at`,
		userID, roleID, assignedBy, expiresAt)
	return err
}

// RemoveRole deactivates the link rather than deleting it (soft lifecycle).
func (r *PGRepository) RemoveRole(ctx context.Context, userID, roleID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE user_roles SET is_active = FALSE WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeactivateExpiredRoles flips is_active off for links whose expiry passed.
func (r *PGRepository) DeactivateExpiredRoles(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE user_roles
SET is_active = FALSE
WHERE is_active AND expires_at IS NOT NULL AND expires_at < $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
