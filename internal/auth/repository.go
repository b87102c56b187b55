package auth

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

// CreateUserParams carries the fields needed to insert a user row.
type CreateUserParams struct {
	Email        string
	Username     string
	FirstName    string
	LastName     string
	UserType     string
	PasswordHash string
}

// Repository defines persistence operations for the auth module.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	FindByID(ctx context.Context, id int64) (*User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
}

// TxRepository exposes the operations available inside one transaction. The
// row lock taken by FindByEmailForUpdate is held until the transaction ends,
// serializing concurrent login attempts for the same user.
type TxRepository interface {
	FindByEmailForUpdate(ctx context.Context, email string) (*User, error)
	IncrementFailedAttempts(ctx context.Context, userID int64) (int, error)
	SetLock(ctx context.Context, userID int64, until time.Time) error
	ClearLock(ctx context.Context, userID int64) error
	UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error
	CreateUser(ctx context.Context, params CreateUserParams) (*User, error)
	FindRoleByName(ctx context.Context, name string) (int64, error)
	AssignRole(ctx context.Context, userID, roleID int64) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

const userColumns = `id, email, username, first_name, last_name, user_type, is_superuser,
password_hash, failed_login_attempts, locked_until, last_login, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.FirstName, &u.LastName, &u.UserType, &u.IsSuperuser,
		&u.PasswordHash, &u.FailedLoginAttempts, &u.LockedUntil, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// WithTx runs fn inside one database transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
}

// FindByID fetches a user by primary key.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// EmailExists reports whether a user with the email is already registered.
func (r *PGRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, email).Scan(&exists)
	return exists, err
}

// UsernameExists reports whether the username is already taken.
func (r *PGRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists)
	return exists, err
}

type pgTxRepository struct {
	tx pgx.Tx
}

var _ TxRepository = (*pgTxRepository)(nil)

// FindByEmailForUpdate fetches a user by email under an exclusive row lock.
func (r *pgTxRepository) FindByEmailForUpdate(ctx context.Context, email string) (*User, error) {
	return scanUser(r.tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1 FOR UPDATE`, email))
}

// IncrementFailedAttempts bumps the failure counter in a single statement and
// returns the updated value, so concurrent attempts never lose updates.
func (r *pgTxRepository) IncrementFailedAttempts(ctx context.Context, userID int64) (int, error) {
	var attempts int
	err := r.tx.QueryRow(ctx, `UPDATE users
SET failed_login_attempts = failed_login_attempts + 1, updated_at = NOW()
WHERE id = $1
RETURNING failed_login_attempts`, userID).Scan(&attempts)
	return attempts, err
}

func (r *pgTxRepository) SetLock(ctx context.Context, userID int64, until time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE users SET locked_until = $2, updated_at = NOW() WHERE id = $1`, userID, until.UTC())
	return err
}

// ClearLock resets the failure counter and clears the lock in one statement.
func (r *pgTxRepository) ClearLock(ctx context.Context, userID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE users
SET failed_login_attempts = 0, locked_until = NULL, updated_at = NOW()
WHERE id = $1`, userID)
	return err
}

func (r *pgTxRepository) UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE users SET last_login = $2, updated_at = NOW() WHERE id = $1`, userID, at.UTC())
	return err
}

// CreateUser inserts a user row, mapping unique violations to field errors.
func (r *pgTxRepository) CreateUser(ctx context.Context, params CreateUserParams) (*User, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO users (email, username, first_name, last_name, user_type, password_hash)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+userColumns,
		params.Email, params.Username, params.FirstName, params.LastName, params.UserType, params.PasswordHash)
	user, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch pgErr.ConstraintName {
			case "users_email_key":
				return nil, shared.NewValidationError("email", "a user with this email already exists")
			case "users_username_key":
				return nil, shared.NewValidationError("username", "a user with this username already exists")
			}
			return nil, shared.ErrDuplicate
		}
		return nil, err
	}
	return user, nil
}

// FindRoleByName resolves a role id by its unique name.
func (r *pgTxRepository) FindRoleByName(ctx context.Context, name string) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `SELECT id FROM roles WHERE name = $1`, name).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, shared.ErrNotFound
		}
		return 0, err
	}
	return id, nil
}

// AssignRole links the user to a role as a system assignment. The insert runs
// inside a savepoint so a failure here cannot abort the surrounding
// transaction and roll back the user row.
func (r *pgTxRepository) AssignRole(ctx context.Context, userID, roleID int64) error {
	sp, err := r.tx.Begin(ctx)
	if err != nil {
		return err
	}
	_, err = sp.Exec(ctx, `INSERT INTO user_roles (user_id, role_id, is_active, assigned_by)
VALUES ($1, $2, TRUE, NULL)
ON CONFLICT (user_id, role_id) DO NOTHING`, userID, roleID)
	if err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}
