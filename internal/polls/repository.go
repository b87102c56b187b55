package polls

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxpoll/voxpoll/internal/shared"
)

// RepositoryPort defines data access for polls.
type RepositoryPort interface {
	Create(ctx context.Context, p Poll) (Poll, error)
	Get(ctx context.Context, id uuid.UUID) (Poll, error)
	List(ctx context.Context, filter ListFilter) ([]Poll, error)
	Update(ctx context.Context, p Poll) (Poll, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string) (Poll, error)
	Delete(ctx context.Context, id uuid.UUID) error
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

const pollColumns = `id, title, description, poll_type, status, starts_at, ends_at,
	is_anonymous, requires_auth, created_by, created_at, updated_at`

func scanPoll(row pgx.Row) (Poll, error) {
	var p Poll
	err := row.Scan(&p.ID, &p.Title, &p.Description, &p.PollType, &p.Status,
		&p.StartsAt, &p.EndsAt, &p.IsAnonymous, &p.RequiresAuth,
		&p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Poll{}, shared.ErrNotFound
		}
		return Poll{}, fmt.Errorf("scan poll: %w", err)
	}
	return p, nil
}

func (r *PGRepository) Create(ctx context.Context, p Poll) (Poll, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO polls (id, title, description, poll_type, status, starts_at, ends_at,
			is_anonymous, requires_auth, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+pollColumns,
		p.ID, p.Title, p.Description, p.PollType, p.Status, p.StartsAt, p.EndsAt,
		p.IsAnonymous, p.RequiresAuth, p.CreatedBy)
	return scanPoll(row)
}

func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (Poll, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+pollColumns+` FROM polls WHERE id = $1`, id)
	return scanPoll(row)
}

func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Poll, error) {
	query := `SELECT ` + pollColumns + ` FROM polls`
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, filter.Status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	defer rows.Close()

	out := []Poll{}
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PGRepository) Update(ctx context.Context, p Poll) (Poll, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE polls
		SET title = $2, description = $3, poll_type = $4, starts_at = $5, ends_at = $6,
			is_anonymous = $7, requires_auth = $8, updated_at = now()
		WHERE id = $1
		RETURNING `+pollColumns,
		p.ID, p.Title, p.Description, p.PollType, p.StartsAt, p.EndsAt,
		p.IsAnonymous, p.RequiresAuth)
	return scanPoll(row)
}

func (r *PGRepository) SetStatus(ctx context.Context, id uuid.UUID, status string) (Poll, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE polls SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+pollColumns, id, status)
	return scanPoll(row)
}

func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM polls WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete poll: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
