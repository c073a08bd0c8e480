package roles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-iam/internal/ids"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists roles in PostgreSQL.
type Repository struct {
	db dbtx
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

const roleColumns = `id, name, type, description, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var r Role
	if err := row.Scan(&r.ID, &r.Name, &r.Type, &r.Description, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Role{}, db.Classify(err)
	}
	return r, nil
}

// Create inserts a role.
func (r *Repository) Create(ctx context.Context, in CreateInput) (Role, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO roles (id, name, type, description, created_at, updated_at)
VALUES ($1, $2, $3, $4, NOW(), NOW())
RETURNING `+roleColumns, ids.New(), in.Name, in.Type, in.Description)
	role, err := scanRole(row)
	if err != nil {
		return Role{}, fmt.Errorf("roles: create: %w", err)
	}
	return role, nil
}

// Get loads a role by id.
func (r *Repository) Get(ctx context.Context, id string) (Role, error) {
	return scanRole(r.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
}

// List returns every role ordered by id.
func (r *Repository) List(ctx context.Context) ([]Role, error) {
	rows, err := r.db.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY id`)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, db.Classify(rows.Err())
}

// Update applies patch and returns the stored row.
func (r *Repository) Update(ctx context.Context, id string, patch Patch) (Role, error) {
	row := r.db.QueryRow(ctx, `UPDATE roles SET
	name = COALESCE($2, name),
	type = COALESCE($3, type),
	description = COALESCE($4, description),
	updated_at = NOW()
WHERE id = $1
RETURNING `+roleColumns, id, patch.Name, patch.Type, patch.Description)
	role, err := scanRole(row)
	if err != nil {
		return Role{}, fmt.Errorf("roles: update: %w", err)
	}
	return role, nil
}

// Delete removes a role; user and permission links cascade.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("roles: delete: %w", db.Classify(err))
	}
	if tag.RowsAffected() == 0 {
		return db.Classify(pgx.ErrNoRows)
	}
	return nil
}
