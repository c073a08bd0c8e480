package permissions

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

// Repository persists permissions in PostgreSQL.
type Repository struct {
	db dbtx
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

const permissionColumns = `id, name, type, description, created_at, updated_at`

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	if err := row.Scan(&p.ID, &p.Name, &p.Type, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Permission{}, db.Classify(err)
	}
	return p, nil
}

// Create inserts a permission.
func (r *Repository) Create(ctx context.Context, in CreateInput) (Permission, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO permissions (id, name, type, description, created_at, updated_at)
VALUES ($1, $2, $3, $4, NOW(), NOW())
RETURNING `+permissionColumns, ids.New(), in.Name, in.Type, in.Description)
	p, err := scanPermission(row)
	if err != nil {
		return Permission{}, fmt.Errorf("permissions: create: %w", err)
	}
	return p, nil
}

// Get loads a permission by id.
func (r *Repository) Get(ctx context.Context, id string) (Permission, error) {
	return scanPermission(r.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id))
}

// List returns every permission ordered by id.
func (r *Repository) List(ctx context.Context) ([]Permission, error) {
	rows, err := r.db.Query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY id`)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, db.Classify(rows.Err())
}

// Update applies patch and returns the stored row.
func (r *Repository) Update(ctx context.Context, id string, patch Patch) (Permission, error) {
	row := r.db.QueryRow(ctx, `UPDATE permissions SET
	name = COALESCE($2, name),
	type = COALESCE($3, type),
	description = COALESCE($4, description),
	updated_at = NOW()
WHERE id = $1
RETURNING `+permissionColumns, id, patch.Name, patch.Type, patch.Description)
	p, err := scanPermission(row)
	if err != nil {
		return Permission{}, fmt.Errorf("permissions: update: %w", err)
	}
	return p, nil
}

// Delete removes a permission; role links cascade.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("permissions: delete: %w", db.Classify(err))
	}
	if tag.RowsAffected() == 0 {
		return db.Classify(pgx.ErrNoRows)
	}
	return nil
}
