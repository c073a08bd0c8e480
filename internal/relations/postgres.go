package relations

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Table names a join table and its two id columns.
type Table struct {
	Name       string
	OwnerCol   string
	RelatedCol string
}

var (
	// UserRoles links users to roles.
	UserRoles = Table{Name: "user_roles", OwnerCol: "user_id", RelatedCol: "role_id"}
	// RolePermissions links roles to permissions.
	RolePermissions = Table{Name: "role_permissions", OwnerCol: "role_id", RelatedCol: "permission_id"}
)

// PostgresRepository stores relations in a join table keyed by (owner, related).
type PostgresRepository struct {
	pool  *pgxpool.Pool
	table Table
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository builds a repository over table.
func NewPostgresRepository(pool *pgxpool.Pool, table Table) *PostgresRepository {
	return &PostgresRepository{pool: pool, table: table}
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &queries{db: tx, table: r.table})
	})
}

// List returns relations of ownerID.
func (r *PostgresRepository) List(ctx context.Context, ownerID string) ([]Relation, error) {
	return r.q().list(ctx, ownerID)
}

// Owners returns owners referencing relatedID.
func (r *PostgresRepository) Owners(ctx context.Context, relatedID string) ([]string, error) {
	return r.q().owners(ctx, relatedID)
}

// Insert adds pairs, skipping existing ones.
func (r *PostgresRepository) Insert(ctx context.Context, ownerID string, relatedIDs []string) error {
	return r.q().Insert(ctx, ownerID, relatedIDs)
}

// DeleteAll removes every relation of ownerID.
func (r *PostgresRepository) DeleteAll(ctx context.Context, ownerID string) error {
	return r.q().DeleteAll(ctx, ownerID)
}

func (r *PostgresRepository) q() *queries {
	return &queries{db: r.pool, table: r.table}
}

type queries struct {
	db    dbtx
	table Table
}

func (q *queries) Insert(ctx context.Context, ownerID string, relatedIDs []string) error {
	sql := fmt.Sprintf(`INSERT INTO %s (%s, %s, created_at)
SELECT $1, related, NOW() FROM unnest($2::text[]) AS related
ON CONFLICT (%s, %s) DO NOTHING`, q.table.Name, q.table.OwnerCol, q.table.RelatedCol, q.table.OwnerCol, q.table.RelatedCol)
	if _, err := q.db.Exec(ctx, sql, ownerID, relatedIDs); err != nil {
		return db.Classify(err)
	}
	return nil
}

func (q *queries) DeleteAll(ctx context.Context, ownerID string) error {
	sql := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, q.table.Name, q.table.OwnerCol)
	if _, err := q.db.Exec(ctx, sql, ownerID); err != nil {
		return db.Classify(err)
	}
	return nil
}

func (q *queries) list(ctx context.Context, ownerID string) ([]Relation, error) {
	sql := fmt.Sprintf(`SELECT %s, %s, created_at FROM %s WHERE %s = $1 ORDER BY %s`,
		q.table.OwnerCol, q.table.RelatedCol, q.table.Name, q.table.OwnerCol, q.table.RelatedCol)
	rows, err := q.db.Query(ctx, sql, ownerID)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []Relation
	for rows.Next() {
		var rel Relation
		if err := rows.Scan(&rel.OwnerID, &rel.RelatedID, &rel.CreatedAt); err != nil {
			return nil, db.Classify(err)
		}
		out = append(out, rel)
	}
	return out, db.Classify(rows.Err())
}

func (q *queries) owners(ctx context.Context, relatedID string) ([]string, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 ORDER BY %s`,
		q.table.OwnerCol, q.table.Name, q.table.RelatedCol, q.table.OwnerCol)
	rows, err := q.db.Query(ctx, sql, relatedID)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, db.Classify(err)
		}
		out = append(out, id)
	}
	return out, db.Classify(rows.Err())
}
