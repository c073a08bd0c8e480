package users

import (
	"context"
	"fmt"
	"time"

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

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	db dbtx
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// email is nullable so several accounts may omit it while staying unique.
const userColumns = `id, username, COALESCE(email, ''), phone, nickname, avatar, hometown, birthday, status, created_at, updated_at, deleted_at`

func scanUser(row pgx.Row, extra ...any) (User, error) {
	var u User
	dest := append([]any{
		&u.ID, &u.Username, &u.Email, &u.Phone, &u.Nickname, &u.Avatar, &u.Hometown,
		&u.Birthday, &u.Status, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return User{}, db.Classify(err)
	}
	return u, nil
}

func collectUsers(rows pgx.Rows) ([]User, error) {
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, db.Classify(rows.Err())
}

// Create inserts an active user.
func (r *Repository) Create(ctx context.Context, in NewUser) (User, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO users
	(id, username, email, phone, nickname, avatar, hometown, birthday, password_hash, status, created_at, updated_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, 'active', NOW(), NOW())
RETURNING `+userColumns,
		ids.New(), in.Username, in.Email, in.Phone, in.Nickname, in.Avatar, in.Hometown, in.Birthday, in.PasswordHash)
	u, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("users: create: %w", err)
	}
	return u, nil
}

// Get loads a user by id.
func (r *Repository) Get(ctx context.Context, id string) (User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// List returns every user, cancelled ones included, ordered by id.
func (r *Repository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, db.Classify(err)
	}
	return collectUsers(rows)
}

// Update applies patch and returns the stored row.
func (r *Repository) Update(ctx context.Context, id string, patch Patch) (User, error) {
	row := r.db.QueryRow(ctx, `UPDATE users SET
	username = COALESCE($2, username),
	email = COALESCE(NULLIF($3, ''), email),
	phone = COALESCE($4, phone),
	nickname = COALESCE($5, nickname),
	avatar = COALESCE($6, avatar),
	hometown = COALESCE($7, hometown),
	birthday = COALESCE($8, birthday),
	password_hash = COALESCE($9, password_hash),
	updated_at = NOW()
WHERE id = $1
RETURNING `+userColumns,
		id, patch.Username, patch.Email, patch.Phone, patch.Nickname, patch.Avatar, patch.Hometown, patch.Birthday, patch.PasswordHash)
	u, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("users: update: %w", err)
	}
	return u, nil
}

// Delete hard-deletes a user regardless of state.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("users: delete: %w", db.Classify(err))
	}
	if tag.RowsAffected() == 0 {
		return db.Classify(pgx.ErrNoRows)
	}
	return nil
}

// FindCredentials looks a user up by username or email.
func (r *Repository) FindCredentials(ctx context.Context, login string) (Credentials, error) {
	var hash string
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+`, password_hash
FROM users WHERE username = $1 OR email = $1
LIMIT 1`, login), &hash)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{User: u, PasswordHash: hash}, nil
}

// Cancel soft-deletes an active user.
func (r *Repository) Cancel(ctx context.Context, id string, at time.Time) (User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `UPDATE users
SET status = 'cancelled', deleted_at = $2, updated_at = NOW()
WHERE id = $1 AND status = 'active'
RETURNING `+userColumns, id, at))
	if err != nil {
		return User{}, fmt.Errorf("users: cancel: %w", err)
	}
	return u, nil
}

// Uncancel restores a cancelled user.
func (r *Repository) Uncancel(ctx context.Context, id string) (User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `UPDATE users
SET status = 'active', deleted_at = NULL, updated_at = NOW()
WHERE id = $1 AND status = 'cancelled'
RETURNING `+userColumns, id))
	if err != nil {
		return User{}, fmt.Errorf("users: uncancel: %w", err)
	}
	return u, nil
}

// PurgeCancelled hard-deletes users cancelled before cutoff and returns them.
// The status predicate keeps a concurrent uncancel from being purged.
func (r *Repository) PurgeCancelled(ctx context.Context, cutoff time.Time) ([]User, error) {
	rows, err := r.db.Query(ctx, `DELETE FROM users
WHERE status = 'cancelled' AND deleted_at < $1
RETURNING `+userColumns, cutoff)
	if err != nil {
		return nil, fmt.Errorf("users: purge: %w", db.Classify(err))
	}
	return collectUsers(rows)
}
