package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeNotNullViolation    = "23502"
	codeCheckViolation      = "23514"
)

// Classify maps a pgx error onto the shared error taxonomy. Errors that are
// already classified pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var classified *shared.Error
	if errors.As(err, &classified) {
		return err
	}
	var kind shared.Kind
	if errors.As(err, &kind) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &shared.Error{Kind: shared.ErrNotFound, Message: "record not found", Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		field := fieldFromConstraint(pgErr)
		switch {
		case pgErr.Code == codeUniqueViolation:
			return &shared.Error{Kind: shared.ErrConflict, Field: field, Message: field + " already exists", Err: err}
		case pgErr.Code == codeForeignKeyViolation:
			return &shared.Error{Kind: shared.ErrNotFound, Field: field, Message: "referenced record does not exist", Err: shared.ErrInvalidReference}
		case pgErr.Code == codeNotNullViolation:
			return &shared.Error{Kind: shared.ErrValidation, Field: pgErr.ColumnName, Message: "value is required", Err: err}
		case pgErr.Code == codeCheckViolation, strings.HasPrefix(pgErr.Code, "22"):
			return &shared.Error{Kind: shared.ErrValidation, Field: field, Message: "value is invalid", Err: err}
		}
	}
	return &shared.Error{Kind: shared.ErrFatal, Message: "database failure", Err: err}
}

// fieldFromConstraint derives a column name from constraint names such as
// users_email_key or user_roles_role_id_fkey.
func fieldFromConstraint(pgErr *pgconn.PgError) string {
	if pgErr.ColumnName != "" {
		return pgErr.ColumnName
	}
	name := pgErr.ConstraintName
	if name == "" {
		return ""
	}
	for _, suffix := range []string{"_key", "_fkey", "_check", "_idx", "_pkey"} {
		if strings.HasSuffix(name, suffix) {
			name = strings.TrimSuffix(name, suffix)
			break
		}
	}
	if pgErr.TableName != "" && strings.HasPrefix(name, pgErr.TableName+"_") {
		return strings.TrimPrefix(name, pgErr.TableName+"_")
	}
	return name
}
