package jdbc

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mixing-db/mixing/internal/mixing"
)

// PostgreSQL error codes which indicate that the statement violated a
// constraint rather than failing on the transport level.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgNotNullViolation    = "23502"
)

// translateError maps driver errors onto the mapper error taxonomy.
// Constraint violations become validation errors, everything else is
// wrapped as a transport failure.
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return &mixing.ValidationError{
				Property: pgErr.ColumnName,
				Message:  "the value is already in use: " + pgErr.Detail,
			}
		case pgForeignKeyViolation:
			return &mixing.ValidationError{
				Property: pgErr.ColumnName,
				Message:  "the referenced entity does not exist: " + pgErr.Detail,
			}
		case pgCheckViolation:
			return &mixing.ValidationError{
				Property: pgErr.ColumnName,
				Message:  "the value violates a database constraint: " + pgErr.ConstraintName,
			}
		case pgNotNullViolation:
			return &mixing.ValidationError{
				Property: pgErr.ColumnName,
				Message:  "the field must be filled",
			}
		}
	}

	return &mixing.TransportError{Op: op, Cause: err}
}
