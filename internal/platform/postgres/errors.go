package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/durable-tasks/internal/store"
)

// PostgreSQL error codes
const (
	uniqueViolationCode          = "23505"
	checkViolationCode           = "23514"
	notNullViolationCode         = "23502"
	invalidTextRepresentation    = "22P02"
	undefinedTableCode           = "42P01"
	serializationFailureCode     = "40001"
	connectionFailureClassPrefix = "08"
)

// MapError maps a database error to the store error taxonomy, wrapping the
// original error so the driver detail is kept for logs.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == uniqueViolationCode:
			return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
		case pgErr.Code == checkViolationCode:
			return fmt.Errorf(
				"%w: check constraint violation (%s): %v",
				store.ErrInvalidEntity,
				pgErr.ConstraintName,
				err,
			)
		case pgErr.Code == notNullViolationCode:
			return fmt.Errorf(
				"%w: not null violation (%s): %v",
				store.ErrInvalidEntity,
				pgErr.ColumnName,
				err,
			)
		case pgErr.Code == invalidTextRepresentation:
			return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		case pgErr.Code == serializationFailureCode:
			return fmt.Errorf("%w: %v", store.ErrTransactionFailed, err)
		case pgErr.Code == undefinedTableCode:
			return fmt.Errorf("%w: schema not migrated: %v", store.ErrUnavailable, err)
		case len(pgErr.Code) == 5 && pgErr.Code[:2] == connectionFailureClassPrefix:
			return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
	}

	return err
}

// IsUniqueViolation checks if the given error is a PostgreSQL unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// CheckRowsAffected returns store.ErrNotFound when result touched no rows.
// It is used for UPDATE and DELETE statements whose target must exist.
func CheckRowsAffected(result sql.Result, entityName string) error {
	if result == nil {
		return fmt.Errorf("nil result provided to CheckRowsAffected")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		if entityName == "" {
			return store.ErrNotFound
		}
		return fmt.Errorf("%w: %s not found", store.ErrNotFound, entityName)
	}

	return nil
}
