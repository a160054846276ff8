package library

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrActiveLoans          = errors.New("cannot delete, active loans exist")
	ErrInvalidCredentials   = errors.New("invalid username or password")
	ErrCopyUnavailable      = errors.New("copy is not available")
	ErrDuplicateReservation = errors.New("you already have an active reservation for this book")
	ErrLoanNotActive        = errors.New("loan is already returned")
	ErrInvalidTransition    = errors.New("invalid reservation status transition")
	ErrCopiesInUse          = errors.New("not enough unused copies to remove")
	ErrValidation           = errors.New("validation failed")
	ErrForbidden            = errors.New("not allowed for this role")
)

// ValidationError carries per-field messages for input rejected before any write.
type ValidationError struct {
	Fields validation.Errors
}

func (e *ValidationError) Error() string { return e.Fields.Error() }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// fieldError builds a single-field ValidationError.
func fieldError(field, msg string) *ValidationError {
	return &ValidationError{Fields: validation.Errors{field: errors.New(msg)}}
}

// asValidationError converts the result of ozzo validation, leaving internal
// rule errors untouched.
func asValidationError(err error) error {
	if err == nil {
		return nil
	}
	var errs validation.Errors
	if errors.As(err, &errs) {
		return &ValidationError{Fields: errs}
	}
	return err
}

const pgUniqueViolation = "23505"

// isUniqueViolation recognises unique-constraint failures from every
// supported driver.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}
