package database

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorKind classifies a failure for the GraphQL error surface.
type ErrorKind string

const (
	KindValidation          ErrorKind = "VALIDATION_ERROR"
	KindExecutionAborted    ErrorKind = "EXECUTION_ABORTED"
	KindConstraintViolation ErrorKind = "CONSTRAINT_VIOLATION"
	KindNotFound            ErrorKind = "NOT_FOUND"
	KindDatabase            ErrorKind = "DATABASE_ERROR"
	KindSubscription        ErrorKind = "SUBSCRIPTION_ERROR"
)

// Error is a classified error carrying the client-safe message. The wrapped
// cause keeps the full detail for logging but never reaches the client.
type Error struct {
	Kind       ErrorKind
	Message    string
	Constraint string
	cause      error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NewValidationError creates a validation error with a client-facing message
func NewValidationError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewExecutionAborted creates an error for operations rejected before execution
func NewExecutionAborted(format string, args ...interface{}) *Error {
	return &Error{Kind: KindExecutionAborted, Message: fmt.Sprintf(format, args...)}
}

// NewNotFound creates a not-found error
func NewNotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewDatabaseError creates a generic database error
func NewDatabaseError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindDatabase, Message: fmt.Sprintf(format, args...)}
}

// NewSubscriptionError creates a subscription stream error
func NewSubscriptionError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindSubscription, Message: fmt.Sprintf(format, args...)}
}

// ClassifyError maps a database error to a classified Error. Constraint
// violations keep the constraint name in the message; everything else gets a
// generic message so driver internals never leak to clients.
func ClassifyError(err error) *Error {
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return &Error{Kind: KindNotFound, Message: "record not found", cause: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return &Error{
				Kind:       KindConstraintViolation,
				Message:    fmt.Sprintf("unique constraint violation: %s", pgErr.ConstraintName),
				Constraint: pgErr.ConstraintName,
				cause:      err,
			}
		case pgerrcode.ForeignKeyViolation:
			return &Error{
				Kind:       KindConstraintViolation,
				Message:    fmt.Sprintf("foreign key constraint violation: %s", pgErr.ConstraintName),
				Constraint: pgErr.ConstraintName,
				cause:      err,
			}
		case pgerrcode.CheckViolation:
			return &Error{
				Kind:       KindConstraintViolation,
				Message:    fmt.Sprintf("check constraint violation: %s", pgErr.ConstraintName),
				Constraint: pgErr.ConstraintName,
				cause:      err,
			}
		case pgerrcode.NotNullViolation:
			return &Error{
				Kind:       KindConstraintViolation,
				Message:    fmt.Sprintf("not-null constraint violation on column %s", pgErr.ColumnName),
				Constraint: pgErr.ConstraintName,
				cause:      err,
			}
		case pgerrcode.InvalidTextRepresentation, pgerrcode.DatatypeMismatch, pgerrcode.NumericValueOutOfRange:
			return &Error{
				Kind:    KindValidation,
				Message: "invalid value for column type",
				cause:   err,
			}
		}
	}

	return &Error{Kind: KindDatabase, Message: "database operation failed", cause: err}
}

// IsUniqueViolation checks if an error is a unique constraint violation
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return false
}

// IsForeignKeyViolation checks if an error is a foreign key violation
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.ForeignKeyViolation
	}
	return false
}

// IsCheckViolation checks if an error is a check constraint violation
func IsCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.CheckViolation
	}
	return false
}

// GetConstraintName returns the constraint name from a PostgreSQL error
func GetConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}
