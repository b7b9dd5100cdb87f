package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantKind       ErrorKind
		wantConstraint string
		wantMsg        string
	}{
		{
			name:           "unique violation",
			err:            &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "users_email_key"},
			wantKind:       KindConstraintViolation,
			wantConstraint: "users_email_key",
			wantMsg:        "unique constraint violation: users_email_key",
		},
		{
			name:           "foreign key violation",
			err:            &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation, ConstraintName: "orders_user_id_fkey"},
			wantKind:       KindConstraintViolation,
			wantConstraint: "orders_user_id_fkey",
			wantMsg:        "foreign key constraint violation: orders_user_id_fkey",
		},
		{
			name:           "check violation",
			err:            &pgconn.PgError{Code: pgerrcode.CheckViolation, ConstraintName: "orders_total_check"},
			wantKind:       KindConstraintViolation,
			wantConstraint: "orders_total_check",
			wantMsg:        "check constraint violation: orders_total_check",
		},
		{
			name:     "not null violation",
			err:      &pgconn.PgError{Code: pgerrcode.NotNullViolation, ColumnName: "email"},
			wantKind: KindConstraintViolation,
			wantMsg:  "not-null constraint violation on column email",
		},
		{
			name:     "invalid text representation maps to validation",
			err:      &pgconn.PgError{Code: pgerrcode.InvalidTextRepresentation},
			wantKind: KindValidation,
		},
		{
			name:     "no rows maps to not found",
			err:      pgx.ErrNoRows,
			wantKind: KindNotFound,
			wantMsg:  "record not found",
		},
		{
			name:     "generic error maps to database error with opaque message",
			err:      errors.New("dial tcp 127.0.0.1:5432: connection refused"),
			wantKind: KindDatabase,
			wantMsg:  "database operation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := ClassifyError(tt.err)
			require.NotNil(t, classified)
			assert.Equal(t, tt.wantKind, classified.Kind)
			if tt.wantConstraint != "" {
				assert.Equal(t, tt.wantConstraint, classified.Constraint)
			}
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, classified.Message)
			}
		})
	}
}

func TestClassifyError_PreservesAlreadyClassified(t *testing.T) {
	original := NewValidationError("limit must be non-negative, got %d", -5)
	classified := ClassifyError(original)
	assert.Same(t, original, classified)
	assert.Equal(t, KindValidation, classified.Kind)
	assert.Equal(t, "limit must be non-negative, got -5", classified.Message)
}

func TestClassifyError_WrappedPgError(t *testing.T) {
	pgErr := &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "pk_users"}
	wrapped := fmt.Errorf("insert failed: %w", pgErr)

	classified := ClassifyError(wrapped)
	assert.Equal(t, KindConstraintViolation, classified.Kind)
	assert.Equal(t, "pk_users", classified.Constraint)
}

func TestClassifyError_GenericMessageNeverLeaksCause(t *testing.T) {
	cause := errors.New("password authentication failed for user \"postgres\"")
	classified := ClassifyError(cause)
	assert.NotContains(t, classified.Error(), "postgres")
	assert.ErrorIs(t, classified, cause)
}

func TestIsUniqueViolation(t *testing.T) {
	t.Run("returns true for unique violation error", func(t *testing.T) {
		err := &pgconn.PgError{Code: pgerrcode.UniqueViolation}
		assert.True(t, IsUniqueViolation(err))
	})

	t.Run("returns false for other pg errors", func(t *testing.T) {
		err := &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation}
		assert.False(t, IsUniqueViolation(err))
	})

	t.Run("returns false for non-pg error", func(t *testing.T) {
		assert.False(t, IsUniqueViolation(errors.New("generic error")))
	})

	t.Run("returns false for nil error", func(t *testing.T) {
		assert.False(t, IsUniqueViolation(nil))
	})
}

func TestIsForeignKeyViolation(t *testing.T) {
	t.Run("returns true for foreign key violation error", func(t *testing.T) {
		err := &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation}
		assert.True(t, IsForeignKeyViolation(err))
	})

	t.Run("returns false for other pg errors", func(t *testing.T) {
		err := &pgconn.PgError{Code: pgerrcode.UniqueViolation}
		assert.False(t, IsForeignKeyViolation(err))
	})

	t.Run("returns false for nil error", func(t *testing.T) {
		assert.False(t, IsForeignKeyViolation(nil))
	})
}

func TestIsCheckViolation(t *testing.T) {
	t.Run("returns true for check violation error", func(t *testing.T) {
		err := &pgconn.PgError{Code: pgerrcode.CheckViolation}
		assert.True(t, IsCheckViolation(err))
	})

	t.Run("returns false for other pg errors", func(t *testing.T) {
		err := &pgconn.PgError{Code: pgerrcode.UniqueViolation}
		assert.False(t, IsCheckViolation(err))
	})

	t.Run("returns false for nil error", func(t *testing.T) {
		assert.False(t, IsCheckViolation(nil))
	})
}

func TestGetConstraintName(t *testing.T) {
	t.Run("returns constraint name from pg error", func(t *testing.T) {
		err := &pgconn.PgError{
			Code:           pgerrcode.UniqueViolation,
			ConstraintName: "users_email_key",
		}
		assert.Equal(t, "users_email_key", GetConstraintName(err))
	})

	t.Run("returns empty string for non-pg error", func(t *testing.T) {
		assert.Equal(t, "", GetConstraintName(errors.New("generic error")))
	})

	t.Run("returns empty string for nil error", func(t *testing.T) {
		assert.Equal(t, "", GetConstraintName(nil))
	})
}
