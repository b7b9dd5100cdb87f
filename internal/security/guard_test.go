package security

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgqlgate/pgqlgate/internal/catalog"
	"github.com/pgqlgate/pgqlgate/internal/config"
	"github.com/pgqlgate/pgqlgate/internal/database"
)

func guardCatalog() *catalog.Catalog {
	return &catalog.Catalog{
		Schema: "public",
		Tables: []catalog.Table{
			{
				Schema: "public", Name: "customers", Kind: catalog.KindBaseTable,
				Columns: []catalog.Column{
					{Name: "customer_id", DataType: "int4", IsPrimaryKey: true},
					{Name: "email", DataType: "text"},
				},
				PrimaryKey: []string{"customer_id"},
			},
			{
				Schema: "public", Name: "orders", Kind: catalog.KindBaseTable,
				Columns: []catalog.Column{
					{Name: "order_id", DataType: "int4", IsPrimaryKey: true},
					{Name: "customer_id", DataType: "int4", IsForeignKey: true},
				},
				PrimaryKey: []string{"order_id"},
				ForeignKeys: []catalog.ForeignKey{
					{
						Name: "orders_customer_id_fkey", Columns: []string{"customer_id"},
						ReferencedSchema: "public", ReferencedTable: "customers",
						ReferencedColumns: []string{"customer_id"},
					},
				},
			},
		},
	}
}

func defaultGuard() *Guard {
	return NewGuard(config.SecurityConfig{
		MaxDepth:        8,
		MaxComplexity:   500,
		MaxRequestBytes: 1 << 20,
	})
}

// nestedQuery builds a query nested to the given depth:
// { customers { f { f { ... } } } }
func nestedQuery(depth int) string {
	var b strings.Builder
	b.WriteString("{ customers ")
	for i := 1; i < depth; i++ {
		b.WriteString("{ email ")
	}
	// innermost field has no selection set, so close one brace fewer
	for i := 0; i < depth; i++ {
		b.WriteString("}")
	}
	return b.String()
}

func TestGuard_DepthWithinLimit(t *testing.T) {
	err := defaultGuard().Check(guardCatalog(), nestedQuery(8), 100)
	assert.NoError(t, err)
}

func TestGuard_DepthExceeded(t *testing.T) {
	err := defaultGuard().Check(guardCatalog(), nestedQuery(10), 100)
	require.Error(t, err)

	var dbErr *database.Error
	require.True(t, errors.As(err, &dbErr))
	assert.Equal(t, database.KindExecutionAborted, dbErr.Kind)
	assert.Contains(t, err.Error(), "maximum query depth exceeded")
	assert.Contains(t, err.Error(), "10")
	assert.Contains(t, err.Error(), "8")
}

func TestGuard_IntrospectionCountsTowardDepth(t *testing.T) {
	guard := NewGuard(config.SecurityConfig{MaxDepth: 2, MaxComplexity: 500})
	err := guard.Check(guardCatalog(), `{ __schema { types { fields { name } } } }`, 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum query depth exceeded")
}

func TestGuard_ComplexityScoring(t *testing.T) {
	// customers(limit: 100): 1 + ceil(100/10) = 11, email: 1 => 12
	guard := NewGuard(config.SecurityConfig{MaxDepth: 8, MaxComplexity: 11})
	err := guard.Check(guardCatalog(), `{ customers(limit: 100) { email } }`, 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query complexity 12")

	guard = NewGuard(config.SecurityConfig{MaxDepth: 8, MaxComplexity: 12})
	assert.NoError(t, guard.Check(guardCatalog(), `{ customers(limit: 100) { email } }`, 100))
}

func TestGuard_ComplexityDefaultLimit(t *testing.T) {
	// Without a literal limit the effective limit is 10:
	// customers: 1 + 1, email: 1 => 3
	guard := NewGuard(config.SecurityConfig{MaxDepth: 8, MaxComplexity: 2})
	err := guard.Check(guardCatalog(), `{ customers { email } }`, 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query complexity 3")
}

func TestGuard_RelationshipFieldsCostExtra(t *testing.T) {
	// orders: 2, order_id: 1, customer (relationship): 3, email: 1 => 7
	query := `{ orders { order_id customer { email } } }`

	guard := NewGuard(config.SecurityConfig{MaxDepth: 8, MaxComplexity: 6})
	err := guard.Check(guardCatalog(), query, 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query complexity 7")

	guard = NewGuard(config.SecurityConfig{MaxDepth: 8, MaxComplexity: 7})
	assert.NoError(t, guard.Check(guardCatalog(), query, 100))
}

func TestGuard_AliasesCountSeparately(t *testing.T) {
	// Two aliased list fields: (1+1) * 2 = 4
	query := `{ a: customers { email } b: customers { email } }`
	guard := NewGuard(config.SecurityConfig{MaxDepth: 8, MaxComplexity: 5})
	err := guard.Check(guardCatalog(), query, 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query complexity 6")
}

func TestGuard_RequestSize(t *testing.T) {
	guard := NewGuard(config.SecurityConfig{MaxDepth: 8, MaxComplexity: 500, MaxRequestBytes: 64})
	err := guard.Check(guardCatalog(), `{ customers { email } }`, 65)
	require.Error(t, err)

	var dbErr *database.Error
	require.True(t, errors.As(err, &dbErr))
	assert.Equal(t, database.KindExecutionAborted, dbErr.Kind)
	assert.Contains(t, err.Error(), "request size")
}

func TestGuard_InvalidSyntax(t *testing.T) {
	err := defaultGuard().Check(guardCatalog(), `{ customers {`, 100)
	require.Error(t, err)

	var dbErr *database.Error
	require.True(t, errors.As(err, &dbErr))
	assert.Equal(t, database.KindValidation, dbErr.Kind)
}

func TestGuard_FragmentsResolveThroughSpreads(t *testing.T) {
	query := `
		query { customers { ...deep } }
		fragment deep on Customers { email }
	`
	assert.NoError(t, defaultGuard().Check(guardCatalog(), query, 200))

	guard := NewGuard(config.SecurityConfig{MaxDepth: 1, MaxComplexity: 500})
	err := guard.Check(guardCatalog(), query, 200)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum query depth exceeded")
}

func TestValidateRole(t *testing.T) {
	assert.NoError(t, ValidateRole("analyst"))
	assert.NoError(t, ValidateRole("_reader"))
	assert.NoError(t, ValidateRole("app_user2"))

	for _, role := range []string{"", "2fast", "role; DROP TABLE x", "role name", `ro"le`} {
		err := ValidateRole(role)
		require.Error(t, err, "role %q", role)

		var dbErr *database.Error
		require.True(t, errors.As(err, &dbErr))
		assert.Equal(t, database.KindValidation, dbErr.Kind)
	}
}
