package resolve

import (
	"context"
	"testing"

	"github.com/graphql-go/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgqlgate/pgqlgate/internal/catalog"
	"github.com/pgqlgate/pgqlgate/internal/gql"
)

// mutationSchemaCatalog keeps non-key columns nullable so each operation can
// name only the columns it exercises.
func mutationSchemaCatalog() *catalog.Catalog {
	return &catalog.Catalog{
		Schema: "public",
		Tables: []catalog.Table{
			{
				Schema: "public", Name: "customers", Kind: catalog.KindBaseTable,
				Columns: []catalog.Column{
					{Name: "customer_id", DataType: "int4", IsPrimaryKey: true},
					{Name: "email", DataType: "text", IsNullable: true},
				},
				PrimaryKey: []string{"customer_id"},
			},
			{
				Schema: "public", Name: "orders", Kind: catalog.KindBaseTable,
				Columns: []catalog.Column{
					{Name: "order_id", DataType: "int4", IsPrimaryKey: true},
					{Name: "customer_id", DataType: "int4", IsForeignKey: true, IsNullable: true},
					{Name: "total", DataType: "numeric", IsNullable: true},
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

// executeMutation runs one operation through a schema built from the catalog,
// with every statement landing on the fake.
func executeMutation(t *testing.T, db *fakeQuerier, query string) *graphql.Result {
	t.Helper()

	r := NewResolvers(nil, nil, "public", nil)
	schema, err := gql.NewBuilder(mutationSchemaCatalog(), r).Build()
	require.NoError(t, err)

	ectx := NewExecutionContext("", db)
	return graphql.Do(graphql.Params{
		Schema:        schema,
		RequestString: query,
		Context:       WithExecutionContext(context.Background(), ectx),
	})
}

func TestSchemaMutation_Create(t *testing.T) {
	db := &fakeQuerier{results: []*fakeRows{{
		columns: []string{"order_id", "total"},
		rows:    [][]interface{}{{int64(1), "19.99"}},
	}}}

	result := executeMutation(t, db,
		`mutation { createOrders(input: {order_id: 1, total: "19.99"}) { order_id } }`)
	require.Empty(t, result.Errors)

	require.Len(t, db.queries, 1)
	assert.Equal(t,
		`INSERT INTO "public"."orders" ("order_id", "total") VALUES ($1, $2) RETURNING *`,
		db.queries[0].sql)
	assert.Equal(t, []interface{}{int64(1), "19.99"}, db.queries[0].args)
}

func TestSchemaMutation_CreateMany(t *testing.T) {
	db := &fakeQuerier{results: []*fakeRows{{
		columns: []string{"order_id"},
		rows:    [][]interface{}{{int64(1)}, {int64(2)}},
	}}}

	result := executeMutation(t, db,
		`mutation { createManyOrders(inputs: [{order_id: 1, total: "10"}, {order_id: 2}]) { order_id } }`)
	require.Empty(t, result.Errors, "the declared inputs argument reaches the resolver")

	require.Len(t, db.queries, 1, "batch insert is a single statement")
	assert.Equal(t,
		`INSERT INTO "public"."orders" ("order_id", "total") VALUES ($1, $2), ($3, $4) RETURNING *`,
		db.queries[0].sql)
	assert.Equal(t, []interface{}{int64(1), "10", int64(2), nil}, db.queries[0].args)

	data, ok := result.Data.(map[string]interface{})
	require.True(t, ok)
	rows, ok := data["createManyOrders"].([]interface{})
	require.True(t, ok)
	assert.Len(t, rows, 2)
}

func TestSchemaMutation_CreateWithRelations(t *testing.T) {
	db := &fakeQuerier{results: []*fakeRows{{
		columns: []string{"order_id", "customer_id"},
		rows:    [][]interface{}{{int64(5), int64(42)}},
	}}}

	result := executeMutation(t, db,
		`mutation { createOrdersWithRelations(input: {order_id: 5, customer_connect: {customer_id: 42}}) { order_id } }`)
	require.Empty(t, result.Errors)

	require.Len(t, db.queries, 1, "connect resolves inside the single INSERT")
	assert.Equal(t,
		`INSERT INTO "public"."orders" ("order_id", "customer_id") VALUES ($1, $2) RETURNING *`,
		db.queries[0].sql)
	assert.Equal(t, []interface{}{int64(5), int64(42)}, db.queries[0].args)
}

func TestSchemaMutation_Update(t *testing.T) {
	db := &fakeQuerier{results: []*fakeRows{{
		columns: []string{"order_id", "total"},
		rows:    [][]interface{}{{int64(1), "25"}},
	}}}

	result := executeMutation(t, db,
		`mutation { updateOrders(input: {order_id: 1, total: "25"}) { total } }`)
	require.Empty(t, result.Errors)

	require.Len(t, db.queries, 1)
	assert.Contains(t, db.queries[0].sql, `UPDATE "public"."orders" SET`)
	assert.Contains(t, db.queries[0].sql, `"total" =`)
	assert.Contains(t, db.queries[0].sql, "RETURNING *")
}

func TestSchemaMutation_Delete(t *testing.T) {
	db := &fakeQuerier{results: []*fakeRows{{
		columns: []string{"order_id"},
		rows:    [][]interface{}{{int64(4)}},
	}}}

	result := executeMutation(t, db,
		`mutation { deleteOrders(input: {order_id: 4}) { order_id } }`)
	require.Empty(t, result.Errors)

	require.Len(t, db.queries, 1)
	assert.Equal(t,
		`DELETE FROM "public"."orders" WHERE "order_id" = $1 RETURNING *`,
		db.queries[0].sql)
	assert.Equal(t, []interface{}{int64(4)}, db.queries[0].args)
}
