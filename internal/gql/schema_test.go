package gql

import (
	"context"
	"testing"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgqlgate/pgqlgate/internal/catalog"
)

func strPtrGql(s string) *string { return &s }

// storefrontCatalog is a small but representative snapshot: two base tables
// joined by a foreign key, a composite-key table, and a read-only view.
func storefrontCatalog() *catalog.Catalog {
	return &catalog.Catalog{
		Schema: "public",
		Tables: []catalog.Table{
			{
				Schema: "public", Name: "customers", Kind: catalog.KindBaseTable,
				Columns: []catalog.Column{
					{Name: "customer_id", DataType: "int4", IsPrimaryKey: true, DefaultValue: strPtrGql("nextval('customers_customer_id_seq'::regclass)")},
					{Name: "email", DataType: "text"},
					{Name: "active", DataType: "boolean", IsNullable: true},
					{Name: "status", DataType: "account_status", IsNullable: true},
				},
				PrimaryKey: []string{"customer_id"},
			},
			{
				Schema: "public", Name: "orders", Kind: catalog.KindBaseTable,
				Columns: []catalog.Column{
					{Name: "order_id", DataType: "int4", IsPrimaryKey: true, DefaultValue: strPtrGql("nextval('orders_order_id_seq'::regclass)")},
					{Name: "customer_id", DataType: "int4", IsForeignKey: true},
					{Name: "total", DataType: "numeric", IsNullable: true},
					{Name: "placed_at", DataType: "timestamptz", IsNullable: true},
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
			{
				Schema: "public", Name: "order_items", Kind: catalog.KindBaseTable,
				Columns: []catalog.Column{
					{Name: "order_id", DataType: "int4", IsPrimaryKey: true, IsForeignKey: true},
					{Name: "product_id", DataType: "int4", IsPrimaryKey: true},
					{Name: "quantity", DataType: "int4"},
				},
				PrimaryKey: []string{"order_id", "product_id"},
				ForeignKeys: []catalog.ForeignKey{
					{
						Name: "order_items_order_id_fkey", Columns: []string{"order_id"},
						ReferencedSchema: "public", ReferencedTable: "orders",
						ReferencedColumns: []string{"order_id"},
					},
				},
			},
			{
				Schema: "public", Name: "customer_totals", Kind: catalog.KindView,
				Columns: []catalog.Column{
					{Name: "customer_id", DataType: "int4", IsNullable: true},
					{Name: "order_count", DataType: "int8", IsNullable: true},
				},
			},
		},
		Enums: []catalog.EnumType{
			{Schema: "public", Name: "account_status", Labels: []string{"active", "suspended", "closed"}},
		},
	}
}

func buildTestSchema(t *testing.T) graphql.Schema {
	t.Helper()
	schema, err := NewBuilder(storefrontCatalog(), nil).Build()
	require.NoError(t, err)
	return schema
}

func TestBuild_QueryFields(t *testing.T) {
	schema := buildTestSchema(t)
	fields := schema.QueryType().Fields()

	for _, name := range []string{
		"customers", "customersConnection", "customers_aggregate", "customersByPk",
		"orders", "ordersConnection", "orders_aggregate", "ordersByPk",
		"order_items", "customer_totals", "_health",
	} {
		assert.Contains(t, fields, name)
	}

	// Views have no primary key, so no ByPk field
	assert.NotContains(t, fields, "customer_totalsByPk")
}

func TestBuild_ListArguments(t *testing.T) {
	schema := buildTestSchema(t)
	field := schema.QueryType().Fields()["orders"]
	require.NotNil(t, field)

	args := map[string]graphql.Input{}
	for _, arg := range field.Args {
		args[arg.Name()] = arg.Type
	}
	assert.Contains(t, args, "where")
	assert.Contains(t, args, "or")
	assert.Contains(t, args, "orderBy")
	assert.Contains(t, args, "limit")
	assert.Contains(t, args, "offset")
	assert.Contains(t, args, "filter")

	where, ok := args["where"].(*graphql.InputObject)
	require.True(t, ok)
	assert.Equal(t, "OrdersFilter", where.Name())
	assert.Contains(t, where.Fields(), "total")
	assert.Contains(t, where.Fields(), "or")
}

func TestBuild_MutationFields(t *testing.T) {
	schema := buildTestSchema(t)
	fields := schema.MutationType().Fields()

	for _, name := range []string{
		"createCustomers", "updateCustomers", "deleteCustomers",
		"createOrders", "createManyOrders", "createOrdersWithRelations",
		"updateOrder_items", "deleteOrder_items",
	} {
		assert.Contains(t, fields, name)
	}

	// Views never get mutations
	for name := range fields {
		assert.NotContains(t, name, "Customer_totals")
	}
}

func TestBuild_UpdateInputRequiresFullPrimaryKey(t *testing.T) {
	schema := buildTestSchema(t)
	field := schema.MutationType().Fields()["updateOrder_items"]
	require.NotNil(t, field)

	input := field.Args[0].Type.(*graphql.NonNull).OfType.(*graphql.InputObject)
	assert.Equal(t, "Order_itemsUpdateInput", input.Name())

	fields := input.Fields()
	_, orderIDRequired := fields["order_id"].Type.(*graphql.NonNull)
	_, productIDRequired := fields["product_id"].Type.(*graphql.NonNull)
	_, quantityRequired := fields["quantity"].Type.(*graphql.NonNull)
	assert.True(t, orderIDRequired)
	assert.True(t, productIDRequired)
	assert.False(t, quantityRequired)
}

func TestBuild_CreateInputSkipsRequiredOnGenerated(t *testing.T) {
	schema := buildTestSchema(t)
	field := schema.MutationType().Fields()["createCustomers"]
	require.NotNil(t, field)

	input := field.Args[0].Type.(*graphql.NonNull).OfType.(*graphql.InputObject)
	fields := input.Fields()

	// Serial PK stays optional, plain non-nullable column is required
	_, pkRequired := fields["customer_id"].Type.(*graphql.NonNull)
	_, emailRequired := fields["email"].Type.(*graphql.NonNull)
	assert.False(t, pkRequired)
	assert.True(t, emailRequired)
}

func TestBuild_ConnectInput(t *testing.T) {
	schema := buildTestSchema(t)
	field := schema.MutationType().Fields()["createOrdersWithRelations"]
	require.NotNil(t, field)

	input := field.Args[0].Type.(*graphql.NonNull).OfType.(*graphql.InputObject)
	connect, ok := input.Fields()["customer_connect"]
	require.True(t, ok)

	connectInput, ok := connect.Type.(*graphql.InputObject)
	require.True(t, ok)
	assert.Contains(t, connectInput.Fields(), "customer_id")
}

func TestBuild_RelationshipFields(t *testing.T) {
	schema := buildTestSchema(t)

	orders, ok := schema.Type("Orders").(*graphql.Object)
	require.True(t, ok)
	customerField, ok := orders.Fields()["customer"]
	require.True(t, ok)
	assert.Equal(t, "Customers", customerField.Type.Name())

	items, ok := schema.Type("Order_items").(*graphql.Object)
	require.True(t, ok)
	orderField, ok := items.Fields()["order"]
	require.True(t, ok)
	assert.Equal(t, "Orders", orderField.Type.Name())
}

func TestBuild_ConnectionShape(t *testing.T) {
	schema := buildTestSchema(t)

	conn, ok := schema.Type("CustomersConnection").(*graphql.Object)
	require.True(t, ok)
	assert.Contains(t, conn.Fields(), "edges")
	assert.Contains(t, conn.Fields(), "pageInfo")
	assert.Contains(t, conn.Fields(), "totalCount")

	pageInfo, ok := schema.Type("PageInfo").(*graphql.Object)
	require.True(t, ok)
	assert.Contains(t, pageInfo.Fields(), "hasNextPage")
	assert.Contains(t, pageInfo.Fields(), "endCursor")
}

func TestBuild_AggregateShape(t *testing.T) {
	schema := buildTestSchema(t)

	agg, ok := schema.Type("OrdersAggregate").(*graphql.Object)
	require.True(t, ok)
	assert.Contains(t, agg.Fields(), "count")
	assert.Contains(t, agg.Fields(), "sum")
	assert.Contains(t, agg.Fields(), "avg")
	assert.Contains(t, agg.Fields(), "min")
	assert.Contains(t, agg.Fields(), "max")

	sum, ok := schema.Type("OrdersAggregateSum").(*graphql.Object)
	require.True(t, ok)
	assert.Contains(t, sum.Fields(), "total")
	assert.NotContains(t, sum.Fields(), "placed_at")

	min, ok := schema.Type("OrdersAggregateMin").(*graphql.Object)
	require.True(t, ok)
	assert.Contains(t, min.Fields(), "placed_at")

	customersMin, ok := schema.Type("CustomersAggregateMin").(*graphql.Object)
	require.True(t, ok)
	assert.NotContains(t, customersMin.Fields(), "email", "text columns take no min/max")
}

func TestBuild_SubscriptionFields(t *testing.T) {
	schema := buildTestSchema(t)
	fields := schema.SubscriptionType().Fields()

	assert.Contains(t, fields, "customersChanges")
	assert.Contains(t, fields, "ordersChanges")
	assert.Contains(t, fields, "order_itemsChanges")
	assert.NotContains(t, fields, "customer_totalsChanges")
}

func TestBuild_EnumColumn(t *testing.T) {
	schema := buildTestSchema(t)

	enum, ok := schema.Type("Account_status").(*graphql.Enum)
	require.True(t, ok)
	var names []string
	for _, v := range enum.Values() {
		names = append(names, v.Name)
	}
	assert.ElementsMatch(t, []string{"ACTIVE", "SUSPENDED", "CLOSED"}, names)
}

type staticInspector struct {
	reflections int
}

func (s *staticInspector) Reflect(_ context.Context, schema string) (*catalog.Catalog, error) {
	s.reflections++
	cat := storefrontCatalog()
	cat.Schema = schema
	return cat, nil
}

func TestGenerator_CachesUntilInvalidated(t *testing.T) {
	inspector := &staticInspector{}
	gen := NewGenerator(catalog.NewCache(inspector, time.Hour), "public", nil)
	ctx := context.Background()

	first, err := gen.Schema(ctx)
	require.NoError(t, err)
	second, err := gen.Schema(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, inspector.reflections)

	gen.Invalidate()

	third, err := gen.Schema(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, 2, inspector.reflections)
}

func TestBuild_HealthQueryExecutes(t *testing.T) {
	schema := buildTestSchema(t)

	result := graphql.Do(graphql.Params{
		Schema:        schema,
		RequestString: `{ _health }`,
	})
	require.Empty(t, result.Errors)
	assert.Equal(t, map[string]interface{}{"_health": "ok"}, result.Data)
}
