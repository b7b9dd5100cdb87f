package gql

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pgqlgate/pgqlgate/internal/catalog"
)

func TestFieldNames(t *testing.T) {
	assert.Equal(t, "customer", ListFieldName("customer"))
	assert.Equal(t, "customerByPk", ByPKFieldName("customer"))
	assert.Equal(t, "customerConnection", ConnectionFieldName("customer"))
	assert.Equal(t, "customer_aggregate", AggregateFieldName("customer"))
	assert.Equal(t, "customerChanges", ChangesFieldName("customer"))
}

func TestMutationNames_PreserveUnderscores(t *testing.T) {
	assert.Equal(t, "createOrder_items", CreateFieldName("order_items"))
	assert.Equal(t, "updateOrder_items", UpdateFieldName("order_items"))
	assert.Equal(t, "deleteOrder_items", DeleteFieldName("order_items"))
	assert.Equal(t, "createOrder_itemsWithRelations", CreateWithRelationsFieldName("order_items"))
}

func TestCreateManyFieldName(t *testing.T) {
	assert.Equal(t, "createManyCustomers", CreateManyFieldName("customer"))
	// Names already ending in s are not doubled
	assert.Equal(t, "createManyOrder_items", CreateManyFieldName("order_items"))
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, "Customer", TypeName("customer"))
	assert.Equal(t, "Order_items", TypeName("order_items"))
	assert.Equal(t, "", TypeName(""))
}

func TestRelationFieldName(t *testing.T) {
	tests := []struct {
		name     string
		fk       catalog.ForeignKey
		expected string
	}{
		{
			name: "single column with _id suffix",
			fk: catalog.ForeignKey{
				Columns:         []string{"author_id"},
				ReferencedTable: "users",
			},
			expected: "author",
		},
		{
			name: "single column with Id suffix",
			fk: catalog.ForeignKey{
				Columns:         []string{"authorId"},
				ReferencedTable: "users",
			},
			expected: "author",
		},
		{
			name: "single column without suffix falls back to referenced table",
			fk: catalog.ForeignKey{
				Columns:         []string{"owner"},
				ReferencedTable: "companies",
			},
			expected: "company",
		},
		{
			name: "composite key uses singular referenced table",
			fk: catalog.ForeignKey{
				Columns:         []string{"order_id", "line_no"},
				ReferencedTable: "order_lines",
			},
			expected: "order_line",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, RelationFieldName(tt.fk))
		})
	}
}

func TestConnectInputName(t *testing.T) {
	fk := catalog.ForeignKey{Columns: []string{"customer_id"}, ReferencedTable: "customers"}
	assert.Equal(t, "customer_connect", ConnectInputName(fk))
}

func TestEnumValueName(t *testing.T) {
	assert.Equal(t, "OPEN", EnumValueName("open"))
	assert.Equal(t, "IN_PROGRESS", EnumValueName("in-progress"))
	assert.Equal(t, "ON_HOLD", EnumValueName("on hold"))
	assert.Equal(t, "_2FA", EnumValueName("2fa"))
	assert.Equal(t, "_EMPTY", EnumValueName("---"))
}

func TestSingularize(t *testing.T) {
	assert.Equal(t, "category", singularize("categories"))
	assert.Equal(t, "box", singularize("boxes"))
	assert.Equal(t, "order", singularize("orders"))
	assert.Equal(t, "address", singularize("address"))
	assert.Equal(t, "class", singularize("classes"))
}
