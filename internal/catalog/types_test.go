package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestColumn_IsAutoGenerated(t *testing.T) {
	tests := []struct {
		name     string
		column   Column
		expected bool
	}{
		{
			name:     "serial sequence default",
			column:   Column{DefaultValue: strPtr("nextval('orders_id_seq'::regclass)")},
			expected: true,
		},
		{
			name:     "uuid generator default",
			column:   Column{DefaultValue: strPtr("gen_random_uuid()")},
			expected: true,
		},
		{
			name:     "uuid-ossp generator default",
			column:   Column{DefaultValue: strPtr("uuid_generate_v4()")},
			expected: true,
		},
		{
			name:     "timestamp default",
			column:   Column{DefaultValue: strPtr("now()")},
			expected: true,
		},
		{
			name:     "current_timestamp default",
			column:   Column{DefaultValue: strPtr("CURRENT_TIMESTAMP")},
			expected: true,
		},
		{
			name:     "literal default is not auto-generated",
			column:   Column{DefaultValue: strPtr("'pending'::text")},
			expected: false,
		},
		{
			name:     "no default",
			column:   Column{},
			expected: false,
		},
		{
			name:     "empty default",
			column:   Column{DefaultValue: strPtr("")},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.column.IsAutoGenerated())
		})
	}
}

func TestColumn_IsArray(t *testing.T) {
	assert.True(t, (&Column{ArrayDims: 1, DataType: "int4", ElementType: "int4"}).IsArray())
	assert.True(t, (&Column{DataType: "text[]"}).IsArray())
	assert.False(t, (&Column{DataType: "text"}).IsArray())
}

func TestTable_IsReadOnly(t *testing.T) {
	assert.False(t, (&Table{Kind: KindBaseTable}).IsReadOnly())
	assert.True(t, (&Table{Kind: KindView}).IsReadOnly())
	assert.True(t, (&Table{Kind: KindMaterializedView}).IsReadOnly())
}

func TestTable_Column(t *testing.T) {
	table := Table{
		Columns: []Column{
			{Name: "id"},
			{Name: "email"},
		},
	}

	col, ok := table.Column("email")
	require.True(t, ok)
	assert.Equal(t, "email", col.Name)

	_, ok = table.Column("missing")
	assert.False(t, ok)
}

func TestCatalog_Lookups(t *testing.T) {
	cat := Catalog{
		Schema: "public",
		Tables: []Table{{Schema: "public", Name: "orders", Kind: KindBaseTable}},
		Enums:  []EnumType{{Schema: "public", Name: "order_status", Labels: []string{"open", "shipped"}}},
		Composites: []CompositeType{
			{Schema: "public", Name: "address", Fields: []CompositeField{{Name: "street", DataType: "text", Position: 1}}},
		},
	}

	table, ok := cat.Table("orders")
	require.True(t, ok)
	assert.Equal(t, "public.orders", table.QualifiedName())

	enum, ok := cat.Enum("order_status")
	require.True(t, ok)
	assert.Equal(t, []string{"open", "shipped"}, enum.Labels)

	comp, ok := cat.Composite("address")
	require.True(t, ok)
	assert.Len(t, comp.Fields, 1)

	_, ok = cat.Table("missing")
	assert.False(t, ok)
}

func TestCatalog_Validate(t *testing.T) {
	tests := []struct {
		name    string
		catalog Catalog
		wantErr string
	}{
		{
			name: "valid catalog",
			catalog: Catalog{
				Schema: "public",
				Tables: []Table{
					{
						Schema: "public", Name: "orders", Kind: KindBaseTable,
						Columns: []Column{
							{Name: "id", IsNullable: false},
							{Name: "customer_id", IsNullable: false},
						},
						PrimaryKey: []string{"id"},
						ForeignKeys: []ForeignKey{
							{
								Name:              "orders_customer_id_fkey",
								Columns:           []string{"customer_id"},
								ReferencedSchema:  "public",
								ReferencedTable:   "customers",
								ReferencedColumns: []string{"id"},
							},
						},
					},
				},
			},
		},
		{
			name: "nullable primary key column",
			catalog: Catalog{
				Tables: []Table{
					{
						Schema: "public", Name: "orders",
						Columns:    []Column{{Name: "id", IsNullable: true}},
						PrimaryKey: []string{"id"},
					},
				},
			},
			wantErr: "is nullable",
		},
		{
			name: "primary key column missing from columns",
			catalog: Catalog{
				Tables: []Table{
					{
						Schema: "public", Name: "orders",
						Columns:    []Column{{Name: "total"}},
						PrimaryKey: []string{"id"},
					},
				},
			},
			wantErr: "not found",
		},
		{
			name: "composite fk with mismatched column counts",
			catalog: Catalog{
				Tables: []Table{
					{
						Schema: "public", Name: "order_lines",
						Columns: []Column{{Name: "order_id"}, {Name: "line_no"}},
						ForeignKeys: []ForeignKey{
							{
								Name:              "order_lines_fkey",
								Columns:           []string{"order_id", "line_no"},
								ReferencedColumns: []string{"id"},
							},
						},
					},
				},
			},
			wantErr: "column count mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.catalog.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
