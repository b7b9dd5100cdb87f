package sqlgen

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgqlgate/pgqlgate/internal/catalog"
	"github.com/pgqlgate/pgqlgate/internal/database"
)

func ordersTable() catalog.Table {
	return catalog.Table{
		Schema: "public",
		Name:   "orders",
		Kind:   catalog.KindBaseTable,
		Columns: []catalog.Column{
			{Name: "order_id", DataType: "int4", IsPrimaryKey: true},
			{Name: "customer_id", DataType: "int4"},
			{Name: "status", DataType: "text", IsNullable: true},
			{Name: "total", DataType: "numeric", IsNullable: true},
			{Name: "active", DataType: "boolean", IsNullable: true},
			{Name: "placed_at", DataType: "timestamptz", IsNullable: true},
			{Name: "meta", DataType: "jsonb", IsNullable: true},
			{Name: "tags", DataType: "_text", ElementType: "text", ArrayDims: 1, IsNullable: true},
		},
		PrimaryKey: []string{"order_id"},
	}
}

func TestCompileFilter_ColumnsCombineWithAnd(t *testing.T) {
	frag, err := CompileFilter(ordersTable(), map[string]interface{}{
		"order_id": map[string]interface{}{"gte": 10},
		"status":   map[string]interface{}{"eq": "open"},
	}, nil)
	require.NoError(t, err)

	// Catalog column order, not map order
	assert.Equal(t, `"order_id" >= ? AND "status" = ?`, frag.SQL)
	assert.Equal(t, []interface{}{int64(10), "open"}, frag.Args)
}

func TestCompileFilter_WhereAndOrGroups(t *testing.T) {
	frag, err := CompileFilter(ordersTable(),
		map[string]interface{}{"active": map[string]interface{}{"eq": true}},
		[]interface{}{
			map[string]interface{}{"customer_id": map[string]interface{}{"lt": 10}},
			map[string]interface{}{"customer_id": map[string]interface{}{"gt": 600}},
		})
	require.NoError(t, err)

	assert.Equal(t, `"active" = ? AND (("customer_id" < ?) OR ("customer_id" > ?))`, frag.SQL)
	assert.Equal(t, []interface{}{true, int64(10), int64(600)}, frag.Args)
}

func TestCompileFilter_InAndNotIn(t *testing.T) {
	frag, err := CompileFilter(ordersTable(), map[string]interface{}{
		"order_id": map[string]interface{}{"in": []interface{}{1, 2, 3}},
		"status":   map[string]interface{}{"notIn": []interface{}{"void"}},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, `"order_id" = ANY(?) AND "status" <> ALL(?)`, frag.SQL)
	require.Len(t, frag.Args, 2)
	assert.Equal(t, []int64{1, 2, 3}, frag.Args[0])
	assert.Equal(t, []string{"void"}, frag.Args[1])
}

func TestCompileFilter_EmptyInLists(t *testing.T) {
	frag, err := CompileFilter(ordersTable(), map[string]interface{}{
		"order_id": map[string]interface{}{"in": []interface{}{}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "FALSE", frag.SQL)

	frag, err = CompileFilter(ordersTable(), map[string]interface{}{
		"order_id": map[string]interface{}{"notIn": []interface{}{}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "TRUE", frag.SQL)
}

func TestCompileFilter_StringPatternOperators(t *testing.T) {
	tests := []struct {
		name     string
		filter   map[string]interface{}
		wantSQL  string
		wantArgs []interface{}
	}{
		{
			name:     "contains escapes metacharacters",
			filter:   map[string]interface{}{"status": map[string]interface{}{"contains": "50%_off"}},
			wantSQL:  `"status" LIKE ?`,
			wantArgs: []interface{}{`%50\%\_off%`},
		},
		{
			name:     "startsWith",
			filter:   map[string]interface{}{"status": map[string]interface{}{"startsWith": "open"}},
			wantSQL:  `"status" LIKE ?`,
			wantArgs: []interface{}{`open%`},
		},
		{
			name:     "endsWith",
			filter:   map[string]interface{}{"status": map[string]interface{}{"endsWith": "ed"}},
			wantSQL:  `"status" LIKE ?`,
			wantArgs: []interface{}{`%ed`},
		},
		{
			name:     "like passes the pattern verbatim",
			filter:   map[string]interface{}{"status": map[string]interface{}{"like": "op_n%"}},
			wantSQL:  `"status" LIKE ?`,
			wantArgs: []interface{}{"op_n%"},
		},
		{
			name:     "ilike",
			filter:   map[string]interface{}{"status": map[string]interface{}{"ilike": "OPEN%"}},
			wantSQL:  `"status" ILIKE ?`,
			wantArgs: []interface{}{"OPEN%"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frag, err := CompileFilter(ordersTable(), tt.filter, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, frag.SQL)
			assert.Equal(t, tt.wantArgs, frag.Args)
		})
	}
}

func TestCompileFilter_JSONOperators(t *testing.T) {
	frag, err := CompileFilter(ordersTable(), map[string]interface{}{
		"meta": map[string]interface{}{
			"contains": map[string]interface{}{"source": "web"},
			"hasKey":   "coupon",
		},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, `"meta" @> ? AND jsonb_exists("meta", ?)`, frag.SQL)
	assert.Equal(t, []interface{}{map[string]interface{}{"source": "web"}, "coupon"}, frag.Args)
}

func TestCompileFilter_ArrayOperators(t *testing.T) {
	frag, err := CompileFilter(ordersTable(), map[string]interface{}{
		"tags": map[string]interface{}{"contains": "priority"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, `? = ANY("tags")`, frag.SQL)
	assert.Equal(t, []interface{}{"priority"}, frag.Args)
}

func TestCompileFilter_NullOperators(t *testing.T) {
	frag, err := CompileFilter(ordersTable(), map[string]interface{}{
		"placed_at": map[string]interface{}{"isNull": true},
		"status":    map[string]interface{}{"isNotNull": true},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, `"status" IS NOT NULL AND "placed_at" IS NULL`, frag.SQL)
	assert.Empty(t, frag.Args)
}

func TestCompileFilter_NullOperatorInversion(t *testing.T) {
	frag, err := CompileFilter(ordersTable(), map[string]interface{}{
		"placed_at": map[string]interface{}{"isNull": false},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, `"placed_at" IS NOT NULL`, frag.SQL)
}

func TestCompileFilter_DateTimeCoercion(t *testing.T) {
	frag, err := CompileFilter(ordersTable(), map[string]interface{}{
		"placed_at": map[string]interface{}{"gte": "2024-03-15"},
	}, nil)
	require.NoError(t, err)

	require.Len(t, frag.Args, 1)
	ts, ok := frag.Args[0].(time.Time)
	require.True(t, ok)
	assert.Equal(t, 2024, ts.Year())
}

func TestCompileFilter_BadDateIsValidationError(t *testing.T) {
	_, err := CompileFilter(ordersTable(), map[string]interface{}{
		"placed_at": map[string]interface{}{"eq": "not-a-date"},
	}, nil)
	require.Error(t, err)

	var dbErr *database.Error
	require.True(t, errors.As(err, &dbErr))
	assert.Equal(t, database.KindValidation, dbErr.Kind)
}

func TestCompileFilter_NestedCombinators(t *testing.T) {
	frag, err := CompileFilter(ordersTable(), map[string]interface{}{
		"active": map[string]interface{}{"eq": true},
		"_not": map[string]interface{}{
			"status": map[string]interface{}{"eq": "void"},
		},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, `"active" = ? AND NOT ("status" = ?)`, frag.SQL)
	assert.Equal(t, []interface{}{true, "void"}, frag.Args)
}

func TestParseOrderBy(t *testing.T) {
	orders, err := ParseOrderBy(ordersTable(), []interface{}{
		map[string]interface{}{"total": "DESC_NULLS_LAST"},
		map[string]interface{}{"order_id": "ASC"},
	})
	require.NoError(t, err)

	require.Len(t, orders, 2)
	assert.Equal(t, Order{Column: "total", Desc: true, Nulls: "last"}, orders[0])
	assert.Equal(t, Order{Column: "order_id"}, orders[1])
}

func TestParseOrderBy_SingleObjectCoercion(t *testing.T) {
	orders, err := ParseOrderBy(ordersTable(), map[string]interface{}{"order_id": "ASC"})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "order_id", orders[0].Column)
}

func TestParseOrderBy_UnknownDirection(t *testing.T) {
	_, err := ParseOrderBy(ordersTable(), []interface{}{
		map[string]interface{}{"order_id": "SIDEWAYS"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SIDEWAYS")
}
