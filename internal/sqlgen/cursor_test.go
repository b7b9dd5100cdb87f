package sqlgen

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgqlgate/pgqlgate/internal/database"
)

func TestCursor_RoundTrip(t *testing.T) {
	table := ordersTable()
	orders := []Order{{Column: "total", Desc: true}, {Column: "order_id"}}
	row := map[string]interface{}{
		"order_id": int64(42),
		"total":    "99.50",
		"status":   "open",
	}

	cursor := EncodeCursor(orders, row)
	values, err := DecodeCursor(table, orders, cursor)
	require.NoError(t, err)

	require.Len(t, values, 2)
	assert.Equal(t, "99.50", values[0])
	assert.Equal(t, int64(42), values[1])
}

func TestCursor_RoundTripDateTime(t *testing.T) {
	table := ordersTable()
	orders := []Order{{Column: "placed_at"}}
	ts := time.Date(2024, 3, 15, 10, 30, 0, 123456000, time.UTC)

	cursor := EncodeCursor(orders, map[string]interface{}{"placed_at": ts})
	values, err := DecodeCursor(table, orders, cursor)
	require.NoError(t, err)

	require.Len(t, values, 1)
	assert.True(t, ts.Equal(values[0].(time.Time)))
}

func TestDecodeCursor_Malformed(t *testing.T) {
	table := ordersTable()
	orders := []Order{{Column: "order_id"}}

	for _, cursor := range []string{"not base64!!!", "", OffsetCursor} {
		_, err := DecodeCursor(table, orders, cursor)
		require.Error(t, err, "cursor %q", cursor)

		var dbErr *database.Error
		require.True(t, errors.As(err, &dbErr))
		assert.Equal(t, database.KindValidation, dbErr.Kind)
	}
}

func TestDecodeCursor_OrderByMismatch(t *testing.T) {
	table := ordersTable()

	cursor := EncodeCursor([]Order{{Column: "order_id"}}, map[string]interface{}{"order_id": 1})

	// Decoding against different orderBy columns fails
	_, err := DecodeCursor(table, []Order{{Column: "total"}}, cursor)
	require.Error(t, err)

	// So does a different column count
	_, err = DecodeCursor(table, []Order{{Column: "order_id"}, {Column: "total"}}, cursor)
	require.Error(t, err)
}

func TestKeysetFragment_SingleColumn(t *testing.T) {
	frag := KeysetFragment([]Order{{Column: "order_id"}}, []interface{}{int64(5)}, false)
	assert.Equal(t, `("order_id" > ?)`, frag.SQL)
	assert.Equal(t, []interface{}{int64(5)}, frag.Args)
}

func TestKeysetFragment_LexicographicExpansion(t *testing.T) {
	orders := []Order{{Column: "total", Desc: true}, {Column: "order_id"}}
	frag := KeysetFragment(orders, []interface{}{"99.50", int64(42)}, false)

	assert.Equal(t,
		`(("total" < ?) OR ("total" = ? AND "order_id" > ?))`,
		frag.SQL)
	assert.Equal(t, []interface{}{"99.50", "99.50", int64(42)}, frag.Args)
}

func TestKeysetFragment_BeforeInvertsComparators(t *testing.T) {
	orders := []Order{{Column: "total", Desc: true}, {Column: "order_id"}}
	frag := KeysetFragment(orders, []interface{}{"99.50", int64(42)}, true)

	assert.Equal(t,
		`(("total" > ?) OR ("total" = ? AND "order_id" < ?))`,
		frag.SQL)
}

func TestKeysetFragment_Degenerate(t *testing.T) {
	assert.True(t, KeysetFragment(nil, nil, false).Empty())
	assert.True(t, KeysetFragment([]Order{{Column: "a"}}, nil, false).Empty())
}
