package sqlgen

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/pgqlgate/pgqlgate/internal/catalog"
	"github.com/pgqlgate/pgqlgate/internal/database"
)

// OffsetCursor is the sentinel emitted in place of a real cursor when a
// connection pages by limit/offset because no orderBy was given.
const OffsetCursor = "offset-pagination"

// EncodeCursor serializes the orderBy tuple of a row as
// base64("f1:v1|f2:v2|…").
func EncodeCursor(orders []Order, row map[string]interface{}) string {
	segments := make([]string, len(orders))
	for i, order := range orders {
		segments[i] = order.Column + ":" + formatCursorValue(row[order.Column])
	}
	return base64.StdEncoding.EncodeToString([]byte(strings.Join(segments, "|")))
}

// DecodeCursor parses a cursor back into the coerced orderBy tuple. The
// cursor fields must match the declared orderBy columns in order; any
// mismatch or decode failure is a validation error.
func DecodeCursor(table catalog.Table, orders []Order, cursor string) ([]interface{}, error) {
	if cursor == OffsetCursor {
		return nil, database.NewValidationError("offset-pagination cursors cannot seed keyset pagination")
	}
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return nil, database.NewValidationError("malformed cursor")
	}

	segments := strings.Split(string(raw), "|")
	if len(segments) != len(orders) {
		return nil, database.NewValidationError("cursor does not match the orderBy columns")
	}

	values := make([]interface{}, len(segments))
	for i, segment := range segments {
		parts := strings.SplitN(segment, ":", 2)
		if len(parts) != 2 || parts[0] != orders[i].Column {
			return nil, database.NewValidationError("cursor does not match the orderBy columns")
		}
		col, ok := table.Column(parts[0])
		if !ok {
			return nil, database.NewValidationError("cursor references unknown column %q", parts[0])
		}
		value, err := CoerceValue(*col, parts[1])
		if err != nil {
			return nil, err
		}
		values[i] = value
	}
	return values, nil
}

// KeysetFragment builds the lexicographic OR-expansion for seeking past a
// cursor tuple:
//
//	(f1 > v1) OR (f1 = v1 AND f2 > v2) OR …
//
// The comparator follows each field's direction and flips when seeking
// backwards (before).
func KeysetFragment(orders []Order, values []interface{}, before bool) Fragment {
	if len(orders) == 0 || len(orders) != len(values) {
		return Fragment{}
	}

	terms := make([]string, 0, len(orders))
	var args []interface{}
	for i := range orders {
		conds := make([]string, 0, i+1)
		for j := 0; j < i; j++ {
			conds = append(conds, QuoteIdentifier(orders[j].Column)+" = ?")
			args = append(args, values[j])
		}
		cmp := ">"
		if orders[i].Desc != before {
			cmp = "<"
		}
		conds = append(conds, QuoteIdentifier(orders[i].Column)+" "+cmp+" ?")
		args = append(args, values[i])

		terms = append(terms, "("+strings.Join(conds, " AND ")+")")
	}

	if len(terms) == 1 {
		return Fragment{SQL: terms[0], Args: args}
	}
	return Fragment{SQL: "(" + strings.Join(terms, " OR ") + ")", Args: args}
}

func formatCursorValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case *time.Time:
		if v == nil {
			return ""
		}
		return v.Format(time.RFC3339Nano)
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
