// Package sqlgen composes parameterized SQL for list, connection, aggregate,
// and mutation operations. Construction is separated from execution so query
// generation is unit-testable without a database. Every identifier is quoted,
// every value binds through a placeholder; user input never lands in SQL text.
package sqlgen

import (
	"fmt"
	"strconv"
	"strings"
)

// Fragment is a piece of WHERE-clause SQL using ? placeholder markers plus
// its bound arguments. Markers are renumbered to $n when the final statement
// is assembled.
type Fragment struct {
	SQL  string
	Args []interface{}
}

// Empty reports whether the fragment carries no SQL
func (f Fragment) Empty() bool {
	return f.SQL == ""
}

// And combines two fragments with AND, tolerating empties
func (f Fragment) And(other Fragment) Fragment {
	switch {
	case f.Empty():
		return other
	case other.Empty():
		return f
	}
	return Fragment{
		SQL:  f.SQL + " AND " + other.SQL,
		Args: append(append([]interface{}{}, f.Args...), other.Args...),
	}
}

// Order is one ORDER BY term
type Order struct {
	Column string
	Desc   bool
	Nulls  string // "", "first" or "last"
}

// AggregateColumns names the columns per aggregate function, already filtered
// to eligible kinds by the caller.
type AggregateColumns struct {
	Sum []string
	Avg []string
	Min []string
	Max []string
}

// Builder provides a fluent interface for building SQL statements against
// one table.
type Builder struct {
	schema    string
	table     string
	columns   []string
	where     Fragment
	keyset    Fragment
	orderBy   []Order
	limit     *int
	offset    *int
	returning []string
}

// NewBuilder creates a Builder for the given schema and table
func NewBuilder(schema, table string) *Builder {
	return &Builder{schema: schema, table: table}
}

// WithColumns sets the columns to select; empty means *
func (qb *Builder) WithColumns(columns []string) *Builder {
	qb.columns = columns
	return qb
}

// WithWhere sets the compiled filter fragment
func (qb *Builder) WithWhere(where Fragment) *Builder {
	qb.where = where
	return qb
}

// WithKeyset adds the keyset pagination predicate, combined with the filter
// by AND.
func (qb *Builder) WithKeyset(keyset Fragment) *Builder {
	qb.keyset = keyset
	return qb
}

// WithOrder sets the ORDER BY terms
func (qb *Builder) WithOrder(orderBy []Order) *Builder {
	qb.orderBy = orderBy
	return qb
}

// WithLimit sets the LIMIT clause
func (qb *Builder) WithLimit(limit int) *Builder {
	qb.limit = &limit
	return qb
}

// WithOffset sets the OFFSET clause
func (qb *Builder) WithOffset(offset int) *Builder {
	qb.offset = &offset
	return qb
}

// WithReturning sets the RETURNING columns; "*" passes through unquoted
func (qb *Builder) WithReturning(columns []string) *Builder {
	qb.returning = columns
	return qb
}

// BuildSelect builds a SELECT statement and its arguments
func (qb *Builder) BuildSelect() (string, []interface{}) {
	selectClause := "*"
	if len(qb.columns) > 0 {
		quoted := make([]string, 0, len(qb.columns))
		for _, col := range qb.columns {
			if q := QuoteIdentifier(col); q != "" {
				quoted = append(quoted, q)
			}
		}
		if len(quoted) > 0 {
			selectClause = strings.Join(quoted, ", ")
		}
	}

	query := fmt.Sprintf("SELECT %s FROM %s.%s",
		selectClause,
		QuoteIdentifier(qb.schema),
		QuoteIdentifier(qb.table))

	var args []interface{}
	query, args = qb.appendWhere(query, args)

	if clause := buildOrderClause(qb.orderBy); clause != "" {
		query += " ORDER BY " + clause
	}
	if qb.limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *qb.limit)
	}
	if qb.offset != nil {
		query += fmt.Sprintf(" OFFSET %d", *qb.offset)
	}

	return numberPlaceholders(query), args
}

// BuildCount builds a COUNT statement over the same WHERE (filter plus any
// keyset predicate).
func (qb *Builder) BuildCount() (string, []interface{}) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s",
		QuoteIdentifier(qb.schema),
		QuoteIdentifier(qb.table))

	var args []interface{}
	query, args = qb.appendWhere(query, args)

	return numberPlaceholders(query), args
}

// BuildAggregate builds a single-statement aggregate query. Column aliases
// are <fn>_<column> so the scanner can route values back to the selection.
func (qb *Builder) BuildAggregate(agg AggregateColumns) (string, []interface{}) {
	parts := []string{"COUNT(*) AS count"}
	appendFn := func(fn string, cols []string) {
		for _, col := range cols {
			q := QuoteIdentifier(col)
			if q == "" {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s(%s) AS %s",
				strings.ToUpper(fn), q, QuoteIdentifier(fn+"_"+col)))
		}
	}
	appendFn("sum", agg.Sum)
	appendFn("avg", agg.Avg)
	appendFn("min", agg.Min)
	appendFn("max", agg.Max)

	query := fmt.Sprintf("SELECT %s FROM %s.%s",
		strings.Join(parts, ", "),
		QuoteIdentifier(qb.schema),
		QuoteIdentifier(qb.table))

	var args []interface{}
	query, args = qb.appendWhere(query, args)

	return numberPlaceholders(query), args
}

// BuildInsert builds a (possibly multi-row) INSERT. Column order is explicit
// so generated SQL is deterministic.
func (qb *Builder) BuildInsert(columns []string, rows [][]interface{}) (string, []interface{}) {
	if len(columns) == 0 || len(rows) == 0 {
		return "", nil
	}

	quoted := make([]string, 0, len(columns))
	for _, col := range columns {
		if q := QuoteIdentifier(col); q != "" {
			quoted = append(quoted, q)
		}
	}
	if len(quoted) != len(columns) {
		return "", nil
	}

	rowPlaceholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	valueRows := make([]string, 0, len(rows))
	var args []interface{}
	for _, row := range rows {
		if len(row) != len(columns) {
			return "", nil
		}
		valueRows = append(valueRows, rowPlaceholder)
		args = append(args, row...)
	}

	query := fmt.Sprintf("INSERT INTO %s.%s (%s) VALUES %s",
		QuoteIdentifier(qb.schema),
		QuoteIdentifier(qb.table),
		strings.Join(quoted, ", "),
		strings.Join(valueRows, ", "))
	query += qb.returningClause()

	return numberPlaceholders(query), args
}

// BuildUpdate builds an UPDATE statement from ordered SET columns
func (qb *Builder) BuildUpdate(setColumns []string, setValues []interface{}) (string, []interface{}) {
	if len(setColumns) == 0 || len(setColumns) != len(setValues) {
		return "", nil
	}

	setClauses := make([]string, 0, len(setColumns))
	var args []interface{}
	for i, col := range setColumns {
		q := QuoteIdentifier(col)
		if q == "" {
			continue
		}
		setClauses = append(setClauses, q+" = ?")
		args = append(args, setValues[i])
	}
	if len(setClauses) == 0 {
		return "", nil
	}

	query := fmt.Sprintf("UPDATE %s.%s SET %s",
		QuoteIdentifier(qb.schema),
		QuoteIdentifier(qb.table),
		strings.Join(setClauses, ", "))
	query, args = qb.appendWhere(query, args)
	query += qb.returningClause()

	return numberPlaceholders(query), args
}

// BuildDelete builds a DELETE statement
func (qb *Builder) BuildDelete() (string, []interface{}) {
	query := fmt.Sprintf("DELETE FROM %s.%s",
		QuoteIdentifier(qb.schema),
		QuoteIdentifier(qb.table))

	var args []interface{}
	query, args = qb.appendWhere(query, args)
	query += qb.returningClause()

	return numberPlaceholders(query), args
}

func (qb *Builder) appendWhere(query string, args []interface{}) (string, []interface{}) {
	where := qb.where.And(qb.keyset)
	if where.Empty() {
		return query, args
	}
	return query + " WHERE " + where.SQL, append(args, where.Args...)
}

func (qb *Builder) returningClause() string {
	if len(qb.returning) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(qb.returning))
	for _, col := range qb.returning {
		if col == "*" {
			quoted = append(quoted, "*")
			continue
		}
		if q := QuoteIdentifier(col); q != "" {
			quoted = append(quoted, q)
		}
	}
	if len(quoted) == 0 {
		return ""
	}
	return " RETURNING " + strings.Join(quoted, ", ")
}

func buildOrderClause(orderBy []Order) string {
	var parts []string
	for _, order := range orderBy {
		quoted := QuoteIdentifier(order.Column)
		if quoted == "" {
			continue
		}
		part := quoted
		if order.Desc {
			part += " DESC"
		} else {
			part += " ASC"
		}
		switch order.Nulls {
		case "first":
			part += " NULLS FIRST"
		case "last":
			part += " NULLS LAST"
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}

// numberPlaceholders rewrites ? markers to sequential $n placeholders.
// Markers only ever come from this package, never from user values, so a
// plain scan is safe.
func numberPlaceholders(sql string) string {
	if !strings.ContainsRune(sql, '?') {
		return sql
	}
	var b strings.Builder
	b.Grow(len(sql) + 8)
	n := 1
	for _, r := range sql {
		if r == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// QuoteIdentifier double-quotes an identifier, escaping embedded quotes
func QuoteIdentifier(identifier string) string {
	if identifier == "" {
		return ""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
