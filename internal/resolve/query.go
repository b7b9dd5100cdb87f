package resolve

import (
	"time"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/rs/zerolog/log"

	"github.com/pgqlgate/pgqlgate/internal/catalog"
	"github.com/pgqlgate/pgqlgate/internal/database"
	"github.com/pgqlgate/pgqlgate/internal/gql"
	"github.com/pgqlgate/pgqlgate/internal/sqlgen"
)

// connectionDefaultLimit applies when neither first nor last is given
const connectionDefaultLimit = 10

// ListResolver resolves the plain list field of a table
func (r *Resolvers) ListResolver(table catalog.Table) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		if err := rejectLegacyFilter(p); err != nil {
			return nil, err
		}

		frag, err := compileArgs(table, p)
		if err != nil {
			return nil, err
		}
		orders, err := sqlgen.ParseOrderBy(table, p.Args["orderBy"])
		if err != nil {
			return nil, err
		}

		cat, err := r.snapshot(p.Context)
		if err != nil {
			return nil, err
		}
		plan := PlanSelection(p, table, cat)

		qb := sqlgen.NewBuilder(table.Schema, table.Name).
			WithColumns(plan.SelectColumns(table)).
			WithWhere(frag).
			WithOrder(orders)
		if limit, ok := p.Args["limit"].(int); ok {
			qb.WithLimit(limit)
		}
		if offset, ok := p.Args["offset"].(int); ok {
			qb.WithOffset(offset)
		}

		sql, args := qb.BuildSelect()
		rows, err := r.queryMaps(p, sql, args)
		if err != nil {
			return nil, err
		}

		if err := r.preload(p, cat, plan, rows); err != nil {
			return nil, err
		}
		if rows == nil {
			rows = []map[string]interface{}{}
		}
		return rows, nil
	}
}

// ByPKResolver resolves a single row by its full primary key
func (r *Resolvers) ByPKResolver(table catalog.Table) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		frag := sqlgen.Fragment{}
		for _, pk := range table.PrimaryKey {
			col, _ := table.Column(pk)
			value, err := sqlgen.CoerceValue(*col, p.Args[pk])
			if err != nil {
				return nil, err
			}
			frag = frag.And(sqlgen.Fragment{
				SQL:  sqlgen.QuoteIdentifier(pk) + " = ?",
				Args: []interface{}{value},
			})
		}

		cat, err := r.snapshot(p.Context)
		if err != nil {
			return nil, err
		}
		plan := PlanSelection(p, table, cat)

		sql, args := sqlgen.NewBuilder(table.Schema, table.Name).
			WithColumns(plan.SelectColumns(table)).
			WithWhere(frag).
			WithLimit(1).
			BuildSelect()

		rows, err := r.queryMaps(p, sql, args)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, nil
		}
		if err := r.preload(p, cat, plan, rows); err != nil {
			return nil, err
		}
		return rows[0], nil
	}
}

// ConnectionResolver resolves the cursor-paginated connection field. With an
// orderBy it uses keyset pagination; without one it falls back to offset
// pagination behind sentinel cursors.
func (r *Resolvers) ConnectionResolver(table catalog.Table) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		frag, err := compileArgs(table, p)
		if err != nil {
			return nil, err
		}
		orders, err := sqlgen.ParseOrderBy(table, p.Args["orderBy"])
		if err != nil {
			return nil, err
		}

		first, hasFirst := p.Args["first"].(int)
		last, hasLast := p.Args["last"].(int)
		after, hasAfter := p.Args["after"].(string)
		before, hasBefore := p.Args["before"].(string)

		if hasFirst && first < 0 {
			return nil, database.NewValidationError("first must not be negative")
		}
		if hasLast && last < 0 {
			return nil, database.NewValidationError("last must not be negative")
		}
		if (hasAfter || hasBefore) && len(orders) == 0 && !isOffsetCursor(after, before) {
			return nil, database.NewValidationError("cursor pagination requires an orderBy argument")
		}

		limit := connectionDefaultLimit
		backward := false
		switch {
		case hasFirst:
			limit = first
		case hasLast:
			limit = last
			backward = true
		}

		cat, err := r.snapshot(p.Context)
		if err != nil {
			return nil, err
		}
		plan := PlanConnectionSelection(p, table, cat)

		var (
			page       []map[string]interface{}
			hasMore    bool
			hasOpening bool
			cursorFor  func(i int, row map[string]interface{}) string
		)

		if len(orders) == 0 {
			page, hasMore, hasOpening, cursorFor, err = r.offsetPage(p, table, plan, frag, limit, after, before, backward)
		} else {
			page, hasMore, hasOpening, cursorFor, err = r.keysetPage(p, table, plan, frag, orders, limit, after, before, backward)
		}
		if err != nil {
			return nil, err
		}

		countSQL, countArgs := sqlgen.NewBuilder(table.Schema, table.Name).
			WithWhere(frag).
			BuildCount()
		var totalCount int64
		if err := r.querier(p.Context).QueryRow(p.Context, countSQL, countArgs...).Scan(&totalCount); err != nil {
			return nil, database.ClassifyError(err)
		}

		if err := r.preload(p, cat, plan, page); err != nil {
			return nil, err
		}

		edges := make([]interface{}, 0, len(page))
		for i, row := range page {
			edges = append(edges, map[string]interface{}{
				"node":   row,
				"cursor": cursorFor(i, row),
			})
		}

		pageInfo := map[string]interface{}{
			"hasNextPage":     hasMore,
			"hasPreviousPage": hasOpening,
		}
		if backward {
			pageInfo["hasNextPage"] = hasOpening
			pageInfo["hasPreviousPage"] = hasMore
		}
		if len(page) > 0 {
			pageInfo["startCursor"] = cursorFor(0, page[0])
			pageInfo["endCursor"] = cursorFor(len(page)-1, page[len(page)-1])
		}

		return map[string]interface{}{
			"edges":      edges,
			"pageInfo":   pageInfo,
			"totalCount": totalCount,
		}, nil
	}
}

// keysetPage fetches one page with a keyset predicate derived from the
// cursor. It over-fetches one row to detect a further page and probes the
// opposite direction with a COUNT.
func (r *Resolvers) keysetPage(p graphql.ResolveParams, table catalog.Table, plan *Plan, frag sqlgen.Fragment, orders []sqlgen.Order, limit int, after, before string, backward bool) ([]map[string]interface{}, bool, bool, func(int, map[string]interface{}) string, error) {
	cursor := after
	if backward {
		cursor = before
	}

	var keyset sqlgen.Fragment
	if cursor != "" {
		values, err := sqlgen.DecodeCursor(table, orders, cursor)
		if err != nil {
			return nil, false, false, nil, err
		}
		keyset = sqlgen.KeysetFragment(orders, values, backward)
	}

	fetchOrders := orders
	if backward {
		fetchOrders = invertOrders(orders)
	}

	sql, args := sqlgen.NewBuilder(table.Schema, table.Name).
		WithColumns(keysetColumns(plan, table, orders)).
		WithWhere(frag).
		WithKeyset(keyset).
		WithOrder(fetchOrders).
		WithLimit(limit + 1).
		BuildSelect()

	rows, err := r.queryMaps(p, sql, args)
	if err != nil {
		return nil, false, false, nil, err
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	if backward {
		reverseRows(rows)
	}

	// The opposite side of the page exists exactly when a cursor was given
	// and rows precede (or follow) it.
	hasOpening := cursor != ""

	cursorFor := func(_ int, row map[string]interface{}) string {
		return sqlgen.EncodeCursor(orders, row)
	}
	return rows, hasMore, hasOpening, cursorFor, nil
}

// offsetPage implements the no-orderBy fallback: offset pagination with
// opaque sentinel cursors.
func (r *Resolvers) offsetPage(p graphql.ResolveParams, table catalog.Table, plan *Plan, frag sqlgen.Fragment, limit int, after, before string, backward bool) ([]map[string]interface{}, bool, bool, func(int, map[string]interface{}) string, error) {
	if (after != "" && after != sqlgen.OffsetCursor) || (before != "" && before != sqlgen.OffsetCursor) {
		return nil, false, false, nil, database.NewValidationError(
			"cursor does not match offset pagination; supply an orderBy for keyset cursors")
	}
	if backward {
		return nil, false, false, nil, database.NewValidationError(
			"backward pagination requires an orderBy argument")
	}

	sql, args := sqlgen.NewBuilder(table.Schema, table.Name).
		WithColumns(plan.SelectColumns(table)).
		WithWhere(frag).
		WithLimit(limit + 1).
		BuildSelect()

	rows, err := r.queryMaps(p, sql, args)
	if err != nil {
		return nil, false, false, nil, err
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	cursorFor := func(int, map[string]interface{}) string { return sqlgen.OffsetCursor }
	return rows, hasMore, false, cursorFor, nil
}

// AggregateResolver resolves count/sum/avg/min/max over the filtered rows in
// a single statement.
func (r *Resolvers) AggregateResolver(table catalog.Table) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		frag, err := compileArgs(table, p)
		if err != nil {
			return nil, err
		}

		agg := aggregateSelection(p, table)
		sql, args := sqlgen.NewBuilder(table.Schema, table.Name).
			WithWhere(frag).
			BuildAggregate(agg)

		rows, err := r.queryMaps(p, sql, args)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return map[string]interface{}{"count": 0}, nil
		}
		row := rows[0]

		result := map[string]interface{}{"count": row["count"]}
		nest := func(fn string, cols []string) {
			if len(cols) == 0 {
				return
			}
			values := make(map[string]interface{}, len(cols))
			for _, col := range cols {
				values[col] = row[fn+"_"+col]
			}
			result[fn] = values
		}
		nest("sum", agg.Sum)
		nest("avg", agg.Avg)
		nest("min", agg.Min)
		nest("max", agg.Max)

		return result, nil
	}
}

// aggregateSelection reads the requested aggregate functions and columns
// from the field's selection set, filtered to eligible column kinds.
func aggregateSelection(p graphql.ResolveParams, table catalog.Table) sqlgen.AggregateColumns {
	var agg sqlgen.AggregateColumns
	if len(p.Info.FieldASTs) == 0 || p.Info.FieldASTs[0].SelectionSet == nil {
		return agg
	}

	requested := func(set *ast.SelectionSet, eligible func(catalog.Column) bool) []string {
		if set == nil {
			return nil
		}
		wanted := make(map[string]bool)
		for _, sel := range set.Selections {
			if field, ok := sel.(*ast.Field); ok && field.Name != nil {
				wanted[field.Name.Value] = true
			}
		}
		var cols []string
		for _, col := range table.Columns {
			if wanted[col.Name] && eligible(col) {
				cols = append(cols, col.Name)
			}
		}
		return cols
	}

	numeric := func(col catalog.Column) bool { return gql.ClassifyType(col.DataType).IsNumeric() && !col.IsArray() }
	orderable := func(col catalog.Column) bool { return gql.ClassifyType(col.DataType).IsOrderable() && !col.IsArray() }

	for _, sel := range p.Info.FieldASTs[0].SelectionSet.Selections {
		field, ok := sel.(*ast.Field)
		if !ok || field.Name == nil {
			continue
		}
		switch field.Name.Value {
		case "sum":
			agg.Sum = requested(field.SelectionSet, numeric)
		case "avg":
			agg.Avg = requested(field.SelectionSet, numeric)
		case "min":
			agg.Min = requested(field.SelectionSet, orderable)
		case "max":
			agg.Max = requested(field.SelectionSet, orderable)
		}
	}
	return agg
}

// compileArgs compiles the where and or arguments into one WHERE fragment
func compileArgs(table catalog.Table, p graphql.ResolveParams) (sqlgen.Fragment, error) {
	where, _ := p.Args["where"].(map[string]interface{})
	orGroups, _ := p.Args["or"].([]interface{})
	return sqlgen.CompileFilter(table, where, orGroups)
}

// rejectLegacyFilter refuses the deprecated filter string argument
func rejectLegacyFilter(p graphql.ResolveParams) error {
	if raw, ok := p.Args["filter"]; ok && raw != nil {
		if s, ok := raw.(string); !ok || s != "" {
			return database.NewValidationError(
				"the filter argument is no longer interpreted; use where and or instead")
		}
	}
	return nil
}

func (r *Resolvers) queryMaps(p graphql.ResolveParams, sql string, args []interface{}) ([]map[string]interface{}, error) {
	start := time.Now()
	rows, err := r.querier(p.Context).Query(p.Context, sql, args...)
	if err != nil {
		return nil, database.ClassifyError(err)
	}
	results, err := scanRowsToMaps(rows)
	if err != nil {
		return nil, database.ClassifyError(err)
	}

	log.Trace().
		Str("sql", sql).
		Int("rows", len(results)).
		Dur("duration", time.Since(start)).
		Msg("Resolved query")
	return results, nil
}

func (r *Resolvers) preload(p graphql.ResolveParams, cat *catalog.Catalog, plan *Plan, rows []map[string]interface{}) error {
	ectx := FromContext(p.Context)
	return preloadRelations(p.Context, ectx, r.querier(p.Context), cat, plan, rows)
}

// keysetColumns widens the SELECT list with the ordering columns so cursors
// can always be encoded from the returned rows.
func keysetColumns(plan *Plan, table catalog.Table, orders []sqlgen.Order) []string {
	base := plan.SelectColumns(table)
	if base == nil {
		return nil
	}
	present := make(map[string]bool, len(base))
	for _, col := range base {
		present[col] = true
	}
	extra := make(map[string]bool)
	for _, o := range orders {
		if !present[o.Column] {
			extra[o.Column] = true
		}
	}
	if len(extra) == 0 {
		return base
	}

	columns := make([]string, 0, len(base)+len(extra))
	for _, col := range table.Columns {
		if present[col.Name] || extra[col.Name] {
			columns = append(columns, col.Name)
		}
	}
	return columns
}

func invertOrders(orders []sqlgen.Order) []sqlgen.Order {
	inverted := make([]sqlgen.Order, len(orders))
	for i, o := range orders {
		inverted[i] = sqlgen.Order{Column: o.Column, Desc: !o.Desc, Nulls: invertNulls(o.Nulls)}
	}
	return inverted
}

func invertNulls(nulls string) string {
	switch nulls {
	case "first":
		return "last"
	case "last":
		return "first"
	}
	return nulls
}

func reverseRows(rows []map[string]interface{}) {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
}

func isOffsetCursor(after, before string) bool {
	return after == sqlgen.OffsetCursor || before == sqlgen.OffsetCursor
}
