package sqlgen

import (
	"strings"

	"github.com/pgqlgate/pgqlgate/internal/catalog"
	"github.com/pgqlgate/pgqlgate/internal/database"
	"github.com/pgqlgate/pgqlgate/internal/gql"
)

// operatorOrder fixes the compilation order of operators inside one column
// filter so generated SQL is deterministic regardless of map iteration.
var operatorOrder = []string{
	"eq", "neq", "gt", "gte", "lt", "lte",
	"in", "notIn",
	"contains", "startsWith", "endsWith", "like", "ilike",
	"hasKey", "isNull", "isNotNull",
}

// CompileFilter turns a where filter and an optional or-group list into one
// WHERE fragment. Column conditions AND together; or-groups OR together and
// the whole group ANDs with where.
func CompileFilter(table catalog.Table, where map[string]interface{}, orGroups []interface{}) (Fragment, error) {
	var frag Fragment

	if len(where) > 0 {
		compiled, err := compileConditions(table, where)
		if err != nil {
			return Fragment{}, err
		}
		frag = frag.And(compiled)
	}

	orFrag, err := compileOrGroups(table, orGroups)
	if err != nil {
		return Fragment{}, err
	}
	return frag.And(orFrag), nil
}

func compileOrGroups(table catalog.Table, groups []interface{}) (Fragment, error) {
	var parts []string
	var args []interface{}
	for _, raw := range groups {
		group, ok := raw.(map[string]interface{})
		if !ok {
			return Fragment{}, database.NewValidationError("or entries must be filter objects")
		}
		compiled, err := compileConditions(table, group)
		if err != nil {
			return Fragment{}, err
		}
		if compiled.Empty() {
			continue
		}
		parts = append(parts, "("+compiled.SQL+")")
		args = append(args, compiled.Args...)
	}
	if len(parts) == 0 {
		return Fragment{}, nil
	}
	if len(parts) == 1 {
		return Fragment{SQL: parts[0], Args: args}, nil
	}
	return Fragment{SQL: "(" + strings.Join(parts, " OR ") + ")", Args: args}, nil
}

// compileConditions compiles one filter object: per-column operator maps in
// catalog column order, then the or/_and/_not combinators.
func compileConditions(table catalog.Table, filter map[string]interface{}) (Fragment, error) {
	var conditions []string
	var args []interface{}

	for _, col := range table.Columns {
		raw, ok := filter[col.Name]
		if !ok || raw == nil {
			continue
		}
		opMap, ok := raw.(map[string]interface{})
		if !ok {
			return Fragment{}, database.NewValidationError("filter for column %q must be an operator object", col.Name)
		}
		for _, op := range operatorOrder {
			value, present := opMap[op]
			if !present {
				continue
			}
			cond, condArgs, err := operatorCondition(col, op, value)
			if err != nil {
				return Fragment{}, err
			}
			if cond == "" {
				continue
			}
			conditions = append(conditions, cond)
			args = append(args, condArgs...)
		}
	}

	if raw, ok := filter["or"]; ok && raw != nil {
		groups, ok := raw.([]interface{})
		if !ok {
			return Fragment{}, database.NewValidationError("or must be a list of filter objects")
		}
		nested, err := compileOrGroups(table, groups)
		if err != nil {
			return Fragment{}, err
		}
		if !nested.Empty() {
			conditions = append(conditions, nested.SQL)
			args = append(args, nested.Args...)
		}
	}

	if raw, ok := filter["_and"]; ok && raw != nil {
		entries, ok := raw.([]interface{})
		if !ok {
			return Fragment{}, database.NewValidationError("_and must be a list of filter objects")
		}
		for _, entry := range entries {
			m, ok := entry.(map[string]interface{})
			if !ok {
				return Fragment{}, database.NewValidationError("_and entries must be filter objects")
			}
			nested, err := compileConditions(table, m)
			if err != nil {
				return Fragment{}, err
			}
			if !nested.Empty() {
				conditions = append(conditions, "("+nested.SQL+")")
				args = append(args, nested.Args...)
			}
		}
	}

	if raw, ok := filter["_not"]; ok && raw != nil {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return Fragment{}, database.NewValidationError("_not must be a filter object")
		}
		nested, err := compileConditions(table, m)
		if err != nil {
			return Fragment{}, err
		}
		if !nested.Empty() {
			conditions = append(conditions, "NOT ("+nested.SQL+")")
			args = append(args, nested.Args...)
		}
	}

	return Fragment{SQL: strings.Join(conditions, " AND "), Args: args}, nil
}

// operatorCondition maps one (column, operator, value) to a SQL condition.
// Array and JSON columns overload contains; everything else follows the
// operator grid.
func operatorCondition(col catalog.Column, op string, value interface{}) (string, []interface{}, error) {
	quoted := QuoteIdentifier(col.Name)
	kind := gql.ClassifyType(col.DataType)

	switch op {
	case "eq", "neq", "gt", "gte", "lt", "lte":
		coerced, err := CoerceValue(col, value)
		if err != nil {
			return "", nil, err
		}
		return quoted + " " + comparator(op) + " ?", []interface{}{coerced}, nil

	case "in", "notIn":
		list, ok := value.([]interface{})
		if !ok {
			return "", nil, database.NewValidationError("%s for column %q expects a list", op, col.Name)
		}
		if len(list) == 0 {
			// Empty IN matches nothing, empty NOT IN matches everything
			if op == "in" {
				return "FALSE", nil, nil
			}
			return "TRUE", nil, nil
		}
		elemKind := gql.ClassifyType(col.DataType)
		coerced, err := coerceList(elemKind, col.Name, list)
		if err != nil {
			return "", nil, err
		}
		if op == "in" {
			return quoted + " = ANY(?)", []interface{}{coerced}, nil
		}
		return quoted + " <> ALL(?)", []interface{}{coerced}, nil

	case "contains":
		if col.IsArray() {
			coerced, err := coerceKind(gql.ClassifyType(col.ElementType), col.Name, value)
			if err != nil {
				return "", nil, err
			}
			return "? = ANY(" + quoted + ")", []interface{}{coerced}, nil
		}
		if kind == gql.KindJSON {
			return quoted + " @> ?", []interface{}{value}, nil
		}
		pattern, err := likePattern(col, value, "%", "%")
		if err != nil {
			return "", nil, err
		}
		return quoted + " LIKE ?", []interface{}{pattern}, nil

	case "startsWith":
		pattern, err := likePattern(col, value, "", "%")
		if err != nil {
			return "", nil, err
		}
		return quoted + " LIKE ?", []interface{}{pattern}, nil

	case "endsWith":
		pattern, err := likePattern(col, value, "%", "")
		if err != nil {
			return "", nil, err
		}
		return quoted + " LIKE ?", []interface{}{pattern}, nil

	case "like":
		s, ok := value.(string)
		if !ok {
			return "", nil, database.NewValidationError("like for column %q expects a string pattern", col.Name)
		}
		return quoted + " LIKE ?", []interface{}{s}, nil

	case "ilike":
		s, ok := value.(string)
		if !ok {
			return "", nil, database.NewValidationError("ilike for column %q expects a string pattern", col.Name)
		}
		return quoted + " ILIKE ?", []interface{}{s}, nil

	case "hasKey":
		s, ok := value.(string)
		if !ok {
			return "", nil, database.NewValidationError("hasKey for column %q expects a string key", col.Name)
		}
		// Function form; the jsonb ? operator would collide with the
		// placeholder markers.
		return "jsonb_exists(" + quoted + ", ?)", []interface{}{s}, nil

	case "isNull":
		b, ok := value.(bool)
		if !ok {
			return "", nil, database.NewValidationError("isNull for column %q expects a boolean", col.Name)
		}
		if b {
			return quoted + " IS NULL", nil, nil
		}
		return quoted + " IS NOT NULL", nil, nil

	case "isNotNull":
		b, ok := value.(bool)
		if !ok {
			return "", nil, database.NewValidationError("isNotNull for column %q expects a boolean", col.Name)
		}
		if b {
			return quoted + " IS NOT NULL", nil, nil
		}
		return quoted + " IS NULL", nil, nil
	}

	return "", nil, database.NewValidationError("unsupported filter operator %q on column %q", op, col.Name)
}

func comparator(op string) string {
	switch op {
	case "eq":
		return "="
	case "neq":
		return "<>"
	case "gt":
		return ">"
	case "gte":
		return ">="
	case "lt":
		return "<"
	case "lte":
		return "<="
	}
	return "="
}

// likePattern escapes LIKE metacharacters in the user value and applies the
// positional wildcards. Patterns from like/ilike pass verbatim; these do not.
func likePattern(col catalog.Column, value interface{}, prefix, suffix string) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", database.NewValidationError("pattern operator for column %q expects a string", col.Name)
	}
	return prefix + escapeLikePattern(s) + suffix, nil
}

func escapeLikePattern(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// ParseOrderBy normalizes the GraphQL orderBy argument into ordered terms.
// Within one entry, columns compile in catalog order.
func ParseOrderBy(table catalog.Table, raw interface{}) ([]Order, error) {
	if raw == nil {
		return nil, nil
	}
	entries, ok := raw.([]interface{})
	if !ok {
		if m, isMap := raw.(map[string]interface{}); isMap {
			entries = []interface{}{m}
		} else {
			return nil, database.NewValidationError("orderBy must be a list of order objects")
		}
	}

	var orders []Order
	for _, entry := range entries {
		m, ok := entry.(map[string]interface{})
		if !ok {
			return nil, database.NewValidationError("orderBy entries must be order objects")
		}
		for _, col := range table.Columns {
			raw, ok := m[col.Name]
			if !ok || raw == nil {
				continue
			}
			dir, ok := raw.(string)
			if !ok {
				return nil, database.NewValidationError("order direction for column %q must be an enum value", col.Name)
			}
			order, err := directionOrder(col.Name, dir)
			if err != nil {
				return nil, err
			}
			orders = append(orders, order)
		}
	}
	return orders, nil
}

func directionOrder(column, direction string) (Order, error) {
	switch direction {
	case "ASC":
		return Order{Column: column}, nil
	case "ASC_NULLS_FIRST":
		return Order{Column: column, Nulls: "first"}, nil
	case "ASC_NULLS_LAST":
		return Order{Column: column, Nulls: "last"}, nil
	case "DESC":
		return Order{Column: column, Desc: true}, nil
	case "DESC_NULLS_FIRST":
		return Order{Column: column, Desc: true, Nulls: "first"}, nil
	case "DESC_NULLS_LAST":
		return Order{Column: column, Desc: true, Nulls: "last"}, nil
	}
	return Order{}, database.NewValidationError("unknown order direction %q for column %q", direction, column)
}
