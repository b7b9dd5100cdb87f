package gql

import (
	"regexp"
	"strings"

	"github.com/pgqlgate/pgqlgate/internal/catalog"
)

// GraphQL names mirror database identifiers verbatim apart from the leading
// capital on type names: table order_items becomes type Order_items and
// mutation updateOrder_items. Keeping underscores avoids a lossy round-trip
// between GraphQL field names and catalog column names.

// TypeName converts a table or custom type name to a GraphQL type name
func TypeName(name string) string {
	return upperFirst(name)
}

// ListFieldName is the query field returning a plain list for a table
func ListFieldName(table string) string {
	return table
}

// ByPKFieldName is the single-record query field for a table with a primary key
func ByPKFieldName(table string) string {
	return table + "ByPk"
}

// ConnectionFieldName is the Relay connection query field for a table
func ConnectionFieldName(table string) string {
	return table + "Connection"
}

// AggregateFieldName is the aggregate query field for a table
func AggregateFieldName(table string) string {
	return table + "_aggregate"
}

// ChangesFieldName is the subscription field carrying change events for a table
func ChangesFieldName(table string) string {
	return table + "Changes"
}

// CreateFieldName is the single-row insert mutation for a table
func CreateFieldName(table string) string {
	return "create" + TypeName(table)
}

// CreateManyFieldName is the bulk insert mutation for a table
func CreateManyFieldName(table string) string {
	return "createMany" + pluralize(TypeName(table))
}

// CreateWithRelationsFieldName is the insert mutation accepting _connect sub-inputs
func CreateWithRelationsFieldName(table string) string {
	return "create" + TypeName(table) + "WithRelations"
}

// UpdateFieldName is the update-by-primary-key mutation for a table
func UpdateFieldName(table string) string {
	return "update" + TypeName(table)
}

// DeleteFieldName is the delete-by-primary-key mutation for a table
func DeleteFieldName(table string) string {
	return "delete" + TypeName(table)
}

// RelationFieldName derives the relationship field name from a foreign key.
// Single-column keys named like author_id produce "author"; everything else
// falls back to the singular form of the referenced table.
func RelationFieldName(fk catalog.ForeignKey) string {
	if len(fk.Columns) == 1 {
		col := fk.Columns[0]
		if strings.HasSuffix(col, "_id") && len(col) > 3 {
			return col[:len(col)-3]
		}
		if strings.HasSuffix(col, "Id") && len(col) > 2 {
			return col[:len(col)-2]
		}
	}
	return singularize(fk.ReferencedTable)
}

// ConnectInputName is the _connect sub-input field for a relationship
func ConnectInputName(fk catalog.ForeignKey) string {
	return RelationFieldName(fk) + "_connect"
}

// EnumValueName converts an enum label to a GraphQL enum value name. Labels
// are uppercased and non-identifier characters collapse to underscores; the
// original label is kept separately for round-tripping back to SQL.
func EnumValueName(label string) string {
	name := enumSanitizer.ReplaceAllString(strings.ToUpper(label), "_")
	name = strings.Trim(name, "_")
	if name == "" {
		return "_EMPTY"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}
	return name
}

var enumSanitizer = regexp.MustCompile(`[^A-Za-z0-9_]+`)

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func pluralize(name string) string {
	if strings.HasSuffix(name, "s") {
		return name
	}
	return name + "s"
}

// singularize trims the usual English plural suffixes
func singularize(name string) string {
	if len(name) > 1 && name[len(name)-1] == 's' {
		if strings.HasSuffix(name, "ies") {
			return name[:len(name)-3] + "y"
		}
		if strings.HasSuffix(name, "sses") {
			return name[:len(name)-2]
		}
		if strings.HasSuffix(name, "ses") || strings.HasSuffix(name, "xes") || strings.HasSuffix(name, "ches") || strings.HasSuffix(name, "shes") {
			return name[:len(name)-2]
		}
		if strings.HasSuffix(name, "ss") {
			return name
		}
		return name[:len(name)-1]
	}
	return name
}
