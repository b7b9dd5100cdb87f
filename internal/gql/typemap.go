package gql

import (
	"github.com/graphql-go/graphql"

	"github.com/pgqlgate/pgqlgate/internal/catalog"
)

// ScalarKind buckets database types into the closed set of GraphQL scalar
// kinds the mapper emits. The kind drives both the output type and the filter
// operator grid for a column.
type ScalarKind string

const (
	KindInt      ScalarKind = "Int"
	KindBigInt   ScalarKind = "BigInt"
	KindFloat    ScalarKind = "Float"
	KindDecimal  ScalarKind = "Decimal"
	KindBoolean  ScalarKind = "Boolean"
	KindString   ScalarKind = "String"
	KindUUID     ScalarKind = "UUID"
	KindDateTime ScalarKind = "DateTime"
	KindJSON     ScalarKind = "JSON"
)

// ClassifyType maps a database type name to its scalar kind. Unknown types
// fall back to String so reflection never fails on an exotic column.
func ClassifyType(dataType string) ScalarKind {
	switch dataType {
	case "integer", "int", "int2", "int4", "smallint", "serial", "serial2", "serial4", "smallserial":
		return KindInt
	case "bigint", "int8", "bigserial", "serial8":
		return KindBigInt
	case "real", "float4", "double precision", "float8":
		return KindFloat
	case "numeric", "decimal", "money":
		return KindDecimal
	case "boolean", "bool":
		return KindBoolean
	case "uuid":
		return KindUUID
	case "date", "time", "timetz", "timestamp", "timestamptz", "interval",
		"timestamp with time zone", "timestamp without time zone",
		"time with time zone", "time without time zone":
		return KindDateTime
	case "json", "jsonb":
		return KindJSON
	default:
		return KindString
	}
}

// IsNumeric reports whether the kind participates in sum/avg aggregates
func (k ScalarKind) IsNumeric() bool {
	switch k {
	case KindInt, KindBigInt, KindFloat, KindDecimal:
		return true
	}
	return false
}

// IsOrderable reports whether the kind participates in min/max aggregates.
// Only numeric and date/time columns qualify.
func (k ScalarKind) IsOrderable() bool {
	return k.IsNumeric() || k == KindDateTime
}

func (k ScalarKind) scalar() *graphql.Scalar {
	switch k {
	case KindInt:
		return graphql.Int
	case KindBigInt:
		return BigIntScalar
	case KindFloat:
		return graphql.Float
	case KindDecimal:
		return DecimalScalar
	case KindBoolean:
		return graphql.Boolean
	case KindUUID:
		return UUIDScalar
	case KindDateTime:
		return DateTimeScalar
	case KindJSON:
		return JSONScalar
	default:
		return graphql.String
	}
}

// TypeMapper resolves catalog columns to GraphQL types. Enum and composite
// types are materialized once per catalog; shared filter inputs are built
// lazily per scalar kind.
type TypeMapper struct {
	cat              *catalog.Catalog
	enums            map[string]*graphql.Enum
	compositeObjects map[string]*graphql.Object
	compositeInputs  map[string]*graphql.InputObject
	filters          map[string]*graphql.InputObject
}

// NewTypeMapper builds a mapper for one catalog snapshot, materializing all
// enum and composite types up front.
func NewTypeMapper(cat *catalog.Catalog) *TypeMapper {
	m := &TypeMapper{
		cat:              cat,
		enums:            make(map[string]*graphql.Enum),
		compositeObjects: make(map[string]*graphql.Object),
		compositeInputs:  make(map[string]*graphql.InputObject),
		filters:          make(map[string]*graphql.InputObject),
	}
	for _, enum := range cat.Enums {
		m.enums[enum.Name] = buildEnum(enum)
	}
	for _, comp := range cat.Composites {
		m.compositeObjects[comp.Name] = m.buildCompositeObject(comp)
		m.compositeInputs[comp.Name] = m.buildCompositeInput(comp)
	}
	return m
}

// buildEnum creates a GraphQL enum whose value names are uppercased labels.
// Each value carries the original database label so input values land back in
// SQL exactly as stored and output values serialize by raw label lookup.
func buildEnum(enum catalog.EnumType) *graphql.Enum {
	values := graphql.EnumValueConfigMap{}
	for _, label := range enum.Labels {
		values[EnumValueName(label)] = &graphql.EnumValueConfig{Value: label}
	}
	return graphql.NewEnum(graphql.EnumConfig{
		Name:   TypeName(enum.Name),
		Values: values,
	})
}

func (m *TypeMapper) buildCompositeObject(comp catalog.CompositeType) *graphql.Object {
	fields := graphql.Fields{}
	for _, f := range comp.Fields {
		fields[f.Name] = &graphql.Field{Type: ClassifyType(f.DataType).scalar()}
	}
	return graphql.NewObject(graphql.ObjectConfig{
		Name:   TypeName(comp.Name),
		Fields: fields,
	})
}

func (m *TypeMapper) buildCompositeInput(comp catalog.CompositeType) *graphql.InputObject {
	fields := graphql.InputObjectConfigFieldMap{}
	for _, f := range comp.Fields {
		fields[f.Name] = &graphql.InputObjectFieldConfig{Type: ClassifyType(f.DataType).scalar()}
	}
	return graphql.NewInputObject(graphql.InputObjectConfig{
		Name:   TypeName(comp.Name) + "Input",
		Fields: fields,
	})
}

// Enum returns the generated enum for a database enum type name
func (m *TypeMapper) Enum(name string) (*graphql.Enum, bool) {
	e, ok := m.enums[name]
	return e, ok
}

// baseOutput maps a bare type name to its GraphQL output type, preferring
// user-defined enums and composites over the scalar fallback.
func (m *TypeMapper) baseOutput(dataType string) graphql.Output {
	if enum, ok := m.enums[dataType]; ok {
		return enum
	}
	if obj, ok := m.compositeObjects[dataType]; ok {
		return obj
	}
	return ClassifyType(dataType).scalar()
}

func (m *TypeMapper) baseInput(dataType string) graphql.Input {
	if enum, ok := m.enums[dataType]; ok {
		return enum
	}
	if in, ok := m.compositeInputs[dataType]; ok {
		return in
	}
	return ClassifyType(dataType).scalar()
}

// OutputType maps a column to its GraphQL output type. Arrays become lists of
// the mapped element type; non-nullable columns are wrapped in NonNull.
func (m *TypeMapper) OutputType(col catalog.Column) graphql.Output {
	var out graphql.Output
	if col.IsArray() {
		out = graphql.NewList(m.baseOutput(col.ElementType))
	} else {
		out = m.baseOutput(col.DataType)
	}
	if !col.IsNullable {
		out = graphql.NewNonNull(out)
	}
	return out
}

// InputType maps a column to its bare GraphQL input type without nullability
// wrapping; callers decide NonNull per operation.
func (m *TypeMapper) InputType(col catalog.Column) graphql.Input {
	if col.IsArray() {
		return graphql.NewList(m.baseInput(col.ElementType))
	}
	return m.baseInput(col.DataType)
}

// FilterType returns the shared filter input for a column, or nil for columns
// that cannot be filtered (composite-typed columns).
func (m *TypeMapper) FilterType(col catalog.Column) graphql.Input {
	if col.IsArray() {
		return m.listFilter(col.ElementType)
	}
	if enum, ok := m.enums[col.DataType]; ok {
		return m.enumFilter(col.DataType, enum)
	}
	if _, ok := m.compositeObjects[col.DataType]; ok {
		return nil
	}
	return m.kindFilter(ClassifyType(col.DataType))
}

func (m *TypeMapper) kindFilter(kind ScalarKind) *graphql.InputObject {
	name := string(kind) + "Filter"
	if f, ok := m.filters[name]; ok {
		return f
	}

	scalar := kind.scalar()
	fields := graphql.InputObjectConfigFieldMap{}
	switch kind {
	case KindBoolean:
		fields["eq"] = inputField(scalar)
		fields["isNull"] = inputField(graphql.Boolean)
	case KindJSON:
		fields["eq"] = inputField(scalar)
		fields["contains"] = inputField(scalar)
		fields["hasKey"] = inputField(graphql.String)
		fields["isNull"] = inputField(graphql.Boolean)
		fields["isNotNull"] = inputField(graphql.Boolean)
	case KindString:
		addEqualityOperators(fields, scalar)
		fields["contains"] = inputField(graphql.String)
		fields["startsWith"] = inputField(graphql.String)
		fields["endsWith"] = inputField(graphql.String)
		fields["like"] = inputField(graphql.String)
		fields["ilike"] = inputField(graphql.String)
	case KindUUID:
		addEqualityOperators(fields, scalar)
	default:
		addEqualityOperators(fields, scalar)
		fields["gt"] = inputField(scalar)
		fields["gte"] = inputField(scalar)
		fields["lt"] = inputField(scalar)
		fields["lte"] = inputField(scalar)
	}

	f := graphql.NewInputObject(graphql.InputObjectConfig{Name: name, Fields: fields})
	m.filters[name] = f
	return f
}

func (m *TypeMapper) enumFilter(typeName string, enum *graphql.Enum) *graphql.InputObject {
	name := TypeName(typeName) + "Filter"
	if f, ok := m.filters[name]; ok {
		return f
	}
	fields := graphql.InputObjectConfigFieldMap{}
	addEqualityOperators(fields, enum)
	f := graphql.NewInputObject(graphql.InputObjectConfig{Name: name, Fields: fields})
	m.filters[name] = f
	return f
}

func (m *TypeMapper) listFilter(elementType string) *graphql.InputObject {
	element := m.baseInput(elementType)
	name := elementFilterPrefix(element) + "ListFilter"
	if f, ok := m.filters[name]; ok {
		return f
	}
	f := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: name,
		Fields: graphql.InputObjectConfigFieldMap{
			"contains": inputField(element),
			"eq":       inputField(graphql.NewList(element)),
			"isNull":   inputField(graphql.Boolean),
		},
	})
	m.filters[name] = f
	return f
}

func elementFilterPrefix(element graphql.Input) string {
	if named, ok := element.(interface{ Name() string }); ok {
		return named.Name()
	}
	return "String"
}

// addEqualityOperators installs eq/neq/in/notIn/isNull/isNotNull, the grid
// shared by every non-boolean, non-JSON kind.
func addEqualityOperators(fields graphql.InputObjectConfigFieldMap, t graphql.Input) {
	fields["eq"] = inputField(t)
	fields["neq"] = inputField(t)
	fields["in"] = inputField(graphql.NewList(t))
	fields["notIn"] = inputField(graphql.NewList(t))
	fields["isNull"] = inputField(graphql.Boolean)
	fields["isNotNull"] = inputField(graphql.Boolean)
}

func inputField(t graphql.Input) *graphql.InputObjectFieldConfig {
	return &graphql.InputObjectFieldConfig{Type: t}
}
