package gql

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/rs/zerolog/log"

	"github.com/pgqlgate/pgqlgate/internal/catalog"
)

// Resolvers supplies the resolve functions wired into generated fields. The
// builder stays ignorant of SQL; the resolve package implements this.
type Resolvers interface {
	ListResolver(t catalog.Table) graphql.FieldResolveFn
	ByPKResolver(t catalog.Table) graphql.FieldResolveFn
	ConnectionResolver(t catalog.Table) graphql.FieldResolveFn
	AggregateResolver(t catalog.Table) graphql.FieldResolveFn
	RelationResolver(t catalog.Table, fk catalog.ForeignKey) graphql.FieldResolveFn
	CreateResolver(t catalog.Table) graphql.FieldResolveFn
	CreateManyResolver(t catalog.Table) graphql.FieldResolveFn
	CreateWithRelationsResolver(t catalog.Table) graphql.FieldResolveFn
	UpdateResolver(t catalog.Table) graphql.FieldResolveFn
	DeleteResolver(t catalog.Table) graphql.FieldResolveFn
	ChangesSubscriber(t catalog.Table) graphql.FieldResolveFn
}

// Builder synthesizes a complete GraphQL schema from one catalog snapshot.
// Objects are built in two passes so foreign keys may form cycles: scalar
// fields first, then relationship fields via AddFieldConfig.
type Builder struct {
	cat       *catalog.Catalog
	resolvers Resolvers
	mapper    *TypeMapper

	objectTypes     map[string]*graphql.Object
	filterTypes     map[string]*graphql.InputObject
	orderByTypes    map[string]*graphql.InputObject
	connectionTypes map[string]*graphql.Object

	orderDirection *graphql.Enum
	pageInfo       *graphql.Object
	changeEvent    *graphql.Object
}

// NewBuilder creates a schema builder for a catalog snapshot. A nil Resolvers
// leaves fields without resolve functions, which is useful for shape tests.
func NewBuilder(cat *catalog.Catalog, resolvers Resolvers) *Builder {
	return &Builder{
		cat:             cat,
		resolvers:       resolvers,
		mapper:          NewTypeMapper(cat),
		objectTypes:     make(map[string]*graphql.Object),
		filterTypes:     make(map[string]*graphql.InputObject),
		orderByTypes:    make(map[string]*graphql.InputObject),
		connectionTypes: make(map[string]*graphql.Object),
	}
}

// Mapper exposes the type mapper for callers that need column-level mapping
func (b *Builder) Mapper() *TypeMapper {
	return b.mapper
}

// Build assembles the schema: shared types, per-table types, relationship
// fields, then the three root types.
func (b *Builder) Build() (graphql.Schema, error) {
	b.buildSharedTypes()

	for _, table := range b.cat.Tables {
		b.objectTypes[table.Name] = b.buildObjectType(table)
	}
	for _, table := range b.cat.Tables {
		b.addRelationshipFields(table)
	}
	for _, table := range b.cat.Tables {
		b.filterTypes[table.Name] = b.buildFilterType(table)
		b.orderByTypes[table.Name] = b.buildOrderByType(table)
		b.connectionTypes[table.Name] = b.buildConnectionType(table)
	}

	config := graphql.SchemaConfig{Query: b.buildQueryRoot()}
	if mutation := b.buildMutationRoot(); mutation != nil {
		config.Mutation = mutation
	}
	if subscription := b.buildSubscriptionRoot(); subscription != nil {
		config.Subscription = subscription
	}

	schema, err := graphql.NewSchema(config)
	if err != nil {
		return graphql.Schema{}, fmt.Errorf("failed to build schema for %q: %w", b.cat.Schema, err)
	}

	log.Debug().
		Str("schema", b.cat.Schema).
		Int("tables", len(b.cat.Tables)).
		Msg("GraphQL schema generated")

	return schema, nil
}

func (b *Builder) buildSharedTypes() {
	b.orderDirection = graphql.NewEnum(graphql.EnumConfig{
		Name: "OrderDirection",
		Values: graphql.EnumValueConfigMap{
			"ASC":              {Value: "ASC"},
			"ASC_NULLS_FIRST":  {Value: "ASC_NULLS_FIRST"},
			"ASC_NULLS_LAST":   {Value: "ASC_NULLS_LAST"},
			"DESC":             {Value: "DESC"},
			"DESC_NULLS_FIRST": {Value: "DESC_NULLS_FIRST"},
			"DESC_NULLS_LAST":  {Value: "DESC_NULLS_LAST"},
		},
	})

	b.pageInfo = graphql.NewObject(graphql.ObjectConfig{
		Name: "PageInfo",
		Fields: graphql.Fields{
			"hasNextPage":     &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
			"hasPreviousPage": &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
			"startCursor":     &graphql.Field{Type: graphql.String},
			"endCursor":       &graphql.Field{Type: graphql.String},
		},
	})

	operation := graphql.NewEnum(graphql.EnumConfig{
		Name: "ChangeOperation",
		Values: graphql.EnumValueConfigMap{
			"INSERT":    {Value: "INSERT"},
			"UPDATE":    {Value: "UPDATE"},
			"DELETE":    {Value: "DELETE"},
			"HEARTBEAT": {Value: "HEARTBEAT"},
			"ERROR":     {Value: "ERROR"},
		},
	})

	b.changeEvent = graphql.NewObject(graphql.ObjectConfig{
		Name: "ChangeEvent",
		Fields: graphql.Fields{
			"table":     &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"schema":    &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"operation": &graphql.Field{Type: graphql.NewNonNull(operation)},
			"timestamp": &graphql.Field{Type: graphql.NewNonNull(DateTimeScalar)},
			"lsn":       &graphql.Field{Type: graphql.String},
			"data":      &graphql.Field{Type: JSONScalar},
			"old":       &graphql.Field{Type: JSONScalar},
			"error":     &graphql.Field{Type: graphql.String},
		},
	})
}

func (b *Builder) buildObjectType(table catalog.Table) *graphql.Object {
	fields := graphql.Fields{}
	for _, col := range table.Columns {
		fields[col.Name] = &graphql.Field{
			Type:        b.mapper.OutputType(col),
			Description: col.DataType,
		}
	}
	return graphql.NewObject(graphql.ObjectConfig{
		Name:        TypeName(table.Name),
		Description: fmt.Sprintf("Rows from %s", table.QualifiedName()),
		Fields:      fields,
	})
}

// addRelationshipFields wires one field per foreign key onto the already
// built object types. Runs after every object exists so cyclic references
// resolve.
func (b *Builder) addRelationshipFields(table catalog.Table) {
	obj := b.objectTypes[table.Name]
	for _, fk := range table.ForeignKeys {
		refType, ok := b.objectTypes[fk.ReferencedTable]
		if !ok {
			continue
		}
		field := &graphql.Field{
			Type:        refType,
			Description: fmt.Sprintf("Related %s row", fk.ReferencedTable),
		}
		if b.resolvers != nil {
			field.Resolve = b.resolvers.RelationResolver(table, fk)
		}
		obj.AddFieldConfig(RelationFieldName(fk), field)
	}
}

// buildFilterType emits TFilter with a nullable operator input per column
// plus the boolean combinators. The thunk lets _and/_or/_not refer back to
// the type under construction.
func (b *Builder) buildFilterType(table catalog.Table) *graphql.InputObject {
	var filter *graphql.InputObject
	filter = graphql.NewInputObject(graphql.InputObjectConfig{
		Name: TypeName(table.Name) + "Filter",
		Fields: (graphql.InputObjectConfigFieldMapThunk)(func() graphql.InputObjectConfigFieldMap {
			fields := graphql.InputObjectConfigFieldMap{}
			for _, col := range table.Columns {
				if t := b.mapper.FilterType(col); t != nil {
					fields[col.Name] = &graphql.InputObjectFieldConfig{Type: t}
				}
			}
			fields["or"] = &graphql.InputObjectFieldConfig{Type: graphql.NewList(filter)}
			fields["_and"] = &graphql.InputObjectFieldConfig{Type: graphql.NewList(filter)}
			fields["_not"] = &graphql.InputObjectFieldConfig{Type: filter}
			return fields
		}),
	})
	return filter
}

func (b *Builder) buildOrderByType(table catalog.Table) *graphql.InputObject {
	fields := graphql.InputObjectConfigFieldMap{}
	for _, col := range table.Columns {
		if col.IsArray() {
			continue
		}
		fields[col.Name] = &graphql.InputObjectFieldConfig{Type: b.orderDirection}
	}
	return graphql.NewInputObject(graphql.InputObjectConfig{
		Name:   TypeName(table.Name) + "OrderBy",
		Fields: fields,
	})
}

func (b *Builder) buildConnectionType(table catalog.Table) *graphql.Object {
	obj := b.objectTypes[table.Name]
	edge := graphql.NewObject(graphql.ObjectConfig{
		Name: TypeName(table.Name) + "Edge",
		Fields: graphql.Fields{
			"node":   &graphql.Field{Type: graphql.NewNonNull(obj)},
			"cursor": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		},
	})
	return graphql.NewObject(graphql.ObjectConfig{
		Name: TypeName(table.Name) + "Connection",
		Fields: graphql.Fields{
			"edges":      &graphql.Field{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(edge)))},
			"pageInfo":   &graphql.Field{Type: graphql.NewNonNull(b.pageInfo)},
			"totalCount": &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		},
	})
}

// buildAggregateType emits TAggregate with count always present and
// sum/avg/min/max sub-objects only when eligible columns exist. Sum keeps
// the column's own width (integers widen to BigInt); avg is always Float.
func (b *Builder) buildAggregateType(table catalog.Table) *graphql.Object {
	sumFields := graphql.Fields{}
	avgFields := graphql.Fields{}
	minMaxFields := graphql.Fields{}
	for _, col := range table.Columns {
		if col.IsArray() {
			continue
		}
		kind := ClassifyType(col.DataType)
		if kind.IsNumeric() {
			sumFields[col.Name] = &graphql.Field{Type: sumType(kind)}
			avgFields[col.Name] = &graphql.Field{Type: graphql.Float}
		}
		if kind.IsOrderable() {
			minMaxFields[col.Name] = &graphql.Field{Type: kind.scalar()}
		}
	}

	fields := graphql.Fields{
		"count": &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
	}
	typeName := TypeName(table.Name)
	if len(sumFields) > 0 {
		fields["sum"] = &graphql.Field{Type: graphql.NewObject(graphql.ObjectConfig{
			Name: typeName + "AggregateSum", Fields: sumFields,
		})}
		fields["avg"] = &graphql.Field{Type: graphql.NewObject(graphql.ObjectConfig{
			Name: typeName + "AggregateAvg", Fields: avgFields,
		})}
	}
	if len(minMaxFields) > 0 {
		fields["min"] = &graphql.Field{Type: graphql.NewObject(graphql.ObjectConfig{
			Name: typeName + "AggregateMin", Fields: minMaxFields,
		})}
		maxFields := graphql.Fields{}
		for name, f := range minMaxFields {
			maxFields[name] = &graphql.Field{Type: f.Type}
		}
		fields["max"] = &graphql.Field{Type: graphql.NewObject(graphql.ObjectConfig{
			Name: typeName + "AggregateMax", Fields: maxFields,
		})}
	}

	return graphql.NewObject(graphql.ObjectConfig{
		Name:   typeName + "Aggregate",
		Fields: fields,
	})
}

func sumType(kind ScalarKind) graphql.Output {
	switch kind {
	case KindInt, KindBigInt:
		return BigIntScalar
	case KindDecimal:
		return DecimalScalar
	default:
		return graphql.Float
	}
}

func (b *Builder) listArgs(table catalog.Table) graphql.FieldConfigArgument {
	return graphql.FieldConfigArgument{
		"where":   &graphql.ArgumentConfig{Type: b.filterTypes[table.Name]},
		"or":      &graphql.ArgumentConfig{Type: graphql.NewList(b.filterTypes[table.Name])},
		"orderBy": &graphql.ArgumentConfig{Type: graphql.NewList(b.orderByTypes[table.Name])},
		"limit":   &graphql.ArgumentConfig{Type: graphql.Int},
		"offset":  &graphql.ArgumentConfig{Type: graphql.Int},
		// Accepted for compatibility; rejected at resolve time unless it
		// matches the safe parameterized grammar.
		"filter": &graphql.ArgumentConfig{Type: graphql.String},
	}
}

func (b *Builder) connectionArgs(table catalog.Table) graphql.FieldConfigArgument {
	return graphql.FieldConfigArgument{
		"where":   &graphql.ArgumentConfig{Type: b.filterTypes[table.Name]},
		"or":      &graphql.ArgumentConfig{Type: graphql.NewList(b.filterTypes[table.Name])},
		"orderBy": &graphql.ArgumentConfig{Type: graphql.NewList(b.orderByTypes[table.Name])},
		"first":   &graphql.ArgumentConfig{Type: graphql.Int},
		"after":   &graphql.ArgumentConfig{Type: graphql.String},
		"last":    &graphql.ArgumentConfig{Type: graphql.Int},
		"before":  &graphql.ArgumentConfig{Type: graphql.String},
	}
}

func (b *Builder) primaryKeyArgs(table catalog.Table) graphql.FieldConfigArgument {
	args := graphql.FieldConfigArgument{}
	for _, pkCol := range table.PrimaryKey {
		col, ok := table.Column(pkCol)
		if !ok {
			continue
		}
		args[pkCol] = &graphql.ArgumentConfig{Type: graphql.NewNonNull(b.mapper.InputType(*col))}
	}
	return args
}

func (b *Builder) buildQueryRoot() *graphql.Object {
	fields := graphql.Fields{
		"_health": &graphql.Field{
			Type: graphql.NewNonNull(graphql.String),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return "ok", nil
			},
		},
	}

	for _, table := range b.cat.Tables {
		table := table
		obj := b.objectTypes[table.Name]

		listField := &graphql.Field{
			Type: graphql.NewList(obj),
			Args: b.listArgs(table),
		}
		connField := &graphql.Field{
			Type: b.connectionTypes[table.Name],
			Args: b.connectionArgs(table),
		}
		aggField := &graphql.Field{
			Type: b.buildAggregateType(table),
			Args: graphql.FieldConfigArgument{
				"where": &graphql.ArgumentConfig{Type: b.filterTypes[table.Name]},
				"or":    &graphql.ArgumentConfig{Type: graphql.NewList(b.filterTypes[table.Name])},
			},
		}
		if b.resolvers != nil {
			listField.Resolve = b.resolvers.ListResolver(table)
			connField.Resolve = b.resolvers.ConnectionResolver(table)
			aggField.Resolve = b.resolvers.AggregateResolver(table)
		}
		fields[ListFieldName(table.Name)] = listField
		fields[ConnectionFieldName(table.Name)] = connField
		fields[AggregateFieldName(table.Name)] = aggField

		if len(table.PrimaryKey) > 0 {
			byPK := &graphql.Field{
				Type: obj,
				Args: b.primaryKeyArgs(table),
			}
			if b.resolvers != nil {
				byPK.Resolve = b.resolvers.ByPKResolver(table)
			}
			fields[ByPKFieldName(table.Name)] = byPK
		}
	}

	return graphql.NewObject(graphql.ObjectConfig{Name: "Query", Fields: fields})
}

func (b *Builder) buildMutationRoot() *graphql.Object {
	fields := graphql.Fields{}

	for _, table := range b.cat.Tables {
		table := table
		if table.IsReadOnly() {
			continue
		}
		obj := b.objectTypes[table.Name]
		typeName := TypeName(table.Name)

		createInput := b.buildCreateInput(table, typeName)
		create := &graphql.Field{
			Type: obj,
			Args: graphql.FieldConfigArgument{
				"input": &graphql.ArgumentConfig{Type: graphql.NewNonNull(createInput)},
			},
		}
		createMany := &graphql.Field{
			Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(obj))),
			Args: graphql.FieldConfigArgument{
				"inputs": &graphql.ArgumentConfig{
					Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(createInput))),
				},
			},
		}
		if b.resolvers != nil {
			create.Resolve = b.resolvers.CreateResolver(table)
			createMany.Resolve = b.resolvers.CreateManyResolver(table)
		}
		fields[CreateFieldName(table.Name)] = create
		fields[CreateManyFieldName(table.Name)] = createMany

		if len(table.ForeignKeys) > 0 {
			withRelations := &graphql.Field{
				Type: obj,
				Args: graphql.FieldConfigArgument{
					"input": &graphql.ArgumentConfig{
						Type: graphql.NewNonNull(b.buildCreateWithRelationsInput(table, typeName)),
					},
				},
			}
			if b.resolvers != nil {
				withRelations.Resolve = b.resolvers.CreateWithRelationsResolver(table)
			}
			fields[CreateWithRelationsFieldName(table.Name)] = withRelations
		}

		if len(table.PrimaryKey) == 0 {
			continue
		}
		update := &graphql.Field{
			Type: obj,
			Args: graphql.FieldConfigArgument{
				"input": &graphql.ArgumentConfig{Type: graphql.NewNonNull(b.buildUpdateInput(table, typeName))},
			},
		}
		del := &graphql.Field{
			Type: obj,
			Args: graphql.FieldConfigArgument{
				"input": &graphql.ArgumentConfig{Type: graphql.NewNonNull(b.buildDeleteInput(table, typeName))},
			},
		}
		if b.resolvers != nil {
			update.Resolve = b.resolvers.UpdateResolver(table)
			del.Resolve = b.resolvers.DeleteResolver(table)
		}
		fields[UpdateFieldName(table.Name)] = update
		fields[DeleteFieldName(table.Name)] = del
	}

	if len(fields) == 0 {
		return nil
	}
	return graphql.NewObject(graphql.ObjectConfig{Name: "Mutation", Fields: fields})
}

// buildCreateInput includes every column; a field is required only when the
// database gives the column no other way to get a value.
func (b *Builder) buildCreateInput(table catalog.Table, typeName string) *graphql.InputObject {
	fields := graphql.InputObjectConfigFieldMap{}
	for _, col := range table.Columns {
		t := b.mapper.InputType(col)
		if !col.IsNullable && !col.HasDefault() && !col.IsAutoGenerated() {
			t = graphql.NewNonNull(t)
		}
		fields[col.Name] = &graphql.InputObjectFieldConfig{Type: t}
	}
	return graphql.NewInputObject(graphql.InputObjectConfig{
		Name:   typeName + "CreateInput",
		Fields: fields,
	})
}

func (b *Builder) buildUpdateInput(table catalog.Table, typeName string) *graphql.InputObject {
	fields := graphql.InputObjectConfigFieldMap{}
	for _, col := range table.Columns {
		t := b.mapper.InputType(col)
		if col.IsPrimaryKey {
			t = graphql.NewNonNull(t)
		}
		fields[col.Name] = &graphql.InputObjectFieldConfig{Type: t}
	}
	return graphql.NewInputObject(graphql.InputObjectConfig{
		Name:   typeName + "UpdateInput",
		Fields: fields,
	})
}

func (b *Builder) buildDeleteInput(table catalog.Table, typeName string) *graphql.InputObject {
	fields := graphql.InputObjectConfigFieldMap{}
	for _, pkCol := range table.PrimaryKey {
		col, ok := table.Column(pkCol)
		if !ok {
			continue
		}
		fields[pkCol] = &graphql.InputObjectFieldConfig{
			Type: graphql.NewNonNull(b.mapper.InputType(*col)),
		}
	}
	return graphql.NewInputObject(graphql.InputObjectConfig{
		Name:   typeName + "DeleteInput",
		Fields: fields,
	})
}

// buildCreateWithRelationsInput mirrors the create input and adds one
// <relation>_connect sub-input per foreign key carrying the referenced
// primary key tuple.
func (b *Builder) buildCreateWithRelationsInput(table catalog.Table, typeName string) *graphql.InputObject {
	fields := graphql.InputObjectConfigFieldMap{}
	for _, col := range table.Columns {
		t := b.mapper.InputType(col)
		if !col.IsNullable && !col.HasDefault() && !col.IsAutoGenerated() && !col.IsForeignKey {
			t = graphql.NewNonNull(t)
		}
		fields[col.Name] = &graphql.InputObjectFieldConfig{Type: t}
	}
	for _, fk := range table.ForeignKeys {
		connectFields := graphql.InputObjectConfigFieldMap{}
		for i, refCol := range fk.ReferencedColumns {
			col, ok := table.Column(fk.Columns[i])
			if !ok {
				continue
			}
			connectFields[refCol] = &graphql.InputObjectFieldConfig{
				Type: graphql.NewNonNull(b.mapper.InputType(*col)),
			}
		}
		connect := graphql.NewInputObject(graphql.InputObjectConfig{
			Name:   typeName + upperFirst(RelationFieldName(fk)) + "ConnectInput",
			Fields: connectFields,
		})
		fields[ConnectInputName(fk)] = &graphql.InputObjectFieldConfig{Type: connect}
	}
	return graphql.NewInputObject(graphql.InputObjectConfig{
		Name:   typeName + "CreateWithRelationsInput",
		Fields: fields,
	})
}

func (b *Builder) buildSubscriptionRoot() *graphql.Object {
	fields := graphql.Fields{}
	for _, table := range b.cat.Tables {
		table := table
		if table.IsReadOnly() {
			continue
		}
		field := &graphql.Field{
			Type: graphql.NewNonNull(b.changeEvent),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return p.Source, nil
			},
		}
		if b.resolvers != nil {
			field.Subscribe = b.resolvers.ChangesSubscriber(table)
		}
		fields[ChangesFieldName(table.Name)] = field
	}
	if len(fields) == 0 {
		return nil
	}
	return graphql.NewObject(graphql.ObjectConfig{Name: "Subscription", Fields: fields})
}

// Generator caches the built schema per database schema name and regenerates
// it lazily when the catalog cache hands back a newer snapshot. Invalidation
// of the catalog therefore invalidates the GraphQL schema as well.
type Generator struct {
	mu         sync.RWMutex
	catalogs   *catalog.Cache
	schemaName string
	resolvers  Resolvers

	built     *graphql.Schema
	builtFor  *catalog.Catalog
	onRebuild func()
}

// OnRebuild registers a callback invoked after every schema rebuild
func (g *Generator) OnRebuild(fn func()) {
	g.mu.Lock()
	g.onRebuild = fn
	g.mu.Unlock()
}

// NewGenerator creates a generator bound to one database schema
func NewGenerator(catalogs *catalog.Cache, schemaName string, resolvers Resolvers) *Generator {
	return &Generator{
		catalogs:   catalogs,
		schemaName: schemaName,
		resolvers:  resolvers,
	}
}

// Schema returns the current GraphQL schema, rebuilding it when the catalog
// snapshot has changed since the last build.
func (g *Generator) Schema(ctx context.Context) (*graphql.Schema, error) {
	cat, err := g.catalogs.Get(ctx, g.schemaName)
	if err != nil {
		return nil, err
	}

	g.mu.RLock()
	if g.built != nil && g.builtFor == cat {
		schema := g.built
		g.mu.RUnlock()
		return schema, nil
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.built != nil && g.builtFor == cat {
		return g.built, nil
	}

	start := time.Now()
	schema, err := NewBuilder(cat, g.resolvers).Build()
	if err != nil {
		return nil, err
	}
	g.built = &schema
	g.builtFor = cat
	if g.onRebuild != nil {
		g.onRebuild()
	}

	log.Info().
		Str("schema", g.schemaName).
		Int("tables", len(cat.Tables)).
		Dur("duration", time.Since(start)).
		Msg("GraphQL schema rebuilt")

	return g.built, nil
}

// Invalidate drops the cached catalog snapshot and schema for this generator
func (g *Generator) Invalidate() {
	g.catalogs.InvalidateSchema(g.schemaName)
	g.mu.Lock()
	g.built = nil
	g.builtFor = nil
	g.mu.Unlock()
}
