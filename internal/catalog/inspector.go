package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/pgqlgate/pgqlgate/internal/database"
)

// Inspector reflects one schema into a Catalog snapshot
type Inspector interface {
	Reflect(ctx context.Context, schema string) (*Catalog, error)
}

// PostgresInspector reflects schema metadata from the PostgreSQL catalogs.
// All metadata is fetched with batched queries keyed by schema, never
// per-table, so a reflection is a fixed number of round trips.
type PostgresInspector struct {
	db database.Executor
}

// NewPostgresInspector creates an inspector backed by the given executor
func NewPostgresInspector(db database.Executor) *PostgresInspector {
	return &PostgresInspector{db: db}
}

// Reflect builds a complete snapshot of the schema. Any catalog query error
// fails the whole reflection; a partial snapshot is never returned.
func (pi *PostgresInspector) Reflect(ctx context.Context, schema string) (*Catalog, error) {
	tables, err := pi.getRelations(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to reflect relations: %w", err)
	}

	tableMap := make(map[string]*Table, len(tables))
	for i := range tables {
		tableMap[tables[i].Name] = &tables[i]
	}

	columns, err := pi.getColumns(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to reflect columns: %w", err)
	}
	for name, cols := range columns {
		if t, ok := tableMap[name]; ok {
			t.Columns = cols
		}
	}

	primaryKeys, err := pi.getPrimaryKeys(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to reflect primary keys: %w", err)
	}
	for name, pks := range primaryKeys {
		if t, ok := tableMap[name]; ok {
			t.PrimaryKey = pks
			for i := range t.Columns {
				for _, pk := range pks {
					if t.Columns[i].Name == pk {
						t.Columns[i].IsPrimaryKey = true
						break
					}
				}
			}
		}
	}

	foreignKeys, err := pi.getForeignKeys(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to reflect foreign keys: %w", err)
	}
	for name, fks := range foreignKeys {
		if t, ok := tableMap[name]; ok {
			t.ForeignKeys = fks
			for i := range t.Columns {
				for _, fk := range fks {
					for _, fkCol := range fk.Columns {
						if t.Columns[i].Name == fkCol {
							t.Columns[i].IsForeignKey = true
						}
					}
				}
			}
		}
	}

	enums, err := pi.getEnums(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to reflect enums: %w", err)
	}

	composites, err := pi.getComposites(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to reflect composite types: %w", err)
	}

	catalog := &Catalog{
		Schema:     schema,
		Tables:     tables,
		Enums:      enums,
		Composites: composites,
	}

	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("reflected catalog failed validation: %w", err)
	}

	log.Debug().
		Str("schema", schema).
		Int("tables", len(tables)).
		Int("enums", len(enums)).
		Int("composites", len(composites)).
		Msg("Schema reflected")

	return catalog, nil
}

// getRelations lists tables, views, and materialized views in one query.
// Relations the connecting role cannot SELECT from are skipped rather than
// failing the reflection.
func (pi *PostgresInspector) getRelations(ctx context.Context, schema string) ([]Table, error) {
	query := `
		SELECT
			c.relname,
			c.relkind
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1
			AND c.relkind IN ('r', 'v', 'm')
			AND c.relname NOT LIKE 'pg_%'
			AND has_table_privilege(c.oid, 'SELECT')
		ORDER BY c.relname
	`

	rows, err := pi.db.Query(ctx, query, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var name, relkind string
		if err := rows.Scan(&name, &relkind); err != nil {
			return nil, err
		}

		var kind RelationKind
		switch relkind {
		case "r":
			kind = KindBaseTable
		case "v":
			kind = KindView
		case "m":
			kind = KindMaterializedView
		}

		tables = append(tables, Table{Schema: schema, Name: name, Kind: kind})
	}

	return tables, rows.Err()
}

// getColumns reflects columns for every relation in the schema. pg_attribute
// covers materialized views too, which information_schema.columns does not.
func (pi *PostgresInspector) getColumns(ctx context.Context, schema string) (map[string][]Column, error) {
	query := `
		SELECT
			c.relname AS table_name,
			a.attname AS column_name,
			CASE
				WHEN a.attndims > 0 THEN et.typname
				ELSE bt.typname
			END AS data_type,
			COALESCE(et.typname, '') AS element_type,
			a.attndims AS array_dims,
			NOT a.attnotnull AS is_nullable,
			pg_get_expr(d.adbin, d.adrelid) AS column_default,
			a.attnum AS ordinal_position
		FROM pg_catalog.pg_attribute a
		JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_catalog.pg_type bt ON bt.oid = a.atttypid
		LEFT JOIN pg_catalog.pg_type et ON et.oid = bt.typelem AND bt.typlen = -1
		LEFT JOIN pg_catalog.pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
		WHERE n.nspname = $1
			AND c.relkind IN ('r', 'v', 'm')
			AND a.attnum > 0
			AND NOT a.attisdropped
		ORDER BY c.relname, a.attnum
	`

	rows, err := pi.db.Query(ctx, query, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]Column)
	for rows.Next() {
		var table string
		var col Column

		err := rows.Scan(
			&table,
			&col.Name,
			&col.DataType,
			&col.ElementType,
			&col.ArrayDims,
			&col.IsNullable,
			&col.DefaultValue,
			&col.Position,
		)
		if err != nil {
			return nil, err
		}

		// Domain types over arrays report the underscore-prefixed internal
		// name; normalize to the element name.
		col.DataType = strings.TrimPrefix(col.DataType, "_")
		if col.ArrayDims == 0 {
			col.ElementType = ""
		} else {
			col.ElementType = strings.TrimPrefix(col.ElementType, "_")
		}

		result[table] = append(result[table], col)
	}

	return result, rows.Err()
}

// getPrimaryKeys reflects primary key column sets in key order
func (pi *PostgresInspector) getPrimaryKeys(ctx context.Context, schema string) (map[string][]string, error) {
	query := `
		SELECT
			c.relname AS table_name,
			a.attname AS column_name
		FROM pg_index i
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		JOIN pg_class c ON c.oid = i.indrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1
			AND i.indisprimary
		ORDER BY c.relname, array_position(i.indkey, a.attnum)
	`

	rows, err := pi.db.Query(ctx, query, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]string)
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return nil, err
		}
		result[table] = append(result[table], column)
	}

	return result, rows.Err()
}

// getForeignKeys reflects foreign key constraints with their full column
// pairings. pg_constraint's conkey/confkey arrays are unnested with
// ordinality so composite keys stay positionally aligned, which the
// information_schema join approach cannot guarantee.
func (pi *PostgresInspector) getForeignKeys(ctx context.Context, schema string) (map[string][]ForeignKey, error) {
	query := `
		SELECT
			c.relname AS table_name,
			con.conname AS constraint_name,
			a.attname AS column_name,
			fn.nspname AS referenced_schema,
			fc.relname AS referenced_table,
			fa.attname AS referenced_column
		FROM pg_constraint con
		JOIN pg_class c ON c.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_class fc ON fc.oid = con.confrelid
		JOIN pg_namespace fn ON fn.oid = fc.relnamespace
		CROSS JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(attnum, fattnum, ord)
		JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
		JOIN pg_attribute fa ON fa.attrelid = con.confrelid AND fa.attnum = k.fattnum
		WHERE con.contype = 'f'
			AND n.nspname = $1
		ORDER BY c.relname, con.conname, k.ord
	`

	rows, err := pi.db.Query(ctx, query, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]ForeignKey)
	for rows.Next() {
		var table, constraint, column, refSchema, refTable, refColumn string
		err := rows.Scan(&table, &constraint, &column, &refSchema, &refTable, &refColumn)
		if err != nil {
			return nil, err
		}

		fks := result[table]
		if len(fks) > 0 && fks[len(fks)-1].Name == constraint {
			fks[len(fks)-1].Columns = append(fks[len(fks)-1].Columns, column)
			fks[len(fks)-1].ReferencedColumns = append(fks[len(fks)-1].ReferencedColumns, refColumn)
		} else {
			fks = append(fks, ForeignKey{
				Name:              constraint,
				Columns:           []string{column},
				ReferencedSchema:  refSchema,
				ReferencedTable:   refTable,
				ReferencedColumns: []string{refColumn},
			})
		}
		result[table] = fks
	}

	return result, rows.Err()
}

// getEnums reflects user-defined enums with labels in sort order
func (pi *PostgresInspector) getEnums(ctx context.Context, schema string) ([]EnumType, error) {
	query := `
		SELECT
			t.typname,
			e.enumlabel
		FROM pg_type t
		JOIN pg_namespace n ON n.oid = t.typnamespace
		JOIN pg_enum e ON e.enumtypid = t.oid
		WHERE n.nspname = $1
		ORDER BY t.typname, e.enumsortorder
	`

	rows, err := pi.db.Query(ctx, query, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var enums []EnumType
	for rows.Next() {
		var name, label string
		if err := rows.Scan(&name, &label); err != nil {
			return nil, err
		}

		if len(enums) > 0 && enums[len(enums)-1].Name == name {
			enums[len(enums)-1].Labels = append(enums[len(enums)-1].Labels, label)
		} else {
			enums = append(enums, EnumType{Schema: schema, Name: name, Labels: []string{label}})
		}
	}

	return enums, rows.Err()
}

// getComposites reflects user-defined composite types. relkind 'c' filters
// out the implicit row types every table carries.
func (pi *PostgresInspector) getComposites(ctx context.Context, schema string) ([]CompositeType, error) {
	query := `
		SELECT
			t.typname,
			a.attname,
			at.typname AS attribute_type,
			a.attnum
		FROM pg_type t
		JOIN pg_namespace n ON n.oid = t.typnamespace
		JOIN pg_class c ON c.oid = t.typrelid AND c.relkind = 'c'
		JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum > 0 AND NOT a.attisdropped
		JOIN pg_type at ON at.oid = a.atttypid
		WHERE n.nspname = $1
			AND t.typtype = 'c'
		ORDER BY t.typname, a.attnum
	`

	rows, err := pi.db.Query(ctx, query, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var composites []CompositeType
	for rows.Next() {
		var name string
		var field CompositeField
		if err := rows.Scan(&name, &field.Name, &field.DataType, &field.Position); err != nil {
			return nil, err
		}

		if len(composites) > 0 && composites[len(composites)-1].Name == name {
			composites[len(composites)-1].Fields = append(composites[len(composites)-1].Fields, field)
		} else {
			composites = append(composites, CompositeType{Schema: schema, Name: name, Fields: []CompositeField{field}})
		}
	}

	return composites, rows.Err()
}
