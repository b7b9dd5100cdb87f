package resolve

import (
	"github.com/graphql-go/graphql"
	"github.com/rs/zerolog/log"

	"github.com/pgqlgate/pgqlgate/internal/catalog"
	"github.com/pgqlgate/pgqlgate/internal/database"
	"github.com/pgqlgate/pgqlgate/internal/gql"
	"github.com/pgqlgate/pgqlgate/internal/sqlgen"
)

// CreateResolver inserts one row and returns it via RETURNING *
func (r *Resolvers) CreateResolver(table catalog.Table) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		input, ok := p.Args["input"].(map[string]interface{})
		if !ok {
			return nil, database.NewValidationError("input must be an object")
		}
		return r.insertRow(p, table, input)
	}
}

// CreateManyResolver inserts a batch of rows in a single statement. The
// column list is the union of the input keys; rows missing a column bind
// NULL for it so column defaults cannot silently diverge between rows.
func (r *Resolvers) CreateManyResolver(table catalog.Table) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		rawInputs, ok := p.Args["inputs"].([]interface{})
		if !ok {
			return nil, database.NewValidationError("inputs must be a list of objects")
		}
		if len(rawInputs) == 0 {
			return []interface{}{}, nil
		}

		inputs := make([]map[string]interface{}, len(rawInputs))
		present := make(map[string]bool)
		for i, raw := range rawInputs {
			input, ok := raw.(map[string]interface{})
			if !ok {
				return nil, database.NewValidationError("inputs must be a list of objects")
			}
			inputs[i] = input
			for key := range input {
				present[key] = true
			}
		}

		var columns []string
		for _, col := range table.Columns {
			if present[col.Name] {
				columns = append(columns, col.Name)
			}
		}
		if len(columns) == 0 {
			return nil, database.NewValidationError("input rows name no insertable columns")
		}

		rows := make([][]interface{}, len(inputs))
		for i, input := range inputs {
			values := make([]interface{}, len(columns))
			for j, name := range columns {
				col, _ := table.Column(name)
				value, err := sqlgen.CoerceValue(*col, input[name])
				if err != nil {
					return nil, err
				}
				values[j] = value
			}
			rows[i] = values
		}

		sql, args := sqlgen.NewBuilder(table.Schema, table.Name).
			WithReturning([]string{"*"}).
			BuildInsert(columns, rows)
		results, err := r.queryMaps(p, sql, args)
		if err != nil {
			return nil, err
		}

		log.Debug().Str("table", table.Name).Int("rows", len(results)).Msg("Inserted batch")
		return results, nil
	}
}

// CreateWithRelationsResolver inserts one row after copying the referenced
// key tuples of any <relation>_connect sub-inputs into the local foreign key
// columns. The whole thing is a single INSERT.
func (r *Resolvers) CreateWithRelationsResolver(table catalog.Table) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		input, ok := p.Args["input"].(map[string]interface{})
		if !ok {
			return nil, database.NewValidationError("input must be an object")
		}

		row := make(map[string]interface{}, len(input))
		for key, value := range input {
			row[key] = value
		}

		for _, fk := range table.ForeignKeys {
			connectKey := gql.ConnectInputName(fk)
			raw, ok := row[connectKey]
			if !ok {
				continue
			}
			delete(row, connectKey)
			if raw == nil {
				continue
			}
			connect, ok := raw.(map[string]interface{})
			if !ok {
				return nil, database.NewValidationError("%s must be an object", connectKey)
			}
			for i, refCol := range fk.ReferencedColumns {
				value, ok := connect[refCol]
				if !ok {
					return nil, database.NewValidationError(
						"%s is missing the referenced column %s", connectKey, refCol)
				}
				row[fk.Columns[i]] = value
			}
		}

		return r.insertRow(p, table, row)
	}
}

// UpdateResolver updates one row addressed by its full primary key
func (r *Resolvers) UpdateResolver(table catalog.Table) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		input, ok := p.Args["input"].(map[string]interface{})
		if !ok {
			return nil, database.NewValidationError("input must be an object")
		}

		where, err := primaryKeyFragment(table, input)
		if err != nil {
			return nil, err
		}

		pk := make(map[string]bool, len(table.PrimaryKey))
		for _, name := range table.PrimaryKey {
			pk[name] = true
		}

		var (
			setColumns []string
			setValues  []interface{}
		)
		for _, col := range table.Columns {
			if pk[col.Name] {
				continue
			}
			raw, ok := input[col.Name]
			if !ok {
				continue
			}
			value, err := sqlgen.CoerceValue(col, raw)
			if err != nil {
				return nil, err
			}
			setColumns = append(setColumns, col.Name)
			setValues = append(setValues, value)
		}
		if len(setColumns) == 0 {
			return nil, database.NewValidationError("input names no columns to update")
		}

		sql, args := sqlgen.NewBuilder(table.Schema, table.Name).
			WithWhere(where).
			WithReturning([]string{"*"}).
			BuildUpdate(setColumns, setValues)
		results, err := r.queryMaps(p, sql, args)
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			return nil, database.NewNotFound("no %s row matches the given primary key", table.Name)
		}
		return results[0], nil
	}
}

// DeleteResolver deletes one row addressed by its full primary key and
// returns the deleted row.
func (r *Resolvers) DeleteResolver(table catalog.Table) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		input, ok := p.Args["input"].(map[string]interface{})
		if !ok {
			return nil, database.NewValidationError("input must be an object")
		}

		where, err := primaryKeyFragment(table, input)
		if err != nil {
			return nil, err
		}

		sql, args := sqlgen.NewBuilder(table.Schema, table.Name).
			WithWhere(where).
			WithReturning([]string{"*"}).
			BuildDelete()
		results, err := r.queryMaps(p, sql, args)
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			return nil, database.NewNotFound("no %s row matches the given primary key", table.Name)
		}

		log.Debug().Str("table", table.Name).Msg("Deleted row")
		return results[0], nil
	}
}

func (r *Resolvers) insertRow(p graphql.ResolveParams, table catalog.Table, input map[string]interface{}) (interface{}, error) {
	var (
		columns []string
		values  []interface{}
	)
	for _, col := range table.Columns {
		raw, ok := input[col.Name]
		if !ok {
			continue
		}
		value, err := sqlgen.CoerceValue(col, raw)
		if err != nil {
			return nil, err
		}
		columns = append(columns, col.Name)
		values = append(values, value)
	}
	if len(columns) == 0 {
		return nil, database.NewValidationError("input names no insertable columns")
	}

	sql, args := sqlgen.NewBuilder(table.Schema, table.Name).
		WithReturning([]string{"*"}).
		BuildInsert(columns, [][]interface{}{values})
	results, err := r.queryMaps(p, sql, args)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, database.NewDatabaseError("insert returned no row")
	}

	log.Debug().Str("table", table.Name).Msg("Inserted row")
	return results[0], nil
}

// primaryKeyFragment requires every primary key column in the input and
// compiles the equality predicate addressing exactly one row.
func primaryKeyFragment(table catalog.Table, input map[string]interface{}) (sqlgen.Fragment, error) {
	frag := sqlgen.Fragment{}
	for _, name := range table.PrimaryKey {
		raw, ok := input[name]
		if !ok || raw == nil {
			return sqlgen.Fragment{}, database.NewValidationError(
				"primary key column %s is required", name)
		}
		col, _ := table.Column(name)
		value, err := sqlgen.CoerceValue(*col, raw)
		if err != nil {
			return sqlgen.Fragment{}, err
		}
		frag = frag.And(sqlgen.Fragment{
			SQL:  sqlgen.QuoteIdentifier(name) + " = ?",
			Args: []interface{}{value},
		})
	}
	return frag, nil
}
