package resolve

import (
	"context"

	"github.com/graphql-go/graphql"
	"github.com/rs/zerolog/log"

	"github.com/pgqlgate/pgqlgate/internal/catalog"
	"github.com/pgqlgate/pgqlgate/internal/database"
	"github.com/pgqlgate/pgqlgate/internal/gql"
	"github.com/pgqlgate/pgqlgate/internal/sqlgen"
)

// Resolvers wires every generated schema field to the database. It satisfies
// gql.Resolvers; the schema builder calls back into it per table.
type Resolvers struct {
	db         *database.Connection
	catalogs   *catalog.Cache
	schemaName string
	changes    ChangeSource
}

// NewResolvers creates the resolver set. changes may be nil when change
// data capture is disabled; subscription fields then reject subscribers.
func NewResolvers(db *database.Connection, catalogs *catalog.Cache, schemaName string, changes ChangeSource) *Resolvers {
	return &Resolvers{db: db, catalogs: catalogs, schemaName: schemaName, changes: changes}
}

var _ gql.Resolvers = (*Resolvers)(nil)

// querier returns the operation's pinned querier when a role transaction is
// active, otherwise the shared pool.
func (r *Resolvers) querier(ctx context.Context) Querier {
	if ectx := FromContext(ctx); ectx != nil && ectx.DB != nil {
		return ectx.DB
	}
	return r.db
}

func (r *Resolvers) snapshot(ctx context.Context) (*catalog.Catalog, error) {
	return r.catalogs.Get(ctx, r.schemaName)
}

// RelationResolver resolves a foreign key field from the batch-loader cache.
// When a bulk load ran for the referenced table, a cache miss means the row
// does not exist and the field resolves to null without a query. A direct
// lookup only happens on singular paths where no bulk load was planned.
func (r *Resolvers) RelationResolver(table catalog.Table, fk catalog.ForeignKey) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		parent, ok := p.Source.(map[string]interface{})
		if !ok {
			return nil, nil
		}

		values := make([]interface{}, len(fk.Columns))
		for i, col := range fk.Columns {
			v, ok := parent[col]
			if !ok || v == nil {
				return nil, nil
			}
			values[i] = v
		}

		bulkLoaded := false
		if ectx := FromContext(p.Context); ectx != nil {
			row, loaded := ectx.Lookup(fk.ReferencedTable, keyForValues(values))
			if row != nil {
				return row, nil
			}
			bulkLoaded = loaded
		}
		if bulkLoaded {
			return nil, nil
		}

		return r.fetchReferencedRow(p, fk, values)
	}
}

func (r *Resolvers) fetchReferencedRow(p graphql.ResolveParams, fk catalog.ForeignKey, values []interface{}) (interface{}, error) {
	cat, err := r.snapshot(p.Context)
	if err != nil {
		return nil, err
	}
	ref, ok := cat.Table(fk.ReferencedTable)
	if !ok {
		return nil, nil
	}

	frag := sqlgen.Fragment{}
	for i, col := range fk.ReferencedColumns {
		frag = frag.And(sqlgen.Fragment{
			SQL:  sqlgen.QuoteIdentifier(col) + " = ?",
			Args: []interface{}{values[i]},
		})
	}

	plan := PlanSelection(p, *ref, cat)
	sql, args := sqlgen.NewBuilder(ref.Schema, ref.Name).
		WithColumns(plan.SelectColumns(*ref)).
		WithWhere(frag).
		WithLimit(1).
		BuildSelect()

	log.Debug().
		Str("table", ref.Name).
		Str("foreign_key", fk.Name).
		Msg("Relationship fallback lookup")

	rows, err := r.querier(p.Context).Query(p.Context, sql, args...)
	if err != nil {
		return nil, database.ClassifyError(err)
	}
	results, err := scanRowsToMaps(rows)
	if err != nil {
		return nil, database.ClassifyError(err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}
