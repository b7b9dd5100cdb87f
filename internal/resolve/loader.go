package resolve

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pgqlgate/pgqlgate/internal/catalog"
	"github.com/pgqlgate/pgqlgate/internal/database"
	"github.com/pgqlgate/pgqlgate/internal/sqlgen"
)

// preloadRelations fetches every relationship level of a plan with one query
// per referenced table. Loaded rows land in the execution context cache so
// the per-row relationship resolvers never touch the database.
func preloadRelations(ctx context.Context, ectx *ExecutionContext, db Querier, cat *catalog.Catalog, plan *Plan, rows []map[string]interface{}) error {
	if plan == nil || ectx == nil || len(rows) == 0 {
		return nil
	}

	for _, field := range plan.relationFields() {
		rel := plan.Relations[field]

		loaded, err := loadRelation(ctx, ectx, db, rel, rows)
		if err != nil {
			return err
		}
		if err := preloadRelations(ctx, ectx, db, cat, rel.Plan, loaded); err != nil {
			return err
		}
	}
	return nil
}

// loadRelation batch-loads the rows one foreign key references from a set of
// parent rows and returns them for nested preloading.
func loadRelation(ctx context.Context, ectx *ExecutionContext, db Querier, rel *RelationPlan, parents []map[string]interface{}) ([]map[string]interface{}, error) {
	tuples := distinctKeyTuples(rel.FK, parents)
	if len(tuples) == 0 {
		ectx.StoreRows(rel.Table.Name, nil)
		return nil, nil
	}

	frag := tupleInFragment(rel.FK.ReferencedColumns, tuples)
	columns := rel.Plan.SelectColumns(rel.Table)
	if columns != nil {
		// The referenced key columns must always be fetched so loaded rows
		// can be indexed, even when the nested selection skips them
		columns = withKeyColumns(columns, rel.Table, rel.FK.ReferencedColumns)
	}
	sql, args := sqlgen.NewBuilder(rel.Table.Schema, rel.Table.Name).
		WithColumns(columns).
		WithWhere(frag).
		BuildSelect()

	start := time.Now()
	pgRows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, database.ClassifyError(err)
	}
	loaded, err := scanRowsToMaps(pgRows)
	if err != nil {
		return nil, database.ClassifyError(err)
	}

	log.Debug().
		Str("table", rel.Table.Name).
		Int("parents", len(parents)).
		Int("keys", len(tuples)).
		Int("rows", len(loaded)).
		Dur("duration", time.Since(start)).
		Msg("Batch-loaded relationship rows")

	indexed := make(map[string]map[string]interface{}, len(loaded))
	for _, row := range loaded {
		values := make([]interface{}, len(rel.FK.ReferencedColumns))
		for i, col := range rel.FK.ReferencedColumns {
			values[i] = row[col]
		}
		indexed[keyForValues(values)] = row
	}
	ectx.StoreRows(rel.Table.Name, indexed)

	return loaded, nil
}

// withKeyColumns widens a projection with the given key columns, keeping
// catalog column order.
func withKeyColumns(columns []string, table catalog.Table, keyCols []string) []string {
	want := make(map[string]bool, len(columns)+len(keyCols))
	for _, c := range columns {
		want[c] = true
	}
	for _, c := range keyCols {
		want[c] = true
	}

	var out []string
	for _, col := range table.Columns {
		if want[col.Name] {
			out = append(out, col.Name)
		}
	}
	return out
}

// distinctKeyTuples collects the unique foreign key tuples of the parent
// rows. Tuples with any NULL component are skipped; those parents resolve
// their relationship to null without a lookup.
func distinctKeyTuples(fk catalog.ForeignKey, parents []map[string]interface{}) [][]interface{} {
	seen := make(map[string]bool, len(parents))
	var tuples [][]interface{}

	for _, parent := range parents {
		values := make([]interface{}, len(fk.Columns))
		complete := true
		for i, col := range fk.Columns {
			v, ok := parent[col]
			if !ok || v == nil {
				complete = false
				break
			}
			values[i] = v
		}
		if !complete {
			continue
		}
		key := keyForValues(values)
		if seen[key] {
			continue
		}
		seen[key] = true
		tuples = append(tuples, values)
	}
	return tuples
}

// tupleInFragment builds ("c1", "c2") IN ((?, ?), (?, ?), …) with one value
// tuple per distinct key.
func tupleInFragment(columns []string, tuples [][]interface{}) sqlgen.Fragment {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = sqlgen.QuoteIdentifier(col)
	}
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"

	var (
		groups []string
		args   []interface{}
	)
	for _, tuple := range tuples {
		groups = append(groups, placeholder)
		args = append(args, tuple...)
	}

	return sqlgen.Fragment{
		SQL:  "(" + strings.Join(quoted, ", ") + ") IN (" + strings.Join(groups, ", ") + ")",
		Args: args,
	}
}

// keyForValues normalizes a key tuple to a stable string so values scanned
// from different queries compare equal regardless of their Go representation.
func keyForValues(values []interface{}) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = normalizeKeyValue(v)
	}
	return strings.Join(parts, "|")
}

func normalizeKeyValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case [16]byte:
		return uuid.UUID(val).String()
	case uuid.UUID:
		return val.String()
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
