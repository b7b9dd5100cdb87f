package resolve

import (
	"sort"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"

	"github.com/pgqlgate/pgqlgate/internal/catalog"
	"github.com/pgqlgate/pgqlgate/internal/gql"
)

// Plan captures which scalar columns and relationship fields one level of a
// selection set requests. It narrows SELECT lists and drives the batch
// loader; a nil Plan means "select everything".
type Plan struct {
	Columns   []string
	Relations map[string]*RelationPlan
}

// RelationPlan is one requested relationship field and its nested selection
type RelationPlan struct {
	FK    catalog.ForeignKey
	Table catalog.Table
	Plan  *Plan
}

// PlanSelection derives the plan for the field being resolved
func PlanSelection(p graphql.ResolveParams, table catalog.Table, cat *catalog.Catalog) *Plan {
	if len(p.Info.FieldASTs) == 0 {
		return nil
	}
	return planSet(p.Info.FieldASTs[0].SelectionSet, table, cat, p.Info.Fragments)
}

// PlanConnectionSelection derives the node-level plan of a connection field
// by descending through edges { node { … } }.
func PlanConnectionSelection(p graphql.ResolveParams, table catalog.Table, cat *catalog.Catalog) *Plan {
	if len(p.Info.FieldASTs) == 0 {
		return nil
	}
	set := p.Info.FieldASTs[0].SelectionSet
	if set == nil {
		return nil
	}
	for _, sel := range set.Selections {
		field, ok := sel.(*ast.Field)
		if !ok || field.Name == nil || field.Name.Value != "edges" {
			continue
		}
		if field.SelectionSet == nil {
			continue
		}
		for _, edgeSel := range field.SelectionSet.Selections {
			node, ok := edgeSel.(*ast.Field)
			if !ok || node.Name == nil || node.Name.Value != "node" {
				continue
			}
			return planSet(node.SelectionSet, table, cat, p.Info.Fragments)
		}
	}
	return nil
}

func planSet(set *ast.SelectionSet, table catalog.Table, cat *catalog.Catalog, fragments map[string]ast.Definition) *Plan {
	if set == nil {
		return nil
	}

	plan := &Plan{Relations: make(map[string]*RelationPlan)}
	collectSelections(set, table, cat, fragments, plan)
	return plan
}

func collectSelections(set *ast.SelectionSet, table catalog.Table, cat *catalog.Catalog, fragments map[string]ast.Definition, plan *Plan) {
	for _, sel := range set.Selections {
		switch s := sel.(type) {
		case *ast.Field:
			if s.Name == nil {
				continue
			}
			name := s.Name.Value
			if name == "__typename" {
				continue
			}
			if _, ok := table.Column(name); ok {
				plan.Columns = append(plan.Columns, name)
				continue
			}
			if rel := relationFor(table, name, cat); rel != nil {
				rel.Plan = planSet(s.SelectionSet, rel.Table, cat, fragments)
				plan.Relations[name] = rel
			}
		case *ast.InlineFragment:
			collectSelections(s.SelectionSet, table, cat, fragments, plan)
		case *ast.FragmentSpread:
			if s.Name == nil {
				continue
			}
			if frag, ok := fragments[s.Name.Value].(*ast.FragmentDefinition); ok {
				collectSelections(frag.SelectionSet, table, cat, fragments, plan)
			}
		}
	}
}

func relationFor(table catalog.Table, field string, cat *catalog.Catalog) *RelationPlan {
	if cat == nil {
		return nil
	}
	for _, fk := range table.ForeignKeys {
		if gql.RelationFieldName(fk) != field {
			continue
		}
		ref, ok := cat.Table(fk.ReferencedTable)
		if !ok {
			return nil
		}
		return &RelationPlan{FK: fk, Table: *ref}
	}
	return nil
}

// SelectColumns returns the SELECT list for a plan: the requested columns,
// the primary key, and the local columns of every requested relationship,
// in catalog column order.
func (pl *Plan) SelectColumns(table catalog.Table) []string {
	if pl == nil {
		return nil
	}

	wanted := make(map[string]bool, len(pl.Columns))
	for _, col := range pl.Columns {
		wanted[col] = true
	}
	for _, pk := range table.PrimaryKey {
		wanted[pk] = true
	}
	for _, rel := range pl.Relations {
		for _, col := range rel.FK.Columns {
			wanted[col] = true
		}
	}

	columns := make([]string, 0, len(wanted))
	for _, col := range table.Columns {
		if wanted[col.Name] {
			columns = append(columns, col.Name)
		}
	}
	return columns
}

// relationFields returns the relationship field names in deterministic order
func (pl *Plan) relationFields() []string {
	if pl == nil {
		return nil
	}
	fields := make([]string, 0, len(pl.Relations))
	for name := range pl.Relations {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return fields
}
