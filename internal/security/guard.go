// Package security applies pre-execution checks to GraphQL requests: query
// depth, complexity scoring, request size, and database role validation.
package security

import (
	"math"
	"regexp"
	"strconv"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"

	"github.com/pgqlgate/pgqlgate/internal/catalog"
	"github.com/pgqlgate/pgqlgate/internal/config"
	"github.com/pgqlgate/pgqlgate/internal/database"
	"github.com/pgqlgate/pgqlgate/internal/gql"
)

// defaultEffectiveLimit is assumed for list and connection fields that do
// not carry a literal limit/first/last argument.
const defaultEffectiveLimit = 10

var roleIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateRole checks that a database role is a simple identifier. Anything
// else is rejected before it can reach SET LOCAL ROLE.
func ValidateRole(role string) error {
	if !roleIdentifier.MatchString(role) {
		return database.NewValidationError("invalid database role identifier %q", role)
	}
	return nil
}

// Guard validates requests against the configured limits before execution
type Guard struct {
	cfg config.SecurityConfig
}

// NewGuard creates a guard from the security configuration
func NewGuard(cfg config.SecurityConfig) *Guard {
	return &Guard{cfg: cfg}
}

// Check runs the size, depth, and complexity rules against one request.
// Violations are ExecutionAborted errors naming the rule, the measured
// value, and the limit.
func (g *Guard) Check(cat *catalog.Catalog, query string, requestBytes int) error {
	if g.cfg.MaxRequestBytes > 0 && requestBytes > g.cfg.MaxRequestBytes {
		return database.NewExecutionAborted(
			"request size %d bytes exceeds maximum of %d bytes", requestBytes, g.cfg.MaxRequestBytes)
	}

	doc, err := parser.Parse(parser.ParseParams{Source: query})
	if err != nil {
		return database.NewValidationError("invalid query syntax")
	}

	fragments := collectFragments(doc)

	if g.cfg.MaxDepth > 0 {
		depth := documentDepth(doc, fragments)
		if depth > g.cfg.MaxDepth {
			return database.NewExecutionAborted(
				"maximum query depth exceeded: depth %d > limit %d", depth, g.cfg.MaxDepth)
		}
	}

	if g.cfg.MaxComplexity > 0 {
		complexity := documentComplexity(doc, fragments, cat)
		if complexity > g.cfg.MaxComplexity {
			return database.NewExecutionAborted(
				"query complexity %d exceeds maximum of %d", complexity, g.cfg.MaxComplexity)
		}
	}

	return nil
}

func collectFragments(doc *ast.Document) map[string]*ast.FragmentDefinition {
	fragments := make(map[string]*ast.FragmentDefinition)
	for _, def := range doc.Definitions {
		if frag, ok := def.(*ast.FragmentDefinition); ok && frag.Name != nil {
			fragments[frag.Name.Value] = frag
		}
	}
	return fragments
}

// documentDepth returns the maximum selection depth across all operations.
// Introspection fields count like any other field.
func documentDepth(doc *ast.Document, fragments map[string]*ast.FragmentDefinition) int {
	maxDepth := 0
	for _, def := range doc.Definitions {
		if op, ok := def.(*ast.OperationDefinition); ok {
			depth := selectionSetDepth(op.SelectionSet, 0, fragments, map[string]bool{})
			if depth > maxDepth {
				maxDepth = depth
			}
		}
	}
	return maxDepth
}

func selectionSetDepth(selSet *ast.SelectionSet, currentDepth int, fragments map[string]*ast.FragmentDefinition, visiting map[string]bool) int {
	if selSet == nil || len(selSet.Selections) == 0 {
		return currentDepth
	}

	maxDepth := currentDepth + 1
	for _, sel := range selSet.Selections {
		var depth int
		switch s := sel.(type) {
		case *ast.Field:
			depth = selectionSetDepth(s.SelectionSet, currentDepth+1, fragments, visiting)
		case *ast.InlineFragment:
			// Inline fragments do not add a level of their own
			depth = selectionSetDepth(s.SelectionSet, currentDepth, fragments, visiting)
		case *ast.FragmentSpread:
			name := s.Name.Value
			if visiting[name] {
				continue
			}
			if frag, ok := fragments[name]; ok {
				visiting[name] = true
				depth = selectionSetDepth(frag.SelectionSet, currentDepth, fragments, visiting)
				delete(visiting, name)
			}
		}
		if depth > maxDepth {
			maxDepth = depth
		}
	}
	return maxDepth
}

// documentComplexity scores a document: every field costs 1, list and
// connection fields add ceil(effectiveLimit/10), relationship fields add 2.
// Aliased fields are separate selections and count separately.
func documentComplexity(doc *ast.Document, fragments map[string]*ast.FragmentDefinition, cat *catalog.Catalog) int {
	total := 0
	for _, def := range doc.Definitions {
		if op, ok := def.(*ast.OperationDefinition); ok {
			total += selectionComplexity(op.SelectionSet, nil, true, fragments, cat, map[string]bool{})
		}
	}
	return total
}

func selectionComplexity(selSet *ast.SelectionSet, table *catalog.Table, atRoot bool, fragments map[string]*ast.FragmentDefinition, cat *catalog.Catalog, visiting map[string]bool) int {
	if selSet == nil {
		return 0
	}

	total := 0
	for _, sel := range selSet.Selections {
		switch s := sel.(type) {
		case *ast.Field:
			cost := 1
			childTable := table
			childRoot := false

			if atRoot && cat != nil {
				rootTable, isList := rootFieldTable(s.Name.Value, cat)
				if rootTable != nil {
					childTable = rootTable
					if isList {
						cost += limitCost(s)
					}
				}
			} else if table != nil {
				if ref := relationTarget(*table, s.Name.Value, cat); ref != nil {
					cost += 2
					childTable = ref
				}
			}

			total += cost + selectionComplexity(s.SelectionSet, childTable, childRoot, fragments, cat, visiting)
		case *ast.InlineFragment:
			total += selectionComplexity(s.SelectionSet, table, atRoot, fragments, cat, visiting)
		case *ast.FragmentSpread:
			name := s.Name.Value
			if visiting[name] {
				continue
			}
			if frag, ok := fragments[name]; ok {
				visiting[name] = true
				total += selectionComplexity(frag.SelectionSet, table, atRoot, fragments, cat, visiting)
				delete(visiting, name)
			}
		}
	}
	return total
}

// rootFieldTable resolves a root field name back to its table and reports
// whether the field returns a list or connection.
func rootFieldTable(field string, cat *catalog.Catalog) (*catalog.Table, bool) {
	for i := range cat.Tables {
		t := &cat.Tables[i]
		switch field {
		case gql.ListFieldName(t.Name), gql.ConnectionFieldName(t.Name):
			return t, true
		case gql.ByPKFieldName(t.Name), gql.AggregateFieldName(t.Name),
			gql.CreateFieldName(t.Name), gql.UpdateFieldName(t.Name), gql.DeleteFieldName(t.Name),
			gql.CreateWithRelationsFieldName(t.Name), gql.ChangesFieldName(t.Name):
			return t, false
		case gql.CreateManyFieldName(t.Name):
			return t, true
		}
	}
	return nil, false
}

// relationTarget resolves a field inside a table context to the referenced
// table when the field is a relationship.
func relationTarget(table catalog.Table, field string, cat *catalog.Catalog) *catalog.Table {
	if cat == nil {
		return nil
	}
	for _, fk := range table.ForeignKeys {
		if gql.RelationFieldName(fk) != field {
			continue
		}
		for i := range cat.Tables {
			if cat.Tables[i].Name == fk.ReferencedTable {
				return &cat.Tables[i]
			}
		}
	}
	return nil
}

// limitCost converts the literal limit/first/last argument of a list field
// into its complexity contribution.
func limitCost(field *ast.Field) int {
	limit := defaultEffectiveLimit
	for _, arg := range field.Arguments {
		if arg.Name == nil {
			continue
		}
		switch arg.Name.Value {
		case "limit", "first", "last":
			if iv, ok := arg.Value.(*ast.IntValue); ok {
				if n, err := strconv.Atoi(iv.Value); err == nil && n > 0 {
					limit = n
				}
			}
		}
	}
	return int(math.Ceil(float64(limit) / 10))
}
