// Package resolve implements the request-time half of the gateway: field
// resolvers, selection planning, the N+1 batch loader, and mutation
// execution. Resolvers read catalog metadata and delegate SQL generation to
// sqlgen; rows travel as map[string]interface{} all the way to the GraphQL
// executor.
package resolve

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of database access the resolvers need. It is
// satisfied by both *database.Connection and pgx.Tx, so role-bound
// operations can swap in their transaction.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type executionContextKey struct{}

// ExecutionContext carries per-operation state: the optional database role,
// the querier the operation is pinned to, and the relationship cache filled
// by the batch loader. It lives exactly as long as one GraphQL operation.
type ExecutionContext struct {
	Role string
	DB   Querier

	mu    sync.Mutex
	cache map[string]map[string]map[string]interface{} // table → key tuple → row
	done  map[string]bool                              // table → bulk load ran
}

// NewExecutionContext creates the per-operation state
func NewExecutionContext(role string, db Querier) *ExecutionContext {
	return &ExecutionContext{
		Role:  role,
		DB:    db,
		cache: make(map[string]map[string]map[string]interface{}),
		done:  make(map[string]bool),
	}
}

// WithExecutionContext attaches the execution context to a request context
func WithExecutionContext(ctx context.Context, ectx *ExecutionContext) context.Context {
	return context.WithValue(ctx, executionContextKey{}, ectx)
}

// FromContext returns the execution context, or nil outside an operation
func FromContext(ctx context.Context) *ExecutionContext {
	ectx, _ := ctx.Value(executionContextKey{}).(*ExecutionContext)
	return ectx
}

// StoreRows indexes loaded rows for a referenced table by key tuple and
// marks the bulk load as done, so per-row resolvers never query again.
func (e *ExecutionContext) StoreRows(table string, rows map[string]map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	existing, ok := e.cache[table]
	if !ok {
		existing = make(map[string]map[string]interface{}, len(rows))
		e.cache[table] = existing
	}
	for key, row := range rows {
		existing[key] = row
	}
	e.done[table] = true
}

// Lookup returns the cached row for a key tuple. The second return reports
// whether a bulk load ran for the table at all; when it did, a miss means
// the referenced row does not exist and no fallback query should run.
func (e *ExecutionContext) Lookup(table, key string) (map[string]interface{}, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if row, ok := e.cache[table][key]; ok {
		return row, true
	}
	return nil, e.done[table]
}
