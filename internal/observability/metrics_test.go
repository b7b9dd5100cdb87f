package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMetrics_AllMethods exercises every recorder against one instance.
// A single test avoids duplicate registration on the default registry.
func TestMetrics_AllMethods(t *testing.T) {
	m := NewMetrics()
	require.NotNil(t, m)

	t.Run("database", func(t *testing.T) {
		m.RecordDBQuery("select", "orders", 5*time.Millisecond, nil)
		m.RecordDBQuery("insert", "orders", 2*time.Millisecond, errors.New("boom"))
		m.UpdateDBStats(10, 4, 25)
	})

	t.Run("graphql", func(t *testing.T) {
		m.RecordGraphQLOperation("query", 10*time.Millisecond, false)
		m.RecordGraphQLOperation("mutation", 20*time.Millisecond, true)
		m.RecordRejection("max_depth")
		m.RecordSchemaRebuild()
	})

	t.Run("cdc", func(t *testing.T) {
		m.RecordChangeEvent("orders", "INSERT")
		m.RecordDroppedEvent("orders")
		m.UpdateSubscriptions(3)
	})

	t.Run("system", func(t *testing.T) {
		m.UpdateUptime(time.Now().Add(-time.Minute))
	})

	t.Run("handlers", func(t *testing.T) {
		assert.NotNil(t, m.Handler())
		assert.NotNil(t, m.MetricsMiddleware())
	})
}
