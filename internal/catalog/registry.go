package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pgqlgate/pgqlgate/internal/database"
)

// InspectorFactory constructs an Inspector for a dialect
type InspectorFactory func(db database.Executor) Inspector

var (
	registryMu sync.RWMutex
	registry   = make(map[string]InspectorFactory)
)

func init() {
	Register("postgres", func(db database.Executor) Inspector {
		return NewPostgresInspector(db)
	})
}

// Register makes an inspector factory available under a dialect tag.
// Registering an already-registered tag replaces the factory.
func Register(dialect string, factory InspectorFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[dialect] = factory
}

// NewInspector constructs an inspector for the configured dialect
func NewInspector(dialect string, db database.Executor) (Inspector, error) {
	registryMu.RLock()
	factory, ok := registry[dialect]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown catalog dialect %q (registered: %v)", dialect, Dialects())
	}
	return factory(db), nil
}

// Dialects returns the registered dialect tags in sorted order
func Dialects() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	dialects := make([]string, 0, len(registry))
	for d := range registry {
		dialects = append(dialects, d)
	}
	sort.Strings(dialects)
	return dialects
}
