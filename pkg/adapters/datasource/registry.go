package datasource

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/haoxai/import-engine/pkg/apperrors"
)

// Factory creates an open adapter for one engine type.
type Factory func(ctx context.Context, cfg Config, logger *zap.Logger) (Adapter, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register is called by each adapter package's init() function.
// Thread-safe for concurrent init() calls.
func Register(engine string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[engine] = factory
}

// RegisteredEngines returns the engine types with a registered adapter.
func RegisteredEngines() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	engines := make([]string, 0, len(registry))
	for engine := range registry {
		engines = append(engines, engine)
	}
	return engines
}

// Open creates an adapter for the configured engine type.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Adapter, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.Engine]
	registryMu.RUnlock()

	if !ok {
		supported := RegisteredEngines()
		sort.Strings(supported)
		return nil, fmt.Errorf("%w: %q (registered: %s)",
			apperrors.ErrUnsupportedEngine, cfg.Engine, strings.Join(supported, ", "))
	}
	return factory(ctx, cfg, logger)
}
