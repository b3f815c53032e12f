package core

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"
)

// ExecutableRegistry maps connector types (the "inbound.type" property) to
// the factories that build their executables.
type ExecutableRegistry struct {
	mu        sync.RWMutex
	factories map[string]ExecutableFactory
}

func NewExecutableRegistry() *ExecutableRegistry {
	return &ExecutableRegistry{factories: make(map[string]ExecutableFactory)}
}

func (r *ExecutableRegistry) Register(connectorType string, factory ExecutableFactory) error {
	if factory == nil {
		return fmt.Errorf("core: executable factory is nil")
	}
	id := normalizeConnectorType(connectorType)
	if id == "" {
		return fmt.Errorf("core: connector type is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[id]; exists {
		return fmt.Errorf("core: executable factory already registered: %s", id)
	}
	r.factories[id] = factory
	return nil
}

func (r *ExecutableRegistry) Get(connectorType string) (ExecutableFactory, bool) {
	id := normalizeConnectorType(connectorType)
	if id == "" {
		return nil, false
	}
	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()
	return factory, ok
}

// Build creates an executable for cfg using the factory registered for its type.
func (r *ExecutableRegistry) Build(cfg SubscriptionConfig) (Executable, error) {
	factory, ok := r.Get(cfg.Type)
	if !ok {
		return nil, goerrors.New("no executable factory for connector type", goerrors.CategoryNotFound).
			WithCode(http.StatusNotFound).
			WithTextCode(ErrorExecutableFactoryNotAvailable).
			WithMetadata(map[string]any{"type": cfg.Type})
	}
	return factory(cfg)
}

func (r *ExecutableRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for id := range r.factories {
		types = append(types, id)
	}
	sort.Strings(types)
	return types
}

func normalizeConnectorType(connectorType string) string {
	return strings.ToLower(strings.TrimSpace(connectorType))
}
