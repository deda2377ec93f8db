package llm

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/types"
)

// Registry resolves provider names from agent llmConfig documents.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	logger    *zap.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		providers: make(map[string]Provider),
		logger:    logger.With(zap.String("component", "llm_registry")),
	}
}

// Register adds a provider under its own name. Registering the same
// name twice is an error.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := strings.ToLower(strings.TrimSpace(p.Name()))
	if name == "" {
		return types.NewError(types.ErrConfig, "provider has no name")
	}
	if _, exists := r.providers[name]; exists {
		return types.Errorf(types.ErrConfig, "provider %q already registered", name)
	}
	r.providers[name] = p
	r.logger.Info("llm provider registered", zap.String("provider", name))
	return nil
}

// Provider looks up a provider by case-insensitive name.
func (r *Registry) Provider(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Names lists registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
