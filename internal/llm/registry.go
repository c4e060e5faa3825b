package llm

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"dev.helix.ensemble/internal/models"
)

// RegistryConfig holds the resilience settings shared by all providers.
type RegistryConfig struct {
	Retry   RetryConfig
	Circuit CircuitBreakerConfig
}

// DefaultRegistryConfig returns sensible defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		Retry:   DefaultRetryConfig(),
		Circuit: DefaultCircuitBreakerConfig(),
	}
}

// Registry owns every configured provider for the process lifetime.
// Adapters are created once at startup and reused across requests; a bad
// definition fails registration outright.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*ResilientProvider
	defs      map[string]models.ProviderDefinition
	logger    *zap.Logger
}

// NewRegistry builds adapters for every enabled definition and wraps each
// in its own circuit breaker and retry executor.
func NewRegistry(defs []models.ProviderDefinition, config RegistryConfig, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		providers: make(map[string]*ResilientProvider),
		defs:      make(map[string]models.ProviderDefinition),
		logger:    logger,
	}

	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		if _, exists := r.providers[def.Name]; exists {
			return nil, &ConfigurationError{Provider: def.Name, Reason: "duplicate provider name"}
		}

		adapter, err := newAdapter(def)
		if err != nil {
			return nil, err
		}

		breaker := NewCircuitBreaker(def.Name, config.Circuit)
		r.providers[def.Name] = NewResilientProvider(adapter, breaker, config.Retry, logger)
		r.defs[def.Name] = def

		logger.Info("registered provider",
			zap.String("provider", def.Name),
			zap.String("kind", def.Kind),
			zap.Int("priority", def.Priority))
	}

	if len(r.providers) == 0 {
		return nil, fmt.Errorf("no enabled providers configured")
	}
	return r, nil
}

func newAdapter(def models.ProviderDefinition) (Provider, error) {
	switch def.Kind {
	case "claude":
		return NewClaudeAdapter(def)
	case "openai":
		return NewOpenAIAdapter(def)
	case "gemini":
		return NewGeminiAdapter(def)
	case "ollama":
		return NewOllamaAdapter(def)
	default:
		return nil, &ConfigurationError{Provider: def.Name, Reason: "unknown provider kind " + def.Kind}
	}
}

// Get returns the resilient provider registered under name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns all registered provider names sorted alphabetically.
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

// Definition returns the immutable definition for a provider.
func (r *Registry) Definition(name string) (models.ProviderDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// ProviderStatus is one provider's registry snapshot.
type ProviderStatus struct {
	Name     string              `json:"name"`
	Kind     string              `json:"kind"`
	Priority int                 `json:"priority"`
	Circuit  CircuitBreakerStats `json:"circuit"`
}

// Status returns a snapshot of every provider's circuit state, sorted by
// descending priority.
func (r *Registry) Status() []ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderStatus, 0, len(r.providers))
	for name, p := range r.providers {
		def := r.defs[name]
		out = append(out, ProviderStatus{
			Name:     name,
			Kind:     def.Kind,
			Priority: def.Priority,
			Circuit:  p.Breaker().Stats(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Register adds an extra provider after construction. Used by tests and by
// callers that supply a custom adapter (an evaluator model, for instance).
func (r *Registry) Register(p Provider, config RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	breaker := NewCircuitBreaker(p.Name(), config.Circuit)
	r.providers[p.Name()] = NewResilientProvider(p, breaker, config.Retry, r.logger)
	r.defs[p.Name()] = models.ProviderDefinition{Name: p.Name(), Priority: p.Priority(), Enabled: true}
}
